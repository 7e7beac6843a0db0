package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/galaxyhq/galaxy/pkg/log"
	"github.com/galaxyhq/galaxy/pkg/types"
)

// ErrDeviceNotFound is returned by operations on unknown device ids.
var ErrDeviceNotFound = errors.New("device not found")

// ErrMissingTaskID is returned when a device is marked busy without a task.
var ErrMissingTaskID = errors.New("busy device requires a task id")

// Registry is the authoritative in-memory directory of devices and their
// current status. Pure data and state transitions; no I/O.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*types.Device
	logger  zerolog.Logger
}

// New creates an empty device registry
func New() *Registry {
	return &Registry{
		devices: make(map[string]*types.Device),
		logger:  log.WithComponent("registry"),
	}
}

// Register adds a device or, if the id already exists, updates its
// descriptor in place. Re-registration is not an error and does not reset
// lifecycle state or attempt counters.
func (r *Registry) Register(id, url, os string, capabilities []string, metadata map[string]string, maxRetries int) *types.Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, exists := r.devices[id]
	if !exists {
		d = &types.Device{
			ID:           id,
			Status:       types.DeviceRegistered,
			RegisteredAt: time.Now(),
		}
		r.devices[id] = d
	}

	d.URL = url
	d.OS = os
	d.Capabilities = append([]string(nil), capabilities...)
	if metadata != nil {
		d.Metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			d.Metadata[k] = v
		}
	}
	d.MaxRetries = maxRetries

	if exists {
		r.logger.Debug().Str("device_id", id).Msg("device descriptor updated")
	} else {
		r.logger.Info().Str("device_id", id).Str("url", url).Msg("device registered")
	}
	return d.Clone()
}

// SetStatus transitions the device to the given status. Leaving BUSY
// clears the current task, preserving the busy/current-task invariant.
// Transitioning a FAILED device back to CONNECTED is permitted (manual
// recovery).
func (r *Registry) SetStatus(id string, status types.DeviceStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	if status != types.DeviceBusy {
		d.CurrentTaskID = ""
	}
	d.Status = status
	return nil
}

// SetIdle marks the device idle and clears its current task.
func (r *Registry) SetIdle(id string) error {
	return r.SetStatus(id, types.DeviceIdle)
}

// SetBusy marks the device busy with the given task.
func (r *Registry) SetBusy(id, taskID string) error {
	if taskID == "" {
		return ErrMissingTaskID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	d.Status = types.DeviceBusy
	d.CurrentTaskID = taskID
	return nil
}

// IncrementAttempts bumps the initial-connection attempt counter and
// returns the new value.
func (r *Registry) IncrementAttempts(id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	d.ConnectAttempts++
	return d.ConnectAttempts, nil
}

// ResetAttempts zeroes the initial-connection attempt counter.
func (r *Registry) ResetAttempts(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	d.ConnectAttempts = 0
	return nil
}

// IncrementReconnectAttempts bumps the reconnect-worker counter, which is
// distinct from the initial-connection counter, and returns the new value.
func (r *Registry) IncrementReconnectAttempts(id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	d.ReconnectAttempts++
	return d.ReconnectAttempts, nil
}

// ResetReconnectAttempts zeroes the reconnect-worker counter.
func (r *Registry) ResetReconnectAttempts(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	d.ReconnectAttempts = 0
	return nil
}

// NoteHeartbeat records the instant of the latest heartbeat reply.
func (r *Registry) NoteHeartbeat(id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	d.LastHeartbeat = now
	return nil
}

// Get returns a copy of the device with the given id.
func (r *Registry) Get(id string) (*types.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return d.Clone(), nil
}

// List returns copies of every device, optionally only those currently
// able to receive tasks.
func (r *Registry) List(connectedOnly bool) []*types.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.Device, 0, len(r.devices))
	for _, d := range r.devices {
		if connectedOnly && !d.Status.Online() {
			continue
		}
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot returns a deep copy of the full registry view, ordered by
// device id, suitable for observers and serialization.
func (r *Registry) Snapshot() []*types.Device {
	return r.List(false)
}

// Count returns the number of registered devices
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}
