package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/galaxyhq/galaxy/pkg/events"
	"github.com/galaxyhq/galaxy/pkg/log"
	"github.com/galaxyhq/galaxy/pkg/protocol"
	"github.com/galaxyhq/galaxy/pkg/registry"
	"github.com/galaxyhq/galaxy/pkg/transport"
	"github.com/galaxyhq/galaxy/pkg/types"
)

const sourceID = "fleet-manager"

// ErrShutdown is returned for operations on a stopped fleet manager.
var ErrShutdown = errors.New("fleet manager is shut down")

// Config holds fleet tunables. Zero values take defaults.
type Config struct {
	SessionID          string
	HeartbeatInterval  time.Duration // Default 30s
	HeartbeatTimeout   time.Duration // Per-ping reply deadline, default 10s
	HeartbeatMissLimit int           // Consecutive misses before disconnect, default 3
	ReconnectDelay     time.Duration // Default 5s
	DeviceMaxRetries   int           // Default reconnect ceiling, default 5
	TaskTimeout        time.Duration // Default per-task deadline
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.HeartbeatInterval == 0 {
		out.HeartbeatInterval = 30 * time.Second
	}
	if out.HeartbeatTimeout == 0 {
		out.HeartbeatTimeout = 10 * time.Second
	}
	if out.HeartbeatMissLimit == 0 {
		out.HeartbeatMissLimit = 3
	}
	if out.ReconnectDelay == 0 {
		out.ReconnectDelay = 5 * time.Second
	}
	if out.DeviceMaxRetries == 0 {
		out.DeviceMaxRetries = 5
	}
	return out
}

// dialFunc builds the transport client for a device. Swappable in tests.
type dialFunc func(deviceID, url string, cfg transport.Config) deviceTransport

// deviceTransport is the subset of transport.Client the fleet drives.
type deviceTransport interface {
	Connect(ctx context.Context) error
	SendTask(ctx context.Context, req *types.TaskRequest) *types.ExecutionResult
	Heartbeat(ctx context.Context, timeout time.Duration) error
	IsConnected() bool
	Disconnect()
	Abort(reason error)
}

// Manager composes the registry, per-device transports, heartbeat tickers,
// reconnect workers and per-device task queues behind one facade, and
// publishes device-lifecycle events on every status change.
type Manager struct {
	cfg      Config
	bus      *events.Bus
	registry *registry.Registry
	logger   zerolog.Logger
	dial     dialFunc

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	transports   map[string]deviceTransport
	queues       map[string]*deviceQueue
	heartbeats   map[string]context.CancelFunc
	reconnecting map[string]bool
	closed       bool
	wg           sync.WaitGroup
}

// NewManager creates a fleet manager publishing on the given bus.
func NewManager(bus *events.Bus, reg *registry.Registry, cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:          cfg.withDefaults(),
		bus:          bus,
		registry:     reg,
		logger:       log.WithComponent("fleet"),
		ctx:          ctx,
		cancel:       cancel,
		transports:   make(map[string]deviceTransport),
		queues:       make(map[string]*deviceQueue),
		heartbeats:   make(map[string]context.CancelFunc),
		reconnecting: make(map[string]bool),
		dial: func(deviceID, url string, cfg transport.Config) deviceTransport {
			return transport.NewClient(deviceID, url, cfg)
		},
	}
}

// Registry exposes the device directory for read-only consumers.
func (m *Manager) Registry() *registry.Registry {
	return m.registry
}

// RegisterDevice adds or updates a device descriptor. Idempotent.
func (m *Manager) RegisterDevice(id, url, os string, capabilities []string, metadata map[string]string, maxRetries int) (*types.Device, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrShutdown
	}
	m.mu.Unlock()

	if maxRetries == 0 {
		maxRetries = m.cfg.DeviceMaxRetries
	}
	d := m.registry.Register(id, url, os, capabilities, metadata, maxRetries)
	m.publishDeviceEvent(events.DeviceStatusChanged, id, d.Status)
	return d, nil
}

// ConnectDevice performs the connect handshake for one registered device
// and leaves it IDLE, ready to receive tasks.
func (m *Manager) ConnectDevice(ctx context.Context, id string) error {
	d, err := m.registry.Get(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrShutdown
	}
	if t, ok := m.transports[id]; ok && t.IsConnected() {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if _, err := m.registry.IncrementAttempts(id); err != nil {
		return err
	}
	m.setStatus(id, types.DeviceConnecting)

	if err := m.connect(ctx, id, d.URL); err != nil {
		m.setStatus(id, types.DeviceDisconnected)
		return err
	}

	_ = m.registry.ResetAttempts(id)
	return nil
}

// connect dials the device and installs its transport, queue and
// heartbeat ticker. Shared by initial connects and reconnect workers.
func (m *Manager) connect(ctx context.Context, id, url string) error {
	client := m.dial(id, url, transport.Config{
		SessionID:    m.cfg.SessionID,
		TaskTimeout:  m.cfg.TaskTimeout,
		OnPush:       m.handlePush,
		OnDisconnect: m.handleDisconnect,
	})

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect device %s: %w", id, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		client.Disconnect()
		return ErrShutdown
	}
	m.transports[id] = client
	m.queues[id] = newDeviceQueue(id, func(req *types.TaskRequest) *types.ExecutionResult {
		return m.executeOnDevice(id, req)
	})

	hbCtx, hbCancel := context.WithCancel(m.ctx)
	m.heartbeats[id] = hbCancel
	m.mu.Unlock()

	_ = m.registry.NoteHeartbeat(id, time.Now())
	m.setStatus(id, types.DeviceConnected)
	m.publishDeviceEvent(events.DeviceConnected, id, types.DeviceConnected)
	m.setStatus(id, types.DeviceIdle)

	m.wg.Add(1)
	go m.heartbeatLoop(hbCtx, id, client)

	return nil
}

// DisconnectDevice tears a device down gracefully. Queued tasks resolve
// to FAILED connection_error results; no reconnect is scheduled.
func (m *Manager) DisconnectDevice(id string) error {
	m.mu.Lock()
	client, ok := m.transports[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", registry.ErrDeviceNotFound, id)
	}

	client.Disconnect()
	return nil
}

// AssignTask enqueues a task for a device and returns the future its
// result will arrive on. FIFO per device, at most one in flight.
func (m *Manager) AssignTask(deviceID string, req *types.TaskRequest) (<-chan *types.ExecutionResult, error) {
	if _, err := m.registry.Get(deviceID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrShutdown
	}
	q, ok := m.queues[deviceID]
	m.mu.Unlock()

	if !ok {
		future := make(chan *types.ExecutionResult, 1)
		future <- types.ConnectionFailure(req.TaskID, deviceID, "device not connected")
		return future, nil
	}
	return q.assign(req), nil
}

// IsConnected reports whether the device currently has a live stream.
func (m *Manager) IsConnected(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transports[deviceID]
	return ok && t.IsConnected()
}

// Shutdown cancels reconnect workers and heartbeat tickers, tears down
// every transport and resolves every queued future to FAILED.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	transports := make([]deviceTransport, 0, len(m.transports))
	for _, t := range m.transports {
		transports = append(transports, t)
	}
	queues := make([]*deviceQueue, 0, len(m.queues))
	for _, q := range m.queues {
		queues = append(queues, q)
	}
	m.mu.Unlock()

	m.cancel()

	for _, q := range queues {
		q.fail("fleet manager shutting down")
	}

	var g errgroup.Group
	for _, t := range transports {
		t := t
		g.Go(func() error {
			t.Disconnect()
			return nil
		})
	}
	_ = g.Wait()

	m.wg.Wait()
	m.logger.Info().Msg("fleet manager stopped")
}

// executeOnDevice runs one task on a device, bracketing it with the
// BUSY/IDLE registry transitions.
func (m *Manager) executeOnDevice(deviceID string, req *types.TaskRequest) *types.ExecutionResult {
	m.mu.Lock()
	client, ok := m.transports[deviceID]
	m.mu.Unlock()
	if !ok || !client.IsConnected() {
		return types.ConnectionFailure(req.TaskID, deviceID, "device not connected")
	}

	if err := m.registry.SetBusy(deviceID, req.TaskID); err != nil {
		return types.FailureResult(req.TaskID, deviceID, types.ErrorCategoryGeneral, err.Error())
	}
	m.publishDeviceEvent(events.DeviceStatusChanged, deviceID, types.DeviceBusy)

	res := client.SendTask(m.ctx, req)

	if client.IsConnected() {
		m.setStatus(deviceID, types.DeviceIdle)
	}
	return res
}

// handleDisconnect reacts to transport loss: registry transition, queue
// failure and (for unintentional drops) reconnect scheduling.
func (m *Manager) handleDisconnect(deviceID string, err error) {
	m.mu.Lock()
	delete(m.transports, deviceID)
	q := m.queues[deviceID]
	delete(m.queues, deviceID)
	if hbCancel, ok := m.heartbeats[deviceID]; ok {
		hbCancel()
		delete(m.heartbeats, deviceID)
	}
	closed := m.closed
	m.mu.Unlock()

	if q != nil {
		q.fail("device disconnected")
	}

	if regErr := m.registry.SetStatus(deviceID, types.DeviceDisconnected); regErr != nil {
		return
	}
	m.publishDeviceEvent(events.DeviceDisconnected, deviceID, types.DeviceDisconnected)

	if err != nil && !closed {
		m.scheduleReconnect(deviceID)
	}
}

// handlePush routes peer-initiated messages: device info updates the
// registry descriptor, task progress is republished on the bus.
func (m *Manager) handlePush(deviceID string, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeDeviceInfo:
		d, err := m.registry.Get(deviceID)
		if err != nil {
			return
		}
		meta := d.Metadata
		if meta == nil {
			meta = make(map[string]string)
		}
		for k, v := range msg.Metadata {
			meta[k] = v
		}
		os := msg.OS
		if os == "" {
			os = d.OS
		}
		caps := msg.Capabilities
		if caps == nil {
			caps = d.Capabilities
		}
		m.registry.Register(deviceID, d.URL, os, caps, meta, d.MaxRetries)

	case protocol.TypeTaskProgress:
		ev := events.NewTaskEvent(events.TaskProgress, sourceID, msg.TaskID, types.TaskRunning)
		ev.Result = msg.Progress
		ev.Attrs = map[string]string{"device_id": deviceID}
		m.bus.Publish(ev)

	default:
		m.logger.Debug().
			Str("device_id", deviceID).
			Str("type", string(msg.Type)).
			Msg("ignoring server push")
	}
}

// setStatus updates the registry and publishes the status change.
func (m *Manager) setStatus(deviceID string, status types.DeviceStatus) {
	if err := m.registry.SetStatus(deviceID, status); err != nil {
		return
	}
	m.publishDeviceEvent(events.DeviceStatusChanged, deviceID, status)
}

func (m *Manager) publishDeviceEvent(kind events.Kind, deviceID string, status types.DeviceStatus) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.NewDeviceEvent(kind, sourceID, deviceID, status, m.registry.Snapshot()))
}
