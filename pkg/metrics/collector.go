package metrics

import (
	"sync"
	"time"

	"github.com/galaxyhq/galaxy/pkg/constellation"
	"github.com/galaxyhq/galaxy/pkg/registry"
	"github.com/galaxyhq/galaxy/pkg/types"
)

var deviceStatuses = []types.DeviceStatus{
	types.DeviceRegistered,
	types.DeviceConnecting,
	types.DeviceConnected,
	types.DeviceIdle,
	types.DeviceBusy,
	types.DeviceDisconnected,
	types.DeviceFailed,
}

// Collector periodically polls the device registry and the executing
// constellation into the Prometheus gauges.
type Collector struct {
	registry *registry.Registry
	interval time.Duration
	stopCh   chan struct{}

	// current is swapped by the runtime when a constellation starts; the
	// mutex keeps the swap safe against a collect in progress.
	mu      sync.Mutex
	current func() *constellation.Constellation
}

// NewCollector creates a collector polling the given registry.
func NewCollector(reg *registry.Registry, interval time.Duration) *Collector {
	if interval == 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		registry: reg,
		interval: interval,
		stopCh:   make(chan struct{}),
		current:  func() *constellation.Constellation { return nil },
	}
}

// SetConstellationSource installs the provider for the constellation
// being executed.
func (c *Collector) SetConstellationSource(source func() *constellation.Constellation) {
	c.mu.Lock()
	c.current = source
	c.mu.Unlock()
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectDeviceMetrics()
	c.collectTaskMetrics()
}

func (c *Collector) collectDeviceMetrics() {
	counts := make(map[types.DeviceStatus]int)
	for _, d := range c.registry.Snapshot() {
		counts[d.Status]++
	}
	for _, status := range deviceStatuses {
		DevicesTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func (c *Collector) collectTaskMetrics() {
	c.mu.Lock()
	source := c.current
	c.mu.Unlock()

	con := source()
	if con == nil {
		return
	}
	stats := con.Statistics()
	TasksTotal.WithLabelValues(string(types.TaskPending)).Set(float64(stats.Pending))
	TasksTotal.WithLabelValues(string(types.TaskWaitingDependency)).Set(float64(stats.Waiting))
	TasksTotal.WithLabelValues(string(types.TaskRunning)).Set(float64(stats.Running))
	TasksTotal.WithLabelValues(string(types.TaskCompleted)).Set(float64(stats.Completed))
	TasksTotal.WithLabelValues(string(types.TaskFailed)).Set(float64(stats.Failed))
	TasksTotal.WithLabelValues(string(types.TaskCancelled)).Set(float64(stats.Cancelled))
}
