package fleet

import (
	"time"

	"github.com/galaxyhq/galaxy/pkg/metrics"
	"github.com/galaxyhq/galaxy/pkg/types"
)

// scheduleReconnect starts a reconnect worker for the device unless one
// is already live. At most one worker per device exists at any time.
func (m *Manager) scheduleReconnect(deviceID string) {
	m.mu.Lock()
	if m.closed || m.reconnecting[deviceID] {
		m.mu.Unlock()
		return
	}
	m.reconnecting[deviceID] = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.reconnectWorker(deviceID)
}

// reconnectWorker retries the connect handshake with a fixed delay
// between attempts. It exits on success (resetting the reconnect
// counter) or leaves the device FAILED once the retry ceiling is hit.
// Reconnect attempts count against a counter distinct from the
// initial-connection counter.
func (m *Manager) reconnectWorker(deviceID string) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		delete(m.reconnecting, deviceID)
		m.mu.Unlock()
	}()

	d, err := m.registry.Get(deviceID)
	if err != nil {
		return
	}
	maxRetries := d.MaxRetries
	if maxRetries <= 0 {
		maxRetries = m.cfg.DeviceMaxRetries
	}

	logger := m.logger.With().Str("device_id", deviceID).Logger()

	for attempt := 1; attempt <= maxRetries; attempt++ {
		select {
		case <-m.ctx.Done():
			return
		case <-time.After(m.cfg.ReconnectDelay):
		}

		_, _ = m.registry.IncrementReconnectAttempts(deviceID)
		metrics.ReconnectAttempts.Inc()
		m.setStatus(deviceID, types.DeviceConnecting)

		logger.Info().
			Int("attempt", attempt).
			Int("max_retries", maxRetries).
			Msg("reconnecting device")

		if err := m.connect(m.ctx, deviceID, d.URL); err == nil {
			_ = m.registry.ResetReconnectAttempts(deviceID)
			logger.Info().Int("attempts_used", attempt).Msg("device reconnected")
			return
		} else {
			logger.Warn().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
		}

		m.setStatus(deviceID, types.DeviceDisconnected)
	}

	logger.Error().Int("max_retries", maxRetries).Msg("reconnect ceiling reached, device failed")
	m.setStatus(deviceID, types.DeviceFailed)
}
