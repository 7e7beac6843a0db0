package fleet

import (
	"context"
	"fmt"
	"time"

	"github.com/galaxyhq/galaxy/pkg/metrics"
)

// heartbeatLoop pings one connected device at the configured interval and
// records reply instants in the registry. Missing the configured number of
// consecutive replies aborts the transport, which fires the same
// disconnect path as a receive error.
func (m *Manager) heartbeatLoop(ctx context.Context, deviceID string, client deviceTransport) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	logger := m.logger.With().Str("device_id", deviceID).Logger()
	misses := 0

	for {
		select {
		case <-ticker.C:
			if err := client.Heartbeat(ctx, m.cfg.HeartbeatTimeout); err != nil {
				misses++
				metrics.HeartbeatMisses.Inc()
				logger.Warn().
					Err(err).
					Int("consecutive_misses", misses).
					Msg("heartbeat missed")

				if misses >= m.cfg.HeartbeatMissLimit {
					client.Abort(fmt.Errorf("missed %d consecutive heartbeats", misses))
					return
				}
				continue
			}

			misses = 0
			_ = m.registry.NoteHeartbeat(deviceID, time.Now())

		case <-ctx.Done():
			return
		}
	}
}
