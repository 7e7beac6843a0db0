package synchronizer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/galaxyhq/galaxy/pkg/constellation"
	"github.com/galaxyhq/galaxy/pkg/events"
	"github.com/galaxyhq/galaxy/pkg/log"
	"github.com/galaxyhq/galaxy/pkg/metrics"
)

const sourceID = "modification-synchronizer"

// DefaultModificationTimeout bounds how long a completed task's pending
// signal stays armed before it auto-resolves.
const DefaultModificationTimeout = 600 * time.Second

// Statistics are monotonically incrementing counters describing the
// synchronizer's lifetime activity.
type Statistics struct {
	SignalsCreated       int64
	SignalsResolved      int64
	AutoResolves         int64
	ModificationsApplied int64
	BarrierWaits         int64
	BarrierTimeouts      int64
}

// pendingSignal is a one-shot signal with an auto-resolve timer. The
// channel closes exactly once, either by the planner's modification or
// by the timer.
type pendingSignal struct {
	done  chan struct{}
	timer *time.Timer
}

// Synchronizer is the barrier between the orchestrator's ready-set reads
// and the planner's structural edits. It observes task completions and
// planner modifications on the event bus; the orchestrator calls
// WaitForPendingModifications before each scheduling pass and Merge to
// reconcile its runtime view with the planner's latest structure.
type Synchronizer struct {
	bus     *events.Bus
	timeout time.Duration
	logger  zerolog.Logger

	mu       sync.Mutex
	armed    bool
	pending  map[string]*pendingSignal
	captured *constellation.Constellation
	stats    Statistics
	closed   bool
}

// New creates a synchronizer and subscribes it to the bus. A zero
// timeout means DefaultModificationTimeout.
func New(bus *events.Bus, timeout time.Duration) *Synchronizer {
	if timeout <= 0 {
		timeout = DefaultModificationTimeout
	}
	s := &Synchronizer{
		bus:     bus,
		timeout: timeout,
		logger:  log.WithComponent("synchronizer"),
		pending: make(map[string]*pendingSignal),
	}
	bus.Subscribe(s,
		events.ConstellationStarted,
		events.ConstellationModified,
	)
	return s
}

// HandleEvent implements events.Observer.
func (s *Synchronizer) HandleEvent(ev events.Event) {
	e, ok := ev.(*events.ConstellationEvent)
	if !ok {
		return
	}
	switch e.EventKind() {
	case events.ConstellationStarted:
		s.capture(e.New)
	case events.ConstellationModified:
		s.applyModification(e)
	}
}

// AttachPlanner arms the synchronizer. Without an attached planner no
// pending signals are created and every barrier wait passes through,
// so plannerless sessions never stall on the modification timeout.
func (s *Synchronizer) AttachPlanner() {
	s.mu.Lock()
	s.armed = true
	s.mu.Unlock()
}

// DetachPlanner disarms the synchronizer and resolves anything pending.
func (s *Synchronizer) DetachPlanner() {
	s.mu.Lock()
	s.armed = false
	s.mu.Unlock()
	s.clearAll()
}

// ExpectModification arms a pending signal for a task that just reached
// a terminal state, unless one already exists. The orchestrator calls
// this synchronously before publishing the completion event, so the
// signal is always visible to the next barrier wait. The auto-resolve
// timer covers a planner that never responds.
func (s *Synchronizer) ExpectModification(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.armed {
		return
	}
	if _, ok := s.pending[taskID]; ok {
		return
	}

	sig := &pendingSignal{done: make(chan struct{})}
	sig.timer = time.AfterFunc(s.timeout, func() { s.autoResolve(taskID) })
	s.pending[taskID] = sig
	s.stats.SignalsCreated++

	s.logger.Debug().Str("task_id", taskID).Msg("pending modification armed")
}

// autoResolve fires when the planner stays silent past the deadline. It
// is logged as a safety violation, not an error: a dead planner must not
// stall the orchestrator forever.
func (s *Synchronizer) autoResolve(taskID string) {
	s.mu.Lock()
	sig, ok := s.pending[taskID]
	if ok {
		delete(s.pending, taskID)
		s.stats.AutoResolves++
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	close(sig.done)
	s.logger.Warn().
		Str("task_id", taskID).
		Dur("timeout", s.timeout).
		Msg("pending modification auto-resolved, planner stayed silent")
}

func (s *Synchronizer) capture(c *constellation.Constellation) {
	if c == nil {
		return
	}
	s.mu.Lock()
	s.captured = c
	s.mu.Unlock()

	s.logger.Debug().Str("constellation_id", c.ID).Msg("constellation captured")
}

// applyModification resolves the signals the edit responds to and
// replaces the captured structural view.
func (s *Synchronizer) applyModification(e *events.ConstellationEvent) {
	s.mu.Lock()
	resolved := make([]*pendingSignal, 0, len(e.OnTaskIDs))
	for _, taskID := range e.OnTaskIDs {
		if sig, ok := s.pending[taskID]; ok {
			delete(s.pending, taskID)
			sig.timer.Stop()
			resolved = append(resolved, sig)
			s.stats.SignalsResolved++
		}
	}
	if e.New != nil {
		s.captured = e.New
	}
	s.stats.ModificationsApplied++
	s.mu.Unlock()

	for _, sig := range resolved {
		close(sig.done)
	}
	metrics.ModificationsTotal.Inc()

	s.logger.Info().
		Strs("on_task_ids", e.OnTaskIDs).
		Str("modification_type", e.ModificationType).
		Int("resolved", len(resolved)).
		Msg("constellation modification applied")
}

// WaitForPendingModifications blocks until every pending signal resolves
// or the timeout elapses. It re-snapshots after each round so signals
// armed mid-wait are also honoured. On timeout the pending set is
// cleared to prevent deadlock and false is returned.
func (s *Synchronizer) WaitForPendingModifications(ctx context.Context, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = s.timeout
	}
	timer := metrics.NewTimer()
	deadline := time.After(timeout)

	s.mu.Lock()
	s.stats.BarrierWaits++
	s.mu.Unlock()

	for {
		s.mu.Lock()
		snapshot := make([]*pendingSignal, 0, len(s.pending))
		for _, sig := range s.pending {
			snapshot = append(snapshot, sig)
		}
		s.mu.Unlock()

		if len(snapshot) == 0 {
			timer.ObserveDuration(metrics.BarrierWaitDuration)
			return true
		}

		for _, sig := range snapshot {
			select {
			case <-sig.done:
			case <-ctx.Done():
				timer.ObserveDuration(metrics.BarrierWaitDuration)
				return false
			case <-deadline:
				s.clearPending()
				timer.ObserveDuration(metrics.BarrierWaitDuration)
				metrics.BarrierTimeouts.Inc()
				s.logger.Warn().
					Dur("timeout", timeout).
					Msg("barrier wait timed out, proceeding without planner edit")
				return false
			}
		}
	}
}

// clearPending resolves and drops every pending signal after a barrier
// timeout.
func (s *Synchronizer) clearPending() {
	s.mu.Lock()
	s.stats.BarrierTimeouts++
	s.mu.Unlock()
	s.clearAll()
}

// clearAll resolves and drops every pending signal.
func (s *Synchronizer) clearAll() {
	s.mu.Lock()
	dropped := s.pending
	s.pending = make(map[string]*pendingSignal)
	s.mu.Unlock()

	for _, sig := range dropped {
		sig.timer.Stop()
		close(sig.done)
	}
}

// Merge reconciles the orchestrator's runtime view with the planner's
// latest structure. The captured constellation is the structural base;
// runtime fields are copied from local wherever local's task status is
// more advanced. With nothing captured the local view is returned as-is.
func (s *Synchronizer) Merge(local *constellation.Constellation) *constellation.Constellation {
	s.mu.Lock()
	captured := s.captured
	s.mu.Unlock()

	if captured == nil || captured == local {
		return local
	}

	merged := captured.Clone()
	merged.AdoptRuntime(local)
	return merged
}

// Captured returns the most recent constellation published by the
// planner, or nil.
func (s *Synchronizer) Captured() *constellation.Constellation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captured
}

// PendingCount returns the number of unresolved pending signals.
func (s *Synchronizer) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Statistics returns a snapshot of the lifetime counters.
func (s *Synchronizer) Statistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close unsubscribes from the bus and resolves every pending signal so
// no barrier waiter is left hanging.
func (s *Synchronizer) Close() {
	s.bus.Unsubscribe(s)

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.clearAll()
}
