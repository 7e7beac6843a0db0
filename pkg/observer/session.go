package observer

import (
	"sync"
	"time"

	"github.com/galaxyhq/galaxy/pkg/events"
)

// SessionStats is a point-in-time copy of the session accumulator.
type SessionStats struct {
	TasksStarted   int
	TasksCompleted int
	TasksFailed    int

	// TaskDurations maps task id to wall-clock execution time.
	TaskDurations     map[string]time.Duration
	TotalTaskDuration time.Duration

	ConstellationsStarted   int
	ConstellationsCompleted int
	ConstellationsFailed    int
	ConstellationsCancelled int

	// ConstellationDurations maps constellation id to total runtime.
	ConstellationDurations map[string]time.Duration

	// Modifications counts planner edits per constellation.
	Modifications map[string]int
}

// SessionMetrics accumulates per-session execution counters off the
// event bus. It is a pure accumulator: external reporters read it
// through Snapshot, nothing is pushed.
type SessionMetrics struct {
	mu      sync.Mutex
	started map[string]time.Time
	stats   SessionStats
}

// NewSessionMetrics creates the accumulator and subscribes it.
func NewSessionMetrics(bus *events.Bus) *SessionMetrics {
	m := &SessionMetrics{
		started: make(map[string]time.Time),
		stats: SessionStats{
			TaskDurations:          make(map[string]time.Duration),
			ConstellationDurations: make(map[string]time.Duration),
			Modifications:          make(map[string]int),
		},
	}
	bus.Subscribe(m,
		events.TaskStarted, events.TaskCompleted, events.TaskFailed,
		events.ConstellationStarted, events.ConstellationModified,
		events.ConstellationCompleted, events.ConstellationFailed,
		events.ConstellationCancelled,
	)
	return m
}

// HandleEvent implements events.Observer.
func (m *SessionMetrics) HandleEvent(ev events.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch e := ev.(type) {
	case *events.TaskEvent:
		switch e.EventKind() {
		case events.TaskStarted:
			m.stats.TasksStarted++
			m.started[e.TaskID] = e.OccurredAt()
		case events.TaskCompleted:
			m.stats.TasksCompleted++
			m.noteTaskDone(e)
		case events.TaskFailed:
			m.stats.TasksFailed++
			m.noteTaskDone(e)
		}
	case *events.ConstellationEvent:
		switch e.EventKind() {
		case events.ConstellationStarted:
			m.stats.ConstellationsStarted++
		case events.ConstellationModified:
			m.stats.Modifications[e.ConstellationID]++
		case events.ConstellationCompleted:
			m.stats.ConstellationsCompleted++
			m.stats.ConstellationDurations[e.ConstellationID] = e.Duration
		case events.ConstellationFailed:
			m.stats.ConstellationsFailed++
			m.stats.ConstellationDurations[e.ConstellationID] = e.Duration
		case events.ConstellationCancelled:
			m.stats.ConstellationsCancelled++
			m.stats.ConstellationDurations[e.ConstellationID] = e.Duration
		}
	}
}

func (m *SessionMetrics) noteTaskDone(e *events.TaskEvent) {
	start, ok := m.started[e.TaskID]
	if !ok {
		return
	}
	delete(m.started, e.TaskID)
	d := e.OccurredAt().Sub(start)
	m.stats.TaskDurations[e.TaskID] = d
	m.stats.TotalTaskDuration += d
}

// Snapshot returns a deep copy of the accumulated statistics.
func (m *SessionMetrics) Snapshot() SessionStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := m.stats
	cp.TaskDurations = make(map[string]time.Duration, len(m.stats.TaskDurations))
	for k, v := range m.stats.TaskDurations {
		cp.TaskDurations[k] = v
	}
	cp.ConstellationDurations = make(map[string]time.Duration, len(m.stats.ConstellationDurations))
	for k, v := range m.stats.ConstellationDurations {
		cp.ConstellationDurations[k] = v
	}
	cp.Modifications = make(map[string]int, len(m.stats.Modifications))
	for k, v := range m.stats.Modifications {
		cp.Modifications[k] = v
	}
	return cp
}
