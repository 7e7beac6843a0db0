package synchronizer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/galaxyhq/galaxy/pkg/constellation"
	"github.com/galaxyhq/galaxy/pkg/events"
	"github.com/galaxyhq/galaxy/pkg/types"
)

func modification(onTaskIDs []string, next *constellation.Constellation) *events.ConstellationEvent {
	ev := events.NewConstellationEvent(events.ConstellationModified, "test", "c1", constellation.StateExecuting)
	ev.OnTaskIDs = onTaskIDs
	ev.New = next
	return ev
}

func TestArmAndResolve(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	s := New(bus, time.Minute)
	defer s.Close()
	s.AttachPlanner()

	s.ExpectModification("task-a")
	assert.Equal(t, 1, s.PendingCount())

	// Arming the same task twice is a no-op
	s.ExpectModification("task-a")
	assert.Equal(t, 1, s.PendingCount())

	next := constellation.New("edited")
	s.HandleEvent(modification([]string{"task-a"}, next))

	assert.Equal(t, 0, s.PendingCount())
	assert.Same(t, next, s.Captured())

	stats := s.Statistics()
	assert.Equal(t, int64(1), stats.SignalsCreated)
	assert.Equal(t, int64(1), stats.SignalsResolved)
	assert.Equal(t, int64(1), stats.ModificationsApplied)
}

func TestExpectWithoutPlannerIsNoOp(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	s := New(bus, time.Minute)
	defer s.Close()

	s.ExpectModification("task-a")

	assert.Equal(t, 0, s.PendingCount())
	assert.True(t, s.WaitForPendingModifications(context.Background(), time.Second))
}

func TestBarrierPassesWhenNothingPending(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	s := New(bus, time.Minute)
	defer s.Close()

	assert.True(t, s.WaitForPendingModifications(context.Background(), time.Second))
}

func TestBarrierBlocksUntilModification(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	s := New(bus, time.Minute)
	defer s.Close()
	s.AttachPlanner()

	s.ExpectModification("task-a")

	released := make(chan bool, 1)
	go func() {
		released <- s.WaitForPendingModifications(context.Background(), 5*time.Second)
	}()

	select {
	case <-released:
		t.Fatal("barrier released before the modification arrived")
	case <-time.After(50 * time.Millisecond):
	}

	s.HandleEvent(modification([]string{"task-a"}, nil))

	select {
	case ok := <-released:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("barrier did not release after the modification")
	}
}

func TestBarrierTimeoutClearsPending(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	s := New(bus, time.Minute)
	defer s.Close()
	s.AttachPlanner()

	s.ExpectModification("task-a")
	s.ExpectModification("task-b")

	ok := s.WaitForPendingModifications(context.Background(), 30*time.Millisecond)

	assert.False(t, ok)
	assert.Equal(t, 0, s.PendingCount())
	assert.Equal(t, int64(1), s.Statistics().BarrierTimeouts)

	// A fresh wait passes immediately: timeout must not wedge the barrier.
	assert.True(t, s.WaitForPendingModifications(context.Background(), time.Second))
}

func TestSignalAutoResolves(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	s := New(bus, 20*time.Millisecond)
	defer s.Close()
	s.AttachPlanner()

	s.ExpectModification("task-a")

	ok := s.WaitForPendingModifications(context.Background(), time.Second)

	assert.True(t, ok)
	assert.Equal(t, 0, s.PendingCount())
	assert.Equal(t, int64(1), s.Statistics().AutoResolves)
}

func TestBarrierHonoursContextCancellation(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	s := New(bus, time.Minute)
	defer s.Close()
	s.AttachPlanner()

	s.ExpectModification("task-a")

	ctx, cancel := context.WithCancel(context.Background())
	released := make(chan bool, 1)
	go func() {
		released <- s.WaitForPendingModifications(ctx, 5*time.Second)
	}()

	cancel()

	select {
	case ok := <-released:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("barrier did not honour context cancellation")
	}
}

func TestEventsArriveOverBus(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	s := New(bus, time.Minute)
	defer s.Close()

	started := events.NewConstellationEvent(events.ConstellationStarted, "test", "c1", constellation.StateExecuting)
	started.New = constellation.New("live")
	bus.Publish(started)

	require.Eventually(t, func() bool {
		return s.Captured() != nil
	}, time.Second, 5*time.Millisecond)
}

func TestMergeWithoutCaptureReturnsLocal(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	s := New(bus, time.Minute)
	defer s.Close()

	local := constellation.New("local")
	assert.Same(t, local, s.Merge(local))
}

func TestMergeFoldsRuntimeIntoNewStructure(t *testing.T) {
	local := constellation.New("v1")
	require.NoError(t, local.AddTask(&constellation.Task{ID: "a", Name: "A"}))
	require.NoError(t, local.AddTask(&constellation.Task{ID: "b", Name: "B"}))
	require.NoError(t, local.AddDependency(&constellation.Dependency{FromID: "a", ToID: "b"}))

	require.NoError(t, local.MarkTaskStarted("a"))
	_, err := local.MarkTaskCompleted("a", true, map[string]any{"out": "42"}, "")
	require.NoError(t, err)

	// Planner publishes a new structure: same DAG plus task c downstream of a.
	edited := local.Clone()
	require.NoError(t, edited.AddTask(&constellation.Task{ID: "c", Name: "C"}))
	require.NoError(t, edited.AddDependency(&constellation.Dependency{FromID: "a", ToID: "c"}))

	bus := events.NewBus()
	defer bus.Close()
	s := New(bus, time.Minute)
	defer s.Close()

	s.HandleEvent(modification([]string{"a"}, edited))
	merged := s.Merge(local)

	require.NotSame(t, local, merged)
	a, ok := merged.Task("a")
	require.True(t, ok)
	assert.Equal(t, types.TaskCompleted, a.Status)
	assert.Equal(t, "42", a.Result["out"])

	ready := merged.ReadyTasks()
	ids := make([]string, 0, len(ready))
	for _, task := range ready {
		ids = append(ids, task.ID)
	}
	assert.ElementsMatch(t, []string{"b", "c"}, ids)
}

// Merging keeps the more advanced status per task regardless of which
// side holds it.
func TestMergeAdvancementProperty(t *testing.T) {
	statuses := []types.TaskStatus{
		types.TaskPending,
		types.TaskWaitingDependency,
		types.TaskRunning,
		types.TaskCompleted,
		types.TaskFailed,
		types.TaskCancelled,
	}

	rapid.Check(t, func(t *rapid.T) {
		localStatus := rapid.SampledFrom(statuses).Draw(t, "local")
		capturedStatus := rapid.SampledFrom(statuses).Draw(t, "captured")

		local := constellation.New("local")
		require.NoError(t, local.AddTask(&constellation.Task{ID: "x", Status: localStatus}))

		captured := constellation.New("captured")
		require.NoError(t, captured.AddTask(&constellation.Task{ID: "x", Status: capturedStatus}))

		bus := events.NewBus()
		defer bus.Close()
		s := New(bus, time.Minute)
		defer s.Close()

		s.HandleEvent(modification(nil, captured))
		merged := s.Merge(local)

		got, ok := merged.Task("x")
		require.True(t, ok)

		want := capturedStatus
		if localStatus.Advancement() > capturedStatus.Advancement() {
			want = localStatus
		}
		if want == types.TaskWaitingDependency {
			// With no inbound edges the merge normalises WAITING back to
			// PENDING.
			want = types.TaskPending
		}
		assert.Equal(t, want, got.Status)
	})
}
