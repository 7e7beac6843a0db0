package planner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galaxyhq/galaxy/pkg/constellation"
	"github.com/galaxyhq/galaxy/pkg/events"
	"github.com/galaxyhq/galaxy/pkg/types"
)

func TestScriptedPlanRevisesOnCompletion(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	initial := constellation.New("plan")
	require.NoError(t, initial.AddTask(&constellation.Task{ID: "a"}))

	p := NewScripted(bus, "agent-1", initial, map[string]Revision{
		"a": func(ev *events.TaskEvent) (*constellation.Constellation, string) {
			next := ev.Constellation.Clone()
			_ = next.AddTask(&constellation.Task{ID: "b"})
			_ = next.AddDependency(&constellation.Dependency{FromID: "a", ToID: "b"})
			return next, "expand"
		},
	})
	defer p.Close()

	con, err := p.Plan(context.Background(), "run the thing")
	require.NoError(t, err)
	assert.Same(t, initial, con)

	var mu sync.Mutex
	var mods []*events.ConstellationEvent
	bus.Subscribe(events.ObserverFunc(func(ev events.Event) {
		if e, ok := ev.(*events.ConstellationEvent); ok {
			mu.Lock()
			mods = append(mods, e)
			mu.Unlock()
		}
	}), events.ConstellationModified)

	done := events.NewTaskEvent(events.TaskCompleted, "orchestrator", "a", types.TaskCompleted)
	done.Constellation = initial
	bus.Publish(done)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(mods) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	mod := mods[0]
	mu.Unlock()
	assert.Equal(t, []string{"a"}, mod.OnTaskIDs)
	assert.Equal(t, "expand", mod.ModificationType)
	require.NotNil(t, mod.New)
	assert.Equal(t, 2, mod.New.Statistics().Total)

	// Unscripted completions still release the barrier with an empty
	// modification.
	other := events.NewTaskEvent(events.TaskFailed, "orchestrator", "z", types.TaskFailed)
	bus.Publish(other)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(mods) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	empty := mods[1]
	mu.Unlock()
	assert.Equal(t, []string{"z"}, empty.OnTaskIDs)
	assert.Nil(t, empty.New)
	assert.Empty(t, empty.ModificationType)
}
