package planner

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/galaxyhq/galaxy/pkg/constellation"
	"github.com/galaxyhq/galaxy/pkg/events"
	"github.com/galaxyhq/galaxy/pkg/log"
)

// Planner turns a high-level request into a constellation and, while it
// executes, revises the DAG in response to task results. Revisions are
// never passed to the orchestrator directly: the planner publishes
// CONSTELLATION_MODIFIED on the bus and the synchronizer takes it from
// there. A planner must publish within the synchronizer's timeout or
// the loop proceeds without the edit.
type Planner interface {
	Plan(ctx context.Context, request string) (*constellation.Constellation, error)
}

// Revision inspects one completed or failed task and returns the next
// structural view plus a tag describing the edit. Returning nil keeps
// the structure unchanged while still releasing the barrier.
type Revision func(ev *events.TaskEvent) (*constellation.Constellation, string)

// Scripted is a deterministic Planner driven by a prepared script. It
// answers Plan with a fixed constellation and responds to every task
// completion on the bus, so orchestrator runs against it never stall on
// the modification barrier.
type Scripted struct {
	bus     *events.Bus
	agentID string
	initial *constellation.Constellation
	logger  zerolog.Logger

	mu        sync.Mutex
	revisions map[string]Revision
}

// NewScripted creates a scripted planner and subscribes it to task
// terminal events. The revisions map is keyed by task id; completions
// of unscripted tasks get an empty modification.
func NewScripted(bus *events.Bus, agentID string, initial *constellation.Constellation, revisions map[string]Revision) *Scripted {
	p := &Scripted{
		bus:     bus,
		agentID: agentID,
		initial: initial,
		logger:  log.WithComponent("scripted-planner"),
	}
	p.revisions = make(map[string]Revision, len(revisions))
	for id, rev := range revisions {
		p.revisions[id] = rev
	}
	bus.Subscribe(p, events.TaskCompleted, events.TaskFailed)
	return p
}

// Plan implements Planner with the prepared constellation.
func (p *Scripted) Plan(ctx context.Context, request string) (*constellation.Constellation, error) {
	p.bus.Publish(events.NewAgentEvent(p.agentID, p.agentID, "planned: "+request))
	return p.initial, nil
}

// HandleEvent implements events.Observer.
func (p *Scripted) HandleEvent(ev events.Event) {
	e, ok := ev.(*events.TaskEvent)
	if !ok {
		return
	}

	p.mu.Lock()
	rev := p.revisions[e.TaskID]
	delete(p.revisions, e.TaskID)
	p.mu.Unlock()

	constellationID := ""
	if e.Constellation != nil {
		constellationID = e.Constellation.ID
	}

	mod := events.NewConstellationEvent(events.ConstellationModified, p.agentID, constellationID, constellation.StateExecuting)
	mod.OnTaskIDs = []string{e.TaskID}
	if rev != nil {
		next, tag := rev(e)
		mod.New = next
		mod.ModificationType = tag
	}
	p.bus.Publish(mod)

	p.logger.Debug().
		Str("task_id", e.TaskID).
		Str("modification_type", mod.ModificationType).
		Msg("published modification")
}

// Close unsubscribes the planner from the bus.
func (p *Scripted) Close() {
	p.bus.Unsubscribe(p)
}
