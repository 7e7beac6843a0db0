package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/galaxyhq/galaxy/pkg/constellation"
	"github.com/galaxyhq/galaxy/pkg/events"
	"github.com/galaxyhq/galaxy/pkg/log"
	"github.com/galaxyhq/galaxy/pkg/metrics"
	"github.com/galaxyhq/galaxy/pkg/registry"
	"github.com/galaxyhq/galaxy/pkg/synchronizer"
	"github.com/galaxyhq/galaxy/pkg/types"
)

const sourceID = "orchestrator"

var (
	ErrNoAssignment     = errors.New("task has no device assignment and no strategy is configured")
	ErrUnknownDevice    = errors.New("assignment names an unregistered device")
	ErrNoEligibleDevice = errors.New("no eligible device for task")
	ErrAlreadyExecuting = errors.New("constellation is already executing")
)

// Dispatcher is the slice of the fleet manager the orchestrator needs.
type Dispatcher interface {
	AssignTask(deviceID string, req *types.TaskRequest) (<-chan *types.ExecutionResult, error)
	Registry() *registry.Registry
}

// Config holds orchestrator tuning knobs.
type Config struct {
	SessionID string

	// ModificationTimeout bounds each barrier wait. Zero means the
	// synchronizer default.
	ModificationTimeout time.Duration

	// TaskTimeout is forwarded to the device with each task request.
	TaskTimeout time.Duration
}

// completion carries one finished execution back to the loop.
type completion struct {
	taskID string
	result *types.ExecutionResult
}

// execution is one in-flight task.
type execution struct {
	taskID string
	cancel context.CancelFunc
}

// Orchestrator drives constellations to a terminal state. It owns every
// runtime write to the constellation; structural writes arrive from the
// planner through the synchronizer, and the two views meet only in the
// merge step at the top of each loop iteration.
type Orchestrator struct {
	cfg      Config
	bus      *events.Bus
	fleet    Dispatcher
	barrier  *synchronizer.Synchronizer
	strategy Strategy
	logger   zerolog.Logger

	mu        sync.Mutex
	cancelled map[string]bool
	executing map[string]bool
	cancelChs map[string]chan struct{}
}

// New creates an orchestrator. Strategy may be nil when every task will
// carry an explicit assignment.
func New(bus *events.Bus, fleet Dispatcher, barrier *synchronizer.Synchronizer, strategy Strategy, cfg Config) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		bus:       bus,
		fleet:     fleet,
		barrier:   barrier,
		strategy:  strategy,
		logger:    log.WithComponent("orchestrator"),
		cancelled: make(map[string]bool),
		executing: make(map[string]bool),
		cancelChs: make(map[string]chan struct{}),
	}
}

// Cancel requests cancellation of a running constellation. The loop
// observes the flag at its next iteration, cancels every in-flight
// execution, and publishes a terminal event.
func (o *Orchestrator) Cancel(constellationID string) {
	o.mu.Lock()
	already := o.cancelled[constellationID]
	o.cancelled[constellationID] = true
	ch := o.cancelChs[constellationID]
	o.mu.Unlock()

	if ch != nil && !already {
		close(ch)
	}
	o.logger.Info().Str("constellation_id", constellationID).Msg("cancellation requested")
}

func (o *Orchestrator) isCancelled(constellationID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled[constellationID]
}

// Execute runs the constellation to a terminal state and returns the
// final view. The call blocks; run it on its own goroutine when
// concurrency is needed. Validation errors surface synchronously before
// any task is dispatched.
func (o *Orchestrator) Execute(ctx context.Context, con *constellation.Constellation, assignments map[string]string) (*constellation.Constellation, error) {
	o.mu.Lock()
	if o.executing[con.ID] {
		o.mu.Unlock()
		return con, fmt.Errorf("%w: %s", ErrAlreadyExecuting, con.ID)
	}
	o.executing[con.ID] = true
	delete(o.cancelled, con.ID)
	cancelCh := make(chan struct{})
	o.cancelChs[con.ID] = cancelCh
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.executing, con.ID)
		delete(o.cancelled, con.ID)
		delete(o.cancelChs, con.ID)
		o.mu.Unlock()
	}()

	if err := o.validateAssignments(con, assignments); err != nil {
		return con, err
	}
	if ok, errs := con.Validate(); !ok {
		return con, fmt.Errorf("invalid constellation: %v", errs)
	}

	timer := metrics.NewTimer()
	con.SetState(constellation.StateExecuting)

	started := events.NewConstellationEvent(events.ConstellationStarted, sourceID, con.ID, constellation.StateExecuting)
	started.New = con
	o.bus.Publish(started)

	o.logger.Info().
		Str("constellation_id", con.ID).
		Str("name", con.Name).
		Int("tasks", con.Statistics().Total).
		Msg("constellation execution started")

	inflight := make(map[string]*execution)
	completions := make(chan completion)

	for {
		// Cancellation gate.
		if o.isCancelled(con.ID) || ctx.Err() != nil {
			return o.finishCancelled(con, inflight, completions, timer)
		}

		// Barrier: completions already published must not race the
		// planner's response to them.
		if !o.barrier.WaitForPendingModifications(ctx, o.cfg.ModificationTimeout) {
			o.logger.Warn().
				Str("constellation_id", con.ID).
				Msg("proceeding without planner modification")
		}

		// Merge the planner's structural view with local runtime state.
		merged := o.barrier.Merge(con)
		if merged != con {
			o.logger.Info().
				Str("constellation_id", con.ID).
				Int("tasks", merged.Statistics().Total).
				Msg("adopted modified constellation")
			con = merged
		}

		if err := o.validateAssignments(con, assignments); err != nil {
			return o.finishFailed(con, inflight, completions, timer, err)
		}

		if con.IsComplete() && len(inflight) == 0 {
			break
		}

		// Dispatch every ready task not already in flight.
		dispatchFailed := false
		for _, task := range con.ReadyTasks() {
			if _, running := inflight[task.ID]; running {
				continue
			}
			deviceID, err := o.resolveDevice(task, assignments)
			if err != nil {
				o.failDispatch(con, task.ID, err)
				dispatchFailed = true
				continue
			}
			if err := con.MarkTaskStarted(task.ID); err != nil {
				o.failDispatch(con, task.ID, err)
				dispatchFailed = true
				continue
			}

			ev := events.NewTaskEvent(events.TaskStarted, sourceID, task.ID, types.TaskRunning)
			ev.Constellation = con
			ev.Attrs = map[string]string{"device_id": deviceID}
			o.bus.Publish(ev)
			metrics.TasksDispatched.Inc()

			execCtx, cancel := context.WithCancel(ctx)
			inflight[task.ID] = &execution{taskID: task.ID, cancel: cancel}
			go o.runTask(execCtx, task, deviceID, completions)
		}

		if len(inflight) == 0 {
			if dispatchFailed {
				// Failing a dispatch can unblock unconditional successors;
				// re-derive the ready set before concluding anything.
				continue
			}
			// Nothing ready and nothing running: the remaining tasks are
			// permanently blocked by failed predecessors.
			break
		}

		// Await the first in-flight completion.
		select {
		case c := <-completions:
			if exec, ok := inflight[c.taskID]; ok {
				exec.cancel()
				delete(inflight, c.taskID)
			}
			o.recordCompletion(con, c)
		case <-cancelCh:
		case <-ctx.Done():
		}
	}

	return o.finish(con, timer), nil
}

// runTask executes one task on its device and reports the outcome. All
// constellation writes happen on the loop goroutine, never here.
func (o *Orchestrator) runTask(ctx context.Context, task *constellation.Task, deviceID string, completions chan<- completion) {
	req := &types.TaskRequest{
		TaskID:      task.ID,
		Name:        task.Name,
		Description: task.Description,
		Parameters:  task.Parameters,
		Timeout:     o.cfg.TaskTimeout,
	}

	taskTimer := metrics.NewTimer()
	var result *types.ExecutionResult

	future, err := o.fleet.AssignTask(deviceID, req)
	if err != nil {
		result = types.ConnectionFailure(task.ID, deviceID, err.Error())
	} else {
		select {
		case result = <-future:
		case <-ctx.Done():
			result = types.CancelledResult(task.ID, deviceID)
			// Drain the future so the device queue is not left with a
			// blocked sender.
			go func() { <-future }()
		}
	}
	taskTimer.ObserveDuration(metrics.TaskDuration)

	completions <- completion{taskID: task.ID, result: result}
}

// recordCompletion folds one execution result into the constellation and
// publishes the corresponding task event.
func (o *Orchestrator) recordCompletion(con *constellation.Constellation, c completion) {
	res := c.result

	if res.Status == types.TaskCancelled {
		if err := con.MarkTaskCancelled(c.taskID); err != nil {
			o.logger.Warn().Err(err).Str("task_id", c.taskID).Msg("cancel mark failed")
		}
		return
	}

	success := res.Status == types.TaskCompleted
	newlyReady, err := con.MarkTaskCompleted(c.taskID, success, res.Result, res.Error)
	if err != nil {
		// The planner removed the task mid-flight; the result has nowhere
		// to land.
		o.logger.Warn().Err(err).Str("task_id", c.taskID).Msg("completion for absent task dropped")
		return
	}

	kind := events.TaskCompleted
	status := types.TaskCompleted
	if !success {
		kind = events.TaskFailed
		status = types.TaskFailed
		metrics.TasksFailed.Inc()
	}

	ev := events.NewTaskEvent(kind, sourceID, c.taskID, status)
	ev.Result = res.Result
	ev.Error = res.Error
	ev.NewlyReady = newlyReady
	ev.Constellation = con
	ev.Attrs = map[string]string{
		"device_id":      res.DeviceID,
		"error_category": string(res.Category),
	}

	// Arm the barrier before the event goes out: the next ready-set read
	// must not race the planner's response to this completion.
	o.barrier.ExpectModification(c.taskID)
	o.bus.Publish(ev)

	o.logger.Info().
		Str("task_id", c.taskID).
		Str("device_id", res.DeviceID).
		Bool("success", success).
		Strs("newly_ready", newlyReady).
		Msg("task finished")
}

// failDispatch records a ready task that could not be handed to any
// device as a FAILED completion, so the run still converges on a terminal
// event when the whole fleet is down.
func (o *Orchestrator) failDispatch(con *constellation.Constellation, taskID string, cause error) {
	o.logger.Warn().Err(cause).Str("task_id", taskID).Msg("task dispatch failed")
	o.recordCompletion(con, completion{
		taskID: taskID,
		result: types.ConnectionFailure(taskID, "", cause.Error()),
	})
}

// finishFailed cancels every in-flight execution, folds its results in,
// and publishes the terminal event before surfacing the error. Used when
// a planner edit invalidates the assignments mid-run.
func (o *Orchestrator) finishFailed(con *constellation.Constellation, inflight map[string]*execution, completions chan completion, timer *metrics.Timer, cause error) (*constellation.Constellation, error) {
	for _, exec := range inflight {
		exec.cancel()
	}
	for len(inflight) > 0 {
		c := <-completions
		delete(inflight, c.taskID)
		o.recordCompletion(con, c)
	}
	return o.finish(con, timer), cause
}

// finish publishes the terminal event for a constellation that ran out
// of work.
func (o *Orchestrator) finish(con *constellation.Constellation, timer *metrics.Timer) *constellation.Constellation {
	state := con.FinalState()
	con.SetState(state)

	kind := events.ConstellationCompleted
	if state == constellation.StateFailed {
		kind = events.ConstellationFailed
	}

	stats := con.Statistics()
	duration := timer.Duration()
	timer.ObserveDuration(metrics.ConstellationDuration)

	ev := events.NewConstellationEvent(kind, sourceID, con.ID, state)
	ev.New = con
	ev.Stats = stats
	ev.Duration = duration
	o.bus.Publish(ev)

	o.logger.Info().
		Str("constellation_id", con.ID).
		Str("state", string(state)).
		Int("completed", stats.Completed).
		Int("failed", stats.Failed).
		Dur("duration", duration).
		Msg("constellation execution finished")
	return con
}

// finishCancelled cancels every in-flight execution, drains their
// results, and publishes the cancelled terminal event.
func (o *Orchestrator) finishCancelled(con *constellation.Constellation, inflight map[string]*execution, completions chan completion, timer *metrics.Timer) (*constellation.Constellation, error) {
	for _, exec := range inflight {
		exec.cancel()
	}
	for len(inflight) > 0 {
		c := <-completions
		delete(inflight, c.taskID)
		o.recordCompletion(con, c)
	}

	// Tasks that never started are cancelled wholesale.
	for _, task := range con.Tasks() {
		if !task.Status.Terminal() {
			_ = con.MarkTaskCancelled(task.ID)
		}
	}

	con.SetState(constellation.StateCancelled)
	stats := con.Statistics()
	duration := timer.Duration()
	timer.ObserveDuration(metrics.ConstellationDuration)

	ev := events.NewConstellationEvent(events.ConstellationCancelled, sourceID, con.ID, constellation.StateCancelled)
	ev.New = con
	ev.Stats = stats
	ev.Duration = duration
	o.bus.Publish(ev)

	o.logger.Info().
		Str("constellation_id", con.ID).
		Dur("duration", duration).
		Msg("constellation cancelled")
	return con, nil
}

// resolveDevice decides which device runs the task: its own assignment,
// then the manual map, then the strategy over online devices.
func (o *Orchestrator) resolveDevice(task *constellation.Task, assignments map[string]string) (string, error) {
	if task.DeviceID != "" {
		return task.DeviceID, nil
	}
	if id, ok := assignments[task.ID]; ok && id != "" {
		return id, nil
	}
	if o.strategy == nil {
		return "", fmt.Errorf("%w: %s", ErrNoAssignment, task.ID)
	}
	return o.strategy.Pick(task, o.fleet.Registry().List(true))
}

// validateAssignments checks every currently-present task before any
// dispatch: each must resolve to a device, and explicitly named devices
// must exist in the registry.
func (o *Orchestrator) validateAssignments(con *constellation.Constellation, assignments map[string]string) error {
	reg := o.fleet.Registry()
	for _, task := range con.Tasks() {
		if task.Status.Terminal() {
			continue
		}
		deviceID := task.DeviceID
		if deviceID == "" {
			deviceID = assignments[task.ID]
		}
		if deviceID == "" {
			if o.strategy == nil {
				return fmt.Errorf("%w: %s", ErrNoAssignment, task.ID)
			}
			continue
		}
		if _, err := reg.Get(deviceID); err != nil {
			return fmt.Errorf("%w: task %s -> %s", ErrUnknownDevice, task.ID, deviceID)
		}
	}
	return nil
}
