package constellation

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/galaxyhq/galaxy/pkg/types"
)

// State represents the overall state of a constellation
type State string

const (
	StateCreated   State = "created"
	StateExecuting State = "executing"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Task is one node of the constellation DAG, executed on one device
type Task struct {
	ID          string
	Name        string
	Description string

	// DeviceID is the target device; empty means unassigned (resolved by
	// an assignment strategy at dispatch time).
	DeviceID string

	// RequiredCapabilities constrains which devices a strategy may pick.
	RequiredCapabilities []string

	Parameters map[string]any
	Priority   types.Priority

	Status     types.TaskStatus
	Result     map[string]any
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	cp := *t
	cp.RequiredCapabilities = append([]string(nil), t.RequiredCapabilities...)
	if t.Parameters != nil {
		cp.Parameters = make(map[string]any, len(t.Parameters))
		for k, v := range t.Parameters {
			cp.Parameters[k] = v
		}
	}
	if t.Result != nil {
		cp.Result = make(map[string]any, len(t.Result))
		for k, v := range t.Result {
			cp.Result[k] = v
		}
	}
	return &cp
}

// Dependency is one directed edge of the DAG; it may be conditional
type Dependency struct {
	ID     string
	FromID string
	ToID   string
	Kind   types.DependencyKind

	// TriggerKeyword applies to DependencyConditionKeyword edges only.
	TriggerKeyword string
}

// Clone returns a copy of the dependency.
func (d *Dependency) Clone() *Dependency {
	cp := *d
	return &cp
}

// Statistics holds per-status task counts for observers
type Statistics struct {
	Total     int
	Pending   int
	Waiting   int
	Running   int
	Completed int
	Failed    int
	Cancelled int
}

// Constellation owns the task DAG the orchestrator executes. The
// orchestrator mutates task runtime state through the Mark* methods; the
// planner mutates structure through Add/Remove. The synchronizer barrier
// keeps the two roles from interleaving; the internal lock only protects
// map access within one role.
type Constellation struct {
	ID        string
	Name      string
	CreatedAt time.Time
	Metadata  map[string]string // Immutable creation metadata

	mu    sync.RWMutex
	state State
	tasks map[string]*Task
	deps  map[string]*Dependency
}

// New creates an empty constellation.
func New(name string) *Constellation {
	return &Constellation{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now(),
		state:     StateCreated,
		tasks:     make(map[string]*Task),
		deps:      make(map[string]*Dependency),
	}
}

// State returns the overall constellation state.
func (c *Constellation) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SetState transitions the overall constellation state.
func (c *Constellation) SetState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// AddTask inserts a new node. The task enters PENDING, or
// WAITING_DEPENDENCY once unsatisfied inbound edges exist.
func (c *Constellation) AddTask(t *Task) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("%w: task id must not be empty", ErrInvalidTask)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.tasks[t.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
	}

	cp := t.Clone()
	if cp.Status == "" {
		cp.Status = types.TaskPending
	}
	if cp.Priority == "" {
		cp.Priority = types.PriorityMedium
	}
	c.tasks[cp.ID] = cp
	return nil
}

// RemoveTask deletes a node and every edge touching it. Running tasks
// belong to the orchestrator and cannot be removed.
func (c *Constellation) RemoveTask(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.Status == types.TaskRunning {
		return fmt.Errorf("%w: %s", ErrTaskRunning, id)
	}

	delete(c.tasks, id)
	for depID, d := range c.deps {
		if d.FromID == id || d.ToID == id {
			delete(c.deps, depID)
		}
	}
	c.refreshWaitingLocked()
	return nil
}

// AddDependency inserts a new edge. Edges that would introduce a cycle are
// rejected and leave the constellation unchanged.
func (c *Constellation) AddDependency(d *Dependency) error {
	if d == nil || d.FromID == "" || d.ToID == "" {
		return fmt.Errorf("%w: dependency endpoints must not be empty", ErrInvalidDependency)
	}
	if d.FromID == d.ToID {
		return fmt.Errorf("%w: self-dependency on %s", ErrCycleDetected, d.FromID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if d.ID == "" {
		d = d.Clone()
		d.ID = uuid.New().String()
	}
	if _, exists := c.deps[d.ID]; exists {
		return fmt.Errorf("%w: dependency %s", ErrDuplicateDependency, d.ID)
	}
	if _, ok := c.tasks[d.FromID]; !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, d.FromID)
	}
	if _, ok := c.tasks[d.ToID]; !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, d.ToID)
	}
	if c.wouldCreateCycleLocked(d.FromID, d.ToID) {
		return fmt.Errorf("%w: %s -> %s", ErrCycleDetected, d.FromID, d.ToID)
	}

	cp := d.Clone()
	if cp.Kind == "" {
		cp.Kind = types.DependencySuccessOnly
	}
	c.deps[cp.ID] = cp
	c.refreshWaitingLocked()
	return nil
}

// RemoveDependency deletes an edge.
func (c *Constellation) RemoveDependency(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.deps[id]; !ok {
		return fmt.Errorf("%w: %s", ErrDependencyNotFound, id)
	}
	delete(c.deps, id)
	c.refreshWaitingLocked()
	return nil
}

// Task returns a copy of the task with the given id.
func (c *Constellation) Task(id string) (*Task, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tasks[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Tasks returns copies of every task.
func (c *Constellation) Tasks() []*Task {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		out = append(out, t.Clone())
	}
	return out
}

// Dependencies returns copies of every edge.
func (c *Constellation) Dependencies() []*Dependency {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Dependency, 0, len(c.deps))
	for _, d := range c.deps {
		out = append(out, d.Clone())
	}
	return out
}

// Validate performs a full structural check and returns every violation
// found.
func (c *Constellation) Validate() (bool, []error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs []error
	for _, d := range c.deps {
		if _, ok := c.tasks[d.FromID]; !ok {
			errs = append(errs, fmt.Errorf("%w: dependency %s references missing task %s", ErrTaskNotFound, d.ID, d.FromID))
		}
		if _, ok := c.tasks[d.ToID]; !ok {
			errs = append(errs, fmt.Errorf("%w: dependency %s references missing task %s", ErrTaskNotFound, d.ID, d.ToID))
		}
	}
	if _, err := c.topologicalOrderLocked(); err != nil {
		errs = append(errs, err)
	}
	return len(errs) == 0, errs
}

// MarkTaskStarted transitions a ready task to RUNNING and records the
// execution start instant.
func (c *Constellation) MarkTaskStarted(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTaskTerminal, id, t.Status)
	}
	if t.Status == types.TaskRunning {
		return fmt.Errorf("%w: %s already running", ErrInvalidTransition, id)
	}
	if !c.taskReadyLocked(t) {
		return fmt.Errorf("%w: %s has unsatisfied dependencies", ErrInvalidTransition, id)
	}

	t.Status = types.TaskRunning
	t.StartedAt = time.Now()
	return nil
}

// MarkTaskCompleted atomically transitions the task to its terminal state
// and returns the ids of previously blocked tasks that became ready
// because this was their last unsatisfied predecessor.
func (c *Constellation) MarkTaskCompleted(id string, success bool, result map[string]any, errMsg string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrTaskTerminal, id, t.Status)
	}

	before := c.readyIDsLocked()

	if success {
		t.Status = types.TaskCompleted
		t.Result = result
	} else {
		t.Status = types.TaskFailed
		t.Error = errMsg
	}
	t.FinishedAt = time.Now()
	c.refreshWaitingLocked()

	after := c.readyIDsLocked()
	var newlyReady []string
	for taskID := range after {
		if _, was := before[taskID]; !was {
			newlyReady = append(newlyReady, taskID)
		}
	}
	return newlyReady, nil
}

// MarkTaskCancelled transitions a non-terminal task to CANCELLED.
func (c *Constellation) MarkTaskCancelled(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTaskTerminal, id, t.Status)
	}
	t.Status = types.TaskCancelled
	t.FinishedAt = time.Now()
	return nil
}

// ReadyTasks returns copies of every task whose inbound edges are all
// satisfied and whose status is PENDING or WAITING_DEPENDENCY.
func (c *Constellation) ReadyTasks() []*Task {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var ready []*Task
	for _, t := range c.tasks {
		if c.taskReadyLocked(t) {
			ready = append(ready, t.Clone())
		}
	}
	return ready
}

// IsComplete reports whether the execution loop has nothing left to do:
// the ready set is empty and no task is running.
func (c *Constellation) IsComplete() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, t := range c.tasks {
		if t.Status == types.TaskRunning {
			return false
		}
		if c.taskReadyLocked(t) {
			return false
		}
	}
	return true
}

// FinalState derives the terminal constellation state once IsComplete
// holds. A failed task only fails the constellation when it blocks a
// non-terminal dependent.
func (c *Constellation) FinalState() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.tasks) == 0 {
		return StateCompleted
	}

	completed := 0
	for _, t := range c.tasks {
		if t.Status == types.TaskCompleted {
			completed++
		}
		if !t.Status.Terminal() {
			// Blocked forever behind a predecessor that can no longer
			// satisfy its edge.
			return StateFailed
		}
	}
	if completed == 0 {
		return StateFailed
	}
	return StateCompleted
}

// Statistics returns per-status task counts.
func (c *Constellation) Statistics() Statistics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Statistics{Total: len(c.tasks)}
	for _, t := range c.tasks {
		switch t.Status {
		case types.TaskPending:
			stats.Pending++
		case types.TaskWaitingDependency:
			stats.Waiting++
		case types.TaskRunning:
			stats.Running++
		case types.TaskCompleted:
			stats.Completed++
		case types.TaskFailed:
			stats.Failed++
		case types.TaskCancelled:
			stats.Cancelled++
		}
	}
	return stats
}

// TopologicalOrder returns task ids in dependency order. Used for
// debugging and rendering only; the scheduler works off the ready set.
func (c *Constellation) TopologicalOrder() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topologicalOrderLocked()
}

// Clone returns a deep copy of the constellation, including runtime state.
func (c *Constellation) Clone() *Constellation {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cp := &Constellation{
		ID:        c.ID,
		Name:      c.Name,
		CreatedAt: c.CreatedAt,
		state:     c.state,
		tasks:     make(map[string]*Task, len(c.tasks)),
		deps:      make(map[string]*Dependency, len(c.deps)),
	}
	if c.Metadata != nil {
		cp.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	for id, t := range c.tasks {
		cp.tasks[id] = t.Clone()
	}
	for id, d := range c.deps {
		cp.deps[id] = d.Clone()
	}
	return cp
}

// AdoptRuntime copies orchestrator-owned runtime fields (status, result,
// error, execution timestamps) from the local view into this structural
// view, for every task present in both, keeping whichever status is more
// advanced. This is the single point where the planner's and the
// orchestrator's views of the same task meet.
func (c *Constellation) AdoptRuntime(local *Constellation) {
	if local == nil {
		return
	}
	localTasks := local.Tasks()

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, lt := range localTasks {
		t, ok := c.tasks[lt.ID]
		if !ok {
			continue
		}
		if lt.Status.Advancement() > t.Status.Advancement() {
			t.Status = lt.Status
			t.Result = lt.Result
			t.Error = lt.Error
			t.StartedAt = lt.StartedAt
			t.FinishedAt = lt.FinishedAt
		}
	}
	c.refreshWaitingLocked()
}

// taskReadyLocked reports whether the task may be dispatched now.
func (c *Constellation) taskReadyLocked(t *Task) bool {
	if t.Status != types.TaskPending && t.Status != types.TaskWaitingDependency {
		return false
	}
	for _, d := range c.deps {
		if d.ToID != t.ID {
			continue
		}
		if !c.edgeSatisfiedLocked(d) {
			return false
		}
	}
	return true
}

func (c *Constellation) readyIDsLocked() map[string]struct{} {
	ready := make(map[string]struct{})
	for id, t := range c.tasks {
		if c.taskReadyLocked(t) {
			ready[id] = struct{}{}
		}
	}
	return ready
}

// edgeSatisfiedLocked reports whether the from-task reached a terminal
// state compatible with the edge kind.
func (c *Constellation) edgeSatisfiedLocked(d *Dependency) bool {
	from, ok := c.tasks[d.FromID]
	if !ok {
		return false
	}
	switch d.Kind {
	case types.DependencyUnconditional:
		return from.Status.Terminal()
	case types.DependencyConditionKeyword:
		if !from.Status.Terminal() {
			return false
		}
		return resultContainsKeyword(from, d.TriggerKeyword)
	default: // success_only
		return from.Status == types.TaskCompleted
	}
}

// resultContainsKeyword scans the from-task's result values and error text
// for the trigger keyword.
func resultContainsKeyword(t *Task, keyword string) bool {
	if keyword == "" {
		return true
	}
	for _, v := range t.Result {
		if s, ok := v.(string); ok && strings.Contains(s, keyword) {
			return true
		}
	}
	return strings.Contains(t.Error, keyword)
}

// refreshWaitingLocked recomputes PENDING/WAITING_DEPENDENCY for every
// non-terminal, non-running task after a structural or terminal change.
func (c *Constellation) refreshWaitingLocked() {
	for _, t := range c.tasks {
		if t.Status != types.TaskPending && t.Status != types.TaskWaitingDependency {
			continue
		}
		blocked := false
		for _, d := range c.deps {
			if d.ToID == t.ID && !c.edgeSatisfiedLocked(d) {
				blocked = true
				break
			}
		}
		if blocked {
			t.Status = types.TaskWaitingDependency
		} else {
			t.Status = types.TaskPending
		}
	}
}

// wouldCreateCycleLocked checks whether adding from -> to closes a path
// back from to to from.
func (c *Constellation) wouldCreateCycleLocked(fromID, toID string) bool {
	visited := make(map[string]bool)
	var visit func(id string) bool
	visit = func(id string) bool {
		if id == fromID {
			return true
		}
		if visited[id] {
			return false
		}
		visited[id] = true
		for _, d := range c.deps {
			if d.FromID == id && visit(d.ToID) {
				return true
			}
		}
		return false
	}
	return visit(toID)
}

// topologicalOrderLocked runs Kahn's algorithm over the current edges.
func (c *Constellation) topologicalOrderLocked() ([]string, error) {
	inDegree := make(map[string]int, len(c.tasks))
	for id := range c.tasks {
		inDegree[id] = 0
	}
	for _, d := range c.deps {
		if _, ok := c.tasks[d.ToID]; ok {
			inDegree[d.ToID]++
		}
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(c.tasks))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, d := range c.deps {
			if d.FromID != id {
				continue
			}
			inDegree[d.ToID]--
			if inDegree[d.ToID] == 0 {
				queue = append(queue, d.ToID)
			}
		}
	}

	if len(order) != len(c.tasks) {
		return nil, ErrCycleDetected
	}
	return order, nil
}
