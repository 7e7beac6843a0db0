package events

import (
	"time"

	"github.com/galaxyhq/galaxy/pkg/constellation"
	"github.com/galaxyhq/galaxy/pkg/types"
)

// Kind represents the type of event
type Kind string

const (
	TaskStarted   Kind = "task.started"
	TaskCompleted Kind = "task.completed"
	TaskFailed    Kind = "task.failed"
	TaskProgress  Kind = "task.progress"

	ConstellationStarted   Kind = "constellation.started"
	ConstellationModified  Kind = "constellation.modified"
	ConstellationCompleted Kind = "constellation.completed"
	ConstellationFailed    Kind = "constellation.failed"
	ConstellationCancelled Kind = "constellation.cancelled"

	DeviceConnected     Kind = "device.connected"
	DeviceDisconnected  Kind = "device.disconnected"
	DeviceStatusChanged Kind = "device.status_changed"

	AgentMessage Kind = "agent.message"
)

// Event is the sum type delivered over the bus. Events are immutable once
// published.
type Event interface {
	EventKind() Kind
	SourceID() string
	OccurredAt() time.Time
	Attributes() map[string]string
}

// Base carries the fields shared by every event variant
type Base struct {
	Kind      Kind
	Source    string
	Timestamp time.Time
	Attrs     map[string]string
}

// NewBase builds the shared envelope with the current wall-clock time.
func NewBase(kind Kind, source string) Base {
	return Base{
		Kind:      kind,
		Source:    source,
		Timestamp: time.Now(),
	}
}

func (b Base) EventKind() Kind               { return b.Kind }
func (b Base) SourceID() string              { return b.Source }
func (b Base) OccurredAt() time.Time         { return b.Timestamp }
func (b Base) Attributes() map[string]string { return b.Attrs }

// TaskEvent reports a task lifecycle transition
type TaskEvent struct {
	Base
	TaskID string
	Status types.TaskStatus
	Result map[string]any
	Error  string

	// NewlyReady lists tasks unblocked by this completion, so the planner
	// and observers see the same ready-set delta the orchestrator computed.
	NewlyReady []string

	// Constellation is the instance the task belongs to at publish time.
	Constellation *constellation.Constellation
}

// NewTaskEvent builds a task event envelope.
func NewTaskEvent(kind Kind, source, taskID string, status types.TaskStatus) *TaskEvent {
	return &TaskEvent{
		Base:   NewBase(kind, source),
		TaskID: taskID,
		Status: status,
	}
}

// ConstellationEvent reports a constellation lifecycle transition or edit
type ConstellationEvent struct {
	Base
	ConstellationID string
	State           constellation.State

	// NewlyReady lists task ids that became ready, when applicable.
	NewlyReady []string

	// Old and New carry before/after references for CONSTELLATION_MODIFIED.
	Old *constellation.Constellation
	New *constellation.Constellation

	// OnTaskIDs lists the completed task ids a modification responds to.
	OnTaskIDs []string

	// ModificationType tags the planner's edit (planner-defined).
	ModificationType string

	// Stats carries final statistics on terminal events.
	Stats constellation.Statistics

	// Duration is the wall-clock execution time on terminal events.
	Duration time.Duration
}

// NewConstellationEvent builds a constellation event envelope.
func NewConstellationEvent(kind Kind, source, constellationID string, state constellation.State) *ConstellationEvent {
	return &ConstellationEvent{
		Base:            NewBase(kind, source),
		ConstellationID: constellationID,
		State:           state,
	}
}

// DeviceEvent reports a device lifecycle transition. Snapshot is the full
// device registry view at event time.
type DeviceEvent struct {
	Base
	DeviceID string
	Status   types.DeviceStatus
	Snapshot []*types.Device
}

// NewDeviceEvent builds a device event envelope.
func NewDeviceEvent(kind Kind, source, deviceID string, status types.DeviceStatus, snapshot []*types.Device) *DeviceEvent {
	return &DeviceEvent{
		Base:     NewBase(kind, source),
		DeviceID: deviceID,
		Status:   status,
		Snapshot: snapshot,
	}
}

// AgentEvent reports planner-agent activity for observers
type AgentEvent struct {
	Base
	AgentID string
	Message string
}

// NewAgentEvent builds an agent event envelope.
func NewAgentEvent(source, agentID, message string) *AgentEvent {
	return &AgentEvent{
		Base:    NewBase(AgentMessage, source),
		AgentID: agentID,
		Message: message,
	}
}
