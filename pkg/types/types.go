package types

import (
	"time"
)

// Device represents a remote agent device reachable over a bidirectional
// message stream.
type Device struct {
	ID                string
	URL               string // Transport endpoint (ws:// or wss://)
	OS                string
	Capabilities      []string
	Metadata          map[string]string
	Status            DeviceStatus
	LastHeartbeat     time.Time
	ConnectAttempts   int // Initial-connection attempts
	ReconnectAttempts int // Reconnect-worker attempts (separate counter)
	MaxRetries        int
	CurrentTaskID     string // Non-empty iff Status == DeviceBusy
	RegisteredAt      time.Time
}

// Clone returns a deep copy of the device, safe to hand to observers.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Capabilities = append([]string(nil), d.Capabilities...)
	if d.Metadata != nil {
		cp.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// HasCapabilities reports whether the device declares every required tag.
func (d *Device) HasCapabilities(required []string) bool {
	if len(required) == 0 {
		return true
	}
	declared := make(map[string]struct{}, len(d.Capabilities))
	for _, c := range d.Capabilities {
		declared[c] = struct{}{}
	}
	for _, r := range required {
		if _, ok := declared[r]; !ok {
			return false
		}
	}
	return true
}

// DeviceStatus represents the lifecycle state of a device
type DeviceStatus string

const (
	DeviceRegistered   DeviceStatus = "registered"
	DeviceConnecting   DeviceStatus = "connecting"
	DeviceConnected    DeviceStatus = "connected"
	DeviceIdle         DeviceStatus = "idle"
	DeviceBusy         DeviceStatus = "busy"
	DeviceDisconnected DeviceStatus = "disconnected"
	DeviceFailed       DeviceStatus = "failed"
)

// Online reports whether the device can currently receive tasks.
func (s DeviceStatus) Online() bool {
	return s == DeviceConnected || s == DeviceIdle || s == DeviceBusy
}

// TaskStatus represents the state of a constellation task
type TaskStatus string

const (
	TaskPending           TaskStatus = "pending"
	TaskWaitingDependency TaskStatus = "waiting_dependency"
	TaskRunning           TaskStatus = "running"
	TaskCompleted         TaskStatus = "completed"
	TaskFailed            TaskStatus = "failed"
	TaskCancelled         TaskStatus = "cancelled"
)

// Terminal reports whether the status is absorbing within a constellation
// instance.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// Advancement returns the position of the status in the advancement order
// used when merging two views of the same task:
// PENDING < WAITING_DEPENDENCY < RUNNING < terminal.
func (s TaskStatus) Advancement() int {
	switch s {
	case TaskPending:
		return 0
	case TaskWaitingDependency:
		return 1
	case TaskRunning:
		return 2
	case TaskCompleted, TaskFailed, TaskCancelled:
		return 3
	}
	return -1
}

// Priority represents task scheduling priority
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// DependencyKind defines when a dependency edge is considered satisfied
type DependencyKind string

const (
	// DependencySuccessOnly is satisfied only when the from-task completed.
	DependencySuccessOnly DependencyKind = "success_only"

	// DependencyUnconditional is satisfied by any terminal from-task state.
	DependencyUnconditional DependencyKind = "unconditional"

	// DependencyConditionKeyword is satisfied when the from-task completed
	// and its result contains the trigger keyword.
	DependencyConditionKeyword DependencyKind = "condition_with_keyword"
)

// ErrorCategory classifies a failed execution result
type ErrorCategory string

const (
	ErrorCategoryConnection ErrorCategory = "connection_error"
	ErrorCategoryTimeout    ErrorCategory = "timeout_error"
	ErrorCategoryExecution  ErrorCategory = "execution_error"
	ErrorCategoryGeneral    ErrorCategory = "general_error"
)

// TaskRequest is the payload dispatched to a device for one task
type TaskRequest struct {
	TaskID      string
	Name        string
	Description string
	Parameters  map[string]any
	Timeout     time.Duration
}

// ExecutionResult is the terminal outcome of one dispatched task. It is
// always returned as a value, never raised across the transport boundary.
type ExecutionResult struct {
	TaskID       string
	Status       TaskStatus
	Result       map[string]any
	Error        string
	DeviceID     string
	Disconnected bool
	Category     ErrorCategory
}

// Succeeded reports whether the task reached COMPLETED.
func (r *ExecutionResult) Succeeded() bool {
	return r.Status == TaskCompleted
}

// SuccessResult builds a COMPLETED execution result.
func SuccessResult(taskID, deviceID string, result map[string]any) *ExecutionResult {
	return &ExecutionResult{
		TaskID:   taskID,
		Status:   TaskCompleted,
		Result:   result,
		DeviceID: deviceID,
	}
}

// FailureResult builds a FAILED execution result with the given category.
func FailureResult(taskID, deviceID string, category ErrorCategory, errMsg string) *ExecutionResult {
	return &ExecutionResult{
		TaskID:   taskID,
		Status:   TaskFailed,
		Error:    errMsg,
		DeviceID: deviceID,
		Category: category,
	}
}

// ConnectionFailure builds a FAILED result caused by transport loss.
func ConnectionFailure(taskID, deviceID, errMsg string) *ExecutionResult {
	r := FailureResult(taskID, deviceID, ErrorCategoryConnection, errMsg)
	r.Disconnected = true
	return r
}

// TimeoutFailure builds a FAILED result caused by a request timeout.
func TimeoutFailure(taskID, deviceID, errMsg string) *ExecutionResult {
	return FailureResult(taskID, deviceID, ErrorCategoryTimeout, errMsg)
}

// CancelledResult builds a CANCELLED execution result.
func CancelledResult(taskID, deviceID string) *ExecutionResult {
	return &ExecutionResult{
		TaskID:   taskID,
		Status:   TaskCancelled,
		DeviceID: deviceID,
	}
}
