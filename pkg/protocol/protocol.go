package protocol

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies one wire message kind
type MessageType string

const (
	// Orchestrator -> device
	TypeRegister          MessageType = "register"
	TypeDeviceInfoRequest MessageType = "device_info_request"
	TypeHeartbeat         MessageType = "heartbeat"
	TypeTaskRequest       MessageType = "task_request"

	// Device -> orchestrator
	TypeRegisterAck  MessageType = "register_ack"
	TypeDeviceInfo   MessageType = "device_info"
	TypeHeartbeatAck MessageType = "heartbeat_ack"
	TypeTaskResult   MessageType = "task_result"
	TypeTaskProgress MessageType = "task_progress"
)

// GenerateMessageID generates a unique correlation id
func GenerateMessageID() string {
	return uuid.New().String()
}

// Message is the JSON envelope exchanged on a device stream. Fields are
// populated per message type; the underlying WebSocket frames the stream,
// no length prefix is defined here.
type Message struct {
	Type MessageType `json:"type"`

	// CorrelationID carries the synthetic correlation id for register and
	// device-info exchanges.
	CorrelationID string `json:"correlationId,omitempty"`

	// SessionID identifies the orchestrator session (register).
	SessionID string `json:"sessionId,omitempty"`

	// Accepted reports registration outcome (register_ack).
	Accepted *bool `json:"accepted,omitempty"`

	// Sequence correlates heartbeat with heartbeat_ack.
	Sequence int64 `json:"sequence,omitempty"`

	Timestamp time.Time `json:"timestamp,omitempty"`

	// TaskID correlates task_request with task_result and task_progress.
	TaskID         string         `json:"taskId,omitempty"`
	Name           string         `json:"name,omitempty"`
	Description    string         `json:"description,omitempty"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	TimeoutSeconds float64        `json:"timeoutSeconds,omitempty"`

	// Task result fields
	Status   string            `json:"status,omitempty"`
	Result   map[string]any    `json:"result,omitempty"`
	Error    string            `json:"error,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// Device info fields
	OS           string   `json:"os,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`

	// Progress payload (task_progress), opaque to the orchestrator
	Progress map[string]any `json:"progress,omitempty"`
}

// CorrelationKey returns the key a reply is matched on: task id for task
// messages, sequence for heartbeats, the synthetic correlation id for
// everything else.
func (m *Message) CorrelationKey() string {
	switch m.Type {
	case TypeTaskRequest, TypeTaskResult:
		return "task:" + m.TaskID
	case TypeHeartbeat, TypeHeartbeatAck:
		return fmt.Sprintf("hb:%d", m.Sequence)
	default:
		return m.CorrelationID
	}
}

// IsReply reports whether the message kind answers an outstanding request.
func (m *Message) IsReply() bool {
	switch m.Type {
	case TypeRegisterAck, TypeDeviceInfo, TypeHeartbeatAck, TypeTaskResult:
		return true
	}
	return false
}

// NewRegister builds the registration message opening a session.
func NewRegister(sessionID string) *Message {
	return &Message{
		Type:          TypeRegister,
		CorrelationID: GenerateMessageID(),
		SessionID:     sessionID,
		Timestamp:     time.Now(),
	}
}

// NewDeviceInfoRequest builds a device-info request.
func NewDeviceInfoRequest() *Message {
	return &Message{
		Type:          TypeDeviceInfoRequest,
		CorrelationID: GenerateMessageID(),
		Timestamp:     time.Now(),
	}
}

// NewHeartbeat builds a liveness ping with the given sequence.
func NewHeartbeat(seq int64) *Message {
	return &Message{
		Type:      TypeHeartbeat,
		Sequence:  seq,
		Timestamp: time.Now(),
	}
}

// NewTaskRequest builds a task dispatch message.
func NewTaskRequest(taskID, name, description string, parameters map[string]any, timeout time.Duration) *Message {
	return &Message{
		Type:           TypeTaskRequest,
		TaskID:         taskID,
		Name:           name,
		Description:    description,
		Parameters:     parameters,
		TimeoutSeconds: timeout.Seconds(),
		Timestamp:      time.Now(),
	}
}
