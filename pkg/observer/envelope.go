package observer

import (
	"encoding/json"
	"time"

	"github.com/galaxyhq/galaxy/pkg/events"
	"github.com/galaxyhq/galaxy/pkg/types"
)

// Envelope is the stable JSON schema events take when they leave the
// process: the shared {kind, source_id, timestamp} header plus the
// variant fields of the event in question.
type Envelope struct {
	Kind       string            `json:"kind"`
	SourceID   string            `json:"source_id"`
	Timestamp  time.Time         `json:"timestamp"`
	Attributes map[string]string `json:"attributes,omitempty"`

	// Task variant
	TaskID     string         `json:"task_id,omitempty"`
	TaskStatus string         `json:"task_status,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	NewlyReady []string       `json:"newly_ready,omitempty"`

	// Constellation variant
	ConstellationID  string     `json:"constellation_id,omitempty"`
	State            string     `json:"state,omitempty"`
	OnTaskIDs        []string   `json:"on_task_ids,omitempty"`
	ModificationType string     `json:"modification_type,omitempty"`
	Stats            *StatsView `json:"stats,omitempty"`
	DurationMS       int64      `json:"duration_ms,omitempty"`

	// Device variant
	DeviceID     string        `json:"device_id,omitempty"`
	DeviceStatus string        `json:"device_status,omitempty"`
	Devices      []*DeviceView `json:"devices,omitempty"`

	// Agent variant
	AgentID string `json:"agent_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// StatsView mirrors constellation.Statistics for the wire.
type StatsView struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Waiting   int `json:"waiting"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// DeviceView is the registry snapshot entry exposed to external
// consumers.
type DeviceView struct {
	DeviceID      string            `json:"device_id"`
	URL           string            `json:"url"`
	OS            string            `json:"os,omitempty"`
	Capabilities  []string          `json:"capabilities,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Status        string            `json:"status"`
	CurrentTaskID string            `json:"current_task_id,omitempty"`
	LastHeartbeat time.Time         `json:"last_heartbeat,omitzero"`
}

func deviceView(d *types.Device) *DeviceView {
	return &DeviceView{
		DeviceID:      d.ID,
		URL:           d.URL,
		OS:            d.OS,
		Capabilities:  d.Capabilities,
		Metadata:      d.Metadata,
		Status:        string(d.Status),
		CurrentTaskID: d.CurrentTaskID,
		LastHeartbeat: d.LastHeartbeat,
	}
}

// Encode serialises an event into its boundary envelope.
func Encode(ev events.Event) ([]byte, error) {
	env := Envelope{
		Kind:       string(ev.EventKind()),
		SourceID:   ev.SourceID(),
		Timestamp:  ev.OccurredAt(),
		Attributes: ev.Attributes(),
	}

	switch e := ev.(type) {
	case *events.TaskEvent:
		env.TaskID = e.TaskID
		env.TaskStatus = string(e.Status)
		env.Result = e.Result
		env.Error = e.Error
		env.NewlyReady = e.NewlyReady
		if e.Constellation != nil {
			env.ConstellationID = e.Constellation.ID
		}
	case *events.ConstellationEvent:
		env.ConstellationID = e.ConstellationID
		env.State = string(e.State)
		env.NewlyReady = e.NewlyReady
		env.OnTaskIDs = e.OnTaskIDs
		env.ModificationType = e.ModificationType
		env.DurationMS = e.Duration.Milliseconds()
		if e.Stats.Total > 0 || e.EventKind() == events.ConstellationCompleted ||
			e.EventKind() == events.ConstellationFailed || e.EventKind() == events.ConstellationCancelled {
			env.Stats = &StatsView{
				Total:     e.Stats.Total,
				Pending:   e.Stats.Pending,
				Waiting:   e.Stats.Waiting,
				Running:   e.Stats.Running,
				Completed: e.Stats.Completed,
				Failed:    e.Stats.Failed,
				Cancelled: e.Stats.Cancelled,
			}
		}
	case *events.DeviceEvent:
		env.DeviceID = e.DeviceID
		env.DeviceStatus = string(e.Status)
		for _, d := range e.Snapshot {
			env.Devices = append(env.Devices, deviceView(d))
		}
	case *events.AgentEvent:
		env.AgentID = e.AgentID
		env.Message = e.Message
	}

	return json.Marshal(env)
}
