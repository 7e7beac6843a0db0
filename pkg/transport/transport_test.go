package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galaxyhq/galaxy/pkg/protocol"
	"github.com/galaxyhq/galaxy/pkg/types"
)

// deviceBehaviour scripts the simulated agent on the other end of the
// stream. The zero value acks everything and completes every task.
type deviceBehaviour struct {
	rejectRegistration bool
	silentOnTask       bool // accept the task but never answer
	dropOnTask         bool // close the socket when a task arrives
	progressOnTask     bool // push a progress frame before the result
	taskResult         func(req *protocol.Message) *protocol.Message
}

func startDevice(t *testing.T, b deviceBehaviour) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg protocol.Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			switch msg.Type {
			case protocol.TypeRegister:
				accepted := !b.rejectRegistration
				_ = conn.WriteJSON(&protocol.Message{
					Type:          protocol.TypeRegisterAck,
					CorrelationID: msg.CorrelationID,
					Accepted:      &accepted,
				})
			case protocol.TypeDeviceInfoRequest:
				_ = conn.WriteJSON(&protocol.Message{
					Type:          protocol.TypeDeviceInfo,
					CorrelationID: msg.CorrelationID,
					OS:            "linux",
					Capabilities:  []string{"gpu"},
				})
			case protocol.TypeHeartbeat:
				_ = conn.WriteJSON(&protocol.Message{
					Type:     protocol.TypeHeartbeatAck,
					Sequence: msg.Sequence,
				})
			case protocol.TypeTaskRequest:
				if b.dropOnTask {
					return
				}
				if b.silentOnTask {
					continue
				}
				if b.progressOnTask {
					_ = conn.WriteJSON(&protocol.Message{
						Type:     protocol.TypeTaskProgress,
						TaskID:   msg.TaskID,
						Progress: map[string]any{"percent": 50.0},
					})
				}
				reply := &protocol.Message{
					Type:   protocol.TypeTaskResult,
					TaskID: msg.TaskID,
					Status: string(types.TaskCompleted),
					Result: map[string]any{"ok": true},
				}
				if b.taskResult != nil {
					reply = b.taskResult(&msg)
				}
				_ = conn.WriteJSON(reply)
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// pushRecorder collects server-push messages by type.
type pushRecorder struct {
	mu   sync.Mutex
	msgs []*protocol.Message
}

func (p *pushRecorder) handle(_ string, msg *protocol.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
}

func (p *pushRecorder) byType(typ protocol.MessageType) *protocol.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.msgs {
		if m.Type == typ {
			return m
		}
	}
	return nil
}

func TestConnectHandshakeAndGracefulDisconnect(t *testing.T) {
	url := startDevice(t, deviceBehaviour{})

	pushes := &pushRecorder{}
	disconnected := make(chan error, 1)
	c := NewClient("d1", url, Config{
		SessionID:    "session-1",
		OnPush:       pushes.handle,
		OnDisconnect: func(_ string, err error) { disconnected <- err },
	})

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.IsConnected())

	info := pushes.byType(protocol.TypeDeviceInfo)
	require.NotNil(t, info, "device info should be pushed on connect")
	assert.Equal(t, "linux", info.OS)
	assert.Equal(t, []string{"gpu"}, info.Capabilities)

	c.Disconnect()
	select {
	case err := <-disconnected:
		assert.NoError(t, err, "intentional disconnect carries no error")
	case <-time.After(time.Second):
		t.Fatal("disconnect callback never fired")
	}
	assert.False(t, c.IsConnected())
}

func TestConnectIsIdempotent(t *testing.T) {
	url := startDevice(t, deviceBehaviour{})
	c := NewClient("d1", url, Config{SessionID: "session-1"})

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))
	c.Disconnect()
}

func TestRegistrationRejected(t *testing.T) {
	url := startDevice(t, deviceBehaviour{rejectRegistration: true})
	c := NewClient("d1", url, Config{SessionID: "session-1"})

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrRegistrationRejected)
	assert.False(t, c.IsConnected())
}

func TestSendTaskSuccess(t *testing.T) {
	url := startDevice(t, deviceBehaviour{progressOnTask: true})
	pushes := &pushRecorder{}
	c := NewClient("d1", url, Config{SessionID: "session-1", OnPush: pushes.handle})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	res := c.SendTask(context.Background(), &types.TaskRequest{TaskID: "t1", Name: "build"})
	require.NotNil(t, res)
	assert.True(t, res.Succeeded())
	assert.Equal(t, "t1", res.TaskID)
	assert.Equal(t, "d1", res.DeviceID)
	assert.Equal(t, true, res.Result["ok"])

	progress := pushes.byType(protocol.TypeTaskProgress)
	require.NotNil(t, progress, "progress frames route to the push handler")
	assert.Equal(t, "t1", progress.TaskID)
}

func TestSendTaskDeviceReportsFailure(t *testing.T) {
	url := startDevice(t, deviceBehaviour{
		taskResult: func(req *protocol.Message) *protocol.Message {
			return &protocol.Message{
				Type:   protocol.TypeTaskResult,
				TaskID: req.TaskID,
				Status: string(types.TaskFailed),
				Error:  "command exited 1",
			}
		},
	})
	c := NewClient("d1", url, Config{SessionID: "session-1"})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	res := c.SendTask(context.Background(), &types.TaskRequest{TaskID: "t1"})
	assert.Equal(t, types.TaskFailed, res.Status)
	assert.Equal(t, types.ErrorCategoryExecution, res.Category)
	assert.Equal(t, "command exited 1", res.Error)
	assert.False(t, res.Disconnected)
}

func TestSendTaskTimesOut(t *testing.T) {
	url := startDevice(t, deviceBehaviour{silentOnTask: true})
	c := NewClient("d1", url, Config{SessionID: "session-1"})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	res := c.SendTask(context.Background(), &types.TaskRequest{
		TaskID:  "t1",
		Timeout: 50 * time.Millisecond,
	})
	assert.Equal(t, types.TaskFailed, res.Status)
	assert.Equal(t, types.ErrorCategoryTimeout, res.Category)
	assert.Contains(t, res.Error, "timed out")
}

func TestSendTaskDisconnectMidTask(t *testing.T) {
	url := startDevice(t, deviceBehaviour{dropOnTask: true})
	disconnected := make(chan error, 1)
	c := NewClient("d1", url, Config{
		SessionID:    "session-1",
		OnDisconnect: func(_ string, err error) { disconnected <- err },
	})
	require.NoError(t, c.Connect(context.Background()))

	res := c.SendTask(context.Background(), &types.TaskRequest{TaskID: "t1"})
	assert.Equal(t, types.TaskFailed, res.Status)
	assert.Equal(t, types.ErrorCategoryConnection, res.Category)
	assert.True(t, res.Disconnected)

	select {
	case err := <-disconnected:
		assert.Error(t, err, "unexpected loss carries the read error")
	case <-time.After(time.Second):
		t.Fatal("disconnect callback never fired")
	}
}

func TestSendTaskContextCancelled(t *testing.T) {
	url := startDevice(t, deviceBehaviour{silentOnTask: true})
	c := NewClient("d1", url, Config{SessionID: "session-1"})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := c.SendTask(ctx, &types.TaskRequest{TaskID: "t1"})
	assert.Equal(t, types.TaskCancelled, res.Status)
}

func TestSendTaskWithoutConnect(t *testing.T) {
	c := NewClient("d1", "ws://localhost:1/ws", Config{SessionID: "session-1"})

	res := c.SendTask(context.Background(), &types.TaskRequest{TaskID: "t1"})
	assert.Equal(t, types.ErrorCategoryConnection, res.Category)
	assert.Contains(t, res.Error, "not connected")
}

func TestHeartbeat(t *testing.T) {
	url := startDevice(t, deviceBehaviour{})
	c := NewClient("d1", url, Config{SessionID: "session-1"})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	require.NoError(t, c.Heartbeat(context.Background(), time.Second))
	require.NoError(t, c.Heartbeat(context.Background(), time.Second))
}

func TestAbortFailsOutstandingRequests(t *testing.T) {
	url := startDevice(t, deviceBehaviour{silentOnTask: true})
	disconnected := make(chan error, 1)
	c := NewClient("d1", url, Config{
		SessionID:    "session-1",
		OnDisconnect: func(_ string, err error) { disconnected <- err },
	})
	require.NoError(t, c.Connect(context.Background()))

	done := make(chan *types.ExecutionResult, 1)
	go func() {
		done <- c.SendTask(context.Background(), &types.TaskRequest{TaskID: "t1"})
	}()

	time.Sleep(50 * time.Millisecond)
	c.Abort(assert.AnError)

	select {
	case res := <-done:
		assert.Equal(t, types.ErrorCategoryConnection, res.Category)
		assert.True(t, res.Disconnected)
	case <-time.After(time.Second):
		t.Fatal("aborted task never resolved")
	}

	select {
	case err := <-disconnected:
		assert.ErrorIs(t, err, assert.AnError)
	case <-time.After(time.Second):
		t.Fatal("disconnect callback never fired")
	}
}
