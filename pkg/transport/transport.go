package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/galaxyhq/galaxy/pkg/log"
	"github.com/galaxyhq/galaxy/pkg/protocol"
	"github.com/galaxyhq/galaxy/pkg/types"
)

var (
	// ErrNotConnected is returned when no stream is established.
	ErrNotConnected = errors.New("device not connected")

	// ErrRequestTimeout is returned when a correlated reply does not
	// arrive in time.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrRegistrationRejected is returned when the device refuses the
	// session during the connect handshake.
	ErrRegistrationRejected = errors.New("device rejected registration")
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultRequestTimeout   = 30 * time.Second
	defaultTaskTimeout      = 10 * time.Minute
)

// PushHandler receives peer-initiated messages: device info pushes, task
// progress, anything the reader loop cannot correlate.
type PushHandler func(deviceID string, msg *protocol.Message)

// DisconnectHandler is invoked exactly once when the reader loop
// terminates. err is nil for an intentional Disconnect.
type DisconnectHandler func(deviceID string, err error)

// Config holds transport tunables. Zero values take defaults.
type Config struct {
	SessionID        string
	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration // Register and device-info exchanges
	TaskTimeout      time.Duration // Default per-task deadline
	OnPush           PushHandler
	OnDisconnect     DisconnectHandler
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.HandshakeTimeout == 0 {
		out.HandshakeTimeout = defaultHandshakeTimeout
	}
	if out.RequestTimeout == 0 {
		out.RequestTimeout = defaultRequestTimeout
	}
	if out.TaskTimeout == 0 {
		out.TaskTimeout = defaultTaskTimeout
	}
	return out
}

// Client owns one WebSocket stream to one device. A single reader
// goroutine correlates replies to outstanding requests; writes are
// serialized by a write lock.
type Client struct {
	deviceID string
	url      string
	cfg      Config
	logger   zerolog.Logger

	mu      sync.Mutex // guards conn, pending, closing
	conn    *websocket.Conn
	pending map[string]chan *protocol.Message
	closing bool

	writeMu      sync.Mutex
	connected    atomic.Bool
	heartbeatSeq atomic.Int64
}

// NewClient creates a transport client for one device. Connect must be
// called before any request.
func NewClient(deviceID, url string, cfg Config) *Client {
	return &Client{
		deviceID: deviceID,
		url:      url,
		cfg:      cfg.withDefaults(),
		pending:  make(map[string]chan *protocol.Message),
		logger:   log.WithComponent("transport").With().Str("device_id", deviceID).Logger(),
	}
}

// Connect dials the device, starts the reader loop before sending the
// registration message (so the server's first reply cannot be lost),
// requests device info, and returns once the device is ready to receive
// tasks.
func (c *Client) Connect(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.closing = false
	c.mu.Unlock()
	c.connected.Store(true)

	// Reader first, handshake second.
	go c.readLoop(conn)

	ack, err := c.request(ctx, protocol.NewRegister(c.cfg.SessionID), c.cfg.RequestTimeout)
	if err != nil {
		c.teardown(fmt.Errorf("registration: %w", err))
		return fmt.Errorf("registration: %w", err)
	}
	if ack.Accepted != nil && !*ack.Accepted {
		c.teardown(ErrRegistrationRejected)
		return ErrRegistrationRejected
	}

	info, err := c.request(ctx, protocol.NewDeviceInfoRequest(), c.cfg.RequestTimeout)
	if err != nil {
		c.teardown(fmt.Errorf("device info: %w", err))
		return fmt.Errorf("device info: %w", err)
	}
	if c.cfg.OnPush != nil {
		c.cfg.OnPush(c.deviceID, info)
	}

	c.logger.Info().Str("url", c.url).Msg("device connected")
	return nil
}

// SendTask dispatches a task and blocks until the device returns a
// terminal status or the transport fails. Failures never propagate as
// errors: they become FAILED ExecutionResults with the appropriate
// category.
func (c *Client) SendTask(ctx context.Context, req *types.TaskRequest) *types.ExecutionResult {
	if !c.connected.Load() {
		return types.ConnectionFailure(req.TaskID, c.deviceID, ErrNotConnected.Error())
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = c.cfg.TaskTimeout
	}

	msg := protocol.NewTaskRequest(req.TaskID, req.Name, req.Description, req.Parameters, timeout)
	reply, err := c.request(ctx, msg, timeout)
	if err != nil {
		switch {
		case errors.Is(err, ErrRequestTimeout):
			return types.TimeoutFailure(req.TaskID, c.deviceID, fmt.Sprintf("task %s timed out after %s", req.TaskID, timeout))
		case errors.Is(err, context.Canceled):
			return types.CancelledResult(req.TaskID, c.deviceID)
		default:
			return types.ConnectionFailure(req.TaskID, c.deviceID, err.Error())
		}
	}

	return resultFromReply(c.deviceID, req.TaskID, reply)
}

// Heartbeat sends a liveness ping and waits for its ack.
func (c *Client) Heartbeat(ctx context.Context, timeout time.Duration) error {
	seq := c.heartbeatSeq.Add(1)
	_, err := c.request(ctx, protocol.NewHeartbeat(seq), timeout)
	return err
}

// IsConnected reports whether the stream is currently live.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Disconnect tears the stream down gracefully. The disconnect handler is
// invoked with a nil error so no reconnect is scheduled.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closing = true
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return
	}

	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	_ = conn.Close()
}

// Abort tears the stream down as a failure. Used when liveness monitoring
// declares the device dead; fires the disconnect callback with the reason.
func (c *Client) Abort(reason error) {
	c.teardown(reason)
}

// request sends one message and waits for the correlated reply.
func (c *Client) request(ctx context.Context, msg *protocol.Message, timeout time.Duration) (*protocol.Message, error) {
	key := msg.CorrelationKey()
	replyCh := make(chan *protocol.Message, 1)

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.pending[key] = replyCh
	c.mu.Unlock()

	if err := c.write(msg); err != nil {
		c.dropPending(key)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply, ok := <-replyCh:
		if !ok {
			return nil, ErrNotConnected
		}
		return reply, nil
	case <-timer.C:
		c.dropPending(key)
		return nil, fmt.Errorf("%w: %s after %s", ErrRequestTimeout, msg.Type, timeout)
	case <-ctx.Done():
		c.dropPending(key)
		return nil, ctx.Err()
	}
}

func (c *Client) dropPending(key string) {
	c.mu.Lock()
	delete(c.pending, key)
	c.mu.Unlock()
}

func (c *Client) write(msg *protocol.Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	return nil
}

// readLoop is the single reader for the stream. It matches incoming
// replies against the pending map and routes everything else to the
// server-push handler. On any receive error it tears the client down and
// fires the disconnect callback once.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closing := c.closing
			c.mu.Unlock()
			if closing {
				c.teardown(nil)
			} else {
				c.teardown(err)
			}
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn().Err(err).Msg("discarding unparseable message")
			continue
		}

		if msg.IsReply() {
			c.mu.Lock()
			ch, ok := c.pending[msg.CorrelationKey()]
			if ok {
				delete(c.pending, msg.CorrelationKey())
			}
			c.mu.Unlock()
			if ok {
				ch <- &msg
				continue
			}
		}

		if c.cfg.OnPush != nil {
			c.cfg.OnPush(c.deviceID, &msg)
		} else {
			c.logger.Debug().Str("type", string(msg.Type)).Msg("unrouted server push")
		}
	}
}

// teardown closes the connection, fails every outstanding request and
// fires the disconnect callback. Safe to call more than once; only the
// first call observes connected=true.
func (c *Client) teardown(err error) {
	if !c.connected.CompareAndSwap(true, false) {
		return
	}

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	pending := c.pending
	c.pending = make(map[string]chan *protocol.Message)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}

	if err != nil {
		c.logger.Warn().Err(err).Msg("device disconnected")
	} else {
		c.logger.Info().Msg("device disconnected")
	}
	if c.cfg.OnDisconnect != nil {
		c.cfg.OnDisconnect(c.deviceID, err)
	}
}

// resultFromReply converts a TASK_RESULT message into an ExecutionResult,
// preserving the device's error payload verbatim.
func resultFromReply(deviceID, taskID string, reply *protocol.Message) *types.ExecutionResult {
	status := types.TaskStatus(reply.Status)
	switch status {
	case types.TaskCompleted:
		return types.SuccessResult(taskID, deviceID, reply.Result)
	case types.TaskCancelled:
		return types.CancelledResult(taskID, deviceID)
	default:
		res := types.FailureResult(taskID, deviceID, types.ErrorCategoryExecution, reply.Error)
		res.Result = reply.Result
		return res
	}
}
