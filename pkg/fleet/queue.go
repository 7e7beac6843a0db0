package fleet

import (
	"sync"

	"github.com/galaxyhq/galaxy/pkg/types"
)

// pendingTask pairs a dispatch request with the future its caller waits
// on.
type pendingTask struct {
	req    *types.TaskRequest
	future chan *types.ExecutionResult
}

// deviceQueue enforces FIFO ordering and at-most-one-in-flight per device.
// A single drain goroutine executes queued tasks in assignment order, so
// two assignments A then B to the same device observe A starting before B.
type deviceQueue struct {
	deviceID string
	exec     func(req *types.TaskRequest) *types.ExecutionResult

	mu      sync.Mutex
	items   []*pendingTask
	running bool
	closed  bool
}

func newDeviceQueue(deviceID string, exec func(req *types.TaskRequest) *types.ExecutionResult) *deviceQueue {
	return &deviceQueue{
		deviceID: deviceID,
		exec:     exec,
	}
}

// assign appends a task and returns its future. If the device is free the
// task starts immediately; otherwise it waits behind the in-flight task.
func (q *deviceQueue) assign(req *types.TaskRequest) <-chan *types.ExecutionResult {
	future := make(chan *types.ExecutionResult, 1)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		future <- types.ConnectionFailure(req.TaskID, q.deviceID, "device queue closed")
		return future
	}
	q.items = append(q.items, &pendingTask{req: req, future: future})
	start := !q.running
	if start {
		q.running = true
	}
	q.mu.Unlock()

	if start {
		go q.drain()
	}
	return future
}

// drain executes queued tasks one at a time until the queue empties or
// closes.
func (q *deviceQueue) drain() {
	for {
		q.mu.Lock()
		if q.closed || len(q.items) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		item.future <- q.exec(item.req)
	}
}

// fail resolves every queued future to a FAILED connection_error result
// and closes the queue. The in-flight task, if any, resolves through the
// transport's own teardown path.
func (q *deviceQueue) fail(reason string) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	items := q.items
	q.items = nil
	q.mu.Unlock()

	for _, item := range items {
		item.future <- types.ConnectionFailure(item.req.TaskID, q.deviceID, reason)
	}
}

// depth returns the number of queued (not yet started) tasks.
func (q *deviceQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
