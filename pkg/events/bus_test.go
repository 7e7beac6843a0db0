package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galaxyhq/galaxy/pkg/types"
)

type capture struct {
	mu   sync.Mutex
	seen []Event
}

func (c *capture) HandleEvent(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, ev)
}

func (c *capture) kinds() []Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Kind, len(c.seen))
	for i, ev := range c.seen {
		out[i] = ev.EventKind()
	}
	return out
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus()

	a, b := &capture{}, &capture{}
	bus.Subscribe(a)
	bus.Subscribe(b)
	assert.Equal(t, 2, bus.SubscriberCount())

	bus.Publish(NewTaskEvent(TaskStarted, "test", "t1", types.TaskRunning))
	bus.Close()

	assert.Equal(t, []Kind{TaskStarted}, a.kinds())
	assert.Equal(t, []Kind{TaskStarted}, b.kinds())
}

func TestKindFiltering(t *testing.T) {
	bus := NewBus()

	taskOnly := &capture{}
	deviceOnly := &capture{}
	everything := &capture{}
	bus.Subscribe(taskOnly, TaskCompleted, TaskFailed)
	bus.Subscribe(deviceOnly, DeviceConnected)
	bus.Subscribe(everything)

	bus.Publish(NewTaskEvent(TaskStarted, "test", "t1", types.TaskRunning))
	bus.Publish(NewTaskEvent(TaskCompleted, "test", "t1", types.TaskCompleted))
	bus.Publish(NewDeviceEvent(DeviceConnected, "test", "d1", types.DeviceConnected, nil))
	bus.Close()

	assert.Equal(t, []Kind{TaskCompleted}, taskOnly.kinds())
	assert.Equal(t, []Kind{DeviceConnected}, deviceOnly.kinds())
	assert.Equal(t, []Kind{TaskStarted, TaskCompleted, DeviceConnected}, everything.kinds())
}

func TestPerObserverOrderMatchesPublishOrder(t *testing.T) {
	bus := NewBus()

	slow := &capture{}
	bus.Subscribe(ObserverFunc(func(ev Event) {
		time.Sleep(time.Millisecond)
		slow.HandleEvent(ev)
	}))

	var want []Kind
	for i := 0; i < 100; i++ {
		kind := TaskStarted
		if i%2 == 1 {
			kind = TaskCompleted
		}
		want = append(want, kind)
		bus.Publish(NewTaskEvent(kind, "test", "t", types.TaskRunning))
	}
	bus.Close()

	assert.Equal(t, want, slow.kinds())
}

func TestObserverPanicIsAbsorbed(t *testing.T) {
	bus := NewBus()

	healthy := &capture{}
	bus.Subscribe(ObserverFunc(func(Event) { panic("observer bug") }))
	bus.Subscribe(healthy)

	bus.Publish(NewTaskEvent(TaskStarted, "test", "t1", types.TaskRunning))
	bus.Publish(NewTaskEvent(TaskCompleted, "test", "t1", types.TaskCompleted))
	bus.Close()

	assert.Equal(t, []Kind{TaskStarted, TaskCompleted}, healthy.kinds())
}

func TestPublishFromHandlerDoesNotDeadlock(t *testing.T) {
	bus := NewBus()

	done := make(chan struct{})
	bus.Subscribe(ObserverFunc(func(ev Event) {
		if ev.EventKind() == TaskCompleted {
			bus.Publish(NewConstellationEvent(ConstellationModified, "planner", "c1", ""))
		}
	}), TaskCompleted)
	bus.Subscribe(ObserverFunc(func(Event) { close(done) }), ConstellationModified)

	bus.Publish(NewTaskEvent(TaskCompleted, "test", "t1", types.TaskCompleted))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reentrant publish deadlocked")
	}
	bus.Close()
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	c := &capture{}
	bus.Subscribe(c)
	bus.Publish(NewTaskEvent(TaskStarted, "test", "t1", types.TaskRunning))

	require.Eventually(t, func() bool { return len(c.kinds()) == 1 }, time.Second, time.Millisecond)

	bus.Unsubscribe(c)
	assert.Equal(t, 0, bus.SubscriberCount())

	bus.Publish(NewTaskEvent(TaskCompleted, "test", "t1", types.TaskCompleted))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []Kind{TaskStarted}, c.kinds())
}

func TestSlowObserverDoesNotBlockPublish(t *testing.T) {
	bus := NewBus()

	release := make(chan struct{})
	bus.Subscribe(ObserverFunc(func(Event) { <-release }))

	start := time.Now()
	for i := 0; i < 1000; i++ {
		bus.Publish(NewTaskEvent(TaskProgress, "test", "t1", types.TaskRunning))
	}
	assert.Less(t, time.Since(start), time.Second)

	close(release)
	bus.Close()
}
