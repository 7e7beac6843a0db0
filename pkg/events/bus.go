package events

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/galaxyhq/galaxy/pkg/log"
)

// Observer receives events published on the bus. Handlers run on a
// per-observer delivery goroutine; they may publish further events.
type Observer interface {
	HandleEvent(Event)
}

// funcObserver wraps a bare function behind a comparable type, since
// observers key the subscription map.
type funcObserver struct {
	fn func(Event)
}

func (f *funcObserver) HandleEvent(ev Event) { f.fn(ev) }

// ObserverFunc adapts a function to the Observer interface. Each call
// returns a distinct observer identity.
func ObserverFunc(fn func(Event)) Observer {
	return &funcObserver{fn: fn}
}

// subscription holds one observer's kind filter and its in-order queue.
// The queue is unbounded so that a slow observer delays only itself and
// never drops or reorders its own events.
type subscription struct {
	observer Observer
	kinds    map[Kind]struct{} // nil means all kinds

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
}

func (s *subscription) matches(kind Kind) bool {
	if s.kinds == nil {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}

func (s *subscription) enqueue(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, ev)
	s.cond.Signal()
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Signal()
}

// run drains the queue in publish order until the subscription is closed
// and empty.
func (s *subscription) run(logger zerolog.Logger, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.deliver(logger, ev)
	}
}

// deliver invokes the observer, absorbing panics so one observer can never
// break delivery to the others or fail the publisher.
func (s *subscription) deliver(logger zerolog.Logger, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).
				Str("kind", string(ev.EventKind())).
				Msg("observer panicked handling event")
		}
	}()
	s.observer.HandleEvent(ev)
}

// Bus is the in-process publish/subscribe channel shared by all Galaxy
// components. Construct one per session and hand it to each component;
// there is no package-level instance.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Observer]*subscription
	logger zerolog.Logger
	wg     sync.WaitGroup
	closed bool
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subs:   make(map[Observer]*subscription),
		logger: log.WithComponent("event-bus"),
	}
}

// Subscribe registers an observer for the given kinds. With no kinds the
// observer receives every event. Re-subscribing an observer replaces its
// filter.
func (b *Bus) Subscribe(obs Observer, kinds ...Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	if old, ok := b.subs[obs]; ok {
		old.close()
	}

	sub := &subscription{observer: obs}
	sub.cond = sync.NewCond(&sub.mu)
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}
	b.subs[obs] = sub

	b.wg.Add(1)
	go sub.run(b.logger, &b.wg)
}

// Unsubscribe removes the observer from every subscription. Events already
// queued for it are still delivered.
func (b *Bus) Unsubscribe(obs Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[obs]; ok {
		sub.close()
		delete(b.subs, obs)
	}
}

// Publish delivers the event to every subscribed observer whose filter
// matches. Delivery is asynchronous: per-observer order equals publish
// order, but there is no global ordering across observers. Publish never
// blocks on observers and is safe to call from inside a handler.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	matched := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.matches(ev.EventKind()) {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matched {
		sub.enqueue(ev)
	}
}

// SubscriberCount returns the number of active subscriptions
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close stops the bus. Queued events are drained to their observers before
// the delivery goroutines exit.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		sub.close()
	}
	b.subs = make(map[Observer]*subscription)
	b.mu.Unlock()

	b.wg.Wait()
}
