package observer

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/galaxyhq/galaxy/pkg/events"
	"github.com/galaxyhq/galaxy/pkg/log"
)

// Sink receives serialised event envelopes. Send must not block; a sink
// that returns an error is removed from the broadcaster.
type Sink interface {
	Send(payload []byte) error
}

// Broadcaster forwards every bus event, serialised per the boundary
// envelope, to a set of external sinks. It never blocks an upstream
// publisher: a sink that cannot keep up is dropped.
type Broadcaster struct {
	bus    *events.Bus
	logger zerolog.Logger

	mu    sync.Mutex
	sinks map[Sink]struct{}
}

// NewBroadcaster creates a broadcaster subscribed to every event kind.
func NewBroadcaster(bus *events.Bus) *Broadcaster {
	b := &Broadcaster{
		bus:    bus,
		logger: log.WithComponent("broadcaster"),
		sinks:  make(map[Sink]struct{}),
	}
	bus.Subscribe(b)
	return b
}

// AddSink registers an external consumer.
func (b *Broadcaster) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks[s] = struct{}{}
}

// RemoveSink deregisters a consumer.
func (b *Broadcaster) RemoveSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sinks, s)
}

// SinkCount returns the number of registered sinks.
func (b *Broadcaster) SinkCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sinks)
}

// HandleEvent implements events.Observer.
func (b *Broadcaster) HandleEvent(ev events.Event) {
	payload, err := Encode(ev)
	if err != nil {
		b.logger.Error().Err(err).Str("kind", string(ev.EventKind())).Msg("event serialisation failed")
		return
	}

	b.mu.Lock()
	sinks := make([]Sink, 0, len(b.sinks))
	for s := range b.sinks {
		sinks = append(sinks, s)
	}
	b.mu.Unlock()

	for _, s := range sinks {
		if err := s.Send(payload); err != nil {
			b.logger.Warn().Err(err).Msg("dropping slow sink")
			b.RemoveSink(s)
		}
	}
}

// Close unsubscribes the broadcaster from the bus.
func (b *Broadcaster) Close() {
	b.bus.Unsubscribe(b)
}
