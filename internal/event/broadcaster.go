// broadcaster.go - In-process fan-out of the event stream.
//
// Subscribers receive events on buffered channels. Publishing never blocks
// the registry: a subscriber that falls behind its buffer drops events and
// the drop is logged. Consumers that must not miss events (the matching
// engine) subscribe with a generous buffer.

package event

import (
	"sync"

	"github.com/rs/zerolog"
)

// Broadcaster fans events out to all current subscribers.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
	log  zerolog.Logger
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		subs: make(map[int]chan Event),
		log:  log.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a new subscriber with the given channel buffer.
// The returned cancel function removes the subscription and closes the
// channel.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, buffer)
	b.subs[id] = ch
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking.
func (b *Broadcaster) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.log.Warn().Int("subscriber", id).Str("type", string(e.Type)).Msg("subscriber buffer full, event dropped")
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
