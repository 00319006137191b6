// Package events provides the process-wide publish/subscribe bus for
// loop mutations.
package events

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/droverhq/drover/internal/logging"
)

// Kind labels what happened to a loop. Subscribers treat events as a
// change notification and re-read the state document for truth.
type Kind string

const (
	KindCreated     Kind = "created"
	KindStatus      Kind = "status"
	KindCriteria    Kind = "criteria"
	KindSession     Kind = "session"
	KindDiscarded   Kind = "discarded"
	KindOrphanSweep Kind = "orphan-sweep"
)

// LoopEvent is the opaque notification published on any loop mutation.
type LoopEvent struct {
	LoopID string
	Kind   Kind
}

// Bus is a process-wide event publisher. Delivery is best-effort: a
// subscriber that falls behind loses the oldest events, never blocks
// the publisher.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan LoopEvent
	nextID int
	logger zerolog.Logger
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		subs:   make(map[int]chan LoopEvent),
		logger: logging.Component("events"),
	}
}

// Subscribe registers a subscriber and returns its channel plus a cancel
// func. The channel is closed on cancel.
func (b *Bus) Subscribe(buffer int) (<-chan LoopEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan LoopEvent, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish notifies all subscribers. When a subscriber's buffer is full
// the oldest queued event is dropped so the newest is always seen.
func (b *Bus) Publish(event LoopEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
				b.logger.Debug().Str("loop_id", event.LoopID).Msg("event dropped")
			}
		}
	}
}
