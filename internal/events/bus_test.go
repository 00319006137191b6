package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesSubscribers(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(4)
	defer cancel()

	bus.Publish(LoopEvent{LoopID: "a", Kind: KindCreated})

	select {
	case event := <-ch:
		assert.Equal(t, "a", event.LoopID)
		assert.Equal(t, KindCreated, event.Kind)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestSlowSubscriberLosesOldestNotNewest(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	bus.Publish(LoopEvent{LoopID: "old", Kind: KindStatus})
	bus.Publish(LoopEvent{LoopID: "new", Kind: KindStatus})

	event := <-ch
	assert.Equal(t, "new", event.LoopID)
}

func TestCancelClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancel must not panic.
	bus.Publish(LoopEvent{LoopID: "x", Kind: KindStatus})

	// Double cancel is safe.
	cancel()
}

func TestIndependentSubscribers(t *testing.T) {
	bus := NewBus()
	ch1, cancel1 := bus.Subscribe(4)
	defer cancel1()
	ch2, cancel2 := bus.Subscribe(4)
	defer cancel2()

	bus.Publish(LoopEvent{LoopID: "a", Kind: KindStatus})

	for _, ch := range []<-chan LoopEvent{ch1, ch2} {
		select {
		case event := <-ch:
			require.Equal(t, "a", event.LoopID)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed event")
		}
	}
}
