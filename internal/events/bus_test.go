// File: internal/events/bus_test.go
package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

func newTestBus(t *testing.T, buffer int) *Bus {
	t.Helper()
	b := NewBus(zaptest.NewLogger(t), buffer)
	t.Cleanup(b.Shutdown)
	return b
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	bus := newTestBus(t, 8)

	_, ch1, cancel1 := bus.Subscribe()
	defer cancel1()
	_, ch2, cancel2 := bus.Subscribe()
	defer cancel2()

	bus.Publish(schemas.Event{Type: schemas.EventTaskStarted, TaskID: "t-1"})

	for _, ch := range []<-chan schemas.Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, schemas.EventTaskStarted, ev.Type)
			assert.Equal(t, "t-1", ev.TaskID)
			assert.False(t, ev.Timestamp.IsZero(), "bus must stamp events")
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	bus := newTestBus(t, 1)

	_, slow, cancel := bus.Subscribe()
	defer cancel()

	// Fill the buffer, then keep publishing; extra events must be dropped,
	// not queued.
	for i := 0; i < 5; i++ {
		bus.Publish(schemas.Event{Type: schemas.EventStep, Step: i})
	}

	assert.Equal(t, uint64(4), bus.Dropped())

	ev := <-slow
	assert.Equal(t, 0, ev.Step, "first event stays in the buffer")
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := newTestBus(t, 4)

	_, ch, cancel := bus.Subscribe()
	require.Equal(t, 1, bus.SubscriberCount())

	cancel()
	assert.Equal(t, 0, bus.SubscriberCount())

	_, open := <-ch
	assert.False(t, open, "unsubscribe must close the channel")

	// Double-cancel is a no-op.
	cancel()
}

func TestPublishAfterShutdownIsNoop(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 4)
	_, ch, _ := bus.Subscribe()

	bus.Shutdown()
	bus.Publish(schemas.Event{Type: schemas.EventTaskCompleted})

	_, open := <-ch
	assert.False(t, open)

	// Subscribing after shutdown yields a closed channel.
	_, late, _ := bus.Subscribe()
	_, open = <-late
	assert.False(t, open)

	bus.Shutdown() // idempotent
}
