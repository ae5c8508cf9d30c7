package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, ch <-chan Event, timeout time.Duration) Event {
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed unexpectedly")
		return ev
	case <-time.After(timeout):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestSubscribeReceivesConnectedFirst(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("job-1", map[string]bool{"already_finished": false})
	defer unsub()

	ev := drain(t, ch, time.Second)
	require.Equal(t, EventConnected, ev.Type)
}

func TestPublishDeliversInOrder(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("job-1", nil)
	defer unsub()
	drain(t, ch, time.Second) // connected

	b.Publish("job-1", Event{Type: EventStatus, Payload: "a"})
	b.Publish("job-1", Event{Type: EventStatus, Payload: "b"})

	first := drain(t, ch, time.Second)
	second := drain(t, ch, time.Second)
	require.Equal(t, "a", first.Payload)
	require.Equal(t, "b", second.Payload)
}

func TestPublishDropsOldestWhenFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("job-1", nil)
	defer unsub()
	drain(t, ch, time.Second) // connected

	// Overflow the 64-capacity buffer without draining, then drain and
	// confirm the most recent events survive and a lag marker appears.
	for i := 0; i < subscriberBufferSize+5; i++ {
		b.Publish("job-1", Event{Type: EventProgress, Payload: i})
	}

	var last Event
	sawLag := false
	for i := 0; i < subscriberBufferSize; i++ {
		ev := drain(t, ch, time.Second)
		if ev.Lagged {
			sawLag = true
		}
		last = ev
	}
	require.True(t, sawLag, "expected a lagged marker after buffer overflow")
	require.Equal(t, subscriberBufferSize+4, last.Payload)
}

func TestCloseIsIdempotentAndDeliversStreamEnd(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("job-1", nil)
	defer unsub()
	drain(t, ch, time.Second) // connected

	b.Close("job-1", ReasonCompleted)
	b.Close("job-1", ReasonCompleted) // second call must be a no-op

	ev := drain(t, ch, time.Second)
	require.Equal(t, EventStreamEnd, ev.Type)

	_, ok := <-ch
	require.False(t, ok, "channel should be closed after stream_end")
}

func TestLateSubscriberGetsConnectedThenStreamEndOnly(t *testing.T) {
	b := New()
	b.Close("job-done", ReasonCompleted)

	ch, unsub := b.Subscribe("job-done", map[string]bool{"already_finished": true})
	defer unsub()

	first := drain(t, ch, time.Second)
	require.Equal(t, EventConnected, first.Type)

	second := drain(t, ch, time.Second)
	require.Equal(t, EventStreamEnd, second.Type)

	_, ok := <-ch
	require.False(t, ok)
}
