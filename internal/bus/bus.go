// Package bus implements the in-process progress event fan-out described
// by the orchestrator: one topic per job, any number of subscribers, a
// bounded channel per subscriber, and deterministic teardown. It is
// intentionally a narrow, mutex-guarded map of channels rather than a
// distributed queue — there is exactly one process to fan out to.
package bus

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

// EventType enumerates the progress event taxonomy (§6 wire format).
type EventType string

const (
	EventConnected EventType = "connected"
	EventStatus    EventType = "status"
	EventProgress  EventType = "progress"
	EventDetail    EventType = "detail"
	EventCompleted EventType = "completed"
	EventError     EventType = "error"
	EventCancelled EventType = "cancelled"
	EventStreamEnd EventType = "stream_end"

	// Chat-only event types, used by the retrieval pipeline's per-request
	// stream rather than a job topic, but sharing this package's Event
	// shape and MarshalSSE framing (§6).
	EventContext EventType = "context"
	EventStart   EventType = "start"
	EventChunk   EventType = "chunk"
	EventDone    EventType = "done"
)

// CloseReason is the terminal reason published with stream_end.
type CloseReason string

const (
	ReasonCompleted        CloseReason = "completed"
	ReasonError            CloseReason = "error"
	ReasonCancelled        CloseReason = "cancelled"
	ReasonClientDisconnect CloseReason = "client_disconnect"
	ReasonShutdown         CloseReason = "shutdown"
)

// Event is one message delivered to subscribers of a job topic.
type Event struct {
	Type    EventType   `json:"type"`
	Lagged  bool        `json:"lagged,omitempty"`
	Payload interface{} `json:"payload"`
}

// MarshalSSE renders the event as the `data: <json>\n\n` line §6 specifies.
func (e Event) MarshalSSE() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+8)
	out = append(out, "data: "...)
	out = append(out, body...)
	out = append(out, '\n', '\n')
	return out, nil
}

// subscriberBufferSize is the recommended channel capacity from §4.2.
const subscriberBufferSize = 64

type subscriber struct {
	ch      chan Event
	lagNext bool
}

type topic struct {
	mu         sync.Mutex
	subs       map[int]*subscriber
	nextID     int
	closed     bool
	closeReason CloseReason
}

// Bus is a process-wide registry of per-job event topics.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]*topic
	logger *log.Logger
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{
		topics: make(map[string]*topic),
		logger: log.New(os.Stderr, "[BUS] ", log.LstdFlags),
	}
}

func (b *Bus) topicFor(jobID string, createIfAbsent bool) *topic {
	b.mu.RLock()
	t, ok := b.topics[jobID]
	b.mu.RUnlock()
	if ok || !createIfAbsent {
		return t
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok = b.topics[jobID]; ok {
		return t
	}
	t = &topic{subs: make(map[int]*subscriber)}
	b.topics[jobID] = t
	return t
}

// Publish delivers event to every current subscriber of jobID. It never
// blocks: a subscriber whose buffer is full has its oldest buffered event
// dropped to make room, and is marked `lagged` on the next delivery.
func (b *Bus) Publish(jobID string, event Event) {
	t := b.topicFor(jobID, false)
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	for _, sub := range t.subs {
		deliver(sub, event)
	}
}

func deliver(sub *subscriber, event Event) {
	if sub.lagNext {
		event.Lagged = true
		sub.lagNext = false
	}
	select {
	case sub.ch <- event:
		return
	default:
	}
	// Buffer full: drop the oldest buffered event, then retry once. The
	// event delivered after the gap carries the lagged marker.
	select {
	case <-sub.ch:
	default:
	}
	event.Lagged = true
	select {
	case sub.ch <- event:
	default:
		// Still full (a concurrent receiver raced us); mark lag for next send.
		sub.lagNext = true
	}
}

// Unsubscribe tears down one subscription. Safe to call more than once.
type Unsubscribe func()

// Subscribe registers a new subscriber for jobID and immediately publishes
// a synthetic `connected` event carrying connectedPayload, so a late
// subscriber is never left silent (§4.2).
func (b *Bus) Subscribe(jobID string, connectedPayload interface{}) (<-chan Event, Unsubscribe) {
	t := b.topicFor(jobID, true)

	t.mu.Lock()
	id := t.nextID
	t.nextID++
	sub := &subscriber{ch: make(chan Event, subscriberBufferSize)}
	if !t.closed {
		t.subs[id] = sub
	}
	closedAlready := t.closed
	reason := t.closeReason
	t.mu.Unlock()

	sub.ch <- Event{Type: EventConnected, Payload: connectedPayload}
	if closedAlready {
		// §8 boundary behaviour: a late subscriber gets exactly
		// connected{already_finished:true} then stream_end, no backfill.
		sub.ch <- Event{Type: EventStreamEnd, Payload: map[string]string{"reason": string(reason)}}
		close(sub.ch)
	}

	unsub := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(sub.ch)
		}
	}
	return sub.ch, unsub
}

// Close publishes a terminal stream_end event with reason and then closes
// every subscriber channel for jobID. Idempotent: calling Close twice on
// the same topic is a no-op the second time.
func (b *Bus) Close(jobID string, reason CloseReason) {
	// The topic is created if absent so that a subscriber arriving after
	// Close still sees the recorded close reason.
	t := b.topicFor(jobID, true)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.closeReason = reason
	for _, sub := range t.subs {
		select {
		case sub.ch <- Event{Type: EventStreamEnd, Payload: map[string]string{"reason": string(reason)}}:
		default:
			<-sub.ch
			sub.ch <- Event{Type: EventStreamEnd, Payload: map[string]string{"reason": string(reason)}}
		}
		close(sub.ch)
	}
	t.subs = nil
}

// SubscriberCount reports the live subscriber count for jobID, used by tests and metrics.
func (b *Bus) SubscriberCount(jobID string) int {
	t := b.topicFor(jobID, false)
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Forget drops the topic entirely, reclaiming memory once every subscriber
// has drained stream_end and no further Resume is expected to reuse the id.
func (b *Bus) Forget(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.topics, jobID)
}
