// Package fanout pushes live state transitions to connected observers.
// Delivery is best-effort: no acknowledgment and no replay.  Observers that
// connect later must query historical state through the event store's read
// endpoints instead.
package fanout

import "sync"

// Topic names published by the pipeline.
const (
	TopicTelemetry = "telemetry" // raw snapshot on every submission
	TopicLifecycle = "lifecycle" // event store stage transitions
	TopicFlagged   = "flagged"   // flagged-event summaries, tx id once confirmed
	TopicAlert     = "alert"     // system alerts from trend decisions
	TopicThreshold = "threshold" // threshold changes
)

// Message is one pushed frame.  Payload must be JSON-marshalable.
type Message struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

// Hub is a one-to-many broadcast of messages to all current subscribers.
// Every subscriber implicitly receives every topic.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Message
	buffer int
}

func NewHub() *Hub {
	return &Hub{
		subs:   make(map[int]chan Message),
		buffer: 16,
	}
}

// Subscribe registers a new observer and returns its id and receive channel.
// The channel is closed by Unsubscribe.
func (h *Hub) Subscribe() (int, <-chan Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	ch := make(chan Message, h.buffer)
	h.subs[id] = ch
	return id, ch
}

// Unsubscribe removes the observer and closes its channel.  Safe to call for
// an id that was already removed.
func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// Publish delivers the payload to every current subscriber.  A subscriber
// whose buffer is full misses the frame rather than blocking the pipeline.
func (h *Hub) Publish(topic string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	msg := Message{Topic: topic, Payload: payload}
	for _, ch := range h.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Subscribers returns the number of connected observers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
