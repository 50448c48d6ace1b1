// Package hub provides a per-conversation publish/subscribe hub for
// live chat notifications. Events flow from the API layer to
// subscribers (SSE and WebSocket handlers). The hub is nil-safe:
// calling Publish on a nil *Hub is a no-op, so callers do not need
// guard checks.
package hub

import (
	"sync"
	"time"
)

// Kind constants describe the type of event within a conversation.
const (
	// KindMessage signals a persisted chat message.
	// Data: id, role, text.
	KindMessage = "message"
	// KindTyping signals the agent has started working on a reply.
	// Data: conversation_id.
	KindTyping = "typing"
	// KindError signals a failed agent run.
	// Data: error.
	KindError = "error"
)

// Event represents a single notification published to a conversation.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Kind describes the type of event.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Hub is a non-blocking broadcast hub scoped by conversation.
// Subscribers receive events on buffered channels; slow subscribers
// miss events rather than blocking publishers.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
	// convOf records which conversation a send channel belongs to so
	// Unsubscribe can find and prune the right subscriber set.
	convOf map[chan Event]string
}

// New creates a new hub ready for use.
func New() *Hub {
	return &Hub{
		subs:       make(map[string]map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
		convOf:     make(map[chan Event]string),
	}
}

// Publish sends an event to all subscribers of conversationID.
// Non-blocking: if a subscriber's channel is full, the event is
// dropped for that subscriber. Safe to call on a nil receiver (no-op).
func (h *Hub) Publish(conversationID string, e Event) {
	if h == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[conversationID] {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives events published to
// conversationID. The caller must eventually call Unsubscribe to avoid
// resource leaks. bufSize controls the channel buffer; 64 is a
// reasonable default for SSE and WebSocket consumers.
func (h *Hub) Subscribe(conversationID string, bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[conversationID]
	if !ok {
		set = make(map[chan Event]struct{})
		h.subs[conversationID] = set
	}
	set[ch] = struct{}{}
	h.recvToSend[ch] = ch
	h.convOf[ch] = conversationID
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (h *Hub) Unsubscribe(ch <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sendCh, ok := h.recvToSend[ch]
	if !ok {
		return
	}
	convID := h.convOf[sendCh]
	if set, ok := h.subs[convID]; ok {
		delete(set, sendCh)
		if len(set) == 0 {
			delete(h.subs, convID)
		}
	}
	delete(h.recvToSend, ch)
	delete(h.convOf, sendCh)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers for a
// conversation.
func (h *Hub) SubscriberCount(conversationID string) int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[conversationID])
}
