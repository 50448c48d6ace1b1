package hub

import (
	"sync"
	"testing"
	"time"
)

func TestNilHubPublish(t *testing.T) {
	var h *Hub
	// Must not panic.
	h.Publish("c1", Event{Kind: KindTyping})
}

func TestNilHubSubscriberCount(t *testing.T) {
	var h *Hub
	if got := h.SubscriberCount("c1"); got != 0 {
		t.Errorf("SubscriberCount() on nil hub = %d, want 0", got)
	}
}

func TestPublishSingleSubscriber(t *testing.T) {
	h := New()
	ch := h.Subscribe("c1", 8)
	defer h.Unsubscribe(ch)

	want := Event{
		Kind: KindMessage,
		Data: map[string]any{"id": "m_abc", "role": "assistant"},
	}
	h.Publish("c1", want)

	select {
	case got := <-ch:
		if got.Kind != want.Kind {
			t.Errorf("got event %v, want %v", got, want)
		}
		id, ok := got.Data["id"].(string)
		if !ok || id != "m_abc" {
			t.Errorf("got id %v, want %q", got.Data["id"], "m_abc")
		}
		if got.Timestamp.IsZero() {
			t.Error("Publish did not stamp the event")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishScopedToConversation(t *testing.T) {
	h := New()
	ch1 := h.Subscribe("c1", 8)
	ch2 := h.Subscribe("c2", 8)
	defer h.Unsubscribe(ch1)
	defer h.Unsubscribe(ch2)

	h.Publish("c1", Event{Kind: KindTyping})

	select {
	case got := <-ch1:
		if got.Kind != KindTyping {
			t.Errorf("c1 got kind %q, want %q", got.Kind, KindTyping)
		}
	case <-time.After(time.Second):
		t.Fatal("c1 subscriber timed out")
	}

	// The c2 subscriber must not see c1 traffic.
	select {
	case evt := <-ch2:
		t.Errorf("c2 received event %v for c1", evt)
	default:
	}
}

func TestPublishMultipleSubscribers(t *testing.T) {
	h := New()
	const n = 5
	channels := make([]<-chan Event, n)
	for i := range n {
		channels[i] = h.Subscribe("c1", 8)
	}
	defer func() {
		for _, ch := range channels {
			h.Unsubscribe(ch)
		}
	}()

	evt := Event{Kind: KindError, Data: map[string]any{"error": "boom"}}
	h.Publish("c1", evt)

	for i, ch := range channels {
		select {
		case got := <-ch:
			if got.Kind != evt.Kind {
				t.Errorf("subscriber %d: got %v, want %v", i, got, evt)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}

func TestDropOnFull(t *testing.T) {
	h := New()
	// Buffer size 1 — second publish should be dropped.
	ch := h.Subscribe("c1", 1)
	defer h.Unsubscribe(ch)

	h.Publish("c1", Event{Kind: "first"})
	h.Publish("c1", Event{Kind: "second"})

	got := <-ch
	if got.Kind != "first" {
		t.Errorf("got kind %q, want %q", got.Kind, "first")
	}

	// Channel should be empty — the second event was dropped.
	select {
	case evt := <-ch:
		t.Errorf("expected empty channel, got event %v", evt)
	default:
		// Correct — channel is empty.
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := New()
	ch := h.Subscribe("c1", 8)

	h.Unsubscribe(ch)

	// Reading from a closed channel returns the zero value immediately.
	_, ok := <-ch
	if ok {
		t.Error("expected channel to be closed after Unsubscribe")
	}
}

func TestDoubleUnsubscribe(t *testing.T) {
	h := New()
	ch := h.Subscribe("c1", 8)

	h.Unsubscribe(ch)
	// Must not panic.
	h.Unsubscribe(ch)
}

func TestSubscriberCount(t *testing.T) {
	h := New()

	if got := h.SubscriberCount("c1"); got != 0 {
		t.Errorf("initial count = %d, want 0", got)
	}

	ch1 := h.Subscribe("c1", 4)
	ch2 := h.Subscribe("c1", 4)
	other := h.Subscribe("c2", 4)

	if got := h.SubscriberCount("c1"); got != 2 {
		t.Errorf("after 2 subscribes = %d, want 2", got)
	}
	if got := h.SubscriberCount("c2"); got != 1 {
		t.Errorf("c2 count = %d, want 1", got)
	}

	h.Unsubscribe(ch1)
	if got := h.SubscriberCount("c1"); got != 1 {
		t.Errorf("after 1 unsubscribe = %d, want 1", got)
	}

	h.Unsubscribe(ch2)
	h.Unsubscribe(other)
	if got := h.SubscriberCount("c1"); got != 0 {
		t.Errorf("after all unsubscribed = %d, want 0", got)
	}
}

func TestConcurrentPublishSubscribe(t *testing.T) {
	h := New()
	const publishers = 10
	const eventsPerPublisher = 100

	var wg sync.WaitGroup

	// Start a subscriber that drains events.
	ch := h.Subscribe("c1", 64)
	wg.Add(1)
	go func() {
		defer wg.Done()
		count := 0
		for range ch {
			count++
			// We don't assert exact count because drops are expected.
		}
	}()

	// Launch concurrent publishers.
	var pubWg sync.WaitGroup
	for i := range publishers {
		pubWg.Add(1)
		go func() {
			defer pubWg.Done()
			for j := range eventsPerPublisher {
				h.Publish("c1", Event{
					Kind: KindMessage,
					Data: map[string]any{"publisher": i, "seq": j},
				})
			}
		}()
	}

	pubWg.Wait()
	h.Unsubscribe(ch) // Closes the channel, ending the draining goroutine.
	wg.Wait()
}

func TestPublishNoSubscribers(t *testing.T) {
	h := New()
	// Must not panic when publishing with no subscribers.
	h.Publish("c1", Event{Kind: KindTyping})
}

func TestPublishAfterUnsubscribe(t *testing.T) {
	h := New()
	ch := h.Subscribe("c1", 8)
	h.Unsubscribe(ch)

	// Publishing after the only subscriber is gone must not panic.
	h.Publish("c1", Event{Kind: KindMessage})
}
