package server

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Broker fans out ingested events to SSE subscribers. Handlers publish each
// accepted event; the broker formats it as an SSE message and sends it to all
// active subscriber channels.
type Broker struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[chan []byte]struct{}
}

// NewBroker creates a new SSE broker.
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		logger:      logger,
		subscribers: make(map[chan []byte]struct{}),
	}
}

// Publish marshals the payload and broadcasts it to all subscribers under
// the given SSE event type. Marshal failures are logged and dropped.
func (b *Broker) Publish(eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Warn("broker: marshal event", "event_type", eventType, "error", err)
		return
	}
	b.broadcast(formatSSE(eventType, string(data)))
}

// Subscribe returns a channel that receives SSE-formatted events.
// The caller must call Unsubscribe when done.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64) // Buffer to avoid blocking the broadcast loop.
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// broadcast sends an event to all subscribers. Slow subscribers that have
// a full buffer are skipped (their event is dropped) to prevent one slow
// client from blocking all others.
func (b *Broker) broadcast(event []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full; drop this event for them.
		}
	}
}

// formatSSE formats a payload as a Server-Sent Events message.
func formatSSE(eventType, data string) []byte {
	// SSE format: "event: <type>\ndata: <payload>\n\n"
	return []byte("event: " + eventType + "\ndata: " + data + "\n\n")
}
