// Package stream fans out application and payment status changes to the
// owning user's live subscribers. Delivery is best effort: slow subscribers
// miss events rather than stall a write.
package stream

import (
	"context"
	"sync"
	"time"
)

const (
	KindApplication = "application"
	KindPayment     = "payment"

	bufferSize = 16
)

// StatusEvent describes one observed status change.
type StatusEvent struct {
	Kind          string    `json:"kind"`
	UserID        string    `json:"-"`
	ApplicationID string    `json:"applicationId"`
	PaymentID     string    `json:"paymentId,omitempty"`
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
}

// Hub routes events to subscribers by user id.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[int]chan StatusEvent
	next int
}

func New() *Hub {
	return &Hub{subs: make(map[string]map[int]chan StatusEvent)}
}

// Subscribe registers a subscriber for userID. The channel is closed when ctx
// ends.
func (h *Hub) Subscribe(ctx context.Context, userID string) <-chan StatusEvent {
	ch := make(chan StatusEvent, bufferSize)

	h.mu.Lock()
	id := h.next
	h.next++
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[int]chan StatusEvent)
	}
	h.subs[userID][id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs[userID], id)
		if len(h.subs[userID]) == 0 {
			delete(h.subs, userID)
		}
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish delivers evt to the subscribers of evt.UserID.
func (h *Hub) Publish(evt StatusEvent) {
	if evt.UserID == "" {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[evt.UserID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribers counts live subscriptions for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}
