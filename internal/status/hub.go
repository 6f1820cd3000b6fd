package status

import (
	"context"
	"sync"

	"codeberg.org/mutker/thermalctl/internal/thermal"
)

const subscriberBuffer = 8

// Hub fans snapshots out to websocket clients. It satisfies
// controller.Recorder and never blocks the control loop: a client that
// falls behind misses snapshots.
type Hub struct {
	mu          sync.Mutex
	subscribers map[chan thermal.Snapshot]struct{}
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan thermal.Snapshot]struct{})}
}

func (h *Hub) Record(_ context.Context, snapshot *thermal.Snapshot) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subscribers {
		select {
		case ch <- *snapshot:
		default:
		}
	}

	return nil
}

func (h *Hub) subscribe() chan thermal.Snapshot {
	ch := make(chan thermal.Snapshot, subscriberBuffer)

	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	return ch
}

func (h *Hub) unsubscribe(ch chan thermal.Snapshot) {
	h.mu.Lock()
	delete(h.subscribers, ch)
	h.mu.Unlock()
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
