package memory

import (
	"context"
	"sync"

	"livequiz-service/internal/domain"
	"livequiz-service/internal/metrics"
)

const subscriberBuffer = 32

// Hub is an in-process broadcaster keyed by session code.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[chan domain.Event]struct{}
}

func NewHub() *Hub {
	return &Hub{
		channels: make(map[string]map[chan domain.Event]struct{}),
	}
}

func (h *Hub) Publish(_ context.Context, code string, ev domain.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.channels[code] {
		deliver(ch, ev)
	}
	return nil
}

// deliver drops the oldest queued event when the subscriber is full so that a slow reader
// never blocks publishers; readers resync through the pull operations.
func deliver(ch chan domain.Event, ev domain.Event) {
	select {
	case ch <- ev:
		return
	default:
	}
	select {
	case <-ch:
		metrics.BroadcastDropped.Inc()
	default:
	}
	select {
	case ch <- ev:
	default:
		metrics.BroadcastDropped.Inc()
	}
}

func (h *Hub) Subscribe(_ context.Context, code string) (<-chan domain.Event, func(), error) {
	ch := make(chan domain.Event, subscriberBuffer)

	h.mu.Lock()
	if h.channels[code] == nil {
		h.channels[code] = make(map[chan domain.Event]struct{})
	}
	h.channels[code][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.channels[code], ch)
			if len(h.channels[code]) == 0 {
				delete(h.channels, code)
			}
			close(ch)
		})
	}
	return ch, cancel, nil
}

// Subscribers reports the number of listeners on a session channel.
func (h *Hub) Subscribers(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[code])
}
