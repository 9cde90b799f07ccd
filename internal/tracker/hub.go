package tracker

import (
	"sync"
	"sync/atomic"

	"github.com/y0f/primotiming/internal/storage"
)

// Event announces one persisted measurement.
type Event struct {
	CycleID      string               `json:"cycle_id"`
	DomainPrefix string               `json:"domain_prefix"`
	Keyword      string               `json:"keyword"`
	Measurement  *storage.Measurement `json:"measurement"`
}

// Publisher receives events from the tracker. Publish must not block.
type Publisher interface {
	Publish(ev Event)
}

// Hub fans events out to subscribers. A subscriber whose buffer is full
// misses the event; the tracker never waits on a slow reader.
type Hub struct {
	mu      sync.RWMutex
	subs    map[chan Event]struct{}
	buffer  int
	dropped atomic.Int64
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{subs: make(map[chan Event]struct{}), buffer: buffer}
}

// Subscribe registers a new subscriber. The returned func unsubscribes and
// closes the channel; calling it more than once is safe.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was
// not keeping up.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
