package streaming

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rendis/nodeflow/pkg/schema"
)

// DefaultBuffer is the per-subscriber queue length used by NewMemoryHub.
const DefaultBuffer = 64

// MemoryHub delivers status events to in-process subscribers. Delivery
// never blocks a run: an event that does not fit in a subscriber's queue
// is dropped for that subscriber and counted.
type MemoryHub struct {
	buffer int

	mu     sync.RWMutex
	nextID uint64
	queues map[uint64]*queue

	dropped atomic.Uint64
}

type queue struct {
	filter EventFilter
	events chan schema.StatusEvent
}

// HubOption customises a MemoryHub.
type HubOption func(*MemoryHub)

// WithBuffer sets the per-subscriber queue length.
func WithBuffer(n int) HubOption {
	return func(h *MemoryHub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

func NewMemoryHub(opts ...HubOption) *MemoryHub {
	h := &MemoryHub{buffer: DefaultBuffer, queues: make(map[uint64]*queue)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish offers event to every subscriber whose filter matches.
func (h *MemoryHub) Publish(ctx context.Context, event schema.StatusEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Holding the read lock keeps unsubscribe from closing a queue mid-send.
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, q := range h.queues {
		if !q.filter.Matches(event) {
			continue
		}
		select {
		case q.events <- event:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a filtered queue. The returned cancel func removes
// it and closes the channel; it is idempotent and also fires when ctx ends.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan schema.StatusEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	q := &queue{filter: filter, events: make(chan schema.StatusEvent, h.buffer)}
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.queues[id] = q
	h.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.queues, id)
			h.mu.Unlock()
			close(q.events)
		})
	}
	stop := context.AfterFunc(ctx, unsubscribe)

	return q.events, func() {
		stop()
		unsubscribe()
	}, nil
}

// Subscribers returns the number of open subscriptions.
func (h *MemoryHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.queues)
}

// Dropped returns how many deliveries were skipped because a queue was full.
func (h *MemoryHub) Dropped() uint64 { return h.dropped.Load() }
