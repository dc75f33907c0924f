package grpc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mr1hm/go-quake-forecast/internal/models"
)

const defaultSubscriberBuffer = 100

// Broadcaster fans newly stored events out to in-process subscribers (gRPC
// streams and websocket clients). Slow subscribers miss events rather than
// block ingestion.
type Broadcaster struct {
	subscribers map[uint64]chan *models.Event
	buffer      int
	nextID      atomic.Uint64
	dropped     prometheus.Counter
	closed      bool
	mu          sync.RWMutex
}

type BroadcasterOption func(*Broadcaster)

// WithDroppedCounter counts deliveries skipped because a subscriber's
// buffer was full.
func WithDroppedCounter(c prometheus.Counter) BroadcasterOption {
	return func(b *Broadcaster) { b.dropped = c }
}

func NewBroadcaster(buffer int, opts ...BroadcasterOption) *Broadcaster {
	if buffer < 1 {
		buffer = defaultSubscriberBuffer
	}
	b := &Broadcaster{
		subscribers: make(map[uint64]chan *models.Event),
		buffer:      buffer,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a subscriber. After Close it returns an already closed channel.
func (b *Broadcaster) Subscribe() (uint64, <-chan *models.Event) {
	id := b.nextID.Add(1)
	ch := make(chan *models.Event, b.buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subscribers[id] = ch
	return id, ch
}

func (b *Broadcaster) Unsubscribe(id uint64) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) Broadcast(e *models.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			if b.dropped != nil {
				b.dropped.Inc()
			}
		}
	}
}

// Notify lets the broadcaster act as a notification sink. It never fails.
func (b *Broadcaster) Notify(_ context.Context, e *models.Event) error {
	b.Broadcast(e)
	return nil
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels, causing streams to exit gracefully.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
