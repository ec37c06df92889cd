// Package broadcast fans entity change events out to subscribers. Events are
// tied to the transaction that produced them: they go out after commit and
// are dropped with a rollback.
package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/secfleet/secfleet/internal/domain"
)

// Broadcaster implements domain.Broadcaster.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[int]chan domain.Event
	nextSub int

	published atomic.Int64
	dropped   atomic.Int64
}

// New creates a broadcaster with no subscribers.
func New() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan domain.Event)}
}

// Enqueue sends ev once tx commits. Without a transaction ev is sent
// immediately.
func (b *Broadcaster) Enqueue(tx domain.Tx, ev domain.Event) {
	if tx == nil {
		b.Publish(ev)
		return
	}
	tx.OnCommit(func() { b.Publish(ev) })
}

// Publish delivers ev to every subscriber without blocking. Subscribers
// whose buffer is full miss the event.
func (b *Broadcaster) Publish(ev domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published.Add(1)
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel of events and a cancel func that closes it.
func (b *Broadcaster) Subscribe(buffer int) (<-chan domain.Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan domain.Event, buffer)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Stats returns how many events were published and how many deliveries
// were dropped.
func (b *Broadcaster) Stats() (published, dropped int64) {
	return b.published.Load(), b.dropped.Load()
}
