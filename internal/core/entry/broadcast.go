package entry

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Broadcaster fans newly stored entries out to subscribers. Publish never
// blocks: a subscriber whose buffer is full misses the entry.
type Broadcaster struct {
	log *slog.Logger

	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]chan Entry
	dropped atomic.Int64
}

// NewBroadcaster creates an empty broadcaster. log may be nil.
func NewBroadcaster(log *slog.Logger) *Broadcaster {
	return &Broadcaster{
		log:  log,
		subs: make(map[uint64]chan Entry),
	}
}

// Subscription is one listener registration.
type Subscription struct {
	C <-chan Entry

	id   uint64
	b    *Broadcaster
	once sync.Once
}

// Subscribe registers a listener with the given channel buffer.
func (b *Broadcaster) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Entry, buffer)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	return &Subscription{C: ch, id: id, b: b}
}

// Close unregisters the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.b.mu.Lock()
		ch, ok := s.b.subs[s.id]
		delete(s.b.subs, s.id)
		s.b.mu.Unlock()
		if ok {
			close(ch)
		}
	})
}

// Publish delivers e to every subscriber that has room for it.
func (b *Broadcaster) Publish(e Entry) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
			if b.log != nil {
				b.log.Warn("Subscriber buffer full, entry not delivered",
					"subscription", id,
					"entry_id", e.ID,
					"type", e.Type,
				)
			}
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because of full buffers.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}
