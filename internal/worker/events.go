package worker

import (
	"sync"

	"atomicswap/internal/models"
)

const subscriberBuffer = 128

// Broadcaster fans swap events out to live subscribers. Slow subscribers
// miss events rather than stall the swap tasks; the audit log in the store
// stays complete.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[int]chan models.SwapEvent
	nextID int
}

// NewBroadcaster creates a broadcaster with no subscribers
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan models.SwapEvent)}
}

// Subscribe registers a subscriber. The returned function unsubscribes and
// closes the channel; it is safe to call more than once.
func (b *Broadcaster) Subscribe() (<-chan models.SwapEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan models.SwapEvent, subscriberBuffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber that has room for it
func (b *Broadcaster) Publish(ev models.SwapEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns the number of live subscribers
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
