package web

import (
	"sync"

	"ugps-bridge/internal/fusion"
)

// PositionBroadcaster fans fused positions out to websocket listeners. It
// keeps the most recent value so new subscribers get one immediately. Slow
// subscribers miss values rather than block the publisher.
type PositionBroadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan fusion.Published
	nextID   int
	last     fusion.Published
	haveLast bool
}

func NewPositionBroadcaster() *PositionBroadcaster {
	return &PositionBroadcaster{subs: make(map[int]chan fusion.Published)}
}

func (b *PositionBroadcaster) Subscribe(buffer int) (int, <-chan fusion.Published) {
	if buffer <= 0 {
		buffer = 4
	}
	ch := make(chan fusion.Published, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	if b.haveLast {
		ch <- b.last
	}
	b.mu.Unlock()
	return id, ch
}

func (b *PositionBroadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish matches bridge.Options.OnFused.
func (b *PositionBroadcaster) Publish(p fusion.Published) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = p
	b.haveLast = true
	for _, ch := range b.subs {
		select {
		case ch <- p:
		default:
		}
	}
}

func (b *PositionBroadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
