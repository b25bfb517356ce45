// Package notify is an observer registry with per-subscription disposers.
package notify

import (
	"maps"
	"slices"
	"sync"
)

// Bus fans a value out to every registered callback
type Bus[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]func(T)
}

// NewBus creates an empty bus
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[uint64]func(T))}
}

// Subscribe registers fn and returns a function that removes it.
// The returned function is safe to call more than once.
func (b *Bus[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish calls every callback with v in subscription order.
// Callbacks run on the caller's goroutine.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	ids := slices.Sorted(maps.Keys(b.subs))
	fns := make([]func(T), len(ids))
	for i, id := range ids {
		fns[i] = b.subs[id]
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the number of live subscriptions
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

