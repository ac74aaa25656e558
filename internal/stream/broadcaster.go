// Package stream provides the fan-out primitive behind the favorites,
// location and status streams.
package stream

import (
	"context"
	"sync"
)

// Broadcaster fans each published value out to every subscriber and keeps the
// latest value for late subscribers. Publish never blocks: a subscriber whose
// buffer is full loses its oldest pending value, so with a buffer of one a
// slow reader always sees the newest state.
type Broadcaster[T any] struct {
	mu        sync.Mutex
	subs      map[uint64]chan T
	nextID    uint64
	buffer    int
	latest    T
	hasLatest bool
	closed    bool
	done      chan struct{}
}

func NewBroadcaster[T any](buffer int) *Broadcaster[T] {
	if buffer <= 0 {
		buffer = 1
	}
	return &Broadcaster[T]{
		subs:   make(map[uint64]chan T),
		buffer: buffer,
		done:   make(chan struct{}),
	}
}

func (b *Broadcaster[T]) Publish(value T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.latest = value
	b.hasLatest = true
	for _, ch := range b.subs {
		offer(ch, value)
	}
}

// Subscribe returns a channel that first replays the latest value, if any,
// and is closed when ctx ends or the broadcaster is closed.
func (b *Broadcaster[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, b.buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	if b.hasLatest {
		ch <- b.latest
	}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}()
	return ch
}

func (b *Broadcaster[T]) Latest() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest, b.hasLatest
}

func (b *Broadcaster[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later publishes are dropped.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// offer pushes value, dropping the oldest buffered value when ch is full.
// Only the broadcaster sends on ch, so a freed slot stays free.
func offer[T any](ch chan T, value T) {
	for {
		select {
		case ch <- value:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
