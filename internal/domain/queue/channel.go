// Package queue provides the bounded delivery channel between the event reader
// and the pusher workers.
package queue

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrFull is returned by producers that treat a rejected enqueue as a failure.
	ErrFull = errors.New("queue: channel is full")
	// ErrClosed is returned when enqueueing into a closed channel.
	ErrClosed = errors.New("queue: channel is closed")
)

// DefaultCapacity is the reference capacity of the delivery channel.
const DefaultCapacity = 50_000

// Channel is a bounded multi-producer/multi-consumer FIFO.
// Every item is handed to exactly one consumer.
type Channel[T any] struct {
	items chan T

	// [CLOSE_GUARD]
	// Producers hold the read lock while sending so Close never races a send.
	mu     sync.RWMutex
	closed bool
}

func NewChannel[T any](capacity int) *Channel[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Channel[T]{items: make(chan T, capacity)}
}

// TryEnqueue never blocks. It reports false when the channel is full or closed.
func (c *Channel[T]) TryEnqueue(v T) bool {
	return c.Enqueue(v) == nil
}

// Enqueue is TryEnqueue with the rejection reason.
func (c *Channel[T]) Enqueue(v T) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClosed
	}

	select {
	case c.items <- v:
		return nil
	default:
		return ErrFull
	}
}

// Dequeue suspends until an item is available, the channel is closed and
// drained, or ctx is done. ok is false in the last two cases.
func (c *Channel[T]) Dequeue(ctx context.Context) (v T, ok bool) {
	select {
	case v, ok = <-c.items:
		return v, ok
	case <-ctx.Done():
		return v, false
	}
}

func (c *Channel[T]) Len() int { return len(c.items) }
func (c *Channel[T]) Cap() int { return cap(c.items) }

// Full reports whether the next TryEnqueue would be rejected for lack of room.
func (c *Channel[T]) Full() bool { return len(c.items) >= cap(c.items) }

// Close stops accepting items. Items already queued remain available to consumers.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.items)
}
