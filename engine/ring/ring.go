// Package ring provides a fixed-capacity single-producer/single-consumer queue
// used to pass events out of (and into) the real-time thread without locks or
// allocation.
package ring

import "sync/atomic"

// SPSC is a lock-free ring for exactly one producer goroutine and one
// consumer goroutine. Capacity is rounded up to a power of two.
type SPSC[T any] struct {
	buf     []T
	mask    uint64
	head    atomic.Uint64 // next slot to read
	tail    atomic.Uint64 // next slot to write
	dropped atomic.Uint64
}

// New creates a ring holding at least capacity items.
func New[T any](capacity int) *SPSC[T] {
	size := uint64(1)
	for size < uint64(capacity) {
		size <<= 1
	}
	return &SPSC[T]{buf: make([]T, size), mask: size - 1}
}

// Push appends v. It never blocks; when full the item is dropped and
// counted, and false is returned.
func (r *SPSC[T]) Push(v T) bool {
	tail := r.tail.Load()
	if tail-r.head.Load() >= uint64(len(r.buf)) {
		r.dropped.Add(1)
		return false
	}
	r.buf[tail&r.mask] = v
	r.tail.Store(tail + 1)
	return true
}

// Pop removes the oldest item.
func (r *SPSC[T]) Pop() (T, bool) {
	var zero T
	head := r.head.Load()
	if head == r.tail.Load() {
		return zero, false
	}
	v := r.buf[head&r.mask]
	r.buf[head&r.mask] = zero
	r.head.Store(head + 1)
	return v, true
}

// Len returns the number of queued items.
func (r *SPSC[T]) Len() int { return int(r.tail.Load() - r.head.Load()) }

// Cap returns the ring capacity.
func (r *SPSC[T]) Cap() int { return len(r.buf) }

// Dropped returns how many pushes failed because the ring was full.
func (r *SPSC[T]) Dropped() uint64 { return r.dropped.Load() }
