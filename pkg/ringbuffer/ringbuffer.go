// Package ringbuffer contains a lock-free single-producer/single-consumer
// ring buffer used to hand data off between the encode thread and the
// send thread without blocking either side.
package ringbuffer

import (
	"fmt"
	"sync/atomic"
)

// RingBuffer is a bounded SPSC queue of T.
//
// Exactly one goroutine may call Offer, and exactly one goroutine may call
// Poll/Release; calling either role from more than one goroutine breaks
// the FIFO and no-allocation guarantees. Capacity must be a power of two
// so the slot index can be derived with a bitmask instead of a modulo.
//
// Poll and Release are split on purpose: Poll hands the consumer a
// reference to the slot without freeing it, and Release — called once
// the consumer is truly done with the slot's contents (e.g. after a
// socket send completes) — is what allows the producer to reuse that
// slot. Collapsing the two would let the producer overwrite a buffer
// the consumer is still reading, since for pointer/slice-typed T the
// underlying storage outlives the index advance.
type RingBuffer[T any] struct {
	mask   uint64
	buffer []T

	// write is advanced only by the producer, read only by the consumer.
	write atomic.Uint64
	_pad0 [7]uint64
	read  atomic.Uint64
	_pad1 [7]uint64
}

// New allocates a RingBuffer with the given capacity, which must be a
// power of two. All slot storage is preallocated; no further allocation
// occurs on Offer, Poll or Release.
func New[T any](capacity uint64) (*RingBuffer[T], error) {
	if capacity == 0 || (capacity&(capacity-1)) != 0 {
		return nil, fmt.Errorf("ringbuffer: capacity must be a power of two, got %d", capacity)
	}

	return &RingBuffer[T]{
		mask:   capacity - 1,
		buffer: make([]T, capacity),
	}, nil
}

// Offer publishes a value to the ring. It returns false iff write−read
// equals capacity (full); the caller decides whether to drop or retry.
func (r *RingBuffer[T]) Offer(v T) bool {
	w := r.write.Load()
	rd := r.read.Load()

	if w-rd == uint64(len(r.buffer)) {
		return false
	}

	r.buffer[w&r.mask] = v

	// Release-store: the slot write must be visible before the index
	// advance is, so a concurrent Poll never observes a half-written slot.
	r.write.Store(w + 1)

	return true
}

// Poll returns a reference to the oldest unreleased slot without
// consuming it. The second return value is false iff the ring is empty.
// The caller must eventually call Release exactly once per successful
// Poll before polling again.
func (r *RingBuffer[T]) Poll() (T, bool) {
	rd := r.read.Load()
	w := r.write.Load()

	if w == rd {
		var zero T
		return zero, false
	}

	return r.buffer[rd&r.mask], true
}

// Release advances the read index, making the most recently polled slot
// available for the producer to reuse. It must be called after the
// consumer has finished using the value returned by Poll.
func (r *RingBuffer[T]) Release() {
	r.read.Add(1)
}

// Size returns the approximate occupancy of the ring.
func (r *RingBuffer[T]) Size() uint64 {
	return r.write.Load() - r.read.Load()
}

// Full reports whether the ring is at capacity, i.e. whether the next
// Offer would fail. A producer that must write into a slot shared with
// the ring (a buffer-pool index, say) before it knows whether Offer will
// succeed can call Full first: since only the producer ever advances
// write, occupancy as seen by the producer can only decrease between
// this call and its own next Offer, never increase, so Full()==false
// here guarantees that Offer will succeed.
func (r *RingBuffer[T]) Full() bool {
	return r.write.Load()-r.read.Load() == uint64(len(r.buffer))
}

// Capacity returns the number of slots in the ring.
func (r *RingBuffer[T]) Capacity() uint64 {
	return uint64(len(r.buffer))
}

// OfferSpin retries Offer up to maxSpins times with a busy-spin in
// between, for producers that would rather burn a bounded number of
// cycles than drop a high-value item (e.g. a keyframe token) on a
// transient full ring. It still returns false if the ring is full after
// the last attempt.
func (r *RingBuffer[T]) OfferSpin(v T, maxSpins int) bool {
	if r.Offer(v) {
		return true
	}
	for i := 0; i < maxSpins; i++ {
		if r.Offer(v) {
			return true
		}
	}
	return false
}
