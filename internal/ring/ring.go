// Package ring implements the fixed-capacity single-producer single-consumer
// queue that sits between the decode and present stages. A full ring rejects
// the incoming item rather than overwriting unread data.
package ring

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrCapacity is returned by New when the capacity is not a positive power of two.
var ErrCapacity = errors.New("ring: capacity must be a positive power of two")

// Ring is a bounded FIFO. The mutex guards cursor arithmetic only; callers
// must never hold it across conversion or present work, and Ring never does.
type Ring[T any] struct {
	mu    sync.Mutex
	slots []T
	mask  uint32
	write uint32
	read  uint32

	pushed  atomic.Uint64
	dropped atomic.Uint64
}

// New creates a ring with the given capacity.
func New[T any](capacity int) (*Ring[T], error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 || capacity > 1<<16 {
		return nil, fmt.Errorf("%w: got %d", ErrCapacity, capacity)
	}
	return &Ring[T]{
		slots: make([]T, capacity),
		mask:  uint32(capacity - 1),
	}, nil
}

// TryPush appends v unless the ring is full. It never blocks and never
// overwrites an unread slot.
func (r *Ring[T]) TryPush(v T) bool {
	r.mu.Lock()
	if r.write-r.read == uint32(len(r.slots)) {
		r.mu.Unlock()
		r.dropped.Add(1)
		return false
	}
	r.slots[r.write&r.mask] = v
	r.write++
	r.mu.Unlock()
	r.pushed.Add(1)
	return true
}

// TryPop removes the oldest item. ok is false when the ring is empty.
func (r *Ring[T]) TryPop() (v T, ok bool) {
	r.mu.Lock()
	if r.write == r.read {
		r.mu.Unlock()
		return v, false
	}
	i := r.read & r.mask
	v = r.slots[i]
	var zero T
	r.slots[i] = zero
	r.read++
	r.mu.Unlock()
	return v, true
}

// Len returns the number of unread items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.write - r.read)
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.slots) }

// Dropped returns how many pushes were rejected because the ring was full.
func (r *Ring[T]) Dropped() uint64 { return r.dropped.Load() }

// Pushed returns how many pushes succeeded.
func (r *Ring[T]) Pushed() uint64 { return r.pushed.Load() }

// Reset discards all unread items. Counters are preserved.
func (r *Ring[T]) Reset() {
	r.mu.Lock()
	var zero T
	for i := range r.slots {
		r.slots[i] = zero
	}
	r.read = r.write
	r.mu.Unlock()
}
