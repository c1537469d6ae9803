// Package ringchan provides a bounded channel that never blocks producers:
// when full, the oldest queued value is discarded to make room.
package ringchan

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Offer after Close.
var ErrClosed = errors.New("ringchan: closed")

// Ring is a drop-oldest channel. A capacity of 1 gives latest-wins mailbox
// semantics: a slow reader always sees the most recent value.
//
//	r := ringchan.New[int](1)
//	r.Offer(1)
//	r.Offer(2)  // 1 is dropped
//	v := <-r.C() // 2
type Ring[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool
	stats  Stats
}

// Stats are lock-free counters for a Ring.
type Stats struct {
	Offered  int64
	Dropped  int64
	Received int64
}

// New creates a Ring with the given capacity. Panics on capacity <= 0.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &Ring[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. Reads through C are not counted in Stats.Received.
func (r *Ring[T]) C() <-chan T {
	return r.ch
}

// Offer enqueues v, discarding the oldest value when full. It reports whether
// a value was dropped.
func (r *Ring[T]) Offer(v T) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false, ErrClosed
	}
	atomic.AddInt64(&r.stats.Offered, 1)

	select {
	case r.ch <- v:
		return false, nil
	default:
	}

	dropped := false
	select {
	case <-r.ch:
		atomic.AddInt64(&r.stats.Dropped, 1)
		dropped = true
	default:
		// reader drained it meanwhile
	}
	// Offer is the only sender and holds mu, so there is room now.
	r.ch <- v
	return dropped, nil
}

// Receive blocks until a value is available or the ring is closed and drained.
func (r *Ring[T]) Receive() (T, bool) {
	v, ok := <-r.ch
	if ok {
		atomic.AddInt64(&r.stats.Received, 1)
	}
	return v, ok
}

// Len returns the number of queued values.
func (r *Ring[T]) Len() int {
	return len(r.ch)
}

// Close stops accepting values. Queued values remain readable. Close is idempotent.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.ch)
}

// Stats returns a snapshot of the counters.
func (r *Ring[T]) Stats() Stats {
	return Stats{
		Offered:  atomic.LoadInt64(&r.stats.Offered),
		Dropped:  atomic.LoadInt64(&r.stats.Dropped),
		Received: atomic.LoadInt64(&r.stats.Received),
	}
}
