// Package queue implements a bounded single-producer/single-consumer ring.
//
// Exactly one goroutine may call the producer side (Push) and exactly one
// goroutine may call the consumer side (Pop, PopBatch, Drain) at any time.
// Neither side ever blocks.
package queue

import (
	"fmt"
	"sync/atomic"
)

// cacheLine keeps head and tail on separate cache lines.
const cacheLine = 64

type SPSC[T any] struct {
	buf []T

	_    [cacheLine]byte
	head atomic.Uint64 // next slot to read, written by the consumer only
	_    [cacheLine - 8]byte
	tail atomic.Uint64 // next slot to write, written by the producer only
	_    [cacheLine - 8]byte
}

func New[T any](capacity int) *SPSC[T] {
	if capacity < 1 {
		panic(fmt.Sprintf("queue: invalid capacity %d", capacity))
	}
	return &SPSC[T]{buf: make([]T, capacity)}
}

func (q *SPSC[T]) Cap() int {
	return len(q.buf)
}

// Len is a snapshot; it may be stale by the time it is read. Head is
// loaded first so a concurrent Pop can never push it past the tail.
func (q *SPSC[T]) Len() int {
	head := q.head.Load()
	n := int(q.tail.Load() - head)
	if n > len(q.buf) {
		// the producer refilled slots freed after head was loaded
		return len(q.buf)
	}
	return n
}

func (q *SPSC[T]) Empty() bool {
	return q.Len() == 0
}

// Push appends v and reports false when the ring is full.
func (q *SPSC[T]) Push(v T) bool {
	tail := q.tail.Load()
	if tail-q.head.Load() == uint64(len(q.buf)) {
		return false
	}
	q.buf[tail%uint64(len(q.buf))] = v
	q.tail.Store(tail + 1)
	return true
}

// Pop removes the oldest element.
func (q *SPSC[T]) Pop() (T, bool) {
	var zero T
	head := q.head.Load()
	if head == q.tail.Load() {
		return zero, false
	}
	i := head % uint64(len(q.buf))
	v := q.buf[i]
	q.buf[i] = zero
	q.head.Store(head + 1)
	return v, true
}

// PopBatch moves up to len(dst) elements into dst in FIFO order and returns
// how many were moved.
func (q *SPSC[T]) PopBatch(dst []T) int {
	var zero T
	head := q.head.Load()
	avail := q.tail.Load() - head
	n := uint64(len(dst))
	if avail < n {
		n = avail
	}
	size := uint64(len(q.buf))
	for k := uint64(0); k < n; k++ {
		i := (head + k) % size
		dst[k] = q.buf[i]
		q.buf[i] = zero
	}
	if n > 0 {
		q.head.Store(head + n)
	}
	return int(n)
}

// Drain discards everything currently queued and returns the count.
func (q *SPSC[T]) Drain() int {
	n := 0
	for {
		if _, ok := q.Pop(); !ok {
			return n
		}
		n++
	}
}
