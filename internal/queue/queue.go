// SPDX-License-Identifier: MIT

// Package queue implements the bounded single-producer/single-consumer
// FIFO used as a pipeline stage's input and output queue (spec.md §4.2).
//
// It reimplements original_source/util/pipeline.py's use of
// multiprocessing.Queue(maxsize=...) with get_nowait()/Empty, collapsed to
// an in-process goroutine-safe ring buffer since stage workers are
// goroutines here rather than separate processes.
package queue

import "sync"

// Bounded is a FIFO queue with capacity C >= 0 (0 = unbounded). TryPush
// fails when full; Push blocks until space is available or the queue is
// closed.
type Bounded[T any] struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond
	items    []T
	capacity int
	closed   bool
}

// NewBounded creates a queue with the given capacity. capacity <= 0 means
// unbounded.
func NewBounded[T any](capacity int) *Bounded[T] {
	q := &Bounded[T]{capacity: capacity}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

func (q *Bounded[T]) full() bool {
	return q.capacity > 0 && len(q.items) >= q.capacity
}

// TryPush appends an item without blocking. It returns false if the queue
// is full (the item is dropped) or closed.
func (q *Bounded[T]) TryPush(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.full() {
		return false
	}
	q.items = append(q.items, item)
	q.notEmpty.Signal()
	return true
}

// Push appends an item, blocking until space is available or the queue is
// closed. It returns false if the queue was closed before space freed up.
func (q *Bounded[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.full() && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return false
	}
	q.items = append(q.items, item)
	q.notEmpty.Signal()
	return true
}

// TryPop removes and returns the oldest item without blocking. ok is false
// if the queue is empty.
func (q *Bounded[T]) TryPop() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return item, false
	}
	item = q.items[0]
	q.items = q.items[1:]
	q.notFull.Signal()
	return item, true
}

// PopAll drains every item currently in the queue atomically, in FIFO
// order, without blocking.
func (q *Bounded[T]) PopAll() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	q.notFull.Broadcast()
	return out
}

// Len reports the number of items currently queued.
func (q *Bounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close marks the queue closed, waking any Push blocked on a full queue.
// Workers must treat queue closure as a clean stop (spec.md §4.4).
func (q *Bounded[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
}

// Closed reports whether Close has been called.
func (q *Bounded[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
