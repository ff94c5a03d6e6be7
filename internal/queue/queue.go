// Package queue provides the bounded FIFO shared between the demuxer, the
// real-time audio callback and the update loop. Every operation holds the
// queue's mutex for O(1) work only, so a consumer on a real-time thread never
// waits behind decode work.
package queue

import "sync"

// Queue is a mutex-guarded ring buffer FIFO with a capacity. Push treats the
// capacity as a soft limit (the ring grows, callers use Full for
// backpressure); TryPush treats it as a hard limit.
type Queue[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int
	size     int
	capacity int
}

// New creates a Queue with the given capacity. A capacity below one is
// raised to one.
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends v, growing the ring if the soft capacity is exceeded.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	if q.size == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.size)%len(q.buf)] = v
	q.size++
	q.mu.Unlock()
}

// TryPush appends v unless the queue already holds Cap items.
func (q *Queue[T]) TryPush(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size >= q.capacity {
		return false
	}
	if q.size == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.size)%len(q.buf)] = v
	q.size++
	return true
}

// TryPop removes and returns the head. It never waits: an empty queue
// returns the zero value and false.
func (q *Queue[T]) TryPop() (T, bool) {
	var zero T
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return zero, false
	}
	v := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return v, true
}

// Peek returns the head without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	var zero T
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return zero, false
	}
	return q.buf[q.head], true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the configured capacity.
func (q *Queue[T]) Cap() int {
	return q.capacity
}

// Full reports whether the queue holds at least Cap items.
func (q *Queue[T]) Full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size >= q.capacity
}

// Flush discards every queued item and returns how many were dropped. The
// ring shrinks back to its configured capacity.
func (q *Queue[T]) Flush() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.size
	q.buf = make([]T, q.capacity)
	q.head = 0
	q.size = 0
	return n
}

// grow doubles the ring. Caller holds mu.
func (q *Queue[T]) grow() {
	next := make([]T, 2*len(q.buf))
	for i := 0; i < q.size; i++ {
		next[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = next
	q.head = 0
}
