// Package queue holds the buffers between network goroutines and the simulation tick.
//
// Queue is an unbounded FIFO filled by handlers and drained whole once per tick. Ring
// keeps the recent past of a predicted object, such as its input history.
package queue

import (
	"sync"
)

// Queue is a thread-safe FIFO drained as a batch.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
}

func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Push appends items in order.
func (q *Queue[T]) Push(items ...T) {
	q.mu.Lock()
	q.items = append(q.items, items...)
	q.mu.Unlock()
}

func (q *Queue[T]) Empty() bool {
	return q.Len() == 0
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear discards everything queued.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	clear(q.items)
	q.items = q.items[:0]
	q.mu.Unlock()
}

// Drain returns the queued items oldest first and leaves the queue empty. The returned
// slice is owned by the caller.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = make([]T, 0, cap(out))
	return out
}

// Ring is a fixed-capacity buffer that overwrites its oldest item when full.
type Ring[T any] struct {
	mu    sync.Mutex
	items []T
	start int
	count int
}

// NewRing creates a ring holding at most size items. size is clamped to at least 1.
func NewRing[T any](size int) *Ring[T] {
	return &Ring[T]{items: make([]T, max(size, 1))}
}

// Push appends item, evicting the oldest one when the ring is full.
func (r *Ring[T]) Push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count < len(r.items) {
		r.items[(r.start+r.count)%len(r.items)] = item
		r.count++
		return
	}
	r.items[r.start] = item
	r.start = (r.start + 1) % len(r.items)
}

// Len returns the number of items held.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// Find returns the newest item matching fn.
func (r *Ring[T]) Find(fn func(T) bool) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := r.count - 1; i >= 0; i-- {
		item := r.items[(r.start+i)%len(r.items)]
		if fn(item) {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// Replace overwrites the newest item matching fn and reports whether one was found.
func (r *Ring[T]) Replace(fn func(T) bool, item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := r.count - 1; i >= 0; i-- {
		idx := (r.start + i) % len(r.items)
		if fn(r.items[idx]) {
			r.items[idx] = item
			return true
		}
	}
	return false
}

// Newest returns the most recently pushed item.
func (r *Ring[T]) Newest() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		var zero T
		return zero, false
	}
	return r.items[(r.start+r.count-1)%len(r.items)], true
}

// Items returns a copy of the held items, oldest first.
func (r *Ring[T]) Items() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, r.count)
	for i := range out {
		out[i] = r.items[(r.start+i)%len(r.items)]
	}
	return out
}

// DropWhile removes items from the oldest end while fn holds.
func (r *Ring[T]) DropWhile(fn func(T) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	for r.count > 0 && fn(r.items[r.start]) {
		r.items[r.start] = zero
		r.start = (r.start + 1) % len(r.items)
		r.count--
	}
}

// Clear removes all items.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.items)
	r.start, r.count = 0, 0
}
