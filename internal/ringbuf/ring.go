// Package ringbuf provides a fixed-capacity circular buffer.
//
// Pushing onto a full ring overwrites the oldest element. A Ring is not safe
// for concurrent use.
package ringbuf

// Ring is a fixed-capacity insertion-ordered buffer.
type Ring[T any] struct {
	items []T
	head  int
	size  int
}

// New creates a ring holding at most capacity elements.
// Capacities below one are raised to one.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}

	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends item, evicting the oldest element when the ring is full.
// It reports the evicted element, if any.
func (r *Ring[T]) Push(item T) (evicted T, ok bool) {
	if r.size < len(r.items) {
		r.items[(r.head+r.size)%len(r.items)] = item
		r.size++
		return evicted, false
	}

	evicted = r.items[r.head]
	r.items[r.head] = item
	r.head = (r.head + 1) % len(r.items)

	return evicted, true
}

// Len returns the number of stored elements.
func (r *Ring[T]) Len() int {
	return r.size
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// At returns the element at index, where 0 is the oldest.
func (r *Ring[T]) At(index int) (T, bool) {
	var zero T
	if index < 0 || index >= r.size {
		return zero, false
	}

	return r.items[r.slot(index)], true
}

// Newest returns the most recently pushed element.
func (r *Ring[T]) Newest() (T, bool) {
	return r.At(r.size - 1)
}

// Do calls fn for every element from oldest to newest until fn returns false.
func (r *Ring[T]) Do(fn func(T) bool) {
	for index := range r.size {
		if !fn(r.items[r.slot(index)]) {
			return
		}
	}
}

// Reverse calls fn for every element from newest to oldest until fn returns
// false.
func (r *Ring[T]) Reverse(fn func(T) bool) {
	for index := r.size - 1; index >= 0; index-- {
		if !fn(r.items[r.slot(index)]) {
			return
		}
	}
}

// ReplaceFunc replaces, in place, every element for which match returns true
// with the result of replace. It returns the number of replaced elements.
func (r *Ring[T]) ReplaceFunc(match func(T) bool, replace func(T) T) int {
	replaced := 0
	for index := range r.size {
		slot := r.slot(index)
		if match(r.items[slot]) {
			r.items[slot] = replace(r.items[slot])
			replaced++
		}
	}

	return replaced
}

// Retain drops every element for which keep returns false, preserving order.
func (r *Ring[T]) Retain(keep func(T) bool) {
	kept := make([]T, 0, r.size)
	r.Do(func(item T) bool {
		if keep(item) {
			kept = append(kept, item)
		}
		return true
	})

	clear(r.items)
	copy(r.items, kept)
	r.head = 0
	r.size = len(kept)
}

// Snapshot returns a copy of the elements from oldest to newest.
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, 0, r.size)
	r.Do(func(item T) bool {
		out = append(out, item)
		return true
	})

	return out
}

func (r *Ring[T]) slot(index int) int {
	return (r.head + index) % len(r.items)
}
