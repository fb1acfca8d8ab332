// Package ring provides a fixed-capacity FIFO buffer that evicts its oldest
// element when full.
package ring

// Ring is a bounded FIFO buffer. A capacity of zero or less makes the ring
// unbounded.
//
// Ring is not safe for concurrent use; owners guard it with their own lock.
type Ring[T any] struct {
	buf     []T
	start   int
	n       int
	cap     int
	evicted uint64
}

// New returns an empty Ring holding at most capacity elements.
//
// Postcondition: Cap() == max(capacity, 0).
func New[T any](capacity int) *Ring[T] {
	if capacity < 0 {
		capacity = 0
	}
	r := &Ring[T]{cap: capacity}
	if capacity > 0 {
		r.buf = make([]T, capacity)
	}
	return r
}

// Push appends v, evicting the oldest element if the ring is full.
//
// Postcondition: Returns true iff an element was evicted; Len() <= Cap() when bounded.
func (r *Ring[T]) Push(v T) bool {
	if r.cap == 0 {
		r.buf = append(r.buf, v)
		r.n++
		return false
	}
	if r.n < r.cap {
		r.buf[(r.start+r.n)%r.cap] = v
		r.n++
		return false
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % r.cap
	r.evicted++
	return true
}

// Items returns a copy of the contents, oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.n)
	if r.cap == 0 {
		copy(out, r.buf)
		return out
	}
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%r.cap]
	}
	return out
}

// Last returns up to n of the newest elements, oldest first.
func (r *Ring[T]) Last(n int) []T {
	items := r.Items()
	if n <= 0 {
		return items[:0]
	}
	if n >= len(items) {
		return items
	}
	return items[len(items)-n:]
}

// Len reports the number of stored elements.
func (r *Ring[T]) Len() int { return r.n }

// Cap reports the capacity; zero means unbounded.
func (r *Ring[T]) Cap() int { return r.cap }

// Evicted reports how many elements have been pushed out since creation or the last Reset.
func (r *Ring[T]) Evicted() uint64 { return r.evicted }

// Reset empties the ring without changing its capacity.
func (r *Ring[T]) Reset() {
	if r.cap == 0 {
		r.buf = nil
	} else {
		var zero T
		for i := range r.buf {
			r.buf[i] = zero
		}
	}
	r.start, r.n, r.evicted = 0, 0, 0
}
