package ledger

// ring is a bounded FIFO. Appending beyond capacity evicts the oldest entry.
type ring[T any] struct {
	buf   []T
	start int
	size  int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

// push appends v, evicting the oldest element when full.
func (r *ring[T]) push(v T) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = v
		r.size++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring[T]) len() int { return r.size }

// items returns the contents oldest first.
func (r *ring[T]) items() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// removeFirst deletes the oldest element matching pred and reports whether
// one was found.
func (r *ring[T]) removeFirst(pred func(T) bool) bool {
	for i := 0; i < r.size; i++ {
		idx := (r.start + i) % len(r.buf)
		if !pred(r.buf[idx]) {
			continue
		}
		// Shift the tail left one slot.
		for j := i; j < r.size-1; j++ {
			cur := (r.start + j) % len(r.buf)
			next := (r.start + j + 1) % len(r.buf)
			r.buf[cur] = r.buf[next]
		}
		var zero T
		r.buf[(r.start+r.size-1)%len(r.buf)] = zero
		r.size--
		return true
	}
	return false
}

// any reports whether some element matches pred.
func (r *ring[T]) any(pred func(T) bool) bool {
	for i := 0; i < r.size; i++ {
		if pred(r.buf[(r.start+i)%len(r.buf)]) {
			return true
		}
	}
	return false
}

// each applies fn to every element in place, oldest first.
func (r *ring[T]) each(fn func(*T)) {
	for i := 0; i < r.size; i++ {
		fn(&r.buf[(r.start+i)%len(r.buf)])
	}
}
