// Package ring provides a capacity-bounded FIFO buffer used for status history
// and console traffic records.
package ring

// Buffer is a fixed-capacity FIFO buffer of T.
//
// When circular mode is enabled, pushing onto a full buffer evicts the oldest
// entry; otherwise the push is refused. The zero value is not usable, create
// instances with New.
//
// Buffer is not safe for concurrent use; callers own the locking.
type Buffer[T any] struct {
	items    []T
	head     int
	size     int
	circular bool
}

// New creates a Buffer with the given capacity.
//
// If circular is true the buffer evicts the oldest entry on overflow,
// otherwise Push refuses new entries once the buffer is full.
func New[T any](capacity int, circular bool) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{
		items:    make([]T, capacity),
		circular: circular,
	}
}

// Push appends an item at the tail of the buffer.
//
// It returns false if the buffer is full and not in circular mode.
func (b *Buffer[T]) Push(item T) bool {
	if b.size == len(b.items) {
		if !b.circular {
			return false
		}
		// evict oldest
		b.items[b.head] = item
		b.head = (b.head + 1) % len(b.items)
		return true
	}

	b.items[(b.head+b.size)%len(b.items)] = item
	b.size++

	return true
}

// Len returns the number of items currently held.
func (b *Buffer[T]) Len() int {
	return b.size
}

// Cap returns the buffer capacity.
func (b *Buffer[T]) Cap() int {
	return len(b.items)
}

// At returns the item at logical index i, where index 0 is the oldest entry.
func (b *Buffer[T]) At(i int) T {
	return b.items[(b.head+i)%len(b.items)]
}

// Last returns the newest entry and true, or the zero value and false when empty.
func (b *Buffer[T]) Last() (T, bool) {
	if b.size == 0 {
		var zero T
		return zero, false
	}
	return b.At(b.size - 1), true
}

// Snapshot returns the buffered items oldest-first as a freshly allocated slice.
func (b *Buffer[T]) Snapshot() []T {
	out := make([]T, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.At(i)
	}
	return out
}

// Reset drops all buffered items, keeping capacity and mode.
func (b *Buffer[T]) Reset() {
	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.head = 0
	b.size = 0
}
