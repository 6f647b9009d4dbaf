// Package history keeps a bounded, oldest-first record of recent samples.
package history

import (
	"sync"

	"codeberg.org/mutker/sensordash/internal/sample"
)

// DefaultCapacity is the number of samples retained before the oldest is evicted.
const DefaultCapacity = 300

// Observer is notified of buffer changes, e.g. a history table view.
type Observer interface {
	OnAppend(s sample.Sample)
	OnClear()
}

// Buffer is a fixed-capacity FIFO ring. Appending to a full buffer evicts the
// oldest sample.
type Buffer struct {
	mu        sync.RWMutex
	items     []sample.Sample
	head      int
	count     int
	observers []Observer
}

// New returns an empty buffer. A non-positive capacity uses DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Buffer{items: make([]sample.Sample, capacity)}
}

// Subscribe registers an observer for append and clear events.
func (b *Buffer) Subscribe(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, o)
}

// Append adds s at the tail.
func (b *Buffer) Append(s sample.Sample) {
	b.mu.Lock()
	capacity := len(b.items)
	if b.count < capacity {
		b.items[(b.head+b.count)%capacity] = s
		b.count++
	} else {
		b.items[b.head] = s
		b.head = (b.head + 1) % capacity
	}
	observers := b.observers
	b.mu.Unlock()

	for _, o := range observers {
		o.OnAppend(s)
	}
}

// Clear empties the buffer unconditionally.
func (b *Buffer) Clear() {
	b.mu.Lock()
	clear(b.items)
	b.head, b.count = 0, 0
	observers := b.observers
	b.mu.Unlock()

	for _, o := range observers {
		o.OnClear()
	}
}

// Count returns the number of samples held.
func (b *Buffer) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Capacity returns the maximum number of samples held.
func (b *Buffer) Capacity() int {
	return len(b.items)
}

// Items returns a copy of the buffer, oldest first.
func (b *Buffer) Items() []sample.Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]sample.Sample, b.count)
	for i := range out {
		out[i] = b.items[(b.head+i)%len(b.items)]
	}

	return out
}

// Recent returns up to n samples, newest first. n <= 0 returns everything.
func (b *Buffer) Recent(n int) []sample.Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || n > b.count {
		n = b.count
	}
	out := make([]sample.Sample, n)
	for i := range out {
		out[i] = b.items[(b.head+b.count-1-i)%len(b.items)]
	}

	return out
}
