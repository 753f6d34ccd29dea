package dashboard

import "sync"

const defaultBufferSize = 500

// RingBuffer keeps the most recent session events.
type RingBuffer struct {
	mu    sync.RWMutex
	items []*DashboardEvent
	head  int
	count int
}

// NewRingBuffer creates a ring buffer with the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = defaultBufferSize
	}
	return &RingBuffer{items: make([]*DashboardEvent, capacity)}
}

// Add appends an event, dropping the oldest when full.
func (rb *RingBuffer) Add(event *DashboardEvent) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	size := len(rb.items)
	if rb.count < size {
		rb.items[(rb.head+rb.count)%size] = event
		rb.count++
		return
	}
	rb.items[rb.head] = event
	rb.head = (rb.head + 1) % size
}

// All returns all events oldest first.
func (rb *RingBuffer) All() []*DashboardEvent {
	return rb.Recent(0)
}

// Recent returns up to n of the newest events, oldest first. n <= 0 means all.
func (rb *RingBuffer) Recent(n int) []*DashboardEvent {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || n > rb.count {
		n = rb.count
	}
	size := len(rb.items)
	skip := rb.count - n
	out := make([]*DashboardEvent, n)
	for i := range out {
		out[i] = rb.items[(rb.head+skip+i)%size]
	}
	return out
}

// Len returns the number of buffered events.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}
