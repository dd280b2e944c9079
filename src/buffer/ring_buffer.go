package buffer

import (
	"sync"
	"time"

	"chainflow/src/models"
)

// -----------------------------------------------------------------------------
// RingBuffer is a fixed-size circular buffer of finalized records.
// True ring buffer - no resizing allowed!
//
// Writers (the owning aggregator) and readers (the dispatcher) run on
// different goroutines, so every operation takes the mutex; critical
// sections stay short and GetLatest copies out.
// -----------------------------------------------------------------------------

type RingBuffer struct {
	data     []models.MRecord
	capacity int
	index    int // Next write position
	size     int // Current number of elements
	mu       sync.Mutex
}

// -----------------------------------------------------------------------------

// NewRingBuffer creates a new buffer with fixed capacity
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1000 // Default reasonable size
	}

	return &RingBuffer{
		data:     make([]models.MRecord, capacity),
		capacity: capacity,
		index:    0,
		size:     0,
	}
}

// -----------------------------------------------------------------------------

// Push appends a record, evicting the single oldest one when full.
// Records are value types; the buffer never shares state with producers.
func (rb *RingBuffer) Push(record models.MRecord) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.data[rb.index] = record
	rb.index = (rb.index + 1) % rb.capacity

	// Update size (never exceeds capacity)
	if rb.size < rb.capacity {
		rb.size++
	}
}

// -----------------------------------------------------------------------------

// GetLatest returns the min(n, size) most recent records in chronological
// order. The returned slice is a copy.
func (rb *RingBuffer) GetLatest(n int) []models.MRecord {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size == 0 || n <= 0 {
		return []models.MRecord{}
	}

	count := n
	if n > rb.size {
		count = rb.size
	}

	result := make([]models.MRecord, count)

	// Latest data is at index-1
	startIdx := (rb.index - count + rb.capacity) % rb.capacity
	for i := 0; i < count; i++ {
		result[i] = rb.data[(startIdx+i)%rb.capacity]
	}

	return result
}

// -----------------------------------------------------------------------------

// GetAll returns all records in insertion order (oldest to newest)
func (rb *RingBuffer) GetAll() []models.MRecord {
	rb.mu.Lock()
	n := rb.size
	rb.mu.Unlock()
	return rb.GetLatest(n)
}

// -----------------------------------------------------------------------------

// Size returns current number of elements
func (rb *RingBuffer) Size() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size
}

// -----------------------------------------------------------------------------

// Capacity returns buffer capacity (fixed)
func (rb *RingBuffer) Capacity() int {
	return rb.capacity
}

// -----------------------------------------------------------------------------

// IsFull returns whether buffer is full
func (rb *RingBuffer) IsFull() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size == rb.capacity
}

// -----------------------------------------------------------------------------

// OldestTime returns the datetime of the oldest record, if any.
func (rb *RingBuffer) OldestTime() (time.Time, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size == 0 {
		return time.Time{}, false
	}

	var startIdx int
	if rb.size == rb.capacity {
		startIdx = rb.index // full buffer wraps, oldest sits at write position
	}
	return rb.data[startIdx].RecordTime(), true
}

// -----------------------------------------------------------------------------

// NewestTime returns the datetime of the most recent record, if any.
func (rb *RingBuffer) NewestTime() (time.Time, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size == 0 {
		return time.Time{}, false
	}
	last := (rb.index - 1 + rb.capacity) % rb.capacity
	return rb.data[last].RecordTime(), true
}

// -----------------------------------------------------------------------------

// Clear resets the buffer
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.index = 0
	rb.size = 0
}
