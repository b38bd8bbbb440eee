package experience

import (
	"errors"
	"math/rand"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrBufferClosed is returned when operations are attempted on a closed buffer
	ErrBufferClosed = errors.New("experience buffer is closed")
)

// Buffer is a goroutine-safe ring buffer of transitions. When full, the oldest
// transition is evicted and counted in TotalDropped.
type Buffer struct {
	mu       sync.RWMutex
	buffer   []*Transition
	capacity int
	size     int
	head     int // write position
	tail     int // read position
	closed   bool

	rng *rand.Rand

	totalAdded   int64
	totalDropped int64
	totalRead    int64

	logger zerolog.Logger
}

// NewBuffer creates a new transition buffer with the specified capacity
func NewBuffer(capacity int, logger zerolog.Logger) *Buffer {
	return NewBufferWithSeed(capacity, 1, logger)
}

// NewBufferWithSeed is NewBuffer with an explicit seed for Sample
func NewBufferWithSeed(capacity int, seed int64, logger zerolog.Logger) *Buffer {
	if capacity <= 0 {
		capacity = 10000
	}

	return &Buffer{
		buffer:   make([]*Transition, capacity),
		capacity: capacity,
		rng:      rand.New(rand.NewSource(seed)),
		logger:   logger.With().Str("component", "experience_buffer").Logger(),
	}
}

// Add appends a transition, evicting the oldest one when full
func (b *Buffer) Add(t *Transition) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBufferClosed
	}

	b.addLocked(t)
	return nil
}

// AddBatch appends several transitions under one lock
func (b *Buffer) AddBatch(transitions []*Transition) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBufferClosed
	}

	for _, t := range transitions {
		b.addLocked(t)
	}

	if len(transitions) > 0 {
		b.logger.Debug().
			Int("batch_size", len(transitions)).
			Int64("total_added", b.totalAdded).
			Msg("Added batch of transitions")
	}
	return nil
}

func (b *Buffer) addLocked(t *Transition) {
	if b.size >= b.capacity {
		b.tail = (b.tail + 1) % b.capacity
		b.totalDropped++
		b.logger.Debug().
			Int64("dropped_total", b.totalDropped).
			Msg("Buffer full, dropping oldest transition")
	} else {
		b.size++
	}

	b.buffer[b.head] = t
	b.head = (b.head + 1) % b.capacity
	b.totalAdded++
}

// Get removes and returns up to n of the oldest transitions
func (b *Buffer) Get(n int) []*Transition {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n > b.size {
		n = b.size
	}

	result := make([]*Transition, n)
	for i := 0; i < n; i++ {
		result[i] = b.buffer[b.tail]
		b.buffer[b.tail] = nil
		b.tail = (b.tail + 1) % b.capacity
		b.size--
	}
	b.totalRead += int64(n)
	return result
}

// GetAll drains the buffer
func (b *Buffer) GetAll() []*Transition {
	b.mu.RLock()
	n := b.size
	b.mu.RUnlock()
	return b.Get(n)
}

// Sample returns n transitions drawn uniformly with replacement. The buffer is unchanged.
func (b *Buffer) Sample(n int) []*Transition {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == 0 || n <= 0 {
		return []*Transition{}
	}

	result := make([]*Transition, n)
	for i := range result {
		idx := (b.tail + b.rng.Intn(b.size)) % b.capacity
		result[i] = b.buffer[idx]
	}
	return result
}

// GetLatest returns the n most recent transitions, oldest first
func (b *Buffer) GetLatest(n int) []*Transition {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n > b.size {
		n = b.size
	}

	result := make([]*Transition, n)
	for i := 0; i < n; i++ {
		idx := (b.head - n + i + b.capacity) % b.capacity
		result[i] = b.buffer[idx]
	}
	return result
}

// Size returns the current number of transitions in the buffer
func (b *Buffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Capacity returns the maximum capacity of the buffer
func (b *Buffer) Capacity() int {
	return b.capacity
}

// IsFull returns true if the buffer is at capacity
func (b *Buffer) IsFull() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size >= b.capacity
}

// Clear removes all transitions from the buffer
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.size = 0
	b.head = 0
	b.tail = 0
	b.buffer = make([]*Transition, b.capacity)

	b.logger.Debug().Msg("Buffer cleared")
}

// Close stops the buffer accepting transitions. Stored ones can still be read.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true

	b.logger.Info().
		Int64("total_added", b.totalAdded).
		Int64("total_dropped", b.totalDropped).
		Int64("total_read", b.totalRead).
		Msg("Buffer closed")

	return nil
}

// Stats returns buffer statistics
func (b *Buffer) Stats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BufferStats{
		CurrentSize:    b.size,
		Capacity:       b.capacity,
		TotalAdded:     b.totalAdded,
		TotalDropped:   b.totalDropped,
		TotalRead:      b.totalRead,
		UtilizationPct: float64(b.size) / float64(b.capacity) * 100,
	}
}

// BufferStats contains buffer statistics
type BufferStats struct {
	CurrentSize    int
	Capacity       int
	TotalAdded     int64
	TotalDropped   int64
	TotalRead      int64
	UtilizationPct float64
}
