// Package queue buffers raw samples between the transport goroutine and the
// engine goroutine.
package queue

import (
	"sync"

	"github.com/ghalamif/TensileFlow/internal/domain"
	"github.com/ghalamif/TensileFlow/internal/ports"
)

var (
	_ ports.SampleQueue = (*MemQueue)(nil)
	_ ports.Notifier    = (*MemQueue)(nil)
)

// MemQueue is a bounded FIFO ring. Ready fires whenever the queue goes from
// empty to non-empty so the consumer can sleep instead of polling.
type MemQueue struct {
	mu    sync.Mutex
	ring  []ports.QueuedSample
	head  int
	size  int
	ready chan struct{}
}

func NewMemQueue(capacity int) *MemQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemQueue{
		ring:  make([]ports.QueuedSample, capacity),
		ready: make(chan struct{}, 1),
	}
}

// Enqueue adds s unless the queue is full.
func (q *MemQueue) Enqueue(id ports.WALEntryID, s *domain.Sample) bool {
	q.mu.Lock()
	if q.size == len(q.ring) {
		q.mu.Unlock()
		return false
	}
	q.ring[(q.head+q.size)%len(q.ring)] = ports.QueuedSample{ID: id, Sample: s}
	q.size++
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// DequeueBatch removes up to max samples in arrival order; max <= 0 takes everything.
func (q *MemQueue) DequeueBatch(max int) []ports.QueuedSample {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return nil
	}
	if max <= 0 || max > q.size {
		max = q.size
	}
	out := make([]ports.QueuedSample, max)
	for i := range out {
		idx := (q.head + i) % len(q.ring)
		out[i] = q.ring[idx]
		q.ring[idx] = ports.QueuedSample{}
	}
	q.head = (q.head + max) % len(q.ring)
	q.size -= max
	return out
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap is the queue capacity.
func (q *MemQueue) Cap() int { return len(q.ring) }

// Ready is signalled after an enqueue. A receive does not guarantee the
// queue is still non-empty.
func (q *MemQueue) Ready() <-chan struct{} { return q.ready }
