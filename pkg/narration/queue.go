package narration

import (
	"context"
	"sync"
	"time"
)

// DefaultQueueCapacity is the default number of pending narrations.
const DefaultQueueCapacity = 2

// Item is an element popped from the queue. Shutdown marks the sentinel.
type Item struct {
	Record   Record
	Shutdown bool
}

// Queue is a bounded FIFO of narrations with one extra slot reserved for the
// shutdown sentinel. Pushes never block: a full queue rejects the record.
type Queue struct {
	mu       sync.Mutex // serializes producers so the bound check and send are atomic
	ch       chan Item
	capacity int
	closed   bool
}

// NewQueue creates a queue holding at most capacity records (minimum 1).
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch:       make(chan Item, capacity+1),
		capacity: capacity,
	}
}

// TryPush appends r if there is room. It returns false when the queue is full
// or has been shut down.
func (q *Queue) TryPush(r Record) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.ch) >= q.capacity {
		return false
	}
	select {
	case q.ch <- Item{Record: r}:
		return true
	default:
		return false
	}
}

// Shutdown pushes the sentinel without blocking. Records already queued are
// still delivered before it. Subsequent pushes are rejected. It reports
// whether the sentinel was queued by this call.
func (q *Queue) Shutdown() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.closed = true
	select {
	case q.ch <- Item{Shutdown: true}:
		return true
	default:
		return false
	}
}

// Pop waits up to timeout for the next item. ok is false on timeout or when
// ctx is done.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (item Item, ok bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case item = <-q.ch:
		return item, true
	case <-timer.C:
		return Item{}, false
	case <-ctx.Done():
		return Item{}, false
	}
}

// Len returns the number of queued items, including a pending sentinel.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the record capacity.
func (q *Queue) Cap() int { return q.capacity }
