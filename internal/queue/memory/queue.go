// Package memory provides an in-process stage work queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/agentic-reviewer/internal/pipeline"
)

var (
	// ErrClosed is returned once the queue is closed and drained.
	ErrClosed = errors.New("queue closed")
	// ErrFull is returned by Enqueue when the queue holds its limit.
	ErrFull = errors.New("queue full")
)

// Queue is a FIFO of stage work. Enqueue never blocks, so workers can feed
// follow-up stages back into the queue they are draining.
type Queue struct {
	mu     sync.Mutex
	items  []pipeline.QueueItem
	limit  int
	ready  chan struct{}
	closed bool
}

// NewQueue returns a queue holding at most limit pending items. Zero means no limit.
func NewQueue(limit int) *Queue {
	return &Queue{limit: limit, ready: make(chan struct{}, 1)}
}

// Enqueue appends item.
func (q *Queue) Enqueue(ctx context.Context, item pipeline.QueueItem) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if q.limit > 0 && len(q.items) >= q.limit {
		return ErrFull
	}
	q.items = append(q.items, item)
	q.signal()
	return nil
}

// Dequeue pops the oldest item, waiting for one until ctx ends. Items queued
// before Close are still delivered.
func (q *Queue) Dequeue(ctx context.Context) (pipeline.QueueItem, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = pipeline.QueueItem{}
			q.items = q.items[1:]
			if len(q.items) > 0 {
				q.signal()
			}
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			return pipeline.QueueItem{}, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return pipeline.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.ready:
		}
	}
}

// Len reports the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops new work and wakes waiting consumers. It is safe to call twice.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ready)
}

// signal wakes one waiter. Callers hold mu.
func (q *Queue) signal() {
	if q.closed {
		return
	}
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
