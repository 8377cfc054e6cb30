package tasks

import (
	"context"
	"sync"
)

// MemoryQueue is the in-process fallback used when redis is not available.
// Unacknowledged tasks are lost with the process.
type MemoryQueue struct {
	ch        chan Task
	mu        sync.Mutex
	inflight  map[string]Task
	closed    chan struct{}
	closeOnce sync.Once
}

// NewMemoryQueue creates a queue holding up to size pending tasks.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1024
	}
	return &MemoryQueue{
		ch:       make(chan Task, size),
		inflight: map[string]Task{},
		closed:   make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, t Task) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closed:
		return ErrQueueClosed
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	select {
	case t := <-q.ch:
		q.mu.Lock()
		q.inflight[t.ID] = t
		q.mu.Unlock()
		return &Delivery{Task: t}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.closed:
		return nil, ErrQueueClosed
	}
}

func (q *MemoryQueue) Ack(_ context.Context, d *Delivery) error {
	q.mu.Lock()
	delete(q.inflight, d.Task.ID)
	q.mu.Unlock()
	return nil
}

// Recover puts in-flight tasks back on the queue.
func (q *MemoryQueue) Recover(ctx context.Context) (int, error) {
	q.mu.Lock()
	pending := make([]Task, 0, len(q.inflight))
	for id, t := range q.inflight {
		pending = append(pending, t)
		delete(q.inflight, id)
	}
	q.mu.Unlock()

	for i, t := range pending {
		if err := q.Enqueue(ctx, t); err != nil {
			return i, err
		}
	}
	return len(pending), nil
}

// Len returns the number of pending tasks.
func (q *MemoryQueue) Len() int { return len(q.ch) }

func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.closed) })
	return nil
}
