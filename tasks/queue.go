// Package tasks runs scrape and cache jobs from a queue with deferred
// acknowledgement, bounded run time and retry with exponential backoff.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Task names.
const (
	TaskScrapePool            = "scrape_pool"
	TaskScrapeAllPools        = "scrape_all_pools"
	TaskRefreshAnalyticsCache = "refresh_analytics_cache"
)

// ErrQueueClosed is returned by Dequeue after Close.
var ErrQueueClosed = errors.New("queue closed")

// Task is the queued envelope of one job.
type Task struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	PoolID     uint      `json:"pool_id,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewTask builds a task with a fresh id.
func NewTask(name string, poolID uint) Task {
	return Task{ID: uuid.NewString(), Name: name, PoolID: poolID, EnqueuedAt: time.Now().UTC()}
}

// Delivery is a dequeued task that must be acknowledged once handled.
type Delivery struct {
	Task Task
	raw  string
}

// Queue is an at-least-once task queue.
type Queue interface {
	Enqueue(ctx context.Context, t Task) error
	// Dequeue blocks until a task is available, ctx is done or the queue is closed.
	Dequeue(ctx context.Context) (*Delivery, error)
	// Ack removes a delivered task for good.
	Ack(ctx context.Context, d *Delivery) error
	// Recover re-queues tasks that were delivered but never acknowledged.
	Recover(ctx context.Context) (int, error)
	Close() error
}

func encodeTask(t Task) (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeTask(raw string) (Task, error) {
	var t Task
	err := json.Unmarshal([]byte(raw), &t)
	return t, err
}
