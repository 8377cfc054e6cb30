package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is a reliable list queue: BLMOVE parks each delivery on a
// processing list until Ack removes it, so a crashed worker's tasks survive
// and are re-queued by Recover at the next start.
type RedisQueue struct {
	rc          *redis.Client
	pendingKey  string
	inflightKey string
	pollTimeout time.Duration
	closed      chan struct{}
	closeOnce   sync.Once
}

// NewRedisQueue creates a queue under the given key prefix, e.g. "tasks".
func NewRedisQueue(rc *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "tasks"
	}
	return &RedisQueue{
		rc:          rc,
		pendingKey:  prefix + ":pending",
		inflightKey: prefix + ":processing",
		pollTimeout: 5 * time.Second,
		closed:      make(chan struct{}),
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	raw, err := encodeTask(t)
	if err != nil {
		return err
	}
	return q.rc.LPush(ctx, q.pendingKey, raw).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		select {
		case <-q.closed:
			return nil, ErrQueueClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		raw, err := q.rc.BLMove(ctx, q.pendingKey, q.inflightKey, "RIGHT", "LEFT", q.pollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("dequeue: %w", err)
		}

		t, err := decodeTask(raw)
		if err != nil {
			// poison message: drop it from the processing list
			_ = q.rc.LRem(ctx, q.inflightKey, 1, raw).Err()
			return nil, fmt.Errorf("decode task: %w", err)
		}
		return &Delivery{Task: t, raw: raw}, nil
	}
}

func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	return q.rc.LRem(ctx, q.inflightKey, 1, d.raw).Err()
}

// Recover moves everything left on the processing list back to pending.
// Call it once before starting workers.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		_, err := q.rc.LMove(ctx, q.inflightKey, q.pendingKey, "RIGHT", "RIGHT").Result()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

func (q *RedisQueue) Close() error {
	q.closeOnce.Do(func() { close(q.closed) })
	return nil
}
