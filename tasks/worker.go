package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Handler executes one task attempt. It must return once ctx is done.
type Handler func(ctx context.Context, t Task) error

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	// Concurrency is the number of tasks run in parallel. Default: 1.
	Concurrency int

	// MaxRetries is how many times a failed task is retried after the first attempt.
	MaxRetries int

	// TimeLimit cancels an attempt's context. Default: 5m.
	TimeLimit time.Duration

	// SoftTimeLimit logs a warning while an attempt is still running. Default: 4m.
	SoftTimeLimit time.Duration

	// BackoffBase and BackoffMax bound the jittered exponential delay between attempts.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// OnResult, if set, observes every finished task.
	OnResult func(t Task, attempts int, err error)

	Logger *zap.Logger
}

func (c *WorkerConfig) defaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.TimeLimit <= 0 {
		c.TimeLimit = 5 * time.Minute
	}
	if c.SoftTimeLimit <= 0 || c.SoftTimeLimit >= c.TimeLimit {
		c.SoftTimeLimit = c.TimeLimit * 4 / 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 10 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Worker pulls tasks from a Queue and runs the registered handlers.
type Worker struct {
	q        Queue
	cfg      WorkerConfig
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewWorker creates a Worker. Register handlers before calling Run.
func NewWorker(q Queue, cfg WorkerConfig) *Worker {
	cfg.defaults()
	return &Worker{q: q, cfg: cfg, handlers: map[string]Handler{}}
}

// Handle registers h for tasks named name.
func (w *Worker) Handle(name string, h Handler) {
	w.mu.Lock()
	w.handlers[name] = h
	w.mu.Unlock()
}

// Run blocks until ctx is done or the queue is closed, then waits for running tasks.
func (w *Worker) Run(ctx context.Context) error {
	log := w.cfg.Logger
	if n, err := w.q.Recover(ctx); err != nil {
		log.Warn("worker: recover unacked tasks failed", zap.Error(err))
	} else if n > 0 {
		log.Info("worker: re-queued unacked tasks", zap.Int("count", n))
	}

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id)
		}(i)
	}
	log.Info("worker: started", zap.Int("concurrency", w.cfg.Concurrency))
	wg.Wait()
	log.Info("worker: stopped")
	return nil
}

func (w *Worker) loop(ctx context.Context, id int) {
	log := w.cfg.Logger.With(zap.Int("worker", id))
	for {
		d, err := w.q.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				return
			}
			log.Warn("worker: dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		w.process(ctx, d)
	}
}

// process runs a delivery and acknowledges it unless the worker is shutting down,
// in which case the task stays unacknowledged for redelivery.
func (w *Worker) process(ctx context.Context, d *Delivery) {
	t := d.Task
	log := w.cfg.Logger.With(zap.String("task_id", t.ID), zap.String("task", t.Name), zap.Uint("pool_id", t.PoolID))

	attempts, err := w.Execute(ctx, t)
	if err != nil && ctx.Err() != nil {
		log.Info("worker: shutdown during task, leaving it unacked", zap.Error(err))
		return
	}
	if err != nil {
		log.Error("worker: task failed", zap.Int("attempts", attempts), zap.Error(err))
	} else {
		log.Debug("worker: task done", zap.Int("attempts", attempts))
	}
	if w.cfg.OnResult != nil {
		w.cfg.OnResult(t, attempts, err)
	}

	ackCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.q.Ack(ackCtx, d); err != nil {
		log.Warn("worker: ack failed", zap.Error(err))
	}
}

// Execute runs t with retries and returns the number of attempts made.
func (w *Worker) Execute(ctx context.Context, t Task) (int, error) {
	w.mu.RLock()
	h, ok := w.handlers[t.Name]
	w.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("no handler for task %q", t.Name)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = w.cfg.BackoffBase
	eb.MaxInterval = w.cfg.BackoffMax
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.5
	eb.MaxElapsedTime = 0
	eb.Reset()
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(w.cfg.MaxRetries)), ctx)

	attempts := 0
	op := func() error {
		attempts++
		return w.attempt(ctx, h, t, attempts)
	}
	notify := func(err error, next time.Duration) {
		w.cfg.Logger.Warn("worker: attempt failed, retrying",
			zap.String("task_id", t.ID),
			zap.String("task", t.Name),
			zap.Int("attempt", attempts),
			zap.Duration("retry_in", next),
			zap.Error(err))
	}
	err := backoff.RetryNotify(op, b, notify)
	return attempts, err
}

func (w *Worker) attempt(parent context.Context, h Handler, t Task, n int) (err error) {
	ctx, cancel := context.WithTimeout(parent, w.cfg.TimeLimit)
	defer cancel()

	soft := time.AfterFunc(w.cfg.SoftTimeLimit, func() {
		w.cfg.Logger.Warn("worker: task exceeded soft time limit",
			zap.String("task_id", t.ID),
			zap.String("task", t.Name),
			zap.Int("attempt", n),
			zap.Duration("soft_limit", w.cfg.SoftTimeLimit))
	})
	defer soft.Stop()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.Name, r)
		}
	}()

	err = h(ctx, t)
	if err == nil && ctx.Err() == context.DeadlineExceeded && parent.Err() == nil {
		err = fmt.Errorf("task %s exceeded time limit %s", t.Name, w.cfg.TimeLimit)
	}
	return err
}
