package tasks

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func fastWorker(q Queue, retries int) *Worker {
	return NewWorker(q, WorkerConfig{
		Concurrency: 1,
		MaxRetries:  retries,
		TimeLimit:   time.Second,
		BackoffBase: time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
	})
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	w := fastWorker(NewMemoryQueue(1), 3)
	calls := 0
	w.Handle("flaky", func(ctx context.Context, t Task) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	attempts, err := w.Execute(context.Background(), NewTask("flaky", 0))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteGivesUpAfterMaxRetries(t *testing.T) {
	w := fastWorker(NewMemoryQueue(1), 3)
	w.Handle("broken", func(ctx context.Context, t Task) error {
		return errors.New("still broken")
	})

	attempts, err := w.Execute(context.Background(), NewTask("broken", 0))
	if err == nil || err.Error() != "still broken" {
		t.Fatalf("expected last error, got %v", err)
	}
	if attempts != 4 {
		t.Fatalf("expected 1 attempt plus 3 retries, got %d", attempts)
	}
}

func TestExecutePermanentErrorStopsRetrying(t *testing.T) {
	w := fastWorker(NewMemoryQueue(1), 3)
	w.Handle("bad-input", func(ctx context.Context, t Task) error {
		return Permanent(errors.New("invalid window"))
	})

	attempts, err := w.Execute(context.Background(), NewTask("bad-input", 0))
	if err == nil || !strings.Contains(err.Error(), "invalid window") {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestExecuteTimeLimit(t *testing.T) {
	w := NewWorker(NewMemoryQueue(1), WorkerConfig{
		TimeLimit:     20 * time.Millisecond,
		SoftTimeLimit: 5 * time.Millisecond,
		BackoffBase:   time.Millisecond,
	})
	w.Handle("slow", func(ctx context.Context, t Task) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	attempts, err := w.Execute(context.Background(), NewTask("slow", 0))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected no retries, got %d attempts", attempts)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("time limit was not enforced")
	}
}

func TestExecuteRecoversPanics(t *testing.T) {
	w := fastWorker(NewMemoryQueue(1), 0)
	w.Handle("panicky", func(ctx context.Context, t Task) error {
		panic("boom")
	})

	_, err := w.Execute(context.Background(), NewTask("panicky", 0))
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("expected panic to surface as error, got %v", err)
	}
}

func TestExecuteUnknownTask(t *testing.T) {
	w := fastWorker(NewMemoryQueue(1), 0)
	if _, err := w.Execute(context.Background(), NewTask("nope", 0)); err == nil {
		t.Fatalf("expected error for unregistered task")
	}
}

func TestRunProcessesAndAcks(t *testing.T) {
	q := NewMemoryQueue(8)
	var mu sync.Mutex
	seen := map[uint]bool{}
	done := make(chan struct{}, 3)

	w := NewWorker(q, WorkerConfig{
		Concurrency: 2,
		BackoffBase: time.Millisecond,
		OnResult: func(t Task, attempts int, err error) {
			done <- struct{}{}
		},
	})
	w.Handle(TaskScrapePool, func(ctx context.Context, t Task) error {
		mu.Lock()
		seen[t.PoolID] = true
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(finished)
	}()

	for i := uint(1); i <= 3; i++ {
		if err := q.Enqueue(ctx, NewTask(TaskScrapePool, i)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for task %d", i+1)
		}
	}
	cancel()
	<-finished

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Fatalf("expected 3 pools processed, got %v", seen)
	}
	if n, _ := q.Recover(context.Background()); n != 0 {
		t.Fatalf("expected every task acknowledged, %d re-queued", n)
	}
}
