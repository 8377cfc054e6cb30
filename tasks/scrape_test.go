package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cppla/poolchecker/models"
	"github.com/cppla/poolchecker/scraper"
	"github.com/cppla/poolchecker/services"
)

type fakeFetcher struct {
	count int
	err   error
	calls int
}

func (f *fakeFetcher) FetchVisitorCount(ctx context.Context, pageURL, elementID string) (int, error) {
	f.calls++
	return f.count, f.err
}

type scrapeEnv struct {
	pools    *services.PoolService
	visitors *services.VisitorService
	fetcher  *fakeFetcher
	scraper  *Scraper
}

func setupScrapeEnv(t *testing.T, now time.Time) *scrapeEnv {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := db.AutoMigrate(&models.Pool{}, &models.VisitorRecord{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	env := &scrapeEnv{
		pools:    services.NewPoolService(db, nil),
		visitors: services.NewVisitorService(db, nil, nil),
		fetcher:  &fakeFetcher{count: 64},
	}
	env.scraper = NewScraper(env.pools, env.visitors, env.fetcher, nil)
	env.scraper.SetClock(func() time.Time { return now })
	return env
}

func (e *scrapeEnv) createPool(t *testing.T, name string, active bool) *models.Pool {
	t.Helper()
	url, element := "https://example.com/"+name, "counter"
	pool, err := e.pools.Create(context.Background(), services.PoolInput{
		Name:      &name,
		URL:       &url,
		ElementID: &element,
		IsActive:  &active,
	})
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	return pool
}

// 2024-06-03 12:00 CEST, inside the default 05:50-22:10 window
var middayCET = time.Date(2024, time.June, 3, 10, 0, 0, 0, time.UTC)

func TestScrapePoolStoresReading(t *testing.T) {
	env := setupScrapeEnv(t, middayCET)
	pool := env.createPool(t, "Active", true)

	res, err := env.scraper.ScrapePool(context.Background(), pool.ID)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	if res.Status != StatusStored || res.VisitorCount != 64 || res.RecordID == 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	again, err := env.scraper.ScrapePool(context.Background(), pool.ID)
	if err != nil {
		t.Fatalf("second scrape: %v", err)
	}
	if again.Status != StatusDuplicate {
		t.Fatalf("expected duplicate at the same instant, got %+v", again)
	}
	n, _ := env.visitors.Count(context.Background(), &pool.ID)
	if n != 1 {
		t.Fatalf("expected one stored record, got %d", n)
	}
}

func TestScrapePoolSkips(t *testing.T) {
	env := setupScrapeEnv(t, middayCET)
	inactive := env.createPool(t, "Inactive", false)

	res, err := env.scraper.ScrapePool(context.Background(), inactive.ID)
	if err != nil || res.Status != StatusSkippedInactive {
		t.Fatalf("expected inactive skip, got %+v err=%v", res, err)
	}

	res, err = env.scraper.ScrapePool(context.Background(), 4242)
	if err != nil || res.Status != StatusSkippedNotFound {
		t.Fatalf("expected not-found skip, got %+v err=%v", res, err)
	}

	pool := env.createPool(t, "Night", true)
	// 03:00 CEST
	env.scraper.SetClock(func() time.Time { return time.Date(2024, time.June, 3, 1, 0, 0, 0, time.UTC) })
	res, err = env.scraper.ScrapePool(context.Background(), pool.ID)
	if err != nil || res.Status != StatusSkippedOffWindow {
		t.Fatalf("expected outside-window skip, got %+v err=%v", res, err)
	}
	if env.fetcher.calls != 0 {
		t.Fatalf("fetcher must not run for skipped pools")
	}
}

func TestScrapePoolFetchFailureIsRetryable(t *testing.T) {
	env := setupScrapeEnv(t, middayCET)
	pool := env.createPool(t, "Flaky", true)
	env.fetcher.err = &scraper.FetchError{Kind: scraper.KindElementMissing, URL: pool.URL}

	_, err := env.scraper.ScrapePool(context.Background(), pool.ID)
	var fe *scraper.FetchError
	if !errors.As(err, &fe) || fe.Kind != scraper.KindElementMissing {
		t.Fatalf("expected element-missing fetch error, got %v", err)
	}

	w := NewWorker(NewMemoryQueue(1), WorkerConfig{MaxRetries: 2, BackoffBase: time.Millisecond, BackoffMax: time.Millisecond})
	RegisterHandlers(w, env.scraper, nil, nil)
	env.fetcher.calls = 0
	attempts, err := w.Execute(context.Background(), NewTask(TaskScrapePool, pool.ID))
	if err == nil || attempts != 3 || env.fetcher.calls != 3 {
		t.Fatalf("expected 3 failed attempts, got attempts=%d calls=%d err=%v", attempts, env.fetcher.calls, err)
	}
}

func TestDispatcherScrapeAllEnqueuesActivePools(t *testing.T) {
	env := setupScrapeEnv(t, middayCET)
	a := env.createPool(t, "A", true)
	env.createPool(t, "B", false)
	c := env.createPool(t, "C", true)

	q := NewMemoryQueue(8)
	d := NewDispatcher(q, env.pools, nil)
	res, err := d.ScrapeAll(context.Background())
	if err != nil {
		t.Fatalf("scrape all: %v", err)
	}
	if res.Count != 2 || len(res.TaskIDs) != 2 {
		t.Fatalf("expected 2 tasks, got %+v", res)
	}

	got := map[uint]bool{}
	for i := 0; i < 2; i++ {
		dl, err := q.Dequeue(context.Background())
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if dl.Task.Name != TaskScrapePool {
			t.Fatalf("unexpected task %q", dl.Task.Name)
		}
		got[dl.Task.PoolID] = true
	}
	if !got[a.ID] || !got[c.ID] {
		t.Fatalf("expected tasks for pools %d and %d, got %v", a.ID, c.ID, got)
	}
	if q.Len() != 0 {
		t.Fatalf("expected no further tasks, %d left", q.Len())
	}
}

type countingRefresher struct{ calls int }

func (c *countingRefresher) RefreshCache(ctx context.Context) (int, error) {
	c.calls++
	return 0, nil
}

func TestRegisteredHandlersRunEndToEnd(t *testing.T) {
	env := setupScrapeEnv(t, middayCET)
	env.createPool(t, "End To End", true)

	q := NewMemoryQueue(8)
	d := NewDispatcher(q, env.pools, nil)
	refresher := &countingRefresher{}
	results := make(chan Task, 8)
	w := NewWorker(q, WorkerConfig{
		BackoffBase: time.Millisecond,
		OnResult: func(t Task, attempts int, err error) {
			if err == nil {
				results <- t
			}
		},
	})
	RegisterHandlers(w, env.scraper, d, refresher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	if _, err := d.EnqueueScrapeAll(ctx); err != nil {
		t.Fatalf("enqueue scrape all: %v", err)
	}
	if _, err := d.EnqueueCacheRefresh(ctx); err != nil {
		t.Fatalf("enqueue refresh: %v", err)
	}

	seen := map[string]int{}
	for len(seen) < 3 {
		select {
		case tk := <-results:
			seen[tk.Name]++
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out, finished tasks: %v", seen)
		}
	}
	if refresher.calls != 1 {
		t.Fatalf("expected one cache refresh, got %d", refresher.calls)
	}
	n, _ := env.visitors.Count(context.Background(), nil)
	if n != 1 {
		t.Fatalf("expected the fanned-out scrape to store one record, got %d", n)
	}
}
