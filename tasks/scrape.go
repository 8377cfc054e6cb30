package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cppla/poolchecker/models"
	"github.com/cppla/poolchecker/scraper"
	"github.com/cppla/poolchecker/services"
)

// ScrapeStatus is the outcome of one scrape cycle.
type ScrapeStatus string

const (
	StatusStored           ScrapeStatus = "stored"
	StatusDuplicate        ScrapeStatus = "duplicate"
	StatusSkippedNotFound  ScrapeStatus = "skipped_not_found"
	StatusSkippedInactive  ScrapeStatus = "skipped_inactive"
	StatusSkippedOffWindow ScrapeStatus = "skipped_outside_window"
)

// ScrapeResult describes a finished scrape cycle.
type ScrapeResult struct {
	PoolID       uint         `json:"pool_id"`
	Status       ScrapeStatus `json:"status"`
	VisitorCount int          `json:"visitor_count,omitempty"`
	Timestamp    time.Time    `json:"timestamp,omitempty"`
	RecordID     uint         `json:"record_id,omitempty"`
}

// Scraper runs the eligibility check, fetch and persist steps for one pool.
type Scraper struct {
	pools    *services.PoolService
	visitors *services.VisitorService
	fetcher  scraper.Fetcher
	now      func() time.Time
	logger   *zap.Logger
}

// NewScraper creates a Scraper. logger may be nil.
func NewScraper(pools *services.PoolService, visitors *services.VisitorService, fetcher scraper.Fetcher, logger *zap.Logger) *Scraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{pools: pools, visitors: visitors, fetcher: fetcher, now: time.Now, logger: logger}
}

// SetClock replaces the time source used for eligibility and timestamps.
func (s *Scraper) SetClock(now func() time.Time) { s.now = now }

// ScrapePool scrapes one pool. Skips are reported through the result, not as errors;
// an error means the cycle failed and may be retried.
func (s *Scraper) ScrapePool(ctx context.Context, poolID uint) (*ScrapeResult, error) {
	log := s.logger.With(zap.Uint("pool_id", poolID))

	pool, err := s.pools.GetByID(ctx, poolID)
	if errors.Is(err, services.ErrPoolNotFound) {
		log.Info("scrape skipped: pool not found")
		return &ScrapeResult{PoolID: poolID, Status: StatusSkippedNotFound}, nil
	}
	if err != nil {
		return nil, err
	}
	if !pool.IsActive {
		log.Info("scrape skipped: pool inactive")
		return &ScrapeResult{PoolID: poolID, Status: StatusSkippedInactive}, nil
	}
	inWindow, err := services.WithinScrapeWindow(pool, s.now())
	if err != nil {
		return nil, Permanent(fmt.Errorf("pool %d scrape window: %w", pool.ID, err))
	}
	if !inWindow {
		log.Info("scrape skipped: outside active hours",
			zap.String("start", pool.ScrapeStartTime),
			zap.String("end", pool.ScrapeEndTime),
			zap.String("timezone", pool.Timezone))
		return &ScrapeResult{PoolID: poolID, Status: StatusSkippedOffWindow}, nil
	}

	count, err := s.fetcher.FetchVisitorCount(ctx, pool.URL, pool.ElementID)
	if err != nil {
		log.Warn("scrape fetch failed", zap.String("url", pool.URL), zap.Error(err))
		return nil, err
	}
	return s.persist(ctx, pool, count, s.now())
}

func (s *Scraper) persist(ctx context.Context, pool *models.Pool, count int, observedAt time.Time) (*ScrapeResult, error) {
	rec, created, err := s.visitors.CreateFromScrape(ctx, pool, count, observedAt)
	if err != nil {
		return nil, err
	}
	res := &ScrapeResult{PoolID: pool.ID, VisitorCount: count, Timestamp: observedAt.Truncate(time.Second).UTC()}
	if !created {
		res.Status = StatusDuplicate
		return res, nil
	}
	res.Status = StatusStored
	res.RecordID = rec.ID
	s.logger.Info("visitor count stored",
		zap.Uint("pool_id", pool.ID),
		zap.String("pool", pool.Name),
		zap.Int("visitor_count", count))
	return res, nil
}

// DispatchResult reports the tasks fanned out by ScrapeAll.
type DispatchResult struct {
	Count   int      `json:"count"`
	TaskIDs []string `json:"task_ids"`
}

// Dispatcher enqueues tasks.
type Dispatcher struct {
	q      Queue
	pools  *services.PoolService
	logger *zap.Logger
}

// NewDispatcher creates a Dispatcher. logger may be nil.
func NewDispatcher(q Queue, pools *services.PoolService, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{q: q, pools: pools, logger: logger}
}

// EnqueueScrape queues a scrape of one pool and returns the task id.
func (d *Dispatcher) EnqueueScrape(ctx context.Context, poolID uint) (string, error) {
	return d.enqueue(ctx, NewTask(TaskScrapePool, poolID))
}

// EnqueueScrapeAll queues the fan-out task.
func (d *Dispatcher) EnqueueScrapeAll(ctx context.Context) (string, error) {
	return d.enqueue(ctx, NewTask(TaskScrapeAllPools, 0))
}

// EnqueueCacheRefresh queues an analytics cache refresh.
func (d *Dispatcher) EnqueueCacheRefresh(ctx context.Context) (string, error) {
	return d.enqueue(ctx, NewTask(TaskRefreshAnalyticsCache, 0))
}

func (d *Dispatcher) enqueue(ctx context.Context, t Task) (string, error) {
	if err := d.q.Enqueue(ctx, t); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", t.Name, err)
	}
	return t.ID, nil
}

// ScrapeAll enqueues one independent scrape task per active pool without waiting for them.
func (d *Dispatcher) ScrapeAll(ctx context.Context) (*DispatchResult, error) {
	pools, err := d.pools.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	res := &DispatchResult{TaskIDs: make([]string, 0, len(pools))}
	for _, p := range pools {
		id, err := d.EnqueueScrape(ctx, p.ID)
		if err != nil {
			return res, err
		}
		res.TaskIDs = append(res.TaskIDs, id)
	}
	res.Count = len(res.TaskIDs)
	d.logger.Info("dispatched scrape tasks", zap.Int("count", res.Count))
	return res, nil
}

// CacheRefresher is the analytics cache operation run by the daily task.
type CacheRefresher interface {
	RefreshCache(ctx context.Context) (int, error)
}

// RegisterHandlers wires the task names to their implementations.
func RegisterHandlers(w *Worker, s *Scraper, d *Dispatcher, cache CacheRefresher) {
	w.Handle(TaskScrapePool, func(ctx context.Context, t Task) error {
		_, err := s.ScrapePool(ctx, t.PoolID)
		return err
	})
	w.Handle(TaskScrapeAllPools, func(ctx context.Context, t Task) error {
		_, err := d.ScrapeAll(ctx)
		return err
	})
	w.Handle(TaskRefreshAnalyticsCache, func(ctx context.Context, t Task) error {
		_, err := cache.RefreshCache(ctx)
		return err
	})
}
