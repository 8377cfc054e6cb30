// Package scheduler fires the periodic jobs that feed the task queue.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job names.
const (
	JobScrapeAll    = "scrape-all-pools"
	JobCacheRefresh = "refresh-analytics-cache"
)

// Enqueuer is the subset of tasks.Dispatcher the scheduler needs.
type Enqueuer interface {
	EnqueueScrapeAll(ctx context.Context) (string, error)
	EnqueueCacheRefresh(ctx context.Context) (string, error)
}

// Config configures the Scheduler.
type Config struct {
	// Timezone the cron expressions are evaluated in. Default: CET.
	Timezone string

	// ScrapeSpec triggers the scrape fan-out. Default: every 10 minutes.
	ScrapeSpec string

	// CacheRefreshSpec triggers the analytics cache refresh. Default: daily at 03:00.
	CacheRefreshSpec string

	Logger *zap.Logger
}

func (c *Config) defaults() {
	if c.Timezone == "" {
		c.Timezone = "CET"
	}
	if c.ScrapeSpec == "" {
		c.ScrapeSpec = "*/10 * * * *"
	}
	if c.CacheRefreshSpec == "" {
		c.CacheRefreshSpec = "0 3 * * *"
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Scheduler owns a cron instance with the two periodic jobs.
type Scheduler struct {
	cfg  Config
	cron *cron.Cron
	enq  Enqueuer
	ctx  context.Context
	ids  map[string]cron.EntryID
}

// New validates the schedule and registers the jobs. Call Start to begin firing.
func New(enq Enqueuer, cfg Config) (*Scheduler, error) {
	cfg.defaults()
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler timezone %q: %w", cfg.Timezone, err)
	}

	cl := cronLogger{l: cfg.Logger.Sugar()}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s := &Scheduler{cfg: cfg, cron: c, enq: enq, ctx: context.Background(), ids: map[string]cron.EntryID{}}

	if err := s.add(JobScrapeAll, cfg.ScrapeSpec, s.RunScrapeAll); err != nil {
		return nil, err
	}
	if err := s.add(JobCacheRefresh, cfg.CacheRefreshSpec, s.RunCacheRefresh); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) add(name, spec string, fn func()) error {
	id, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.ids[name] = id
	return nil
}

// Start begins firing jobs; ctx bounds the enqueue calls they make.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	for name, id := range s.ids {
		s.cfg.Logger.Info("scheduler: job registered",
			zap.String("job", name),
			zap.Time("next", s.cron.Entry(id).Next))
	}
}

// Stop halts the cron and waits for a running job to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Next returns the next fire time of job, or the zero time when unknown or not started.
func (s *Scheduler) Next(job string) time.Time {
	id, ok := s.ids[job]
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

// Schedule returns the parsed schedule of job.
func (s *Scheduler) Schedule(job string) cron.Schedule {
	id, ok := s.ids[job]
	if !ok {
		return nil
	}
	return s.cron.Entry(id).Schedule
}

// RunScrapeAll enqueues the scrape fan-out task.
func (s *Scheduler) RunScrapeAll() {
	id, err := s.enq.EnqueueScrapeAll(s.ctx)
	if err != nil {
		s.cfg.Logger.Error("scheduler: enqueue scrape-all failed", zap.Error(err))
		return
	}
	s.cfg.Logger.Info("scheduler: scrape-all enqueued", zap.String("task_id", id))
}

// RunCacheRefresh enqueues the analytics cache refresh task.
func (s *Scheduler) RunCacheRefresh() {
	id, err := s.enq.EnqueueCacheRefresh(s.ctx)
	if err != nil {
		s.cfg.Logger.Error("scheduler: enqueue cache refresh failed", zap.Error(err))
		return
	}
	s.cfg.Logger.Info("scheduler: cache refresh enqueued", zap.String("task_id", id))
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
