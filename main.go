package main

import (
	"context"
	"flag"
	"sync"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"

	"github.com/cppla/poolchecker/config"
	"github.com/cppla/poolchecker/models"
	"github.com/cppla/poolchecker/routes"
	"github.com/cppla/poolchecker/scheduler"
	"github.com/cppla/poolchecker/scraper"
	"github.com/cppla/poolchecker/services"
	"github.com/cppla/poolchecker/tasks"
	"github.com/cppla/poolchecker/utils"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config file (json or yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	defer utils.Logger.Sync()

	db, err := config.InitDatabase(cfg, &models.User{}, &models.Pool{}, &models.VisitorRecord{})
	if err != nil {
		utils.Sugar.Fatalf("database init failed: %v", err)
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	users := services.NewUserService(db)
	if cfg.AdminPassword != "" {
		if _, created, err := users.EnsureSuperuser(rootCtx, cfg.AdminEmail, cfg.AdminUsername, cfg.AdminPassword); err != nil {
			utils.Sugar.Errorf("admin bootstrap failed: %v", err)
		} else if created {
			utils.Sugar.Infof("created superuser %s", cfg.AdminUsername)
		}
	}

	rc := utils.NewRedisClient(rootCtx, cfg)
	cache := utils.NewCache(rc, time.Duration(cfg.AnalyticsCacheTTLSeconds)*time.Second)

	pools := services.NewPoolService(db, cache)
	visitors := services.NewVisitorService(db, cache, utils.Logger)
	analytics := services.NewAnalyticsService(db, pools, cache, services.AnalyticsOptions{
		OpenHour:  cfg.PoolOpenHour,
		CloseHour: cfg.PoolCloseHour,
		Logger:    utils.Logger,
	})

	fetcher, err := scraper.New(cfg, utils.Logger)
	if err != nil {
		utils.Sugar.Fatalf("scraper init failed: %v", err)
	}

	var queue tasks.Queue
	if rc != nil {
		queue = tasks.NewRedisQueue(rc, "poolchecker:tasks")
	} else {
		utils.Sugar.Warn("redis unavailable, using in-memory task queue")
		queue = tasks.NewMemoryQueue(256)
	}

	dispatcher := tasks.NewDispatcher(queue, pools, utils.Logger)
	worker := tasks.NewWorker(queue, tasks.WorkerConfig{
		Concurrency:   cfg.WorkerConcurrency,
		MaxRetries:    cfg.TaskMaxRetries,
		TimeLimit:     time.Duration(cfg.TaskTimeLimitSec) * time.Second,
		SoftTimeLimit: time.Duration(cfg.TaskSoftTimeLimitSec) * time.Second,
		BackoffBase:   time.Duration(cfg.RetryBackoffBaseMs) * time.Millisecond,
		BackoffMax:    time.Duration(cfg.RetryBackoffMaxSec) * time.Second,
		Logger:        utils.Logger,
	})
	tasks.RegisterHandlers(worker, tasks.NewScraper(pools, visitors, fetcher, utils.Logger), dispatcher, analytics)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = worker.Run(rootCtx)
	}()

	var sched *scheduler.Scheduler
	if cfg.SchedulerEnabled {
		sched, err = scheduler.New(dispatcher, scheduler.Config{
			Timezone:         cfg.SchedulerTimezone,
			ScrapeSpec:       cfg.ScrapeCron,
			CacheRefreshSpec: cfg.CacheRefreshCron,
			Logger:           utils.Logger,
		})
		if err != nil {
			utils.Sugar.Fatalf("scheduler init failed: %v", err)
		}
		sched.Start(rootCtx)
		utils.Logger.Info("scheduler started",
			zap.Time("next_scrape", sched.Next(scheduler.JobScrapeAll)),
			zap.Time("next_cache_refresh", sched.Next(scheduler.JobCacheRefresh)))
	}

	r := routes.SetupRouter(cfg, routes.Deps{
		DB:         db,
		Users:      users,
		Pools:      pools,
		Visitors:   visitors,
		Analytics:  analytics,
		Dispatcher: dispatcher,
		Tokens:     utils.NewTokenManager(cfg),
		Blacklist:  utils.NewTokenBlacklist(rc),
	})

	shutdown := func() {
		if sched != nil {
			sched.Stop()
		}
		cancel()
	}

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	if err := utils.GraceServer(":"+cfg.AppPort, r, shutdown); err != nil {
		utils.Sugar.Errorf("server stopped with error: %v", err)
	}

	shutdown()
	wg.Wait()
	_ = queue.Close()
	if rc != nil {
		_ = rc.Close()
	}
	utils.Sugar.Info("shutdown complete")
}
