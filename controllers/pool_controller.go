package controllers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cppla/poolchecker/services"
	"github.com/cppla/poolchecker/utils"
)

// ScrapeEnqueuer queues scrape tasks for the background worker.
type ScrapeEnqueuer interface {
	EnqueueScrape(ctx context.Context, poolID uint) (string, error)
}

// PoolController exposes the pool registry.
type PoolController struct {
	pools    *services.PoolService
	visitors *services.VisitorService
	enqueuer ScrapeEnqueuer
}

// NewPoolController creates a new PoolController instance.
func NewPoolController(pools *services.PoolService, visitors *services.VisitorService, enqueuer ScrapeEnqueuer) *PoolController {
	return &PoolController{pools: pools, visitors: visitors, enqueuer: enqueuer}
}

// ListPools returns pools with optional latest-reading statistics.
func (p *PoolController) ListPools(ctx *gin.Context) {
	skip, ok := intQuery(ctx, "skip", 0, 0, 1<<30)
	if !ok {
		return
	}
	limit, ok := intQuery(ctx, "limit", 100, 1, 1000)
	if !ok {
		return
	}
	includeStats, _ := strconv.ParseBool(ctx.DefaultQuery("include_stats", "false"))

	if includeStats {
		items, err := p.pools.GetAllWithStats(ctx.Request.Context(), skip, limit)
		if err != nil {
			respondError(ctx, err, 50010, "failed to fetch pools")
			return
		}
		utils.Success(ctx, items)
		return
	}

	items, err := p.pools.GetAll(ctx.Request.Context(), skip, limit)
	if err != nil {
		respondError(ctx, err, 50010, "failed to fetch pools")
		return
	}
	utils.Success(ctx, items)
}

// GetPool returns a single pool with its statistics.
func (p *PoolController) GetPool(ctx *gin.Context) {
	id, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}
	item, err := p.pools.GetWithStats(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, err, 50011, "failed to fetch pool")
		return
	}
	utils.Success(ctx, item)
}

// CreatePool registers a new pool.
func (p *PoolController) CreatePool(ctx *gin.Context) {
	var req services.PoolInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40005, "invalid request payload")
		return
	}
	if req.Name == nil || req.URL == nil || req.ElementID == nil {
		utils.Error(ctx, http.StatusBadRequest, 40007, "name, url and element_id are required")
		return
	}

	pool, err := p.pools.Create(ctx.Request.Context(), req)
	if err != nil {
		respondError(ctx, err, 50012, "failed to create pool")
		return
	}
	utils.Created(ctx, pool)
}

// UpdatePool applies a partial update.
func (p *PoolController) UpdatePool(ctx *gin.Context) {
	id, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}
	var req services.PoolInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40005, "invalid request payload")
		return
	}

	pool, err := p.pools.Update(ctx.Request.Context(), id, req)
	if err != nil {
		respondError(ctx, err, 50013, "failed to update pool")
		return
	}
	utils.Success(ctx, pool)
}

// DeletePool removes a pool and all of its visitor records.
func (p *PoolController) DeletePool(ctx *gin.Context) {
	id, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}
	if err := p.pools.Delete(ctx.Request.Context(), id); err != nil {
		respondError(ctx, err, 50014, "failed to delete pool")
		return
	}
	utils.Success(ctx, gin.H{"message": "pool deleted"})
}

// CurrentCount returns the newest reading of a pool.
func (p *PoolController) CurrentCount(ctx *gin.Context) {
	id, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}
	pool, err := p.pools.GetByID(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, err, 50011, "failed to fetch pool")
		return
	}

	rec, err := p.visitors.GetLatestForPool(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, err, 50015, "failed to fetch latest reading")
		return
	}
	if rec == nil {
		utils.Error(ctx, http.StatusNotFound, 40402, "no visitor data available for this pool")
		return
	}

	utils.Success(ctx, gin.H{
		"pool_id":       pool.ID,
		"pool_name":     pool.Name,
		"visitor_count": rec.VisitorCount,
		"timestamp":     rec.Timestamp,
		"weekday":       rec.Weekday,
	})
}

// TriggerScrape queues an immediate scrape of one pool.
func (p *PoolController) TriggerScrape(ctx *gin.Context) {
	id, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}
	pool, err := p.pools.GetByID(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, err, 50011, "failed to fetch pool")
		return
	}

	taskID, err := p.enqueuer.EnqueueScrape(ctx.Request.Context(), pool.ID)
	if err != nil {
		respondError(ctx, err, 50016, "failed to queue scrape")
		return
	}
	utils.Accepted(ctx, gin.H{
		"message": "scrape queued",
		"task_id": taskID,
		"pool_id": pool.ID,
	})
}
