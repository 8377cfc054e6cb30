package controllers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/cppla/poolchecker/utils"
)

// BatchEnqueuer queues the scheduler's periodic jobs on demand.
type BatchEnqueuer interface {
	EnqueueScrapeAll(ctx context.Context) (string, error)
	EnqueueCacheRefresh(ctx context.Context) (string, error)
}

// TaskController lets admins trigger background jobs.
type TaskController struct {
	enqueuer BatchEnqueuer
}

// NewTaskController creates a new TaskController instance.
func NewTaskController(enqueuer BatchEnqueuer) *TaskController {
	return &TaskController{enqueuer: enqueuer}
}

// ScrapeAll queues a scrape of every active pool.
func (t *TaskController) ScrapeAll(ctx *gin.Context) {
	id, err := t.enqueuer.EnqueueScrapeAll(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err, 50040, "failed to queue task")
		return
	}
	utils.Accepted(ctx, gin.H{"message": "scrape of all pools queued", "task_id": id})
}

// RefreshCache queues an analytics cache refresh.
func (t *TaskController) RefreshCache(ctx *gin.Context) {
	id, err := t.enqueuer.EnqueueCacheRefresh(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err, 50040, "failed to queue task")
		return
	}
	utils.Accepted(ctx, gin.H{"message": "analytics cache refresh queued", "task_id": id})
}
