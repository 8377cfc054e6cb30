package controllers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/poolchecker/services"
	"github.com/cppla/poolchecker/utils"
)

// VisitorController lists stored visitor readings.
type VisitorController struct {
	visitors *services.VisitorService
	pools    *services.PoolService
	now      func() time.Time
}

// NewVisitorController creates a new VisitorController instance.
func NewVisitorController(visitors *services.VisitorService, pools *services.PoolService) *VisitorController {
	return &VisitorController{visitors: visitors, pools: pools, now: time.Now}
}

func (v *VisitorController) bindFilter(ctx *gin.Context) (services.VisitorFilter, bool) {
	poolID, ok := optionalPoolID(ctx)
	if !ok {
		return services.VisitorFilter{}, false
	}
	return services.VisitorFilter{
		PoolID:    poolID,
		StartDate: ctx.Query("start_date"),
		EndDate:   ctx.Query("end_date"),
		Weekday:   ctx.Query("weekday"),
	}, true
}

// ListVisitors returns filtered records, newest first.
func (v *VisitorController) ListVisitors(ctx *gin.Context) {
	filter, ok := v.bindFilter(ctx)
	if !ok {
		return
	}
	if filter.Limit, ok = intQuery(ctx, "limit", services.DefaultVisitorLimit, 1, services.MaxVisitorLimit); !ok {
		return
	}
	if filter.Offset, ok = intQuery(ctx, "offset", 0, 0, 1<<30); !ok {
		return
	}

	records, err := v.visitors.GetFiltered(ctx.Request.Context(), filter)
	if err != nil {
		respondError(ctx, err, 50020, "failed to fetch visitor records")
		return
	}
	utils.Success(ctx, records)
}

// ListVisitorsPaginated returns one page of filtered records.
func (v *VisitorController) ListVisitorsPaginated(ctx *gin.Context) {
	filter, ok := v.bindFilter(ctx)
	if !ok {
		return
	}
	page, ok := intQuery(ctx, "page", 1, 1, 1<<30)
	if !ok {
		return
	}
	pageSize, ok := intQuery(ctx, "page_size", services.DefaultPageSize, 1, services.MaxPageSize)
	if !ok {
		return
	}

	result, err := v.visitors.GetPaginated(ctx.Request.Context(), filter, page, pageSize)
	if err != nil {
		respondError(ctx, err, 50020, "failed to fetch visitor records")
		return
	}
	utils.Success(ctx, result)
}

// Latest returns the newest reading of every pool.
func (v *VisitorController) Latest(ctx *gin.Context) {
	rows, err := v.visitors.GetLatestAllPools(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err, 50021, "failed to fetch latest readings")
		return
	}
	utils.Success(ctx, rows)
}

// Today returns today's readings of one pool in its local timezone.
func (v *VisitorController) Today(ctx *gin.Context) {
	id, ok := parseIDParam(ctx, "pool_id")
	if !ok {
		return
	}
	pool, err := v.pools.GetByID(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, err, 50011, "failed to fetch pool")
		return
	}

	records, err := v.visitors.GetTodayForPool(ctx.Request.Context(), pool, v.now())
	if err != nil {
		respondError(ctx, err, 50022, "failed to fetch today's readings")
		return
	}
	utils.Success(ctx, records)
}

// Count returns the number of stored readings, optionally for one pool.
func (v *VisitorController) Count(ctx *gin.Context) {
	poolID, ok := optionalPoolID(ctx)
	if !ok {
		return
	}
	count, err := v.visitors.Count(ctx.Request.Context(), poolID)
	if err != nil {
		respondError(ctx, err, 50023, "failed to count visitor records")
		return
	}
	utils.Success(ctx, gin.H{"pool_id": poolID, "count": count})
}
