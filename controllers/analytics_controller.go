package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cppla/poolchecker/services"
	"github.com/cppla/poolchecker/utils"
)

// AnalyticsController serves aggregate statistics over visitor records.
// Every endpoint takes a required pool_id and answers 404 for unknown pools.
type AnalyticsController struct {
	analytics *services.AnalyticsService
	pools     *services.PoolService
}

// NewAnalyticsController creates a new AnalyticsController instance.
func NewAnalyticsController(analytics *services.AnalyticsService, pools *services.PoolService) *AnalyticsController {
	return &AnalyticsController{analytics: analytics, pools: pools}
}

func (a *AnalyticsController) poolID(ctx *gin.Context) (uint, bool) {
	id, ok := requiredPoolID(ctx)
	if !ok {
		return 0, false
	}
	exists, err := a.pools.Exists(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, err, 50011, "failed to fetch pool")
		return 0, false
	}
	if !exists {
		utils.Error(ctx, http.StatusNotFound, 40401, "pool not found")
		return 0, false
	}
	return id, true
}

// WeekdayAverages returns the mean visitors per weekday and pool-hour.
func (a *AnalyticsController) WeekdayAverages(ctx *gin.Context) {
	id, ok := a.poolID(ctx)
	if !ok {
		return
	}
	rows, err := a.analytics.WeekdayAverages(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, err, 50030, "failed to compute weekday averages")
		return
	}
	utils.Success(ctx, rows)
}

// Heatmap returns the weekday by hour heatmap.
func (a *AnalyticsController) Heatmap(ctx *gin.Context) {
	id, ok := a.poolID(ctx)
	if !ok {
		return
	}
	hm, err := a.analytics.Heatmap(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, err, 50031, "failed to compute heatmap")
		return
	}
	if hm == nil {
		utils.Error(ctx, http.StatusNotFound, 40401, "pool not found")
		return
	}
	utils.Success(ctx, hm)
}

// DailySummary returns per-day min/max/avg, newest day first.
func (a *AnalyticsController) DailySummary(ctx *gin.Context) {
	id, ok := a.poolID(ctx)
	if !ok {
		return
	}
	rows, err := a.analytics.DailySummary(ctx.Request.Context(), id, ctx.Query("start_date"), ctx.Query("end_date"))
	if err != nil {
		respondError(ctx, err, 50032, "failed to compute daily summary")
		return
	}
	utils.Success(ctx, rows)
}

// Trends returns weekly or monthly averages.
func (a *AnalyticsController) Trends(ctx *gin.Context) {
	period := ctx.DefaultQuery("period", services.PeriodWeekly)
	if period != services.PeriodWeekly && period != services.PeriodMonthly {
		utils.Error(ctx, http.StatusBadRequest, 40008, "period must be 'weekly' or 'monthly'")
		return
	}
	id, ok := a.poolID(ctx)
	if !ok {
		return
	}
	tr, err := a.analytics.Trends(ctx.Request.Context(), id, period)
	if err != nil {
		respondError(ctx, err, 50033, "failed to compute trends")
		return
	}
	if tr == nil {
		utils.Error(ctx, http.StatusNotFound, 40401, "pool not found")
		return
	}
	utils.Success(ctx, tr)
}

// PeakHours returns per-hour averages with the busiest and quietest hour.
func (a *AnalyticsController) PeakHours(ctx *gin.Context) {
	id, ok := a.poolID(ctx)
	if !ok {
		return
	}
	res, err := a.analytics.PeakHours(ctx.Request.Context(), id, ctx.Query("weekday"))
	if err != nil {
		respondError(ctx, err, 50034, "failed to compute peak hours")
		return
	}
	utils.Success(ctx, res)
}

// WeekdayAverageNow returns the average for today's weekday up to the current hour.
func (a *AnalyticsController) WeekdayAverageNow(ctx *gin.Context) {
	id, ok := a.poolID(ctx)
	if !ok {
		return
	}
	res, err := a.analytics.WeekdayAverageUpToNow(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, err, 50035, "failed to compute weekday average")
		return
	}
	if res == nil {
		utils.Error(ctx, http.StatusNotFound, 40401, "pool not found")
		return
	}
	utils.Success(ctx, res)
}
