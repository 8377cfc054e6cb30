package controllers

import (
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/poolchecker/models"
	"github.com/cppla/poolchecker/utils"
)

// StatsController provides service-wide counts.
type StatsController struct {
	db *gorm.DB
}

// NewStatsController creates a new StatsController instance.
func NewStatsController(db *gorm.DB) *StatsController {
	return &StatsController{db: db}
}

// GetStats returns aggregate statistics for the tracker.
func (s *StatsController) GetStats(ctx *gin.Context) {
	var poolCount int64
	var activePoolCount int64
	var recordCount int64
	var recordsLast24h int64
	var latestTimestamp *time.Time

	db := s.db.WithContext(ctx.Request.Context())
	if err := db.Model(&models.Pool{}).Count(&poolCount).Error; err != nil {
		// Fallback to 0 instead of failing the whole endpoint
		poolCount = 0
	}

	if err := db.Model(&models.Pool{}).Where("is_active = ?", true).Count(&activePoolCount).Error; err != nil {
		activePoolCount = 0
	}

	if err := db.Model(&models.VisitorRecord{}).Count(&recordCount).Error; err != nil {
		recordCount = 0
	}

	since := time.Now().UTC().Add(-24 * time.Hour)
	if err := db.Model(&models.VisitorRecord{}).Where("timestamp >= ?", since).Count(&recordsLast24h).Error; err != nil {
		recordsLast24h = 0
	}

	var latest models.VisitorRecord
	if err := db.Order("timestamp DESC").First(&latest).Error; err == nil {
		latestTimestamp = &latest.Timestamp
	}

	utils.Success(ctx, gin.H{
		"pool_count":        poolCount,
		"active_pool_count": activePoolCount,
		"record_count":      recordCount,
		"records_last_24h":  recordsLast24h,
		"latest_timestamp":  latestTimestamp,
	})
}
