package models

import (
	"fmt"
	"time"
)

// Defaults applied to new pools when the caller leaves a field empty.
const (
	DefaultPoolTimezone    = "CET"
	DefaultScrapeStartTime = "05:50"
	DefaultScrapeEndTime   = "22:10"
	DefaultScrapeInterval  = 10
)

// Pool is a monitored swimming facility together with its scrape configuration.
// Visitor records reference it through VisitorRecord.PoolID; deleting a pool
// removes them explicitly (see services.PoolService.Delete).
type Pool struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	Name                  string    `gorm:"size:200;not null;uniqueIndex" json:"name"`
	URL                   string    `gorm:"type:text;not null" json:"url"`
	ElementID             string    `gorm:"size:100;not null" json:"element_id"`
	Timezone              string    `gorm:"size:50;not null" json:"timezone"`
	ScrapeStartTime       string    `gorm:"size:5;not null" json:"scrape_start_time"`
	ScrapeEndTime         string    `gorm:"size:5;not null" json:"scrape_end_time"`
	ScrapeIntervalMinutes int       `gorm:"not null" json:"scrape_interval_minutes"`
	IsActive              bool      `gorm:"not null;index" json:"is_active"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Location resolves the pool's timezone name.
func (p *Pool) Location() (*time.Location, error) {
	name := p.Timezone
	if name == "" {
		name = DefaultPoolTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("pool %d: timezone %q: %w", p.ID, name, err)
	}
	return loc, nil
}

// PoolWithStats decorates a pool with its most recent reading.
type PoolWithStats struct {
	Pool
	LatestVisitorCount *int       `json:"latest_visitor_count"`
	LatestTimestamp    *time.Time `json:"latest_timestamp"`
	TotalRecords       int64      `json:"total_records"`
}
