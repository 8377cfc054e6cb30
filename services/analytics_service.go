package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/poolchecker/models"
	"github.com/cppla/poolchecker/utils"
)

// Default pool-hours window applied to hour-based aggregates.
const (
	DefaultPoolOpenHour  = 6
	DefaultPoolCloseHour = 22
)

// Trend period types.
const (
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
)

const (
	weeklyTrendLimit  = 52
	monthlyTrendLimit = 12
)

// WeekdayHourAverage is the mean visitor count of one (weekday, hour) bucket.
type WeekdayHourAverage struct {
	Weekday         string  `json:"weekday"`
	Hour            int     `json:"hour"`
	AverageVisitors float64 `json:"average_visitors"`
	SampleCount     int64   `json:"sample_count"`
}

// HeatmapCell is one (weekday, hour) value of a heatmap.
type HeatmapCell struct {
	Weekday string  `json:"weekday"`
	Hour    int     `json:"hour"`
	Value   float64 `json:"value"`
}

// Heatmap holds all cells of a pool plus their value range.
type Heatmap struct {
	PoolID   uint          `json:"pool_id"`
	PoolName string        `json:"pool_name"`
	Cells    []HeatmapCell `json:"cells"`
	MinValue float64       `json:"min_value"`
	MaxValue float64       `json:"max_value"`
}

// DailySummary aggregates one calendar day.
type DailySummary struct {
	Date          string  `json:"date"`
	MinVisitors   int     `json:"min_visitors"`
	MaxVisitors   int     `json:"max_visitors"`
	AvgVisitors   float64 `json:"avg_visitors"`
	TotalReadings int64   `json:"total_readings"`
}

// TrendPoint aggregates one week (YYYY-Www) or month (YYYY-MM).
type TrendPoint struct {
	Period      string  `json:"period"`
	AvgVisitors float64 `json:"avg_visitors"`
	MaxVisitors int     `json:"max_visitors"`
	SampleCount int64   `json:"sample_count"`
}

// Trends is a per-period series, oldest period first.
type Trends struct {
	PoolID     uint         `json:"pool_id"`
	PoolName   string       `json:"pool_name"`
	PeriodType string       `json:"period_type"`
	Data       []TrendPoint `json:"data"`
}

// HourStat is the mean and max of one hour of day.
type HourStat struct {
	Hour        int     `json:"hour"`
	AvgVisitors float64 `json:"avg_visitors"`
	MaxVisitors int     `json:"max_visitors"`
}

// PeakHours ranks hours of day; both hours are nil when there is no data.
type PeakHours struct {
	PeakHour     *int       `json:"peak_hour"`
	QuietestHour *int       `json:"quietest_hour"`
	ByHour       []HourStat `json:"by_hour"`
}

// WeekdayAverageNow compares today against the same weekday so far.
type WeekdayAverageNow struct {
	Weekday         string  `json:"weekday"`
	CurrentTime     string  `json:"current_time"`
	AverageVisitors float64 `json:"average_visitors"`
	MinVisitors     int     `json:"min_visitors"`
	MaxVisitors     int     `json:"max_visitors"`
	SampleCount     int64   `json:"sample_count"`
}

// AnalyticsOptions tunes an AnalyticsService. Zero values select the defaults.
type AnalyticsOptions struct {
	OpenHour  int
	CloseHour int
	Now       func() time.Time
	Logger    *zap.Logger
}

// AnalyticsService computes read-only aggregates over visitor records.
type AnalyticsService struct {
	db        *gorm.DB
	pools     *PoolService
	cache     *utils.Cache
	openHour  int
	closeHour int
	now       func() time.Time
	logger    *zap.Logger
}

// NewAnalyticsService creates an AnalyticsService. cache may be nil.
func NewAnalyticsService(db *gorm.DB, pools *PoolService, cache *utils.Cache, opts AnalyticsOptions) *AnalyticsService {
	if opts.OpenHour == 0 && opts.CloseHour == 0 {
		opts.OpenHour, opts.CloseHour = DefaultPoolOpenHour, DefaultPoolCloseHour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &AnalyticsService{
		db:        db,
		pools:     pools,
		cache:     cache,
		openHour:  opts.OpenHour,
		closeHour: opts.CloseHour,
		now:       opts.Now,
		logger:    opts.Logger,
	}
}

type weekdayHourRow struct {
	Weekday     string
	Hour        int
	AvgVisitors float64
	SampleCount int64
}

func (s *AnalyticsService) weekdayHourRows(ctx context.Context, poolID uint) ([]weekdayHourRow, error) {
	var rows []weekdayHourRow
	err := s.db.WithContext(ctx).Model(&models.VisitorRecord{}).
		Select("weekday, hour, AVG(visitor_count) AS avg_visitors, COUNT(*) AS sample_count").
		Where("pool_id = ? AND hour >= ? AND hour <= ?", poolID, s.openHour, s.closeHour).
		Group("weekday, hour").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool {
		wi, wj := models.WeekdayIndex(rows[i].Weekday), models.WeekdayIndex(rows[j].Weekday)
		if wi != wj {
			return wi < wj
		}
		return rows[i].Hour < rows[j].Hour
	})
	return rows, nil
}

// WeekdayAverages groups pool-hours records by (weekday, hour). The caller checks pool existence.
func (s *AnalyticsService) WeekdayAverages(ctx context.Context, poolID uint) ([]WeekdayHourAverage, error) {
	key := fmt.Sprintf("%sweekday-averages", analyticsPoolPrefix(poolID))
	var out []WeekdayHourAverage
	if s.cache.GetJSON(ctx, key, &out) {
		return out, nil
	}

	rows, err := s.weekdayHourRows(ctx, poolID)
	if err != nil {
		return nil, err
	}
	out = make([]WeekdayHourAverage, 0, len(rows))
	for _, r := range rows {
		out = append(out, WeekdayHourAverage{
			Weekday:         r.Weekday,
			Hour:            r.Hour,
			AverageVisitors: round1(r.AvgVisitors),
			SampleCount:     r.SampleCount,
		})
	}
	s.cache.SetJSON(ctx, key, out)
	return out, nil
}

// Heatmap returns nil when the pool does not exist.
func (s *AnalyticsService) Heatmap(ctx context.Context, poolID uint) (*Heatmap, error) {
	pool, err := s.lookupPool(ctx, poolID)
	if err != nil || pool == nil {
		return nil, err
	}

	key := fmt.Sprintf("%sheatmap", analyticsPoolPrefix(poolID))
	var hm Heatmap
	if s.cache.GetJSON(ctx, key, &hm) {
		return &hm, nil
	}

	rows, err := s.weekdayHourRows(ctx, poolID)
	if err != nil {
		return nil, err
	}
	hm = Heatmap{PoolID: pool.ID, PoolName: pool.Name, Cells: make([]HeatmapCell, 0, len(rows))}
	for i, r := range rows {
		v := round1(r.AvgVisitors)
		hm.Cells = append(hm.Cells, HeatmapCell{Weekday: r.Weekday, Hour: r.Hour, Value: v})
		if i == 0 || v < hm.MinValue {
			hm.MinValue = v
		}
		if i == 0 || v > hm.MaxValue {
			hm.MaxValue = v
		}
	}
	s.cache.SetJSON(ctx, key, hm)
	return &hm, nil
}

// DailySummary groups all records (no pool-hours filter) by local calendar date,
// newest first. Dates are inclusive YYYY-MM-DD bounds; empty means unbounded.
func (s *AnalyticsService) DailySummary(ctx context.Context, poolID uint, startDate, endDate string) ([]DailySummary, error) {
	q := s.db.WithContext(ctx).Model(&models.VisitorRecord{}).
		Select("local_date, MIN(visitor_count) AS min_visitors, MAX(visitor_count) AS max_visitors, AVG(visitor_count) AS avg_visitors, COUNT(*) AS total_readings").
		Where("pool_id = ?", poolID)
	if startDate != "" {
		if _, err := time.Parse(models.DateLayout, startDate); err != nil {
			return nil, invalid("start_date", "must be YYYY-MM-DD")
		}
		q = q.Where("local_date >= ?", startDate)
	}
	if endDate != "" {
		if _, err := time.Parse(models.DateLayout, endDate); err != nil {
			return nil, invalid("end_date", "must be YYYY-MM-DD")
		}
		q = q.Where("local_date <= ?", endDate)
	}

	var rows []struct {
		LocalDate     string
		MinVisitors   int
		MaxVisitors   int
		AvgVisitors   float64
		TotalReadings int64
	}
	if err := q.Group("local_date").Order("local_date DESC").Scan(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]DailySummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, DailySummary{
			Date:          r.LocalDate,
			MinVisitors:   r.MinVisitors,
			MaxVisitors:   r.MaxVisitors,
			AvgVisitors:   round1(r.AvgVisitors),
			TotalReadings: r.TotalReadings,
		})
	}
	return out, nil
}

// Trends returns the latest 52 weeks or 12 months, oldest first, or nil when the pool does not exist.
func (s *AnalyticsService) Trends(ctx context.Context, poolID uint, period string) (*Trends, error) {
	if period != PeriodWeekly && period != PeriodMonthly {
		return nil, invalid("period", "must be %q or %q", PeriodWeekly, PeriodMonthly)
	}
	pool, err := s.lookupPool(ctx, poolID)
	if err != nil || pool == nil {
		return nil, err
	}

	key := fmt.Sprintf("%strends:%s", analyticsPoolPrefix(poolID), period)
	var tr Trends
	if s.cache.GetJSON(ctx, key, &tr) {
		return &tr, nil
	}

	var points []TrendPoint
	if period == PeriodWeekly {
		points, err = s.weeklyTrend(ctx, poolID)
	} else {
		points, err = s.monthlyTrend(ctx, poolID)
	}
	if err != nil {
		return nil, err
	}
	// newest-first from the query; present oldest-first
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}

	tr = Trends{PoolID: pool.ID, PoolName: pool.Name, PeriodType: period, Data: points}
	s.cache.SetJSON(ctx, key, tr)
	return &tr, nil
}

func (s *AnalyticsService) weeklyTrend(ctx context.Context, poolID uint) ([]TrendPoint, error) {
	var rows []struct {
		ISOYear     int `gorm:"column:iso_year"`
		WeekNumber  int
		AvgVisitors float64
		MaxVisitors int
		SampleCount int64
	}
	err := s.db.WithContext(ctx).Model(&models.VisitorRecord{}).
		Select("iso_year, week_number, AVG(visitor_count) AS avg_visitors, MAX(visitor_count) AS max_visitors, COUNT(*) AS sample_count").
		Where("pool_id = ?", poolID).
		Group("iso_year, week_number").
		Order("iso_year DESC").Order("week_number DESC").
		Limit(weeklyTrendLimit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	points := make([]TrendPoint, 0, len(rows))
	for _, r := range rows {
		points = append(points, TrendPoint{
			Period:      fmt.Sprintf("%04d-W%02d", r.ISOYear, r.WeekNumber),
			AvgVisitors: round1(r.AvgVisitors),
			MaxVisitors: r.MaxVisitors,
			SampleCount: r.SampleCount,
		})
	}
	return points, nil
}

func (s *AnalyticsService) monthlyTrend(ctx context.Context, poolID uint) ([]TrendPoint, error) {
	var rows []struct {
		Period      string
		AvgVisitors float64
		MaxVisitors int
		SampleCount int64
	}
	err := s.db.WithContext(ctx).Model(&models.VisitorRecord{}).
		Select("SUBSTR(local_date, 1, 7) AS period, AVG(visitor_count) AS avg_visitors, MAX(visitor_count) AS max_visitors, COUNT(*) AS sample_count").
		Where("pool_id = ?", poolID).
		Group("SUBSTR(local_date, 1, 7)").
		Order("period DESC").
		Limit(monthlyTrendLimit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	points := make([]TrendPoint, 0, len(rows))
	for _, r := range rows {
		points = append(points, TrendPoint{
			Period:      r.Period,
			AvgVisitors: round1(r.AvgVisitors),
			MaxVisitors: r.MaxVisitors,
			SampleCount: r.SampleCount,
		})
	}
	return points, nil
}

// PeakHours ranks pool-hours by mean visitors, optionally for one weekday.
// Pool existence is not checked: an unknown pool yields the empty result.
// Ties go to the lowest hour for both peak and quietest.
func (s *AnalyticsService) PeakHours(ctx context.Context, poolID uint, weekday string) (*PeakHours, error) {
	if weekday != "" {
		day, err := NormalizeWeekday(weekday)
		if err != nil {
			return nil, err
		}
		weekday = day
	}

	key := fmt.Sprintf("%speak-hours:%s", analyticsPoolPrefix(poolID), weekday)
	var res PeakHours
	if s.cache.GetJSON(ctx, key, &res) {
		return &res, nil
	}

	q := s.db.WithContext(ctx).Model(&models.VisitorRecord{}).
		Select("hour, AVG(visitor_count) AS avg_visitors, MAX(visitor_count) AS max_visitors").
		Where("pool_id = ? AND hour >= ? AND hour <= ?", poolID, s.openHour, s.closeHour)
	if weekday != "" {
		q = q.Where("weekday = ?", weekday)
	}
	var rows []struct {
		Hour        int
		AvgVisitors float64
		MaxVisitors int
	}
	if err := q.Group("hour").Order("hour ASC").Scan(&rows).Error; err != nil {
		return nil, err
	}

	res = PeakHours{ByHour: make([]HourStat, 0, len(rows))}
	for _, r := range rows {
		res.ByHour = append(res.ByHour, HourStat{Hour: r.Hour, AvgVisitors: round1(r.AvgVisitors), MaxVisitors: r.MaxVisitors})
	}
	sort.Slice(res.ByHour, func(i, j int) bool { return res.ByHour[i].Hour < res.ByHour[j].Hour })

	var peak, quiet *HourStat
	for i := range res.ByHour {
		h := &res.ByHour[i]
		if peak == nil || h.AvgVisitors > peak.AvgVisitors {
			peak = h
		}
		if quiet == nil || h.AvgVisitors < quiet.AvgVisitors {
			quiet = h
		}
	}
	if peak != nil {
		ph, qh := peak.Hour, quiet.Hour
		res.PeakHour, res.QuietestHour = &ph, &qh
	}
	s.cache.SetJSON(ctx, key, res)
	return &res, nil
}

// WeekdayAverageUpToNow aggregates past records of today's weekday between the
// pool opening hour and the current hour, both in the pool's timezone.
// It returns nil when the pool does not exist and a zeroed result without samples.
func (s *AnalyticsService) WeekdayAverageUpToNow(ctx context.Context, poolID uint) (*WeekdayAverageNow, error) {
	pool, err := s.lookupPool(ctx, poolID)
	if err != nil || pool == nil {
		return nil, err
	}
	loc, err := pool.Location()
	if err != nil {
		return nil, err
	}
	now := s.now().In(loc)
	res := &WeekdayAverageNow{
		Weekday:     now.Weekday().String(),
		CurrentTime: now.Format("15:04"),
	}

	var row struct {
		AvgVisitors *float64
		MinVisitors *int
		MaxVisitors *int
		SampleCount int64
	}
	err = s.db.WithContext(ctx).Model(&models.VisitorRecord{}).
		Select("AVG(visitor_count) AS avg_visitors, MIN(visitor_count) AS min_visitors, MAX(visitor_count) AS max_visitors, COUNT(*) AS sample_count").
		Where("pool_id = ? AND weekday = ? AND hour >= ? AND hour <= ?", poolID, res.Weekday, s.openHour, now.Hour()).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.SampleCount == 0 {
		return res, nil
	}
	res.SampleCount = row.SampleCount
	if row.AvgVisitors != nil {
		res.AverageVisitors = round1(*row.AvgVisitors)
	}
	if row.MinVisitors != nil {
		res.MinVisitors = *row.MinVisitors
	}
	if row.MaxVisitors != nil {
		res.MaxVisitors = *row.MaxVisitors
	}
	return res, nil
}

// RefreshCache drops every cached aggregate and recomputes them for active pools.
// It returns the number of pools warmed.
func (s *AnalyticsService) RefreshCache(ctx context.Context) (int, error) {
	if !s.cache.Enabled() {
		s.logger.Info("analytics cache disabled, nothing to refresh")
		return 0, nil
	}
	s.cache.InvalidateByPrefix(ctx, analyticsPrefix)

	pools, err := s.pools.GetActive(ctx)
	if err != nil {
		return 0, err
	}
	warmed := 0
	for _, p := range pools {
		if err := ctx.Err(); err != nil {
			return warmed, err
		}
		if _, err := s.WeekdayAverages(ctx, p.ID); err != nil {
			return warmed, fmt.Errorf("warm pool %d: %w", p.ID, err)
		}
		if _, err := s.Heatmap(ctx, p.ID); err != nil {
			return warmed, fmt.Errorf("warm pool %d: %w", p.ID, err)
		}
		for _, period := range []string{PeriodWeekly, PeriodMonthly} {
			if _, err := s.Trends(ctx, p.ID, period); err != nil {
				return warmed, fmt.Errorf("warm pool %d: %w", p.ID, err)
			}
		}
		if _, err := s.PeakHours(ctx, p.ID, ""); err != nil {
			return warmed, fmt.Errorf("warm pool %d: %w", p.ID, err)
		}
		warmed++
	}
	s.logger.Info("analytics cache refreshed", zap.Int("pools", warmed))
	return warmed, nil
}

func (s *AnalyticsService) lookupPool(ctx context.Context, poolID uint) (*models.Pool, error) {
	pool, err := s.pools.GetByID(ctx, poolID)
	if errors.Is(err, ErrPoolNotFound) {
		return nil, nil
	}
	return pool, err
}

const analyticsPrefix = "analytics:"

func analyticsPoolPrefix(poolID uint) string {
	return fmt.Sprintf("%spool:%d:", analyticsPrefix, poolID)
}

// NormalizeWeekday accepts any letter case and returns the canonical English name.
func NormalizeWeekday(v string) (string, error) {
	for _, d := range models.Weekdays {
		if strings.EqualFold(d, strings.TrimSpace(v)) {
			return d, nil
		}
	}
	return "", invalid("weekday", "%q is not a weekday name", v)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
