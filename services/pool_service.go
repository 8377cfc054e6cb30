package services

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strconv"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/cppla/poolchecker/models"
	"github.com/cppla/poolchecker/utils"
)

var clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)

// PoolInput carries create and update fields. Nil means "not provided".
type PoolInput struct {
	Name                  *string `json:"name"`
	URL                   *string `json:"url"`
	ElementID             *string `json:"element_id"`
	Timezone              *string `json:"timezone"`
	ScrapeStartTime       *string `json:"scrape_start_time"`
	ScrapeEndTime         *string `json:"scrape_end_time"`
	ScrapeIntervalMinutes *int    `json:"scrape_interval_minutes"`
	IsActive              *bool   `json:"is_active"`
}

// PoolService manages the pool registry.
type PoolService struct {
	db    *gorm.DB
	cache *utils.Cache
}

// NewPoolService creates a new PoolService. cache may be nil; when set, cached
// analytics of a pool are dropped whenever the pool changes.
func NewPoolService(db *gorm.DB, cache *utils.Cache) *PoolService {
	return &PoolService{db: db, cache: cache}
}

// GetByID returns ErrPoolNotFound when the pool does not exist.
func (s *PoolService) GetByID(ctx context.Context, id uint) (*models.Pool, error) {
	var pool models.Pool
	if err := s.db.WithContext(ctx).First(&pool, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPoolNotFound
		}
		return nil, err
	}
	return &pool, nil
}

// GetByName looks a pool up by its unique name.
func (s *PoolService) GetByName(ctx context.Context, name string) (*models.Pool, error) {
	var pool models.Pool
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&pool).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPoolNotFound
		}
		return nil, err
	}
	return &pool, nil
}

// Exists reports whether a pool with id exists.
func (s *PoolService) Exists(ctx context.Context, id uint) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Pool{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetAll returns pools ordered by id.
func (s *PoolService) GetAll(ctx context.Context, skip, limit int) ([]models.Pool, error) {
	var pools []models.Pool
	q := s.db.WithContext(ctx).Order("id ASC").Offset(skip)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&pools).Error; err != nil {
		return nil, err
	}
	return pools, nil
}

// GetActive returns every pool with is_active set.
func (s *PoolService) GetActive(ctx context.Context) ([]models.Pool, error) {
	var pools []models.Pool
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("id ASC").Find(&pools).Error; err != nil {
		return nil, err
	}
	return pools, nil
}

// Create validates input, applies defaults and stores a new pool.
func (s *PoolService) Create(ctx context.Context, in PoolInput) (*models.Pool, error) {
	pool := models.Pool{
		Timezone:              models.DefaultPoolTimezone,
		ScrapeStartTime:       models.DefaultScrapeStartTime,
		ScrapeEndTime:         models.DefaultScrapeEndTime,
		ScrapeIntervalMinutes: models.DefaultScrapeInterval,
		IsActive:              true,
	}
	if in.Name == nil {
		return nil, invalid("name", "is required")
	}
	if in.URL == nil {
		return nil, invalid("url", "is required")
	}
	if in.ElementID == nil {
		return nil, invalid("element_id", "is required")
	}
	applyPoolInput(&pool, in)
	if err := ValidatePool(&pool); err != nil {
		return nil, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if taken, err := nameTaken(tx, pool.Name, 0); err != nil {
			return err
		} else if taken {
			return ErrPoolNameTaken
		}
		return tx.Create(&pool).Error
	})
	if err != nil {
		return nil, err
	}
	return &pool, nil
}

// Update applies the provided fields to an existing pool.
func (s *PoolService) Update(ctx context.Context, id uint, in PoolInput) (*models.Pool, error) {
	var pool models.Pool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&pool, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPoolNotFound
			}
			return err
		}
		applyPoolInput(&pool, in)
		if err := ValidatePool(&pool); err != nil {
			return err
		}
		if in.Name != nil {
			if taken, err := nameTaken(tx, pool.Name, pool.ID); err != nil {
				return err
			} else if taken {
				return ErrPoolNameTaken
			}
		}
		return tx.Save(&pool).Error
	})
	if err != nil {
		return nil, err
	}
	s.cache.InvalidateByPrefix(ctx, analyticsPoolPrefix(pool.ID))
	return &pool, nil
}

// Delete removes the pool and all of its visitor records in one transaction.
func (s *PoolService) Delete(ctx context.Context, id uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("pool_id = ?", id).Delete(&models.VisitorRecord{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Pool{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrPoolNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.cache.InvalidateByPrefix(ctx, analyticsPoolPrefix(id))
	return nil
}

// GetWithStats returns a pool with its latest reading and record count.
func (s *PoolService) GetWithStats(ctx context.Context, id uint) (*models.PoolWithStats, error) {
	pool, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.withStats(ctx, *pool)
}

// GetAllWithStats decorates GetAll with per-pool statistics.
func (s *PoolService) GetAllWithStats(ctx context.Context, skip, limit int) ([]models.PoolWithStats, error) {
	pools, err := s.GetAll(ctx, skip, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.PoolWithStats, 0, len(pools))
	for _, p := range pools {
		ws, err := s.withStats(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, *ws)
	}
	return out, nil
}

func (s *PoolService) withStats(ctx context.Context, pool models.Pool) (*models.PoolWithStats, error) {
	res := &models.PoolWithStats{Pool: pool}
	db := s.db.WithContext(ctx)

	var latest models.VisitorRecord
	err := db.Where("pool_id = ?", pool.ID).Order("timestamp DESC").Order("id DESC").First(&latest).Error
	switch {
	case err == nil:
		count := latest.VisitorCount
		ts := latest.Timestamp
		res.LatestVisitorCount = &count
		res.LatestTimestamp = &ts
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	if err := db.Model(&models.VisitorRecord{}).Where("pool_id = ?", pool.ID).Count(&res.TotalRecords).Error; err != nil {
		return nil, err
	}
	return res, nil
}

// WithinScrapeWindow reports whether now, seen in the pool's timezone, lies in
// [scrape_start_time, scrape_end_time] inclusive at second resolution.
func WithinScrapeWindow(pool *models.Pool, now time.Time) (bool, error) {
	loc, err := pool.Location()
	if err != nil {
		return false, err
	}
	start, err := ParseClock(pool.ScrapeStartTime)
	if err != nil {
		return false, err
	}
	end, err := ParseClock(pool.ScrapeEndTime)
	if err != nil {
		return false, err
	}
	local := now.In(loc)
	secs := local.Hour()*3600 + local.Minute()*60 + local.Second()
	return secs >= start*60 && secs <= end*60, nil
}

// ParseClock converts a zero-padded "HH:MM" into minutes after midnight.
func ParseClock(v string) (int, error) {
	m := clockPattern.FindStringSubmatch(v)
	if m == nil {
		return 0, invalid("time", "%q is not a valid HH:MM value", v)
	}
	h, _ := strconv.Atoi(m[1])
	mi, _ := strconv.Atoi(m[2])
	return h*60 + mi, nil
}

// ValidatePool checks field invariants of a pool about to be stored.
func ValidatePool(p *models.Pool) error {
	if n := utf8.RuneCountInString(p.Name); n < 1 || n > 200 {
		return invalid("name", "must be 1-200 characters")
	}
	u, err := url.Parse(p.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("url", "must be an absolute http(s) URL")
	}
	if n := utf8.RuneCountInString(p.ElementID); n < 1 || n > 100 {
		return invalid("element_id", "must be 1-100 characters")
	}
	if _, err := time.LoadLocation(p.Timezone); err != nil || p.Timezone == "" {
		return invalid("timezone", "unknown timezone %q", p.Timezone)
	}
	if !clockPattern.MatchString(p.ScrapeStartTime) {
		return invalid("scrape_start_time", "must be HH:MM")
	}
	if !clockPattern.MatchString(p.ScrapeEndTime) {
		return invalid("scrape_end_time", "must be HH:MM")
	}
	if p.ScrapeIntervalMinutes < 1 || p.ScrapeIntervalMinutes > 60 {
		return invalid("scrape_interval_minutes", "must be between 1 and 60")
	}
	return nil
}

func applyPoolInput(p *models.Pool, in PoolInput) {
	if in.Name != nil {
		p.Name = utils.SanitizeText(*in.Name)
	}
	if in.URL != nil {
		p.URL = *in.URL
	}
	if in.ElementID != nil {
		p.ElementID = utils.SanitizeText(*in.ElementID)
	}
	if in.Timezone != nil {
		p.Timezone = *in.Timezone
	}
	if in.ScrapeStartTime != nil {
		p.ScrapeStartTime = *in.ScrapeStartTime
	}
	if in.ScrapeEndTime != nil {
		p.ScrapeEndTime = *in.ScrapeEndTime
	}
	if in.ScrapeIntervalMinutes != nil {
		p.ScrapeIntervalMinutes = *in.ScrapeIntervalMinutes
	}
	if in.IsActive != nil {
		p.IsActive = *in.IsActive
	}
}

func nameTaken(tx *gorm.DB, name string, exceptID uint) (bool, error) {
	var count int64
	q := tx.Model(&models.Pool{}).Where("name = ?", name)
	if exceptID != 0 {
		q = q.Where("id <> ?", exceptID)
	}
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
