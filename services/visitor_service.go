package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/poolchecker/models"
	"github.com/cppla/poolchecker/utils"
)

// Limits for visitor list queries.
const (
	DefaultVisitorLimit = 100
	MaxVisitorLimit     = 10000
	DefaultPageSize     = 50
	MaxPageSize         = 1000
)

// VisitorFilter narrows visitor record listings. Dates are YYYY-MM-DD in the pool's timezone.
type VisitorFilter struct {
	PoolID    *uint
	StartDate string
	EndDate   string
	Weekday   string
	Limit     int
	Offset    int
}

// VisitorPage is one page of visitor records.
type VisitorPage struct {
	Items    []models.VisitorRecord `json:"items"`
	Total    int64                  `json:"total"`
	Page     int                    `json:"page"`
	PageSize int                    `json:"page_size"`
	HasMore  bool                   `json:"has_more"`
}

// LatestReading is the newest record of one pool, joined with the pool name.
type LatestReading struct {
	PoolID       uint      `json:"pool_id"`
	PoolName     string    `json:"pool_name"`
	VisitorCount int       `json:"visitor_count"`
	Timestamp    time.Time `json:"timestamp"`
	Weekday      string    `json:"weekday"`
}

// VisitorService stores and queries visitor records.
type VisitorService struct {
	db     *gorm.DB
	cache  *utils.Cache
	logger *zap.Logger
}

// NewVisitorService creates a VisitorService. cache and logger may be nil.
func NewVisitorService(db *gorm.DB, cache *utils.Cache, logger *zap.Logger) *VisitorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VisitorService{db: db, cache: cache, logger: logger}
}

// CreateFromScrape stores a reading observed at observedAt. It returns created=false
// without error when a record with the same (pool, timestamp) already exists.
func (s *VisitorService) CreateFromScrape(ctx context.Context, pool *models.Pool, count int, observedAt time.Time) (*models.VisitorRecord, bool, error) {
	if count < 0 {
		return nil, false, invalid("visitor_count", "must not be negative")
	}
	loc, err := pool.Location()
	if err != nil {
		return nil, false, err
	}
	rec := models.NewVisitorRecord(pool.ID, count, observedAt, loc)

	created := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dup, err := checkDuplicate(tx, rec.PoolID, rec.Timestamp)
		if err != nil || dup {
			return err
		}
		// the unique index settles races between concurrent writers
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pool_id"}, {Name: "timestamp"}},
			DoNothing: true,
		}).Create(&rec)
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !created {
		s.logger.Info("duplicate reading skipped",
			zap.Uint("pool_id", pool.ID),
			zap.Time("timestamp", rec.Timestamp))
		return nil, false, nil
	}

	s.cache.InvalidateByPrefix(ctx, analyticsPoolPrefix(pool.ID))
	return &rec, true, nil
}

// CreateBatch inserts prepared records, skipping duplicates, and returns how many were stored.
func (s *VisitorService) CreateBatch(ctx context.Context, records []models.VisitorRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pool_id"}, {Name: "timestamp"}},
		DoNothing: true,
	}).CreateInBatches(records, 500)
	if res.Error != nil {
		return 0, res.Error
	}
	poolIDs := make([]uint, 0, len(records))
	for _, r := range records {
		poolIDs = append(poolIDs, r.PoolID)
	}
	for _, id := range utils.UniqueUint(poolIDs) {
		s.cache.InvalidateByPrefix(ctx, analyticsPoolPrefix(id))
	}
	return res.RowsAffected, nil
}

// CheckDuplicate reports whether a record exists for pool at exactly ts.
func (s *VisitorService) CheckDuplicate(ctx context.Context, poolID uint, ts time.Time) (bool, error) {
	return checkDuplicate(s.db.WithContext(ctx), poolID, ts.Truncate(time.Second).UTC())
}

func checkDuplicate(db *gorm.DB, poolID uint, ts time.Time) (bool, error) {
	var count int64
	err := db.Model(&models.VisitorRecord{}).
		Where("pool_id = ? AND timestamp = ?", poolID, ts).
		Count(&count).Error
	return count > 0, err
}

// GetByID returns a single record or nil.
func (s *VisitorService) GetByID(ctx context.Context, id uint) (*models.VisitorRecord, error) {
	var rec models.VisitorRecord
	if err := s.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (s *VisitorService) filtered(ctx context.Context, f VisitorFilter) (*gorm.DB, error) {
	q := s.db.WithContext(ctx).Model(&models.VisitorRecord{})
	if f.PoolID != nil {
		q = q.Where("pool_id = ?", *f.PoolID)
	}
	if f.StartDate != "" {
		if _, err := time.Parse(models.DateLayout, f.StartDate); err != nil {
			return nil, invalid("start_date", "must be YYYY-MM-DD")
		}
		q = q.Where("local_date >= ?", f.StartDate)
	}
	if f.EndDate != "" {
		if _, err := time.Parse(models.DateLayout, f.EndDate); err != nil {
			return nil, invalid("end_date", "must be YYYY-MM-DD")
		}
		q = q.Where("local_date <= ?", f.EndDate)
	}
	if f.Weekday != "" {
		day, err := NormalizeWeekday(f.Weekday)
		if err != nil {
			return nil, err
		}
		q = q.Where("weekday = ?", day)
	}
	return q, nil
}

// GetFiltered lists records newest first.
func (s *VisitorService) GetFiltered(ctx context.Context, f VisitorFilter) ([]models.VisitorRecord, error) {
	q, err := s.filtered(ctx, f)
	if err != nil {
		return nil, err
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultVisitorLimit
	}
	if limit > MaxVisitorLimit {
		limit = MaxVisitorLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var records []models.VisitorRecord
	if err := q.Order("timestamp DESC").Order("id DESC").Offset(offset).Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// GetPaginated returns one page of filtered records plus the total count. Page is 1-based.
func (s *VisitorService) GetPaginated(ctx context.Context, f VisitorFilter, page, pageSize int) (*VisitorPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	q, err := s.filtered(ctx, f)
	if err != nil {
		return nil, err
	}
	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, err
	}

	offset := (page - 1) * pageSize
	items := []models.VisitorRecord{}
	if err := q.Order("timestamp DESC").Order("id DESC").Offset(offset).Limit(pageSize).Find(&items).Error; err != nil {
		return nil, err
	}
	return &VisitorPage{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		HasMore:  int64(offset+len(items)) < total,
	}, nil
}

// GetLatestForPool returns the newest record of a pool, or nil.
func (s *VisitorService) GetLatestForPool(ctx context.Context, poolID uint) (*models.VisitorRecord, error) {
	var rec models.VisitorRecord
	err := s.db.WithContext(ctx).Where("pool_id = ?", poolID).Order("timestamp DESC").Order("id DESC").First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// GetLatestAllPools returns the newest record of every pool that has one.
func (s *VisitorService) GetLatestAllPools(ctx context.Context) ([]LatestReading, error) {
	db := s.db.WithContext(ctx)
	latest := db.Model(&models.VisitorRecord{}).
		Select("pool_id, MAX(timestamp) AS max_ts").
		Group("pool_id")

	rows := []LatestReading{}
	err := db.Table("visitor_records AS vr").
		Select("vr.pool_id, p.name AS pool_name, vr.visitor_count, vr.timestamp, vr.weekday").
		Joins("JOIN pools p ON p.id = vr.pool_id").
		Joins("JOIN (?) latest ON latest.pool_id = vr.pool_id AND latest.max_ts = vr.timestamp", latest).
		Order("vr.pool_id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// GetTodayForPool returns today's records, oldest first, where "today" is the
// current calendar date in the pool's timezone.
func (s *VisitorService) GetTodayForPool(ctx context.Context, pool *models.Pool, now time.Time) ([]models.VisitorRecord, error) {
	loc, err := pool.Location()
	if err != nil {
		return nil, err
	}
	today := now.In(loc).Format(models.DateLayout)
	records := []models.VisitorRecord{}
	err = s.db.WithContext(ctx).
		Where("pool_id = ? AND local_date = ?", pool.ID, today).
		Order("timestamp ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Count returns the number of records, optionally for one pool.
func (s *VisitorService) Count(ctx context.Context, poolID *uint) (int64, error) {
	var count int64
	q := s.db.WithContext(ctx).Model(&models.VisitorRecord{})
	if poolID != nil {
		q = q.Where("pool_id = ?", *poolID)
	}
	if err := q.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
