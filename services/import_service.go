package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jszwec/csvutil"

	"github.com/cppla/poolchecker/models"
)

// Default pool created by the CSV import tool.
const (
	DefaultPoolName      = "City Hallenbad"
	DefaultPoolURL       = "https://www.stadt-zuerich.ch/de/stadtleben/sport-und-erholung/sport-und-badeanlagen/hallenbaeder/city.html"
	DefaultPoolElementID = "SSD-4_visitornumber"
)

// importTimestampLayout is the wall-clock format of exported readings.
const importTimestampLayout = "2006-01-02 15:04:05"

var importHeaderAliases = map[string]string{
	"timestamp":      "timestamp",
	"time":           "timestamp",
	"weekday":        "weekday",
	"day":            "weekday",
	"visitors":       "visitors",
	"visitor_count":  "visitors",
	"visitor_number": "visitors",
	"count":          "visitors",
}

type importRow struct {
	Timestamp string `csv:"timestamp"`
	Weekday   string `csv:"weekday,omitempty"`
	Visitors  string `csv:"visitors"`
}

// ImportResult summarizes a CSV import.
type ImportResult struct {
	Total   int `json:"total"`
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
	Invalid int `json:"invalid"`
}

// ImportService loads historical readings from CSV exports.
type ImportService struct {
	pools    *PoolService
	visitors *VisitorService
}

// NewImportService creates an ImportService.
func NewImportService(pools *PoolService, visitors *VisitorService) *ImportService {
	return &ImportService{pools: pools, visitors: visitors}
}

// EnsureDefaultPool returns the default pool, creating it when missing.
func (s *ImportService) EnsureDefaultPool(ctx context.Context) (*models.Pool, error) {
	pool, err := s.pools.GetByName(ctx, DefaultPoolName)
	if err == nil {
		return pool, nil
	}
	if !errors.Is(err, ErrPoolNotFound) {
		return nil, err
	}
	name, url, element := DefaultPoolName, DefaultPoolURL, DefaultPoolElementID
	return s.pools.Create(ctx, PoolInput{Name: &name, URL: &url, ElementID: &element})
}

// ImportCSV reads rows with Timestamp, Weekday and Visitors columns. Timestamps are
// wall-clock times in the pool's timezone; weekday is re-derived from them.
// Malformed rows are counted as invalid and skipped.
func (s *ImportService) ImportCSV(ctx context.Context, r io.Reader, pool *models.Pool) (*ImportResult, error) {
	loc, err := pool.Location()
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	rawHeader, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	header := make([]string, len(rawHeader))
	for i, h := range rawHeader {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if canonical, ok := importHeaderAliases[key]; ok {
			key = canonical
		}
		header[i] = key
	}

	dec, err := csvutil.NewDecoder(cr, header...)
	if err != nil {
		return nil, fmt.Errorf("create csv decoder: %w", err)
	}

	res := &ImportResult{}
	var batch []models.VisitorRecord
	for {
		var row importRow
		if err := dec.Decode(&row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode csv line %d: %w", res.Total+2, err)
		}
		res.Total++

		ts, err := time.ParseInLocation(importTimestampLayout, strings.TrimSpace(row.Timestamp), loc)
		if err != nil {
			res.Invalid++
			continue
		}
		count, err := strconv.Atoi(strings.TrimSpace(row.Visitors))
		if err != nil || count < 0 {
			res.Invalid++
			continue
		}
		batch = append(batch, models.NewVisitorRecord(pool.ID, count, ts, loc))
	}

	added, err := s.visitors.CreateBatch(ctx, batch)
	if err != nil {
		return nil, err
	}
	res.Added = int(added)
	res.Skipped = len(batch) - res.Added
	return res, nil
}
