package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cppla/poolchecker/models"
)

func TestCreatePoolAppliesDefaults(t *testing.T) {
	pools := NewPoolService(setupTestDB(t), nil)
	pool := createTestPool(t, pools, "  <b>City Hallenbad</b> ")

	if pool.Name != "City Hallenbad" {
		t.Fatalf("expected sanitized name, got %q", pool.Name)
	}
	if pool.Timezone != "CET" || pool.ScrapeStartTime != "05:50" || pool.ScrapeEndTime != "22:10" {
		t.Fatalf("unexpected defaults: %+v", pool)
	}
	if pool.ScrapeIntervalMinutes != 10 || !pool.IsActive {
		t.Fatalf("unexpected defaults: %+v", pool)
	}
}

func TestCreatePoolValidation(t *testing.T) {
	pools := NewPoolService(setupTestDB(t), nil)
	ctx := context.Background()

	cases := []struct {
		name  string
		field string
		in    PoolInput
	}{
		{"missing name", "name", PoolInput{URL: strPtr("https://example.com"), ElementID: strPtr("x")}},
		{"relative url", "url", PoolInput{Name: strPtr("a"), URL: strPtr("/pool"), ElementID: strPtr("x")}},
		{"bad timezone", "timezone", PoolInput{Name: strPtr("a"), URL: strPtr("https://example.com"), ElementID: strPtr("x"), Timezone: strPtr("Mars/Olympus")}},
		{"bad start", "scrape_start_time", PoolInput{Name: strPtr("a"), URL: strPtr("https://example.com"), ElementID: strPtr("x"), ScrapeStartTime: strPtr("5:50")}},
		{"interval too large", "scrape_interval_minutes", PoolInput{Name: strPtr("a"), URL: strPtr("https://example.com"), ElementID: strPtr("x"), ScrapeIntervalMinutes: intPtr(61)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := pools.Create(ctx, tc.in)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if verr.Field != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, verr.Field)
			}
		})
	}
}

func TestCreatePoolDuplicateName(t *testing.T) {
	pools := NewPoolService(setupTestDB(t), nil)
	createTestPool(t, pools, "Oerlikon")

	_, err := pools.Create(context.Background(), PoolInput{
		Name:      strPtr("Oerlikon"),
		URL:       strPtr("https://example.com/other"),
		ElementID: strPtr("other"),
	})
	if !errors.Is(err, ErrPoolNameTaken) {
		t.Fatalf("expected ErrPoolNameTaken, got %v", err)
	}
}

func TestUpdatePoolPartial(t *testing.T) {
	pools := NewPoolService(setupTestDB(t), nil)
	ctx := context.Background()
	pool := createTestPool(t, pools, "Seebach")
	createTestPool(t, pools, "Letzigraben")

	updated, err := pools.Update(ctx, pool.ID, PoolInput{IsActive: boolPtr(false), ScrapeEndTime: strPtr("21:00")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.IsActive || updated.ScrapeEndTime != "21:00" || updated.Name != "Seebach" {
		t.Fatalf("unexpected update result: %+v", updated)
	}

	active, err := pools.GetActive(ctx)
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if len(active) != 1 || active[0].Name != "Letzigraben" {
		t.Fatalf("expected only Letzigraben active, got %+v", active)
	}

	if _, err := pools.Update(ctx, pool.ID, PoolInput{Name: strPtr("Letzigraben")}); !errors.Is(err, ErrPoolNameTaken) {
		t.Fatalf("expected ErrPoolNameTaken on rename, got %v", err)
	}
	if _, err := pools.Update(ctx, 999, PoolInput{}); !errors.Is(err, ErrPoolNotFound) {
		t.Fatalf("expected ErrPoolNotFound, got %v", err)
	}
}

func TestDeletePoolCascadesRecords(t *testing.T) {
	db := setupTestDB(t)
	pools := NewPoolService(db, nil)
	visitors := NewVisitorService(db, nil, nil)
	ctx := context.Background()

	doomed := createTestPool(t, pools, "Doomed")
	kept := createTestPool(t, pools, "Kept")
	seedReading(t, visitors, doomed, 10, 2024, time.March, 4, 10, 0)
	seedReading(t, visitors, doomed, 12, 2024, time.March, 4, 10, 10)
	seedReading(t, visitors, kept, 7, 2024, time.March, 4, 10, 0)

	if err := pools.Delete(ctx, doomed.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := pools.GetByID(ctx, doomed.ID); !errors.Is(err, ErrPoolNotFound) {
		t.Fatalf("expected pool to be gone, got %v", err)
	}

	var orphans int64
	db.Model(&models.VisitorRecord{}).Where("pool_id = ?", doomed.ID).Count(&orphans)
	if orphans != 0 {
		t.Fatalf("expected records of deleted pool to be removed, %d left", orphans)
	}
	n, err := visitors.Count(ctx, &kept.ID)
	if err != nil || n != 1 {
		t.Fatalf("expected kept pool records untouched, got %d err=%v", n, err)
	}

	if err := pools.Delete(ctx, doomed.ID); !errors.Is(err, ErrPoolNotFound) {
		t.Fatalf("expected ErrPoolNotFound on second delete, got %v", err)
	}
}

func TestGetWithStats(t *testing.T) {
	db := setupTestDB(t)
	pools := NewPoolService(db, nil)
	visitors := NewVisitorService(db, nil, nil)
	ctx := context.Background()

	pool := createTestPool(t, pools, "Stats Pool")
	empty, err := pools.GetWithStats(ctx, pool.ID)
	if err != nil {
		t.Fatalf("get with stats: %v", err)
	}
	if empty.LatestVisitorCount != nil || empty.TotalRecords != 0 {
		t.Fatalf("expected no stats yet, got %+v", empty)
	}

	seedReading(t, visitors, pool, 10, 2024, time.March, 4, 10, 0)
	seedReading(t, visitors, pool, 55, 2024, time.March, 4, 10, 10)

	ws, err := pools.GetWithStats(ctx, pool.ID)
	if err != nil {
		t.Fatalf("get with stats: %v", err)
	}
	if ws.LatestVisitorCount == nil || *ws.LatestVisitorCount != 55 || ws.TotalRecords != 2 {
		t.Fatalf("unexpected stats: %+v", ws)
	}

	all, err := pools.GetAllWithStats(ctx, 0, 10)
	if err != nil || len(all) != 1 {
		t.Fatalf("expected one pool with stats, got %d err=%v", len(all), err)
	}
}

func TestWithinScrapeWindow(t *testing.T) {
	cet := mustLoc(t, "CET")
	pool := &models.Pool{Timezone: "CET", ScrapeStartTime: "05:50", ScrapeEndTime: "22:10"}

	cases := []struct {
		at   time.Time
		want bool
	}{
		{time.Date(2024, 6, 3, 5, 49, 59, 0, cet), false},
		{time.Date(2024, 6, 3, 5, 50, 0, 0, cet), true},
		{time.Date(2024, 6, 3, 12, 0, 0, 0, cet), true},
		{time.Date(2024, 6, 3, 22, 10, 0, 0, cet), true},
		{time.Date(2024, 6, 3, 22, 10, 1, 0, cet), false},
		// 04:00 UTC is 06:00 CEST
		{time.Date(2024, 6, 3, 4, 0, 0, 0, time.UTC), true},
	}
	for _, tc := range cases {
		got, err := WithinScrapeWindow(pool, tc.at)
		if err != nil {
			t.Fatalf("window check %v: %v", tc.at, err)
		}
		if got != tc.want {
			t.Fatalf("window check %v: expected %v, got %v", tc.at, tc.want, got)
		}
	}

	if _, err := WithinScrapeWindow(&models.Pool{Timezone: "CET", ScrapeStartTime: "25:00", ScrapeEndTime: "22:10"}, time.Now()); err == nil {
		t.Fatalf("expected error for malformed window")
	}
}

func TestParseClock(t *testing.T) {
	m, err := ParseClock("22:10")
	if err != nil || m != 22*60+10 {
		t.Fatalf("expected 1330 minutes, got %d err=%v", m, err)
	}
	for _, bad := range []string{"", "7:00", "24:00", "12:60", "12-00"} {
		if _, err := ParseClock(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
