package services

import (
	"context"
	"testing"
	"time"

	"github.com/cppla/poolchecker/models"
)

func TestCreateFromScrapeIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	pools := NewPoolService(db, nil)
	visitors := NewVisitorService(db, nil, nil)
	ctx := context.Background()
	pool := createTestPool(t, pools, "Dedup Pool")

	at := time.Date(2024, time.May, 6, 8, 0, 0, 500_000_000, time.UTC)
	rec, created, err := visitors.CreateFromScrape(ctx, pool, 42, at)
	if err != nil || !created {
		t.Fatalf("first insert: created=%v err=%v", created, err)
	}
	if !rec.Timestamp.Equal(at.Truncate(time.Second)) {
		t.Fatalf("expected timestamp truncated to seconds, got %v", rec.Timestamp)
	}
	if rec.Weekday != "Monday" || rec.Hour != 10 || rec.LocalDate != "2024-05-06" {
		t.Fatalf("unexpected derived fields: %+v", rec)
	}

	// same second, different count
	rec, created, err = visitors.CreateFromScrape(ctx, pool, 99, at.Add(200*time.Millisecond))
	if err != nil {
		t.Fatalf("duplicate insert returned error: %v", err)
	}
	if created || rec != nil {
		t.Fatalf("expected duplicate to be skipped, got created=%v rec=%+v", created, rec)
	}

	n, err := visitors.Count(ctx, &pool.ID)
	if err != nil || n != 1 {
		t.Fatalf("expected exactly one record, got %d err=%v", n, err)
	}
	dup, err := visitors.CheckDuplicate(ctx, pool.ID, at)
	if err != nil || !dup {
		t.Fatalf("expected CheckDuplicate to report true, got %v err=%v", dup, err)
	}
}

func TestCreateFromScrapeRejectsNegative(t *testing.T) {
	db := setupTestDB(t)
	pools := NewPoolService(db, nil)
	visitors := NewVisitorService(db, nil, nil)
	pool := createTestPool(t, pools, "Negative Pool")

	if _, _, err := visitors.CreateFromScrape(context.Background(), pool, -1, time.Now()); err == nil {
		t.Fatalf("expected error for negative count")
	}
}

func TestGetFilteredAndPaginated(t *testing.T) {
	db := setupTestDB(t)
	pools := NewPoolService(db, nil)
	visitors := NewVisitorService(db, nil, nil)
	ctx := context.Background()
	a := createTestPool(t, pools, "Pool A")
	b := createTestPool(t, pools, "Pool B")

	for i := 0; i < 5; i++ {
		seedReading(t, visitors, a, 10+i, 2024, time.January, 1+i, 12, 0) // Mon..Fri
	}
	seedReading(t, visitors, b, 99, 2024, time.January, 1, 12, 0)

	all, err := visitors.GetFiltered(ctx, VisitorFilter{})
	if err != nil || len(all) != 6 {
		t.Fatalf("expected 6 records, got %d err=%v", len(all), err)
	}

	onlyA, err := visitors.GetFiltered(ctx, VisitorFilter{PoolID: &a.ID, Limit: 2})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(onlyA) != 2 || onlyA[0].VisitorCount != 14 || onlyA[1].VisitorCount != 13 {
		t.Fatalf("expected newest two of pool A, got %+v", onlyA)
	}

	ranged, err := visitors.GetFiltered(ctx, VisitorFilter{PoolID: &a.ID, StartDate: "2024-01-02", EndDate: "2024-01-03"})
	if err != nil || len(ranged) != 2 {
		t.Fatalf("expected 2 records in range, got %d err=%v", len(ranged), err)
	}

	mondays, err := visitors.GetFiltered(ctx, VisitorFilter{Weekday: "monday"})
	if err != nil || len(mondays) != 2 {
		t.Fatalf("expected 2 Monday records, got %d err=%v", len(mondays), err)
	}

	if _, err := visitors.GetFiltered(ctx, VisitorFilter{StartDate: "2024/01/01"}); err == nil {
		t.Fatalf("expected validation error for bad start date")
	}

	page, err := visitors.GetPaginated(ctx, VisitorFilter{PoolID: &a.ID}, 2, 2)
	if err != nil {
		t.Fatalf("paginate: %v", err)
	}
	if page.Total != 5 || len(page.Items) != 2 || !page.HasMore || page.Page != 2 {
		t.Fatalf("unexpected page 2: %+v", page)
	}
	last, err := visitors.GetPaginated(ctx, VisitorFilter{PoolID: &a.ID}, 3, 2)
	if err != nil {
		t.Fatalf("paginate: %v", err)
	}
	if len(last.Items) != 1 || last.HasMore {
		t.Fatalf("unexpected last page: %+v", last)
	}
}

func TestLatestAndToday(t *testing.T) {
	db := setupTestDB(t)
	pools := NewPoolService(db, nil)
	visitors := NewVisitorService(db, nil, nil)
	ctx := context.Background()
	a := createTestPool(t, pools, "Latest A")
	b := createTestPool(t, pools, "Latest B")
	createTestPool(t, pools, "Latest Empty")

	seedReading(t, visitors, a, 10, 2024, time.February, 5, 9, 0)
	seedReading(t, visitors, a, 20, 2024, time.February, 6, 9, 0)
	seedReading(t, visitors, a, 30, 2024, time.February, 6, 9, 10)
	seedReading(t, visitors, b, 5, 2024, time.February, 6, 8, 0)

	latest, err := visitors.GetLatestAllPools(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("expected readings for two pools, got %+v", latest)
	}
	if latest[0].PoolName != "Latest A" || latest[0].VisitorCount != 30 {
		t.Fatalf("unexpected latest for A: %+v", latest[0])
	}
	if latest[1].PoolName != "Latest B" || latest[1].VisitorCount != 5 {
		t.Fatalf("unexpected latest for B: %+v", latest[1])
	}

	one, err := visitors.GetLatestForPool(ctx, a.ID)
	if err != nil || one == nil || one.VisitorCount != 30 {
		t.Fatalf("unexpected latest for pool: %+v err=%v", one, err)
	}

	now := time.Date(2024, time.February, 6, 18, 0, 0, 0, mustLoc(t, "CET"))
	today, err := visitors.GetTodayForPool(ctx, a, now)
	if err != nil {
		t.Fatalf("today: %v", err)
	}
	if len(today) != 2 || today[0].VisitorCount != 20 || today[1].VisitorCount != 30 {
		t.Fatalf("expected today's two readings oldest first, got %+v", today)
	}
}

func TestCreateBatchSkipsDuplicates(t *testing.T) {
	db := setupTestDB(t)
	pools := NewPoolService(db, nil)
	visitors := NewVisitorService(db, nil, nil)
	ctx := context.Background()
	pool := createTestPool(t, pools, "Batch Pool")
	seedReading(t, visitors, pool, 1, 2024, time.April, 1, 10, 0)

	cet := mustLoc(t, "CET")
	recs := []models.VisitorRecord{
		models.NewVisitorRecord(pool.ID, 1, time.Date(2024, time.April, 1, 10, 0, 0, 0, cet), cet),
		models.NewVisitorRecord(pool.ID, 2, time.Date(2024, time.April, 1, 10, 10, 0, 0, cet), cet),
		models.NewVisitorRecord(pool.ID, 3, time.Date(2024, time.April, 1, 10, 20, 0, 0, cet), cet),
	}
	added, err := visitors.CreateBatch(ctx, recs)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if added != 2 {
		t.Fatalf("expected 2 new records, got %d", added)
	}
	n, _ := visitors.Count(ctx, nil)
	if n != 3 {
		t.Fatalf("expected 3 records total, got %d", n)
	}
}
