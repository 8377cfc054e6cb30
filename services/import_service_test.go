package services

import (
	"context"
	"strings"
	"testing"
)

func TestEnsureDefaultPool(t *testing.T) {
	db := setupTestDB(t)
	importer := NewImportService(NewPoolService(db, nil), NewVisitorService(db, nil, nil))
	ctx := context.Background()

	first, err := importer.EnsureDefaultPool(ctx)
	if err != nil {
		t.Fatalf("ensure default pool: %v", err)
	}
	if first.Name != DefaultPoolName || first.ElementID != DefaultPoolElementID {
		t.Fatalf("unexpected default pool: %+v", first)
	}
	second, err := importer.EnsureDefaultPool(ctx)
	if err != nil || second.ID != first.ID {
		t.Fatalf("expected the same pool on second call, got %+v err=%v", second, err)
	}
}

func TestImportCSV(t *testing.T) {
	db := setupTestDB(t)
	pools := NewPoolService(db, nil)
	visitors := NewVisitorService(db, nil, nil)
	importer := NewImportService(pools, visitors)
	ctx := context.Background()
	pool := createTestPool(t, pools, "Import Pool")

	csvData := "\ufeffTimestamp,Weekday,Visitors\n" +
		"2024-01-01 08:00:00,Monday,10\n" +
		"2024-01-01 08:10:00,Monday,12\n" +
		"2024-01-01 08:10:00,Monday,12\n" +
		"not a date,Monday,5\n" +
		"2024-01-01 08:20:00,Monday,many\n" +
		"2024-01-02 09:00:00,Tuesday,7\n"

	res, err := importer.ImportCSV(ctx, strings.NewReader(csvData), pool)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Total != 6 || res.Invalid != 2 || res.Added != 3 || res.Skipped != 1 {
		t.Fatalf("unexpected import result: %+v", res)
	}

	// wall-clock times are interpreted in the pool's timezone
	recs, err := visitors.GetFiltered(ctx, VisitorFilter{PoolID: &pool.ID, StartDate: "2024-01-01", EndDate: "2024-01-01"})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(recs) != 2 || recs[1].Hour != 8 || recs[1].Timestamp.Hour() != 7 {
		t.Fatalf("unexpected imported records: %+v", recs)
	}

	again, err := importer.ImportCSV(ctx, strings.NewReader(csvData), pool)
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if again.Added != 0 || again.Skipped != 4 {
		t.Fatalf("expected re-import to skip every valid row, got %+v", again)
	}
}

func TestImportCSVHeaderAliases(t *testing.T) {
	db := setupTestDB(t)
	pools := NewPoolService(db, nil)
	importer := NewImportService(pools, NewVisitorService(db, nil, nil))
	pool := createTestPool(t, pools, "Alias Pool")

	csvData := "time,visitor_count\n2024-03-01 10:00:00,33\n"
	res, err := importer.ImportCSV(context.Background(), strings.NewReader(csvData), pool)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Added != 1 {
		t.Fatalf("expected one row added, got %+v", res)
	}
}

func TestImportCSVEmptyInput(t *testing.T) {
	db := setupTestDB(t)
	pools := NewPoolService(db, nil)
	importer := NewImportService(pools, NewVisitorService(db, nil, nil))
	pool := createTestPool(t, pools, "Empty Import")

	if _, err := importer.ImportCSV(context.Background(), strings.NewReader(""), pool); err == nil {
		t.Fatalf("expected error for missing header")
	}
}
