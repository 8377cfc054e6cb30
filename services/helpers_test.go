package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cppla/poolchecker/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := gdb.AutoMigrate(&models.User{}, &models.Pool{}, &models.VisitorRecord{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	t.Cleanup(func() {
		sqlDB.Close()
	})
	return gdb
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
func boolPtr(b bool) *bool    { return &b }

func createTestPool(t *testing.T, pools *PoolService, name string) *models.Pool {
	t.Helper()
	pool, err := pools.Create(context.Background(), PoolInput{
		Name:      strPtr(name),
		URL:       strPtr("https://example.com/pool"),
		ElementID: strPtr("SSD-4_visitornumber"),
	})
	if err != nil {
		t.Fatalf("failed to create pool %q: %v", name, err)
	}
	return pool
}

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load location %s: %v", name, err)
	}
	return loc
}

// seedReading stores a record observed at the given wall-clock time in the pool's timezone.
func seedReading(t *testing.T, visitors *VisitorService, pool *models.Pool, count int, year int, month time.Month, day, hour, minute int) {
	t.Helper()
	loc := mustLoc(t, pool.Timezone)
	at := time.Date(year, month, day, hour, minute, 0, 0, loc)
	if _, created, err := visitors.CreateFromScrape(context.Background(), pool, count, at); err != nil || !created {
		t.Fatalf("seed reading %v: created=%v err=%v", at, created, err)
	}
}
