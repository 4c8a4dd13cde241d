// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/simple-process-tracking/pkg/storage"
)

// tables in delete order.
var tables = []string{"history_entries", "attempts", "serialized_items", "in_process_items", "batches", "operations"}

// OpenStore returns a migrated store for a test.
// When TEST_DATABASE_URL is set it connects to PostgreSQL and wipes the
// tables before and after the test; otherwise it opens a file-backed SQLite
// database in the test's temp dir.
func OpenStore(t testing.TB) *storage.GormStorage {
	t.Helper()
	cfg := &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: storage.Now,
	}

	var db *gorm.DB
	var err error
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		db, err = gorm.Open(postgres.Open(dsn), cfg)
		require.NoError(t, err, "open postgres test db")
	} else {
		path := filepath.Join(t.TempDir(), "tracking.db")
		db, err = gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"), cfg)
		require.NoError(t, err, "open sqlite test db")
	}

	s, err := storage.NewGormStorageWithPool(db, storage.MaxOpenConns(8), storage.MaxIdleConns(2))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")

	if s.IsPostgres() {
		wipe(db)
	}
	t.Cleanup(func() {
		if s.IsPostgres() {
			wipe(db)
		}
		_ = s.Close()
	})
	return s
}

func wipe(db *gorm.DB) {
	for _, tbl := range tables {
		db.Exec("DELETE FROM " + tbl)
	}
}
