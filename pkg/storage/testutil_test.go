package storage

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

	"github.com/jdziat/simple-process-tracking/pkg/core"
)

// openTestDB opens a database for tests.
// When TEST_DATABASE_URL is set it connects to PostgreSQL; otherwise it
// opens a fresh file-backed SQLite database in the test's temp dir. A file
// is used instead of :memory: so concurrent connections share one database.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	cfg := &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: Now,
	}
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn != "" {
		db, err := gorm.Open(postgres.Open(dsn), cfg)
		require.NoError(t, err, "open postgres test db")

		sqlDB, err := db.DB()
		require.NoError(t, err, "get underlying sql.DB")
		sqlDB.SetMaxOpenConns(4)
		sqlDB.SetMaxIdleConns(1)

		// Clean before AND after to ensure test isolation.
		cleanupPostgresDB(t, db)
		t.Cleanup(func() {
			cleanupPostgresDB(t, db)
			_ = sqlDB.Close()
		})
		return db
	}
	path := filepath.Join(t.TempDir(), "tracking.db")
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"), cfg)
	require.NoError(t, err, "open sqlite test db")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// cleanupPostgresDB deletes all rows so tests are isolated without
// requiring a fresh database per test.
func cleanupPostgresDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	tables := []string{"history_entries", "attempts", "serialized_items", "in_process_items", "batches", "operations"}
	for _, tbl := range tables {
		db.Exec("DELETE FROM " + tbl)
	}
}

// newTestStorage returns a migrated store.
func newTestStorage(t *testing.T) *GormStorage {
	t.Helper()
	s := NewGormStorage(openTestDB(t))
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")
	return s
}

// seedBatch creates a batch of n items and returns it with its items.
func seedBatch(t *testing.T, s *GormStorage, code string, n int) (*core.Batch, []core.InProcessItem) {
	t.Helper()
	batch := &core.Batch{Code: code, Size: n}
	items := make([]core.InProcessItem, n)
	for i := range items {
		items[i] = core.InProcessItem{Ordinal: i + 1, Status: core.ItemCreated}
	}
	require.NoError(t, s.InTx(context.Background(), TxOptions{}, func(tx *Tx) error {
		return tx.CreateBatch(batch, items)
	}))
	return batch, items
}

// seedOperation stores an active standard operation.
func seedOperation(t *testing.T, s *GormStorage, code string, position int) *core.Operation {
	t.Helper()
	op := &core.Operation{Code: code, Name: code, Position: position, Type: core.OperationStandard, Active: true}
	require.NoError(t, s.InTx(context.Background(), TxOptions{}, func(tx *Tx) error {
		return tx.SaveOperation(op)
	}))
	return op
}

func openItemAttempt(item core.InProcessItem, op *core.Operation) *core.Attempt {
	return &core.Attempt{
		Granularity:       core.GranularityInProcess,
		UnitKey:           core.ItemUnit(item.ID).Key(),
		ItemID:            core.StringPtr(item.ID),
		LotID:             core.StringPtr(item.BatchID),
		OperationID:       op.ID,
		OperationPosition: op.Position,
		Operator:          "station-1",
		StartedAt:         Now(),
	}
}
