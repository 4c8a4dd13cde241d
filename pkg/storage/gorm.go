package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/simple-process-tracking/pkg/core"
)

// Supported driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// GormStorage is the GORM-backed transactional store.
type GormStorage struct {
	db *gorm.DB
}

// NewGormStorage wraps an open GORM connection.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db}
}

// Open connects to the database named by driver and dsn and configures the pool.
// In-memory SQLite databases are pinned to a single connection because every
// connection would otherwise see its own empty database.
func Open(driver, dsn string, opts ...PoolOption) (*GormStorage, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "sqlite3":
		dialector = sqlite.Open(dsn)
		if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
			opts = append(opts, MaxOpenConns(1), MaxIdleConns(1))
		}
	case DriverPostgres, "postgresql", "pgx":
		dialector = postgres.Open(dsn)
	default:
		return nil, core.Errorf(core.KindValidation, "storage.open", "unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: Now,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	return NewGormStorageWithPool(db, opts...)
}

// Now returns the store clock: UTC truncated to microseconds so values
// round-trip identically through both dialects.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// DB returns the underlying GORM connection.
func (s *GormStorage) DB() *gorm.DB {
	return s.db
}

// IsSQLite reports whether the store runs on SQLite.
func (s *GormStorage) IsSQLite() bool {
	return s.dialect() == DriverSQLite
}

// IsPostgres reports whether the store runs on PostgreSQL.
func (s *GormStorage) IsPostgres() bool {
	return s.dialect() == DriverPostgres
}

func (s *GormStorage) dialect() string {
	if s == nil || s.db == nil || s.db.Dialector == nil {
		return ""
	}
	return s.db.Dialector.Name()
}

// Close releases the connection pool.
func (s *GormStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate creates the tables, check constraints and partial unique indexes.
// It is idempotent.
func (s *GormStorage) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(
		&core.Operation{},
		&core.Batch{},
		&core.InProcessItem{},
		&core.SerializedItem{},
		&core.Attempt{},
		&core.HistoryEntry{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return ensureIndexes(db)
}

// partialIndexes turn the open-attempt rules into storage guarantees. They are
// created after AutoMigrate because GORM tags cannot express a WHERE clause.
var partialIndexes = []struct {
	name string
	ddl  string
}{
	{
		name: IndexOpenUnit,
		ddl: `CREATE UNIQUE INDEX IF NOT EXISTS ux_attempts_open_unit
		ON attempts(unit_key, operation_id)
		WHERE completed_at IS NULL`,
	},
	{
		name: IndexOpenLot,
		ddl: `CREATE UNIQUE INDEX IF NOT EXISTS ux_attempts_open_lot
		ON attempts(lot_id, operation_id)
		WHERE completed_at IS NULL AND lot_id IS NOT NULL`,
	},
	{
		name: IndexActivePosition,
		ddl: `CREATE UNIQUE INDEX IF NOT EXISTS ux_operations_active_position
		ON operations(position)
		WHERE active = TRUE`,
	},
}

// Index names referenced by error mapping.
const (
	IndexOpenUnit       = "ux_attempts_open_unit"
	IndexOpenLot        = "ux_attempts_open_lot"
	IndexActivePosition = "ux_operations_active_position"
)

func ensureIndexes(db *gorm.DB) error {
	for _, idx := range partialIndexes {
		if err := db.Exec(idx.ddl).Error; err != nil {
			return fmt.Errorf("create %s: %w", idx.name, err)
		}
	}
	return nil
}

// TxOptions tunes a single transaction.
type TxOptions struct {
	// Serializable runs the transaction at SERIALIZABLE isolation on PostgreSQL.
	// SQLite transactions are always serialized by the database lock.
	Serializable bool
}

// InTx runs fn inside one transaction. The transaction commits when fn returns
// nil and rolls back otherwise, including when ctx is cancelled before commit.
// Errors are returned mapped to core error kinds.
func (s *GormStorage) InTx(ctx context.Context, opts TxOptions, fn func(tx *Tx) error) error {
	if fn == nil {
		return nil
	}
	if s == nil || s.db == nil {
		return core.NewError(core.KindInternal, "storage.tx", "storage has nil db", nil)
	}

	var sqlOpts []*sql.TxOptions
	if opts.Serializable && s.IsPostgres() {
		sqlOpts = append(sqlOpts, &sql.TxOptions{Isolation: sql.LevelSerializable})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Tx{db: tx, inTx: true})
	}, sqlOpts...)
	return MapError("storage.tx", err)
}

// Session returns a non-transactional handle for reads.
func (s *GormStorage) Session(ctx context.Context) *Tx {
	return &Tx{db: s.db.WithContext(ctx)}
}
