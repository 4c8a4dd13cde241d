package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	"github.com/jdziat/simple-process-tracking/pkg/core"
)

// MapError maps driver and GORM failures into core error kinds.
// Errors that already carry a kind are returned unchanged.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *core.Error
	if errors.As(err, &typed) {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return core.NewError(core.KindNotFound, op, "record not found", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return core.Wrap(core.KindInternal, op, err)
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return uniqueViolation(op, sqliteErr.Error(), err)
		case sqlite3.ErrConstraintCheck, sqlite3.ErrConstraintNotNull, sqlite3.ErrConstraintForeignKey:
			return core.NewError(core.KindConstraintViolation, op, sqliteErr.Error(), err)
		}
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return core.NewError(core.KindRetryable, op, "database is locked", err)
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "23505": // unique_violation
			return uniqueViolation(op, pgErr.ConstraintName, err)
		case "23514", "23502", "23503": // check, not_null, foreign_key
			return core.NewError(core.KindConstraintViolation, op, pgErr.Message, err)
		case "40001", "40P01", "55P03": // serialization, deadlock, lock_not_available
			return core.NewError(core.KindRetryable, op, pgErr.Message, err)
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "deadlock"):
		return core.NewError(core.KindRetryable, op, "transient storage failure", err)
	default:
		return core.Wrap(core.KindInternal, op, err)
	}
}

// uniqueViolation picks the conflict kind from the violated index. SQLite
// reports the columns ("attempts.lot_id, attempts.operation_id") while
// PostgreSQL reports the index name.
func uniqueViolation(op, detail string, err error) error {
	d := strings.ToLower(detail)
	switch {
	case strings.Contains(d, IndexOpenLot), strings.Contains(d, "attempts.lot_id"):
		return core.NewError(core.KindConcurrentLotConflict, op, "another item of the batch holds the operation", err)
	case strings.Contains(d, IndexOpenUnit), strings.Contains(d, "attempts.unit_key"):
		return core.NewError(core.KindDuplicateActive, op, "an attempt is already open for the unit and operation", err)
	default:
		return core.NewError(core.KindConstraintViolation, op, "unique constraint: "+detail, err)
	}
}
