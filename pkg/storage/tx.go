package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/simple-process-tracking/pkg/core"
)

// Tx is a handle on one transaction (or a plain session for reads).
// Every write the ledger performs goes through a Tx method.
type Tx struct {
	db   *gorm.DB
	inTx bool
}

// DB exposes the underlying GORM handle for queries not covered here.
func (t *Tx) DB() *gorm.DB { return t.db }

// ──────────────────────────────────────────────────────────────────────────────
// Operations
// ──────────────────────────────────────────────────────────────────────────────

// ListOperations returns every catalog entry, active or not, by position.
func (t *Tx) ListOperations() ([]core.Operation, error) {
	var ops []core.Operation
	err := t.db.Order("position ASC, code ASC").Find(&ops).Error
	return ops, MapError("storage.list_operations", err)
}

// SaveOperation inserts op, or updates the entry sharing its code.
func (t *Tx) SaveOperation(op *core.Operation) error {
	var existing core.Operation
	err := t.db.Where("code = ?", op.Code).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if op.ID == "" {
			op.ID = uuid.New().String()
		}
		return MapError("storage.save_operation", t.db.Create(op).Error)
	case err != nil:
		return MapError("storage.save_operation", err)
	}

	op.ID = existing.ID
	op.CreatedAt = existing.CreatedAt
	err = t.db.Model(&core.Operation{}).
		Where("id = ?", existing.ID).
		Updates(map[string]any{
			"position": op.Position,
			"name":     op.Name,
			"type":     op.Type,
			"active":   op.Active,
		}).Error
	return MapError("storage.save_operation", err)
}

// SetOperationActive toggles the active flag of the operation with code.
func (t *Tx) SetOperationActive(code string, active bool) error {
	result := t.db.Model(&core.Operation{}).
		Where("code = ?", code).
		Update("active", active)
	if result.Error != nil {
		return MapError("storage.set_operation_active", result.Error)
	}
	if result.RowsAffected == 0 {
		return core.Errorf(core.KindNotFound, "storage.set_operation_active", "operation %q not found", code)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Attempts
// ──────────────────────────────────────────────────────────────────────────────

const savepointInsertAttempt = "insert_attempt"

// InsertAttempt stores a new open attempt. A second open attempt for the same
// unit or batch slot is rejected by the partial unique indexes.
//
// An item reopening its own slot breaks both indexes and the database names
// only one of them, so the held row decides the kind: DuplicateActive when
// the unit itself holds it, ConcurrentLotConflict when a sibling does.
func (t *Tx) InsertAttempt(a *core.Attempt) error {
	const op = "storage.insert_attempt"
	if a.LotID == nil {
		return MapError(op, t.db.Create(a).Error)
	}

	// PostgreSQL aborts the transaction on a failed statement; the savepoint
	// keeps it usable for the lookup below.
	if t.inTx {
		if err := t.db.SavePoint(savepointInsertAttempt).Error; err != nil {
			return MapError(op, err)
		}
	}
	err := t.db.Create(a).Error
	if err == nil {
		return nil
	}
	mapped := MapError(op, err)
	if !core.IsKind(mapped, core.KindConcurrentLotConflict) && !core.IsKind(mapped, core.KindDuplicateActive) {
		return mapped
	}
	if t.inTx {
		if rbErr := t.db.RollbackTo(savepointInsertAttempt).Error; rbErr != nil {
			return mapped
		}
	}

	held, lookupErr := t.OpenAttemptForUnit(a.UnitKey, a.OperationID)
	if lookupErr != nil {
		return mapped
	}
	if held != nil {
		return core.NewError(core.KindDuplicateActive, op,
			fmt.Sprintf("%s already has open attempt %d", a.UnitKey, held.ID), err)
	}
	return core.NewError(core.KindConcurrentLotConflict, op,
		"another item of the batch holds the operation", err)
}

// GetAttempt loads an attempt by ID.
func (t *Tx) GetAttempt(id int64) (*core.Attempt, error) {
	var a core.Attempt
	err := t.db.First(&a, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.Errorf(core.KindNotFound, "storage.get_attempt", "attempt %d not found", id)
	}
	if err != nil {
		return nil, MapError("storage.get_attempt", err)
	}
	return &a, nil
}

// AttemptsAt returns every attempt, open or closed, recorded for any of the
// unit keys at the operation.
func (t *Tx) AttemptsAt(unitKeys []string, operationID string) ([]core.Attempt, error) {
	var attempts []core.Attempt
	if len(unitKeys) == 0 {
		return attempts, nil
	}
	err := t.db.
		Where("unit_key IN ?", unitKeys).
		Where("operation_id = ?", operationID).
		Order("started_at ASC, id ASC").
		Find(&attempts).Error
	return attempts, MapError("storage.attempts_at", err)
}

// UnitAttempts returns every attempt recorded for the unit key.
func (t *Tx) UnitAttempts(unitKey string) ([]core.Attempt, error) {
	var attempts []core.Attempt
	err := t.db.
		Where("unit_key = ?", unitKey).
		Order("started_at ASC, id ASC").
		Find(&attempts).Error
	return attempts, MapError("storage.unit_attempts", err)
}

// OpenAttempts returns the open attempts of the unit key.
func (t *Tx) OpenAttempts(unitKey string) ([]core.Attempt, error) {
	var attempts []core.Attempt
	err := t.db.
		Where("unit_key = ?", unitKey).
		Where("completed_at IS NULL").
		Order("started_at ASC, id ASC").
		Find(&attempts).Error
	return attempts, MapError("storage.open_attempts", err)
}

// OpenAttemptForUnit returns the open attempt for (unit, operation), or nil.
func (t *Tx) OpenAttemptForUnit(unitKey, operationID string) (*core.Attempt, error) {
	return t.firstOpen("storage.open_attempt_unit", "unit_key = ?", unitKey, operationID)
}

// OpenAttemptForLot returns the open attempt any item of the batch holds at
// the operation, or nil.
func (t *Tx) OpenAttemptForLot(lotID, operationID string) (*core.Attempt, error) {
	return t.firstOpen("storage.open_attempt_lot", "lot_id = ?", lotID, operationID)
}

func (t *Tx) firstOpen(op, cond, arg, operationID string) (*core.Attempt, error) {
	var attempts []core.Attempt
	err := t.db.
		Where(cond, arg).
		Where("operation_id = ?", operationID).
		Where("completed_at IS NULL").
		Limit(1).
		Find(&attempts).Error
	if err != nil {
		return nil, MapError(op, err)
	}
	if len(attempts) == 0 {
		return nil, nil
	}
	return &attempts[0], nil
}

// CloseAttempt records the outcome of an open attempt. The update is guarded
// on completed_at IS NULL so an attempt closes at most once.
func (t *Tx) CloseAttempt(a *core.Attempt) error {
	if a.CompletedAt == nil {
		return core.NewError(core.KindInternal, "storage.close_attempt", "close without completed_at", nil)
	}
	result := t.db.Model(&core.Attempt{}).
		Where("id = ? AND completed_at IS NULL", a.ID).
		Updates(map[string]any{
			"completed_at": *a.CompletedAt,
			"result":       a.Result,
			"payload":      a.Payload,
			"duration_ms":  a.DurationMS,
		})
	if result.Error != nil {
		return MapError("storage.close_attempt", result.Error)
	}
	if result.RowsAffected == 0 {
		return core.Errorf(core.KindInvalidState, "storage.close_attempt", "attempt %d is already closed", a.ID)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// History
// ──────────────────────────────────────────────────────────────────────────────

// InsertHistory appends a history entry. Entries are never updated or deleted.
func (t *Tx) InsertHistory(e *core.HistoryEntry) error {
	return MapError("storage.insert_history", t.db.Create(e).Error)
}

// ItemHistory returns the item's entries in (completed_at, attempt id) order,
// strictly after the cursor when one is given. A limit <= 0 returns all.
func (t *Tx) ItemHistory(itemID string, after *core.HistoryCursor, limit int) ([]core.HistoryEntry, error) {
	q := t.db.Where("item_id = ?", itemID)
	if after != nil {
		q = q.Where("completed_at > ? OR (completed_at = ? AND attempt_id > ?)",
			after.CompletedAt, after.CompletedAt, after.AttemptID)
	}
	q = q.Order("completed_at ASC, attempt_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var entries []core.HistoryEntry
	err := q.Find(&entries).Error
	return entries, MapError("storage.item_history", err)
}

// BatchHistory returns every history entry of the batch's items.
func (t *Tx) BatchHistory(batchID string) ([]core.HistoryEntry, error) {
	var entries []core.HistoryEntry
	err := t.db.
		Where("batch_id = ? AND granularity = ?", batchID, core.GranularityInProcess).
		Order("completed_at ASC, attempt_id ASC").
		Find(&entries).Error
	return entries, MapError("storage.batch_history", err)
}

// ClosedAttempts returns closed attempts of the unit key in the same order
// and with the same cursor semantics as ItemHistory.
func (t *Tx) ClosedAttempts(unitKey string, after *core.HistoryCursor, limit int) ([]core.Attempt, error) {
	q := t.db.Where("unit_key = ? AND completed_at IS NOT NULL", unitKey)
	if after != nil {
		q = q.Where("completed_at > ? OR (completed_at = ? AND id > ?)",
			after.CompletedAt, after.CompletedAt, after.AttemptID)
	}
	q = q.Order("completed_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var attempts []core.Attempt
	err := q.Find(&attempts).Error
	return attempts, MapError("storage.closed_attempts", err)
}

// ──────────────────────────────────────────────────────────────────────────────
// Units
// ──────────────────────────────────────────────────────────────────────────────

// CreateBatch inserts a batch together with its items.
func (t *Tx) CreateBatch(b *core.Batch, items []core.InProcessItem) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if err := t.db.Create(b).Error; err != nil {
		return MapError("storage.create_batch", err)
	}
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.New().String()
		}
		items[i].BatchID = b.ID
	}
	if len(items) == 0 {
		return nil
	}
	return MapError("storage.create_batch", t.db.Create(&items).Error)
}

// GetBatch loads a batch by ID.
func (t *Tx) GetBatch(id string) (*core.Batch, error) {
	var b core.Batch
	if err := t.first(&b, "id = ?", id); err != nil {
		return nil, notFound(err, "storage.get_batch", "batch", id)
	}
	return &b, nil
}

// GetBatchByCode loads a batch by its code.
func (t *Tx) GetBatchByCode(code string) (*core.Batch, error) {
	var b core.Batch
	if err := t.first(&b, "code = ?", code); err != nil {
		return nil, notFound(err, "storage.get_batch", "batch", code)
	}
	return &b, nil
}

// GetItem loads an in-process item by ID.
func (t *Tx) GetItem(id string) (*core.InProcessItem, error) {
	var item core.InProcessItem
	if err := t.first(&item, "id = ?", id); err != nil {
		return nil, notFound(err, "storage.get_item", "item", id)
	}
	return &item, nil
}

// ListItems returns the items of a batch by ordinal.
func (t *Tx) ListItems(batchID string) ([]core.InProcessItem, error) {
	var items []core.InProcessItem
	err := t.db.Where("batch_id = ?", batchID).Order("ordinal ASC").Find(&items).Error
	return items, MapError("storage.list_items", err)
}

// GetSerial loads a serialized item by ID.
func (t *Tx) GetSerial(id string) (*core.SerializedItem, error) {
	var s core.SerializedItem
	if err := t.first(&s, "id = ?", id); err != nil {
		return nil, notFound(err, "storage.get_serial", "serialized item", id)
	}
	return &s, nil
}

// GetSerialByNumber loads a serialized item by its serial number.
func (t *Tx) GetSerialByNumber(serialNumber string) (*core.SerializedItem, error) {
	var s core.SerializedItem
	if err := t.first(&s, "serial_number = ?", serialNumber); err != nil {
		return nil, notFound(err, "storage.get_serial", "serial number", serialNumber)
	}
	return &s, nil
}

// UpdateItemStatus sets the lifecycle status of an item.
func (t *Tx) UpdateItemStatus(id string, status core.ItemStatus) error {
	return t.update(&core.InProcessItem{}, "storage.update_item", id, map[string]any{"status": status})
}

// ConvertItem links an item to the serialized item it became. The update is
// guarded so an item converts at most once.
func (t *Tx) ConvertItem(id, serialID string, at time.Time) error {
	result := t.db.Model(&core.InProcessItem{}).
		Where("id = ? AND serial_id IS NULL", id).
		Updates(map[string]any{"serial_id": serialID, "converted_at": at})
	if result.Error != nil {
		return MapError("storage.convert_item", result.Error)
	}
	if result.RowsAffected == 0 {
		return core.Errorf(core.KindInvalidState, "storage.convert_item", "item %s is already converted", id)
	}
	return nil
}

// CreateSerial inserts a serialized item.
func (t *Tx) CreateSerial(s *core.SerializedItem) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return MapError("storage.create_serial", t.db.Create(s).Error)
}

// UpdateSerialStatus sets the lifecycle status of a serialized item.
func (t *Tx) UpdateSerialStatus(id string, status core.SerialStatus) error {
	return t.update(&core.SerializedItem{}, "storage.update_serial", id, map[string]any{"status": status})
}

// IncrementRework bumps the rework counter of a serialized item.
func (t *Tx) IncrementRework(id string) error {
	return t.update(&core.SerializedItem{}, "storage.increment_rework", id,
		map[string]any{"rework_count": gorm.Expr("rework_count + 1")})
}

// LockBatch loads a batch and, on PostgreSQL, holds its row lock until the
// transaction ends. Writers recomputing a batch's counts take it first so
// they read each other's committed closes. SQLite serializes writers already.
func (t *Tx) LockBatch(id string) (*core.Batch, error) {
	q := t.db
	if t.db.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var b core.Batch
	if err := q.Where("id = ?", id).First(&b).Error; err != nil {
		return nil, notFound(err, "storage.lock_batch", "batch", id)
	}
	return &b, nil
}

// UpdateBatchCounts stores the aggregate counts of a batch.
func (t *Tx) UpdateBatchCounts(id string, produced, passed, failed int) error {
	return t.update(&core.Batch{}, "storage.update_batch", id, map[string]any{
		"produced": produced,
		"passed":   passed,
		"failed":   failed,
	})
}

func (t *Tx) first(dest any, cond string, arg string) error {
	return t.db.Where(cond, arg).First(dest).Error
}

func (t *Tx) update(model any, op, id string, values map[string]any) error {
	result := t.db.Model(model).Where("id = ?", id).Updates(values)
	if result.Error != nil {
		return MapError(op, result.Error)
	}
	if result.RowsAffected == 0 {
		return core.Errorf(core.KindNotFound, op, "%s not found", id)
	}
	return nil
}

func notFound(err error, op, what, key string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.Errorf(core.KindNotFound, op, "%s %q not found", what, key)
	}
	return MapError(op, err)
}
