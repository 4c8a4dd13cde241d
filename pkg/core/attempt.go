package core

import (
	"time"
)

// Result is the outcome recorded when an attempt closes.
type Result string

const (
	ResultPass   Result = "PASS"
	ResultFail   Result = "FAIL"
	ResultRework Result = "REWORK"
)

// IsValid reports whether r is a closing result.
func (r Result) IsValid() bool {
	switch r {
	case ResultPass, ResultFail, ResultRework:
		return true
	}
	return false
}

// Passed reports whether the result is terminal for its (unit, operation) pair.
func (r Result) Passed() bool { return r == ResultPass }

// Attempt is one try at (unit, operation). It is open until CompletedAt is set.
type Attempt struct {
	ID          int64       `gorm:"primaryKey;autoIncrement"`
	Granularity Granularity `gorm:"size:16;not null;index;check:chk_attempts_unit_ref,(granularity = 'BATCH' AND batch_id IS NOT NULL AND item_id IS NULL AND serial_id IS NULL AND lot_id IS NULL) OR (granularity = 'IN_PROCESS' AND batch_id IS NULL AND item_id IS NOT NULL AND serial_id IS NULL AND lot_id IS NOT NULL) OR (granularity = 'SERIALIZED' AND batch_id IS NULL AND item_id IS NULL AND serial_id IS NOT NULL AND lot_id IS NULL)"`
	UnitKey     string      `gorm:"size:64;not null;index:idx_attempts_unit_operation,priority:1"`
	BatchID     *string     `gorm:"size:36;index"`
	ItemID      *string     `gorm:"size:36;index"`
	SerialID    *string     `gorm:"size:36;index"`
	LotID       *string     `gorm:"size:36"`

	OperationID       string `gorm:"size:36;not null;index:idx_attempts_unit_operation,priority:2"`
	OperationPosition int    `gorm:"not null"`
	Operator          string `gorm:"size:128;not null"`

	StartedAt   time.Time  `gorm:"not null"`
	CompletedAt *time.Time `gorm:"index;check:chk_attempts_completed_after_start,completed_at IS NULL OR completed_at >= started_at"`
	Result      Result     `gorm:"size:16;not null;default:'';check:chk_attempts_result,(completed_at IS NULL AND result = '') OR (completed_at IS NOT NULL AND result IN ('PASS','FAIL','REWORK'))"`
	Payload     []byte     `gorm:"type:bytes"`
	DurationMS  *int64     `gorm:"check:chk_attempts_duration,duration_ms IS NULL OR duration_ms >= 0"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Attempt) TableName() string { return "attempts" }

// Open reports whether the attempt has not been closed yet.
func (a *Attempt) Open() bool { return a.CompletedAt == nil }

// Unit returns the reference of the unit the attempt belongs to.
func (a *Attempt) Unit() UnitRef {
	switch a.Granularity {
	case GranularityBatch:
		return BatchUnit(deref(a.BatchID))
	case GranularityInProcess:
		return ItemUnit(deref(a.ItemID))
	case GranularitySerialized:
		return SerialUnit(deref(a.SerialID))
	}
	return UnitRef{Granularity: a.Granularity}
}

// Duration returns the closed attempt's duration, zero while open.
func (a *Attempt) Duration() time.Duration {
	if a.DurationMS == nil {
		return 0
	}
	return time.Duration(*a.DurationMS) * time.Millisecond
}

// Ref returns the caller-facing handle for the attempt.
func (a *Attempt) Ref() AttemptRef {
	return AttemptRef{ID: a.ID, StartedAt: a.StartedAt}
}

// AttemptRef identifies an attempt returned by StartProcess.
type AttemptRef struct {
	ID        int64     `json:"id"`
	StartedAt time.Time `json:"started_at"`
}

// HistoryEntry is the immutable copy of a closed in-process attempt.
type HistoryEntry struct {
	ID                int64       `gorm:"primaryKey;autoIncrement"`
	AttemptID         int64       `gorm:"uniqueIndex;not null"`
	Granularity       Granularity `gorm:"size:16;not null"`
	UnitKey           string      `gorm:"size:64;not null;index"`
	ItemID            string      `gorm:"size:36;not null;index:idx_history_item_operation,priority:1"`
	BatchID           string      `gorm:"size:36;not null;index"`
	OperationID       string      `gorm:"size:36;not null;index:idx_history_item_operation,priority:2"`
	OperationPosition int         `gorm:"not null"`
	Operator          string      `gorm:"size:128;not null"`
	Result            Result      `gorm:"size:16;not null"`
	StartedAt         time.Time   `gorm:"not null"`
	CompletedAt       time.Time   `gorm:"not null;index"`
	DurationMS        int64       `gorm:"not null"`
	Payload           []byte      `gorm:"type:bytes"`
	CreatedAt         time.Time   `gorm:"autoCreateTime"`
}

func (HistoryEntry) TableName() string { return "history_entries" }

// HistoryFromAttempt copies a closed attempt into a history entry.
// The second return value is false while the attempt is still open.
func HistoryFromAttempt(a *Attempt) (HistoryEntry, bool) {
	if a == nil || a.CompletedAt == nil {
		return HistoryEntry{}, false
	}
	var dur int64
	if a.DurationMS != nil {
		dur = *a.DurationMS
	}
	entry := HistoryEntry{
		AttemptID:         a.ID,
		Granularity:       a.Granularity,
		UnitKey:           a.UnitKey,
		ItemID:            deref(a.ItemID),
		BatchID:           deref(a.LotID),
		OperationID:       a.OperationID,
		OperationPosition: a.OperationPosition,
		Operator:          a.Operator,
		Result:            a.Result,
		StartedAt:         a.StartedAt,
		CompletedAt:       *a.CompletedAt,
		DurationMS:        dur,
		Payload:           append([]byte(nil), a.Payload...),
	}
	if a.Granularity == GranularityBatch {
		entry.BatchID = deref(a.BatchID)
	}
	return entry, true
}

// CompletionRecord is returned by CompleteProcess.
type CompletionRecord struct {
	Attempt    Attempt
	Duration   time.Duration
	UnitStatus string
	// Serial is set when the completion converted the item into a serialized item.
	Serial *SerializedItem
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string { return &s }

// HistoryCursor marks a position in a unit's history. Pages resume strictly
// after the cursor in (completed_at, attempt id) order.
type HistoryCursor struct {
	CompletedAt time.Time `json:"completed_at"`
	AttemptID   int64     `json:"attempt_id"`
}

// Cursor returns the cursor positioned at the entry.
func (e HistoryEntry) Cursor() HistoryCursor {
	return HistoryCursor{CompletedAt: e.CompletedAt, AttemptID: e.AttemptID}
}
