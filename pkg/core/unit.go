package core

import (
	"fmt"
	"strings"
	"time"
)

// MaxBatchSize is the largest number of items a batch may hold.
const MaxBatchSize = 100

// Granularity tags the kind of unit an attempt is recorded against.
type Granularity string

const (
	GranularityBatch      Granularity = "BATCH"
	GranularityInProcess  Granularity = "IN_PROCESS"
	GranularitySerialized Granularity = "SERIALIZED"
)

// IsValid reports whether g is one of the known granularities.
func (g Granularity) IsValid() bool {
	switch g {
	case GranularityBatch, GranularityInProcess, GranularitySerialized:
		return true
	}
	return false
}

func (g Granularity) String() string { return string(g) }

// ItemStatus is the lifecycle status of an in-process item.
type ItemStatus string

const (
	ItemCreated    ItemStatus = "CREATED"
	ItemInProgress ItemStatus = "IN_PROGRESS"
	ItemCompleted  ItemStatus = "COMPLETED"
)

// SerialStatus is the lifecycle status of a serialized item.
type SerialStatus string

const (
	SerialCreated    SerialStatus = "CREATED"
	SerialInProgress SerialStatus = "IN_PROGRESS"
	SerialPassed     SerialStatus = "PASSED"
	SerialFailed     SerialStatus = "FAILED"
)

// Batch is a group of units produced together.
type Batch struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Code      string    `gorm:"uniqueIndex;size:64;not null"`
	Size      int       `gorm:"not null;check:chk_batches_size,size >= 1 AND size <= 100"`
	Produced  int       `gorm:"not null;default:0"`
	Passed    int       `gorm:"not null;default:0"`
	Failed    int       `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Batch) TableName() string { return "batches" }

// InProcessItem is one unit inside a batch, tracked until identity conversion.
type InProcessItem struct {
	ID          string     `gorm:"primaryKey;size:36"`
	BatchID     string     `gorm:"size:36;not null;uniqueIndex:ux_items_batch_ordinal,priority:1"`
	Ordinal     int        `gorm:"not null;uniqueIndex:ux_items_batch_ordinal,priority:2"`
	Status      ItemStatus `gorm:"size:20;not null;index"`
	SerialID    *string    `gorm:"size:36"`
	ConvertedAt *time.Time
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (InProcessItem) TableName() string { return "in_process_items" }

// Converted reports whether the item has been turned into a serialized item.
func (i *InProcessItem) Converted() bool {
	return i.SerialID != nil && *i.SerialID != ""
}

// SerializedItem is a unit after identity conversion.
type SerializedItem struct {
	ID           string       `gorm:"primaryKey;size:36"`
	SerialNumber string       `gorm:"uniqueIndex;size:128;not null"`
	SourceItemID string       `gorm:"uniqueIndex;size:36;not null"`
	BatchID      string       `gorm:"index;size:36;not null"`
	Status       SerialStatus `gorm:"size:20;not null;index"`
	ReworkCount  int          `gorm:"not null;default:0;check:chk_serialized_rework,rework_count >= 0"`
	CreatedAt    time.Time    `gorm:"autoCreateTime"`
	UpdatedAt    time.Time    `gorm:"autoUpdateTime"`
}

func (SerializedItem) TableName() string { return "serialized_items" }

// UnitRef identifies a unit at a specific granularity.
type UnitRef struct {
	Granularity Granularity `json:"granularity"`
	ID          string      `json:"id"`
}

// BatchUnit references a batch.
func BatchUnit(id string) UnitRef { return UnitRef{Granularity: GranularityBatch, ID: id} }

// ItemUnit references an in-process item.
func ItemUnit(id string) UnitRef { return UnitRef{Granularity: GranularityInProcess, ID: id} }

// SerialUnit references a serialized item.
func SerialUnit(id string) UnitRef { return UnitRef{Granularity: GranularitySerialized, ID: id} }

// Key returns the ledger key for the unit, e.g. "IN_PROCESS:3f2a...".
func (r UnitRef) Key() string {
	return string(r.Granularity) + ":" + r.ID
}

func (r UnitRef) String() string { return r.Key() }

// Validate checks that the reference names a known granularity and an ID.
func (r UnitRef) Validate() error {
	if !r.Granularity.IsValid() {
		return Errorf(KindValidation, "unit.ref", "unknown granularity %q", r.Granularity)
	}
	if strings.TrimSpace(r.ID) == "" {
		return NewError(KindValidation, "unit.ref", "unit id is required", nil)
	}
	return nil
}

// ParseUnitRef parses the "<granularity>:<id>" form produced by Key.
func ParseUnitRef(s string) (UnitRef, error) {
	g, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return UnitRef{}, Errorf(KindValidation, "unit.parse", "malformed unit ref %q", s)
	}
	ref := UnitRef{Granularity: Granularity(strings.ToUpper(g)), ID: id}
	if err := ref.Validate(); err != nil {
		return UnitRef{}, err
	}
	return ref, nil
}

// Unit is a resolved unit together with the owning batch and lineage.
type Unit struct {
	Ref    UnitRef
	Batch  *Batch
	Item   *InProcessItem
	Serial *SerializedItem
}

// LotID returns the batch that scopes shared-operation exclusivity, or nil
// for units that are not in-process items.
func (u Unit) LotID() *string {
	if u.Ref.Granularity != GranularityInProcess || u.Item == nil {
		return nil
	}
	id := u.Item.BatchID
	return &id
}

// Lineage returns the ledger keys whose attempts count toward this unit's
// predecessor checks: the unit itself, then the item it was converted from.
func (u Unit) Lineage() []string {
	keys := []string{u.Ref.Key()}
	if u.Ref.Granularity == GranularitySerialized && u.Serial != nil {
		keys = append(keys, ItemUnit(u.Serial.SourceItemID).Key())
	}
	return keys
}

// GenerateSerialNumber builds the permanent serial identity for a converted item.
func GenerateSerialNumber(prefix, batchCode string, ordinal int) string {
	return fmt.Sprintf("%s%s-%03d", prefix, batchCode, ordinal)
}
