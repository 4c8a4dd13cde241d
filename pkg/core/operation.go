package core

import (
	"strconv"
	"strings"
	"time"
)

// OperationType distinguishes ordinary steps from the identity-conversion step.
type OperationType string

const (
	OperationStandard           OperationType = "STANDARD"
	OperationIdentityConversion OperationType = "IDENTITY_CONVERSION"
)

// IsValid reports whether t is a known operation type.
func (t OperationType) IsValid() bool {
	switch t {
	case OperationStandard, OperationIdentityConversion:
		return true
	}
	return false
}

// Operation is one ordered step of the manufacturing pipeline.
type Operation struct {
	ID        string        `gorm:"primaryKey;size:36"`
	Position  int           `gorm:"not null;index;check:chk_operations_position,position >= 1"`
	Code      string        `gorm:"uniqueIndex;size:64;not null"`
	Name      string        `gorm:"size:255;not null"`
	Type      OperationType `gorm:"size:32;not null"`
	Active    bool          `gorm:"not null"`
	CreatedAt time.Time     `gorm:"autoCreateTime"`
	UpdatedAt time.Time     `gorm:"autoUpdateTime"`
}

func (Operation) TableName() string { return "operations" }

// IsConversion reports whether the operation converts items into serialized items.
func (o *Operation) IsConversion() bool {
	return o.Type == OperationIdentityConversion
}

// OperationRef resolves an operation by ID, code or position, in that order.
type OperationRef struct {
	ID       string `json:"id,omitempty"`
	Code     string `json:"code,omitempty"`
	Position int    `json:"position,omitempty"`
}

// OperationByCode references an operation by its identity code.
func OperationByCode(code string) OperationRef { return OperationRef{Code: code} }

// OperationAt references the active operation at a catalog position.
func OperationAt(position int) OperationRef { return OperationRef{Position: position} }

// IsZero reports whether no lookup field is set.
func (r OperationRef) IsZero() bool {
	return strings.TrimSpace(r.ID) == "" && strings.TrimSpace(r.Code) == "" && r.Position <= 0
}

func (r OperationRef) String() string {
	switch {
	case strings.TrimSpace(r.ID) != "":
		return "id=" + r.ID
	case strings.TrimSpace(r.Code) != "":
		return "code=" + r.Code
	default:
		return "position=" + strconv.Itoa(r.Position)
	}
}
