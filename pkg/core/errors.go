package core

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so callers can tell "try again later" from
// "this can never succeed in the current state".
type Kind string

const (
	KindNotFound              Kind = "not_found"
	KindSequenceViolation     Kind = "sequence_violation"
	KindAlreadyPassed         Kind = "already_passed"
	KindDuplicateActive       Kind = "duplicate_active"
	KindConcurrentLotConflict Kind = "concurrent_lot_conflict"
	KindInvalidState          Kind = "invalid_state"
	KindReworkLimit           Kind = "rework_limit"
	KindConstraintViolation   Kind = "constraint_violation"
	KindValidation            Kind = "validation"
	KindRetryable             Kind = "retryable"
	KindInternal              Kind = "internal"
)

// Sentinel errors, one per kind. errors.Is(err, ErrAlreadyPassed) matches any
// *Error carrying KindAlreadyPassed.
var (
	ErrNotFound              = errors.New("tracking: not found")
	ErrSequenceViolation     = errors.New("tracking: predecessor operation not passed")
	ErrAlreadyPassed         = errors.New("tracking: operation already passed")
	ErrDuplicateActive       = errors.New("tracking: attempt already open for unit and operation")
	ErrConcurrentLotConflict = errors.New("tracking: sibling item holds the operation for this batch")
	ErrInvalidState          = errors.New("tracking: invalid state")
	ErrReworkLimit           = errors.New("tracking: rework limit reached")
	ErrConstraintViolation   = errors.New("tracking: storage constraint violation")
	ErrValidation            = errors.New("tracking: validation failed")
	ErrRetryable             = errors.New("tracking: transient storage failure")
	ErrInternal              = errors.New("tracking: internal error")
)

var sentinels = map[Kind]error{
	KindNotFound:              ErrNotFound,
	KindSequenceViolation:     ErrSequenceViolation,
	KindAlreadyPassed:         ErrAlreadyPassed,
	KindDuplicateActive:       ErrDuplicateActive,
	KindConcurrentLotConflict: ErrConcurrentLotConflict,
	KindInvalidState:          ErrInvalidState,
	KindReworkLimit:           ErrReworkLimit,
	KindConstraintViolation:   ErrConstraintViolation,
	KindValidation:            ErrValidation,
	KindRetryable:             ErrRetryable,
	KindInternal:              ErrInternal,
}

// Conflict reports kinds that describe a clash with existing state rather
// than a caller or system defect.
func (k Kind) Conflict() bool {
	switch k {
	case KindAlreadyPassed, KindDuplicateActive, KindConcurrentLotConflict:
		return true
	}
	return false
}

// RetrySafe reports kinds the caller may retry once the competing attempt closes
// or the store recovers.
func (k Kind) RetrySafe() bool {
	switch k {
	case KindDuplicateActive, KindConcurrentLotConflict, KindRetryable:
		return true
	}
	return false
}

// Error is the typed failure returned by every tracking operation.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := strings.TrimSpace(e.Op)
	msg := strings.TrimSpace(e.Message)
	switch {
	case op != "" && msg != "":
		return fmt.Sprintf("%s: %s (%s)", op, msg, e.Kind)
	case op != "":
		return fmt.Sprintf("%s (%s)", op, e.Kind)
	case msg != "":
		return fmt.Sprintf("%s (%s)", msg, e.Kind)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// NewError builds a typed error.
func NewError(kind Kind, op, message string, cause error) error {
	return &Error{
		Kind:    kind,
		Op:      strings.TrimSpace(op),
		Message: strings.TrimSpace(message),
		Cause:   cause,
	}
}

// Errorf builds a typed error with a formatted message.
func Errorf(kind Kind, op, format string, args ...any) error {
	return NewError(kind, op, fmt.Sprintf(format, args...), nil)
}

// Wrap annotates an existing error with a kind. Errors that already carry a
// kind are returned unchanged.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return NewError(kind, op, err.Error(), err)
}

// KindOf extracts the kind of err, or "" for untyped errors.
func KindOf(err error) Kind {
	var typed *Error
	if !errors.As(err, &typed) {
		return ""
	}
	return typed.Kind
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
