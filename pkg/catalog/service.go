package catalog

import (
	"context"
	"strings"

	"github.com/jdziat/simple-process-tracking/pkg/core"
	"github.com/jdziat/simple-process-tracking/pkg/security"
	"github.com/jdziat/simple-process-tracking/pkg/storage"
)

// Service reads and administers the stored catalog.
type Service struct {
	store *storage.GormStorage
}

// NewService creates a catalog service over store.
func NewService(store *storage.GormStorage) *Service {
	return &Service{store: store}
}

// Load builds a snapshot from the catalog as seen by tx.
func Load(tx *storage.Tx) (*Snapshot, error) {
	ops, err := tx.ListOperations()
	if err != nil {
		return nil, err
	}
	return NewSnapshot(ops)
}

// Snapshot returns the current catalog.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	return Load(s.store.Session(ctx))
}

// Resolve finds the active operation named by ref.
func (s *Service) Resolve(ctx context.Context, ref core.OperationRef) (*core.Operation, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Resolve(ref)
}

// Define inserts or updates operations by code in one transaction. Entries
// being redefined are deactivated first so positions can be swapped.
// This is an administrative call for seeding; it is not part of the
// start/complete path.
func (s *Service) Define(ctx context.Context, ops ...core.Operation) error {
	for i := range ops {
		if err := normalize(&ops[i]); err != nil {
			return err
		}
	}
	if err := checkPositions(ops); err != nil {
		return err
	}

	return s.store.InTx(ctx, storage.TxOptions{}, func(tx *storage.Tx) error {
		existing, err := tx.ListOperations()
		if err != nil {
			return err
		}
		known := make(map[string]bool, len(existing))
		for _, op := range existing {
			known[op.Code] = op.Active
		}
		for _, op := range ops {
			if known[op.Code] {
				if err := tx.SetOperationActive(op.Code, false); err != nil {
					return err
				}
			}
		}
		for i := range ops {
			if err := tx.SaveOperation(&ops[i]); err != nil {
				return err
			}
		}
		_, err = Load(tx)
		return err
	})
}

// SetActive activates or deactivates the operation with code.
func (s *Service) SetActive(ctx context.Context, code string, active bool) error {
	return s.store.InTx(ctx, storage.TxOptions{}, func(tx *storage.Tx) error {
		return tx.SetOperationActive(code, active)
	})
}

func normalize(op *core.Operation) error {
	op.Code = strings.TrimSpace(op.Code)
	if err := security.ValidateCode(op.Code); err != nil {
		return err
	}
	if op.Position < 1 {
		return core.Errorf(core.KindValidation, "catalog.define", "operation %s: position must be >= 1", op.Code)
	}
	if op.Type == "" {
		op.Type = core.OperationStandard
	}
	if !op.Type.IsValid() {
		return core.Errorf(core.KindValidation, "catalog.define", "operation %s: unknown type %q", op.Code, op.Type)
	}
	op.Name = strings.TrimSpace(op.Name)
	if op.Name == "" {
		op.Name = op.Code
	}
	return nil
}

func checkPositions(ops []core.Operation) error {
	codes := make(map[string]bool, len(ops))
	positions := make(map[int]string, len(ops))
	for _, op := range ops {
		if codes[op.Code] {
			return core.Errorf(core.KindValidation, "catalog.define", "operation %s defined twice", op.Code)
		}
		codes[op.Code] = true
		if !op.Active {
			continue
		}
		if other, dup := positions[op.Position]; dup {
			return core.Errorf(core.KindValidation, "catalog.define",
				"operations %s and %s share position %d", other, op.Code, op.Position)
		}
		positions[op.Position] = op.Code
	}
	return nil
}
