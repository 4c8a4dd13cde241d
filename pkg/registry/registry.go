// Package registry creates and resolves production units: batches, the
// in-process items inside them, and the serialized items they convert into.
package registry

import (
	"context"
	"strings"

	"github.com/jdziat/simple-process-tracking/pkg/core"
	"github.com/jdziat/simple-process-tracking/pkg/security"
	"github.com/jdziat/simple-process-tracking/pkg/storage"
)

// Service is the unit registry.
type Service struct {
	store *storage.GormStorage
}

// NewService creates a registry over store.
func NewService(store *storage.GormStorage) *Service {
	return &Service{store: store}
}

// CreateBatch creates a batch of size items numbered 1..size.
func (s *Service) CreateBatch(ctx context.Context, code string, size int) (*core.Batch, []core.InProcessItem, error) {
	code = strings.TrimSpace(code)
	if err := security.ValidateCode(code); err != nil {
		return nil, nil, err
	}
	if size < 1 || size > core.MaxBatchSize {
		return nil, nil, core.Errorf(core.KindValidation, "registry.create_batch",
			"batch size %d outside 1..%d", size, core.MaxBatchSize)
	}

	batch := &core.Batch{Code: code, Size: size}
	items := make([]core.InProcessItem, size)
	for i := range items {
		items[i] = core.InProcessItem{Ordinal: i + 1, Status: core.ItemCreated}
	}

	err := s.store.InTx(ctx, storage.TxOptions{}, func(tx *storage.Tx) error {
		if _, err := tx.GetBatchByCode(code); err == nil {
			return core.Errorf(core.KindValidation, "registry.create_batch", "batch code %q already exists", code)
		} else if !core.IsKind(err, core.KindNotFound) {
			return err
		}
		if err := tx.CreateBatch(batch, items); err != nil {
			return err
		}
		batch.Produced = size
		return tx.UpdateBatchCounts(batch.ID, size, 0, 0)
	})
	if err != nil {
		return nil, nil, err
	}
	return batch, items, nil
}

// GetBatch loads a batch by ID.
func (s *Service) GetBatch(ctx context.Context, id string) (*core.Batch, error) {
	return s.store.Session(ctx).GetBatch(id)
}

// FindBatch loads a batch by code.
func (s *Service) FindBatch(ctx context.Context, code string) (*core.Batch, error) {
	return s.store.Session(ctx).GetBatchByCode(code)
}

// GetItem loads an in-process item by ID.
func (s *Service) GetItem(ctx context.Context, id string) (*core.InProcessItem, error) {
	return s.store.Session(ctx).GetItem(id)
}

// ListItems returns a batch's items by ordinal.
func (s *Service) ListItems(ctx context.Context, batchID string) ([]core.InProcessItem, error) {
	if _, err := s.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}
	return s.store.Session(ctx).ListItems(batchID)
}

// GetSerial loads a serialized item by ID.
func (s *Service) GetSerial(ctx context.Context, id string) (*core.SerializedItem, error) {
	return s.store.Session(ctx).GetSerial(id)
}

// FindSerial loads a serialized item by serial number.
func (s *Service) FindSerial(ctx context.Context, serialNumber string) (*core.SerializedItem, error) {
	return s.store.Session(ctx).GetSerialByNumber(serialNumber)
}

// Resolve loads the unit named by ref outside a transaction.
func (s *Service) Resolve(ctx context.Context, ref core.UnitRef) (core.Unit, error) {
	return Resolve(s.store.Session(ctx), ref)
}

// Resolve loads the unit named by ref, with its owning batch, through tx.
func Resolve(tx *storage.Tx, ref core.UnitRef) (core.Unit, error) {
	if err := ref.Validate(); err != nil {
		return core.Unit{}, err
	}
	unit := core.Unit{Ref: ref}
	switch ref.Granularity {
	case core.GranularityBatch:
		b, err := tx.GetBatch(ref.ID)
		if err != nil {
			return core.Unit{}, err
		}
		unit.Batch = b
	case core.GranularityInProcess:
		item, err := tx.GetItem(ref.ID)
		if err != nil {
			return core.Unit{}, err
		}
		b, err := tx.GetBatch(item.BatchID)
		if err != nil {
			return core.Unit{}, err
		}
		unit.Item, unit.Batch = item, b
	case core.GranularitySerialized:
		serial, err := tx.GetSerial(ref.ID)
		if err != nil {
			return core.Unit{}, err
		}
		unit.Serial = serial
		if b, err := tx.GetBatch(serial.BatchID); err == nil {
			unit.Batch = b
		} else if !core.IsKind(err, core.KindNotFound) {
			return core.Unit{}, err
		}
	}
	return unit, nil
}
