package aggregate

import (
	"github.com/jdziat/simple-process-tracking/pkg/catalog"
	"github.com/jdziat/simple-process-tracking/pkg/core"
	"github.com/jdziat/simple-process-tracking/pkg/storage"
)

// Aggregator persists derived status inside the caller's transaction, so a
// reader never sees a closed attempt without the status it implies.
type Aggregator struct{}

// New creates an aggregator.
func New() *Aggregator { return &Aggregator{} }

// MarkStarted moves a unit into IN_PROGRESS when an attempt opens.
// A FAILED serialized item returns to IN_PROGRESS on rework.
func (a *Aggregator) MarkStarted(tx *storage.Tx, unit core.Unit) error {
	switch unit.Ref.Granularity {
	case core.GranularityInProcess:
		if unit.Item != nil && unit.Item.Status == core.ItemCreated {
			unit.Item.Status = core.ItemInProgress
			return tx.UpdateItemStatus(unit.Item.ID, core.ItemInProgress)
		}
	case core.GranularitySerialized:
		if unit.Serial != nil && (unit.Serial.Status == core.SerialCreated || unit.Serial.Status == core.SerialFailed) {
			unit.Serial.Status = core.SerialInProgress
			return tx.UpdateSerialStatus(unit.Serial.ID, core.SerialInProgress)
		}
	}
	return nil
}

// Recompute refreshes the unit's status after an attempt closed and returns
// it. Closing an item attempt also refreshes the owning batch's counts.
// Batches have counts rather than a status, so "" is returned for them.
func (a *Aggregator) Recompute(tx *storage.Tx, snap *catalog.Snapshot, unit core.Unit) (string, error) {
	switch unit.Ref.Granularity {
	case core.GranularityInProcess:
		status, err := a.RecomputeItem(tx, snap, unit.Item)
		if err != nil {
			return "", err
		}
		if _, err := a.RecomputeBatch(tx, snap, unit.Item.BatchID); err != nil {
			return "", err
		}
		return string(status), nil
	case core.GranularitySerialized:
		status, err := a.RecomputeSerial(tx, snap, unit.Serial)
		return string(status), err
	case core.GranularityBatch:
		_, err := a.RecomputeBatch(tx, snap, unit.Batch.ID)
		return "", err
	}
	return "", core.Errorf(core.KindValidation, "aggregate.recompute", "unknown granularity %q", unit.Ref.Granularity)
}

// RecomputeItem derives and stores an item's status from its history.
func (a *Aggregator) RecomputeItem(tx *storage.Tx, snap *catalog.Snapshot, item *core.InProcessItem) (core.ItemStatus, error) {
	history, err := tx.ItemHistory(item.ID, nil, 0)
	if err != nil {
		return "", err
	}
	status := ItemStatus(item.Status, snap.BlockFor(core.GranularityInProcess), history)
	if status != item.Status {
		if err := tx.UpdateItemStatus(item.ID, status); err != nil {
			return "", err
		}
		item.Status = status
	}
	return status, nil
}

// RecomputeSerial derives and stores a serialized item's status.
func (a *Aggregator) RecomputeSerial(tx *storage.Tx, snap *catalog.Snapshot, serial *core.SerializedItem) (core.SerialStatus, error) {
	attempts, err := tx.UnitAttempts(core.SerialUnit(serial.ID).Key())
	if err != nil {
		return "", err
	}
	status := SerialStatus(serial.Status, snap.BlockFor(core.GranularitySerialized), attempts)
	if status != serial.Status {
		if err := tx.UpdateSerialStatus(serial.ID, status); err != nil {
			return "", err
		}
		serial.Status = status
	}
	return status, nil
}

// RecomputeBatch derives and stores a batch's counts. The batch row is
// locked before anything is read, so sibling closes recompute one after the
// other instead of overwriting each other's counts.
func (a *Aggregator) RecomputeBatch(tx *storage.Tx, snap *catalog.Snapshot, batchID string) (Counts, error) {
	if _, err := tx.LockBatch(batchID); err != nil {
		return Counts{}, err
	}
	items, err := tx.ListItems(batchID)
	if err != nil {
		return Counts{}, err
	}
	history, err := tx.BatchHistory(batchID)
	if err != nil {
		return Counts{}, err
	}
	counts := BatchCounts(items, snap.BlockFor(core.GranularityBatch), history)
	if err := tx.UpdateBatchCounts(batchID, counts.Produced, counts.Passed, counts.Failed); err != nil {
		return Counts{}, err
	}
	return counts, nil
}
