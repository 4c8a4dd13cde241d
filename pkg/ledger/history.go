package ledger

import (
	"context"

	"github.com/jdziat/simple-process-tracking/pkg/core"
	"github.com/jdziat/simple-process-tracking/pkg/registry"
	"github.com/jdziat/simple-process-tracking/pkg/security"
	"github.com/jdziat/simple-process-tracking/pkg/storage"
)

// Page is one slice of a unit's history.
type Page struct {
	Entries []core.HistoryEntry `json:"entries"`
	// Next resumes after the last entry. It is nil on the final page.
	Next *core.HistoryCursor `json:"next,omitempty"`
}

// GetHistory returns the unit's closed attempts ordered by completion time,
// then attempt ID. In-process items read the append-only history table;
// batches and serialized items are read from their closed attempts.
func (l *Ledger) GetHistory(ctx context.Context, unitRef core.UnitRef) ([]core.HistoryEntry, error) {
	var entries []core.HistoryEntry
	err := l.read(ctx, func(tx *storage.Tx) error {
		var err error
		entries, err = history(tx, unitRef, nil, 0)
		return err
	})
	return entries, err
}

// HistoryPage returns up to limit entries strictly after the cursor. A nil
// cursor starts from the beginning. A limit <= 0 or above
// security.MaxHistoryPage selects security.MaxHistoryPage.
func (l *Ledger) HistoryPage(ctx context.Context, unitRef core.UnitRef, after *core.HistoryCursor, limit int) (Page, error) {
	limit = security.ClampHistoryPage(limit)
	var page Page
	err := l.read(ctx, func(tx *storage.Tx) error {
		entries, err := history(tx, unitRef, after, limit)
		if err != nil {
			return err
		}
		page = Page{Entries: entries}
		if len(entries) == limit {
			next := entries[len(entries)-1].Cursor()
			page.Next = &next
		}
		return nil
	})
	return page, err
}

func history(tx *storage.Tx, unitRef core.UnitRef, after *core.HistoryCursor, limit int) ([]core.HistoryEntry, error) {
	unit, err := registry.Resolve(tx, unitRef)
	if err != nil {
		return nil, err
	}
	if unit.Ref.Granularity == core.GranularityInProcess {
		return tx.ItemHistory(unit.Ref.ID, after, limit)
	}

	attempts, err := tx.ClosedAttempts(unit.Ref.Key(), after, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]core.HistoryEntry, 0, len(attempts))
	for i := range attempts {
		if e, ok := core.HistoryFromAttempt(&attempts[i]); ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}
