package ledger

import (
	"context"
	"time"

	"github.com/jdziat/simple-process-tracking/pkg/aggregate"
	"github.com/jdziat/simple-process-tracking/pkg/catalog"
	"github.com/jdziat/simple-process-tracking/pkg/core"
	"github.com/jdziat/simple-process-tracking/pkg/logging"
	"github.com/jdziat/simple-process-tracking/pkg/metrics"
	"github.com/jdziat/simple-process-tracking/pkg/notify"
	"github.com/jdziat/simple-process-tracking/pkg/registry"
	"github.com/jdziat/simple-process-tracking/pkg/security"
	"github.com/jdziat/simple-process-tracking/pkg/sequence"
	"github.com/jdziat/simple-process-tracking/pkg/storage"
)

// Ledger is the execution ledger. It is safe for concurrent use; all
// coordination between callers happens in the store.
type Ledger struct {
	store      *storage.GormStorage
	validator  *sequence.Validator
	aggregator *aggregate.Aggregator
	dispatcher *notify.Dispatcher
	log        *logging.Logger
	hooks      metrics.Hooks
	opts       Options
}

// New creates a ledger over store.
func New(store *storage.GormStorage, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, core.NewError(core.KindValidation, "ledger.new", "store is required", nil)
	}
	o := NewOptions()
	for _, opt := range opts {
		opt.Apply(o)
	}
	if err := security.ValidateSerialPrefix(o.SerialPrefix); err != nil {
		return nil, err
	}
	o.Retry = o.Retry.normalized()
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Nop()
	}
	if o.Clock == nil {
		o.Clock = storage.Now
	}
	if o.Dispatcher == nil && o.Sink != nil {
		o.Dispatcher = notify.NewDispatcher(o.Sink, notify.DefaultTimeout, o.Logger)
	}

	return &Ledger{
		store:      store,
		validator:  sequence.New(o.MaxRework),
		aggregator: aggregate.New(),
		dispatcher: o.Dispatcher,
		log:        o.Logger.With("component", "ledger"),
		hooks:      o.Metrics,
		opts:       *o,
	}, nil
}

// Options returns the configuration the ledger was built with.
func (l *Ledger) Options() Options { return l.opts }

// Wait blocks until pending notifications have been delivered or dropped.
// It must not overlap StartProcess or CompleteProcess calls.
func (l *Ledger) Wait() { l.dispatcher.Wait() }

// Close stops notification delivery once in-flight events finish. Calls
// still running afterwards commit as usual but emit no events.
func (l *Ledger) Close() { l.dispatcher.Close() }

func (l *Ledger) now() time.Time {
	return l.opts.Clock().UTC().Truncate(time.Microsecond)
}

// StartProcess opens an attempt for (unit, operation) on behalf of operator.
//
// It fails with NotFound, SequenceViolation, AlreadyPassed, DuplicateActive,
// ConcurrentLotConflict, InvalidState (converted item) or ReworkLimit.
func (l *Ledger) StartProcess(ctx context.Context, unitRef core.UnitRef, opRef core.OperationRef, operator string) (core.AttemptRef, error) {
	const op = "start"
	began := time.Now()

	if err := security.ValidateOperator(operator); err != nil {
		l.finish(op, began, err, "unit", unitRef.Key(), "operation", opRef.String())
		return core.AttemptRef{}, err
	}

	var (
		attempt core.Attempt
		rework  bool
	)
	err := l.transact(ctx, op, func(tx *storage.Tx) error {
		unit, err := registry.Resolve(tx, unitRef)
		if err != nil {
			return err
		}
		snap, err := catalog.Load(tx)
		if err != nil {
			return err
		}
		operation, err := snap.Resolve(opRef)
		if err != nil {
			return err
		}

		check := sequence.StartCheck{Unit: unit, Operation: operation, Catalog: snap}
		if check.Attempts, err = tx.AttemptsAt([]string{unit.Ref.Key()}, operation.ID); err != nil {
			return err
		}
		if pred := snap.Predecessor(operation); pred != nil {
			if check.PredecessorAttempts, err = tx.AttemptsAt(unit.Lineage(), pred.ID); err != nil {
				return err
			}
		}
		decision, err := l.validator.CanStart(check)
		if err != nil {
			return err
		}

		if err := checkOpen(tx, unit, operation); err != nil {
			return err
		}

		attempt = newAttempt(unit, operation, operator, l.now())
		if err := tx.InsertAttempt(&attempt); err != nil {
			return err
		}
		if err := l.aggregator.MarkStarted(tx, unit); err != nil {
			return err
		}
		if decision.Rework && unit.Ref.Granularity == core.GranularitySerialized {
			if err := tx.IncrementRework(unit.Serial.ID); err != nil {
				return err
			}
		}
		rework = decision.Rework
		return nil
	})
	l.finish(op, began, err, "unit", unitRef.Key(), "operation", opRef.String(), "operator", operator, "attempt", attempt.ID, "rework", rework)
	if err != nil {
		return core.AttemptRef{}, err
	}

	l.dispatcher.Dispatch(&core.AttemptStarted{Attempt: &attempt, Rework: rework, Timestamp: attempt.StartedAt})
	return attempt.Ref(), nil
}

// checkOpen reports a held (unit, operation) or (batch, operation) slot with
// its precise kind. The partial unique indexes catch what slips past it.
func checkOpen(tx *storage.Tx, unit core.Unit, operation *core.Operation) error {
	const op = "ledger.start"
	open, err := tx.OpenAttemptForUnit(unit.Ref.Key(), operation.ID)
	if err != nil {
		return err
	}
	if open != nil {
		return core.Errorf(core.KindDuplicateActive, op,
			"%s already has open attempt %d at %s", unit.Ref, open.ID, operation.Code)
	}
	if lot := unit.LotID(); lot != nil {
		held, err := tx.OpenAttemptForLot(*lot, operation.ID)
		if err != nil {
			return err
		}
		if held != nil {
			return core.Errorf(core.KindConcurrentLotConflict, op,
				"%s holds %s for batch %s in attempt %d", held.Unit(), operation.Code, *lot, held.ID)
		}
	}
	return nil
}

func newAttempt(unit core.Unit, operation *core.Operation, operator string, now time.Time) core.Attempt {
	a := core.Attempt{
		Granularity:       unit.Ref.Granularity,
		UnitKey:           unit.Ref.Key(),
		OperationID:       operation.ID,
		OperationPosition: operation.Position,
		Operator:          operator,
		StartedAt:         now,
	}
	switch unit.Ref.Granularity {
	case core.GranularityBatch:
		a.BatchID = core.StringPtr(unit.Ref.ID)
	case core.GranularityInProcess:
		a.ItemID = core.StringPtr(unit.Ref.ID)
		a.LotID = unit.LotID()
	case core.GranularitySerialized:
		a.SerialID = core.StringPtr(unit.Ref.ID)
	}
	return a
}

// CompleteProcess closes an open attempt with result and payload.
//
// It fails with NotFound, InvalidState (already closed), Validation (bad
// result or payload) or SequenceViolation when a PASS finds its
// predecessor no longer passed.
func (l *Ledger) CompleteProcess(ctx context.Context, ref core.AttemptRef, result core.Result, payload []byte) (core.CompletionRecord, error) {
	const op = "complete"
	began := time.Now()

	if err := security.ValidatePayload(payload); err != nil {
		l.finish(op, began, err, "attempt", ref.ID)
		return core.CompletionRecord{}, err
	}

	var rec core.CompletionRecord
	err := l.transact(ctx, op, func(tx *storage.Tx) error {
		rec = core.CompletionRecord{}
		a, err := tx.GetAttempt(ref.ID)
		if err != nil {
			return err
		}
		if !ref.StartedAt.IsZero() && !ref.StartedAt.UTC().Truncate(time.Microsecond).Equal(a.StartedAt.UTC()) {
			return core.Errorf(core.KindNotFound, "ledger.complete", "attempt %d does not match the given start time", ref.ID)
		}
		if err := l.validator.CanComplete(a, result); err != nil {
			return err
		}

		unit, err := registry.Resolve(tx, a.Unit())
		if err != nil {
			return err
		}
		snap, err := catalog.Load(tx)
		if err != nil {
			return err
		}
		operation := attemptOperation(snap, a)

		if result.Passed() {
			if pred := snap.Predecessor(operation); pred != nil {
				preds, err := tx.AttemptsAt(unit.Lineage(), pred.ID)
				if err != nil {
					return err
				}
				if err := sequence.CheckPredecessor(pred, sequence.Latest(preds)); err != nil {
					return err
				}
			}
		}

		completed := l.now()
		if completed.Before(a.StartedAt) {
			completed = a.StartedAt
		}
		dur := completed.Sub(a.StartedAt).Milliseconds()
		a.CompletedAt = &completed
		a.Result = result
		a.Payload = payload
		a.DurationMS = &dur
		if err := tx.CloseAttempt(a); err != nil {
			return err
		}

		if a.Granularity == core.GranularityInProcess {
			entry, _ := core.HistoryFromAttempt(a)
			if err := tx.InsertHistory(&entry); err != nil {
				return err
			}
			if result.Passed() && operation.IsConversion() {
				if rec.Serial, err = l.convert(tx, unit, completed); err != nil {
					return err
				}
			}
		}

		status, err := l.aggregator.Recompute(tx, snap, unit)
		if err != nil {
			return err
		}
		rec.Attempt = *a
		rec.Duration = a.Duration()
		rec.UnitStatus = status
		return nil
	})
	l.finish(op, began, err, "attempt", ref.ID, "result", string(result), "unit", rec.Attempt.UnitKey, "status", rec.UnitStatus)
	if err != nil {
		return core.CompletionRecord{}, err
	}

	ts := *rec.Attempt.CompletedAt
	attempt := rec.Attempt
	l.dispatcher.Dispatch(&core.AttemptCompleted{Attempt: &attempt, Duration: rec.Duration, UnitStatus: rec.UnitStatus, Timestamp: ts})
	if rec.Serial != nil {
		serial := *rec.Serial
		l.dispatcher.Dispatch(&core.ItemSerialized{ItemID: serial.SourceItemID, Serial: &serial, Timestamp: ts})
	}
	return rec, nil
}

// attemptOperation returns the catalog entry the attempt was opened against.
// Operations are never deleted, so the fallback only covers a catalog
// edited outside the service.
func attemptOperation(snap *catalog.Snapshot, a *core.Attempt) *core.Operation {
	if operation, ok := snap.ByID(a.OperationID); ok {
		return operation
	}
	return &core.Operation{ID: a.OperationID, Code: a.OperationID, Position: a.OperationPosition, Type: core.OperationStandard}
}

// convert creates the serialized item an in-process item becomes.
func (l *Ledger) convert(tx *storage.Tx, unit core.Unit, at time.Time) (*core.SerializedItem, error) {
	item := unit.Item
	serial := &core.SerializedItem{
		SerialNumber: core.GenerateSerialNumber(l.opts.SerialPrefix, unit.Batch.Code, item.Ordinal),
		SourceItemID: item.ID,
		BatchID:      item.BatchID,
		Status:       core.SerialCreated,
	}
	if err := tx.CreateSerial(serial); err != nil {
		return nil, err
	}
	if err := tx.ConvertItem(item.ID, serial.ID, at); err != nil {
		return nil, err
	}
	item.SerialID = core.StringPtr(serial.ID)
	item.ConvertedAt = &at
	return serial, nil
}

// OpenAttempts returns the unit's attempts that have not been closed.
func (l *Ledger) OpenAttempts(ctx context.Context, unitRef core.UnitRef) ([]core.Attempt, error) {
	var open []core.Attempt
	err := l.read(ctx, func(tx *storage.Tx) error {
		unit, err := registry.Resolve(tx, unitRef)
		if err != nil {
			return err
		}
		open, err = tx.OpenAttempts(unit.Ref.Key())
		return err
	})
	return open, err
}

// transact runs fn in a transaction, retrying transient storage failures.
func (l *Ledger) transact(ctx context.Context, op string, fn func(tx *storage.Tx) error) error {
	txOpts := storage.TxOptions{Serializable: l.opts.Serializable}
	return retryWithBackoff(ctx, l.opts.Retry,
		func(err error) {
			l.hooks.IncRetry(op)
			l.log.Debug("retrying transaction", "op", op, "err", security.SanitizeMessage(err.Error()))
		},
		func() error { return l.store.InTx(ctx, txOpts, fn) },
	)
}

func (l *Ledger) read(ctx context.Context, fn func(tx *storage.Tx) error) error {
	return retryWithBackoff(ctx, l.opts.Retry, nil, func() error {
		return fn(l.store.Session(ctx))
	})
}

// finish records metrics and logs the outcome of a write.
func (l *Ledger) finish(op string, began time.Time, err error, keysAndValues ...any) {
	kind := core.KindOf(err)
	status := "ok"
	if err != nil {
		status = string(kind)
		if kind == "" {
			status = string(core.KindInternal)
		}
	}
	l.hooks.ObserveOperation(op, status, time.Since(began))

	kv := append([]any{"op", op}, keysAndValues...)
	if err == nil {
		l.log.Info(doneMessages[op], kv...)
		return
	}
	kv = append(kv, "kind", kind, "err", security.SanitizeMessage(err.Error()))
	switch {
	case kind.Conflict():
		l.hooks.IncConflict(op, string(kind))
		l.log.Debug("attempt conflict", kv...)
	case kind == core.KindConstraintViolation || kind == core.KindInternal || kind == "":
		l.log.Error("attempt failed", kv...)
	case kind == core.KindRetryable:
		l.log.Warn("attempt gave up after retries", kv...)
	default:
		l.log.Debug("attempt rejected", kv...)
	}
}

var doneMessages = map[string]string{
	"start":    "attempt started",
	"complete": "attempt completed",
}
