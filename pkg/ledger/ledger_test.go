package ledger

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/simple-process-tracking/pkg/core"
)

// ──────────────────────────────────────────────────────────────────────────────
// Scenarios
// ──────────────────────────────────────────────────────────────────────────────

func TestScenario_PredecessorPassedAllowsNext(t *testing.T) {
	f := newFixture(t, linePipeline, 2)

	f.pass(f.item(0), "KIT")
	ref, err := f.start(f.item(0), "SOLDER")
	require.NoError(t, err)
	assert.NotZero(t, ref.ID)
	assert.False(t, ref.StartedAt.IsZero())
}

func TestScenario_ReworkThenAlreadyPassed(t *testing.T) {
	f := newFixture(t, linePipeline, 2)

	first := f.mustStart(f.item(0), "KIT")
	rec := f.mustComplete(first, core.ResultFail)
	assert.Equal(t, string(core.ItemInProgress), rec.UnitStatus)

	second, err := f.start(f.item(0), "KIT")
	require.NoError(t, err, "rework after FAIL is allowed")
	f.mustComplete(second, core.ResultPass)

	_, err = f.start(f.item(0), "KIT")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrAlreadyPassed)
}

func TestScenario_DuplicateActive(t *testing.T) {
	f := newFixture(t, linePipeline, 2)

	f.mustStart(f.item(0), "KIT")
	_, err := f.start(f.item(0), "KIT")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrDuplicateActive)
	assert.True(t, core.KindOf(err).RetrySafe())
	assert.Equal(t, 1, f.openCount(f.item(0)))
}

func TestScenario_ConcurrentLotConflict(t *testing.T) {
	f := newFixture(t, linePipeline, 2)
	f.pass(f.item(0), "KIT", "SOLDER")
	f.pass(f.item(1), "KIT", "SOLDER")

	x := f.mustStart(f.item(0), "REFLOW")
	_, err := f.start(f.item(1), "REFLOW")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrConcurrentLotConflict)

	f.mustComplete(x, core.ResultPass)
	_, err = f.start(f.item(1), "REFLOW")
	assert.NoError(t, err, "sibling may start once the holder closes")
}

func TestScenario_ItemCompletesAfterAllPass(t *testing.T) {
	f := newFixture(t, linePipeline, 2)

	rec := f.pass(f.item(0), "KIT", "SOLDER", "REFLOW", "AOI", "TEST")
	assert.Equal(t, string(core.ItemInProgress), rec.UnitStatus)

	rec = f.pass(f.item(0), "PACK")
	assert.Equal(t, string(core.ItemCompleted), rec.UnitStatus)
	assert.Equal(t, core.ItemCompleted, f.itemRow(0).Status)

	_, err := f.start(f.item(0), "PACK")
	assert.ErrorIs(t, err, core.ErrAlreadyPassed)

	b, err := f.registry.GetBatch(f.ctx, f.batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Produced)
	assert.Equal(t, 1, b.Passed)
	assert.Equal(t, 0, b.Failed)
}

// ──────────────────────────────────────────────────────────────────────────────
// Properties
// ──────────────────────────────────────────────────────────────────────────────

func TestSingleOpen_ConcurrentStarts(t *testing.T) {
	f := newFixture(t, linePipeline, 1)
	const callers = 8

	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.start(f.item(0), "KIT")
		}(i)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, core.ErrDuplicateActive):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, dup)
	assert.Equal(t, 1, f.openCount(f.item(0)))
}

func TestBatchExclusivity_ConcurrentSiblings(t *testing.T) {
	f := newFixture(t, linePipeline, 6)

	var wg sync.WaitGroup
	errs := make([]error, len(f.items))
	for i := range f.items {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.start(f.item(i), "KIT")
		}(i)
	}
	wg.Wait()

	var ok, conflict int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, core.ErrConcurrentLotConflict):
			conflict++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, len(f.items)-1, conflict)
}

func TestOrdering_PredecessorRequired(t *testing.T) {
	f := newFixture(t, linePipeline, 1)

	_, err := f.start(f.item(0), "SOLDER")
	assert.ErrorIs(t, err, core.ErrSequenceViolation)

	f.mustComplete(f.mustStart(f.item(0), "KIT"), core.ResultFail)
	_, err = f.start(f.item(0), "SOLDER")
	assert.ErrorIs(t, err, core.ErrSequenceViolation, "latest attempt at KIT is FAIL")

	f.mustComplete(f.mustStart(f.item(0), "KIT"), core.ResultPass)
	_, err = f.start(f.item(0), "SOLDER")
	assert.NoError(t, err, "rework PASS supersedes the earlier FAIL")
}

func TestOrdering_ByPosition(t *testing.T) {
	f := newFixture(t, linePipeline, 1)

	ref, err := f.ledger.StartProcess(f.ctx, f.item(0), core.OperationAt(10), "station-1")
	require.NoError(t, err)
	f.mustComplete(ref, core.ResultPass)

	_, err = f.ledger.StartProcess(f.ctx, f.item(0), core.OperationAt(30), "station-1")
	assert.ErrorIs(t, err, core.ErrSequenceViolation)
}

func TestRework_RepeatedFailNeverOpensTwo(t *testing.T) {
	f := newFixture(t, linePipeline, 1)
	unit := f.item(0)

	for i := 0; i < 4; i++ {
		ref := f.mustStart(unit, "KIT")
		assert.Equal(t, 1, f.openCount(unit))
		_, err := f.start(unit, "KIT")
		assert.ErrorIs(t, err, core.ErrDuplicateActive)
		f.mustComplete(ref, core.ResultFail)
		assert.Equal(t, 0, f.openCount(unit))
	}
	f.mustComplete(f.mustStart(unit, "KIT"), core.ResultPass)

	_, err := f.start(unit, "KIT")
	assert.ErrorIs(t, err, core.ErrAlreadyPassed)

	history, err := f.ledger.GetHistory(f.ctx, unit)
	require.NoError(t, err)
	require.Len(t, history, 5)
	assert.Equal(t, core.ResultPass, history[4].Result)
}

func TestRework_ReworkResultCountsAsNonPass(t *testing.T) {
	f := newFixture(t, linePipeline, 1)

	f.mustComplete(f.mustStart(f.item(0), "KIT"), core.ResultRework)
	_, err := f.start(f.item(0), "SOLDER")
	assert.ErrorIs(t, err, core.ErrSequenceViolation)
	_, err = f.start(f.item(0), "KIT")
	assert.NoError(t, err)
}

// ──────────────────────────────────────────────────────────────────────────────
// Start failures
// ──────────────────────────────────────────────────────────────────────────────

func TestStart_NotFound(t *testing.T) {
	f := newFixture(t, linePipeline, 1)

	_, err := f.start(core.ItemUnit("no-such-item"), "KIT")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = f.start(f.item(0), "NOPE")
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, f.catalog.SetActive(f.ctx, "PACK", false))
	_, err = f.start(f.item(0), "PACK")
	assert.ErrorIs(t, err, core.ErrNotFound, "inactive operations do not resolve")
}

func TestStart_Validation(t *testing.T) {
	f := newFixture(t, linePipeline, 1)

	_, err := f.ledger.StartProcess(f.ctx, f.item(0), core.OperationByCode("KIT"), "")
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = f.ledger.StartProcess(f.ctx, core.UnitRef{Granularity: "PALLET", ID: "x"}, core.OperationByCode("KIT"), "station-1")
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = f.ledger.StartProcess(f.ctx, f.item(0), core.OperationRef{}, "station-1")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestStart_MarksItemInProgress(t *testing.T) {
	f := newFixture(t, linePipeline, 1)
	assert.Equal(t, core.ItemCreated, f.itemRow(0).Status)

	f.mustStart(f.item(0), "KIT")
	assert.Equal(t, core.ItemInProgress, f.itemRow(0).Status)
}

// ──────────────────────────────────────────────────────────────────────────────
// Complete failures
// ──────────────────────────────────────────────────────────────────────────────

func TestComplete_AlreadyClosed(t *testing.T) {
	f := newFixture(t, linePipeline, 1)
	ref := f.mustStart(f.item(0), "KIT")
	f.mustComplete(ref, core.ResultFail)

	_, err := f.ledger.CompleteProcess(f.ctx, ref, core.ResultPass, nil)
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestComplete_NotFound(t *testing.T) {
	f := newFixture(t, linePipeline, 1)

	_, err := f.ledger.CompleteProcess(f.ctx, core.AttemptRef{ID: 999}, core.ResultPass, nil)
	assert.ErrorIs(t, err, core.ErrNotFound)

	ref := f.mustStart(f.item(0), "KIT")
	stale := core.AttemptRef{ID: ref.ID, StartedAt: ref.StartedAt.Add(-time.Hour)}
	_, err = f.ledger.CompleteProcess(f.ctx, stale, core.ResultPass, nil)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestComplete_Validation(t *testing.T) {
	f := newFixture(t, linePipeline, 1)
	ref := f.mustStart(f.item(0), "KIT")

	_, err := f.ledger.CompleteProcess(f.ctx, ref, core.Result("MAYBE"), nil)
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = f.ledger.CompleteProcess(f.ctx, ref, core.ResultPass, []byte("{not json"))
	assert.ErrorIs(t, err, core.ErrValidation)

	assert.Equal(t, 1, f.openCount(f.item(0)), "rejected completions leave the attempt open")
}

func TestComplete_PredecessorInvalidatedBeforePass(t *testing.T) {
	f := newFixture(t, linePipeline, 1)
	f.pass(f.item(0), "KIT", "SOLDER")
	ref := f.mustStart(f.item(0), "REFLOW")

	// A new step lands between SOLDER and REFLOW while REFLOW is open.
	require.NoError(t, f.catalog.Define(f.ctx, core.Operation{Code: "CLEAN", Position: 25, Active: true}))

	_, err := f.ledger.CompleteProcess(f.ctx, ref, core.ResultPass, nil)
	assert.ErrorIs(t, err, core.ErrSequenceViolation)
	assert.Equal(t, 1, f.openCount(f.item(0)), "the failed close rolled back")

	rec, err := f.ledger.CompleteProcess(f.ctx, ref, core.ResultFail, nil)
	require.NoError(t, err, "FAIL closes without the predecessor check")
	assert.Equal(t, core.ResultFail, rec.Attempt.Result)
}

func TestComplete_RecordsDurationAndPayload(t *testing.T) {
	clock := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	f := newFixture(t, linePipeline, 1, WithClock(now))

	ref := f.mustStart(f.item(0), "KIT")
	clock = clock.Add(90 * time.Second)

	payload := []byte(`{"torque":4.2}`)
	rec, err := f.ledger.CompleteProcess(f.ctx, ref, core.ResultPass, payload)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, rec.Duration)
	require.NotNil(t, rec.Attempt.CompletedAt)
	assert.True(t, rec.Attempt.CompletedAt.Equal(clock))

	history, err := f.ledger.GetHistory(f.ctx, f.item(0))
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.JSONEq(t, string(payload), string(history[0].Payload))
	assert.Equal(t, int64(90000), history[0].DurationMS)
	assert.Equal(t, f.batch.ID, history[0].BatchID)
}

func TestComplete_ClockBehindStartClampsDuration(t *testing.T) {
	clock := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	f := newFixture(t, linePipeline, 1, WithClock(now))

	ref := f.mustStart(f.item(0), "KIT")
	clock = clock.Add(-time.Minute)

	rec := f.mustComplete(ref, core.ResultPass)
	assert.Zero(t, rec.Duration)
	assert.True(t, rec.Attempt.CompletedAt.Equal(ref.StartedAt))
}

// ──────────────────────────────────────────────────────────────────────────────
// Batch granularity
// ──────────────────────────────────────────────────────────────────────────────

func TestBatchUnit_RunsItemBlock(t *testing.T) {
	f := newFixture(t, linePipeline, 3)
	unit := core.BatchUnit(f.batch.ID)

	rec := f.pass(unit, "KIT")
	assert.Empty(t, rec.UnitStatus)

	_, err := f.start(unit, "KIT")
	assert.ErrorIs(t, err, core.ErrAlreadyPassed)

	// Batch-level attempts do not hold the per-item lot slot.
	_, err = f.start(f.item(0), "KIT")
	assert.NoError(t, err)

	history, err := f.ledger.GetHistory(f.ctx, unit)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, core.GranularityBatch, history[0].Granularity)
	assert.Equal(t, f.batch.ID, history[0].BatchID)
}

func TestBatchCounts_FailedItems(t *testing.T) {
	f := newFixture(t, linePipeline, 3)

	f.mustComplete(f.mustStart(f.item(0), "KIT"), core.ResultFail)
	f.pass(f.item(1), "KIT")

	b, err := f.registry.GetBatch(f.ctx, f.batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, b.Produced)
	assert.Equal(t, 0, b.Passed)
	assert.Equal(t, 1, b.Failed)

	f.pass(f.item(0), "KIT")
	b, err = f.registry.GetBatch(f.ctx, f.batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Failed, "rework PASS clears the failure")
}

// Siblings closing different operations at the same time must all be counted.
// Against PostgreSQL (TEST_DATABASE_URL) this runs at read committed, where
// the batch row lock is what keeps the counts from being overwritten.
func TestBatchCounts_ConcurrentSiblingCloses(t *testing.T) {
	f := newFixture(t, linePipeline, len(linePipeline))

	refs := make([]core.AttemptRef, len(linePipeline))
	for i := range linePipeline {
		for _, op := range linePipeline[:i] {
			f.pass(f.item(i), op.Code)
		}
		refs[i] = f.mustStart(f.item(i), linePipeline[i].Code)
	}

	ready := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan error, len(refs))
	for _, ref := range refs {
		wg.Add(1)
		go func(ref core.AttemptRef) {
			defer wg.Done()
			<-ready
			_, err := f.ledger.CompleteProcess(f.ctx, ref, core.ResultFail, nil)
			errs <- err
		}(ref)
	}
	close(ready)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	b, err := f.registry.GetBatch(f.ctx, f.batch.ID)
	require.NoError(t, err)
	assert.Equal(t, len(linePipeline), b.Produced)
	assert.Equal(t, len(linePipeline), b.Failed)
	assert.Equal(t, 0, b.Passed)
}
