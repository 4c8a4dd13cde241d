package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jdziat/simple-process-tracking/internal/testutil"
	"github.com/jdziat/simple-process-tracking/pkg/catalog"
	"github.com/jdziat/simple-process-tracking/pkg/core"
	"github.com/jdziat/simple-process-tracking/pkg/registry"
	"github.com/jdziat/simple-process-tracking/pkg/storage"
)

// linePipeline is a six-step pipeline without identity conversion.
var linePipeline = []core.Operation{
	{Code: "KIT", Position: 10, Active: true},
	{Code: "SOLDER", Position: 20, Active: true},
	{Code: "REFLOW", Position: 30, Active: true},
	{Code: "AOI", Position: 40, Active: true},
	{Code: "TEST", Position: 50, Active: true},
	{Code: "PACK", Position: 60, Active: true},
}

// serialPipeline converts items at LASER and continues per serial number.
var serialPipeline = []core.Operation{
	{Code: "KIT", Position: 10, Active: true},
	{Code: "SOLDER", Position: 20, Active: true},
	{Code: "LASER", Position: 30, Type: core.OperationIdentityConversion, Active: true},
	{Code: "FUNC", Position: 40, Active: true},
	{Code: "BURNIN", Position: 50, Active: true},
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	store    *storage.GormStorage
	ledger   *Ledger
	catalog  *catalog.Service
	registry *registry.Service
	batch    *core.Batch
	items    []core.InProcessItem
}

func newFixture(t *testing.T, pipeline []core.Operation, batchSize int, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	store := testutil.OpenStore(t)

	cat := catalog.NewService(store)
	ops := make([]core.Operation, len(pipeline))
	copy(ops, pipeline)
	require.NoError(t, cat.Define(ctx, ops...))

	reg := registry.NewService(store)
	batch, items, err := reg.CreateBatch(ctx, "B100", batchSize)
	require.NoError(t, err)

	l, err := New(store, append([]Option{NoRetry()}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(l.Wait)

	return &fixture{t: t, ctx: ctx, store: store, ledger: l, catalog: cat, registry: reg, batch: batch, items: items}
}

func (f *fixture) item(i int) core.UnitRef { return core.ItemUnit(f.items[i].ID) }

func (f *fixture) start(unit core.UnitRef, code string) (core.AttemptRef, error) {
	return f.ledger.StartProcess(f.ctx, unit, core.OperationByCode(code), "station-1")
}

func (f *fixture) mustStart(unit core.UnitRef, code string) core.AttemptRef {
	f.t.Helper()
	ref, err := f.start(unit, code)
	require.NoError(f.t, err, "start %s at %s", unit, code)
	return ref
}

func (f *fixture) mustComplete(ref core.AttemptRef, result core.Result) core.CompletionRecord {
	f.t.Helper()
	rec, err := f.ledger.CompleteProcess(f.ctx, ref, result, nil)
	require.NoError(f.t, err, "complete attempt %d", ref.ID)
	return rec
}

// pass runs one start/PASS cycle per code.
func (f *fixture) pass(unit core.UnitRef, codes ...string) core.CompletionRecord {
	f.t.Helper()
	var rec core.CompletionRecord
	for _, code := range codes {
		rec = f.mustComplete(f.mustStart(unit, code), core.ResultPass)
	}
	return rec
}

func (f *fixture) itemRow(i int) *core.InProcessItem {
	f.t.Helper()
	item, err := f.registry.GetItem(f.ctx, f.items[i].ID)
	require.NoError(f.t, err)
	return item
}

func (f *fixture) openCount(unit core.UnitRef) int {
	f.t.Helper()
	open, err := f.ledger.OpenAttempts(f.ctx, unit)
	require.NoError(f.t, err)
	return len(open)
}
