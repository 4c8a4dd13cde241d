package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/simple-process-tracking/pkg/core"
	"github.com/jdziat/simple-process-tracking/pkg/notify"
)

type recordingSink struct {
	mu     sync.Mutex
	events []core.Event
}

func (s *recordingSink) Notify(_ context.Context, e core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) snapshot() []core.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Event(nil), s.events...)
}

// convertFirst drives item 0 through identity conversion and returns its serial.
func convertFirst(t *testing.T, f *fixture) *core.SerializedItem {
	t.Helper()
	f.pass(f.item(0), "KIT", "SOLDER")
	rec := f.pass(f.item(0), "LASER")
	require.NotNil(t, rec.Serial)
	return rec.Serial
}

func TestConversion_CreatesSerial(t *testing.T) {
	f := newFixture(t, serialPipeline, 2, SerialPrefix("SN-"))

	rec := f.pass(f.item(0), "KIT", "SOLDER")
	assert.Equal(t, string(core.ItemCompleted), rec.UnitStatus, "item block is KIT and SOLDER")
	assert.Nil(t, rec.Serial)

	rec = f.pass(f.item(0), "LASER")
	require.NotNil(t, rec.Serial)
	assert.Equal(t, "SN-B100-001", rec.Serial.SerialNumber)
	assert.Equal(t, f.items[0].ID, rec.Serial.SourceItemID)
	assert.Equal(t, f.batch.ID, rec.Serial.BatchID)
	assert.Equal(t, core.SerialCreated, rec.Serial.Status)

	item := f.itemRow(0)
	require.NotNil(t, item.SerialID)
	assert.Equal(t, rec.Serial.ID, *item.SerialID)
	assert.NotNil(t, item.ConvertedAt)

	found, err := f.registry.FindSerial(f.ctx, "SN-B100-001")
	require.NoError(t, err)
	assert.Equal(t, rec.Serial.ID, found.ID)
}

func TestConversion_FailDoesNotConvert(t *testing.T) {
	f := newFixture(t, serialPipeline, 1)
	f.pass(f.item(0), "KIT", "SOLDER")

	rec := f.mustComplete(f.mustStart(f.item(0), "LASER"), core.ResultFail)
	assert.Nil(t, rec.Serial)
	assert.False(t, f.itemRow(0).Converted())

	rec = f.pass(f.item(0), "LASER")
	require.NotNil(t, rec.Serial)
	assert.Equal(t, "B100-001", rec.Serial.SerialNumber)
}

func TestConversion_ConvertedItemCannotStart(t *testing.T) {
	f := newFixture(t, serialPipeline, 1)
	convertFirst(t, f)

	_, err := f.start(f.item(0), "FUNC")
	assert.ErrorIs(t, err, core.ErrInvalidState)
	_, err = f.start(f.item(0), "LASER")
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestSerial_RunsSerialBlock(t *testing.T) {
	f := newFixture(t, serialPipeline, 1)
	serial := convertFirst(t, f)
	unit := core.SerialUnit(serial.ID)

	_, err := f.start(unit, "KIT")
	assert.ErrorIs(t, err, core.ErrSequenceViolation, "item block is closed to serials")
	_, err = f.start(unit, "BURNIN")
	assert.ErrorIs(t, err, core.ErrSequenceViolation)

	rec := f.pass(unit, "FUNC")
	assert.Equal(t, string(core.SerialInProgress), rec.UnitStatus)
	rec = f.pass(unit, "BURNIN")
	assert.Equal(t, string(core.SerialPassed), rec.UnitStatus)

	stored, err := f.registry.GetSerial(f.ctx, serial.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SerialPassed, stored.Status)

	_, err = f.start(core.BatchUnit(f.batch.ID), "FUNC")
	assert.ErrorIs(t, err, core.ErrSequenceViolation, "batches run the item block")
}

func TestSerial_ReworkLimit(t *testing.T) {
	f := newFixture(t, serialPipeline, 1, MaxRework(1))
	serial := convertFirst(t, f)
	unit := core.SerialUnit(serial.ID)

	rec := f.mustComplete(f.mustStart(unit, "FUNC"), core.ResultFail)
	assert.Equal(t, string(core.SerialFailed), rec.UnitStatus)

	ref := f.mustStart(unit, "FUNC")
	stored, err := f.registry.GetSerial(f.ctx, serial.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ReworkCount)
	assert.Equal(t, core.SerialInProgress, stored.Status)
	f.mustComplete(ref, core.ResultFail)

	_, err = f.start(unit, "FUNC")
	assert.ErrorIs(t, err, core.ErrReworkLimit)

	history, err := f.ledger.GetHistory(f.ctx, unit)
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, e := range history {
		assert.Equal(t, core.GranularitySerialized, e.Granularity)
		assert.Equal(t, core.ResultFail, e.Result)
	}
}

func TestConversion_Notifications(t *testing.T) {
	sink := &recordingSink{}
	f := newFixture(t, serialPipeline, 1, WithSink(sink))

	f.pass(f.item(0), "KIT", "SOLDER")
	rec := f.pass(f.item(0), "LASER")
	f.ledger.Wait()

	var started, completed, serialized int
	for _, e := range sink.snapshot() {
		switch ev := e.(type) {
		case *core.AttemptStarted:
			started++
		case *core.AttemptCompleted:
			completed++
		case *core.ItemSerialized:
			serialized++
			assert.Equal(t, f.items[0].ID, ev.ItemID)
			assert.Equal(t, rec.Serial.SerialNumber, ev.Serial.SerialNumber)
		}
	}
	assert.Equal(t, 3, started)
	assert.Equal(t, 3, completed)
	assert.Equal(t, 1, serialized)
}

func TestNotifications_FailingSinkDoesNotAffectResult(t *testing.T) {
	sink := notify.FuncSink(func(context.Context, core.Event) error {
		panic("printer offline")
	})
	f := newFixture(t, linePipeline, 1, WithSink(sink))

	rec := f.pass(f.item(0), "KIT")
	f.ledger.Wait()
	assert.Equal(t, core.ResultPass, rec.Attempt.Result)
}
