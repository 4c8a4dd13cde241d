package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_Modes(t *testing.T) {
	for _, mode := range []string{"prod", "production", "dev", ""} {
		l, err := New(mode)
		require.NoError(t, err, mode)
		require.NotNil(t, l.SugaredLogger)
	}
}

func TestLogger_WritesFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := FromZap(zap.New(core)).With("component", "ledger")

	l.Debug("conflict", "kind", "duplicate_active")
	l.Info("attempt started", "attempt_id", int64(7))
	l.Warn("slow")
	l.Error("constraint violation", "err", "boom")

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, "attempt started", entries[1].Message)
	ctx := entries[1].ContextMap()
	assert.Equal(t, "ledger", ctx["component"])
	assert.Equal(t, int64(7), ctx["attempt_id"])
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Info("dropped", "k", "v")
	l.Sync()
}
