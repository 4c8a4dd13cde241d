package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/simple-process-tracking/pkg/core"
)

const sampleCatalog = `
operations:
  - code: KIT
    name: Kitting
    position: 1
  - code: SERIALIZE
    position: 2
    type: IDENTITY_CONVERSION
  - code: LEGACY
    position: 3
    active: false
`

func TestParse(t *testing.T) {
	ops, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)
	require.Len(t, ops, 3)

	assert.Equal(t, "KIT", ops[0].Code)
	assert.Equal(t, "Kitting", ops[0].Name)
	assert.True(t, ops[0].Active)
	assert.Equal(t, core.OperationType(""), ops[0].Type, "type is defaulted by Define")

	assert.Equal(t, core.OperationIdentityConversion, ops[1].Type)
	assert.False(t, ops[2].Active)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("operations: [oops"))
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o600))

	ops, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, ops, 3)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
