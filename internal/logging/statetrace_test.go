package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTrace_DisabledRecordsNothing(t *testing.T) {
	var nilTrace *StateTrace
	nilTrace.Record("tick %d", 1)
	assert.Nil(t, nilTrace.Lines())
	assert.False(t, nilTrace.Enabled())

	off := NewStateTrace(false)
	off.Record("tick %d", 1)
	assert.Empty(t, off.Lines())
}

func TestStateTrace_SaveAndReset(t *testing.T) {
	tr := NewStateTrace(true)
	tr.Record("tick %d rpm %.1f", 3, 1200.0)
	tr.Record("tick %d rpm %.1f", 4, 1250.5)

	path := filepath.Join(t.TempDir(), "trace.txt")
	require.NoError(t, tr.Save(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "tick 3 rpm 1200.0\ntick 4 rpm 1250.5\n", string(data))

	tr.Reset()
	assert.Empty(t, tr.Lines())
}
