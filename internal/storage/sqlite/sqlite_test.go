package sqlitestorage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/vehiclesim/internal/database"
	"github.com/OCAP2/vehiclesim/internal/model"
	"github.com/OCAP2/vehiclesim/internal/storage"
	"github.com/OCAP2/vehiclesim/pkg/core"
)

var (
	_ storage.Backend    = (*Backend)(nil)
	_ storage.Uploadable = (*Backend)(nil)
)

func TestEndSessionDumpsToDisk(t *testing.T) {
	dir := t.TempDir()
	b, err := New(Config{OutputDir: dir}, t.Name(), nil)
	require.NoError(t, err)
	require.NoError(t, b.Init())
	defer b.Close()

	s := &core.Session{Name: "dump me", Tag: "Track", StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	require.NoError(t, b.StartSession(s))
	require.NoError(t, b.AddVehicle(&core.VehicleInfo{Object: 1, Preset: "car"}))
	require.NoError(t, b.RecordPerformance(&core.Performance{Tick: 50}))
	assert.Empty(t, b.GetExportedFilePath())

	require.NoError(t, b.EndSession())

	path := b.GetExportedFilePath()
	require.NotEmpty(t, path)
	assert.Equal(t, dir, filepath.Dir(path))
	_, err = os.Stat(path)
	require.NoError(t, err)

	onDisk, err := database.OpenSqlite(path, "")
	require.NoError(t, err)
	var count int64
	require.NoError(t, onDisk.Model(&model.Performance{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	meta := b.GetExportMetadata()
	assert.Equal(t, "dump me", meta.SessionName)
	assert.Equal(t, "Track", meta.Tag)
}

func TestDumpLoop(t *testing.T) {
	dir := t.TempDir()
	b, err := New(Config{OutputDir: dir, DumpInterval: 10 * time.Millisecond}, t.Name(), nil)
	require.NoError(t, err)
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.StartSession(&core.Session{Name: "loop", StartedAt: time.Now()}))
	assert.Eventually(t, func() bool { return b.GetExportedFilePath() != "" }, 2*time.Second, 10*time.Millisecond)
}

func TestNoOutputDirSkipsDump(t *testing.T) {
	b, err := New(Config{}, t.Name(), nil)
	require.NoError(t, err)
	require.NoError(t, b.Init())

	require.NoError(t, b.StartSession(&core.Session{Name: "nodump"}))
	require.NoError(t, b.EndSession())
	assert.Empty(t, b.GetExportedFilePath())
	require.NoError(t, b.Close())
}
