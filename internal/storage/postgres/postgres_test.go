package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/vehiclesim/internal/config"
	"github.com/OCAP2/vehiclesim/internal/database"
	"github.com/OCAP2/vehiclesim/internal/model"
	"github.com/OCAP2/vehiclesim/internal/storage"
	"github.com/OCAP2/vehiclesim/pkg/core"
)

// Compile-time interface check
var (
	_ storage.Backend         = (*Backend)(nil)
	_ storage.BacklogProvider = (*Backend)(nil)
)

func TestCallsBeforeInit(t *testing.T) {
	b := New(Dependencies{})

	assert.ErrorIs(t, b.StartSession(&core.Session{}), ErrNotInitialized)
	assert.ErrorIs(t, b.RecordSnapshot(&core.Snapshot{}), ErrNotInitialized)
	assert.Zero(t, b.Backlog())
	assert.NoError(t, b.Close())
}

func TestInitFailsWithoutServer(t *testing.T) {
	b := New(Dependencies{Config: config.DBConfig{
		Host: "127.0.0.1", Port: "1", Username: "u", Password: "p", Database: "none",
	}})
	err := b.Init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to postgres")
}

func TestInjectedDB(t *testing.T) {
	db, err := database.OpenSqlite("", t.Name())
	require.NoError(t, err)

	b := New(Dependencies{DB: db})
	require.NoError(t, b.Init())
	defer b.Close()

	s := &core.Session{Name: "injected"}
	require.NoError(t, b.StartSession(s))
	require.NoError(t, b.AddVehicle(&core.VehicleInfo{Object: 9}))
	require.NoError(t, b.RecordReconciliation(&core.ReconcileEvent{Object: 9, Tick: 30}))
	assert.Equal(t, 1, b.Backlog())
	require.NoError(t, b.EndSession())

	var count int64
	require.NoError(t, db.Model(&model.ReconcileEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
