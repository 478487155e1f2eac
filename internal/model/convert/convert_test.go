package convert

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/vehiclesim/pkg/core"
)

func TestSessionToModel(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := SessionToModel(core.Session{
		Name:      "practice",
		Tag:       "Track",
		StartedAt: start,
		TickRate:  50,
		TickStep:  10,
		SchemaVer: 1,
		OriginLon: 13.4,
		OriginLat: 52.5,
	})

	assert.Equal(t, "practice", m.Name)
	assert.Equal(t, start, m.StartTime)
	assert.Equal(t, uint32(10), m.TickStep)
	assert.JSONEq(t, `{}`, string(m.Properties))

	xy, ok := m.Origin.XY()
	require.True(t, ok)
	assert.Equal(t, 13.4, xy.X)
	assert.Equal(t, 52.5, xy.Y)
}

func TestVehicleToModel(t *testing.T) {
	m := VehicleToModel(core.VehicleInfo{Object: 4, Owner: 2, Preset: "hover", Hover: true, Wheels: 4, SessionID: 9, JoinTick: 120})
	assert.Equal(t, uint32(4), m.ObjectID)
	assert.Equal(t, uint32(2), m.Owner)
	assert.Equal(t, uint(9), m.SessionID)
	assert.True(t, m.Hover)
	assert.Equal(t, uint32(120), m.JoinTick)
}

func TestSnapshotRoundTrip(t *testing.T) {
	in := core.Snapshot{
		Object: 3,
		Tick:   40,
		Role:   core.RoleServer,
		Body: core.RigidbodyState{
			Position: mgl64.Vec3{10, 1.5, -4},
			Rotation: mgl64.QuatIdent(),
			Velocity: mgl64.Vec3{3, 0, 4},
		},
		Move:      core.MoveData{Accel: 1, Steer: -0.25},
		State:     []byte{1, 2, 3},
		Grounded:  4,
		Gear:      2,
		EngineRPM: 3100,
	}

	m := SnapshotToModel(in)
	assert.Equal(t, 5.0, m.Speed)
	assert.Equal(t, 1.5, m.Elevation)
	assert.Equal(t, "server", m.Role)
	assert.Equal(t, "1 0 0 0", m.Rotation)

	var md core.MoveData
	require.NoError(t, json.Unmarshal(m.Move, &md))
	assert.Equal(t, in.Move, md)

	out := SnapshotFromModel(m)
	assert.Equal(t, in.Body.Position, out.Body.Position)
	assert.Equal(t, in.Move, out.Move)
	assert.Equal(t, in.State, out.State)
	assert.Equal(t, core.RoleServer, out.Role)
	assert.Equal(t, 2, out.Gear)
}

func TestReconcileToModel(t *testing.T) {
	m := ReconcileToModel(core.ReconcileEvent{Object: 1, Tick: 30, LocalTick: 34, Correction: 0.02, ReplayedTicks: 4})
	assert.Equal(t, uint32(30), m.Tick)
	assert.Equal(t, uint32(34), m.LocalTick)
	assert.Equal(t, 4, m.ReplayedTicks)
	assert.False(t, m.Rejected)
}

func TestTelemetryToModel(t *testing.T) {
	m := TelemetryToModel(core.Telemetry{
		Object:   1,
		Role:     core.RoleOwner,
		Position: mgl64.Vec3{0, 2, 0},
		Lon:      13.4,
		Lat:      52.5,
		Speed:    12,
	})
	assert.Equal(t, "owner", m.Role)
	assert.Equal(t, 2.0, m.Elevation)
	assert.JSONEq(t, `[]`, string(m.Wheels))

	xy, ok := m.Location.XY()
	require.True(t, ok)
	assert.Equal(t, 13.4, xy.X)
}

func TestNonFinitePositionStoresEmptyPoint(t *testing.T) {
	m := SnapshotToModel(core.Snapshot{Body: core.RigidbodyState{
		Position: mgl64.Vec3{math.NaN(), 0, 1},
		Rotation: mgl64.QuatIdent(),
	}})
	assert.True(t, m.Position.IsEmpty())

	back := SnapshotFromModel(m)
	assert.Equal(t, mgl64.Vec3{}, back.Body.Position)
}

func TestPerformanceToModel(t *testing.T) {
	m := PerformanceToModel(core.Performance{TickDuration: 1500 * time.Microsecond, Vehicles: 3, Reconciliations: 12})
	assert.Equal(t, 1.5, m.TickDurationMs)
	assert.Equal(t, 3, m.Vehicles)
	assert.Equal(t, int64(12), m.Reconciliations)
}
