// Package convert maps the transport-neutral records of pkg/core onto the gorm models
// and back.
package convert

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"

	"github.com/OCAP2/vehiclesim/internal/geo"
	"github.com/OCAP2/vehiclesim/internal/model"
	"github.com/OCAP2/vehiclesim/pkg/core"
)

func jsonOf(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(b)
}

// groundPoint and lonLatPoint store non-finite coordinates as an empty point.
func groundPoint(pos mgl64.Vec3) geom.Point {
	p, err := geo.GroundPoint(pos)
	if err != nil {
		return geom.Point{}
	}
	return p
}

func lonLatPoint(lon, lat float64) geom.Point {
	p, err := geo.LonLatPoint(lon, lat)
	if err != nil {
		return geom.Point{}
	}
	return p
}

func quatString(q mgl64.Quat) string {
	return fmt.Sprintf("%g %g %g %g", q.W, q.V[0], q.V[1], q.V[2])
}

func vecString(v mgl64.Vec3) string {
	return fmt.Sprintf("%g %g %g", v[0], v[1], v[2])
}

// SessionToModel converts a session. Properties default to an empty object.
func SessionToModel(s core.Session) model.Session {
	props := s.Properties
	if props == nil {
		props = map[string]any{}
	}
	return model.Session{
		Name:          s.Name,
		Tag:           s.Tag,
		StartTime:     s.StartedAt,
		TickRate:      s.TickRate,
		TickStep:      s.TickStep,
		Host:          s.Host,
		SchemaVersion: s.SchemaVer,
		Origin:        lonLatPoint(s.OriginLon, s.OriginLat),
		Properties:    jsonOf(props),
	}
}

func VehicleToModel(v core.VehicleInfo) model.Vehicle {
	return model.Vehicle{
		SessionID: v.SessionID,
		ObjectID:  uint32(v.Object),
		Owner:     uint32(v.Owner),
		Preset:    v.Preset,
		Hover:     v.Hover,
		Wheels:    v.Wheels,
		JoinTime:  v.JoinedAt,
		JoinTick:  v.JoinTick,
	}
}

// SnapshotToModel keeps the ground plane position (x, z) as the point and the height as
// elevation.
func SnapshotToModel(s core.Snapshot) model.Snapshot {
	pos := s.Body.Position
	return model.Snapshot{
		Time:      s.Time,
		ObjectID:  uint32(s.Object),
		Tick:      s.Tick,
		Role:      s.Role.String(),
		Position:  groundPoint(pos),
		Elevation: pos[1],
		Rotation:  quatString(s.Body.Rotation),
		Velocity:  vecString(s.Body.Velocity),
		Speed:     s.Body.Velocity.Len(),
		Move:      jsonOf(s.Move),
		State:     s.State,
		Grounded:  s.Grounded,
		Burnout:   s.Burnout,
		Crashing:  s.Crashing,
		Gear:      s.Gear,
		EngineRPM: s.EngineRPM,
	}
}

// SnapshotFromModel restores what a recorded snapshot can give back. Rotation and
// angular velocity live only in the state blob.
func SnapshotFromModel(m model.Snapshot) core.Snapshot {
	s := core.Snapshot{
		Object:    core.ObjectID(m.ObjectID),
		Tick:      m.Tick,
		Time:      m.Time,
		State:     m.State,
		Grounded:  m.Grounded,
		Burnout:   m.Burnout,
		Crashing:  m.Crashing,
		Gear:      m.Gear,
		EngineRPM: m.EngineRPM,
	}
	if xy, ok := m.Position.XY(); ok {
		s.Body.Position = mgl64.Vec3{xy.X, m.Elevation, xy.Y}
	}
	s.Body.Rotation = mgl64.QuatIdent()
	if len(m.Move) > 0 {
		_ = json.Unmarshal(m.Move, &s.Move)
	}
	switch m.Role {
	case core.RoleOwner.String():
		s.Role = core.RoleOwner
	case core.RoleObserver.String():
		s.Role = core.RoleObserver
	default:
		s.Role = core.RoleServer
	}
	return s
}

func ReconcileToModel(e core.ReconcileEvent) model.ReconcileEvent {
	return model.ReconcileEvent{
		Time:          e.Time,
		ObjectID:      uint32(e.Object),
		Tick:          e.Tick,
		LocalTick:     e.LocalTick,
		Correction:    e.Correction,
		ReplayedTicks: e.ReplayedTicks,
		Rejected:      e.Rejected,
		Reason:        e.Reason,
	}
}

func TelemetryToModel(t core.Telemetry) model.Telemetry {
	wheels := t.Wheels
	if wheels == nil {
		wheels = []core.WheelTelemetry{}
	}
	return model.Telemetry{
		Time:           t.Time,
		ObjectID:       uint32(t.Object),
		Tick:           t.Tick,
		Role:           t.Role.String(),
		Location:       lonLatPoint(t.Lon, t.Lat),
		Elevation:      t.Position[1],
		Speed:          t.Speed,
		GroundedWheels: t.GroundedWheels,
		Burnout:        t.Burnout,
		Crashing:       t.Crashing,
		UpDot:          t.UpDot,
		EngineRPM:      t.EngineRPM,
		Gear:           t.Gear,
		Boosting:       t.Boosting,
		Wheels:         jsonOf(wheels),
	}
}

func PerformanceToModel(p core.Performance) model.Performance {
	return model.Performance{
		Time:            p.Time,
		Tick:            p.Tick,
		TickDurationMs:  float64(p.TickDuration) / float64(time.Millisecond),
		Vehicles:        p.Vehicles,
		Peers:           p.Peers,
		InboxDepth:      p.InboxDepth,
		RecorderBacklog: p.RecorderBacklog,
		Reconciliations: p.Reconciliations,
		Dropped:         p.Dropped,
	}
}
