package handlers

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/OCAP2/vehiclesim/internal/geo"
	"github.com/OCAP2/vehiclesim/internal/netcode"
	"github.com/OCAP2/vehiclesim/internal/vmath"
	"github.com/OCAP2/vehiclesim/pkg/core"
)

// TelemetryOf samples the drive state of a networked vehicle. frame may be nil.
func TelemetryOf(pv *netcode.PredictedVehicle, tick uint32, worldUp mgl64.Vec3, frame *geo.Frame) core.Telemetry {
	out := pv.Vehicle.Output()
	t := core.Telemetry{
		Object:         pv.ID,
		Tick:           tick,
		Time:           time.Now(),
		Role:           pv.Role,
		Position:       out.Position,
		Speed:          out.Speed,
		LocalVelocity:  vmath.InverseRotate(out.Rotation, out.Velocity),
		GroundedWheels: out.GroundedWheels,
		Burnout:        out.Burnout,
		Crashing:       out.Crashing,
		UpDot:          out.Rotation.Rotate(vmath.Up).Dot(worldUp),
		EngineRPM:      out.EngineRPM,
		Gear:           out.Gear,
		Boosting:       out.Boosting,
	}
	if frame != nil {
		t.Lon, t.Lat = frame.ToLonLat(out.Position)
	}
	for i, w := range out.Wheels {
		t.Wheels = append(t.Wheels, core.WheelTelemetry{
			Index:        i,
			Grounded:     w.Grounded,
			ContactPoint: w.ContactPoint,
			ForwardSlip:  w.ForwardSlip,
			SidewaysSlip: w.SidewaysSlip,
			RawRPM:       w.RawRPM,
			Compression:  w.TravelDist,
			Popped:       w.Popped,
			Connected:    w.Connected,
			SurfaceType:  w.SurfaceType,
		})
	}
	return t
}

func (s *Service) sampleTelemetry(tick uint32) {
	if s.deps.Recorder == nil {
		return
	}
	up := s.deps.Time.Sim.WorldUp
	for _, e := range s.deps.Registry.Vehicles() {
		if e.Predicted.Destroyed() {
			continue
		}
		s.deps.Recorder.Telemetry(TelemetryOf(e.Predicted, tick, up, s.deps.Frame))
	}
}
