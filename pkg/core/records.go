// pkg/core/records.go
package core

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// Snapshot is one recorded full state of a vehicle at a tick.
type Snapshot struct {
	Object    ObjectID
	Tick      uint32
	Time      time.Time
	Role      Role
	Body      RigidbodyState
	Move      MoveData
	State     []byte
	Grounded  int
	Burnout   float64
	Crashing  bool
	Gear      int
	EngineRPM float64
}

// ReconcileEvent records a server correction applied on an owner.
type ReconcileEvent struct {
	Object        ObjectID
	Tick          uint32
	LocalTick     uint32
	Time          time.Time
	Correction    float64 // metres between predicted and corrected pose
	ReplayedTicks int
	Rejected      bool
	Reason        string
}

// WheelTelemetry is the per-wheel part of a telemetry sample.
type WheelTelemetry struct {
	Index        int
	Grounded     bool
	ContactPoint mgl64.Vec3
	ForwardSlip  float64
	SidewaysSlip float64
	RawRPM       float64
	Compression  float64
	Popped       bool
	Connected    bool
	SurfaceType  int
}

// Telemetry is a per-tick vehicle sample for time series storage.
type Telemetry struct {
	Object         ObjectID
	Tick           uint32
	Time           time.Time
	Role           Role
	Position       mgl64.Vec3
	Lon, Lat       float64
	Speed          float64
	LocalVelocity  mgl64.Vec3
	GroundedWheels int
	Burnout        float64
	Crashing       bool
	UpDot          float64
	EngineRPM      float64
	Gear           int
	Boosting       bool
	Wheels         []WheelTelemetry
}

// Performance is a periodic health sample of the process.
type Performance struct {
	Time            time.Time
	Tick            uint32
	TickDuration    time.Duration
	Vehicles        int
	Peers           int
	InboxDepth      int
	RecorderBacklog int
	Reconciliations int64
	Dropped         int64
}
