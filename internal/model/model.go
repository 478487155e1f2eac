package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DatabaseModels lists every table of the recording schema in migration order.
var DatabaseModels = []any{
	&Session{},
	&Vehicle{},
	&Snapshot{},
	&ReconcileEvent{},
	&Telemetry{},
	&Performance{},
}

// Session is one recorded simulation run.
type Session struct {
	gorm.Model
	Name          string         `json:"name" gorm:"size:200"`
	Tag           string         `json:"tag" gorm:"size:127"`
	StartTime     time.Time      `json:"startTime" gorm:"index:idx_session_start"`
	EndTime       *time.Time     `json:"endTime"`
	TickRate      float64        `json:"tickRate"`
	TickStep      uint32         `json:"reconcileTickStep"`
	Host          string         `json:"host" gorm:"size:127"`
	SchemaVersion uint16         `json:"schemaVersion"`
	Origin        geom.Point     `json:"origin"` // lon/lat of the simulation origin
	Properties    datatypes.JSON `json:"properties" gorm:"default:'{}'"`

	Vehicles []Vehicle `json:"-"`
}

func (*Session) TableName() string { return "sessions" }

// Vehicle registers a networked vehicle in a session.
type Vehicle struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	SessionID uint      `json:"sessionId" gorm:"index:idx_vehicle_session_id;uniqueIndex:idx_vehicle_session_object"`
	Session   Session   `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	ObjectID  uint32    `json:"objectId" gorm:"uniqueIndex:idx_vehicle_session_object"`
	Owner     uint32    `json:"owner"`
	Preset    string    `json:"preset" gorm:"size:64"`
	Hover     bool      `json:"hover"`
	Wheels    int       `json:"wheels"`
	JoinTime  time.Time `json:"joinTime"`
	JoinTick  uint32    `json:"joinTick"`
}

func (*Vehicle) TableName() string { return "vehicles" }

// Snapshot is the authoritative full state of a vehicle at a reconcile tick.
type Snapshot struct {
	ID        uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time      `json:"time"`
	SessionID uint           `json:"sessionId" gorm:"index:idx_snapshot_session_id"`
	Session   Session        `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	ObjectID  uint32         `json:"objectId" gorm:"index:idx_snapshot_object_tick,priority:1"`
	Tick      uint32         `json:"tick" gorm:"index:idx_snapshot_object_tick,priority:2"`
	Role      string         `json:"role" gorm:"size:16"`
	Position  geom.Point     `json:"position"` // ground plane x/z
	Elevation float64        `json:"elevation"`
	Rotation  string         `json:"rotation" gorm:"size:96"` // w x y z
	Velocity  string         `json:"velocity" gorm:"size:96"`
	Speed     float64        `json:"speed"`
	Move      datatypes.JSON `json:"move"`
	State     []byte         `json:"-"`
	Grounded  int            `json:"grounded"`
	Burnout   float64        `json:"burnout"`
	Crashing  bool           `json:"crashing"`
	Gear      int            `json:"gear"`
	EngineRPM float64        `json:"engineRpm"`
}

func (*Snapshot) TableName() string { return "snapshots" }

// ReconcileEvent is a correction applied by an owning client.
type ReconcileEvent struct {
	ID            uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time          time.Time `json:"time"`
	SessionID     uint      `json:"sessionId" gorm:"index:idx_reconcile_session_id"`
	Session       Session   `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	ObjectID      uint32    `json:"objectId"`
	Tick          uint32    `json:"tick"`
	LocalTick     uint32    `json:"localTick"`
	Correction    float64   `json:"correction"`
	ReplayedTicks int       `json:"replayedTicks"`
	Rejected      bool      `json:"rejected"`
	Reason        string    `json:"reason" gorm:"size:255"`
}

func (*ReconcileEvent) TableName() string { return "reconcile_events" }

// Telemetry is a sampled per-tick drive state of a vehicle.
type Telemetry struct {
	ID             uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	Time           time.Time      `json:"time" gorm:"index:idx_telemetry_time"`
	SessionID      uint           `json:"sessionId" gorm:"index:idx_telemetry_session_id"`
	Session        Session        `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	ObjectID       uint32         `json:"objectId"`
	Tick           uint32         `json:"tick"`
	Role           string         `json:"role" gorm:"size:16"`
	Location       geom.Point     `json:"location"` // lon/lat
	Elevation      float64        `json:"elevation"`
	Speed          float64        `json:"speed"`
	GroundedWheels int            `json:"groundedWheels"`
	Burnout        float64        `json:"burnout"`
	Crashing       bool           `json:"crashing"`
	UpDot          float64        `json:"upDot"`
	EngineRPM      float64        `json:"engineRpm"`
	Gear           int            `json:"gear"`
	Boosting       bool           `json:"boosting"`
	Wheels         datatypes.JSON `json:"wheels"`
}

func (*Telemetry) TableName() string { return "telemetry" }

// Performance is a periodic health sample of the simulation process.
type Performance struct {
	ID              uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time            time.Time `json:"time" gorm:"index:idx_performance_time"`
	SessionID       uint      `json:"sessionId" gorm:"index:idx_performance_session_id"`
	Session         Session   `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	Tick            uint32    `json:"tick"`
	TickDurationMs  float64   `json:"tickDurationMs"`
	Vehicles        int       `json:"vehicles"`
	Peers           int       `json:"peers"`
	InboxDepth      int       `json:"inboxDepth"`
	RecorderBacklog int       `json:"recorderBacklog"`
	Reconciliations int64     `json:"reconciliations"`
	Dropped         int64     `json:"dropped"`
}

func (*Performance) TableName() string { return "performance" }
