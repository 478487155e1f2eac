// pkg/core/session.go
package core

import "time"

// Session describes one simulation run that is being recorded.
type Session struct {
	ID         uint
	Name       string
	Tag        string
	StartedAt  time.Time
	TickRate   float64
	TickStep   uint32
	Host       string
	SchemaVer  uint16
	OriginLon  float64
	OriginLat  float64
	Properties map[string]any
}

// VehicleInfo registers a networked vehicle with the recorder.
type VehicleInfo struct {
	ID        uint
	Object    ObjectID
	Owner     PeerID
	Preset    string
	Hover     bool
	Wheels    int
	JoinedAt  time.Time
	JoinTick  uint32
	SessionID uint
}

// UploadMetadata accompanies an exported session uploaded to a replay frontend.
type UploadMetadata struct {
	SessionName string
	Tag         string
	Duration    float64
	Vehicles    int
	TickRate    float64
	Ticks       uint32
	SchemaVer   uint16
}
