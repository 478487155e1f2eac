// pkg/core/move.go
package core

import "github.com/go-gl/mathgl/mgl64"

// MoveData is one tick of driver input. It is the unit of replicated input and is always
// copied, never shared.
type MoveData struct {
	Accel           float64 `json:"accel" msgpack:"a"`
	Brake           float64 `json:"brake" msgpack:"b"`
	Steer           float64 `json:"steer" msgpack:"s"`
	Ebrake          float64 `json:"ebrake" msgpack:"e"`
	Boost           bool    `json:"boost" msgpack:"bo"`
	UpshiftButton   bool    `json:"upshiftButton" msgpack:"ub"`
	UpshiftInput    float64 `json:"upshiftInput" msgpack:"ui"`
	DownshiftButton bool    `json:"downshiftButton" msgpack:"db"`
	DownshiftInput  float64 `json:"downshiftInput" msgpack:"di"`
	Pitch           float64 `json:"pitch" msgpack:"p"`
	Yaw             float64 `json:"yaw" msgpack:"y"`
	Roll            float64 `json:"roll" msgpack:"r"`
	Burnout         float64 `json:"burnout" msgpack:"bu"`
}

// IsZero reports whether no input is held.
func (m MoveData) IsZero() bool {
	return m == MoveData{}
}

// RigidbodyState is the compact authoritative pose broadcast for non-vehicle objects and
// used to restore vehicle bodies.
type RigidbodyState struct {
	Position        mgl64.Vec3 `json:"position" msgpack:"p"`
	Rotation        mgl64.Quat `json:"rotation" msgpack:"r"`
	Velocity        mgl64.Vec3 `json:"velocity" msgpack:"v"`
	AngularVelocity mgl64.Vec3 `json:"angularVelocity" msgpack:"w"`
}

// Role is the part a process plays for one networked vehicle.
type Role uint8

const (
	RoleServer Role = iota
	RoleOwner
	RoleObserver
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleOwner:
		return "owner"
	case RoleObserver:
		return "observer"
	}
	return "unknown"
}

// ObjectID identifies a networked object across all peers.
type ObjectID uint32

// PeerID identifies a connection. The server is always peer 0.
type PeerID uint32

const ServerPeer PeerID = 0
