package streaming

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/OCAP2/vehiclesim/pkg/core"
)

// Message type constants of the simulation protocol.
const (
	TypeHello          = "hello"
	TypeWelcome        = "welcome"
	TypeSpawn          = "spawn"
	TypeDespawn        = "despawn"
	TypeMove           = "move"
	TypeReconcile      = "reconcile"
	TypeVehicleState   = "vehicle_state"
	TypeRigidbodyState = "rigidbody_state"
	TypeAck            = "ack"
	TypeBye            = "bye"

	// Recorder stream, used by the websocket storage backend.
	TypeStartSession   = "start_session"
	TypeEndSession     = "end_session"
	TypeAddVehicle     = "add_vehicle"
	TypeSnapshot       = "snapshot"
	TypeReconcileEvent = "reconcile_event"
	TypeTelemetry      = "telemetry"
	TypePerformance    = "performance"
)

// Envelope wraps every message sent over the websocket. Object and Tick are zero for
// messages that are not about one object.
type Envelope struct {
	Type    string             `msgpack:"t" json:"type"`
	Object  core.ObjectID      `msgpack:"o,omitempty" json:"object,omitempty"`
	Tick    uint32             `msgpack:"k,omitempty" json:"tick,omitempty"`
	Seq     uint32             `msgpack:"q,omitempty" json:"seq,omitempty"`
	Payload msgpack.RawMessage `msgpack:"p,omitempty" json:"-"`
}

// AckMessage is the acknowledgement sent for envelopes that carry a Seq.
type AckMessage struct {
	For string `msgpack:"f" json:"for"`
	Seq uint32 `msgpack:"q" json:"seq"`
}

// HelloPayload is the first message a client sends.
type HelloPayload struct {
	Name    string    `msgpack:"n" json:"name"`
	Role    core.Role `msgpack:"r" json:"role"`
	Preset  string    `msgpack:"v,omitempty" json:"preset,omitempty"`
	Version string    `msgpack:"ver,omitempty" json:"version,omitempty"`
}

// WelcomePayload answers a hello with the peer id and the server clock.
type WelcomePayload struct {
	Peer              core.PeerID `msgpack:"p" json:"peer"`
	Tick              uint32      `msgpack:"k" json:"tick"`
	TickRate          float64     `msgpack:"hz" json:"tickRate"`
	ReconcileTickStep uint32      `msgpack:"rs" json:"reconcileTickStep"`
	SchemaVersion     uint16      `msgpack:"sv" json:"schemaVersion"`
}

// SpawnPayload announces a networked vehicle.
type SpawnPayload struct {
	Object   core.ObjectID `msgpack:"o" json:"object"`
	Owner    core.PeerID   `msgpack:"w" json:"owner"`
	Preset   string        `msgpack:"v" json:"preset"`
	Position mgl64.Vec3    `msgpack:"p" json:"position"`
	Rotation mgl64.Quat    `msgpack:"r" json:"rotation"`
}

// ReconcilePayload carries a framed tick plus full state blob to the owner.
type ReconcilePayload struct {
	Data []byte `msgpack:"d" json:"data"`
}

// VehicleStatePayload is the observer broadcast of one vehicle.
type VehicleStatePayload struct {
	Tick  uint32        `msgpack:"k" json:"tick"`
	Move  core.MoveData `msgpack:"m" json:"move"`
	State []byte        `msgpack:"s" json:"state"`
}

// ByePayload closes a session from either side.
type ByePayload struct {
	Reason string `msgpack:"r,omitempty" json:"reason,omitempty"`
}

// NewEnvelope builds an envelope around payload. A nil payload leaves Payload empty.
func NewEnvelope(typ string, object core.ObjectID, tick uint32, payload any) (Envelope, error) {
	env := Envelope{Type: typ, Object: object, Tick: tick}
	if payload == nil {
		return env, nil
	}
	raw, err := msgpack.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	env.Payload = raw
	return env, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: %w", e.Type, ErrEmptyPayload)
	}
	if err := msgpack.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", e.Type, err)
	}
	return nil
}

// Marshal encodes an envelope for the wire.
func Marshal(e Envelope) ([]byte, error) {
	return msgpack.Marshal(&e)
}

// Unmarshal decodes a wire frame into an envelope.
func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if e.Type == "" {
		return Envelope{}, ErrNoType
	}
	return e, nil
}
