// Package transport carries envelopes between peers over gorilla/websocket: a Server hub
// that implements netcode.Outbox for the authority and a reconnecting Client.
package transport

import (
	"errors"
	"time"

	"github.com/OCAP2/vehiclesim/pkg/core"
	"github.com/OCAP2/vehiclesim/pkg/streaming"
)

const (
	sendChSize   = 10_000
	ackChSize    = 16
	maxReconnect = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
	ackTimeout   = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	maxMessage   = 1 << 20
)

var (
	ErrClosed      = errors.New("connection closed")
	ErrAckTimeout  = errors.New("timeout waiting for ack")
	ErrUnknownPeer = errors.New("unknown peer")
	ErrSendTimeout = errors.New("reliable send timed out")
	ErrForbidden   = errors.New("bad secret")
)

// Receiver consumes envelopes from a peer. netcode.Receiver and the dispatcher both
// satisfy it.
type Receiver interface {
	Deliver(from core.PeerID, env streaming.Envelope) error
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(from core.PeerID, env streaming.Envelope) error

func (f ReceiverFunc) Deliver(from core.PeerID, env streaming.Envelope) error { return f(from, env) }

// ackEnvelope builds the acknowledgement of env.
func ackEnvelope(env streaming.Envelope) (streaming.Envelope, error) {
	return streaming.NewEnvelope(streaming.TypeAck, env.Object, env.Tick, streaming.AckMessage{For: env.Type, Seq: env.Seq})
}

type lastKey struct {
	object core.ObjectID
	typ    string
}
