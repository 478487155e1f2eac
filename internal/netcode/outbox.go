package netcode

import (
	"encoding/binary"
	"fmt"
	"slices"
	"sync"

	"github.com/OCAP2/vehiclesim/pkg/core"
	"github.com/OCAP2/vehiclesim/pkg/streaming"
)

// Outbox carries protocol messages away from the simulation goroutine. Implementations
// must not block.
type Outbox interface {
	// SendReliable delivers env to one peer in order.
	SendReliable(to core.PeerID, env streaming.Envelope)
	// SendUnreliable delivers env to one peer, or drops it.
	SendUnreliable(to core.PeerID, env streaming.Envelope)
	// Broadcast sends env unreliably to every peer but the excluded ones and keeps it as
	// the latest value of its (object, type) for peers that join later.
	Broadcast(env streaming.Envelope, except ...core.PeerID)
}

// Receiver consumes envelopes addressed to one peer.
type Receiver interface {
	Deliver(from core.PeerID, env streaming.Envelope) error
}

type lastKey struct {
	object core.ObjectID
	typ    string
}

// Loopback connects in-process peers. Delivery is synchronous, so receivers must only
// queue what they get.
type Loopback struct {
	mu    sync.Mutex
	peers map[core.PeerID]Receiver
	order []core.PeerID
	last  map[lastKey]loopbackLast

	// Drop, when set, decides whether an unreliable envelope is lost.
	Drop func(from, to core.PeerID, env streaming.Envelope) bool
	// OnError sees delivery errors; they are otherwise ignored like a lost packet.
	OnError func(to core.PeerID, env streaming.Envelope, err error)
}

type loopbackLast struct {
	from   core.PeerID
	except []core.PeerID
	env    streaming.Envelope
}

// NewLoopback creates an empty loopback hub.
func NewLoopback() *Loopback {
	return &Loopback{
		peers: make(map[core.PeerID]Receiver),
		last:  make(map[lastKey]loopbackLast),
	}
}

// Attach registers r as peer id, replays buffered broadcasts to it and returns the
// outbox that peer sends through.
func (l *Loopback) Attach(id core.PeerID, r Receiver) Outbox {
	l.mu.Lock()
	if _, ok := l.peers[id]; !ok {
		l.order = append(l.order, id)
	}
	l.peers[id] = r
	var buffered []loopbackLast
	for _, b := range l.last {
		if b.from != id && !slices.Contains(b.except, id) {
			buffered = append(buffered, b)
		}
	}
	l.mu.Unlock()

	for _, b := range buffered {
		l.deliver(b.from, id, b.env)
	}
	return l.Outbox(id)
}

// Outbox returns the outbox peer id sends through. Sending works before the peer is
// attached, so objects can be built before their receiver is registered.
func (l *Loopback) Outbox(id core.PeerID) Outbox {
	return &loopbackOutbox{hub: l, from: id}
}

// Detach removes a peer.
func (l *Loopback) Detach(id core.PeerID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.peers, id)
	l.order = slices.DeleteFunc(l.order, func(p core.PeerID) bool { return p == id })
}

func (l *Loopback) deliver(from, to core.PeerID, env streaming.Envelope) {
	l.mu.Lock()
	r, ok := l.peers[to]
	l.mu.Unlock()
	if !ok {
		return
	}
	if err := r.Deliver(from, env); err != nil && l.OnError != nil {
		l.OnError(to, env, err)
	}
}

func (l *Loopback) dropped(from, to core.PeerID, env streaming.Envelope) bool {
	return l.Drop != nil && l.Drop(from, to, env)
}

type loopbackOutbox struct {
	hub  *Loopback
	from core.PeerID
}

func (o *loopbackOutbox) SendReliable(to core.PeerID, env streaming.Envelope) {
	o.hub.deliver(o.from, to, env)
}

func (o *loopbackOutbox) SendUnreliable(to core.PeerID, env streaming.Envelope) {
	if o.hub.dropped(o.from, to, env) {
		return
	}
	o.hub.deliver(o.from, to, env)
}

func (o *loopbackOutbox) Broadcast(env streaming.Envelope, except ...core.PeerID) {
	l := o.hub
	l.mu.Lock()
	l.last[lastKey{object: env.Object, typ: env.Type}] = loopbackLast{from: o.from, except: except, env: env}
	targets := make([]core.PeerID, 0, len(l.order))
	for _, id := range l.order {
		if id == o.from || slices.Contains(except, id) {
			continue
		}
		targets = append(targets, id)
	}
	l.mu.Unlock()

	for _, to := range targets {
		o.SendUnreliable(to, env)
	}
}

// EncodeReconcile frames the authoritative tick in front of a full state blob.
func EncodeReconcile(tick uint32, state []byte) []byte {
	out := make([]byte, 4+len(state))
	binary.LittleEndian.PutUint32(out, tick)
	copy(out[4:], state)
	return out
}

// DecodeReconcile splits a reconcile payload into its tick and state blob.
func DecodeReconcile(data []byte) (uint32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, fmt.Errorf("%d bytes: %w", len(data), ErrShortPayload)
	}
	return binary.LittleEndian.Uint32(data), data[4:], nil
}
