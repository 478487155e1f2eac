package netcode

import (
	"fmt"
	"sync"

	"github.com/OCAP2/vehiclesim/pkg/core"
	"github.com/OCAP2/vehiclesim/pkg/streaming"
)

// Target is a networked object that accepts envelopes addressed to it.
type Target interface {
	Receive(from core.PeerID, env streaming.Envelope) error
}

// Router hands envelopes to the networked objects of one peer. Envelopes that are not
// about an object go to Control.
type Router struct {
	mu      sync.RWMutex
	targets map[core.ObjectID]Target

	Control func(from core.PeerID, env streaming.Envelope) error
}

func NewRouter() *Router {
	return &Router{targets: make(map[core.ObjectID]Target)}
}

func (r *Router) Add(id core.ObjectID, t Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[id] = t
}

func (r *Router) Remove(id core.ObjectID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.targets, id)
}

func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.targets)
}

// Deliver implements Receiver.
func (r *Router) Deliver(from core.PeerID, env streaming.Envelope) error {
	switch env.Type {
	case streaming.TypeMove, streaming.TypeReconcile, streaming.TypeVehicleState, streaming.TypeRigidbodyState:
	default:
		if r.Control == nil {
			return fmt.Errorf("%s: %w", env.Type, ErrUnexpectedMessage)
		}
		return r.Control(from, env)
	}

	r.mu.RLock()
	t, ok := r.targets[env.Object]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s for %d: %w", env.Type, env.Object, ErrUnknownObject)
	}
	return t.Receive(from, env)
}
