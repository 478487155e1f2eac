package cache

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/OCAP2/vehiclesim/internal/netcode"
	"github.com/OCAP2/vehiclesim/pkg/core"
)

// Entry is one networked vehicle known to this process.
type Entry struct {
	Info      core.VehicleInfo
	Predicted *netcode.PredictedVehicle
}

// Registry caches the networked vehicles and objects of a session by id, so handlers
// can resolve incoming messages without touching the simulation.
type Registry struct {
	mu       sync.RWMutex
	vehicles map[core.ObjectID]*Entry
	order    []core.ObjectID
	objects  map[core.ObjectID]*netcode.CachedObject

	next atomic.Uint32
}

func NewRegistry() *Registry {
	return &Registry{
		vehicles: make(map[core.ObjectID]*Entry),
		objects:  make(map[core.ObjectID]*netcode.CachedObject),
	}
}

// NextID allocates a new object id. Ids start at 1.
func (r *Registry) NextID() core.ObjectID {
	return core.ObjectID(r.next.Add(1))
}

// Reset forgets everything. It does not destroy the vehicles.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vehicles = make(map[core.ObjectID]*Entry)
	r.objects = make(map[core.ObjectID]*netcode.CachedObject)
	r.order = nil
}

func (r *Registry) AddVehicle(info core.VehicleInfo, pv *netcode.PredictedVehicle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.vehicles[info.Object]; !ok {
		r.order = append(r.order, info.Object)
	}
	r.vehicles[info.Object] = &Entry{Info: info, Predicted: pv}
}

func (r *Registry) GetVehicle(id core.ObjectID) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.vehicles[id]
	return e, ok
}

// RemoveVehicle forgets the vehicle and returns it so the caller can destroy it.
func (r *Registry) RemoveVehicle(id core.ObjectID) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.vehicles[id]
	if !ok {
		return nil, false
	}
	delete(r.vehicles, id)
	r.order = slices.DeleteFunc(r.order, func(o core.ObjectID) bool { return o == id })
	return e, true
}

// Vehicles returns the entries in the order they were added.
func (r *Registry) Vehicles() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.vehicles[id])
	}
	return out
}

// OwnedBy lists the vehicles driven by peer.
func (r *Registry) OwnedBy(peer core.PeerID) []core.ObjectID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []core.ObjectID
	for _, id := range r.order {
		if r.vehicles[id].Info.Owner == peer {
			out = append(out, id)
		}
	}
	return out
}

func (r *Registry) VehicleCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.vehicles)
}

func (r *Registry) AddObject(o *netcode.CachedObject) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects[o.ID] = o
}

func (r *Registry) GetObject(id core.ObjectID) (*netcode.CachedObject, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.objects[id]
	return o, ok
}

func (r *Registry) RemoveObject(id core.ObjectID) (*netcode.CachedObject, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.objects[id]
	delete(r.objects, id)
	return o, ok
}
