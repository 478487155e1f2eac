package vehicle

import "sync"

// Arena holds the vehicles of one session by id. Lookups may happen from any goroutine;
// Each visits vehicles in the order they were added so every peer steps them alike.
type Arena struct {
	mu       sync.RWMutex
	vehicles map[uint32]*Vehicle
	order    []uint32
}

func NewArena() *Arena {
	return &Arena{vehicles: map[uint32]*Vehicle{}}
}

// Get returns the vehicle with id.
func (a *Arena) Get(id uint32) (*Vehicle, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.vehicles[id]
	return v, ok
}

// Add stores v, replacing and destroying any vehicle already under its id.
func (a *Arena) Add(v *Vehicle) {
	a.mu.Lock()
	old, exists := a.vehicles[v.ID]
	a.vehicles[v.ID] = v
	if !exists {
		a.order = append(a.order, v.ID)
	}
	a.mu.Unlock()
	if exists && old != v {
		old.Destroy()
	}
}

// Remove destroys and forgets the vehicle with id. It reports whether one was present.
func (a *Arena) Remove(id uint32) bool {
	a.mu.Lock()
	v, ok := a.vehicles[id]
	if ok {
		delete(a.vehicles, id)
		for i, cur := range a.order {
			if cur == id {
				a.order = append(a.order[:i], a.order[i+1:]...)
				break
			}
		}
	}
	a.mu.Unlock()
	if ok {
		v.Destroy()
	}
	return ok
}

// Len is the number of vehicles.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.vehicles)
}

// Each calls fn for every vehicle until fn returns false. fn runs without the lock held.
func (a *Arena) Each(fn func(*Vehicle) bool) {
	a.mu.RLock()
	list := make([]*Vehicle, 0, len(a.order))
	for _, id := range a.order {
		list = append(list, a.vehicles[id])
	}
	a.mu.RUnlock()
	for _, v := range list {
		if !fn(v) {
			return
		}
	}
}
