// Package memory keeps a session in memory and exports it as (gzipped) JSON when the
// session ends.
package memory

import (
	"errors"
	"sync"

	"github.com/OCAP2/vehiclesim/internal/config"
	"github.com/OCAP2/vehiclesim/pkg/core"
)

// ErrNoSession is returned when records arrive before StartSession.
var ErrNoSession = errors.New("no session started")

// VehicleRecord groups a vehicle with everything recorded about it.
type VehicleRecord struct {
	Vehicle         core.VehicleInfo
	Snapshots       []core.Snapshot
	Telemetry       []core.Telemetry
	Reconciliations []core.ReconcileEvent
}

// Backend stores session data in memory and exports to JSON
type Backend struct {
	cfg     config.MemoryConfig
	session *core.Session

	vehicles    map[core.ObjectID]*VehicleRecord
	order       []core.ObjectID
	performance []core.Performance
	lastTick    uint32

	idCounter      uint
	lastExportPath string
	mu             sync.RWMutex
}

func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:      cfg,
		vehicles: make(map[core.ObjectID]*VehicleRecord),
	}
}

func (b *Backend) Init() error  { return nil }
func (b *Backend) Close() error { return nil }

// StartSession drops anything recorded before and begins a new session.
func (b *Backend) StartSession(s *core.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.idCounter++
	s.ID = b.idCounter
	b.session = s
	b.vehicles = make(map[core.ObjectID]*VehicleRecord)
	b.order = nil
	b.performance = nil
	b.lastTick = 0
	b.lastExportPath = ""
	return nil
}

// EndSession writes the export file.
func (b *Backend) EndSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return ErrNoSession
	}
	return b.exportJSON()
}

// AddVehicle registers a vehicle. Re-adding an object keeps its history.
func (b *Backend) AddVehicle(v *core.VehicleInfo) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return ErrNoSession
	}
	b.idCounter++
	v.ID = b.idCounter
	v.SessionID = b.session.ID
	if rec, ok := b.vehicles[v.Object]; ok {
		rec.Vehicle = *v
		return nil
	}
	b.vehicles[v.Object] = &VehicleRecord{Vehicle: *v}
	b.order = append(b.order, v.Object)
	return nil
}

// record finds the vehicle or registers a placeholder, so late registration does not
// lose data.
func (b *Backend) record(id core.ObjectID) *VehicleRecord {
	rec, ok := b.vehicles[id]
	if !ok {
		rec = &VehicleRecord{Vehicle: core.VehicleInfo{Object: id}}
		b.vehicles[id] = rec
		b.order = append(b.order, id)
	}
	return rec
}

func (b *Backend) seen(tick uint32) {
	b.lastTick = max(b.lastTick, tick)
}

func (b *Backend) RecordSnapshot(s *core.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return ErrNoSession
	}
	rec := b.record(s.Object)
	rec.Snapshots = append(rec.Snapshots, *s)
	b.seen(s.Tick)
	return nil
}

func (b *Backend) RecordReconciliation(e *core.ReconcileEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return ErrNoSession
	}
	rec := b.record(e.Object)
	rec.Reconciliations = append(rec.Reconciliations, *e)
	return nil
}

func (b *Backend) RecordTelemetry(t *core.Telemetry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return ErrNoSession
	}
	rec := b.record(t.Object)
	rec.Telemetry = append(rec.Telemetry, *t)
	b.seen(t.Tick)
	return nil
}

func (b *Backend) RecordPerformance(p *core.Performance) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return ErrNoSession
	}
	b.performance = append(b.performance, *p)
	b.seen(p.Tick)
	return nil
}

// Vehicle returns a copy of what was recorded for one object.
func (b *Backend) Vehicle(id core.ObjectID) (VehicleRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.vehicles[id]
	if !ok {
		return VehicleRecord{}, false
	}
	return *rec, true
}

// Backlog is always zero; records are stored on arrival.
func (b *Backend) Backlog() int { return 0 }
