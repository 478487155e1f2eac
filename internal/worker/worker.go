package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/OCAP2/vehiclesim/internal/storage"
	"github.com/OCAP2/vehiclesim/pkg/core"
)

var (
	// ErrTooEarlyForStateAssociation is returned when a record arrives for a vehicle
	// that was never added to the session.
	ErrTooEarlyForStateAssociation = errors.New("too early for state association")
	ErrNoSession                   = errors.New("no session started")
)

// TelemetrySink mirrors telemetry into a time series store.
type TelemetrySink interface {
	WriteTelemetry(session string, t core.Telemetry) error
	WritePerformance(session string, p core.Performance) error
}

// Uploader receives the exported file of a finished session.
type Uploader interface {
	Upload(ctx context.Context, filePath string, meta core.UploadMetadata) error
}

// Dependencies holds all dependencies for the worker manager
type Dependencies struct {
	Logger    *slog.Logger
	Telemetry TelemetrySink // optional
	Uploader  Uploader      // optional
	// DrainTimeout bounds how long end_session waits for buffered records.
	DrainTimeout time.Duration
}

// Manager turns recorder envelopes into storage calls.
type Manager struct {
	deps    Dependencies
	backend storage.Backend

	mu       sync.RWMutex
	session  *core.Session
	vehicles map[core.ObjectID]struct{}
}

// NewManager creates a new worker manager
func NewManager(deps Dependencies, backend storage.Backend) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.DrainTimeout <= 0 {
		deps.DrainTimeout = 10 * time.Second
	}
	return &Manager{
		deps:     deps,
		backend:  backend,
		vehicles: make(map[core.ObjectID]struct{}),
	}
}

// Session returns the running session, if any.
func (m *Manager) Session() (core.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return core.Session{}, false
	}
	return *m.session, true
}

// Vehicles is the number of vehicles added to the running session.
func (m *Manager) Vehicles() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vehicles)
}

func (m *Manager) sessionName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return ""
	}
	return m.session.Name
}

func (m *Manager) known(id core.ObjectID) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return ErrNoSession
	}
	if _, ok := m.vehicles[id]; !ok {
		return ErrTooEarlyForStateAssociation
	}
	return nil
}

// GetLastWriteDuration returns the duration of the last batched write.
// Returns 0 if the backend doesn't support this metric.
func (m *Manager) GetLastWriteDuration() time.Duration {
	if p, ok := m.backend.(storage.WriteDurationProvider); ok {
		return p.GetLastWriteDuration()
	}
	return 0
}

// Backlog returns the records accepted by the backend but not yet written.
func (m *Manager) Backlog() int {
	if p, ok := m.backend.(storage.BacklogProvider); ok {
		return p.Backlog()
	}
	return 0
}
