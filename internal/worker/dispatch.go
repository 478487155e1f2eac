package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/OCAP2/vehiclesim/internal/dispatcher"
	"github.com/OCAP2/vehiclesim/internal/storage"
	"github.com/OCAP2/vehiclesim/pkg/core"
	"github.com/OCAP2/vehiclesim/pkg/streaming"
)

// RegisterHandlers registers the recorder handlers with the dispatcher.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	// Session boundaries and vehicle registration - sync, records depend on them
	d.Register(streaming.TypeStartSession, m.handleStartSession, dispatcher.Logged())
	d.Register(streaming.TypeEndSession, func(e dispatcher.Event) error {
		ctx, cancel := context.WithTimeout(context.Background(), m.deps.DrainTimeout)
		defer cancel()
		if err := d.Drain(ctx); err != nil {
			m.deps.Logger.Warn("Ending session with records still queued", "error", err, "pending", d.Pending())
		}
		return m.handleEndSession(e)
	}, dispatcher.Logged())
	d.Register(streaming.TypeAddVehicle, m.handleAddVehicle, dispatcher.Logged())

	// High-volume per-tick records - buffered
	d.Register(streaming.TypeSnapshot, m.handleSnapshot, dispatcher.Buffered(10000), dispatcher.Logged())
	d.Register(streaming.TypeTelemetry, m.handleTelemetry, dispatcher.Buffered(10000), dispatcher.Logged())

	d.Register(streaming.TypeReconcileEvent, m.handleReconcileEvent, dispatcher.Buffered(1000), dispatcher.Logged())
	d.Register(streaming.TypePerformance, m.handlePerformance, dispatcher.Buffered(100), dispatcher.Logged())
}

func (m *Manager) handleStartSession(e dispatcher.Event) error {
	var s core.Session
	if err := e.Envelope.Decode(&s); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	if err := m.backend.StartSession(&s); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	m.mu.Lock()
	m.session = &s
	m.vehicles = make(map[core.ObjectID]struct{})
	m.mu.Unlock()

	m.deps.Logger.Info("Session started", "id", s.ID, "name", s.Name, "tickRate", s.TickRate)
	return nil
}

func (m *Manager) handleEndSession(dispatcher.Event) error {
	m.mu.Lock()
	s := m.session
	m.session = nil
	m.mu.Unlock()
	if s == nil {
		return ErrNoSession
	}

	if err := m.backend.EndSession(); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	m.deps.Logger.Info("Session ended", "id", s.ID, "name", s.Name)

	m.upload()
	return nil
}

// uploadTimeout covers every retry of one upload.
const uploadTimeout = 2 * time.Minute

func (m *Manager) upload() {
	up, ok := m.backend.(storage.Uploadable)
	if !ok || m.deps.Uploader == nil {
		return
	}
	path := up.GetExportedFilePath()
	if path == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()
	if err := m.deps.Uploader.Upload(ctx, path, up.GetExportMetadata()); err != nil {
		m.deps.Logger.Error("Failed to upload session", "path", path, "error", err)
		return
	}
	m.deps.Logger.Info("Session uploaded", "path", path)
}

func (m *Manager) handleAddVehicle(e dispatcher.Event) error {
	m.mu.RLock()
	started := m.session != nil
	m.mu.RUnlock()
	if !started {
		return ErrNoSession
	}

	var v core.VehicleInfo
	if err := e.Envelope.Decode(&v); err != nil {
		return fmt.Errorf("failed to add vehicle: %w", err)
	}
	if err := m.backend.AddVehicle(&v); err != nil {
		return fmt.Errorf("failed to add vehicle: %w", err)
	}

	m.mu.Lock()
	m.vehicles[v.Object] = struct{}{}
	m.mu.Unlock()
	return nil
}

func (m *Manager) handleSnapshot(e dispatcher.Event) error {
	var s core.Snapshot
	if err := e.Envelope.Decode(&s); err != nil {
		return fmt.Errorf("failed to log snapshot: %w", err)
	}
	if err := m.known(s.Object); err != nil {
		return err
	}
	return m.backend.RecordSnapshot(&s)
}

func (m *Manager) handleReconcileEvent(e dispatcher.Event) error {
	var r core.ReconcileEvent
	if err := e.Envelope.Decode(&r); err != nil {
		return fmt.Errorf("failed to log reconcile event: %w", err)
	}
	if err := m.known(r.Object); err != nil {
		return err
	}
	return m.backend.RecordReconciliation(&r)
}

func (m *Manager) handleTelemetry(e dispatcher.Event) error {
	var t core.Telemetry
	if err := e.Envelope.Decode(&t); err != nil {
		return fmt.Errorf("failed to log telemetry: %w", err)
	}
	if err := m.known(t.Object); err != nil {
		return err
	}
	if m.deps.Telemetry != nil {
		if err := m.deps.Telemetry.WriteTelemetry(m.sessionName(), t); err != nil {
			m.deps.Logger.Debug("Telemetry sink write failed", "error", err)
		}
	}
	return m.backend.RecordTelemetry(&t)
}

func (m *Manager) handlePerformance(e dispatcher.Event) error {
	var p core.Performance
	if err := e.Envelope.Decode(&p); err != nil {
		return fmt.Errorf("failed to log performance: %w", err)
	}
	if m.deps.Telemetry != nil {
		if err := m.deps.Telemetry.WritePerformance(m.sessionName(), p); err != nil {
			m.deps.Logger.Debug("Telemetry sink write failed", "error", err)
		}
	}
	m.mu.RLock()
	started := m.session != nil
	m.mu.RUnlock()
	if !started {
		return ErrNoSession
	}
	return m.backend.RecordPerformance(&p)
}
