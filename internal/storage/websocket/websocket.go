// Package websocket streams recordings to a remote recorder (`vehiclesim record`).
// Session boundaries wait for the recorder's ack; everything else is fire-and-forget.
package websocket

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/OCAP2/vehiclesim/internal/transport"
	"github.com/OCAP2/vehiclesim/pkg/core"
	"github.com/OCAP2/vehiclesim/pkg/streaming"
)

// Config holds WebSocket backend configuration.
type Config struct {
	URL    string
	Secret string
}

// Backend implements storage.Backend but not storage.Uploadable; the recorder owns the
// files.
type Backend struct {
	client    *transport.Client
	cfg       Config
	sessionID atomic.Uint64
	vehicleID atomic.Uint64

	mu      sync.Mutex
	started bool
}

func New(cfg Config, logger *slog.Logger) *Backend {
	return &Backend{
		client: transport.NewClient(transport.ClientConfig{URL: cfg.URL, Secret: cfg.Secret}, nil, logger),
		cfg:    cfg,
	}
}

// Init connects to the recorder.
func (b *Backend) Init() error {
	return b.client.Dial()
}

func (b *Backend) Close() error {
	return b.client.Close()
}

func (b *Backend) send(typ string, object core.ObjectID, tick uint32, payload any) error {
	env, err := streaming.NewEnvelope(typ, object, tick, payload)
	if err != nil {
		return err
	}
	return b.client.Send(env)
}

// StartSession waits for the recorder to accept the session. The start message is
// replayed after a reconnect so the recorder keeps appending to the same session.
func (b *Backend) StartSession(s *core.Session) error {
	s.ID = uint(b.sessionID.Add(1))
	env, err := streaming.NewEnvelope(streaming.TypeStartSession, 0, 0, s)
	if err != nil {
		return err
	}
	if err := b.client.SendAndWait(env, true); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	b.mu.Lock()
	b.started = true
	b.mu.Unlock()
	return nil
}

// EndSession waits for the recorder ack and stops replaying the start message.
func (b *Backend) EndSession() error {
	env, err := streaming.NewEnvelope(streaming.TypeEndSession, 0, 0, nil)
	if err != nil {
		return err
	}
	err = b.client.SendAndWait(env, false)

	b.client.ClearHandshake()
	b.mu.Lock()
	b.started = false
	b.mu.Unlock()
	b.vehicleID.Store(0)
	return err
}

// AddVehicle assigns a local id and sends the vehicle.
func (b *Backend) AddVehicle(v *core.VehicleInfo) error {
	v.ID = uint(b.vehicleID.Add(1))
	v.SessionID = uint(b.sessionID.Load())
	return b.send(streaming.TypeAddVehicle, v.Object, v.JoinTick, v)
}

func (b *Backend) RecordSnapshot(s *core.Snapshot) error {
	return b.send(streaming.TypeSnapshot, s.Object, s.Tick, s)
}

func (b *Backend) RecordReconciliation(e *core.ReconcileEvent) error {
	return b.send(streaming.TypeReconcileEvent, e.Object, e.Tick, e)
}

func (b *Backend) RecordTelemetry(t *core.Telemetry) error {
	return b.send(streaming.TypeTelemetry, t.Object, t.Tick, t)
}

func (b *Backend) RecordPerformance(p *core.Performance) error {
	return b.send(streaming.TypePerformance, 0, p.Tick, p)
}

// Backlog is not known locally; dropped sends are reported by Dropped.
func (b *Backend) Backlog() int { return 0 }

// Dropped counts records lost to a full send buffer.
func (b *Backend) Dropped() int64 { return b.client.Dropped() }
