package worker

import (
	"log/slog"
	"time"

	"github.com/OCAP2/vehiclesim/pkg/core"
	"github.com/OCAP2/vehiclesim/pkg/streaming"
)

// Sink accepts recorder envelopes. *dispatcher.Dispatcher satisfies it.
type Sink interface {
	Deliver(from core.PeerID, env streaming.Envelope) error
}

// Recorder encodes simulation records as envelopes and hands them to the recorder
// handlers. A nil *Recorder discards everything.
type Recorder struct {
	sink   Sink
	logger *slog.Logger
}

func NewRecorder(sink Sink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sink: sink, logger: logger}
}

func (r *Recorder) emit(typ string, object core.ObjectID, tick uint32, payload any) error {
	if r == nil {
		return nil
	}
	env, err := streaming.NewEnvelope(typ, object, tick, payload)
	if err != nil {
		return err
	}
	return r.sink.Deliver(core.ServerPeer, env)
}

// emitLossy is used for per-tick records; a full queue only costs a sample.
func (r *Recorder) emitLossy(typ string, object core.ObjectID, tick uint32, payload any) {
	if err := r.emit(typ, object, tick, payload); err != nil {
		r.logger.Debug("Record dropped", "type", typ, "object", object, "tick", tick, "error", err)
	}
}

func (r *Recorder) StartSession(s core.Session) error {
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}
	return r.emit(streaming.TypeStartSession, 0, 0, s)
}

// EndSession returns once the buffered records were written and the backend closed the
// session.
func (r *Recorder) EndSession() error {
	return r.emit(streaming.TypeEndSession, 0, 0, nil)
}

func (r *Recorder) AddVehicle(v core.VehicleInfo) error {
	if v.JoinedAt.IsZero() {
		v.JoinedAt = time.Now()
	}
	return r.emit(streaming.TypeAddVehicle, v.Object, v.JoinTick, v)
}

func (r *Recorder) Snapshot(s core.Snapshot) {
	r.emitLossy(streaming.TypeSnapshot, s.Object, s.Tick, s)
}

func (r *Recorder) Reconcile(e core.ReconcileEvent) {
	r.emitLossy(streaming.TypeReconcileEvent, e.Object, e.Tick, e)
}

func (r *Recorder) Telemetry(t core.Telemetry) {
	r.emitLossy(streaming.TypeTelemetry, t.Object, t.Tick, t)
}

func (r *Recorder) Performance(p core.Performance) {
	r.emitLossy(streaming.TypePerformance, 0, p.Tick, p)
}
