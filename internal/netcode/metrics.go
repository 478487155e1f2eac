package netcode

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/OCAP2/vehiclesim/internal/netcode"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// Metrics counts clock and reconciliation activity. The totals are also kept locally so
// the monitor can report them without an exporter.
type Metrics struct {
	ticks           metric.Int64Counter
	reconciliations metric.Int64Counter
	replays         metric.Int64Counter
	rejections      metric.Int64Counter
	correction      metric.Float64Histogram
	duration        metric.Float64Histogram

	reconcileTotal atomic.Int64
	rejectTotal    atomic.Int64
	lastDuration   atomic.Int64
}

func newMetrics(logger *slog.Logger) *Metrics {
	m, err := NewMetrics(meter())
	if err != nil {
		logger.Warn("Netcode metrics disabled", "error", err)
		m, _ = NewMetrics(noop.Meter{})
	}
	return m
}

// NewMetrics creates the netcode instruments on m.
func NewMetrics(m metric.Meter) (*Metrics, error) {
	var (
		out Metrics
		err error
	)
	if out.ticks, err = m.Int64Counter("netcode.ticks",
		metric.WithDescription("Simulated ticks")); err != nil {
		return nil, err
	}
	if out.reconciliations, err = m.Int64Counter("netcode.reconciliations",
		metric.WithDescription("Applied reconciliations")); err != nil {
		return nil, err
	}
	if out.replays, err = m.Int64Counter("netcode.replays",
		metric.WithDescription("Ticks replayed after reconciliation")); err != nil {
		return nil, err
	}
	if out.rejections, err = m.Int64Counter("netcode.reconciliations.rejected",
		metric.WithDescription("Reconciliations dropped as stale or malformed")); err != nil {
		return nil, err
	}
	if out.correction, err = m.Float64Histogram("netcode.correction.distance",
		metric.WithDescription("Distance between predicted and corrected position"),
		metric.WithUnit("m")); err != nil {
		return nil, err
	}
	if out.duration, err = m.Float64Histogram("netcode.tick.duration",
		metric.WithDescription("Wall time of one tick"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *Metrics) tick() {
	m.ticks.Add(context.Background(), 1)
}

func (m *Metrics) tickDuration(d time.Duration) {
	m.lastDuration.Store(int64(d))
	m.duration.Record(context.Background(), float64(d.Microseconds())/1000)
}

func (m *Metrics) reconciled(replayed int) {
	m.reconcileTotal.Add(1)
	m.reconciliations.Add(context.Background(), 1)
	m.replays.Add(context.Background(), int64(replayed))
}

func (m *Metrics) rejected() {
	m.rejectTotal.Add(1)
	m.rejections.Add(context.Background(), 1)
}

func (m *Metrics) corrected(role string, distance float64) {
	m.correction.Record(context.Background(), distance,
		metric.WithAttributes(attribute.String("role", role)))
}

// Reconciliations returns how many reconciliations were applied.
func (m *Metrics) Reconciliations() int64 { return m.reconcileTotal.Load() }

// Rejected returns how many reconciliations were dropped.
func (m *Metrics) Rejected() int64 { return m.rejectTotal.Load() }

// LastTickDuration is the wall time of the most recent tick.
func (m *Metrics) LastTickDuration() time.Duration { return time.Duration(m.lastDuration.Load()) }
