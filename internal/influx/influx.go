// Package influx writes per-tick vehicle telemetry and process performance to InfluxDB.
// When the server cannot be reached, points go to a gzip line-protocol backup file
// that can be replayed into InfluxDB later.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"

	"github.com/OCAP2/vehiclesim/internal/config"
	"github.com/OCAP2/vehiclesim/pkg/core"
)

// PerformanceBucket receives the process health samples.
const PerformanceBucket = "sim_performance"

const retentionSeconds = 60 * 60 * 24 * 90

var ErrDisabled = errors.New("influx disabled")

// Manager handles InfluxDB connections and writes.
type Manager struct {
	cfg        config.InfluxConfig
	client     influxdb2.Client
	writers    map[string]influxdb2_api.WriteAPI
	backupPath string
	logger     zerolog.Logger

	mu     sync.Mutex
	backup *gzip.Writer
	file   *os.File
	valid  bool
}

// NewManager creates a manager. backupPath is the gzip file used while InfluxDB is
// unreachable.
func NewManager(cfg config.InfluxConfig, backupPath string, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:        cfg,
		writers:    make(map[string]influxdb2_api.WriteAPI),
		backupPath: backupPath,
		logger:     log,
	}
}

func (m *Manager) buckets() []string {
	return []string{m.cfg.Bucket, PerformanceBucket}
}

// URL is the server address built from the config.
func (m *Manager) URL() string {
	return fmt.Sprintf("%s://%s:%s", m.cfg.Protocol, m.cfg.Host, m.cfg.Port)
}

// Connect pings the server and prepares writers, or opens the backup file.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return ErrDisabled
	}

	m.client = influxdb2.NewClientWithOptions(m.URL(), m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(2500).
			SetFlushInterval(1000),
	)

	running, err := m.client.Ping(ctx)
	if err != nil || !running {
		m.logger.Warn().Err(err).Str("backupPath", m.backupPath).
			Msg("InfluxDB unreachable, writing to backup file")
		return m.openBackup()
	}

	if err := m.setupOrganizationAndBuckets(ctx); err != nil {
		return err
	}
	m.createWriters()
	m.mu.Lock()
	m.valid = true
	m.mu.Unlock()
	m.logger.Info().Str("url", m.URL()).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) openBackup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backup != nil {
		return nil
	}
	file, err := os.OpenFile(m.backupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	m.file = file
	m.backup = gzip.NewWriter(file)
	return nil
}

func (m *Manager) setupOrganizationAndBuckets(ctx context.Context) error {
	orgs := m.client.OrganizationsAPI()
	org, err := orgs.FindOrganizationByName(ctx, m.cfg.Org)
	if err != nil {
		m.logger.Info().Str("org", m.cfg.Org).Msg("Organization not found, creating")
		if org, err = orgs.CreateOrganizationWithName(ctx, m.cfg.Org); err != nil {
			return fmt.Errorf("create organization %s: %w", m.cfg.Org, err)
		}
	}

	for _, bucket := range m.buckets() {
		if _, err := m.client.BucketsAPI().FindBucketByName(ctx, bucket); err == nil {
			continue
		}
		m.logger.Info().Str("bucket", bucket).Msg("Bucket not found, creating")
		rule := domain.RetentionRuleTypeExpire
		_, err := m.client.BucketsAPI().CreateBucketWithName(ctx, org, bucket, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: retentionSeconds,
		})
		if err != nil {
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return nil
}

func (m *Manager) createWriters() {
	for _, bucket := range m.buckets() {
		w := m.client.WriteAPI(m.cfg.Org, bucket)
		m.writers[bucket] = w
		go func(bucket string, errs <-chan error) {
			for err := range errs {
				m.logger.Error().Err(err).Str("bucket", bucket).Msg("Error sending data to InfluxDB")
			}
		}(bucket, w.Errors())
	}
	m.logger.Debug().Msg("InfluxDB writers initialized")
}

// WritePoint sends point to bucket, or to the backup file.
func (m *Manager) WritePoint(bucket string, point *influxdb2_write.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.valid {
		w, ok := m.writers[bucket]
		if !ok {
			return fmt.Errorf("influxDB bucket '%s' not registered", bucket)
		}
		w.WritePoint(point)
		return nil
	}

	if m.backup == nil {
		return errors.New("influxDB client not initialized and backup writer not available")
	}
	line := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := m.backup.Write([]byte(line)); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// WriteTelemetry writes one vehicle sample to the telemetry bucket.
func (m *Manager) WriteTelemetry(session string, t core.Telemetry) error {
	return m.WritePoint(m.cfg.Bucket, TelemetryPoint(session, t))
}

// WritePerformance writes one process sample.
func (m *Manager) WritePerformance(session string, p core.Performance) error {
	return m.WritePoint(PerformanceBucket, PerformancePoint(session, p))
}

// Close flushes the writers and finishes the backup stream.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.writers {
		w.Flush()
	}
	if m.client != nil {
		m.client.Close()
	}

	var err error
	if m.backup != nil {
		err = errors.Join(m.backup.Close(), m.file.Close())
		m.backup, m.file = nil, nil
	}
	return err
}

// TelemetryPoint builds the "vehicle" measurement of one sample.
func TelemetryPoint(session string, t core.Telemetry) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement("vehicle").
		AddTag("session", session).
		AddTag("object", strconv.FormatUint(uint64(t.Object), 10)).
		AddTag("role", t.Role.String()).
		AddField("tick", int64(t.Tick)).
		AddField("speed", t.Speed).
		AddField("rpm", t.EngineRPM).
		AddField("gear", t.Gear).
		AddField("grounded_wheels", t.GroundedWheels).
		AddField("burnout", t.Burnout).
		AddField("up_dot", t.UpDot).
		AddField("crashing", t.Crashing).
		AddField("boosting", t.Boosting).
		AddField("lon", t.Lon).
		AddField("lat", t.Lat).
		AddField("elevation", t.Position[1])
	if !t.Time.IsZero() {
		p.SetTime(t.Time)
	}
	return p
}

// PerformancePoint builds the "tick" measurement of one process sample.
func PerformancePoint(session string, perf core.Performance) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement("tick").
		AddTag("session", session).
		AddField("tick", int64(perf.Tick)).
		AddField("duration_ms", float64(perf.TickDuration)/float64(time.Millisecond)).
		AddField("vehicles", perf.Vehicles).
		AddField("peers", perf.Peers).
		AddField("inbox_depth", perf.InboxDepth).
		AddField("recorder_backlog", perf.RecorderBacklog).
		AddField("reconciliations", perf.Reconciliations).
		AddField("dropped", perf.Dropped)
	if !perf.Time.IsZero() {
		p.SetTime(perf.Time)
	}
	return p
}
