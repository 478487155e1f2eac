package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/OCAP2/vehiclesim/internal/geo"
	"github.com/OCAP2/vehiclesim/internal/vmath"
	"github.com/OCAP2/vehiclesim/pkg/core"
)

// ExportVersion is bumped whenever the layout of SessionExport changes.
const ExportVersion = 1

// SessionExport is the root of the exported file.
type SessionExport struct {
	Version     int             `json:"version"`
	Name        string          `json:"name"`
	Tag         string          `json:"tag"`
	Host        string          `json:"host"`
	StartTime   time.Time       `json:"startTime"`
	TickRate    float64         `json:"tickRate"`
	TickStep    uint32          `json:"reconcileTickStep"`
	EndTick     uint32          `json:"endTick"`
	Origin      [2]float64      `json:"origin"` // lon, lat
	Vehicles    []VehicleExport `json:"vehicles"`
	Performance [][]any         `json:"performance"` // [tick, tickMs, vehicles, peers, reconciliations, dropped]
}

// VehicleExport is one vehicle with its track.
type VehicleExport struct {
	Object    uint32  `json:"object"`
	Owner     uint32  `json:"owner"`
	Preset    string  `json:"preset"`
	Hover     bool    `json:"hover"`
	JoinTick  uint32  `json:"joinTick"`
	Distance  float64 `json:"distance"`  // metres along the snapshot track
	Track     [][]any `json:"track"`     // [tick, x, y, z, yaw, speed, gear, rpm]
	Telemetry [][]any `json:"telemetry"` // [tick, lon, lat, speed, groundedWheels, burnout]
	Reconcile [][]any `json:"reconcile"` // [tick, localTick, correction, replayed, rejected]
}

func (b *Backend) buildExport() SessionExport {
	s := b.session
	out := SessionExport{
		Version:     ExportVersion,
		Name:        s.Name,
		Tag:         s.Tag,
		Host:        s.Host,
		StartTime:   s.StartedAt,
		TickRate:    s.TickRate,
		TickStep:    s.TickStep,
		EndTick:     b.lastTick,
		Origin:      [2]float64{s.OriginLon, s.OriginLat},
		Vehicles:    make([]VehicleExport, 0, len(b.order)),
		Performance: make([][]any, 0, len(b.performance)),
	}

	for _, id := range b.order {
		rec := b.vehicles[id]
		v := VehicleExport{
			Object:    uint32(rec.Vehicle.Object),
			Owner:     uint32(rec.Vehicle.Owner),
			Preset:    rec.Vehicle.Preset,
			Hover:     rec.Vehicle.Hover,
			JoinTick:  rec.Vehicle.JoinTick,
			Track:     make([][]any, 0, len(rec.Snapshots)),
			Telemetry: make([][]any, 0, len(rec.Telemetry)),
			Reconcile: make([][]any, 0, len(rec.Reconciliations)),
		}
		path := make([]mgl64.Vec3, 0, len(rec.Snapshots))
		for _, snap := range rec.Snapshots {
			p := snap.Body.Position
			path = append(path, p)
			yaw := vmath.Yaw(snap.Body.Rotation)
			v.Track = append(v.Track, []any{snap.Tick, p[0], p[1], p[2], yaw, snap.Body.Velocity.Len(), snap.Gear, snap.EngineRPM})
		}
		v.Distance = geo.Distance(path)
		for _, t := range rec.Telemetry {
			v.Telemetry = append(v.Telemetry, []any{t.Tick, t.Lon, t.Lat, t.Speed, t.GroundedWheels, t.Burnout})
		}
		for _, e := range rec.Reconciliations {
			v.Reconcile = append(v.Reconcile, []any{e.Tick, e.LocalTick, e.Correction, e.ReplayedTicks, e.Rejected})
		}
		out.Vehicles = append(out.Vehicles, v)
	}

	for _, p := range b.performance {
		ms := float64(p.TickDuration) / float64(time.Millisecond)
		out.Performance = append(out.Performance, []any{p.Tick, ms, p.Vehicles, p.Peers, p.Reconciliations, p.Dropped})
	}
	return out
}

func exportFileName(s *core.Session, compress bool) string {
	name := strings.NewReplacer(" ", "_", ":", "_", "/", "_").Replace(s.Name)
	if name == "" {
		name = "session"
	}
	ext := ".json"
	if compress {
		ext = ".json.gz"
	}
	return fmt.Sprintf("%s_%s%s", name, s.StartedAt.Format("20060102_150405"), ext)
}

// exportJSON writes the session to the output directory. The caller holds the lock.
func (b *Backend) exportJSON() error {
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(b.cfg.OutputDir, exportFileName(b.session, b.cfg.CompressOutput))

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	export := b.buildExport()
	if b.cfg.CompressOutput {
		gz := gzip.NewWriter(f)
		if err := json.NewEncoder(gz).Encode(export); err != nil {
			return fmt.Errorf("failed to encode export: %w", err)
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("failed to finish gzip stream: %w", err)
		}
	} else if err := json.NewEncoder(f).Encode(export); err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}

	b.lastExportPath = path
	return nil
}

// GetExportedFilePath returns the file written by the last EndSession.
func (b *Backend) GetExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}

// GetExportMetadata describes the exported session for upload.
func (b *Backend) GetExportMetadata() core.UploadMetadata {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.session == nil {
		return core.UploadMetadata{}
	}
	duration := 0.0
	if b.session.TickRate > 0 {
		duration = float64(b.lastTick) / b.session.TickRate
	}
	return core.UploadMetadata{
		SessionName: b.session.Name,
		Tag:         b.session.Tag,
		Duration:    duration,
		Vehicles:    len(b.order),
		TickRate:    b.session.TickRate,
		Ticks:       b.lastTick,
		SchemaVer:   b.session.SchemaVer,
	}
}
