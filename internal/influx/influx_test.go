package influx

import (
	"bufio"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/vehiclesim/internal/config"
	"github.com/OCAP2/vehiclesim/pkg/core"
)

func unreachable() config.InfluxConfig {
	return config.InfluxConfig{
		Enabled:  true,
		Protocol: "http",
		Host:     "127.0.0.1",
		Port:     "1",
		Org:      "vehiclesim",
		Bucket:   "vehicle_telemetry",
	}
}

func TestConnectDisabled(t *testing.T) {
	m := NewManager(config.InfluxConfig{}, filepath.Join(t.TempDir(), "b.gz"), zerolog.Nop())
	assert.ErrorIs(t, m.Connect(context.Background()), ErrDisabled)
	assert.Error(t, m.WriteTelemetry("s", core.Telemetry{}))
	assert.NoError(t, m.Close())
}

func TestURL(t *testing.T) {
	m := NewManager(unreachable(), "", zerolog.Nop())
	assert.Equal(t, "http://127.0.0.1:1", m.URL())
}

func TestBackupWhenUnreachable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "influx_backup.log.gz")
	m := NewManager(unreachable(), path, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Connect(ctx))

	require.NoError(t, m.WriteTelemetry("run-1", core.Telemetry{Object: 4, Tick: 120, Speed: 12.5, Gear: 3}))
	require.NoError(t, m.WritePerformance("run-1", core.Performance{Tick: 120, Vehicles: 2}))
	require.NoError(t, m.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)

	var lines []string
	sc := bufio.NewScanner(gz)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "vehicle,"))
	assert.Contains(t, lines[0], "object=4")
	assert.Contains(t, lines[0], "session=run-1")
	assert.Contains(t, lines[0], "gear=3i")
	assert.True(t, strings.HasPrefix(lines[1], "tick,"))
	assert.Contains(t, lines[1], "vehicles=2i")
}

func TestTelemetryPoint(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	p := TelemetryPoint("s", core.Telemetry{Object: 9, Role: core.RoleOwner, Time: at, Speed: 3, Lon: 13.4, Lat: 52.5})

	assert.Equal(t, "vehicle", p.Name())
	assert.Equal(t, at, p.Time())
	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, map[string]string{"session": "s", "object": "9", "role": "owner"}, tags)

	line := influxdb2_write.PointToLineProtocol(p, time.Nanosecond)
	assert.Contains(t, line, "lon=13.4")
	assert.Contains(t, line, "lat=52.5")
}

func TestPerformancePoint(t *testing.T) {
	p := PerformancePoint("s", core.Performance{Tick: 10, TickDuration: 1500 * time.Microsecond, Dropped: 4})
	line := influxdb2_write.PointToLineProtocol(p, time.Nanosecond)
	assert.Contains(t, line, "duration_ms=1.5")
	assert.Contains(t, line, "dropped=4i")
	assert.Contains(t, line, "tick=10i")
}
