package websocket

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/vehiclesim/internal/storage"
	"github.com/OCAP2/vehiclesim/internal/transport"
	"github.com/OCAP2/vehiclesim/pkg/core"
	"github.com/OCAP2/vehiclesim/pkg/streaming"
)

// Compile-time interface check.
var _ storage.Backend = (*Backend)(nil)

type messageLog struct {
	mu       sync.Mutex
	messages []streaming.Envelope
}

func (m *messageLog) Deliver(_ core.PeerID, env streaming.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, env)
	return nil
}

func (m *messageLog) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.messages))
	for i, env := range m.messages {
		out[i] = env.Type
	}
	return out
}

func (m *messageLog) find(typ string) (streaming.Envelope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, env := range m.messages {
		if env.Type == typ {
			return env, true
		}
	}
	return streaming.Envelope{}, false
}

// testServer runs a recorder hub that acks every sequenced envelope.
func testServer(t *testing.T, secret string) (*httptest.Server, *messageLog) {
	t.Helper()
	ml := &messageLog{}
	hub := transport.NewServer(transport.ServerConfig{Secret: secret}, ml, nil)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return srv, ml
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStartAndEndSession(t *testing.T) {
	srv, ml := testServer(t, "")
	b := New(Config{URL: wsURL(srv)}, nil)
	require.NoError(t, b.Init())
	defer b.Close()

	s := &core.Session{Name: "remote", TickRate: 50}
	require.NoError(t, b.StartSession(s))
	assert.Equal(t, uint(1), s.ID)
	require.NoError(t, b.EndSession())

	assert.Equal(t, []string{streaming.TypeStartSession, streaming.TypeEndSession}, ml.types())

	env, ok := ml.find(streaming.TypeStartSession)
	require.True(t, ok)
	var got core.Session
	require.NoError(t, env.Decode(&got))
	assert.Equal(t, "remote", got.Name)
	assert.Equal(t, 50.0, got.TickRate)
}

func TestFireAndForgetRecords(t *testing.T) {
	srv, ml := testServer(t, "key")
	b := New(Config{URL: wsURL(srv), Secret: "key"}, nil)
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.StartSession(&core.Session{Name: "stream"}))
	v := &core.VehicleInfo{Object: 5, Preset: "car", JoinTick: 12}
	require.NoError(t, b.AddVehicle(v))
	assert.Equal(t, uint(1), v.ID)
	require.NoError(t, b.RecordSnapshot(&core.Snapshot{Object: 5, Tick: 20, Gear: 3}))
	require.NoError(t, b.RecordReconciliation(&core.ReconcileEvent{Object: 5, Tick: 20}))
	require.NoError(t, b.RecordTelemetry(&core.Telemetry{Object: 5, Tick: 21}))
	require.NoError(t, b.RecordPerformance(&core.Performance{Tick: 21}))

	require.Eventually(t, func() bool { return len(ml.types()) == 6 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{
		streaming.TypeStartSession,
		streaming.TypeAddVehicle,
		streaming.TypeSnapshot,
		streaming.TypeReconcileEvent,
		streaming.TypeTelemetry,
		streaming.TypePerformance,
	}, ml.types())

	env, ok := ml.find(streaming.TypeSnapshot)
	require.True(t, ok)
	assert.Equal(t, core.ObjectID(5), env.Object)
	assert.Equal(t, uint32(20), env.Tick)
	var snap core.Snapshot
	require.NoError(t, env.Decode(&snap))
	assert.Equal(t, 3, snap.Gear)
	assert.Zero(t, b.Dropped())
	assert.Zero(t, b.Backlog())
}

func TestInitFailsWithoutServer(t *testing.T) {
	b := New(Config{URL: "ws://127.0.0.1:1/ingest"}, nil)
	assert.Error(t, b.Init())
}
