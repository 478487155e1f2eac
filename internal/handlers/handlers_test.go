package handlers

import (
	"sync"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/vehiclesim/internal/config"
	"github.com/OCAP2/vehiclesim/internal/netcode"
	"github.com/OCAP2/vehiclesim/internal/sim"
	"github.com/OCAP2/vehiclesim/internal/worker"
	"github.com/OCAP2/vehiclesim/pkg/core"
	"github.com/OCAP2/vehiclesim/pkg/streaming"
)

type captureSink struct {
	mu   sync.Mutex
	envs []streaming.Envelope
}

func (c *captureSink) Deliver(_ core.PeerID, env streaming.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, env)
	return nil
}

func (c *captureSink) count(typ string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.envs {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func newClock(t *testing.T) *netcode.TimeManager {
	t.Helper()
	ctx := sim.New(0.02, mgl64.Vec3{0, -9.81, 0})
	_, err := BuildScene(ctx, config.SceneConfig{})
	require.NoError(t, err)
	return netcode.NewTimeManager(ctx, nil)
}

type session struct {
	hub      *netcode.Loopback
	serverTM *netcode.TimeManager
	server   *Service
	sink     *captureSink
	forgot   []core.ObjectID
}

func newSession(t *testing.T) *session {
	t.Helper()
	s := &session{hub: netcode.NewLoopback(), serverTM: newClock(t), sink: &captureSink{}}
	s.hub.OnError = func(to core.PeerID, env streaming.Envelope, err error) {
		t.Logf("delivery to %d of %s failed: %v", to, env.Type, err)
	}
	s.server = NewServer(Dependencies{
		Time:     s.serverTM,
		Recorder: worker.NewRecorder(s.sink, nil),
		Forget:   func(id core.ObjectID) { s.forgot = append(s.forgot, id) },
	}, s.hub.Outbox(core.ServerPeer))
	s.hub.Attach(core.ServerPeer, s.server)
	t.Cleanup(s.server.Close)
	return s
}

func (s *session) join(t *testing.T, peer core.PeerID, role core.Role, input netcode.InputFunc) (*Service, *netcode.TimeManager) {
	t.Helper()
	tm := newClock(t)
	c := NewClient(Dependencies{Time: tm, Input: input}, s.hub.Outbox(peer))
	s.hub.Attach(peer, c)
	t.Cleanup(c.Close)

	hello, err := c.Hello("peer", role)
	require.NoError(t, err)
	s.hub.Outbox(peer).SendReliable(core.ServerPeer, hello)
	s.serverTM.Step()
	tm.Step()
	return c, tm
}

func TestHelloSpawnsOwnedVehicle(t *testing.T) {
	s := newSession(t)
	client, clientTM := s.join(t, 1, core.RoleOwner, nil)

	assert.Equal(t, 1, s.server.Vehicles())
	assert.Equal(t, 1, s.server.Peers())
	assert.Equal(t, core.PeerID(1), client.Peer())
	assert.Equal(t, 1, client.Peers())

	entries := client.deps.Registry.Vehicles()
	require.Len(t, entries, 1)
	assert.Equal(t, core.RoleOwner, entries[0].Predicted.Role)
	assert.Equal(t, core.PeerID(1), entries[0].Info.Owner)
	assert.Equal(t, uint32(1+DefaultInputLead), clientTM.LocalTick, "client runs ahead of the welcome tick")
	assert.Equal(t, 1, s.sink.count(streaming.TypeAddVehicle))
}

func TestObserverMirrorsExistingVehicles(t *testing.T) {
	s := newSession(t)
	s.join(t, 1, core.RoleOwner, nil)
	observer, _ := s.join(t, 2, core.RoleObserver, nil)

	assert.Equal(t, 1, s.server.Vehicles(), "observers do not get a vehicle")
	assert.Equal(t, 2, s.server.Peers())

	entries := observer.deps.Registry.Vehicles()
	require.Len(t, entries, 1)
	assert.Equal(t, core.RoleObserver, entries[0].Predicted.Role)
}

func TestByeDespawnsEverywhere(t *testing.T) {
	s := newSession(t)
	s.join(t, 1, core.RoleOwner, nil)
	observer, observerTM := s.join(t, 2, core.RoleObserver, nil)
	require.Equal(t, 1, observer.Vehicles())

	bye, err := streaming.NewEnvelope(streaming.TypeBye, 0, 0, streaming.ByePayload{Reason: "quit"})
	require.NoError(t, err)
	require.NoError(t, s.server.Deliver(1, bye))
	s.serverTM.Step()
	observerTM.Step()

	assert.Zero(t, s.server.Vehicles())
	assert.Equal(t, 1, s.server.Peers())
	assert.Zero(t, observer.Vehicles())
	assert.Equal(t, []core.ObjectID{1}, s.forgot)

	s.server.PeerLeft(1)
	s.serverTM.Step()
	assert.Equal(t, []core.ObjectID{1}, s.forgot, "leaving twice is a no-op")
}

func TestMessagesCheckedAgainstRole(t *testing.T) {
	s := newSession(t)
	client := NewClient(Dependencies{Time: newClock(t)}, s.hub.Outbox(9))

	hello, err := client.Hello("x", core.RoleOwner)
	require.NoError(t, err)
	assert.ErrorIs(t, client.Deliver(core.ServerPeer, hello), ErrWrongRole)

	welcome, err := streaming.NewEnvelope(streaming.TypeWelcome, 0, 0, streaming.WelcomePayload{Peer: 3})
	require.NoError(t, err)
	assert.ErrorIs(t, s.server.Deliver(3, welcome), ErrWrongRole)

	unknown := streaming.Envelope{Type: "teleport"}
	assert.ErrorIs(t, s.server.Deliver(3, unknown), netcode.ErrUnexpectedMessage)
}

func TestOwnerInputReachesServer(t *testing.T) {
	s := newSession(t)
	input := core.MoveData{Accel: 1, Steer: 0.25}
	client, clientTM := s.join(t, 1, core.RoleOwner, func(uint32) core.MoveData { return input })

	for range 40 {
		s.serverTM.Step()
		clientTM.Step()
	}

	entries := s.server.deps.Registry.Vehicles()
	require.Len(t, entries, 1)
	assert.Equal(t, input, entries[0].Predicted.LastMove())
	assert.Zero(t, entries[0].Predicted.LateMoves())
	assert.Equal(t, core.PeerID(1), client.Peer())

	assert.Positive(t, s.sink.count(streaming.TypeSnapshot))
	assert.Positive(t, s.sink.count(streaming.TypeTelemetry))
	assert.Greater(t, clientTM.LocalTick, s.serverTM.LocalTick)
}

func TestSpawnBot(t *testing.T) {
	s := newSession(t)
	s.server.SpawnBot("hover", func(uint32) core.MoveData { return core.MoveData{Accel: 1} })
	s.serverTM.Step()

	entries := s.server.deps.Registry.Vehicles()
	require.Len(t, entries, 1)
	assert.Equal(t, core.ServerPeer, entries[0].Info.Owner)
	assert.True(t, entries[0].Info.Hover)
	assert.Equal(t, core.RoleServer, entries[0].Predicted.Role)
}

func TestSpawnUnknownPresetIsLogged(t *testing.T) {
	s := newSession(t)
	s.server.SpawnBot("tank", nil)
	s.serverTM.Step()
	assert.Zero(t, s.server.Vehicles())
}

func TestTickFollowsClock(t *testing.T) {
	s := newSession(t)
	for range 3 {
		s.serverTM.Step()
	}
	assert.Equal(t, uint32(3), s.server.Tick())
}
