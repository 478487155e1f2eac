package netcode

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/vehiclesim/internal/physics"
	"github.com/OCAP2/vehiclesim/internal/sim"
	"github.com/OCAP2/vehiclesim/internal/vehicle"
	"github.com/OCAP2/vehiclesim/internal/vmath"
	"github.com/OCAP2/vehiclesim/pkg/core"
	"github.com/OCAP2/vehiclesim/pkg/streaming"
)

var gravity = mgl64.Vec3{0, -9.81, 0}

func groundScene() *sim.Context {
	ctx := sim.New(0.02, gravity)
	ctx.World.AddCollider(&physics.Collider{Shape: physics.ShapePlane, Local: vmath.Identity(), Layer: sim.LayerGround})
	return ctx
}

func buildCar(t *testing.T, ctx *sim.Context, y float64) *vehicle.Vehicle {
	t.Helper()
	v, err := vehicle.Build(vehicle.DefaultCar(), ctx, 1,
		vehicle.WithSpawn(vmath.Pose{Position: mgl64.Vec3{0, y, 0}, Rotation: mgl64.QuatIdent()}))
	require.NoError(t, err)
	return v
}

// floatingCar is a car in zero gravity moving with the given state, so its motion is
// easy to predict.
func floatingCar(t *testing.T, s core.RigidbodyState) (*sim.Context, *vehicle.Vehicle) {
	t.Helper()
	ctx := sim.New(0.02, mgl64.Vec3{})
	v := buildCar(t, ctx, 0)
	v.Body.SetState(s)
	return ctx, v
}

func moving(x float64) core.RigidbodyState {
	return core.RigidbodyState{
		Position: mgl64.Vec3{x, 0, 0},
		Rotation: mgl64.QuatIdent(),
		Velocity: mgl64.Vec3{5, 0, 0},
	}
}

func reconcileEnvelope(t *testing.T, tick uint32, state []byte) streaming.Envelope {
	t.Helper()
	env, err := streaming.NewEnvelope(streaming.TypeReconcile, 1, tick,
		streaming.ReconcilePayload{Data: EncodeReconcile(tick, state)})
	require.NoError(t, err)
	return env
}

func stateEnvelope(t *testing.T, tick uint32, md core.MoveData, state []byte) streaming.Envelope {
	t.Helper()
	env, err := streaming.NewEnvelope(streaming.TypeVehicleState, 1, tick,
		streaming.VehicleStatePayload{Tick: tick, Move: md, State: state})
	require.NoError(t, err)
	return env
}

func TestReconcileConvergesAtAuthoritativeTick(t *testing.T) {
	_, server := floatingCar(t, moving(0))
	authoritative := server.FullState()

	ctx, client := floatingCar(t, moving(0.3))
	tm := NewTimeManager(ctx, nil)
	tm.SetTick(100)
	pv := NewPredictedVehicle(tm, client, 1, 2, core.RoleOwner, nil)

	var atTick mgl64.Vec3
	tm.OnPostReconcile(func(uint32) { atTick = client.Body.Position })

	require.NoError(t, pv.Receive(core.ServerPeer, reconcileEnvelope(t, 100, authoritative)))
	tm.Step()

	assert.InDelta(t, 0, atTick[0], 1e-6)
	assert.InDelta(t, 0, atTick[1], 1e-6)
	assert.Equal(t, uint32(101), tm.LocalTick)
}

func TestReplayRederivesFromCorrectedState(t *testing.T) {
	_, server := floatingCar(t, moving(0))
	authoritative := server.FullState()

	ctx, client := floatingCar(t, moving(0.3))
	tm := NewTimeManager(ctx, nil)
	tm.SetTick(100)
	pv := NewPredictedVehicle(tm, client, 1, 2, core.RoleOwner, nil)
	for i := 0; i < 5; i++ {
		tm.Step()
	}
	require.Equal(t, uint32(105), tm.LocalTick)

	var replayed []uint32
	tm.OnReplay(func(tick uint32) { replayed = append(replayed, tick) })
	var afterReplay mgl64.Vec3
	tm.OnPostReconcile(func(uint32) { afterReplay = client.Body.Position })

	require.NoError(t, pv.Receive(core.ServerPeer, reconcileEnvelope(t, 100, authoritative)))
	tm.Step()

	refCtx, ref := floatingCar(t, moving(5))
	require.NoError(t, ref.SetFullState(authoritative))
	for i := 0; i < 5; i++ {
		ref.SimulateWithMove(refCtx, core.MoveData{})
		refCtx.World.Step(refCtx.TickDelta)
	}

	assert.Equal(t, []uint32{100, 101, 102, 103, 104}, replayed)
	assert.InDelta(t, ref.Body.Position[0], afterReplay[0], 1e-3)
	assert.Greater(t, ref.Body.Position[0], 0.4, "reference moved at 5 m/s")
}

func TestOwnerVisualLagsOneTick(t *testing.T) {
	ctx, car := floatingCar(t, moving(0))
	tm := NewTimeManager(ctx, nil)
	pv := NewPredictedVehicle(tm, car, 1, 2, core.RoleOwner, nil)

	before := car.Body.Position
	tm.Step()
	require.Greater(t, car.Body.Position[0], before[0])

	drawn := pv.VisualPose().Position
	assert.InDelta(t, before[0], drawn[0], 1e-9)

	pv.Update(tm.TickDelta())
	assert.Equal(t, vmath.Identity(), pv.VisualOffset())
	assert.Equal(t, car.Body.Position, pv.VisualPose().Position)
}

func TestReconcileSmoothsVisualCorrection(t *testing.T) {
	_, server := floatingCar(t, moving(0))
	authoritative := server.FullState()

	ctx, client := floatingCar(t, moving(2))
	tm := NewTimeManager(ctx, nil)
	tm.SetTick(10)
	pv := NewPredictedVehicle(tm, client, 1, 2, core.RoleOwner, nil,
		WithConfig(Config{ReconcileTickStep: 10, SmoothingDuration: 0.1, InputHistory: 32, ReplayCacheSize: 10}))

	require.NoError(t, pv.Receive(core.ServerPeer, reconcileEnvelope(t, 10, authoritative)))
	tm.Step()

	// The body snapped back by two metres but the drawn pose only moved one tick.
	assert.Less(t, client.Body.Position[0], 0.5)
	assert.Greater(t, pv.VisualPose().Position[0], 1.5)

	for i := 0; i < 10; i++ {
		pv.Update(0.02)
	}
	assert.Equal(t, vmath.Identity(), pv.VisualOffset())
}

func TestObserverExtrapolatesWithoutState(t *testing.T) {
	ctx, car := floatingCar(t, moving(0))
	tm := NewTimeManager(ctx, nil)
	NewPredictedVehicle(tm, car, 1, 2, core.RoleObserver, nil)

	for i := 0; i < 3; i++ {
		tm.Step()
	}
	assert.Greater(t, car.Body.Position[0], 0.2)
}

func TestObserverUsesCachedStateForReplayTick(t *testing.T) {
	_, server := floatingCar(t, core.RigidbodyState{Position: mgl64.Vec3{1, 0, 0}, Rotation: mgl64.QuatIdent()})
	older := server.FullState()
	server.Body.SetState(core.RigidbodyState{Position: mgl64.Vec3{2, 0, 0}, Rotation: mgl64.QuatIdent()})
	newer := server.FullState()

	ctx, car := floatingCar(t, moving(-5))
	tm := NewTimeManager(ctx, nil)
	tm.SetTick(22)
	pv := NewPredictedVehicle(tm, car, 1, 2, core.RoleObserver, nil)

	var replayed []uint32
	tm.OnReplay(func(tick uint32) { replayed = append(replayed, tick) })

	steer := core.MoveData{Steer: 0.5}
	accel := core.MoveData{Accel: 1}
	require.NoError(t, pv.Receive(core.ServerPeer, stateEnvelope(t, 10, steer, older)))
	require.NoError(t, pv.Receive(core.ServerPeer, stateEnvelope(t, 20, accel, newer)))
	tm.Step()

	assert.Equal(t, []uint32{20, 21}, replayed)
	assert.Equal(t, accel, pv.LastMove())
	assert.InDelta(t, 2, car.Body.Position[0], 0.05)
}

func TestServerUsesMoveForItsTick(t *testing.T) {
	ctx := groundScene()
	car := buildCar(t, ctx, 0.8)
	tm := NewTimeManager(ctx, nil)
	tm.SetTick(5)
	pv := NewPredictedVehicle(tm, car, 1, 2, core.RoleServer, nil)

	send := func(tick uint32, md core.MoveData) {
		env, err := streaming.NewEnvelope(streaming.TypeMove, 1, tick, md)
		require.NoError(t, err)
		require.NoError(t, pv.Receive(2, env))
	}
	first := core.MoveData{Accel: 0.5}
	second := core.MoveData{Accel: 1}
	send(5, first)
	send(6, second)

	tm.Step()
	assert.Equal(t, first, pv.LastMove())
	tm.Step()
	assert.Equal(t, second, pv.LastMove())
	tm.Step()
	assert.Equal(t, second, pv.LastMove(), "missing input repeats the latest one")

	send(2, core.MoveData{Brake: 1})
	tm.Step()
	assert.Equal(t, 1, pv.LateMoves())
}

func TestServerRejectsForeignMoves(t *testing.T) {
	ctx := groundScene()
	tm := NewTimeManager(ctx, nil)
	pv := NewPredictedVehicle(tm, buildCar(t, ctx, 0.8), 1, 2, core.RoleServer, nil)

	env, err := streaming.NewEnvelope(streaming.TypeMove, 1, 0, core.MoveData{Accel: 1})
	require.NoError(t, err)
	assert.ErrorIs(t, pv.Receive(3, env), ErrNotOwner)

	bye, err := streaming.NewEnvelope(streaming.TypeBye, 1, 0, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, pv.Receive(2, bye), ErrUnexpectedMessage)
}

func TestServerSnapshotsOnReconcileStep(t *testing.T) {
	ctx := groundScene()
	tm := NewTimeManager(ctx, nil)
	var snaps []core.Snapshot
	NewPredictedVehicle(tm, buildCar(t, ctx, 0.8), 1, core.ServerPeer, core.RoleServer, nil,
		WithConfig(Config{ReconcileTickStep: 5, SmoothingDuration: 0.1, InputHistory: 8, ReplayCacheSize: 4}),
		WithInput(func(uint32) core.MoveData { return core.MoveData{Accel: 1} }),
		WithHooks(Hooks{OnSnapshot: func(s core.Snapshot) { snaps = append(snaps, s) }}))

	for i := 0; i < 11; i++ {
		tm.Step()
	}
	require.Len(t, snaps, 3)
	assert.Equal(t, []uint32{1, 6, 11}, []uint32{snaps[0].Tick, snaps[1].Tick, snaps[2].Tick})
	assert.Equal(t, core.MoveData{Accel: 1}, snaps[2].Move)
	assert.NotEmpty(t, snaps[2].State)
}

func TestDestroyUnsubscribes(t *testing.T) {
	ctx := groundScene()
	tm := NewTimeManager(ctx, nil)
	car := buildCar(t, ctx, 0.8)
	pv := NewPredictedVehicle(tm, car, 1, 2, core.RoleOwner, nil)
	require.Positive(t, tm.Subscribers())

	pv.Destroy()
	pv.Destroy()

	assert.Zero(t, tm.Subscribers())
	assert.True(t, car.Destroyed())
	assert.True(t, pv.Destroyed())
	tm.Step()
}

type netPeer struct {
	tm     *TimeManager
	router *Router
	car    *vehicle.Vehicle
	pv     *PredictedVehicle
}

func newNetPeer(t *testing.T, hub *Loopback, id core.PeerID, tick uint32, role core.Role, opts ...Option) *netPeer {
	t.Helper()
	ctx := groundScene()
	p := &netPeer{tm: NewTimeManager(ctx, nil), router: NewRouter()}
	p.tm.SetTick(tick)
	p.car = buildCar(t, ctx, 0.8)
	cfg := Config{ReconcileTickStep: 5, SmoothingDuration: 0.1, InputHistory: 64, ReplayCacheSize: 10}
	p.pv = NewPredictedVehicle(p.tm, p.car, 1, 2, role, hub.Outbox(id), append([]Option{WithConfig(cfg)}, opts...)...)
	p.router.Add(1, p.pv)
	hub.Attach(id, p.router)
	return p
}

func TestLoopbackSession(t *testing.T) {
	hub := NewLoopback()
	hub.OnError = func(to core.PeerID, env streaming.Envelope, err error) {
		t.Errorf("delivery of %s to %d: %v", env.Type, to, err)
	}

	var events []core.ReconcileEvent
	var snaps []core.Snapshot
	server := newNetPeer(t, hub, core.ServerPeer, 0, core.RoleServer,
		WithHooks(Hooks{OnSnapshot: func(s core.Snapshot) { snaps = append(snaps, s) }}))
	owner := newNetPeer(t, hub, 2, 2, core.RoleOwner,
		WithInput(func(uint32) core.MoveData { return core.MoveData{Accel: 1} }),
		WithHooks(Hooks{OnReconcile: func(e core.ReconcileEvent) { events = append(events, e) }}))
	observer := newNetPeer(t, hub, 3, 2, core.RoleObserver)

	for i := 0; i < 60; i++ {
		owner.tm.Step()
		server.tm.Step()
		observer.tm.Step()
	}

	assert.Len(t, snaps, 12)
	require.Len(t, events, 12)
	for _, e := range events {
		assert.False(t, e.Rejected, e.Reason)
	}
	assert.Less(t, events[len(events)-1].Correction, 0.05)
	assert.Zero(t, server.pv.LateMoves())
	assert.Equal(t, core.MoveData{Accel: 1}, server.pv.LastMove())
	assert.Equal(t, core.MoveData{Accel: 1}, observer.pv.LastMove())

	serverPos := server.car.Body.Position
	assert.Less(t, observer.car.Body.Position.Sub(serverPos).Len(), 0.5)
	assert.Less(t, owner.car.Body.Position.Sub(serverPos).Len(), 0.5)
}

func TestLoopbackLateJoinerGetsLastState(t *testing.T) {
	hub := NewLoopback()
	server := newNetPeer(t, hub, core.ServerPeer, 0, core.RoleServer)
	for i := 0; i < 7; i++ {
		server.tm.Step()
	}

	late := newNetPeer(t, hub, 3, 20, core.RoleObserver)
	var replayed []uint32
	late.tm.OnReplay(func(tick uint32) { replayed = append(replayed, tick) })
	late.tm.Step()

	require.NotEmpty(t, replayed)
	assert.Equal(t, uint32(6), replayed[0], "replay starts at the buffered state")
	assert.Len(t, replayed, 14)
}
