package vehicle

import (
	"errors"
	"sort"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/vehiclesim/internal/physics"
	"github.com/OCAP2/vehiclesim/internal/sim"
	"github.com/OCAP2/vehiclesim/internal/state"
	"github.com/OCAP2/vehiclesim/internal/vmath"
	"github.com/OCAP2/vehiclesim/pkg/core"
)

func newScene(t *testing.T) *sim.Context {
	t.Helper()
	ctx := sim.New(0.02, mgl64.Vec3{0, -9.81, 0})
	ctx.World.AddCollider(&physics.Collider{Shape: physics.ShapePlane, Local: vmath.Identity(), Layer: sim.LayerGround})
	return ctx
}

func spawnAt(y float64) BuildOption {
	return WithSpawn(vmath.Pose{Position: mgl64.Vec3{0, y, 0}, Rotation: mgl64.QuatIdent()})
}

func step(ctx *sim.Context, v *Vehicle, ticks int) {
	for i := 0; i < ticks; i++ {
		ctx.Tick++
		v.Simulate(ctx)
		ctx.World.Step(ctx.TickDelta)
	}
}

func TestBuildCar(t *testing.T) {
	ctx := newScene(t)
	v, err := Build(DefaultCar(), ctx, 1, spawnAt(1))
	require.NoError(t, err)

	assert.Len(t, v.Wheels(), 4)
	assert.Len(t, v.Suspensions(), 4)
	assert.Empty(t, v.HoverWheels())
	require.NotNil(t, v.Transmission)
	assert.Equal(t, TransmissionGearbox, v.Transmission.Kind())
	assert.Equal(t, MotorGas, v.Engine.Kind())
	assert.Len(t, v.Steering.SteeredWheels, 2)
	assert.Same(t, v.Wheel(0).Suspension, v.Suspension(0))
	assert.Nil(t, v.Wheel(9))
	assert.Same(t, v.Engine.(*GasMotor).TargetDrive, v.Drive(0))

	orders := v.Manager.Orders()
	assert.True(t, sort.IntsAreSorted(orders), "schedule %v", orders)
	assert.IsType(t, &Parent{}, v.Manager.Components()[0])

	for i, s := range v.Suspensions() {
		require.NotNil(t, s.OppositeWheel, "wheel %d", i)
		assert.Equal(t, s.Local.Position[0] < 0, s.FlippedSide, "wheel %d", i)
	}

	hard := ctx.World.Collider(colliderID(1, slotWheel))
	require.NotNil(t, hard)
	assert.Same(t, v.Wheel(0).HardCollider(), hard)
	assert.Equal(t, uint32(1), hard.Owner)
}

func TestBuildHover(t *testing.T) {
	ctx := newScene(t)
	v, err := Build(DefaultHover(), ctx, 2, spawnAt(1))
	require.NoError(t, err)

	assert.Empty(t, v.Wheels())
	assert.Len(t, v.HoverWheels(), 4)
	assert.Nil(t, v.Transmission)
	assert.Equal(t, MotorHover, v.Engine.Kind())
	assert.Len(t, v.HoverSteer.SteeredWheels, 2)

	v.Parent.SetAccel(1)
	step(ctx, v, 50)
	assert.True(t, vmath.FiniteVec(v.Body.Position))
}

func TestBuildRejectsBadID(t *testing.T) {
	ctx := newScene(t)
	_, err := Build(DefaultCar(), ctx, 0)
	assert.Error(t, err)
	_, err = Build(DefaultCar(), ctx, MaxVehicleID+1)
	assert.Error(t, err)
}

func TestBuildSkipsInvalidWheel(t *testing.T) {
	def := DefaultCar()
	def.Wheels[3].RimRadius = 0

	v, err := Build(def, newScene(t), 1)
	require.NoError(t, err)
	assert.Len(t, v.Wheels(), 3)
	assert.Nil(t, v.Suspension(2).OppositeWheel, "opposite was left out")
}

func TestWheelGroupsAlternateContact(t *testing.T) {
	def := DefaultCar()
	def.Control.WheelGroups = [][]int{{0, 1}, {2, 3}, {7}}

	ctx := newScene(t)
	v, err := Build(def, ctx, 1, spawnAt(1))
	require.NoError(t, err)
	require.Len(t, v.Parent.WheelGroups, 2, "the group with only a missing wheel is dropped")

	step(ctx, v, 1)
	assert.True(t, v.Wheel(0).GetContact)
	assert.False(t, v.Wheel(2).GetContact)
	step(ctx, v, 1)
	assert.False(t, v.Wheel(0).GetContact)
	assert.True(t, v.Wheel(2).GetContact)
}

// carFields copies the simulation fields of a car so restores can be compared exactly.
type carFields struct {
	Body      core.RigidbodyState
	Burnout   float64
	Engine    DriveForce
	MaxRPM    float64
	Gear      int
	ShiftTime float64
	Wheels    []wheelFields
}

type wheelFields struct {
	// Contact has its collider replaced by GroundID so cars in separate worlds compare.
	Contact    WheelContact
	GroundID   uint32
	Drive      DriveForce
	Local, Rim vmath.Pose
	RawRPM     float64
	TravelDist float64
	Grounded   bool
	SteerAngle float64
}

func fieldsOf(v *Vehicle) carFields {
	gas := v.Engine.(*GasMotor)
	box := v.Transmission.(*Gearbox)
	f := carFields{
		Body:      v.Body.State(),
		Burnout:   v.Parent.Burnout,
		Engine:    *gas.TargetDrive,
		MaxRPM:    gas.MaxRPM,
		Gear:      box.CurrentGear,
		ShiftTime: box.ShiftTime,
	}
	for _, w := range v.Wheels() {
		contact := w.Contact
		var ground uint32
		if contact.Collider != nil {
			ground = contact.Collider.ID
		}
		contact.Collider = nil
		f.Wheels = append(f.Wheels, wheelFields{
			Contact:    contact,
			GroundID:   ground,
			Drive:      *w.TargetDrive,
			Local:      w.Local,
			Rim:        w.Rim,
			RawRPM:     w.RawRPM,
			TravelDist: w.TravelDist,
			Grounded:   w.Grounded,
			SteerAngle: w.Suspension.SteerAngle,
		})
	}
	return f
}

func TestFullStateRestore(t *testing.T) {
	ctx := newScene(t)
	v, err := Build(DefaultCar(), ctx, 1, spawnAt(0.8))
	require.NoError(t, err)

	v.Parent.SetAccel(1)
	v.Parent.SetSteer(0.5)
	step(ctx, v, 30)
	saved := v.FullState()
	want := fieldsOf(v)

	step(ctx, v, 30)
	assert.NotEqual(t, want, fieldsOf(v))

	require.NoError(t, v.SetFullState(saved))
	assert.Equal(t, want, fieldsOf(v))
	assert.Equal(t, saved, v.FullState())

	// applying twice changes nothing
	require.NoError(t, v.SetFullState(saved))
	assert.Equal(t, want, fieldsOf(v))
	assert.Equal(t, saved, v.FullState())
}

func TestRestoredCopyStaysInStep(t *testing.T) {
	drive := func(v *Vehicle, i int) {
		v.Parent.SetAccel(1)
		v.Parent.SetSteer(float64(i%20)/20 - 0.5)
	}

	ctxA := newScene(t)
	a, err := Build(DefaultCar(), ctxA, 1, spawnAt(0.8))
	require.NoError(t, err)
	for i := 0; i < 30; i++ {
		drive(a, i)
		step(ctxA, a, 1)
	}

	ctxB := newScene(t)
	b, err := Build(DefaultCar(), ctxB, 1, spawnAt(5))
	require.NoError(t, err)
	require.NoError(t, b.SetFullState(a.FullState()))
	ctxB.Tick = ctxA.Tick
	require.Equal(t, fieldsOf(a), fieldsOf(b))

	for i := 30; i < 130; i++ {
		drive(a, i)
		drive(b, i)
		step(ctxA, a, 1)
		step(ctxB, b, 1)
	}
	assert.Equal(t, fieldsOf(a), fieldsOf(b))
	assert.Equal(t, a.FullState(), b.FullState())
}

func TestSameInputsSameState(t *testing.T) {
	run := func() []byte {
		ctx := newScene(t)
		v, err := Build(DefaultCar(), ctx, 1, spawnAt(0.8))
		require.NoError(t, err)
		for i := 0; i < 60; i++ {
			v.Parent.SetAccel(1)
			v.Parent.SetSteer(float64(i%20)/20 - 0.5)
			step(ctx, v, 1)
		}
		return v.FullState()
	}
	assert.Equal(t, run(), run())
}

func TestSetFullStateSchemaMismatch(t *testing.T) {
	ctx := newScene(t)
	car, err := Build(DefaultCar(), ctx, 1, spawnAt(1))
	require.NoError(t, err)
	hover, err := Build(DefaultHover(), ctx, 2, spawnAt(5))
	require.NoError(t, err)

	step(ctx, car, 5)
	before := car.FullState()

	err = car.SetFullState(hover.FullState())
	assert.True(t, errors.Is(err, state.ErrSchemaMismatch), "got %v", err)
	assert.Equal(t, before, car.FullState())

	err = car.SetFullState(before[:len(before)-3])
	assert.Error(t, err)
	assert.Equal(t, before, car.FullState())
}

func TestVisualStateRoundTrip(t *testing.T) {
	ctx := newScene(t)
	v, err := Build(DefaultCar(), ctx, 1, spawnAt(0.8))
	require.NoError(t, err)
	v.Parent.SetAccel(1)
	step(ctx, v, 20)
	saved := v.VisualState()

	step(ctx, v, 10)
	require.NoError(t, v.SetVisualState(saved))
	assert.Equal(t, saved, v.VisualState())
}

func TestPendingActionRunsNextTick(t *testing.T) {
	ctx := newScene(t)
	v, err := Build(DefaultCar(), ctx, 1, spawnAt(3))
	require.NoError(t, err)

	v.Body.Rotation = vmath.Euler(0, 40, 180)
	v.ResetRotation()
	assert.Equal(t, 1, v.Manager.Pending())

	v.Simulate(ctx)
	assert.Equal(t, 0, v.Manager.Pending())
	assert.True(t, vmath.VecApproxEqual(vmath.Up, v.Body.Pose().Up(), 1e-9))
	assert.InDelta(t, 4, v.Body.Position[1], 1e-9)
}

func TestReverseReset(t *testing.T) {
	ctx := newScene(t)
	v, err := Build(DefaultCar(), ctx, 1, spawnAt(3))
	require.NoError(t, err)
	v.Body.Velocity = mgl64.Vec3{5, 0, 0}

	v.Reset(mgl64.Vec3{10, 1, 10}, vmath.Right)
	v.Simulate(ctx)

	assert.Equal(t, mgl64.Vec3{10, 1, 10}, v.Body.Position)
	assert.Equal(t, mgl64.Vec3{}, v.Body.Velocity)
	assert.True(t, vmath.VecApproxEqual(vmath.Right, v.Body.Pose().Forward(), 1e-9))
}

func TestDestroy(t *testing.T) {
	ctx := newScene(t)
	v, err := Build(DefaultCar(), ctx, 1, spawnAt(1))
	require.NoError(t, err)
	v.Wheel(0).DetachForce = 1
	v.Wheel(0).Detach()
	bodies := len(ctx.World.Bodies())
	require.Equal(t, 2, bodies)

	v.Destroy()
	assert.True(t, v.Destroyed())
	assert.Empty(t, ctx.World.Bodies())
	assert.Nil(t, ctx.World.Collider(colliderID(1, slotHull)))
	assert.Nil(t, ctx.World.Collider(colliderID(1, slotSuspension+1)))
	for _, c := range v.Manager.Components() {
		assert.False(t, c.Active())
	}

	v.Destroy()
	v.Simulate(ctx)
}

func TestOutput(t *testing.T) {
	ctx := newScene(t)
	v, err := Build(DefaultCar(), ctx, 7, spawnAt(1))
	require.NoError(t, err)
	step(ctx, v, 2)

	out := v.Output()
	assert.Equal(t, uint32(7), out.ID)
	assert.Len(t, out.Wheels, 4)
	assert.Equal(t, v.Transmission.(*Gearbox).CurrentGear, out.Gear)
	assert.Equal(t, v.Body.Position, out.Position)
}

func TestArena(t *testing.T) {
	ctx := newScene(t)
	a := NewArena()
	for _, id := range []uint32{3, 1, 2} {
		v, err := Build(DefaultCar(), ctx, id)
		require.NoError(t, err)
		a.Add(v)
	}
	assert.Equal(t, 3, a.Len())

	var seen []uint32
	a.Each(func(v *Vehicle) bool {
		seen = append(seen, v.ID)
		return true
	})
	assert.Equal(t, []uint32{3, 1, 2}, seen)

	seen = seen[:0]
	a.Each(func(v *Vehicle) bool {
		seen = append(seen, v.ID)
		return false
	})
	assert.Equal(t, []uint32{3}, seen)

	v, ok := a.Get(1)
	require.True(t, ok)
	assert.True(t, a.Remove(1))
	assert.False(t, a.Remove(1))
	assert.True(t, v.Destroyed())
	_, ok = a.Get(1)
	assert.False(t, ok)

	replaced, _ := a.Get(2)
	fresh, err := Build(DefaultHover(), ctx, 2)
	require.NoError(t, err)
	a.Add(fresh)
	assert.True(t, replaced.Destroyed())
	assert.Equal(t, 2, a.Len())
}
