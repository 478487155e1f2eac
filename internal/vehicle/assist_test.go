package vehicle

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"

	"github.com/OCAP2/vehiclesim/internal/physics"
	"github.com/OCAP2/vehiclesim/internal/sim"
	"github.com/OCAP2/vehiclesim/internal/vmath"
)

// slidingAssist returns an assist on a grounded body moving forward and sideways at
// equal speed, with full throttle.
func slidingAssist(driftPush float64) (*VehicleAssist, *sim.Context) {
	ctx := sim.New(0.02, mgl64.Vec3{})
	body := ctx.World.AddBody(physics.NewBody(vmath.Identity(), 1000, mgl64.Vec3{2, 1, 4}))
	body.UseGravity = false
	body.Velocity = mgl64.Vec3{5, 0, 5}

	p := NewParent(body)
	p.GroundedWheels = 4
	p.AccelInput = 1
	p.LocalVelocity = body.Velocity
	p.ForwardDir = vmath.Forward
	p.RightDir = vmath.Right
	p.UpDir = vmath.Up
	p.Norm = vmath.Pose{Rotation: vmath.LookRotation(vmath.Up, vmath.Forward)}

	a := NewVehicleAssist(p)
	a.Downforce = 0
	a.DriftPush = driftPush
	return a, ctx
}

func TestDriftPushAddsForwardSpeed(t *testing.T) {
	forwardSpeed := func(driftPush float64) float64 {
		a, ctx := slidingAssist(driftPush)
		a.Simulate(ctx)
		ctx.World.Step(ctx.TickDelta)
		return a.parent.Body.Velocity[2]
	}

	plain := forwardSpeed(0)
	pushed := forwardSpeed(2)
	assert.InDelta(t, 5, plain, 1e-9)
	assert.Greater(t, pushed, plain)
}

func TestDriftPushNeedsSlide(t *testing.T) {
	a, ctx := slidingAssist(2)
	a.parent.Body.Velocity = mgl64.Vec3{0, 0, 5}
	a.parent.LocalVelocity = a.parent.Body.Velocity

	a.Simulate(ctx)
	ctx.World.Step(ctx.TickDelta)
	assert.InDelta(t, 5, a.parent.Body.Velocity[2], 1e-9)
}

func TestDriftPushIdleThrottle(t *testing.T) {
	a, ctx := slidingAssist(2)
	a.parent.AccelInput = 0

	a.Simulate(ctx)
	ctx.World.Step(ctx.TickDelta)
	assert.InDelta(t, 5, a.parent.Body.Velocity[2], 1e-9)
}
