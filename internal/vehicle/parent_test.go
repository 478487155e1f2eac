package vehicle

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"

	"github.com/OCAP2/vehiclesim/internal/physics"
	"github.com/OCAP2/vehiclesim/internal/sim"
	"github.com/OCAP2/vehiclesim/internal/vmath"
)

func groundedParent() *Parent {
	p := NewParent(physics.NewBody(vmath.Identity(), 1000, mgl64.Vec3{2, 1, 4}))
	w := &Wheel{Grounded: true}
	w.Contact.Normal = vmath.Up
	p.Wheels = []*Wheel{w}
	return p
}

func TestBurnoutApproachesTarget(t *testing.T) {
	tests := []struct {
		name   string
		accel  float64
		target float64
	}{
		{"full throttle", 1, 1},
		{"partial throttle", 0.95, 0.95},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := sim.New(0.02, mgl64.Vec3{0, -9.81, 0})
			p := groundedParent()
			p.AccelInput = tt.accel
			p.BrakeInput = 1

			prev := p.Burnout
			for i := 0; i < 200; i++ {
				p.Simulate(ctx)
				assert.GreaterOrEqual(t, p.Burnout, prev, "tick %d", i)
				assert.LessOrEqual(t, p.Burnout, tt.target, "tick %d", i)
				prev = p.Burnout
			}
			assert.InDelta(t, tt.target, p.Burnout, 1e-6)
		})
	}
}

func TestBurnoutDecaysToZero(t *testing.T) {
	ctx := sim.New(0.02, mgl64.Vec3{0, -9.81, 0})
	p := groundedParent()
	p.AccelInput = 1
	p.BrakeInput = 1
	for i := 0; i < 50; i++ {
		p.Simulate(ctx)
	}
	assert.Greater(t, p.Burnout, 0.9)

	p.BrakeInput = 0
	prev := p.Burnout
	for i := 0; i < 200; i++ {
		p.Simulate(ctx)
		assert.LessOrEqual(t, p.Burnout, prev, "tick %d", i)
		assert.GreaterOrEqual(t, p.Burnout, 0.0, "tick %d", i)
		prev = p.Burnout
	}
	assert.Zero(t, p.Burnout)
}

func TestBurnoutNeedsGround(t *testing.T) {
	ctx := sim.New(0.02, mgl64.Vec3{0, -9.81, 0})
	p := groundedParent()
	p.Wheels[0].Grounded = false
	p.AccelInput = 1
	p.BrakeInput = 1

	p.Simulate(ctx)
	assert.Zero(t, p.Burnout)
}
