package sim

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"

	"github.com/OCAP2/vehiclesim/internal/ground"
	"github.com/OCAP2/vehiclesim/internal/logging"
	"github.com/OCAP2/vehiclesim/internal/physics"
)

func TestNewDerivesTimeFactors(t *testing.T) {
	tests := []struct {
		name      string
		dt        float64
		wantDelta float64
		wantFTF   float64
	}{
		{"50 Hz", 0.02, 0.02, 0.5},
		{"100 Hz", 0.01, 0.01, 1},
		{"invalid falls back to 50 Hz", 0, 0.02, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.dt, mgl64.Vec3{0, -9.81, 0})
			assert.InDelta(t, tt.wantDelta, c.TickDelta, 1e-12)
			assert.InDelta(t, tt.wantFTF, c.FixedTimeFactor, 1e-12)
			assert.InDelta(t, 1/tt.wantFTF, c.InverseFixedTimeFactor, 1e-12)
		})
	}
}

func TestWorldUpFollowsGravity(t *testing.T) {
	c := New(0.02, mgl64.Vec3{0, -9.81, 0})
	assert.True(t, c.WorldUp.ApproxEqual(mgl64.Vec3{0, 1, 0}))

	c.World.Gravity = mgl64.Vec3{4, 0, 0}
	c.RefreshWorldUp()
	assert.True(t, c.WorldUp.ApproxEqual(mgl64.Vec3{-1, 0, 0}))

	zero := New(0.02, mgl64.Vec3{})
	assert.Equal(t, mgl64.Vec3{0, 1, 0}, zero.WorldUp)
}

func TestOptions(t *testing.T) {
	table := ground.NewTable(ground.DefaultSurface(), ground.Surface{Name: "Ice", Friction: 0.1})
	trace := logging.NewStateTrace(true)
	mask := physics.LayerMask(LayerGround)

	c := New(0.02, mgl64.Vec3{0, -9.81, 0},
		WithSurfaces(table), WithTrace(trace), WithTimeScale(0.5), WithMasks(mask, mask))

	assert.Same(t, table, c.Surfaces)
	assert.Same(t, trace, c.Trace)
	assert.Equal(t, 0.5, c.TimeScale)
	assert.Equal(t, mask, c.WheelCastMask)
	assert.InDelta(t, 0.1, c.Friction(1), 1e-12)
	assert.InDelta(t, 1, c.Friction(7), 1e-12)
}

func TestDefaultsWithoutOptions(t *testing.T) {
	c := New(0.02, mgl64.Vec3{0, -9.81, 0})
	assert.Equal(t, 1.0, c.TimeScale)
	assert.NotNil(t, c.World)
	assert.InDelta(t, 1, c.Friction(0), 1e-12)
	assert.True(t, c.WheelCastMask.Has(LayerVehicle))
	assert.False(t, c.GroundMask.Has(LayerVehicle))
}
