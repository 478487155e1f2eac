// Package sim holds the per-session simulation context that every vehicle component
// receives on Simulate.
package sim

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/OCAP2/vehiclesim/internal/ground"
	"github.com/OCAP2/vehiclesim/internal/logging"
	"github.com/OCAP2/vehiclesim/internal/physics"
	"github.com/OCAP2/vehiclesim/internal/vmath"
)

// Physics layers used by the default scene.
const (
	LayerGround  = 0
	LayerVehicle = 8
	LayerWheel   = 9
	LayerDebris  = 10
)

// Context is built once per session and passed to every component. It is only touched
// from the simulation goroutine.
type Context struct {
	TickDelta float64
	TimeScale float64
	// FixedTimeFactor is 0.01 / TickDelta; tunables authored at 100 Hz are scaled by it.
	FixedTimeFactor        float64
	InverseFixedTimeFactor float64
	WorldUp                mgl64.Vec3

	World    *physics.World
	Surfaces *ground.Table

	WheelCastMask physics.Mask
	GroundMask    physics.Mask

	Trace *logging.StateTrace

	// Tick is the tick being simulated, used for tracing only.
	Tick uint32
}

// Option customises a Context.
type Option func(*Context)

func WithSurfaces(t *ground.Table) Option {
	return func(c *Context) { c.Surfaces = t }
}

func WithMasks(wheelCast, ground physics.Mask) Option {
	return func(c *Context) {
		c.WheelCastMask = wheelCast
		c.GroundMask = ground
	}
}

func WithTrace(t *logging.StateTrace) Option {
	return func(c *Context) { c.Trace = t }
}

func WithTimeScale(s float64) Option {
	return func(c *Context) { c.TimeScale = s }
}

// New creates a context with its own physics world.
func New(tickDelta float64, gravity mgl64.Vec3, opts ...Option) *Context {
	c := &Context{
		TimeScale:     1,
		World:         physics.NewWorld(gravity),
		WheelCastMask: physics.LayerMask(LayerGround, LayerVehicle, LayerDebris),
		GroundMask:    physics.LayerMask(LayerGround),
	}
	c.SetTickDelta(tickDelta)
	for _, opt := range opts {
		opt(c)
	}
	if c.Surfaces == nil {
		c.Surfaces = ground.NewTable()
	}
	c.RefreshWorldUp()
	return c
}

// SetTickDelta updates the step length and the derived time factors.
func (c *Context) SetTickDelta(dt float64) {
	if dt <= 0 {
		dt = 0.02
	}
	c.TickDelta = dt
	c.FixedTimeFactor = 0.01 / dt
	c.InverseFixedTimeFactor = 1 / c.FixedTimeFactor
}

// RefreshWorldUp recomputes the up direction from gravity.
func (c *Context) RefreshWorldUp() {
	g := c.World.Gravity
	if g == vmath.Zero {
		c.WorldUp = vmath.Up
		return
	}
	c.WorldUp = g.Normalize().Mul(-1)
}

// Friction returns the table friction for surfaceType.
func (c *Context) Friction(surfaceType int) float64 {
	return c.Surfaces.Get(surfaceType).Friction
}
