package vehicle

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/OCAP2/vehiclesim/internal/physics"
	"github.com/OCAP2/vehiclesim/internal/sim"
	"github.com/OCAP2/vehiclesim/internal/state"
	"github.com/OCAP2/vehiclesim/internal/vmath"
	"github.com/OCAP2/vehiclesim/pkg/core"
)

// TagUnderside marks hull colliders whose contacts never count as a crash.
const TagUnderside = "Underside"

// WheelGroup is a set of wheels that refresh their ground contact on the same tick.
type WheelGroup struct {
	Wheels      []*Wheel
	HoverWheels []*HoverWheel
}

func (g WheelGroup) setContact(on bool) {
	for _, w := range g.Wheels {
		w.GetContact = on
	}
	for _, h := range g.HoverWheels {
		h.GetContact = on
	}
}

// Parent is the root of a vehicle: it owns the inputs and the per-tick aggregates the
// other components read.
type Parent struct {
	activation

	Body *physics.Body
	// Owner is the vehicle id stamped on its colliders; ray casts ignore colliders with it.
	Owner uint32

	AccelAxisIsBrake  bool
	BrakeIsReverse    bool
	HoldEbrakePark    bool
	BurnoutThreshold  float64
	BurnoutSpin       float64
	BurnoutSmoothness float64
	Hover             bool
	CanCrash          bool

	SuspensionCenterOfMass bool
	CenterOfMassOffset     mgl64.Vec3

	WheelForceMode      physics.ForceMode
	SuspensionForceMode physics.ForceMode

	Engine      Motor
	Wheels      []*Wheel
	HoverWheels []*HoverWheel
	WheelGroups []WheelGroup

	// InputInherit copies the inputs of another vehicle every tick (towed trailers).
	InputInherit *Parent

	AccelInput       float64
	BrakeInput       float64
	SteerInput       float64
	EbrakeInput      float64
	BoostButton      bool
	UpshiftPressed   bool
	DownshiftPressed bool
	UpshiftHold      float64
	DownshiftHold    float64
	PitchInput       float64
	YawInput         float64
	RollInput        float64

	Burnout            float64
	LocalVelocity      mgl64.Vec3
	LocalAngularVel    mgl64.Vec3
	ForwardDir         mgl64.Vec3
	RightDir           mgl64.Vec3
	UpDir              mgl64.Vec3
	ForwardDot         float64
	RightDot           float64
	UpDot              float64
	VelMag             float64
	SqrVelMag          float64
	Reversing          bool
	GroundedWheels     int
	WheelNormalAverage mgl64.Vec3
	Crashing           bool

	// Norm faces the average ground normal (or the body up when airborne) with the body
	// forward as its up axis; suspension forces act along its forward axis.
	Norm vmath.Pose

	wheelCheckIndex       int
	stopUpshift           bool
	stopDownshift         bool
	wheelContactsVelocity mgl64.Vec3
	tickDelta             float64
}

// NewParent creates a parent with default tuning for body.
func NewParent(body *physics.Body) *Parent {
	p := &Parent{
		Body:                body,
		BurnoutThreshold:    0.9,
		BurnoutSpin:         5,
		BurnoutSmoothness:   0.5,
		CanCrash:            true,
		WheelForceMode:      physics.Acceleration,
		SuspensionForceMode: physics.Acceleration,
		Norm:                vmath.Identity(),
	}
	body.OnCollision = p.onCollision
	return p
}

// ApplyCenterOfMass sets the body's centre of mass from the offset, optionally lowered
// by the average suspension travel.
func (p *Parent) ApplyCenterOfMass() {
	var avg float64
	if p.SuspensionCenterOfMass {
		if p.Hover {
			for i, h := range p.HoverWheels {
				if i == 0 {
					avg = h.HoverDistance
				} else {
					avg = (avg + h.HoverDistance) * 0.5
				}
			}
		} else {
			for i, w := range p.Wheels {
				if w.Suspension == nil {
					continue
				}
				if i == 0 {
					avg = w.Suspension.SuspensionDistance
				} else {
					avg = (avg + w.Suspension.SuspensionDistance) * 0.5
				}
			}
		}
	}
	p.Body.CenterOfMass = p.CenterOfMassOffset.Add(mgl64.Vec3{0, -avg, 0})
}

func (p *Parent) Simulate(ctx *sim.Context) {
	p.tickDelta = ctx.TickDelta

	if p.InputInherit != nil {
		p.inheritInput()
	}

	// shift presses last a single tick
	if p.stopUpshift {
		p.UpshiftPressed = false
		p.stopUpshift = false
	}
	if p.stopDownshift {
		p.DownshiftPressed = false
		p.stopDownshift = false
	}
	if p.UpshiftPressed {
		p.stopUpshift = true
	}
	if p.DownshiftPressed {
		p.stopDownshift = true
	}

	if p.InputInherit != nil {
		p.UpshiftPressed = p.InputInherit.UpshiftPressed
		p.DownshiftPressed = p.InputInherit.DownshiftPressed
	}

	if ctx.Trace.Enabled() {
		ctx.Trace.Record("Parent:tick=%d position=%v rotation=%v velocity=%v angularVelocity=%v",
			ctx.Tick, p.Body.Position, p.Body.Rotation, p.Body.Velocity, p.Body.AngularVelocity)
	}

	if n := len(p.WheelGroups); n > 0 && p.wheelCheckIndex >= 0 && p.wheelCheckIndex < n {
		p.WheelGroups[p.wheelCheckIndex].setContact(true)
		prev := p.wheelCheckIndex - 1
		if prev < 0 {
			prev = n - 1
		}
		if prev != p.wheelCheckIndex {
			p.WheelGroups[prev].setContact(false)
		}
		p.wheelCheckIndex++
		if p.wheelCheckIndex == n {
			p.wheelCheckIndex = 0
		}
	}

	p.countGroundedWheels()
	if p.GroundedWheels > 0 {
		p.Crashing = false
	}

	body := p.Body
	p.LocalVelocity = body.InverseTransformDirection(body.Velocity.Sub(p.wheelContactsVelocity))
	p.LocalAngularVel = body.InverseTransformDirection(body.AngularVelocity)
	p.VelMag = body.Velocity.Len()
	p.SqrVelMag = vmath.SqrLen(body.Velocity)
	pose := body.Pose()
	p.ForwardDir = pose.Forward()
	p.RightDir = pose.Right()
	p.UpDir = pose.Up()
	p.ForwardDot = p.ForwardDir.Dot(ctx.WorldUp)
	p.RightDot = p.RightDir.Dot(ctx.WorldUp)
	p.UpDot = p.UpDir.Dot(ctx.WorldUp)

	normal := p.UpDir
	if p.GroundedWheels > 0 {
		normal = p.WheelNormalAverage
	}
	p.Norm = vmath.Pose{Position: body.Position, Rotation: vmath.LookRotation(normal, p.ForwardDir)}

	decay := p.tickDelta * (1 - p.BurnoutSmoothness) * 10
	switch {
	case p.GroundedWheels > 0 && !p.Hover && !p.AccelAxisIsBrake && p.BurnoutThreshold >= 0 &&
		p.AccelInput > p.BurnoutThreshold && p.BrakeInput > p.BurnoutThreshold:
		target := ((5 - math.Min(5, math.Abs(p.LocalVelocity[2]))) / 5) * math.Abs(p.AccelInput)
		p.Burnout = vmath.Lerp(p.Burnout, target, decay)
	case p.Burnout > 0.01:
		p.Burnout = vmath.Lerp(p.Burnout, 0, decay)
	default:
		p.Burnout = 0
	}
	if p.Engine != nil {
		p.Burnout *= p.Engine.Health()
	}

	if p.BrakeIsReverse && p.BrakeInput > 0 && p.LocalVelocity[2] < 1 && p.Burnout == 0 {
		p.Reversing = true
	} else if p.LocalVelocity[2] >= 0 || p.Burnout > 0 {
		p.Reversing = false
	}
}

func (p *Parent) inheritInput() {
	src := p.InputInherit
	p.AccelInput = src.AccelInput
	p.BrakeInput = src.BrakeInput
	p.SteerInput = src.SteerInput
	p.EbrakeInput = src.EbrakeInput
	p.PitchInput = src.PitchInput
	p.YawInput = src.YawInput
	p.RollInput = src.RollInput
}

func (p *Parent) countGroundedWheels() {
	p.GroundedWheels = 0
	p.wheelContactsVelocity = mgl64.Vec3{}

	if p.Hover {
		for i, h := range p.HoverWheels {
			if !h.Grounded {
				continue
			}
			if i == 0 {
				p.WheelNormalAverage = h.Contact.Normal
			} else {
				p.WheelNormalAverage = p.WheelNormalAverage.Add(h.Contact.Normal).Normalize()
			}
			p.GroundedWheels++
		}
		return
	}

	for i, w := range p.Wheels {
		if !w.Grounded {
			continue
		}
		if i == 0 {
			p.wheelContactsVelocity = w.ContactVelocity
			p.WheelNormalAverage = w.Contact.Normal
		} else {
			p.wheelContactsVelocity = p.wheelContactsVelocity.Add(w.ContactVelocity).Mul(0.5)
			p.WheelNormalAverage = p.WheelNormalAverage.Add(w.Contact.Normal).Normalize()
		}
		p.GroundedWheels++
	}
}

// onCollision flags crashes from hull contacts while no wheel is on the ground.
func (p *Parent) onCollision(c physics.Collision) {
	if p.GroundedWheels != 0 || c.Self == nil {
		return
	}
	if c.Self.HasTag(TagUnderside) || c.Self.Layer == sim.LayerWheel {
		return
	}
	rel := c.RelativeVelocity
	if c.Stay {
		if vmath.SqrLen(rel) < 5 {
			p.Crashing = p.CanCrash
		}
		return
	}
	if c.Normal.Dot(vmath.SafeNormalize(rel)) > 0.2 && vmath.SqrLen(rel) > 20 {
		p.Crashing = p.CanCrash
	}
}

func (p *Parent) SetAccel(f float64) {
	p.AccelInput = vmath.Clamp(f, -1, 1)
}

func (p *Parent) SetBrake(f float64) {
	if p.AccelAxisIsBrake {
		p.BrakeInput = -vmath.Clamp(p.AccelInput, -1, 0)
		return
	}
	p.BrakeInput = vmath.Clamp(f, -1, 1)
}

func (p *Parent) SetSteer(f float64) {
	p.SteerInput = vmath.Clamp(f, -1, 1)
}

// SetEbrake sets the handbrake; with HoldEbrakePark a stopped vehicle keeps it applied.
func (p *Parent) SetEbrake(f float64) {
	if (f > 0 || p.EbrakeInput > 0) && p.HoldEbrakePark && p.VelMag < 1 && p.AccelInput == 0 &&
		(p.BrakeInput == 0 || !p.BrakeIsReverse) {
		p.EbrakeInput = 1
		return
	}
	p.EbrakeInput = vmath.Clamp01(f)
}

func (p *Parent) SetBoost(b bool)        { p.BoostButton = b }
func (p *Parent) SetPitch(f float64)     { p.PitchInput = vmath.Clamp(f, -1, 1) }
func (p *Parent) SetYaw(f float64)       { p.YawInput = vmath.Clamp(f, -1, 1) }
func (p *Parent) SetRoll(f float64)      { p.RollInput = vmath.Clamp(f, -1, 1) }
func (p *Parent) PressUpshift()          { p.UpshiftPressed = true }
func (p *Parent) PressDownshift()        { p.DownshiftPressed = true }
func (p *Parent) SetUpshift(f float64)   { p.UpshiftHold = f }
func (p *Parent) SetDownshift(f float64) { p.DownshiftHold = f }

// ApplyMove feeds one tick of replicated input into the parent.
func (p *Parent) ApplyMove(md core.MoveData) {
	p.SetAccel(md.Accel)
	p.SetBrake(md.Brake)
	p.SetSteer(md.Steer)
	p.SetEbrake(md.Ebrake)
	p.SetBoost(md.Boost)
	p.SetUpshift(md.UpshiftInput)
	p.SetDownshift(md.DownshiftInput)
	p.SetPitch(md.Pitch)
	p.SetYaw(md.Yaw)
	p.SetRoll(md.Roll)
	if md.UpshiftButton {
		p.PressUpshift()
	}
	if md.DownshiftButton {
		p.PressDownshift()
	}
}

func (p *Parent) WriteFullState(w *state.Writer) {
	w.WriteVec3(p.Body.Position)
	w.WriteQuat(p.Body.Rotation)
	w.WriteVec3(p.Body.Velocity)
	w.WriteVec3(p.Body.AngularVelocity)
	w.WriteFloat64(p.Burnout)
	w.WriteInt32(p.wheelCheckIndex)
}

func (p *Parent) ReadFullState(r *state.Reader) error {
	pos, rot, vel, angVel := r.Vec3(), r.Quat(), r.Vec3(), r.Vec3()
	burnout := r.Float64()
	index := r.Int32()
	if err := r.Err(); err != nil {
		return err
	}
	p.Body.Position = pos
	p.Body.Rotation = rot
	p.Body.Velocity = vel
	p.Body.AngularVelocity = angVel
	p.Body.ClearForces()
	p.Burnout = burnout
	p.wheelCheckIndex = index
	return nil
}

func (p *Parent) WriteVisualState(w *state.Writer) {
	w.WriteVec3(p.Body.Position)
	w.WriteQuat(p.Body.Rotation)
	w.WriteVec3(p.Body.Velocity)
	w.WriteVec3(p.Body.AngularVelocity)
}

func (p *Parent) ReadVisualState(r *state.Reader) error {
	pos, rot, vel, angVel := r.Vec3(), r.Quat(), r.Vec3(), r.Vec3()
	if err := r.Err(); err != nil {
		return err
	}
	p.Body.Position = pos
	p.Body.Rotation = rot
	p.Body.Velocity = vel
	p.Body.AngularVelocity = angVel
	return nil
}
