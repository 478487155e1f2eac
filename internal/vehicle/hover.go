package vehicle

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/OCAP2/vehiclesim/internal/curve"
	"github.com/OCAP2/vehiclesim/internal/physics"
	"github.com/OCAP2/vehiclesim/internal/sim"
	"github.com/OCAP2/vehiclesim/internal/state"
	"github.com/OCAP2/vehiclesim/internal/vmath"
)

// HoverContact is the ground contact of a hover wheel.
type HoverContact struct {
	Collider         *physics.Collider
	Grounded         bool
	Point            mgl64.Vec3
	Normal           mgl64.Vec3
	RelativeVelocity mgl64.Vec3
	Distance         float64
}

func (c *HoverContact) writeFull(w *state.Writer) {
	var id uint32
	if c.Collider != nil {
		id = c.Collider.ID
	}
	w.WriteUint32(id)
	w.WriteBool(c.Grounded)
	w.WriteVec3(c.Point)
	w.WriteVec3(c.Normal)
	w.WriteVec3(c.RelativeVelocity)
	w.WriteFloat64(c.Distance)
}

func (c *HoverContact) readFull(r *state.Reader, world *physics.World) {
	id := r.Uint32()
	c.Collider = nil
	if world != nil {
		c.Collider = world.Collider(id)
	}
	c.Grounded = r.Bool()
	c.Point = r.Vec3()
	c.Normal = r.Vec3()
	c.RelativeVelocity = r.Vec3()
	c.Distance = r.Float64()
}

// HoverWheel floats the vehicle above the ground and pushes it along.
type HoverWheel struct {
	activation

	// Local is the hover wheel pose relative to the vehicle body.
	Local vmath.Pose

	HoverDistance    float64
	BufferDistance   float64
	FloatForce       float64
	BufferFloatForce float64
	FloatForceCurve  *curve.Curve
	FloatExponent    float64
	FloatDampening   float64
	BrakeForce       float64
	EbrakeForce      float64
	SteerFactor      float64
	SideFriction     float64
	VisualTiltRate   float64
	VisualTiltAmount float64
	DetachForce      float64
	Mass             float64

	Contact     HoverContact
	DoFloat     bool
	GetContact  bool
	Grounded    bool
	TargetSpeed float64
	TargetForce float64
	SteerRate   float64
	Connected   bool
	// Tilt is the visual lean of the wheel, relative to Local.
	Tilt mgl64.Quat

	parent            *Parent
	world             *physics.World
	detached          *physics.Body
	upDir             mgl64.Vec3
	compression       float64
	flippedSideFactor float64
}

func NewHoverWheel(parent *Parent, local vmath.Pose) *HoverWheel {
	return &HoverWheel{
		Local:             local,
		FloatForce:        1,
		BufferFloatForce:  2,
		FloatForceCurve:   curve.Linear(0, 0, 1, 1),
		FloatExponent:     1,
		BrakeForce:        1,
		EbrakeForce:       2,
		VisualTiltRate:    10,
		VisualTiltAmount:  0.5,
		DetachForce:       math.Inf(1),
		Mass:              0.05,
		GetContact:        true,
		Connected:         true,
		Tilt:              mgl64.QuatIdent(),
		parent:            parent,
		flippedSideFactor: -1,
	}
}

func (h *HoverWheel) attach(world *physics.World) {
	h.world = world
	h.flippedSideFactor = -1
	if h.WorldPose().Forward().Dot(h.parent.Body.Pose().Right()) < 0 {
		h.flippedSideFactor = 1
	}
	h.BufferDistance = math.Min(h.HoverDistance, h.BufferDistance)
}

// WorldPose is the hover wheel pose in world space.
func (h *HoverWheel) WorldPose() vmath.Pose {
	return h.parent.Body.Pose().Mul(h.Local)
}

// Compression is the contact distance as a fraction of the hover distance.
func (h *HoverWheel) Compression() float64 { return h.compression }

func (h *HoverWheel) Simulate(ctx *sim.Context) {
	body := h.parent.Body
	pose := h.WorldPose()
	h.upDir = pose.Up()

	if h.GetContact {
		h.getContact(ctx, pose)
	} else if h.Grounded {
		h.Contact.Point = h.Contact.Point.Add(body.PointVelocity(pose.Position).Mul(ctx.TickDelta))
	}

	h.compression = 1
	if h.HoverDistance > 0 {
		h.compression = vmath.Clamp01(h.Contact.Distance / h.HoverDistance)
	}
	if h.Grounded && h.DoFloat && h.Connected {
		h.applyFloat(pose)
		h.applyFloatDrive(pose)
	}
	if h.Connected {
		h.tilt(ctx.TickDelta)
	}
}

func (h *HoverWheel) getContact(ctx *sim.Context, pose vmath.Pose) {
	localVel := h.parent.Body.PointVelocity(pose.Position)

	var (
		hit   physics.Hit
		valid bool
	)
	if ctx.World != nil {
		hitDist := math.Inf(1)
		owner := h.parent.Owner
		for _, c := range ctx.World.RaycastAll(pose.Position, h.upDir.Mul(-1), h.HoverDistance, ctx.WheelCastMask) {
			if owner != 0 && c.Collider.Owner == owner {
				continue
			}
			if c.Distance < hitDist {
				hit = c
				hitDist = c.Distance
				valid = true
			}
		}
	}

	if !valid {
		h.Grounded = false
		h.Contact = HoverContact{Distance: h.HoverDistance, Normal: h.upDir}
		return
	}
	h.Grounded = true
	h.Contact = HoverContact{
		Collider:         hit.Collider,
		Grounded:         true,
		Point:            hit.Point.Add(localVel.Mul(ctx.TickDelta)),
		Normal:           hit.Normal,
		RelativeVelocity: pose.InverseTransformDirection(localVel),
		Distance:         hit.Distance,
	}
}

func (h *HoverWheel) applyFloat(pose vmath.Pose) {
	vp := h.parent
	body := vp.Body
	travelVel := vp.Norm.InverseTransformDirection(body.PointVelocity(pose.Position))[2]

	lift := math.Pow(h.FloatForceCurve.Evaluate(1-h.compression), math.Max(1, h.FloatExponent)) -
		h.FloatDampening*vmath.Clamp(travelVel, -1, 1)
	body.AddForceAtPosition(h.upDir.Mul(h.FloatForce*lift), pose.Position, vp.SuspensionForceMode)

	if h.Contact.Distance < h.BufferDistance {
		buffer := h.BufferFloatForce * h.FloatForceCurve.Evaluate(h.Contact.Distance/h.BufferDistance) * vmath.Clamp(travelVel, -1, 0)
		body.AddForceAtPosition(h.upDir.Mul(-buffer), pose.Position, vp.SuspensionForceMode)
	}
}

func (h *HoverWheel) actualBrake() float64 {
	vp := h.parent
	brake := vmath.Clamp01(vp.AccelInput)
	if vp.LocalVelocity[2] > 0 {
		brake = vp.BrakeInput
	}
	return brake*h.BrakeForce + vp.EbrakeInput*h.EbrakeForce
}

func (h *HoverWheel) applyFloatDrive(pose vmath.Pose) {
	vp := h.parent
	rel := h.Contact.RelativeVelocity
	flip := h.flippedSideFactor

	x := (vmath.Clamp(h.TargetSpeed, -1, 1)*h.TargetForce - h.actualBrake()*math.Max(5, math.Abs(rel[0]))*vmath.Sign(rel[0])*flip) * flip
	z := -h.SteerRate*h.SteerFactor*flip - rel[2]*h.SideFriction
	force := pose.TransformDirection(mgl64.Vec3{x, 0, z}).Mul(1 - h.compression)
	vp.Body.AddForceAtPosition(force, pose.Position, vp.WheelForceMode)
}

// tilt leans the visual wheel into the drive and steer forces.
func (h *HoverWheel) tilt(dt float64) {
	rel := h.Contact.RelativeVelocity
	flip := h.flippedSideFactor
	side := vmath.Clamp(-h.SteerRate*h.SteerFactor*flip-vmath.Clamp(rel[2]*0.1, -1, 1)*h.SideFriction, -1, 1)
	forward := vmath.Clamp((vmath.Clamp(h.TargetSpeed, -1, 1)*h.TargetForce-h.actualBrake()*vmath.Clamp(rel[0]*0.1, -1, 1)*flip)*flip, -1, 1)

	dir := vmath.SafeNormalize(mgl64.Vec3{
		-forward * h.VisualTiltAmount,
		-1 + math.Abs(vmath.MaxAbs(side, forward))*h.VisualTiltAmount,
		-side * h.VisualTiltAmount,
	})
	target := vmath.LookRotation(dir, vmath.Forward)
	h.Tilt = vmath.Slerp(h.Tilt, target, vmath.Clamp01(h.VisualTiltRate*dt))
}

// Detach breaks the hover wheel off into a free body.
func (h *HoverWheel) Detach() {
	if !h.Connected || math.IsInf(h.DetachForce, 1) || h.world == nil {
		return
	}
	body := h.parent.Body
	h.Connected = false
	pose := h.WorldPose()
	h.detached = physics.NewBody(pose, h.Mass, mgl64.Vec3{0.5, 0.5, 0.5})
	h.detached.Velocity = body.PointVelocity(pose.Position)
	h.detached.AngularVelocity = body.AngularVelocity
	h.world.AddBody(h.detached)
	h.world.AddCollider(&physics.Collider{
		Shape:  physics.ShapeSphere,
		Radius: 0.25,
		Layer:  sim.LayerDebris,
		Body:   h.detached,
		Local:  vmath.Identity(),
	})
	body.Mass -= h.Mass
}

func (h *HoverWheel) Reattach() {
	if h.Connected {
		return
	}
	h.Connected = true
	if h.detached != nil && h.world != nil {
		h.world.RemoveBody(h.detached)
	}
	h.detached = nil
	h.parent.Body.Mass += h.Mass
}

func (h *HoverWheel) WriteFullState(w *state.Writer) {
	h.Contact.writeFull(w)
	w.WriteVec3(h.Local.Position)
	w.WriteQuat(h.Local.Rotation)
	w.WriteBool(h.GetContact)
	w.WriteBool(h.Grounded)
}

func (h *HoverWheel) ReadFullState(r *state.Reader) error {
	h.Contact.readFull(r, h.world)
	h.Local.Position = r.Vec3()
	h.Local.Rotation = r.Quat()
	h.GetContact = r.Bool()
	h.Grounded = r.Bool()
	return r.Err()
}

func (h *HoverWheel) WriteVisualState(w *state.Writer) {
	w.WriteVec3(h.Local.Position)
	w.WriteQuat(h.Local.Rotation)
}

func (h *HoverWheel) ReadVisualState(r *state.Reader) error {
	h.Local.Position = r.Vec3()
	h.Local.Rotation = r.Quat()
	return r.Err()
}

// HoverSteer turns steering input into a steer rate on its hover wheels, reduced with
// speed by SteerCurve.
type HoverSteer struct {
	activation
	noVisualState

	SteerRate         float64
	SteerCurve        *curve.Curve
	SteerCurveStretch float64
	SteeredWheels     []*HoverWheel

	parent      *Parent
	steerAmount float64
}

func NewHoverSteer(parent *Parent) *HoverSteer {
	return &HoverSteer{
		SteerRate:         1,
		SteerCurve:        curve.Linear(0, 1, 30, 0.1),
		SteerCurveStretch: 1,
		parent:            parent,
	}
}

func (s *HoverSteer) Simulate(*sim.Context) {
	speed := s.parent.LocalVelocity[2] / s.SteerCurveStretch
	s.steerAmount = s.parent.SteerInput * s.SteerCurve.Evaluate(math.Abs(speed))
	for _, w := range s.SteeredWheels {
		w.SteerRate = s.steerAmount * s.SteerRate
	}
}

func (s *HoverSteer) WriteFullState(w *state.Writer) {
	w.WriteFloat64(s.steerAmount)
}

func (s *HoverSteer) ReadFullState(r *state.Reader) error {
	s.steerAmount = r.Float64()
	return r.Err()
}
