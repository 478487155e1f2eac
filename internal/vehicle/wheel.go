package vehicle

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/OCAP2/vehiclesim/internal/curve"
	"github.com/OCAP2/vehiclesim/internal/ground"
	"github.com/OCAP2/vehiclesim/internal/physics"
	"github.com/OCAP2/vehiclesim/internal/sim"
	"github.com/OCAP2/vehiclesim/internal/state"
	"github.com/OCAP2/vehiclesim/internal/vmath"
)

// SlipDependence selects how forward and sideways slip reduce each other.
type SlipDependence int

const (
	SlipDependent SlipDependence = iota
	SlipForward
	SlipSideways
	SlipIndependent
)

var slipDependenceNames = map[string]SlipDependence{
	"dependent":   SlipDependent,
	"forward":     SlipForward,
	"sideways":    SlipSideways,
	"independent": SlipIndependent,
}

// ParseSlipDependence maps a definition name to a mode; unknown names give SlipSideways.
func ParseSlipDependence(name string) SlipDependence {
	if m, ok := slipDependenceNames[name]; ok {
		return m
	}
	return SlipSideways
}

// WheelContact is the ground contact of a wheel.
type WheelContact struct {
	Collider         *physics.Collider
	Grounded         bool
	Point            mgl64.Vec3
	Normal           mgl64.Vec3
	RelativeVelocity mgl64.Vec3
	Distance         float64
	SurfaceFriction  float64
	SurfaceType      int
}

func (c *WheelContact) writeFull(w *state.Writer) {
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
	w.WriteFloat64(c.SurfaceFriction)
	w.WriteInt32(c.SurfaceType)
}

func (c *WheelContact) readFull(r *state.Reader, world *physics.World) {
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
	c.SurfaceFriction = r.Float64()
	c.SurfaceType = r.Int32()
}

// LandingImpact is reported when a wheel touches down after being airborne.
type LandingImpact struct {
	Wheel   *Wheel
	AirTime float64
	Popped  bool
}

// WheelOutput is what effects and telemetry read from a wheel after a tick.
type WheelOutput struct {
	Connected    bool
	Grounded     bool
	Popped       bool
	RPM          float64
	RawRPM       float64
	ForwardSlip  float64
	SidewaysSlip float64
	TirePressure float64
	TravelDist   float64
	SurfaceType  int
	ContactPoint mgl64.Vec3
	Normal       mgl64.Vec3
	Rim          vmath.Pose
}

// Wheel is a tyre on a suspension: it finds its ground contact, turns drive torque into
// rpm and pushes friction forces into the vehicle body.
type Wheel struct {
	activation

	GenerateHardCollider      bool
	FeedbackRPMBias           float64
	RPMBiasCurve              *curve.Curve
	RPMBiasCurveLimit         float64
	AxleFriction              float64
	FrictionSmoothness        float64
	ForwardFriction           float64
	SidewaysFriction          float64
	ForwardRimFriction        float64
	SidewaysRimFriction       float64
	ForwardCurveStretch       float64
	SidewaysCurveStretch      float64
	ForwardFrictionCurve      *curve.Curve
	SidewaysFrictionCurve     *curve.Curve
	SlipDependence            SlipDependence
	ForwardSlipDependence     float64
	SidewaysSlipDependence    float64
	NormalFrictionCurve       *curve.Curve
	CompressionFrictionFactor float64
	TireRadius                float64
	RimRadius                 float64
	TireWidth                 float64
	RimWidth                  float64
	TirePressure              float64
	Popped                    bool
	CanPop                    bool
	ApplyForceAtGroundContact bool
	DetachForce               float64
	Mass                      float64

	// OnLanding is called when the wheel lands after being airborne.
	OnLanding func(LandingImpact)

	Contact         WheelContact
	TargetDrive     *DriveForce
	Suspension      *Suspension
	ForwardSlip     float64
	SidewaysSlip    float64
	ActualRadius    float64
	UpdatedSize     bool
	UpdatedPopped   bool
	RawRPM          float64
	GetContact      bool
	Grounded        bool
	TravelDist      float64
	ContactVelocity mgl64.Vec3
	Damage          float64
	Connected       bool

	// Local is the wheel pose relative to its suspension; the rotation follows steering
	// and camber. Rim is relative to the wheel.
	Local vmath.Pose
	Rim   vmath.Pose

	parent   *Parent
	world    *physics.World
	hard     *physics.Collider
	detached *physics.Body

	localVel              mgl64.Vec3
	initialTirePressure   float64
	airTime               float64
	circumference         float64
	actualEbrake          float64
	actualTargetRPM       float64
	actualTorque          float64
	frictionForce         mgl64.Vec3
	airLeakTime           float64
	currentRPM            float64
	upDir                 mgl64.Vec3
	forceApplicationPoint mgl64.Vec3
	rimSpin               float64
	localYaw              float64

	rimWidthPrev, rimRadiusPrev             float64
	tireWidthPrev, tireRadiusPrev, presPrev float64
	poppedPrev                              bool
}

// NewWheel creates a wheel with default tuning and mounts it on susp.
func NewWheel(parent *Parent, susp *Suspension) *Wheel {
	w := &Wheel{
		GenerateHardCollider:      true,
		RPMBiasCurve:              curve.Linear(0, 0, 1, 1),
		RPMBiasCurveLimit:         math.Inf(1),
		FrictionSmoothness:        0.5,
		ForwardFriction:           1,
		SidewaysFriction:          1,
		ForwardRimFriction:        0.5,
		SidewaysRimFriction:       0.5,
		ForwardCurveStretch:       1,
		SidewaysCurveStretch:      1,
		ForwardFrictionCurve:      curve.Linear(0, 0, 1, 1),
		SidewaysFrictionCurve:     curve.Linear(0, 0, 1, 1),
		SlipDependence:            SlipSideways,
		ForwardSlipDependence:     2,
		SidewaysSlipDependence:    2,
		NormalFrictionCurve:       curve.Linear(0, 1, 1, 1),
		CompressionFrictionFactor: 0.5,
		TirePressure:              1,
		DetachForce:               math.Inf(1),
		Mass:                      0.05,
		TargetDrive:               NewDriveForce(),
		Suspension:                susp,
		GetContact:                true,
		Connected:                 true,
		Local:                     vmath.Identity(),
		Rim:                       vmath.Identity(),
		parent:                    parent,
		airLeakTime:               -1,
	}
	if susp != nil {
		susp.Wheel = w
	}
	return w
}

// ValidateDimensions reports wheel sizes the simulation cannot run with.
func (w *Wheel) ValidateDimensions() error {
	if !(w.RimRadius > 0) {
		return fmt.Errorf("rim radius %v: %w", w.RimRadius, ErrInvalidWheel)
	}
	return nil
}

// attach readies the wheel for simulation in world: it records the starting tyre state
// and creates the hard collider under hardID.
func (w *Wheel) attach(world *physics.World, owner, hardID uint32) {
	w.world = world
	w.initialTirePressure = w.TirePressure
	w.ActualRadius = w.radius()
	if w.Suspension != nil {
		w.TravelDist = w.Suspension.TargetCompression
	}
	if w.GenerateHardCollider && world != nil {
		w.hard = world.AddCollider(&physics.Collider{
			ID:     hardID,
			Shape:  physics.ShapeSphere,
			Radius: math.Min(w.RimWidth*0.5, w.RimRadius*0.5),
			Layer:  sim.LayerWheel,
			Owner:  owner,
			Body:   w.parent.Body,
			Local:  vmath.Identity(),
		})
		w.rimWidthPrev, w.rimRadiusPrev = w.RimWidth, w.RimRadius
		w.tireWidthPrev, w.tireRadiusPrev, w.presPrev = w.TireWidth, w.TireRadius, w.TirePressure
	}
	w.poppedPrev = w.Popped
}

func (w *Wheel) radius() float64 {
	if w.Popped {
		return w.RimRadius
	}
	return vmath.Lerp(w.RimRadius, w.TireRadius, w.TirePressure)
}

// WorldPose is the wheel pose in world space.
func (w *Wheel) WorldPose() vmath.Pose {
	return w.Suspension.WorldPose().Mul(w.Local)
}

// RimPose is the rim pose in world space.
func (w *Wheel) RimPose() vmath.Pose {
	return w.WorldPose().Mul(w.Rim)
}

// CurrentRPM is the wheel rpm after drive and brakes.
func (w *Wheel) CurrentRPM() float64 { return w.currentRPM }

// HardCollider returns the sphere collider following the rim, nil when disabled.
func (w *Wheel) HardCollider() *physics.Collider { return w.hard }

// DetachedBody returns the free wheel body while detached.
func (w *Wheel) DetachedBody() *physics.Body { return w.detached }

func (w *Wheel) Simulate(ctx *sim.Context) {
	susp := w.Suspension
	vp := w.parent
	body := vp.Body
	dt := ctx.TickDelta

	pose := w.WorldPose()
	w.upDir = pose.Up()
	w.ActualRadius = w.radius()
	w.circumference = math.Pi * w.ActualRadius * 2
	w.localVel = body.PointVelocity(w.forceApplicationPoint)
	w.actualEbrake = 0
	if susp.EbrakeEnabled {
		w.actualEbrake = susp.EbrakeForce
	}
	w.actualTargetRPM = w.TargetDrive.RPM
	if susp.DriveInverted {
		w.actualTargetRPM = -w.actualTargetRPM
	}
	w.actualTorque = 0
	if susp.DriveEnabled {
		w.actualTorque = vmath.Lerp(w.TargetDrive.Torque, math.Abs(vp.AccelInput), vp.Burnout)
	}

	if w.GetContact {
		w.getWheelContact(ctx, pose)
	} else if w.Grounded {
		w.Contact.Point = w.Contact.Point.Add(w.localVel.Mul(dt))
	}

	if w.Grounded {
		w.airTime = 0
	} else {
		w.airTime += dt
	}
	w.forceApplicationPoint = pose.Position
	if w.ApplyForceAtGroundContact {
		w.forceApplicationPoint = w.Contact.Point
	}

	if w.Connected {
		w.getRawRPM(ctx)
		w.applyDrive(ctx)
	} else {
		w.RawRPM = 0
		w.currentRPM = 0
		w.TargetDrive.FeedbackRPM = 0
	}

	if susp.Compression < w.TravelDist || w.Grounded {
		w.TravelDist = susp.Compression
	} else {
		w.TravelDist = vmath.Lerp(w.TravelDist, susp.Compression, susp.ExtendSpeed*dt)
	}

	w.positionWheel()
	w.rotateWheel(dt)

	if !w.Connected {
		return
	}
	if w.GenerateHardCollider {
		w.updateHardColliderSize()
	}
	w.getSlip()
	w.applyFriction(ctx)

	if vp.Burnout > 0 && w.TargetDrive.RPM != 0 && w.actualEbrake*vp.EbrakeInput == 0 && w.Grounded {
		popped := 1.0
		if w.Popped {
			popped = 0.5
		}
		force := susp.ForwardDir.Mul(-susp.FlippedSideFactor *
			(vp.SteerInput * vp.BurnoutSpin * w.currentRPM * math.Min(0.1, w.TargetDrive.Torque) * 0.001) *
			vp.Burnout * popped * w.Contact.SurfaceFriction)
		body.AddForceAtPosition(force, susp.WorldPose().Position, vp.WheelForceMode)
	}

	w.UpdatedPopped = w.poppedPrev != w.Popped
	w.poppedPrev = w.Popped

	if w.airLeakTime >= 0 {
		w.TirePressure = vmath.Clamp01(w.TirePressure - dt*0.5)
		if w.Grounded {
			w.airLeakTime += math.Max(math.Abs(w.currentRPM)*0.001, w.localVel.Len()*0.1) *
				ctx.TimeScale * ctx.InverseFixedTimeFactor
			if w.airLeakTime > 1000 && w.TirePressure == 0 {
				w.Popped = true
				w.airLeakTime = -1
			}
		}
	}

	if ctx.Trace.Enabled() {
		wp := w.WorldPose()
		ctx.Trace.Record("Wheel:position=%v rotation=%v", wp.Position, wp.Rotation)
	}
}

func (w *Wheel) updateHardColliderSize() {
	switch {
	case w.rimWidthPrev != w.RimWidth || w.rimRadiusPrev != w.RimRadius:
		if w.hard != nil {
			w.hard.Radius = math.Min(w.RimWidth*0.5, w.RimRadius*0.5)
		}
		w.UpdatedSize = true
	case w.tireWidthPrev != w.TireWidth || w.tireRadiusPrev != w.TireRadius || w.presPrev != w.TirePressure:
		w.UpdatedSize = true
	default:
		w.UpdatedSize = false
	}
	w.rimWidthPrev, w.rimRadiusPrev = w.RimWidth, w.RimRadius
	w.tireWidthPrev, w.tireRadiusPrev, w.presPrev = w.TireWidth, w.TireRadius, w.TirePressure
}

func (w *Wheel) getWheelContact(ctx *sim.Context, pose vmath.Pose) {
	susp := w.Suspension
	castDist := math.Max(susp.SuspensionDistance*math.Max(0.001, susp.TargetCompression)+w.ActualRadius, 0.001)

	var (
		hit   physics.Hit
		valid bool
	)
	if w.Connected && ctx.World != nil {
		hitDist := math.Inf(1)
		owner := w.parent.Owner
		for _, h := range ctx.World.RaycastAll(susp.MaxCompressPoint, susp.SpringDirection, castDist, ctx.WheelCastMask) {
			if owner != 0 && h.Collider.Owner == owner {
				continue
			}
			if h.Distance < hitDist {
				hit = h
				hitDist = h.Distance
				valid = true
			}
		}
	}

	if !valid {
		w.Grounded = false
		w.Contact = WheelContact{
			Distance: susp.SuspensionDistance,
			Normal:   w.upDir,
		}
		w.ContactVelocity = mgl64.Vec3{}
		return
	}

	if !w.Grounded && w.OnLanding != nil {
		w.OnLanding(LandingImpact{Wheel: w, AirTime: w.airTime, Popped: w.Popped})
	}

	dt := ctx.TickDelta
	w.Grounded = true
	c := &w.Contact
	c.Distance = hit.Distance - w.ActualRadius
	c.Point = hit.Point.Add(w.localVel.Mul(dt))
	c.Grounded = true
	c.Normal = hit.Normal
	c.RelativeVelocity = pose.InverseTransformDirection(w.localVel)
	c.Collider = hit.Collider

	if other := hit.Collider.Body; other != nil {
		w.ContactVelocity = other.PointVelocity(c.Point)
		c.RelativeVelocity = c.RelativeVelocity.Sub(pose.InverseTransformDirection(w.ContactVelocity))
	} else {
		w.ContactVelocity = mgl64.Vec3{}
	}

	switch {
	case hit.Collider.Surface != nil:
		c.SurfaceFriction = hit.Collider.Surface.Friction
		c.SurfaceType = hit.Collider.Surface.SurfaceType
	case hit.Collider.Terrain != nil:
		c.SurfaceType = hit.Collider.Terrain.DominantSurfaceTypeAt(c.Point)
		c.SurfaceFriction = hit.Collider.Terrain.Friction(c.SurfaceType)
	default:
		c.SurfaceFriction = ground.ColliderFriction(hit.Collider.Material)
		c.SurfaceType = 0
	}

	if hit.Collider.HasTag(physics.TagPopTire) && w.CanPop && w.airLeakTime == -1 && !w.Popped {
		w.Deflate()
	}
}

func (w *Wheel) getRawRPM(ctx *sim.Context) {
	if w.Grounded {
		w.RawRPM = (w.Contact.RelativeVelocity[0] / w.circumference) * (math.Pi * 100) * -w.Suspension.FlippedSideFactor
		return
	}
	vp := w.parent
	rate := (w.actualTorque + w.Suspension.BrakeForce*vp.BrakeInput + w.actualEbrake*vp.EbrakeInput) * ctx.TimeScale
	w.RawRPM = vmath.Lerp(w.RawRPM, w.actualTargetRPM, rate)
}

func (w *Wheel) getSlip() {
	if !w.Grounded {
		w.SidewaysSlip = 0
		w.ForwardSlip = 0
		return
	}
	w.SidewaysSlip = (w.Contact.RelativeVelocity[2] * 0.1) / w.SidewaysCurveStretch
	w.ForwardSlip = (0.01 * (w.RawRPM - w.currentRPM)) / w.ForwardCurveStretch
}

// slipFactors returns the slip values fed into the friction curves for the current
// dependence mode.
func (w *Wheel) slipFactors() (forward, sideways float64) {
	forward, sideways = w.ForwardSlip, w.SidewaysSlip
	if w.SlipDependence == SlipDependent || w.SlipDependence == SlipForward {
		forward = w.ForwardSlip - w.SidewaysSlip
	}
	if w.SlipDependence == SlipDependent || w.SlipDependence == SlipSideways {
		sideways = w.SidewaysSlip - w.ForwardSlip
	}
	return forward, sideways
}

func (w *Wheel) applyFriction(ctx *sim.Context) {
	if !w.Grounded {
		return
	}
	vp := w.parent
	susp := w.Suspension

	fwdFactor, sideFactor := w.slipFactors()
	fwdDep := vmath.Clamp01(w.ForwardSlipDependence - vmath.Clamp01(math.Abs(w.SidewaysSlip)))
	sideDep := vmath.Clamp01(w.SidewaysSlipDependence - vmath.Clamp01(math.Abs(w.ForwardSlip)))

	fwdFriction, sideFriction := w.ForwardFriction, w.SidewaysFriction
	if w.Popped {
		fwdFriction, sideFriction = w.ForwardRimFriction, w.SidewaysRimFriction
	}
	burnout := 1.0
	if vp.Burnout > 0 && math.Abs(w.TargetDrive.RPM) != 0 && w.actualEbrake*vp.EbrakeInput == 0 {
		burnout = (1 - vp.Burnout) * (1 - math.Abs(vp.AccelInput))
	}

	targetX := w.ForwardFrictionCurve.Evaluate(math.Abs(fwdFactor)) * -vmath.SignZero(w.ForwardSlip) *
		fwdFriction * fwdDep * -susp.FlippedSideFactor
	targetZ := w.SidewaysFrictionCurve.Evaluate(math.Abs(sideFactor)) * -vmath.SignZero(w.SidewaysSlip) *
		sideFriction * sideDep *
		w.NormalFrictionCurve.Evaluate(vmath.Clamp01(w.Contact.Normal.Dot(ctx.WorldUp))) * burnout

	if ctx.Trace.Enabled() {
		ctx.Trace.Record("Wheel:forwardSlipFactor=%.7f forwardSlip=%.7f sidewaysSlipFactor=%.7f sidewaysSlip=%.7f",
			fwdFactor, w.ForwardSlip, sideFactor, w.SidewaysSlip)
	}

	target := w.WorldPose().TransformDirection(mgl64.Vec3{targetX, 0, targetZ})
	suspVel := susp.WorldPose().InverseTransformDirection(w.localVel)
	cff := w.CompressionFrictionFactor
	mult := ((1 - cff) + (1-susp.Compression)*cff*vmath.Clamp01(math.Abs(suspVel[2])*10)) * w.Contact.SurfaceFriction

	w.frictionForce = vmath.LerpVec(w.frictionForce, target.Mul(mult), 1-w.FrictionSmoothness)
	vp.Body.AddForceAtPosition(w.frictionForce, w.forceApplicationPoint, vp.WheelForceMode)
	if c := w.Contact.Collider; c != nil && c.Body != nil {
		c.Body.AddForceAtPosition(w.frictionForce.Mul(-1), w.Contact.Point, vp.WheelForceMode)
	}
}

func (w *Wheel) applyDrive(ctx *sim.Context) {
	vp := w.parent
	susp := w.Suspension

	check := vp.LocalVelocity[2]
	if susp.SkidSteerBrake {
		check = vp.LocalAngularVel[1]
	}
	brake := susp.BrakeForce * vp.BrakeInput
	if vp.BrakeIsReverse && check <= 0 {
		brake = susp.BrakeForce * vmath.Clamp01(vp.AccelInput)
	}
	if vmath.Approximately(w.actualTorque, 0) {
		brake += w.AxleFriction * 0.1
	}
	if w.TargetDrive.RPM != 0 {
		brake *= 1 - vp.Burnout
	}

	if susp.Jammed || !w.Connected {
		w.currentRPM = 0
		w.TargetDrive.FeedbackRPM = 0
		return
	}

	ebrake := w.actualEbrake * vp.EbrakeInput
	validTorque := (!(vmath.Approximately(w.actualTorque, 0) && math.Abs(w.actualTargetRPM) < 0.01) &&
		!vmath.Approximately(w.actualTargetRPM, 0)) || brake+ebrake > 0

	inner := w.actualTorque
	outer := w.actualTorque + brake + ebrake
	if validTorque {
		inner = w.evaluateTorque(inner)
		outer = w.evaluateTorque(outer)
	}

	if ctx.Trace.Enabled() {
		ctx.Trace.Record("Wheel:rawRPM=%v targetRPM=%v torque=%v brake=%v ebrake=%v validTorque=%v",
			w.RawRPM, w.actualTargetRPM, w.actualTorque, brake, ebrake, validTorque)
	}

	w.currentRPM = vmath.Lerp(w.RawRPM,
		vmath.Lerp(vmath.Lerp(w.RawRPM, w.actualTargetRPM, inner), 0, math.Max(brake, ebrake)),
		outer)
	w.TargetDrive.FeedbackRPM = vmath.Lerp(w.currentRPM, w.RawRPM, w.FeedbackRPMBias)
}

func (w *Wheel) evaluateTorque(t float64) float64 {
	return vmath.Lerp(w.RPMBiasCurve.Evaluate(t), t, w.RawRPM/(w.RPMBiasCurveLimit*vmath.Sign(w.actualTargetRPM)))
}

// positionWheel places the rim along the spring direction at the current travel.
func (w *Wheel) positionWheel() {
	susp := w.Suspension
	suspPose := susp.WorldPose()
	yaw := mgl64.DegToRad(w.localYaw)
	lean := math.Max(math.Abs(math.Sin(mgl64.DegToRad(susp.SideAngle))), math.Abs(math.Sin(mgl64.DegToRad(susp.CasterAngle))))

	rimWorld := susp.MaxCompressPoint.
		Add(susp.SpringDirection.Mul(susp.SuspensionDistance * w.TravelDist)).
		Add(susp.UpDir.Mul(lean * lean * w.ActualRadius)).
		Add(suspPose.TransformDirection(mgl64.Vec3{math.Sin(yaw), 0, math.Cos(yaw)}).Mul(susp.PivotOffset)).
		Sub(susp.ForwardDir.Mul(susp.PivotOffset))

	w.Rim.Position = w.WorldPose().InverseTransformPoint(rimWorld)

	if w.GenerateHardCollider && w.Connected && w.hard != nil {
		w.hard.Local.Position = w.parent.Body.Pose().InverseTransformPoint(rimWorld)
	}
}

// rotateWheel applies steering, camber and toe to the wheel and spins the rim.
func (w *Wheel) rotateWheel(dt float64) {
	susp := w.Suspension
	ackermann := 1 - susp.AckermannFactor
	if vmath.Sign(susp.SteerAngle) == susp.FlippedSideFactor {
		ackermann = 1 + susp.AckermannFactor
	}
	x := susp.CamberAngle + susp.CasterAngle*susp.SteerAngle*susp.FlippedSideFactor
	w.localYaw = -susp.ToeAngle*susp.FlippedSideFactor + susp.SteerDegrees*ackermann
	w.Local.Rotation = vmath.Euler(x, w.localYaw, 0)

	w.rimSpin = math.Mod(w.rimSpin+w.currentRPM*susp.FlippedSideFactor*dt, 360)
	var wx, wy float64
	if w.Damage > 0 {
		d := vmath.Clamp(w.Damage, 0, 10)
		wx = math.Sin(mgl64.DegToRad(-w.rimSpin)) * d
		wy = math.Cos(mgl64.DegToRad(-w.rimSpin)) * d
	}
	w.Rim.Rotation = vmath.Euler(wx, wy, w.rimSpin)
}

// Deflate starts an air leak.
func (w *Wheel) Deflate() {
	w.airLeakTime = 0
}

// FixTire restores the tyre to its initial pressure.
func (w *Wheel) FixTire() {
	w.Popped = false
	w.TirePressure = w.initialTirePressure
	w.airLeakTime = -1
}

// Leaking reports whether the tyre is losing air.
func (w *Wheel) Leaking() bool { return w.airLeakTime >= 0 }

// Detach breaks the wheel off the vehicle into a free body that keeps the rim's motion.
// Only wheels with a finite DetachForce can detach.
func (w *Wheel) Detach() {
	if !w.Connected || math.IsInf(w.DetachForce, 1) || w.world == nil {
		return
	}
	body := w.parent.Body
	w.Connected = false

	rim := w.RimPose()
	w.detached = physics.NewBody(rim, w.Mass, mgl64.Vec3{w.ActualRadius * 2, w.ActualRadius * 2, w.RimWidth * 2})
	w.detached.Velocity = body.PointVelocity(rim.Position)
	w.detached.AngularVelocity = body.AngularVelocity
	w.world.AddBody(w.detached)
	radius := w.ActualRadius
	if w.Popped || w.airLeakTime >= 0 {
		radius = w.RimRadius
	}
	w.world.AddCollider(&physics.Collider{
		Shape:  physics.ShapeSphere,
		Radius: radius,
		Layer:  sim.LayerDebris,
		Body:   w.detached,
		Local:  vmath.Identity(),
	})

	body.Mass -= w.Mass
	if w.hard != nil {
		w.world.RemoveCollider(w.hard)
	}
}

// Reattach puts a detached wheel back on its suspension.
func (w *Wheel) Reattach() {
	if w.Connected {
		return
	}
	w.Connected = true
	if w.detached != nil && w.world != nil {
		w.world.RemoveBody(w.detached)
	}
	w.detached = nil
	w.parent.Body.Mass += w.Mass
	if w.hard != nil && w.world != nil {
		w.world.AddCollider(w.hard)
	}
}

// Output returns the wheel snapshot for effects and telemetry.
func (w *Wheel) Output() WheelOutput {
	return WheelOutput{
		Connected:    w.Connected,
		Grounded:     w.Grounded,
		Popped:       w.Popped,
		RPM:          w.currentRPM,
		RawRPM:       w.RawRPM,
		ForwardSlip:  w.ForwardSlip,
		SidewaysSlip: w.SidewaysSlip,
		TirePressure: w.TirePressure,
		TravelDist:   w.TravelDist,
		SurfaceType:  w.Contact.SurfaceType,
		ContactPoint: w.Contact.Point,
		Normal:       w.Contact.Normal,
		Rim:          w.RimPose(),
	}
}

func (w *Wheel) WriteFullState(s *state.Writer) {
	w.Contact.writeFull(s)
	w.TargetDrive.writeFull(s)
	s.WriteVec3(w.Local.Position)
	s.WriteQuat(w.Local.Rotation)
	s.WriteVec3(w.Rim.Position)
	s.WriteQuat(w.Rim.Rotation)
	s.WriteFloat64(w.rimSpin)
	s.WriteFloat64(w.localYaw)
	s.WriteFloat64(w.RawRPM)
	s.WriteBool(w.GetContact)
	s.WriteBool(w.Grounded)
	s.WriteBool(w.Popped)
	s.WriteFloat64(w.TravelDist)
	s.WriteVec3(w.ContactVelocity)
	s.WriteFloat64(w.Damage)
	s.WriteFloat64(w.ActualRadius)
	s.WriteFloat64(w.TirePressure)
	s.WriteVec3(w.frictionForce)
	s.WriteFloat64(w.airLeakTime)
	s.WriteVec3(w.forceApplicationPoint)
	s.WriteFloat64(w.airTime)
}

func (w *Wheel) ReadFullState(r *state.Reader) error {
	w.Contact.readFull(r, w.world)
	w.TargetDrive.readFull(r)
	w.Local.Position = r.Vec3()
	w.Local.Rotation = r.Quat()
	w.Rim.Position = r.Vec3()
	w.Rim.Rotation = r.Quat()
	w.rimSpin = r.Float64()
	w.localYaw = r.Float64()
	w.RawRPM = r.Float64()
	w.GetContact = r.Bool()
	w.Grounded = r.Bool()
	w.Popped = r.Bool()
	w.TravelDist = r.Float64()
	w.ContactVelocity = r.Vec3()
	w.Damage = r.Float64()
	w.ActualRadius = r.Float64()
	w.TirePressure = r.Float64()
	w.frictionForce = r.Vec3()
	w.airLeakTime = r.Float64()
	w.forceApplicationPoint = r.Vec3()
	w.airTime = r.Float64()
	return r.Err()
}

func (w *Wheel) WriteVisualState(s *state.Writer) {
	s.WriteVec3(w.Local.Position)
	s.WriteQuat(w.Local.Rotation)
	s.WriteVec3(w.Rim.Position)
	s.WriteQuat(w.Rim.Rotation)
}

func (w *Wheel) ReadVisualState(r *state.Reader) error {
	w.Local.Position = r.Vec3()
	w.Local.Rotation = r.Quat()
	w.Rim.Position = r.Vec3()
	w.Rim.Rotation = r.Quat()
	return r.Err()
}
