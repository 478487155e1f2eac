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

// VehicleAssist adds driver aids on top of the raw physics: drift spin and push,
// downforce, rolling back over and a fall speed limit.
type VehicleAssist struct {
	activation
	noVisualState

	BasedOnWheelsGrounded    bool
	DriftSpinAssist          float64
	DriftSpinSpeed           float64
	DriftSpinExponent        float64
	AutoSteerDrift           bool
	MaxDriftAngle            float64
	DriftSpinCurve           *curve.Curve
	DriftPush                float64
	StraightenAssist         bool
	Downforce                float64
	InvertDownforceInReverse bool
	ApplyDownforceInAir      bool
	DownforceCurve           *curve.Curve
	AutoRollOver             bool
	SteerRollOver            bool
	RollCheckDistance        float64
	RollOverForce            float64
	RollSpeedThreshold       float64
	// RollResetTime is how long the vehicle may stay rolled over before it is stood back
	// up. Negative disables the reset.
	RollResetTime         float64
	AngularDragOnJump     bool
	FallSpeedLimit        float64
	ApplyFallLimitUpwards bool

	RolledOver  bool
	AngDragTime float64

	parent             *Parent
	schedule           func(PendingAction)
	groundedFactor     float64
	targetDriftAngle   float64
	initialAngularDrag float64
	rolledOverTime     float64
}

func NewVehicleAssist(parent *Parent) *VehicleAssist {
	return &VehicleAssist{
		DriftSpinExponent:  1,
		MaxDriftAngle:      70,
		DriftSpinCurve:     curve.Linear(0, 0, 10, 1),
		Downforce:          1,
		DownforceCurve:     curve.Linear(0, 0, 20, 1),
		RollCheckDistance:  1,
		RollOverForce:      1,
		RollResetTime:      3,
		FallSpeedLimit:     math.Inf(1),
		parent:             parent,
		initialAngularDrag: parent.Body.AngularDrag,
	}
}

func (a *VehicleAssist) Simulate(ctx *sim.Context) {
	vp := a.parent
	body := vp.Body

	if vp.GroundedWheels > 0 {
		a.groundedFactor = 1
		if a.BasedOnWheelsGrounded {
			n := len(vp.Wheels)
			if vp.Hover {
				n = len(vp.HoverWheels)
			}
			if n > 0 {
				a.groundedFactor = float64(vp.GroundedWheels) / float64(n)
			}
		}
		a.AngDragTime = 20
		body.AngularDrag = a.initialAngularDrag

		if a.DriftSpinAssist > 0 {
			a.applySpinAssist()
		}
		if a.DriftPush > 0 {
			a.applyDriftPush()
		}
	} else if a.AngularDragOnJump {
		a.AngDragTime = math.Max(0, a.AngDragTime-ctx.TimeScale*ctx.InverseFixedTimeFactor)
		body.AngularDrag = a.initialAngularDrag
		if a.AngDragTime > 0 && vp.UpDot > 0.5 {
			body.AngularDrag = 10
		}
	}

	if a.Downforce > 0 {
		a.applyDownforce()
	}
	if a.AutoRollOver || a.SteerRollOver {
		a.rollOver(ctx)
	}
	a.checkRollReset(ctx)

	vy := vp.LocalVelocity[1]
	if math.Abs(vy) > a.FallSpeedLimit && (vy < 0 || a.ApplyFallLimitUpwards) {
		body.AddRelativeForce(vmath.Down.Mul(vy), physics.Acceleration)
	}
}

func (a *VehicleAssist) applySpinAssist() {
	vp := a.parent
	lv := vp.LocalVelocity
	var targetTurnSpeed float64

	if a.AutoSteerDrift {
		steerSign := 0.0
		if vp.SteerInput != 0 {
			steerSign = vmath.Sign(vp.SteerInput)
		}
		if steerSign != vmath.Sign(lv[0]) {
			a.targetDriftAngle = vp.SteerInput * -a.MaxDriftAngle
		} else {
			a.targetDriftAngle = steerSign * -a.MaxDriftAngle
		}
		velDir := vmath.SafeNormalize(mgl64.Vec3{lv[0], 0, lv[2]})
		rad := mgl64.DegToRad(a.targetDriftAngle)
		targetDir := vmath.SafeNormalize(mgl64.Vec3{math.Sin(rad), 0, math.Cos(rad)})
		torque := velDir.Sub(targetDir)
		targetTurnSpeed = torque.Len()*vmath.Sign(torque[2])*steerSign*a.DriftSpinSpeed -
			vp.LocalAngularVel[1]*vmath.Clamp01(velDir.Dot(targetDir))*2
	} else {
		dir := 1.0
		if lv[2] < 0 {
			if vp.AccelAxisIsBrake {
				dir = vmath.Sign(vp.AccelInput)
			} else {
				dir = vmath.Sign(vmath.MaxAbs(vp.AccelInput, -vp.BrakeInput))
			}
		}
		targetTurnSpeed = vp.SteerInput * a.DriftSpinSpeed * dir
	}

	spin := (targetTurnSpeed - vp.LocalAngularVel[1]) * a.DriftSpinAssist *
		a.DriftSpinCurve.Evaluate(math.Abs(math.Pow(lv[0], a.DriftSpinExponent))) * a.groundedFactor
	vp.Body.AddRelativeTorque(mgl64.Vec3{0, spin, 0}, physics.Acceleration)

	rightVelDot := vp.RightDir.Dot(vmath.SafeNormalize(vp.Body.Velocity))
	if a.StraightenAssist && vp.SteerInput == 0 && math.Abs(rightVelDot) < 0.1 && vp.SqrVelMag > 5 {
		vp.Body.AddRelativeTorque(mgl64.Vec3{0, rightVelDot * 100 * vmath.Sign(lv[2]) * a.DriftSpinAssist, 0}, physics.Acceleration)
	}
}

// applyDriftPush converts throttle into speed while sliding sideways, scaled by how far
// the velocity points away from forward.
func (a *VehicleAssist) applyDriftPush() {
	vp := a.parent
	lv := vp.LocalVelocity
	throttle := vp.AccelInput
	if !vp.AccelAxisIsBrake {
		throttle -= vp.BrakeInput
	}
	slide := 1 - math.Abs(vp.ForwardDir.Dot(vmath.SafeNormalize(vp.Body.Velocity)))
	push := math.Abs(throttle * math.Abs(lv[0]) * a.DriftPush * a.groundedFactor * slide)
	if push == 0 {
		return
	}
	// Norm maps local y onto forward along the ground.
	force := vp.Norm.TransformDirection(mgl64.Vec3{push * vmath.Sign(lv[0]), push * vmath.Sign(lv[2]), 0})
	vp.Body.AddForce(force, physics.Acceleration)
}

func (a *VehicleAssist) applyDownforce() {
	vp := a.parent
	if vp.GroundedWheels == 0 && !a.ApplyDownforceInAir {
		return
	}
	vz := vp.LocalVelocity[2]
	factor := a.groundedFactor
	if a.ApplyDownforceInAir {
		factor = 1
	}
	dir := 1.0
	if a.InvertDownforceInReverse {
		dir = vmath.Sign(vz)
	}
	eval := a.DownforceCurve.Evaluate(math.Abs(vz))
	vp.Body.AddRelativeForce(mgl64.Vec3{0, eval * -a.Downforce * factor * dir, 0}, physics.Acceleration)
	if a.InvertDownforceInReverse && vz < 0 {
		vp.Body.AddRelativeTorque(mgl64.Vec3{eval * a.Downforce * factor, 0, 0}, physics.Acceleration)
	}
}

func (a *VehicleAssist) rollOver(ctx *sim.Context) {
	vp := a.parent
	a.RolledOver = false
	if vp.GroundedWheels == 0 && vp.VelMag < a.RollSpeedThreshold && vp.UpDot < 0.8 && a.RollCheckDistance > 0 && ctx.World != nil {
		origin := vp.Body.Position
		for _, dir := range []mgl64.Vec3{vp.UpDir, vp.RightDir, vp.RightDir.Mul(-1)} {
			if _, ok := ctx.World.Raycast(origin, dir, a.RollCheckDistance, ctx.GroundMask); ok {
				a.RolledOver = true
				break
			}
		}
	}
	if !a.RolledOver {
		return
	}
	switch {
	case a.SteerRollOver && vp.SteerInput != 0:
		vp.Body.AddRelativeTorque(mgl64.Vec3{0, 0, -vp.SteerInput * a.RollOverForce}, physics.Acceleration)
	case a.AutoRollOver:
		vp.Body.AddRelativeTorque(mgl64.Vec3{0, 0, -vmath.Sign(vp.RightDot) * a.RollOverForce}, physics.Acceleration)
	}
}

func (a *VehicleAssist) checkRollReset(ctx *sim.Context) {
	if !a.RolledOver {
		a.rolledOverTime = 0
		return
	}
	a.rolledOverTime += ctx.TickDelta
	if a.RollResetTime >= 0 && a.rolledOverTime > a.RollResetTime && a.schedule != nil {
		a.schedule(ResetRotation{})
		a.rolledOverTime = 0
	}
}

func (a *VehicleAssist) WriteFullState(w *state.Writer) {
	w.WriteFloat64(a.parent.Body.AngularDrag)
	w.WriteFloat64(a.AngDragTime)
	w.WriteFloat64(a.rolledOverTime)
}

func (a *VehicleAssist) ReadFullState(r *state.Reader) error {
	a.parent.Body.AngularDrag = r.Float64()
	a.AngDragTime = r.Float64()
	a.rolledOverTime = r.Float64()
	return r.Err()
}
