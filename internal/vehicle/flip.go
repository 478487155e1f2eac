package vehicle

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/OCAP2/vehiclesim/internal/physics"
	"github.com/OCAP2/vehiclesim/internal/sim"
	"github.com/OCAP2/vehiclesim/internal/state"
	"github.com/OCAP2/vehiclesim/internal/vmath"
)

// FlipControl lets the driver rotate the vehicle in the air and levels it out for
// landing.
type FlipControl struct {
	activation
	noVisualState

	DisableDuringCrash   bool
	FlipPower            mgl64.Vec3
	FreeSpinFlip         bool
	StopFlip             bool
	RotationCorrection   mgl64.Vec3
	GroundCheckDistance  float64
	GroundSteepnessLimit float64
	DiveFactor           float64

	parent *Parent
	velDir mgl64.Quat
}

func NewFlipControl(parent *Parent) *FlipControl {
	return &FlipControl{
		GroundCheckDistance:  100,
		GroundSteepnessLimit: 0.5,
		parent:               parent,
		velDir:               mgl64.QuatIdent(),
	}
}

func (f *FlipControl) Simulate(ctx *sim.Context) {
	vp := f.parent
	if vp.GroundedWheels != 0 || (vp.Crashing && f.DisableDuringCrash) {
		return
	}
	f.velDir = vmath.LookRotation(ctx.WorldUp, vp.Body.Velocity)

	if f.FlipPower != vmath.Zero {
		f.applyFlip()
	}
	if f.StopFlip {
		f.applyStopFlip()
	}
	if f.RotationCorrection != vmath.Zero {
		f.applyRotationCorrection(ctx)
	}
	if f.DiveFactor > 0 {
		f.dive()
	}
}

// flipAxis is the torque on one axis: input drives the spin, and spinning against the
// input is braked first.
func flipAxis(input, power, angVel float64) float64 {
	if input != 0 && math.Abs(angVel) > 1 && vmath.SignZero(input*vmath.Sign(power)) != vmath.SignZero(angVel) {
		return -angVel * math.Abs(power)
	}
	return input*power - angVel*(1-math.Abs(input))*math.Abs(power)
}

func (f *FlipControl) applyFlip() {
	vp := f.parent
	in := mgl64.Vec3{vp.PitchInput, vp.YawInput, vp.RollInput}
	var torque mgl64.Vec3
	if f.FreeSpinFlip {
		torque = vmath.Scale(in, f.FlipPower)
	} else {
		for i := range torque {
			torque[i] = flipAxis(in[i], f.FlipPower[i], vp.LocalAngularVel[i])
		}
	}
	vp.Body.AddRelativeTorque(torque, physics.Acceleration)
}

func stopFactor(dot, angVel float64) float64 {
	return math.Pow(vmath.Clamp01(dot), vmath.Clamp(10-math.Abs(angVel), 2, 10)) * 10
}

func (f *FlipControl) applyStopFlip() {
	vp := f.parent
	av := vp.LocalAngularVel
	var factor mgl64.Vec3
	if vp.PitchInput*f.FlipPower[0] == 0 {
		factor[0] = stopFactor(vp.UpDot, av[0])
	}
	if vp.YawInput*f.FlipPower[1] == 0 && vp.SqrVelMag > 5 {
		factor[1] = stopFactor(vp.ForwardDir.Dot(f.velDir.Rotate(vmath.Up)), av[1])
	}
	if vp.RollInput*f.FlipPower[2] == 0 {
		factor[2] = stopFactor(vp.UpDot, av[2])
	}
	vp.Body.AddRelativeTorque(vmath.Scale(av.Mul(-1), factor), physics.Acceleration)
}

func (f *FlipControl) applyRotationCorrection(ctx *sim.Context) {
	vp := f.parent
	fwdDot, rightDot, upDot := vp.ForwardDot, vp.RightDot, vp.UpDot

	if f.GroundCheckDistance > 0 && ctx.World != nil {
		dir := vmath.SafeNormalize(ctx.WorldUp.Mul(-1).Add(vp.Body.Velocity))
		if hit, ok := ctx.World.Raycast(vp.Body.Position, dir, f.GroundCheckDistance, ctx.GroundMask); ok &&
			hit.Normal.Dot(ctx.WorldUp) >= f.GroundSteepnessLimit {
			fwdDot = vp.ForwardDir.Dot(hit.Normal)
			rightDot = vp.RightDir.Dot(hit.Normal)
			upDot = vp.UpDir.Dot(hit.Normal)
		}
	}

	av := vp.LocalAngularVel
	damp := upDot * upDot * 10
	var torque mgl64.Vec3
	if vp.PitchInput*f.FlipPower[0] == 0 {
		torque[0] = fwdDot*(1-math.Abs(rightDot))*f.RotationCorrection[0] - av[0]*damp
	}
	if vp.YawInput*f.FlipPower[1] == 0 && vp.SqrVelMag > 10 {
		torque[1] = vp.ForwardDir.Dot(f.velDir.Rotate(vmath.Right))*math.Abs(upDot)*f.RotationCorrection[1] - av[1]*damp
	}
	if vp.RollInput*f.FlipPower[2] == 0 {
		torque[2] = -rightDot*(1-math.Abs(fwdDot))*f.RotationCorrection[2] - av[2]*damp
	}
	vp.Body.AddRelativeTorque(torque, physics.Acceleration)
}

func (f *FlipControl) dive() {
	vp := f.parent
	torque := f.velDir.Rotate(vmath.Left).Mul(vmath.Clamp01(vp.VelMag*0.01) * vmath.Clamp01(vp.UpDot) * f.DiveFactor)
	vp.Body.AddTorque(torque, physics.Acceleration)
}

func (f *FlipControl) WriteFullState(*state.Writer)      {}
func (f *FlipControl) ReadFullState(*state.Reader) error { return nil }
