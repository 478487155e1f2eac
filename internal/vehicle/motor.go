package vehicle

import (
	"math"

	"github.com/OCAP2/vehiclesim/internal/curve"
	"github.com/OCAP2/vehiclesim/internal/sim"
	"github.com/OCAP2/vehiclesim/internal/state"
	"github.com/OCAP2/vehiclesim/internal/vmath"
)

// MotorKind tells the motor variants apart.
type MotorKind int

const (
	MotorGas MotorKind = iota
	MotorHover
)

func (k MotorKind) String() string {
	if k == MotorHover {
		return "hover"
	}
	return "gas"
}

// Motor is implemented by GasMotor and HoverMotor only.
type Motor interface {
	Component
	Kind() MotorKind
	Health() float64
	base() *MotorBase
}

// MotorBase holds what both motor variants share: ignition, input response, boost and
// health.
type MotorBase struct {
	activation

	Ignition        bool
	Power           float64
	InputCurve      *curve.Curve
	CanBoost        bool
	Boost           float64
	BoostPowerCurve *curve.Curve
	MaxBoost        float64
	BoostBurnRate   float64
	Strength        float64

	TargetPitch float64
	Boosting    bool
	health      float64

	parent        *Parent
	actualInput   float64
	boostReleased bool
}

func newMotorBase(parent *Parent) MotorBase {
	return MotorBase{
		Ignition:        true,
		Power:           1,
		InputCurve:      curve.EaseInOut(0, 0, 1, 1),
		CanBoost:        true,
		Boost:           1,
		BoostPowerCurve: curve.EaseInOut(0, 0.1, 50, 0.2),
		MaxBoost:        1,
		BoostBurnRate:   0.01,
		Strength:        1,
		health:          1,
		parent:          parent,
	}
}

func (m *MotorBase) base() *MotorBase { return m }

func (m *MotorBase) Health() float64 { return m.health }

// SetHealth sets the engine health; it is clamped to [0,1] on the next tick.
func (m *MotorBase) SetHealth(h float64) { m.health = h }

func (m *MotorBase) simulateBoost(ctx *sim.Context, hover bool) {
	vp := m.parent
	m.health = vmath.Clamp01(m.health)
	if m.Boosting {
		m.Boost -= m.BoostBurnRate * ctx.TimeScale * 0.05 * ctx.InverseFixedTimeFactor
	}
	m.Boost = vmath.Clamp(m.Boost, 0, m.MaxBoost)

	vz := vp.LocalVelocity[2]
	moving := vp.AccelInput > 0 || vz > 1
	if hover {
		moving = vp.AccelInput != 0 || math.Abs(vz) > 1
	}
	if m.CanBoost && m.Ignition && m.health > 0 && !vp.Crashing && m.Boost > 0 && moving {
		if ((m.boostReleased && !m.Boosting) || m.Boosting) && vp.BoostButton {
			m.Boosting = true
			m.boostReleased = false
		} else {
			m.Boosting = false
		}
	} else {
		m.Boosting = false
	}
	if !vp.BoostButton {
		m.boostReleased = true
	}
	if !m.Ignition {
		m.TargetPitch = 0
	}
}

// boostFactor returns the boost curve value at the current speed and the multiplier it
// yields while boosting.
func (m *MotorBase) boostFactor() (eval, factor float64) {
	eval = m.BoostPowerCurve.Evaluate(math.Abs(m.parent.LocalVelocity[2]))
	if m.Boosting {
		return eval, 1 + eval
	}
	return eval, 1
}

func (m *MotorBase) writeFull(w *state.Writer) {
	w.WriteBool(m.Boosting)
	w.WriteFloat64(m.health)
}

func (m *MotorBase) readFull(r *state.Reader) {
	m.Boosting = r.Bool()
	m.health = r.Float64()
}

func (m *MotorBase) WriteVisualState(w *state.Writer) {
	w.WriteFloat64(m.health)
	w.WriteFloat64(m.TargetPitch)
}

func (m *MotorBase) ReadVisualState(r *state.Reader) error {
	m.health = r.Float64()
	m.TargetPitch = r.Float64()
	return r.Err()
}

// GasMotor is a combustion engine feeding torque into its output drives.
type GasMotor struct {
	MotorBase

	TorqueCurve      *curve.Curve
	Inertia          float64
	CanReverse       bool
	OutputDrives     []*DriveForce
	DriveDividePower float64
	// Transmission is consulted for shift timing only.
	Transmission              *Gearbox
	PitchIncreaseBetweenShift bool

	TargetDrive *DriveForce
	MaxRPM      float64
	Shifting    bool

	// downstream transmissions whose input is one of OutputDrives
	downstream  []Transmission
	actualAccel float64
	airPitch    float64
}

func NewGasMotor(parent *Parent) *GasMotor {
	m := &GasMotor{
		MotorBase:        newMotorBase(parent),
		TorqueCurve:      curve.EaseInOut(0, 0, 8, 1),
		DriveDividePower: 3,
		TargetDrive:      NewDriveForce(),
	}
	m.TargetDrive.Curve = m.TorqueCurve
	return m
}

func (m *GasMotor) Kind() MotorKind { return MotorGas }

// RefreshMaxRPM derives the rev limit from the torque curve, hands the curve to the
// outputs and makes downstream transmissions recompute their ranges.
func (m *GasMotor) RefreshMaxRPM() {
	m.MaxRPM = m.TorqueCurve.LastKeyTime()
	m.TargetDrive.Curve = m.TorqueCurve
	for _, out := range m.OutputDrives {
		out.Curve = m.TargetDrive.Curve
	}
	for _, t := range m.downstream {
		t.ResetMaxRPM()
	}
}

func (m *GasMotor) Simulate(ctx *sim.Context) {
	m.simulateBoost(ctx, false)
	vp := m.parent

	accel := vp.AccelInput
	if vp.BrakeIsReverse && vp.Reversing && vp.AccelInput <= 0 {
		accel = vp.BrakeInput
	}
	m.actualAccel = vmath.Lerp(accel, math.Max(vp.AccelInput, vp.Burnout), vp.Burnout)
	accelGet := m.actualAccel
	if !m.CanReverse {
		accelGet = vmath.Clamp01(accelGet)
	}
	m.actualInput = m.InputCurve.Evaluate(math.Abs(accelGet)) * vmath.Sign(accelGet)
	m.TargetDrive.Curve = m.TorqueCurve

	if m.Ignition {
		boostEval, boostFactor := m.boostFactor()
		rate := (1 - m.Inertia) * ctx.TimeScale
		m.TargetDrive.RPM = vmath.Lerp(m.TargetDrive.RPM, m.actualInput*m.MaxRPM*1000*boostFactor, rate)

		if m.TargetDrive.FeedbackRPM > m.TargetDrive.RPM {
			m.TargetDrive.Torque = 0
		} else {
			offset := 0.0
			if m.Boosting {
				offset = boostEval
			}
			m.TargetDrive.Torque = m.TorqueCurve.Evaluate(m.TargetDrive.FeedbackRPM*0.001-offset) *
				vmath.Lerp(m.TargetDrive.Torque, m.Power*math.Abs(vmath.SignZero(m.actualInput)), rate) *
				boostFactor * m.health
		}

		if n := len(m.OutputDrives); n > 0 {
			factor := TorqueFactor(n, m.DriveDividePower)
			var feedback float64
			for _, out := range m.OutputDrives {
				feedback += out.FeedbackRPM
				out.SetDriveScaled(m.TargetDrive, factor)
			}
			m.TargetDrive.FeedbackRPM = feedback / float64(n)
		}

		m.Shifting = m.Transmission != nil && m.Transmission.ShiftTime > 0
	} else {
		m.TargetDrive.RPM = 0
		m.TargetDrive.Torque = 0
		m.TargetDrive.FeedbackRPM = 0
		m.Shifting = false
		for _, out := range m.OutputDrives {
			out.SetDrive(m.TargetDrive)
		}
	}

	m.updatePitch(ctx)
}

func (m *GasMotor) updatePitch(ctx *sim.Context) {
	if !m.Ignition {
		return
	}
	vp := m.parent
	if vp.GroundedWheels > 0 || m.actualAccel != 0 {
		m.airPitch = 1
	} else {
		m.airPitch = vmath.Lerp(m.airPitch, 0, 0.5*ctx.TickDelta)
	}

	m.TargetPitch = 0
	if m.MaxRPM == 0 {
		return
	}
	factor := 0.5
	if m.actualAccel != 0 || vp.GroundedWheels == 0 {
		factor = 1
	}
	shift := 1.0
	if m.Shifting && m.Transmission.ShiftDelay > 0 {
		t := m.Transmission
		if m.PitchIncreaseBetweenShift {
			shift = math.Sin((t.ShiftTime / t.ShiftDelay) * math.Pi)
		} else {
			shift = math.Min(t.ShiftDelay, t.ShiftTime*t.ShiftTime) / t.ShiftDelay
		}
	}
	m.TargetPitch = math.Abs((m.TargetDrive.FeedbackRPM*0.001)/m.MaxRPM) * factor * shift * m.airPitch
}

func (m *GasMotor) WriteFullState(w *state.Writer) {
	m.MotorBase.writeFull(w)
	m.TargetDrive.writeFull(w)
	w.WriteFloat64(m.MaxRPM)
}

func (m *GasMotor) ReadFullState(r *state.Reader) error {
	m.MotorBase.readFull(r)
	m.TargetDrive.readFull(r)
	m.MaxRPM = r.Float64()
	return r.Err()
}

// HoverMotor drives hover wheels directly with a target speed and force.
type HoverMotor struct {
	MotorBase

	ForceCurve *curve.Curve
	Wheels     []*HoverWheel
}

func NewHoverMotor(parent *Parent) *HoverMotor {
	return &HoverMotor{
		MotorBase:  newMotorBase(parent),
		ForceCurve: curve.EaseInOut(0, 1, 50, 0),
	}
}

func (m *HoverMotor) Kind() MotorKind { return MotorHover }

func (m *HoverMotor) Simulate(ctx *sim.Context) {
	m.simulateBoost(ctx, true)
	vp := m.parent

	accel := vp.AccelInput
	if vp.BrakeIsReverse {
		accel -= vp.BrakeInput
	}
	m.actualInput = m.InputCurve.Evaluate(math.Abs(accel)) * vmath.Sign(accel)
	vz := math.Abs(vp.LocalVelocity[2])

	for _, w := range m.Wheels {
		if m.Ignition {
			boostEval, boostFactor := m.boostFactor()
			offset := 0.0
			if m.Boosting {
				offset = boostEval
			}
			w.TargetSpeed = m.actualInput * m.ForceCurve.LastKeyTime() * boostFactor
			w.TargetForce = math.Abs(m.actualInput) * m.ForceCurve.Evaluate(vz-offset) * m.Power * boostFactor * m.health
		} else {
			w.TargetSpeed = 0
			w.TargetForce = 0
		}
		w.DoFloat = m.Ignition && m.health > 0
	}

	if m.Ignition {
		m.TargetPitch = math.Max(math.Abs(m.actualInput), math.Abs(vp.SteerInput)*0.5) * (1 - m.ForceCurve.Evaluate(vz))
	}
}

func (m *HoverMotor) WriteFullState(w *state.Writer) {
	m.MotorBase.writeFull(w)
}

func (m *HoverMotor) ReadFullState(r *state.Reader) error {
	m.MotorBase.readFull(r)
	return r.Err()
}
