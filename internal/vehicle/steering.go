package vehicle

import (
	"math"

	"github.com/OCAP2/vehiclesim/internal/curve"
	"github.com/OCAP2/vehiclesim/internal/sim"
	"github.com/OCAP2/vehiclesim/internal/state"
	"github.com/OCAP2/vehiclesim/internal/vmath"
)

// SteeringControl eases the steer angle of its suspensions towards the steering input,
// limited by speed through SteerCurve.
type SteeringControl struct {
	activation
	noVisualState

	SteerRate         float64
	SteerCurve        *curve.Curve
	LimitSteer        bool
	SteerCurveStretch float64
	ApplyInReverse    bool
	SteeredWheels     []*Suspension

	// Rotate drives SteerRotation, the roll of a steering wheel model in degrees.
	Rotate             bool
	MaxDegreesRotation float64
	RotationOffset     float64
	SteerRotation      float64

	parent      *Parent
	steerAmount float64
}

func NewSteeringControl(parent *Parent) *SteeringControl {
	return &SteeringControl{
		SteerRate:         0.1,
		SteerCurve:        curve.Linear(0, 1, 30, 0.1),
		LimitSteer:        true,
		SteerCurveStretch: 1,
		ApplyInReverse:    true,
		parent:            parent,
	}
}

func (s *SteeringControl) Simulate(ctx *sim.Context) {
	speed := s.parent.LocalVelocity[2] / s.SteerCurveStretch
	limit := 1.0
	if s.LimitSteer {
		if s.ApplyInReverse {
			speed = math.Abs(speed)
		}
		limit = s.SteerCurve.Evaluate(speed)
	}
	s.steerAmount = s.parent.SteerInput * limit

	rate := s.SteerRate * ctx.InverseFixedTimeFactor * ctx.TimeScale
	for _, susp := range s.SteeredWheels {
		target := s.steerAmount * susp.SteerFactor
		if !susp.SteerEnabled {
			target = 0
		}
		if susp.SteerInverted {
			target = -target
		}
		susp.SteerAngle = vmath.Lerp(susp.SteerAngle, target, rate)
	}

	if s.Rotate {
		s.SteerRotation = vmath.Lerp(s.SteerRotation, s.steerAmount*s.MaxDegreesRotation+s.RotationOffset, s.SteerRate*ctx.TimeScale)
	}
}

// SteerAmount is the speed limited steering input of the last tick.
func (s *SteeringControl) SteerAmount() float64 { return s.steerAmount }

func (s *SteeringControl) WriteFullState(*state.Writer)      {}
func (s *SteeringControl) ReadFullState(*state.Reader) error { return nil }
