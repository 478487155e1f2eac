// Package vehicle implements the per-tick vehicle simulation: drivetrain, wheels,
// suspension, hover parts, driver assists and the ordered scheduler that runs them.
package vehicle

import (
	"github.com/OCAP2/vehiclesim/internal/sim"
	"github.com/OCAP2/vehiclesim/internal/state"
)

// Schedule orders. Lower values run first within a tick.
const (
	OrderParent       = -140
	OrderAssist       = -130
	OrderSteering     = -120
	OrderHoverSteer   = -110
	OrderMotor        = -90
	OrderTransmission = -70
	OrderSuspension   = -40
	OrderWheel        = -30
	OrderHoverWheel   = -20
	OrderFlip         = 10
)

// Component is one simulated part of a vehicle. Components only touch shared state from
// inside Simulate, which the Manager calls on the simulation goroutine.
type Component interface {
	SetActive(active bool)
	Active() bool
	Simulate(ctx *sim.Context)
	WriteFullState(w *state.Writer)
	ReadFullState(r *state.Reader) error
	WriteVisualState(w *state.Writer)
	ReadVisualState(r *state.Reader) error
}

// activation is embedded by components for the SetActive/Active pair.
type activation struct {
	inactive bool
}

func (a *activation) SetActive(active bool) { a.inactive = !active }
func (a *activation) Active() bool          { return !a.inactive }

// noVisualState is embedded by components without visual state.
type noVisualState struct{}

func (noVisualState) WriteVisualState(*state.Writer)      {}
func (noVisualState) ReadVisualState(*state.Reader) error { return nil }
