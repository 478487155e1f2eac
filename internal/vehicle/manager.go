package vehicle

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/OCAP2/vehiclesim/internal/physics"
	"github.com/OCAP2/vehiclesim/internal/sim"
	"github.com/OCAP2/vehiclesim/internal/state"
	"github.com/OCAP2/vehiclesim/internal/vmath"
)

// PendingAction is a deferred change to the vehicle body, applied by the Manager at the
// start of the next tick before any component runs.
type PendingAction interface {
	Apply(ctx *sim.Context, body *physics.Body)
}

// ResetRotation stands the vehicle back up keeping its heading, lifts it one metre and
// stops it.
type ResetRotation struct{}

func (ResetRotation) Apply(ctx *sim.Context, body *physics.Body) {
	body.Rotation = vmath.Euler(0, vmath.Yaw(body.Rotation), 0)
	body.Position = body.Position.Add(vmath.Up)
	body.Velocity = mgl64.Vec3{}
	body.AngularVelocity = mgl64.Vec3{}
	body.ClearForces()
}

// ReverseReset teleports the vehicle to Point facing Forward and stops it.
type ReverseReset struct {
	Point   mgl64.Vec3
	Forward mgl64.Vec3
}

func (a ReverseReset) Apply(ctx *sim.Context, body *physics.Body) {
	fwd := a.Forward
	if vmath.SqrLen(fwd) < vmath.Epsilon {
		fwd = vmath.Forward
	}
	body.Position = a.Point
	body.Rotation = vmath.LookRotation(fwd, ctx.WorldUp)
	body.Velocity = mgl64.Vec3{}
	body.AngularVelocity = mgl64.Vec3{}
	body.ClearForces()
}

type entry struct {
	component Component
	order     int
}

// Manager runs a vehicle's components in ascending order every tick and serializes their
// combined state in that same order.
type Manager struct {
	TickDelta float64

	body    *physics.Body
	entries []entry
	pending []PendingAction
}

// NewManager creates a manager whose pending actions act on body.
func NewManager(body *physics.Body) *Manager {
	return &Manager{body: body}
}

// Register adds a component. The schedule is re-sorted on every call; components with
// equal order keep their registration order.
func (m *Manager) Register(c Component, order int) {
	m.entries = append(m.entries, entry{component: c, order: order})
	sort.SliceStable(m.entries, func(i, j int) bool {
		return m.entries[i].order < m.entries[j].order
	})
}

// Components returns the schedule.
func (m *Manager) Components() []Component {
	out := make([]Component, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.component
	}
	return out
}

// Orders returns the order value of each scheduled component.
func (m *Manager) Orders() []int {
	out := make([]int, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.order
	}
	return out
}

// Schedule queues an action for the start of the next tick.
func (m *Manager) Schedule(a PendingAction) {
	m.pending = append(m.pending, a)
}

// Pending reports how many actions are queued.
func (m *Manager) Pending() int {
	return len(m.pending)
}

// Simulate advances every active component by one tick.
func (m *Manager) Simulate(ctx *sim.Context) {
	m.TickDelta = ctx.TickDelta

	if len(m.pending) > 0 && m.body != nil {
		actions := m.pending
		m.pending = nil
		for _, a := range actions {
			a.Apply(ctx, m.body)
		}
	}

	for _, e := range m.entries {
		if e.component.Active() {
			e.component.Simulate(ctx)
		}
	}
}

// SetActive enables or disables every component.
func (m *Manager) SetActive(active bool) {
	for _, e := range m.entries {
		e.component.SetActive(active)
	}
}

// FullState serializes the full state of all components, one section each.
func (m *Manager) FullState() []byte {
	return m.write(Component.WriteFullState)
}

// VisualState serializes the visual state of all components.
func (m *Manager) VisualState() []byte {
	return m.write(Component.WriteVisualState)
}

// SetFullState applies a blob produced by FullState. The blob is validated against the
// local layout first; on error no component is changed.
func (m *Manager) SetFullState(blob []byte) error {
	return m.read(blob, Component.WriteFullState, Component.ReadFullState)
}

// SetVisualState applies a blob produced by VisualState with the same guarantees as
// SetFullState.
func (m *Manager) SetVisualState(blob []byte) error {
	return m.read(blob, Component.WriteVisualState, Component.ReadVisualState)
}

func (m *Manager) write(fn func(Component, *state.Writer)) []byte {
	w := state.NewWriter()
	for _, e := range m.entries {
		w.BeginSection()
		fn(e.component, w)
		w.EndSection()
	}
	return w.Bytes()
}

func (m *Manager) read(blob []byte, write func(Component, *state.Writer), read func(Component, *state.Reader) error) error {
	r, err := state.NewReader(blob)
	if err != nil {
		return err
	}
	if r.SectionCount() != len(m.entries) {
		return fmt.Errorf("%d sections for %d components: %w", r.SectionCount(), len(m.entries), state.ErrSchemaMismatch)
	}

	// Every component writes a fixed layout, so comparing section sizes against the
	// local ones catches a mismatch before anything is touched.
	sections := make([]*state.Reader, len(m.entries))
	for i, e := range m.entries {
		sub, err := r.Section()
		if err != nil {
			return fmt.Errorf("component %d: %w", i, err)
		}
		probe := state.NewWriter()
		write(e.component, probe)
		if want := probe.Len(); sub.Remaining() != want {
			return fmt.Errorf("component %d (%T): section of %d bytes, want %d: %w",
				i, e.component, sub.Remaining(), want, state.ErrSchemaMismatch)
		}
		sections[i] = sub
	}
	if r.Remaining() != 0 {
		return fmt.Errorf("%d trailing bytes: %w", r.Remaining(), state.ErrSchemaMismatch)
	}

	var errs []error
	for i, e := range m.entries {
		if err := read(e.component, sections[i]); err != nil {
			errs = append(errs, fmt.Errorf("component %d (%T): %w", i, e.component, err))
			continue
		}
		if err := sections[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("component %d (%T): %w", i, e.component, err))
		}
	}
	return errors.Join(errs...)
}
