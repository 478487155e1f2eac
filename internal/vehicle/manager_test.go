package vehicle

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"

	"github.com/OCAP2/vehiclesim/internal/sim"
	"github.com/OCAP2/vehiclesim/internal/state"
)

// recorder notes its name in a shared log when simulated.
type recorder struct {
	activation
	noVisualState
	name string
	log  *[]string
}

func (r *recorder) Simulate(*sim.Context)             { *r.log = append(*r.log, r.name) }
func (r *recorder) WriteFullState(*state.Writer)      {}
func (r *recorder) ReadFullState(*state.Reader) error { return nil }

func TestManagerRunsInOrder(t *testing.T) {
	var log []string
	m := NewManager(nil)
	add := func(name string, order int) *recorder {
		r := &recorder{name: name, log: &log}
		m.Register(r, order)
		return r
	}
	add("assist", OrderAssist)
	add("wheel", OrderWheel)
	add("parent", OrderParent)
	add("late", 1000)
	add("early", -1000)
	add("wheel2", OrderWheel)

	m.Simulate(sim.New(0.02, mgl64.Vec3{}))

	assert.Equal(t, []string{"early", "parent", "assist", "wheel", "wheel2", "late"}, log)
}

func TestManagerSkipsInactive(t *testing.T) {
	var log []string
	m := NewManager(nil)
	a := &recorder{name: "a", log: &log}
	b := &recorder{name: "b", log: &log}
	m.Register(b, 2)
	m.Register(a, 1)
	a.SetActive(false)

	m.Simulate(sim.New(0.02, mgl64.Vec3{}))
	assert.Equal(t, []string{"b"}, log)

	m.SetActive(true)
	m.Simulate(sim.New(0.02, mgl64.Vec3{}))
	assert.Equal(t, []string{"b", "a", "b"}, log)
}
