package vehicle

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/vehiclesim/internal/curve"
	"github.com/OCAP2/vehiclesim/internal/physics"
	"github.com/OCAP2/vehiclesim/internal/vmath"
)

func TestTorqueFactor(t *testing.T) {
	assert.Equal(t, 1.0, TorqueFactor(1, 3))
	assert.InDelta(t, 0.125, TorqueFactor(2, 3), 1e-12)
	assert.InDelta(t, 0.25, TorqueFactor(4, 1), 1e-12)
	assert.Equal(t, 0.0, TorqueFactor(0, 3))
}

func TestSetDrive(t *testing.T) {
	c := curve.Linear(0, 0, 1, 1)
	src := &DriveForce{RPM: 1200, Torque: 0.8, Curve: c, FeedbackRPM: 50}
	dst := NewDriveForce()
	dst.FeedbackRPM = 7

	dst.SetDrive(src)
	assert.Equal(t, 1200.0, dst.RPM)
	assert.Equal(t, 0.8, dst.Torque)
	assert.Same(t, c, dst.Curve)
	assert.Equal(t, 7.0, dst.FeedbackRPM, "feedback flows the other way")

	dst.SetDriveScaled(src, 0.5)
	assert.InDelta(t, 0.4, dst.Torque, 1e-12)
	assert.Equal(t, 1200.0, dst.RPM)
}

func testGears() []Gear {
	return []Gear{{Ratio: -5}, {Ratio: 0}, {Ratio: 5}, {Ratio: 3.5}}
}

func TestGearboxShift(t *testing.T) {
	tests := []struct {
		name        string
		skipNeutral bool
		from, dir   int
		want        int
	}{
		{"up", false, 2, 1, 3},
		{"up clamps at top", false, 3, 1, 3},
		{"down into neutral", false, 2, -1, 1},
		{"down skips neutral", true, 2, -1, 0},
		{"up skips neutral", true, 0, 1, 2},
		{"down clamps at reverse", true, 0, -1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGearbox(nil, testGears(), tt.from)
			g.SkipNeutral = tt.skipNeutral
			g.ShiftDelay = 0.2
			g.Shift(tt.dir)
			assert.Equal(t, tt.want, g.CurrentGear)
			assert.Equal(t, 0.2, g.ShiftTime)
		})
	}
}

func TestGearboxBrokenDoesNotShift(t *testing.T) {
	g := NewGearbox(nil, testGears(), 2)
	g.Health = 0
	g.Shift(1)
	g.ShiftToGear(0)
	assert.Equal(t, 2, g.CurrentGear)
}

func TestGearboxStartGearClamped(t *testing.T) {
	assert.Equal(t, 3, NewGearbox(nil, testGears(), 10).CurrentGear)
	assert.Equal(t, 0, NewGearbox(nil, testGears(), -2).CurrentGear)
}

func TestGearboxFirstGear(t *testing.T) {
	assert.Equal(t, 2, NewGearbox(nil, testGears(), 0).FirstGear())
	assert.Equal(t, 0, NewGearbox(nil, []Gear{{Ratio: 3}, {Ratio: 2}}, 0).FirstGear())
}

func TestGearboxCalculateRPMRanges(t *testing.T) {
	g := NewGearbox(nil, testGears(), 2)
	g.MaxRPM = 8
	g.CalculateRPMRanges()

	assert.InDelta(t, -1600*0.55, g.Gears[0].MinRPM, 1e-9)
	assert.Equal(t, 0.0, g.Gears[0].MaxRPM, "next gear is neutral")
	assert.Equal(t, Gear{}, g.Gears[1])
	assert.InDelta(t, 0.0, g.Gears[2].MinRPM, 1e-9)
	assert.InDelta(t, 1600*0.55, g.Gears[2].MaxRPM, 1e-9)

	top := 8000 / 3.5
	assert.InDelta(t, top*0.55, g.Gears[3].MaxRPM, 1e-9)
	assert.InDelta(t, (1600-(top-1600)*0.5)*0.55, g.Gears[3].MinRPM, 1e-9)
}

func TestGearboxStateClampsGear(t *testing.T) {
	src := NewGearbox(nil, []Gear{{Ratio: -4}, {Ratio: 0}, {Ratio: 4}, {Ratio: 3}, {Ratio: 2}, {Ratio: 1}}, 5)
	m := NewManager(nil)
	m.Register(src, OrderTransmission)
	blob := m.FullState()

	dst := NewGearbox(nil, testGears(), 2)
	m2 := NewManager(nil)
	m2.Register(dst, OrderTransmission)
	require.NoError(t, m2.SetFullState(blob))
	assert.Equal(t, 3, dst.CurrentGear)
}

func TestTransmissionFansOutToActiveDrives(t *testing.T) {
	g := NewGearbox(nil, testGears(), 2)
	a, b, off := NewDriveForce(), NewDriveForce(), NewDriveForce()
	off.Active = false
	a.FeedbackRPM, b.FeedbackRPM = 100, 300
	g.OutputDrives = []*DriveForce{a, b, off}
	g.newDrive.RPM = 500
	g.newDrive.Torque = 1

	g.setOutputDrives(2)
	assert.Equal(t, 500.0, a.RPM)
	assert.InDelta(t, 0.125, a.Torque, 1e-12)
	assert.Equal(t, 0.0, off.RPM)
	assert.InDelta(t, 400, g.TargetDrive.FeedbackRPM, 1e-9)
}

func TestContinuousZeroRatioIsSafe(t *testing.T) {
	c := NewContinuous(NewParent(physics.NewBody(vmath.Identity(), 1, mgl64.Vec3{1, 1, 1})))
	c.Automatic = false
	out := NewDriveForce()
	out.RPM = 99
	c.OutputDrives = []*DriveForce{out}
	c.TargetDrive.RPM = 1000
	m := NewManager(nil)
	m.Register(c, OrderTransmission)

	m.Simulate(newScene(t))
	assert.Equal(t, 0.0, c.CurrentRatio)
	assert.Equal(t, 0.0, out.RPM)
}
