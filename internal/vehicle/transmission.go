package vehicle

import (
	"math"

	"github.com/OCAP2/vehiclesim/internal/sim"
	"github.com/OCAP2/vehiclesim/internal/state"
	"github.com/OCAP2/vehiclesim/internal/vmath"
)

// TransmissionKind tells the transmission variants apart.
type TransmissionKind int

const (
	TransmissionGearbox TransmissionKind = iota
	TransmissionContinuous
)

func (k TransmissionKind) String() string {
	if k == TransmissionContinuous {
		return "continuous"
	}
	return "gearbox"
}

// Transmission is implemented by Gearbox and Continuous only.
type Transmission interface {
	Component
	Kind() TransmissionKind
	// ResetMaxRPM makes the transmission re-read the rev limit from its input curve on
	// the next tick.
	ResetMaxRPM()
	base() *TransmissionBase
}

// TransmissionBase converts the drive coming from the engine into the drive of its
// outputs.
type TransmissionBase struct {
	activation
	noVisualState

	Strength         float64
	Automatic        bool
	SkidSteerDrive   bool
	OutputDrives     []*DriveForce
	DriveDividePower float64

	TargetDrive *DriveForce
	Health      float64
	MaxRPM      float64

	parent   *Parent
	newDrive *DriveForce
}

func newTransmissionBase(parent *Parent) TransmissionBase {
	return TransmissionBase{
		Strength:         1,
		DriveDividePower: 3,
		TargetDrive:      NewDriveForce(),
		Health:           1,
		MaxRPM:           -1,
		parent:           parent,
		newDrive:         NewDriveForce(),
	}
}

func (t *TransmissionBase) base() *TransmissionBase { return t }

func (t *TransmissionBase) ResetMaxRPM() { t.MaxRPM = -1 }

// curveLimit is the last key time of the input curve, or 0 without one.
func (t *TransmissionBase) curveLimit() float64 {
	if t.TargetDrive.Curve == nil {
		return 0
	}
	return t.TargetDrive.Curve.LastKeyTime()
}

// setOutputDrives fans the converted drive out to the active outputs and reports their
// averaged feedback upstream scaled by ratio.
func (t *TransmissionBase) setOutputDrives(ratio float64) {
	enabled := 0
	for _, out := range t.OutputDrives {
		if out.Active {
			enabled++
		}
	}
	if enabled == 0 {
		return
	}

	factor := TorqueFactor(enabled, t.DriveDividePower)
	var feedback float64
	for _, out := range t.OutputDrives {
		if !out.Active {
			continue
		}
		if t.SkidSteerDrive {
			feedback += math.Abs(out.FeedbackRPM)
		} else {
			feedback += out.FeedbackRPM
		}
		out.SetDriveScaled(t.newDrive, factor)
	}
	t.TargetDrive.FeedbackRPM = (feedback / float64(enabled)) * ratio
}

func (t *TransmissionBase) writeFull(w *state.Writer) {
	t.TargetDrive.writeFull(w)
	w.WriteFloat64(t.Health)
	w.WriteFloat64(t.MaxRPM)
}

func (t *TransmissionBase) readFull(r *state.Reader) {
	t.TargetDrive.readFull(r)
	t.Health = r.Float64()
	t.MaxRPM = r.Float64()
}

// Gear is one gearbox ratio with the rpm window it shifts within.
type Gear struct {
	Ratio  float64 `json:"ratio" mapstructure:"ratio"`
	MinRPM float64 `json:"minRPM" mapstructure:"minRPM"`
	MaxRPM float64 `json:"maxRPM" mapstructure:"maxRPM"`
}

// Gearbox is a stepped transmission with manual or automatic shifting. Gears are
// ordered from reverse through neutral (ratio 0) to top gear.
type Gearbox struct {
	TransmissionBase

	Gears                  []Gear
	StartGear              int
	SkipNeutral            bool
	AutoCalculateRPMRanges bool
	ShiftDelay             float64
	ShiftThreshold         float64

	CurrentGear  int
	CurGearRatio float64
	ShiftTime    float64

	firstGear int
}

// NewGearbox creates a gearbox starting in StartGear, clamped to the gear list.
func NewGearbox(parent *Parent, gears []Gear, startGear int) *Gearbox {
	g := &Gearbox{
		TransmissionBase:       newTransmissionBase(parent),
		Gears:                  gears,
		StartGear:              startGear,
		AutoCalculateRPMRanges: true,
	}
	g.CurrentGear = clampGear(startGear, len(gears))
	g.firstGear = g.FirstGear()
	return g
}

func clampGear(i, n int) int {
	if i > n-1 {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

func (g *Gearbox) Kind() TransmissionKind { return TransmissionGearbox }

func (g *Gearbox) gear(i int) Gear {
	return g.Gears[clampGear(i, len(g.Gears))]
}

func (g *Gearbox) Simulate(ctx *sim.Context) {
	n := len(g.Gears)
	if n == 0 {
		return
	}
	vp := g.parent

	if !g.Automatic {
		if vp.UpshiftPressed && g.CurrentGear < n-1 {
			g.Shift(1)
		}
		if vp.DownshiftPressed && g.CurrentGear > 0 {
			g.Shift(-1)
		}
	}

	g.Health = vmath.Clamp01(g.Health)
	g.ShiftTime = math.Max(0, g.ShiftTime-ctx.TimeScale*ctx.InverseFixedTimeFactor)
	g.CurGearRatio = g.Gears[g.CurrentGear].Ratio
	actualFeedbackRPM := g.TargetDrive.FeedbackRPM / math.Abs(g.CurGearRatio)

	skip := g.SkipNeutral || g.Automatic
	up, down := 1, 1
	for skip && g.gear(g.CurrentGear+up).Ratio == 0 && g.CurrentGear+up != 0 && g.CurrentGear+up < n-1 {
		up++
	}
	for skip && g.gear(g.CurrentGear-down).Ratio == 0 && g.CurrentGear-down != 0 && g.CurrentGear-down > 0 {
		down++
	}
	upper := g.Gears[min(n-1, g.CurrentGear+up)]
	lower := g.Gears[max(0, g.CurrentGear-down)]

	if g.MaxRPM == -1 {
		g.MaxRPM = g.curveLimit()
		if g.AutoCalculateRPMRanges {
			g.CalculateRPMRanges()
			upper = g.Gears[min(n-1, g.CurrentGear+up)]
			lower = g.Gears[max(0, g.CurrentGear-down)]
		}
	}

	g.newDrive.Curve = g.TargetDrive.Curve
	if g.CurGearRatio == 0 || g.ShiftTime > 0 {
		g.newDrive.RPM = 0
		g.newDrive.Torque = 0
	} else {
		rpm := g.TargetDrive.RPM
		if g.Automatic && g.SkidSteerDrive {
			reverse := 0.0
			if vp.BrakeIsReverse {
				reverse = vp.BrakeInput * (1 - vp.Burnout)
			}
			rpm = math.Abs(rpm) * vmath.Sign(vp.AccelInput-reverse)
		}
		g.newDrive.RPM = rpm / g.CurGearRatio
		g.newDrive.Torque = math.Abs(g.CurGearRatio) * g.TargetDrive.Torque
	}

	cur := g.Gears[g.CurrentGear]
	upshiftDifference := cur.MaxRPM - upper.MinRPM
	downshiftDifference := lower.MaxRPM - cur.MinRPM

	if g.Automatic && g.ShiftTime == 0 && vp.GroundedWheels > 0 {
		if !g.SkidSteerDrive && vp.Burnout == 0 {
			g.automaticShift(actualFeedbackRPM, upper, lower, upshiftDifference, downshiftDifference)
		} else if g.CurrentGear != g.firstGear {
			g.ShiftToGear(g.firstGear)
		}
	}

	if ctx.Trace.Enabled() {
		ctx.Trace.Record("Gearbox:newDrive.rpm=%v newDrive.torque=%v", g.newDrive.RPM, g.newDrive.Torque)
	}
	g.setOutputDrives(g.CurGearRatio)
}

func (g *Gearbox) automaticShift(feedback float64, upper, lower Gear, upDiff, downDiff float64) {
	vp := g.parent
	n := len(g.Gears)
	vz := vp.LocalVelocity[2]
	ratio := g.CurGearRatio
	reverseBrake := vp.BrakeInput > 0 && vp.BrakeIsReverse

	if !(math.Abs(vz) > 1 || vp.AccelInput > 0 || reverseBrake) {
		return
	}

	threshold := g.ShiftThreshold
	if ratio < 0 {
		threshold = math.Min(1, g.ShiftThreshold)
	}
	wantUp := upper.MinRPM+upDiff*threshold-feedback <= 0 ||
		(ratio <= 0 && upper.Ratio > 0 && (!vp.Reversing || (vp.AccelInput > 0 && vz > ratio*10)))
	if g.CurrentGear < n-1 && wantUp &&
		!(reverseBrake && upper.Ratio >= 0) &&
		!(vz < 0 && vp.AccelInput == 0) {
		g.Shift(1)
		return
	}

	wantDown := feedback-(lower.MaxRPM-downDiff*g.ShiftThreshold) <= 0 ||
		(ratio >= 0 && lower.Ratio < 0 && (vp.Reversing || ((vp.AccelInput < 0 || reverseBrake) && vz < ratio*10)))
	if g.CurrentGear > 0 && wantDown &&
		!(vp.AccelInput > 0 && lower.Ratio <= 0) &&
		(lower.Ratio > 0 || vz < 1) {
		g.Shift(-1)
	}
}

// Shift moves dir gears up or down, skipping neutral when SkipNeutral or Automatic is
// set. It does nothing while the transmission is broken.
func (g *Gearbox) Shift(dir int) {
	if g.Health <= 0 || len(g.Gears) == 0 {
		return
	}
	n := len(g.Gears)
	g.ShiftTime = g.ShiftDelay
	g.CurrentGear += dir
	for (g.SkipNeutral || g.Automatic) && g.gear(g.CurrentGear).Ratio == 0 &&
		g.CurrentGear != 0 && g.CurrentGear != n-1 {
		g.CurrentGear += dir
	}
	g.CurrentGear = clampGear(g.CurrentGear, n)
}

// ShiftToGear jumps straight to gear i.
func (g *Gearbox) ShiftToGear(i int) {
	if g.Health <= 0 || len(g.Gears) == 0 {
		return
	}
	g.ShiftTime = g.ShiftDelay
	g.CurrentGear = clampGear(i, len(g.Gears))
}

// CalculateRPMRanges derives each gear's shift window from MaxRPM and the neighbouring
// ratios.
func (g *Gearbox) CalculateRPMRanges() {
	n := len(g.Gears)
	actualMax := g.MaxRPM * 1000
	for i := range g.Gears {
		prev := g.Gears[max(i-1, 0)].Ratio
		next := g.Gears[min(i+1, n-1)].Ratio
		gr := &g.Gears[i]

		switch {
		case gr.Ratio < 0:
			gr.MinRPM = actualMax / gr.Ratio
			if next == 0 {
				gr.MaxRPM = 0
			} else {
				gr.MaxRPM = actualMax/next + (actualMax/next-gr.MinRPM)*0.5
			}
		case gr.Ratio > 0:
			gr.MaxRPM = actualMax / gr.Ratio
			if prev == 0 {
				gr.MinRPM = 0
			} else {
				gr.MinRPM = actualMax/prev - (gr.MaxRPM-actualMax/prev)*0.5
			}
		default:
			gr.MinRPM = 0
			gr.MaxRPM = 0
		}
		gr.MinRPM *= 0.55
		gr.MaxRPM *= 0.55
	}
}

// FirstGear is the index right after the first neutral gear, or 0 without a neutral.
func (g *Gearbox) FirstGear() int {
	for i, gr := range g.Gears {
		if gr.Ratio == 0 {
			return i + 1
		}
	}
	return 0
}

func (g *Gearbox) WriteFullState(w *state.Writer) {
	g.TransmissionBase.writeFull(w)
	w.WriteInt32(g.CurrentGear)
	w.WriteFloat64(g.ShiftTime)
}

func (g *Gearbox) ReadFullState(r *state.Reader) error {
	g.TransmissionBase.readFull(r)
	gear := r.Int32()
	shiftTime := r.Float64()
	if err := r.Err(); err != nil {
		return err
	}
	g.CurrentGear = clampGear(gear, len(g.Gears))
	g.ShiftTime = shiftTime
	return nil
}

// Continuous is a continuously variable transmission.
type Continuous struct {
	TransmissionBase

	TargetRatio     float64
	MinRatio        float64
	MaxRatio        float64
	CanReverse      bool
	ManualShiftRate float64

	CurrentRatio float64
	Reversing    bool
}

func NewContinuous(parent *Parent) *Continuous {
	return &Continuous{
		TransmissionBase: newTransmissionBase(parent),
		ManualShiftRate:  0.5,
	}
}

func (c *Continuous) Kind() TransmissionKind { return TransmissionContinuous }

func (c *Continuous) Simulate(ctx *sim.Context) {
	vp := c.parent
	c.Health = vmath.Clamp01(c.Health)

	if c.MaxRPM == -1 {
		c.MaxRPM = c.curveLimit() * 1000
	}

	switch {
	case c.Health <= 0:
		c.TargetRatio = 0
	case c.Automatic && vp.GroundedWheels > 0:
		c.TargetRatio = (1 - vp.Burnout) *
			vmath.Clamp01(math.Abs(c.TargetDrive.FeedbackRPM)/math.Max(0.01, c.MaxRPM*math.Abs(c.CurrentRatio)))
	case !c.Automatic:
		c.TargetRatio = vmath.Clamp01(c.TargetRatio + (vp.UpshiftHold-vp.DownshiftHold)*c.ManualShiftRate*ctx.TickDelta)
	}

	c.Reversing = c.CanReverse && vp.Burnout == 0 && vp.LocalVelocity[2] < 1 &&
		(vp.AccelInput < 0 || (vp.BrakeIsReverse && vp.BrakeInput > 0))
	c.CurrentRatio = vmath.Lerp(c.MinRatio, c.MaxRatio, c.TargetRatio)
	if c.Reversing {
		c.CurrentRatio = -c.CurrentRatio
	}

	c.newDrive.Curve = c.TargetDrive.Curve
	if c.CurrentRatio == 0 {
		c.newDrive.RPM = 0
	} else {
		c.newDrive.RPM = c.TargetDrive.RPM / c.CurrentRatio
	}
	c.newDrive.Torque = math.Abs(c.CurrentRatio) * c.TargetDrive.Torque
	c.setOutputDrives(c.CurrentRatio)
}

func (c *Continuous) WriteFullState(w *state.Writer) {
	c.TransmissionBase.writeFull(w)
	w.WriteFloat64(c.TargetRatio)
	w.WriteFloat64(c.CurrentRatio)
}

func (c *Continuous) ReadFullState(r *state.Reader) error {
	c.TransmissionBase.readFull(r)
	c.TargetRatio = r.Float64()
	c.CurrentRatio = r.Float64()
	return r.Err()
}
