package vehicle

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/OCAP2/vehiclesim/internal/physics"
	"github.com/OCAP2/vehiclesim/internal/sim"
	"github.com/OCAP2/vehiclesim/internal/state"
	"github.com/OCAP2/vehiclesim/internal/vmath"
	"github.com/OCAP2/vehiclesim/pkg/core"
)

// Collider ids are the vehicle id in the high 16 bits and the part slot in the low 16 bits,
// so every peer that builds the same vehicle gets the same ids.
const (
	slotHull       = 0x001
	slotSuspension = 0x100
	slotWheel      = 0x200

	// MaxVehicleID is the largest id that fits the collider id scheme.
	MaxVehicleID = 0xFFFF
)

func colliderID(owner uint32, slot int) uint32 {
	return owner<<16 | uint32(slot)
}

// Handles index the per-vehicle part slices.
type (
	WheelHandle      int
	SuspensionHandle int
	DriveHandle      int
)

// Vehicle is one assembled vehicle: its body, its components and the manager that
// runs them.
type Vehicle struct {
	ID         uint32
	Definition Definition

	Body         *physics.Body
	Parent       *Parent
	Manager      *Manager
	Engine       Motor
	Transmission Transmission
	Steering     *SteeringControl
	HoverSteer   *HoverSteer
	Assist       *VehicleAssist
	Flip         *FlipControl

	suspensions []*Suspension
	wheels      []*Wheel
	hoverWheels []*HoverWheel
	drives      []*DriveForce
	hull        []*physics.Collider

	world     *physics.World
	logger    *slog.Logger
	destroyed bool
}

// BuildOption customises Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	spawn  vmath.Pose
	logger *slog.Logger
}

// WithSpawn places the vehicle body at pose.
func WithSpawn(pose vmath.Pose) BuildOption {
	return func(o *buildOptions) { o.spawn = pose }
}

// WithLogger sets the logger configuration problems are reported to.
func WithLogger(l *slog.Logger) BuildOption {
	return func(o *buildOptions) { o.logger = l }
}

// Build assembles a vehicle from def in ctx's world under id. Parts with unusable
// configuration are logged and left out or disabled; only a vehicle that cannot exist at
// all is an error.
func Build(def Definition, ctx *sim.Context, id uint32, opts ...BuildOption) (*Vehicle, error) {
	if id == 0 || id > MaxVehicleID {
		return nil, fmt.Errorf("vehicle id %d out of range 1..%d", id, MaxVehicleID)
	}
	o := buildOptions{spawn: vmath.Identity(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With("vehicle", id, "preset", def.Name)

	size := mgl64.Vec3(def.Body.Size)
	body := physics.NewBody(o.spawn, def.Body.Mass, size)
	body.Drag = def.Body.Drag
	body.AngularDrag = def.Body.AngularDrag
	ctx.World.AddBody(body)

	v := &Vehicle{
		ID:         id,
		Definition: def,
		Body:       body,
		Manager:    NewManager(body),
		world:      ctx.World,
		logger:     logger,
	}
	v.Manager.TickDelta = ctx.TickDelta
	v.buildHull(def.Body)

	p := NewParent(body)
	p.Owner = id
	p.Hover = def.Hover
	p.AccelAxisIsBrake = def.Control.AccelAxisIsBrake
	p.BrakeIsReverse = def.Control.BrakeIsReverse
	p.HoldEbrakePark = def.Control.HoldEbrakePark
	p.BurnoutThreshold = def.Control.BurnoutThreshold
	p.BurnoutSpin = def.Control.BurnoutSpin
	p.BurnoutSmoothness = def.Control.BurnoutSmoothness
	p.CanCrash = def.Control.CanCrash
	p.SuspensionCenterOfMass = def.Body.SuspensionCenterOfMass
	p.CenterOfMassOffset = mgl64.Vec3(def.Body.CenterOfMassOffset)
	v.Parent = p
	v.Manager.Register(p, OrderParent)

	if def.Hover {
		v.buildHover(def, ctx)
	} else {
		v.buildWheels(def, ctx)
		v.buildDrivetrain(def)
	}
	v.buildWheelGroups(def.Control.WheelGroups)
	v.buildAssists(def)

	p.ApplyCenterOfMass()
	if gas, ok := v.Engine.(*GasMotor); ok {
		gas.RefreshMaxRPM()
	}
	logger.Debug("Vehicle built",
		"wheels", len(v.wheels), "hoverWheels", len(v.hoverWheels), "components", len(v.Manager.Components()))
	return v, nil
}

// buildHull adds a box matching the body size and four roof spheres that give the hull
// contacts when the vehicle lands on its back.
func (v *Vehicle) buildHull(def BodyDef) {
	half := mgl64.Vec3(def.Size).Mul(0.5)
	offset := mgl64.Vec3(def.HullOffset)
	box := v.world.AddCollider(&physics.Collider{
		ID:          colliderID(v.ID, slotHull),
		Shape:       physics.ShapeBox,
		Local:       vmath.Pose{Position: offset, Rotation: mgl64.QuatIdent()},
		HalfExtents: half,
		Layer:       sim.LayerVehicle,
		Owner:       v.ID,
		Body:        v.Body,
	})
	v.hull = append(v.hull, box)

	r := math.Max(math.Min(half[0], math.Min(half[1], half[2]))*0.5, 0.05)
	corners := []mgl64.Vec3{
		{-half[0] + r, half[1], half[2] - r},
		{half[0] - r, half[1], half[2] - r},
		{-half[0] + r, half[1], -half[2] + r},
		{half[0] - r, half[1], -half[2] + r},
	}
	for i, c := range corners {
		v.hull = append(v.hull, v.world.AddCollider(&physics.Collider{
			ID:     colliderID(v.ID, slotHull+1+i),
			Shape:  physics.ShapeSphere,
			Local:  vmath.Pose{Position: offset.Add(c), Rotation: mgl64.QuatIdent()},
			Radius: r,
			Layer:  sim.LayerVehicle,
			Owner:  v.ID,
			Body:   v.Body,
		}))
	}
}

// sidePose faces a part outward: parts right of the centre line yaw +90 degrees, parts
// left of it -90.
func sidePose(pos Vec) vmath.Pose {
	yaw := 90.0
	if pos[0] < 0 {
		yaw = -90
	}
	return vmath.Pose{Position: mgl64.Vec3(pos), Rotation: vmath.Euler(0, yaw, 0)}
}

func (v *Vehicle) buildWheels(def Definition, ctx *sim.Context) {
	p := v.Parent
	byDef := make(map[int]*Suspension, len(def.Wheels))
	for i, wd := range def.Wheels {
		s := NewSuspension(p, sidePose(wd.Position))
		s.SuspensionDistance = wd.SuspensionDistance
		s.SpringForce = wd.SpringForce
		s.SpringExponent = wd.SpringExponent
		s.SpringDampening = wd.SpringDampening
		s.ExtendSpeed = wd.ExtendSpeed
		s.BrakeForce = wd.BrakeForce
		s.EbrakeForce = wd.EbrakeForce
		s.SteerRangeMin = wd.SteerRangeMin
		s.SteerRangeMax = wd.SteerRangeMax
		s.SteerFactor = wd.SteerFactor
		s.AckermannFactor = wd.AckermannFactor
		s.CamberOffset = wd.CamberOffset
		s.CasterAngle = wd.CasterAngle
		s.ToeAngle = wd.ToeAngle
		s.SideAngle = wd.SideAngle
		s.LeaningForce = wd.LeaningForce
		s.SteerEnabled = wd.Steered
		s.DriveEnabled = wd.Driven
		s.EbrakeEnabled = wd.Ebrake
		s.GenerateHardCollider = wd.HardCollider

		w := NewWheel(p, s)
		w.TireRadius = wd.TireRadius
		w.RimRadius = wd.RimRadius
		w.TireWidth = wd.TireWidth
		w.RimWidth = wd.RimWidth
		if wd.Mass > 0 {
			w.Mass = wd.Mass
		}
		w.ForwardFriction = wd.ForwardFriction
		w.SidewaysFriction = wd.SidewaysFriction
		w.AxleFriction = wd.AxleFriction
		w.SlipDependence = ParseSlipDependence(wd.SlipDependence)
		w.CanPop = wd.CanPop
		if wd.DetachForce > 0 {
			w.DetachForce = wd.DetachForce
		}
		w.GenerateHardCollider = wd.HardCollider

		if err := w.ValidateDimensions(); err != nil {
			v.logger.Warn("Wheel left out", "wheel", i, "name", wd.Name, "error", err)
			continue
		}
		if err := s.attach(ctx.World, v.ID, colliderID(v.ID, slotSuspension+i)); err != nil {
			v.logger.Warn("Suspension disabled", "wheel", i, "name", wd.Name, "error", err)
			s.SetActive(false)
		}
		w.attach(ctx.World, v.ID, colliderID(v.ID, slotWheel+i))

		v.suspensions = append(v.suspensions, s)
		v.wheels = append(v.wheels, w)
		byDef[i] = s
	}

	// opposite indexes refer to the definition, which may have wheels left out
	for i, wd := range def.Wheels {
		s, ok := byDef[i]
		if !ok || wd.Opposite < 0 || wd.Opposite == i {
			continue
		}
		s.OppositeWheel = byDef[wd.Opposite]
	}

	p.Wheels = v.wheels
	for _, s := range v.suspensions {
		v.Manager.Register(s, OrderSuspension)
	}
	for _, w := range v.wheels {
		v.Manager.Register(w, OrderWheel)
	}
}

func (v *Vehicle) buildDrivetrain(def Definition) {
	p := v.Parent
	ed := def.Engine
	m := NewGasMotor(p)
	m.Power = ed.Power
	m.InputCurve = ed.InputCurve.curve(m.InputCurve)
	m.TorqueCurve = ed.TorqueCurve.curve(m.TorqueCurve)
	m.Inertia = ed.Inertia
	m.CanReverse = ed.CanReverse
	if ed.DriveDividePower > 0 {
		m.DriveDividePower = ed.DriveDividePower
	}
	m.CanBoost = ed.CanBoost
	m.MaxBoost = ed.MaxBoost
	m.Boost = ed.MaxBoost
	m.BoostBurnRate = ed.BoostBurnRate
	m.BoostPowerCurve = ed.BoostPowerCurve.curve(m.BoostPowerCurve)
	v.Engine = m
	p.Engine = m
	v.drives = append(v.drives, m.TargetDrive)

	var driven []*DriveForce
	for _, s := range v.suspensions {
		if s.DriveEnabled {
			driven = append(driven, s.TargetDrive)
		}
	}

	td := def.Transmission
	switch strings.ToLower(td.Kind) {
	case TransmissionGearbox.String():
		g := NewGearbox(p, td.Gears, td.StartGear)
		g.Automatic = td.Automatic
		g.SkipNeutral = td.SkipNeutral
		g.AutoCalculateRPMRanges = td.AutoCalculateRPMRanges
		g.ShiftDelay = td.ShiftDelay
		g.ShiftThreshold = td.ShiftThreshold
		v.wireTransmission(m, g, &g.TransmissionBase, td, driven)
		m.Transmission = g
	case TransmissionContinuous.String():
		c := NewContinuous(p)
		c.Automatic = td.Automatic
		c.MinRatio = td.MinRatio
		c.MaxRatio = td.MaxRatio
		c.CanReverse = td.CanReverse
		v.wireTransmission(m, c, &c.TransmissionBase, td, driven)
	case "":
		m.OutputDrives = driven
	default:
		v.logger.Warn("Unknown transmission, driving wheels directly", "kind", td.Kind)
		m.OutputDrives = driven
	}
	v.drives = append(v.drives, driven...)

	v.Manager.Register(m, OrderMotor)
	if v.Transmission != nil {
		v.Manager.Register(v.Transmission, OrderTransmission)
	}

	sc := NewSteeringControl(p)
	if def.Steering.SteerRate > 0 {
		sc.SteerRate = def.Steering.SteerRate
	}
	sc.SteerCurve = def.Steering.SteerCurve.curve(sc.SteerCurve)
	sc.LimitSteer = def.Steering.LimitSteer
	sc.ApplyInReverse = def.Steering.ApplyInReverse
	for _, s := range v.suspensions {
		if s.SteerEnabled {
			sc.SteeredWheels = append(sc.SteeredWheels, s)
		}
	}
	v.Steering = sc
	v.Manager.Register(sc, OrderSteering)
}

func (v *Vehicle) wireTransmission(m *GasMotor, t Transmission, b *TransmissionBase, td TransmissionDef, driven []*DriveForce) {
	b.SkidSteerDrive = td.SkidSteerDrive
	if td.DriveDividePower > 0 {
		b.DriveDividePower = td.DriveDividePower
	}
	b.OutputDrives = driven
	m.OutputDrives = []*DriveForce{b.TargetDrive}
	m.downstream = append(m.downstream, t)
	v.Transmission = t
	v.drives = append(v.drives, b.TargetDrive)
}

func (v *Vehicle) buildHover(def Definition, ctx *sim.Context) {
	p := v.Parent
	for _, hd := range def.HoverWheels {
		h := NewHoverWheel(p, sidePose(hd.Position))
		h.HoverDistance = hd.HoverDistance
		h.BufferDistance = hd.BufferDistance
		h.FloatForce = hd.FloatForce
		h.BufferFloatForce = hd.BufferFloatForce
		h.FloatExponent = hd.FloatExponent
		h.FloatDampening = hd.FloatDampening
		h.BrakeForce = hd.BrakeForce
		h.EbrakeForce = hd.EbrakeForce
		h.SteerFactor = hd.SteerFactor
		h.SideFriction = hd.SideFriction
		h.attach(ctx.World)
		v.hoverWheels = append(v.hoverWheels, h)
	}
	p.HoverWheels = v.hoverWheels

	ed := def.Engine
	m := NewHoverMotor(p)
	m.Power = ed.Power
	m.InputCurve = ed.InputCurve.curve(m.InputCurve)
	m.ForceCurve = ed.ForceCurve.curve(m.ForceCurve)
	m.CanBoost = ed.CanBoost
	m.MaxBoost = ed.MaxBoost
	m.Boost = ed.MaxBoost
	m.BoostBurnRate = ed.BoostBurnRate
	m.BoostPowerCurve = ed.BoostPowerCurve.curve(m.BoostPowerCurve)
	m.Wheels = v.hoverWheels
	v.Engine = m
	p.Engine = m

	hs := NewHoverSteer(p)
	if def.Steering.SteerRate > 0 {
		hs.SteerRate = def.Steering.SteerRate
	}
	hs.SteerCurve = def.Steering.SteerCurve.curve(hs.SteerCurve)
	for i, hd := range def.HoverWheels {
		if hd.Steered {
			hs.SteeredWheels = append(hs.SteeredWheels, v.hoverWheels[i])
		}
	}
	v.HoverSteer = hs

	v.Manager.Register(hs, OrderHoverSteer)
	v.Manager.Register(m, OrderMotor)
	for _, h := range v.hoverWheels {
		v.Manager.Register(h, OrderHoverWheel)
	}
}

func (v *Vehicle) buildWheelGroups(groups [][]int) {
	for gi, idx := range groups {
		var g WheelGroup
		for _, i := range idx {
			switch {
			case v.Parent.Hover && i >= 0 && i < len(v.hoverWheels):
				g.HoverWheels = append(g.HoverWheels, v.hoverWheels[i])
			case !v.Parent.Hover && i >= 0 && i < len(v.wheels):
				g.Wheels = append(g.Wheels, v.wheels[i])
			default:
				v.logger.Warn("Wheel group references a missing wheel", "group", gi, "wheel", i)
			}
		}
		if len(g.Wheels)+len(g.HoverWheels) > 0 {
			v.Parent.WheelGroups = append(v.Parent.WheelGroups, g)
		}
	}
}

func (v *Vehicle) buildAssists(def Definition) {
	p := v.Parent
	if ad := def.Assist; ad != nil {
		a := NewVehicleAssist(p)
		a.DriftSpinAssist = ad.DriftSpinAssist
		if ad.DriftSpinSpeed > 0 {
			a.DriftSpinSpeed = ad.DriftSpinSpeed
		}
		a.DriftPush = ad.DriftPush
		a.StraightenAssist = ad.StraightenAssist
		a.Downforce = ad.Downforce
		a.AutoRollOver = ad.AutoRollOver
		if ad.RollOverForce > 0 {
			a.RollOverForce = ad.RollOverForce
		}
		a.RollResetTime = ad.RollResetTime
		a.AngularDragOnJump = ad.AngularDragOnJump
		if ad.FallSpeedLimit > 0 {
			a.FallSpeedLimit = ad.FallSpeedLimit
		}
		a.schedule = v.Manager.Schedule
		v.Assist = a
		v.Manager.Register(a, OrderAssist)
	}
	if fd := def.Flip; fd != nil {
		f := NewFlipControl(p)
		f.FlipPower = mgl64.Vec3(fd.FlipPower)
		f.FreeSpinFlip = fd.FreeSpinFlip
		f.StopFlip = fd.StopFlip
		f.RotationCorrection = mgl64.Vec3(fd.RotationCorrection)
		f.DiveFactor = fd.DiveFactor
		f.DisableDuringCrash = fd.DisableDuringCrash
		v.Flip = f
		v.Manager.Register(f, OrderFlip)
	}
}

// Wheel returns the wheel behind h, nil for a stale handle.
func (v *Vehicle) Wheel(h WheelHandle) *Wheel {
	if int(h) < 0 || int(h) >= len(v.wheels) {
		return nil
	}
	return v.wheels[h]
}

// Suspension returns the suspension behind h, nil for a stale handle.
func (v *Vehicle) Suspension(h SuspensionHandle) *Suspension {
	if int(h) < 0 || int(h) >= len(v.suspensions) {
		return nil
	}
	return v.suspensions[h]
}

// Drive returns the drive behind h. Handle 0 is the engine output.
func (v *Vehicle) Drive(h DriveHandle) *DriveForce {
	if int(h) < 0 || int(h) >= len(v.drives) {
		return nil
	}
	return v.drives[h]
}

func (v *Vehicle) Wheels() []*Wheel           { return v.wheels }
func (v *Vehicle) Suspensions() []*Suspension { return v.suspensions }
func (v *Vehicle) HoverWheels() []*HoverWheel { return v.hoverWheels }
func (v *Vehicle) Hull() []*physics.Collider  { return v.hull }
func (v *Vehicle) Destroyed() bool            { return v.destroyed }

// Simulate runs one tick of every component.
func (v *Vehicle) Simulate(ctx *sim.Context) {
	if v.destroyed {
		return
	}
	v.Manager.Simulate(ctx)
}

// SimulateWithMove applies md and runs one tick.
func (v *Vehicle) SimulateWithMove(ctx *sim.Context, md core.MoveData) {
	if v.destroyed {
		return
	}
	v.Parent.ApplyMove(md)
	v.Manager.Simulate(ctx)
}

func (v *Vehicle) FullState() []byte                { return v.Manager.FullState() }
func (v *Vehicle) VisualState() []byte              { return v.Manager.VisualState() }
func (v *Vehicle) SetFullState(blob []byte) error   { return v.Manager.SetFullState(blob) }
func (v *Vehicle) SetVisualState(blob []byte) error { return v.Manager.SetVisualState(blob) }
func (v *Vehicle) SchemaVersion() uint16            { return state.SchemaVersion }
func (v *Vehicle) SetActive(active bool)            { v.Manager.SetActive(active) }
func (v *Vehicle) Schedule(a PendingAction)         { v.Manager.Schedule(a) }
func (v *Vehicle) ResetRotation()                   { v.Manager.Schedule(ResetRotation{}) }
func (v *Vehicle) Reset(point, forward mgl64.Vec3) {
	v.Manager.Schedule(ReverseReset{Point: point, Forward: forward})
}

// Destroy deactivates every component and removes the body, the hull and any detached
// wheel bodies from the world. It is safe to call twice.
func (v *Vehicle) Destroy() {
	if v.destroyed {
		return
	}
	v.destroyed = true
	v.Manager.SetActive(false)
	for _, w := range v.wheels {
		if b := w.DetachedBody(); b != nil {
			v.world.RemoveBody(b)
		}
	}
	for _, h := range v.hoverWheels {
		if h.detached != nil {
			v.world.RemoveBody(h.detached)
		}
	}
	v.world.RemoveBody(v.Body)
	v.logger.Debug("Vehicle destroyed")
}

// Output is a read-only snapshot of the vehicle for telemetry and display.
type Output struct {
	ID             uint32
	Position       mgl64.Vec3
	Rotation       mgl64.Quat
	Velocity       mgl64.Vec3
	Speed          float64
	EngineRPM      float64
	EnginePitch    float64
	Gear           int
	Boosting       bool
	Boost          float64
	Burnout        float64
	GroundedWheels int
	Crashing       bool
	RolledOver     bool
	Wheels         []WheelOutput
}

// Output snapshots the vehicle.
func (v *Vehicle) Output() Output {
	o := Output{
		ID:             v.ID,
		Position:       v.Body.Position,
		Rotation:       v.Body.Rotation,
		Velocity:       v.Body.Velocity,
		Speed:          v.Body.Velocity.Len(),
		Burnout:        v.Parent.Burnout,
		GroundedWheels: v.Parent.GroundedWheels,
		Crashing:       v.Parent.Crashing,
	}
	if v.Engine != nil {
		b := v.Engine.base()
		o.EnginePitch = b.TargetPitch
		o.Boosting = b.Boosting
		o.Boost = b.Boost
	}
	if gas, ok := v.Engine.(*GasMotor); ok {
		o.EngineRPM = gas.TargetDrive.FeedbackRPM
	}
	if g, ok := v.Transmission.(*Gearbox); ok {
		o.Gear = g.CurrentGear
	}
	if v.Assist != nil {
		o.RolledOver = v.Assist.RolledOver
	}
	for _, w := range v.wheels {
		o.Wheels = append(o.Wheels, w.Output())
	}
	return o
}
