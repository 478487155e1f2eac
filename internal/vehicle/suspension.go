package vehicle

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/OCAP2/vehiclesim/internal/curve"
	"github.com/OCAP2/vehiclesim/internal/physics"
	"github.com/OCAP2/vehiclesim/internal/sim"
	"github.com/OCAP2/vehiclesim/internal/state"
	"github.com/OCAP2/vehiclesim/internal/vmath"
)

// Suspension property names accepted by SetToggle.
const (
	ToggleSteerEnabled   = "steerEnabled"
	ToggleSteerInverted  = "steerInverted"
	ToggleDriveEnabled   = "driveEnabled"
	ToggleDriveInverted  = "driveInverted"
	ToggleEbrakeEnabled  = "ebrakeEnabled"
	ToggleSkidSteerBrake = "skidSteerBrake"
)

// Suspension holds a wheel against the ground with a spring and passes drive and
// steering through to it. Its local forward axis points outwards along the axle.
type Suspension struct {
	activation
	noVisualState

	Wheel *Wheel
	// Local is the suspension pose relative to the vehicle body.
	Local vmath.Pose

	GenerateHardCollider     bool
	HardColliderRadiusFactor float64
	BrakeForce               float64
	EbrakeForce              float64
	SteerRangeMin            float64
	SteerRangeMax            float64
	SteerFactor              float64
	AckermannFactor          float64
	CamberCurve              *curve.Curve
	CamberOffset             float64
	SolidAxleCamber          bool
	OppositeWheel            *Suspension
	SideAngle                float64
	CasterAngle              float64
	ToeAngle                 float64
	PivotOffset              float64
	SuspensionDistance       float64
	// CompressionLimit is what TargetCompression is reset to at the start of every tick.
	CompressionLimit          float64
	SpringForce               float64
	SpringForceCurve          *curve.Curve
	SpringExponent            float64
	SpringDampening           float64
	ExtendSpeed               float64
	ApplyHardContactForce     bool
	HardContactForce          float64
	HardContactSensitivity    float64
	ApplyForceAtGroundContact bool
	LeaningForce              bool
	DetachedCompression       float64
	JamForce                  float64

	SteerAngle        float64
	FlippedSide       bool
	FlippedSideFactor float64
	MaxCompressPoint  mgl64.Vec3
	TargetCompression float64
	Compression       float64
	Penetration       float64
	SpringDirection   mgl64.Vec3
	UpDir             mgl64.Vec3
	ForwardDir        mgl64.Vec3
	TargetDrive       *DriveForce
	SteerDegrees      float64
	CamberAngle       float64
	Jammed            bool

	SteerEnabled   bool
	SteerInverted  bool
	DriveEnabled   bool
	DriveInverted  bool
	EbrakeEnabled  bool
	SkidSteerBrake bool

	parent           *Parent
	hard             *physics.Collider
	radiusFactorPrev float64
}

// NewSuspension creates a suspension at local on the parent's body.
func NewSuspension(parent *Parent, local vmath.Pose) *Suspension {
	return &Suspension{
		Local:                     local,
		GenerateHardCollider:      true,
		HardColliderRadiusFactor:  1,
		SteerFactor:               1,
		CamberCurve:               curve.Linear(0, 0, 1, 0),
		CompressionLimit:          1,
		SpringForceCurve:          curve.Linear(0, 0, 1, 1),
		SpringExponent:            1,
		ExtendSpeed:               20,
		ApplyHardContactForce:     true,
		HardContactForce:          50,
		HardContactSensitivity:    2,
		ApplyForceAtGroundContact: true,
		DetachedCompression:       0.5,
		JamForce:                  math.Inf(1),
		TargetCompression:         1,
		FlippedSideFactor:         1,
		TargetDrive:               NewDriveForce(),
		SteerEnabled:              true,
		DriveEnabled:              true,
		EbrakeEnabled:             true,
		parent:                    parent,
	}
}

// WorldPose is the suspension pose in world space.
func (s *Suspension) WorldPose() vmath.Pose {
	return s.parent.Body.Pose().Mul(s.Local)
}

// SetToggle switches one of the named suspension properties.
func (s *Suspension) SetToggle(name string, on bool) error {
	switch name {
	case ToggleSteerEnabled:
		s.SteerEnabled = on
	case ToggleSteerInverted:
		s.SteerInverted = on
	case ToggleDriveEnabled:
		s.DriveEnabled = on
	case ToggleDriveInverted:
		s.DriveInverted = on
	case ToggleEbrakeEnabled:
		s.EbrakeEnabled = on
	case ToggleSkidSteerBrake:
		s.SkidSteerBrake = on
	default:
		return fmt.Errorf("%q: %w", name, ErrUnknownToggle)
	}
	return nil
}

// HardCollider returns the collider that stops the body sinking onto the wheel, nil when
// disabled.
func (s *Suspension) HardCollider() *physics.Collider { return s.hard }

// attach works out which side of the vehicle the suspension sits on and creates its hard
// collider under hardID.
func (s *Suspension) attach(world *physics.World, owner, hardID uint32) error {
	if s.Wheel == nil {
		return ErrNoWheel
	}
	pose := s.WorldPose()
	s.FlippedSide = pose.Forward().Dot(s.parent.Body.Pose().Right()) < 0
	s.FlippedSideFactor = 1
	if s.FlippedSide {
		s.FlippedSideFactor = -1
	}
	s.SteerRangeMax = math.Max(s.SteerRangeMin, s.SteerRangeMax)
	s.TargetCompression = s.CompressionLimit
	s.getCamber()

	if s.GenerateHardCollider && world != nil {
		w := s.Wheel
		s.hard = world.AddCollider(&physics.Collider{
			ID:     hardID,
			Shape:  physics.ShapeSphere,
			Radius: w.RimWidth * s.HardColliderRadiusFactor,
			Layer:  sim.LayerWheel,
			Owner:  owner,
			Body:   s.parent.Body,
			Local:  vmath.Pose{Position: s.Local.Position, Rotation: mgl64.QuatIdent()},
		})
		s.radiusFactorPrev = s.HardColliderRadiusFactor
	}
	return nil
}

func (s *Suspension) Simulate(ctx *sim.Context) {
	w := s.Wheel
	pose := s.WorldPose()
	s.UpDir = pose.Up()
	s.ForwardDir = pose.Forward()
	s.TargetCompression = s.CompressionLimit

	s.getCamber()
	s.getSpringVectors(pose)

	if w.Connected {
		s.Compression = 0
		if s.SuspensionDistance > 0 {
			s.Compression = vmath.Clamp01(w.Contact.Distance / s.SuspensionDistance)
		}
		s.Compression = math.Min(s.TargetCompression, s.Compression)
		s.Penetration = math.Min(0, w.Contact.Distance)
	} else {
		s.Compression = s.DetachedCompression
		s.Penetration = 0
	}

	if s.TargetCompression > 0 {
		s.applySuspensionForce(ctx, pose)
	}

	if s.GenerateHardCollider && s.hard != nil {
		if s.radiusFactorPrev != s.HardColliderRadiusFactor || w.UpdatedSize || w.UpdatedPopped {
			if w.RimWidth > w.ActualRadius {
				s.hard.Radius = w.ActualRadius * s.HardColliderRadiusFactor
			} else {
				s.hard.Radius = w.RimWidth * s.HardColliderRadiusFactor
			}
		}
		s.radiusFactorPrev = s.HardColliderRadiusFactor
	}

	if w.Connected {
		s.TargetDrive.Active = s.DriveEnabled
		s.TargetDrive.FeedbackRPM = w.TargetDrive.FeedbackRPM
		w.TargetDrive.SetDrive(s.TargetDrive)
	} else {
		s.TargetDrive.FeedbackRPM = s.TargetDrive.RPM
	}

	limit := s.SteerRangeMin
	if s.SteerAngle > 0 {
		limit = s.SteerRangeMax
	}
	s.SteerDegrees = math.Abs(s.SteerAngle) * limit

	if ctx.Trace.Enabled() {
		ctx.Trace.Record("Suspension:compression=%v camber=%v steerDegrees=%v", s.Compression, s.CamberAngle, s.SteerDegrees)
	}
}

func (s *Suspension) getCamber() {
	w := s.Wheel
	if s.SolidAxleCamber && s.OppositeWheel != nil && s.OppositeWheel.Wheel != nil && w.Connected {
		axle := s.WorldPose().InverseTransformDirection(
			vmath.SafeNormalize(s.OppositeWheel.Wheel.RimPose().Position.Sub(w.RimPose().Position)))
		s.CamberAngle = mgl64.RadToDeg(math.Atan2(axle[2], axle[1])) + 90 + s.CamberOffset
		return
	}
	t := s.TargetCompression
	if w.Connected {
		t = w.TravelDist
	}
	s.CamberAngle = s.CamberCurve.Evaluate(t) + s.CamberOffset
}

func (s *Suspension) getSpringVectors(pose vmath.Pose) {
	s.MaxCompressPoint = pose.Position
	casterDir := -math.Sin(mgl64.DegToRad(s.CasterAngle)) * s.FlippedSideFactor
	sideDir := -math.Sin(mgl64.DegToRad(s.SideAngle))
	s.SpringDirection = vmath.SafeNormalize(pose.TransformDirection(
		mgl64.Vec3{casterDir, math.Max(math.Abs(casterDir), math.Abs(sideDir)) - 1, sideDir}))
}

func (s *Suspension) applySuspensionForce(ctx *sim.Context, pose vmath.Pose) {
	w := s.Wheel
	vp := s.parent
	if !w.Grounded || !w.Connected {
		return
	}
	body := vp.Body
	travelVel := vp.Norm.InverseTransformDirection(body.PointVelocity(pose.Position))[2]

	at := w.WorldPose().Position
	if s.ApplyForceAtGroundContact {
		at = w.Contact.Point
	}

	if s.SuspensionDistance > 0 && s.TargetCompression > 0 {
		normFwd := vp.Norm.Forward()
		dir := normFwd
		if s.LeaningForce {
			dir = vmath.LerpVec(s.UpDir, normFwd, math.Abs(math.Pow(normFwd.Dot(vp.UpDir), 5)))
		}
		force := dir.Mul(s.SpringForce * (math.Pow(s.SpringForceCurve.Evaluate(1-s.Compression), math.Max(1, s.SpringExponent)) -
			(1 - s.TargetCompression) - s.SpringDampening*vmath.Clamp(travelVel, -1, 1)))
		body.AddForceAtPosition(force, at, vp.SuspensionForceMode)
		if c := w.Contact.Collider; c != nil && c.Body != nil {
			c.Body.AddForceAtPosition(force.Mul(-1), w.Contact.Point, vp.SuspensionForceMode)
		}
	}

	if s.Compression == 0 && !s.GenerateHardCollider && s.ApplyHardContactForce {
		push := vmath.Clamp(travelVel, -s.HardContactSensitivity*ctx.FixedTimeFactor, 0) + s.Penetration
		force := vp.Norm.TransformDirection(mgl64.Vec3{0, 0, push}).Mul(-s.HardContactForce * vmath.Clamp01(ctx.FixedTimeFactor))
		body.AddForceAtPosition(force, at, vp.SuspensionForceMode)
	}
}

func (s *Suspension) WriteFullState(w *state.Writer) {
	s.TargetDrive.writeFull(w)
	w.WriteFloat64(s.SteerAngle)
}

func (s *Suspension) ReadFullState(r *state.Reader) error {
	s.TargetDrive.readFull(r)
	s.SteerAngle = r.Float64()
	return r.Err()
}
