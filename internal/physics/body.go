// Package physics is the headless rigid body world the vehicles run in: bodies with
// accumulated forces, a fixed-step integrator, colliders and ray casts.
package physics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/OCAP2/vehiclesim/internal/vmath"
	"github.com/OCAP2/vehiclesim/pkg/core"
)

// ForceMode selects how a force is turned into a velocity change.
type ForceMode int

const (
	// Force is mass dependent and continuous (scaled by the step).
	Force ForceMode = iota
	// Acceleration ignores mass and is continuous.
	Acceleration
	// Impulse is mass dependent and instantaneous.
	Impulse
	// VelocityChange ignores mass and is instantaneous.
	VelocityChange
)

// MaxAngularVelocity caps the angular speed of any body in rad/s.
const MaxAngularVelocity = 50.0

// Body is a rigid body. Position is the body origin; forces act around the centre of mass.
type Body struct {
	ID              uint32
	Position        mgl64.Vec3
	Rotation        mgl64.Quat
	Velocity        mgl64.Vec3
	AngularVelocity mgl64.Vec3

	Mass         float64
	CenterOfMass mgl64.Vec3 // local
	Inertia      mgl64.Vec3 // local principal moments
	Drag         float64
	AngularDrag  float64
	UseGravity   bool
	Kinematic    bool

	// OnCollision is called from World.Step for every contact this body takes part in.
	OnCollision func(Collision)

	linAccel mgl64.Vec3
	linDelta mgl64.Vec3
	angAccel mgl64.Vec3
	angDelta mgl64.Vec3

	colliders []*Collider
}

// NewBody creates a body at pose with the given mass and box-shaped inertia.
func NewBody(pose vmath.Pose, mass float64, size mgl64.Vec3) *Body {
	b := &Body{
		Position:   pose.Position,
		Rotation:   pose.Rotation,
		Mass:       math.Max(mass, vmath.Epsilon),
		UseGravity: true,
	}
	b.SetBoxInertia(size)
	return b
}

// SetBoxInertia sets the inertia of a solid box of the given full extents.
func (b *Body) SetBoxInertia(size mgl64.Vec3) {
	m := b.Mass / 12
	x, y, z := size[0]*size[0], size[1]*size[1], size[2]*size[2]
	b.Inertia = mgl64.Vec3{
		math.Max(m*(y+z), vmath.Epsilon),
		math.Max(m*(x+z), vmath.Epsilon),
		math.Max(m*(x+y), vmath.Epsilon),
	}
}

func (b *Body) Pose() vmath.Pose {
	return vmath.Pose{Position: b.Position, Rotation: b.Rotation}
}

func (b *Body) SetPose(p vmath.Pose) {
	b.Position = p.Position
	b.Rotation = p.Rotation.Normalize()
}

// WorldCenterOfMass returns the centre of mass in world space.
func (b *Body) WorldCenterOfMass() mgl64.Vec3 {
	return b.Position.Add(b.Rotation.Rotate(b.CenterOfMass))
}

// PointVelocity returns the velocity of a world-space point attached to the body.
func (b *Body) PointVelocity(point mgl64.Vec3) mgl64.Vec3 {
	return b.Velocity.Add(b.AngularVelocity.Cross(point.Sub(b.WorldCenterOfMass())))
}

func (b *Body) TransformDirection(v mgl64.Vec3) mgl64.Vec3 {
	return b.Rotation.Rotate(v)
}

func (b *Body) InverseTransformDirection(v mgl64.Vec3) mgl64.Vec3 {
	return vmath.InverseRotate(b.Rotation, v)
}

// State returns the replicated rigid body state.
func (b *Body) State() core.RigidbodyState {
	return core.RigidbodyState{
		Position:        b.Position,
		Rotation:        b.Rotation,
		Velocity:        b.Velocity,
		AngularVelocity: b.AngularVelocity,
	}
}

// SetState overwrites pose and velocities and drops pending forces.
func (b *Body) SetState(s core.RigidbodyState) {
	b.Position = s.Position
	b.Rotation = s.Rotation.Normalize()
	b.Velocity = s.Velocity
	b.AngularVelocity = s.AngularVelocity
	b.ClearForces()
}

// ClearForces drops everything accumulated since the last step.
func (b *Body) ClearForces() {
	b.linAccel = mgl64.Vec3{}
	b.linDelta = mgl64.Vec3{}
	b.angAccel = mgl64.Vec3{}
	b.angDelta = mgl64.Vec3{}
}

// AddForce accumulates a world-space force through the centre of mass.
func (b *Body) AddForce(f mgl64.Vec3, mode ForceMode) {
	if !vmath.FiniteVec(f) {
		return
	}
	switch mode {
	case Force:
		b.linAccel = b.linAccel.Add(f.Mul(1 / b.Mass))
	case Acceleration:
		b.linAccel = b.linAccel.Add(f)
	case Impulse:
		b.linDelta = b.linDelta.Add(f.Mul(1 / b.Mass))
	case VelocityChange:
		b.linDelta = b.linDelta.Add(f)
	}
}

// AddRelativeForce accumulates a force given in body space.
func (b *Body) AddRelativeForce(f mgl64.Vec3, mode ForceMode) {
	b.AddForce(b.Rotation.Rotate(f), mode)
}

// AddTorque accumulates a world-space torque.
func (b *Body) AddTorque(t mgl64.Vec3, mode ForceMode) {
	if !vmath.FiniteVec(t) {
		return
	}
	switch mode {
	case Force:
		b.angAccel = b.angAccel.Add(b.applyInverseInertia(t))
	case Acceleration:
		b.angAccel = b.angAccel.Add(t)
	case Impulse:
		b.angDelta = b.angDelta.Add(b.applyInverseInertia(t))
	case VelocityChange:
		b.angDelta = b.angDelta.Add(t)
	}
}

// AddRelativeTorque accumulates a torque given in body space.
func (b *Body) AddRelativeTorque(t mgl64.Vec3, mode ForceMode) {
	b.AddTorque(b.Rotation.Rotate(t), mode)
}

// AddForceAtPosition accumulates a force and the torque it produces around the centre of
// mass.
func (b *Body) AddForceAtPosition(f, point mgl64.Vec3, mode ForceMode) {
	if !vmath.FiniteVec(f) || !vmath.FiniteVec(point) {
		return
	}
	b.AddForce(f, mode)
	b.AddTorque(point.Sub(b.WorldCenterOfMass()).Cross(f), mode)
}

func (b *Body) applyInverseInertia(t mgl64.Vec3) mgl64.Vec3 {
	local := vmath.InverseRotate(b.Rotation, t)
	local = mgl64.Vec3{local[0] / b.Inertia[0], local[1] / b.Inertia[1], local[2] / b.Inertia[2]}
	return b.Rotation.Rotate(local)
}

// inverseMassAt is the effective inverse mass along n for a contact at point.
func (b *Body) inverseMassAt(point, n mgl64.Vec3) float64 {
	if b == nil || b.Kinematic {
		return 0
	}
	r := point.Sub(b.WorldCenterOfMass())
	rn := r.Cross(n)
	return 1/b.Mass + b.applyInverseInertia(rn).Cross(r).Dot(n)
}

func (b *Body) applyImpulse(j, point mgl64.Vec3) {
	if b == nil || b.Kinematic {
		return
	}
	b.Velocity = b.Velocity.Add(j.Mul(1 / b.Mass))
	b.AngularVelocity = b.AngularVelocity.Add(b.applyInverseInertia(point.Sub(b.WorldCenterOfMass()).Cross(j)))
}

func (b *Body) integrate(dt float64, gravity mgl64.Vec3) {
	if b.Kinematic {
		b.ClearForces()
		return
	}

	prevPos, prevRot := b.Position, b.Rotation

	accel := b.linAccel
	if b.UseGravity {
		accel = accel.Add(gravity)
	}
	b.Velocity = b.Velocity.Add(accel.Mul(dt)).Add(b.linDelta)
	b.AngularVelocity = b.AngularVelocity.Add(b.angAccel.Mul(dt)).Add(b.angDelta)
	b.ClearForces()

	b.Velocity = b.Velocity.Mul(vmath.Clamp01(1 - b.Drag*dt))
	b.AngularVelocity = b.AngularVelocity.Mul(vmath.Clamp01(1 - b.AngularDrag*dt))
	if w := b.AngularVelocity.Len(); w > MaxAngularVelocity {
		b.AngularVelocity = b.AngularVelocity.Mul(MaxAngularVelocity / w)
	}

	com := b.WorldCenterOfMass().Add(b.Velocity.Mul(dt))

	w := b.AngularVelocity
	spin := mgl64.Quat{W: 0, V: w}.Mul(b.Rotation).Scale(0.5 * dt)
	b.Rotation = b.Rotation.Add(spin).Normalize()

	b.Position = com.Sub(b.Rotation.Rotate(b.CenterOfMass))

	if !vmath.FiniteVec(b.Position) || !vmath.FiniteVec(b.Velocity) || !vmath.FiniteVec(b.AngularVelocity) {
		b.Position, b.Rotation = prevPos, prevRot
		b.Velocity = mgl64.Vec3{}
		b.AngularVelocity = mgl64.Vec3{}
	}
}
