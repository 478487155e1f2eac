package vmath

import "github.com/go-gl/mathgl/mgl64"

// Pose is a position and rotation pair, the headless stand-in for a scene transform.
type Pose struct {
	Position mgl64.Vec3
	Rotation mgl64.Quat
}

// Identity returns a pose at the origin with no rotation.
func Identity() Pose {
	return Pose{Rotation: mgl64.QuatIdent()}
}

func (p Pose) TransformPoint(local mgl64.Vec3) mgl64.Vec3 {
	return p.Position.Add(p.Rotation.Rotate(local))
}

func (p Pose) InverseTransformPoint(world mgl64.Vec3) mgl64.Vec3 {
	return InverseRotate(p.Rotation, world.Sub(p.Position))
}

func (p Pose) TransformDirection(local mgl64.Vec3) mgl64.Vec3 {
	return p.Rotation.Rotate(local)
}

func (p Pose) InverseTransformDirection(world mgl64.Vec3) mgl64.Vec3 {
	return InverseRotate(p.Rotation, world)
}

// Mul composes a child pose expressed in p's space into world space.
func (p Pose) Mul(child Pose) Pose {
	return Pose{
		Position: p.TransformPoint(child.Position),
		Rotation: p.Rotation.Mul(child.Rotation).Normalize(),
	}
}

// Local expresses a world pose in p's space.
func (p Pose) Local(world Pose) Pose {
	return Pose{
		Position: p.InverseTransformPoint(world.Position),
		Rotation: p.Rotation.Inverse().Mul(world.Rotation).Normalize(),
	}
}

func (p Pose) Forward() mgl64.Vec3 { return p.Rotation.Rotate(Forward) }
func (p Pose) Up() mgl64.Vec3      { return p.Rotation.Rotate(Up) }
func (p Pose) Right() mgl64.Vec3   { return p.Rotation.Rotate(Right) }
