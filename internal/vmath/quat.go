package vmath

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Euler builds a rotation from degrees, applying z then x then y.
func Euler(x, y, z float64) mgl64.Quat {
	qx := mgl64.QuatRotate(mgl64.DegToRad(x), Right)
	qy := mgl64.QuatRotate(mgl64.DegToRad(y), Up)
	qz := mgl64.QuatRotate(mgl64.DegToRad(z), Forward)
	return qy.Mul(qx).Mul(qz)
}

// ToEuler is the inverse of Euler, in degrees within [-180, 180]. At ±90° pitch the
// roll is folded into the yaw.
func ToEuler(q mgl64.Quat) mgl64.Vec3 {
	f := q.Rotate(Forward)
	r := q.Rotate(Right)
	u := q.Rotate(Up)
	x := math.Asin(Clamp(-f[1], -1, 1))
	if math.Abs(f[1]) > 1-1e-9 {
		return mgl64.Vec3{mgl64.RadToDeg(x), mgl64.RadToDeg(math.Atan2(-r[2], r[0])), 0}
	}
	return mgl64.Vec3{
		mgl64.RadToDeg(x),
		mgl64.RadToDeg(math.Atan2(f[0], f[2])),
		mgl64.RadToDeg(math.Atan2(r[1], u[1])),
	}
}

// AngleAxis builds a rotation of deg degrees around axis.
func AngleAxis(deg float64, axis mgl64.Vec3) mgl64.Quat {
	n := SafeNormalize(axis)
	if n == Zero {
		return mgl64.QuatIdent()
	}
	return mgl64.QuatRotate(mgl64.DegToRad(deg), n)
}

// Yaw returns the heading of q around the up axis in degrees.
func Yaw(q mgl64.Quat) float64 {
	f := q.Rotate(Forward)
	return mgl64.RadToDeg(math.Atan2(f[0], f[2]))
}

// LookRotation returns the rotation whose forward axis is forward and whose up axis is as
// close to up as possible. A degenerate forward yields identity.
func LookRotation(forward, up mgl64.Vec3) mgl64.Quat {
	z := SafeNormalize(forward)
	if z == Zero {
		return mgl64.QuatIdent()
	}
	x := SafeNormalize(up.Cross(z))
	if x == Zero {
		// up is parallel to forward, pick any perpendicular
		alt := Right
		if math.Abs(z.Dot(alt)) > 0.9 {
			alt = Forward
		}
		x = SafeNormalize(alt.Cross(z))
		if x == Zero {
			return mgl64.QuatIdent()
		}
	}
	y := z.Cross(x)
	m := mgl64.Mat3FromCols(x, y, z)
	return mgl64.Mat4ToQuat(m.Mat4()).Normalize()
}

// QuatAngle returns the angle in degrees between two rotations.
func QuatAngle(a, b mgl64.Quat) float64 {
	d := math.Min(math.Abs(a.Dot(b)), 1)
	if d > 1-1e-9 {
		return 0
	}
	return mgl64.RadToDeg(math.Acos(d) * 2)
}

// Slerp interpolates along the shortest arc with t clamped to [0,1].
func Slerp(a, b mgl64.Quat, t float64) mgl64.Quat {
	t = Clamp01(t)
	if a.Dot(b) < 0 {
		b = b.Scale(-1)
	}
	return mgl64.QuatSlerp(a, b, t)
}

// RotateTowards rotates from towards to by at most maxDegrees.
func RotateTowards(from, to mgl64.Quat, maxDegrees float64) mgl64.Quat {
	angle := QuatAngle(from, to)
	if angle == 0 {
		return to
	}
	return Slerp(from, to, math.Min(1, maxDegrees/angle))
}

// SmoothDampQuat smooths a rotation towards target using an angular SmoothDamp on the
// remaining angle.
func SmoothDampQuat(current, target mgl64.Quat, angularVelocity *float64, smoothTime, dt float64) mgl64.Quat {
	delta := QuatAngle(current, target)
	if delta > 0 {
		t := SmoothDampAngle(delta, 0, angularVelocity, smoothTime, math.Inf(1), dt)
		t = 1 - t/delta
		return Slerp(current, target, t)
	}
	return current
}

// InverseRotate rotates v by the inverse of q.
func InverseRotate(q mgl64.Quat, v mgl64.Vec3) mgl64.Vec3 {
	return q.Inverse().Rotate(v)
}

// QuatApproxEqual treats q and -q as the same rotation.
func QuatApproxEqual(a, b mgl64.Quat, toleranceDeg float64) bool {
	return QuatAngle(a, b) <= toleranceDeg
}
