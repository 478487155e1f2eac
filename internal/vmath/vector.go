package vmath

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

var (
	Zero    = mgl64.Vec3{}
	Up      = mgl64.Vec3{0, 1, 0}
	Down    = mgl64.Vec3{0, -1, 0}
	Right   = mgl64.Vec3{1, 0, 0}
	Left    = mgl64.Vec3{-1, 0, 0}
	Forward = mgl64.Vec3{0, 0, 1}
	Back    = mgl64.Vec3{0, 0, -1}
)

func SqrLen(v mgl64.Vec3) float64 {
	return v.Dot(v)
}

// SafeNormalize returns the unit vector of v, or the zero vector when v is too short.
func SafeNormalize(v mgl64.Vec3) mgl64.Vec3 {
	l := v.Len()
	if l < Epsilon {
		return mgl64.Vec3{}
	}
	return v.Mul(1 / l)
}

// LerpVec interpolates component-wise with t clamped to [0,1].
func LerpVec(a, b mgl64.Vec3, t float64) mgl64.Vec3 {
	t = Clamp01(t)
	return a.Add(b.Sub(a).Mul(t))
}

// MoveTowards moves current towards target by at most maxDelta.
func MoveTowards(current, target mgl64.Vec3, maxDelta float64) mgl64.Vec3 {
	diff := target.Sub(current)
	dist := diff.Len()
	if dist <= maxDelta || dist == 0 {
		return target
	}
	return current.Add(diff.Mul(maxDelta / dist))
}

// SmoothDampVec is SmoothDamp applied to a vector as a whole.
func SmoothDampVec(current, target mgl64.Vec3, velocity *mgl64.Vec3, smoothTime, maxSpeed, dt float64) mgl64.Vec3 {
	smoothTime = math.Max(0.0001, smoothTime)
	omega := 2 / smoothTime
	x := omega * dt
	exp := 1 / (1 + x + 0.48*x*x + 0.235*x*x*x)

	change := current.Sub(target)
	originalTo := target

	maxChange := maxSpeed * smoothTime
	if l := change.Len(); l > maxChange && l > 0 {
		change = change.Mul(maxChange / l)
	}
	target = current.Sub(change)

	temp := velocity.Add(change.Mul(omega)).Mul(dt)
	*velocity = velocity.Sub(temp.Mul(omega)).Mul(exp)
	output := target.Add(change.Add(temp).Mul(exp))

	if originalTo.Sub(current).Dot(output.Sub(originalTo)) > 0 {
		output = originalTo
		if dt > 0 {
			*velocity = output.Sub(originalTo).Mul(1 / dt)
		}
	}
	return output
}

// Project returns the projection of v on normal.
func Project(v, normal mgl64.Vec3) mgl64.Vec3 {
	sqr := SqrLen(normal)
	if sqr < Epsilon {
		return mgl64.Vec3{}
	}
	return normal.Mul(v.Dot(normal) / sqr)
}

// FiniteVec reports whether every component of v is finite.
func FiniteVec(v mgl64.Vec3) bool {
	return Finite(v[0]) && Finite(v[1]) && Finite(v[2])
}

// Scale multiplies two vectors component-wise.
func Scale(a, b mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{a[0] * b[0], a[1] * b[1], a[2] * b[2]}
}

// VecApproxEqual compares vectors with an absolute tolerance.
func VecApproxEqual(a, b mgl64.Vec3, tolerance float64) bool {
	return a.Sub(b).Len() <= tolerance
}
