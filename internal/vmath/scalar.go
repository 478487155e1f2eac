// Package vmath holds the scalar and vector helpers the simulation needs on top of mgl64.
package vmath

import "math"

// Epsilon is the smallest value divisions are allowed to see.
const Epsilon = 1e-6

// Lerp interpolates between a and b with t clamped to [0,1].
func Lerp(a, b, t float64) float64 {
	return a + (b-a)*Clamp01(t)
}

// LerpUnclamped interpolates between a and b without clamping t.
func LerpUnclamped(a, b, t float64) float64 {
	return a + (b-a)*t
}

// InverseLerp returns where v lies between a and b, clamped to [0,1].
func InverseLerp(a, b, v float64) float64 {
	if a == b {
		return 0
	}
	return Clamp01((v - a) / (b - a))
}

func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func Clamp01(v float64) float64 {
	return Clamp(v, 0, 1)
}

// Sign returns 1 for zero and positive values and -1 for negative ones.
func Sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

// SignZero returns 0 for zero, unlike Sign.
func SignZero(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// Approximately compares two floats with a tolerance scaled to their magnitude.
func Approximately(a, b float64) bool {
	return math.Abs(b-a) < math.Max(1e-6*math.Max(math.Abs(a), math.Abs(b)), 1e-9)
}

// MaxAbs returns whichever of a and b has the larger magnitude.
func MaxAbs(a, b float64) float64 {
	if math.Abs(a) >= math.Abs(b) {
		return a
	}
	return b
}

// Finite reports whether v is neither NaN nor infinite.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Or returns v when it is finite, otherwise fallback.
func Or(v, fallback float64) float64 {
	if Finite(v) {
		return v
	}
	return fallback
}

// DeltaAngle is the shortest signed difference between two angles in degrees.
func DeltaAngle(current, target float64) float64 {
	d := math.Mod(target-current, 360)
	if d < 0 {
		d += 360
	}
	if d > 180 {
		d -= 360
	}
	return d
}

// SmoothDamp moves current towards target with a critically damped spring.
// velocity is carried between calls by the caller.
func SmoothDamp(current, target float64, velocity *float64, smoothTime, maxSpeed, dt float64) float64 {
	smoothTime = math.Max(0.0001, smoothTime)
	omega := 2 / smoothTime
	x := omega * dt
	exp := 1 / (1 + x + 0.48*x*x + 0.235*x*x*x)

	change := current - target
	originalTo := target
	maxChange := maxSpeed * smoothTime
	change = Clamp(change, -maxChange, maxChange)
	target = current - change

	temp := (*velocity + omega*change) * dt
	*velocity = (*velocity - omega*temp) * exp
	output := target + (change+temp)*exp

	if (originalTo-current > 0) == (output > originalTo) {
		output = originalTo
		if dt > 0 {
			*velocity = (output - originalTo) / dt
		}
	}
	return output
}

// SmoothDampAngle is SmoothDamp for angles in degrees.
func SmoothDampAngle(current, target float64, velocity *float64, smoothTime, maxSpeed, dt float64) float64 {
	target = current + DeltaAngle(current, target)
	return SmoothDamp(current, target, velocity, smoothTime, maxSpeed, dt)
}
