// Package curve implements keyframed response curves used across the drivetrain and tyre
// model. A Curve is immutable once built and is shared by pointer between drive links.
package curve

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Keyframe is one control point. Tangents are slopes (value per unit time).
type Keyframe struct {
	Time       float64 `json:"time" mapstructure:"time"`
	Value      float64 `json:"value" mapstructure:"value"`
	InTangent  float64 `json:"inTangent" mapstructure:"inTangent"`
	OutTangent float64 `json:"outTangent" mapstructure:"outTangent"`
}

// Curve evaluates with cubic Hermite interpolation and clamps outside the key range.
type Curve struct {
	keys []Keyframe
}

// New builds a curve from keys, sorting them by time.
func New(keys ...Keyframe) *Curve {
	k := make([]Keyframe, len(keys))
	copy(k, keys)
	sort.SliceStable(k, func(i, j int) bool { return k[i].Time < k[j].Time })
	return &Curve{keys: k}
}

// Linear is a straight line from (t0,v0) to (t1,v1).
func Linear(t0, v0, t1, v1 float64) *Curve {
	if t0 == t1 {
		return New(Keyframe{Time: t0, Value: v0})
	}
	slope := (v1 - v0) / (t1 - t0)
	return New(
		Keyframe{Time: t0, Value: v0, InTangent: 0, OutTangent: slope},
		Keyframe{Time: t1, Value: v1, InTangent: slope, OutTangent: 0},
	)
}

// EaseInOut is an S-curve from (t0,v0) to (t1,v1) with flat ends.
func EaseInOut(t0, v0, t1, v1 float64) *Curve {
	if t0 == t1 {
		return New(Keyframe{Time: t0, Value: v0})
	}
	return New(
		Keyframe{Time: t0, Value: v0},
		Keyframe{Time: t1, Value: v1},
	)
}

// Constant always evaluates to v.
func Constant(v float64) *Curve {
	return New(Keyframe{Time: 0, Value: v})
}

// Len returns the number of keys.
func (c *Curve) Len() int {
	if c == nil {
		return 0
	}
	return len(c.keys)
}

// Keys returns a copy of the keys.
func (c *Curve) Keys() []Keyframe {
	if c == nil {
		return nil
	}
	out := make([]Keyframe, len(c.keys))
	copy(out, c.keys)
	return out
}

// LastKeyTime returns the time of the rightmost key, 0 for an empty curve.
func (c *Curve) LastKeyTime() float64 {
	if c.Len() == 0 {
		return 0
	}
	return c.keys[len(c.keys)-1].Time
}

// Evaluate returns the curve value at t. A nil or empty curve evaluates to 0.
func (c *Curve) Evaluate(t float64) float64 {
	n := c.Len()
	switch {
	case n == 0:
		return 0
	case n == 1 || math.IsNaN(t):
		return c.keys[0].Value
	case t <= c.keys[0].Time:
		return c.keys[0].Value
	case t >= c.keys[n-1].Time:
		return c.keys[n-1].Value
	}

	i := sort.Search(n, func(i int) bool { return c.keys[i].Time > t }) - 1
	k0, k1 := c.keys[i], c.keys[i+1]
	dt := k1.Time - k0.Time
	if dt <= 0 {
		return k1.Value
	}

	s := (t - k0.Time) / dt
	s2 := s * s
	s3 := s2 * s
	h00 := 2*s3 - 3*s2 + 1
	h10 := s3 - 2*s2 + s
	h01 := -2*s3 + 3*s2
	h11 := s3 - s2

	return h00*k0.Value + h10*dt*k0.OutTangent + h01*k1.Value + h11*dt*k1.InTangent
}

// UnmarshalJSON accepts either a list of keyframe objects or a list of [time, value]
// pairs. Pairs get linear tangents.
func (c *Curve) UnmarshalJSON(data []byte) error {
	var objs []Keyframe
	if err := json.Unmarshal(data, &objs); err == nil {
		*c = *New(objs...)
		return nil
	}

	var pairs [][2]float64
	if err := json.Unmarshal(data, &pairs); err != nil {
		return fmt.Errorf("curve must be keyframes or [time,value] pairs: %w", err)
	}
	*c = *FromPoints(pairs...)
	return nil
}

// MarshalJSON writes the keys as keyframe objects.
func (c *Curve) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.keys)
}

// FromPoints builds a piecewise linear curve through the given (time, value) points.
func FromPoints(points ...[2]float64) *Curve {
	keys := make([]Keyframe, len(points))
	for i, p := range points {
		keys[i] = Keyframe{Time: p[0], Value: p[1]}
	}
	sort.SliceStable(keys, func(i, j int) bool { return keys[i].Time < keys[j].Time })
	for i := range keys {
		if i > 0 {
			dt := keys[i].Time - keys[i-1].Time
			if dt > 0 {
				keys[i].InTangent = (keys[i].Value - keys[i-1].Value) / dt
			}
		}
		if i < len(keys)-1 {
			dt := keys[i+1].Time - keys[i].Time
			if dt > 0 {
				keys[i].OutTangent = (keys[i+1].Value - keys[i].Value) / dt
			}
		}
	}
	return &Curve{keys: keys}
}
