package physics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/OCAP2/vehiclesim/internal/ground"
	"github.com/OCAP2/vehiclesim/internal/vmath"
)

// Shape is the kind of a collider.
type Shape int

const (
	ShapePlane Shape = iota
	ShapeBox
	ShapeSphere
)

func (s Shape) String() string {
	switch s {
	case ShapePlane:
		return "plane"
	case ShapeBox:
		return "box"
	case ShapeSphere:
		return "sphere"
	}
	return "unknown"
}

// TagPopTire marks colliders that deflate tyres on contact.
const TagPopTire = "Pop Tire"

// Collider is a shape either fixed in the world or attached to a body.
type Collider struct {
	// ID is unique within a world; 0 until the collider is added.
	ID    uint32
	Shape Shape
	// Local is relative to Body when attached, otherwise it is the world pose. A plane
	// passes through Local.Position with normal Local.Up().
	Local       vmath.Pose
	HalfExtents mgl64.Vec3
	Radius      float64

	Layer int
	// Owner is the id of the vehicle the collider belongs to, 0 for scenery.
	Owner uint32
	Body  *Body
	// Trigger colliders never take part in contact resolution.
	Trigger bool

	Material *ground.Material
	Surface  *ground.Instance
	Terrain  *ground.Terrain
	Tags     []string
}

// HasTag reports whether the collider carries tag.
func (c *Collider) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// WorldPose returns the collider pose in world space.
func (c *Collider) WorldPose() vmath.Pose {
	if c.Body != nil {
		return c.Body.Pose().Mul(c.Local)
	}
	return c.Local
}

// Mask is a bit set of collider layers.
type Mask uint32

// AllLayers matches every layer.
const AllLayers Mask = math.MaxUint32

// LayerMask builds a mask from layer indices.
func LayerMask(layers ...int) Mask {
	var m Mask
	for _, l := range layers {
		m |= 1 << uint(l)
	}
	return m
}

func (m Mask) Has(layer int) bool {
	return m&(1<<uint(layer)) != 0
}

// Hit is one ray intersection.
type Hit struct {
	Distance float64
	Point    mgl64.Vec3
	Normal   mgl64.Vec3
	Collider *Collider
}

// raycast intersects the ray with the collider. dir must be normalised. Rays starting
// inside a solid do not hit it.
func (c *Collider) raycast(origin, dir mgl64.Vec3, maxDist float64) (Hit, bool) {
	pose := c.WorldPose()
	switch c.Shape {
	case ShapePlane:
		n := pose.Up()
		denom := dir.Dot(n)
		if denom >= -vmath.Epsilon {
			return Hit{}, false
		}
		t := pose.Position.Sub(origin).Dot(n) / denom
		if t < 0 || t > maxDist {
			return Hit{}, false
		}
		return Hit{Distance: t, Point: origin.Add(dir.Mul(t)), Normal: n, Collider: c}, true

	case ShapeSphere:
		oc := origin.Sub(pose.Position)
		b := oc.Dot(dir)
		cc := oc.Dot(oc) - c.Radius*c.Radius
		if cc <= 0 {
			return Hit{}, false
		}
		disc := b*b - cc
		if disc < 0 {
			return Hit{}, false
		}
		t := -b - math.Sqrt(disc)
		if t < 0 || t > maxDist {
			return Hit{}, false
		}
		p := origin.Add(dir.Mul(t))
		return Hit{Distance: t, Point: p, Normal: vmath.SafeNormalize(p.Sub(pose.Position)), Collider: c}, true

	case ShapeBox:
		lo := pose.InverseTransformPoint(origin)
		ld := pose.InverseTransformDirection(dir)
		tmin, tmax := math.Inf(-1), math.Inf(1)
		axis, sign := -1, 0.0
		for i := 0; i < 3; i++ {
			h := c.HalfExtents[i]
			if math.Abs(ld[i]) < vmath.Epsilon {
				if lo[i] < -h || lo[i] > h {
					return Hit{}, false
				}
				continue
			}
			t1 := (-h - lo[i]) / ld[i]
			t2 := (h - lo[i]) / ld[i]
			s := -1.0
			if t1 > t2 {
				t1, t2 = t2, t1
				s = 1
			}
			if t1 > tmin {
				tmin = t1
				axis, sign = i, s
			}
			tmax = math.Min(tmax, t2)
			if tmin > tmax {
				return Hit{}, false
			}
		}
		if axis < 0 || tmin < 0 || tmin > maxDist {
			return Hit{}, false
		}
		var ln mgl64.Vec3
		ln[axis] = sign
		return Hit{
			Distance: tmin,
			Point:    origin.Add(dir.Mul(tmin)),
			Normal:   pose.TransformDirection(ln),
			Collider: c,
		}, true
	}
	return Hit{}, false
}

// closestPoint returns the surface point of the collider nearest to p, the outward
// normal there and the signed distance of p from the surface (negative inside).
func (c *Collider) closestPoint(p mgl64.Vec3) (point, normal mgl64.Vec3, dist float64) {
	pose := c.WorldPose()
	switch c.Shape {
	case ShapePlane:
		n := pose.Up()
		d := p.Sub(pose.Position).Dot(n)
		return p.Sub(n.Mul(d)), n, d

	case ShapeSphere:
		diff := p.Sub(pose.Position)
		l := diff.Len()
		n := vmath.Up
		if l > vmath.Epsilon {
			n = diff.Mul(1 / l)
		}
		return pose.Position.Add(n.Mul(c.Radius)), n, l - c.Radius

	case ShapeBox:
		lp := pose.InverseTransformPoint(p)
		h := c.HalfExtents
		q := mgl64.Vec3{
			vmath.Clamp(lp[0], -h[0], h[0]),
			vmath.Clamp(lp[1], -h[1], h[1]),
			vmath.Clamp(lp[2], -h[2], h[2]),
		}
		if q != lp {
			diff := lp.Sub(q)
			l := diff.Len()
			return pose.TransformPoint(q), pose.TransformDirection(diff.Mul(1 / l)), l
		}
		// inside: push out through the nearest face
		best, axis, sign := math.Inf(1), 1, 1.0
		for i := 0; i < 3; i++ {
			if d := h[i] - lp[i]; d < best {
				best, axis, sign = d, i, 1
			}
			if d := lp[i] + h[i]; d < best {
				best, axis, sign = d, i, -1
			}
		}
		var ln mgl64.Vec3
		ln[axis] = sign
		q[axis] = sign * h[axis]
		return pose.TransformPoint(q), pose.TransformDirection(ln), -best
	}
	return p, vmath.Up, math.Inf(1)
}
