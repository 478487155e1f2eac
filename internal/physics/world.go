package physics

import (
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/OCAP2/vehiclesim/internal/vmath"
)

const (
	contactRestitution = 0.1
	contactFriction    = 0.6
	contactCorrection  = 0.8
)

// Collision is reported to a body for every contact of one of its colliders.
type Collision struct {
	Self      *Collider
	Other     *Collider
	OtherBody *Body
	Point     mgl64.Vec3
	// Normal points from the other collider towards this body.
	Normal mgl64.Vec3
	// RelativeVelocity is the other body's point velocity minus this body's.
	RelativeVelocity mgl64.Vec3
	// Stay is false on the first step of a contact.
	Stay bool
}

type contactKey struct {
	self  *Collider
	other *Collider
}

// World owns bodies and colliders and advances them in fixed steps. It is not safe for
// concurrent use; the simulation goroutine is its only user.
type World struct {
	Gravity mgl64.Vec3

	bodies         []*Body
	colliders      []*Collider
	byID           map[uint32]*Collider
	nextID         uint32
	nextColliderID uint32
	touching       map[contactKey]bool
}

// NewWorld creates an empty world.
func NewWorld(gravity mgl64.Vec3) *World {
	return &World{Gravity: gravity, byID: map[uint32]*Collider{}, touching: map[contactKey]bool{}}
}

// AddBody registers a body and assigns its id.
func (w *World) AddBody(b *Body) *Body {
	w.nextID++
	b.ID = w.nextID
	w.bodies = append(w.bodies, b)
	return b
}

// RemoveBody unregisters a body together with every collider attached to it.
func (w *World) RemoveBody(b *Body) {
	for i, cur := range w.bodies {
		if cur == b {
			w.bodies = append(w.bodies[:i], w.bodies[i+1:]...)
			break
		}
	}
	for _, c := range append([]*Collider(nil), b.colliders...) {
		w.RemoveCollider(c)
	}
}

// AddCollider registers a collider. Attached colliders are tracked on their body too.
// A collider without an id gets the next free one; callers that need ids to match
// across processes (vehicle parts) assign them up front.
func (w *World) AddCollider(c *Collider) *Collider {
	if c.ID == 0 {
		for {
			w.nextColliderID++
			if _, taken := w.byID[w.nextColliderID]; !taken {
				break
			}
		}
		c.ID = w.nextColliderID
	}
	w.byID[c.ID] = c
	w.colliders = append(w.colliders, c)
	if c.Body != nil {
		c.Body.colliders = append(c.Body.colliders, c)
	}
	return c
}

func (w *World) RemoveCollider(c *Collider) {
	if w.byID[c.ID] == c {
		delete(w.byID, c.ID)
	}
	for i, cur := range w.colliders {
		if cur == c {
			w.colliders = append(w.colliders[:i], w.colliders[i+1:]...)
			break
		}
	}
	if c.Body != nil {
		for i, cur := range c.Body.colliders {
			if cur == c {
				c.Body.colliders = append(c.Body.colliders[:i], c.Body.colliders[i+1:]...)
				break
			}
		}
	}
	for k := range w.touching {
		if k.self == c || k.other == c {
			delete(w.touching, k)
		}
	}
}

// Collider returns the collider registered under id, nil when there is none.
func (w *World) Collider(id uint32) *Collider {
	if id == 0 {
		return nil
	}
	return w.byID[id]
}

func (w *World) Bodies() []*Body        { return w.bodies }
func (w *World) Colliders() []*Collider { return w.colliders }

// RaycastAll returns every hit along the ray within maxDist, nearest first.
func (w *World) RaycastAll(origin, dir mgl64.Vec3, maxDist float64, mask Mask) []Hit {
	d := vmath.SafeNormalize(dir)
	if d == vmath.Zero || maxDist <= 0 {
		return nil
	}
	var hits []Hit
	for _, c := range w.colliders {
		if c.Trigger || !mask.Has(c.Layer) {
			continue
		}
		if h, ok := c.raycast(origin, d, maxDist); ok {
			hits = append(hits, h)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	return hits
}

// Raycast returns the nearest hit.
func (w *World) Raycast(origin, dir mgl64.Vec3, maxDist float64, mask Mask) (Hit, bool) {
	hits := w.RaycastAll(origin, dir, maxDist, mask)
	if len(hits) == 0 {
		return Hit{}, false
	}
	return hits[0], true
}

// Step integrates every body by dt and resolves contacts.
func (w *World) Step(dt float64) {
	if dt <= 0 {
		return
	}
	for _, b := range w.bodies {
		b.integrate(dt, w.Gravity)
	}
	w.resolveContacts()
}

func (w *World) resolveContacts() {
	now := map[contactKey]bool{}

	for _, self := range w.colliders {
		a := self.Body
		if a == nil || a.Kinematic || self.Trigger || self.Shape != ShapeSphere {
			continue
		}
		for _, other := range w.colliders {
			if other == self || other.Trigger || other.Body == a {
				continue
			}
			if self.Owner != 0 && self.Owner == other.Owner {
				continue
			}
			b := other.Body
			dynamicOther := b != nil && !b.Kinematic
			// sphere pairs between two dynamic bodies are resolved once
			if dynamicOther && other.Shape == ShapeSphere && b.ID < a.ID {
				continue
			}

			center := self.WorldPose().Position
			surface, n, dist := other.closestPoint(center)
			pen := self.Radius - dist
			if pen <= 0 {
				continue
			}

			w.separate(a, b, dynamicOther, n, pen)
			rel := w.applyContactImpulse(a, b, surface, n)

			key := contactKey{self: self, other: other}
			now[key] = true
			if a.OnCollision != nil {
				a.OnCollision(Collision{
					Self: self, Other: other, OtherBody: b,
					Point: surface, Normal: n, RelativeVelocity: rel.Mul(-1),
					Stay: w.touching[key],
				})
			}
			if dynamicOther {
				mirror := contactKey{self: other, other: self}
				now[mirror] = true
				if b.OnCollision != nil {
					b.OnCollision(Collision{
						Self: other, Other: self, OtherBody: a,
						Point: surface, Normal: n.Mul(-1), RelativeVelocity: rel,
						Stay: w.touching[mirror],
					})
				}
			}
		}
	}
	w.touching = now
}

func (w *World) separate(a, b *Body, dynamicOther bool, n mgl64.Vec3, pen float64) {
	invA := 1 / a.Mass
	invB := 0.0
	if dynamicOther {
		invB = 1 / b.Mass
	}
	share := pen * contactCorrection / (invA + invB)
	a.Position = a.Position.Add(n.Mul(share * invA))
	if dynamicOther {
		b.Position = b.Position.Sub(n.Mul(share * invB))
	}
}

// applyContactImpulse removes the approaching velocity along n and applies friction. It
// returns this body's velocity relative to the other one before the impulse.
func (w *World) applyContactImpulse(a, b *Body, point, n mgl64.Vec3) mgl64.Vec3 {
	va := a.PointVelocity(point)
	var vb mgl64.Vec3
	if b != nil {
		vb = b.PointVelocity(point)
	}
	rel := va.Sub(vb)
	vn := rel.Dot(n)
	if vn >= 0 {
		return rel
	}

	k := a.inverseMassAt(point, n) + b.inverseMassAt(point, n)
	if k <= 0 {
		return rel
	}
	j := -(1 + contactRestitution) * vn / k
	a.applyImpulse(n.Mul(j), point)
	b.applyImpulse(n.Mul(-j), point)

	tangent := rel.Sub(n.Mul(vn))
	if tl := tangent.Len(); tl > vmath.Epsilon {
		t := tangent.Mul(1 / tl)
		kt := a.inverseMassAt(point, t) + b.inverseMassAt(point, t)
		if kt > 0 {
			jt := vmath.Clamp(-tl/kt, -contactFriction*j, contactFriction*j)
			a.applyImpulse(t.Mul(jt), point)
			b.applyImpulse(t.Mul(-jt), point)
		}
	}
	return rel
}
