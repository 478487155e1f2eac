package physics

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/vehiclesim/internal/vmath"
)

func groundPlane() *Collider {
	return &Collider{Shape: ShapePlane, Local: vmath.Identity()}
}

func TestRaycastPlane(t *testing.T) {
	w := NewWorld(mgl64.Vec3{0, -9.81, 0})
	w.AddCollider(groundPlane())

	hit, ok := w.Raycast(mgl64.Vec3{0, 2, 0}, vmath.Down, 10, AllLayers)
	require.True(t, ok)
	assert.InDelta(t, 2, hit.Distance, 1e-9)
	assert.Equal(t, vmath.Up, hit.Normal)

	_, ok = w.Raycast(mgl64.Vec3{0, 2, 0}, vmath.Down, 1.5, AllLayers)
	assert.False(t, ok, "out of range")

	_, ok = w.Raycast(mgl64.Vec3{0, 2, 0}, vmath.Up, 10, AllLayers)
	assert.False(t, ok, "pointing away")
}

func TestRaycastAllSortedAndMasked(t *testing.T) {
	w := NewWorld(mgl64.Vec3{})
	w.AddCollider(groundPlane())
	box := &Collider{
		Shape:       ShapeBox,
		Local:       vmath.Pose{Position: mgl64.Vec3{0, 1, 0}, Rotation: mgl64.QuatIdent()},
		HalfExtents: mgl64.Vec3{1, 0.5, 1},
		Layer:       3,
	}
	w.AddCollider(box)

	hits := w.RaycastAll(mgl64.Vec3{0, 5, 0}, vmath.Down, 10, AllLayers)
	require.Len(t, hits, 2)
	assert.Same(t, box, hits[0].Collider)
	assert.InDelta(t, 3.5, hits[0].Distance, 1e-9)
	assert.True(t, vmath.VecApproxEqual(vmath.Up, hits[0].Normal, 1e-9))

	hits = w.RaycastAll(mgl64.Vec3{0, 5, 0}, vmath.Down, 10, LayerMask(0))
	require.Len(t, hits, 1)
	assert.Equal(t, ShapePlane, hits[0].Collider.Shape)
}

func TestRaycastSphereFromInsideMisses(t *testing.T) {
	w := NewWorld(mgl64.Vec3{})
	w.AddCollider(&Collider{Shape: ShapeSphere, Local: vmath.Identity(), Radius: 2})

	_, ok := w.Raycast(mgl64.Vec3{}, vmath.Down, 10, AllLayers)
	assert.False(t, ok)

	hit, ok := w.Raycast(mgl64.Vec3{0, 5, 0}, vmath.Down, 10, AllLayers)
	require.True(t, ok)
	assert.InDelta(t, 3, hit.Distance, 1e-9)
}

func TestForceModes(t *testing.T) {
	b := NewBody(vmath.Identity(), 2, mgl64.Vec3{1, 1, 1})
	b.UseGravity = false
	w := NewWorld(mgl64.Vec3{})
	w.AddBody(b)

	b.AddForce(mgl64.Vec3{4, 0, 0}, Force)
	w.Step(0.5)
	assert.InDelta(t, 1, b.Velocity[0], 1e-9, "F/m*dt")

	b.AddForce(mgl64.Vec3{2, 0, 0}, Impulse)
	w.Step(0.5)
	assert.InDelta(t, 2, b.Velocity[0], 1e-9, "J/m")

	b.AddForce(mgl64.Vec3{0, 0, 3}, VelocityChange)
	w.Step(0.5)
	assert.InDelta(t, 3, b.Velocity[2], 1e-9)
}

func TestGravityAndPointVelocity(t *testing.T) {
	b := NewBody(vmath.Identity(), 1, mgl64.Vec3{1, 1, 1})
	w := NewWorld(mgl64.Vec3{0, -10, 0})
	w.AddBody(b)
	w.Step(0.1)
	assert.InDelta(t, -1, b.Velocity[1], 1e-9)
	assert.InDelta(t, -0.1, b.Position[1], 1e-9)

	b.Velocity = mgl64.Vec3{}
	b.AngularVelocity = mgl64.Vec3{0, 1, 0}
	v := b.PointVelocity(b.Position.Add(mgl64.Vec3{0, 0, 1}))
	assert.True(t, vmath.VecApproxEqual(mgl64.Vec3{1, 0, 0}, v, 1e-9), "got %v", v)
}

func TestNonFiniteForceIgnored(t *testing.T) {
	b := NewBody(vmath.Identity(), 1, mgl64.Vec3{1, 1, 1})
	b.UseGravity = false
	w := NewWorld(mgl64.Vec3{})
	w.AddBody(b)

	var zero float64
	b.AddForce(mgl64.Vec3{1 / zero, 0, 0}, Force)
	w.Step(0.1)
	assert.Equal(t, mgl64.Vec3{}, b.Velocity)
}

func TestSphereRestsOnGround(t *testing.T) {
	w := NewWorld(mgl64.Vec3{0, -9.81, 0})
	w.AddCollider(groundPlane())

	b := w.AddBody(NewBody(vmath.Pose{Position: mgl64.Vec3{0, 1, 0}, Rotation: mgl64.QuatIdent()}, 1, mgl64.Vec3{1, 1, 1}))
	w.AddCollider(&Collider{Shape: ShapeSphere, Body: b, Local: vmath.Identity(), Radius: 0.5})

	var enters, stays int
	var last Collision
	b.OnCollision = func(c Collision) {
		if c.Stay {
			stays++
		} else {
			enters++
		}
		last = c
		assert.True(t, vmath.VecApproxEqual(vmath.Up, c.Normal, 1e-9))
	}

	for i := 0; i < 200; i++ {
		w.Step(0.02)
	}
	assert.InDelta(t, 0.5, b.Position[1], 0.05)
	assert.GreaterOrEqual(t, enters, 1)
	assert.Greater(t, stays, enters)
	assert.True(t, last.Stay, "settled contact is a stay")
	assert.Nil(t, last.OtherBody)
}

func TestRemoveBodyDropsColliders(t *testing.T) {
	w := NewWorld(mgl64.Vec3{})
	b := w.AddBody(NewBody(vmath.Identity(), 1, mgl64.Vec3{1, 1, 1}))
	w.AddCollider(&Collider{Shape: ShapeSphere, Body: b, Local: vmath.Identity(), Radius: 1})
	require.Len(t, w.Colliders(), 1)

	w.RemoveBody(b)
	assert.Empty(t, w.Colliders())
	assert.Empty(t, w.Bodies())
}

func TestColliderIDs(t *testing.T) {
	w := NewWorld(mgl64.Vec3{})
	fixed := w.AddCollider(&Collider{ID: 2, Shape: ShapePlane, Local: vmath.Identity()})
	a := w.AddCollider(&Collider{Shape: ShapePlane, Local: vmath.Identity()})
	b := w.AddCollider(&Collider{Shape: ShapePlane, Local: vmath.Identity()})

	assert.Equal(t, uint32(1), a.ID)
	assert.Equal(t, uint32(3), b.ID, "skips the reserved id")
	assert.Same(t, fixed, w.Collider(2))

	w.RemoveCollider(fixed)
	assert.Nil(t, w.Collider(2))
	assert.Nil(t, w.Collider(0))
}
