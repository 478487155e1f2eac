// Package ground resolves what a tyre is driving on: the surface type table, surfaces
// attached to individual colliders, and terrain split into surface regions.
package ground

// Surface is one entry of the surface table.
type Surface struct {
	Name                string  `json:"name" mapstructure:"name"`
	UseColliderFriction bool    `json:"useColliderFriction" mapstructure:"useColliderFriction"`
	Friction            float64 `json:"friction" mapstructure:"friction"`
	AlwaysScrape        bool    `json:"alwaysScrape" mapstructure:"alwaysScrape"`
	LeaveSparks         bool    `json:"leaveSparks" mapstructure:"leaveSparks"`
}

// Table is the session-wide list of surface types, indexed by surface type.
type Table struct {
	surfaces []Surface
}

// NewTable builds a table. An empty table gets a single default surface so that surface
// type 0 always resolves.
func NewTable(surfaces ...Surface) *Table {
	if len(surfaces) == 0 {
		surfaces = []Surface{DefaultSurface()}
	}
	s := make([]Surface, len(surfaces))
	copy(s, surfaces)
	return &Table{surfaces: s}
}

// DefaultSurface is plain tarmac with friction 1.
func DefaultSurface() Surface {
	return Surface{Name: "Surface", Friction: 1}
}

// Get returns the surface for a type. Out of range types fall back to type 0.
func (t *Table) Get(surfaceType int) Surface {
	if t == nil || len(t.surfaces) == 0 {
		return DefaultSurface()
	}
	if surfaceType < 0 || surfaceType >= len(t.surfaces) {
		return t.surfaces[0]
	}
	return t.surfaces[surfaceType]
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.surfaces)
}

// Material is the physical material of a collider.
type Material struct {
	DynamicFriction float64
}

// ColliderFriction is the friction of a collider judged by its own material:
// twice the dynamic friction, or 1 without a material.
func ColliderFriction(m *Material) float64 {
	if m == nil {
		return 1
	}
	return m.DynamicFriction * 2
}

// Instance pins a collider to one surface type. Friction is resolved once at creation.
type Instance struct {
	SurfaceType int
	Friction    float64
}

// NewInstance resolves the friction of a surface instance against the table and the
// collider material.
func NewInstance(table *Table, surfaceType int, material *Material) *Instance {
	s := table.Get(surfaceType)
	f := s.Friction
	if s.UseColliderFriction {
		f = ColliderFriction(material)
	}
	return &Instance{SurfaceType: surfaceType, Friction: f}
}
