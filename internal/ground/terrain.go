package ground

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/peterstace/simplefeatures/geom"
)

// Region marks part of a terrain (in the x/z plane) as one surface type.
type Region struct {
	SurfaceType int
	Area        geom.Polygon
}

// Terrain replaces a splat-mapped terrain: regions are checked in order and the first one
// containing the point is the dominant surface.
type Terrain struct {
	surfaceTypes []int
	frictions    []float64
	regions      []Region
	defaultType  int
}

// NewTerrain resolves the friction of every surface type used by the regions.
func NewTerrain(table *Table, material *Material, defaultType int, regions ...Region) *Terrain {
	t := &Terrain{regions: regions, defaultType: defaultType}

	seen := map[int]bool{}
	add := func(st int) {
		if seen[st] {
			return
		}
		seen[st] = true
		s := table.Get(st)
		f := s.Friction
		if s.UseColliderFriction {
			f = ColliderFriction(material)
		}
		t.surfaceTypes = append(t.surfaceTypes, st)
		t.frictions = append(t.frictions, f)
	}
	add(defaultType)
	for _, r := range regions {
		add(r.SurfaceType)
	}
	return t
}

// RegionFromWKT parses a polygon in well-known text, x/z coordinates in metres.
func RegionFromWKT(surfaceType int, wkt string) (Region, error) {
	g, err := geom.UnmarshalWKT(wkt)
	if err != nil {
		return Region{}, fmt.Errorf("parse region: %w", err)
	}
	poly, ok := g.AsPolygon()
	if !ok {
		return Region{}, fmt.Errorf("region must be a POLYGON, got %s", g.Type())
	}
	return Region{SurfaceType: surfaceType, Area: poly}, nil
}

// RectRegion is a convenience axis-aligned region between two x/z corners.
func RectRegion(surfaceType int, minX, minZ, maxX, maxZ float64) (Region, error) {
	return polygonRegion(surfaceType, []float64{
		minX, minZ,
		maxX, minZ,
		maxX, maxZ,
		minX, maxZ,
		minX, minZ,
	})
}

// polygonRegion builds a region from a closed ring of flat x, z pairs.
func polygonRegion(surfaceType int, flat []float64) (Region, error) {
	ring, err := geom.NewLineString(geom.NewSequence(flat, geom.DimXY))
	if err != nil {
		return Region{}, fmt.Errorf("region ring: %w", err)
	}
	poly, err := geom.NewPolygon([]geom.LineString{ring})
	if err != nil {
		return Region{}, fmt.Errorf("region polygon: %w", err)
	}
	return Region{SurfaceType: surfaceType, Area: poly}, nil
}

// DominantSurfaceTypeAt returns the surface type under a world point.
func (t *Terrain) DominantSurfaceTypeAt(p mgl64.Vec3) int {
	if t == nil {
		return 0
	}
	pt, err := geom.NewPoint(geom.Coordinates{XY: geom.XY{X: p[0], Y: p[2]}, Type: geom.DimXY})
	if err != nil {
		return t.defaultType
	}
	for _, r := range t.regions {
		if geom.Intersects(r.Area.AsGeometry(), pt.AsGeometry()) {
			return r.SurfaceType
		}
	}
	return t.defaultType
}

// Friction returns the friction of a surface type on this terrain, 1 when the terrain
// does not use that type.
func (t *Terrain) Friction(surfaceType int) float64 {
	if t == nil {
		return 1
	}
	for i, st := range t.surfaceTypes {
		if st == surfaceType {
			return t.frictions[i]
		}
	}
	return 1
}

// RegionFromPoints builds a region from an outer ring of [x, z] points. The ring is closed
// automatically.
func RegionFromPoints(surfaceType int, points [][]float64) (Region, error) {
	if len(points) < 3 {
		return Region{}, fmt.Errorf("region needs at least 3 points, got %d", len(points))
	}
	flat := make([]float64, 0, (len(points)+1)*2)
	for i, p := range points {
		if len(p) < 2 {
			return Region{}, fmt.Errorf("point %d has insufficient values", i)
		}
		flat = append(flat, p[0], p[1])
	}
	first, last := points[0], points[len(points)-1]
	if first[0] != last[0] || first[1] != last[1] {
		flat = append(flat, first[0], first[1])
	}
	return polygonRegion(surfaceType, flat)
}
