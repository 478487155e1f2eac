package geo

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	geom "github.com/peterstace/simplefeatures/geom"
)

// Track builds the ground plane path of a vehicle from its recorded positions.
func Track(positions []mgl64.Vec3) (geom.LineString, error) {
	if len(positions) < 2 {
		return geom.LineString{}, fmt.Errorf("track must have at least 2 points, got %d", len(positions))
	}
	flat := make([]float64, 0, len(positions)*2)
	for _, p := range positions {
		flat = append(flat, p.X(), p.Z())
	}
	ls, err := geom.NewLineString(geom.NewSequence(flat, geom.DimXY))
	if err != nil {
		return geom.LineString{}, fmt.Errorf("track: %w", err)
	}
	return ls, nil
}

// Distance is the ground plane length of the path in metres. Fewer than two points
// have no length.
func Distance(positions []mgl64.Vec3) float64 {
	ls, err := Track(positions)
	if err != nil {
		return 0
	}
	return ls.Length()
}
