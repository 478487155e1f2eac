// Package geo anchors the simulation frame on the globe. The local frame is metres with
// +X east, +Y up and +Z north around a configured WGS84 origin.
package geo

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// Frame converts between local simulation metres and lon/lat. Local offsets are applied
// in web mercator (EPSG:3857) scaled by the origin latitude, which is accurate to well
// under a metre for the few kilometres a session covers.
type Frame struct {
	lon, lat float64
	ox, oy   float64
	scale    float64

	toMercator func(a, b, c float64) (float64, float64, float64)
	toWGS84    func(a, b, c float64) (float64, float64, float64)
}

// NewFrame creates a frame around the origin.
func NewFrame(lon, lat float64) (*Frame, error) {
	if math.IsNaN(lon) || math.IsNaN(lat) || lon < -180 || lon > 180 || lat < -85 || lat > 85 {
		return nil, ErrInvalidCoordinates
	}
	epsg := wgs84.EPSG()
	f := &Frame{
		lon:        lon,
		lat:        lat,
		scale:      1 / math.Cos(lat*math.Pi/180),
		toMercator: epsg.Transform(4326, 3857),
		toWGS84:    epsg.Transform(3857, 4326),
	}
	f.ox, f.oy, _ = f.toMercator(lon, lat, 0)
	return f, nil
}

// Origin returns the origin lon/lat.
func (f *Frame) Origin() (lon, lat float64) { return f.lon, f.lat }

// ToLonLat maps a local position to lon/lat. Height is ignored.
func (f *Frame) ToLonLat(p mgl64.Vec3) (lon, lat float64) {
	lon, lat, _ = f.toWGS84(f.ox+p.X()*f.scale, f.oy+p.Z()*f.scale, 0)
	return lon, lat
}

// FromLonLat maps lon/lat to a local position at height y.
func (f *Frame) FromLonLat(lon, lat, y float64) mgl64.Vec3 {
	x, z, _ := f.toMercator(lon, lat, 0)
	return mgl64.Vec3{(x - f.ox) / f.scale, y, (z - f.oy) / f.scale}
}

// Point returns the lon/lat point of a local position.
func (f *Frame) Point(p mgl64.Vec3) (geom.Point, error) {
	lon, lat := f.ToLonLat(p)
	return LonLatPoint(lon, lat)
}

// LonLatPoint builds an XY point. Non-finite coordinates are an error.
func LonLatPoint(lon, lat float64) (geom.Point, error) {
	return geom.NewPoint(geom.Coordinates{XY: geom.XY{X: lon, Y: lat}, Type: geom.DimXY})
}

// GroundPoint projects a local position onto the ground plane (x, z).
func GroundPoint(p mgl64.Vec3) (geom.Point, error) {
	return geom.NewPoint(geom.Coordinates{XY: geom.XY{X: p.X(), Y: p.Z()}, Type: geom.DimXY})
}

// Vec3FromString parses "x,y,z" or "x,z" (height 0) into a local position.
func Vec3FromString(coords string) (mgl64.Vec3, error) {
	parts := strings.Split(coords, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return mgl64.Vec3{}, ErrInvalidCoordinates
	}
	vals := make([]float64, len(parts))
	for i, s := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return mgl64.Vec3{}, ErrInvalidCoordinates
		}
		vals[i] = v
	}
	if len(vals) == 2 {
		return mgl64.Vec3{vals[0], 0, vals[1]}, nil
	}
	return mgl64.Vec3{vals[0], vals[1], vals[2]}, nil
}
