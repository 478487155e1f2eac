package geo

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFrame_Invalid(t *testing.T) {
	for _, c := range [][2]float64{{181, 0}, {0, 89}, {math.NaN(), 0}, {-200, -10}} {
		_, err := NewFrame(c[0], c[1])
		assert.ErrorIs(t, err, ErrInvalidCoordinates, "%v", c)
	}
}

func TestFrame_OriginMapsToItself(t *testing.T) {
	f, err := NewFrame(13.4, 52.5)
	require.NoError(t, err)

	lon, lat := f.ToLonLat(mgl64.Vec3{0, 100, 0})
	assert.InDelta(t, 13.4, lon, 1e-9)
	assert.InDelta(t, 52.5, lat, 1e-9)

	olon, olat := f.Origin()
	assert.Equal(t, 13.4, olon)
	assert.Equal(t, 52.5, olat)
}

func TestFrame_Axes(t *testing.T) {
	f, err := NewFrame(13.4, 52.5)
	require.NoError(t, err)

	lon, lat := f.ToLonLat(mgl64.Vec3{1000, 0, 0})
	assert.Greater(t, lon, 13.4, "+X is east")
	assert.InDelta(t, 52.5, lat, 1e-3)

	lon, lat = f.ToLonLat(mgl64.Vec3{0, 0, 1000})
	assert.Greater(t, lat, 52.5, "+Z is north")
	assert.InDelta(t, 13.4, lon, 1e-9)

	// one kilometre north is roughly 0.009 degrees of latitude
	assert.InDelta(t, 0.009, lat-52.5, 0.0005)
}

func TestFrame_RoundTrip(t *testing.T) {
	f, err := NewFrame(-122.4, 37.8)
	require.NoError(t, err)

	p := mgl64.Vec3{-250.5, 3, 1200.25}
	lon, lat := f.ToLonLat(p)
	back := f.FromLonLat(lon, lat, 3)
	assert.InDelta(t, p.X(), back.X(), 1e-6)
	assert.InDelta(t, p.Z(), back.Z(), 1e-6)
	assert.Equal(t, 3.0, back.Y())
}

func TestFrame_Point(t *testing.T) {
	f, err := NewFrame(0, 0)
	require.NoError(t, err)

	pt, err := f.Point(mgl64.Vec3{})
	require.NoError(t, err)
	c, ok := pt.Coordinates()
	require.True(t, ok)
	assert.InDelta(t, 0, c.X, 1e-9)
	assert.InDelta(t, 0, c.Y, 1e-9)
}

func TestGroundPoint(t *testing.T) {
	pt, err := GroundPoint(mgl64.Vec3{4, 9, -2})
	require.NoError(t, err)
	c, ok := pt.Coordinates()
	require.True(t, ok)
	assert.Equal(t, 4.0, c.X)
	assert.Equal(t, -2.0, c.Y)

	_, err = GroundPoint(mgl64.Vec3{math.NaN(), 0, 0})
	assert.Error(t, err)
	_, err = LonLatPoint(math.Inf(1), 0)
	assert.Error(t, err)
}

func TestVec3FromString(t *testing.T) {
	tests := []struct {
		in   string
		want mgl64.Vec3
		err  bool
	}{
		{in: "100.5,2,-200.25", want: mgl64.Vec3{100.5, 2, -200.25}},
		{in: "10, 20", want: mgl64.Vec3{10, 0, 20}},
		{in: "1", err: true},
		{in: "1,2,3,4", err: true},
		{in: "a,b", err: true},
		{in: "", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Vec3FromString(tt.in)
			if tt.err {
				assert.ErrorIs(t, err, ErrInvalidCoordinates)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
