package state

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadSections(t *testing.T) {
	w := NewWriter()
	w.BeginSection()
	w.WriteFloat64(1.5)
	w.WriteInt32(-3)
	w.WriteBool(true)
	w.EndSection()
	w.BeginSection()
	w.WriteVec3(mgl64.Vec3{1, 2, 3})
	w.WriteQuat(mgl64.Quat{W: 0.5, V: mgl64.Vec3{0.5, 0.5, 0.5}})
	w.WriteUint32(42)
	blob := w.Bytes()

	r, err := NewReader(blob)
	require.NoError(t, err)
	assert.Equal(t, 2, r.SectionCount())

	s, err := r.Section()
	require.NoError(t, err)
	assert.Equal(t, 1.5, s.Float64())
	assert.Equal(t, -3, s.Int32())
	assert.True(t, s.Bool())
	assert.NoError(t, s.Close())

	s, err = r.Section()
	require.NoError(t, err)
	assert.Equal(t, mgl64.Vec3{1, 2, 3}, s.Vec3())
	assert.Equal(t, mgl64.Quat{W: 0.5, V: mgl64.Vec3{0.5, 0.5, 0.5}}, s.Quat())
	assert.Equal(t, uint32(42), s.Uint32())
	assert.NoError(t, s.Close())
	assert.Equal(t, 0, r.Remaining())
}

func TestReaderErrors(t *testing.T) {
	w := NewWriter()
	w.BeginSection()
	w.WriteFloat64(1)
	w.EndSection()
	good := w.Bytes()

	tests := []struct {
		name string
		blob []byte
		want error
	}{
		{"empty", nil, ErrShortBuffer},
		{"bad magic", append([]byte("XXXX"), good[4:]...), ErrSchemaMismatch},
		{"bad version", func() []byte {
			b := append([]byte(nil), good...)
			b[4] = 99
			return b
		}(), ErrSchemaMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReader(tt.blob)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSectionBounds(t *testing.T) {
	w := NewWriter()
	w.BeginSection()
	w.WriteFloat64(1)
	w.WriteFloat64(2)
	blob := w.Bytes()

	r, err := NewReader(blob)
	require.NoError(t, err)
	s, err := r.Section()
	require.NoError(t, err)

	// reading fewer fields than written leaves bytes behind
	s.Float64()
	assert.ErrorIs(t, s.Close(), ErrSchemaMismatch)

	// reading more fields than written runs off the section, not into the next one
	r, _ = NewReader(blob)
	s, _ = r.Section()
	s.Float64()
	s.Float64()
	assert.Equal(t, float64(0), s.Float64())
	assert.ErrorIs(t, s.Err(), ErrShortBuffer)

	// truncated blob
	r, _ = NewReader(blob[:len(blob)-2])
	_, err = r.Section()
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestFloatsAreExact(t *testing.T) {
	values := []float64{
		0.1,
		-1.3401267373200366e-06,
		0.30051395784910406,
		-0.0023154089658955685,
		math.Copysign(0, -1),
		math.SmallestNonzeroFloat64,
		math.MaxFloat64,
		math.Inf(-1),
	}
	w := NewWriter()
	for _, v := range values {
		w.WriteFloat64(v)
	}
	r, err := NewReader(w.Bytes())
	require.NoError(t, err)
	for _, v := range values {
		assert.Equal(t, math.Float64bits(v), math.Float64bits(r.Float64()), "%v", v)
	}
	assert.NoError(t, r.Close())
}
