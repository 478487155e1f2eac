package parser

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestParser() *Parser {
	return NewParser(slog.Default())
}

func TestNewParser(t *testing.T) {
	p := newTestParser()
	require.NotNil(t, p)
}

func TestParseUintFromFloat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    uint64
		wantErr bool
	}{
		{"integer", "32", 32, false},
		{"zero", "0", 0, false},
		{"float with decimals", "32.00", 32, false},
		{"float with trailing zero", "30.0", 30, false},
		{"large integer", "65535", 65535, false},
		{"large float", "65535.00", 65535, false},
		{"fractional rejects", "10.99", 0, true},
		{"empty string", "", 0, true},
		{"non-numeric", "abc", 0, true},
		{"negative", "-1", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseUintFromFloat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseIntFromFloat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{"integer", "32", 32, false},
		{"zero", "0", 0, false},
		{"negative integer", "-1", -1, false},
		{"float with decimals", "32.00", 32, false},
		{"negative float", "-1.00", -1, false},
		{"large integer", "65535", 65535, false},
		{"fractional rejects", "10.99", 0, true},
		{"empty string", "", 0, true},
		{"non-numeric", "abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseIntFromFloat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseKeyframe(t *testing.T) {
	p := newTestParser()
	tests := []struct {
		name    string
		fields  []string
		want    Keyframe
		wantErr string
	}{
		{"minimal", []string{"10", "1", "0", "-0.5"}, Keyframe{Tick: 10, Accel: 1, Steer: -0.5}, ""},
		{"float tick", []string{"10.00", "0", "1", "0"}, Keyframe{Tick: 10, Brake: 1}, ""},
		{"all fields", []string{"5", "1", "0", "0", "0.5", "true", "-1"},
			Keyframe{Tick: 5, Accel: 1, Ebrake: 0.5, Boost: true, Shift: -1}, ""},
		{"too few", []string{"1", "2", "3"}, Keyframe{}, "at least"},
		{"too many", []string{"1", "0", "0", "0", "0", "false", "0", "x"}, Keyframe{}, "too many"},
		{"bad tick", []string{"-3", "0", "0", "0"}, Keyframe{}, "tick"},
		{"bad axis", []string{"1", "fast", "0", "0"}, Keyframe{}, "accel"},
		{"bad boost", []string{"1", "0", "0", "0", "0", "maybe"}, Keyframe{}, "boost"},
		{"bad shift", []string{"1", "0", "0", "0", "0", "false", "2"}, Keyframe{}, "shift"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.ParseKeyframe(tt.fields)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

const lapScript = `
# warm up then a left hander
0, 1, 0, 0
100, 1, 0, 1, 0, true, 1
200  0 1 0 1 false
`

func TestParseScript(t *testing.T) {
	s, err := newTestParser().Parse(strings.NewReader(lapScript))
	require.NoError(t, err)

	assert.Equal(t, uint32(200), s.Length())
	assert.False(t, s.Loop())

	mid := s.At(50)
	assert.InDelta(t, 1, mid.Accel, 1e-9)
	assert.InDelta(t, 0.5, mid.Steer, 1e-9)
	assert.False(t, mid.Boost)

	key := s.At(100)
	assert.True(t, key.Boost)
	assert.True(t, key.UpshiftButton, "shift presses on the key tick")
	assert.False(t, s.At(101).UpshiftButton)
	assert.True(t, s.At(150).Boost, "boost holds until the next key")

	end := s.At(500)
	assert.Equal(t, 0.0, end.Accel)
	assert.Equal(t, 1.0, end.Brake)
	assert.Equal(t, 1.0, end.Ebrake)
}

func TestParseScriptErrors(t *testing.T) {
	p := newTestParser()

	_, err := p.Parse(strings.NewReader("# nothing\n\n"))
	assert.ErrorIs(t, err, ErrEmptyScript)

	_, err = p.Parse(strings.NewReader("0 1 0 0\n0 0 1 0\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")

	_, err = p.Parse(strings.NewReader("0 1 0 0\n5 x 0 0\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestScriptLoops(t *testing.T) {
	s, err := newTestParser().Parse(strings.NewReader("0 1 0 -1\n9 0 0 1\nloop\n"))
	require.NoError(t, err)
	require.True(t, s.Loop())

	assert.Equal(t, s.At(3), s.At(13))
	assert.Equal(t, -1.0, s.At(10).Steer)
}

func TestScriptInputStartsAtFirstTick(t *testing.T) {
	s, err := NewScript([]Keyframe{{Tick: 0, Accel: 0}, {Tick: 10, Accel: 1}}, false)
	require.NoError(t, err)

	in := s.Input()
	assert.Equal(t, 0.0, in(500).Accel)
	assert.InDelta(t, 0.5, in(505).Accel, 1e-9)
	assert.Equal(t, 1.0, in(510).Accel)
	assert.Equal(t, 0.0, in(400).Accel, "ticks before the start clamp to the first key")
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lap.txt")
	require.NoError(t, os.WriteFile(path, []byte(lapScript), 0o644))

	s, err := newTestParser().ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(200), s.Length())

	_, err = newTestParser().ParseFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
