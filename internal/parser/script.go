package parser

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/OCAP2/vehiclesim/internal/curve"
	"github.com/OCAP2/vehiclesim/internal/netcode"
	"github.com/OCAP2/vehiclesim/internal/vmath"
	"github.com/OCAP2/vehiclesim/pkg/core"
)

var ErrEmptyScript = errors.New("script has no keyframes")

// Keyframe is the input at one script tick.
type Keyframe struct {
	Tick   uint32
	Accel  float64
	Brake  float64
	Steer  float64
	Ebrake float64
	Boost  bool
	// Shift presses upshift (1) or downshift (-1) on this tick.
	Shift int
}

// Script evaluates keyframes at any tick. It is immutable and safe to share.
type Script struct {
	keys  []Keyframe
	loop  bool
	accel *curve.Curve
	brake *curve.Curve
	steer *curve.Curve
	ebr   *curve.Curve
}

// NewScript sorts keys by tick. Two keys on the same tick are an error.
func NewScript(keys []Keyframe, loop bool) (*Script, error) {
	if len(keys) == 0 {
		return nil, ErrEmptyScript
	}
	k := slices.Clone(keys)
	sort.SliceStable(k, func(i, j int) bool { return k[i].Tick < k[j].Tick })
	for i := 1; i < len(k); i++ {
		if k[i].Tick == k[i-1].Tick {
			return nil, fmt.Errorf("duplicate keyframe at tick %d", k[i].Tick)
		}
	}

	points := func(get func(Keyframe) float64) *curve.Curve {
		pts := make([][2]float64, len(k))
		for i, key := range k {
			pts[i] = [2]float64{float64(key.Tick), get(key)}
		}
		return curve.FromPoints(pts...)
	}
	return &Script{
		keys:  k,
		loop:  loop,
		accel: points(func(k Keyframe) float64 { return k.Accel }),
		brake: points(func(k Keyframe) float64 { return k.Brake }),
		steer: points(func(k Keyframe) float64 { return k.Steer }),
		ebr:   points(func(k Keyframe) float64 { return k.Ebrake }),
	}, nil
}

// Length is the tick of the last key.
func (s *Script) Length() uint32 { return s.keys[len(s.keys)-1].Tick }

func (s *Script) Loop() bool { return s.loop }

// At returns the input t ticks into the script.
func (s *Script) At(t uint32) core.MoveData {
	if s.loop {
		t %= s.Length() + 1
	}
	x := float64(t)
	md := core.MoveData{
		Accel:  vmath.Clamp01(s.accel.Evaluate(x)),
		Brake:  vmath.Clamp01(s.brake.Evaluate(x)),
		Steer:  vmath.Clamp(s.steer.Evaluate(x), -1, 1),
		Ebrake: vmath.Clamp01(s.ebr.Evaluate(x)),
	}

	i := sort.Search(len(s.keys), func(i int) bool { return s.keys[i].Tick > t }) - 1
	if i < 0 {
		return md
	}
	key := s.keys[i]
	md.Boost = key.Boost
	if key.Tick == t {
		md.UpshiftButton = key.Shift > 0
		md.DownshiftButton = key.Shift < 0
	}
	return md
}

// Input drives a vehicle with the script, starting from the first tick it is asked
// for. It must only be called from one goroutine.
func (s *Script) Input() netcode.InputFunc {
	var (
		started bool
		origin  uint32
	)
	return func(tick uint32) core.MoveData {
		if !started {
			started = true
			origin = tick
		}
		if tick < origin {
			return s.At(0)
		}
		return s.At(tick - origin)
	}
}
