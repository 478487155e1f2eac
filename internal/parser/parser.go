// Package parser turns driving scripts into per tick input for headless drivers.
//
// A script is a list of keyframes, one per line:
//
//	# tick accel brake steer [ebrake] [boost] [shift]
//	0    1 0  0
//	100  1 0  0.5  0 true
//	150  0 1  0    1 false -1
//	loop
//
// Fields are separated by commas or blanks. Analog axes are interpolated linearly
// between keys, boost is held until the next key and shift (1 up, -1 down) presses the
// button on the key's tick only. A "loop" line repeats the script after its last key.
package parser

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// parseUintFromFloat parses a string that may be an integer ("32") or float ("32.00") into uint64.
// Scripts exported from spreadsheets often carry ticks as floats.
func parseUintFromFloat(s string) (uint64, error) {
	if v, err := strconv.ParseUint(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f < 0 || f != float64(uint64(f)) {
		return 0, fmt.Errorf("parseUintFromFloat: %q is not a valid uint64", s)
	}
	return uint64(f), nil
}

// parseIntFromFloat parses a string that may be an integer or float into int64.
func parseIntFromFloat(s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != float64(int64(f)) {
		return 0, fmt.Errorf("parseIntFromFloat: %q is not a valid int64", s)
	}
	return int64(f), nil
}

// Parser provides pure text -> script conversion.
// It has zero external dependencies beyond a logger.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a new parser with only a logger dependency
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// ParseKeyframe parses the fields of one script line.
func (p *Parser) ParseKeyframe(fields []string) (Keyframe, error) {
	var k Keyframe
	if len(fields) < 4 {
		return k, fmt.Errorf("need at least tick, accel, brake and steer, got %d fields", len(fields))
	}
	if len(fields) > 7 {
		return k, fmt.Errorf("too many fields: %d", len(fields))
	}

	tick, err := parseUintFromFloat(fields[0])
	if err != nil {
		return k, fmt.Errorf("error parsing tick: %w", err)
	}
	if tick > uint64(^uint32(0)) {
		return k, fmt.Errorf("tick %d out of range", tick)
	}
	k.Tick = uint32(tick)

	axes := []*float64{&k.Accel, &k.Brake, &k.Steer, &k.Ebrake}
	names := []string{"accel", "brake", "steer", "ebrake"}
	for i, dst := range axes {
		if i+1 >= len(fields) {
			break
		}
		v, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return k, fmt.Errorf("error parsing %s: %w", names[i], err)
		}
		*dst = v
	}

	if len(fields) > 5 {
		if k.Boost, err = strconv.ParseBool(fields[5]); err != nil {
			return k, fmt.Errorf("error parsing boost: %w", err)
		}
	}
	if len(fields) > 6 {
		shift, err := parseIntFromFloat(fields[6])
		if err != nil {
			return k, fmt.Errorf("error parsing shift: %w", err)
		}
		if shift < -1 || shift > 1 {
			return k, fmt.Errorf("shift must be -1, 0 or 1, got %d", shift)
		}
		k.Shift = int(shift)
	}
	return k, nil
}

// Parse reads a whole script.
func (p *Parser) Parse(r io.Reader) (*Script, error) {
	var (
		keys []Keyframe
		loop bool
	)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = strings.TrimSpace(text[:i])
		}
		if text == "" {
			continue
		}
		if strings.EqualFold(text, "loop") {
			loop = true
			continue
		}
		fields := strings.FieldsFunc(text, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})
		k, err := p.ParseKeyframe(fields)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		keys = append(keys, k)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("error reading script: %w", err)
	}

	s, err := NewScript(keys, loop)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("Parsed driving script", "keys", len(keys), "length", s.Length(), "loop", loop)
	return s, nil
}

// ParseFile reads the script at path.
func (p *Parser) ParseFile(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s, err := p.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}
