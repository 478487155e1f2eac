package vehicle

import "errors"

var (
	// ErrNoWheel is returned for a suspension built without a wheel.
	ErrNoWheel = errors.New("suspension has no wheel")
	// ErrInvalidWheel is returned for wheel dimensions the simulation cannot use.
	ErrInvalidWheel = errors.New("invalid wheel dimensions")
	// ErrUnknownToggle is returned by Suspension.SetToggle for an unknown property name.
	ErrUnknownToggle = errors.New("unknown suspension property")
	// ErrUnknownPreset is returned when a definition names a preset that does not exist.
	ErrUnknownPreset = errors.New("unknown vehicle preset")
)
