package vehicle

import (
	"errors"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/vehiclesim/internal/curve"
)

func TestPreset(t *testing.T) {
	def, err := Preset("")
	require.NoError(t, err)
	assert.Equal(t, PresetCar, def.Name)

	def, err = Preset(" Hover ")
	require.NoError(t, err)
	assert.True(t, def.Hover)

	_, err = Preset("tank")
	assert.True(t, errors.Is(err, ErrUnknownPreset))
}

func TestLoadDefinitionOverridesPreset(t *testing.T) {
	v := viper.New()
	v.SetConfigType("json")
	require.NoError(t, v.ReadConfig(strings.NewReader(`{
		"vehicle": {
			"preset": "hover",
			"body": {"mass": 3},
			"engine": {"forceCurve": [[0, 2], [40, 0]]}
		}
	}`)))

	def, err := LoadDefinition(v, "vehicle")
	require.NoError(t, err)
	assert.True(t, def.Hover)
	assert.Equal(t, 3.0, def.Body.Mass)
	assert.Equal(t, DefaultHover().Body.Drag, def.Body.Drag)
	assert.Len(t, def.HoverWheels, 4)
	assert.Equal(t, Points{{0, 2}, {40, 0}}, def.Engine.ForceCurve)
}

func TestLoadDefinitionMissingKey(t *testing.T) {
	def, err := LoadDefinition(viper.New(), "vehicle")
	require.NoError(t, err)
	assert.Equal(t, DefaultCar().Name, def.Name)
	assert.Len(t, def.Wheels, 4)
}

func TestPointsCurve(t *testing.T) {
	fallback := curve.Constant(7)
	assert.Same(t, fallback, Points(nil).curve(fallback))
	assert.Same(t, fallback, Points{{1}}.curve(fallback))

	c := Points{{0, 0}, {10, 5}}.curve(fallback)
	assert.InDelta(t, 2.5, c.Evaluate(5), 1e-9)
}

func TestDefaultsBuildCleanly(t *testing.T) {
	for _, def := range []Definition{DefaultCar(), DefaultHover()} {
		for i, w := range def.Wheels {
			assert.Greater(t, w.TireRadius, w.RimRadius, "%s wheel %d", def.Name, i)
		}
		_, err := Build(def, newScene(t), 1)
		assert.NoError(t, err, def.Name)
	}
}
