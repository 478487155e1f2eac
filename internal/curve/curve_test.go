package curve

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinear(t *testing.T) {
	c := Linear(0, 1, 30, 0.1)

	assert.InDelta(t, 1, c.Evaluate(0), 1e-9)
	assert.InDelta(t, 0.55, c.Evaluate(15), 1e-9)
	assert.InDelta(t, 0.1, c.Evaluate(30), 1e-9)
	assert.InDelta(t, 0.1, c.Evaluate(100), 1e-9, "clamped past the last key")
	assert.InDelta(t, 1, c.Evaluate(-5), 1e-9, "clamped before the first key")
	assert.Equal(t, 30.0, c.LastKeyTime())
}

func TestEaseInOut(t *testing.T) {
	c := EaseInOut(0, 0, 8, 1)

	assert.InDelta(t, 0, c.Evaluate(0), 1e-9)
	assert.InDelta(t, 0.5, c.Evaluate(4), 1e-9)
	assert.InDelta(t, 1, c.Evaluate(8), 1e-9)
	assert.Less(t, c.Evaluate(1), 1.0/8, "flat start eases in")
	assert.Equal(t, 8.0, c.LastKeyTime())
}

func TestEmptyAndNil(t *testing.T) {
	var nilCurve *Curve
	assert.Equal(t, 0.0, nilCurve.Evaluate(3))
	assert.Equal(t, 0.0, New().Evaluate(3))
	assert.Equal(t, 0.0, nilCurve.LastKeyTime())
	assert.Equal(t, 2.0, Constant(2).Evaluate(99))
}

func TestUnmarshalPairs(t *testing.T) {
	var c Curve
	require.NoError(t, json.Unmarshal([]byte(`[[0,0],[10,5],[20,5]]`), &c))

	assert.Equal(t, 3, c.Len())
	assert.InDelta(t, 2.5, c.Evaluate(5), 1e-9)
	assert.InDelta(t, 5, c.Evaluate(15), 1e-9)
}

func TestUnmarshalKeyframes(t *testing.T) {
	var c Curve
	require.NoError(t, json.Unmarshal([]byte(`[{"time":0,"value":1},{"time":2,"value":3}]`), &c))
	assert.Equal(t, 2.0, c.LastKeyTime())

	assert.Error(t, json.Unmarshal([]byte(`"nope"`), &c))
}
