package logging

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var timeZero time.Time

func TestDispatcherLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(NewZerolog(&buf, "debug"))

	dl.Debug("queued", "type", "move", "depth", 3)
	dl.Info("registered", "type", "reconcile")
	dl.Error("handler failed", "error", "boom")

	out := buf.String()
	assert.Contains(t, out, "DBG")
	assert.Contains(t, out, "queued")
	assert.Contains(t, out, "depth=3")
	assert.Contains(t, out, "INF")
	assert.Contains(t, out, "type=reconcile")
	assert.Contains(t, out, "ERR")
	assert.Contains(t, out, "error=boom")
}

func TestNewZerolog_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerolog(&buf, "WARN")
	l.Info().Msg("hidden")
	l.Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewZerolog_UnknownLevelIsInfo(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerolog(&buf, "chatty")
	l.Debug().Msg("hidden")
	l.Info().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestSampled_BurstThenThins(t *testing.T) {
	var buf bytes.Buffer
	l := Sampled(NewZerolog(&buf, "info"))
	for range 50 {
		l.Info().Msg("move")
	}
	lines := bytes.Count(buf.Bytes(), []byte("\n"))
	assert.GreaterOrEqual(t, lines, 5)
	assert.Less(t, lines, 10)
	assert.Contains(t, buf.String(), "sampled=true")
}
