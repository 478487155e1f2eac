package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

func quietManager() *SlogManager {
	m := NewSlogManager()
	m.console = nil
	return m
}

func TestSetup_WritesToFile(t *testing.T) {
	var file bytes.Buffer
	m := quietManager()
	m.Setup(&file, "info", nil)

	m.Logger().Info("hello file")
	assert.Contains(t, file.String(), "Logging initialized")
	assert.Contains(t, file.String(), "hello file")
}

func TestSetup_ConsoleSink(t *testing.T) {
	var console bytes.Buffer
	m := NewSlogManager()
	m.console = &console
	m.Setup(nil, "info", nil)

	m.Logger().Info("to console")
	assert.Contains(t, console.String(), "to console")
}

func TestSetup_Levels(t *testing.T) {
	tests := []struct {
		level     string
		debugSeen bool
	}{
		{"debug", true},
		{"trace", true},
		{"info", false},
		{"warn", false},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			m := quietManager()
			m.Setup(&buf, tt.level, nil)
			m.Logger().Debug("debug line")
			assert.Equal(t, tt.debugSeen, bytes.Contains(buf.Bytes(), []byte("debug line")))
		})
	}
}

func TestSetup_ReplacesLogger(t *testing.T) {
	var first, second bytes.Buffer
	m := quietManager()
	m.Setup(&first, "info", nil)
	m.Setup(&second, "info", nil)

	m.Logger().Info("after replace")
	assert.NotContains(t, first.String(), "after replace")
	assert.Contains(t, second.String(), "after replace")
}

func TestSetup_ContextAttributes(t *testing.T) {
	var buf bytes.Buffer
	tick := 41
	m := quietManager()
	m.Setup(&buf, "info", nil, WithContext(func() []slog.Attr {
		tick++
		return []slog.Attr{slog.String("session", "practice"), slog.Int("tick", tick)}
	}))

	m.Logger().Info("stamped")
	assert.Contains(t, buf.String(), "session=practice")
	assert.Contains(t, buf.String(), "tick=43")
}

func TestSetup_GraylogUnresolvable(t *testing.T) {
	var buf bytes.Buffer
	m := quietManager()
	m.Setup(&buf, "info", nil, WithGraylog("no-port"))

	assert.Contains(t, buf.String(), "Graylog disabled")
	assert.NoError(t, m.Close())
}

func TestSetup_GraylogWriter(t *testing.T) {
	var buf bytes.Buffer
	m := quietManager()
	m.Setup(&buf, "info", nil, WithGraylog("127.0.0.1:12201"))
	require.NotNil(t, m.gelf)

	m.Logger().Info("shipped")
	assert.NoError(t, m.Close())
	assert.Nil(t, m.gelf)
}

func TestLogger_DefaultBeforeSetup(t *testing.T) {
	assert.Equal(t, slog.Default(), NewSlogManager().Logger())
}

func TestFlush(t *testing.T) {
	m := quietManager()
	assert.NoError(t, m.Flush(context.Background()))

	m.Setup(&bytes.Buffer{}, "info", sdklog.NewLoggerProvider())
	m.Logger().Info("otel integrated")
	assert.NoError(t, m.Flush(context.Background()))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"invalid", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.input))
		})
	}
}

func TestMultiHandler_FansOut(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	multi := NewMultiHandler(
		slog.NewTextHandler(&buf1, nil),
		nil,
		slog.NewTextHandler(&buf2, nil),
	)
	require.Len(t, multi.handlers, 2)

	slog.New(multi).Info("fanned out")
	assert.Contains(t, buf1.String(), "fanned out")
	assert.Contains(t, buf2.String(), "fanned out")
}

func TestMultiHandler_Enabled(t *testing.T) {
	info := slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelInfo})
	debug := slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelDebug})

	assert.False(t, NewMultiHandler(info).Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, NewMultiHandler(info, debug).Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, NewMultiHandler().Enabled(context.Background(), slog.LevelError))
}

func TestMultiHandler_AttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	multi := NewMultiHandler(slog.NewTextHandler(&buf, nil))

	slog.New(multi.WithAttrs([]slog.Attr{slog.String("component", "time")})).Info("with attrs")
	slog.New(multi.WithGroup("wheel")).Info("grouped", "rpm", 120)

	assert.Contains(t, buf.String(), "component=time")
	assert.Contains(t, buf.String(), "wheel.rpm=120")
	assert.Same(t, multi, multi.WithGroup(""))
}

type failingHandler struct{ slog.Handler }

func (failingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (failingHandler) Handle(context.Context, slog.Record) error {
	return errors.New("sink down")
}

func TestMultiHandler_HandleError(t *testing.T) {
	var buf bytes.Buffer
	multi := NewMultiHandler(failingHandler{}, slog.NewTextHandler(&buf, nil))

	err := multi.Handle(context.Background(), slog.NewRecord(timeZero, slog.LevelInfo, "still delivered", 0))
	assert.EqualError(t, err, "sink down")
	assert.Contains(t, buf.String(), "still delivered")
}

func TestContextHandler_GroupAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := NewContextHandler(slog.NewTextHandler(&buf, nil), func() []slog.Attr {
		return []slog.Attr{slog.String("role", "owner")}
	})
	assert.Same(t, h, h.WithGroup(""))

	slog.New(h.WithAttrs([]slog.Attr{slog.Int("object", 3)})).Info("ctx")
	assert.Contains(t, buf.String(), "object=3")
	assert.Contains(t, buf.String(), "role=owner")
}
