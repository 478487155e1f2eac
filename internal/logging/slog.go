package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// InstrumentationName is the otelslog scope of every record the service emits.
const InstrumentationName = "vehiclesim"

// SlogManager owns the process logger: console, file, OTel bridge and Graylog sinks
// fanned out through a MultiHandler.
type SlogManager struct {
	logger      *slog.Logger
	logProvider *sdklog.LoggerProvider
	gelf        *gelf.Writer
	console     io.Writer
}

// Option customises Setup.
type Option func(*setupOptions)

type setupOptions struct {
	graylog  string
	provider ContextProvider
}

// WithGraylog ships records as GELF over UDP to address.
func WithGraylog(address string) Option {
	return func(o *setupOptions) { o.graylog = address }
}

// WithContext stamps every record with the attributes p returns at log time.
func WithContext(p ContextProvider) Option {
	return func(o *setupOptions) { o.provider = p }
}

func NewSlogManager() *SlogManager {
	return &SlogManager{console: os.Stdout}
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG", "TRACE":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup builds the logger. A nil file skips the file sink and a nil provider the OTel
// bridge. A Graylog address that cannot be resolved is reported and skipped.
func (m *SlogManager) Setup(file io.Writer, level string, provider *sdklog.LoggerProvider, opts ...Option) {
	var o setupOptions
	for _, opt := range opts {
		opt(&o)
	}
	m.logProvider = provider

	handlerOpts := &slog.HandlerOptions{
		Level: parseLevel(level),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}

	var handlers []slog.Handler
	if m.console != nil {
		handlers = append(handlers, slog.NewTextHandler(m.console, handlerOpts))
	}
	if file != nil {
		handlers = append(handlers, slog.NewTextHandler(file, handlerOpts))
	}
	if provider != nil {
		handlers = append(handlers, otelslog.NewHandler(InstrumentationName, otelslog.WithLoggerProvider(provider)))
	}

	var gelfErr error
	if o.graylog != "" {
		w, err := gelf.NewWriter(o.graylog)
		if err != nil {
			gelfErr = fmt.Errorf("graylog %s: %w", o.graylog, err)
		} else {
			m.closeGelf()
			m.gelf = w
			handlers = append(handlers, slog.NewJSONHandler(w, handlerOpts))
		}
	}

	var h slog.Handler = NewMultiHandler(handlers...)
	if o.provider != nil {
		h = NewContextHandler(h, o.provider)
	}
	m.logger = slog.New(h)
	if gelfErr != nil {
		m.logger.Warn("Graylog disabled", "error", gelfErr)
	}
	m.logger.Info("Logging initialized", "level", level)
}

// Logger returns the configured logger, or slog.Default before Setup.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush forces a flush of OTel logs if available.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}

// Close releases the Graylog connection.
func (m *SlogManager) Close() error {
	return m.closeGelf()
}

func (m *SlogManager) closeGelf() error {
	if m.gelf == nil {
		return nil
	}
	err := m.gelf.Close()
	m.gelf = nil
	return err
}
