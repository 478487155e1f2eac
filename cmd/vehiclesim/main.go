// Command vehiclesim runs networked vehicle sessions: the authoritative server, headless
// driving and observing clients, a remote recorder and a single process loopback
// session for checking that predictions converge.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/OCAP2/vehiclesim/internal/api"
	"github.com/OCAP2/vehiclesim/internal/config"
	"github.com/OCAP2/vehiclesim/internal/geo"
	"github.com/OCAP2/vehiclesim/internal/logging"
	intOtel "github.com/OCAP2/vehiclesim/internal/otel"
	"github.com/OCAP2/vehiclesim/internal/session"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.0.1"
	BuildDate      string = "unknown"

	AppName string = "vehiclesim"
)

// app holds the process wide services every subcommand shares.
type app struct {
	command string
	started time.Time

	logFile     *os.File
	slogManager *logging.SlogManager
	Logger      *slog.Logger
	// zlog feeds the dispatcher and influx, which log on the hot path.
	zlog zerolog.Logger

	otel    *intOtel.Provider
	session *session.Context
	frame   *geo.Frame
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if !errors.Is(err, errHelp) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

// newApp loads config and sets up logging for command. Logging starts on the console
// only and is set up again once the log file and OTel exist.
func newApp(command, configDir string) (*app, error) {
	a := &app{
		command:     command,
		started:     time.Now(),
		slogManager: logging.NewSlogManager(),
		session:     session.NewContext(),
	}
	a.slogManager.Setup(nil, "info", nil)
	a.Logger = a.slogManager.Logger()

	if err := config.Load(configDir); err != nil {
		a.Logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		a.Logger.Info("Loaded config", "file", viper.ConfigFileUsed())
	}
	level := viper.GetString("logLevel")

	logsDir := viper.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}
	path := logging.LogFilePath(logsDir, command, a.started)
	if _, err := os.Stat(path); err == nil {
		_ = os.Rename(path, path+".old")
	}
	var err error
	a.logFile, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		a.Logger.Error("Failed to create/open log file!", "error", err, "path", path)
	}
	var file io.Writer
	if a.logFile != nil {
		file = a.logFile
	}

	otelCfg := config.GetOTelConfig()
	a.otel, err = intOtel.New(intOtel.Config{
		Enabled:      otelCfg.Enabled,
		ServiceName:  otelCfg.ServiceName,
		Role:         command,
		BatchTimeout: otelCfg.BatchTimeout,
		LogWriter:    file,
		Endpoint:     otelCfg.Endpoint,
		Insecure:     otelCfg.Insecure,
	})
	if err != nil {
		a.Logger.Error("Failed to initialize OTel provider", "error", err)
		a.otel, _ = intOtel.New(intOtel.Config{})
	} else if a.otel.Enabled() {
		a.Logger.Info("OTel provider initialized", "file", path, "endpoint", otelCfg.Endpoint)
	}

	var opts []logging.Option
	if viper.GetBool("graylog.enabled") {
		opts = append(opts, logging.WithGraylog(viper.GetString("graylog.address")))
	}
	opts = append(opts, logging.WithContext(a.session.LogAttrs))
	var provider *sdklog.LoggerProvider
	if a.otel.Enabled() {
		provider = a.otel.LoggerProvider()
	}
	a.slogManager.Setup(file, level, provider, opts...)
	a.Logger = a.slogManager.Logger().With("command", command)
	slog.SetDefault(a.Logger)
	a.Logger.Info("Logging to file", "path", path, "version", CurrentVersion, "build", BuildDate)

	if file == nil {
		file = os.Stdout
	}
	a.zlog = logging.NewZerolog(file, level).With().Str("command", command).Logger()

	geoCfg := config.GetGeoConfig()
	a.frame, err = geo.NewFrame(geoCfg.OriginLon, geoCfg.OriginLat)
	if err != nil {
		a.Logger.Warn("Geo reference disabled", "error", err)
		a.frame = nil
	}
	return a, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func (a *app) signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// checkServerStatus logs whether the replay frontend is reachable.
func (a *app) checkServerStatus(ctx context.Context) *api.Client {
	client := api.New(viper.GetString("api.serverUrl"), viper.GetString("api.apiKey"))
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Healthcheck(ctx); err != nil {
		a.Logger.Warn("OCAP frontend is offline", "url", viper.GetString("api.serverUrl"), "error", err)
	} else {
		a.Logger.Info("OCAP frontend is online", "url", viper.GetString("api.serverUrl"))
	}
	return client
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.slogManager.Flush(ctx); err != nil {
		a.Logger.Warn("Failed to flush logs", "error", err)
	}
	if err := a.otel.Shutdown(ctx); err != nil {
		a.Logger.Warn("Failed to shut down OTel", "error", err)
	}
	_ = a.slogManager.Close()
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}
