package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/OCAP2/vehiclesim/internal/config"
	"github.com/OCAP2/vehiclesim/internal/dispatcher"
	"github.com/OCAP2/vehiclesim/internal/influx"
	"github.com/OCAP2/vehiclesim/internal/logging"
	"github.com/OCAP2/vehiclesim/internal/storage"
	"github.com/OCAP2/vehiclesim/internal/storage/memory"
	pgstorage "github.com/OCAP2/vehiclesim/internal/storage/postgres"
	sqlitestorage "github.com/OCAP2/vehiclesim/internal/storage/sqlite"
	wsstorage "github.com/OCAP2/vehiclesim/internal/storage/websocket"
	"github.com/OCAP2/vehiclesim/internal/worker"
)

func (a *app) createStorageBackend(storageCfg config.StorageConfig) (storage.Backend, error) {
	switch storageCfg.Type {
	case "postgres":
		a.Logger.Info("Postgres storage backend initialized")
		return pgstorage.New(pgstorage.Dependencies{
			Config: config.GetDBConfig(),
			Logger: a.Logger,
		}), nil

	case "sqlite":
		name := fmt.Sprintf("%s_%s", AppName, a.started.Format("20060102_150405"))
		backend, err := sqlitestorage.New(sqlitestorage.Config{
			DumpInterval: storageCfg.SQLite.DumpInterval,
			OutputDir:    storageCfg.SQLite.OutputDir,
		}, name, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		a.Logger.Info("SQLite storage backend initialized")
		return backend, nil

	case "websocket":
		wsURL := httpToWS(storageCfg.WebSocket.URL)
		secret := storageCfg.WebSocket.Secret
		if secret == "" {
			secret = viper.GetString("api.apiKey")
		}
		a.Logger.Info("WebSocket storage backend initialized", "url", wsURL)
		return wsstorage.New(wsstorage.Config{
			URL:    wsURL,
			Secret: secret,
		}, a.Logger), nil

	case "", "memory":
		a.Logger.Info("Memory storage backend initialized")
		return memory.New(storageCfg.Memory), nil
	}
	return nil, fmt.Errorf("unknown storage type %q", storageCfg.Type)
}

// httpToWS converts an HTTP(S) URL to a WebSocket URL.
func httpToWS(httpURL string) string {
	s := strings.TrimRight(httpURL, "/")
	s = strings.Replace(s, "https://", "wss://", 1)
	s = strings.Replace(s, "http://", "ws://", 1)
	return s
}

// recorder is the pipeline behind worker.Recorder: a dispatcher of its own whose
// handlers write into the storage backend and InfluxDB.
type recorder struct {
	*worker.Recorder

	backend    storage.Backend
	dispatcher *dispatcher.Dispatcher
	worker     *worker.Manager
	influx     *influx.Manager
}

// startRecorder builds the recording pipeline. uploader may be nil.
func (a *app) startRecorder(ctx context.Context, storageCfg config.StorageConfig, uploader worker.Uploader) (*recorder, error) {
	backend, err := a.createStorageBackend(storageCfg)
	if err != nil {
		return nil, err
	}
	if err := backend.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	r := &recorder{backend: backend}

	deps := worker.Dependencies{Logger: a.Logger.With("component", "recorder")}
	if influxCfg := config.GetInfluxConfig(); influxCfg.Enabled {
		backup := filepath.Join(viper.GetString("logsDir"),
			fmt.Sprintf("influx_backup.%s.lp.gz", a.started.Format("20060102_150405")))
		r.influx = influx.NewManager(influxCfg, backup, a.zlog.With().Str("component", "influx").Logger())
		if err := r.influx.Connect(ctx); err != nil {
			a.Logger.Error("Failed to set up InfluxDB", "error", err)
		}
		deps.Telemetry = r.influx
	}
	if uploader != nil && viper.GetString("api.apiKey") != "" {
		deps.Uploader = uploader
	}

	r.dispatcher, err = dispatcher.New(logging.NewDispatcherLogger(a.zlog.With().Str("component", "recorder").Logger()))
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	r.worker = worker.NewManager(deps, backend)
	r.worker.RegisterHandlers(r.dispatcher)
	r.Recorder = worker.NewRecorder(r.dispatcher, a.Logger)
	a.Logger.Info("Recorder ready", "storage", storageCfg.Type)
	return r, nil
}

// EndSession waits for the records buffered so far, then ends the session.
func (r *recorder) EndSession() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.dispatcher.Drain(ctx); err != nil {
		return fmt.Errorf("drain recorder: %w", err)
	}
	return r.Recorder.EndSession()
}

// Close drains what was recorded so far and releases the backend.
func (r *recorder) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	drainErr := r.dispatcher.Drain(ctx)
	r.dispatcher.Close()

	var err error
	if r.influx != nil {
		err = r.influx.Close()
	}
	return errors.Join(drainErr, err, r.backend.Close())
}
