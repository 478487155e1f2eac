// Package postgres records sessions into PostgreSQL through the gorm backend.
package postgres

import (
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/OCAP2/vehiclesim/internal/config"
	"github.com/OCAP2/vehiclesim/internal/database"
	gormstorage "github.com/OCAP2/vehiclesim/internal/storage/gorm"
	"github.com/OCAP2/vehiclesim/pkg/core"
)

// ErrNotInitialized is returned by record calls made before Init succeeded.
var ErrNotInitialized = errors.New("postgres backend not initialized")

// Dependencies holds all dependencies for the postgres storage backend. A nil DB makes
// Init connect with Config.
type Dependencies struct {
	DB     *gorm.DB
	Config config.DBConfig
	Logger *slog.Logger
}

// Backend is the gorm backend bound to a postgres connection.
type Backend struct {
	deps  Dependencies
	inner *gormstorage.Backend
}

func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Backend{deps: deps}
}

// Init connects when needed, then migrates and starts the writer.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		b.deps.Logger.Debug("Connecting to Postgres DB", "host", b.deps.Config.Host, "database", b.deps.Config.Database)
		db, err := database.OpenPostgres(b.deps.Config)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		b.deps.DB = db
	}

	inner := gormstorage.New(gormstorage.Dependencies{DB: b.deps.DB, Logger: b.deps.Logger})
	if err := inner.Init(); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}
	b.inner = inner
	b.deps.Logger.Info("Database setup complete")
	return nil
}

func (b *Backend) Close() error {
	if b.inner == nil {
		return nil
	}
	return b.inner.Close()
}

func (b *Backend) ready() error {
	if b.inner == nil {
		return ErrNotInitialized
	}
	return nil
}

func (b *Backend) StartSession(s *core.Session) error {
	if err := b.ready(); err != nil {
		return err
	}
	return b.inner.StartSession(s)
}

func (b *Backend) EndSession() error {
	if err := b.ready(); err != nil {
		return err
	}
	return b.inner.EndSession()
}

func (b *Backend) AddVehicle(v *core.VehicleInfo) error {
	if err := b.ready(); err != nil {
		return err
	}
	return b.inner.AddVehicle(v)
}

func (b *Backend) RecordSnapshot(s *core.Snapshot) error {
	if err := b.ready(); err != nil {
		return err
	}
	return b.inner.RecordSnapshot(s)
}

func (b *Backend) RecordReconciliation(e *core.ReconcileEvent) error {
	if err := b.ready(); err != nil {
		return err
	}
	return b.inner.RecordReconciliation(e)
}

func (b *Backend) RecordTelemetry(t *core.Telemetry) error {
	if err := b.ready(); err != nil {
		return err
	}
	return b.inner.RecordTelemetry(t)
}

func (b *Backend) RecordPerformance(p *core.Performance) error {
	if err := b.ready(); err != nil {
		return err
	}
	return b.inner.RecordPerformance(p)
}

func (b *Backend) Backlog() int {
	if b.inner == nil {
		return 0
	}
	return b.inner.Backlog()
}
