// Package sqlitestorage records into an in-memory SQLite database and dumps it to disk
// with VACUUM INTO, periodically and when the session ends.
package sqlitestorage

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/OCAP2/vehiclesim/internal/database"
	gormstorage "github.com/OCAP2/vehiclesim/internal/storage/gorm"
	"github.com/OCAP2/vehiclesim/pkg/core"
)

// Config holds configuration for the SQLite storage backend.
type Config struct {
	DumpInterval time.Duration
	OutputDir    string
}

// Backend wraps the gorm backend with the dump loop.
type Backend struct {
	*gormstorage.Backend
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	session  *core.Session
	dumpPath string
	lastDump string

	stopChan chan struct{}
	stopOnce sync.Once
	loopDone chan struct{}
}

// New opens a fresh in-memory database. name keeps several backends in one process apart.
func New(cfg Config, name string, log *slog.Logger) (*Backend, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := database.OpenSqlite("", name)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite DB: %w", err)
	}
	return &Backend{
		Backend:  gormstorage.New(gormstorage.Dependencies{DB: db, Logger: log}),
		cfg:      cfg,
		log:      log,
		stopChan: make(chan struct{}),
		loopDone: make(chan struct{}),
	}, nil
}

// Init migrates and starts the dump goroutine.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}
	if b.cfg.OutputDir != "" && b.cfg.DumpInterval > 0 {
		go b.dumpLoop()
	} else {
		close(b.loopDone)
	}
	return nil
}

// Close stops the dump loop and closes the embedded backend.
func (b *Backend) Close() error {
	b.stopOnce.Do(func() { close(b.stopChan) })
	<-b.loopDone
	return b.Backend.Close()
}

func (b *Backend) StartSession(s *core.Session) error {
	if err := b.Backend.StartSession(s); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.session = s
	if b.cfg.OutputDir != "" {
		name := fmt.Sprintf("session_%d_%s.db", s.ID, s.StartedAt.Format("20060102_150405"))
		b.dumpPath = filepath.Join(b.cfg.OutputDir, name)
	}
	return nil
}

// EndSession flushes, then writes the final dump.
func (b *Backend) EndSession() error {
	if err := b.Backend.EndSession(); err != nil {
		return err
	}
	return b.Dump()
}

// Dump writes the database to the session dump file now.
func (b *Backend) Dump() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dumpPath == "" {
		return nil
	}
	start := time.Now()
	if err := database.DumpMemoryDBToDisk(b.DB(), b.dumpPath); err != nil {
		return err
	}
	b.lastDump = b.dumpPath
	b.log.Debug("Dumped memory DB to disk", "path", b.dumpPath, "duration", time.Since(start))
	return nil
}

// GetExportedFilePath returns the last dump file.
func (b *Backend) GetExportedFilePath() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastDump
}

func (b *Backend) GetExportMetadata() core.UploadMetadata {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return core.UploadMetadata{}
	}
	return core.UploadMetadata{
		SessionName: b.session.Name,
		Tag:         b.session.Tag,
		TickRate:    b.session.TickRate,
		SchemaVer:   b.session.SchemaVer,
	}
}

func (b *Backend) dumpLoop() {
	defer close(b.loopDone)
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.Dump(); err != nil {
				b.log.Error("Error dumping to disk", "error", err)
			}
		}
	}
}
