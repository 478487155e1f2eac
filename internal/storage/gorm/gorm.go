// Package gormstorage implements storage.Backend on any gorm dialect. Sessions and
// vehicles are inserted synchronously so their IDs are known at once; high-rate records
// go through queues drained by a background writer.
package gormstorage

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/OCAP2/vehiclesim/internal/database"
	"github.com/OCAP2/vehiclesim/internal/model"
	"github.com/OCAP2/vehiclesim/internal/model/convert"
	"github.com/OCAP2/vehiclesim/internal/queue"
	"github.com/OCAP2/vehiclesim/pkg/core"
)

// DefaultFlushInterval is how often the writer drains the queues.
const DefaultFlushInterval = 2 * time.Second

// ErrNoSession is returned when records arrive before StartSession.
var ErrNoSession = errors.New("no session started")

// Dependencies holds everything the backend needs from the outside.
type Dependencies struct {
	DB            *gorm.DB
	Logger        *slog.Logger
	FlushInterval time.Duration
}

type queues struct {
	Snapshots       *queue.Queue[model.Snapshot]
	Reconciliations *queue.Queue[model.ReconcileEvent]
	Telemetry       *queue.Queue[model.Telemetry]
	Performance     *queue.Queue[model.Performance]
}

func newQueues() *queues {
	return &queues{
		Snapshots:       queue.New[model.Snapshot](),
		Reconciliations: queue.New[model.ReconcileEvent](),
		Telemetry:       queue.New[model.Telemetry](),
		Performance:     queue.New[model.Performance](),
	}
}

// Backend writes recordings through gorm.
type Backend struct {
	deps      Dependencies
	queues    *queues
	sessionID atomic.Uint64
	lastWrite atomic.Int64

	writeMu   sync.Mutex
	stopChan  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = DefaultFlushInterval
	}
	return &Backend{
		deps:   deps,
		queues: newQueues(),
	}
}

// DB exposes the connection for wrappers that need dialect specific work.
func (b *Backend) DB() *gorm.DB { return b.deps.DB }

// Init migrates the schema and starts the writer.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return errors.New("gorm backend has no database")
	}
	b.deps.Logger.Info("Migrating schema", "dialect", b.deps.DB.Name())
	if err := database.Migrate(b.deps.DB); err != nil {
		return err
	}

	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	go b.writerLoop()
	return nil
}

// Close stops the writer and writes whatever is still queued.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		if b.stopChan != nil {
			close(b.stopChan)
			<-b.done
		}
	})
	if b.deps.DB == nil {
		return nil
	}
	return b.Flush()
}

func (b *Backend) StartSession(s *core.Session) error {
	row := convert.SessionToModel(*s)
	if err := b.deps.DB.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	s.ID = row.ID
	b.sessionID.Store(uint64(row.ID))
	b.deps.Logger.Info("Session started", "session", row.ID, "name", row.Name)
	return nil
}

// EndSession stamps the end time and flushes the queues.
func (b *Backend) EndSession() error {
	id := uint(b.sessionID.Load())
	if id == 0 {
		return ErrNoSession
	}
	if err := b.Flush(); err != nil {
		return err
	}
	now := time.Now()
	if err := b.deps.DB.Model(&model.Session{}).Where("id = ?", id).Update("end_time", now).Error; err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	return nil
}

func (b *Backend) AddVehicle(v *core.VehicleInfo) error {
	id := uint(b.sessionID.Load())
	if id == 0 {
		return ErrNoSession
	}
	v.SessionID = id
	row := convert.VehicleToModel(*v)
	err := b.deps.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "object_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"owner", "preset", "hover", "wheels"}),
	}).Omit(clause.Associations).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to insert vehicle: %w", err)
	}
	v.ID = row.ID
	return nil
}

func (b *Backend) RecordSnapshot(s *core.Snapshot) error {
	b.queues.Snapshots.Push(convert.SnapshotToModel(*s))
	return nil
}

func (b *Backend) RecordReconciliation(e *core.ReconcileEvent) error {
	b.queues.Reconciliations.Push(convert.ReconcileToModel(*e))
	return nil
}

func (b *Backend) RecordTelemetry(t *core.Telemetry) error {
	b.queues.Telemetry.Push(convert.TelemetryToModel(*t))
	return nil
}

func (b *Backend) RecordPerformance(p *core.Performance) error {
	b.queues.Performance.Push(convert.PerformanceToModel(*p))
	return nil
}

// Backlog counts queued records not yet written.
func (b *Backend) Backlog() int {
	q := b.queues
	return q.Snapshots.Len() + q.Reconciliations.Len() + q.Telemetry.Len() + q.Performance.Len()
}

// GetLastWriteDuration reports how long the last drain took.
func (b *Backend) GetLastWriteDuration() time.Duration {
	return time.Duration(b.lastWrite.Load())
}

// writeQueue writes all items from a queue in one transaction. Failed batches go back on
// the queue for the next cycle.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log *slog.Logger, prepare func([]T)) error {
	if q.Empty() {
		return nil
	}

	items := q.Drain()
	if prepare != nil {
		prepare(items)
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		return tx.Omit(clause.Associations).Create(&items).Error
	})
	if err != nil {
		log.Error("Error writing queue", "queue", name, "count", len(items), "error", err)
		q.Push(items...)
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Flush drains every queue now.
func (b *Backend) Flush() error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	start := time.Now()
	sessionID := uint(b.sessionID.Load())
	db, log := b.deps.DB, b.deps.Logger

	errs := []error{
		writeQueue(db, b.queues.Snapshots, "snapshots", log, func(items []model.Snapshot) {
			for i := range items {
				items[i].SessionID = sessionID
			}
		}),
		writeQueue(db, b.queues.Reconciliations, "reconcile events", log, func(items []model.ReconcileEvent) {
			for i := range items {
				items[i].SessionID = sessionID
			}
		}),
		writeQueue(db, b.queues.Telemetry, "telemetry", log, func(items []model.Telemetry) {
			for i := range items {
				items[i].SessionID = sessionID
			}
		}),
		writeQueue(db, b.queues.Performance, "performance", log, func(items []model.Performance) {
			for i := range items {
				items[i].SessionID = sessionID
			}
		}),
	}
	b.lastWrite.Store(int64(time.Since(start)))
	return errors.Join(errs...)
}

func (b *Backend) writerLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if b.sessionID.Load() == 0 {
				continue
			}
			_ = b.Flush()
		}
	}
}
