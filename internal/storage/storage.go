// Package storage defines the recorder backend contract. Implementations live in the
// sub-packages; the service picks one from configuration.
package storage

import (
	"time"

	"github.com/OCAP2/vehiclesim/pkg/core"
)

// Backend records sessions. Calls arrive from the recorder worker goroutine and must
// not block for long; implementations queue and write in the background where needed.
type Backend interface {
	Init() error
	Close() error

	// StartSession stores the session and sets s.ID.
	StartSession(s *core.Session) error
	EndSession() error

	// AddVehicle registers a vehicle and sets v.ID.
	AddVehicle(v *core.VehicleInfo) error

	RecordSnapshot(s *core.Snapshot) error
	RecordReconciliation(e *core.ReconcileEvent) error
	RecordTelemetry(t *core.Telemetry) error
	RecordPerformance(p *core.Performance) error
}

// Uploadable is implemented by backends that leave a file worth uploading to a replay
// frontend once the session ended.
type Uploadable interface {
	GetExportedFilePath() string
	GetExportMetadata() core.UploadMetadata
}

// WriteDurationProvider is implemented by backends that batch writes and can report how
// long the last batch took.
type WriteDurationProvider interface {
	GetLastWriteDuration() time.Duration
}

// BacklogProvider reports records accepted but not yet written.
type BacklogProvider interface {
	Backlog() int
}
