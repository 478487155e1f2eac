package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/OCAP2/vehiclesim/internal/dispatcher"
	"github.com/OCAP2/vehiclesim/internal/netcode"
	"github.com/OCAP2/vehiclesim/internal/session"
	"github.com/OCAP2/vehiclesim/internal/worker"
	"github.com/OCAP2/vehiclesim/pkg/core"
)

// StatusFile is written to Dependencies.Dir on every sample.
const StatusFile = "status.txt"

// Stats reports the live simulation counts.
type Stats interface {
	Tick() uint32
	Vehicles() int
	Peers() int
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Logger     *slog.Logger
	Session    *session.Context
	Stats      Stats
	Metrics    *netcode.Metrics
	Dispatcher *dispatcher.Dispatcher
	Worker     *worker.Manager
	Recorder   *worker.Recorder
	Dir        string
	Interval   time.Duration
}

// Service samples process health while a session runs.
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Sample collects one performance record.
func (s *Service) Sample() core.Performance {
	perf := core.Performance{Time: time.Now()}
	if st := s.deps.Stats; st != nil {
		perf.Tick = st.Tick()
		perf.Vehicles = st.Vehicles()
		perf.Peers = st.Peers()
	}
	if m := s.deps.Metrics; m != nil {
		perf.TickDuration = m.LastTickDuration()
		perf.Reconciliations = m.Reconciliations()
	}
	if d := s.deps.Dispatcher; d != nil {
		for _, n := range d.QueueDepths() {
			perf.InboxDepth += n
		}
		perf.Dropped = d.Dropped()
	}
	if w := s.deps.Worker; w != nil {
		perf.RecorderBacklog = w.Backlog()
	}
	return perf
}

// GetProgramStatus returns the current status lines and the sample they were built from.
func (s *Service) GetProgramStatus(queues, lastWrite bool) (output []string, perf core.Performance) {
	perf = s.Sample()

	sess := "No session started"
	if s.deps.Session != nil {
		sess = s.deps.Session.Get().Name
	}
	output = append(output,
		fmt.Sprintf("session: %s", sess),
		fmt.Sprintf("tick: %d (%.2f ms)", perf.Tick, float64(perf.TickDuration)/float64(time.Millisecond)),
		fmt.Sprintf("vehicles: %d peers: %d", perf.Vehicles, perf.Peers),
		fmt.Sprintf("reconciliations: %d dropped: %d", perf.Reconciliations, perf.Dropped),
	)

	if queues && s.deps.Dispatcher != nil {
		raw, err := json.MarshalIndent(s.deps.Dispatcher.QueueDepths(), "", "  ")
		if err != nil {
			raw = []byte(fmt.Sprintf(`{"error": "%s"}`, err))
		}
		output = append(output, string(raw))
	}
	if lastWrite && s.deps.Worker != nil {
		output = append(output, fmt.Sprintf("last write: %d ms backlog: %d",
			s.deps.Worker.GetLastWriteDuration().Milliseconds(), perf.RecorderBacklog))
	}
	return output, perf
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	var statusFile *os.File
	if s.deps.Dir != "" {
		if err := os.MkdirAll(s.deps.Dir, 0755); err != nil {
			s.deps.Logger.Error("Error creating status directory", "error", err)
		} else if f, err := os.Create(filepath.Join(s.deps.Dir, StatusFile)); err != nil {
			s.deps.Logger.Error("Error creating status file", "error", err)
		} else {
			statusFile = f
		}
	}

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()
		if statusFile != nil {
			defer statusFile.Close()
		}

		s.deps.Logger.Debug("Starting status monitor goroutine", "interval", s.deps.Interval)
		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}

			if s.deps.Session != nil && !s.deps.Session.Active() {
				continue
			}

			lines, perf := s.GetProgramStatus(true, true)
			if statusFile != nil {
				if err := writeStatus(statusFile, lines); err != nil {
					s.deps.Logger.Error("Error writing status file", "error", err)
				}
			}
			s.deps.Recorder.Performance(perf)
		}
	}()

	return nil
}

func writeStatus(f *os.File, lines []string) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	for _, line := range lines {
		if _, err := f.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	return nil
}

// Stop stops the status monitor and waits for the goroutine to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.isRunning = false
	s.mu.Unlock()
	<-done
}
