package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// StateTrace collects per-tick component state lines so that a server run and a client
// run of the same vehicle can be diffed after the fact. A nil or disabled trace records
// nothing.
type StateTrace struct {
	mu      sync.Mutex
	enabled bool
	lines   []string
}

// NewStateTrace creates a trace; enabled controls whether Record keeps anything.
func NewStateTrace(enabled bool) *StateTrace {
	return &StateTrace{enabled: enabled}
}

func (t *StateTrace) Enabled() bool {
	return t != nil && t.enabled
}

// Record appends one formatted line.
func (t *StateTrace) Record(format string, args ...any) {
	if !t.Enabled() {
		return
	}
	t.mu.Lock()
	t.lines = append(t.lines, fmt.Sprintf(format, args...))
	t.mu.Unlock()
}

// Lines returns a copy of everything recorded so far.
func (t *StateTrace) Lines() []string {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.lines))
	copy(out, t.lines)
	return out
}

// Reset drops all recorded lines.
func (t *StateTrace) Reset() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.lines = nil
	t.mu.Unlock()
}

// Save writes the recorded lines to path, one per line.
func (t *StateTrace) Save(path string) error {
	lines := t.Lines()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to save state trace: %w", err)
	}
	return nil
}
