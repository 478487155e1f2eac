package session

import (
	"log/slog"
	"sync"

	"github.com/OCAP2/vehiclesim/pkg/core"
)

// Context holds the session currently being simulated
type Context struct {
	mu      sync.RWMutex
	session core.Session
	active  bool
	role    string
	clock   func() uint32
}

// NewContext creates a new Context with default values
func NewContext() *Context {
	return &Context{session: core.Session{Name: "No session started"}}
}

// Get returns a copy of the current session
func (c *Context) Get() core.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// Active reports whether a session was started and not yet ended.
func (c *Context) Active() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// Start sets the current session
func (c *Context) Start(s core.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
	c.active = true
}

// End marks the session finished. The last session stays readable.
func (c *Context) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
}

// SetRole names the part this process plays: server, owner, observer, local or recorder.
func (c *Context) SetRole(role string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = role
}

// SetClock installs the tick reported while a session runs. clock is called from any
// goroutine that logs.
func (c *Context) SetClock(clock func() uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clock
}

// LogAttrs tags log records with the role and, during a session, its name and tick.
func (c *Context) LogAttrs() []slog.Attr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var attrs []slog.Attr
	if c.role != "" {
		attrs = append(attrs, slog.String("role", c.role))
	}
	if !c.active {
		return attrs
	}
	attrs = append(attrs, slog.String("session", c.session.Name))
	if c.clock != nil {
		attrs = append(attrs, slog.Any("tick", c.clock()))
	}
	return attrs
}
