package netcode

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/OCAP2/vehiclesim/internal/physics"
	"github.com/OCAP2/vehiclesim/internal/vmath"
	"github.com/OCAP2/vehiclesim/pkg/core"
	"github.com/OCAP2/vehiclesim/pkg/streaming"
)

// DefaultObjectSmoothing is the smoothing time of networked loose objects.
const DefaultObjectSmoothing = 0.05

// CachedObject replicates a plain rigid body (debris, props, detached parts). The server
// broadcasts its state on every reconcile step; clients only keep the newest state and
// write it into the body when a reconciliation starts, so the replay carries it forward.
type CachedObject struct {
	ID        core.ObjectID
	Body      *physics.Body
	Server    bool
	Smoothing float64

	tm       *TimeManager
	out      Outbox
	tickStep uint32
	logger   *slog.Logger

	mu      sync.Mutex
	cached  *core.RigidbodyState
	tick    uint32
	pending bool

	visual    vmath.Pose
	prev      vmath.Pose
	posVel    mgl64.Vec3
	rotVel    float64
	unsub     []func()
	destroyed bool
}

// NewCachedObject subscribes body to tm. tickStep should match the vehicles' reconcile
// step so object and vehicle states arrive for the same ticks.
func NewCachedObject(tm *TimeManager, body *physics.Body, id core.ObjectID, server bool,
	tickStep uint32, out Outbox, logger *slog.Logger) *CachedObject {
	if logger == nil {
		logger = slog.Default()
	}
	o := &CachedObject{
		ID:        id,
		Body:      body,
		Server:    server,
		Smoothing: DefaultObjectSmoothing,
		tm:        tm,
		out:       out,
		tickStep:  max(tickStep, 1),
		logger:    logger.With("object", id),
		visual:    vmath.Identity(),
	}
	o.prev = o.VisualPose()
	o.unsub = []func(){
		tm.OnPreTick(o.onPreTick),
		tm.OnPostTick(o.onPostTick),
		tm.OnUpdate(func(uint32) { o.Update(tm.TickDelta()) }),
	}
	if !server {
		o.unsub = append(o.unsub,
			tm.OnPreReconcile(o.onPreReconcile),
			tm.OnPostReconcile(o.onPostReconcile),
		)
	}
	return o
}

// VisualPose is where the object should be drawn.
func (o *CachedObject) VisualPose() vmath.Pose {
	return o.Body.Pose().Mul(o.visual)
}

// Cached returns the newest received server state.
func (o *CachedObject) Cached() (core.RigidbodyState, uint32, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cached == nil {
		return core.RigidbodyState{}, 0, false
	}
	return *o.cached, o.tick, true
}

// Receive caches a rigidbody_state broadcast. It is safe to call from any goroutine.
func (o *CachedObject) Receive(from core.PeerID, env streaming.Envelope) error {
	if env.Type != streaming.TypeRigidbodyState {
		return fmt.Errorf("%s for object %d: %w", env.Type, o.ID, ErrUnexpectedMessage)
	}
	if o.Server {
		return nil
	}
	var s core.RigidbodyState
	if err := env.Decode(&s); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cached != nil && env.Tick < o.tick {
		return nil
	}
	o.cached = &s
	o.tick = env.Tick
	o.pending = true
	o.tm.Post(func() { o.tm.QueueReconcile(env.Tick, nil) })
	return nil
}

func (o *CachedObject) onPreTick(uint32) {
	o.prev = o.VisualPose()
}

func (o *CachedObject) onPostTick(tick uint32) {
	if !o.Server {
		o.visual = o.Body.Pose().Local(o.prev)
		return
	}
	if o.out == nil || tick%o.tickStep != 0 {
		return
	}
	env, err := streaming.NewEnvelope(streaming.TypeRigidbodyState, o.ID, tick+1, o.Body.State())
	if err != nil {
		o.logger.Error("Failed to encode rigidbody state", "error", err)
		return
	}
	o.out.Broadcast(env)
}

// onPreReconcile writes a newly received state into the body; a state is used once.
func (o *CachedObject) onPreReconcile(uint32) {
	o.prev = o.VisualPose()
	o.mu.Lock()
	s, pending := o.cached, o.pending
	o.pending = false
	o.mu.Unlock()
	if pending && s != nil {
		o.Body.SetState(*s)
	}
}

func (o *CachedObject) onPostReconcile(uint32) {
	o.visual = o.Body.Pose().Local(o.prev)
}

// Update smooths the visual offset back to the body.
func (o *CachedObject) Update(dt float64) {
	o.visual.Position = vmath.SmoothDampVec(o.visual.Position, mgl64.Vec3{}, &o.posVel, o.Smoothing, math.Inf(1), dt)
	o.visual.Rotation = vmath.SmoothDampQuat(o.visual.Rotation, mgl64.QuatIdent(), &o.rotVel, o.Smoothing, dt)
}

// Destroy unsubscribes from the clock and removes the body from the world.
func (o *CachedObject) Destroy() {
	if o.destroyed {
		return
	}
	o.destroyed = true
	for _, un := range o.unsub {
		un()
	}
	o.unsub = nil
	o.tm.Sim.World.RemoveBody(o.Body)
}
