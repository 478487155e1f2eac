package netcode

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/OCAP2/vehiclesim/internal/queue"
	"github.com/OCAP2/vehiclesim/internal/vehicle"
	"github.com/OCAP2/vehiclesim/internal/vmath"
	"github.com/OCAP2/vehiclesim/pkg/core"
	"github.com/OCAP2/vehiclesim/pkg/streaming"
)

// Config tunes the prediction protocol.
type Config struct {
	// ReconcileTickStep is how many ticks pass between authoritative sends.
	ReconcileTickStep uint32
	// SmoothingDuration is the time in seconds a visual correction is spread over.
	SmoothingDuration float64
	// InputHistory is how many ticks of input and state an owner or observer keeps.
	InputHistory int
	// ReplayCacheSize is how many authoritative observer states are kept.
	ReplayCacheSize int
}

func DefaultConfig() Config {
	return Config{
		ReconcileTickStep: 10,
		SmoothingDuration: 0.125,
		InputHistory:      DefaultMaxReplayTicks,
		ReplayCacheSize:   10,
	}
}

// InputFunc samples driver input for a tick.
type InputFunc func(tick uint32) core.MoveData

// Hooks receive records for the recorder. Both run on the simulation goroutine and must
// not block.
type Hooks struct {
	OnSnapshot  func(core.Snapshot)
	OnReconcile func(core.ReconcileEvent)
}

// frame is what a predicting peer knew at the start of a tick.
type frame struct {
	tick  uint32
	move  core.MoveData
	state []byte
}

type inbound struct {
	typ  string
	tick uint32
	move core.MoveData
	data []byte
}

// PredictedVehicle drives one vehicle through the tick protocol in the role this process
// plays for it: the server simulates with the owner's input and sends authoritative
// state, the owner predicts ahead and replays after corrections, observers extrapolate
// with the last known input and rewind to cached server states.
type PredictedVehicle struct {
	ID      core.ObjectID
	Owner   core.PeerID
	Role    core.Role
	Vehicle *vehicle.Vehicle

	cfg    Config
	tm     *TimeManager
	out    Outbox
	input  InputFunc
	hooks  Hooks
	logger *slog.Logger

	inbox    *queue.Queue[inbound]
	lastMove core.MoveData

	// server
	moves      map[uint32]core.MoveData
	latestTick uint32
	lateMoves  int

	// owner and observer
	history     *queue.Ring[frame]
	replayCache *queue.Ring[frame]
	authority   *frame
	rewindTick  uint32
	rewinding   bool
	predicted   mgl64.Vec3
	corrected   bool

	// visual is the offset of the rendered pose from the body pose.
	visual  vmath.Pose
	prev    vmath.Pose
	posRate float64
	rotRate float64

	unsubscribe []func()
	destroyed   bool
}

// Option customises a PredictedVehicle.
type Option func(*PredictedVehicle)

// WithInput sets the input source of an owner, or of a vehicle the server drives itself.
func WithInput(fn InputFunc) Option {
	return func(p *PredictedVehicle) { p.input = fn }
}

func WithHooks(h Hooks) Option {
	return func(p *PredictedVehicle) { p.hooks = h }
}

func WithConfig(cfg Config) Option {
	return func(p *PredictedVehicle) { p.cfg = cfg }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *PredictedVehicle) { p.logger = l }
}

// NewPredictedVehicle subscribes v to the clock of tm in the given role.
func NewPredictedVehicle(tm *TimeManager, v *vehicle.Vehicle, id core.ObjectID, owner core.PeerID,
	role core.Role, out Outbox, opts ...Option) *PredictedVehicle {
	p := &PredictedVehicle{
		ID:      id,
		Owner:   owner,
		Role:    role,
		Vehicle: v,
		cfg:     DefaultConfig(),
		tm:      tm,
		out:     out,
		logger:  slog.Default(),
		inbox:   queue.New[inbound](),
		moves:   make(map[uint32]core.MoveData),
		visual:  vmath.Identity(),
		posRate: -1,
		rotRate: -1,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cfg.ReconcileTickStep == 0 {
		p.cfg.ReconcileTickStep = 1
	}
	if p.cfg.SmoothingDuration <= 0 {
		p.cfg.SmoothingDuration = DefaultConfig().SmoothingDuration
	}
	p.logger = p.logger.With("object", id, "role", role.String())
	p.history = queue.NewRing[frame](max(p.cfg.InputHistory, 1))
	p.replayCache = queue.NewRing[frame](max(p.cfg.ReplayCacheSize, 1))
	p.prev = p.VisualPose()

	p.unsubscribe = []func(){
		tm.OnPreTick(p.onPreTick),
		tm.OnTick(p.onTick),
		tm.OnPostTick(p.onPostTick),
		tm.OnPreReconcile(p.onPreReconcile),
		tm.OnPostReconcile(p.onPostReconcile),
		tm.OnPreReplicateReplay(p.onPreReplay),
		tm.OnReplay(p.onReplay),
		tm.OnUpdate(func(uint32) { p.Update(tm.TickDelta()) }),
	}
	return p
}

// LastMove returns the input the vehicle last simulated with.
func (p *PredictedVehicle) LastMove() core.MoveData { return p.lastMove }

// LateMoves counts owner inputs that arrived after their tick had been simulated.
func (p *PredictedVehicle) LateMoves() int { return p.lateMoves }

// VisualPose is where the vehicle should be drawn.
func (p *PredictedVehicle) VisualPose() vmath.Pose {
	return p.Vehicle.Body.Pose().Mul(p.visual)
}

// VisualOffset is the remaining smoothing offset from the body pose.
func (p *PredictedVehicle) VisualOffset() vmath.Pose { return p.visual }

// Receive accepts a protocol message for this vehicle. It is safe to call from any
// goroutine; the message is applied on the next tick.
func (p *PredictedVehicle) Receive(from core.PeerID, env streaming.Envelope) error {
	switch env.Type {
	case streaming.TypeMove:
		if p.Role != core.RoleServer {
			return nil
		}
		if from != p.Owner {
			return fmt.Errorf("move for %d from peer %d: %w", p.ID, from, ErrNotOwner)
		}
		var md core.MoveData
		if err := env.Decode(&md); err != nil {
			return err
		}
		p.inbox.Push(inbound{typ: env.Type, tick: env.Tick, move: md})

	case streaming.TypeReconcile:
		if p.Role != core.RoleOwner {
			return nil
		}
		var rp streaming.ReconcilePayload
		if err := env.Decode(&rp); err != nil {
			return err
		}
		tick, data, err := DecodeReconcile(rp.Data)
		if err != nil {
			return err
		}
		p.inbox.Push(inbound{typ: env.Type, tick: tick, data: data})

	case streaming.TypeVehicleState:
		if p.Role != core.RoleObserver {
			return nil
		}
		var vs streaming.VehicleStatePayload
		if err := env.Decode(&vs); err != nil {
			return err
		}
		p.inbox.Push(inbound{typ: env.Type, tick: vs.Tick, move: vs.Move, data: vs.State})

	default:
		return fmt.Errorf("%s for vehicle %d: %w", env.Type, p.ID, ErrUnexpectedMessage)
	}
	return nil
}

func (p *PredictedVehicle) onPreTick(tick uint32) {
	p.prev = p.VisualPose()
	p.drain(tick)
}

func (p *PredictedVehicle) drain(tick uint32) {
	items := p.inbox.Drain()
	if len(items) == 0 {
		return
	}
	var (
		newestState  *frame
		gotAuthority bool
	)
	for _, in := range items {
		switch in.typ {
		case streaming.TypeMove:
			p.bufferMove(tick, in.tick, in.move)
		case streaming.TypeReconcile:
			if p.authority == nil || in.tick >= p.authority.tick {
				p.authority = &frame{tick: in.tick, state: in.data}
				gotAuthority = true
			}
		case streaming.TypeVehicleState:
			f := frame{tick: in.tick, move: in.move, state: in.data}
			p.replayCache.Push(f)
			if newestState == nil || f.tick >= newestState.tick {
				newestState = &f
			}
		}
	}

	if gotAuthority {
		a := *p.authority
		p.tm.QueueReconcile(a.tick, func() { p.applyAtFrontier(a.tick) })
	}
	if newestState != nil {
		s := *newestState
		p.tm.QueueReconcile(s.tick, func() { p.applyAtFrontier(s.tick) })
	}
}

func (p *PredictedVehicle) bufferMove(now, tick uint32, md core.MoveData) {
	if tick >= p.latestTick {
		p.latestTick = tick
		p.lastMove = md
	}
	if tick < now {
		p.lateMoves++
		p.logger.Debug("Late move", "tick", tick, "now", now)
		return
	}
	if tick-now > p.tm.MaxReplayTicks {
		p.logger.Debug("Move too far ahead, dropped", "tick", tick, "now", now)
		return
	}
	p.moves[tick] = md
}

func (p *PredictedVehicle) onTick(tick uint32) {
	switch p.Role {
	case core.RoleServer:
		p.tm.Sim.Trace.Record("TICK: %d object %d", tick, p.ID)
		md := p.lastMove
		if p.input != nil {
			md = p.input(tick)
		} else if m, ok := p.moves[tick]; ok {
			md = m
		}
		for t := range p.moves {
			if t <= tick {
				delete(p.moves, t)
			}
		}
		p.lastMove = md
		p.Vehicle.SimulateWithMove(p.tm.Sim, md)

	case core.RoleOwner:
		var md core.MoveData
		if p.input != nil {
			md = p.input(tick)
		}
		p.history.Push(frame{tick: tick, move: md, state: p.Vehicle.FullState()})
		p.lastMove = md
		p.Vehicle.SimulateWithMove(p.tm.Sim, md)
		p.send(tick, md)

	case core.RoleObserver:
		p.history.Push(frame{tick: tick, move: p.lastMove, state: p.Vehicle.FullState()})
		p.Vehicle.SimulateWithMove(p.tm.Sim, p.lastMove)
	}
}

func (p *PredictedVehicle) send(tick uint32, md core.MoveData) {
	if p.out == nil {
		return
	}
	env, err := streaming.NewEnvelope(streaming.TypeMove, p.ID, tick, md)
	if err != nil {
		p.logger.Error("Failed to encode move", "error", err)
		return
	}
	p.out.SendReliable(core.ServerPeer, env)
}

func (p *PredictedVehicle) onPostTick(tick uint32) {
	switch p.Role {
	case core.RoleServer:
		if tick%p.cfg.ReconcileTickStep == 0 {
			p.sendAuthoritative(tick + 1)
		}
	case core.RoleOwner:
		// Draw where we were before the step and ease into the new pose. A correction
		// made this tick keeps its longer smoothing.
		p.visual = p.Vehicle.Body.Pose().Local(p.prev)
		if p.corrected {
			p.corrected = false
			p.setMoveRates(p.cfg.SmoothingDuration)
			return
		}
		p.setMoveRates(p.tm.TickDelta())
	}
}

// sendAuthoritative sends the state at the start of tick to observers and the owner.
func (p *PredictedVehicle) sendAuthoritative(tick uint32) {
	data := p.Vehicle.FullState()

	if p.hooks.OnSnapshot != nil {
		out := p.Vehicle.Output()
		p.hooks.OnSnapshot(core.Snapshot{
			Object:    p.ID,
			Tick:      tick,
			Time:      time.Now(),
			Role:      p.Role,
			Body:      p.Vehicle.Body.State(),
			Move:      p.lastMove,
			State:     data,
			Grounded:  out.GroundedWheels,
			Burnout:   out.Burnout,
			Crashing:  out.Crashing,
			Gear:      out.Gear,
			EngineRPM: out.EngineRPM,
		})
	}
	if p.out == nil {
		return
	}

	p.tm.Sim.Trace.Record("RECONCILE START object %d tick %d", p.ID, tick)
	state, err := streaming.NewEnvelope(streaming.TypeVehicleState, p.ID, tick,
		streaming.VehicleStatePayload{Tick: tick, Move: p.lastMove, State: data})
	if err != nil {
		p.logger.Error("Failed to encode vehicle state", "error", err)
		return
	}
	if p.Owner == core.ServerPeer {
		p.out.Broadcast(state)
		return
	}
	p.out.Broadcast(state, p.Owner)

	rec, err := streaming.NewEnvelope(streaming.TypeReconcile, p.ID, tick,
		streaming.ReconcilePayload{Data: EncodeReconcile(tick, data)})
	if err != nil {
		p.logger.Error("Failed to encode reconcile", "error", err)
		return
	}
	p.out.SendReliable(p.Owner, rec)
}

func (p *PredictedVehicle) onPreReconcile(from uint32) {
	p.prev = p.VisualPose()
	p.predicted = p.Vehicle.Body.Position
	p.rewindTick = from
	p.rewinding = true
	if p.Role == core.RoleObserver {
		p.lastMove = core.MoveData{}
	}
}

// applyAtFrontier applies authoritative state for a tick the replay will not reach,
// which is any tick at or ahead of the local clock.
func (p *PredictedVehicle) applyAtFrontier(tick uint32) {
	if tick < p.tm.LocalTick {
		return
	}
	p.rewinding = false
	p.applyAuthority(tick)
}

// applyAuthority overwrites the vehicle with the server state for tick, if this peer
// has one. It reports whether state was applied.
func (p *PredictedVehicle) applyAuthority(tick uint32) bool {
	switch p.Role {
	case core.RoleOwner:
		if p.authority == nil || p.authority.tick != tick {
			return false
		}
		a := p.authority
		p.authority = nil
		if err := p.Vehicle.SetFullState(a.state); err != nil {
			p.reject(a.tick, err)
			return false
		}
		p.history.DropWhile(func(f frame) bool { return f.tick < tick })
		return true

	case core.RoleObserver:
		f, ok := p.replayCache.Find(func(f frame) bool { return f.tick == tick })
		if !ok {
			return false
		}
		if err := p.Vehicle.SetFullState(f.state); err != nil {
			p.logger.Warn("Cached state rejected", "tick", tick, "error", err)
			return false
		}
		p.lastMove = f.move
		return true
	}
	return false
}

func (p *PredictedVehicle) reject(tick uint32, err error) {
	p.logger.Warn("Reconcile rejected", "tick", tick, "error", err)
	if p.hooks.OnReconcile != nil {
		p.hooks.OnReconcile(core.ReconcileEvent{
			Object:    p.ID,
			Tick:      tick,
			LocalTick: p.tm.LocalTick,
			Time:      time.Now(),
			Rejected:  true,
			Reason:    err.Error(),
		})
	}
}

func (p *PredictedVehicle) onPreReplay(tick uint32) {
	if p.Role == core.RoleServer {
		return
	}
	p.tm.Sim.Trace.Record("TICK: %d object %d replay", tick, p.ID)
	if p.applyAuthority(tick) {
		p.rewinding = false
		return
	}
	// Without server state for the first replayed tick, rewind to what this peer had
	// predicted for it so the replay starts from a consistent tick.
	if p.rewinding && tick == p.rewindTick {
		p.rewinding = false
		if f, ok := p.history.Find(func(f frame) bool { return f.tick == tick }); ok {
			if err := p.Vehicle.SetFullState(f.state); err != nil {
				p.logger.Warn("Rewind failed", "tick", tick, "error", err)
			}
			if p.Role == core.RoleObserver {
				p.lastMove = f.move
			}
		}
	}
}

func (p *PredictedVehicle) onReplay(tick uint32) {
	switch p.Role {
	case core.RoleOwner:
		md := p.lastMove
		if f, ok := p.history.Find(func(f frame) bool { return f.tick == tick }); ok {
			md = f.move
		}
		p.history.Replace(func(f frame) bool { return f.tick == tick },
			frame{tick: tick, move: md, state: p.Vehicle.FullState()})
		p.Vehicle.SimulateWithMove(p.tm.Sim, md)

	case core.RoleObserver:
		p.history.Replace(func(f frame) bool { return f.tick == tick },
			frame{tick: tick, move: p.lastMove, state: p.Vehicle.FullState()})
		p.Vehicle.SimulateWithMove(p.tm.Sim, p.lastMove)
	}
}

func (p *PredictedVehicle) onPostReconcile(tick uint32) {
	p.rewinding = false
	if p.Role == core.RoleServer {
		return
	}
	correction := p.predicted.Sub(p.Vehicle.Body.Position).Len()
	p.tm.metrics.corrected(p.Role.String(), correction)
	if p.Role == core.RoleOwner && p.hooks.OnReconcile != nil {
		p.hooks.OnReconcile(core.ReconcileEvent{
			Object:        p.ID,
			Tick:          p.rewindTick,
			LocalTick:     tick,
			Time:          time.Now(),
			Correction:    correction,
			ReplayedTicks: int(tick - min(p.rewindTick, tick)),
		})
	}

	// Keep drawing the pre-reconcile pose and ease into the corrected one.
	p.visual = p.Vehicle.Body.Pose().Local(p.prev)
	p.setMoveRates(p.cfg.SmoothingDuration)
	p.corrected = true
}

func (p *PredictedVehicle) setMoveRates(duration float64) {
	p.posRate = p.visual.Position.Len() / duration
	p.rotRate = 0
	if angle := vmath.QuatAngle(mgl64.QuatIdent(), p.visual.Rotation); angle > 0 {
		p.rotRate = angle / duration
	}
}

// Update moves the visual offset back towards the body by dt seconds of smoothing.
func (p *PredictedVehicle) Update(dt float64) {
	if p.posRate < 0 && p.rotRate < 0 {
		return
	}
	if p.posRate > 0 {
		p.visual.Position = vmath.MoveTowards(p.visual.Position, mgl64.Vec3{}, p.posRate*dt)
	}
	if p.rotRate > 0 {
		p.visual.Rotation = vmath.RotateTowards(p.visual.Rotation, mgl64.QuatIdent(), p.rotRate*dt)
	}
	if vmath.SqrLen(p.visual.Position) < 1e-12 && vmath.QuatAngle(mgl64.QuatIdent(), p.visual.Rotation) == 0 {
		p.visual = vmath.Identity()
		p.posRate, p.rotRate = -1, -1
	}
}

// Destroy unsubscribes from the clock and then destroys the vehicle. It is safe to call
// twice.
func (p *PredictedVehicle) Destroy() {
	if p.destroyed {
		return
	}
	p.destroyed = true
	for _, un := range p.unsubscribe {
		un()
	}
	p.unsubscribe = nil
	p.inbox.Clear()
	p.Vehicle.Destroy()
}

func (p *PredictedVehicle) Destroyed() bool { return p.destroyed }
