// Package netcode runs the fixed-tick clock shared by every networked object and the
// client prediction / server reconciliation protocol on top of it.
package netcode

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/OCAP2/vehiclesim/internal/queue"
	"github.com/OCAP2/vehiclesim/internal/sim"
)

// DefaultMaxReplayTicks bounds how far back a reconciliation may rewind.
const DefaultMaxReplayTicks = 128

// TickHandler receives the tick an event fires for.
type TickHandler func(tick uint32)

type subscription struct {
	fn      TickHandler
	removed bool
}

type event struct {
	subs []*subscription
}

func (e *event) subscribe(fn TickHandler) func() {
	s := &subscription{fn: fn}
	e.subs = append(e.subs, s)
	return func() {
		if s.removed {
			return
		}
		s.removed = true
		e.subs = slices.DeleteFunc(e.subs, func(x *subscription) bool { return x == s })
	}
}

// fire calls a snapshot of the handlers; one removed mid-fire is skipped.
func (e *event) fire(tick uint32) {
	if len(e.subs) == 0 {
		return
	}
	for _, s := range slices.Clone(e.subs) {
		if !s.removed {
			s.fn(tick)
		}
	}
}

type reconcileRequest struct {
	tick  uint32
	apply func()
}

// TimeManager owns the tick counter and the physics step of one simulation context.
// Step, Reconcile and every handler run on the simulation goroutine only.
type TimeManager struct {
	Sim *sim.Context

	// LocalTick is the tick the next Step simulates.
	LocalTick uint32
	// ReplayTick is the tick being replayed while a reconciliation runs.
	ReplayTick uint32
	// MaxReplayTicks rejects reconciliations older than this many ticks.
	MaxReplayTicks uint32

	preTick, tick, postTick   event
	preReconcile, postReconc  event
	preReplay, replay, postRp event
	update                    event

	posted      *queue.Queue[func()]
	pending     []reconcileRequest
	reconciling bool
	metrics     *Metrics
	logger      *slog.Logger
}

// NewTimeManager creates a time manager stepping ctx.World.
func NewTimeManager(ctx *sim.Context, logger *slog.Logger) *TimeManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TimeManager{
		Sim:            ctx,
		MaxReplayTicks: DefaultMaxReplayTicks,
		posted:         queue.New[func()](),
		metrics:        newMetrics(logger),
		logger:         logger.With("component", "time"),
	}
}

func (tm *TimeManager) TickDelta() float64 { return tm.Sim.TickDelta }

// Metrics exposes the clock counters.
func (tm *TimeManager) Metrics() *Metrics { return tm.metrics }

// Reconciling reports whether a reconciliation (state overwrite or replay) is running.
func (tm *TimeManager) Reconciling() bool { return tm.reconciling }

// SetTick moves the clock, used when a client learns the server tick.
func (tm *TimeManager) SetTick(tick uint32) {
	tm.LocalTick = tick
	tm.Sim.Tick = tick
}

func (tm *TimeManager) OnPreTick(fn TickHandler) func()       { return tm.preTick.subscribe(fn) }
func (tm *TimeManager) OnTick(fn TickHandler) func()          { return tm.tick.subscribe(fn) }
func (tm *TimeManager) OnPostTick(fn TickHandler) func()      { return tm.postTick.subscribe(fn) }
func (tm *TimeManager) OnPreReconcile(fn TickHandler) func()  { return tm.preReconcile.subscribe(fn) }
func (tm *TimeManager) OnPostReconcile(fn TickHandler) func() { return tm.postReconc.subscribe(fn) }

// OnPreReplicateReplay fires before each replayed tick, ahead of the replay handlers.
func (tm *TimeManager) OnPreReplicateReplay(fn TickHandler) func() {
	return tm.preReplay.subscribe(fn)
}

// OnReplay fires for each replayed tick. Owners feed their recorded input here.
func (tm *TimeManager) OnReplay(fn TickHandler) func() { return tm.replay.subscribe(fn) }

// OnPostReplicateReplay fires after the physics step of each replayed tick.
func (tm *TimeManager) OnPostReplicateReplay(fn TickHandler) func() {
	return tm.postRp.subscribe(fn)
}

// OnUpdate fires once per Run frame after the tick, for visual smoothing.
func (tm *TimeManager) OnUpdate(fn TickHandler) func() { return tm.update.subscribe(fn) }

// Subscribers counts live handlers across all events.
func (tm *TimeManager) Subscribers() int {
	n := 0
	for _, e := range []*event{&tm.preTick, &tm.tick, &tm.postTick, &tm.preReconcile,
		&tm.postReconc, &tm.preReplay, &tm.replay, &tm.postRp, &tm.update} {
		n += len(e.subs)
	}
	return n
}

// Post schedules fn to run on the simulation goroutine at the start of the next Step.
// It is safe to call from any goroutine.
func (tm *TimeManager) Post(fn func()) {
	tm.posted.Push(fn)
}

// Step simulates LocalTick: posted work, pre-tick, queued reconciliations, tick, physics,
// post-tick.
func (tm *TimeManager) Step() {
	for _, fn := range tm.posted.Drain() {
		fn()
	}

	tick := tm.LocalTick
	tm.Sim.Tick = tick
	tm.preTick.fire(tick)
	tm.flushReconciles()

	tick = tm.LocalTick
	tm.Sim.Tick = tick
	tm.tick.fire(tick)
	tm.Sim.World.Step(tm.Sim.TickDelta)
	tm.postTick.fire(tick)
	tm.LocalTick++
	tm.metrics.tick()
}

// QueueReconcile defers a reconciliation to the next Step, after its pre-tick handlers.
// Requests queued for one step share a single replay from the oldest tick.
func (tm *TimeManager) QueueReconcile(tick uint32, apply func()) {
	tm.pending = append(tm.pending, reconcileRequest{tick: tick, apply: apply})
}

func (tm *TimeManager) flushReconciles() {
	if len(tm.pending) == 0 {
		return
	}
	reqs := tm.pending
	tm.pending = nil
	from := reqs[0].tick
	for _, r := range reqs[1:] {
		from = min(from, r.tick)
	}
	if _, err := tm.Reconcile(from, func() {
		for _, r := range reqs {
			if r.apply != nil {
				r.apply()
			}
		}
	}); err != nil {
		tm.logger.Warn("Reconciliation dropped", "tick", from, "localTick", tm.LocalTick, "error", err)
	}
}

// Reconcile rewinds to tick: apply overwrites state with the authoritative values for
// tick, then every tick from there up to LocalTick-1 is replayed. A tick ahead of the
// local clock moves the clock forward and replays nothing. It returns the number of
// replayed ticks.
func (tm *TimeManager) Reconcile(tick uint32, apply func()) (int, error) {
	if tm.reconciling {
		return 0, ErrReconcileNested
	}
	if tm.LocalTick > tick && tm.LocalTick-tick > tm.MaxReplayTicks {
		tm.metrics.rejected()
		return 0, fmt.Errorf("tick %d is %d ticks old: %w", tick, tm.LocalTick-tick, ErrStaleReconcile)
	}

	tm.reconciling = true
	defer func() { tm.reconciling = false }()

	tm.preReconcile.fire(tick)
	if apply != nil {
		apply()
	}
	if tick > tm.LocalTick {
		tm.logger.Debug("Clock behind reconciliation, jumping", "from", tm.LocalTick, "to", tick)
		tm.LocalTick = tick
	}

	replayed := 0
	for t := tick; t < tm.LocalTick; t++ {
		tm.ReplayTick = t
		tm.Sim.Tick = t
		tm.preReplay.fire(t)
		tm.replay.fire(t)
		tm.Sim.World.Step(tm.Sim.TickDelta)
		tm.postRp.fire(t)
		replayed++
	}
	tm.ReplayTick = tm.LocalTick
	tm.Sim.Tick = tm.LocalTick
	tm.postReconc.fire(tm.LocalTick)
	tm.metrics.reconciled(replayed)
	return replayed, nil
}

// Run steps the clock at the context tick rate until ctx is done. Update handlers fire
// after every step.
func (tm *TimeManager) Run(ctx context.Context) error {
	scale := tm.Sim.TimeScale
	if scale <= 0 {
		scale = 1
	}
	interval := time.Duration(tm.Sim.TickDelta / scale * float64(time.Second))
	if interval <= 0 {
		return fmt.Errorf("invalid tick interval %v", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tm.logger.Info("Clock started", "interval", interval, "tick", tm.LocalTick)
	for {
		select {
		case <-ctx.Done():
			tm.logger.Info("Clock stopped", "tick", tm.LocalTick)
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			tm.Step()
			tm.update.fire(tm.LocalTick)
			tm.metrics.tickDuration(time.Since(start))
		}
	}
}
