package netcode

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/vehiclesim/internal/sim"
)

func newClock(tick uint32) *TimeManager {
	tm := NewTimeManager(sim.New(0.02, mgl64.Vec3{}), nil)
	tm.SetTick(tick)
	return tm
}

func trace(tm *TimeManager) *[]string {
	var log []string
	rec := func(name string) TickHandler {
		return func(tick uint32) { log = append(log, fmt.Sprintf("%s %d", name, tick)) }
	}
	tm.OnPreTick(rec("pre"))
	tm.OnTick(rec("tick"))
	tm.OnPostTick(rec("post"))
	tm.OnPreReconcile(rec("preReconcile"))
	tm.OnPostReconcile(rec("postReconcile"))
	tm.OnPreReplicateReplay(rec("preReplay"))
	tm.OnReplay(rec("replay"))
	tm.OnPostReplicateReplay(rec("postReplay"))
	return &log
}

func TestStepOrder(t *testing.T) {
	tm := newClock(10)
	log := trace(tm)

	tm.Step()

	assert.Equal(t, []string{"pre 10", "tick 10", "post 10"}, *log)
	assert.Equal(t, uint32(11), tm.LocalTick)
}

func TestQueuedReconcileReplaysAfterPreTick(t *testing.T) {
	tm := newClock(11)
	log := trace(tm)
	tm.QueueReconcile(9, func() { *log = append(*log, "apply") })

	tm.Step()

	assert.Equal(t, []string{
		"pre 11",
		"preReconcile 9", "apply",
		"preReplay 9", "replay 9", "postReplay 9",
		"preReplay 10", "replay 10", "postReplay 10",
		"postReconcile 11",
		"tick 11", "post 11",
	}, *log)
	assert.Equal(t, uint32(12), tm.LocalTick)
	assert.Equal(t, int64(1), tm.Metrics().Reconciliations())
}

func TestQueuedReconcilesMergeFromOldest(t *testing.T) {
	tm := newClock(20)
	var applied []int
	var replayed []uint32
	tm.OnReplay(func(tick uint32) { replayed = append(replayed, tick) })
	tm.QueueReconcile(18, func() { applied = append(applied, 18) })
	tm.QueueReconcile(17, func() { applied = append(applied, 17) })

	tm.Step()

	assert.Equal(t, []int{18, 17}, applied)
	assert.Equal(t, []uint32{17, 18, 19}, replayed)
}

func TestQueuedReconcileWithoutApply(t *testing.T) {
	tm := newClock(20)
	var replayed []uint32
	tm.OnReplay(func(tick uint32) { replayed = append(replayed, tick) })
	tm.QueueReconcile(19, nil)
	tm.QueueReconcile(18, func() {})

	assert.NotPanics(t, tm.Step)
	assert.Equal(t, []uint32{18, 19}, replayed)
}

func TestReconcileAheadMovesClock(t *testing.T) {
	tm := newClock(5)
	n, err := tm.Reconcile(9, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, uint32(9), tm.LocalTick)
}

func TestReconcileRejectsStaleTick(t *testing.T) {
	tm := newClock(500)
	applied := false
	_, err := tm.Reconcile(10, func() { applied = true })
	assert.ErrorIs(t, err, ErrStaleReconcile)
	assert.False(t, applied)
	assert.Equal(t, int64(1), tm.Metrics().Rejected())
}

func TestReconcileNested(t *testing.T) {
	tm := newClock(5)
	var inner error
	_, err := tm.Reconcile(4, func() {
		_, inner = tm.Reconcile(4, nil)
	})
	require.NoError(t, err)
	assert.ErrorIs(t, inner, ErrReconcileNested)
	assert.False(t, tm.Reconciling())
}

func TestUnsubscribe(t *testing.T) {
	tm := newClock(0)
	calls := 0
	var unsubB func()
	unsubA := tm.OnTick(func(uint32) {
		calls++
		unsubB()
	})
	unsubB = tm.OnTick(func(uint32) { calls += 100 })
	assert.Equal(t, 2, tm.Subscribers())

	tm.Step()
	assert.Equal(t, 1, calls, "handler removed mid-fire must not run")
	assert.Equal(t, 1, tm.Subscribers())

	unsubA()
	unsubA()
	assert.Zero(t, tm.Subscribers())
	tm.Step()
	assert.Equal(t, 1, calls)
}

func TestPostRunsOnNextStep(t *testing.T) {
	tm := newClock(0)
	var order []string
	tm.OnPreTick(func(uint32) { order = append(order, "pre") })
	tm.Post(func() { order = append(order, "posted") })

	assert.Empty(t, order)
	tm.Step()
	assert.Equal(t, []string{"posted", "pre"}, order)
}

func TestRunStopsOnCancel(t *testing.T) {
	tm := NewTimeManager(sim.New(0.005, mgl64.Vec3{}), nil)
	updates := 0
	tm.OnUpdate(func(uint32) { updates++ })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := tm.Run(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Positive(t, tm.LocalTick)
	assert.Equal(t, int(tm.LocalTick), updates)
}
