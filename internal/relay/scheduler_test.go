package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerArmsOncePerIdlePeriod(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{MaxBatch: 100}, time.Minute, true)

	var (
		wg     sync.WaitGroup
		armedN atomic.Int32
	)
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if _, armed := h.s.Submit(item(id)); armed {
				armedN.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if got := armedN.Load(); got != 1 {
		t.Fatalf("armed by %d submits, want 1", got)
	}
	st := h.s.Status()
	if st.State != StateArmed || st.Arms != 1 || st.QueueLen != 50 {
		t.Fatalf("status = %+v", st)
	}
	if !st.FireAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("fireAt = %s, want %s", st.FireAt, t0.Add(time.Minute))
	}

	h.clk.waitTimers(t, 1)
	h.clk.Advance(time.Minute)
	rep := h.obs.waitBatch(t)
	if rep.Size() != 50 || rep.Forwarded != 50 {
		t.Fatalf("batch size=%d forwarded=%d", rep.Size(), rep.Forwarded)
	}
	if st := h.s.Status(); st.State != StateIdle || st.HasNext {
		t.Fatalf("after full drain: state=%s hasNext=%v", st.State, st.HasNext)
	}
}

func TestSchedulerNewestFirstScenario(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{MaxBatch: 2, Order: OrderNewestFirst}, time.Minute, true)

	h.s.Submit(item(1)) // A
	h.s.Submit(item(2)) // B
	h.s.Submit(item(3)) // C

	h.clk.waitTimers(t, 1)
	h.clk.Advance(time.Minute)
	rep := h.obs.waitBatch(t)

	fwd, del := h.tr.snapshot()
	if !equalInts(fwd, []int{2, 3}) {
		t.Fatalf("first fire forwarded %v, want [2 3]", fwd)
	}
	if !equalInts(del, []int{2, 3}) {
		t.Fatalf("first fire deleted %v, want [2 3]", del)
	}
	if rep.BatchID != "b1" || rep.Destination != "@dest" {
		t.Fatalf("report = %+v", rep)
	}

	st := h.s.Status()
	if st.State != StateArmed || st.QueueLen != 1 {
		t.Fatalf("after first fire: %+v", st)
	}
	if want := t0.Add(2 * time.Minute); !st.FireAt.Equal(want) {
		t.Fatalf("re-armed fireAt = %s, want %s", st.FireAt, want)
	}

	h.clk.waitTimers(t, 1)
	h.clk.Advance(time.Minute)
	h.obs.waitBatch(t)

	fwd, _ = h.tr.snapshot()
	if !equalInts(fwd, []int{2, 3, 1}) {
		t.Fatalf("forwarded %v, want [2 3 1]", fwd)
	}
	st = h.s.Status()
	if st.State != StateIdle || st.Fires != 2 || st.Totals.Forwarded != 3 {
		t.Fatalf("final status %+v", st)
	}
}

func TestSchedulerOldestFirstKeepsFIFO(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{MaxBatch: 2, Order: OrderOldestFirst}, time.Minute, false)

	for i := 1; i <= 3; i++ {
		h.s.Submit(item(i))
	}
	h.clk.waitTimers(t, 1)
	h.clk.Advance(time.Minute)
	h.obs.waitBatch(t)
	h.clk.waitTimers(t, 1)
	h.clk.Advance(time.Minute)
	h.obs.waitBatch(t)

	fwd, del := h.tr.snapshot()
	if !equalInts(fwd, []int{1, 2, 3}) {
		t.Fatalf("forwarded %v, want [1 2 3]", fwd)
	}
	if len(del) != 0 {
		t.Fatalf("deleted %v with delete_originals off", del)
	}
}

func TestSchedulerIntervalChangeAppliesAtNextArm(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{MaxBatch: 1}, time.Minute, true)

	h.s.Submit(item(1))
	h.s.Submit(item(2))
	if err := h.s.Interval().Set(5 * time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if st := h.s.Status(); !st.FireAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("Set moved fireAt to %s", st.FireAt)
	}

	h.clk.waitTimers(t, 1)
	h.clk.Advance(time.Minute)
	h.obs.waitBatch(t)

	st := h.s.Status()
	if want := t0.Add(6 * time.Minute); !st.FireAt.Equal(want) {
		t.Fatalf("next fireAt = %s, want %s", st.FireAt, want)
	}
	if st.NextIn != 5*time.Minute || st.Interval != 5*time.Minute {
		t.Fatalf("nextIn=%s interval=%s", st.NextIn, st.Interval)
	}
}

func TestSchedulerForwardFailureDoesNotStopBatch(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, time.Minute, true)
	h.tr.failForward = map[int]bool{2: true}

	for i := 1; i <= 3; i++ {
		h.s.Submit(item(i))
	}
	h.clk.waitTimers(t, 1)
	h.clk.Advance(time.Minute)
	rep := h.obs.waitBatch(t)

	if rep.Forwarded != 2 || rep.Failed != 1 {
		t.Fatalf("forwarded=%d failed=%d", rep.Forwarded, rep.Failed)
	}
	out := rep.Outcomes[1]
	if out.Forwarded || !errors.Is(out.Err, ErrForward) || !errors.Is(out.Err, errBoom) {
		t.Fatalf("outcome for failing item = %+v", out)
	}
	_, del := h.tr.snapshot()
	if !equalInts(del, []int{1, 3}) {
		t.Fatalf("deleted %v; a failed forward must keep its original", del)
	}
	// Failed items are not re-enqueued.
	if st := h.s.Status(); st.QueueLen != 0 || st.State != StateIdle {
		t.Fatalf("status after failure %+v", st)
	}
}

func TestSchedulerDeleteFailureIsAWarning(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, time.Minute, true)
	h.tr.failDelete = map[int]bool{1: true}

	h.s.Submit(item(1))
	h.clk.waitTimers(t, 1)
	h.clk.Advance(time.Minute)
	rep := h.obs.waitBatch(t)

	if rep.Forwarded != 1 || rep.Failed != 0 || rep.DeleteWarnings != 1 {
		t.Fatalf("report = %+v", rep)
	}
	out := rep.Outcomes[0]
	if !out.Forwarded || out.Deleted || !errors.Is(out.DeleteErr, ErrDelete) {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestSchedulerEmptyQueueAtFireGoesIdle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, time.Minute, true)

	h.s.Submit(item(1))
	h.s.Queue().Drain(10, OrderOldestFirst)

	h.clk.waitTimers(t, 1)
	h.clk.Advance(time.Minute)

	deadline := time.Now().Add(2 * time.Second)
	for h.s.Status().State != StateIdle {
		if time.Now().After(deadline) {
			t.Fatalf("scheduler did not go idle")
		}
		time.Sleep(time.Millisecond)
	}
	st := h.s.Status()
	if st.Fires != 0 || st.Totals.Batches != 0 {
		t.Fatalf("empty fire produced a batch: %+v", st)
	}
	if fwd, _ := h.tr.snapshot(); len(fwd) != 0 {
		t.Fatalf("forwarded %v from an empty queue", fwd)
	}

	// The next item starts a fresh period.
	if _, armed := h.s.Submit(item(2)); !armed {
		t.Fatalf("submit after idle did not arm")
	}
}

func TestSchedulerStopKeepsPendingItems(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, time.Minute, true)

	h.s.Submit(item(1))
	h.s.Submit(item(2))
	h.clk.waitTimers(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	st := h.s.Status()
	if st.State != StateIdle || st.QueueLen != 2 || st.Fires != 0 {
		t.Fatalf("status after stop %+v", st)
	}
	if _, armed := h.s.Submit(item(3)); armed {
		t.Fatalf("stopped scheduler armed")
	}
}

func TestSchedulerStopRacingSubmit(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, time.Minute, true)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				h.s.Submit(item(base + i))
			}
		}(g * 100)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	wg.Wait()

	if st := h.s.Status(); st.State != StateIdle || st.HasNext || st.QueueLen != 200 {
		t.Fatalf("status after stop %+v", st)
	}
	if _, armed := h.s.Submit(item(999)); armed {
		t.Fatalf("stopped scheduler armed")
	}
	if n := h.clk.pending(); n != 0 {
		t.Fatalf("%d timers left after stop", n)
	}
}

func TestSchedulerRecoversFromDispatchPanic(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, time.Minute, true)
	h.tr.panicOnce = map[int]bool{1: true}

	h.s.Submit(item(1))
	h.clk.waitTimers(t, 1)
	h.clk.Advance(time.Minute)
	h.waitState(t, StateIdle)

	pending, armed := h.s.Submit(item(2))
	if !armed || pending != 1 {
		t.Fatalf("submit after panic: pending=%d armed=%v", pending, armed)
	}
	if st := h.s.Status(); st.State != StateArmed || !st.HasNext {
		t.Fatalf("status after re-arm %+v", st)
	}

	h.clk.waitTimers(t, 1)
	h.clk.Advance(time.Minute)
	rep := h.obs.waitBatch(t)
	if rep.Forwarded != 1 {
		t.Fatalf("forwarded %d, want 1", rep.Forwarded)
	}
	if fwd, _ := h.tr.snapshot(); !equalInts(fwd, []int{2}) {
		t.Fatalf("forwarded %v, want [2]", fwd)
	}
}

func TestSchedulerPanicRearmsForLeftovers(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{MaxBatch: 1, Order: OrderOldestFirst}, time.Minute, true)
	h.tr.panicOnce = map[int]bool{1: true}

	h.s.Submit(item(1))
	h.s.Submit(item(2))
	h.clk.waitTimers(t, 1)
	h.clk.Advance(time.Minute)

	// The reset starts a fresh cycle, which registers a new timer.
	h.clk.waitTimers(t, 1)
	if st := h.s.Status(); st.State != StateArmed || st.QueueLen != 1 || st.Arms != 2 {
		t.Fatalf("status after reset %+v", st)
	}
	h.clk.Advance(time.Minute)
	h.obs.waitBatch(t)
	if fwd, _ := h.tr.snapshot(); !equalInts(fwd, []int{2}) {
		t.Fatalf("forwarded %v, want [2]", fwd)
	}
	h.waitState(t, StateIdle)
}

func TestSchedulerStatusIdle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, 30*time.Second, true)

	st := h.s.Status()
	if st.State != StateIdle || st.HasNext || !st.FireAt.IsZero() || st.NextIn != 0 {
		t.Fatalf("idle status %+v", st)
	}
	if st.Interval != 30*time.Second || st.MaxBatch != DefaultMaxBatch || st.Order != DefaultOrder {
		t.Fatalf("defaults not reported: %+v", st)
	}
	if st.Destination != "@dest" || st.Last != nil {
		t.Fatalf("destination=%q last=%v", st.Destination, st.Last)
	}
}

func TestSchedulerHistoryNewestFirst(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{MaxBatch: 1, HistorySize: 2}, time.Minute, false)

	for i := 1; i <= 3; i++ {
		h.s.Submit(item(i))
	}
	for i := 0; i < 3; i++ {
		h.clk.waitTimers(t, 1)
		h.clk.Advance(time.Minute)
		h.obs.waitBatch(t)
	}

	hist := h.s.History(10)
	if len(hist) != 2 {
		t.Fatalf("history len %d, want 2", len(hist))
	}
	if hist[0].BatchID != "b3" || hist[1].BatchID != "b2" {
		t.Fatalf("history order %s,%s", hist[0].BatchID, hist[1].BatchID)
	}
	if last := h.s.Status().Last; last == nil || last.ID != "b3" {
		t.Fatalf("last = %+v", last)
	}
}

func TestNewSchedulerValidation(t *testing.T) {
	t.Parallel()

	pol, _ := NewIntervalPolicy(time.Minute)
	if _, err := NewScheduler(Config{}, nil, nil); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("nil interval err = %v", err)
	}
	if _, err := NewScheduler(Config{MaxBatch: -1}, pol, nil); !errors.Is(err, ErrInvalidBatchSize) {
		t.Fatalf("negative batch err = %v", err)
	}
	if _, err := NewScheduler(Config{Order: "sideways"}, pol, nil); err == nil {
		t.Fatalf("expected error for bad order")
	}
}
