package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kit "lotebot/internal/transport"
	logx "lotebot/pkg/logx"
)

type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clk *manualClock
	at  time.Time
	c   chan time.Time
}

func newManualClock(start time.Time) *manualClock { return &manualClock{now: start} }

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clk: c, at: c.now.Add(d), c: make(chan time.Time, 1)}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and fires every timer that became due.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	kept := c.timers[:0]
	for _, t := range c.timers {
		if !t.at.After(c.now) {
			t.c <- c.now
			continue
		}
		kept = append(kept, t)
	}
	c.timers = kept
}

func (c *manualClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// waitTimers blocks until n timers are registered, so Advance can't race a
// cycle that hasn't started waiting yet.
func (c *manualClock) waitTimers(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.pending() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d timers (have %d)", n, c.pending())
		}
		time.Sleep(time.Millisecond)
	}
}

func (t *manualTimer) C() <-chan time.Time { return t.c }

func (t *manualTimer) Stop() bool {
	c := t.clk
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, x := range c.timers {
		if x == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return true
		}
	}
	return false
}

type fakeTransport struct {
	mu          sync.Mutex
	forwarded   []int
	deleted     []int
	failForward map[int]bool
	failDelete  map[int]bool
	panicOnce   map[int]bool
}

var errBoom = errors.New("boom")

func (f *fakeTransport) Forward(_ context.Context, it Item, _ kit.ChatTarget) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnce[it.Origin.MessageID] {
		delete(f.panicOnce, it.Origin.MessageID)
		panic("transport blew up")
	}
	if f.failForward[it.Origin.MessageID] {
		return errBoom
	}
	f.forwarded = append(f.forwarded, it.Origin.MessageID)
	return nil
}

func (f *fakeTransport) DeleteOriginal(_ context.Context, it Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete[it.Origin.MessageID] {
		return errBoom
	}
	f.deleted = append(f.deleted, it.Origin.MessageID)
	return nil
}

func (f *fakeTransport) snapshot() (fwd, del []int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.forwarded...), append([]int(nil), f.deleted...)
}

type recordingObserver struct {
	mu      sync.Mutex
	changes []StateChange
	batches chan BatchReport
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{batches: make(chan BatchReport, 16)}
}

func (o *recordingObserver) ItemEnqueued(int) {}

func (o *recordingObserver) StateChanged(from, to State) {
	o.mu.Lock()
	o.changes = append(o.changes, StateChange{From: from, To: to})
	o.mu.Unlock()
}

func (o *recordingObserver) BatchDone(r BatchReport, _ int) { o.batches <- r }

func (o *recordingObserver) waitBatch(t *testing.T) BatchReport {
	t.Helper()
	select {
	case r := <-o.batches:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a batch")
		return BatchReport{}
	}
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	s   *Scheduler
	clk *manualClock
	tr  *fakeTransport
	obs *recordingObserver
}

func newHarness(t *testing.T, cfg Config, interval time.Duration, deleteOriginals bool) *harness {
	t.Helper()
	h := &harness{clk: newManualClock(t0), tr: &fakeTransport{}, obs: newRecordingObserver()}

	pol, err := NewIntervalPolicy(interval)
	if err != nil {
		t.Fatalf("NewIntervalPolicy: %v", err)
	}
	disp := NewDispatcher(h.tr, DispatcherConfig{
		Destination:     kit.ChatTarget{Username: "@dest"},
		DeleteOriginals: deleteOriginals,
	}, logx.Nop(), nil)

	var seq int
	var seqMu sync.Mutex
	h.s, err = NewScheduler(cfg, pol, disp,
		WithClock(h.clk),
		WithObserver(h.obs),
		WithLogger(logx.Nop()),
		WithBatchID(func() string {
			seqMu.Lock()
			defer seqMu.Unlock()
			seq++
			return "b" + string(rune('0'+seq))
		}),
	)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	h.s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.s.Stop(ctx)
	})
	return h
}

// waitState polls until the scheduler reaches want.
func (h *harness) waitState(t *testing.T, want State) Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		st := h.s.Status()
		if st.State == want {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for state %s (have %s)", want, st.State)
		}
		time.Sleep(time.Millisecond)
	}
}

func item(id int) Item {
	return Item{
		Origin:     kit.MessageRef{ChatID: 42, MessageID: id},
		Kind:       kit.MediaPhoto,
		ReceivedAt: t0,
	}
}

func ids(items []Item) []int {
	out := make([]int, 0, len(items))
	for _, it := range items {
		out = append(out, it.Origin.MessageID)
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
