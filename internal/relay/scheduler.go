package relay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"lotebot/internal/eventbus"
	rtsup "lotebot/internal/runtime/supervisor"
	logx "lotebot/pkg/logx"
)

const (
	DefaultMaxBatch    = 100
	DefaultHistorySize = 20
)

// Observer receives relay signals synchronously (metrics). Implementations
// must be cheap and must not call back into the scheduler.
type Observer interface {
	ItemEnqueued(queueLen int)
	StateChanged(from, to State)
	BatchDone(r BatchReport, queueLen int)
}

type Config struct {
	MaxBatch    int
	Order       Order
	HistorySize int
}

// Totals are lifetime counters since process start.
type Totals struct {
	Enqueued       uint64
	Batches        uint64
	Forwarded      uint64
	Failed         uint64
	DeleteWarnings uint64
}

// Scheduler owns one queue/destination pair and runs at most one fire cycle
// at a time:
//
//	Idle --first Submit--> Armed(fireAt) --fireAt--> Draining
//	Draining --queue still has items--> Armed(now+interval)
//	Draining --queue empty--> Idle
//
// Submit holds the scheduler lock across enqueue and the Idle check, so
// concurrent producers arm at most once per idle period.
type Scheduler struct {
	queue    *PendingQueue
	interval *IntervalPolicy
	disp     *Dispatcher
	clock    Clock
	log      logx.Logger
	bus      eventbus.Bus
	obs      Observer
	newID    func() string

	mu       sync.Mutex
	cfg      Config
	state    State
	fireAt   time.Time
	armedFor time.Duration
	arms     uint64
	fires    uint64
	totals   Totals
	history  []BatchReport // newest last
	sup      *rtsup.Supervisor
}

type Option func(*Scheduler)

func WithClock(c Clock) Option            { return func(s *Scheduler) { s.clock = c } }
func WithLogger(l logx.Logger) Option     { return func(s *Scheduler) { s.log = l } }
func WithBus(b eventbus.Bus) Option       { return func(s *Scheduler) { s.bus = b } }
func WithObserver(o Observer) Option      { return func(s *Scheduler) { s.obs = o } }
func WithBatchID(fn func() string) Option { return func(s *Scheduler) { s.newID = fn } }

func NewScheduler(cfg Config, interval *IntervalPolicy, disp *Dispatcher, opts ...Option) (*Scheduler, error) {
	if interval == nil || interval.Get() <= 0 {
		return nil, ErrInvalidInterval
	}
	cfg, err := normalizeConfig(cfg)
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		interval: interval,
		disp:     disp,
		queue:    NewPendingQueue(),
		clock:    SystemClock{},
		cfg:      cfg,
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func normalizeConfig(cfg Config) (Config, error) {
	if cfg.MaxBatch == 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}
	if cfg.MaxBatch < 0 {
		return cfg, ErrInvalidBatchSize
	}
	if cfg.Order == "" {
		cfg.Order = DefaultOrder
	}
	if _, err := ParseOrder(string(cfg.Order)); err != nil {
		return cfg, err
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	return cfg, nil
}

func (s *Scheduler) Queue() *PendingQueue      { return s.queue }
func (s *Scheduler) Interval() *IntervalPolicy { return s.interval }
func (s *Scheduler) Dispatcher() *Dispatcher   { return s.disp }

// Apply updates batch size and order; both are read at the next drain.
func (s *Scheduler) Apply(cfg Config) error {
	cfg, err := normalizeConfig(cfg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	if len(s.history) > cfg.HistorySize {
		s.history = append([]BatchReport(nil), s.history[len(s.history)-cfg.HistorySize:]...)
	}
	s.mu.Unlock()
	return nil
}

// Start enables fire cycles. Items submitted before Start are kept and arm
// the scheduler right away.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log.With(logx.String("comp", "relay.scheduler"))))
	s.log.Info("scheduler started",
		logx.Duration("interval", s.interval.Get()),
		logx.Int("batch_max", s.cfg.MaxBatch),
		logx.String("order", string(s.cfg.Order)),
	)
	if s.state == StateIdle && s.queue.Len() > 0 {
		s.armLocked()
	}
}

// Stop aborts the pending wait (or the in-flight batch) and waits for the
// cycle to exit. Pending items stay in memory.
//
// The supervisor is detached under s.mu before it is stopped, so no Submit
// or reset can start a cycle on it once Stop is waiting.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Stop(ctx)
}

// Submit enqueues it and arms the scheduler if it was idle. It never waits
// on a running dispatch. armed reports whether this call started a cycle.
func (s *Scheduler) Submit(it Item) (pending int, armed bool) {
	if it.ReceivedAt.IsZero() {
		it.ReceivedAt = s.clock.Now()
	}
	s.mu.Lock()
	s.queue.Enqueue(it)
	s.totals.Enqueued++
	pending = s.queue.Len()
	if s.state == StateIdle && s.runningLocked() {
		s.armLocked()
		armed = true
	}
	s.mu.Unlock()

	if s.obs != nil {
		s.obs.ItemEnqueued(pending)
	}
	return pending, armed
}

func (s *Scheduler) runningLocked() bool {
	return s.sup != nil && s.sup.Context().Err() == nil
}

// armLocked moves Idle -> Armed and starts the cycle goroutine.
func (s *Scheduler) armLocked() {
	s.rearmLocked()
	s.sup.Go0("relay.cycle", s.cycle)
}

// rearmLocked computes the next fire time from the interval as of now.
func (s *Scheduler) rearmLocked() {
	d := s.interval.Get()
	s.armedFor = d
	s.fireAt = s.clock.Now().Add(d)
	s.arms++
	s.setStateLocked(StateArmed)
}

func (s *Scheduler) setStateLocked(to State) {
	from := s.state
	s.state = to
	if to != StateArmed {
		s.fireAt = time.Time{}
		s.armedFor = 0
	}
	if from == to {
		return
	}
	if s.obs != nil {
		s.obs.StateChanged(from, to)
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventStateChanged, Data: StateChange{From: from, To: to, FireAt: s.fireAt}})
	}
}

func (s *Scheduler) cycle(ctx context.Context) {
	// locked tracks s.mu so a panic can be unwound without deadlocking.
	locked := false
	lock := func() { s.mu.Lock(); locked = true }
	unlock := func() { locked = false; s.mu.Unlock() }
	done := false
	defer func() {
		if done {
			return
		}
		r := recover()
		if !locked {
			s.mu.Lock()
		}
		from, to, fireAt := s.resetLocked()
		s.mu.Unlock()
		s.notifyReset(from, to, fireAt)
		if r != nil {
			// The supervisor logs the stack and records the error.
			panic(r)
		}
	}()

	for {
		lock()
		fireAt := s.fireAt
		unlock()

		if !s.sleepUntil(ctx, fireAt) {
			lock()
			s.setStateLocked(StateIdle)
			unlock()
			done = true
			return
		}

		lock()
		items := s.queue.Drain(s.cfg.MaxBatch, s.cfg.Order)
		if len(items) == 0 {
			s.setStateLocked(StateIdle)
			unlock()
			s.log.Debug("queue empty at fire; going idle")
			done = true
			return
		}
		s.fires++
		s.setStateLocked(StateDraining)
		batch := Batch{ID: s.newID(), FiredAt: s.clock.Now(), Items: items}
		unlock()

		rep := s.dispatch(ctx, batch)

		lock()
		s.recordLocked(rep)
		left := s.queue.Len()
		if left == 0 || ctx.Err() != nil {
			s.setStateLocked(StateIdle)
		} else {
			s.rearmLocked()
		}
		next := s.fireAt
		unlock()

		if s.obs != nil {
			s.obs.BatchDone(rep, left)
		}
		if next.IsZero() {
			done = true
			return
		}
		s.log.Debug("re-armed", logx.Int("pending", left), logx.Time("fire_at", next))
	}
}

// resetLocked puts a cycle that exited abnormally back on its feet: the
// state returns to Idle and, if items are still pending, a new cycle is
// armed. Hooks are not called here since one of them may be what failed.
func (s *Scheduler) resetLocked() (from, to State, fireAt time.Time) {
	from = s.state
	s.state = StateIdle
	s.fireAt = time.Time{}
	s.armedFor = 0

	pending := s.queue.Len()
	s.log.Error("relay cycle aborted; scheduler reset",
		logx.String("state", from.String()),
		logx.Int("pending", pending),
	)
	if pending > 0 && s.runningLocked() {
		d := s.interval.Get()
		s.armedFor = d
		s.fireAt = s.clock.Now().Add(d)
		s.arms++
		s.state = StateArmed
		s.sup.Go0("relay.cycle", s.cycle)
	}
	return from, s.state, s.fireAt
}

// notifyReset reports a reset transition outside the lock. A failing hook
// is logged and ignored.
func (s *Scheduler) notifyReset(from, to State, fireAt time.Time) {
	if from == to {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("state hook panicked after reset", logx.Any("panic", r))
		}
	}()
	if s.obs != nil {
		s.obs.StateChanged(from, to)
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventStateChanged, Data: StateChange{From: from, To: to, FireAt: fireAt}})
	}
}

func (s *Scheduler) dispatch(ctx context.Context, b Batch) BatchReport {
	if s.disp == nil {
		rep := BatchReport{BatchID: b.ID, FiredAt: b.FiredAt}
		for _, it := range b.Items {
			rep.Outcomes = append(rep.Outcomes, ItemOutcome{Item: it, Err: &ItemError{Op: OpForward, Item: it, Err: ErrNoTransport}})
			rep.Failed++
		}
		return rep
	}
	return s.disp.SendBatch(ctx, b)
}

// sleepUntil is the only suspension point of a cycle. It returns false if
// ctx ended first.
func (s *Scheduler) sleepUntil(ctx context.Context, at time.Time) bool {
	d := at.Sub(s.clock.Now())
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := s.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C():
		return true
	}
}

func (s *Scheduler) recordLocked(rep BatchReport) {
	s.totals.Batches++
	s.totals.Forwarded += uint64(rep.Forwarded)
	s.totals.Failed += uint64(rep.Failed)
	s.totals.DeleteWarnings += uint64(rep.DeleteWarnings)

	s.history = append(s.history, rep)
	if over := len(s.history) - s.cfg.HistorySize; over > 0 {
		s.history = append([]BatchReport(nil), s.history[over:]...)
	}
}

// History returns up to n recent batch reports, newest first.
func (s *Scheduler) History(n int) []BatchReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.history) {
		n = len(s.history)
	}
	out := make([]BatchReport, 0, n)
	for i := len(s.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.history[i])
	}
	return out
}

// schedState is the lock-protected view the status reporter reads.
type schedState struct {
	state    State
	fireAt   time.Time
	armedFor time.Duration
	arms     uint64
	fires    uint64
	cfg      Config
	totals   Totals
	last     *BatchReport
	queueLen int
}

func (s *Scheduler) view() schedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := schedState{
		state:    s.state,
		fireAt:   s.fireAt,
		armedFor: s.armedFor,
		arms:     s.arms,
		fires:    s.fires,
		cfg:      s.cfg,
		totals:   s.totals,
		queueLen: s.queue.Len(),
	}
	if n := len(s.history); n > 0 {
		last := s.history[n-1]
		v.last = &last
	}
	return v
}
