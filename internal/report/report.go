// Package report posts a periodic relay summary to the log group on a cron
// schedule.
package report

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"lotebot/internal/config"
	"lotebot/internal/relay"
	kit "lotebot/internal/transport"
	logx "lotebot/pkg/logx"
	"lotebot/pkg/tgui"
)

const postTimeout = 15 * time.Second

// parser accepts 5- or 6-field specs and descriptors like @hourly.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var ErrNoTarget = errors.New("report: no target chat")

// Config is the resolved report section.
type Config struct {
	Enabled  bool
	Schedule string
	Location *time.Location
	Target   kit.ChatTarget
}

// FromConfig resolves the report section against telegram.group_log.
func FromConfig(c *config.Config) (Config, error) {
	if c == nil || !c.Report.Enabled {
		return Config{}, nil
	}
	out := Config{Enabled: true, Schedule: strings.TrimSpace(c.Report.Schedule), Location: time.Local}
	if tz := strings.TrimSpace(c.Report.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return Config{}, fmt.Errorf("report.timezone: %w", err)
		}
		out.Location = loc
	}
	id, ok := config.GroupLogChatID(c.Telegram)
	if !ok {
		return Config{}, ErrNoTarget
	}
	out.Target = kit.ChatTarget{ChatID: id, ThreadID: c.Report.ThreadID}
	if err := ValidateSchedule(out.Schedule); err != nil {
		return Config{}, err
	}
	return out, nil
}

// ValidateSchedule parses spec without scheduling anything.
func ValidateSchedule(spec string) error {
	if _, err := parser.Parse(strings.TrimSpace(spec)); err != nil {
		return fmt.Errorf("report.schedule: %w", err)
	}
	return nil
}

// StatusSource is the read side of the scheduler.
type StatusSource interface {
	Status() relay.Status
}

type Service struct {
	mu     sync.Mutex
	cfg    Config
	log    logx.Logger
	src    StatusSource
	sender kit.TextSender
	now    func() time.Time

	c      *cron.Cron
	ctx    context.Context
	entry  cron.EntryID
	posted uint64
}

func New(cfg Config, src StatusSource, sender kit.TextSender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		src:    src,
		sender: sender,
		log:    log.With(logx.String("comp", "report")),
		now:    time.Now,
	}
}

// Start begins triggering. Posts run with ctx as parent. Idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	return s.startLocked()
}

func (s *Service) startLocked() error {
	if s.c != nil || !s.cfg.Enabled {
		return nil
	}
	loc := s.cfg.Location
	if loc == nil {
		loc = time.Local
	}
	c := cron.New(cron.WithParser(parser), cron.WithLocation(loc))
	id, err := c.AddFunc(s.cfg.Schedule, s.run)
	if err != nil {
		return fmt.Errorf("report.schedule: %w", err)
	}
	c.Start()
	s.c, s.entry = c, id
	s.log.Info("report scheduled",
		logx.String("schedule", s.cfg.Schedule),
		logx.String("tz", loc.String()),
		logx.Time("next", c.Entry(id).Next),
	)
	return nil
}

// Stop halts triggering and waits for a running post, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("report stopped")
}

// Apply swaps the config, restarting the cron only when it changed.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.c != nil
	s.mu.Unlock()

	if running && sameSchedule(prev, cfg) {
		return nil
	}
	s.Stop(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		// Not started yet; Start picks up cfg.
		return nil
	}
	return s.startLocked()
}

func sameSchedule(a, b Config) bool {
	return a.Enabled == b.Enabled &&
		a.Schedule == b.Schedule &&
		a.Location.String() == b.Location.String() &&
		a.Target == b.Target
}

// Next returns the next trigger time, or zero when not running.
func (s *Service) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(s.entry).Next
}

func (s *Service) run() {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, postTimeout)
	defer cancel()
	if err := s.Post(ctx); err != nil {
		s.log.Warn("report post failed", logx.Err(err))
	}
}

// Post sends one summary now.
func (s *Service) Post(ctx context.Context) error {
	s.mu.Lock()
	target := s.cfg.Target
	loc := s.cfg.Location
	s.mu.Unlock()
	if target.IsZero() {
		return ErrNoTarget
	}
	if loc == nil {
		loc = time.Local
	}

	msg := Render(s.src.Status(), s.now().In(loc))
	_, err := msg.Send(ctx, s.sender, target, 0)

	if err == nil {
		s.mu.Lock()
		s.posted++
		s.mu.Unlock()
	}
	return err
}

// Posted counts successful posts.
func (s *Service) Posted() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posted
}

// Render formats st as an HTML summary stamped with now.
func Render(st relay.Status, now time.Time) tgui.Message {
	next := "—"
	if st.HasNext {
		next = st.FireAt.In(now.Location()).Format("15:04:05")
	}
	b := tgui.New().
		Title("📦", "Relay report").
		KV("Time", now.Format("2006-01-02 15:04 MST")).
		KV("Destination", st.Destination).
		KV("Pending", strconv.Itoa(st.QueueLen)).
		KV("Interval", st.IntervalStr).
		KV("Next batch", next).
		KV("Batches", strconv.FormatUint(st.Totals.Batches, 10)).
		KV("Forwarded", strconv.FormatUint(st.Totals.Forwarded, 10)).
		KV("Failed", strconv.FormatUint(st.Totals.Failed, 10))
	if st.Totals.DeleteWarnings > 0 {
		b.KV("Not deleted", strconv.FormatUint(st.Totals.DeleteWarnings, 10))
	}
	return b.Build()
}
