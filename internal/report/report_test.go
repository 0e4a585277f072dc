package report

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"lotebot/internal/config"
	"lotebot/internal/relay"
	kit "lotebot/internal/transport"
	logx "lotebot/pkg/logx"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	to   []kit.ChatTarget
	fail error
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return kit.MessageRef{}, f.fail
	}
	f.sent = append(f.sent, text)
	f.to = append(f.to, to)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type staticStatus relay.Status

func (s staticStatus) Status() relay.Status { return relay.Status(s) }

func TestFromConfig(t *testing.T) {
	t.Parallel()

	base := func() *config.Config {
		return &config.Config{
			Telegram: config.TelegramConfig{GroupLog: "-100200"},
			Report:   config.ReportConfig{Enabled: true, Schedule: "0 9 * * *", Timezone: "Europe/Madrid", ThreadID: 4},
		}
	}

	got, err := FromConfig(base())
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if got.Target != (kit.ChatTarget{ChatID: -100200, ThreadID: 4}) || got.Location.String() != "Europe/Madrid" {
		t.Fatalf("resolved = %+v", got)
	}

	off := base()
	off.Report.Enabled = false
	if got, err := FromConfig(off); err != nil || got.Enabled {
		t.Fatalf("disabled = %+v, %v", got, err)
	}

	noGroup := base()
	noGroup.Telegram.GroupLog = ""
	if _, err := FromConfig(noGroup); !errors.Is(err, ErrNoTarget) {
		t.Fatalf("no group err = %v", err)
	}

	badSpec := base()
	badSpec.Report.Schedule = "every day"
	if _, err := FromConfig(badSpec); err == nil || !strings.Contains(err.Error(), "report.schedule") {
		t.Fatalf("bad spec err = %v", err)
	}
}

func TestValidateSchedule(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{"@hourly", "@every 30m", "0 9 * * *", "30 0 9 * * 1-5"} {
		if err := ValidateSchedule(ok); err != nil {
			t.Fatalf("ValidateSchedule(%q): %v", ok, err)
		}
	}
	for _, bad := range []string{"", "soon", "61 * * * *"} {
		if err := ValidateSchedule(bad); err == nil {
			t.Fatalf("ValidateSchedule(%q) accepted", bad)
		}
	}
}

func TestRender(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	st := relay.Status{
		Destination: "@chan",
		QueueLen:    4,
		IntervalStr: "10m0s",
		HasNext:     true,
		FireAt:      now.Add(5 * time.Minute),
		Totals:      relay.Totals{Batches: 2, Forwarded: 7, Failed: 1, DeleteWarnings: 3},
	}
	text := Render(st, now).Text
	for _, want := range []string{"Relay report", "@chan", "Pending</b>: 4", "Next batch</b>: 09:05:00", "Forwarded</b>: 7", "Not deleted</b>: 3"} {
		if !strings.Contains(text, want) {
			t.Fatalf("report %q missing %q", text, want)
		}
	}

	idle := Render(relay.Status{}, now).Text
	if !strings.Contains(idle, "Next batch</b>: —") || strings.Contains(idle, "Not deleted") {
		t.Fatalf("idle report = %q", idle)
	}
}

func TestPost(t *testing.T) {
	t.Parallel()

	snd := &fakeSender{}
	target := kit.ChatTarget{ChatID: -1, ThreadID: 2}
	s := New(Config{Enabled: true, Schedule: "@hourly", Target: target}, staticStatus{QueueLen: 1}, snd, logx.Nop())

	if err := s.Post(context.Background()); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if snd.count() != 1 || snd.to[0] != target || s.Posted() != 1 {
		t.Fatalf("sent = %v to %v, posted %d", snd.sent, snd.to, s.Posted())
	}

	snd.fail = errors.New("flood wait")
	if err := s.Post(context.Background()); err == nil || s.Posted() != 1 {
		t.Fatalf("failed post counted: %v, %d", err, s.Posted())
	}

	if err := New(Config{}, staticStatus{}, snd, logx.Nop()).Post(context.Background()); !errors.Is(err, ErrNoTarget) {
		t.Fatalf("no target err = %v", err)
	}
}

func TestScheduleTriggersAndApply(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snd := &fakeSender{}
	s := New(Config{Enabled: true, Schedule: "@every 1s", Target: kit.ChatTarget{ChatID: -1}}, staticStatus{}, snd, logx.Nop())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())
	if s.Next().IsZero() {
		t.Fatalf("no next trigger")
	}

	deadline := time.Now().Add(4 * time.Second)
	for snd.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("report never posted")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := s.Apply(ctx, Config{}); err != nil {
		t.Fatalf("Apply disable: %v", err)
	}
	if !s.Next().IsZero() {
		t.Fatalf("still scheduled after disable")
	}

	if err := s.Apply(ctx, Config{Enabled: true, Schedule: "@daily", Target: kit.ChatTarget{ChatID: -1}}); err != nil {
		t.Fatalf("Apply enable: %v", err)
	}
	if s.Next().IsZero() {
		t.Fatalf("not rescheduled")
	}
}
