package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"lotebot/internal/config"
	"lotebot/internal/relay"
	"lotebot/internal/storage"
	kit "lotebot/internal/transport"
	logx "lotebot/pkg/logx"
	"lotebot/pkg/tgui"
)

const (
	scopeRelay     = "relay"
	actionInterval = "interval"

	defaultHistoryRows = 5
	maxHistoryRows     = 20

	noETA = "—"
)

var errNoRelay = errors.New("relay not configured")

// RelayCommands returns the bot's commands and callback routes.
func RelayCommands() ([]Command, []CallbackRoute) {
	cmds := []Command{
		{
			Name:        "start",
			Description: "what this bot does",
			Handle:      handleStart,
		},
		{
			Name:        "status",
			Aliases:     []string{"estado"},
			Description: "pending items and next batch",
			Handle:      handleStatus,
		},
		{
			Name:        "interval",
			Aliases:     []string{"tiempo"},
			Description: "show or change the batch interval",
			Usage:       "/interval [30m | 1h | minutes]",
			Handle:      handleInterval,
		},
		{
			Name:        "history",
			Description: "recently dispatched batches",
			Usage:       "/history [n]",
			Timeout:     10 * time.Second,
			Handle:      handleHistory,
		},
	}
	cbs := []CallbackRoute{
		{
			Scope:       scopeRelay,
			Action:      actionInterval,
			Description: "set interval from a preset button",
			Handle:      handleIntervalCallback,
		},
	}
	return cmds, cbs
}

// routeMedia queues a qualifying media message and, when enabled, acks it
// on the worker pool. Submit runs inline to keep arrival order.
func (m *CommandManager) routeMedia(root context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil || !msg.Media.Qualifies() {
		return
	}
	sched := m.serv.Relay
	if sched == nil {
		m.log.Warn("media dropped, relay not configured", logx.Int64("chat_id", msg.ChatID))
		return
	}

	pending, armed := sched.Submit(relay.Item{
		Origin: msg.Ref(),
		Kind:   msg.Media,
		FromID: msg.FromID,
	})
	m.log.Debug("item queued",
		logx.Int64("chat_id", msg.ChatID),
		logx.Int("msg_id", msg.ID),
		logx.String("media", string(msg.Media)),
		logx.Int("pending", pending),
		logx.Bool("armed", armed),
	)

	cfg := m.currentConfig()
	if !cfg.Telegram.AckEnabled() {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	ack := ackMessage(sched.Status())
	send := Chain(func(ctx context.Context, req *Request) error {
		_, err := ack.Send(ctx, m.adapter, chat, msg.ID)
		return err
	}, MWPanicRecover(m.log), MWRequestLog(m.log), MWTimeout(10*time.Second))
	req := &Request{Update: up, Chat: chat, FromID: msg.FromID, Command: "media", Adapter: m.adapter, Config: cfg, Services: m.serv}
	if !m.tryEnqueue(func() { _ = send(root, req) }) {
		m.log.Debug("ack skipped, worker pool busy", logx.Int64("chat_id", msg.ChatID))
	}
}

func ackMessage(st relay.Status) tgui.Message {
	return tgui.New().
		Line(fmt.Sprintf("✅ Saved. It will be sent in batches of up to %d every %s.", st.MaxBatch, formatInterval(st.Interval))).
		Line(fmt.Sprintf("Pending: %d", st.QueueLen)).
		Build()
}

func handleStart(ctx context.Context, req *Request) error {
	sched := req.Services.Relay
	if sched == nil {
		return errNoRelay
	}
	st := sched.Status()
	b := tgui.New().
		Title("👋", "Batch relay").
		Line("Send me documents, photos, videos, audio, GIFs or stickers.").
		Line(fmt.Sprintf("I forward them to %s every %s, up to %d per batch.", st.Destination, formatInterval(st.Interval), st.MaxBatch)).
		Blank().
		Line("/status shows the queue. Pick an interval below or use /interval.")
	kb, err := presetKeyboard(req.Config, st.Interval)
	if err != nil {
		return err
	}
	return req.Reply(ctx, b.Inline(kb).Build())
}

func handleStatus(ctx context.Context, req *Request) error {
	sched := req.Services.Relay
	if sched == nil {
		return errNoRelay
	}
	return req.Reply(ctx, statusMessage(sched.Status()))
}

func statusMessage(st relay.Status) tgui.Message {
	eta := noETA
	if st.HasNext {
		eta = formatETA(st.NextIn)
	}
	b := tgui.New().
		Title("📊", "Relay status").
		KV("Destination", st.Destination).
		KV("Pending", strconv.Itoa(st.QueueLen)).
		KV("Batch limit", strconv.Itoa(st.MaxBatch)).
		KV("Interval", formatInterval(st.Interval)).
		KV("Next batch in", eta).
		KV("State", st.StateName)
	if st.Last != nil {
		b.KV("Last batch", fmt.Sprintf("%s, %d/%d sent, %d failed",
			st.Last.FiredAt.Format("2006-01-02 15:04:05"), st.Last.Forwarded, st.Last.Size, st.Last.Failed))
	}
	return b.Build()
}

func handleInterval(ctx context.Context, req *Request) error {
	sched := req.Services.Relay
	if sched == nil {
		return errNoRelay
	}
	if len(req.Args) > 0 {
		if !req.Owner {
			_, err := req.Adapter.SendText(ctx, req.Chat, "unauthorized", nil)
			return err
		}
		d, err := parseIntervalArg(req.Args[0])
		if err != nil {
			_, serr := req.Adapter.SendText(ctx, req.Chat, err.Error(), nil)
			return serr
		}
		if err := setInterval(ctx, req, d); err != nil {
			return err
		}
	}
	msg, err := intervalMessage(req.Config, sched.Interval().Get())
	if err != nil {
		return err
	}
	return req.Reply(ctx, msg)
}

func handleIntervalCallback(ctx context.Context, req *Request, payload string) error {
	sched := req.Services.Relay
	if sched == nil {
		return errNoRelay
	}
	d, err := time.ParseDuration(strings.TrimSpace(payload))
	if err != nil || d <= 0 {
		req.CallbackText = "invalid interval"
		return fmt.Errorf("interval payload %q: %w", payload, relay.ErrInvalidInterval)
	}
	if err := setInterval(ctx, req, d); err != nil {
		req.CallbackText = "failed"
		return err
	}
	req.CallbackText = "Interval set to " + formatInterval(d)

	msg, err := intervalMessage(req.Config, d)
	if err != nil {
		return err
	}
	cb := req.Update.Callback
	ref := kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
	if err := msg.Edit(ctx, req.Adapter, ref); err != nil {
		// The message may be too old to edit; post a fresh one instead.
		req.logger(logx.Nop()).Debug("edit failed, sending new message", logx.Err(err))
		return req.Reply(ctx, msg)
	}
	return nil
}

// setInterval changes the interval for the next arm and records who did it.
func setInterval(ctx context.Context, req *Request, d time.Duration) error {
	policy := req.Services.Relay.Interval()
	prev := policy.Get()
	err := policy.Set(d)
	audit(ctx, req, "interval.set", formatInterval(d), err)
	if err != nil {
		return err
	}
	req.logger(logx.Nop()).Info("interval changed",
		logx.Duration("from", prev),
		logx.Duration("to", d),
		logx.Int64("by", req.FromID),
	)
	return nil
}

func audit(ctx context.Context, req *Request, action, target string, err error) {
	st := req.Services.Store
	if st == nil {
		return
	}
	e := storage.AuditEntry{
		At:      time.Now(),
		ActorID: req.FromID,
		ChatID:  req.Chat.ChatID,
		Action:  action,
		Target:  target,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := st.AppendAudit(ctx, e); aerr != nil {
		req.logger(logx.Nop()).Warn("audit append failed", logx.Err(aerr))
	}
}

func intervalMessage(cfg *config.Config, current time.Duration) (tgui.Message, error) {
	kb, err := presetKeyboard(cfg, current)
	if err != nil {
		return tgui.Message{}, err
	}
	return tgui.New().
		Title("⏱", "Batch interval").
		KV("Current", formatInterval(current)).
		Line("Changes apply from the next batch.").
		Inline(kb).
		Build(), nil
}

// presetKeyboard renders one button per configured preset, marking the
// current one.
func presetKeyboard(cfg *config.Config, current time.Duration) (*tgui.Inline, error) {
	var rc config.RelayConfig
	if cfg != nil {
		rc = cfg.Relay
	}
	presets, err := config.IntervalPresets(rc)
	if err != nil {
		return nil, err
	}
	btns := make([]tgui.Button, 0, len(presets))
	for _, d := range presets {
		data, err := tgui.Data(scopeRelay, actionInterval, d.String())
		if err != nil {
			return nil, err
		}
		label := formatInterval(d)
		if d == current {
			label = "✅ " + label
		}
		btns = append(btns, tgui.Btn(label, data))
	}
	return tgui.NewInline().Grid(3, btns...), nil
}

func handleHistory(ctx context.Context, req *Request) error {
	n := defaultHistoryRows
	if len(req.Args) > 0 {
		v, err := strconv.Atoi(req.Args[0])
		if err != nil || v <= 0 {
			_, serr := req.Adapter.SendText(ctx, req.Chat, "usage: /history [n]", nil)
			return serr
		}
		n = min(v, maxHistoryRows)
	}

	recs, err := recentBatches(ctx, req.Services, n)
	if err != nil {
		return err
	}
	b := tgui.New().Title("🗂", "Recent batches")
	if len(recs) == 0 {
		b.Line("No batches dispatched yet.")
	}
	for _, r := range recs {
		line := fmt.Sprintf("%s  %d/%d sent", r.FiredAt.Format("01-02 15:04:05"), r.Forwarded, r.Size)
		if r.Failed > 0 {
			line += fmt.Sprintf(", %d failed", r.Failed)
		}
		if r.DeleteWarnings > 0 {
			line += fmt.Sprintf(", %d not deleted", r.DeleteWarnings)
		}
		b.HTML(tgui.JoinH(" ", tgui.Code(shortID(r.BatchID)), tgui.Esc(line)))
	}
	return req.Reply(ctx, b.Build())
}

// recentBatches prefers the audit store and falls back to the in-memory
// history kept by the scheduler.
func recentBatches(ctx context.Context, serv *Services, n int) ([]storage.DispatchRecord, error) {
	if serv.Store != nil {
		return serv.Store.RecentDispatches(ctx, n)
	}
	if serv.Relay == nil {
		return nil, errNoRelay
	}
	reps := serv.Relay.History(n)
	out := make([]storage.DispatchRecord, 0, len(reps))
	for _, r := range reps {
		out = append(out, storage.RecordFromReport(r))
	}
	return out, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// parseIntervalArg accepts a Go duration ("90s", "1h30m") or a bare number
// of minutes ("30", "1.5").
func parseIntervalArg(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		d, ok := config.MinutesDuration(f)
		if d = d.Round(time.Second); !ok || d <= 0 {
			return 0, relay.ErrInvalidInterval
		}
		return d, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q, try 30m or 1h", s)
	}
	if d <= 0 {
		return 0, relay.ErrInvalidInterval
	}
	return d, nil
}

// formatInterval prints durations without zero units: 30m, 1h, 1h30m, 45s.
func formatInterval(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	s := d.Round(time.Second).String()
	if strings.HasSuffix(s, "m0s") {
		s = strings.TrimSuffix(s, "0s")
	}
	if strings.HasSuffix(s, "h0m") {
		s = strings.TrimSuffix(s, "0m")
	}
	return s
}

// formatETA is formatInterval with a floor of one second, so an imminent
// batch doesn't read as "0s".
func formatETA(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	return formatInterval(d)
}
