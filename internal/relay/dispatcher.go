package relay

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"lotebot/internal/eventbus"
	kit "lotebot/internal/transport"
	logx "lotebot/pkg/logx"
)

// Transport is what the dispatcher needs from the delivery layer.
type Transport interface {
	Forward(ctx context.Context, it Item, to kit.ChatTarget) error
	DeleteOriginal(ctx context.Context, it Item) error
}

// MoverTransport adapts a kit.MessageMover (e.g. the Telegram adapter):
// forward is a copy without the "forwarded from" header.
type MoverTransport struct {
	Mover kit.MessageMover
}

func (t MoverTransport) Forward(ctx context.Context, it Item, to kit.ChatTarget) error {
	_, err := t.Mover.CopyMessage(ctx, it.Origin, to)
	return err
}

func (t MoverTransport) DeleteOriginal(ctx context.Context, it Item) error {
	return t.Mover.DeleteMessage(ctx, it.Origin)
}

// ItemOutcome is the per-item result of one dispatch.
type ItemOutcome struct {
	Item      Item
	Forwarded bool
	Deleted   bool
	Err       error // forward failure (*ItemError), nil on success
	DeleteErr error // delete warning (*ItemError), nil if deleted or skipped
}

// BatchReport summarizes one fire.
type BatchReport struct {
	BatchID     string
	Destination string
	FiredAt     time.Time
	Took        time.Duration
	Outcomes    []ItemOutcome

	Forwarded      int
	Failed         int
	DeleteWarnings int
}

func (r BatchReport) Size() int { return len(r.Outcomes) }

type DispatcherConfig struct {
	Destination kit.ChatTarget
	// DeleteOriginals removes the source message after a successful forward.
	DeleteOriginals bool
	// RatePerSec paces forwards; 0 sends as fast as the transport allows.
	RatePerSec float64
}

// Dispatcher forwards a batch item by item. A failing item never stops the
// rest of the batch, and nothing is retried or re-enqueued.
type Dispatcher struct {
	tr  Transport
	cfg DispatcherConfig
	log logx.Logger
	bus eventbus.Bus
	now func() time.Time

	limiter *rate.Limiter // nil when unpaced
}

func NewDispatcher(tr Transport, cfg DispatcherConfig, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	d := &Dispatcher{tr: tr, cfg: cfg, log: log, bus: bus, now: time.Now}
	if cfg.RatePerSec > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return d
}

func (d *Dispatcher) Destination() kit.ChatTarget { return d.cfg.Destination }

// SendBatch forwards every item of b and returns the per-item outcome.
// Once ctx is canceled the remaining items are reported as forward failures.
func (d *Dispatcher) SendBatch(ctx context.Context, b Batch) BatchReport {
	start := d.now()
	rep := BatchReport{
		BatchID:     b.ID,
		Destination: d.cfg.Destination.String(),
		FiredAt:     b.FiredAt,
		Outcomes:    make([]ItemOutcome, 0, len(b.Items)),
	}

	for _, it := range b.Items {
		out := d.sendOne(ctx, it)
		switch {
		case out.Forwarded:
			rep.Forwarded++
			if out.DeleteErr != nil {
				rep.DeleteWarnings++
			}
		default:
			rep.Failed++
		}
		rep.Outcomes = append(rep.Outcomes, out)
	}
	rep.Took = d.now().Sub(start)

	lvl := d.log.Info
	if rep.Failed > 0 {
		lvl = d.log.Warn
	}
	lvl("batch dispatched",
		logx.String("batch", rep.BatchID),
		logx.Int("size", rep.Size()),
		logx.Int("forwarded", rep.Forwarded),
		logx.Int("failed", rep.Failed),
		logx.Int("delete_warnings", rep.DeleteWarnings),
		logx.Duration("took", rep.Took),
	)
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: EventBatchDispatched, Data: rep})
	}
	return rep
}

func (d *Dispatcher) sendOne(ctx context.Context, it Item) ItemOutcome {
	out := ItemOutcome{Item: it}
	if d.tr == nil {
		out.Err = &ItemError{Op: OpForward, Item: it, Err: ErrNoTransport}
		return out
	}
	if err := ctx.Err(); err != nil {
		out.Err = &ItemError{Op: OpForward, Item: it, Err: err}
		return out
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			out.Err = &ItemError{Op: OpForward, Item: it, Err: err}
			return out
		}
	}

	if err := d.tr.Forward(ctx, it, d.cfg.Destination); err != nil {
		out.Err = &ItemError{Op: OpForward, Item: it, Err: err}
		d.log.Warn("forward failed", logx.String("item", it.Key()), logx.Err(err))
		d.publishFailure(out.Err)
		return out
	}
	out.Forwarded = true

	if !d.cfg.DeleteOriginals {
		return out
	}
	if err := d.tr.DeleteOriginal(ctx, it); err != nil {
		out.DeleteErr = &ItemError{Op: OpDelete, Item: it, Err: err}
		d.log.Warn("delete original failed", logx.String("item", it.Key()), logx.Err(err))
		d.publishFailure(out.DeleteErr)
		return out
	}
	out.Deleted = true
	return out
}

func (d *Dispatcher) publishFailure(err error) {
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: EventItemFailed, Data: err})
	}
}
