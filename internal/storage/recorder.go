package storage

import (
	"context"
	"errors"
	"time"

	"lotebot/internal/eventbus"
	"lotebot/internal/relay"
	logx "lotebot/pkg/logx"
)

// RecordFromReport converts a dispatch report into its persisted form.
func RecordFromReport(r relay.BatchReport) DispatchRecord {
	rec := DispatchRecord{
		BatchID:        r.BatchID,
		FiredAt:        r.FiredAt,
		Destination:    r.Destination,
		Size:           r.Size(),
		Forwarded:      r.Forwarded,
		Failed:         r.Failed,
		DeleteWarnings: r.DeleteWarnings,
		TookMS:         r.Took.Milliseconds(),
	}
	for _, o := range r.Outcomes {
		for _, err := range []error{o.Err, o.DeleteErr} {
			if err == nil {
				continue
			}
			op := relay.OpForward
			var ie *relay.ItemError
			if errors.As(err, &ie) {
				op = ie.Op
				err = ie.Err
			}
			rec.Failures = append(rec.Failures, ItemFailure{Item: o.Item.Key(), Op: op, Error: err.Error()})
		}
	}
	return rec
}

// Recorder persists every dispatched batch published on the bus.
type Recorder struct {
	store Store
	bus   eventbus.Bus
	log   logx.Logger
}

func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	return &Recorder{store: store, bus: bus, log: log}
}

// Run blocks until ctx is done, then persists whatever is still buffered.
// The bus drops events for a slow subscriber, so a stalled disk loses
// records rather than blocking the relay.
func (r *Recorder) Run(ctx context.Context) {
	if r.store == nil || r.bus == nil {
		return
	}
	ch, unsub := r.bus.Subscribe(64)
	defer unsub()

	wctx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev, ok := <-ch:
					if !ok {
						return
					}
					r.handle(wctx, ev)
				default:
					return
				}
			}
		case ev, ok := <-ch:
			if !ok {
				return
			}
			r.handle(wctx, ev)
		}
	}
}

func (r *Recorder) handle(ctx context.Context, ev eventbus.Event) {
	if ev.Type != relay.EventBatchDispatched {
		return
	}
	rep, ok := ev.Data.(relay.BatchReport)
	if !ok {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.store.AppendDispatch(wctx, RecordFromReport(rep)); err != nil {
		r.log.Warn("persist dispatch failed", logx.String("batch", rep.BatchID), logx.Err(err))
	}
}
