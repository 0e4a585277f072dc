package relay

import "time"

// Status is a point-in-time snapshot of the relay. Fields are read under
// the scheduler lock and are mutually consistent.
type Status struct {
	State       State         `json:"-"`
	StateName   string        `json:"state"`
	QueueLen    int           `json:"queue_len"`
	Interval    time.Duration `json:"-"`
	IntervalStr string        `json:"interval"`
	// FireAt is zero unless State is Armed.
	FireAt      time.Time     `json:"fire_at,omitzero"`
	NextIn      time.Duration `json:"-"`
	NextInStr   string        `json:"next_in,omitempty"`
	HasNext     bool          `json:"has_next"`
	MaxBatch    int           `json:"batch_max"`
	Order       Order         `json:"order"`
	Destination string        `json:"destination"`
	Arms        uint64        `json:"arms"`
	Fires       uint64        `json:"fires"`
	Totals      Totals        `json:"totals"`
	Last        *BatchSummary `json:"last,omitempty"`
}

// BatchSummary is the short form of a BatchReport.
type BatchSummary struct {
	ID             string    `json:"id"`
	FiredAt        time.Time `json:"fired_at"`
	Size           int       `json:"size"`
	Forwarded      int       `json:"forwarded"`
	Failed         int       `json:"failed"`
	DeleteWarnings int       `json:"delete_warnings"`
	TookMS         int64     `json:"took_ms"`
}

func Summarize(r BatchReport) BatchSummary {
	return BatchSummary{
		ID:             r.BatchID,
		FiredAt:        r.FiredAt,
		Size:           r.Size(),
		Forwarded:      r.Forwarded,
		Failed:         r.Failed,
		DeleteWarnings: r.DeleteWarnings,
		TookMS:         r.Took.Milliseconds(),
	}
}

// Status reports the current relay state. NextIn is clamped at zero once
// the fire time has passed but the cycle hasn't drained yet.
func (s *Scheduler) Status() Status {
	v := s.view()
	now := s.clock.Now()

	st := Status{
		State:     v.state,
		StateName: v.state.String(),
		QueueLen:  v.queueLen,
		Interval:  s.interval.Get(),
		MaxBatch:  v.cfg.MaxBatch,
		Order:     v.cfg.Order,
		Arms:      v.arms,
		Fires:     v.fires,
		Totals:    v.totals,
	}
	st.IntervalStr = st.Interval.String()
	if s.disp != nil {
		st.Destination = s.disp.Destination().String()
	}
	if v.state == StateArmed && !v.fireAt.IsZero() {
		st.HasNext = true
		st.FireAt = v.fireAt
		st.NextIn = max(0, v.fireAt.Sub(now))
		st.NextInStr = st.NextIn.Round(time.Second).String()
	}
	if v.last != nil {
		sum := Summarize(*v.last)
		st.Last = &sum
	}
	return st
}
