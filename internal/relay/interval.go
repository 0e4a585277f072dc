package relay

import (
	"sync/atomic"
	"time"
)

// IntervalPolicy holds the wait between fires. The scheduler reads it only
// when arming, so Set never moves a fire time that is already computed.
type IntervalPolicy struct {
	d atomic.Int64
}

func NewIntervalPolicy(d time.Duration) (*IntervalPolicy, error) {
	p := &IntervalPolicy{}
	if err := p.Set(d); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *IntervalPolicy) Get() time.Duration { return time.Duration(p.d.Load()) }

// Set replaces the interval for future arms. Any positive duration is accepted.
func (p *IntervalPolicy) Set(d time.Duration) error {
	if d <= 0 {
		return ErrInvalidInterval
	}
	p.d.Store(int64(d))
	return nil
}
