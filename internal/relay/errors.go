package relay

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInterval  = errors.New("relay: interval must be > 0")
	ErrInvalidBatchSize = errors.New("relay: batch size must be > 0")
	ErrNoTransport      = errors.New("relay: dispatcher has no transport")

	// ErrForward and ErrDelete classify per-item failures; match with errors.Is.
	ErrForward = errors.New("forward failed")
	ErrDelete  = errors.New("delete original failed")
)

const (
	OpForward = "forward"
	OpDelete  = "delete"
)

// ItemError is a per-item dispatch failure. It never leaves the dispatcher
// except inside a BatchReport.
type ItemError struct {
	Op   string
	Item Item
	Err  error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Item.Key(), e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

func (e *ItemError) Is(target error) bool {
	switch e.Op {
	case OpForward:
		return target == ErrForward
	case OpDelete:
		return target == ErrDelete
	}
	return false
}
