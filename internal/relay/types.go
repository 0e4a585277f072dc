package relay

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	kit "lotebot/internal/transport"
)

// Item is one queued piece of inbound media. Its identity is the origin
// message; the relay never copies content, it only moves the reference.
type Item struct {
	Origin     kit.MessageRef
	Kind       kit.MediaKind
	FromID     int64
	ReceivedAt time.Time
}

// Key identifies the item by its origin location ("chat:message").
func (it Item) Key() string {
	return strconv.FormatInt(it.Origin.ChatID, 10) + ":" + strconv.Itoa(it.Origin.MessageID)
}

// Batch is the ordered set of items taken by one fire. Items are always
// oldest-to-newest, whichever Order selected them.
type Batch struct {
	ID      string
	FiredAt time.Time
	Items   []Item
}

// Order selects which end of the queue a drain takes from when the queue
// holds more items than fit in one batch.
type Order string

const (
	// OrderNewestFirst takes the most recently enqueued items. Older backlog
	// waits for later fires and may be deferred indefinitely under sustained
	// overload.
	OrderNewestFirst Order = "newest_first"
	// OrderOldestFirst is strict FIFO.
	OrderOldestFirst Order = "oldest_first"
)

// DefaultOrder sends the latest items first.
const DefaultOrder = OrderNewestFirst

func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(OrderNewestFirst), "newest", "tail", "lifo":
		return OrderNewestFirst, nil
	case string(OrderOldestFirst), "oldest", "head", "fifo":
		return OrderOldestFirst, nil
	default:
		return "", fmt.Errorf("relay: unknown order %q (want %s or %s)", s, OrderNewestFirst, OrderOldestFirst)
	}
}

// State is the scheduler lifecycle.
type State int

const (
	StateIdle State = iota
	StateArmed
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Event types published on the bus.
const (
	EventBatchDispatched = "relay.batch.dispatched"
	EventItemFailed      = "relay.item.failed"
	EventStateChanged    = "relay.state"
)

// StateChange is the Data of an EventStateChanged event.
type StateChange struct {
	From   State
	To     State
	FireAt time.Time
}
