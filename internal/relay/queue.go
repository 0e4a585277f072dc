package relay

import "sync"

// PendingQueue is the ordered set of items waiting for a fire. Insertion
// order is arrival order. Safe for many producers and one draining scheduler.
type PendingQueue struct {
	mu    sync.Mutex
	items []Item
}

func NewPendingQueue() *PendingQueue { return &PendingQueue{} }

// Enqueue appends it to the tail.
func (q *PendingQueue) Enqueue(it Item) {
	q.mu.Lock()
	q.items = append(q.items, it)
	q.mu.Unlock()
}

func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Peek returns the items Drain(max, order) would take, without removing them.
func (q *PendingQueue) Peek(max int, order Order) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	lo, hi := window(len(q.items), max, order)
	if lo == hi {
		return nil
	}
	return append([]Item(nil), q.items[lo:hi]...)
}

// Drain atomically removes up to max items and returns them oldest-to-newest.
// OrderNewestFirst takes from the tail, OrderOldestFirst from the head.
// An empty queue (or max <= 0) returns nil and leaves the queue untouched.
func (q *PendingQueue) Drain(max int, order Order) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	lo, hi := window(n, max, order)
	if lo == hi {
		return nil
	}
	out := append([]Item(nil), q.items[lo:hi]...)

	if lo == 0 {
		// head removal: compact so the backing array doesn't pin drained items
		rest := copy(q.items, q.items[hi:])
		clear(q.items[rest:])
		q.items = q.items[:rest]
	} else {
		clear(q.items[lo:])
		q.items = q.items[:lo]
	}
	return out
}

// window returns the [lo, hi) range a drain of max items takes.
func window(n, max int, order Order) (int, int) {
	if n == 0 || max <= 0 {
		return 0, 0
	}
	take := min(max, n)
	if order == OrderOldestFirst {
		return 0, take
	}
	return n - take, n
}
