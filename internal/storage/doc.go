// Package storage keeps an optional audit trail of the relay: one record per
// dispatched batch and one per operator action (e.g. an interval change).
//
// Pending items are never persisted; a restart starts with an empty queue.
package storage
