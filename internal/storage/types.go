package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines files next to Path
//   - "sqlite": SQLite database file (pure Go driver)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DispatchRecord is the persisted summary of one batch.
type DispatchRecord struct {
	BatchID        string        `json:"batch_id"`
	FiredAt        time.Time     `json:"fired_at"`
	Destination    string        `json:"destination"`
	Size           int           `json:"size"`
	Forwarded      int           `json:"forwarded"`
	Failed         int           `json:"failed"`
	DeleteWarnings int           `json:"delete_warnings"`
	TookMS         int64         `json:"took_ms"`
	Failures       []ItemFailure `json:"failures,omitempty"`
}

// ItemFailure is one failed forward or delete inside a batch.
type ItemFailure struct {
	Item  string `json:"item"` // "chat:message"
	Op    string `json:"op"`
	Error string `json:"error"`
}

// AuditEntry records an operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At            time.Time `json:"at"`
	ActorID       int64     `json:"actor_id"`
	ActorUsername string    `json:"actor_username,omitempty"`
	ChatID        int64     `json:"chat_id"`
	Action        string    `json:"action"`
	Target        string    `json:"target,omitempty"`
	Error         string    `json:"error,omitempty"`
}
