package storage

import (
	"context"
	"errors"
	"strings"

	logx "lotebot/pkg/logx"
)

// Store is the persistence API used by the app and the router.
type Store interface {
	AppendDispatch(ctx context.Context, r DispatchRecord) error
	// RecentDispatches returns up to n records, newest first.
	RecentDispatches(ctx context.Context, n int) ([]DispatchRecord, error)
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
