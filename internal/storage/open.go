package storage

import (
	"context"
	"errors"
	"strings"

	logx "inkframe/pkg/logx"
)

// Store is the minimal persistence API used by the refresh orchestrator.
type Store interface {
	AppendRefresh(ctx context.Context, e RefreshEntry) error
	RecentRefreshes(ctx context.Context, limit int) ([]RefreshEntry, error)
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
