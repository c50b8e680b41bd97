package storage

import (
	"context"
	"errors"
	"strings"

	logx "gcpacer/pkg/logx"
)

// Store is the persistence API used by the collector and debug server.
type Store interface {
	AppendCollection(ctx context.Context, rec CollectionRecord) error
	// RecentCollections returns up to limit records, newest first.
	RecentCollections(ctx context.Context, limit int) ([]CollectionRecord, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "none", "off", "disabled":
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("storage", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// clampLimit bounds a caller supplied limit to [1, keep].
func clampLimit(limit, keep int) int {
	if limit <= 0 || limit > keep {
		return keep
	}
	return limit
}
