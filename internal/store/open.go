package store

import (
	"context"
	"errors"
	"strings"

	logx "opsdispatch/pkg/logx"
)

// Store is the document persistence API consumed by the dispatcher.
//
// Semantics intentionally mirror the external backing service:
// point reads/writes/merges by path, single-field equality queries,
// collection-group queries, and no cross-document transactions.
type Store interface {
	Get(ctx context.Context, path string) (Doc, error)
	Set(ctx context.Context, path string, data map[string]any) error
	// Merge upserts the given top-level fields, leaving other fields alone.
	Merge(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
	Query(ctx context.Context, q Query) ([]Doc, error)
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "pg":
		return openPostgres(cfg, log)
	default:
		return nil, errors.New("unknown store driver: " + driver)
	}
}
