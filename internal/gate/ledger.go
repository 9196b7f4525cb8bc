package gate

import (
	"context"
	"errors"
	"time"

	"opsdispatch/internal/store"
)

// DefaultLedgerPath is the shared ledger document, one per gateway account.
const DefaultLedgerPath = "system/rate_ledger"

// StoreLedger keeps the pacing record in the backing document store so every
// session (process, tab, operator) shares it.
type StoreLedger struct {
	st   store.Store
	path string
}

func NewStoreLedger(st store.Store, path string) *StoreLedger {
	if path == "" {
		path = DefaultLedgerPath
	}
	return &StoreLedger{st: st, path: path}
}

func (l *StoreLedger) LastSend(ctx context.Context) (time.Time, error) {
	doc, err := l.st.Get(ctx, l.path)
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	ms := asInt64(doc.Data["last_send_at"])
	if ms <= 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms), nil
}

func (l *StoreLedger) RecordSend(ctx context.Context, t time.Time) error {
	return l.st.Merge(ctx, l.path, map[string]any{
		"last_send_at": t.UnixMilli(),
	})
}

// asInt64 tolerates the numeric types different drivers hand back
// (int64 from memory, float64 from JSON decoding).
func asInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case float64:
		return int64(x)
	default:
		return 0
	}
}
