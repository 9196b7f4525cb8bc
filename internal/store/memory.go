package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is the in-process driver. It is the default for tests and local
// development and is safe for concurrent use.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]*memDoc

	// hookMu guards mergeHook, which tests use to inject write conflicts
	// (the backing service occasionally rejects concurrent merges; see gate).
	hookMu    sync.Mutex
	mergeHook func(path string) error
}

type memDoc struct {
	collection string
	leaf       string
	data       map[string]any
	updatedAt  time.Time
}

func NewMemory() *Memory {
	return &Memory{docs: map[string]*memDoc{}}
}

// SetMergeHook installs a hook invoked before every Merge. A non-nil return
// aborts the merge with that error. Pass nil to clear.
func (m *Memory) SetMergeHook(fn func(path string) error) {
	m.hookMu.Lock()
	m.mergeHook = fn
	m.hookMu.Unlock()
}

func (m *Memory) Get(_ context.Context, path string) (Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[path]
	if !ok {
		return Doc{}, ErrNotFound
	}
	return Doc{Path: path, Data: copyData(d.data), UpdatedAt: d.updatedAt}, nil
}

func (m *Memory) Set(_ context.Context, path string, data map[string]any) error {
	collection, leaf, err := SplitPath(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.docs[path] = &memDoc{collection: collection, leaf: leaf, data: copyData(data), updatedAt: time.Now()}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Merge(_ context.Context, path string, fields map[string]any) error {
	collection, leaf, err := SplitPath(path)
	if err != nil {
		return err
	}

	m.hookMu.Lock()
	hook := m.mergeHook
	m.hookMu.Unlock()
	if hook != nil {
		if err := hook(path); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[path]
	if !ok {
		m.docs[path] = &memDoc{collection: collection, leaf: leaf, data: copyData(fields), updatedAt: time.Now()}
		return nil
	}
	for k, v := range fields {
		d.data[k] = v
	}
	d.updatedAt = time.Now()
	return nil
}

func (m *Memory) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	delete(m.docs, path)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Query(_ context.Context, q Query) ([]Doc, error) {
	m.mu.RLock()
	out := make([]Doc, 0, 16)
	for path, d := range m.docs {
		if q.Group {
			if d.leaf != q.Collection {
				continue
			}
		} else if d.collection != strings.Trim(q.Collection, "/") {
			continue
		}
		if q.Field != "" {
			s, _ := d.data[q.Field].(string)
			if s != q.Equals {
				continue
			}
		}
		out = append(out, Doc{Path: path, Data: copyData(d.data), UpdatedAt: d.updatedAt})
	}
	m.mu.RUnlock()

	if q.OrderBy != "" {
		sort.Slice(out, func(i, j int) bool {
			return out[i].String(q.OrderBy) < out[j].String(q.OrderBy)
		})
	} else {
		// Stable iteration order for callers and tests.
		sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }

func copyData(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
