package store

import (
	"context"
	"errors"
	"testing"
)

func TestSplitPath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		path       string
		collection string
		leaf       string
		wantErr    bool
	}{
		{path: "profiles/u1", collection: "profiles", leaf: "profiles"},
		{path: "events/e1/tasks/t7", collection: "events/e1/tasks", leaf: "tasks"},
		{path: "events/e1/tasks", wantErr: true},
		{path: "events", wantErr: true},
		{path: "events//tasks/t1", wantErr: true},
	}
	for _, tt := range tests {
		c, l, err := SplitPath(tt.path)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("SplitPath(%q): expected error", tt.path)
			}
			continue
		}
		if err != nil {
			t.Fatalf("SplitPath(%q): %v", tt.path, err)
		}
		if c != tt.collection || l != tt.leaf {
			t.Fatalf("SplitPath(%q) = (%q, %q), want (%q, %q)", tt.path, c, l, tt.collection, tt.leaf)
		}
	}
}

func TestParentDoc(t *testing.T) {
	t.Parallel()
	if got := ParentDoc("events/e1/tasks/t7"); got != "events/e1" {
		t.Fatalf("ParentDoc = %q", got)
	}
	if got := ParentDoc("profiles/u1"); got != "" {
		t.Fatalf("ParentDoc top-level = %q, want empty", got)
	}
}

func TestMemoryCRUDAndMerge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Get(ctx, "profiles/u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := m.Set(ctx, "profiles/u1", map[string]any{"name": "Dana", "phone": "0501234567"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := m.Merge(ctx, "profiles/u1", map[string]any{"email": "dana@x.com"}); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	d, err := m.Get(ctx, "profiles/u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if d.String("name") != "Dana" || d.String("email") != "dana@x.com" {
		t.Fatalf("merge lost fields: %v", d.Data)
	}

	// Merge to a missing doc creates it.
	if err := m.Merge(ctx, "system/rate_ledger", map[string]any{"last_send_at": "0"}); err != nil {
		t.Fatalf("Merge create: %v", err)
	}

	if err := m.Delete(ctx, "profiles/u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Get(ctx, "profiles/u1"); !errors.Is(err, ErrNotFound) {
		t.Fatal("doc should be gone")
	}
}

func TestMemoryQuery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	seed := map[string]map[string]any{
		"events/e1/tasks/t1": {"status": "todo", "due": "2026-09-10T00:00:00Z"},
		"events/e1/tasks/t2": {"status": "done", "due": "2026-09-01T00:00:00Z"},
		"events/e2/tasks/t3": {"status": "todo", "due": "2026-09-05T00:00:00Z"},
		"projects/p1/tasks/t4": {"status": "todo", "due": "2026-09-03T00:00:00Z"},
		"profiles/u1":        {"email": "a@x.com"},
	}
	for p, d := range seed {
		if err := m.Set(ctx, p, d); err != nil {
			t.Fatalf("Set %s: %v", p, err)
		}
	}

	// Plain collection query with equality filter.
	docs, err := m.Query(ctx, Query{Collection: "events/e1/tasks", Field: "status", Equals: "todo"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(docs) != 1 || docs[0].Path != "events/e1/tasks/t1" {
		t.Fatalf("unexpected result: %+v", docs)
	}

	// Collection-group query spans every parent, ordered by due date.
	docs, err = m.Query(ctx, Query{Collection: "tasks", Group: true, Field: "status", Equals: "todo", OrderBy: "due"})
	if err != nil {
		t.Fatalf("group query: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 group results, got %d", len(docs))
	}
	if docs[0].Path != "projects/p1/tasks/t4" || docs[2].Path != "events/e1/tasks/t1" {
		t.Fatalf("unexpected order: %v, %v, %v", docs[0].Path, docs[1].Path, docs[2].Path)
	}

	// Limit caps results.
	docs, err = m.Query(ctx, Query{Collection: "tasks", Group: true, Limit: 2})
	if err != nil {
		t.Fatalf("limit query: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 results, got %d", len(docs))
	}
}

func TestMemoryMergeHook(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	boom := errors.New("boom")
	m.SetMergeHook(func(path string) error { return boom })
	if err := m.Merge(ctx, "system/rate_ledger", map[string]any{"x": "1"}); !errors.Is(err, boom) {
		t.Fatalf("expected hook error, got %v", err)
	}
	m.SetMergeHook(nil)
	if err := m.Merge(ctx, "system/rate_ledger", map[string]any{"x": "1"}); err != nil {
		t.Fatalf("merge after clearing hook: %v", err)
	}
}
