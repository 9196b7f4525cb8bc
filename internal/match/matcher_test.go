package match

import (
	"context"
	"testing"
	"time"

	"opsdispatch/internal/identity"
	"opsdispatch/internal/store"
	logx "opsdispatch/pkg/logx"
)

func seedEvent(t *testing.T, st store.Store, path, title string, extra map[string]any) {
	t.Helper()
	data := map[string]any{"title": title}
	for k, v := range extra {
		data[k] = v
	}
	if err := st.Set(context.Background(), path, data); err != nil {
		t.Fatalf("seed %s: %v", path, err)
	}
}

func seedTask(t *testing.T, st store.Store, path string, data map[string]any) {
	t.Helper()
	if err := st.Set(context.Background(), path, data); err != nil {
		t.Fatalf("seed %s: %v", path, err)
	}
}

func newTestMatcher(st store.Store) *Matcher {
	return New(Config{}, st, "972", logx.Nop())
}

func TestOpenTasksByAssigneeRef(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := store.NewMemory()
	seedEvent(t, st, "events/e1", "Gala", nil)
	seedTask(t, st, "events/e1/tasks/t1", map[string]any{
		"title": "Book venue", "status": StatusTodo, "assignee_ref": "u1",
	})
	seedTask(t, st, "events/e1/tasks/t2", map[string]any{
		"title": "Done already", "status": "done", "assignee_ref": "u1",
	})

	m := newTestMatcher(st)
	ix := m.LoadIndex(ctx)
	got := m.OpenTasks(ctx, identity.New("Dana", "u1", "", "", "972"), ix)
	if len(got) != 1 || got[0].Title != "Book venue" {
		t.Fatalf("OpenTasks = %+v, want only the open ref-assigned task", got)
	}
}

func TestOpenTasksMatchesMultiAssigneePhone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := store.NewMemory()
	seedEvent(t, st, "events/e1", "Gala", nil)
	// No single-assignee field matches; only the assignee list carries the
	// phone, in local form.
	seedTask(t, st, "events/e1/tasks/t1", map[string]any{
		"title":  "Call vendors",
		"status": StatusInProgress,
		"assignees": []any{
			map[string]any{"name": "Someone Else", "phone": "052-9999999"},
			map[string]any{"name": "Dana", "phone": "050-1234567"},
		},
	})

	m := newTestMatcher(st)
	ix := m.LoadIndex(ctx)
	id := identity.New("Unrelated Name", "", "", "0501234567", "972")
	got := m.OpenTasks(ctx, id, ix)
	if len(got) != 1 || got[0].Title != "Call vendors" {
		t.Fatalf("OpenTasks = %+v, want phone-matched task", got)
	}
}

func TestOpenTasksExcludesArchivedParent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := store.NewMemory()
	seedEvent(t, st, "events/e1", "Old Gala", map[string]any{"archived": true})
	seedTask(t, st, "events/e1/tasks/t1", map[string]any{
		"title":  "Call vendors",
		"status": StatusInProgress,
		"assignees": []any{
			map[string]any{"name": "Dana", "phone": "050-1234567"},
		},
	})

	m := newTestMatcher(st)
	ix := m.LoadIndex(ctx)
	id := identity.New("Dana", "", "", "0501234567", "972")
	if got := m.OpenTasks(ctx, id, ix); len(got) != 0 {
		t.Fatalf("OpenTasks = %+v, want none under an archived parent", got)
	}
}

func TestOpenTasksDedupesAcrossStrategies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := store.NewMemory()
	seedEvent(t, st, "events/e1", "Gala", nil)
	// Matches both the targeted ref query and the status-scan member check.
	seedTask(t, st, "events/e1/tasks/t1", map[string]any{
		"title":        "Book venue",
		"status":       StatusTodo,
		"assignee_ref": "u1",
		"assignees": []any{
			map[string]any{"ref": "u1"},
		},
	})

	m := newTestMatcher(st)
	ix := m.LoadIndex(ctx)
	got := m.OpenTasks(ctx, identity.New("Dana", "u1", "", "", "972"), ix)
	if len(got) != 1 {
		t.Fatalf("expected 1 deduped task, got %d", len(got))
	}
}

func TestOpenTasksSortsByDueWithZeroLast(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := store.NewMemory()
	seedEvent(t, st, "events/e1", "Gala", nil)
	seedTask(t, st, "events/e1/tasks/later", map[string]any{
		"title": "Later", "status": StatusTodo, "assignee_ref": "u1",
		"due": "2026-09-20T10:00:00Z",
	})
	seedTask(t, st, "events/e1/tasks/nodue", map[string]any{
		"title": "No due", "status": StatusTodo, "assignee_ref": "u1",
	})
	seedTask(t, st, "events/e1/tasks/soon", map[string]any{
		"title": "Soon", "status": StatusTodo, "assignee_ref": "u1",
		"due": "2026-09-05T10:00:00Z",
	})

	m := newTestMatcher(st)
	ix := m.LoadIndex(ctx)
	got := m.OpenTasks(ctx, identity.New("Dana", "u1", "", "", "972"), ix)
	if len(got) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(got))
	}
	if got[0].Title != "Soon" || got[1].Title != "Later" || got[2].Title != "No due" {
		t.Fatalf("wrong order: %s, %s, %s", got[0].Title, got[1].Title, got[2].Title)
	}
}

func TestOpenTasksCap(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := store.NewMemory()
	seedEvent(t, st, "events/e1", "Gala", nil)
	for _, leaf := range []string{"a", "b", "c", "d"} {
		seedTask(t, st, "events/e1/tasks/"+leaf, map[string]any{
			"title": leaf, "status": StatusTodo, "assignee_ref": "u1",
		})
	}

	m := New(Config{TaskCap: 2}, st, "972", logx.Nop())
	ix := m.LoadIndex(ctx)
	got := m.OpenTasks(ctx, identity.New("Dana", "u1", "", "", "972"), ix)
	if len(got) != 2 {
		t.Fatalf("expected capped result of 2, got %d", len(got))
	}
}

func TestUpcomingEventsSoonestFirstAndCapped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := store.NewMemory()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	starts := map[string]string{
		"events/e1": "2026-09-10T09:00:00Z",
		"events/e2": "2026-09-03T09:00:00Z",
		"events/e3": "2026-08-20T09:00:00Z", // past, excluded
		"events/e4": "2026-09-05T09:00:00Z",
		"events/e5": "2026-09-07T09:00:00Z",
	}
	for path, start := range starts {
		seedEvent(t, st, path, path, map[string]any{"start": start, "owner_ref": "u1"})
	}

	m := newTestMatcher(st)
	ix := m.LoadIndex(ctx)
	got := m.UpcomingEvents(ctx, identity.New("Dana", "u1", "", "", "972"), ix, now)
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].Path != "events/e2" || got[1].Path != "events/e4" || got[2].Path != "events/e5" {
		t.Fatalf("wrong order: %s, %s, %s", got[0].Path, got[1].Path, got[2].Path)
	}
}

func TestUpcomingEventsMatchesTeamMember(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := store.NewMemory()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	seedEvent(t, st, "events/e1", "Gala", map[string]any{
		"start":     "2026-09-10T09:00:00Z",
		"owner_ref": "someone-else",
		"team": []any{
			map[string]any{"email": "Dana@X.com"},
		},
	})

	m := newTestMatcher(st)
	ix := m.LoadIndex(ctx)
	got := m.UpcomingEvents(ctx, identity.New("", "", "dana@x.com", "", "972"), ix, now)
	if len(got) != 1 {
		t.Fatalf("expected team-member match, got %d events", len(got))
	}
}

func TestLoadIndexTitlesAndProjects(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := store.NewMemory()
	seedEvent(t, st, "events/e1", "Gala", nil)
	if err := st.Set(ctx, "projects/p1", map[string]any{"name": "Logistics"}); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	if err := st.Set(ctx, "projects/p2", map[string]any{"name": "Gone", "deleted": true}); err != nil {
		t.Fatalf("seed project: %v", err)
	}

	m := newTestMatcher(st)
	ix := m.LoadIndex(ctx)
	if got := ix.ContainerTitle("events/e1"); got != "Gala" {
		t.Fatalf("ContainerTitle(events/e1) = %q", got)
	}
	if got := ix.ContainerTitle("projects/p1"); got != "Logistics" {
		t.Fatalf("ContainerTitle(projects/p1) = %q", got)
	}
	if ix.ValidParent("projects/p2") {
		t.Fatal("deleted project should not be a valid parent")
	}
}
