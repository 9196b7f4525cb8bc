package bulk

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"opsdispatch/internal/eventbus"
	"opsdispatch/internal/format"
	"opsdispatch/internal/identity"
	"opsdispatch/internal/match"
	"opsdispatch/internal/store"
	logx "opsdispatch/pkg/logx"
)

type fakeResolver struct {
	phones map[string]string
}

func (r *fakeResolver) Phone(_ context.Context, id identity.Identity) string {
	return r.phones[id.Key()]
}

type sentMsg struct {
	destination string
	msg         format.ComposedMessage
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMsg
	fail map[string]error // destination -> error, consumed on first use
}

func (s *fakeSender) Send(_ context.Context, destination string, msg format.ComposedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[destination]; err != nil {
		delete(s.fail, destination)
		return err
	}
	s.sent = append(s.sent, sentMsg{destination: destination, msg: msg})
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func newOrchestrator(t *testing.T, resolver Resolver, sender Sender, st store.Store) *Orchestrator {
	t.Helper()
	matcher := match.New(match.Config{}, st, "972", logx.Nop())
	formatter := format.New(nil, logx.Nop())
	return New(Config{DashboardURL: "https://ops.example.org"}, resolver, sender, matcher, formatter, eventbus.New(), logx.Nop())
}

func TestRunCoversEveryTargetExactlyOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	resolver := &fakeResolver{phones: map[string]string{
		"uid:u1": "972501111111",
		"uid:u3": "972503333333",
	}}
	sender := &fakeSender{fail: map[string]error{
		"972503333333": errors.New("gateway said 503: try later"),
	}}
	o := newOrchestrator(t, resolver, sender, store.NewMemory())

	targets := []identity.Identity{
		identity.New("Dana", "u1", "", "", "972"),
		identity.New("Ghost", "u2", "", "", "972"), // no phone anywhere
		identity.New("Noa", "u3", "", "", "972"),
	}
	s := NewSession(TemplateCustom, "shift starts at 9", targets)
	o.Run(ctx, s)

	outcomes := s.Outcomes()
	if len(outcomes) != len(targets) {
		t.Fatalf("outcomes = %d entries, want %d", len(outcomes), len(targets))
	}
	if outcomes["uid:u1"].State != OutcomeSent {
		t.Fatalf("u1 = %+v, want sent", outcomes["uid:u1"])
	}
	if outcomes["uid:u2"].State != OutcomeSkippedNoPhone {
		t.Fatalf("u2 = %+v, want skipped", outcomes["uid:u2"])
	}
	if got := outcomes["uid:u3"]; got.State != OutcomeFailed || got.Error != "gateway said 503: try later" {
		t.Fatalf("u3 = %+v, want failed with verbatim detail", got)
	}
}

func TestCustomTextLinksSplitOut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	resolver := &fakeResolver{phones: map[string]string{"uid:u1": "972501111111"}}
	sender := &fakeSender{}
	o := newOrchestrator(t, resolver, sender, store.NewMemory())

	s := NewSession(TemplateCustom, "בדיקה: https://example.com/path?x=1 תודה",
		[]identity.Identity{identity.New("Dana", "u1", "", "", "972")})
	o.Run(ctx, s)

	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sender.sent))
	}
	msg := sender.sent[0].msg
	if got := msg.Body(); got != "בדיקה: תודה" {
		t.Fatalf("body = %q", got)
	}
	if got := msg.LinksText(); got != "🔗 https://example.com/path?x=1" {
		t.Fatalf("links follow-up = %q", got)
	}
}

func TestRetryReplacesOnlyFailedEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	resolver := &fakeResolver{phones: map[string]string{
		"uid:u1": "972501111111",
		"uid:u2": "972502222222",
	}}
	sender := &fakeSender{fail: map[string]error{
		"972502222222": errors.New("timeout"),
	}}
	o := newOrchestrator(t, resolver, sender, store.NewMemory())

	s := NewSession(TemplateCustom, "hello", []identity.Identity{
		identity.New("Dana", "u1", "", "", "972"),
		identity.New("Noa", "u2", "", "", "972"),
	})
	o.Run(ctx, s)

	if got := s.Failures(); len(got) != 1 || got[0] != "uid:u2" {
		t.Fatalf("Failures = %v", got)
	}
	sentBefore := sender.count()

	// Ask for both; only the failed one may be retried.
	o.Retry(ctx, s, "uid:u1", "uid:u2")

	if got := sender.count(); got != sentBefore+1 {
		t.Fatalf("sends after retry = %d, want %d (sent entries must not resend)", got, sentBefore+1)
	}
	outcomes := s.Outcomes()
	if outcomes["uid:u2"].State != OutcomeSent {
		t.Fatalf("u2 after retry = %+v", outcomes["uid:u2"])
	}
	if len(s.Failures()) != 0 {
		t.Fatalf("failure list not cleared: %v", s.Failures())
	}
	if len(outcomes) != 2 {
		t.Fatalf("ledger grew to %d entries", len(outcomes))
	}
}

func TestOpenTasksTemplateRendersWorkList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := store.NewMemory()
	if err := st.Set(ctx, "events/e1", map[string]any{"title": "Gala"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := st.Set(ctx, "events/e1/tasks/t1", map[string]any{
		"title": "Book venue", "status": "todo", "assignee_ref": "u1",
		"due": "2026-09-10T00:00:00Z",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	resolver := &fakeResolver{phones: map[string]string{"uid:u1": "972501111111"}}
	sender := &fakeSender{}
	o := newOrchestrator(t, resolver, sender, st)

	s := NewSession(TemplateOpenTasks, "", []identity.Identity{
		identity.New("Dana", "u1", "", "", "972"),
	})
	o.Run(ctx, s)

	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sender.sent))
	}
	body := sender.sent[0].msg.Body()
	for _, want := range []string{"Hi Dana,", "Book venue", "Gala", "10/09/2026"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}
	if links := sender.sent[0].msg.Links; len(links) != 1 || links[0] != "https://ops.example.org" {
		t.Fatalf("closing link = %v", links)
	}
}

func TestOpenTasksTemplateCapsItems(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := store.NewMemory()
	if err := st.Set(ctx, "events/e1", map[string]any{"title": "Gala"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	for _, leaf := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		if err := st.Set(ctx, "events/e1/tasks/"+leaf, map[string]any{
			"title": "Task " + leaf, "status": "todo", "assignee_ref": "u1",
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	resolver := &fakeResolver{phones: map[string]string{"uid:u1": "972501111111"}}
	sender := &fakeSender{}
	o := newOrchestrator(t, resolver, sender, st)

	s := NewSession(TemplateOpenTasks, "", []identity.Identity{
		identity.New("Dana", "u1", "", "", "972"),
	})
	o.Run(ctx, s)

	body := sender.sent[0].msg.Body()
	if got := strings.Count(body, "• "); got != taskItemLimit {
		t.Fatalf("rendered %d items, want %d", got, taskItemLimit)
	}
}

func TestSessionReportCountsStates(t *testing.T) {
	t.Parallel()
	s := NewSession(TemplateCustom, "x", []identity.Identity{
		identity.New("A", "u1", "", "", "972"),
		identity.New("B", "u2", "", "", "972"),
		identity.New("C", "u3", "", "", "972"),
	})
	s.record("uid:u1", Result{State: OutcomeSent})
	s.record("uid:u2", Result{State: OutcomeSkippedNoPhone})
	s.record("uid:u3", Result{State: OutcomeFailed, Error: "boom"})

	r := SessionReport(s)
	if r.Sent != 1 || r.Skipped != 1 || len(r.Failed) != 1 || r.Failed["uid:u3"] != "boom" {
		t.Fatalf("report = %+v", r)
	}
}
