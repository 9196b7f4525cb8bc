// Package bulk is the operator-reviewable broadcast orchestrator. Unlike the
// mention queue it keeps a per-recipient outcome ledger: every target of a
// session ends up exactly once in the ledger as sent, skipped (no phone) or
// failed, and failed entries can be retried individually.
package bulk

import (
	"context"
	"fmt"
	"time"

	"opsdispatch/internal/eventbus"
	"opsdispatch/internal/format"
	"opsdispatch/internal/identity"
	"opsdispatch/internal/match"
	logx "opsdispatch/pkg/logx"
)

const taskItemLimit = 5

// Resolver yields a sendable phone for an identity ("" when none).
type Resolver interface {
	Phone(ctx context.Context, id identity.Identity) string
}

// Sender is the gated two-phase text sender.
type Sender interface {
	Send(ctx context.Context, destination string, msg format.ComposedMessage) error
}

// Matcher provides the work lookups behind the templated modes.
type Matcher interface {
	LoadIndex(ctx context.Context) *match.Index
	OpenTasks(ctx context.Context, id identity.Identity, ix *match.Index) []match.Task
	UpcomingEvents(ctx context.Context, id identity.Identity, ix *match.Index, now time.Time) []match.Event
}

type Config struct {
	// DashboardURL is the public base address used as the closing link of
	// templated messages.
	DashboardURL string
}

type Orchestrator struct {
	cfg       Config
	resolver  Resolver
	sender    Sender
	matcher   Matcher
	formatter *format.Formatter
	bus       eventbus.Bus
	log       logx.Logger
	now       func() time.Time
}

func New(cfg Config, resolver Resolver, sender Sender, matcher Matcher, formatter *format.Formatter, bus eventbus.Bus, log logx.Logger) *Orchestrator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Orchestrator{
		cfg:       cfg,
		resolver:  resolver,
		sender:    sender,
		matcher:   matcher,
		formatter: formatter,
		bus:       bus,
		log:       log,
		now:       time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// Run performs one sequential pass over the session's targets. Targets that
// already carry a sent outcome (a re-run after a partial pass) are never sent
// again. The pass itself is not cancellable mid-list; ctx applies to the
// individual store and gateway calls.
func (o *Orchestrator) Run(ctx context.Context, s *Session) {
	var ix *match.Index
	if s.Template != TemplateCustom {
		ix = o.matcher.LoadIndex(ctx)
	}

	for i, target := range s.Targets {
		key := s.key(i)
		if r, ok := s.outcome(key); ok && r.State == OutcomeSent {
			continue
		}
		o.dispatch(ctx, s, key, target, ix)
	}

	o.publishDone(s)
}

// Retry re-runs exactly the given failed entries: phone re-resolved and
// message re-composed fresh, outcome replaced. Entries not currently failed
// are left untouched, so a sent target can never be sent twice.
func (o *Orchestrator) Retry(ctx context.Context, s *Session, keys ...string) {
	var ix *match.Index
	if s.Template != TemplateCustom {
		ix = o.matcher.LoadIndex(ctx)
	}

	want := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}

	for i, target := range s.Targets {
		key := s.key(i)
		if _, ok := want[key]; !ok {
			continue
		}
		if r, ok := s.outcome(key); !ok || r.State != OutcomeFailed {
			continue
		}
		o.dispatch(ctx, s, key, target, ix)
	}

	o.publishDone(s)
}

func (o *Orchestrator) dispatch(ctx context.Context, s *Session, key string, target identity.Identity, ix *match.Index) {
	phone := o.resolver.Phone(ctx, target)
	if phone == "" {
		s.record(key, Result{State: OutcomeSkippedNoPhone})
		o.publish(eventbus.BroadcastSkipped, s.ID, key, nil)
		return
	}

	msg := o.compose(ctx, s, target, ix)
	if err := o.sender.Send(ctx, phone, msg); err != nil {
		s.record(key, Result{State: OutcomeFailed, Error: err.Error()})
		o.log.Warn("broadcast send failed",
			logx.String("session", s.ID),
			logx.String("identity", key),
			logx.Err(err))
		o.publish(eventbus.BroadcastFailed, s.ID, key, err)
		return
	}
	s.record(key, Result{State: OutcomeSent})
	o.publish(eventbus.BroadcastSent, s.ID, key, nil)
}

func (o *Orchestrator) compose(ctx context.Context, s *Session, target identity.Identity, ix *match.Index) format.ComposedMessage {
	switch s.Template {
	case TemplateOpenTasks:
		return o.composeOpenTasks(ctx, target, ix)
	case TemplateUpcomingEvents:
		return o.composeUpcomingEvents(ctx, target, ix)
	default:
		return o.formatter.Compose(ctx, s.Text, false)
	}
}

func (o *Orchestrator) composeOpenTasks(ctx context.Context, target identity.Identity, ix *match.Index) format.ComposedMessage {
	tasks := o.matcher.OpenTasks(ctx, target, ix)
	lines := []string{greeting(target), "", "*Your open tasks*"}
	if len(tasks) == 0 {
		lines = append(lines, "Nothing open right now. Well done!")
	}
	if len(tasks) > taskItemLimit {
		tasks = tasks[:taskItemLimit]
	}
	for _, t := range tasks {
		item := "• " + t.Title
		if title := ix.ContainerTitle(t.ParentPath()); title != "" {
			item += " (" + title + ")"
		}
		if !t.Due.IsZero() {
			item += " – due " + t.Due.Format("02/01/2006")
		}
		lines = append(lines, item)
	}
	return o.close(lines)
}

func (o *Orchestrator) composeUpcomingEvents(ctx context.Context, target identity.Identity, ix *match.Index) format.ComposedMessage {
	events := o.matcher.UpcomingEvents(ctx, target, ix, o.now())
	lines := []string{greeting(target), "", "*Your upcoming events*"}
	if len(events) == 0 {
		lines = append(lines, "No upcoming events on your calendar.")
	}
	for _, ev := range events {
		item := fmt.Sprintf("• %s – %s", ev.Title, ev.Start.Format("02/01/2006 15:04"))
		if ev.Location != "" {
			item += ", " + ev.Location
		}
		lines = append(lines, item)
	}
	return o.close(lines)
}

func (o *Orchestrator) close(lines []string) format.ComposedMessage {
	var links []string
	if o.cfg.DashboardURL != "" {
		lines = append(lines, "", "Full details:")
		links = []string{o.cfg.DashboardURL}
	}
	return format.ComposedMessage{BodyLines: lines, Links: links}
}

func greeting(target identity.Identity) string {
	if target.DisplayName != "" {
		return "Hi " + target.DisplayName + ","
	}
	return "Hi,"
}

func (o *Orchestrator) publish(typ, session, identityKey string, err error) {
	if o.bus == nil {
		return
	}
	ev := eventbus.DispatchEvent{Kind: "bulk", Session: session, Identity: identityKey, At: time.Now()}
	if err != nil {
		ev.Error = err.Error()
	}
	o.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

func (o *Orchestrator) publishDone(s *Session) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(eventbus.Event{Type: eventbus.SessionDone, Data: SessionReport(s)})
}

// Report is the consolidated per-session summary handed to observers
// (operator alerts, logs) when a pass finishes.
type Report struct {
	Session  string
	Template Template
	Sent     int
	Skipped  int
	Failed   map[string]string // identity key -> verbatim error
}

// SessionReport summarizes the session's current ledger.
func SessionReport(s *Session) Report {
	r := Report{Session: s.ID, Template: s.Template, Failed: map[string]string{}}
	for k, v := range s.Outcomes() {
		switch v.State {
		case OutcomeSent:
			r.Sent++
		case OutcomeSkippedNoPhone:
			r.Skipped++
		case OutcomeFailed:
			r.Failed[k] = v.Error
		}
	}
	return r
}
