package bulk

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"opsdispatch/internal/identity"
)

// Template selects how the message for each recipient is composed.
type Template string

const (
	TemplateCustom         Template = "custom"
	TemplateOpenTasks      Template = "open_tasks"
	TemplateUpcomingEvents Template = "upcoming_events"
)

// Outcome states. Every target ends a pass in exactly one of these.
type Outcome string

const (
	OutcomeSent           Outcome = "sent"
	OutcomeSkippedNoPhone Outcome = "skipped_no_phone"
	OutcomeFailed         Outcome = "failed"
)

// Result is the recorded outcome for one target.
type Result struct {
	State Outcome
	// Error carries the gateway rejection detail verbatim for operator
	// display; empty unless State is OutcomeFailed.
	Error string
	At    time.Time
}

// Session is one bulk-send run and its per-recipient outcome ledger. The
// ledger is keyed by identity key; a target whose identity carries nothing
// usable gets a positional key so the ledger still covers every target.
type Session struct {
	ID       string
	Template Template
	Text     string // literal text for TemplateCustom
	Targets  []identity.Identity

	mu       sync.Mutex
	outcomes map[string]Result
}

func NewSession(template Template, text string, targets []identity.Identity) *Session {
	return &Session{
		ID:       uuid.NewString(),
		Template: template,
		Text:     text,
		Targets:  append([]identity.Identity(nil), targets...),
		outcomes: map[string]Result{},
	}
}

// key returns the ledger key for target i.
func (s *Session) key(i int) string {
	if k := s.Targets[i].Key(); k != "" {
		return k
	}
	return "target:" + strconv.Itoa(i)
}

func (s *Session) record(key string, r Result) {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	s.mu.Lock()
	s.outcomes[key] = r
	s.mu.Unlock()
}

func (s *Session) outcome(key string) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.outcomes[key]
	return r, ok
}

// Outcomes returns a copy of the outcome ledger.
func (s *Session) Outcomes() map[string]Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Result, len(s.outcomes))
	for k, v := range s.outcomes {
		out[k] = v
	}
	return out
}

// Failures lists the ledger keys currently in the failed state.
func (s *Session) Failures() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k, v := range s.outcomes {
		if v.State == OutcomeFailed {
			out = append(out, k)
		}
	}
	return out
}
