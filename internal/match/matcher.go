// Package match finds the open work and upcoming events that belong to a
// recipient.
//
// The backing store cannot express "OR across four assignment fields" in one
// query, so the matcher runs an ordered list of query strategies - targeted
// per-field equality queries first, then capped per-status scans, then one
// capped unrestricted scan as a last resort - deduplicating into a shared
// accumulator keyed by document path. Every candidate is checked against its
// parent container's validity before it is kept.
package match

import (
	"context"
	"sort"
	"time"

	"opsdispatch/internal/identity"
	"opsdispatch/internal/store"
	logx "opsdispatch/pkg/logx"
)

const (
	// DefaultTaskCap bounds the final open-tasks result.
	DefaultTaskCap = 40
	// DefaultScanCap bounds each fallback scan.
	DefaultScanCap = 200
	// DefaultEventCap bounds the upcoming-events result.
	DefaultEventCap = 3
)

type Config struct {
	TaskCap  int
	ScanCap  int
	EventCap int
}

type Matcher struct {
	st          store.Store
	countryCode string
	cfg         Config
	log         logx.Logger
}

func New(cfg Config, st store.Store, countryCode string, log logx.Logger) *Matcher {
	if cfg.TaskCap <= 0 {
		cfg.TaskCap = DefaultTaskCap
	}
	if cfg.ScanCap <= 0 {
		cfg.ScanCap = DefaultScanCap
	}
	if cfg.EventCap <= 0 {
		cfg.EventCap = DefaultEventCap
	}
	if countryCode == "" {
		countryCode = identity.DefaultCountryCode
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Matcher{st: st, countryCode: countryCode, cfg: cfg, log: log}
}

// OpenTasks finds open work items assigned to the identity. Lookup-layer
// errors degrade to empty layers; the caller always gets a (possibly empty)
// list, capped and sorted by nearest due date (no due date sorts last).
func (m *Matcher) OpenTasks(ctx context.Context, id identity.Identity, ix *Index) []Task {
	acc := newAccumulator(ix, m.cfg.TaskCap)

	// Targeted queries, most-specific field first. The store allows one
	// equality per query, so status is filtered in memory.
	targeted := []struct {
		field string
		value string
	}{
		{"assignee_ref", id.UserRef},
		{"assignee_email", identity.NormalizeEmail(id.Email)},
		{"assignee_name", identity.NormalizeName(id.DisplayName)},
	}
	for _, q := range targeted {
		if q.value == "" {
			continue
		}
		docs, err := m.st.Query(ctx, store.Query{
			Collection: "tasks",
			Group:      true,
			Field:      q.field,
			Equals:     q.value,
			Limit:      m.cfg.ScanCap,
		})
		if err != nil {
			m.log.Debug("targeted task query failed", logx.String("field", q.field), logx.Err(err))
			continue
		}
		for _, d := range docs {
			t := taskFromDoc(d)
			if isOpen(t.Status) {
				acc.add(t)
			}
		}
	}

	// Membership inside a multi-assignee list cannot be queried at all;
	// scan per status, bounded, and match in memory.
	for _, status := range OpenStatuses {
		docs, err := m.st.Query(ctx, store.Query{
			Collection: "tasks",
			Group:      true,
			Field:      "status",
			Equals:     status,
			Limit:      m.cfg.ScanCap,
		})
		if err != nil {
			m.log.Debug("status scan failed", logx.String("status", status), logx.Err(err))
			continue
		}
		for _, d := range docs {
			t := taskFromDoc(d)
			if t.matches(id, m.countryCode) {
				acc.add(t)
			}
		}
	}

	// Last resort: one unrestricted scan, still capped, in case the data is
	// shaped in a way none of the targeted strategies could reach.
	if acc.empty() {
		docs, err := m.st.Query(ctx, store.Query{Collection: "tasks", Group: true, Limit: m.cfg.ScanCap})
		if err != nil {
			m.log.Debug("unrestricted task scan failed", logx.Err(err))
		}
		for _, d := range docs {
			t := taskFromDoc(d)
			if isOpen(t.Status) && t.matches(id, m.countryCode) {
				acc.add(t)
			}
		}
	}

	return acc.sorted()
}

// UpcomingEvents returns the soonest future events the identity owns or is a
// team member of, at most EventCap of them.
func (m *Matcher) UpcomingEvents(_ context.Context, id identity.Identity, ix *Index, now time.Time) []Event {
	if ix == nil {
		return nil
	}
	var out []Event
	for _, ev := range ix.Events() {
		if ev.Start.IsZero() || !ev.Start.After(now) {
			continue
		}
		if !ev.matches(id, m.countryCode) {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	if len(out) > m.cfg.EventCap {
		out = out[:m.cfg.EventCap]
	}
	return out
}

func isOpen(status string) bool {
	for _, s := range OpenStatuses {
		if status == s {
			return true
		}
	}
	return false
}

// accumulator dedupes candidates by path as strategies run and enforces the
// parent-validity check and the result cap.
type accumulator struct {
	ix   *Index
	cap  int
	seen map[string]struct{}
	out  []Task
}

func newAccumulator(ix *Index, cap int) *accumulator {
	return &accumulator{ix: ix, cap: cap, seen: map[string]struct{}{}}
}

func (a *accumulator) add(t Task) {
	if len(a.out) >= a.cap {
		return
	}
	if _, dup := a.seen[t.Path]; dup {
		return
	}
	a.seen[t.Path] = struct{}{}
	if !a.ix.ValidParent(t.ParentPath()) {
		return
	}
	a.out = append(a.out, t)
}

func (a *accumulator) empty() bool { return len(a.seen) == 0 }

func (a *accumulator) sorted() []Task {
	sort.SliceStable(a.out, func(i, j int) bool {
		di, dj := a.out[i].Due, a.out[j].Due
		switch {
		case di.IsZero() && dj.IsZero():
			return a.out[i].Path < a.out[j].Path
		case di.IsZero():
			return false
		case dj.IsZero():
			return true
		default:
			return di.Before(dj)
		}
	})
	return a.out
}
