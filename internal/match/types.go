package match

import (
	"time"

	"opsdispatch/internal/identity"
	"opsdispatch/internal/store"
)

// Task statuses considered "open" for reminder purposes.
const (
	StatusTodo            = "todo"
	StatusInProgress      = "in_progress"
	StatusStuck           = "stuck"
	StatusPendingApproval = "pending_approval"
)

// OpenStatuses in scan order.
var OpenStatuses = []string{StatusTodo, StatusInProgress, StatusStuck, StatusPendingApproval}

// Assignee is one entry of a task's multi-assignee list.
type Assignee struct {
	Ref   string
	Email string
	Name  string
	Phone string
}

// Task is a work item stored as a "tasks" subcollection document under an
// event or a project.
type Task struct {
	Path        string
	Title       string
	Status      string
	Due         time.Time
	Priority    string
	Description string
	Volunteer   bool // volunteer-scoped tasks deep-link to the personal task area

	AssigneeRef   string
	AssigneeEmail string
	AssigneeName  string
	Assignees     []Assignee
}

// ParentPath returns the owning container document path.
func (t Task) ParentPath() string { return store.ParentDoc(t.Path) }

// Event is a top-level container with a start time and a member list.
type Event struct {
	Path     string
	Title    string
	Start    time.Time
	Location string

	OwnerRef   string
	OwnerEmail string
	OwnerName  string
	Team       []Assignee
}

// matches reports whether the task's assignment fields or multi-assignee list
// match the identity, most-specific first: ref, email, name, then list
// membership by ref/email/name/normalized phone.
func (t Task) matches(id identity.Identity, countryCode string) bool {
	if id.UserRef != "" && id.UserRef == t.AssigneeRef {
		return true
	}
	if e := identity.NormalizeEmail(id.Email); e != "" && e == identity.NormalizeEmail(t.AssigneeEmail) {
		return true
	}
	if n := identity.NormalizeName(id.DisplayName); n != "" && n == identity.NormalizeName(t.AssigneeName) {
		return true
	}
	return memberMatch(t.Assignees, id, countryCode)
}

func (e Event) matches(id identity.Identity, countryCode string) bool {
	if id.UserRef != "" && id.UserRef == e.OwnerRef {
		return true
	}
	if em := identity.NormalizeEmail(id.Email); em != "" && em == identity.NormalizeEmail(e.OwnerEmail) {
		return true
	}
	if n := identity.NormalizeName(id.DisplayName); n != "" && n == identity.NormalizeName(e.OwnerName) {
		return true
	}
	return memberMatch(e.Team, id, countryCode)
}

func memberMatch(members []Assignee, id identity.Identity, countryCode string) bool {
	email := identity.NormalizeEmail(id.Email)
	name := identity.NormalizeName(id.DisplayName)
	phone := id.PhoneNormalized
	if phone == "" {
		phone = identity.NormalizePhone(id.Phone, countryCode)
	}
	for _, m := range members {
		if id.UserRef != "" && id.UserRef == m.Ref {
			return true
		}
		if email != "" && email == identity.NormalizeEmail(m.Email) {
			return true
		}
		if name != "" && name == identity.NormalizeName(m.Name) {
			return true
		}
		if phone != "" && phone == identity.NormalizePhone(m.Phone, countryCode) {
			return true
		}
	}
	return false
}

// ---- document decoding ----

func taskFromDoc(d store.Doc) Task {
	return Task{
		Path:          d.Path,
		Title:         d.String("title"),
		Status:        d.String("status"),
		Due:           d.Time("due"),
		Priority:      d.String("priority"),
		Description:   d.String("description"),
		Volunteer:     d.Bool("volunteer"),
		AssigneeRef:   d.String("assignee_ref"),
		AssigneeEmail: d.String("assignee_email"),
		AssigneeName:  d.String("assignee_name"),
		Assignees:     assigneesFromAny(d.Data["assignees"]),
	}
}

func eventFromDoc(d store.Doc) Event {
	return Event{
		Path:       d.Path,
		Title:      d.String("title"),
		Start:      d.Time("start"),
		Location:   d.String("location"),
		OwnerRef:   d.String("owner_ref"),
		OwnerEmail: d.String("owner_email"),
		OwnerName:  d.String("owner_name"),
		Team:       assigneesFromAny(d.Data["team"]),
	}
}

func assigneesFromAny(v any) []Assignee {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]Assignee, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		a := Assignee{}
		a.Ref, _ = m["ref"].(string)
		a.Email, _ = m["email"].(string)
		a.Name, _ = m["name"].(string)
		a.Phone, _ = m["phone"].(string)
		out = append(out, a)
	}
	return out
}
