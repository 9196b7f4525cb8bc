package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("store: document not found")
	// ErrConflict signals a lost-update detected during a merge. Callers that
	// care (the dispatch gate) retry; everyone else treats it like any other
	// write error.
	ErrConflict = errors.New("store: merge conflict")
	ErrDisabled = errors.New("store: disabled")
)

// Config configures the backing document store.
//
// Driver values:
//   - "memory": in-process store (tests, dev)
//   - "sqlite": SQLite database file
//   - "postgres": Postgres via pgx (DSN in Path)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Doc is a point-in-time copy of a stored document. Data is a detached copy;
// mutating it does not write back.
type Doc struct {
	Path      string
	Data      map[string]any
	UpdatedAt time.Time
}

// String returns the string value of a top-level field ("" when absent or not
// a string).
func (d Doc) String(field string) string {
	s, _ := d.Data[field].(string)
	return s
}

// Bool returns the bool value of a top-level field.
func (d Doc) Bool(field string) bool {
	b, _ := d.Data[field].(bool)
	return b
}

// Time parses a top-level RFC3339 string field (zero time when absent or
// malformed).
func (d Doc) Time(field string) time.Time {
	s := d.String(field)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Query describes a single-filter read.
//
// The stores this package models (and the original backing service) cannot
// express OR across fields and cannot join; callers issue one Query per field
// and merge results themselves. Equality values are compared as strings.
type Query struct {
	// Collection is a collection path ("events", "events/e1/tasks").
	// When Group is set it is the bare subcollection name ("tasks") and the
	// query spans same-named subcollections of every parent.
	Collection string
	Group      bool

	Field  string // optional top-level field equality filter
	Equals string

	OrderBy string // optional top-level field to sort by (lexicographic)
	Limit   int    // 0 means no cap
}
