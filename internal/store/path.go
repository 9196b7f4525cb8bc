package store

import (
	"fmt"
	"strings"
)

// Document paths alternate collection and id segments:
// "events/e1/tasks/t7" is doc t7 in subcollection tasks of doc events/e1.

// SplitPath validates a document path and returns its parent collection path
// and the bare (leaf) collection name.
func SplitPath(path string) (collection, leaf string, err error) {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	if len(segs) < 2 || len(segs)%2 != 0 {
		return "", "", fmt.Errorf("store: invalid document path %q", path)
	}
	for _, s := range segs {
		if s == "" {
			return "", "", fmt.Errorf("store: invalid document path %q", path)
		}
	}
	collection = strings.Join(segs[:len(segs)-1], "/")
	leaf = segs[len(segs)-2]
	return collection, leaf, nil
}

// ParentDoc returns the path of the document that owns this one
// ("events/e1/tasks/t7" -> "events/e1"), or "" for top-level docs.
func ParentDoc(path string) string {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	if len(segs) < 4 {
		return ""
	}
	return strings.Join(segs[:len(segs)-2], "/")
}

// Join builds a document path from alternating collection/id parts.
func Join(parts ...string) string {
	return strings.Join(parts, "/")
}
