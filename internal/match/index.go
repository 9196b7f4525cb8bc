package match

import (
	"context"

	"opsdispatch/internal/store"
	logx "opsdispatch/pkg/logx"
)

// Index is the lookup context preloaded once per session: every valid parent
// container of each item type. Soft-deleted and archived containers are
// excluded at load time, so "parent present in the index" doubles as the
// validity check for task candidates.
type Index struct {
	containers map[string]containerInfo
	events     []Event
}

type containerInfo struct {
	title string
}

// ContainerTitle returns the title of a valid container ("" when the
// container is unknown, archived or deleted).
func (ix *Index) ContainerTitle(path string) string {
	if ix == nil {
		return ""
	}
	return ix.containers[path].title
}

// ValidParent reports whether the container may still own live work.
func (ix *Index) ValidParent(path string) bool {
	if ix == nil {
		return false
	}
	_, ok := ix.containers[path]
	return ok
}

// Events returns the preloaded, validity-filtered event list.
func (ix *Index) Events() []Event { return ix.events }

// LoadIndex fetches and filters the event and project containers. A failure
// on one container type degrades to an empty layer rather than failing the
// whole load, matching the "lookup errors degrade to no results" contract.
func (m *Matcher) LoadIndex(ctx context.Context) *Index {
	ix := &Index{containers: map[string]containerInfo{}}

	events, err := m.st.Query(ctx, store.Query{Collection: "events"})
	if err != nil {
		m.log.Warn("event index load failed", logx.Err(err))
	}
	for _, d := range events {
		if d.Bool("archived") || d.Bool("deleted") {
			continue
		}
		ix.containers[d.Path] = containerInfo{title: d.String("title")}
		ix.events = append(ix.events, eventFromDoc(d))
	}

	projects, err := m.st.Query(ctx, store.Query{Collection: "projects"})
	if err != nil {
		m.log.Warn("project index load failed", logx.Err(err))
	}
	for _, d := range projects {
		if d.Bool("archived") || d.Bool("deleted") {
			continue
		}
		ix.containers[d.Path] = containerInfo{title: d.String("name")}
	}

	return ix
}
