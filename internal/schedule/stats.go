package schedule

import (
	"context"
	"maps"
	"slices"

	"schedbot/internal/storage"
)

// Stats is a point-in-time summary of the store and the announcement queue.
type Stats struct {
	Entries    int
	Recurring  int
	Started    int
	Workspaces int
	Channels   int
	Queued     int
}

func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	entries, err := m.find(ctx, storage.Filter{})
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Entries: len(entries), Queued: m.queue.len()}
	workspaces := map[string]struct{}{}
	channels := map[string]struct{}{}
	for _, e := range entries {
		workspaces[e.WorkspaceID] = struct{}{}
		channels[e.ChannelID] = struct{}{}
		if e.Recurrence.Pattern != "" {
			st.Recurring++
		}
		if e.HasStarted {
			st.Started++
		}
	}
	st.Workspaces = len(workspaces)
	st.Channels = len(channels)
	return st, nil
}

// ScheduleChannels lists every channel that holds at least one entry, sorted.
func (m *Manager) ScheduleChannels(ctx context.Context) ([]string, error) {
	entries, err := m.find(ctx, storage.Filter{})
	if err != nil {
		return nil, err
	}
	set := map[string]struct{}{}
	for _, e := range entries {
		set[e.ChannelID] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set)), nil
}
