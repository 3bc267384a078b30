package schedule

import (
	"maps"
	"slices"
	"strconv"
	"time"

	"schedbot/internal/storage"
)

// Anchor is the boundary an announcement is relative to.
type Anchor string

const (
	AnchorStart Anchor = "start"
	AnchorEnd   Anchor = "end"
)

// Announcement is a custom message fired Offset before its anchor (after it,
// when Offset is negative). Target overrides the announcement channel.
// An announcement due at or after the end delays the occurrence follow-up
// (advance or destroy) until it has fired.
type Announcement struct {
	ID      string
	Anchor  Anchor
	Offset  time.Duration
	Message string
	Target  string
}

type Recurrence struct {
	// Pattern is an RFC 5545 RRULE body such as "FREQ=WEEKLY;BYDAY=MO,WE".
	// Empty means the entry does not repeat.
	Pattern   string
	OrigStart time.Time
	// Count is the number of occurrences left including the current one;
	// zero means unlimited.
	Count int
}

type Quiet struct {
	Start     bool
	End       bool
	Reminders bool
}

// RSVP tracks participants per category. A limit of 0 disables a category;
// a missing or negative limit means unlimited.
type RSVP struct {
	Members map[string][]string
	Limits  map[string]int
}

// Entry is an in-memory view of a stored record. It is never cached across
// operations; re-read it from the Manager when in doubt.
type Entry struct {
	ID          ID
	WorkspaceID string
	ChannelID   string
	MessageID   string
	ExternalID  string

	Title       string
	Comments    []string
	Description string
	Location    string
	URL         string
	Color       string
	Image       string
	Thumbnail   string

	Start      time.Time
	End        time.Time
	Deadline   time.Time
	Expire     time.Time
	Recurrence Recurrence
	HasStarted bool

	Reminders     []time.Duration
	EndReminders  []time.Duration
	Announcements []Announcement
	Quiet         Quiet

	RSVP RSVP

	// Fired holds the trigger keys already announced for this occurrence.
	Fired []string
}

func (e *Entry) HasFired(key string) bool { return slices.Contains(e.Fired, key) }

// Boundary is the next edge the display counts down to: the start until the
// entry has started, then the end.
func (e *Entry) Boundary() time.Time {
	if e.HasStarted {
		return e.End
	}
	return e.Start
}

// Limit reports the RSVP limit for category; ok is false when unlimited.
func (e *Entry) Limit(category string) (limit int, ok bool) {
	l, found := e.RSVP.Limits[category]
	if !found || l < 0 {
		return 0, false
	}
	return l, true
}

// Categories lists the RSVP categories known to the entry in stable order.
func (e *Entry) Categories() []string {
	seen := map[string]struct{}{}
	for k := range e.RSVP.Members {
		seen[k] = struct{}{}
	}
	for k := range e.RSVP.Limits {
		seen[k] = struct{}{}
	}
	return slices.Sorted(maps.Keys(seen))
}

func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	c.Comments = slices.Clone(e.Comments)
	c.Reminders = slices.Clone(e.Reminders)
	c.EndReminders = slices.Clone(e.EndReminders)
	c.Announcements = slices.Clone(e.Announcements)
	c.Fired = slices.Clone(e.Fired)
	c.RSVP.Limits = maps.Clone(e.RSVP.Limits)
	if e.RSVP.Members != nil {
		c.RSVP.Members = make(map[string][]string, len(e.RSVP.Members))
		for k, v := range e.RSVP.Members {
			c.RSVP.Members[k] = slices.Clone(v)
		}
	}
	return &c
}

// FromRecord rebuilds an entry from its persisted form.
func FromRecord(r *storage.Record) *Entry {
	if r == nil {
		return nil
	}
	e := &Entry{
		ID:           ID(r.ID),
		WorkspaceID:  r.WorkspaceID,
		ChannelID:    r.ChannelID,
		MessageID:    r.MessageID,
		ExternalID:   r.ExternalID,
		Title:        r.Title,
		Comments:     slices.Clone(r.Comments),
		Description:  r.Description,
		Location:     r.Location,
		URL:          r.URL,
		Color:        r.Color,
		Image:        r.Image,
		Thumbnail:    r.Thumbnail,
		Start:        r.Start,
		End:          r.End,
		Deadline:     r.Deadline,
		Expire:       r.Expire,
		HasStarted:   r.HasStarted,
		Reminders:    minutesToDurations(r.Reminders),
		EndReminders: minutesToDurations(r.EndReminders),
		Quiet:        Quiet{Start: r.StartQuiet, End: r.EndQuiet, Reminders: r.RemindersQuiet},
		Fired:        slices.Clone(r.Fired),
	}
	if r.Recurrence != nil {
		e.Recurrence = Recurrence{Pattern: r.Recurrence.Pattern, OrigStart: r.Recurrence.OrigStart, Count: r.Recurrence.Count}
	}
	for _, a := range r.Announcements {
		e.Announcements = append(e.Announcements, Announcement{
			ID:      a.ID,
			Anchor:  Anchor(a.Anchor),
			Offset:  time.Duration(a.Offset) * time.Minute,
			Message: a.Message,
			Target:  a.Target,
		})
	}
	e.RSVP.Limits = maps.Clone(r.RSVPLimits)
	if r.RSVPMembers != nil {
		e.RSVP.Members = make(map[string][]string, len(r.RSVPMembers))
		for k, v := range r.RSVPMembers {
			e.RSVP.Members[k] = slices.Clone(v)
		}
	}
	return e
}

// Record returns the persisted form of e.
func (e *Entry) Record() *storage.Record {
	r := &storage.Record{
		ID:             uint32(e.ID),
		WorkspaceID:    e.WorkspaceID,
		ChannelID:      e.ChannelID,
		MessageID:      e.MessageID,
		ExternalID:     e.ExternalID,
		Title:          e.Title,
		Comments:       slices.Clone(e.Comments),
		Description:    e.Description,
		Location:       e.Location,
		URL:            e.URL,
		Color:          e.Color,
		Image:          e.Image,
		Thumbnail:      e.Thumbnail,
		Start:          e.Start,
		End:            e.End,
		Deadline:       e.Deadline,
		Expire:         e.Expire,
		HasStarted:     e.HasStarted,
		Reminders:      durationsToMinutes(e.Reminders),
		EndReminders:   durationsToMinutes(e.EndReminders),
		StartQuiet:     e.Quiet.Start,
		EndQuiet:       e.Quiet.End,
		RemindersQuiet: e.Quiet.Reminders,
		Fired:          slices.Clone(e.Fired),
		RSVPLimits:     maps.Clone(e.RSVP.Limits),
	}
	if e.Recurrence.Pattern != "" {
		r.Recurrence = &storage.Recurrence{Pattern: e.Recurrence.Pattern, OrigStart: e.Recurrence.OrigStart, Count: e.Recurrence.Count}
	}
	for _, a := range e.Announcements {
		r.Announcements = append(r.Announcements, storage.Announcement{
			ID:      a.ID,
			Anchor:  string(a.Anchor),
			Offset:  int(a.Offset / time.Minute),
			Message: a.Message,
			Target:  a.Target,
		})
	}
	if e.RSVP.Members != nil {
		r.RSVPMembers = make(map[string][]string, len(e.RSVP.Members))
		for k, v := range e.RSVP.Members {
			r.RSVPMembers[k] = slices.Clone(v)
		}
	}
	return r
}

func minutesToDurations(in []int) []time.Duration {
	if in == nil {
		return nil
	}
	out := make([]time.Duration, len(in))
	for i, m := range in {
		out[i] = time.Duration(m) * time.Minute
	}
	return out
}

func durationsToMinutes(in []time.Duration) []int {
	if in == nil {
		return nil
	}
	out := make([]int, len(in))
	for i, d := range in {
		out[i] = int(d / time.Minute)
	}
	return out
}

// TriggerKind classifies a trigger.
type TriggerKind int

const (
	TriggerReminder TriggerKind = iota
	TriggerStart
	TriggerEndReminder
	TriggerEnd
	TriggerAnnounce
	TriggerExpire
)

// Trigger is one point in time at which an entry may announce something or
// change state. Key is unique within an occurrence and is what Fired records.
type Trigger struct {
	Key    string
	Kind   TriggerKind
	At     time.Time
	Offset time.Duration
	// Announce is set for TriggerAnnounce.
	Announce *Announcement
}

// Triggers lists every trigger of the current occurrence, unordered.
func (e *Entry) Triggers() []Trigger {
	out := make([]Trigger, 0, len(e.Reminders)+len(e.EndReminders)+len(e.Announcements)+3)
	for _, d := range e.Reminders {
		out = append(out, Trigger{Key: "reminder/" + d.String(), Kind: TriggerReminder, At: e.Start.Add(-d), Offset: d})
	}
	out = append(out, Trigger{Key: "start", Kind: TriggerStart, At: e.Start})
	for _, d := range e.EndReminders {
		out = append(out, Trigger{Key: "end-reminder/" + d.String(), Kind: TriggerEndReminder, At: e.End.Add(-d), Offset: d})
	}
	out = append(out, Trigger{Key: "end", Kind: TriggerEnd, At: e.End})
	for i := range e.Announcements {
		a := &e.Announcements[i]
		anchor := e.Start
		if a.Anchor == AnchorEnd {
			anchor = e.End
		}
		key := a.ID
		if key == "" {
			key = strconv.Itoa(i)
		}
		out = append(out, Trigger{Key: "announce/" + key, Kind: TriggerAnnounce, At: anchor.Add(-a.Offset), Offset: a.Offset, Announce: a})
	}
	if !e.Expire.IsZero() {
		out = append(out, Trigger{Key: "expire", Kind: TriggerExpire, At: e.Expire})
	}
	return out
}

// pendingAfterEnd reports whether an announcement due at or after the end of
// the current occurrence has not fired yet.
func (e *Entry) pendingAfterEnd() bool {
	for _, t := range e.Triggers() {
		if t.Kind == TriggerAnnounce && !t.At.Before(e.End) && !e.HasFired(t.Key) {
			return true
		}
	}
	return false
}

// Trigger returns the trigger with the given key.
func (e *Entry) Trigger(key string) (Trigger, bool) {
	for _, t := range e.Triggers() {
		if t.Key == key {
			return t, true
		}
	}
	return Trigger{}, false
}

// AddMember puts member into category, removing it from any other category.
func (e *Entry) AddMember(category, member string, now time.Time) error {
	if !slices.Contains(e.Categories(), category) {
		return ErrUnknownCategory
	}
	if !e.Deadline.IsZero() && now.After(e.Deadline) {
		return ErrRSVPClosed
	}
	if slices.Contains(e.RSVP.Members[category], member) {
		return nil
	}
	if limit, ok := e.Limit(category); ok && len(e.RSVP.Members[category]) >= limit {
		return ErrRSVPFull
	}
	e.RemoveMember(member)
	if e.RSVP.Members == nil {
		e.RSVP.Members = map[string][]string{}
	}
	e.RSVP.Members[category] = append(e.RSVP.Members[category], member)
	return nil
}

// RemoveMember drops member from every category and reports whether it was present.
func (e *Entry) RemoveMember(member string) bool {
	removed := false
	for k, v := range e.RSVP.Members {
		if i := slices.Index(v, member); i >= 0 {
			e.RSVP.Members[k] = slices.Delete(v, i, i+1)
			removed = true
		}
	}
	return removed
}
