package schedule

import (
	"errors"
	"reflect"
	"slices"
	"testing"
	"time"
)

func TestTriggers(t *testing.T) {
	t.Parallel()
	e := baseEntry("Raid", t0)
	e.Reminders = []time.Duration{10 * time.Minute, time.Hour}
	e.EndReminders = []time.Duration{5 * time.Minute}
	e.Announcements = []Announcement{
		{ID: "prep", Anchor: AnchorStart, Offset: 30 * time.Minute},
		{Anchor: AnchorEnd, Offset: -15 * time.Minute},
	}
	e.Expire = t0.Add(24 * time.Hour)

	want := map[string]time.Time{
		"reminder/10m0s":    t0.Add(-10 * time.Minute),
		"reminder/1h0m0s":   t0.Add(-time.Hour),
		"start":             t0,
		"end-reminder/5m0s": t0.Add(55 * time.Minute),
		"end":               t0.Add(time.Hour),
		"announce/prep":     t0.Add(-30 * time.Minute),
		"announce/1":        t0.Add(75 * time.Minute),
		"expire":            t0.Add(24 * time.Hour),
	}
	got := e.Triggers()
	if len(got) != len(want) {
		t.Fatalf("got %d triggers, want %d", len(got), len(want))
	}
	for _, tr := range got {
		at, ok := want[tr.Key]
		if !ok {
			t.Fatalf("unexpected trigger %q", tr.Key)
		}
		if !tr.At.Equal(at) {
			t.Fatalf("%s at %v, want %v", tr.Key, tr.At, at)
		}
	}
	if tr, ok := e.Trigger("announce/prep"); !ok || tr.Kind != TriggerAnnounce || tr.Announce.ID != "prep" {
		t.Fatalf("Trigger(announce/prep) = %+v, %v", tr, ok)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	t.Parallel()
	e := &Entry{
		ID:            0xdeadbeef,
		WorkspaceID:   "ws",
		ChannelID:     "c1",
		MessageID:     "1001",
		Title:         "Raid",
		Comments:      []string{"bring snacks"},
		Description:   "weekly raid",
		Location:      "Discord",
		URL:           "https://example.org/raid",
		Start:         t0,
		End:           t0.Add(2 * time.Hour),
		Deadline:      t0.Add(-time.Hour),
		Expire:        t0.Add(30 * 24 * time.Hour),
		Recurrence:    Recurrence{Pattern: "FREQ=WEEKLY", OrigStart: t0, Count: 4},
		HasStarted:    true,
		Reminders:     []time.Duration{15 * time.Minute},
		EndReminders:  []time.Duration{5 * time.Minute},
		Announcements: []Announcement{{ID: "a", Anchor: AnchorEnd, Offset: -10 * time.Minute, Message: "%t over", Target: "ann"}},
		Quiet:         Quiet{End: true},
		RSVP: RSVP{
			Members: map[string][]string{"Yes": {"alice", "bob"}, "No": {}},
			Limits:  map[string]int{"Yes": 10},
		},
		Fired: []string{"start"},
	}
	if got := FromRecord(e.Record()); !reflect.DeepEqual(got, e) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, e)
	}
}

func TestAddMember(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		limits   map[string]int
		members  map[string][]string
		category string
		deadline time.Time
		wantErr  error
	}{
		{name: "unlimited", members: map[string][]string{"Yes": {"a", "b"}}, category: "Yes"},
		{name: "negative limit is unlimited", limits: map[string]int{"Yes": -1}, members: map[string][]string{"Yes": {"a"}}, category: "Yes"},
		{name: "full", limits: map[string]int{"Yes": 2}, members: map[string][]string{"Yes": {"a", "b"}}, category: "Yes", wantErr: ErrRSVPFull},
		{name: "zero disables", limits: map[string]int{"No": 0}, members: map[string][]string{"Yes": {}}, category: "No", wantErr: ErrRSVPFull},
		{name: "unknown", members: map[string][]string{"Yes": {}}, category: "Maybe", wantErr: ErrUnknownCategory},
		{name: "closed", members: map[string][]string{"Yes": {}}, category: "Yes", deadline: t0.Add(-time.Minute), wantErr: ErrRSVPClosed},
		{name: "open until deadline", members: map[string][]string{"Yes": {}}, category: "Yes", deadline: t0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := baseEntry("x", t0.Add(time.Hour))
			e.RSVP = RSVP{Members: tt.members, Limits: tt.limits}
			e.Deadline = tt.deadline
			err := e.AddMember(tt.category, "carol", t0)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("AddMember err = %v, want %v", err, tt.wantErr)
			}
			if err == nil && !slices.Contains(e.RSVP.Members[tt.category], "carol") {
				t.Fatalf("carol not added: %v", e.RSVP.Members)
			}
		})
	}
}

func TestAdvance(t *testing.T) {
	t.Parallel()
	newYork, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 2030-03-04 09:00 EST; DST starts 2030-03-10.
	dst := time.Date(2030, 3, 4, 9, 0, 0, 0, newYork)

	tests := []struct {
		name      string
		start     time.Time
		rec       Recurrence
		expire    time.Time
		loc       *time.Location
		wantOK    bool
		wantStart time.Time
		wantCount int
	}{
		{name: "not recurring", start: t0, wantOK: false},
		{name: "last occurrence", start: t0, rec: Recurrence{Pattern: "FREQ=DAILY", Count: 1}, wantOK: false},
		{name: "daily unlimited", start: t0, rec: Recurrence{Pattern: "FREQ=DAILY"}, loc: time.UTC, wantOK: true, wantStart: t0.Add(24 * time.Hour)},
		{name: "weekly counted", start: t0, rec: Recurrence{Pattern: "FREQ=WEEKLY", Count: 3}, loc: time.UTC, wantOK: true, wantStart: t0.Add(7 * 24 * time.Hour), wantCount: 2},
		{name: "past expire", start: t0, rec: Recurrence{Pattern: "FREQ=WEEKLY"}, expire: t0.Add(24 * time.Hour), loc: time.UTC, wantOK: false},
		{name: "rule ended", start: t0, rec: Recurrence{Pattern: "FREQ=DAILY;UNTIL=20300304T235959Z"}, loc: time.UTC, wantOK: false},
		{name: "wall clock across dst", start: dst, rec: Recurrence{Pattern: "FREQ=WEEKLY"}, loc: newYork, wantOK: true, wantStart: time.Date(2030, 3, 11, 9, 0, 0, 0, newYork)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := baseEntry("x", tt.start)
			e.Recurrence = tt.rec
			e.Expire = tt.expire
			e.HasStarted = true
			e.Fired = []string{"start", "end"}
			e.Deadline = tt.start.Add(-time.Hour)

			ok, err := e.Advance(tt.loc)
			if err != nil {
				t.Fatalf("Advance: %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("Advance = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				if !e.Start.Equal(tt.start) {
					t.Fatalf("start moved to %v on failed advance", e.Start)
				}
				return
			}
			if !e.Start.Equal(tt.wantStart) {
				t.Fatalf("start = %v, want %v", e.Start, tt.wantStart)
			}
			if e.End.Sub(e.Start) != time.Hour || e.Start.Sub(e.Deadline) != time.Hour {
				t.Fatalf("duration or deadline offset not kept: %v..%v deadline %v", e.Start, e.End, e.Deadline)
			}
			if e.Recurrence.Count != tt.wantCount || e.HasStarted || e.Fired != nil {
				t.Fatalf("state not reset: count=%d started=%v fired=%v", e.Recurrence.Count, e.HasStarted, e.Fired)
			}
		})
	}
}

func TestValidatePattern(t *testing.T) {
	t.Parallel()
	for _, p := range []string{"", "FREQ=DAILY", "FREQ=WEEKLY;BYDAY=MO,WE;COUNT=5"} {
		if err := ValidatePattern(p); err != nil {
			t.Fatalf("ValidatePattern(%q) = %v", p, err)
		}
	}
	if err := ValidatePattern("FREQ=SOMETIMES"); !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("ValidatePattern(bad) = %v", err)
	}
}
