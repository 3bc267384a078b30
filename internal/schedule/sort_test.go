package schedule

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestAutoSortReusesMessages(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		order SortOrder
		want  []string
	}{
		{"ascending", SortAscending, []string{"A", "B", "C"}},
		{"descending", SortDescending, []string{"C", "B", "A"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, func(s *Settings) { s.Defaults.AutoSort = tt.order })
			for _, c := range []struct {
				title string
				in    time.Duration
			}{{"C", 3 * time.Hour}, {"A", time.Hour}, {"B", 2 * time.Hour}} {
				h.create(t, baseEntry(c.title, t0.Add(c.in)))
			}

			live := h.chat.Live("c1")
			if len(live) != 3 {
				t.Fatalf("sort posted new messages: %d live", len(live))
			}
			for i, title := range tt.want {
				if !strings.HasPrefix(live[i].Text, "<b>"+title+"</b>") {
					t.Fatalf("message %d = %q, want %s", i, live[i].Text, title)
				}
			}

			entries, err := h.m.GetEntriesFromChannel(context.Background(), "c1")
			if err != nil {
				t.Fatalf("GetEntriesFromChannel: %v", err)
			}
			seen := map[string]bool{}
			for _, e := range entries {
				if seen[e.MessageID] {
					t.Fatalf("two entries share message %s", e.MessageID)
				}
				seen[e.MessageID] = true
				posted, _ := h.chat.Message(e.MessageID)
				if !strings.Contains(posted.Text, e.ID.String()) {
					t.Fatalf("entry %s points at message showing %q", e.ID, posted.Text)
				}
			}
		})
	}
}

func TestSortChannelOffIsNoop(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.create(t, baseEntry("C", t0.Add(3*time.Hour)))
	h.create(t, baseEntry("A", t0.Add(time.Hour)))
	if err := h.m.SortChannel(context.Background(), "c1", SortOff); err != nil {
		t.Fatalf("SortChannel: %v", err)
	}
	if live := h.chat.Live("c1"); !strings.HasPrefix(live[0].Text, "<b>C</b>") {
		t.Fatalf("first message = %q", live[0].Text)
	}
}

func TestCompareMessageIDs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		a, b string
		want int
	}{
		{"9", "10", -1},
		{"1001", "1001", 0},
		{"abc", "ab", 1},
		{"ab", "ac", -1},
	}
	for _, tt := range tests {
		if got := compareMessageIDs(tt.a, tt.b); got != tt.want {
			t.Fatalf("compareMessageIDs(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
