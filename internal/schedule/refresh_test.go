package schedule

import (
	"context"
	"testing"
	"time"
)

func TestBandOf(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		start   time.Duration
		started bool
		want    Band
	}{
		{"days away", 48 * time.Hour, false, BandCoarse},
		{"just over a day", 24*time.Hour + time.Minute, false, BandCoarse},
		{"within a day", 24 * time.Hour, false, BandMedium},
		{"hours away", 3 * time.Hour, false, BandMedium},
		{"within an hour", time.Hour, false, BandFine},
		{"overdue", -time.Minute, false, BandFine},
		{"started", -10 * time.Minute, true, BandFine},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := baseEntry("x", t0.Add(tt.start))
			e.HasStarted = tt.started
			if got := BandOf(e, t0); got != tt.want {
				t.Fatalf("BandOf = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRefreshSkipsUnchangedDisplays(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	soon := h.create(t, baseEntry("Soon", t0.Add(30*time.Minute)))
	h.create(t, baseEntry("Later", t0.Add(3*time.Hour)))

	if n, err := h.m.Refresh(ctx, BandFine); err != nil || n != 0 {
		t.Fatalf("Refresh right after create = %d, %v", n, err)
	}

	h.clock.Set(t0.Add(10 * time.Minute))
	if n, err := h.m.Refresh(ctx, BandFine); err != nil || n != 1 {
		t.Fatalf("Refresh after countdown moved = %d, %v", n, err)
	}
	display, _ := h.chat.Message(soon.MessageID)
	if display.Edits != 1 {
		t.Fatalf("fine display edits = %d", display.Edits)
	}
	if n, _ := h.m.Refresh(ctx, BandFine); n != 0 {
		t.Fatalf("second Refresh edited %d displays", n)
	}
	if n, _ := h.m.Refresh(ctx, BandMedium); n != 1 {
		t.Fatalf("medium Refresh edited %d displays", n)
	}
}

func TestRefreshRepairsAfterFailedEdit(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	e := h.create(t, baseEntry("Soon", t0.Add(30*time.Minute)))

	h.clock.Set(t0.Add(10 * time.Minute))
	h.chat.SetFailEdit(1)
	if n, err := h.m.Refresh(ctx, BandFine); err != nil || n != 0 {
		t.Fatalf("Refresh with failing edit = %d, %v", n, err)
	}
	if n, _ := h.m.Refresh(ctx, BandFine); n != 1 {
		t.Fatalf("Refresh did not retry: %d", n)
	}
	display, _ := h.chat.Message(e.MessageID)
	if display.Edits != 1 {
		t.Fatalf("edits = %d", display.Edits)
	}
}
