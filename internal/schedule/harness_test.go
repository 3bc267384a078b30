package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"schedbot/internal/storage"
	"schedbot/internal/transport/chattest"
)

var t0 = time.Date(2030, 3, 4, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type harness struct {
	m     *Manager
	chat  *chattest.Platform
	store storage.Store
	clock *fakeClock
}

func newHarness(t *testing.T, mutate func(s *Settings)) *harness {
	t.Helper()
	return newHarnessWithStore(t, storage.NewMemory(), mutate)
}

func newHarnessWithStore(t *testing.T, store storage.Store, mutate func(s *Settings)) *harness {
	t.Helper()
	s := DefaultSettings()
	s.MaxEntries = 0
	if mutate != nil {
		mutate(&s)
	}
	clock := &fakeClock{t: t0}
	chat := chattest.New()
	m := NewManager(store, chat, s, WithClock(clock.Now))
	t.Cleanup(func() { _ = store.Close() })
	return &harness{m: m, chat: chat, store: store, clock: clock}
}

func baseEntry(title string, start time.Time) *Entry {
	return &Entry{
		WorkspaceID: "ws",
		ChannelID:   "c1",
		Title:       title,
		Start:       start,
		End:         start.Add(time.Hour),
	}
}

func (h *harness) create(t *testing.T, e *Entry) *Entry {
	t.Helper()
	id, err := h.m.NewEntry(context.Background(), e, true)
	if err != nil {
		t.Fatalf("NewEntry: %v", err)
	}
	got, ok, err := h.m.GetEntry(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("GetEntry(%s) = %v, %v", id, ok, err)
	}
	return got
}

func (h *harness) get(t *testing.T, id ID) *Entry {
	t.Helper()
	e, ok, err := h.m.GetEntry(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("GetEntry(%s) = %v, %v", id, ok, err)
	}
	return e
}

// pass runs one FILL and one EMPTY at the given time.
func (h *harness) pass(t *testing.T, at time.Time) {
	t.Helper()
	h.clock.Set(at)
	ctx := context.Background()
	if err := h.m.Fill(ctx); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if err := h.m.Empty(ctx); err != nil {
		t.Fatalf("Empty: %v", err)
	}
}
