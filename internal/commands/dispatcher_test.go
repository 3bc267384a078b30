package commands

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"schedbot/internal/schedule"
	"schedbot/internal/storage"
	"schedbot/internal/transport"
	"schedbot/internal/transport/chattest"
)

const chatID = "-1001"

var t0 = time.Date(2030, 3, 4, 12, 0, 0, 0, time.UTC)

type bot struct {
	d    *Dispatcher
	m    *schedule.Manager
	chat *chattest.Platform
}

func newBot(t *testing.T, mutate func(s *schedule.Settings)) *bot {
	t.Helper()
	store := storage.NewMemory()
	t.Cleanup(func() { _ = store.Close() })
	chat := chattest.New()
	s := schedule.DefaultSettings()
	s.Defaults.RSVPEnabled = true
	s.Defaults.RSVPOptions = schedule.DefaultRSVPOptions()
	if mutate != nil {
		mutate(&s)
	}
	m := schedule.NewManager(store, chat, s, schedule.WithClock(func() time.Time { return t0 }))
	return &bot{d: New(chat, m, WithAdmins([]string{"42"})), m: m, chat: chat}
}

func (b *bot) run(t *testing.T, from, text string) error {
	t.Helper()
	return b.d.Handle(context.Background(), transport.Message{
		ID:          "1",
		WorkspaceID: chatID,
		ChannelID:   chatID,
		FromID:      from,
		FromName:    "user" + from,
		Text:        text,
	})
}

func (b *bot) lastReply(t *testing.T) string {
	t.Helper()
	live := b.chat.Live(chatID)
	if len(live) == 0 {
		t.Fatal("nothing posted")
	}
	return live[len(live)-1].Text
}

func (b *bot) only(t *testing.T) *schedule.Entry {
	t.Helper()
	es, err := b.m.GetEntriesFromChannel(context.Background(), chatID)
	if err != nil || len(es) != 1 {
		t.Fatalf("entries = %d, %v", len(es), err)
	}
	return es[0]
}

func TestCreateListDestroy(t *testing.T) {
	t.Parallel()
	b := newBot(t, nil)
	if err := b.run(t, "7", `/create 2030-03-04T20:00:00Z 2h "Weekly raid" --remind 15m,5m --limit Yes=3 --desc "bring snacks"`); err != nil {
		t.Fatalf("create: %v", err)
	}
	e := b.only(t)
	if e.Title != "Weekly raid" || e.End.Sub(e.Start) != 2*time.Hour || e.Description != "bring snacks" {
		t.Fatalf("entry = %+v", e)
	}
	if len(e.Reminders) != 2 || e.RSVP.Limits["Yes"] != 3 {
		t.Fatalf("reminders=%v limits=%v", e.Reminders, e.RSVP.Limits)
	}

	if err := b.run(t, "7", "/list"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if reply := b.lastReply(t); !strings.Contains(reply, e.ID.String()) || !strings.Contains(reply, "Weekly raid") {
		t.Fatalf("list reply = %q", reply)
	}

	if err := b.run(t, "7", "/destroy "+e.ID.String()); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if _, ok, _ := b.m.GetEntry(context.Background(), e.ID); ok {
		t.Fatal("entry survived /destroy")
	}
	if reply := b.lastReply(t); !strings.Contains(reply, "Removed") {
		t.Fatalf("destroy reply = %q", reply)
	}
}

func TestCreateInLocalTime(t *testing.T) {
	t.Parallel()
	b := newBot(t, func(s *schedule.Settings) { s.Location = time.FixedZone("UTC+2", 2*60*60) })
	if err := b.run(t, "7", "/create 2030-03-04T20:00 90m Raid"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := b.only(t).Start; !got.Equal(time.Date(2030, 3, 4, 18, 0, 0, 0, time.UTC)) {
		t.Fatalf("start = %v", got)
	}
}

func TestUsageErrorsAreReplied(t *testing.T) {
	t.Parallel()
	tests := []string{
		"/create tomorrow",
		"/create soon 2h Raid",
		"/create 2030-03-04T20:00 forever Raid",
		"/create 2030-03-04T20:00 2h Raid --count many",
		"/create 2030-03-04T20:00 2h Raid --quiet loudly",
		"/create 2030-03-04T20:00 2h Raid --limit Yes",
		"/create 2030-03-04T20:00 2h Raid --remind 30s",
		"/create 2030-03-04T20:00 2h Raid --end-remind 5m,59s",
		"/destroy",
		"/rsvp zzz",
		"/sort sideways",
	}
	for _, text := range tests {
		t.Run(text, func(t *testing.T) {
			t.Parallel()
			b := newBot(t, nil)
			if err := b.run(t, "7", text); !errors.Is(err, errUsage) {
				t.Fatalf("err = %v, want usage error", err)
			}
			if reply := b.lastReply(t); !strings.Contains(reply, "Usage:") {
				t.Fatalf("reply = %q", reply)
			}
		})
	}
}

func TestCreateRespectsLimit(t *testing.T) {
	t.Parallel()
	b := newBot(t, func(s *schedule.Settings) { s.MaxEntries = 1 })
	if err := b.run(t, "7", "/create 2030-03-04T20:00 1h One"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := b.run(t, "7", "/create 2030-03-04T21:00 1h Two"); !errors.Is(err, errLimitReached) {
		t.Fatalf("second create err = %v", err)
	}
	b.only(t)
}

func TestBadRecurrenceRejected(t *testing.T) {
	t.Parallel()
	b := newBot(t, nil)
	err := b.run(t, "7", "/create 2030-03-04T20:00 1h Raid --repeat FREQ=SOMETIMES")
	if !errors.Is(err, schedule.ErrInvalidEntry) {
		t.Fatalf("err = %v", err)
	}
}

func TestEdit(t *testing.T) {
	t.Parallel()
	b := newBot(t, nil)
	if err := b.run(t, "7", "/create 2030-03-04T20:00 1h Raid"); err != nil {
		t.Fatalf("create: %v", err)
	}
	id := b.only(t).ID.String()
	if err := b.run(t, "7", "/edit "+id+` --title "Big raid" --duration 3h --quiet start`); err != nil {
		t.Fatalf("edit: %v", err)
	}
	e := b.only(t)
	if e.Title != "Big raid" || e.End.Sub(e.Start) != 3*time.Hour || !e.Quiet.Start {
		t.Fatalf("entry = %+v", e)
	}
	display, _ := b.chat.Message(e.MessageID)
	if !strings.Contains(display.Text, "Big raid") {
		t.Fatalf("display = %q", display.Text)
	}
}

func TestDestroyAllNeedsAdmin(t *testing.T) {
	t.Parallel()
	b := newBot(t, nil)
	for _, title := range []string{"A", "B"} {
		if err := b.run(t, "7", "/create 2030-03-04T20:00 1h "+title); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := b.run(t, "7", "/destroy all"); !errors.Is(err, errUnauthorized) {
		t.Fatalf("non-admin destroy all err = %v", err)
	}
	if err := b.run(t, "42", "/destroy all"); err != nil {
		t.Fatalf("admin destroy all: %v", err)
	}
	if reply := b.lastReply(t); !strings.Contains(reply, "Removed 2 events") {
		t.Fatalf("reply = %q", reply)
	}
}

func TestCommandsAreScopedToWorkspace(t *testing.T) {
	t.Parallel()
	b := newBot(t, nil)
	if err := b.run(t, "7", "/create 2030-03-04T20:00 1h Raid"); err != nil {
		t.Fatalf("create: %v", err)
	}
	id := b.only(t).ID.String()
	err := b.d.Handle(context.Background(), transport.Message{WorkspaceID: "-2002", ChannelID: "-2002", FromID: "7", Text: "/destroy " + id})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("cross-workspace destroy err = %v", err)
	}
	b.only(t)
}

func TestRSVPCommands(t *testing.T) {
	t.Parallel()
	b := newBot(t, nil)
	if err := b.run(t, "7", "/create 2030-03-04T20:00 1h Raid --limit No=0"); err != nil {
		t.Fatalf("create: %v", err)
	}
	id := b.only(t).ID.String()

	if err := b.run(t, "7", "/rsvp "+id); err != nil {
		t.Fatalf("rsvp: %v", err)
	}
	if got := b.only(t).RSVP.Members["Yes"]; len(got) != 1 || got[0] != "user7" {
		t.Fatalf("Yes = %v", got)
	}
	if err := b.run(t, "8", "/rsvp "+id+" no"); !errors.Is(err, schedule.ErrRSVPFull) {
		t.Fatalf("rsvp into zero-limit option err = %v", err)
	}
	if err := b.run(t, "8", "/rsvp "+id+" Later"); !errors.Is(err, schedule.ErrUnknownCategory) {
		t.Fatalf("rsvp unknown option err = %v", err)
	}
	if err := b.run(t, "7", "/unrsvp "+id); err != nil {
		t.Fatalf("unrsvp: %v", err)
	}
	if got := b.only(t).RSVP.Members["Yes"]; len(got) != 0 {
		t.Fatalf("Yes after unrsvp = %v", got)
	}
}

func TestReactionsDriveRSVP(t *testing.T) {
	t.Parallel()
	b := newBot(t, func(s *schedule.Settings) { s.Defaults.RSVPClear = "🚫" })
	if err := b.run(t, "7", "/create 2030-03-04T20:00 1h Raid"); err != nil {
		t.Fatalf("create: %v", err)
	}
	e := b.only(t)
	if disp, _ := b.chat.Message(e.MessageID); !slices.Equal(disp.Affordances, []string{"✅", "❌", "🚫"}) {
		t.Fatalf("affordances = %v", disp.Affordances)
	}

	steps := []struct {
		emoji   string
		yes, no int
	}{
		{"✅", 1, 0},
		{"❌", 0, 1},
		{"🎉", 0, 1},
		{"🚫", 0, 0},
	}
	for _, st := range steps {
		err := b.d.HandleReaction(context.Background(), transport.Reaction{
			WorkspaceID: chatID, ChannelID: chatID, MessageID: e.MessageID,
			FromID: "7", FromName: "user7", Emoji: st.emoji,
		})
		if err != nil {
			t.Fatalf("react %s: %v", st.emoji, err)
		}
		got := b.only(t).RSVP.Members
		if len(got["Yes"]) != st.yes || len(got["No"]) != st.no {
			t.Fatalf("after %s: members = %v", st.emoji, got)
		}
	}

	err := b.d.HandleReaction(context.Background(), transport.Reaction{
		ChannelID: chatID, MessageID: "nope", FromID: "7", Emoji: "✅",
	})
	if err != nil {
		t.Fatalf("reaction on unknown message: %v", err)
	}
}

func TestStatsIsAdminOnly(t *testing.T) {
	t.Parallel()
	b := newBot(t, nil)
	if err := b.run(t, "7", "/create 2030-03-04T20:00 1h Raid"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := b.run(t, "7", "/stats"); !errors.Is(err, errUnauthorized) {
		t.Fatalf("non-admin stats err = %v", err)
	}
	if err := b.run(t, "42", "/stats"); err != nil {
		t.Fatalf("stats: %v", err)
	}
	reply := b.lastReply(t)
	for _, want := range []string{"<b>Stats</b>", "entries     1", "workspaces  1", "uptime"} {
		if !strings.Contains(reply, want) {
			t.Fatalf("stats reply lacks %q: %q", want, reply)
		}
	}
}

func TestAnnounceReachesEveryScheduleChat(t *testing.T) {
	t.Parallel()
	b := newBot(t, nil)
	if err := b.run(t, "7", "/create 2030-03-04T20:00 1h Raid"); err != nil {
		t.Fatalf("create: %v", err)
	}
	const other = "-1002"
	err := b.d.Handle(context.Background(), transport.Message{
		ID: "2", WorkspaceID: other, ChannelID: other, FromID: "7", Text: "/create 2030-03-05T20:00 1h Dungeon",
	})
	if err != nil {
		t.Fatalf("create in %s: %v", other, err)
	}

	if err := b.run(t, "7", "/announce hi"); !errors.Is(err, errUnauthorized) {
		t.Fatalf("non-admin announce err = %v", err)
	}
	if err := b.run(t, "42", "/announcement"); !errors.Is(err, errUsage) {
		t.Fatalf("empty announce err = %v", err)
	}
	if err := b.run(t, "42", "/announce Maintenance <tonight>  at 22:00"); err != nil {
		t.Fatalf("announce: %v", err)
	}
	for _, ch := range []string{chatID, other} {
		var found bool
		for _, m := range b.chat.Live(ch) {
			if m.Text == "📣 Maintenance &lt;tonight&gt;  at 22:00" {
				found = true
			}
		}
		if !found {
			t.Fatalf("%s missed the announcement: %+v", ch, b.chat.Live(ch))
		}
	}
	if reply := b.lastReply(t); reply != "Announcement sent to 2 of 2 chats." {
		t.Fatalf("reply = %q", reply)
	}
}

func TestBeginAndReload(t *testing.T) {
	t.Parallel()
	b := newBot(t, nil)
	if err := b.run(t, "7", "/create 2030-03-04T20:00 1h Raid"); err != nil {
		t.Fatalf("create: %v", err)
	}
	e := b.only(t)
	if err := b.run(t, "7", "/begin "+e.ID.String()); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if !b.only(t).HasStarted {
		t.Fatal("not started")
	}
	if err := b.run(t, "7", "/reload "+e.ID.String()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	display, _ := b.chat.Message(e.MessageID)
	if display.Edits != 2 {
		t.Fatalf("display edits = %d", display.Edits)
	}
}

func TestUnknownCommandAndHelp(t *testing.T) {
	t.Parallel()
	b := newBot(t, nil)
	if err := b.run(t, "7", "/frobnicate"); !errors.Is(err, errUnknownCommand) {
		t.Fatalf("err = %v", err)
	}
	if err := b.run(t, "7", "/help@schedbot"); err != nil {
		t.Fatalf("help: %v", err)
	}
	if reply := b.lastReply(t); !strings.Contains(reply, "/create") || !strings.Contains(reply, "/rsvp") {
		t.Fatalf("help = %q", reply)
	}
	if err := b.run(t, "7", "/help rm"); err != nil {
		t.Fatalf("help rm: %v", err)
	}
	if reply := b.lastReply(t); !strings.Contains(reply, "/destroy &lt;id|all&gt;") {
		t.Fatalf("help rm = %q", reply)
	}
	if err := b.run(t, "7", "not a command"); err != nil {
		t.Fatalf("plain text err = %v", err)
	}
}

func TestRunDispatchesConcurrently(t *testing.T) {
	t.Parallel()
	b := newBot(t, nil)
	updates := make(chan transport.Update)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.d.Run(ctx, updates) }()

	for i := 0; i < 5; i++ {
		updates <- transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{
			ID: strconv.Itoa(i), WorkspaceID: chatID, ChannelID: chatID, FromID: "7",
			Text: "/create 2030-03-04T20:00 1h Raid",
		}}
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		es, _ := b.m.GetEntriesFromChannel(context.Background(), chatID)
		if len(es) == 5 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d entries created", len(es))
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestPublishMenu(t *testing.T) {
	t.Parallel()
	b := newBot(t, nil)
	if err := b.d.PublishMenu(context.Background()); err != nil {
		t.Fatalf("PublishMenu: %v", err)
	}
	menu := b.chat.Menu()
	names := map[string]bool{}
	for _, c := range menu {
		names[c.Command] = true
	}
	for _, want := range []string{"create", "list", "destroy", "rsvp", "help"} {
		if !names[want] {
			t.Fatalf("menu %v lacks %q", menu, want)
		}
	}
	if names["ls"] {
		t.Fatal("aliases leaked into the menu")
	}
}
