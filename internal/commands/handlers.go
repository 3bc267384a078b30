package commands

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"schedbot/internal/schedule"
	logx "schedbot/pkg/logx"
)

func builtins() []Command {
	return []Command{
		{
			Name:        "create",
			Aliases:     []string{"new"},
			Description: "create an event in this chat",
			Usage:       "/create <start> <duration> <title…> [--remind 15m,5m] [--end-remind 5m] [--repeat RRULE] [--count N] [--expire TIME] [--deadline TIME] [--desc TEXT] [--location TEXT] [--url URL] [--limit Yes=5,No=0] [--quiet start,end,reminders]",
			Handle:      handleCreate,
		},
		{
			Name:        "edit",
			Description: "change an event",
			Usage:       "/edit <id> [--title T] [--start TIME] [--duration D] plus any /create flag",
			Handle:      handleEdit,
		},
		{
			Name:        "list",
			Aliases:     []string{"ls"},
			Description: "list the events of this chat",
			Usage:       "/list",
			Handle:      handleList,
		},
		{
			Name:        "destroy",
			Aliases:     []string{"rm"},
			Description: "delete an event, or all events of this chat (admins)",
			Usage:       "/destroy <id|all>",
			Handle:      handleDestroy,
		},
		{
			Name:        "begin",
			Description: "mark an event as started now",
			Usage:       "/begin <id>",
			Handle:      handleBegin,
		},
		{
			Name:        "reload",
			Description: "redraw an event message",
			Usage:       "/reload <id>",
			Handle:      handleReload,
		},
		{
			Name:        "rsvp",
			Description: "join an event",
			Usage:       "/rsvp <id> [option]",
			Handle:      handleRSVP,
		},
		{
			Name:        "unrsvp",
			Description: "leave an event",
			Usage:       "/unrsvp <id>",
			Handle:      handleUnRSVP,
		},
		{
			Name:        "sort",
			Description: "reorder this chat's event messages by start",
			Usage:       "/sort [asc|desc]",
			Handle:      handleSort,
		},
	}
}

func handleCreate(ctx context.Context, req *Request) error {
	if len(req.Args) < 3 {
		return usagef("need a start, a duration and a title")
	}
	s := req.Engine.Settings()
	start, err := parseWhen(req.Args[0], s.Location)
	if err != nil {
		return err
	}
	dur, err := parseLength(req.Args[1])
	if err != nil {
		return err
	}
	e := &schedule.Entry{
		WorkspaceID: req.Msg.WorkspaceID,
		ChannelID:   req.Msg.ChannelID,
		Title:       strings.Join(req.Args[2:], " "),
		Start:       start,
		End:         start.Add(dur),
	}
	if err := applyFlags(e, req.Flags, s.Location); err != nil {
		return err
	}

	reached, err := req.Engine.IsLimitReached(ctx, req.Msg.WorkspaceID)
	if err != nil {
		return err
	}
	if reached {
		return errLimitReached
	}
	id, err := req.Engine.NewEntry(ctx, e, true)
	if err != nil {
		return err
	}
	req.Logger.Info("event created", logx.String("id", id.String()))
	return nil
}

func handleEdit(ctx context.Context, req *Request) error {
	e, err := entryArg(ctx, req)
	if err != nil {
		return err
	}
	s := req.Engine.Settings()
	dur := e.End.Sub(e.Start)
	if v, ok := req.Flags["title"]; ok {
		if strings.TrimSpace(v) == "" {
			return usagef("title cannot be empty")
		}
		e.Title = v
	}
	if v, ok := req.Flags["duration"]; ok {
		if dur, err = parseLength(v); err != nil {
			return err
		}
	}
	if v, ok := req.Flags["start"]; ok {
		if e.Start, err = parseWhen(v, s.Location); err != nil {
			return err
		}
	}
	e.End = e.Start.Add(dur)
	if err := applyFlags(e, req.Flags, s.Location); err != nil {
		return err
	}
	if err := req.Engine.UpdateEntry(ctx, e, true); err != nil {
		return err
	}
	return req.Reply(ctx, "✅ Updated <code>"+e.ID.String()+"</code>.")
}

func handleList(ctx context.Context, req *Request) error {
	entries, err := req.Engine.GetEntriesFromChannel(ctx, req.Msg.ChannelID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return req.Reply(ctx, "No events in this chat.")
	}
	loc := req.Engine.Settings().Location
	lines := []string{"🗓 <b>Events</b>"}
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("<code>%s</code> %s · %s",
			e.ID, html.EscapeString(e.Title), html.EscapeString(e.Start.In(loc).Format("Mon Jan 2 15:04 MST"))))
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func handleDestroy(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return usagef("need an event id or \"all\"")
	}
	if strings.EqualFold(req.Args[0], "all") {
		if !req.Admin {
			return errUnauthorizedAll
		}
		n, err := req.Engine.DestroyWorkspace(ctx, req.Msg.WorkspaceID)
		if err != nil {
			return err
		}
		return req.Reply(ctx, fmt.Sprintf("🗑 Removed %d events.", n))
	}
	e, err := entryArg(ctx, req)
	if err != nil {
		return err
	}
	ok, err := req.Engine.Destroy(ctx, e.ID)
	if err != nil {
		return err
	}
	if !ok {
		return req.Reply(ctx, "Already gone.")
	}
	return req.Reply(ctx, "🗑 Removed <code>"+e.ID.String()+"</code>.")
}

func handleBegin(ctx context.Context, req *Request) error {
	e, err := entryArg(ctx, req)
	if err != nil {
		return err
	}
	if err := req.Engine.StartEvent(ctx, e.ID); err != nil {
		return err
	}
	return req.Engine.ReloadEntry(ctx, e.ID)
}

func handleReload(ctx context.Context, req *Request) error {
	e, err := entryArg(ctx, req)
	if err != nil {
		return err
	}
	return req.Engine.ReloadEntry(ctx, e.ID)
}

func handleRSVP(ctx context.Context, req *Request) error {
	e, err := entryArg(ctx, req)
	if err != nil {
		return err
	}
	category := ""
	if len(req.Args) > 1 {
		category = strings.Join(req.Args[1:], " ")
	} else if cats := e.Categories(); len(cats) > 0 {
		category = defaultCategory(req.Engine.Settings().Channel(e.ChannelID), cats)
	}
	if category == "" {
		return usagef("this event has no RSVP options")
	}
	_, err = req.Engine.RSVP(ctx, e.ID, matchCategory(e.Categories(), category), req.Member())
	return err
}

func handleUnRSVP(ctx context.Context, req *Request) error {
	e, err := entryArg(ctx, req)
	if err != nil {
		return err
	}
	_, err = req.Engine.CancelRSVP(ctx, e.ID, req.Member())
	return err
}

func handleSort(ctx context.Context, req *Request) error {
	order := schedule.SortAscending
	if len(req.Args) > 0 {
		switch strings.ToLower(req.Args[0]) {
		case "asc":
		case "desc":
			order = schedule.SortDescending
		default:
			return usagef("order must be asc or desc")
		}
	}
	return req.Engine.SortChannel(ctx, req.Msg.ChannelID, order)
}

// entryArg resolves Args[0] to an entry of the sender's workspace.
func entryArg(ctx context.Context, req *Request) (*schedule.Entry, error) {
	if len(req.Args) == 0 {
		return nil, usagef("need an event id")
	}
	id, err := schedule.ParseID(req.Args[0])
	if err != nil {
		return nil, usagef("%q is not an event id", req.Args[0])
	}
	e, ok, err := req.Engine.GetEntryFromWorkspace(ctx, id, req.Msg.WorkspaceID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNoSuchEvent
	}
	return e, nil
}

// defaultCategory is the first configured option the entry still offers.
func defaultCategory(cs schedule.ChannelSettings, cats []string) string {
	for _, o := range cs.RSVPOptions {
		if matchCategory(cats, o.Category) == o.Category {
			return o.Category
		}
	}
	return cats[0]
}

// matchCategory returns the entry's spelling of name, ignoring case.
func matchCategory(cats []string, name string) string {
	for _, c := range cats {
		if strings.EqualFold(c, name) {
			return c
		}
	}
	return name
}

func applyFlags(e *schedule.Entry, flags map[string]string, loc *time.Location) error {
	var err error
	if v, ok := flags["remind"]; ok {
		if e.Reminders, err = parseOffsets("remind", v); err != nil {
			return err
		}
	}
	if v, ok := flags["end-remind"]; ok {
		if e.EndReminders, err = parseOffsets("end-remind", v); err != nil {
			return err
		}
	}
	if v, ok := flags["repeat"]; ok {
		if err := schedule.ValidatePattern(v); err != nil {
			return err
		}
		e.Recurrence.Pattern = strings.ToUpper(strings.TrimSpace(v))
	}
	if v, ok := flags["count"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return usagef("--count must be a non-negative number")
		}
		e.Recurrence.Count = n
	}
	if v, ok := flags["expire"]; ok {
		if e.Expire, err = parseWhen(v, loc); err != nil {
			return err
		}
	}
	if v, ok := flags["deadline"]; ok {
		if e.Deadline, err = parseWhen(v, loc); err != nil {
			return err
		}
	}
	for key, dst := range map[string]*string{"desc": &e.Description, "location": &e.Location, "url": &e.URL} {
		if v, ok := flags[key]; ok {
			*dst = v
		}
	}
	if v, ok := flags["limit"]; ok {
		if e.RSVP.Limits, err = parseLimits(v); err != nil {
			return err
		}
	}
	if v, ok := flags["quiet"]; ok {
		e.Quiet = schedule.Quiet{}
		for _, q := range splitList(v) {
			switch strings.ToLower(q) {
			case "start":
				e.Quiet.Start = true
			case "end":
				e.Quiet.End = true
			case "reminders":
				e.Quiet.Reminders = true
			default:
				return usagef("--quiet takes start, end or reminders, not %q", q)
			}
		}
	}
	return nil
}

// parseWhen accepts RFC 3339 or a local "2006-01-02T15:04" in loc.
func parseWhen(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range []string{"2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, usagef("%q is not a time (use 2030-03-04T20:00 or RFC 3339)", s)
}

func parseLength(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, usagef("%q is not a duration (use 90m or 2h)", s)
	}
	return d, nil
}

func parseOffsets(flag, s string) ([]time.Duration, error) {
	out := []time.Duration{}
	for _, p := range splitList(s) {
		d, err := time.ParseDuration(p)
		d = d.Truncate(time.Minute)
		if err != nil || d <= 0 {
			return nil, usagef("--%s: %q is not a duration of at least 1m", flag, p)
		}
		out = append(out, d)
	}
	return out, nil
}

func parseLimits(s string) (map[string]int, error) {
	out := map[string]int{}
	for _, p := range splitList(s) {
		k, v, ok := strings.Cut(p, "=")
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if !ok || strings.TrimSpace(k) == "" || err != nil {
			return nil, usagef("--limit takes Option=N pairs, not %q", p)
		}
		out[strings.TrimSpace(k)] = n
	}
	return out, nil
}
