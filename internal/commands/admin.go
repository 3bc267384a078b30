package commands

import (
	"context"
	"fmt"
	"html"
	"runtime"
	"strings"
	"time"

	"schedbot/internal/transport"
)

const announceTimeout = 5 * time.Minute

func (d *Dispatcher) adminCommands() []Command {
	return []Command{
		{
			Name:        "stats",
			Description: "show store and process statistics",
			Usage:       "/stats",
			Access:      AccessAdminOnly,
			Handle:      d.handleStats,
		},
		{
			Name:        "announce",
			Aliases:     []string{"announcement"},
			Description: "post a message into every chat that has events",
			Usage:       "/announce <text…>",
			Access:      AccessAdminOnly,
			Timeout:     announceTimeout,
			Handle:      d.handleAnnounce,
		},
	}
}

func (d *Dispatcher) handleStats(ctx context.Context, req *Request) error {
	st, err := req.Engine.Stats(ctx)
	if err != nil {
		return err
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	rows := [][2]string{
		{"entries", fmt.Sprint(st.Entries)},
		{"recurring", fmt.Sprint(st.Recurring)},
		{"started", fmt.Sprint(st.Started)},
		{"workspaces", fmt.Sprint(st.Workspaces)},
		{"channels", fmt.Sprint(st.Channels)},
		{"queued", fmt.Sprint(st.Queued)},
		{"uptime", time.Since(d.started).Round(time.Second).String()},
		{"goroutines", fmt.Sprint(runtime.NumGoroutine())},
		{"heap", fmt.Sprintf("%d MB", mem.HeapAlloc>>20)},
		{"sys", fmt.Sprintf("%d MB", mem.Sys>>20)},
	}
	var b strings.Builder
	b.WriteString("📊 <b>Stats</b>\n<code>")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-11s %s\n", r[0], html.EscapeString(r[1]))
	}
	b.WriteString("</code>")
	return req.Reply(ctx, b.String())
}

func (d *Dispatcher) handleAnnounce(ctx context.Context, req *Request) error {
	text := commandBody(req.Msg.Text)
	if text == "" {
		return usagef("need the announcement text")
	}
	targets, err := req.Engine.ScheduleChannels(ctx)
	if err != nil {
		return err
	}
	res := d.bcast.Send(ctx, "announce."+req.ReqID, targets, transport.OutMessage{
		Text:           "📣 " + html.EscapeString(text),
		ParseMode:      "HTML",
		DisablePreview: true,
	})
	reply := fmt.Sprintf("Announcement sent to %d of %d chats.", res.Sent, res.Total)
	if len(res.Failed) > 0 {
		reply += "\nFailed: <code>" + html.EscapeString(strings.Join(res.Failed, ", ")) + "</code>"
	}
	return req.Reply(ctx, reply)
}

// commandBody is the message text after the command word, spacing kept.
func commandBody(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexAny(text, " \t\n"); i >= 0 {
		return strings.TrimSpace(text[i:])
	}
	return ""
}
