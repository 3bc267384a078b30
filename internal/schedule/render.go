package schedule

import (
	"fmt"
	"strings"
	"time"

	"schedbot/internal/transport"
	"schedbot/pkg/chatfmt"
)

// Renderer turns entries into platform messages.
type Renderer interface {
	// Render builds the display message of e as of now.
	Render(e *Entry, now time.Time) transport.OutMessage
	// Announce builds the message for trigger t from template.
	Announce(e *Entry, t Trigger, template string, now time.Time) transport.OutMessage
}

const (
	maxTitleRunes       = 200
	maxDescriptionRunes = 1500
	maxCommentRunes     = 300
)

// HTMLRenderer renders Telegram HTML.
type HTMLRenderer struct {
	Location *time.Location
	Clock24  bool
}

func (r HTMLRenderer) loc() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

func (r HTMLRenderer) formatTime(t time.Time) string {
	t = t.In(r.loc())
	if r.Clock24 {
		return t.Format("Mon, Jan 2 15:04 MST")
	}
	return t.Format("Mon, Jan 2 3:04 PM MST")
}

func (r HTMLRenderer) Render(e *Entry, now time.Time) transport.OutMessage {
	title := chatfmt.Link(chatfmt.TruncRunes(e.Title, maxTitleRunes), e.URL)

	when := chatfmt.Esc(r.formatTime(e.Start))
	if !e.End.IsZero() && !e.End.Equal(e.Start) {
		when = chatfmt.H(when.String() + " → " + chatfmt.Esc(r.formatTime(e.End)).String())
	}

	var details []chatfmt.H
	if e.Location != "" {
		details = append(details, chatfmt.H("📍 "+chatfmt.Esc(e.Location).String()))
	}
	if e.Description != "" {
		details = append(details, chatfmt.Esc(chatfmt.TruncRunes(e.Description, maxDescriptionRunes)))
	}
	for _, c := range e.Comments {
		details = append(details, chatfmt.I(chatfmt.TruncRunes(c, maxCommentRunes)))
	}

	parts := []chatfmt.H{
		title,
		when,
		chatfmt.I(Countdown(e, now)),
		chatfmt.Lines(details...),
		r.rsvpBlock(e, now),
		r.repeatLine(e),
		chatfmt.H("ID: " + chatfmt.Code(e.ID.String()).String()),
	}
	return transport.OutMessage{
		Text:           chatfmt.Join("\n\n", parts...).String(),
		ParseMode:      chatfmt.ParseModeHTML,
		DisablePreview: e.Image == "" && e.Thumbnail == "",
	}
}

func (r HTMLRenderer) rsvpBlock(e *Entry, now time.Time) chatfmt.H {
	cats := e.Categories()
	if len(cats) == 0 {
		return ""
	}
	lines := make([]chatfmt.H, 0, len(cats)+1)
	for _, c := range cats {
		members := e.RSVP.Members[c]
		count := fmt.Sprintf("%d", len(members))
		if limit, ok := e.Limit(c); ok {
			if limit == 0 {
				continue
			}
			count = fmt.Sprintf("%d/%d", len(members), limit)
		}
		line := chatfmt.B(c).String() + " (" + count + ")"
		if len(members) > 0 {
			line += ": " + chatfmt.Esc(strings.Join(members, ", ")).String()
		}
		lines = append(lines, chatfmt.H(line))
	}
	if !e.Deadline.IsZero() {
		if now.After(e.Deadline) {
			lines = append(lines, chatfmt.I("RSVP closed"))
		} else {
			lines = append(lines, chatfmt.I("RSVP closes "+r.formatTime(e.Deadline)))
		}
	}
	return chatfmt.Lines(lines...)
}

func (r HTMLRenderer) repeatLine(e *Entry) chatfmt.H {
	if e.Recurrence.Pattern == "" {
		return ""
	}
	s := "Repeats: " + strings.ToLower(e.Recurrence.Pattern)
	if e.Recurrence.Count > 1 {
		s += fmt.Sprintf(" (%d left)", e.Recurrence.Count)
	} else if e.Recurrence.Count == 1 {
		s += " (last)"
	}
	return chatfmt.I(s)
}

func (r HTMLRenderer) Announce(e *Entry, t Trigger, template string, now time.Time) transport.OutMessage {
	if strings.TrimSpace(template) == "" {
		template = DefaultAnnounceMessage
	}
	esc := func(s string) string { return chatfmt.Esc(s).String() }
	rep := strings.NewReplacer(
		"%t", esc(e.Title),
		"%a", esc(action(t)),
		"%u", esc(e.URL),
		"%i", e.ID.String(),
		"%d", esc(e.Description),
		"%l", esc(e.Location),
		"%r", esc(Humanize(anchorOf(e, t).Sub(now))),
	)
	return transport.OutMessage{
		Text:           rep.Replace(template),
		ParseMode:      chatfmt.ParseModeHTML,
		DisablePreview: true,
	}
}

func anchorOf(e *Entry, t Trigger) time.Time {
	switch t.Kind {
	case TriggerEnd, TriggerEndReminder:
		return e.End
	case TriggerAnnounce:
		if t.Announce != nil && t.Announce.Anchor == AnchorEnd {
			return e.End
		}
	}
	return e.Start
}

// action is the %a text of a trigger.
func action(t Trigger) string {
	switch t.Kind {
	case TriggerStart:
		return "begins"
	case TriggerEnd:
		return "ends"
	case TriggerReminder:
		return "begins in " + Humanize(t.Offset)
	case TriggerEndReminder:
		return "ends in " + Humanize(t.Offset)
	case TriggerAnnounce:
		verb := "begins"
		if t.Announce != nil && t.Announce.Anchor == AnchorEnd {
			verb = "ends"
		}
		switch {
		case t.Offset > 0:
			return verb + " in " + Humanize(t.Offset)
		case t.Offset < 0:
			if verb == "begins" {
				return "began " + Humanize(-t.Offset) + " ago"
			}
			return "ended " + Humanize(-t.Offset) + " ago"
		}
		return verb
	}
	return ""
}

// Countdown is the status line of a display message. Its granularity follows
// the refresh cascade: days beyond a day, hours and minutes within a day,
// minutes within an hour.
func Countdown(e *Entry, now time.Time) string {
	switch {
	case !e.HasStarted && now.Before(e.Start):
		return "begins in " + Humanize(e.Start.Sub(now))
	case now.Before(e.End):
		return "ends in " + Humanize(e.End.Sub(now))
	default:
		return "ended"
	}
}

// Humanize renders d coarsely: "3 days", "2 hours 5 minutes", "12 minutes",
// "less than a minute".
func Humanize(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}
	switch {
	case d >= 24*time.Hour:
		return plural(int(d/(24*time.Hour)), "day")
	case d >= time.Hour:
		h := int(d / time.Hour)
		m := int((d % time.Hour) / time.Minute)
		if m == 0 {
			return plural(h, "hour")
		}
		return plural(h, "hour") + " " + plural(m, "minute")
	case d >= time.Minute:
		return plural(int(d/time.Minute), "minute")
	default:
		return "less than a minute"
	}
}
