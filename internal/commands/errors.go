package commands

import (
	"context"
	"errors"
	"fmt"
	"html"

	"schedbot/internal/schedule"
	"schedbot/internal/storage"
)

var (
	errUnknownCommand = errors.New("unknown command")
	errUnauthorized   = errors.New("unauthorized")
	errUsage          = errors.New("bad arguments")
	errLimitReached   = errors.New("event limit reached")
	errNoSuchEvent    = fmt.Errorf("%w: no such event in this chat", storage.ErrNotFound)

	errUnauthorizedAll = fmt.Errorf("%w: only admins can destroy every event", errUnauthorized)
)

func usagef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

// describe turns an error into a reply for the user.
func describe(err error, cmd *Command) string {
	switch {
	case errors.Is(err, errUsage):
		msg := "⚠️ " + html.EscapeString(err.Error())
		if cmd != nil && cmd.Usage != "" {
			msg += "\nUsage: <code>" + html.EscapeString(cmd.Usage) + "</code>"
		}
		return msg
	case errors.Is(err, errUnauthorized):
		return "⚠️ Only bot admins can do that."
	case errors.Is(err, errLimitReached):
		return "⚠️ This chat already has the maximum number of events."
	case errors.Is(err, storage.ErrNotFound):
		return "⚠️ No such event here."
	case errors.Is(err, schedule.ErrRSVPFull):
		return "⚠️ That option is full."
	case errors.Is(err, schedule.ErrRSVPClosed):
		return "⚠️ RSVP for this event is closed."
	case errors.Is(err, schedule.ErrUnknownCategory):
		return "⚠️ This event has no such RSVP option."
	case errors.Is(err, schedule.ErrInvalidEntry):
		return "⚠️ " + html.EscapeString(err.Error())
	case errors.Is(err, schedule.ErrSendFailed):
		return "⚠️ Could not post the event message. Check the bot's permissions."
	case errors.Is(err, schedule.ErrDisplayMissing):
		return "⚠️ The event message is gone. Destroy and recreate the event."
	case errors.Is(err, storage.ErrNotAcknowledged):
		return "⚠️ Storage did not confirm the change. Try again."
	case errors.Is(err, context.DeadlineExceeded):
		return "⚠️ That took too long. Try again."
	}
	return "⚠️ Something went wrong."
}
