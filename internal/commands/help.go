package commands

import (
	"context"
	"html"
	"strings"
)

func (d *Dispatcher) helpCommand() Command {
	return Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "show help",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, d.helpText(req.Args))
		},
	}
}

// helpText renders Telegram HTML.
func (d *Dispatcher) helpText(args []string) string {
	if len(args) > 0 {
		name := strings.TrimPrefix(args[0], "/")
		c, ok := d.reg.Lookup(name)
		if !ok {
			return "❓ <b>Unknown command</b>\nTry <code>/help</code> for the list."
		}
		lines := []string{"📌 <b>/" + html.EscapeString(c.Name) + "</b>"}
		if c.Description != "" {
			lines = append(lines, html.EscapeString(c.Description))
		}
		if c.Usage != "" {
			lines = append(lines, "Usage: <code>"+html.EscapeString(c.Usage)+"</code>")
		}
		if len(c.Aliases) > 0 {
			lines = append(lines, "Aliases: /"+html.EscapeString(strings.Join(c.Aliases, ", /")))
		}
		if c.Access == AccessAdminOnly {
			lines = append(lines, "🔒 admins only")
		}
		return strings.Join(lines, "\n")
	}

	lines := []string{"📚 <b>Commands</b>", "Type <code>/help &lt;command&gt;</code> for details.", ""}
	for _, c := range d.reg.Commands() {
		line := "/" + html.EscapeString(c.Name)
		if c.Description != "" {
			line += " · " + html.EscapeString(c.Description)
		}
		if c.Access == AccessAdminOnly {
			line = "🔒 " + line
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
