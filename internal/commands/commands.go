// Package commands is the chat command layer: a registry built once at
// startup and a dispatcher that runs every inbound command in its own
// supervised goroutine.
package commands

import (
	"context"
	"sort"
	"strings"
	"time"

	"schedbot/internal/schedule"
	"schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdminOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

// Engine is the part of the schedule engine commands drive.
type Engine interface {
	NewEntry(ctx context.Context, e *schedule.Entry, autoSort bool) (schedule.ID, error)
	UpdateEntry(ctx context.Context, e *schedule.Entry, autoSort bool) error
	StartEvent(ctx context.Context, id schedule.ID) error
	ReloadEntry(ctx context.Context, id schedule.ID) error
	Destroy(ctx context.Context, id schedule.ID) (bool, error)
	DestroyWorkspace(ctx context.Context, workspaceID string) (int, error)
	GetEntryFromWorkspace(ctx context.Context, id schedule.ID, workspaceID string) (*schedule.Entry, bool, error)
	GetEntriesFromChannel(ctx context.Context, channelID string) ([]*schedule.Entry, error)
	IsLimitReached(ctx context.Context, workspaceID string) (bool, error)
	RSVP(ctx context.Context, id schedule.ID, category, member string) (*schedule.Entry, error)
	CancelRSVP(ctx context.Context, id schedule.ID, member string) (*schedule.Entry, error)
	ReactRSVP(ctx context.Context, channelID, messageID, emoji, member string) (*schedule.Entry, bool, error)
	SortChannel(ctx context.Context, channelID string, order schedule.SortOrder) error
	Stats(ctx context.Context) (schedule.Stats, error)
	ScheduleChannels(ctx context.Context) ([]string, error)
	Settings() schedule.Settings
}

type Request struct {
	Msg     transport.Message
	Command string
	Args    []string // positionals

	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string
	Admin     bool

	Chat   transport.Adapter
	Engine Engine
	Logger logx.Logger
}

// Reply posts an HTML message into the channel the command came from.
func (r *Request) Reply(ctx context.Context, html string) error {
	_, err := r.Chat.Send(ctx, r.Msg.ChannelID, transport.OutMessage{Text: html, ParseMode: "HTML", DisablePreview: true})
	return err
}

// Member is how the sender appears in RSVP lists.
func (r *Request) Member() string {
	if n := strings.TrimSpace(r.Msg.FromName); n != "" {
		return n
	}
	return r.Msg.FromID
}

// Registry maps command names and aliases to commands. It is immutable once
// built.
type Registry struct {
	byName map[string]*Command
	list   []*Command
}

// NewRegistry builds the registry. Later commands do not override earlier
// names; commands without a name or handler are skipped.
func NewRegistry(cmds ...Command) *Registry {
	r := &Registry{byName: map[string]*Command{}}
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		if _, dup := r.byName[name]; dup {
			continue
		}
		cc := c
		cc.Name = name
		r.byName[name] = &cc
		r.list = append(r.list, &cc)
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			if _, exists := r.byName[a]; !exists {
				r.byName[a] = &cc
			}
		}
	}
	sort.SliceStable(r.list, func(i, j int) bool { return r.list[i].Name < r.list[j].Name })
	return r
}

func (r *Registry) Lookup(name string) (*Command, bool) {
	c, ok := r.byName[strings.ToLower(name)]
	return c, ok
}

// Commands lists the canonical commands sorted by name.
func (r *Registry) Commands() []*Command { return r.list }
