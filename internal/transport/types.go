package transport

import (
	"context"
	"errors"
)

// ErrUnknownChannel is returned by ResolveChannel when the platform has no
// channel with the given ID (or the bot can no longer see it).
var ErrUnknownChannel = errors.New("unknown channel")

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateReaction UpdateKind = "reaction"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Reaction *Reaction
}

// Reaction is a user picking an RSVP affordance on a bot message.
type Reaction struct {
	WorkspaceID string
	ChannelID   string
	MessageID   string
	FromID      string
	FromName    string
	Emoji       string
}

// Message is an inbound chat message.
type Message struct {
	ID          string
	WorkspaceID string
	ChannelID   string
	FromID      string
	FromName    string
	Text        string
}

// Channel identifies a text channel and the workspace (guild, group chat) that owns it.
type Channel struct {
	WorkspaceID string
	ChannelID   string
	Name        string
}

// MessageRef points at a message the bot has posted.
type MessageRef struct {
	ChannelID string
	MessageID string
}

func (r MessageRef) IsZero() bool { return r.MessageID == "" }

// OutMessage is a rendered, platform-ready message body.
type OutMessage struct {
	Text           string
	ParseMode      string
	DisablePreview bool
	// Affordances are the RSVP choices the message offers. Adapters that
	// render them as buttons attach them on Send and Edit; others rely on
	// React.
	Affordances []string
}

// Adapter is the chat-platform port the bot talks to.
//
// All IDs are opaque strings; adapters decide how to map them onto platform IDs.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	Send(ctx context.Context, channelID string, msg OutMessage) (MessageRef, error)
	// Edit replaces the body of an existing message. The returned ref keeps the
	// message identity so reactions stay attached.
	Edit(ctx context.Context, ref MessageRef, msg OutMessage) (MessageRef, error)
	Delete(ctx context.Context, ref MessageRef) error
	// React adds one affordance, an emoji (unicode) or custom emoji (platform
	// ID), to a message. Affordances already present are left alone.
	React(ctx context.Context, ref MessageRef, emoji string) error

	ResolveChannel(ctx context.Context, channelID string) (Channel, error)
}

// BotCommand is one entry of the platform's command menu.
type BotCommand struct {
	Command     string
	Description string
}

// MenuPublisher is implemented by adapters that can publish a command menu.
type MenuPublisher interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
