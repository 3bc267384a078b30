// Package chattest is an in-memory chat platform for tests.
package chattest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"

	kit "schedbot/internal/transport"
)

var ErrInjected = errors.New("chattest: injected failure")

// Posted is a message as the platform currently shows it.
type Posted struct {
	Ref         kit.MessageRef
	Text        string
	Affordances []string
	Edits       int
	Reactions   []string
	Deleted     bool
}

// Platform implements kit.Adapter. Message IDs are increasing integers so
// message order equals ID order, as on Telegram.
type Platform struct {
	mu       sync.Mutex
	nextID   int
	messages map[string]*Posted // by message ID
	order    []string
	channels map[string]kit.Channel
	menu     []kit.BotCommand
	out      chan<- kit.Update

	// FailSend, FailEdit, FailDelete and FailReact make the next matching
	// calls fail while the counter is positive.
	FailSend   int
	FailEdit   int
	FailDelete int
	FailReact  int

	// FailSendTo fails every Send into these channels.
	FailSendTo map[string]bool
}

func New() *Platform {
	return &Platform{
		nextID:     1000,
		messages:   map[string]*Posted{},
		channels:   map[string]kit.Channel{},
		FailSendTo: map[string]bool{},
	}
}

// AddChannel registers a channel so ResolveChannel can find it.
func (p *Platform) AddChannel(workspaceID, channelID, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels[channelID] = kit.Channel{WorkspaceID: workspaceID, ChannelID: channelID, Name: name}
}

func (p *Platform) Start(_ context.Context, out chan<- kit.Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = out
	return nil
}

func (p *Platform) Stop(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = nil
	return nil
}

// Inject delivers an inbound message to the consumer passed to Start.
func (p *Platform) Inject(ctx context.Context, m kit.Message) error {
	return p.deliver(ctx, kit.Update{Kind: kit.UpdateMessage, Message: &m})
}

// InjectReaction delivers a user picking an affordance.
func (p *Platform) InjectReaction(ctx context.Context, r kit.Reaction) error {
	return p.deliver(ctx, kit.Update{Kind: kit.UpdateReaction, Reaction: &r})
}

func (p *Platform) deliver(ctx context.Context, up kit.Update) error {
	p.mu.Lock()
	out := p.out
	p.mu.Unlock()
	if out == nil {
		return errors.New("chattest: not started")
	}
	select {
	case out <- up:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Platform) Send(ctx context.Context, channelID string, msg kit.OutMessage) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailSendTo[channelID] {
		return kit.MessageRef{}, ErrInjected
	}
	if p.FailSend > 0 {
		p.FailSend--
		return kit.MessageRef{}, ErrInjected
	}
	p.nextID++
	id := strconv.Itoa(p.nextID)
	ref := kit.MessageRef{ChannelID: channelID, MessageID: id}
	p.messages[id] = &Posted{Ref: ref, Text: msg.Text, Affordances: slices.Clone(msg.Affordances)}
	p.order = append(p.order, id)
	return ref, nil
}

func (p *Platform) Edit(ctx context.Context, ref kit.MessageRef, msg kit.OutMessage) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailEdit > 0 {
		p.FailEdit--
		return kit.MessageRef{}, ErrInjected
	}
	m, ok := p.messages[ref.MessageID]
	if !ok || m.Deleted || m.Ref.ChannelID != ref.ChannelID {
		return kit.MessageRef{}, fmt.Errorf("chattest: message %s not found", ref.MessageID)
	}
	m.Text = msg.Text
	m.Affordances = slices.Clone(msg.Affordances)
	m.Edits++
	return m.Ref, nil
}

func (p *Platform) Delete(ctx context.Context, ref kit.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailDelete > 0 {
		p.FailDelete--
		return ErrInjected
	}
	m, ok := p.messages[ref.MessageID]
	if !ok || m.Deleted {
		return fmt.Errorf("chattest: message %s not found", ref.MessageID)
	}
	m.Deleted = true
	return nil
}

func (p *Platform) React(ctx context.Context, ref kit.MessageRef, emoji string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailReact > 0 {
		p.FailReact--
		return ErrInjected
	}
	m, ok := p.messages[ref.MessageID]
	if !ok || m.Deleted {
		return fmt.Errorf("chattest: message %s not found", ref.MessageID)
	}
	if !slices.Contains(m.Reactions, emoji) {
		m.Reactions = append(m.Reactions, emoji)
	}
	return nil
}

func (p *Platform) ResolveChannel(ctx context.Context, channelID string) (kit.Channel, error) {
	if err := ctx.Err(); err != nil {
		return kit.Channel{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.channels[channelID]
	if !ok {
		return kit.Channel{}, kit.ErrUnknownChannel
	}
	return ch, nil
}

func (p *Platform) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.menu = slices.Clone(cmds)
	return nil
}

// Menu returns the last published command menu.
func (p *Platform) Menu() []kit.BotCommand {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.menu)
}

// Message returns a copy of the message with the given ID.
func (p *Platform) Message(id string) (Posted, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.messages[id]
	if !ok {
		return Posted{}, false
	}
	c := *m
	c.Reactions = slices.Clone(m.Reactions)
	c.Affordances = slices.Clone(m.Affordances)
	return c, true
}

// Live returns the non-deleted messages of a channel in posting order.
func (p *Platform) Live(channelID string) []Posted {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Posted
	for _, id := range p.order {
		m := p.messages[id]
		if m.Deleted || m.Ref.ChannelID != channelID {
			continue
		}
		c := *m
		c.Reactions = slices.Clone(m.Reactions)
		c.Affordances = slices.Clone(m.Affordances)
		out = append(out, c)
	}
	return out
}

// SendCount reports how many messages were ever posted to channelID.
func (p *Platform) SendCount(channelID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, id := range p.order {
		if p.messages[id].Ref.ChannelID == channelID {
			n++
		}
	}
	return n
}

// SetFailSend sets the FailSend counter under the platform lock.
func (p *Platform) SetFailSend(n int) {
	p.mu.Lock()
	p.FailSend = n
	p.mu.Unlock()
}

func (p *Platform) SetFailEdit(n int) {
	p.mu.Lock()
	p.FailEdit = n
	p.mu.Unlock()
}

func (p *Platform) SetFailSendTo(channelID string, fail bool) {
	p.mu.Lock()
	p.FailSendTo[channelID] = fail
	p.mu.Unlock()
}
