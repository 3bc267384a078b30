package commands

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"schedbot/internal/broadcast"
	"schedbot/internal/runtime/supervisor"
	"schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

const (
	defaultCommandTimeout = 30 * time.Second
	drainTimeout          = 3 * time.Second
)

// Dispatcher routes inbound messages to commands.
type Dispatcher struct {
	reg    *Registry
	chat   transport.Adapter
	engine Engine
	log    logx.Logger

	admins  atomic.Pointer[[]string]
	timeout time.Duration

	bcast   *broadcast.Service
	started time.Time
}

type Option func(*Dispatcher)

func WithLogger(log logx.Logger) Option { return func(d *Dispatcher) { d.log = log } }

// WithAdmins sets the user IDs allowed to run admin-only commands.
func WithAdmins(ids []string) Option { return func(d *Dispatcher) { d.SetAdmins(ids) } }

// WithTimeout sets the default per-command timeout.
func WithTimeout(t time.Duration) Option { return func(d *Dispatcher) { d.timeout = t } }

// New builds the dispatcher and its registry of built-in commands.
func New(chat transport.Adapter, engine Engine, opts ...Option) *Dispatcher {
	d := &Dispatcher{chat: chat, engine: engine, log: logx.Nop(), timeout: defaultCommandTimeout, started: time.Now()}
	d.admins.Store(&[]string{})
	for _, o := range opts {
		o(d)
	}
	d.bcast = broadcast.New(broadcast.Config{}, chat, d.log)
	d.log = d.log.With(logx.String("comp", "commands"))
	cmds := append(builtins(), d.adminCommands()...)
	d.reg = NewRegistry(append(cmds, d.helpCommand())...)
	return d
}

func (d *Dispatcher) Registry() *Registry { return d.reg }

// SetAdmins replaces the admin list. Safe to call during hot reload.
func (d *Dispatcher) SetAdmins(ids []string) {
	cp := slices.Clone(ids)
	d.admins.Store(&cp)
}

func (d *Dispatcher) isAdmin(id string) bool {
	return id != "" && slices.Contains(*d.admins.Load(), id)
}

// Run consumes updates until ctx is done or updates is closed. Every command
// runs in its own supervised goroutine; Run waits briefly for them on exit.
func (d *Dispatcher) Run(ctx context.Context, updates <-chan transport.Update) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(d.log), supervisor.WithCancelOnError(false))
	d.log.Info("command dispatcher started", logx.Int("commands", len(d.reg.Commands())))
	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := sup.Wait(wctx); errors.Is(err, context.DeadlineExceeded) {
			d.log.Warn("commands still running at shutdown", logx.Int64("active", sup.Counters().Active))
		}
		sup.Cancel()
		c := sup.Counters()
		d.log.Info("command dispatcher stopped", logx.Uint64("handled", c.Started), logx.Uint64("panics", c.Panics))
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				d.log.Info("updates channel closed")
				return nil
			}
			if up.Kind == transport.UpdateReaction && up.Reaction != nil {
				r := *up.Reaction
				sup.Go("reaction."+r.ChannelID+"."+r.MessageID, func(ctx context.Context) error {
					_ = d.HandleReaction(ctx, r)
					return nil
				})
				continue
			}
			if up.Kind != transport.UpdateMessage || up.Message == nil {
				continue
			}
			msg := *up.Message
			if !strings.HasPrefix(strings.TrimSpace(msg.Text), "/") {
				continue
			}
			sup.Go("command."+msg.ChannelID+"."+msg.ID, func(ctx context.Context) error {
				_ = d.Handle(ctx, msg)
				return nil
			})
		}
	}
}

// Handle runs one message synchronously. Failures are replied to the sender
// in plain words and returned.
func (d *Dispatcher) Handle(ctx context.Context, msg transport.Message) error {
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return nil
	}
	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return nil
	}
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	raw := parts[1:]

	cmd, ok := d.reg.Lookup(word)
	if !ok {
		_, _ = d.chat.Send(ctx, msg.ChannelID, transport.OutMessage{Text: "Unknown command. Try /help"})
		return errUnknownCommand
	}

	admin := d.isAdmin(msg.FromID)
	if cmd.Access == AccessAdminOnly && !admin {
		_, _ = d.chat.Send(ctx, msg.ChannelID, transport.OutMessage{Text: "Only bot admins can do that."})
		return errUnauthorized
	}

	rid := newReqID()
	pos, flags, bools := parseFlags(raw)
	req := &Request{
		Msg:       msg,
		Command:   cmd.Name,
		Args:      pos,
		RawArgs:   raw,
		Flags:     flags,
		BoolFlags: bools,
		ReqID:     rid,
		Admin:     admin,
		Chat:      d.chat,
		Engine:    d.engine,
		Logger: d.log.With(
			logx.String("rid", rid),
			logx.String("workspace", msg.WorkspaceID),
			logx.String("cmd", cmd.Name),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = d.timeout
	}
	final := Chain(
		cmd.Handle,
		MWPanicRecover(d.log),
		MWRequestLog(d.log),
		MWTimeout(timeout),
	)
	err := final(ctx, req)
	if err != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
		defer cancel()
		if rerr := req.Reply(rctx, describe(err, cmd)); rerr != nil {
			req.Logger.Warn("error reply failed", logx.Err(rerr))
		}
	}
	return err
}

// HandleReaction applies an RSVP affordance picked on a display message.
// Rejections (full or closed categories) are logged, not replied to.
func (d *Dispatcher) HandleReaction(ctx context.Context, r transport.Reaction) error {
	member := strings.TrimSpace(r.FromName)
	if member == "" {
		member = r.FromID
	}
	if member == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	_, ok, err := d.engine.ReactRSVP(ctx, r.ChannelID, r.MessageID, r.Emoji, member)
	switch {
	case err != nil:
		d.log.Info("rsvp reaction rejected",
			logx.String("channel", r.ChannelID),
			logx.String("message_id", r.MessageID),
			logx.String("emoji", r.Emoji),
			logx.Err(err),
		)
	case !ok:
		d.log.Debug("reaction ignored", logx.String("channel", r.ChannelID), logx.String("message_id", r.MessageID))
	}
	return err
}

// PublishMenu pushes the command menu to platforms that support one.
func (d *Dispatcher) PublishMenu(ctx context.Context) error {
	up, ok := d.chat.(transport.MenuPublisher)
	if !ok {
		return nil
	}
	return up.UpdateMenuCommands(ctx, buildMenu(d.reg))
}
