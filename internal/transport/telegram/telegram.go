// Package telegram implements transport.Adapter on top of telebot.
//
// Workspaces are chats. A channel is either a chat ID ("-100123") or, for
// forum topics, a chat ID and thread ID joined by a colon ("-100123:42").
package telegram

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	logx "schedbot/pkg/logx"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "schedbot/internal/runtime/supervisor"
	kit "schedbot/internal/transport"
)

// TextLimit is Telegram's message length cap, in runes.
const TextLimit = 4096

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // chan<- kit.Update
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	droppedUpdates atomic.Uint64

	menuMu   sync.Mutex
	menuHash uint64

	kb keyboards
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.bot.Handle(tele.OnText, a.onText)
	a.bot.Handle(tele.OnCallback, a.onCallback)
	return a, nil
}

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Chat == nil {
		return nil
	}
	msg := &kit.Message{
		ID:          strconv.Itoa(m.ID),
		WorkspaceID: strconv.FormatInt(m.Chat.ID, 10),
		ChannelID:   FormatChannel(m.Chat.ID, m.ThreadID),
		Text:        m.Text,
	}
	if m.Sender != nil {
		msg.FromID, msg.FromName = senderIdentity(m.Sender)
	}
	a.deliver(kit.Update{Kind: kit.UpdateMessage, Message: msg})
	return nil
}

func (a *Adapter) deliver(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.droppedUpdates.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "telegram"))))
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := a.droppedUpdates.Swap(0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// Start blocks until Stop; an unexpected return is restarted.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		if c.Err() != nil {
			return nil
		}
		return errors.New("poller exited")
	}, 500*time.Millisecond, 10*time.Second)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()
	go a.bot.Stop()

	// Never block shutdown for long on a pending getUpdates long-poll.
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		a.log.Warn("telegram stop incomplete", logx.Err(err))
	}
	return nil
}

func (a *Adapter) Send(ctx context.Context, channelID string, msg kit.OutMessage) (kit.MessageRef, error) {
	chatID, threadID, err := ParseChannel(channelID)
	if err != nil {
		return kit.MessageRef{}, err
	}
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	m, err := a.bot.Send(tele.ChatID(chatID), msg.Text, &tele.SendOptions{
		ParseMode:             tele.ParseMode(msg.ParseMode),
		DisableWebPagePreview: msg.DisablePreview,
		ThreadID:              threadID,
		ReplyMarkup:           rsvpKeyboard(msg.Affordances),
	})
	if err != nil {
		return kit.MessageRef{}, err
	}
	ref := kit.MessageRef{ChannelID: channelID, MessageID: strconv.Itoa(m.ID)}
	a.kb.set(ref, msg.Affordances)
	return ref, nil
}

func (a *Adapter) Edit(ctx context.Context, ref kit.MessageRef, msg kit.OutMessage) (kit.MessageRef, error) {
	target, err := editable(ref)
	if err != nil {
		return kit.MessageRef{}, err
	}
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	// Editing without a markup drops the keyboard, so it is always resent.
	_, err = a.bot.Edit(target, msg.Text, &tele.SendOptions{
		ParseMode:             tele.ParseMode(msg.ParseMode),
		DisableWebPagePreview: msg.DisablePreview,
		ReplyMarkup:           rsvpKeyboard(msg.Affordances),
	})
	if err != nil && !errors.Is(err, tele.ErrSameMessageContent) {
		return kit.MessageRef{}, err
	}
	a.kb.set(ref, msg.Affordances)
	return ref, nil
}

func (a *Adapter) Delete(ctx context.Context, ref kit.MessageRef) error {
	target, err := editable(ref)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.Delete(target); err != nil {
		return err
	}
	a.kb.forget(ref)
	return nil
}

// React adds an RSVP button to the message's inline keyboard.
func (a *Adapter) React(ctx context.Context, ref kit.MessageRef, emoji string) error {
	target, err := editable(ref)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	next, changed := a.kb.add(ref, emoji)
	if !changed {
		return nil
	}
	if _, err := a.bot.EditReplyMarkup(target, rsvpKeyboard(next)); err != nil {
		return err
	}
	a.kb.set(ref, next)
	return nil
}

func (a *Adapter) ResolveChannel(ctx context.Context, channelID string) (kit.Channel, error) {
	chatID, _, err := ParseChannel(channelID)
	if err != nil {
		return kit.Channel{}, err
	}
	if err := ctx.Err(); err != nil {
		return kit.Channel{}, err
	}
	chat, err := a.bot.ChatByID(chatID)
	if err != nil {
		return kit.Channel{}, fmt.Errorf("%w: %v", kit.ErrUnknownChannel, err)
	}
	name := chat.Title
	if name == "" {
		name = chat.Username
	}
	return kit.Channel{
		WorkspaceID: strconv.FormatInt(chatID, 10),
		ChannelID:   channelID,
		Name:        name,
	}, nil
}

// UpdateMenuCommands publishes the command menu; it is a no-op when the list
// has not changed since the last successful call.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if len(d) > 256 {
			d = d[:256]
		}
		_, _ = h.Write([]byte(c.Command + "\x00" + d + "\x00"))
		out = append(out, tele.Command{Text: c.Command, Description: d})
		if len(out) >= 100 {
			break
		}
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(out); err != nil {
		return err
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(out)))
	return nil
}

func editable(ref kit.MessageRef) (*tele.Message, error) {
	chatID, _, err := ParseChannel(ref.ChannelID)
	if err != nil {
		return nil, err
	}
	id, err := strconv.Atoi(ref.MessageID)
	if err != nil {
		return nil, fmt.Errorf("telegram: bad message id %q", ref.MessageID)
	}
	return &tele.Message{ID: id, Chat: &tele.Chat{ID: chatID}}, nil
}

// FormatChannel is the inverse of ParseChannel.
func FormatChannel(chatID int64, threadID int) string {
	if threadID > 0 {
		return strconv.FormatInt(chatID, 10) + ":" + strconv.Itoa(threadID)
	}
	return strconv.FormatInt(chatID, 10)
}

// ParseChannel splits "chat" or "chat:thread".
func ParseChannel(channelID string) (chatID int64, threadID int, err error) {
	chatPart, threadPart, hasThread := strings.Cut(strings.TrimSpace(channelID), ":")
	chatID, err = strconv.ParseInt(chatPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", kit.ErrUnknownChannel, channelID)
	}
	if hasThread {
		threadID, err = strconv.Atoi(threadPart)
		if err != nil || threadID < 0 {
			return 0, 0, fmt.Errorf("%w: %q", kit.ErrUnknownChannel, channelID)
		}
	}
	return chatID, threadID, nil
}
