package telegram

import (
	"slices"
	"strconv"
	"strings"
	"sync"

	tele "gopkg.in/telebot.v4"

	kit "schedbot/internal/transport"
)

// Bots may set only one reaction per message, so RSVP affordances are shown
// as inline buttons whose callback data carries the emoji.
const (
	rsvpDataPrefix = "rsvp:"
	buttonsPerRow  = 4
	maxKeyboards   = 4096
)

func rsvpData(emoji string) string { return rsvpDataPrefix + emoji }

// parseRSVPData returns the emoji of an RSVP button press.
func parseRSVPData(data string) (string, bool) {
	emoji, ok := strings.CutPrefix(strings.TrimSpace(data), rsvpDataPrefix)
	return emoji, ok && emoji != ""
}

// rsvpKeyboard lays affordances out as inline buttons. Nil when there are none.
func rsvpKeyboard(affordances []string) *tele.ReplyMarkup {
	if len(affordances) == 0 {
		return nil
	}
	var rows [][]tele.InlineButton
	for chunk := range slices.Chunk(affordances, buttonsPerRow) {
		row := make([]tele.InlineButton, 0, len(chunk))
		for _, emoji := range chunk {
			row = append(row, tele.InlineButton{Text: emoji, Data: rsvpData(emoji)})
		}
		rows = append(rows, row)
	}
	return &tele.ReplyMarkup{InlineKeyboard: rows}
}

// keyboards remembers the affordances last attached to each message so React
// can extend the set instead of replacing it.
type keyboards struct {
	mu    sync.Mutex
	byMsg map[string][]string
}

func keyboardKey(ref kit.MessageRef) string { return ref.ChannelID + "/" + ref.MessageID }

func (k *keyboards) set(ref kit.MessageRef, affordances []string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(affordances) == 0 {
		delete(k.byMsg, keyboardKey(ref))
		return
	}
	if k.byMsg == nil || len(k.byMsg) >= maxKeyboards {
		k.byMsg = map[string][]string{}
	}
	k.byMsg[keyboardKey(ref)] = slices.Clone(affordances)
}

// add appends emoji to the message's set. It returns the new set, or false
// when emoji is already there.
func (k *keyboards) add(ref kit.MessageRef, emoji string) ([]string, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	cur := k.byMsg[keyboardKey(ref)]
	if slices.Contains(cur, emoji) {
		return nil, false
	}
	return append(slices.Clone(cur), emoji), true
}

func (k *keyboards) forget(ref kit.MessageRef) {
	k.mu.Lock()
	delete(k.byMsg, keyboardKey(ref))
	k.mu.Unlock()
}

func (a *Adapter) onCallback(c tele.Context) error {
	cb := c.Callback()
	if cb == nil || cb.Message == nil || cb.Message.Chat == nil {
		return nil
	}
	emoji, ok := parseRSVPData(cb.Data)
	if !ok {
		return c.Respond()
	}
	m := cb.Message
	r := &kit.Reaction{
		WorkspaceID: strconv.FormatInt(m.Chat.ID, 10),
		ChannelID:   FormatChannel(m.Chat.ID, m.ThreadID),
		MessageID:   strconv.Itoa(m.ID),
		Emoji:       emoji,
	}
	if cb.Sender != nil {
		r.FromID, r.FromName = senderIdentity(cb.Sender)
	}
	a.deliver(kit.Update{Kind: kit.UpdateReaction, Reaction: r})
	return c.Respond()
}

func senderIdentity(u *tele.User) (id, name string) {
	name = u.Username
	if name == "" {
		name = strings.TrimSpace(u.FirstName + " " + u.LastName)
	}
	return strconv.FormatInt(u.ID, 10), name
}
