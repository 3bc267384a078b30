package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"schedbot/internal/transport"
	"schedbot/pkg/chatfmt"
)

const (
	chatQueueSize   = 256
	chatSendTimeout = 10 * time.Second
	chatTextLimit   = 3500
	chatValueLimit  = 600
)

// chatSink is a zerolog writer that posts lines into a chat channel. Lines
// logged by the chat adapter itself are never mirrored, so a failing send
// cannot feed itself.
type chatSink struct {
	sender transport.Adapter

	mu        sync.Mutex
	channelID string
	minLevel  zerolog.Level
	limiter   *rate.Limiter

	queue   chan chatLine
	start   sync.Once
	cancel  context.CancelFunc
	stopped sync.WaitGroup
}

type chatLine struct {
	channelID string
	text      string
}

func newChatSink(sender transport.Adapter) *chatSink {
	return &chatSink{sender: sender, queue: make(chan chatLine, chatQueueSize)}
}

func (c *chatSink) configure(cfg ChatConfig) {
	rps := max(1, cfg.RatePerSec)
	c.mu.Lock()
	c.channelID = strings.TrimSpace(cfg.ChannelID)
	c.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	c.mu.Unlock()

	if cfg.Enabled && c.sender != nil {
		c.start.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			c.mu.Lock()
			c.cancel = cancel
			c.mu.Unlock()
			c.stopped.Add(1)
			go c.run(ctx)
		})
	}
}

func (c *chatSink) run(ctx context.Context) {
	defer c.stopped.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case l := <-c.queue:
			sctx, cancel := context.WithTimeout(ctx, chatSendTimeout)
			_, _ = c.sender.Send(sctx, l.channelID, transport.OutMessage{
				Text:           l.text,
				ParseMode:      chatfmt.ParseModeHTML,
				DisablePreview: true,
			})
			cancel()
		}
	}
}

func (c *chatSink) stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		c.stopped.Wait()
	}
}

func (c *chatSink) Write(p []byte) (int, error) { return c.WriteLevel(zerolog.InfoLevel, p) }

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	channelID, minLevel, lim := c.channelID, c.minLevel, c.limiter
	c.mu.Unlock()

	if c.sender == nil || channelID == "" || level < minLevel || lim == nil {
		return len(p), nil
	}
	text, ok := formatChatLine(p)
	if !ok || !lim.Allow() {
		return len(p), nil
	}
	select {
	case c.queue <- chatLine{channelID: channelID, text: text}:
	default:
	}
	return len(p), nil
}

// formatChatLine renders a JSON log line as Telegram HTML. ok is false for
// lines that must not be mirrored.
func formatChatLine(p []byte) (string, bool) {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return chatfmt.Code(chatfmt.TruncRunes(strings.TrimSpace(string(p)), chatTextLimit)).String(), true
	}
	if m["comp"] == "telegram" {
		return "", false
	}
	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := []chatfmt.H{chatfmt.Join(" ", chatfmt.B(strings.ToUpper(lvl)), chatfmt.Esc(msg))}
	for _, k := range keys {
		v := chatfmt.TruncRunes(fmt.Sprint(m[k]), chatValueLimit)
		parts = append(parts, chatfmt.Code(k+"="+v))
	}
	out := chatfmt.Lines(parts...).String()
	if len([]rune(out)) > chatTextLimit {
		// Cutting HTML could split a tag; fall back to the bare message.
		out = chatfmt.Join(" ", chatfmt.B(strings.ToUpper(lvl)), chatfmt.Esc(chatfmt.TruncRunes(msg, chatTextLimit))).String()
	}
	return out, true
}
