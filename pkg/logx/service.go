package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"schedbot/internal/transport"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Chat    ChatConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// ChatConfig mirrors log lines at or above MinLevel into a chat channel.
type ChatConfig struct {
	Enabled    bool
	ChannelID  string
	MinLevel   string
	RatePerSec int
}

// Service owns the log sinks and swaps them on Apply. Loggers it hands out
// stay valid across swaps.
type Service struct {
	mu   sync.Mutex
	file *os.File
	chat *chatSink

	root atomic.Pointer[zerolog.Logger]
}

// New applies cfg and returns the service with its root logger. sender may be
// nil, in which case the chat sink never sends.
func New(cfg Config, sender transport.Adapter) (*Service, Logger) {
	zerolog.TimeFieldFormat = consoleTimeFormat
	s := &Service{chat: newChatSink(sender)}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// Apply rebuilds the sinks from cfg. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.file
	s.file = nil

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter(os.Stdout))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "./schedbot.log"
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open log file %q: %v\n", path, err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	s.chat.configure(cfg.Chat)
	if cfg.Chat.Enabled {
		if strings.TrimSpace(cfg.Chat.ChannelID) == "" {
			fmt.Fprintln(os.Stderr, "logx: chat logging enabled but logging.chat.channel_id is not set")
		}
		writers = append(writers, s.chat)
	}
	if len(writers) == 0 {
		writers = append(writers, consoleWriter(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
	// Close after the swap so new lines never target a closed file.
	if old != nil {
		_ = old.Close()
	}
}

// Close stops the chat worker and closes the log file.
func (s *Service) Close() error {
	s.chat.stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}
