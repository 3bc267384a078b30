package app

import (
	"reflect"
	"strings"
	"time"

	"schedbot/internal/config"
	"schedbot/internal/storage"
	logx "schedbot/pkg/logx"
)

func loggingConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    l.Chat.Enabled,
			ChannelID:  l.Chat.ChannelID,
			MinLevel:   l.Chat.MinLevel,
			RatePerSec: l.Chat.RatePerSec,
		},
	}
}

func storageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
	}, nil
}

func storageDriver(sc storage.Config) string {
	if sc.Driver == "" {
		return "memory"
	}
	return sc.Driver
}

// changedSections names the top-level config sections that differ. Telegram
// is split so admin list changes (live) are told apart from connection
// changes (restart).
func changedSections(prev, next *config.Config) []string {
	if prev == nil || next == nil {
		return []string{"all"}
	}
	var out []string
	if prev.Telegram.Token != next.Telegram.Token || prev.Telegram.PollTimeout != next.Telegram.PollTimeout {
		out = append(out, "telegram.connection")
	}
	if !reflect.DeepEqual(prev.Telegram.Admins, next.Telegram.Admins) {
		out = append(out, "telegram.admins")
	}
	if !reflect.DeepEqual(prev.Logging, next.Logging) {
		out = append(out, "logging")
	}
	if !reflect.DeepEqual(prev.Storage, next.Storage) {
		out = append(out, "storage")
	}
	if !reflect.DeepEqual(prev.Schedule, next.Schedule) {
		out = append(out, "schedule")
	}
	return out
}
