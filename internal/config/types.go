package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Schedule ScheduleConfig `json:"schedule"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// Admins may run /destroy all and other workspace-wide commands.
	Admins []string `json:"admins,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	ChannelID  string `json:"channel_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the entry store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/entries.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://bot@localhost/schedbot" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // postgres only (never logged)
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ScheduleConfig controls the entry engine.
//
// All durations are Go duration strings. Omitted timer fields fall back to the
// engine defaults (fill 30s/30s, empty 15s/20s, refresh 12h / 30m / 4m30s+3m).
type ScheduleConfig struct {
	// MaxEntries caps entries per workspace; 0 disables the cap.
	MaxEntries int `json:"max_entries"`

	// Timezone is an IANA zone used for rendering, e.g. "America/New_York".
	Timezone string `json:"timezone,omitempty"`
	// ClockFormat is "12" or "24".
	ClockFormat string `json:"clock_format,omitempty"`

	ExternalTimeout string `json:"external_timeout,omitempty"`
	FillWindow      string `json:"fill_window,omitempty"`
	StaleAfter      string `json:"stale_after,omitempty"`

	// RefreshRatePerSec caps display edits issued by the refresh cascade.
	RefreshRatePerSec int `json:"refresh_rate_per_sec,omitempty"`

	Defaults ChannelConfig            `json:"defaults"`
	Channels map[string]ChannelConfig `json:"channels,omitempty"`
}

// ChannelConfig holds per-channel schedule settings. Fields left empty in a
// channel override inherit the value from schedule.defaults.
type ChannelConfig struct {
	Reminders    []string `json:"reminders,omitempty"`
	EndReminders []string `json:"end_reminders,omitempty"`

	// AnnounceTarget is the channel that receives reminders and start/end
	// messages; empty means the entry's own channel.
	AnnounceTarget string `json:"announce_target,omitempty"`

	StartMessage       string `json:"start_message,omitempty"`
	EndMessage         string `json:"end_message,omitempty"`
	ReminderMessage    string `json:"reminder_message,omitempty"`
	EndReminderMessage string `json:"end_reminder_message,omitempty"`

	RSVP *RSVPConfig `json:"rsvp,omitempty"`

	// AutoSort: 0 off, 1 ascending by start, 2 descending by start.
	AutoSort *int `json:"auto_sort,omitempty"`
}

type RSVPConfig struct {
	Enabled bool         `json:"enabled"`
	Options []RSVPOption `json:"options,omitempty"`
	// Clear is the emoji that clears the user's RSVP; empty disables it.
	Clear string `json:"clear,omitempty"`
}

type RSVPOption struct {
	Emoji    string `json:"emoji"`
	Category string `json:"category"`
}
