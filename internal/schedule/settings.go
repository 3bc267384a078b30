package schedule

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"schedbot/internal/config"
)

// SortOrder is a channel's auto-sort policy.
type SortOrder int

const (
	SortOff SortOrder = iota
	SortAscending
	SortDescending
)

// DefaultAnnounceMessage is used for every announcement kind a channel does
// not override.
const DefaultAnnounceMessage = "Event %a: <b>%t</b>"

// Timers are the lane cadences. Every pass of a lane runs First after the
// lane starts and then every Every.
type Timers struct {
	FillFirst, FillEvery     time.Duration
	EmptyFirst, EmptyEvery   time.Duration
	CoarseFirst, CoarseEvery time.Duration
	MediumFirst, MediumEvery time.Duration
	FineFirst, FineEvery     time.Duration
}

func DefaultTimers() Timers {
	return Timers{
		FillFirst: 30 * time.Second, FillEvery: 30 * time.Second,
		EmptyFirst: 15 * time.Second, EmptyEvery: 20 * time.Second,
		CoarseFirst: 12 * time.Hour, CoarseEvery: 12 * time.Hour,
		MediumFirst: 30 * time.Minute, MediumEvery: 30 * time.Minute,
		FineFirst: 4*time.Minute + 30*time.Second, FineEvery: 3 * time.Minute,
	}
}

type RSVPOption struct {
	Emoji    string
	Category string
}

// ChannelSettings are the resolved settings of one channel.
type ChannelSettings struct {
	Reminders    []time.Duration
	EndReminders []time.Duration

	// AnnounceTarget receives reminders and start/end messages; empty means
	// the entry's own channel.
	AnnounceTarget string

	StartMessage       string
	EndMessage         string
	ReminderMessage    string
	EndReminderMessage string

	RSVPEnabled bool
	RSVPOptions []RSVPOption
	RSVPClear   string

	AutoSort SortOrder
}

// Settings configure a Manager. Build them with SettingsFromConfig or
// DefaultSettings.
type Settings struct {
	// MaxEntries caps entries per workspace; 0 or less disables the cap.
	MaxEntries int
	Location   *time.Location
	Clock24    bool

	ExternalTimeout time.Duration
	FillWindow      time.Duration
	StaleAfter      time.Duration
	// RefreshRate caps refresh edits per second; 0 disables the cap.
	RefreshRate int

	Timers   Timers
	Defaults ChannelSettings
	Channels map[string]ChannelSettings
}

func DefaultSettings() Settings {
	return Settings{
		MaxEntries:      25,
		Location:        time.UTC,
		Clock24:         true,
		ExternalTimeout: 10 * time.Second,
		FillWindow:      10 * time.Minute,
		StaleAfter:      10 * time.Minute,
		RefreshRate:     5,
		Timers:          DefaultTimers(),
		Defaults: ChannelSettings{
			StartMessage:       DefaultAnnounceMessage,
			EndMessage:         DefaultAnnounceMessage,
			ReminderMessage:    DefaultAnnounceMessage,
			EndReminderMessage: DefaultAnnounceMessage,
		},
	}
}

// Channel returns the settings for channelID, falling back to the defaults.
func (s Settings) Channel(channelID string) ChannelSettings {
	if cs, ok := s.Channels[channelID]; ok {
		return cs
	}
	return s.Defaults
}

// DefaultRSVPOptions mirror the classic yes/no pair.
func DefaultRSVPOptions() []RSVPOption {
	return []RSVPOption{{Emoji: "✅", Category: "Yes"}, {Emoji: "❌", Category: "No"}}
}

// SettingsFromConfig maps the schedule section of the config file. The config
// is expected to have passed config.Validate.
func SettingsFromConfig(c config.ScheduleConfig) (Settings, error) {
	s := DefaultSettings()
	s.MaxEntries = c.MaxEntries

	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return Settings{}, fmt.Errorf("schedule.timezone: %w", err)
		}
		s.Location = loc
	}
	s.Clock24 = strings.TrimSpace(c.ClockFormat) != "12"

	var err error
	if s.ExternalTimeout, err = config.ParseDurationOrDefault("schedule.external_timeout", c.ExternalTimeout, s.ExternalTimeout); err != nil {
		return Settings{}, err
	}
	if s.FillWindow, err = config.ParseDurationOrDefault("schedule.fill_window", c.FillWindow, s.FillWindow); err != nil {
		return Settings{}, err
	}
	if s.StaleAfter, err = config.ParseDurationOrDefault("schedule.stale_after", c.StaleAfter, s.StaleAfter); err != nil {
		return Settings{}, err
	}
	if c.RefreshRatePerSec > 0 {
		s.RefreshRate = c.RefreshRatePerSec
	}

	if s.Defaults, err = mergeChannel("schedule.defaults", s.Defaults, c.Defaults); err != nil {
		return Settings{}, err
	}
	if len(c.Channels) > 0 {
		s.Channels = make(map[string]ChannelSettings, len(c.Channels))
		for id, cc := range c.Channels {
			cs, err := mergeChannel("schedule.channels."+id, s.Defaults, cc)
			if err != nil {
				return Settings{}, err
			}
			s.Channels[id] = cs
		}
	}
	return s, nil
}

// mergeChannel overlays the non-empty fields of c onto base.
func mergeChannel(path string, base ChannelSettings, c config.ChannelConfig) (ChannelSettings, error) {
	out := base
	out.Reminders = slices.Clone(base.Reminders)
	out.EndReminders = slices.Clone(base.EndReminders)
	out.RSVPOptions = slices.Clone(base.RSVPOptions)

	if c.Reminders != nil {
		ds, err := config.ParseDurationList(path+".reminders", c.Reminders)
		if err != nil {
			return ChannelSettings{}, err
		}
		out.Reminders = ds
	}
	if c.EndReminders != nil {
		ds, err := config.ParseDurationList(path+".end_reminders", c.EndReminders)
		if err != nil {
			return ChannelSettings{}, err
		}
		out.EndReminders = ds
	}
	if v := strings.TrimSpace(c.AnnounceTarget); v != "" {
		out.AnnounceTarget = v
	}
	for _, f := range []struct {
		dst *string
		src string
	}{
		{&out.StartMessage, c.StartMessage},
		{&out.EndMessage, c.EndMessage},
		{&out.ReminderMessage, c.ReminderMessage},
		{&out.EndReminderMessage, c.EndReminderMessage},
	} {
		if strings.TrimSpace(f.src) != "" {
			*f.dst = f.src
		}
	}
	if c.RSVP != nil {
		out.RSVPEnabled = c.RSVP.Enabled
		out.RSVPClear = c.RSVP.Clear
		out.RSVPOptions = nil
		for _, o := range c.RSVP.Options {
			out.RSVPOptions = append(out.RSVPOptions, RSVPOption{Emoji: o.Emoji, Category: o.Category})
		}
		if out.RSVPEnabled && len(out.RSVPOptions) == 0 {
			out.RSVPOptions = DefaultRSVPOptions()
		}
	}
	if c.AutoSort != nil {
		out.AutoSort = SortOrder(*c.AutoSort)
	}
	return out, nil
}
