package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks the parts of cfg that would otherwise fail late at runtime.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "memory":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for driver %q", cfg.Storage.Driver))
		}
	case "postgres", "pgx":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for driver postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	sc := cfg.Schedule
	if sc.MaxEntries < 0 {
		errs = append(errs, errors.New("schedule.max_entries must be >= 0"))
	}
	if sc.RefreshRatePerSec < 0 {
		errs = append(errs, errors.New("schedule.refresh_rate_per_sec must be >= 0"))
	}
	if tz := strings.TrimSpace(sc.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("schedule.timezone: %w", err))
		}
	}
	switch strings.TrimSpace(sc.ClockFormat) {
	case "", "12", "24":
	default:
		errs = append(errs, fmt.Errorf("schedule.clock_format must be \"12\" or \"24\", got %q", sc.ClockFormat))
	}
	for path, raw := range map[string]string{
		"schedule.external_timeout": sc.ExternalTimeout,
		"schedule.fill_window":      sc.FillWindow,
		"schedule.stale_after":      sc.StaleAfter,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	errs = append(errs, validateChannel("schedule.defaults", sc.Defaults)...)
	for id, ch := range sc.Channels {
		errs = append(errs, validateChannel("schedule.channels."+id, ch)...)
	}
	return errors.Join(errs...)
}

func validateChannel(path string, ch ChannelConfig) []error {
	var errs []error
	if _, err := ParseDurationList(path+".reminders", ch.Reminders); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationList(path+".end_reminders", ch.EndReminders); err != nil {
		errs = append(errs, err)
	}
	if ch.AutoSort != nil && (*ch.AutoSort < 0 || *ch.AutoSort > 2) {
		errs = append(errs, fmt.Errorf("%s.auto_sort must be 0, 1 or 2", path))
	}
	if ch.RSVP != nil {
		seen := map[string]bool{}
		for i, o := range ch.RSVP.Options {
			if strings.TrimSpace(o.Emoji) == "" || strings.TrimSpace(o.Category) == "" {
				errs = append(errs, fmt.Errorf("%s.rsvp.options[%d]: emoji and category are required", path, i))
				continue
			}
			if seen[o.Category] {
				errs = append(errs, fmt.Errorf("%s.rsvp.options[%d]: duplicate category %q", path, i, o.Category))
			}
			seen[o.Category] = true
		}
	}
	return errs
}
