package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestDecodeJSONAndYAML(t *testing.T) {
	t.Parallel()
	jsonBody := `{"storage":{"driver":"memory"},"schedule":{"max_entries":5,"defaults":{"reminders":["10m"]}}}`
	yamlBody := "storage:\n  driver: memory\nschedule:\n  max_entries: 5\n  defaults:\n    reminders: [\"10m\"]\n"

	for _, tc := range []struct{ path, body string }{
		{"c.json", jsonBody},
		{"c.yaml", yamlBody},
	} {
		cfg, err := Decode(tc.path, []byte(tc.body))
		if err != nil {
			t.Fatalf("Decode(%s) error: %v", tc.path, err)
		}
		if cfg.Schedule.MaxEntries != 5 {
			t.Fatalf("%s: MaxEntries = %d, want 5", tc.path, cfg.Schedule.MaxEntries)
		}
		if got := cfg.Schedule.Defaults.Reminders; len(got) != 1 || got[0] != "10m" {
			t.Fatalf("%s: Reminders = %v", tc.path, got)
		}
	}
}

func TestDecodeRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	t.Parallel()
	if _, err := Decode("c.json", []byte(`{"nope":1}`)); err == nil {
		t.Fatal("expected unknown field error")
	}
	if _, err := Decode("c.json", []byte(`{} {}`)); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestYAMLDuplicateKeysAndAnchors(t *testing.T) {
	t.Parallel()
	if _, err := Decode("c.yml", []byte("storage:\n  driver: memory\n  driver: file\n")); err == nil || !strings.Contains(err.Error(), "duplicate key") {
		t.Fatalf("duplicate key err = %v", err)
	}
	body := "schedule:\n  defaults: &d\n    reminders: [\"5m\"]\n  channels:\n    \"-1\": *d\n"
	cfg, err := Decode("c.yaml", []byte(body))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := cfg.Schedule.Channels["-1"].Reminders; len(got) != 1 || got[0] != "5m" {
		t.Fatalf("aliased reminders = %v", got)
	}
	if _, err := Decode("empty.yaml", nil); err != nil {
		t.Fatalf("empty yaml: %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	bad := 3
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "unknown driver", mutate: func(c *Config) { c.Storage.Driver = "mongo" }, wantErr: "unknown driver"},
		{name: "sqlite needs path", mutate: func(c *Config) { c.Storage.Driver = "sqlite" }, wantErr: "storage.path"},
		{name: "postgres needs dsn", mutate: func(c *Config) { c.Storage.Driver = "postgres" }, wantErr: "storage.dsn"},
		{name: "bad reminder", mutate: func(c *Config) { c.Schedule.Defaults.Reminders = []string{"soon"} }, wantErr: "reminders[0]"},
		{name: "negative reminder", mutate: func(c *Config) { c.Schedule.Defaults.EndReminders = []string{"-5m"} }, wantErr: "end_reminders[0]"},
		{name: "auto sort", mutate: func(c *Config) { c.Schedule.Channels = map[string]ChannelConfig{"1": {AutoSort: &bad}} }, wantErr: "auto_sort"},
		{name: "timezone", mutate: func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" }, wantErr: "timezone"},
		{name: "max entries", mutate: func(c *Config) { c.Schedule.MaxEntries = -1 }, wantErr: "max_entries"},
		{name: "fill window", mutate: func(c *Config) { c.Schedule.FillWindow = "1x" }, wantErr: "fill_window"},
		{
			name: "duplicate rsvp category",
			mutate: func(c *Config) {
				c.Schedule.Defaults.RSVP = &RSVPConfig{Enabled: true, Options: []RSVPOption{{Emoji: "a", Category: "Yes"}, {Emoji: "b", Category: "Yes"}}}
			},
			wantErr: "duplicate category",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{Storage: StorageConfig{Driver: "memory"}}
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadCommits(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.json", `{"storage":{"driver":"memory"},"schedule":{"max_entries":25}}`)
	m := NewManager(p)
	if m.Get() != nil {
		t.Fatal("Get before Load should be nil")
	}
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if m.Get() != cfg || cfg.Schedule.MaxEntries != 25 {
		t.Fatalf("unexpected committed config: %+v", m.Get())
	}
}

func TestPublishKeepsNewest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused.json")
	ch, unsub := m.Subscribe(1)
	defer unsub()

	a := &Config{Schedule: ScheduleConfig{MaxEntries: 1}}
	b := &Config{Schedule: ScheduleConfig{MaxEntries: 2}}
	m.publish(a)
	m.publish(b)

	select {
	case got := <-ch:
		if got != b {
			t.Fatalf("got MaxEntries=%d, want newest", got.Schedule.MaxEntries)
		}
	case <-time.After(time.Second):
		t.Fatal("no config published")
	}
}

func TestReloadSkipsInvalid(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", `{"storage":{"driver":"memory"}}`)
	m := NewManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	ch, unsub := m.Subscribe(1)
	defer unsub()

	writeFile(t, dir, "config.json", `{"storage":{"driver":"bogus"}}`)
	m.reload(t.Context())
	select {
	case <-ch:
		t.Fatal("invalid config must not be published")
	default:
	}

	writeFile(t, dir, "config.json", `{"storage":{"driver":"memory"},"schedule":{"max_entries":9}}`)
	m.reload(t.Context())
	select {
	case got := <-ch:
		if got.Schedule.MaxEntries != 9 {
			t.Fatalf("MaxEntries = %d, want 9", got.Schedule.MaxEntries)
		}
	default:
		t.Fatal("valid reload not published")
	}
}
