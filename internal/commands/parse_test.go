package commands

import (
	"reflect"
	"testing"
)

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want []string
	}{
		{"/list", []string{"/list"}},
		{`/create 2030-03-04T20:00 2h "Weekly raid"`, []string{"/create", "2030-03-04T20:00", "2h", "Weekly raid"}},
		{`/x 'a b' c\ d`, []string{"/x", "a b", "c d"}},
		{`/x "" y`, []string{"/x", "", "y"}},
		{"  ", nil},
	}
	for _, tt := range tests {
		if got := tokenizeCommandLine(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("tokenizeCommandLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseFlags(t *testing.T) {
	t.Parallel()
	pos, flags, bools := parseFlags([]string{"a", "--remind", "15m,5m", "--url=https://x", "-v", "-15m", "--dry", "--", "--title"})
	if want := []string{"a", "-15m", "--title"}; !reflect.DeepEqual(pos, want) {
		t.Fatalf("pos = %q, want %q", pos, want)
	}
	if flags["remind"] != "15m,5m" || flags["url"] != "https://x" {
		t.Fatalf("flags = %v", flags)
	}
	if !bools["v"] || !bools["dry"] {
		t.Fatalf("bools = %v", bools)
	}
}

func TestSanitizeMenuCommand(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"create":     "create",
		"End-Remind": "end_remind",
		"  a  b ":    "a_b",
		"9lives":     "cmd_9lives",
		"a.b":        "ab",
		"___":        "",
	}
	for in, want := range tests {
		if got := sanitizeMenuCommand(in); got != want {
			t.Fatalf("sanitizeMenuCommand(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRegistryAliasesAndDuplicates(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(
		Command{Name: "List", Aliases: []string{"ls", "bad alias"}, Handle: handleList},
		Command{Name: "list", Handle: handleSort},
		Command{Name: "nohandler"},
	)
	if len(reg.Commands()) != 1 {
		t.Fatalf("commands = %d, want 1", len(reg.Commands()))
	}
	c, ok := reg.Lookup("LS")
	if !ok || c.Name != "list" {
		t.Fatalf("Lookup(LS) = %+v, %v", c, ok)
	}
	if _, ok := reg.Lookup("bad alias"); ok {
		t.Fatal("alias with a space registered")
	}
}
