package chatfmt

import "testing"

func TestLinkFallsBackToBold(t *testing.T) {
	t.Parallel()
	if got := Link("a<b", ""); got != "<b>a&lt;b</b>" {
		t.Fatalf("Link without url = %q", got)
	}
	if got := Link("x", "https://e.x/?a=1&b=2"); got != `<a href="https://e.x/?a=1&amp;b=2">x</a>` {
		t.Fatalf("Link = %q", got)
	}
}

func TestJoinSkipsBlank(t *testing.T) {
	t.Parallel()
	if got := Lines(B("a"), "", " ", I("b")); got != "<b>a</b>\n<i>b</i>" {
		t.Fatalf("Lines = %q", got)
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel…"},
		{"héllo", 2, "hé…"},
		{"x", 0, ""},
	}
	for _, tt := range tests {
		if got := TruncRunes(tt.in, tt.n); got != tt.want {
			t.Fatalf("TruncRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
