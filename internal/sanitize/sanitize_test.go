package sanitize

import (
	"strings"
	"testing"
)

func TestIdentifier(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "clean identifier unchanged", input: "commute_by_bike", want: "commute_by_bike"},
		{name: "spaces become underscores", input: "my item", want: "my_item"},
		{name: "unsafe characters dropped", input: "a<b>c:d", want: "abcd"},
		{name: "shell metacharacters dropped", input: "item$!%^name", want: "itemname"},
		{name: "runs collapse", input: "a--__b", want: "a_b"},
		{name: "trim dots and dashes", input: "..item--", want: "item"},
		{name: "control characters dropped", input: "it\x00em\x1f", want: "item"},
		{name: "empty falls back", input: "", want: "archive"},
		{name: "only unsafe falls back", input: "<>:\"|?*", want: "archive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Identifier(tt.input); got != tt.want {
				t.Errorf("Identifier(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestIdentifierLongInput(t *testing.T) {
	long := strings.Repeat("a", 300)
	got := Identifier(long)
	if len(got) > 200 {
		t.Errorf("Identifier length = %d, want <= 200", len(got))
	}
	// Distinct long inputs must not collide after truncation.
	other := Identifier(strings.Repeat("a", 299) + "b")
	if got == other {
		t.Error("distinct long identifiers collided after truncation")
	}
}

func TestIdentifierIdempotent(t *testing.T) {
	inputs := []string{
		"commute_by_bike",
		"my item (2024)",
		"..trim-me--",
		strings.Repeat("x", 300),
	}
	for _, input := range inputs {
		once := Identifier(input)
		twice := Identifier(once)
		if once != twice {
			t.Errorf("Identifier not idempotent for %q: %q -> %q", input, once, twice)
		}
	}
}

func TestFilename(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "clean name unchanged", input: "track01.mp3", want: "track01.mp3"},
		{name: "unsafe replaced not dropped", input: "a<b>c.txt", want: "a_b_c.txt"},
		{name: "reserved stem", input: "CON.txt", want: "CON_file.txt"},
		{name: "reserved stem lowercase", input: "nul.log", want: "nul_file.log"},
		{name: "reserved stem no extension", input: "COM1", want: "COM1_file"},
		{name: "reserved only as full stem", input: "CONTINUE.txt", want: "CONTINUE.txt"},
		{name: "control characters replaced", input: "a\x01b.txt", want: "a_b.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Filename(tt.input); got != tt.want {
				t.Errorf("Filename(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestFilenameLength(t *testing.T) {
	long := strings.Repeat("a", 300) + ".mp3"
	got := Filename(long)
	if len(got) != 255 {
		t.Errorf("Filename length = %d, want 255", len(got))
	}
	if !strings.HasSuffix(got, ".mp3") {
		t.Errorf("Filename %q lost its extension", got)
	}
}

func TestFilenameIdempotent(t *testing.T) {
	inputs := []string{"a<b>.txt", "CON.txt", strings.Repeat("z", 400) + ".flac"}
	for _, input := range inputs {
		once := Filename(input)
		twice := Filename(once)
		if once != twice {
			t.Errorf("Filename not idempotent for %q: %q -> %q", input, once, twice)
		}
	}
}

func TestRelativePath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		want     string
		wantFail bool
	}{
		{name: "single component", input: "track.mp3", want: "track.mp3"},
		{name: "nested path preserved", input: "disc1/track.mp3", want: "disc1/track.mp3"},
		{name: "components sanitized", input: "di<sc>/tr:ack.mp3", want: "di_sc_/tr_ack.mp3"},
		{name: "empty components dropped", input: "a//b", want: "a/b"},
		{name: "dot components dropped", input: "./a/b", want: "a/b"},
		{name: "empty rejected", input: "", wantFail: true},
		{name: "absolute rejected", input: "/etc/passwd", wantFail: true},
		{name: "parent escape rejected", input: "../secret", wantFail: true},
		{name: "nested escape rejected", input: "a/../../b", wantFail: true},
		{name: "reduces to nothing", input: "././", wantFail: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RelativePath(tt.input)
			if tt.wantFail {
				if err == nil {
					t.Fatalf("RelativePath(%q) = %q, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("RelativePath(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("RelativePath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
