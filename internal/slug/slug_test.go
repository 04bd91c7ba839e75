package slug

import "testing"

func TestGenerate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "simple two words", input: "General Discussion", want: "general-discussion"},
		{name: "punctuation collapses", input: "News & Announcements 2026", want: "news-announcements-2026"},
		{name: "leading and trailing noise", input: "  --Off Topic!--  ", want: "off-topic"},
		{name: "underscores become hyphens", input: "help_and_support", want: "help-and-support"},
		{name: "unicode letters kept", input: "Café Société", want: "café-société"},
		{name: "non latin script", input: "Форум Новости", want: "форум-новости"},
		{name: "numeric name is prefixed", input: "2026", want: "c-2026"},
		{name: "numeric after cleanup", input: "#42", want: "c-42"},
		{name: "only symbols", input: "!!!", want: ""},
		{name: "empty", input: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Generate(tt.input); got != tt.want {
				t.Errorf("Generate(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestGenerateMaxLength(t *testing.T) {
	long := make([]byte, 0, 600)
	for range 300 {
		long = append(long, 'a', ' ')
	}
	got := []rune(Generate(string(long)))
	if len(got) > MaxLength {
		t.Errorf("len = %d, want <= %d", len(got), MaxLength)
	}
}

func TestUnique(t *testing.T) {
	taken := map[string]bool{"news": true, "news-2": true}
	isTaken := func(s string) bool { return taken[s] }

	if got := Unique("news", isTaken); got != "news-3" {
		t.Errorf("Unique(news) = %q, want news-3", got)
	}
	if got := Unique("events", isTaken); got != "events" {
		t.Errorf("Unique(events) = %q, want events", got)
	}
}

func TestIsNumeric(t *testing.T) {
	for in, want := range map[string]bool{"": false, "12": true, "1a": false, "-1": false} {
		if got := IsNumeric(in); got != want {
			t.Errorf("IsNumeric(%q) = %v, want %v", in, got, want)
		}
	}
}
