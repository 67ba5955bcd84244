package redact

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := PII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestPIILeavesPlainTextAlone(t *testing.T) {
	out, changed := PII("We budget for Q3 next year.")
	if changed || out != "We budget for Q3 next year." {
		t.Fatalf("PII() = %q, %v", out, changed)
	}
}

func TestSecrets(t *testing.T) {
	in := `{"error":"bad key sk-proj-abcdef123456","hdr":"Authorization: Bearer ek_1234567890abcdef"}`
	out := Secrets(in)
	if strings.Contains(out, "abcdef123456") || strings.Contains(out, "1234567890abcdef") {
		t.Fatalf("Secrets() leaked: %q", out)
	}
	if !strings.Contains(out, "[REDACTED_KEY]") || !strings.Contains(out, "Bearer [REDACTED]") {
		t.Fatalf("Secrets() = %q", out)
	}
}

func TestBodyTruncatesBeforeRedacting(t *testing.T) {
	got := Body([]byte("invalid key sk-abcdefghijkl trailing"), 26)
	if got != "invalid key [REDACTED_KEY]" {
		t.Fatalf("Body() = %q", got)
	}
}

func TestBodyKeepsRunesWhole(t *testing.T) {
	// "é" is two bytes; a cut at 4 would land inside it.
	got := Body([]byte("caféteria"), 4)
	if got != "caf" {
		t.Fatalf("Body() = %q, want %q", got, "caf")
	}
	if !utf8.ValidString(Body([]byte("日本語のエラー"), 5)) {
		t.Fatalf("Body() produced invalid UTF-8")
	}
}
