package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestRedactAPIToken(t *testing.T) {
	out, changed := RedactPII("my key is sk_live_abcDEF1234567890xyz please remember it")
	if !changed || !strings.Contains(out, "[REDACTED_TOKEN]") {
		t.Fatalf("token not redacted: %q", out)
	}
}

func TestRedactLeavesPlainTextAlone(t *testing.T) {
	input := "my name is Kim and I like the Gangnam branch"
	out, changed := RedactPII(input)
	if changed || out != input {
		t.Fatalf("plain text was altered: %q", out)
	}
}
