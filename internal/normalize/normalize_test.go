package normalize

import "testing"

func TestEmail(t *testing.T) {
	if got := Email("  User@Example.COM "); got != "user@example.com" {
		t.Fatalf("Email normalization failed: %q", got)
	}
}

func TestCode(t *testing.T) {
	if got := Code(" 123456 "); got != "123456" {
		t.Fatalf("Code normalization failed: %q", got)
	}
}

func TestText(t *testing.T) {
	if got := Text("  hi there \n"); got != "hi there" {
		t.Fatalf("Text normalization failed: %q", got)
	}
	if got := Text("   "); got != "" {
		t.Fatalf("expected empty string for whitespace-only text, got %q", got)
	}
}
