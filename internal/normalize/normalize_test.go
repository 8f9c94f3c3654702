package normalize

import "testing"

func TestUsername(t *testing.T) {
	if got := Username("  Alice "); got != "alice" {
		t.Fatalf("expected normalized username, got %q", got)
	}
}

func TestEmail(t *testing.T) {
	if got := Email(" User@Example.COM "); got != "user@example.com" {
		t.Fatalf("expected normalized email, got %q", got)
	}
}
