package transport

import (
	"testing"
	"time"
)

func TestTCPOptionsWithDefaults(t *testing.T) {
	got := TCPOptions{}.withDefaults()
	if got.MaxAttempts != 5 {
		t.Fatalf("MaxAttempts = %d, want 5", got.MaxAttempts)
	}
	if got.DialTimeout != 10*time.Second {
		t.Fatalf("DialTimeout = %v, want 10s", got.DialTimeout)
	}
	if got.RetryDelay != 2*time.Second {
		t.Fatalf("RetryDelay = %v, want 2s", got.RetryDelay)
	}
}

func TestTCPOptionsPreservesExplicitValues(t *testing.T) {
	want := TCPOptions{MaxAttempts: 1, DialTimeout: time.Second, RetryDelay: time.Second}
	got := want.withDefaults()
	if got != want {
		t.Fatalf("withDefaults() = %+v, want %+v", got, want)
	}
}

func TestWebSocketOptionsWithDefaults(t *testing.T) {
	got := WebSocketOptions{}.withDefaults()
	if got.Path != "/lsp" {
		t.Fatalf("Path = %q, want %q", got.Path, "/lsp")
	}
	if got.MaxAttempts != 5 {
		t.Fatalf("MaxAttempts = %d, want 5", got.MaxAttempts)
	}
}
