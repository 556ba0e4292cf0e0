package ratelimit_test

import (
	"testing"
	"time"

	"github.com/sgunadhya/oxidesk/internal/pkg/ratelimit"
)

func TestAllowsBurstThenBlocks(t *testing.T) {
	l := ratelimit.NewPerWindow(5, 15*time.Minute)

	for i := 0; i < 5; i++ {
		if !l.Allow("jo@example.com") {
			t.Fatalf("attempt %d should pass", i+1)
		}
	}
	if l.Allow("jo@example.com") {
		t.Fatal("sixth attempt should be blocked")
	}
	if d := l.RetryAfter("jo@example.com"); d <= 0 {
		t.Fatalf("expected positive retry-after, got %v", d)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l := ratelimit.NewPerWindow(2, time.Minute)

	l.Allow("a@example.com")
	l.Allow("a@example.com")
	if l.Allow("a@example.com") {
		t.Fatal("a should be exhausted")
	}
	if !l.Allow("b@example.com") {
		t.Fatal("b must not be affected by a's attempts")
	}
}

func TestTokensRefill(t *testing.T) {
	l := ratelimit.NewPerWindow(2, 100*time.Millisecond)

	l.Allow("k")
	l.Allow("k")
	if l.Allow("k") {
		t.Fatal("expected drained bucket")
	}
	time.Sleep(70 * time.Millisecond)
	if !l.Allow("k") {
		t.Fatal("expected a refilled token")
	}
}
