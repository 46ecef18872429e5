package rate

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterAllowAndReset(t *testing.T) {
	lim := NewMemory(2, time.Second)
	now := time.Now()

	allowed, retry, err := lim.Allow(context.Background(), "ip", now)
	if err != nil || !allowed || retry != 0 {
		t.Fatalf("expected allow on first call")
	}

	allowed, retry, err = lim.Allow(context.Background(), "ip", now)
	if err != nil || !allowed || retry != 0 {
		t.Fatalf("expected allow on second call")
	}

	allowed, retry, err = lim.Allow(context.Background(), "ip", now)
	if err != nil || allowed {
		t.Fatalf("expected rate limit on third call")
	}
	if retry <= 0 {
		t.Fatalf("expected retryAfter > 0")
	}

	allowed, _, err = lim.Allow(context.Background(), "ip", now.Add(2*time.Second))
	if err != nil || !allowed {
		t.Fatalf("expected allow after window reset")
	}
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	lim := NewMemory(1, time.Second)
	now := time.Now()

	if allowed, _, _ := lim.Allow(context.Background(), "1.1.1.1", now); !allowed {
		t.Fatalf("expected allow for first key")
	}
	if allowed, _, _ := lim.Allow(context.Background(), "1.1.1.1", now); allowed {
		t.Fatalf("expected limit for first key")
	}
	if allowed, _, _ := lim.Allow(context.Background(), "2.2.2.2", now); !allowed {
		t.Fatalf("expected allow for second key")
	}
}

func TestMemoryLimiterCleanup(t *testing.T) {
	lim := NewMemory(1, time.Second)
	now := time.Now()

	lim.Allow(context.Background(), "1.1.1.1", now)
	if len(lim.entries) != 1 {
		t.Fatalf("expected entry")
	}

	later := now.Add(2 * time.Second)
	lim.Allow(context.Background(), "2.2.2.2", later)
	if len(lim.entries) != 1 {
		t.Fatalf("expected cleanup to remove expired entries")
	}
}
