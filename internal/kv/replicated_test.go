package kv

import (
	"context"
	"testing"
	"time"
)

func TestReplicatedWriteToAll(t *testing.T) {
	ctx := context.Background()
	a, b, c := NewMemory(), NewMemory(), NewMemory()
	rep := NewReplicated(a, b, c)

	if err := rep.Set(ctx, "k", "v", 0); err != nil {
		t.Fatal(err)
	}
	for i, tier := range []Tier{a, b, c} {
		got, err := tier.Get(ctx, "k")
		if err != nil || got != "v" {
			t.Fatalf("tier %d: got %q, %v", i, got, err)
		}
	}
}

func TestReplicatedFirstPresentWins(t *testing.T) {
	ctx := context.Background()
	a, b := NewMemory(), NewMemory()
	rep := NewReplicated(a, b)

	if err := b.Set(ctx, "k", "from-b", 0); err != nil {
		t.Fatal(err)
	}
	got, err := rep.Get(ctx, "k")
	if err != nil || got != "from-b" {
		t.Fatalf("got %q, %v", got, err)
	}

	if err := a.Set(ctx, "k", "from-a", 0); err != nil {
		t.Fatal(err)
	}
	got, err = rep.Get(ctx, "k")
	if err != nil || got != "from-a" {
		t.Fatalf("tier order not honored: got %q, %v", got, err)
	}
}

func TestReplicatedRemoveClearsAllTiers(t *testing.T) {
	ctx := context.Background()
	a, b := NewMemory(), NewMemory()
	rep := NewReplicated(a, b)

	if err := rep.Set(ctx, "k", "v", 0); err != nil {
		t.Fatal(err)
	}
	if err := rep.Remove(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, err := rep.Get(ctx, "k"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReplicatedSkipsMalformedTier(t *testing.T) {
	ctx := context.Background()
	jar := NewCookieJar([]byte("secret"), "/")
	fallback := NewMemory()
	rep := NewReplicated(jar, fallback)

	// A record written under a different secret fails verification.
	other := NewCookieJar([]byte("other"), "/")
	if err := other.Set(ctx, "k", "bad", 0); err != nil {
		t.Fatal(err)
	}
	jar.mu.Lock()
	jar.entries["k"] = other.entries["k"]
	jar.mu.Unlock()

	if err := fallback.Set(ctx, "k", "good", 0); err != nil {
		t.Fatal(err)
	}

	got, err := rep.Get(ctx, "k")
	if err != nil || got != "good" {
		t.Fatalf("expected fallback value, got %q, %v", got, err)
	}
	// The malformed record must have been dropped.
	if _, err := jar.Get(ctx, "k"); err != ErrNotFound {
		t.Fatalf("expected malformed record removed, got %v", err)
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Now()
	m.now = func() time.Time { return base }

	if err := m.Set(ctx, "k", "v", time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, "k"); err != nil {
		t.Fatalf("fresh value unreadable: %v", err)
	}

	m.now = func() time.Time { return base.Add(2 * time.Hour) }
	if _, err := m.Get(ctx, "k"); err != ErrNotFound {
		t.Fatalf("expected expiry, got %v", err)
	}
}
