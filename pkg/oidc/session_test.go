package oidc

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newPendingAuth(state string, ttl time.Duration) *PendingAuth {
	now := time.Now()
	return &PendingAuth{
		State:        state,
		Nonce:        "nonce-" + state,
		CodeVerifier: "verifier-" + state,
		RedirectURL:  "https://app.example.com/callback",
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}
}

func TestMemoryStateStore_SaveAndLookup(t *testing.T) {
	store := newMemoryStateStore(time.Minute)
	defer store.Close()

	ctx := context.Background()
	pending := newPendingAuth("state-1", time.Minute)

	if err := store.Save(ctx, pending); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, ok, err := store.Lookup(ctx, "state-1")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if !ok {
		t.Fatal("Expected pending authorization")
	}
	if got.Nonce != pending.Nonce {
		t.Errorf("Expected nonce %q, got %q", pending.Nonce, got.Nonce)
	}
	if got.CodeVerifier != pending.CodeVerifier {
		t.Errorf("Expected verifier %q, got %q", pending.CodeVerifier, got.CodeVerifier)
	}

	// Lookup must not consume.
	if _, ok, _ := store.Lookup(ctx, "state-1"); !ok {
		t.Error("Expected pending authorization to survive Lookup")
	}
}

func TestMemoryStateStore_LookupReturnsCopy(t *testing.T) {
	store := newMemoryStateStore(time.Minute)
	defer store.Close()

	ctx := context.Background()
	store.Save(ctx, newPendingAuth("state-1", time.Minute))

	got, _, _ := store.Lookup(ctx, "state-1")
	got.Nonce = "mutated"

	again, _, _ := store.Lookup(ctx, "state-1")
	if again.Nonce == "mutated" {
		t.Error("Expected Lookup to return a copy")
	}
}

func TestMemoryStateStore_ConsumeOnce(t *testing.T) {
	store := newMemoryStateStore(time.Minute)
	defer store.Close()

	ctx := context.Background()
	store.Save(ctx, newPendingAuth("state-1", time.Minute))

	got, ok, err := store.Consume(ctx, "state-1")
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if !ok {
		t.Fatal("Expected first Consume to succeed")
	}
	if got.State != "state-1" {
		t.Errorf("Expected state 'state-1', got %q", got.State)
	}

	if _, ok, _ := store.Consume(ctx, "state-1"); ok {
		t.Error("Expected second Consume to fail")
	}

	if _, ok, _ := store.Lookup(ctx, "state-1"); ok {
		t.Error("Expected consumed state to be gone")
	}
}

func TestMemoryStateStore_ConsumeUnknown(t *testing.T) {
	store := newMemoryStateStore(time.Minute)
	defer store.Close()

	if _, ok, _ := store.Consume(context.Background(), "never-saved"); ok {
		t.Error("Expected Consume of unknown state to fail")
	}
}

func TestMemoryStateStore_ConcurrentConsume(t *testing.T) {
	store := newMemoryStateStore(time.Minute)
	defer store.Close()

	ctx := context.Background()
	store.Save(ctx, newPendingAuth("state-1", time.Minute))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := store.Consume(ctx, "state-1"); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("Expected exactly one successful Consume, got %d", wins)
	}
}

func TestMemoryStateStore_Expiry(t *testing.T) {
	store := newMemoryStateStore(time.Minute)
	defer store.Close()

	ctx := context.Background()
	store.Save(ctx, newPendingAuth("state-1", -time.Second))

	if _, ok, _ := store.Lookup(ctx, "state-1"); ok {
		t.Error("Expected expired state to be invisible to Lookup")
	}

	if _, ok, _ := store.Consume(ctx, "state-1"); ok {
		t.Error("Expected expired state to fail Consume")
	}
}

func TestMemoryStateStore_CleanupLoop(t *testing.T) {
	store := newMemoryStateStore(20 * time.Millisecond)
	defer store.Close()

	ctx := context.Background()
	store.Save(ctx, newPendingAuth("stale", time.Millisecond))
	store.Save(ctx, newPendingAuth("fresh", time.Minute))

	deadline := time.Now().Add(time.Second)
	for store.Count() > 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if store.Count() != 1 {
		t.Errorf("Expected cleanup to remove the stale entry, count = %d", store.Count())
	}

	if _, ok, _ := store.Lookup(ctx, "fresh"); !ok {
		t.Error("Expected fresh entry to survive cleanup")
	}
}

func TestMemoryStateStore_Close(t *testing.T) {
	store := newMemoryStateStore(time.Minute)
	store.Save(context.Background(), newPendingAuth("state-1", time.Minute))

	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if store.Count() != 0 {
		t.Errorf("Expected empty store after Close, count = %d", store.Count())
	}

	// Second Close must be a no-op.
	if err := store.Close(); err != nil {
		t.Fatalf("Second Close() error = %v", err)
	}
}

func TestPendingAuth_Expired(t *testing.T) {
	p := &PendingAuth{ExpiresAt: time.Now().Add(time.Minute)}
	if p.Expired() {
		t.Error("Expected future expiry to report not expired")
	}

	p.ExpiresAt = time.Now().Add(-time.Minute)
	if !p.Expired() {
		t.Error("Expected past expiry to report expired")
	}
}
