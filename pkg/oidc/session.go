package oidc

import (
	"context"
	"sync"
	"time"
)

// PendingAuth records an authorization request between the redirect to
// the provider and the callback. The state value keys the record; the
// nonce and PKCE verifier are needed again when the callback arrives.
type PendingAuth struct {
	// State is the opaque value round-tripped through the provider.
	State string

	// Nonce binds the ID token to this authorization request.
	Nonce string

	// CodeVerifier is the PKCE verifier whose challenge was sent with
	// the authorization request. Empty when PKCE is disabled.
	CodeVerifier string

	// RedirectURL is the redirect_uri sent with the authorization
	// request. The token exchange repeats it.
	RedirectURL string

	// CreatedAt records when the authorization began.
	CreatedAt time.Time

	// ExpiresAt bounds how long the callback may take.
	ExpiresAt time.Time
}

// Expired reports whether the callback window has closed.
func (p *PendingAuth) Expired() bool {
	return time.Now().After(p.ExpiresAt)
}

// AuthStateStore persists pending authorizations between the redirect
// and the callback. Implementations must be safe for concurrent use,
// and Consume must be atomic so each state value is accepted exactly
// once. The default store is in-memory; multi-instance deployments
// supply a shared implementation.
type AuthStateStore interface {
	// Save stores a pending authorization keyed by its state value.
	Save(ctx context.Context, pending *PendingAuth) error

	// Lookup returns the pending authorization for state without
	// consuming it.
	Lookup(ctx context.Context, state string) (*PendingAuth, bool, error)

	// Consume removes and returns the pending authorization for
	// state. The boolean is false when the state is unknown, expired,
	// or already consumed.
	Consume(ctx context.Context, state string) (*PendingAuth, bool, error)

	// Close releases store resources.
	Close() error
}

// memoryStateStore is the default in-memory AuthStateStore with
// automatic cleanup of expired entries.
type memoryStateStore struct {
	mu        sync.RWMutex
	pending   map[string]*PendingAuth
	cleanup   *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

// newMemoryStateStore creates an in-memory state store whose cleanup
// pass runs twice per TTL period.
func newMemoryStateStore(ttl time.Duration) *memoryStateStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	ms := &memoryStateStore{
		pending: make(map[string]*PendingAuth),
		cleanup: time.NewTicker(ttl / 2),
		done:    make(chan struct{}),
	}

	go ms.cleanupLoop()

	return ms
}

func (ms *memoryStateStore) Save(ctx context.Context, pending *PendingAuth) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.pending[pending.State] = pending
	return nil
}

func (ms *memoryStateStore) Lookup(ctx context.Context, state string) (*PendingAuth, bool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	p, ok := ms.pending[state]
	if !ok || p.Expired() {
		return nil, false, nil
	}
	cp := *p
	return &cp, true, nil
}

func (ms *memoryStateStore) Consume(ctx context.Context, state string) (*PendingAuth, bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	p, ok := ms.pending[state]
	if !ok {
		return nil, false, nil
	}
	delete(ms.pending, state)
	if p.Expired() {
		return nil, false, nil
	}
	return p, true, nil
}

// cleanupLoop periodically removes expired entries.
func (ms *memoryStateStore) cleanupLoop() {
	for {
		select {
		case <-ms.cleanup.C:
			ms.cleanupExpired()
		case <-ms.done:
			return
		}
	}
}

// cleanupExpired removes all expired entries from the store.
func (ms *memoryStateStore) cleanupExpired() {
	now := time.Now()

	ms.mu.Lock()
	defer ms.mu.Unlock()

	for state, p := range ms.pending {
		if now.After(p.ExpiresAt) {
			delete(ms.pending, state)
		}
	}
}

// Close stops the cleanup goroutine and releases resources.
func (ms *memoryStateStore) Close() error {
	ms.closeOnce.Do(func() {
		ms.cleanup.Stop()
		close(ms.done)

		ms.mu.Lock()
		defer ms.mu.Unlock()
		ms.pending = nil
	})
	return nil
}

// Count returns the current number of pending authorizations.
func (ms *memoryStateStore) Count() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.pending)
}
