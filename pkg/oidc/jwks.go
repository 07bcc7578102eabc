package oidc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jeremyhahn/go-oidc/pkg/jwk"
)

// maxJWKSSize caps the JWKS response body.
const maxJWKSSize = 1 << 20

// keyResolver caches the provider's JWKS and resolves verification
// keys by key ID. Concurrent cache misses are coalesced into a single
// fetch.
type keyResolver struct {
	mu         sync.RWMutex
	httpClient HTTPClient
	discovery  *discoveryClient
	config     *Config
	logger     *slog.Logger
	group      singleflight.Group

	keys      map[string]jwk.Key
	fetchedAt time.Time
}

// newKeyResolver creates a new key resolver.
func newKeyResolver(httpClient HTTPClient, discovery *discoveryClient, config *Config, logger *slog.Logger) *keyResolver {
	return &keyResolver{
		httpClient: httpClient,
		discovery:  discovery,
		config:     config,
		logger:     logger,
	}
}

// ResolveKey returns the verification key for the given key ID,
// fetching the JWKS when the key is unknown or the cache has gone
// stale. The kid is required; tokens that omit it are rejected before
// any key is consulted.
func (kr *keyResolver) ResolveKey(ctx context.Context, kid string) (*jwk.Key, error) {
	if kid == "" {
		return nil, fmt.Errorf("%w: token has no key id", ErrMissingKeyID)
	}

	key, ok, stale := kr.lookup(kid)
	if ok && !stale {
		return key, nil
	}

	if err := kr.refresh(ctx); err != nil {
		// A stale key beats no key.
		if ok {
			kr.logger.Warn("jwks refresh failed, using cached key", "kid", kid, "error", err)
			return key, nil
		}
		return nil, err
	}

	if key, ok, _ := kr.lookup(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: no key with id %q in jwks", ErrKeyNotFound, kid)
}

// lookup returns a copy of the cached key plus whether the cache has
// outlived KeyCacheTTL. Without a TTL the cache never goes stale on
// its own; only unknown key IDs trigger a refetch.
func (kr *keyResolver) lookup(kid string) (*jwk.Key, bool, bool) {
	kr.mu.RLock()
	defer kr.mu.RUnlock()

	stale := kr.fetchedAt.IsZero()
	if ttl := kr.config.KeyCacheTTL; ttl > 0 && !stale {
		stale = time.Since(kr.fetchedAt) > ttl
	}

	if k, ok := kr.keys[kid]; ok {
		return &k, true, stale
	}
	return nil, false, stale
}

// refresh fetches the JWKS, coalescing concurrent callers into a
// single request.
func (kr *keyResolver) refresh(ctx context.Context) error {
	_, err, _ := kr.group.Do("jwks", func() (interface{}, error) {
		return nil, kr.fetch(ctx)
	})
	return err
}

// fetch retrieves the JWKS and replaces the cached key set.
func (kr *keyResolver) fetch(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ep, err := kr.discovery.Endpoints(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	if ep.jwks == "" {
		return fmt.Errorf("%w: provider has no jwks endpoint", ErrJWKSFetchFailed)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.jwks, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to create jwks request: %v", ErrJWKSFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := kr.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: failed to fetch jwks: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: unexpected status %d: %s", ErrJWKSFetchFailed, resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSSize))
	if err != nil {
		return fmt.Errorf("%w: failed to read jwks response: %v", ErrJWKSFetchFailed, err)
	}

	set, err := jwk.ParseSet(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}

	keys := make(map[string]jwk.Key, len(set.Keys))
	for i := range set.Keys {
		k := set.Keys[i]
		if k.Kid != "" {
			keys[k.Kid] = k
		}
	}

	kr.mu.Lock()
	kr.keys = keys
	kr.fetchedAt = time.Now()
	kr.mu.Unlock()

	kr.logger.Debug("fetched jwks", "url", ep.jwks, "keys", len(set.Keys))
	return nil
}
