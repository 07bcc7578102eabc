package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// maxDiscoverySize caps the discovery response body.
const maxDiscoverySize = 1 << 20

// DiscoveryDocument represents the OIDC provider metadata published at
// the /.well-known/openid-configuration endpoint.
type DiscoveryDocument struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserInfoEndpoint                  string   `json:"userinfo_endpoint,omitempty"`
	JWKSURI                           string   `json:"jwks_uri"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint,omitempty"`
	RevocationEndpoint                string   `json:"revocation_endpoint,omitempty"`
	DeviceAuthorizationEndpoint       string   `json:"device_authorization_endpoint,omitempty"`
	EndSessionEndpoint                string   `json:"end_session_endpoint,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	SubjectTypesSupported             []string `json:"subject_types_supported,omitempty"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	ClaimsSupported                   []string `json:"claims_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`

	// FetchedAt records when this document was retrieved.
	FetchedAt time.Time `json:"-"`
}

// Validate checks that the document carries the endpoints every flow
// depends on. The authorization endpoint is not required here because
// service-to-service deployments never use it.
func (d *DiscoveryDocument) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: discovery document is nil", ErrInvalidConfiguration)
	}
	if d.Issuer == "" {
		return fmt.Errorf("%w: discovery document missing issuer", ErrInvalidConfiguration)
	}
	if d.TokenEndpoint == "" {
		return fmt.Errorf("%w: discovery document missing token_endpoint", ErrInvalidConfiguration)
	}
	if d.JWKSURI == "" {
		return fmt.Errorf("%w: discovery document missing jwks_uri", ErrInvalidConfiguration)
	}
	return nil
}

// Expired reports whether the document is older than the given TTL.
func (d *DiscoveryDocument) Expired(ttl time.Duration) bool {
	if d.FetchedAt.IsZero() {
		return true
	}
	return time.Since(d.FetchedAt) > ttl
}

// endpoints is the merged endpoint view used by the rest of the
// client. Discovery values win; provider preset values fill the gaps.
type endpoints struct {
	issuer        string
	authorization string
	token         string
	jwks          string
	userInfo      string
	introspection string
	revocation    string
	deviceAuth    string
	endSession    string
}

// resolveEndpoints merges a discovery document with a provider preset.
// Either argument may be nil.
func resolveEndpoints(doc *DiscoveryDocument, p Provider) endpoints {
	var ep endpoints
	if p != nil {
		ep = endpoints{
			issuer:        p.Issuer(),
			authorization: p.AuthURL(),
			token:         p.TokenURL(),
			jwks:          p.JWKSURL(),
			userInfo:      p.UserInfoURL(),
			introspection: p.IntrospectionURL(),
			revocation:    p.RevocationURL(),
			deviceAuth:    p.DeviceAuthURL(),
			endSession:    p.EndSessionURL(),
		}
	}
	if doc == nil {
		return ep
	}
	if doc.Issuer != "" {
		ep.issuer = doc.Issuer
	}
	if doc.AuthorizationEndpoint != "" {
		ep.authorization = doc.AuthorizationEndpoint
	}
	if doc.TokenEndpoint != "" {
		ep.token = doc.TokenEndpoint
	}
	if doc.JWKSURI != "" {
		ep.jwks = doc.JWKSURI
	}
	if doc.UserInfoEndpoint != "" {
		ep.userInfo = doc.UserInfoEndpoint
	}
	if doc.IntrospectionEndpoint != "" {
		ep.introspection = doc.IntrospectionEndpoint
	}
	if doc.RevocationEndpoint != "" {
		ep.revocation = doc.RevocationEndpoint
	}
	if doc.DeviceAuthorizationEndpoint != "" {
		ep.deviceAuth = doc.DeviceAuthorizationEndpoint
	}
	if doc.EndSessionEndpoint != "" {
		ep.endSession = doc.EndSessionEndpoint
	}
	return ep
}

// discoveryClient handles OIDC discovery document fetching and caching.
type discoveryClient struct {
	mu         sync.RWMutex
	httpClient HTTPClient
	config     *Config
	logger     *slog.Logger
	cache      *DiscoveryDocument
}

// newDiscoveryClient creates a new discovery client.
func newDiscoveryClient(httpClient HTTPClient, config *Config, logger *slog.Logger) *discoveryClient {
	return &discoveryClient{
		httpClient: httpClient,
		config:     config,
		logger:     logger,
	}
}

// Endpoints returns the merged endpoint view, combining the discovery
// document with the provider preset.
func (dc *discoveryClient) Endpoints(ctx context.Context) (endpoints, error) {
	if dc.config.SkipDiscovery && dc.config.Discovery == nil {
		return resolveEndpoints(nil, dc.config.Provider), nil
	}
	doc, err := dc.getDocument(ctx)
	if err != nil {
		return endpoints{}, err
	}
	return resolveEndpoints(doc, dc.config.Provider), nil
}

// getDocument returns the discovery document, fetching it if the cache
// is missing or expired. A statically configured document disables
// fetching entirely.
func (dc *discoveryClient) getDocument(ctx context.Context) (*DiscoveryDocument, error) {
	if dc.config.Discovery != nil {
		return dc.config.Discovery, nil
	}
	if dc.config.SkipDiscovery {
		return nil, fmt.Errorf("%w: discovery disabled by configuration", ErrDiscoveryFetchFailed)
	}

	dc.mu.RLock()
	cached := dc.cache
	dc.mu.RUnlock()

	ttl := dc.config.DiscoveryTTL
	if cached != nil && !cached.Expired(ttl) {
		return cached, nil
	}

	doc, err := dc.fetchDocument(ctx)
	if err != nil {
		// Serve the stale document rather than failing the caller.
		if cached != nil {
			dc.logger.Warn("discovery refresh failed, using cached document",
				"issuer", dc.config.issuer(), "error", err)
			return cached, nil
		}
		return nil, err
	}

	dc.mu.Lock()
	dc.cache = doc
	dc.mu.Unlock()

	return doc, nil
}

// fetchDocument retrieves and validates the discovery document from
// the provider.
func (dc *discoveryClient) fetchDocument(ctx context.Context) (*DiscoveryDocument, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	issuer := dc.config.issuer()
	discoveryURL := buildDiscoveryURL(issuer)
	if err := checkEndpointScheme(discoveryURL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscoveryFetchFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create discovery request: %v", ErrDiscoveryFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := dc.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch discovery document: %v", ErrDiscoveryFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: unexpected status %d: %s", ErrDiscoveryFetchFailed, resp.StatusCode, string(body))
	}

	var doc DiscoveryDocument
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDiscoverySize)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: failed to parse discovery document: %v", ErrDiscoveryFetchFailed, err)
	}

	if err := doc.Validate(); err != nil {
		return nil, err
	}
	if doc.Issuer != issuer {
		return nil, fmt.Errorf("%w: document issuer %q does not match configured issuer %q",
			ErrDiscoveryFetchFailed, doc.Issuer, issuer)
	}

	doc.FetchedAt = time.Now()
	dc.logger.Debug("fetched discovery document", "issuer", doc.Issuer)

	return &doc, nil
}

// Refresh forces a refresh of the cached discovery document.
func (dc *discoveryClient) Refresh(ctx context.Context) error {
	if dc.config.Discovery != nil || dc.config.SkipDiscovery {
		return nil
	}

	doc, err := dc.fetchDocument(ctx)
	if err != nil {
		return err
	}

	dc.mu.Lock()
	dc.cache = doc
	dc.mu.Unlock()

	return nil
}

// CachedDocument returns the cached discovery document without fetching.
func (dc *discoveryClient) CachedDocument() *DiscoveryDocument {
	if dc.config.Discovery != nil {
		return dc.config.Discovery
	}
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.cache
}

// buildDiscoveryURL constructs the standard OIDC discovery URL from an issuer.
func buildDiscoveryURL(issuer string) string {
	issuer = strings.TrimSpace(issuer)
	issuer = strings.TrimSuffix(issuer, "/")
	return issuer + "/.well-known/openid-configuration"
}

// checkEndpointScheme rejects plaintext endpoints except on loopback
// hosts, which integration setups rely on.
func checkEndpointScheme(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid endpoint URL %q: %v", rawURL, err)
	}
	if u.Scheme == "https" {
		return nil
	}
	if u.Scheme == "http" {
		switch u.Hostname() {
		case "localhost", "127.0.0.1", "::1":
			return nil
		}
	}
	return fmt.Errorf("endpoint %q must use https", rawURL)
}
