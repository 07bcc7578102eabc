package oidc

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ValidationMethod identifies how bearer access tokens presented to a
// resource server are validated.
type ValidationMethod string

const (
	// ValidationJWT performs local JWT validation using JWKS.
	ValidationJWT ValidationMethod = "jwt"

	// ValidationIntrospection performs remote token introspection.
	ValidationIntrospection ValidationMethod = "introspection"

	// ValidationHybrid attempts JWT first, falls back to introspection.
	ValidationHybrid ValidationMethod = "hybrid"
)

// ValidationConfig contains settings for bearer access-token
// validation. It is independent of ID-token validation, which is
// always performed locally against the provider's JWKS.
type ValidationConfig struct {
	// Method determines how access tokens are validated. Empty disables
	// the access-token validator.
	Method ValidationMethod

	// JWKSURL overrides the JWKS endpoint for JWT validation. Defaults
	// to the discovered jwks_uri.
	JWKSURL string

	// IntrospectionURL overrides the introspection endpoint. Defaults
	// to the discovered introspection_endpoint.
	IntrospectionURL string

	// Audience is the expected audience claim (optional).
	Audience string

	// ClockSkew allows for clock drift when checking access-token
	// expiry. Default: 60 seconds.
	ClockSkew time.Duration

	// RequiredClaims lists claim names that must be present.
	RequiredClaims []string
}

// CacheConfig contains settings for caching validated access tokens.
type CacheConfig struct {
	// Enabled determines if caching is active.
	Enabled bool

	// MaxSize is the maximum number of entries (LRU eviction).
	MaxSize int

	// TTL is how long to cache valid results.
	TTL time.Duration
}

// Config contains the complete relying-party client configuration.
type Config struct {
	// Provider supplies the issuer and endpoint fallbacks. Either
	// Provider or Discovery must be set.
	Provider Provider

	// ClientID is the OAuth client identifier.
	ClientID string

	// ClientSecret is the client secret. Required for confidential
	// flows and for introspection/revocation with basic auth.
	ClientSecret string

	// RedirectURL is the callback URL registered for this client.
	// Required for the authorization-code and implicit flows.
	RedirectURL string

	// Scopes are the scopes to request. Defaults to ["openid"].
	Scopes []string

	// DisablePKCE turns off PKCE for the authorization-code flow.
	// PKCE is on by default.
	DisablePKCE bool

	// Discovery supplies provider metadata statically and disables
	// fetching the discovery document.
	Discovery *DiscoveryDocument

	// SkipDiscovery disables discovery fetching even without a static
	// document. Endpoints then come entirely from the provider preset,
	// which is what providers without OIDC discovery (GitHub) need.
	SkipDiscovery bool

	// DiscoveryTTL determines how long fetched discovery documents are
	// cached. Default: 24 hours.
	DiscoveryTTL time.Duration

	// StateTTL bounds how long a pending authorization may wait for its
	// callback. Default: 10 minutes.
	StateTTL time.Duration

	// KeyCacheTTL, when set, treats a verification-key cache older than
	// this as a miss so provider key rotation is picked up without a
	// failed lookup. Zero means keys are refetched only on cache miss.
	KeyCacheTTL time.Duration

	// ClockSkew is the leeway applied to ID-token time claims. Zero by
	// default: exp must be strictly in the future.
	ClockSkew time.Duration

	// RefreshWindow refreshes access tokens this long before they
	// expire. Zero refreshes only once expired.
	RefreshWindow time.Duration

	// DevicePollInterval is the fallback poll interval when the device
	// authorization response carries none. Default: 5 seconds.
	DevicePollInterval time.Duration

	// Store holds pending authorizations between the authorization
	// request and its callback. Defaults to an in-memory store.
	Store AuthStateStore

	// Logger receives diagnostic events. Defaults to a discard logger.
	Logger *slog.Logger

	// HTTPClient overrides the default HTTP client.
	HTTPClient HTTPClient

	// Timeout is the HTTP client timeout. Default: 30 seconds.
	Timeout time.Duration

	// TLSConfig allows custom TLS configuration.
	TLSConfig *tls.Config

	// InsecureSkipVerify disables TLS certificate verification (not
	// recommended).
	InsecureSkipVerify bool

	// Validation configures the bearer access-token validator.
	Validation ValidationConfig

	// Cache configures caching of validated access tokens.
	Cache CacheConfig
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidConfiguration)
	}

	if strings.TrimSpace(c.ClientID) == "" {
		return fmt.Errorf("%w: client_id is required", ErrInvalidConfiguration)
	}

	if c.Provider == nil && c.Discovery == nil {
		return fmt.Errorf("%w: provider or discovery document is required", ErrInvalidConfiguration)
	}

	if c.Discovery != nil {
		if err := c.Discovery.Validate(); err != nil {
			return err
		}
	} else if c.SkipDiscovery {
		if c.Provider.TokenURL() == "" {
			return fmt.Errorf("%w: provider token endpoint is required when discovery is skipped", ErrInvalidConfiguration)
		}
	} else if c.Provider.Issuer() == "" {
		return fmt.Errorf("%w: provider issuer is required for discovery", ErrInvalidConfiguration)
	}

	if len(c.Scopes) == 0 {
		c.Scopes = []string{"openid"}
	}

	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.DiscoveryTTL <= 0 {
		c.DiscoveryTTL = 24 * time.Hour
	}
	if c.StateTTL <= 0 {
		c.StateTTL = 10 * time.Minute
	}
	if c.DevicePollInterval <= 0 {
		c.DevicePollInterval = 5 * time.Second
	}

	if c.Validation.Method != "" {
		if err := c.validateAccessTokenValidation(); err != nil {
			return err
		}
	}

	if c.Cache.Enabled {
		if c.Cache.MaxSize <= 0 {
			c.Cache.MaxSize = 1000
		}
		if c.Cache.TTL <= 0 {
			c.Cache.TTL = 5 * time.Minute
		}
	}

	return nil
}

func (c *Config) validateAccessTokenValidation() error {
	switch c.Validation.Method {
	case ValidationJWT, ValidationHybrid:
		// JWKS URL may come from discovery; nothing to require here.
	case ValidationIntrospection:
		if strings.TrimSpace(c.ClientSecret) == "" {
			return fmt.Errorf("%w: client_secret required for introspection", ErrInvalidConfiguration)
		}
	default:
		return fmt.Errorf("%w: validation method %s", ErrInvalidConfiguration, c.Validation.Method)
	}

	if c.Validation.ClockSkew <= 0 {
		c.Validation.ClockSkew = 60 * time.Second
	}

	return nil
}

// issuer returns the configured issuer, preferring static discovery
// metadata over the provider preset.
func (c *Config) issuer() string {
	if c.Discovery != nil && c.Discovery.Issuer != "" {
		return c.Discovery.Issuer
	}
	if c.Provider != nil {
		return c.Provider.Issuer()
	}
	return ""
}

// pkceEnabled reports whether the authorization-code flow attaches a
// PKCE challenge.
func (c *Config) pkceEnabled() bool {
	return !c.DisablePKCE
}
