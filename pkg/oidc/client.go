package oidc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/oauth2"
)

// discardHandler matches slog.DiscardHandler, which is unavailable
// before Go 1.24.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return discardHandler{} }
func (discardHandler) WithGroup(string) slog.Handler             { return discardHandler{} }

// Client is the OpenID Connect relying-party client. It drives the
// authorization flows, validates ID tokens, and manages the resulting
// token set. A Client is safe for concurrent use and immutable after
// construction.
type Client struct {
	config       *Config
	httpClient   HTTPClient
	logger       *slog.Logger
	discovery    *discoveryClient
	keys         *keyResolver
	validator    *idTokenValidator
	store        AuthStateStore
	ownStore     bool
	flows        *flowHandler
	device       *deviceFlow
	tokens       *tokenManager
	userinfo     *userInfoClient
	accessTokens *accessTokenValidator
	cache        TokenCache
}

// New creates a Client from the given configuration.
func New(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("%w: config is nil", ErrInvalidConfiguration)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(discardHandler{})
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = newDefaultHTTPClient(config.Timeout, config.TLSConfig, config.InsecureSkipVerify)
	}

	c := &Client{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
	}

	c.discovery = newDiscoveryClient(httpClient, config, logger)
	c.keys = newKeyResolver(httpClient, c.discovery, config, logger)
	c.validator = newIDTokenValidator(c.keys, config)

	c.store = config.Store
	if c.store == nil {
		c.store = newMemoryStateStore(config.StateTTL)
		c.ownStore = true
	}

	c.flows = newFlowHandler(config, httpClient, c.discovery, c.store, c.validator, logger)
	c.device = newDeviceFlow(config, httpClient, c.discovery, c.validator, logger)
	c.tokens = newTokenManager(config, httpClient, c.discovery, c.flows, logger)
	c.userinfo = newUserInfoClient(httpClient, config, c.discovery, logger)

	if config.Validation.Method != "" {
		c.accessTokens = newAccessTokenValidator(config, httpClient, c.discovery, logger)
	}

	if config.Cache.Enabled {
		c.cache = newLRUCache(config.Cache.MaxSize)
	} else {
		c.cache = &noopCache{}
	}

	return c, nil
}

// BeginAuthorization starts the authorization-code flow. It generates
// state, nonce, and PKCE material, stores the pending authorization,
// and returns the URL to redirect the user to. extraParams are added
// to the authorization URL verbatim (prompt, login_hint, and similar).
func (c *Client) BeginAuthorization(ctx context.Context, extraParams map[string]string) (*AuthRequest, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return c.flows.beginAuthorization(ctx, extraParams)
}

// HandleCallback completes the authorization-code flow from the full
// callback URL the provider redirected to. It checks the state,
// exchanges the code, validates the ID token against the stored nonce,
// and stores the resulting token set.
func (c *Client) HandleCallback(ctx context.Context, callbackURL string) (*AuthResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := c.flows.handleCallback(ctx, callbackURL)
	if err != nil {
		return nil, err
	}

	c.tokens.SetToken(result.Token)
	return result, nil
}

// HandleImplicitCallback completes the implicit flow from the callback
// URL, reading tokens from the URL fragment. The ID token is validated
// before anything is returned or stored.
func (c *Client) HandleImplicitCallback(ctx context.Context, callbackURL string) (*AuthResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := c.flows.handleImplicitCallback(ctx, callbackURL)
	if err != nil {
		return nil, err
	}

	c.tokens.SetToken(result.Token)
	return result, nil
}

// StartDeviceAuthorization begins the device-authorization grant and
// returns the user code and verification URI to display.
func (c *Client) StartDeviceAuthorization(ctx context.Context) (*DeviceAuthorization, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return c.device.start(ctx)
}

// PollDeviceToken polls the token endpoint until the user approves or
// denies the device authorization, the code expires, or ctx is
// canceled. On success the token set is stored.
func (c *Client) PollDeviceToken(ctx context.Context, auth *DeviceAuthorization) (*AuthResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := c.device.poll(ctx, auth)
	if err != nil {
		return nil, err
	}

	c.tokens.SetToken(result.Token)
	return result, nil
}

// AuthenticateClientCredentials performs the client-credentials grant
// and stores the resulting token set.
func (c *Client) AuthenticateClientCredentials(ctx context.Context) (*Token, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	token, err := c.flows.authenticateClientCredentials(ctx)
	if err != nil {
		return nil, err
	}

	c.tokens.SetToken(token)
	return token, nil
}

// AuthenticatePassword performs the resource-owner password grant and
// stores the resulting token set.
func (c *Client) AuthenticatePassword(ctx context.Context, username, password string) (*Token, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	token, err := c.flows.authenticatePassword(ctx, username, password)
	if err != nil {
		return nil, err
	}

	c.tokens.SetToken(token)
	return token, nil
}

// ValidateIDToken validates an ID token and returns its claims. nonce
// is compared against the token's nonce claim when non-empty.
// accessToken enables at_hash verification when non-empty.
func (c *Client) ValidateIDToken(ctx context.Context, idToken, nonce, accessToken string) (*ClaimSet, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return c.validator.validate(ctx, idToken, nonce, accessToken, false)
}

// ValidateAccessToken validates a bearer access token using the
// configured validation method. Validated claims are cached when
// caching is enabled.
func (c *Client) ValidateAccessToken(ctx context.Context, token string) (*AccessTokenClaims, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: empty access token", ErrMissingToken)
	}
	if c.accessTokens == nil {
		return nil, fmt.Errorf("%w: access-token validation is not configured", ErrInvalidConfiguration)
	}

	key := cacheKey(token)
	if cached := c.cache.Get(key); cached != nil {
		if cached.ValidWithClockSkew(c.config.Validation.ClockSkew) {
			return cached, nil
		}
		c.cache.Delete(key)
	}

	claims, err := c.accessTokens.validate(ctx, token)
	if err != nil {
		return nil, err
	}

	if c.config.Cache.Enabled {
		c.cache.Set(key, claims, c.config.Cache.TTL)
	}

	return claims, nil
}

// AccessToken returns a currently valid access token, transparently
// refreshing the token set when it is expired or inside the refresh
// window.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	return c.tokens.AccessToken(ctx)
}

// CurrentToken returns a copy of the current token set.
func (c *Client) CurrentToken() (*Token, error) {
	return c.tokens.CurrentToken()
}

// SetToken replaces the current token set, for callers that obtained
// tokens out of band.
func (c *Client) SetToken(t *Token) {
	c.tokens.SetToken(t)
}

// ClearTokens drops the current token set locally. It does not revoke
// anything at the provider.
func (c *Client) ClearTokens() {
	c.tokens.ClearTokens()
}

// Introspect asks the provider whether a token is active.
func (c *Client) Introspect(ctx context.Context, token string) (*Introspection, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return c.tokens.Introspect(ctx, token)
}

// Revoke revokes a token at the provider. tokenTypeHint is optional
// ("access_token" or "refresh_token"). Revoking an unknown or already
// revoked token succeeds.
func (c *Client) Revoke(ctx context.Context, token, tokenTypeHint string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return c.tokens.Revoke(ctx, token, tokenTypeHint)
}

// UserInfo fetches claims from the userinfo endpoint. An empty
// accessToken uses the current token set; in that case, when an ID
// token is held, the userinfo subject must match the ID token subject.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var expectedSubject string
	if accessToken == "" {
		current, err := c.tokens.CurrentToken()
		if err != nil {
			return nil, err
		}
		accessToken = current.AccessToken
		if current.IDToken != "" {
			if raw, err := decodeIDToken(current.IDToken); err == nil {
				expectedSubject = raw.claims.Subject
			}
		}
	}

	return c.userinfo.UserInfo(ctx, accessToken, expectedSubject)
}

// LogoutURL builds the RP-initiated logout URL. The current ID token,
// when held, is attached as id_token_hint. Local tokens are not
// touched; call ClearTokens after redirecting.
func (c *Client) LogoutURL(ctx context.Context, postLogoutRedirectURL string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var idTokenHint string
	if current, err := c.tokens.CurrentToken(); err == nil {
		idTokenHint = current.IDToken
	}

	return c.flows.logoutURL(ctx, idTokenHint, postLogoutRedirectURL)
}

// Discovery returns the provider's discovery document, fetching it if
// necessary.
func (c *Client) Discovery(ctx context.Context) (*DiscoveryDocument, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return c.discovery.getDocument(ctx)
}

// RefreshDiscovery forces a refetch of the discovery document.
func (c *Client) RefreshDiscovery(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return c.discovery.Refresh(ctx)
}

// TokenSource exposes the client's managed token set as an
// oauth2.TokenSource for use with libraries built on golang.org/x/oauth2.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	if ctx == nil {
		ctx = context.Background()
	}
	return &tokenSource{ctx: ctx, tokens: c.tokens}
}

// ClearCaches drops cached access-token validations and userinfo
// responses.
func (c *Client) ClearCaches() {
	c.cache.Clear()
	c.userinfo.ClearCache()
}

// Close releases resources held by the client: the pending-auth store
// it created, cache sweepers, and the background JWKS refresher.
func (c *Client) Close() error {
	var err error
	if c.ownStore {
		err = c.store.Close()
	}

	if lru, ok := c.cache.(*lruCache); ok {
		lru.Close()
	}

	if c.accessTokens != nil {
		c.accessTokens.Close()
	}

	return err
}
