package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// Token represents an OAuth 2.0 token set and associated metadata.
type Token struct {
	// AccessToken is the OAuth access token.
	AccessToken string

	// TokenType is the type of token (usually "Bearer").
	TokenType string

	// RefreshToken is used to obtain new access tokens (optional).
	RefreshToken string

	// Expiry is when the access token expires.
	Expiry time.Time

	// Scopes are the scopes granted to this token.
	Scopes []string

	// IDToken is the OpenID Connect ID token (optional).
	IDToken string
}

// Valid returns true if the token is not expired.
func (t *Token) Valid() bool {
	return !t.Expired()
}

// Expired returns true if the token has expired. Tokens without an
// expiry never expire.
func (t *Token) Expired() bool {
	if t.Expiry.IsZero() {
		return false
	}
	return time.Now().After(t.Expiry)
}

// ExpiresWithin reports whether the token expires within d.
func (t *Token) ExpiresWithin(d time.Duration) bool {
	if t.Expiry.IsZero() {
		return false
	}
	return time.Now().Add(d).After(t.Expiry)
}

// OAuth2Token converts to the golang.org/x/oauth2 representation. The
// ID token travels in the extra metadata under "id_token", where that
// ecosystem expects it.
func (t *Token) OAuth2Token() *oauth2.Token {
	ot := &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
	}
	if t.IDToken != "" {
		ot = ot.WithExtra(map[string]interface{}{"id_token": t.IDToken})
	}
	return ot
}

// tokenResponse is the provider token endpoint response body.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	IDToken      string `json:"id_token"`
}

// tokenFromResponse parses a token endpoint response body.
func tokenFromResponse(body []byte) (*Token, error) {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", ErrTokenRequestFailed, err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("%w: no access token in response", ErrTokenRequestFailed)
	}

	token := &Token{
		AccessToken:  tr.AccessToken,
		TokenType:    tr.TokenType,
		RefreshToken: tr.RefreshToken,
		IDToken:      tr.IDToken,
	}

	if token.TokenType == "" {
		token.TokenType = "Bearer"
	}

	if tr.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	} else {
		token.Expiry = expiryHint(tr.AccessToken)
	}

	if tr.Scope != "" {
		token.Scopes = splitScopes(tr.Scope)
	}

	return token, nil
}

// expiryHint extracts exp from a JWT access token without verifying
// it. Providers that omit expires_in usually issue JWT access tokens.
func expiryHint(accessToken string) time.Time {
	if strings.Count(accessToken, ".") != 2 {
		return time.Time{}
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// splitScopes splits a space-separated scope string.
func splitScopes(scope string) []string {
	return strings.Fields(scope)
}

// parseExpiresIn parses an expires_in value arriving as a string.
func parseExpiresIn(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// Introspection is the RFC 7662 response from the token introspection
// endpoint. Only Active is guaranteed; everything else is optional and
// absent for inactive tokens.
type Introspection struct {
	Active    bool     `json:"active"`
	Scope     string   `json:"scope,omitempty"`
	ClientID  string   `json:"client_id,omitempty"`
	Username  string   `json:"username,omitempty"`
	TokenType string   `json:"token_type,omitempty"`
	Expiry    int64    `json:"exp,omitempty"`
	IssuedAt  int64    `json:"iat,omitempty"`
	NotBefore int64    `json:"nbf,omitempty"`
	Subject   string   `json:"sub,omitempty"`
	Audience  audience `json:"aud,omitempty"`
	Issuer    string   `json:"iss,omitempty"`
	JTI       string   `json:"jti,omitempty"`
}

// tokenManager owns the current token set and its lifecycle: refresh,
// introspection, and revocation.
type tokenManager struct {
	mu         sync.RWMutex
	current    *Token
	config     *Config
	httpClient HTTPClient
	discovery  *discoveryClient
	flows      *flowHandler
	logger     *slog.Logger
	group      singleflight.Group
}

// newTokenManager creates a new token manager.
func newTokenManager(config *Config, httpClient HTTPClient, discovery *discoveryClient, flows *flowHandler, logger *slog.Logger) *tokenManager {
	return &tokenManager{
		config:     config,
		httpClient: httpClient,
		discovery:  discovery,
		flows:      flows,
		logger:     logger,
	}
}

// SetToken stores a token set as the current one.
func (tm *tokenManager) SetToken(t *Token) {
	if t == nil {
		return
	}
	cp := *t
	tm.mu.Lock()
	tm.current = &cp
	tm.mu.Unlock()
}

// CurrentToken returns a copy of the current token set.
func (tm *tokenManager) CurrentToken() (*Token, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	if tm.current == nil {
		return nil, fmt.Errorf("%w: authenticate first", ErrNoCurrentToken)
	}
	cp := *tm.current
	return &cp, nil
}

// ClearTokens drops the held token set.
func (tm *tokenManager) ClearTokens() {
	tm.mu.Lock()
	tm.current = nil
	tm.mu.Unlock()
}

// AccessToken returns a valid access token, refreshing it when it is
// expired or inside the refresh window. Concurrent refreshes coalesce
// into a single request.
func (tm *tokenManager) AccessToken(ctx context.Context) (string, error) {
	tm.mu.RLock()
	current := tm.current
	tm.mu.RUnlock()

	if current == nil {
		return "", fmt.Errorf("%w: authenticate first", ErrNoCurrentToken)
	}

	if !current.Expired() && !current.ExpiresWithin(tm.config.RefreshWindow) {
		return current.AccessToken, nil
	}

	if current.RefreshToken == "" {
		if current.Expired() {
			return "", fmt.Errorf("%w: access token expired and no refresh token held", ErrTokenExpired)
		}
		return current.AccessToken, nil
	}

	refreshed, err := tm.refresh(ctx)
	if err != nil {
		// Inside the window the old token still works; keep going.
		if !current.Expired() {
			tm.logger.Warn("token refresh failed, access token still valid", "error", err)
			return current.AccessToken, nil
		}
		// An expired token that cannot be refreshed is useless; drop it
		// rather than hand out something stale.
		tm.ClearTokens()
		return "", err
	}
	return refreshed.AccessToken, nil
}

// refresh exchanges the refresh token and stores the new token set.
// The singleflight group collapses concurrent callers into a single
// request; every caller gets the same result.
func (tm *tokenManager) refresh(ctx context.Context) (*Token, error) {
	v, err, _ := tm.group.Do("refresh", func() (interface{}, error) {
		tm.mu.RLock()
		current := tm.current
		tm.mu.RUnlock()

		if current == nil || current.RefreshToken == "" {
			return nil, fmt.Errorf("%w: no refresh token held", ErrRefreshFailed)
		}

		token, err := tm.flows.refreshToken(ctx, current.RefreshToken)
		if err != nil {
			return nil, err
		}

		// Providers may omit these on refresh; keep what we have.
		if token.RefreshToken == "" {
			token.RefreshToken = current.RefreshToken
		}
		if token.IDToken == "" {
			token.IDToken = current.IDToken
		}

		tm.mu.Lock()
		tm.current = token
		tm.mu.Unlock()

		tm.logger.Debug("access token refreshed", "expiry", token.Expiry)
		return token, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Token), nil
}

// Introspect asks the provider whether a token is active.
func (tm *tokenManager) Introspect(ctx context.Context, token string) (*Introspection, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: token is required", ErrIntrospectionFailed)
	}

	ep, err := tm.discovery.Endpoints(ctx)
	if err != nil {
		return nil, err
	}
	if ep.introspection == "" {
		return nil, fmt.Errorf("%w: provider has no introspection endpoint", ErrIntrospectionFailed)
	}

	data := url.Values{}
	data.Set("token", token)

	body, err := tm.authenticatedPost(ctx, ep.introspection, data, ErrIntrospectionFailed)
	if err != nil {
		return nil, err
	}

	var result Introspection
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", ErrIntrospectionFailed, err)
	}
	return &result, nil
}

// Revoke revokes a token at the provider. Revoking an unknown or
// already revoked token succeeds.
func (tm *tokenManager) Revoke(ctx context.Context, token, tokenTypeHint string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("%w: token is required", ErrRevocationFailed)
	}

	ep, err := tm.discovery.Endpoints(ctx)
	if err != nil {
		return err
	}
	if ep.revocation == "" {
		return fmt.Errorf("%w: provider has no revocation endpoint", ErrRevocationFailed)
	}

	data := url.Values{}
	data.Set("token", token)
	if tokenTypeHint != "" {
		data.Set("token_type_hint", tokenTypeHint)
	}

	if _, err := tm.authenticatedPost(ctx, ep.revocation, data, ErrRevocationFailed); err != nil {
		return err
	}
	return nil
}

// authenticatedPost sends a client-authenticated form POST and returns
// the response body. The client secret travels as Basic auth when
// present; public clients fall back to a client_id form field.
func (tm *tokenManager) authenticatedPost(ctx context.Context, endpoint string, data url.Values, sentinel error) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if tm.config.ClientSecret == "" {
		data.Set("client_id", tm.config.ClientID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sentinel, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if tm.config.ClientSecret != "" {
		req.SetBasicAuth(tm.config.ClientID, tm.config.ClientSecret)
	}

	resp, err := tm.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sentinel, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", sentinel, err)
	}

	if resp.StatusCode != http.StatusOK {
		if oe := parseOAuthError(body); oe != nil {
			return nil, fmt.Errorf("%w: %s: %s", sentinel, oe.Code, oe.Description)
		}
		return nil, fmt.Errorf("%w: status %d: %s", sentinel, resp.StatusCode, string(body))
	}

	return body, nil
}
