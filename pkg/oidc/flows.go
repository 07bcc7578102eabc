package oidc

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxTokenResponseSize caps token endpoint response bodies.
const maxTokenResponseSize = 1 << 20

// AuthRequest is a started authorization: the URL to send the user to
// plus the state value identifying it in the callback.
type AuthRequest struct {
	// URL is the provider authorization URL with all parameters bound.
	URL string

	// State identifies this authorization when the callback arrives.
	State string
}

// AuthResult is the outcome of a completed authorization: the token
// set plus the validated ID token claims. Claims is nil for plain
// OAuth providers that issue no ID token.
type AuthResult struct {
	Token  *Token
	Claims *ClaimSet
}

// oauthError is the RFC 6749 error body protocol endpoints return.
type oauthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

// parseOAuthError decodes an error body, returning nil when the body
// is not a recognizable OAuth error.
func parseOAuthError(body []byte) *oauthError {
	var oe oauthError
	if err := json.Unmarshal(body, &oe); err != nil || oe.Code == "" {
		return nil
	}
	return &oe
}

// flowHandler implements the browser and credential grant flows.
type flowHandler struct {
	config     *Config
	httpClient HTTPClient
	discovery  *discoveryClient
	store      AuthStateStore
	validator  *idTokenValidator
	logger     *slog.Logger
}

// newFlowHandler creates a new flow handler.
func newFlowHandler(config *Config, httpClient HTTPClient, discovery *discoveryClient, store AuthStateStore, validator *idTokenValidator, logger *slog.Logger) *flowHandler {
	return &flowHandler{
		config:     config,
		httpClient: httpClient,
		discovery:  discovery,
		store:      store,
		validator:  validator,
		logger:     logger,
	}
}

// beginAuthorization starts an authorization-code flow: it generates
// state, nonce, and the PKCE verifier, saves the pending record, and
// returns the URL to redirect the user to.
func (f *flowHandler) beginAuthorization(ctx context.Context, extraParams map[string]string) (*AuthRequest, error) {
	ep, err := f.discovery.Endpoints(ctx)
	if err != nil {
		return nil, err
	}
	if ep.authorization == "" {
		return nil, fmt.Errorf("%w: provider has no authorization endpoint", ErrInvalidConfiguration)
	}

	state, err := randomToken()
	if err != nil {
		return nil, err
	}
	nonce, err := randomToken()
	if err != nil {
		return nil, err
	}

	var verifier, challenge string
	if f.config.pkceEnabled() {
		verifier, err = randomToken()
		if err != nil {
			return nil, err
		}
		challenge = pkceChallenge(verifier)
	}

	now := time.Now()
	pending := &PendingAuth{
		State:        state,
		Nonce:        nonce,
		CodeVerifier: verifier,
		RedirectURL:  f.config.RedirectURL,
		CreatedAt:    now,
		ExpiresAt:    now.Add(f.config.StateTTL),
	}
	if err := f.store.Save(ctx, pending); err != nil {
		return nil, err
	}

	authURL := f.buildAuthURL(ep.authorization, state, nonce, challenge, extraParams)
	f.logger.Debug("authorization started", "state", state)

	return &AuthRequest{URL: authURL, State: state}, nil
}

// buildAuthURL assembles the authorization endpoint URL.
func (f *flowHandler) buildAuthURL(endpoint, state, nonce, codeChallenge string, extraParams map[string]string) string {
	params := url.Values{}
	params.Set("client_id", f.config.ClientID)
	params.Set("redirect_uri", f.config.RedirectURL)
	params.Set("response_type", "code")
	params.Set("state", state)
	params.Set("nonce", nonce)

	if len(f.config.Scopes) > 0 {
		params.Set("scope", strings.Join(f.config.Scopes, " "))
	}

	if codeChallenge != "" {
		params.Set("code_challenge", codeChallenge)
		params.Set("code_challenge_method", "S256")
	}

	for key, value := range extraParams {
		params.Set(key, value)
	}

	if strings.Contains(endpoint, "?") {
		return endpoint + "&" + params.Encode()
	}
	return endpoint + "?" + params.Encode()
}

// handleCallback completes the authorization-code flow: it validates
// the callback parameters, consumes the state record, exchanges the
// code, and validates the returned ID token.
func (f *flowHandler) handleCallback(ctx context.Context, callbackURL string) (*AuthResult, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}
	q := u.Query()

	if errCode := q.Get("error"); errCode != "" {
		return nil, fmt.Errorf("%w: provider returned %s: %s", ErrInvalidCallback, errCode, q.Get("error_description"))
	}

	code := q.Get("code")
	state := q.Get("state")
	if code == "" || state == "" {
		return nil, fmt.Errorf("%w: missing code or state parameter", ErrInvalidCallback)
	}

	pending, ok, err := f.store.Consume(ctx, state)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: unknown, expired, or already used state", ErrStateMismatch)
	}

	if f.config.pkceEnabled() && pending.CodeVerifier == "" {
		return nil, fmt.Errorf("%w: pending authorization has no verifier", ErrCodeVerifierMissing)
	}

	token, err := f.exchangeAuthorizationCode(ctx, code, pending.CodeVerifier, pending.RedirectURL)
	if err != nil {
		return nil, err
	}

	result := &AuthResult{Token: token}
	if token.IDToken == "" {
		if f.hasOpenIDScope() {
			return nil, fmt.Errorf("%w: token response has no id_token", ErrMissingToken)
		}
		return result, nil
	}

	claims, err := f.validator.validate(ctx, token.IDToken, pending.Nonce, token.AccessToken, false)
	if err != nil {
		return nil, err
	}
	result.Claims = claims

	f.logger.Debug("authorization code flow completed", "subject", claims.Subject)
	return result, nil
}

// handleImplicitCallback completes an implicit flow. The tokens
// arrive in the URL fragment, so no code exchange happens; the ID
// token carries the whole burden and the at_hash claim is required
// whenever an access token came with it.
func (f *flowHandler) handleImplicitCallback(ctx context.Context, callbackURL string) (*AuthResult, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}
	fragment := u.Fragment
	if fragment == "" {
		// Accept a bare fragment string as well as a full URL.
		fragment = strings.TrimPrefix(callbackURL, "#")
	}
	q, err := url.ParseQuery(fragment)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed fragment: %v", ErrInvalidCallback, err)
	}

	if errCode := q.Get("error"); errCode != "" {
		return nil, fmt.Errorf("%w: provider returned %s: %s", ErrInvalidCallback, errCode, q.Get("error_description"))
	}

	idToken := q.Get("id_token")
	state := q.Get("state")
	if idToken == "" {
		return nil, fmt.Errorf("%w: fragment has no id_token", ErrMissingToken)
	}
	if state == "" {
		return nil, fmt.Errorf("%w: missing state parameter", ErrInvalidCallback)
	}

	pending, ok, err := f.store.Consume(ctx, state)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: unknown, expired, or already used state", ErrStateMismatch)
	}

	accessToken := q.Get("access_token")
	claims, err := f.validator.validate(ctx, idToken, pending.Nonce, accessToken, accessToken != "")
	if err != nil {
		return nil, err
	}

	token := &Token{
		AccessToken: accessToken,
		TokenType:   q.Get("token_type"),
		IDToken:     idToken,
	}
	if token.TokenType == "" && accessToken != "" {
		token.TokenType = "Bearer"
	}
	if expiresIn := q.Get("expires_in"); expiresIn != "" {
		if secs, err := parseExpiresIn(expiresIn); err == nil && secs > 0 {
			token.Expiry = time.Now().Add(time.Duration(secs) * time.Second)
		}
	}
	if scope := q.Get("scope"); scope != "" {
		token.Scopes = splitScopes(scope)
	}

	f.logger.Debug("implicit flow completed", "subject", claims.Subject)
	return &AuthResult{Token: token, Claims: claims}, nil
}

// exchangeAuthorizationCode exchanges an authorization code for tokens.
func (f *flowHandler) exchangeAuthorizationCode(ctx context.Context, code, codeVerifier, redirectURL string) (*Token, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: authorization code is required", ErrTokenRequestFailed)
	}

	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("client_id", f.config.ClientID)
	data.Set("redirect_uri", redirectURL)

	if f.config.ClientSecret != "" {
		data.Set("client_secret", f.config.ClientSecret)
	}

	if codeVerifier != "" {
		data.Set("code_verifier", codeVerifier)
	}

	return f.tokenRequest(ctx, data)
}

// authenticateClientCredentials performs the client credentials flow.
func (f *flowHandler) authenticateClientCredentials(ctx context.Context) (*Token, error) {
	if f.config.ClientSecret == "" {
		return nil, fmt.Errorf("%w: client credentials flow requires a client secret", ErrInvalidConfiguration)
	}

	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", f.config.ClientID)
	data.Set("client_secret", f.config.ClientSecret)

	if len(f.config.Scopes) > 0 {
		data.Set("scope", strings.Join(f.config.Scopes, " "))
	}

	return f.tokenRequest(ctx, data)
}

// authenticatePassword performs the resource owner password flow.
func (f *flowHandler) authenticatePassword(ctx context.Context, username, password string) (*Token, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrTokenRequestFailed)
	}

	data := url.Values{}
	data.Set("grant_type", "password")
	data.Set("username", username)
	data.Set("password", password)
	data.Set("client_id", f.config.ClientID)

	if f.config.ClientSecret != "" {
		data.Set("client_secret", f.config.ClientSecret)
	}

	if len(f.config.Scopes) > 0 {
		data.Set("scope", strings.Join(f.config.Scopes, " "))
	}

	return f.tokenRequest(ctx, data)
}

// refreshToken uses a refresh token to obtain a new access token.
func (f *flowHandler) refreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, fmt.Errorf("%w: refresh token is required", ErrRefreshFailed)
	}

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", f.config.ClientID)

	if f.config.ClientSecret != "" {
		data.Set("client_secret", f.config.ClientSecret)
	}

	token, err := f.tokenRequest(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	return token, nil
}

// tokenRequest posts form data to the token endpoint and decodes the
// token response.
func (f *flowHandler) tokenRequest(ctx context.Context, data url.Values) (*Token, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ep, err := f.discovery.Endpoints(ctx)
	if err != nil {
		return nil, err
	}
	if ep.token == "" {
		return nil, fmt.Errorf("%w: provider has no token endpoint", ErrTokenRequestFailed)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.token, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenRequestFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrTokenRequestFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		if oe := parseOAuthError(body); oe != nil {
			return nil, fmt.Errorf("%w: %s: %s", ErrTokenRequestFailed, oe.Code, oe.Description)
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrTokenRequestFailed, resp.StatusCode, string(body))
	}

	return tokenFromResponse(body)
}

// logoutURL builds the RP-initiated logout URL.
func (f *flowHandler) logoutURL(ctx context.Context, idTokenHint, postLogoutRedirect string) (string, error) {
	ep, err := f.discovery.Endpoints(ctx)
	if err != nil {
		return "", err
	}
	if ep.endSession == "" {
		return "", fmt.Errorf("%w: provider has no end_session_endpoint", ErrEndSessionUnsupported)
	}

	params := url.Values{}
	params.Set("client_id", f.config.ClientID)
	if idTokenHint != "" {
		params.Set("id_token_hint", idTokenHint)
	}
	if postLogoutRedirect != "" {
		params.Set("post_logout_redirect_uri", postLogoutRedirect)
	}

	if strings.Contains(ep.endSession, "?") {
		return ep.endSession + "&" + params.Encode(), nil
	}
	return ep.endSession + "?" + params.Encode(), nil
}

// hasOpenIDScope reports whether the configured scopes request OIDC.
func (f *flowHandler) hasOpenIDScope() bool {
	for _, s := range f.config.Scopes {
		if s == "openid" {
			return true
		}
	}
	return false
}

// randomToken returns 32 bytes of cryptographic randomness encoded as
// base64url without padding.
func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// pkceChallenge derives the S256 code challenge from a verifier.
func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
