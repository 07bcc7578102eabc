package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenClaims are the claims of a validated access token,
// whether verified locally as a JWT or reported by the introspection
// endpoint.
type AccessTokenClaims struct {
	// Subject is the subject identifier (typically the user ID).
	Subject string

	// Issuer is the token issuer.
	Issuer string

	// Audience is the intended audience for this token.
	Audience []string

	// ExpiresAt is when the token expires.
	ExpiresAt time.Time

	// IssuedAt is when the token was issued.
	IssuedAt time.Time

	// NotBefore is the time before which the token is not valid.
	NotBefore time.Time

	// Scopes are the scopes granted to this token.
	Scopes []string

	// ClientID is the client the token was issued to, when reported.
	ClientID string

	// Username is the resource owner's username, when reported.
	Username string

	// Email is the user's email address (if present in claims).
	Email string

	// EmailVerified indicates if the email is verified.
	EmailVerified bool

	// Name is the user's display name (if present in claims).
	Name string

	// Custom contains any additional claims not mapped to standard
	// fields.
	Custom map[string]interface{}
}

// Valid returns true if the claims are currently valid based on time.
func (c *AccessTokenClaims) Valid() bool {
	return c.ValidWithClockSkew(0)
}

// ValidWithClockSkew returns true if the claims are valid allowing for
// clock drift.
func (c *AccessTokenClaims) ValidWithClockSkew(skew time.Duration) bool {
	now := time.Now()

	if !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt.Add(skew)) {
		return false
	}
	if !c.NotBefore.IsZero() && now.Before(c.NotBefore.Add(-skew)) {
		return false
	}

	return true
}

// HasScope reports whether the token was granted the given scope.
func (c *AccessTokenClaims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// accessTokenValidator validates bearer access tokens using JWT
// verification, introspection, or both.
type accessTokenValidator struct {
	config     *Config
	httpClient HTTPClient
	discovery  *discoveryClient
	logger     *slog.Logger

	jwksMu     sync.RWMutex
	jwks       keyfunc.Keyfunc
	jwksCtx    context.Context
	jwksCancel context.CancelFunc
}

// newAccessTokenValidator creates a new access-token validator.
func newAccessTokenValidator(config *Config, httpClient HTTPClient, discovery *discoveryClient, logger *slog.Logger) *accessTokenValidator {
	ctx, cancel := context.WithCancel(context.Background())
	return &accessTokenValidator{
		config:     config,
		httpClient: httpClient,
		discovery:  discovery,
		logger:     logger,
		jwksCtx:    ctx,
		jwksCancel: cancel,
	}
}

// validate validates a token using the configured method.
func (v *accessTokenValidator) validate(ctx context.Context, token string) (*AccessTokenClaims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: empty access token", ErrMissingToken)
	}

	switch v.config.Validation.Method {
	case ValidationJWT:
		return v.validateJWT(ctx, token)
	case ValidationIntrospection:
		return v.introspect(ctx, token)
	case ValidationHybrid:
		// Local verification first, introspection as the fallback for
		// opaque tokens.
		claims, jwtErr := v.validateJWT(ctx, token)
		if jwtErr == nil {
			return claims, nil
		}
		if u, _ := v.introspectionURL(ctx); u != "" {
			return v.introspect(ctx, token)
		}
		return nil, jwtErr
	default:
		return nil, fmt.Errorf("%w: access-token validation is not configured", ErrInvalidConfiguration)
	}
}

// validateJWT verifies a JWT access token locally against the JWKS.
func (v *accessTokenValidator) validateJWT(ctx context.Context, tokenString string) (*AccessTokenClaims, error) {
	jwks, err := v.keyfunc(ctx)
	if err != nil {
		return nil, err
	}

	token, err := jwt.Parse(tokenString, jwks.Keyfunc,
		jwt.WithValidMethods(SupportedAlgorithms()),
		jwt.WithLeeway(v.config.Validation.ClockSkew),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: token rejected", ErrInvalidSignature)
	}

	claims, err := accessClaimsFromJWT(token)
	if err != nil {
		return nil, err
	}

	if issuer := v.config.issuer(); issuer != "" && claims.Issuer != issuer {
		return nil, fmt.Errorf("%w: expected %q, got %q", ErrInvalidIssuer, issuer, claims.Issuer)
	}

	if aud := v.config.Validation.Audience; aud != "" && !containsAudience(claims.Audience, aud) {
		return nil, fmt.Errorf("%w: token audience %v does not include %q", ErrInvalidAudience, claims.Audience, aud)
	}

	if err := v.checkRequiredClaims(claims); err != nil {
		return nil, err
	}

	return claims, nil
}

// introspect validates a token via the introspection endpoint.
func (v *accessTokenValidator) introspect(ctx context.Context, token string) (*AccessTokenClaims, error) {
	endpoint, err := v.introspectionURL(ctx)
	if err != nil {
		return nil, err
	}
	if endpoint == "" {
		return nil, fmt.Errorf("%w: no introspection endpoint available", ErrIntrospectionFailed)
	}

	data := url.Values{}
	data.Set("token", token)
	data.Set("token_type_hint", "access_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntrospectionFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(v.config.ClientID, v.config.ClientSecret)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntrospectionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: status %d: %s", ErrIntrospectionFailed, resp.StatusCode, string(body))
	}

	var result struct {
		Introspection
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTokenResponseSize)).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntrospectionFailed, err)
	}

	if !result.Active {
		return nil, fmt.Errorf("%w: provider reports token inactive", ErrTokenInactive)
	}

	claims := &AccessTokenClaims{
		Subject:       result.Subject,
		Issuer:        result.Issuer,
		Audience:      result.Audience,
		ClientID:      result.ClientID,
		Username:      result.Username,
		Email:         result.Email,
		EmailVerified: result.EmailVerified,
		Name:          result.Name,
		Custom:        make(map[string]interface{}),
	}

	if claims.Subject == "" && result.Username != "" {
		claims.Subject = result.Username
	}
	if result.Expiry > 0 {
		claims.ExpiresAt = time.Unix(result.Expiry, 0)
	}
	if result.IssuedAt > 0 {
		claims.IssuedAt = time.Unix(result.IssuedAt, 0)
	}
	if result.NotBefore > 0 {
		claims.NotBefore = time.Unix(result.NotBefore, 0)
	}
	if result.Scope != "" {
		claims.Scopes = splitScopes(result.Scope)
	}

	if err := v.checkRequiredClaims(claims); err != nil {
		return nil, err
	}

	return claims, nil
}

// keyfunc returns the JWKS keyfunc, initializing it on first use. The
// keyfunc outlives any single request and refreshes itself in the
// background, so it runs under the validator's own context.
func (v *accessTokenValidator) keyfunc(ctx context.Context) (keyfunc.Keyfunc, error) {
	v.jwksMu.RLock()
	jwks := v.jwks
	v.jwksMu.RUnlock()
	if jwks != nil {
		return jwks, nil
	}

	jwksURL := v.config.Validation.JWKSURL
	if jwksURL == "" {
		ep, err := v.discovery.Endpoints(ctx)
		if err != nil {
			return nil, err
		}
		jwksURL = ep.jwks
	}
	if jwksURL == "" {
		return nil, fmt.Errorf("%w: no jwks url available", ErrJWKSFetchFailed)
	}

	created, err := keyfunc.NewDefaultCtx(v.jwksCtx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}

	v.jwksMu.Lock()
	if v.jwks == nil {
		v.jwks = created
	}
	jwks = v.jwks
	v.jwksMu.Unlock()

	return jwks, nil
}

// introspectionURL resolves the introspection endpoint.
func (v *accessTokenValidator) introspectionURL(ctx context.Context) (string, error) {
	if v.config.Validation.IntrospectionURL != "" {
		return v.config.Validation.IntrospectionURL, nil
	}
	ep, err := v.discovery.Endpoints(ctx)
	if err != nil {
		return "", err
	}
	return ep.introspection, nil
}

// checkRequiredClaims verifies all required claims are present.
func (v *accessTokenValidator) checkRequiredClaims(claims *AccessTokenClaims) error {
	if len(v.config.Validation.RequiredClaims) == 0 {
		return nil
	}

	available := map[string]bool{
		"sub":   claims.Subject != "",
		"iss":   claims.Issuer != "",
		"aud":   len(claims.Audience) > 0,
		"exp":   !claims.ExpiresAt.IsZero(),
		"iat":   !claims.IssuedAt.IsZero(),
		"nbf":   !claims.NotBefore.IsZero(),
		"scope": len(claims.Scopes) > 0,
		"email": claims.Email != "",
		"name":  claims.Name != "",
	}
	for key := range claims.Custom {
		available[key] = true
	}

	for _, required := range v.config.Validation.RequiredClaims {
		if !available[required] {
			return fmt.Errorf("missing required claim: %s", required)
		}
	}

	return nil
}

// Close releases the background JWKS refresher.
func (v *accessTokenValidator) Close() {
	v.jwksCancel()

	v.jwksMu.Lock()
	defer v.jwksMu.Unlock()
	v.jwks = nil
}

// accessClaimsFromJWT extracts claims from a parsed JWT.
func accessClaimsFromJWT(token *jwt.Token) (*AccessTokenClaims, error) {
	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrInvalidTokenFormat)
	}

	claims := &AccessTokenClaims{
		Custom: make(map[string]interface{}),
	}

	if sub, ok := mapClaims["sub"].(string); ok {
		claims.Subject = sub
	}
	if iss, ok := mapClaims["iss"].(string); ok {
		claims.Issuer = iss
	}
	if clientID, ok := mapClaims["client_id"].(string); ok {
		claims.ClientID = clientID
	}

	// Audience can be a string or an array.
	if aud, ok := mapClaims["aud"].(string); ok {
		claims.Audience = []string{aud}
	} else if aud, ok := mapClaims["aud"].([]interface{}); ok {
		for _, a := range aud {
			if s, ok := a.(string); ok {
				claims.Audience = append(claims.Audience, s)
			}
		}
	}

	if exp, ok := mapClaims["exp"].(float64); ok {
		claims.ExpiresAt = time.Unix(int64(exp), 0)
	}
	if iat, ok := mapClaims["iat"].(float64); ok {
		claims.IssuedAt = time.Unix(int64(iat), 0)
	}
	if nbf, ok := mapClaims["nbf"].(float64); ok {
		claims.NotBefore = time.Unix(int64(nbf), 0)
	}

	// Scopes arrive as a space-separated string, an array, or the scp
	// claim, depending on the provider.
	if scope, ok := mapClaims["scope"].(string); ok {
		claims.Scopes = splitScopes(scope)
	} else if scopes, ok := mapClaims["scopes"].([]interface{}); ok {
		for _, s := range scopes {
			if str, ok := s.(string); ok {
				claims.Scopes = append(claims.Scopes, str)
			}
		}
	} else if scp, ok := mapClaims["scp"].([]interface{}); ok {
		for _, s := range scp {
			if str, ok := s.(string); ok {
				claims.Scopes = append(claims.Scopes, str)
			}
		}
	}

	if email, ok := mapClaims["email"].(string); ok {
		claims.Email = email
	}
	if emailVerified, ok := mapClaims["email_verified"].(bool); ok {
		claims.EmailVerified = emailVerified
	}
	if name, ok := mapClaims["name"].(string); ok {
		claims.Name = name
	}

	standard := map[string]bool{
		"sub": true, "iss": true, "aud": true, "exp": true, "iat": true, "nbf": true,
		"scope": true, "scopes": true, "scp": true, "client_id": true,
		"email": true, "email_verified": true, "name": true,
	}
	for key, value := range mapClaims {
		if !standard[key] {
			claims.Custom[key] = value
		}
	}

	return claims, nil
}

// containsAudience checks if the audience list contains the expected
// value.
func containsAudience(audiences []string, expected string) bool {
	for _, aud := range audiences {
		if aud == expected {
			return true
		}
	}
	return false
}
