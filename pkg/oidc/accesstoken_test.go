package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newAccessValidatorFixture(t *testing.T, method ValidationMethod) (*flowFixture, *accessTokenValidator) {
	t.Helper()
	fx := newFlowFixture(t)
	fx.config.Validation.Method = method
	v := newAccessTokenValidator(fx.config, http.DefaultClient, fx.handler.discovery, slog.New(discardHandler{}))
	t.Cleanup(v.Close)
	return fx, v
}

func (fx *flowFixture) accessJWT(t *testing.T, extra jwt.MapClaims) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":       testIssuer,
		"sub":       "user-123",
		"aud":       "client-a",
		"exp":       time.Now().Add(time.Hour).Unix(),
		"iat":       time.Now().Unix(),
		"scope":     "openid profile",
		"client_id": "client-a",
	}
	for k, v := range extra {
		claims[k] = v
	}
	return signIDToken(t, jwt.SigningMethodRS256, fx.signer, "kid-1", claims)
}

func TestAccessTokenClaims_Valid(t *testing.T) {
	claims := &AccessTokenClaims{}
	if !claims.Valid() {
		t.Error("Expected claims without time bounds to be valid")
	}

	claims.ExpiresAt = time.Now().Add(-time.Minute)
	if claims.Valid() {
		t.Error("Expected expired claims to be invalid")
	}
	if !claims.ValidWithClockSkew(5 * time.Minute) {
		t.Error("Expected skew to absorb a recent expiry")
	}

	claims = &AccessTokenClaims{NotBefore: time.Now().Add(time.Minute)}
	if claims.Valid() {
		t.Error("Expected not-yet-valid claims to be invalid")
	}
	if !claims.ValidWithClockSkew(5 * time.Minute) {
		t.Error("Expected skew to absorb a near nbf")
	}
}

func TestAccessTokenClaims_HasScope(t *testing.T) {
	claims := &AccessTokenClaims{Scopes: []string{"openid", "profile"}}
	if !claims.HasScope("profile") {
		t.Error("Expected granted scope to be found")
	}
	if claims.HasScope("admin") {
		t.Error("Expected missing scope not to be found")
	}
}

func TestAccessClaimsFromJWT(t *testing.T) {
	token := &jwt.Token{Claims: jwt.MapClaims{
		"iss":            "https://idp.example.com",
		"sub":            "user-123",
		"aud":            []interface{}{"client-a", "api"},
		"exp":            float64(1700000000),
		"iat":            float64(1699996400),
		"scope":          "openid profile",
		"client_id":      "client-a",
		"email":          "alice@example.com",
		"email_verified": true,
		"name":           "Alice Example",
		"department":     "engineering",
	}}

	claims, err := accessClaimsFromJWT(token)
	if err != nil {
		t.Fatalf("accessClaimsFromJWT() error = %v", err)
	}

	if claims.Subject != "user-123" {
		t.Errorf("Expected subject, got %s", claims.Subject)
	}
	if len(claims.Audience) != 2 {
		t.Errorf("Expected 2 audiences, got %v", claims.Audience)
	}
	if claims.ExpiresAt.Unix() != 1700000000 {
		t.Errorf("Expected exp mapped, got %v", claims.ExpiresAt)
	}
	if len(claims.Scopes) != 2 {
		t.Errorf("Expected scopes split, got %v", claims.Scopes)
	}
	if claims.Email != "alice@example.com" || !claims.EmailVerified {
		t.Errorf("Expected verified email, got %s", claims.Email)
	}
	if claims.Custom["department"] != "engineering" {
		t.Errorf("Expected custom claim, got %v", claims.Custom["department"])
	}
	if _, ok := claims.Custom["sub"]; ok {
		t.Error("Expected standard claims to stay out of Custom")
	}
}

func TestAccessClaimsFromJWT_ScopeVariants(t *testing.T) {
	tests := []struct {
		name   string
		claims jwt.MapClaims
		want   []string
	}{
		{"space separated", jwt.MapClaims{"scope": "read write"}, []string{"read", "write"}},
		{"scopes array", jwt.MapClaims{"scopes": []interface{}{"read", "write"}}, []string{"read", "write"}},
		{"scp array", jwt.MapClaims{"scp": []interface{}{"read"}}, []string{"read"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := accessClaimsFromJWT(&jwt.Token{Claims: tt.claims})
			if err != nil {
				t.Fatalf("accessClaimsFromJWT() error = %v", err)
			}
			if len(claims.Scopes) != len(tt.want) {
				t.Fatalf("accessClaimsFromJWT() scopes = %v, want %v", claims.Scopes, tt.want)
			}
			for i := range tt.want {
				if claims.Scopes[i] != tt.want[i] {
					t.Errorf("accessClaimsFromJWT() scopes = %v, want %v", claims.Scopes, tt.want)
				}
			}
		})
	}
}

func TestAccessClaimsFromJWT_UnexpectedClaimsType(t *testing.T) {
	token := &jwt.Token{Claims: jwt.RegisteredClaims{}}
	if _, err := accessClaimsFromJWT(token); !errors.Is(err, ErrInvalidTokenFormat) {
		t.Errorf("Expected ErrInvalidTokenFormat, got %v", err)
	}
}

func TestContainsAudience(t *testing.T) {
	if !containsAudience([]string{"client-a", "api"}, "api") {
		t.Error("Expected audience to be found")
	}
	if containsAudience([]string{"client-a"}, "api") {
		t.Error("Expected missing audience not to be found")
	}
	if containsAudience(nil, "api") {
		t.Error("Expected empty audience list not to match")
	}
}

func TestAccessTokenValidator_JWT(t *testing.T) {
	fx, v := newAccessValidatorFixture(t, ValidationJWT)

	claims, err := v.validate(context.Background(), fx.accessJWT(t, nil))
	if err != nil {
		t.Fatalf("validate() error = %v", err)
	}

	if claims.Subject != "user-123" {
		t.Errorf("Expected subject 'user-123', got %s", claims.Subject)
	}
	if claims.Issuer != testIssuer {
		t.Errorf("Expected issuer, got %s", claims.Issuer)
	}
	if !claims.HasScope("profile") {
		t.Errorf("Expected profile scope, got %v", claims.Scopes)
	}
	if claims.ExpiresAt.IsZero() {
		t.Error("Expected expiry to be set")
	}
}

func TestAccessTokenValidator_JWT_BadSignature(t *testing.T) {
	_, v := newAccessValidatorFixture(t, ValidationJWT)

	rogue := generateRSAKey(t)
	forged := signIDToken(t, jwt.SigningMethodRS256, rogue, "kid-1", idClaims(""))

	if _, err := v.validate(context.Background(), forged); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("Expected ErrInvalidSignature, got %v", err)
	}
}

func TestAccessTokenValidator_JWT_Expired(t *testing.T) {
	fx, v := newAccessValidatorFixture(t, ValidationJWT)

	expired := fx.accessJWT(t, jwt.MapClaims{"exp": time.Now().Add(-10 * time.Minute).Unix()})
	if _, err := v.validate(context.Background(), expired); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Expected ErrTokenExpired, got %v", err)
	}
}

func TestAccessTokenValidator_JWT_ClockSkew(t *testing.T) {
	fx, v := newAccessValidatorFixture(t, ValidationJWT)
	fx.config.Validation.ClockSkew = 5 * time.Minute

	recent := fx.accessJWT(t, jwt.MapClaims{"exp": time.Now().Add(-time.Minute).Unix()})
	if _, err := v.validate(context.Background(), recent); err != nil {
		t.Errorf("Expected skew to absorb a recent expiry, got %v", err)
	}
}

func TestAccessTokenValidator_JWT_WrongIssuer(t *testing.T) {
	fx, v := newAccessValidatorFixture(t, ValidationJWT)

	token := fx.accessJWT(t, jwt.MapClaims{"iss": "https://evil.example.com"})
	if _, err := v.validate(context.Background(), token); !errors.Is(err, ErrInvalidIssuer) {
		t.Errorf("Expected ErrInvalidIssuer, got %v", err)
	}
}

func TestAccessTokenValidator_JWT_WrongAudience(t *testing.T) {
	fx, v := newAccessValidatorFixture(t, ValidationJWT)
	fx.config.Validation.Audience = "api-x"

	if _, err := v.validate(context.Background(), fx.accessJWT(t, nil)); !errors.Is(err, ErrInvalidAudience) {
		t.Errorf("Expected ErrInvalidAudience, got %v", err)
	}
}

func TestAccessTokenValidator_JWT_RequiredClaims(t *testing.T) {
	fx, v := newAccessValidatorFixture(t, ValidationJWT)
	fx.config.Validation.RequiredClaims = []string{"email"}

	_, err := v.validate(context.Background(), fx.accessJWT(t, nil))
	if err == nil || !strings.Contains(err.Error(), "missing required claim") {
		t.Errorf("Expected missing claim error, got %v", err)
	}

	withEmail := fx.accessJWT(t, jwt.MapClaims{"email": "alice@example.com"})
	if _, err := v.validate(context.Background(), withEmail); err != nil {
		t.Errorf("Expected required claim to be satisfied, got %v", err)
	}
}

func TestAccessTokenValidator_Introspection(t *testing.T) {
	fx, v := newAccessValidatorFixture(t, ValidationIntrospection)
	fx.config.Validation.IntrospectionURL = fx.server.URL + "/introspect"

	fx.mux.HandleFunc("/introspect", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-a" || pass != "secret-1" {
			t.Error("Expected client basic auth")
		}
		if r.FormValue("token") != "opaque-xyz" {
			t.Errorf("Expected token form value, got %s", r.FormValue("token"))
		}
		if r.FormValue("token_type_hint") != "access_token" {
			t.Errorf("Expected access_token hint, got %s", r.FormValue("token_type_hint"))
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"active":   true,
			"sub":      "user-123",
			"username": "alice",
			"scope":    "openid profile",
			"exp":      time.Now().Add(time.Hour).Unix(),
			"email":    "alice@example.com",
			"name":     "Alice Example",
		})
	})

	claims, err := v.validate(context.Background(), "opaque-xyz")
	if err != nil {
		t.Fatalf("validate() error = %v", err)
	}

	if claims.Subject != "user-123" {
		t.Errorf("Expected subject, got %s", claims.Subject)
	}
	if claims.Username != "alice" {
		t.Errorf("Expected username, got %s", claims.Username)
	}
	if !claims.HasScope("openid") {
		t.Errorf("Expected scopes, got %v", claims.Scopes)
	}
	if claims.Email != "alice@example.com" {
		t.Errorf("Expected email, got %s", claims.Email)
	}
	if claims.ExpiresAt.IsZero() {
		t.Error("Expected expiry to be set")
	}
}

func TestAccessTokenValidator_Introspection_Inactive(t *testing.T) {
	fx, v := newAccessValidatorFixture(t, ValidationIntrospection)
	fx.config.Validation.IntrospectionURL = fx.server.URL + "/introspect"

	fx.mux.HandleFunc("/introspect", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"active": false})
	})

	if _, err := v.validate(context.Background(), "opaque-xyz"); !errors.Is(err, ErrTokenInactive) {
		t.Errorf("Expected ErrTokenInactive, got %v", err)
	}
}

func TestAccessTokenValidator_Introspection_SubjectFallback(t *testing.T) {
	fx, v := newAccessValidatorFixture(t, ValidationIntrospection)
	fx.config.Validation.IntrospectionURL = fx.server.URL + "/introspect"

	fx.mux.HandleFunc("/introspect", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"active": true, "username": "alice"})
	})

	claims, err := v.validate(context.Background(), "opaque-xyz")
	if err != nil {
		t.Fatalf("validate() error = %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("Expected username as subject fallback, got %s", claims.Subject)
	}
}

func TestAccessTokenValidator_Introspection_NoEndpoint(t *testing.T) {
	_, v := newAccessValidatorFixture(t, ValidationIntrospection)

	if _, err := v.validate(context.Background(), "opaque-xyz"); !errors.Is(err, ErrIntrospectionFailed) {
		t.Errorf("Expected ErrIntrospectionFailed, got %v", err)
	}
}

func TestAccessTokenValidator_Introspection_ServerError(t *testing.T) {
	fx, v := newAccessValidatorFixture(t, ValidationIntrospection)
	fx.config.Validation.IntrospectionURL = fx.server.URL + "/introspect"

	fx.mux.HandleFunc("/introspect", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})

	if _, err := v.validate(context.Background(), "opaque-xyz"); !errors.Is(err, ErrIntrospectionFailed) {
		t.Errorf("Expected ErrIntrospectionFailed, got %v", err)
	}
}

func TestAccessTokenValidator_Hybrid(t *testing.T) {
	fx, v := newAccessValidatorFixture(t, ValidationHybrid)
	fx.config.Validation.IntrospectionURL = fx.server.URL + "/introspect"

	var introspections int32
	fx.mux.HandleFunc("/introspect", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&introspections, 1)
		json.NewEncoder(w).Encode(map[string]interface{}{"active": true, "sub": "user-456"})
	})

	// A verifiable JWT never reaches the introspection endpoint.
	claims, err := v.validate(context.Background(), fx.accessJWT(t, nil))
	if err != nil {
		t.Fatalf("validate() error = %v", err)
	}
	if claims.Subject != "user-123" {
		t.Errorf("Expected local claims, got %s", claims.Subject)
	}
	if got := atomic.LoadInt32(&introspections); got != 0 {
		t.Errorf("Expected no introspection for a valid JWT, got %d", got)
	}

	// An opaque token falls back to introspection.
	claims, err = v.validate(context.Background(), "opaque-xyz")
	if err != nil {
		t.Fatalf("validate() error = %v", err)
	}
	if claims.Subject != "user-456" {
		t.Errorf("Expected introspected claims, got %s", claims.Subject)
	}
	if got := atomic.LoadInt32(&introspections); got != 1 {
		t.Errorf("Expected 1 introspection, got %d", got)
	}
}

func TestAccessTokenValidator_Hybrid_NoIntrospectionEndpoint(t *testing.T) {
	_, v := newAccessValidatorFixture(t, ValidationHybrid)

	// Without an introspection endpoint the JWT error stands.
	if _, err := v.validate(context.Background(), "opaque-xyz"); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("Expected the JWT error to surface, got %v", err)
	}
}

func TestAccessTokenValidator_EmptyToken(t *testing.T) {
	_, v := newAccessValidatorFixture(t, ValidationJWT)

	if _, err := v.validate(context.Background(), "  "); !errors.Is(err, ErrMissingToken) {
		t.Errorf("Expected ErrMissingToken, got %v", err)
	}
}

func TestAccessTokenValidator_NotConfigured(t *testing.T) {
	_, v := newAccessValidatorFixture(t, "")

	if _, err := v.validate(context.Background(), "access-xyz"); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("Expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestAccessTokenValidator_JWKSURLOverride(t *testing.T) {
	fx, v := newAccessValidatorFixture(t, ValidationJWT)
	fx.config.Validation.JWKSURL = fx.server.URL + "/jwks"
	// Discovery would also resolve, but the override must win even
	// with a broken document.
	fx.config.Discovery.JWKSURI = "https://unreachable.example.com/jwks"

	if _, err := v.validate(context.Background(), fx.accessJWT(t, nil)); err != nil {
		t.Errorf("validate() error = %v", err)
	}
}

func TestAccessTokenValidator_Close(t *testing.T) {
	fx, v := newAccessValidatorFixture(t, ValidationJWT)

	if _, err := v.validate(context.Background(), fx.accessJWT(t, nil)); err != nil {
		t.Fatalf("validate() error = %v", err)
	}

	v.Close()
	v.Close()

	// The background refresher is gone, so the keyfunc cannot be
	// rebuilt.
	if _, err := v.validate(context.Background(), fx.accessJWT(t, nil)); !errors.Is(err, ErrJWKSFetchFailed) {
		t.Errorf("Expected ErrJWKSFetchFailed after close, got %v", err)
	}
}
