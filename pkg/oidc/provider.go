package oidc

import (
	"fmt"
	"strings"
)

// Provider supplies the issuer and endpoint URLs for an OpenID
// provider. Endpoints resolved from the discovery document take
// precedence over these values; the preset fills the gaps for
// providers whose documents omit optional endpoints, or when discovery
// is skipped entirely.
type Provider interface {
	// Name returns the provider's identifier.
	Name() string

	// Issuer returns the issuer identifier tokens must carry.
	Issuer() string

	// AuthURL returns the authorization endpoint URL.
	AuthURL() string

	// TokenURL returns the token endpoint URL.
	TokenURL() string

	// JWKSURL returns the JWKS endpoint URL.
	JWKSURL() string

	// UserInfoURL returns the UserInfo endpoint URL (optional).
	UserInfoURL() string

	// IntrospectionURL returns the introspection endpoint URL (optional).
	IntrospectionURL() string

	// RevocationURL returns the revocation endpoint URL (optional).
	RevocationURL() string

	// DeviceAuthURL returns the device-authorization endpoint URL
	// (optional).
	DeviceAuthURL() string

	// EndSessionURL returns the RP-initiated logout endpoint URL
	// (optional).
	EndSessionURL() string
}

// ProviderConfig holds the endpoints of a custom provider. Only Name
// and one of Issuer or TokenEndpoint are required; anything left empty
// is expected to come from discovery.
type ProviderConfig struct {
	ProviderName          string
	IssuerURL             string
	AuthEndpoint          string
	TokenEndpoint         string
	JWKSEndpoint          string
	UserInfoEndpoint      string
	IntrospectionEndpoint string
	RevocationEndpoint    string
	DeviceAuthEndpoint    string
	EndSessionEndpoint    string
}

// customProvider implements Provider with user-supplied configuration.
type customProvider struct {
	config ProviderConfig
}

// CustomProvider creates a Provider from custom configuration.
func CustomProvider(cfg ProviderConfig) (Provider, error) {
	if strings.TrimSpace(cfg.ProviderName) == "" {
		return nil, fmt.Errorf("%w: provider name is required", ErrInvalidConfiguration)
	}
	if strings.TrimSpace(cfg.IssuerURL) == "" && strings.TrimSpace(cfg.TokenEndpoint) == "" {
		return nil, fmt.Errorf("%w: issuer or token endpoint is required", ErrInvalidConfiguration)
	}
	return &customProvider{config: cfg}, nil
}

func (p *customProvider) Name() string             { return p.config.ProviderName }
func (p *customProvider) Issuer() string           { return p.config.IssuerURL }
func (p *customProvider) AuthURL() string          { return p.config.AuthEndpoint }
func (p *customProvider) TokenURL() string         { return p.config.TokenEndpoint }
func (p *customProvider) JWKSURL() string          { return p.config.JWKSEndpoint }
func (p *customProvider) UserInfoURL() string      { return p.config.UserInfoEndpoint }
func (p *customProvider) IntrospectionURL() string { return p.config.IntrospectionEndpoint }
func (p *customProvider) RevocationURL() string    { return p.config.RevocationEndpoint }
func (p *customProvider) DeviceAuthURL() string    { return p.config.DeviceAuthEndpoint }
func (p *customProvider) EndSessionURL() string    { return p.config.EndSessionEndpoint }

// Pre-configured providers

// Google returns a pre-configured Google provider.
func Google() Provider {
	return &customProvider{config: ProviderConfig{
		ProviderName:          "google",
		IssuerURL:             "https://accounts.google.com",
		AuthEndpoint:          "https://accounts.google.com/o/oauth2/v2/auth",
		TokenEndpoint:         "https://oauth2.googleapis.com/token",
		JWKSEndpoint:          "https://www.googleapis.com/oauth2/v3/certs",
		UserInfoEndpoint:      "https://openidconnect.googleapis.com/v1/userinfo",
		IntrospectionEndpoint: "https://oauth2.googleapis.com/tokeninfo",
		RevocationEndpoint:    "https://oauth2.googleapis.com/revoke",
		DeviceAuthEndpoint:    "https://oauth2.googleapis.com/device/code",
	}}
}

// Microsoft returns a pre-configured Microsoft provider (Entra ID v2).
func Microsoft() Provider {
	return &customProvider{config: ProviderConfig{
		ProviderName:       "microsoft",
		IssuerURL:          "https://login.microsoftonline.com/common/v2.0",
		AuthEndpoint:       "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
		TokenEndpoint:      "https://login.microsoftonline.com/common/oauth2/v2.0/token",
		JWKSEndpoint:       "https://login.microsoftonline.com/common/discovery/v2.0/keys",
		UserInfoEndpoint:   "https://graph.microsoft.com/oidc/userinfo",
		DeviceAuthEndpoint: "https://login.microsoftonline.com/common/oauth2/v2.0/devicecode",
		EndSessionEndpoint: "https://login.microsoftonline.com/common/oauth2/v2.0/logout",
	}}
}

// GitHub returns a pre-configured GitHub provider. GitHub issues
// opaque tokens and supports neither OIDC discovery nor UserInfo.
func GitHub() Provider {
	return &customProvider{config: ProviderConfig{
		ProviderName:       "github",
		IssuerURL:          "https://github.com",
		AuthEndpoint:       "https://github.com/login/oauth/authorize",
		TokenEndpoint:      "https://github.com/login/oauth/access_token",
		DeviceAuthEndpoint: "https://github.com/login/device/code",
	}}
}

// Okta returns a pre-configured Okta provider.
// domain should be your Okta domain (e.g., "dev-12345.okta.com").
func Okta(domain string) Provider {
	base := "https://" + domain
	return &customProvider{config: ProviderConfig{
		ProviderName:          "okta",
		IssuerURL:             base,
		AuthEndpoint:          base + "/oauth2/v1/authorize",
		TokenEndpoint:         base + "/oauth2/v1/token",
		JWKSEndpoint:          base + "/oauth2/v1/keys",
		UserInfoEndpoint:      base + "/oauth2/v1/userinfo",
		IntrospectionEndpoint: base + "/oauth2/v1/introspect",
		RevocationEndpoint:    base + "/oauth2/v1/revoke",
		DeviceAuthEndpoint:    base + "/oauth2/v1/device/authorize",
		EndSessionEndpoint:    base + "/oauth2/v1/logout",
	}}
}

// Auth0 returns a pre-configured Auth0 provider.
// domain should be your Auth0 domain (e.g., "myapp.us.auth0.com").
func Auth0(domain string) Provider {
	base := "https://" + domain
	return &customProvider{config: ProviderConfig{
		ProviderName:          "auth0",
		IssuerURL:             base + "/",
		AuthEndpoint:          base + "/authorize",
		TokenEndpoint:         base + "/oauth/token",
		JWKSEndpoint:          base + "/.well-known/jwks.json",
		UserInfoEndpoint:      base + "/userinfo",
		IntrospectionEndpoint: base + "/oauth/introspect",
		RevocationEndpoint:    base + "/oauth/revoke",
		DeviceAuthEndpoint:    base + "/oauth/device/code",
		EndSessionEndpoint:    base + "/oidc/logout",
	}}
}

// Keycloak returns a pre-configured Keycloak provider.
// baseURL is the Keycloak server URL (e.g., "https://keycloak.example.com"),
// realm is the realm name.
func Keycloak(baseURL, realm string) Provider {
	base := fmt.Sprintf("%s/realms/%s", baseURL, realm)
	return &customProvider{config: ProviderConfig{
		ProviderName:          "keycloak",
		IssuerURL:             base,
		AuthEndpoint:          base + "/protocol/openid-connect/auth",
		TokenEndpoint:         base + "/protocol/openid-connect/token",
		JWKSEndpoint:          base + "/protocol/openid-connect/certs",
		UserInfoEndpoint:      base + "/protocol/openid-connect/userinfo",
		IntrospectionEndpoint: base + "/protocol/openid-connect/token/introspect",
		RevocationEndpoint:    base + "/protocol/openid-connect/revoke",
		DeviceAuthEndpoint:    base + "/protocol/openid-connect/auth/device",
		EndSessionEndpoint:    base + "/protocol/openid-connect/logout",
	}}
}
