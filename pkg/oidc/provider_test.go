package oidc

import (
	"errors"
	"testing"
)

func TestGoogleProvider(t *testing.T) {
	provider := Google()

	if provider.Name() != "google" {
		t.Errorf("Expected name 'google', got %s", provider.Name())
	}

	if provider.Issuer() != "https://accounts.google.com" {
		t.Errorf("Expected Google issuer, got %s", provider.Issuer())
	}

	if provider.AuthURL() == "" {
		t.Error("Expected non-empty auth URL")
	}

	if provider.TokenURL() == "" {
		t.Error("Expected non-empty token URL")
	}

	if provider.JWKSURL() == "" {
		t.Error("Expected non-empty JWKS URL")
	}

	if provider.DeviceAuthURL() == "" {
		t.Error("Expected non-empty device authorization URL")
	}

	if provider.EndSessionURL() != "" {
		t.Error("Expected empty end session URL, Google has no RP-initiated logout")
	}
}

func TestMicrosoftProvider(t *testing.T) {
	provider := Microsoft()

	if provider.Name() != "microsoft" {
		t.Errorf("Expected name 'microsoft', got %s", provider.Name())
	}

	if provider.AuthURL() == "" {
		t.Error("Expected non-empty auth URL")
	}

	if provider.TokenURL() == "" {
		t.Error("Expected non-empty token URL")
	}

	if provider.JWKSURL() == "" {
		t.Error("Expected non-empty JWKS URL")
	}

	if provider.EndSessionURL() == "" {
		t.Error("Expected non-empty end session URL")
	}
}

func TestGitHubProvider(t *testing.T) {
	provider := GitHub()

	if provider.Name() != "github" {
		t.Errorf("Expected name 'github', got %s", provider.Name())
	}

	if provider.AuthURL() == "" {
		t.Error("Expected non-empty auth URL")
	}

	if provider.TokenURL() == "" {
		t.Error("Expected non-empty token URL")
	}

	if provider.DeviceAuthURL() == "" {
		t.Error("Expected non-empty device authorization URL")
	}

	if provider.JWKSURL() != "" {
		t.Error("Expected empty JWKS URL, GitHub does not issue ID tokens")
	}
}

func TestOktaProvider(t *testing.T) {
	domain := "dev-12345.okta.com"
	provider := Okta(domain)

	if provider.Name() != "okta" {
		t.Errorf("Expected name 'okta', got %s", provider.Name())
	}

	if provider.Issuer() != "https://dev-12345.okta.com" {
		t.Errorf("Expected Okta issuer, got %s", provider.Issuer())
	}

	if provider.AuthURL() == "" {
		t.Error("Expected non-empty auth URL")
	}

	if provider.TokenURL() == "" {
		t.Error("Expected non-empty token URL")
	}

	if provider.JWKSURL() == "" {
		t.Error("Expected non-empty JWKS URL")
	}

	if provider.IntrospectionURL() == "" {
		t.Error("Expected non-empty introspection URL")
	}
}

func TestAuth0Provider(t *testing.T) {
	domain := "myapp.us.auth0.com"
	provider := Auth0(domain)

	if provider.Name() != "auth0" {
		t.Errorf("Expected name 'auth0', got %s", provider.Name())
	}

	if provider.Issuer() != "https://myapp.us.auth0.com/" {
		t.Errorf("Expected trailing slash on Auth0 issuer, got %s", provider.Issuer())
	}

	if provider.AuthURL() == "" {
		t.Error("Expected non-empty auth URL")
	}

	if provider.TokenURL() == "" {
		t.Error("Expected non-empty token URL")
	}

	if provider.JWKSURL() == "" {
		t.Error("Expected non-empty JWKS URL")
	}
}

func TestKeycloakProvider(t *testing.T) {
	baseURL := "https://keycloak.example.com"
	realm := "master"
	provider := Keycloak(baseURL, realm)

	if provider.Name() != "keycloak" {
		t.Errorf("Expected name 'keycloak', got %s", provider.Name())
	}

	if provider.Issuer() != "https://keycloak.example.com/realms/master" {
		t.Errorf("Expected realm issuer, got %s", provider.Issuer())
	}

	if provider.AuthURL() == "" {
		t.Error("Expected non-empty auth URL")
	}

	if provider.TokenURL() == "" {
		t.Error("Expected non-empty token URL")
	}

	if provider.JWKSURL() == "" {
		t.Error("Expected non-empty JWKS URL")
	}

	if provider.IntrospectionURL() == "" {
		t.Error("Expected non-empty introspection URL")
	}

	if provider.EndSessionURL() == "" {
		t.Error("Expected non-empty end session URL")
	}
}

func TestCustomProvider(t *testing.T) {
	tests := []struct {
		name    string
		config  ProviderConfig
		wantErr bool
	}{
		{
			name: "full endpoints",
			config: ProviderConfig{
				ProviderName:  "corp",
				IssuerURL:     "https://idp.corp.example.com",
				AuthEndpoint:  "https://idp.corp.example.com/authorize",
				TokenEndpoint: "https://idp.corp.example.com/token",
				JWKSEndpoint:  "https://idp.corp.example.com/jwks",
			},
			wantErr: false,
		},
		{
			name: "issuer only",
			config: ProviderConfig{
				ProviderName: "corp",
				IssuerURL:    "https://idp.corp.example.com",
			},
			wantErr: false,
		},
		{
			name: "token endpoint only",
			config: ProviderConfig{
				ProviderName:  "corp",
				TokenEndpoint: "https://idp.corp.example.com/token",
			},
			wantErr: false,
		},
		{
			name: "missing name",
			config: ProviderConfig{
				IssuerURL: "https://idp.corp.example.com",
			},
			wantErr: true,
		},
		{
			name: "missing issuer and token endpoint",
			config: ProviderConfig{
				ProviderName: "corp",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := CustomProvider(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CustomProvider() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrInvalidConfiguration) {
					t.Errorf("CustomProvider() error = %v, want ErrInvalidConfiguration", err)
				}
				return
			}
			if provider == nil {
				t.Fatal("Expected provider, got nil")
			}
		})
	}
}

func TestCustomProvider_Endpoints(t *testing.T) {
	provider, err := CustomProvider(ProviderConfig{
		ProviderName:          "corp",
		IssuerURL:             "https://idp.corp.example.com",
		AuthEndpoint:          "https://idp.corp.example.com/authorize",
		TokenEndpoint:         "https://idp.corp.example.com/token",
		JWKSEndpoint:          "https://idp.corp.example.com/jwks",
		UserInfoEndpoint:      "https://idp.corp.example.com/userinfo",
		IntrospectionEndpoint: "https://idp.corp.example.com/introspect",
		RevocationEndpoint:    "https://idp.corp.example.com/revoke",
		DeviceAuthEndpoint:    "https://idp.corp.example.com/device",
		EndSessionEndpoint:    "https://idp.corp.example.com/logout",
	})
	if err != nil {
		t.Fatalf("CustomProvider() error = %v", err)
	}

	if provider.AuthURL() != "https://idp.corp.example.com/authorize" {
		t.Errorf("Unexpected auth URL %s", provider.AuthURL())
	}

	if provider.UserInfoURL() != "https://idp.corp.example.com/userinfo" {
		t.Errorf("Unexpected userinfo URL %s", provider.UserInfoURL())
	}

	if provider.RevocationURL() != "https://idp.corp.example.com/revoke" {
		t.Errorf("Unexpected revocation URL %s", provider.RevocationURL())
	}

	if provider.DeviceAuthURL() != "https://idp.corp.example.com/device" {
		t.Errorf("Unexpected device authorization URL %s", provider.DeviceAuthURL())
	}

	if provider.EndSessionURL() != "https://idp.corp.example.com/logout" {
		t.Errorf("Unexpected end session URL %s", provider.EndSessionURL())
	}
}
