// Package oidc implements an OpenID Connect relying-party client on
// top of OAuth 2.0.
//
// The package drives the interactive and non-interactive authorization
// flows, validates ID tokens locally against the provider's JWKS, and
// manages the resulting token set (transparent refresh, introspection,
// revocation). Signature verification is self-contained: JWKs are
// converted to PKIX/PEM with the pkg/jwk and pkg/der packages and
// verified with the standard crypto libraries.
//
// # Supported Flows
//
//   - Authorization Code with PKCE: browser-based user login
//   - Implicit: legacy fragment-based login
//   - Device Authorization: input-constrained devices (RFC 8628)
//   - Client Credentials: machine-to-machine
//   - Resource Owner Password: direct username/password
//
// # Authorization Code Flow
//
// Example - login with PKCE:
//
//	config := &oidc.Config{
//	    Provider:    oidc.Google(),
//	    ClientID:    "client-id",
//	    RedirectURL: "http://localhost:8080/callback",
//	    Scopes:      []string{"openid", "profile", "email"},
//	}
//
//	client, err := oidc.New(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	req, err := client.BeginAuthorization(context.Background(), nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Redirect the user to req.URL...
//	// After the provider redirects back:
//
//	result, err := client.HandleCallback(context.Background(), callbackURL)
//	if err != nil {
//	    log.Printf("Login failed: %v", err)
//	    return
//	}
//
//	fmt.Printf("Subject: %s\n", result.Claims.Subject)
//	fmt.Printf("Access Token: %s\n", result.Token.AccessToken)
//
// # Device Authorization Flow
//
// Example - device grant:
//
//	auth, err := client.StartDeviceAuthorization(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("Visit %s and enter code %s\n", auth.VerificationURI, auth.UserCode)
//
//	result, err := client.PollDeviceToken(ctx, auth)
//	if err != nil {
//	    log.Printf("Device login failed: %v", err)
//	    return
//	}
//
// # ID Token Validation
//
// HandleCallback, HandleImplicitCallback, and PollDeviceToken validate
// the ID token before returning it: issuer, audience, expiry, nonce,
// authorized party, and at_hash claims are checked, then the signature
// is verified against the provider's JWKS. RS256/384/512, PS256/384/512,
// and ES256/384/512 are accepted; symmetric algorithms are rejected.
// ValidateIDToken exposes the same pipeline for tokens obtained out of
// band.
//
// # Access Token Validation
//
// Services that also act as resource servers can validate bearer
// tokens presented to them:
//
//	config.Validation = oidc.ValidationConfig{
//	    Method:   oidc.ValidationJWT,
//	    Audience: "my-api",
//	}
//	config.Cache = oidc.CacheConfig{Enabled: true}
//
//	claims, err := client.ValidateAccessToken(ctx, bearerToken)
//
// ValidationJWT verifies locally against the JWKS,
// ValidationIntrospection asks the provider, and ValidationHybrid tries
// JWT first with introspection as the fallback for opaque tokens.
// Validated claims are cached in an in-memory LRU keyed by a hash of
// the token.
//
// # Token Lifecycle
//
// The client holds the token set obtained by the last completed flow.
// AccessToken returns a currently valid access token, refreshing the
// set transparently when it is expired or inside the configured
// refresh window; concurrent refreshes collapse into a single request.
// TokenSource adapts the managed set to golang.org/x/oauth2 for use
// with generated API clients.
//
// # Pre-configured Providers
//
// The package includes endpoint presets for:
//   - Google() - Google Identity
//   - Microsoft() - Microsoft Entra ID (common tenant)
//   - GitHub() - GitHub OAuth (no discovery, no ID tokens)
//   - Okta(domain) - Okta
//   - Auth0(domain) - Auth0
//   - Keycloak(baseURL, realm) - Keycloak
//
// Endpoints from the provider's discovery document take precedence
// over preset values. For everything else, use CustomProvider:
//
//	provider, err := oidc.CustomProvider(oidc.ProviderConfig{
//	    ProviderName:  "custom",
//	    IssuerURL:     "https://id.example.com",
//	    AuthEndpoint:  "https://id.example.com/authorize",
//	    TokenEndpoint: "https://id.example.com/token",
//	    JWKSEndpoint:  "https://id.example.com/jwks",
//	})
//
// # Thread Safety
//
// The Client is safe for concurrent use. It is immutable after
// construction and safe to share across goroutines.
//
// # Security Considerations
//
//   - Always use TLS in production (enabled by default)
//   - Keep PKCE enabled for the authorization code flow
//   - Supply the nonce when validating out-of-band ID tokens
//   - Set clock skew tolerance deliberately; the default is zero
//   - Never log client secrets or tokens
package oidc
