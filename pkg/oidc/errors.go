package oidc

import "errors"

// Format errors. Callers recover by rejecting the token.
var (
	// ErrInvalidTokenFormat indicates a compact JWT with the wrong
	// segment count or undecodable base64/JSON segments.
	ErrInvalidTokenFormat = errors.New("oidc: invalid token format")

	// ErrMissingToken indicates no token was provided.
	ErrMissingToken = errors.New("oidc: missing token")
)

// Claims errors. Never retried.
var (
	// ErrInvalidIssuer indicates the iss claim does not equal the
	// expected issuer.
	ErrInvalidIssuer = errors.New("oidc: invalid issuer")

	// ErrInvalidAudience indicates the aud claim does not contain this
	// client.
	ErrInvalidAudience = errors.New("oidc: invalid audience")

	// ErrTokenExpired indicates the exp claim is not in the future.
	ErrTokenExpired = errors.New("oidc: token expired")

	// ErrTokenNotYetValid indicates the nbf claim is in the future.
	ErrTokenNotYetValid = errors.New("oidc: token not yet valid")

	// ErrInvalidNonce indicates the nonce claim is missing or does not
	// match the value issued with the authorization request.
	ErrInvalidNonce = errors.New("oidc: invalid nonce")

	// ErrInvalidAuthorizedParty indicates the azp claim does not name
	// this client.
	ErrInvalidAuthorizedParty = errors.New("oidc: invalid authorized party")

	// ErrInvalidAccessTokenHash indicates at_hash validation failed.
	ErrInvalidAccessTokenHash = errors.New("oidc: invalid at_hash")
)

// Signature errors. Hard authentication rejections, never retried.
var (
	// ErrMissingKeyID indicates the JWT header carries no kid.
	ErrMissingKeyID = errors.New("oidc: missing kid in token header")

	// ErrMissingAlgorithm indicates the JWT header carries no alg.
	ErrMissingAlgorithm = errors.New("oidc: missing alg in token header")

	// ErrUnsupportedAlgorithm indicates an alg outside the supported
	// RS*/PS*/ES* families.
	ErrUnsupportedAlgorithm = errors.New("oidc: unsupported algorithm")

	// ErrUnsupportedKeyType indicates a key type that cannot verify
	// the declared algorithm, including all oct keys.
	ErrUnsupportedKeyType = errors.New("oidc: unsupported key type")

	// ErrAlgorithmMismatch indicates the JWK declares a different alg
	// than the token header.
	ErrAlgorithmMismatch = errors.New("oidc: algorithm mismatch")

	// ErrIncorrectCurve indicates an EC key on a different curve than
	// the ES algorithm requires.
	ErrIncorrectCurve = errors.New("oidc: incorrect curve")

	// ErrInvalidSignature indicates cryptographic verification failed.
	ErrInvalidSignature = errors.New("oidc: invalid signature")
)

// Key-resolution errors. Distinct from signature errors so callers can
// tell "could not verify" from "verified and rejected".
var (
	// ErrKeyNotFound indicates the kid is absent from the JWKS even
	// after a refresh.
	ErrKeyNotFound = errors.New("oidc: key not found")

	// ErrJWKSFetchFailed indicates the key set could not be fetched or
	// parsed.
	ErrJWKSFetchFailed = errors.New("oidc: jwks fetch failed")
)

// Protocol errors. The in-progress flow is rejected and the caller
// must restart the login.
var (
	// ErrInvalidCallback indicates the redirect callback is missing the
	// code or state parameter.
	ErrInvalidCallback = errors.New("oidc: invalid callback parameters")

	// ErrStateMismatch indicates the callback state matches no pending,
	// unexpired authorization.
	ErrStateMismatch = errors.New("oidc: state mismatch")

	// ErrCodeVerifierMissing indicates PKCE was required but no code
	// verifier was stored for the pending authorization.
	ErrCodeVerifierMissing = errors.New("oidc: code verifier missing")

	// ErrDeviceAccessDenied indicates the user declined the device
	// authorization.
	ErrDeviceAccessDenied = errors.New("oidc: device access denied")

	// ErrDeviceFlowExpired indicates the device code or the caller's
	// timeout expired before the user approved the request.
	ErrDeviceFlowExpired = errors.New("oidc: device authorization expired")
)

// Transport errors. The underlying cause is always attached.
var (
	// ErrDiscoveryFetchFailed indicates the discovery document could
	// not be fetched or failed validation.
	ErrDiscoveryFetchFailed = errors.New("oidc: discovery fetch failed")

	// ErrTokenRequestFailed indicates a token-endpoint request failed
	// or returned an error response.
	ErrTokenRequestFailed = errors.New("oidc: token request failed")

	// ErrIntrospectionFailed indicates the introspection request failed.
	ErrIntrospectionFailed = errors.New("oidc: introspection failed")

	// ErrRevocationFailed indicates the revocation request failed.
	ErrRevocationFailed = errors.New("oidc: revocation failed")

	// ErrUserInfoFailed indicates the UserInfo request failed.
	ErrUserInfoFailed = errors.New("oidc: userinfo request failed")
)

// Lifecycle and configuration errors.
var (
	// ErrNoCurrentToken indicates no token set is held; the caller must
	// run a login flow first.
	ErrNoCurrentToken = errors.New("oidc: no current token")

	// ErrRefreshFailed indicates an automatic refresh failed; the token
	// set has been cleared.
	ErrRefreshFailed = errors.New("oidc: token refresh failed")

	// ErrInvalidConfiguration indicates the client configuration is
	// incomplete or inconsistent.
	ErrInvalidConfiguration = errors.New("oidc: invalid configuration")

	// ErrTokenInactive indicates introspection reported the token as
	// not active.
	ErrTokenInactive = errors.New("oidc: token inactive")

	// ErrUserInfoSubjectMismatch indicates the UserInfo sub differs
	// from the validated ID token's sub.
	ErrUserInfoSubjectMismatch = errors.New("oidc: userinfo subject mismatch")

	// ErrEndSessionUnsupported indicates the provider advertises no
	// end-session endpoint.
	ErrEndSessionUnsupported = errors.New("oidc: end session endpoint not available")
)
