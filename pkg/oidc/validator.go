package oidc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// tokenHeader is the decoded JOSE header of an ID token.
type tokenHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid,omitempty"`
	Typ string `json:"typ,omitempty"`
}

// rawIDToken is a split and decoded but not yet verified ID token.
type rawIDToken struct {
	header       tokenHeader
	claims       *ClaimSet
	signingInput string
	signature    []byte
}

// decodeIDToken splits the compact serialization into its three
// segments and decodes them. Nothing is verified here.
func decodeIDToken(token string) (*rawIDToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty id token", ErrMissingToken)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrInvalidTokenFormat, len(parts))
	}

	headerBytes, err := decodeSegment(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: malformed header: %v", ErrInvalidTokenFormat, err)
	}
	var header tokenHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("%w: malformed header: %v", ErrInvalidTokenFormat, err)
	}

	payload, err := decodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: malformed payload: %v", ErrInvalidTokenFormat, err)
	}
	claims, err := claimsFromPayload(payload)
	if err != nil {
		return nil, err
	}

	signature, err := decodeSegment(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: malformed signature: %v", ErrInvalidTokenFormat, err)
	}

	return &rawIDToken{
		header:       header,
		claims:       claims,
		signingInput: parts[0] + "." + parts[1],
		signature:    signature,
	}, nil
}

// decodeSegment decodes one base64url segment. JWS segments carry no
// padding; padded input is rejected.
func decodeSegment(seg string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(seg)
}

// idTokenValidator performs complete ID token validation.
type idTokenValidator struct {
	keys   *keyResolver
	config *Config
	now    func() time.Time
}

// newIDTokenValidator creates a new ID token validator.
func newIDTokenValidator(keys *keyResolver, config *Config) *idTokenValidator {
	return &idTokenValidator{
		keys:   keys,
		config: config,
		now:    time.Now,
	}
}

// validate checks the token against the expected nonce and access
// token and returns its claims. Claims are checked before the
// signature so the caller sees the most specific failure, but a token
// is accepted only when both pass.
func (v *idTokenValidator) validate(ctx context.Context, token, nonce, accessToken string, requireATHash bool) (*ClaimSet, error) {
	raw, err := decodeIDToken(token)
	if err != nil {
		return nil, err
	}
	if raw.header.Kid == "" {
		return nil, fmt.Errorf("%w: token header has no kid", ErrMissingKeyID)
	}
	if raw.header.Alg == "" {
		return nil, fmt.Errorf("%w: token header has no alg", ErrMissingAlgorithm)
	}

	exp := claimExpectations{
		issuer:        v.config.issuer(),
		clientID:      v.config.ClientID,
		nonce:         nonce,
		accessToken:   accessToken,
		alg:           raw.header.Alg,
		requireATHash: requireATHash,
		skew:          v.config.ClockSkew,
		now:           v.now,
	}
	if err := validateClaims(raw.claims, exp); err != nil {
		return nil, err
	}

	key, err := v.keys.ResolveKey(ctx, raw.header.Kid)
	if err != nil {
		return nil, err
	}
	if err := verifyTokenSignature(raw.signingInput, raw.signature, raw.header.Alg, key); err != nil {
		return nil, err
	}

	return raw.claims, nil
}
