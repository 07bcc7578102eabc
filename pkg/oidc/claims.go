package oidc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// audience accepts both the string and array forms of the aud claim.
type audience []string

func (a *audience) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*a = audience{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*a = audience(many)
	return nil
}

func (a audience) MarshalJSON() ([]byte, error) {
	if len(a) == 1 {
		return json.Marshal(a[0])
	}
	return json.Marshal([]string(a))
}

// ClaimSet carries the claims of a validated ID token. Raw holds the
// complete decoded payload for claims without a dedicated field.
type ClaimSet struct {
	Issuer            string   `json:"iss"`
	Subject           string   `json:"sub"`
	Audience          audience `json:"aud"`
	Expiry            int64    `json:"exp"`
	IssuedAt          int64    `json:"iat"`
	NotBefore         int64    `json:"nbf,omitempty"`
	AuthTime          int64    `json:"auth_time,omitempty"`
	Nonce             string   `json:"nonce,omitempty"`
	AuthorizedParty   string   `json:"azp,omitempty"`
	AccessTokenHash   string   `json:"at_hash,omitempty"`
	SessionID         string   `json:"sid,omitempty"`
	Email             string   `json:"email,omitempty"`
	EmailVerified     bool     `json:"email_verified,omitempty"`
	Name              string   `json:"name,omitempty"`
	GivenName         string   `json:"given_name,omitempty"`
	FamilyName        string   `json:"family_name,omitempty"`
	PreferredUsername string   `json:"preferred_username,omitempty"`
	Picture           string   `json:"picture,omitempty"`
	Groups            []string `json:"groups,omitempty"`

	Raw map[string]interface{} `json:"-"`
}

// ExpiresAt returns the exp claim as a time.
func (c *ClaimSet) ExpiresAt() time.Time {
	return time.Unix(c.Expiry, 0)
}

// HasAudience reports whether the aud claim contains the given value.
func (c *ClaimSet) HasAudience(aud string) bool {
	for _, a := range c.Audience {
		if a == aud {
			return true
		}
	}
	return false
}

// Claim returns the named claim from the raw payload.
func (c *ClaimSet) Claim(name string) (interface{}, bool) {
	v, ok := c.Raw[name]
	return v, ok
}

// claimsFromPayload decodes an ID token payload.
func claimsFromPayload(payload []byte) (*ClaimSet, error) {
	var cs ClaimSet
	if err := json.Unmarshal(payload, &cs); err != nil {
		return nil, fmt.Errorf("%w: malformed claims: %v", ErrInvalidTokenFormat, err)
	}
	if err := json.Unmarshal(payload, &cs.Raw); err != nil {
		return nil, fmt.Errorf("%w: malformed claims: %v", ErrInvalidTokenFormat, err)
	}
	return &cs, nil
}

// claimExpectations carries the caller-side values claims are checked
// against. A zero nonce or accessToken skips the corresponding check.
type claimExpectations struct {
	issuer        string
	clientID      string
	nonce         string
	accessToken   string
	alg           string
	requireATHash bool
	skew          time.Duration
	now           func() time.Time
}

// validateClaims checks the claim set against expectations, failing on
// the first violation.
func validateClaims(cs *ClaimSet, exp claimExpectations) error {
	nowFn := exp.now
	if nowFn == nil {
		nowFn = time.Now
	}
	now := nowFn()

	if cs.Issuer != exp.issuer {
		return fmt.Errorf("%w: expected %q, got %q", ErrInvalidIssuer, exp.issuer, cs.Issuer)
	}

	if !cs.HasAudience(exp.clientID) {
		return fmt.Errorf("%w: token audience %v does not include %q", ErrInvalidAudience, []string(cs.Audience), exp.clientID)
	}

	if cs.Expiry == 0 {
		return fmt.Errorf("%w: token has no exp claim", ErrTokenExpired)
	}
	if !now.Before(cs.ExpiresAt().Add(exp.skew)) {
		return fmt.Errorf("%w: token expired at %s", ErrTokenExpired, cs.ExpiresAt().UTC().Format(time.RFC3339))
	}

	if cs.NotBefore != 0 {
		nbf := time.Unix(cs.NotBefore, 0)
		if now.Add(exp.skew).Before(nbf) {
			return fmt.Errorf("%w: token not valid before %s", ErrTokenNotYetValid, nbf.UTC().Format(time.RFC3339))
		}
	}

	if exp.nonce != "" && cs.Nonce != exp.nonce {
		return fmt.Errorf("%w", ErrInvalidNonce)
	}

	if len(cs.Audience) > 1 && cs.AuthorizedParty == "" {
		return fmt.Errorf("%w: multiple audiences require an azp claim", ErrInvalidAuthorizedParty)
	}
	if cs.AuthorizedParty != "" && cs.AuthorizedParty != exp.clientID {
		return fmt.Errorf("%w: azp %q does not match client %q", ErrInvalidAuthorizedParty, cs.AuthorizedParty, exp.clientID)
	}

	if exp.accessToken != "" {
		if cs.AccessTokenHash == "" {
			if exp.requireATHash {
				return fmt.Errorf("%w: token has no at_hash claim", ErrInvalidAccessTokenHash)
			}
		} else if err := verifyAccessTokenHash(cs.AccessTokenHash, exp.accessToken, exp.alg); err != nil {
			return err
		}
	}

	return nil
}

// verifyAccessTokenHash checks the at_hash claim: the left half of the
// access token's hash under the ID token's signing hash, base64url
// encoded without padding.
func verifyAccessTokenHash(atHash, accessToken, alg string) error {
	h, err := hashForAlgorithm(alg)
	if err != nil {
		return err
	}
	hasher := h.New()
	hasher.Write([]byte(accessToken))
	sum := hasher.Sum(nil)
	want := base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
	if want != atHash {
		return fmt.Errorf("%w: at_hash does not match access token", ErrInvalidAccessTokenHash)
	}
	return nil
}
