// Package jwk models JSON Web Keys (RFC 7517) for RSA and EC public
// keys and converts them to and from PEM-encoded SubjectPublicKeyInfo
// structures. The DER layer underneath is built from primitives rather
// than crypto/x509 so the emitted bytes are fully under this package's
// control; the stdlib parser is still used as the final step when a
// crypto verification key is needed, which keeps the two in agreement.
package jwk

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrUnsupportedKeyType is returned for any kty other than RSA or EC.
	ErrUnsupportedKeyType = errors.New("jwk: unsupported key type")

	// ErrUnsupportedCurve is returned for EC keys on curves other than
	// P-256, P-384 or P-521.
	ErrUnsupportedCurve = errors.New("jwk: unsupported curve")

	// ErrInvalidKey is returned when a required field is missing, empty
	// or not valid base64url.
	ErrInvalidKey = errors.New("jwk: invalid key")

	// ErrInvalidCoordinate is returned when an EC coordinate does not
	// decode to exactly the curve's byte length.
	ErrInvalidCoordinate = errors.New("jwk: invalid coordinate length")

	// ErrInvalidPEM is returned when PEM input cannot be decoded back
	// into a key.
	ErrInvalidPEM = errors.New("jwk: invalid pem")
)

// Key is a public key in JSON Web Key format. Binary fields are
// base64url without padding. A Key is immutable once parsed.
type Key struct {
	Kty string `json:"kty"`           // key type: "RSA" or "EC"
	Use string `json:"use,omitempty"` // intended use: "sig", "enc"
	Alg string `json:"alg,omitempty"` // algorithm bound to the key, if any
	Kid string `json:"kid,omitempty"` // key ID

	// RSA fields
	N string `json:"n,omitempty"` // modulus
	E string `json:"e,omitempty"` // exponent

	// EC fields
	Crv string `json:"crv,omitempty"` // curve: "P-256", "P-384", "P-521"
	X   string `json:"x,omitempty"`   // x-coordinate
	Y   string `json:"y,omitempty"`   // y-coordinate
}

// Set is a JSON Web Key Set.
type Set struct {
	Keys []Key `json:"keys"`
}

// Parse decodes a single JWK from JSON.
func Parse(data []byte) (*Key, error) {
	var k Key
	if err := json.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if k.Kty == "" {
		return nil, fmt.Errorf("%w: missing kty", ErrInvalidKey)
	}
	return &k, nil
}

// ParseSet decodes a JWKS document from JSON.
func ParseSet(data []byte) (*Set, error) {
	var s Set
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &s, nil
}

// Find returns the key with the given key ID.
func (s *Set) Find(kid string) (*Key, bool) {
	for i := range s.Keys {
		if s.Keys[i].Kid == kid {
			return &s.Keys[i], true
		}
	}
	return nil, false
}

// CurveByteLength returns the fixed coordinate width of a supported
// curve: 32 for P-256, 48 for P-384, 66 for P-521.
func CurveByteLength(crv string) (int, error) {
	switch crv {
	case "P-256":
		return 32, nil
	case "P-384":
		return 48, nil
	case "P-521":
		return 66, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedCurve, crv)
	}
}

// NewRSA builds a JWK for an RSA public key.
func NewRSA(kid, alg string, pub *rsa.PublicKey) Key {
	return Key{
		Kty: "RSA",
		Use: "sig",
		Alg: alg,
		Kid: kid,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// NewEC builds a JWK for an ECDSA public key on one of the supported
// curves. Coordinates are left-padded to the curve byte length so the
// encoding is the same for every key on the curve.
func NewEC(kid, alg string, pub *ecdsa.PublicKey) (Key, error) {
	crv := pub.Curve.Params().Name
	size, err := CurveByteLength(crv)
	if err != nil {
		return Key{}, err
	}

	x := make([]byte, size)
	y := make([]byte, size)
	pub.X.FillBytes(x)
	pub.Y.FillBytes(y)

	return Key{
		Kty: "EC",
		Use: "sig",
		Alg: alg,
		Kid: kid,
		Crv: crv,
		X:   base64.RawURLEncoding.EncodeToString(x),
		Y:   base64.RawURLEncoding.EncodeToString(y),
	}, nil
}

// decodeField base64url-decodes a required key field, rejecting empty
// and undecodable values.
func decodeField(name, value string) ([]byte, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidKey, name)
	}
	buf, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: field %s: %v", ErrInvalidKey, name, err)
	}
	if len(buf) == 0 {
		return nil, fmt.Errorf("%w: field %s decodes to zero length", ErrInvalidKey, name)
	}
	return buf, nil
}
