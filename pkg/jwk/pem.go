package jwk

import (
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"

	"github.com/jeremyhahn/go-oidc/pkg/der"
)

const publicKeyLabel = "PUBLIC KEY"

// Well-known algorithm and curve identifiers used in
// SubjectPublicKeyInfo structures.
const (
	oidRSAEncryption = "1.2.840.113549.1.1.1"
	oidECPublicKey   = "1.2.840.10045.2.1"
	oidCurveP256     = "1.2.840.10045.3.1.7"
	oidCurveP384     = "1.3.132.0.34"
	oidCurveP521     = "1.3.132.0.35"
)

var curveOIDs = map[string]string{
	"P-256": oidCurveP256,
	"P-384": oidCurveP384,
	"P-521": oidCurveP521,
}

// mustOID encodes a compile-time constant OID.
func mustOID(oid string) []byte {
	buf, err := der.ObjectIdentifier(oid)
	if err != nil {
		panic(err)
	}
	return buf
}

var (
	derRSAEncryption = mustOID(oidRSAEncryption)
	derECPublicKey   = mustOID(oidECPublicKey)
)

// PEM renders the key as a PEM-encoded SubjectPublicKeyInfo. The DER
// body is assembled from primitives; the output is byte-identical to
// what crypto/x509 produces for the same key.
func (k *Key) PEM() (string, error) {
	var spki []byte
	var err error

	switch k.Kty {
	case "RSA":
		spki, err = rsaSPKI(k.N, k.E)
	case "EC":
		spki, err = ecSPKI(k.Crv, k.X, k.Y)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedKeyType, k.Kty)
	}
	if err != nil {
		return "", err
	}
	return encodePEM(publicKeyLabel, spki), nil
}

// rsaSPKI builds SEQUENCE(AlgorithmIdentifier(rsaEncryption, NULL),
// BIT STRING(SEQUENCE(INTEGER n, INTEGER e))).
func rsaSPKI(n, e string) ([]byte, error) {
	nb, err := decodeField("n", n)
	if err != nil {
		return nil, err
	}
	eb, err := decodeField("e", e)
	if err != nil {
		return nil, err
	}

	algorithm := der.Sequence(append(append([]byte{}, derRSAEncryption...), der.Null()...))
	keyBody := der.Sequence(append(der.Integer(trimLeadingZeros(nb)), der.Integer(trimLeadingZeros(eb))...))
	return der.Sequence(append(algorithm, der.BitString(keyBody)...)), nil
}

// ecSPKI builds SEQUENCE(AlgorithmIdentifier(id-ecPublicKey, curve),
// BIT STRING(0x04 ‖ x ‖ y)).
func ecSPKI(crv, x, y string) ([]byte, error) {
	size, err := CurveByteLength(crv)
	if err != nil {
		return nil, err
	}
	xb, err := decodeField("x", x)
	if err != nil {
		return nil, err
	}
	yb, err := decodeField("y", y)
	if err != nil {
		return nil, err
	}
	if len(xb) != size || len(yb) != size {
		return nil, fmt.Errorf("%w: got x=%d y=%d, want %d for %s", ErrInvalidCoordinate, len(xb), len(yb), size, crv)
	}

	curveOID := mustOID(curveOIDs[crv])
	algorithm := der.Sequence(append(append([]byte{}, derECPublicKey...), curveOID...))

	point := make([]byte, 0, 1+2*size)
	point = append(point, 0x04)
	point = append(point, xb...)
	point = append(point, yb...)

	return der.Sequence(append(algorithm, der.BitString(point)...)), nil
}

// FromPEM parses a PEM-encoded SubjectPublicKeyInfo back into a JWK,
// the inverse of PEM. The same key-type and curve restrictions apply.
func FromPEM(pemData string) (*Key, error) {
	spki, err := decodePEM(pemData)
	if err != nil {
		return nil, err
	}

	tag, body, _, err := der.ReadTLV(spki)
	if err != nil || tag != der.TagSequence {
		return nil, fmt.Errorf("%w: not a SubjectPublicKeyInfo", ErrInvalidPEM)
	}

	tag, algorithm, rest, err := der.ReadTLV(body)
	if err != nil || tag != der.TagSequence {
		return nil, fmt.Errorf("%w: missing algorithm identifier", ErrInvalidPEM)
	}

	tag, oidContent, params, err := der.ReadTLV(algorithm)
	if err != nil || tag != der.TagOID {
		return nil, fmt.Errorf("%w: missing algorithm OID", ErrInvalidPEM)
	}
	algOID, err := der.ParseObjectIdentifier(oidContent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}

	tag, bitContent, _, err := der.ReadTLV(rest)
	if err != nil || tag != der.TagBitString {
		return nil, fmt.Errorf("%w: missing subjectPublicKey", ErrInvalidPEM)
	}
	keyBytes, err := der.ParseBitString(bitContent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}

	switch algOID {
	case oidRSAEncryption:
		return rsaKeyFromDER(keyBytes)
	case oidECPublicKey:
		return ecKeyFromDER(params, keyBytes)
	default:
		return nil, fmt.Errorf("%w: algorithm %s", ErrUnsupportedKeyType, algOID)
	}
}

func rsaKeyFromDER(keyBytes []byte) (*Key, error) {
	tag, seq, _, err := der.ReadTLV(keyBytes)
	if err != nil || tag != der.TagSequence {
		return nil, fmt.Errorf("%w: malformed RSA key", ErrInvalidPEM)
	}
	tag, nContent, rest, err := der.ReadTLV(seq)
	if err != nil || tag != der.TagInteger {
		return nil, fmt.Errorf("%w: missing modulus", ErrInvalidPEM)
	}
	tag, eContent, _, err := der.ReadTLV(rest)
	if err != nil || tag != der.TagInteger {
		return nil, fmt.Errorf("%w: missing exponent", ErrInvalidPEM)
	}
	return &Key{
		Kty: "RSA",
		N:   base64.RawURLEncoding.EncodeToString(der.ParseInteger(nContent)),
		E:   base64.RawURLEncoding.EncodeToString(der.ParseInteger(eContent)),
	}, nil
}

func ecKeyFromDER(params, point []byte) (*Key, error) {
	tag, oidContent, _, err := der.ReadTLV(params)
	if err != nil || tag != der.TagOID {
		return nil, fmt.Errorf("%w: missing curve OID", ErrInvalidPEM)
	}
	curveOID, err := der.ParseObjectIdentifier(oidContent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}

	var crv string
	for name, oid := range curveOIDs {
		if oid == curveOID {
			crv = name
			break
		}
	}
	if crv == "" {
		return nil, fmt.Errorf("%w: OID %s", ErrUnsupportedCurve, curveOID)
	}

	size, _ := CurveByteLength(crv)
	if len(point) != 1+2*size || point[0] != 0x04 {
		return nil, fmt.Errorf("%w: malformed EC point", ErrInvalidPEM)
	}

	return &Key{
		Kty: "EC",
		Crv: crv,
		X:   base64.RawURLEncoding.EncodeToString(point[1 : 1+size]),
		Y:   base64.RawURLEncoding.EncodeToString(point[1+size:]),
	}, nil
}

// PublicKey converts the JWK into a crypto verification key. The key
// travels through the hand-built PEM so the DER emission is exercised
// and cross-checked by the standard parser on every call.
func (k *Key) PublicKey() (crypto.PublicKey, error) {
	pemData, err := k.PEM()
	if err != nil {
		return nil, err
	}
	spki, err := decodePEM(pemData)
	if err != nil {
		return nil, err
	}
	pub, err := x509.ParsePKIXPublicKey(spki)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return pub, nil
}

// ExponentInt returns the RSA public exponent as an int, for callers
// that construct rsa.PublicKey values directly.
func (k *Key) ExponentInt() (int, error) {
	eb, err := decodeField("e", k.E)
	if err != nil {
		return 0, err
	}
	return int(new(big.Int).SetBytes(eb).Int64()), nil
}

// trimLeadingZeros drops redundant leading zero bytes so integers are
// minimally encoded, keeping at least one byte.
func trimLeadingZeros(buf []byte) []byte {
	for len(buf) > 1 && buf[0] == 0x00 {
		buf = buf[1:]
	}
	return buf
}

// encodePEM wraps data in a PEM envelope: base64 split into 64-character
// lines between BEGIN and END markers. An empty payload still yields
// the envelope with a single blank line between the markers.
func encodePEM(label string, data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	var lines []string
	for len(encoded) > 64 {
		lines = append(lines, encoded[:64])
		encoded = encoded[64:]
	}
	lines = append(lines, encoded)

	var b strings.Builder
	b.WriteString("-----BEGIN " + label + "-----\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n-----END " + label + "-----\n")
	return b.String()
}

// decodePEM strips the PEM envelope and decodes the base64 payload.
func decodePEM(pemData string) ([]byte, error) {
	var payload strings.Builder
	var inBody bool
	for _, line := range strings.Split(pemData, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "-----BEGIN "):
			inBody = true
		case strings.HasPrefix(line, "-----END "):
			data, err := base64.StdEncoding.DecodeString(payload.String())
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
			}
			return data, nil
		case inBody:
			payload.WriteString(line)
		}
	}
	return nil, fmt.Errorf("%w: missing envelope", ErrInvalidPEM)
}
