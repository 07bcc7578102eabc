package oidc

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"fmt"
	"sort"
	"strings"

	_ "crypto/sha256"
	_ "crypto/sha512"

	"github.com/jeremyhahn/go-oidc/pkg/der"
	"github.com/jeremyhahn/go-oidc/pkg/jwk"
)

// signatureAlgorithm describes how one JOSE alg value is verified.
type signatureAlgorithm struct {
	hash crypto.Hash
	kty  string
	crv  string
	pss  bool
}

var signatureAlgorithms = map[string]signatureAlgorithm{
	"RS256": {hash: crypto.SHA256, kty: "RSA"},
	"RS384": {hash: crypto.SHA384, kty: "RSA"},
	"RS512": {hash: crypto.SHA512, kty: "RSA"},
	"PS256": {hash: crypto.SHA256, kty: "RSA", pss: true},
	"PS384": {hash: crypto.SHA384, kty: "RSA", pss: true},
	"PS512": {hash: crypto.SHA512, kty: "RSA", pss: true},
	"ES256": {hash: crypto.SHA256, kty: "EC", crv: "P-256"},
	"ES384": {hash: crypto.SHA384, kty: "EC", crv: "P-384"},
	"ES512": {hash: crypto.SHA512, kty: "EC", crv: "P-521"},
}

// SupportedAlgorithms returns the JOSE signing algorithms accepted for
// token verification.
func SupportedAlgorithms() []string {
	algs := make([]string, 0, len(signatureAlgorithms))
	for alg := range signatureAlgorithms {
		algs = append(algs, alg)
	}
	sort.Strings(algs)
	return algs
}

// hashForAlgorithm returns the hash function the given alg signs with.
// The at_hash claim uses the same hash.
func hashForAlgorithm(alg string) (crypto.Hash, error) {
	info, ok := signatureAlgorithms[alg]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
	return info.hash, nil
}

// verifyTokenSignature checks sig over signingInput with the given
// key. The key's type, bound algorithm, and curve must all agree with
// the token's alg before any cryptography runs.
func verifyTokenSignature(signingInput string, sig []byte, alg string, key *jwk.Key) error {
	if alg == "" {
		return fmt.Errorf("%w: token header has no alg", ErrMissingAlgorithm)
	}
	info, ok := signatureAlgorithms[alg]
	if !ok {
		if strings.HasPrefix(alg, "HS") {
			return fmt.Errorf("%w: symmetric algorithm %q is not accepted", ErrUnsupportedAlgorithm, alg)
		}
		return fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
	if key.Alg != "" && key.Alg != alg {
		return fmt.Errorf("%w: token alg %q but key is bound to %q", ErrAlgorithmMismatch, alg, key.Alg)
	}
	if key.Kty != info.kty {
		if key.Kty == "oct" {
			return fmt.Errorf("%w: symmetric %q keys are not accepted", ErrUnsupportedKeyType, key.Kty)
		}
		return fmt.Errorf("%w: alg %q requires a %s key, got %q", ErrAlgorithmMismatch, alg, info.kty, key.Kty)
	}
	if info.kty == "EC" && key.Crv != info.crv {
		return fmt.Errorf("%w: alg %q requires curve %s, got %q", ErrIncorrectCurve, alg, info.crv, key.Crv)
	}

	pub, err := key.PublicKey()
	if err != nil {
		return err
	}

	h := info.hash.New()
	h.Write([]byte(signingInput))
	digest := h.Sum(nil)

	switch pub := pub.(type) {
	case *rsa.PublicKey:
		if info.pss {
			opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: info.hash}
			if err := rsa.VerifyPSS(pub, info.hash, digest, sig, opts); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
			}
		} else if err := rsa.VerifyPKCS1v15(pub, info.hash, digest, sig); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
	case *ecdsa.PublicKey:
		byteLen, err := jwk.CurveByteLength(info.crv)
		if err != nil {
			return err
		}
		derSig, err := der.ECDSASignatureFromRaw(sig, byteLen)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		if !ecdsa.VerifyASN1(pub, digest, derSig) {
			return fmt.Errorf("%w: ecdsa verification failed", ErrInvalidSignature)
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedKeyType, pub)
	}

	return nil
}
