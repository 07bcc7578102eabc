package jwk

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	data := []byte(`{"kty":"RSA","kid":"key-1","alg":"RS256","n":"AQAB","e":"AQAB"}`)

	key, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if key.Kty != "RSA" || key.Kid != "key-1" || key.Alg != "RS256" {
		t.Errorf("Unexpected key fields: %+v", key)
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse([]byte(`{not json`)); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Expected ErrInvalidKey for bad JSON, got %v", err)
	}
	if _, err := Parse([]byte(`{"kid":"no-kty"}`)); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Expected ErrInvalidKey for missing kty, got %v", err)
	}
}

func TestParseSet_Find(t *testing.T) {
	data := []byte(`{"keys":[
		{"kty":"RSA","kid":"a","n":"AQAB","e":"AQAB"},
		{"kty":"EC","kid":"b","crv":"P-256","x":"AA","y":"AA"}
	]}`)

	set, err := ParseSet(data)
	if err != nil {
		t.Fatalf("ParseSet returned error: %v", err)
	}
	if len(set.Keys) != 2 {
		t.Fatalf("Expected 2 keys, got %d", len(set.Keys))
	}

	key, ok := set.Find("b")
	if !ok {
		t.Fatal("Expected to find key b")
	}
	if key.Kty != "EC" {
		t.Errorf("Expected EC key, got %s", key.Kty)
	}

	if _, ok := set.Find("missing"); ok {
		t.Error("Expected lookup of unknown kid to fail")
	}
}

func TestCurveByteLength(t *testing.T) {
	tests := []struct {
		crv  string
		want int
	}{
		{"P-256", 32},
		{"P-384", 48},
		{"P-521", 66},
	}

	for _, tt := range tests {
		got, err := CurveByteLength(tt.crv)
		if err != nil {
			t.Fatalf("CurveByteLength(%s) returned error: %v", tt.crv, err)
		}
		if got != tt.want {
			t.Errorf("CurveByteLength(%s) = %d, want %d", tt.crv, got, tt.want)
		}
	}

	if _, err := CurveByteLength("P-224"); !errors.Is(err, ErrUnsupportedCurve) {
		t.Errorf("Expected ErrUnsupportedCurve, got %v", err)
	}
}

func TestNewRSA(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	key := NewRSA("rsa-1", "RS256", &priv.PublicKey)
	if key.Kty != "RSA" || key.Kid != "rsa-1" || key.Alg != "RS256" {
		t.Errorf("Unexpected key fields: %+v", key)
	}
	if key.N == "" || key.E == "" {
		t.Error("Expected modulus and exponent to be set")
	}
}

func TestNewEC_PadsCoordinates(t *testing.T) {
	// Generate keys until a coordinate with a leading zero byte shows
	// up, then confirm the encoding is still full width.
	for i := 0; i < 200; i++ {
		priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			t.Fatalf("Failed to generate key: %v", err)
		}

		key, err := NewEC("ec-1", "ES256", &priv.PublicKey)
		if err != nil {
			t.Fatalf("NewEC returned error: %v", err)
		}

		xb, err := decodeField("x", key.X)
		if err != nil {
			t.Fatalf("Failed to decode x: %v", err)
		}
		if len(xb) != 32 {
			t.Fatalf("Expected 32-byte x coordinate, got %d", len(xb))
		}

		if len(priv.PublicKey.X.Bytes()) < 32 {
			return // found a short coordinate, padding held
		}
	}
	// Statistically almost impossible, but not a failure of the encoder.
	t.Skip("no short coordinate generated")
}

func TestNewEC_UnsupportedCurve(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P224(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	if _, err := NewEC("ec-1", "ES256", &priv.PublicKey); !errors.Is(err, ErrUnsupportedCurve) {
		t.Errorf("Expected ErrUnsupportedCurve, got %v", err)
	}
}
