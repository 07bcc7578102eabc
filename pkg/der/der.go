// Package der implements the minimal subset of DER (Distinguished
// Encoding Rules) needed to build and read SubjectPublicKeyInfo
// structures for RSA and EC public keys and to convert raw JOSE ECDSA
// signatures into the DER form expected by signature verifiers.
//
// Only the types required for those tasks are supported: INTEGER,
// BIT STRING, NULL, OBJECT IDENTIFIER and SEQUENCE. Encoders are pure
// functions over byte slices and never mutate their input.
package der

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DER tag bytes for the supported universal types.
const (
	TagInteger   byte = 0x02
	TagBitString byte = 0x03
	TagNull      byte = 0x05
	TagOID       byte = 0x06
	TagSequence  byte = 0x30
)

var (
	// ErrNegativeLength is returned when a length encoding is requested
	// for a negative value.
	ErrNegativeLength = errors.New("der: negative length")

	// ErrInvalidOID is returned when an object identifier string cannot
	// be encoded (fewer than two arcs, or a non-numeric arc).
	ErrInvalidOID = errors.New("der: invalid object identifier")

	// ErrInvalidSignatureLength is returned when a raw ECDSA signature
	// does not split into two coordinates of the curve's byte length.
	ErrInvalidSignatureLength = errors.New("der: invalid raw signature length")

	// ErrTruncated is returned when a buffer ends before the element it
	// declares is complete.
	ErrTruncated = errors.New("der: truncated input")

	// ErrInvalidLength is returned for indefinite, oversized or
	// non-minimal length encodings, which DER forbids.
	ErrInvalidLength = errors.New("der: invalid length encoding")

	// ErrInvalidBitString is returned when a BIT STRING element is empty
	// or declares unused bits, which never occurs in key material.
	ErrInvalidBitString = errors.New("der: invalid bit string")
)

// Length encodes a content length. Values below 128 use the short form;
// larger values use the long form (0x80|count followed by big-endian
// length bytes).
func Length(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeLength, n)
	}
	return lengthBytes(n), nil
}

// lengthBytes is the unchecked form used internally, where n is a
// slice length and cannot be negative.
func lengthBytes(n int) []byte {
	if n < 0x80 {
		return []byte{byte(n)}
	}
	var body []byte
	for v := n; v > 0; v >>= 8 {
		body = append([]byte{byte(v)}, body...)
	}
	return append([]byte{0x80 | byte(len(body))}, body...)
}

// TLV assembles a tag-length-value element around content.
func TLV(tag byte, content []byte) []byte {
	length := lengthBytes(len(content))
	out := make([]byte, 0, 1+len(length)+len(content))
	out = append(out, tag)
	out = append(out, length...)
	return append(out, content...)
}

// Integer encodes buf as a DER INTEGER. A 0x00 byte is prepended when
// the high bit of the first byte is set, so the value is never read
// back as negative. An empty buf encodes as zero. Interoperating
// verifiers reject integers without this sign padding, so the rule is
// applied unconditionally.
func Integer(buf []byte) []byte {
	if len(buf) == 0 {
		buf = []byte{0x00}
	}
	if buf[0]&0x80 != 0 {
		padded := make([]byte, len(buf)+1)
		copy(padded[1:], buf)
		buf = padded
	}
	return TLV(TagInteger, buf)
}

// BitString encodes buf as a DER BIT STRING with zero unused bits.
func BitString(buf []byte) []byte {
	content := make([]byte, len(buf)+1)
	copy(content[1:], buf)
	return TLV(TagBitString, content)
}

// Sequence wraps already-encoded child elements in a SEQUENCE.
func Sequence(buf []byte) []byte {
	return TLV(TagSequence, buf)
}

// Null encodes the DER NULL element.
func Null() []byte {
	return []byte{TagNull, 0x00}
}

// ObjectIdentifier encodes a dotted-decimal OID string. The first two
// arcs combine as 40*a+b; each following arc is base-128 encoded with
// the continuation bit set on every byte except the last of the arc.
func ObjectIdentifier(oid string) ([]byte, error) {
	parts := strings.Split(oid, ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: %q needs at least two arcs", ErrInvalidOID, oid)
	}
	arcs := make([]uint64, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: arc %q is not numeric", ErrInvalidOID, part)
		}
		arcs[i] = v
	}
	content := base128(40*arcs[0] + arcs[1])
	for _, arc := range arcs[2:] {
		content = append(content, base128(arc)...)
	}
	return TLV(TagOID, content), nil
}

// base128 encodes v in big-endian groups of 7 bits with the
// continuation bit set on all but the final byte.
func base128(v uint64) []byte {
	if v == 0 {
		return []byte{0x00}
	}
	var out []byte
	for ; v > 0; v >>= 7 {
		out = append([]byte{byte(v&0x7f) | 0x80}, out...)
	}
	out[len(out)-1] &^= 0x80
	return out
}

// ECDSASignatureFromRaw converts a fixed-width r‖s signature, as carried
// in a JWS, into the DER SEQUENCE(r, s) form that ECDSA verifiers
// consume. raw must be exactly twice curveByteLength. Leading zero
// bytes of each half are trimmed before encoding, as DER requires
// minimally encoded integers.
func ECDSASignatureFromRaw(raw []byte, curveByteLength int) ([]byte, error) {
	if curveByteLength <= 0 || len(raw) != 2*curveByteLength {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidSignatureLength, len(raw), 2*curveByteLength)
	}
	r := trimLeadingZeros(raw[:curveByteLength])
	s := trimLeadingZeros(raw[curveByteLength:])
	return Sequence(append(Integer(r), Integer(s)...)), nil
}

// trimLeadingZeros drops redundant leading zero bytes, keeping at least
// one byte so a zero value still encodes.
func trimLeadingZeros(buf []byte) []byte {
	for len(buf) > 1 && buf[0] == 0x00 {
		buf = buf[1:]
	}
	return buf
}

// ReadTLV parses one element from the front of buf and returns its tag,
// content and the unconsumed remainder. Indefinite lengths and
// non-minimal long-form lengths are rejected.
func ReadTLV(buf []byte) (tag byte, content, rest []byte, err error) {
	if len(buf) < 2 {
		return 0, nil, nil, ErrTruncated
	}
	tag = buf[0]
	first := buf[1]
	var contentLen, offset int
	switch {
	case first < 0x80:
		contentLen = int(first)
		offset = 2
	default:
		count := int(first & 0x7f)
		if count == 0 || count > 4 {
			return 0, nil, nil, fmt.Errorf("%w: length of length %d", ErrInvalidLength, count)
		}
		if len(buf) < 2+count {
			return 0, nil, nil, ErrTruncated
		}
		for _, b := range buf[2 : 2+count] {
			contentLen = contentLen<<8 | int(b)
		}
		if buf[2] == 0x00 || contentLen < 0x80 {
			return 0, nil, nil, fmt.Errorf("%w: non-minimal long form", ErrInvalidLength)
		}
		offset = 2 + count
	}
	if len(buf) < offset+contentLen {
		return 0, nil, nil, ErrTruncated
	}
	return tag, buf[offset : offset+contentLen], buf[offset+contentLen:], nil
}

// ParseInteger strips the sign-padding zero byte an encoder prepends
// for values whose high bit is set, returning the raw magnitude.
func ParseInteger(content []byte) []byte {
	if len(content) > 1 && content[0] == 0x00 && content[1]&0x80 != 0 {
		return content[1:]
	}
	return content
}

// ParseBitString unwraps a BIT STRING content, requiring the zero
// unused-bits prefix used for key material.
func ParseBitString(content []byte) ([]byte, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidBitString)
	}
	if content[0] != 0x00 {
		return nil, fmt.Errorf("%w: %d unused bits", ErrInvalidBitString, content[0])
	}
	return content[1:], nil
}

// ParseObjectIdentifier decodes OID content back to dotted-decimal
// form, the inverse of ObjectIdentifier.
func ParseObjectIdentifier(content []byte) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("%w: empty content", ErrInvalidOID)
	}
	var arcs []uint64
	var v uint64
	var mid bool
	for _, b := range content {
		if v > 1<<57 {
			return "", fmt.Errorf("%w: arc overflow", ErrInvalidOID)
		}
		v = v<<7 | uint64(b&0x7f)
		mid = b&0x80 != 0
		if !mid {
			arcs = append(arcs, v)
			v = 0
		}
	}
	if mid {
		return "", fmt.Errorf("%w: truncated arc", ErrInvalidOID)
	}
	first := arcs[0]
	var a, b uint64
	switch {
	case first < 40:
		a, b = 0, first
	case first < 80:
		a, b = 1, first-40
	default:
		a, b = 2, first-80
	}
	parts := make([]string, 0, len(arcs)+1)
	parts = append(parts, strconv.FormatUint(a, 10), strconv.FormatUint(b, 10))
	for _, arc := range arcs[1:] {
		parts = append(parts, strconv.FormatUint(arc, 10))
	}
	return strings.Join(parts, "."), nil
}
