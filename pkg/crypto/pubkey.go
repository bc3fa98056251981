package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

var (
	// ErrMalformedHex is returned when a hex string cannot be decoded.
	ErrMalformedHex = errors.New("crypto: malformed hex")

	// ErrInvalidPubKey is returned when bytes are not a valid secp256k1 public key.
	ErrInvalidPubKey = errors.New("crypto: invalid public key")
)

// PubKey is a serialized secp256k1 public key exactly as it appeared in a
// script: 33 bytes compressed or 65 bytes uncompressed.
type PubKey []byte

// ParsePubKey validates b as a secp256k1 public key and returns it
// unchanged. The original serialization is kept because the address is
// derived from the bytes as written, not from a re-encoding.
func ParsePubKey(b []byte) (PubKey, error) {
	if _, err := secp256k1.ParsePubKey(b); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPubKey, err)
	}
	out := make(PubKey, len(b))
	copy(out, b)
	return out, nil
}

// ParsePubKeyHex decodes a hex string and validates it as a public key.
func ParsePubKeyHex(s string) (PubKey, error) {
	b, err := DecodeHex(s)
	if err != nil {
		return nil, err
	}
	return ParsePubKey(b)
}

// Compressed reports whether the key uses the 33-byte encoding.
func (p PubKey) Compressed() bool {
	return len(p) == secp256k1.PubKeyBytesLenCompressed
}

// DecodeHex decodes s, rejecting odd lengths and non-hex characters.
func DecodeHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedHex, err)
	}
	return b, nil
}
