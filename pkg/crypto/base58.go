package crypto

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// Base58Alphabet is the Bitcoin base58 alphabet.
const Base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// ErrInvalidBase58 is returned for strings containing characters outside
// the base58 alphabet.
var ErrInvalidBase58 = errors.New("crypto: invalid base58")

// Base58Encode encodes b. Each leading zero byte becomes a leading '1'.
func Base58Encode(b []byte) string {
	return base58.Encode(b)
}

// Base58Decode decodes s. Unlike the underlying library it rejects
// characters outside the alphabet instead of returning an empty slice.
func Base58Decode(s string) ([]byte, error) {
	if s == "" {
		return []byte{}, nil
	}
	if i := strings.IndexFunc(s, func(r rune) bool {
		return !strings.ContainsRune(Base58Alphabet, r)
	}); i >= 0 {
		return nil, fmt.Errorf("%w: character %q at offset %d", ErrInvalidBase58, s[i], i)
	}
	return base58.Decode(s), nil
}
