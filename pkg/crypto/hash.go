// Package crypto provides the hashing and address primitives used to turn
// raw public keys into wallet addresses and to fingerprint checkpoints.
package crypto

import (
	"crypto/sha256"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/ripemd160" //nolint:gosec // ripemd160 is part of the Bitcoin address format
)

// HashSize is the length of a SHA-256 or BLAKE3-256 digest.
const HashSize = 32

// Hash160Size is the length of a RIPEMD160(SHA256(x)) digest.
const Hash160Size = 20

// Hash computes a BLAKE3-256 hash of the input data.
// Used for checkpoint digests, never for address derivation.
func Hash(data []byte) [HashSize]byte {
	return blake3.Sum256(data)
}

// SHA256 computes a single SHA-256 of the input data.
func SHA256(data []byte) [HashSize]byte {
	return sha256.Sum256(data)
}

// DoubleSHA256 computes SHA256(SHA256(data)).
func DoubleSHA256(data []byte) [HashSize]byte {
	first := SHA256(data)
	return SHA256(first[:])
}

// Hash160 computes RIPEMD160(SHA256(data)).
func Hash160(data []byte) [Hash160Size]byte {
	sha := SHA256(data)
	h := ripemd160.New() //nolint:gosec // see import
	h.Write(sha[:])
	var out [Hash160Size]byte
	copy(out[:], h.Sum(nil))
	return out
}
