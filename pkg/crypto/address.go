package crypto

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// MainnetPubKeyHashVersion is the version byte of mainnet P2PKH addresses.
const MainnetPubKeyHashVersion byte = 0x00

// AddressFromPubKey derives the legacy mainnet address of a public key:
//
//	payload  = 0x00 || RIPEMD160(SHA256(pubkey))
//	checksum = SHA256(SHA256(payload))[:4]
//	address  = base58(payload || checksum)
func AddressFromPubKey(pub PubKey) string {
	h := Hash160(pub)
	payload := make([]byte, 0, 1+Hash160Size+4)
	payload = append(payload, MainnetPubKeyHashVersion)
	payload = append(payload, h[:]...)
	sum := DoubleSHA256(payload)
	payload = append(payload, sum[:4]...)
	return Base58Encode(payload)
}

// AddressFromPubKeyHex validates a hex-encoded public key and derives its
// legacy address.
func AddressFromPubKeyHex(s string) (string, error) {
	pub, err := ParsePubKeyHex(s)
	if err != nil {
		return "", err
	}
	return AddressFromPubKey(pub), nil
}

// DecodeAddress splits a base58check address into its version byte and
// 20-byte hash, verifying the checksum.
func DecodeAddress(addr string) (byte, [Hash160Size]byte, error) {
	var h [Hash160Size]byte
	payload, version, err := base58.CheckDecode(addr)
	if err != nil {
		return 0, h, fmt.Errorf("decode address %q: %w", addr, err)
	}
	if len(payload) != Hash160Size {
		return 0, h, fmt.Errorf("decode address %q: payload is %d bytes, want %d", addr, len(payload), Hash160Size)
	}
	copy(h[:], payload)
	return version, h, nil
}
