package crypto

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Hash returns the BLAKE2b-256 hash of data as a lowercase hex string.
func Hash(data []byte) string {
	h := blake2b.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashBytes returns the raw BLAKE2b-256 bytes of data.
func HashBytes(data []byte) []byte {
	h := blake2b.Sum256(data)
	return h[:]
}
