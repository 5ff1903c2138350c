// Package digest computes the integrity hashes used across the archive.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
)

// Size is the length of a hex digest.
const Size = sha256.Size * 2

// Sum returns the lower-case hex SHA-256 of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify reports whether data hashes to want.
func Verify(data []byte, want string) bool {
	return Sum(data) == want
}
