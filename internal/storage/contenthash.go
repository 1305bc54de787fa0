package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ContentHash returns the hex SHA-256 of the canonical form of text.
// Canonicalization trims surrounding whitespace and collapses every
// whitespace run to a single space, so re-imports with differing line
// endings or indentation hash identically.
func ContentHash(text string) string {
	canonical := strings.Join(strings.Fields(text), " ")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
