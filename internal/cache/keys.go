package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Key joins components into a colon-separated cache key.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// UserKey generates a user-scoped cache key.
func UserKey(userID string, parts ...string) string {
	return Key(append([]string{"u", userID}, parts...)...)
}

// HashedKey hashes an arbitrary payload into a fixed-length key under the
// given prefix. Callers embed every request parameter that affects the
// cached value in the payload so distinct requests never collide.
func HashedKey(prefix, payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return prefix + hex.EncodeToString(sum[:16])
}
