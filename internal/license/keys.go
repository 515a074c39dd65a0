package license

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// MaxKeyLength bounds keys on ingestion and activation alike, so every
// stored key can be activated.
const MaxKeyLength = 256

// NormalizeKey trims surrounding whitespace. Keys are otherwise compared
// byte for byte.
func NormalizeKey(key string) string {
	return strings.TrimSpace(key)
}

// MaskKey renders a key for logs and responses as first4****last4.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// Fingerprint is a stable, non-reversible identifier for correlating a key
// across logs and events.
func Fingerprint(key string) string {
	sum := blake2b.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}
