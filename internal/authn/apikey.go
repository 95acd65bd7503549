package authn

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// APIKeyPrefix is the plaintext prefix identifying an API key as opposed to
// a bearer JWT or a user password, confirmed by the original Rust
// generate_api_key/extract_user_id_dual_auth ("ak_" + 32 url-safe chars).
const APIKeyPrefix = "ak_"

// GenerateAPIKey returns a new plaintext key. The caller persists only its
// hash (HashAPIKey); the plaintext surfaces in this one response and never
// again, per §3 invariant 4.
func GenerateAPIKey() (string, error) {
	raw := make([]byte, 24) // base64-url-encodes to 32 chars
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return APIKeyPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashAPIKey returns the SHA-256 hex digest stored at rest.
func HashAPIKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// IsAPIKey reports whether a credential string looks like an API key
// (as opposed to a signed bearer token or a plain password), used by the
// dual-auth extraction in §4.D.
func IsAPIKey(credential string) bool {
	return strings.HasPrefix(credential, APIKeyPrefix)
}
