// Package authn implements the Authentication component (module D):
// password hashing, bearer/API-key/basic credential verification. The
// bcrypt path is carried over from the teacher's pkg/auth/user.go; the
// Argon2id path is new, since new hashes must be Argon2id while bcrypt
// hashes already on existing user records keep verifying (spec.md §9 note
// 4). Selection is by PHC prefix: "$argon2" vs. anything else (bcrypt's own
// "$2a$"/"$2b$" prefix).
package authn

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	bcryptCost = 14

	argon2Time    = 1
	argon2Memory  = 64 * 1024 // KiB
	argon2Threads = 4
	argon2KeyLen  = 32
	argon2SaltLen = 16
)

// HashPassword produces a new Argon2id PHC-formatted hash, per §9 note 4
// ("new hashes must be Argon2id").
func HashPassword(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("authn: generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return encodePHC(salt, key), nil
}

// CheckPassword verifies a plaintext password against either hash format,
// selecting the verifier by PHC prefix.
func CheckPassword(password, hash string) bool {
	if strings.HasPrefix(hash, "$argon2") {
		return checkArgon2(password, hash)
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// encodePHC renders an Argon2id hash in the standard PHC string format:
// $argon2id$v=19$m=<mem>,t=<time>,p=<threads>$<salt>$<hash>
func encodePHC(salt, key []byte) string {
	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argon2Memory, argon2Time, argon2Threads,
		b64.EncodeToString(salt), b64.EncodeToString(key))
}

func checkArgon2(password, hash string) bool {
	parts := strings.Split(hash, "$")
	// ["", "argon2id", "v=19", "m=..,t=..,p=..", "<salt>", "<hash>"]
	if len(parts) != 6 {
		return false
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false
	}
	var mem, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &time, &threads); err != nil {
		return false
	}
	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := b64.DecodeString(parts[5])
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, time, mem, uint8(threads), uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

// legacyBcryptHash exists only to ground a test fixture representing an
// existing user record hashed before the Argon2id migration.
func legacyBcryptHash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	return string(b), err
}
