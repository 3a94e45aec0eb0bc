package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// MinPasswordLen is the shortest accepted password, in bytes.
const MinPasswordLen = 8

const (
	pbkdf2Rounds = 200_000
	pbkdf2KeyLen = 32
	passwordSalt = 16
)

// UnknownUserHash and UnknownUserSalt stand in for the credentials of an
// account that does not exist. Verifying against them costs the same key
// derivation as a real account and never succeeds.
var (
	UnknownUserHash = strings.Repeat("00", pbkdf2KeyLen)
	UnknownUserSalt = strings.Repeat("00", passwordSalt)
)

// HashPassword derives a PBKDF2-SHA256 hash with a fresh random salt. Both
// values are hex encoded.
func HashPassword(password string) (hashHex, saltHex string, err error) {
	if len(password) < MinPasswordLen {
		return "", "", fmt.Errorf("password must be at least %d characters", MinPasswordLen)
	}
	salt := make([]byte, passwordSalt)
	if _, err := rand.Read(salt); err != nil {
		return "", "", fmt.Errorf("generate salt: %w", err)
	}
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Rounds, pbkdf2KeyLen, sha256.New)
	return hex.EncodeToString(key), hex.EncodeToString(salt), nil
}

// VerifyPassword compares password against a stored hash in constant time.
func VerifyPassword(password, hashHex, saltHex string) bool {
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(hashHex)
	if err != nil || len(want) == 0 {
		return false
	}
	got := pbkdf2.Key([]byte(password), salt, pbkdf2Rounds, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}
