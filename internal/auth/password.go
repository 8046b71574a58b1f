// Package auth provides password hashing utilities.
//
// Passwords are stretched with scrypt, a memory-hard key-derivation function.
// Each hash uses a fresh 16-byte random salt and derives a 64-byte key.
//
// Stored form:
//
//	hex(derivedKey) + "." + hex(salt)
//	 128 hex chars        32 hex chars
//
// The scrypt cost parameters are fixed by the service, not stored, so every
// hash produced by one deployment is verified with the same parameters.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	saltLength   = 16
	keyLength    = 64
	hashSep      = "."
	defaultCostN = 1 << 15 // 32768
	scryptR      = 8
	scryptP      = 1
)

// PasswordService provides scrypt hashing and verification.
//
// It's a struct (not free functions) so that the CPU/memory cost can be
// lowered in tests.
type PasswordService struct {
	n int
}

// NewPasswordService creates a PasswordService with the production cost.
func NewPasswordService() *PasswordService {
	return &PasswordService{n: defaultCostN}
}

// NewPasswordServiceForTest creates a PasswordService with a custom scrypt N.
// n must be a power of two greater than 1.
//
// Do NOT use in production.
func NewPasswordServiceForTest(n int) *PasswordService {
	return &PasswordService{n: n}
}

// Hash derives a key from plaintext with a new random salt and returns the
// stored form. The plaintext is never logged or returned.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generating salt: %w", err)
	}

	key, err := scrypt.Key([]byte(plaintext), salt, p.n, scryptR, scryptP, keyLength)
	if err != nil {
		return "", fmt.Errorf("auth: deriving key: %w", err)
	}

	return hex.EncodeToString(key) + hashSep + hex.EncodeToString(salt), nil
}

// Verify reports whether plaintext matches the stored form.
//
// It fails closed: a stored form that cannot be parsed, has the wrong key or
// salt length, or fails to derive, all return false without saying why.
// The comparison is constant-time.
func (p *PasswordService) Verify(stored, plaintext string) bool {
	keyHex, saltHex, ok := strings.Cut(stored, hashSep)
	if !ok {
		return false
	}

	want, err := hex.DecodeString(keyHex)
	if err != nil || len(want) != keyLength {
		return false
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil || len(salt) < saltLength {
		return false
	}

	got, err := scrypt.Key([]byte(plaintext), salt, p.n, scryptR, scryptP, keyLength)
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare(got, want) == 1
}
