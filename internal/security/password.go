package security

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MinPasswordLength is the floor for newly chosen passwords. Stored
	// credentials predating the policy still verify.
	MinPasswordLength = 8

	DefaultBcryptCost = bcrypt.DefaultCost

	legacyDigestLength = 32
)

// LegacyDigest computes the original fast, unsalted digest. It survives
// only as the inner layer of the current scheme and for verifying
// accounts that were never migrated.
func LegacyDigest(password string) string {
	sum := md5.Sum([]byte(password))
	return hex.EncodeToString(sum[:])
}

// HashPassword produces a credential in the current scheme: the slow,
// salted digest applied on top of the legacy digest. Layering keeps
// previously issued legacy hashes verifiable without a forced reset.
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(LegacyDigest(password)), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword checks a presented password against a stored credential
// in either encoding. needsUpgrade reports that the credential matched
// but is still stored in the legacy scheme and should be rewritten.
func VerifyPassword(stored, presented string) (match bool, needsUpgrade bool) {
	digest := LegacyDigest(presented)

	if isLegacyHash(stored) {
		ok := subtle.ConstantTimeCompare([]byte(strings.ToLower(stored)), []byte(digest)) == 1
		return ok, ok
	}

	err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(digest))
	return err == nil, false
}

func isLegacyHash(stored string) bool {
	if len(stored) != legacyDigestLength {
		return false
	}
	for _, r := range stored {
		if !isHexDigit(r) {
			return false
		}
	}
	return true
}

func isHexDigit(r rune) bool {
	switch {
	case r >= '0' && r <= '9':
		return true
	case r >= 'a' && r <= 'f':
		return true
	case r >= 'A' && r <= 'F':
		return true
	}
	return false
}

// CheckPasswordPolicy returns every rule the candidate password violates,
// phrased for the end user. An empty slice means the password is
// acceptable.
func CheckPasswordPolicy(password string) []string {
	var problems []string

	if len(password) < MinPasswordLength {
		problems = append(problems, fmt.Sprintf("Passwords must be at least %d characters long", MinPasswordLength))
	}

	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter {
		problems = append(problems, "Passwords must contain at least one letter")
	}
	if !hasDigit {
		problems = append(problems, "Passwords must contain at least one number")
	}

	return problems
}
