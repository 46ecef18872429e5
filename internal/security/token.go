package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// TokenGenerator mints opaque secrets: access tokens and single-use
// verification tokens. Pluggable so tests can supply deterministic values.
type TokenGenerator interface {
	New() (string, error)
}

type DefaultTokenGenerator struct{}

func (DefaultTokenGenerator) New() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
