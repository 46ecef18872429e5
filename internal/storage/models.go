package storage

import (
	"time"
)

// Token purposes for single-use user tokens. A token minted for one
// purpose never satisfies a redemption for the other.
const (
	PurposeEmailVerify   = "email_verify"
	PurposePasswordReset = "password_reset"
)

type User struct {
	ID              int64
	Username        string
	FullName        string
	Email           string
	TwitterUsername string
	Biography       string
	PasswordHash    string
	Verified        bool
	Trusted         bool
	Admin           bool
	CreatedAt       time.Time
}

// NewUser carries the already-validated fields for an insert. The
// credential arrives hashed; plaintext never reaches this layer.
type NewUser struct {
	Username        string
	FullName        string
	Email           string
	TwitterUsername string
	Biography       string
	PasswordHash    string
}

// UserUpdate distinguishes omitted fields (nil) from explicitly set
// ones, so a caller can clear a biography without touching the email.
type UserUpdate struct {
	Username        *string
	FullName        *string
	Email           *string
	TwitterUsername *string
	Biography       *string
	PasswordHash    *string
}

type OAuthClient struct {
	ID                   string
	Secret               string
	Name                 string
	EnabledPasswordGrant bool
}

type AccessToken struct {
	Token     string
	UserID    int64
	ClientID  string
	Scopes    []string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// UserToken is a single-use verification secret (email verification or
// password reset).
type UserToken struct {
	Token     string
	UserID    int64
	Purpose   string
	Consumed  bool
	CreatedAt time.Time
	ExpiresAt time.Time
}
