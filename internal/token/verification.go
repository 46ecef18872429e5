package token

import (
	"context"
	"time"

	"github.com/paulinevos/joindin-api/internal/apierr"
	"github.com/paulinevos/joindin-api/internal/security"
	"github.com/paulinevos/joindin-api/internal/storage"
)

type VerificationStore interface {
	CreateUserToken(ctx context.Context, ut storage.UserToken) error
	ConsumeEmailVerification(ctx context.Context, token string) (bool, error)
	ConsumePasswordReset(ctx context.Context, token string, newHash string) (bool, error)
}

// VerificationManager issues and redeems the single-use tokens proving
// control of an account's registered email address.
type VerificationManager struct {
	Store      VerificationStore
	TokenGen   security.TokenGenerator
	Clock      Clock
	EmailTTL   time.Duration
	ResetTTL   time.Duration
	BcryptCost int
}

func NewVerificationManager(store VerificationStore, emailTTL, resetTTL time.Duration, bcryptCost int) *VerificationManager {
	return &VerificationManager{
		Store:      store,
		TokenGen:   security.DefaultTokenGenerator{},
		Clock:      systemClock{},
		EmailTTL:   emailTTL,
		ResetTTL:   resetTTL,
		BcryptCost: bcryptCost,
	}
}

func (m *VerificationManager) IssueEmailVerification(ctx context.Context, accountID int64) (string, error) {
	return m.issue(ctx, accountID, storage.PurposeEmailVerify, m.EmailTTL)
}

func (m *VerificationManager) IssuePasswordReset(ctx context.Context, accountID int64) (string, error) {
	return m.issue(ctx, accountID, storage.PurposePasswordReset, m.ResetTTL)
}

func (m *VerificationManager) issue(ctx context.Context, accountID int64, purpose string, ttl time.Duration) (string, error) {
	tok, err := m.TokenGen.New()
	if err != nil {
		return "", apierr.Internal("token generation failed", err)
	}

	err = m.Store.CreateUserToken(ctx, storage.UserToken{
		Token:     tok,
		UserID:    accountID,
		Purpose:   purpose,
		ExpiresAt: m.Clock.Now().Add(ttl),
	})
	if err != nil {
		return "", apierr.Internal("token insert failed", err)
	}
	return tok, nil
}

// RedeemEmailVerification consumes an email verification token and
// marks the owning account verified. Unknown, expired, consumed and
// wrong-purpose tokens all fail identically, with no side effects.
func (m *VerificationManager) RedeemEmailVerification(ctx context.Context, tok string) error {
	ok, err := m.Store.ConsumeEmailVerification(ctx, tok)
	if err != nil {
		return apierr.Internal("verification failed", err)
	}
	if !ok {
		return apierr.New(apierr.KindValidation, "Verification failed")
	}
	return nil
}

// RedeemPasswordReset checks the replacement password against policy,
// then consumes the token and overwrites the account credential in one
// atomic step.
func (m *VerificationManager) RedeemPasswordReset(ctx context.Context, tok string, newPassword string) error {
	if problems := security.CheckPasswordPolicy(newPassword); len(problems) > 0 {
		return apierr.Validation(problems)
	}

	newHash, err := security.HashPassword(newPassword, m.BcryptCost)
	if err != nil {
		return apierr.Internal("hash password failed", err)
	}

	ok, err := m.Store.ConsumePasswordReset(ctx, tok, newHash)
	if err != nil {
		return apierr.Internal("password reset failed", err)
	}
	if !ok {
		return apierr.New(apierr.KindValidation, "Password could not be reset")
	}
	return nil
}
