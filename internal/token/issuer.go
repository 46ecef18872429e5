// Package token owns the two token lifecycles of the core: OAuth
// access tokens minted through the password grant, and single-use
// verification tokens for email confirmation and password reset.
package token

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulinevos/joindin-api/internal/apierr"
	"github.com/paulinevos/joindin-api/internal/security"
	"github.com/paulinevos/joindin-api/internal/storage"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type IssuerStore interface {
	GetClient(ctx context.Context, clientID string) (*storage.OAuthClient, error)
	GetUserByUsername(ctx context.Context, username string) (*storage.User, error)
	GetUserByID(ctx context.Context, id int64) (*storage.User, error)
	CreateAccessToken(ctx context.Context, at storage.AccessToken) error
	UpgradePasswordHash(ctx context.Context, id int64, oldHash, newHash string) error
}

type Issuer struct {
	Store      IssuerStore
	Logger     *slog.Logger
	TokenGen   security.TokenGenerator
	Clock      Clock
	AccessTTL  time.Duration
	BcryptCost int
	BaseURL    string
}

func NewIssuer(store IssuerStore, logger *slog.Logger, accessTTL time.Duration, bcryptCost int, baseURL string) *Issuer {
	return &Issuer{
		Store:      store,
		Logger:     logger,
		TokenGen:   security.DefaultTokenGenerator{},
		Clock:      systemClock{},
		AccessTTL:  accessTTL,
		BcryptCost: bcryptCost,
		BaseURL:    baseURL,
	}
}

// Grant is the success payload of a password-grant exchange.
type Grant struct {
	AccessToken string
	UserID      int64
	UserURI     string
}

const invalidCredentials = "The credentials could not be verified"

// IssueFromPasswordGrant exchanges a username and password for an
// access token bound to the client and account. Unknown usernames and
// wrong passwords are indistinguishable in the result; only a correct
// password on an unverified account earns the more specific answer.
func (i *Issuer) IssueFromPasswordGrant(ctx context.Context, clientID, clientSecret, username, password string) (*Grant, error) {
	client, err := i.Store.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apierr.Forbidden("This client cannot authenticate using the password grant type")
		}
		return nil, apierr.Internal("client lookup failed", err)
	}
	if subtle.ConstantTimeCompare([]byte(client.Secret), []byte(clientSecret)) != 1 || !client.EnabledPasswordGrant {
		return nil, apierr.Forbidden("This client cannot authenticate using the password grant type")
	}

	user, err := i.Store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apierr.Unauthenticated(invalidCredentials)
		}
		return nil, apierr.Internal("user lookup failed", err)
	}

	match, needsUpgrade := security.VerifyPassword(user.PasswordHash, password)
	if !match {
		return nil, apierr.Unauthenticated(invalidCredentials)
	}
	if needsUpgrade {
		i.upgradeHash(ctx, user, password)
	}

	if !user.Verified {
		return nil, apierr.New(apierr.KindNotVerified, "Not verified")
	}

	tok, err := i.TokenGen.New()
	if err != nil {
		return nil, apierr.Internal("token generation failed", err)
	}

	now := i.Clock.Now()
	err = i.Store.CreateAccessToken(ctx, storage.AccessToken{
		Token:     tok,
		UserID:    user.ID,
		ClientID:  client.ID,
		Scopes:    []string{"user"},
		ExpiresAt: now.Add(i.AccessTTL),
	})
	if err != nil {
		return nil, apierr.Internal("token insert failed", err)
	}

	return &Grant{
		AccessToken: tok,
		UserID:      user.ID,
		UserURI:     fmt.Sprintf("%s/v2.1/users/%d", i.BaseURL, user.ID),
	}, nil
}

// ReverifyPassword re-checks an account's current credential before a
// destructive change to that account goes through. Client grant
// permission is not re-checked here.
func (i *Issuer) ReverifyPassword(ctx context.Context, accountID int64, password string) (bool, error) {
	user, err := i.Store.GetUserByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("user lookup: %w", err)
	}

	match, needsUpgrade := security.VerifyPassword(user.PasswordHash, password)
	if match && needsUpgrade {
		i.upgradeHash(ctx, user, password)
	}
	return match, nil
}

// upgradeHash transparently migrates a legacy credential to the current
// scheme after a successful verification. Failure is logged and
// swallowed; the login itself already succeeded.
func (i *Issuer) upgradeHash(ctx context.Context, user *storage.User, password string) {
	newHash, err := security.HashPassword(password, i.BcryptCost)
	if err != nil {
		i.Logger.Error("hash upgrade failed", "user_id", user.ID, "error", err)
		return
	}
	if err := i.Store.UpgradePasswordHash(ctx, user.ID, user.PasswordHash, newHash); err != nil {
		i.Logger.Error("hash upgrade write failed", "user_id", user.ID, "error", err)
	}
}
