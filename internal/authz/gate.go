// Package authz answers the capability questions that gate every
// privileged mutation. All checks are read-only queries over current
// state; callers translate a false answer into a forbidden error.
package authz

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/paulinevos/joindin-api/internal/storage"
)

type Store interface {
	GetUserByID(ctx context.Context, id int64) (*storage.User, error)
	GetClient(ctx context.Context, clientID string) (*storage.OAuthClient, error)
}

type Gate struct {
	store Store
}

func New(store Store) *Gate {
	return &Gate{store: store}
}

func (g *Gate) IsSiteAdmin(ctx context.Context, accountID int64) (bool, error) {
	user, err := g.store.GetUserByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("admin check: %w", err)
	}
	return user.Admin, nil
}

// IsSelfOrAdmin reports whether caller may edit target's account.
// Callers always may edit their own; admins may edit anyone's.
func (g *Gate) IsSelfOrAdmin(ctx context.Context, callerID, targetID int64) (bool, error) {
	if callerID == targetID {
		return true, nil
	}
	return g.IsSiteAdmin(ctx, callerID)
}

// ClientPermittedPasswordGrant reports whether the client is flagged
// for the password grant. Unknown clients are simply not permitted.
func (g *Gate) ClientPermittedPasswordGrant(ctx context.Context, clientID string) (bool, error) {
	client, err := g.store.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("client check: %w", err)
	}
	return client.EnabledPasswordGrant, nil
}

// ClientPermittedPasswordGrantWithSecret is the secret-checked variant
// used by write operations that carry raw client credentials.
func (g *Gate) ClientPermittedPasswordGrantWithSecret(ctx context.Context, clientID, clientSecret string) (bool, error) {
	client, err := g.store.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("client check: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(client.Secret), []byte(clientSecret)) != 1 {
		return false, nil
	}
	return client.EnabledPasswordGrant, nil
}
