// Package storage is the pgx-backed persistence layer for the account
// core. The operations the core's invariants lean on (uniqueness,
// single-use token redemption, guarded hash upgrades) are implemented
// here as single atomic statements or transactions.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrDuplicateUsername and ErrDuplicateEmail surface unique
	// constraint violations so the mutation service can report a
	// conflict even when two writers race past the pre-insert check.
	ErrDuplicateUsername = errors.New("username already in use")
	ErrDuplicateEmail    = errors.New("email already in use")

	ErrNotFound = errors.New("not found")
)

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const userColumns = `id, username, full_name, email, twitter_username, biography, password_hash, verified, trusted, admin, created_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.FullName, &u.Email, &u.TwitterUsername, &u.Biography,
		&u.PasswordHash, &u.Verified, &u.Trusted, &u.Admin, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, nu NewUser) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (username, full_name, email, twitter_username, biography, password_hash, verified, trusted, admin, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, false, false, now())
		RETURNING id
	`, nu.Username, nu.FullName, nu.Email, nu.TwitterUsername, nu.Biography, nu.PasswordHash).Scan(&id)
	if err != nil {
		return 0, mapUniqueViolation(err)
	}
	return id, nil
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// UpdateUser applies only the fields present in the update, in one
// statement. Returns ErrNotFound when the user does not exist.
func (s *Store) UpdateUser(ctx context.Context, id int64, upd UserUpdate) error {
	sets := make([]string, 0, 6)
	args := make([]any, 0, 7)

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.Username != nil {
		add("username", *upd.Username)
	}
	if upd.FullName != nil {
		add("full_name", *upd.FullName)
	}
	if upd.Email != nil {
		add("email", *upd.Email)
	}
	if upd.TwitterUsername != nil {
		add("twitter_username", *upd.TwitterUsername)
	}
	if upd.Biography != nil {
		add("biography", *upd.Biography)
	}
	if upd.PasswordHash != nil {
		add("password_hash", *upd.PasswordHash)
	}

	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE users SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return mapUniqueViolation(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SetTrusted(ctx context.Context, id int64, trusted bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET trusted = $2 WHERE id = $1`, id, trusted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpgradePasswordHash rewrites a legacy-scheme credential in place. The
// old hash guards the write so a concurrent password change is never
// clobbered; losing the race is fine, the upgrade just does not happen.
func (s *Store) UpgradePasswordHash(ctx context.Context, id int64, oldHash, newHash string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users SET password_hash = $3
		WHERE id = $1 AND password_hash = $2
	`, id, oldHash, newHash)
	return err
}

func (s *Store) GetClient(ctx context.Context, clientID string) (*OAuthClient, error) {
	var c OAuthClient
	err := s.pool.QueryRow(ctx, `
		SELECT id, secret, name, enabled_password_grant
		FROM oauth_clients
		WHERE id = $1
	`, clientID).Scan(&c.ID, &c.Secret, &c.Name, &c.EnabledPasswordGrant)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateAccessToken(ctx context.Context, at AccessToken) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO oauth_access_tokens (token, user_id, client_id, scopes, created_at, expires_at)
		VALUES ($1, $2, $3, $4, now(), $5)
	`, at.Token, at.UserID, at.ClientID, at.Scopes, at.ExpiresAt)
	return err
}

func (s *Store) GetAccessToken(ctx context.Context, token string) (*AccessToken, error) {
	var at AccessToken
	err := s.pool.QueryRow(ctx, `
		SELECT token, user_id, client_id, scopes, created_at, expires_at, revoked_at
		FROM oauth_access_tokens
		WHERE token = $1
	`, token).Scan(&at.Token, &at.UserID, &at.ClientID, &at.Scopes, &at.CreatedAt, &at.ExpiresAt, &at.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &at, nil
}

func (s *Store) CreateUserToken(ctx context.Context, ut UserToken) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_tokens (token, user_id, purpose, consumed, created_at, expires_at)
		VALUES ($1, $2, $3, false, now(), $4)
	`, ut.Token, ut.UserID, ut.Purpose, ut.ExpiresAt)
	return err
}

// ConsumeEmailVerification redeems an email verification token and
// flips the owner's verified flag in one transaction. The guarded
// UPDATE means two concurrent redemptions of the same token produce
// exactly one success. Returns false on unknown, expired, consumed or
// wrong-purpose tokens, with no side effects.
func (s *Store) ConsumeEmailVerification(ctx context.Context, token string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	userID, ok, err := consumeToken(ctx, tx, token, PurposeEmailVerify)
	if err != nil || !ok {
		return false, err
	}

	if _, err := tx.Exec(ctx, `UPDATE users SET verified = true WHERE id = $1`, userID); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// ConsumePasswordReset redeems a password reset token and overwrites
// the owner's credential in one transaction.
func (s *Store) ConsumePasswordReset(ctx context.Context, token string, newHash string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	userID, ok, err := consumeToken(ctx, tx, token, PurposePasswordReset)
	if err != nil || !ok {
		return false, err
	}

	if _, err := tx.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, userID, newHash); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func consumeToken(ctx context.Context, tx pgx.Tx, token, purpose string) (int64, bool, error) {
	var userID int64
	err := tx.QueryRow(ctx, `
		UPDATE user_tokens SET consumed = true
		WHERE token = $1 AND purpose = $2 AND consumed = false AND expires_at > now()
		RETURNING user_id
	`, token, purpose).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return userID, true, nil
}

// MarkVerified exists for trusted test platforms that register accounts
// without a reachable inbox.
func (s *Store) MarkVerified(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET verified = true WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	switch {
	case strings.Contains(pgErr.ConstraintName, "username"):
		return ErrDuplicateUsername
	case strings.Contains(pgErr.ConstraintName, "email"):
		return ErrDuplicateEmail
	default:
		return err
	}
}

// WaitReady pings the database until it responds or the context ends.
func (s *Store) WaitReady(ctx context.Context) error {
	for {
		if err := s.pool.Ping(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}
