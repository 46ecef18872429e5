// Package account orchestrates every mutation of an account: creation,
// profile edits, deletion and trust changes. It consults the
// authorization gate before any privileged write and aggregates
// validation problems so callers can fix everything in one round trip.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/paulinevos/joindin-api/internal/apierr"
	"github.com/paulinevos/joindin-api/internal/security"
	"github.com/paulinevos/joindin-api/internal/storage"
)

type Store interface {
	CreateUser(ctx context.Context, nu storage.NewUser) (int64, error)
	GetUserByID(ctx context.Context, id int64) (*storage.User, error)
	GetUserByUsername(ctx context.Context, username string) (*storage.User, error)
	GetUserByEmail(ctx context.Context, email string) (*storage.User, error)
	UpdateUser(ctx context.Context, id int64, upd storage.UserUpdate) error
	DeleteUser(ctx context.Context, id int64) error
	SetTrusted(ctx context.Context, id int64, trusted bool) error
	MarkVerified(ctx context.Context, id int64) error
}

type Gate interface {
	IsSiteAdmin(ctx context.Context, accountID int64) (bool, error)
	IsSelfOrAdmin(ctx context.Context, callerID, targetID int64) (bool, error)
	ClientPermittedPasswordGrant(ctx context.Context, clientID string) (bool, error)
}

// Reverifier re-checks an authenticated caller's current password
// before a destructive self-service change goes through.
type Reverifier interface {
	ReverifyPassword(ctx context.Context, accountID int64, password string) (bool, error)
}

type VerificationIssuer interface {
	IssueEmailVerification(ctx context.Context, accountID int64) (string, error)
	IssuePasswordReset(ctx context.Context, accountID int64) (string, error)
}

// Mailer delivers account emails. Delivery failures never fail the
// mutation that triggered them.
type Mailer interface {
	SendEmailVerification(ctx context.Context, email, token string) error
	SendPasswordReset(ctx context.Context, email, token string) error
}

// Caller identifies the authenticated principal behind a mutation: the
// account acting and the OAuth client it came through.
type Caller struct {
	UserID   int64
	ClientID string
}

type Service struct {
	Store      Store
	Gate       Gate
	Reverify   Reverifier
	Tokens     VerificationIssuer
	Mailer     Mailer
	Logger     *slog.Logger
	BcryptCost int

	// AutoVerifyEnabled lets test platforms register pre-verified
	// accounts without a reachable inbox.
	AutoVerifyEnabled bool
}

func NewService(store Store, gate Gate, reverify Reverifier, tokens VerificationIssuer, mailer Mailer, logger *slog.Logger, bcryptCost int) *Service {
	return &Service{
		Store:      store,
		Gate:       gate,
		Reverify:   reverify,
		Tokens:     tokens,
		Mailer:     mailer,
		Logger:     logger,
		BcryptCost: bcryptCost,
	}
}

type CreateRequest struct {
	Username        string
	FullName        string
	Email           string
	Password        string
	TwitterUsername string
	Biography       string
	AutoVerify      bool
}

// UpdateRequest distinguishes omitted fields (nil) from explicitly set
// ones. OldPassword is required only when Password is set.
type UpdateRequest struct {
	Username        *string
	FullName        *string
	Email           *string
	Password        *string
	OldPassword     *string
	TwitterUsername *string
	Biography       *string
}

// TrustedRequest carries the requested trusted state. Trusted is nil
// when the field was absent; Malformed is set when the field was
// present but not a genuine JSON boolean.
type TrustedRequest struct {
	Trusted   *bool
	Malformed bool
}

// problemList collects validation and conflict findings for one
// operation. Conflicts decide the error kind; the message always
// aggregates everything found.
type problemList struct {
	problems []string
	conflict bool
}

func (p *problemList) add(problem string) {
	p.problems = append(p.problems, problem)
}

func (p *problemList) addConflict(problem string) {
	p.problems = append(p.problems, problem)
	p.conflict = true
}

func (p *problemList) err() error {
	if len(p.problems) == 0 {
		return nil
	}
	kind := apierr.KindValidation
	if p.conflict {
		kind = apierr.KindConflict
	}
	return apierr.New(kind, strings.Join(p.problems, ". "))
}

// Create registers a new, unverified account and triggers the email
// verification flow. Every validation problem is reported in one pass;
// nothing is written until all checks hold.
func (s *Service) Create(ctx context.Context, req CreateRequest) (int64, error) {
	var found problemList

	username := strings.TrimSpace(req.Username)
	if username == "" {
		found.add("'username' is a required field")
	} else if taken, err := s.usernameTaken(ctx, username, 0); err != nil {
		return 0, apierr.Internal("username lookup failed", err)
	} else if taken {
		found.addConflict("That username is already in use. Choose another")
	}

	fullName := strings.TrimSpace(req.FullName)
	if fullName == "" {
		found.add("'full_name' is a required field")
	}

	email := strings.TrimSpace(req.Email)
	if !validEmail(email) {
		found.add("A valid entry for 'email' is required")
	} else if taken, err := s.emailTaken(ctx, email, 0); err != nil {
		return 0, apierr.Internal("email lookup failed", err)
	} else if taken {
		found.addConflict("That email is already associated with another account")
	}

	if req.Password == "" {
		found.add("'password' is a required field")
	} else {
		for _, problem := range security.CheckPasswordPolicy(req.Password) {
			found.add(problem)
		}
	}

	if err := found.err(); err != nil {
		return 0, err
	}

	hash, err := security.HashPassword(req.Password, s.BcryptCost)
	if err != nil {
		return 0, apierr.Internal("hash password failed", err)
	}

	id, err := s.Store.CreateUser(ctx, storage.NewUser{
		Username:        username,
		FullName:        fullName,
		Email:           email,
		TwitterUsername: strings.TrimSpace(req.TwitterUsername),
		Biography:       strings.TrimSpace(req.Biography),
		PasswordHash:    hash,
	})
	if err != nil {
		// the pre-insert checks raced a concurrent registration
		switch {
		case errors.Is(err, storage.ErrDuplicateUsername):
			return 0, apierr.New(apierr.KindConflict, "That username is already in use. Choose another")
		case errors.Is(err, storage.ErrDuplicateEmail):
			return 0, apierr.New(apierr.KindConflict, "That email is already associated with another account")
		}
		return 0, apierr.Internal("user insert failed", err)
	}

	if s.AutoVerifyEnabled && req.AutoVerify {
		if err := s.Store.MarkVerified(ctx, id); err != nil {
			s.Logger.Error("auto-verify failed", "user_id", id, "error", err)
		}
	}

	tok, err := s.Tokens.IssueEmailVerification(ctx, id)
	if err != nil {
		s.Logger.Error("verification token issue failed", "user_id", id, "error", err)
		return id, nil
	}
	if err := s.Mailer.SendEmailVerification(ctx, email, tok); err != nil {
		s.Logger.Error("verification email failed", "user_id", id, "error", err)
	}

	return id, nil
}

// Update edits an account. Authorization (self-or-admin plus client
// trust) is settled before any field is validated, so an unauthorized
// caller learns nothing about their submitted data. A password change
// additionally requires reverifying the target account's old password,
// so even an admin cannot replace a credential they do not know.
func (s *Service) Update(ctx context.Context, caller Caller, targetID int64, req UpdateRequest) error {
	allowed, err := s.Gate.IsSelfOrAdmin(ctx, caller.UserID, targetID)
	if err != nil {
		return apierr.Internal("authorization check failed", err)
	}
	if !allowed {
		return apierr.Forbidden("You do not have permission to update this user")
	}

	permitted, err := s.Gate.ClientPermittedPasswordGrant(ctx, caller.ClientID)
	if err != nil {
		return apierr.Internal("client check failed", err)
	}
	if !permitted {
		return apierr.Forbidden("This client does not have permission to perform this operation")
	}

	if _, err := s.Store.GetUserByID(ctx, targetID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apierr.NotFound("User not found")
		}
		return apierr.Internal("user lookup failed", err)
	}

	var found problemList
	var upd storage.UserUpdate

	if req.Password != nil {
		if req.OldPassword == nil || *req.OldPassword == "" {
			return apierr.New(apierr.KindValidation, `The field "old_password" is needed to update a user password`)
		}
		ok, err := s.Reverify.ReverifyPassword(ctx, targetID, *req.OldPassword)
		if err != nil {
			return apierr.Internal("password reverification failed", err)
		}
		if !ok {
			return apierr.Forbidden("The credentials could not be verified")
		}
		if problems := security.CheckPasswordPolicy(*req.Password); len(problems) > 0 {
			for _, problem := range problems {
				found.add(problem)
			}
		} else {
			hash, err := security.HashPassword(*req.Password, s.BcryptCost)
			if err != nil {
				return apierr.Internal("hash password failed", err)
			}
			upd.PasswordHash = &hash
		}
	}

	if req.FullName != nil {
		fullName := strings.TrimSpace(*req.FullName)
		if fullName == "" {
			found.add("'full_name' is a required field")
		} else {
			upd.FullName = &fullName
		}
	}

	if req.Email != nil {
		email := strings.TrimSpace(*req.Email)
		if !validEmail(email) {
			found.add("A valid entry for 'email' is required")
		} else if taken, err := s.emailTaken(ctx, email, targetID); err != nil {
			return apierr.Internal("email lookup failed", err)
		} else if taken {
			found.addConflict("That email is already associated with another account")
		} else {
			upd.Email = &email
		}
	}

	if req.Username != nil {
		username := strings.TrimSpace(*req.Username)
		if username == "" {
			found.add("'username' is a required field")
		} else if taken, err := s.usernameTaken(ctx, username, targetID); err != nil {
			return apierr.Internal("username lookup failed", err)
		} else if taken {
			found.addConflict("That username is already associated with another account")
		} else {
			upd.Username = &username
		}
	}

	if req.TwitterUsername != nil {
		twitter := strings.TrimSpace(*req.TwitterUsername)
		upd.TwitterUsername = &twitter
	}
	if req.Biography != nil {
		bio := strings.TrimSpace(*req.Biography)
		upd.Biography = &bio
	}

	if err := found.err(); err != nil {
		return err
	}

	if err := s.Store.UpdateUser(ctx, targetID, upd); err != nil {
		switch {
		case errors.Is(err, storage.ErrDuplicateUsername):
			return apierr.New(apierr.KindConflict, "That username is already associated with another account")
		case errors.Is(err, storage.ErrDuplicateEmail):
			return apierr.New(apierr.KindConflict, "That email is already associated with another account")
		case errors.Is(err, storage.ErrNotFound):
			return apierr.NotFound("User not found")
		}
		return apierr.Internal("user update failed", err)
	}
	return nil
}

// Delete removes an account permanently. Site admins only.
func (s *Service) Delete(ctx context.Context, caller Caller, targetID int64) error {
	isAdmin, err := s.Gate.IsSiteAdmin(ctx, caller.UserID)
	if err != nil {
		return apierr.Internal("authorization check failed", err)
	}
	if !isAdmin {
		return apierr.Forbidden("You do not have permission to do that")
	}

	if err := s.Store.DeleteUser(ctx, targetID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apierr.NotFound("User not found")
		}
		return apierr.Internal("There was a problem trying to delete the user", err)
	}
	return nil
}

// SetTrusted flips the trusted flag on an account. The admin check runs
// before the value is even inspected, so a non-admin's malformed input
// still reads as forbidden, not invalid.
func (s *Service) SetTrusted(ctx context.Context, caller Caller, targetID int64, req TrustedRequest) error {
	isAdmin, err := s.Gate.IsSiteAdmin(ctx, caller.UserID)
	if err != nil {
		return apierr.Internal("authorization check failed", err)
	}
	if !isAdmin {
		return apierr.Forbidden("You must be an admin to change a user's trusted state")
	}

	if req.Malformed || req.Trusted == nil {
		return apierr.New(apierr.KindValidation, "You must provide a trusted state")
	}

	if err := s.Store.SetTrusted(ctx, targetID, *req.Trusted); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apierr.NotFound("User not found")
		}
		return apierr.Internal("Unable to update status", err)
	}
	return nil
}

// RequestPasswordReset starts the forgot-password flow for the account
// owning the username, minting a reset token and emailing it.
func (s *Service) RequestPasswordReset(ctx context.Context, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return apierr.New(apierr.KindValidation, "'username' is a required field")
	}

	user, err := s.Store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apierr.NotFound("Can't find that user")
		}
		return apierr.Internal("user lookup failed", err)
	}

	tok, err := s.Tokens.IssuePasswordReset(ctx, user.ID)
	if err != nil {
		return apierr.Internal("reset token issue failed", err)
	}
	if err := s.Mailer.SendPasswordReset(ctx, user.Email, tok); err != nil {
		return apierr.Internal("reset email failed", err)
	}
	return nil
}

// Get returns the account for a caller-facing view.
func (s *Service) Get(ctx context.Context, id int64) (*storage.User, error) {
	user, err := s.Store.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apierr.NotFound("User not found")
		}
		return nil, apierr.Internal("user lookup failed", err)
	}
	return user, nil
}

// GetByUsername resolves a username for a caller-facing view.
func (s *Service) GetByUsername(ctx context.Context, username string) (*storage.User, error) {
	user, err := s.Store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apierr.NotFound("Username not found")
		}
		return nil, apierr.Internal("user lookup failed", err)
	}
	return user, nil
}

// usernameTaken reports whether another account already holds the
// username. selfID exempts the account being edited from matching
// itself.
func (s *Service) usernameTaken(ctx context.Context, username string, selfID int64) (bool, error) {
	existing, err := s.Store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("username lookup: %w", err)
	}
	return existing.ID != selfID, nil
}

func (s *Service) emailTaken(ctx context.Context, email string, selfID int64) (bool, error) {
	existing, err := s.Store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("email lookup: %w", err)
	}
	return existing.ID != selfID, nil
}

func validEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
