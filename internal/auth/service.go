package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/condogate/condogate/internal/authz"
	"github.com/condogate/condogate/internal/shared"
)

// Repository is the persistence surface the service needs.
type Repository interface {
	FindByUsername(ctx context.Context, username string) (*authz.Actor, string, error)
	FindByEmail(ctx context.Context, email string) (*authz.Actor, error)
	FindActor(ctx context.Context, id int64) (*authz.Actor, error)
	UpdateLastAccess(ctx context.Context, id int64, at time.Time) error
	UpdatePassword(ctx context.Context, id int64, hash string) error
	UpdateProfile(ctx context.Context, id int64, upd ProfileUpdate) error
	MarkEmailVerified(ctx context.Context, id int64) error
	CreateUser(ctx context.Context, u NewUser) (*authz.Actor, error)
	Dashboard(ctx context.Context) (DashboardStats, error)
}

// Mailer delivers account emails out of band. A nil mailer drops the
// message; the flows themselves still succeed.
type Mailer interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// DefaultClientRole is the role bound to self-registered accounts.
const DefaultClientRole = "Cliente"

const (
	resetTokenTTL  = time.Hour
	verifyTokenTTL = 24 * time.Hour
)

// Service implements the credential and token lifecycle.
type Service struct {
	logger *slog.Logger
	repo   Repository
	tokens *TokenService
	mail   Mailer
	now    func() time.Time
}

// NewService builds Service instance. The mailer may be nil.
func NewService(logger *slog.Logger, repo Repository, tokens *TokenService, mail Mailer) *Service {
	return &Service{logger: logger, repo: repo, tokens: tokens, mail: mail, now: time.Now}
}

// Authenticate verifies credentials for the given flow and issues a
// token pair. The admin flow requires an administrative role or
// superuser; the client flow rejects administrative accounts.
func (s *Service) Authenticate(ctx context.Context, kind LoginKind, username, password string) (*authz.Actor, TokenPair, error) {
	actor, hash, err := s.repo.FindByUsername(ctx, username)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, TokenPair{}, shared.ErrInvalidCredentials
	}
	if err != nil {
		return nil, TokenPair{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, TokenPair{}, shared.ErrInvalidCredentials
	}
	if !actor.Active {
		return nil, TokenPair{}, shared.ErrInactiveUser
	}
	switch kind {
	case LoginAdmin:
		if !actor.Superuser && !actor.Administrative() {
			return nil, TokenPair{}, shared.ErrPermissionDenied
		}
	case LoginClient:
		if actor.Administrative() && !actor.Superuser {
			return nil, TokenPair{}, shared.ErrPermissionDenied
		}
	}
	pair, err := s.tokens.IssuePair(actor.ID)
	if err != nil {
		return nil, TokenPair{}, err
	}
	now := s.now().UTC()
	if err := s.repo.UpdateLastAccess(ctx, actor.ID, now); err != nil {
		s.logger.Warn("last access update failed", slog.Int64("user_id", actor.ID), slog.Any("error", err))
	} else {
		actor.LastAccess = &now
	}
	s.logger.Info("login", slog.Int64("user_id", actor.ID), slog.String("tipo", string(kind)))
	return actor, pair, nil
}

// Refresh exchanges a valid refresh token for a new access token.
func (s *Service) Refresh(ctx context.Context, refresh string) (string, error) {
	return s.tokens.RefreshAccess(ctx, refresh)
}

// Logout revokes the refresh token. The caller discards its local
// copy regardless of the outcome here.
func (s *Service) Logout(ctx context.Context, refresh string) error {
	return s.tokens.Revoke(ctx, refresh)
}

// Register creates an account. An empty role name falls back to the
// default client role.
func (s *Service) Register(ctx context.Context, u NewUser, password string) (*authz.Actor, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u.Hash = string(hash)
	if u.RoleName == "" {
		u.RoleName = DefaultClientRole
	}
	actor, err := s.repo.CreateUser(ctx, u)
	if err != nil {
		return nil, err
	}
	if token, err := s.tokens.IssueActionToken(actor.ID, tokenTypeVerify, verifyTokenTTL); err == nil {
		s.sendMail(ctx, actor.Email, "Verifica tu correo",
			"Código de verificación: "+token)
	} else {
		s.logger.Warn("verification token issue failed", slog.Int64("user_id", actor.ID), slog.Any("error", err))
	}
	s.logger.Info("user registered", slog.Int64("user_id", actor.ID), slog.String("rol", u.RoleName))
	return actor, nil
}

// RequestPasswordReset emails a single-use reset token. Unknown or
// inactive addresses are silently accepted so the endpoint never
// leaks which emails have accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	actor, err := s.repo.FindByEmail(ctx, email)
	if errors.Is(err, shared.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !actor.Active {
		return nil
	}
	token, err := s.tokens.IssueActionToken(actor.ID, tokenTypeReset, resetTokenTTL)
	if err != nil {
		return err
	}
	s.sendMail(ctx, actor.Email, "Recuperación de contraseña",
		"Utiliza este código para restablecer tu contraseña: "+token)
	s.logger.Info("password reset requested", slog.Int64("user_id", actor.ID))
	return nil
}

// ResetPassword consumes a reset token and stores the new password.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	id, err := s.tokens.ConsumeActionToken(ctx, token, tokenTypeReset)
	if errors.Is(err, shared.ErrSessionExpired) {
		return fmt.Errorf("%w: token inválido o expirado", shared.ErrValidation)
	}
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePassword(ctx, id, string(hash)); err != nil {
		return err
	}
	s.logger.Info("password reset", slog.Int64("user_id", id))
	return nil
}

// VerifyEmail consumes a verification token and marks the account.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	id, err := s.tokens.ConsumeActionToken(ctx, token, tokenTypeVerify)
	if errors.Is(err, shared.ErrSessionExpired) {
		return fmt.Errorf("%w: token inválido o expirado", shared.ErrValidation)
	}
	if err != nil {
		return err
	}
	if err := s.repo.MarkEmailVerified(ctx, id); err != nil {
		return err
	}
	s.logger.Info("email verified", slog.Int64("user_id", id))
	return nil
}

func (s *Service) sendMail(ctx context.Context, to, subject, body string) {
	if s.mail == nil {
		return
	}
	if err := s.mail.SendEmail(ctx, to, subject, body); err != nil {
		s.logger.Warn("mail delivery failed", slog.String("to", to), slog.Any("error", err))
	}
}

// Profile loads the actor's current record.
func (s *Service) Profile(ctx context.Context, id int64) (*authz.Actor, error) {
	return s.repo.FindActor(ctx, id)
}

// UpdateProfile applies self-service profile edits and returns the
// refreshed actor.
func (s *Service) UpdateProfile(ctx context.Context, id int64, upd ProfileUpdate) (*authz.Actor, error) {
	if err := s.repo.UpdateProfile(ctx, id, upd); err != nil {
		return nil, err
	}
	return s.repo.FindActor(ctx, id)
}

// ChangePassword verifies the current password before storing the new
// hash.
func (s *Service) ChangePassword(ctx context.Context, id int64, oldPassword, newPassword string) error {
	actor, hash, err := s.findCredential(ctx, id)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(oldPassword)) != nil {
		return shared.ErrInvalidCredentials
	}
	newHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePassword(ctx, id, string(newHash)); err != nil {
		return err
	}
	s.logger.Info("password changed", slog.Int64("user_id", actor.ID))
	return nil
}

func (s *Service) findCredential(ctx context.Context, id int64) (*authz.Actor, string, error) {
	actor, err := s.repo.FindActor(ctx, id)
	if err != nil {
		return nil, "", err
	}
	// The hash lives behind FindByUsername; a second lookup keeps the
	// repository surface small.
	_, hash, err := s.repo.FindByUsername(ctx, actor.Username)
	if err != nil {
		return nil, "", err
	}
	return actor, hash, nil
}

// Dashboard returns the admin landing page counters.
func (s *Service) Dashboard(ctx context.Context) (DashboardStats, error) {
	return s.repo.Dashboard(ctx)
}
