package users

import (
	"context"
	"log/slog"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"github.com/condogate/condogate/internal/authz"
	"github.com/condogate/condogate/internal/shared"
)

// RepositoryPort defines data access methods for user administration.
type RepositoryPort interface {
	List(ctx context.Context, f ListFilters) ([]authz.Actor, int64, error)
	Find(ctx context.Context, id int64) (authz.Actor, error)
	Create(ctx context.Context, in Input) (authz.Actor, error)
	Update(ctx context.Context, id int64, in Input) (authz.Actor, error)
	Delete(ctx context.Context, id int64) error
	Statistics(ctx context.Context) (Stats, error)
	ListByAdministrative(ctx context.Context, administrative bool) ([]authz.Actor, error)
}

// Auditor records administrative actions in the audit trail.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles user administration. Visibility narrows for actors
// without the user-view permission: they only ever see themselves.
type Service struct {
	logger *slog.Logger
	repo   RepositoryPort
	audit  Auditor
}

// NewService builds Service instance. The auditor may be nil.
func NewService(logger *slog.Logger, repo RepositoryPort, audit Auditor) *Service {
	return &Service{logger: logger, repo: repo, audit: audit}
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64) {
	if s.audit == nil {
		return
	}
	var actorID int64
	if actor := authz.ActorFromContext(ctx); actor != nil {
		actorID = actor.ID
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "usuario",
		EntityID: strconv.FormatInt(entityID, 10),
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

// List returns the user page visible to the viewer.
func (s *Service) List(ctx context.Context, viewer *authz.Actor, f ListFilters) ([]authz.Actor, int64, error) {
	if !viewer.HasPermission(authz.PermUsersView) {
		self, err := s.repo.Find(ctx, viewer.ID)
		if err != nil {
			return nil, 0, err
		}
		return []authz.Actor{self}, 1, nil
	}
	return s.repo.List(ctx, f)
}

// Find returns one user, narrowed to self for unprivileged viewers.
func (s *Service) Find(ctx context.Context, viewer *authz.Actor, id int64) (authz.Actor, error) {
	if !viewer.HasPermission(authz.PermUsersView) && viewer.ID != id {
		return authz.Actor{}, shared.ErrPermissionDenied
	}
	return s.repo.Find(ctx, id)
}

// Create stores a new user with a hashed password.
func (s *Service) Create(ctx context.Context, in Input, password string) (authz.Actor, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return authz.Actor{}, err
	}
	in.Hash = string(hash)
	actor, err := s.repo.Create(ctx, in)
	if err != nil {
		return authz.Actor{}, err
	}
	s.recordAudit(ctx, "crear", actor.ID)
	s.logger.Info("user created", slog.Int64("user_id", actor.ID), slog.String("username", actor.Username))
	return actor, nil
}

// Update replaces the administrable fields. Deactivating or demoting
// the last superuser is not a concern here: superuser flags are only
// set at seed time.
func (s *Service) Update(ctx context.Context, id int64, in Input) (authz.Actor, error) {
	actor, err := s.repo.Update(ctx, id, in)
	if err != nil {
		return authz.Actor{}, err
	}
	s.recordAudit(ctx, "editar", id)
	return actor, nil
}

// Patch holds optional field updates. Nil fields keep their stored
// values, including the role and active flags.
type Patch struct {
	Username  *string
	Email     *string
	FirstName *string
	LastName  *string
	Phone     *string
	Address   *string
	CI        *string
	RoleID    *int64
	Active    *bool
}

// Patch applies a partial update on top of the stored record.
func (s *Service) Patch(ctx context.Context, id int64, p Patch) (authz.Actor, error) {
	current, err := s.repo.Find(ctx, id)
	if err != nil {
		return authz.Actor{}, err
	}
	in := Input{
		Username:  current.Username,
		Email:     current.Email,
		FirstName: current.FirstName,
		LastName:  current.LastName,
		Phone:     current.Phone,
		Address:   current.Address,
		CI:        current.CI,
		Active:    current.Active,
	}
	if current.Role != nil {
		in.RoleID = current.Role.ID
	}
	if p.Username != nil {
		in.Username = *p.Username
	}
	if p.Email != nil {
		in.Email = *p.Email
	}
	if p.FirstName != nil {
		in.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		in.LastName = *p.LastName
	}
	if p.Phone != nil {
		in.Phone = *p.Phone
	}
	if p.Address != nil {
		in.Address = *p.Address
	}
	if p.CI != nil {
		in.CI = *p.CI
	}
	if p.RoleID != nil {
		in.RoleID = *p.RoleID
	}
	if p.Active != nil {
		in.Active = *p.Active
	}
	actor, err := s.repo.Update(ctx, id, in)
	if err != nil {
		return authz.Actor{}, err
	}
	s.recordAudit(ctx, "editar", id)
	return actor, nil
}

// Delete removes a user permanently.
func (s *Service) Delete(ctx context.Context, actor *authz.Actor, id int64) error {
	if actor.ID == id {
		return shared.ErrPermissionDenied
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, "eliminar", id)
	s.logger.Info("user deleted", slog.Int64("user_id", id), slog.Int64("by", actor.ID))
	return nil
}

// Statistics returns user base counters.
func (s *Service) Statistics(ctx context.Context) (Stats, error) {
	return s.repo.Statistics(ctx)
}

// AvailableStaff lists active users holding administrative roles.
func (s *Service) AvailableStaff(ctx context.Context) ([]authz.Actor, error) {
	return s.repo.ListByAdministrative(ctx, true)
}

// AvailableResidents lists active users holding client roles.
func (s *Service) AvailableResidents(ctx context.Context) ([]authz.Actor, error) {
	return s.repo.ListByAdministrative(ctx, false)
}
