package roles

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/condogate/condogate/internal/authz"
	"github.com/condogate/condogate/internal/shared"
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	List(ctx context.Context) ([]authz.Role, error)
	Find(ctx context.Context, id int64) (authz.Role, error)
	Create(ctx context.Context, role authz.Role) (authz.Role, error)
	Update(ctx context.Context, role authz.Role) (authz.Role, error)
	SetPermissions(ctx context.Context, id int64, set authz.PermissionSet) (authz.Role, error)
	Delete(ctx context.Context, id int64) error
	UserCount(ctx context.Context, id int64) (int64, error)
	Statistics(ctx context.Context) (Stats, error)
}

// Service handles role business logic. Every permission mutation
// validates codes against the catalog before touching storage.
type Service struct {
	logger *slog.Logger
	repo   RepositoryPort
}

// NewService builds Service instance.
func NewService(logger *slog.Logger, repo RepositoryPort) *Service {
	return &Service{logger: logger, repo: repo}
}

// List returns all roles.
func (s *Service) List(ctx context.Context) ([]authz.Role, error) {
	return s.repo.List(ctx)
}

// Find returns one role.
func (s *Service) Find(ctx context.Context, id int64) (authz.Role, error) {
	return s.repo.Find(ctx, id)
}

// Create validates and stores a new role.
func (s *Service) Create(ctx context.Context, role authz.Role) (authz.Role, error) {
	if err := validCodes(role.Permissions.Codes()); err != nil {
		return authz.Role{}, err
	}
	created, err := s.repo.Create(ctx, role)
	if err != nil {
		return authz.Role{}, err
	}
	s.logger.Info("role created", slog.Int64("role_id", created.ID), slog.String("nombre", created.Name))
	return created, nil
}

// Update validates and replaces a role's fields.
func (s *Service) Update(ctx context.Context, role authz.Role) (authz.Role, error) {
	if err := validCodes(role.Permissions.Codes()); err != nil {
		return authz.Role{}, err
	}
	return s.repo.Update(ctx, role)
}

// Delete removes an unused role.
func (s *Service) Delete(ctx context.Context, id int64) error {
	count, err := s.repo.UserCount(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: el rol tiene %d usuarios asignados", shared.ErrValidation, count)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("role deleted", slog.Int64("role_id", id))
	return nil
}

// AssignPermissions replaces the role's permission set as a whole.
func (s *Service) AssignPermissions(ctx context.Context, id int64, codes []string) (authz.Role, error) {
	if err := validCodes(codes); err != nil {
		return authz.Role{}, err
	}
	return s.repo.SetPermissions(ctx, id, authz.NewPermissionSet(codes...))
}

// AddPermission grants one code to the role. Adding an already-held
// code is a no-op success.
func (s *Service) AddPermission(ctx context.Context, id int64, code string) (authz.Role, error) {
	if err := validCodes([]string{code}); err != nil {
		return authz.Role{}, err
	}
	role, err := s.repo.Find(ctx, id)
	if err != nil {
		return authz.Role{}, err
	}
	if !role.Permissions.Add(code) {
		return role, nil
	}
	return s.repo.SetPermissions(ctx, id, role.Permissions)
}

// RemovePermission revokes one code from the role. Removing a code
// the role does not hold is a no-op success.
func (s *Service) RemovePermission(ctx context.Context, id int64, code string) (authz.Role, error) {
	role, err := s.repo.Find(ctx, id)
	if err != nil {
		return authz.Role{}, err
	}
	if !role.Permissions.Remove(code) {
		return role, nil
	}
	return s.repo.SetPermissions(ctx, id, role.Permissions)
}

// Statistics returns role usage counters.
func (s *Service) Statistics(ctx context.Context) (Stats, error) {
	return s.repo.Statistics(ctx)
}

func validCodes(codes []string) error {
	invalid := authz.InvalidCodes(codes)
	if len(invalid) == 0 {
		return nil
	}
	return fmt.Errorf("%w: permisos desconocidos: %s", shared.ErrValidation, strings.Join(invalid, ", "))
}
