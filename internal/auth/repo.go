package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/condogate/condogate/internal/authz"
	"github.com/condogate/condogate/internal/shared"
)

// Repo reads and writes users against postgres.
type Repo struct {
	pool *pgxpool.Pool
}

// NewRepo builds Repo instance.
func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const actorColumns = `
	u.id, u.username, u.email, u.first_name, u.last_name,
	COALESCE(u.telefono, ''), COALESCE(u.direccion, ''), COALESCE(u.ci, ''),
	u.is_superuser, u.is_active, u.fecha_creacion, u.fecha_ultimo_acceso,
	r.id, r.nombre, r.descripcion, r.es_administrativo, r.permisos,
	r.fecha_creacion, r.fecha_actualizacion`

const actorFrom = `
	FROM usuarios u
	LEFT JOIN roles r ON r.id = u.rol_id`

func scanActor(row pgx.Row) (*authz.Actor, error) {
	var (
		actor    authz.Actor
		roleID   *int64
		roleName *string
		roleDesc *string
		roleAdm  *bool
		permisos []byte
		roleCr   *time.Time
		roleUp   *time.Time
	)
	err := row.Scan(
		&actor.ID, &actor.Username, &actor.Email, &actor.FirstName, &actor.LastName,
		&actor.Phone, &actor.Address, &actor.CI,
		&actor.Superuser, &actor.Active, &actor.CreatedAt, &actor.LastAccess,
		&roleID, &roleName, &roleDesc, &roleAdm, &permisos, &roleCr, &roleUp,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: scan actor: %w", err)
	}
	if roleID != nil {
		role := authz.Role{
			ID:             *roleID,
			Name:           *roleName,
			Description:    *roleDesc,
			Administrative: *roleAdm,
			CreatedAt:      *roleCr,
			UpdatedAt:      *roleUp,
		}
		if len(permisos) > 0 {
			if err := json.Unmarshal(permisos, &role.Permissions); err != nil {
				return nil, fmt.Errorf("auth: decode permisos for role %d: %w", role.ID, err)
			}
		} else {
			role.Permissions = authz.NewPermissionSet()
		}
		actor.Role = &role
	}
	return &actor, nil
}

// FindByUsername returns the actor and password hash for a login attempt.
func (r *Repo) FindByUsername(ctx context.Context, username string) (*authz.Actor, string, error) {
	query := `SELECT` + actorColumns + `, u.password_hash` + actorFrom + ` WHERE u.username = $1`
	var (
		actor    authz.Actor
		roleID   *int64
		roleName *string
		roleDesc *string
		roleAdm  *bool
		permisos []byte
		roleCr   *time.Time
		roleUp   *time.Time
		hash     string
	)
	err := r.pool.QueryRow(ctx, query, username).Scan(
		&actor.ID, &actor.Username, &actor.Email, &actor.FirstName, &actor.LastName,
		&actor.Phone, &actor.Address, &actor.CI,
		&actor.Superuser, &actor.Active, &actor.CreatedAt, &actor.LastAccess,
		&roleID, &roleName, &roleDesc, &roleAdm, &permisos, &roleCr, &roleUp,
		&hash,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", shared.ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("auth: find by username: %w", err)
	}
	if roleID != nil {
		role := authz.Role{
			ID:             *roleID,
			Name:           *roleName,
			Description:    *roleDesc,
			Administrative: *roleAdm,
			CreatedAt:      *roleCr,
			UpdatedAt:      *roleUp,
		}
		if len(permisos) > 0 {
			if err := json.Unmarshal(permisos, &role.Permissions); err != nil {
				return nil, "", fmt.Errorf("auth: decode permisos for role %d: %w", role.ID, err)
			}
		} else {
			role.Permissions = authz.NewPermissionSet()
		}
		actor.Role = &role
	}
	return &actor, hash, nil
}

// FindByEmail loads the actor owning the email, for the reset flow.
func (r *Repo) FindByEmail(ctx context.Context, email string) (*authz.Actor, error) {
	query := `SELECT` + actorColumns + actorFrom + ` WHERE LOWER(u.email) = LOWER($1)`
	return scanActor(r.pool.QueryRow(ctx, query, email))
}

// FindActor loads an actor by ID with its role and permissions.
func (r *Repo) FindActor(ctx context.Context, id int64) (*authz.Actor, error) {
	query := `SELECT` + actorColumns + actorFrom + ` WHERE u.id = $1`
	return scanActor(r.pool.QueryRow(ctx, query, id))
}

// UpdateLastAccess stamps the login time.
func (r *Repo) UpdateLastAccess(ctx context.Context, id int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE usuarios SET fecha_ultimo_acceso = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("auth: update last access: %w", err)
	}
	return nil
}

// UpdatePassword replaces the stored password hash.
func (r *Repo) UpdatePassword(ctx context.Context, id int64, hash string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE usuarios SET password_hash = $2 WHERE id = $1`, id, hash)
	if err != nil {
		return fmt.Errorf("auth: update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ProfileUpdate carries the self-service editable fields.
type ProfileUpdate struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
	Address   string
}

// UpdateProfile applies the self-service profile fields.
func (r *Repo) UpdateProfile(ctx context.Context, id int64, upd ProfileUpdate) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE usuarios
		SET email = $2, first_name = $3, last_name = $4, telefono = $5, direccion = $6
		WHERE id = $1`,
		id, upd.Email, upd.FirstName, upd.LastName, upd.Phone, upd.Address)
	if err != nil {
		if isUniqueViolation(err) {
			return shared.ErrDuplicate
		}
		return fmt.Errorf("auth: update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// MarkEmailVerified flips the verification flag on the account.
func (r *Repo) MarkEmailVerified(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE usuarios SET email_verificado = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("auth: mark email verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// NewUser carries the fields for account registration.
type NewUser struct {
	Username  string
	Email     string
	Hash      string
	FirstName string
	LastName  string
	Phone     string
	Address   string
	CI        string
	RoleName  string
}

// CreateUser inserts a user bound to the named role and returns the
// stored actor.
func (r *Repo) CreateUser(ctx context.Context, u NewUser) (*authz.Actor, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO usuarios (username, email, password_hash, first_name, last_name,
			telefono, direccion, ci, rol_id, is_superuser, is_active, fecha_creacion)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8,
			(SELECT id FROM roles WHERE nombre = $9), FALSE, TRUE, NOW())
		RETURNING id`,
		u.Username, u.Email, u.Hash, u.FirstName, u.LastName,
		u.Phone, u.Address, u.CI, u.RoleName).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, shared.ErrDuplicate
		}
		return nil, fmt.Errorf("auth: create user: %w", err)
	}
	return r.FindActor(ctx, id)
}

// DashboardStats aggregates the counters shown on the admin landing page.
type DashboardStats struct {
	TotalUsers    int64 `json:"total_usuarios"`
	ActiveUsers   int64 `json:"usuarios_activos"`
	TotalRoles    int64 `json:"total_roles"`
	AccessesToday int64 `json:"accesos_hoy"`
}

// Dashboard computes the admin landing page counters.
func (r *Repo) Dashboard(ctx context.Context) (DashboardStats, error) {
	var stats DashboardStats
	err := r.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM usuarios),
			(SELECT COUNT(*) FROM usuarios WHERE is_active),
			(SELECT COUNT(*) FROM roles),
			(SELECT COUNT(*) FROM registros_acceso WHERE fecha_hora::date = CURRENT_DATE)`,
	).Scan(&stats.TotalUsers, &stats.ActiveUsers, &stats.TotalRoles, &stats.AccessesToday)
	if err != nil {
		return DashboardStats{}, fmt.Errorf("auth: dashboard stats: %w", err)
	}
	return stats, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
