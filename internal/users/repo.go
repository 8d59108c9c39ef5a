package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/condogate/condogate/internal/authz"
	"github.com/condogate/condogate/internal/shared"
)

// Repository provides PostgreSQL backed persistence for user admin.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `
	u.id, u.username, u.email, u.first_name, u.last_name,
	COALESCE(u.telefono, ''), COALESCE(u.direccion, ''), COALESCE(u.ci, ''),
	u.is_superuser, u.is_active, u.fecha_creacion, u.fecha_ultimo_acceso,
	r.id, r.nombre, r.descripcion, r.es_administrativo, r.permisos,
	r.fecha_creacion, r.fecha_actualizacion`

const userFrom = `
	FROM usuarios u
	LEFT JOIN roles r ON r.id = u.rol_id`

func scanUser(row pgx.Row) (authz.Actor, error) {
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
		return authz.Actor{}, shared.ErrNotFound
	}
	if err != nil {
		return authz.Actor{}, fmt.Errorf("users: scan: %w", err)
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
		role.Permissions = authz.NewPermissionSet()
		if len(permisos) > 0 {
			if err := json.Unmarshal(permisos, &role.Permissions); err != nil {
				return authz.Actor{}, fmt.Errorf("users: decode permisos: %w", err)
			}
		}
		actor.Role = &role
	}
	return actor, nil
}

// ListFilters narrow the user listing.
type ListFilters struct {
	Search     string
	RoleID     int64
	OnlyActive bool
	Page       int
	PerPage    int
}

// List returns users matching the filters plus the total count.
func (r *Repository) List(ctx context.Context, f ListFilters) ([]authz.Actor, int64, error) {
	where := []string{"TRUE"}
	args := []any{}
	if f.Search != "" {
		args = append(args, "%"+strings.ToLower(f.Search)+"%")
		n := fmt.Sprintf("$%d", len(args))
		where = append(where, `(LOWER(u.username) LIKE `+n+
			` OR LOWER(u.email) LIKE `+n+
			` OR LOWER(u.first_name || ' ' || u.last_name) LIKE `+n+`)`)
	}
	if f.RoleID > 0 {
		args = append(args, f.RoleID)
		where = append(where, fmt.Sprintf("u.rol_id = $%d", len(args)))
	}
	if f.OnlyActive {
		where = append(where, "u.is_active")
	}
	cond := strings.Join(where, " AND ")

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM usuarios u WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("users: count: %w", err)
	}

	limit, offset := f.PerPage, (f.Page-1)*f.PerPage
	args = append(args, limit, offset)
	query := `SELECT ` + userColumns + userFrom + ` WHERE ` + cond +
		fmt.Sprintf(` ORDER BY u.username LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("users: list: %w", err)
	}
	defer rows.Close()
	var out []authz.Actor
	for rows.Next() {
		actor, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, actor)
	}
	return out, total, rows.Err()
}

// Find returns one user.
func (r *Repository) Find(ctx context.Context, id int64) (authz.Actor, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+userFrom+` WHERE u.id = $1`, id))
}

// Input carries the administrable user fields.
type Input struct {
	Username  string
	Email     string
	Hash      string
	FirstName string
	LastName  string
	Phone     string
	Address   string
	CI        string
	RoleID    int64
	Active    bool
}

// Create inserts a user.
func (r *Repository) Create(ctx context.Context, in Input) (authz.Actor, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO usuarios (username, email, password_hash, first_name, last_name,
			telefono, direccion, ci, rol_id, is_superuser, is_active, fecha_creacion)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, 0)::bigint, FALSE, $10, NOW())
		RETURNING id`,
		in.Username, in.Email, in.Hash, in.FirstName, in.LastName,
		in.Phone, in.Address, in.CI, in.RoleID, in.Active).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return authz.Actor{}, shared.ErrDuplicate
		}
		return authz.Actor{}, fmt.Errorf("users: create: %w", err)
	}
	return r.Find(ctx, id)
}

// Update replaces the administrable fields. The password is managed
// through the credential endpoints, never here.
func (r *Repository) Update(ctx context.Context, id int64, in Input) (authz.Actor, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE usuarios
		SET username = $2, email = $3, first_name = $4, last_name = $5,
			telefono = $6, direccion = $7, ci = $8,
			rol_id = NULLIF($9, 0)::bigint, is_active = $10
		WHERE id = $1`,
		id, in.Username, in.Email, in.FirstName, in.LastName,
		in.Phone, in.Address, in.CI, in.RoleID, in.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return authz.Actor{}, shared.ErrDuplicate
		}
		return authz.Actor{}, fmt.Errorf("users: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authz.Actor{}, shared.ErrNotFound
	}
	return r.Find(ctx, id)
}

// Delete removes a user.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM usuarios WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("users: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Stats summarizes the user base.
type Stats struct {
	Total        int64            `json:"total_usuarios"`
	Active       int64            `json:"usuarios_activos"`
	Inactive     int64            `json:"usuarios_inactivos"`
	PorRol       map[string]int64 `json:"usuarios_por_rol"`
	NewThisMonth int64            `json:"nuevos_este_mes"`
}

// Statistics aggregates user counters.
func (r *Repository) Statistics(ctx context.Context) (Stats, error) {
	stats := Stats{PorRol: make(map[string]int64)}
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE is_active),
			COUNT(*) FILTER (WHERE NOT is_active),
			COUNT(*) FILTER (WHERE fecha_creacion >= date_trunc('month', CURRENT_DATE))
		FROM usuarios`,
	).Scan(&stats.Total, &stats.Active, &stats.Inactive, &stats.NewThisMonth)
	if err != nil {
		return Stats{}, fmt.Errorf("users: stats: %w", err)
	}
	rows, err := r.pool.Query(ctx, `
		SELECT COALESCE(r.nombre, 'Sin rol'), COUNT(u.id)
		FROM usuarios u
		LEFT JOIN roles r ON r.id = u.rol_id
		GROUP BY 1`)
	if err != nil {
		return Stats{}, fmt.Errorf("users: stats por rol: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return Stats{}, fmt.Errorf("users: stats scan: %w", err)
		}
		stats.PorRol[name] = count
	}
	return stats, rows.Err()
}

// ListByAdministrative returns active users filtered by whether their
// role is administrative. Backs the staff and resident pickers.
func (r *Repository) ListByAdministrative(ctx context.Context, administrative bool) ([]authz.Actor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+userFrom+`
		WHERE u.is_active AND r.es_administrativo = $1
		ORDER BY u.first_name, u.last_name`, administrative)
	if err != nil {
		return nil, fmt.Errorf("users: list by kind: %w", err)
	}
	defer rows.Close()
	var out []authz.Actor
	for rows.Next() {
		actor, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, actor)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
