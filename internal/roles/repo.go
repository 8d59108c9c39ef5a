package roles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/condogate/condogate/internal/authz"
	"github.com/condogate/condogate/internal/platform/db"
	"github.com/condogate/condogate/internal/shared"
)

// Repository provides PostgreSQL backed persistence for roles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roleColumns = `id, nombre, descripcion, es_administrativo, permisos, fecha_creacion, fecha_actualizacion`

func scanRole(row pgx.Row) (authz.Role, error) {
	var (
		role     authz.Role
		permisos []byte
	)
	err := row.Scan(&role.ID, &role.Name, &role.Description, &role.Administrative,
		&permisos, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return authz.Role{}, shared.ErrNotFound
	}
	if err != nil {
		return authz.Role{}, fmt.Errorf("roles: scan: %w", err)
	}
	role.Permissions = authz.NewPermissionSet()
	if len(permisos) > 0 {
		if err := json.Unmarshal(permisos, &role.Permissions); err != nil {
			return authz.Role{}, fmt.Errorf("roles: decode permisos: %w", err)
		}
	}
	return role, nil
}

// List returns all roles ordered by name.
func (r *Repository) List(ctx context.Context) ([]authz.Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY nombre`)
	if err != nil {
		return nil, fmt.Errorf("roles: list: %w", err)
	}
	defer rows.Close()
	var out []authz.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

// Find returns a role by ID.
func (r *Repository) Find(ctx context.Context, id int64) (authz.Role, error) {
	return scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
}

// Create inserts a role and returns the stored row.
func (r *Repository) Create(ctx context.Context, role authz.Role) (authz.Role, error) {
	permisos, err := json.Marshal(role.Permissions)
	if err != nil {
		return authz.Role{}, fmt.Errorf("roles: encode permisos: %w", err)
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO roles (nombre, descripcion, es_administrativo, permisos, fecha_creacion, fecha_actualizacion)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING `+roleColumns,
		role.Name, role.Description, role.Administrative, permisos)
	created, err := scanRole(row)
	if isUniqueViolation(err) {
		return authz.Role{}, shared.ErrDuplicate
	}
	return created, err
}

// Update replaces the role's editable fields.
func (r *Repository) Update(ctx context.Context, role authz.Role) (authz.Role, error) {
	permisos, err := json.Marshal(role.Permissions)
	if err != nil {
		return authz.Role{}, fmt.Errorf("roles: encode permisos: %w", err)
	}
	row := r.pool.QueryRow(ctx, `
		UPDATE roles
		SET nombre = $2, descripcion = $3, es_administrativo = $4, permisos = $5, fecha_actualizacion = NOW()
		WHERE id = $1
		RETURNING `+roleColumns,
		role.ID, role.Name, role.Description, role.Administrative, permisos)
	updated, err := scanRole(row)
	if isUniqueViolation(err) {
		return authz.Role{}, shared.ErrDuplicate
	}
	return updated, err
}

// SetPermissions replaces the role's permission set as a whole.
func (r *Repository) SetPermissions(ctx context.Context, id int64, set authz.PermissionSet) (authz.Role, error) {
	permisos, err := json.Marshal(set)
	if err != nil {
		return authz.Role{}, fmt.Errorf("roles: encode permisos: %w", err)
	}
	row := r.pool.QueryRow(ctx, `
		UPDATE roles SET permisos = $2, fecha_actualizacion = NOW()
		WHERE id = $1
		RETURNING `+roleColumns, id, permisos)
	return scanRole(row)
}

// Delete removes a role. The user count runs inside the same
// transaction so an assignment cannot slip in between the check and
// the delete; the foreign key remains the final guard.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var count int64
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM usuarios WHERE rol_id = $1`, id).Scan(&count); err != nil {
			return fmt.Errorf("roles: user count: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("%w: el rol tiene %d usuarios asignados", shared.ErrValidation, count)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23503" {
				return fmt.Errorf("%w: rol en uso", shared.ErrValidation)
			}
			return fmt.Errorf("roles: delete: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}

// UserCount returns how many users hold the role.
func (r *Repository) UserCount(ctx context.Context, id int64) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM usuarios WHERE rol_id = $1`, id).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("roles: user count: %w", err)
	}
	return count, nil
}

// Stats describes the role landscape for the admin dashboard.
type Stats struct {
	TotalRoles     int64            `json:"total_roles"`
	Administrative int64            `json:"roles_administrativos"`
	UsersPerRole   map[string]int64 `json:"usuarios_por_rol"`
}

// Statistics aggregates role usage counters.
func (r *Repository) Statistics(ctx context.Context) (Stats, error) {
	stats := Stats{UsersPerRole: make(map[string]int64)}
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE es_administrativo) FROM roles`,
	).Scan(&stats.TotalRoles, &stats.Administrative)
	if err != nil {
		return Stats{}, fmt.Errorf("roles: stats: %w", err)
	}
	rows, err := r.pool.Query(ctx, `
		SELECT r.nombre, COUNT(u.id)
		FROM roles r
		LEFT JOIN usuarios u ON u.rol_id = r.id
		GROUP BY r.nombre`)
	if err != nil {
		return Stats{}, fmt.Errorf("roles: stats per role: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return Stats{}, fmt.Errorf("roles: stats scan: %w", err)
		}
		stats.UsersPerRole[name] = count
	}
	return stats, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
