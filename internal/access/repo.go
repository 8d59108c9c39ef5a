package access

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

	"github.com/condogate/condogate/internal/shared"
)

// Repository provides PostgreSQL backed persistence for the access
// sub-module.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ---- catalogs ----

// ListDoors returns doors, optionally only active ones.
func (r *Repository) ListDoors(ctx context.Context, onlyActive bool) ([]Door, error) {
	query := `SELECT id, nombre, COALESCE(descripcion, ''), activa FROM puertas`
	if onlyActive {
		query += ` WHERE activa`
	}
	query += ` ORDER BY nombre`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("access: list doors: %w", err)
	}
	defer rows.Close()
	var out []Door
	for rows.Next() {
		var d Door
		if err := rows.Scan(&d.ID, &d.Name, &d.Description, &d.Active); err != nil {
			return nil, fmt.Errorf("access: scan door: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CreateDoor inserts a catalog entry.
func (r *Repository) CreateDoor(ctx context.Context, d Door) (Door, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO puertas (nombre, descripcion, activa) VALUES ($1, $2, $3)
		RETURNING id`, d.Name, d.Description, d.Active).Scan(&d.ID)
	if isUniqueViolation(err) {
		return Door{}, shared.ErrDuplicate
	}
	if err != nil {
		return Door{}, fmt.Errorf("access: create door: %w", err)
	}
	return d, nil
}

// UpdateDoor replaces a catalog entry.
func (r *Repository) UpdateDoor(ctx context.Context, d Door) (Door, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE puertas SET nombre = $2, descripcion = $3, activa = $4 WHERE id = $1`,
		d.ID, d.Name, d.Description, d.Active)
	if isUniqueViolation(err) {
		return Door{}, shared.ErrDuplicate
	}
	if err != nil {
		return Door{}, fmt.Errorf("access: update door: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Door{}, shared.ErrNotFound
	}
	return d, nil
}

// ListVehicleTypes returns vehicle types, optionally only active ones.
func (r *Repository) ListVehicleTypes(ctx context.Context, onlyActive bool) ([]VehicleType, error) {
	query := `SELECT id, nombre, activo FROM tipos_vehiculo`
	if onlyActive {
		query += ` WHERE activo`
	}
	query += ` ORDER BY nombre`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("access: list vehicle types: %w", err)
	}
	defer rows.Close()
	var out []VehicleType
	for rows.Next() {
		var v VehicleType
		if err := rows.Scan(&v.ID, &v.Name, &v.Active); err != nil {
			return nil, fmt.Errorf("access: scan vehicle type: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// CreateVehicleType inserts a catalog entry.
func (r *Repository) CreateVehicleType(ctx context.Context, v VehicleType) (VehicleType, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO tipos_vehiculo (nombre, activo) VALUES ($1, $2) RETURNING id`,
		v.Name, v.Active).Scan(&v.ID)
	if isUniqueViolation(err) {
		return VehicleType{}, shared.ErrDuplicate
	}
	if err != nil {
		return VehicleType{}, fmt.Errorf("access: create vehicle type: %w", err)
	}
	return v, nil
}

// ListColors returns colors, optionally only active ones.
func (r *Repository) ListColors(ctx context.Context, onlyActive bool) ([]Color, error) {
	query := `SELECT id, nombre, activo FROM colores`
	if onlyActive {
		query += ` WHERE activo`
	}
	query += ` ORDER BY nombre`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("access: list colors: %w", err)
	}
	defer rows.Close()
	var out []Color
	for rows.Next() {
		var c Color
		if err := rows.Scan(&c.ID, &c.Name, &c.Active); err != nil {
			return nil, fmt.Errorf("access: scan color: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateColor inserts a catalog entry.
func (r *Repository) CreateColor(ctx context.Context, c Color) (Color, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO colores (nombre, activo) VALUES ($1, $2) RETURNING id`,
		c.Name, c.Active).Scan(&c.ID)
	if isUniqueViolation(err) {
		return Color{}, shared.ErrDuplicate
	}
	if err != nil {
		return Color{}, fmt.Errorf("access: create color: %w", err)
	}
	return c, nil
}

// ---- records ----

const recordColumns = `
	ra.id, ra.placa, ra.tipo_evento,
	ra.puerta_id, p.nombre,
	ra.tipo_vehiculo_id, tv.nombre,
	ra.color_id, c.nombre,
	COALESCE(ra.observaciones, ''), ra.registrado_por, ra.fecha_hora, ra.deteccion`

const recordFrom = `
	FROM registros_acceso ra
	JOIN puertas p ON p.id = ra.puerta_id
	JOIN tipos_vehiculo tv ON tv.id = ra.tipo_vehiculo_id
	JOIN colores c ON c.id = ra.color_id`

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec       Record
		detection []byte
	)
	err := row.Scan(&rec.ID, &rec.Plate, &rec.Event,
		&rec.DoorID, &rec.DoorName,
		&rec.VehicleTypeID, &rec.VehicleType,
		&rec.ColorID, &rec.Color,
		&rec.Observations, &rec.RegisteredBy, &rec.OccurredAt, &detection)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, shared.ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("access: scan record: %w", err)
	}
	if len(detection) > 0 {
		rec.Detection = &Detection{}
		if err := json.Unmarshal(detection, rec.Detection); err != nil {
			return Record{}, fmt.Errorf("access: decode detection: %w", err)
		}
	}
	return rec, nil
}

// RecordFilters narrow the record listing.
type RecordFilters struct {
	Event   Event
	DoorID  int64
	Plate   string
	From    time.Time
	To      time.Time
	Page    int
	PerPage int
}

// ListRecords returns access records matching the filters, newest
// first, plus the total count.
func (r *Repository) ListRecords(ctx context.Context, f RecordFilters) ([]Record, int64, error) {
	where := []string{"TRUE"}
	args := []any{}
	if f.Event != "" {
		args = append(args, f.Event)
		where = append(where, fmt.Sprintf("ra.tipo_evento = $%d", len(args)))
	}
	if f.DoorID > 0 {
		args = append(args, f.DoorID)
		where = append(where, fmt.Sprintf("ra.puerta_id = $%d", len(args)))
	}
	if f.Plate != "" {
		args = append(args, "%"+NormalizePlate(f.Plate)+"%")
		where = append(where, fmt.Sprintf("ra.placa LIKE $%d", len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		where = append(where, fmt.Sprintf("ra.fecha_hora >= $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		where = append(where, fmt.Sprintf("ra.fecha_hora < $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM registros_acceso ra WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("access: count records: %w", err)
	}

	args = append(args, f.PerPage, (f.Page-1)*f.PerPage)
	query := `SELECT ` + recordColumns + recordFrom + ` WHERE ` + cond +
		fmt.Sprintf(` ORDER BY ra.fecha_hora DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("access: list records: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

// FindRecord returns one access record.
func (r *Repository) FindRecord(ctx context.Context, id int64) (Record, error) {
	return scanRecord(r.pool.QueryRow(ctx, `SELECT `+recordColumns+recordFrom+` WHERE ra.id = $1`, id))
}

// CreateRecord inserts an access record and returns the stored row.
func (r *Repository) CreateRecord(ctx context.Context, rec Record) (Record, error) {
	var detection []byte
	if rec.Detection != nil {
		var err error
		detection, err = json.Marshal(rec.Detection)
		if err != nil {
			return Record{}, fmt.Errorf("access: encode detection: %w", err)
		}
	}
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO registros_acceso
			(placa, tipo_evento, puerta_id, tipo_vehiculo_id, color_id,
			 observaciones, registrado_por, fecha_hora, deteccion)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		rec.Plate, rec.Event, rec.DoorID, rec.VehicleTypeID, rec.ColorID,
		rec.Observations, rec.RegisteredBy, rec.OccurredAt, detection).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return Record{}, fmt.Errorf("%w: catálogo inexistente", shared.ErrValidation)
		}
		return Record{}, fmt.Errorf("access: create record: %w", err)
	}
	return r.FindRecord(ctx, id)
}

// AttachDetection stores a detection result beside an existing record.
func (r *Repository) AttachDetection(ctx context.Context, id int64, det Detection) error {
	data, err := json.Marshal(det)
	if err != nil {
		return fmt.Errorf("access: encode detection: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE registros_acceso SET deteccion = $2 WHERE id = $1`, id, data)
	if err != nil {
		return fmt.Errorf("access: attach detection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ---- statistics ----

// Stats is the access dashboard payload.
type Stats struct {
	Total       int64            `json:"total_registros"`
	Entries     int64            `json:"entradas"`
	Exits       int64            `json:"salidas"`
	Today       int64            `json:"registros_hoy"`
	PerDoor     map[string]int64 `json:"por_puerta"`
	PerVehicle  map[string]int64 `json:"por_tipo_vehiculo"`
	GeneratedAt time.Time        `json:"generado_en"`
}

// Statistics aggregates the access counters.
func (r *Repository) Statistics(ctx context.Context) (Stats, error) {
	stats := Stats{PerDoor: make(map[string]int64), PerVehicle: make(map[string]int64)}
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE tipo_evento = 'entrada'),
			COUNT(*) FILTER (WHERE tipo_evento = 'salida'),
			COUNT(*) FILTER (WHERE fecha_hora::date = CURRENT_DATE)
		FROM registros_acceso`,
	).Scan(&stats.Total, &stats.Entries, &stats.Exits, &stats.Today)
	if err != nil {
		return Stats{}, fmt.Errorf("access: stats: %w", err)
	}
	if err := r.groupCount(ctx, `
		SELECT p.nombre, COUNT(*) FROM registros_acceso ra
		JOIN puertas p ON p.id = ra.puerta_id GROUP BY p.nombre`, stats.PerDoor); err != nil {
		return Stats{}, err
	}
	if err := r.groupCount(ctx, `
		SELECT tv.nombre, COUNT(*) FROM registros_acceso ra
		JOIN tipos_vehiculo tv ON tv.id = ra.tipo_vehiculo_id GROUP BY tv.nombre`, stats.PerVehicle); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

func (r *Repository) groupCount(ctx context.Context, query string, into map[string]int64) error {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("access: group count: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return fmt.Errorf("access: group scan: %w", err)
		}
		into[name] = count
	}
	return rows.Err()
}

// DaySummary describes one day's activity.
type DaySummary struct {
	Date    string `json:"fecha"`
	Entries int64  `json:"entradas"`
	Exits   int64  `json:"salidas"`
	Total   int64  `json:"total"`
}

// SummaryForDay aggregates one calendar day.
func (r *Repository) SummaryForDay(ctx context.Context, day time.Time) (DaySummary, error) {
	summary := DaySummary{Date: day.Format("2006-01-02")}
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE tipo_evento = 'entrada'),
			COUNT(*) FILTER (WHERE tipo_evento = 'salida'),
			COUNT(*)
		FROM registros_acceso WHERE fecha_hora::date = $1::date`, day,
	).Scan(&summary.Entries, &summary.Exits, &summary.Total)
	if err != nil {
		return DaySummary{}, fmt.Errorf("access: day summary: %w", err)
	}
	return summary, nil
}

// CountByDay returns per-day totals over the last n days.
func (r *Repository) CountByDay(ctx context.Context, days int) ([]DaySummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT fecha_hora::date AS dia,
			COUNT(*) FILTER (WHERE tipo_evento = 'entrada'),
			COUNT(*) FILTER (WHERE tipo_evento = 'salida'),
			COUNT(*)
		FROM registros_acceso
		WHERE fecha_hora >= CURRENT_DATE - $1::int
		GROUP BY dia ORDER BY dia`, days)
	if err != nil {
		return nil, fmt.Errorf("access: count by day: %w", err)
	}
	defer rows.Close()
	var out []DaySummary
	for rows.Next() {
		var day time.Time
		var s DaySummary
		if err := rows.Scan(&day, &s.Entries, &s.Exits, &s.Total); err != nil {
			return nil, fmt.Errorf("access: count scan: %w", err)
		}
		s.Date = day.Format("2006-01-02")
		out = append(out, s)
	}
	return out, rows.Err()
}

// SearchPlate returns records whose normalized plate contains the
// fragment, newest first.
func (r *Repository) SearchPlate(ctx context.Context, fragment string, limit int) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+recordColumns+recordFrom+`
		WHERE ra.placa LIKE $1
		ORDER BY ra.fecha_hora DESC LIMIT $2`,
		"%"+NormalizePlate(fragment)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("access: search plate: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
