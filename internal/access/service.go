package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/condogate/condogate/internal/shared"
)

// RepositoryPort defines data access methods for the access module.
type RepositoryPort interface {
	ListDoors(ctx context.Context, onlyActive bool) ([]Door, error)
	CreateDoor(ctx context.Context, d Door) (Door, error)
	UpdateDoor(ctx context.Context, d Door) (Door, error)
	ListVehicleTypes(ctx context.Context, onlyActive bool) ([]VehicleType, error)
	CreateVehicleType(ctx context.Context, v VehicleType) (VehicleType, error)
	ListColors(ctx context.Context, onlyActive bool) ([]Color, error)
	CreateColor(ctx context.Context, c Color) (Color, error)
	ListRecords(ctx context.Context, f RecordFilters) ([]Record, int64, error)
	FindRecord(ctx context.Context, id int64) (Record, error)
	CreateRecord(ctx context.Context, rec Record) (Record, error)
	AttachDetection(ctx context.Context, id int64, det Detection) error
	Statistics(ctx context.Context) (Stats, error)
	SummaryForDay(ctx context.Context, day time.Time) (DaySummary, error)
	CountByDay(ctx context.Context, days int) ([]DaySummary, error)
	SearchPlate(ctx context.Context, fragment string, limit int) ([]Record, error)
}

// Enqueuer submits background vision scans for records created with
// an attached capture.
type Enqueuer interface {
	EnqueueVisionScan(ctx context.Context, recordID int64, image []byte) error
}

const (
	statsCacheKey = "access:stats"
	statsCacheTTL = time.Minute
)

// Service handles vehicular access logic.
type Service struct {
	logger   *slog.Logger
	repo     RepositoryPort
	detector Detector
	cache    *redis.Client
	jobs     Enqueuer
	now      func() time.Time
}

// NewService builds Service instance. The detector and job client may
// be nil when vision is not configured; image endpoints then fail with
// a validation error instead of panicking.
func NewService(logger *slog.Logger, repo RepositoryPort, detector Detector, cache *redis.Client, jobs Enqueuer) *Service {
	return &Service{logger: logger, repo: repo, detector: detector, cache: cache, jobs: jobs, now: time.Now}
}

// Doors lists the door catalog.
func (s *Service) Doors(ctx context.Context, onlyActive bool) ([]Door, error) {
	return s.repo.ListDoors(ctx, onlyActive)
}

// CreateDoor adds a door.
func (s *Service) CreateDoor(ctx context.Context, d Door) (Door, error) {
	return s.repo.CreateDoor(ctx, d)
}

// UpdateDoor edits a door. Deactivating keeps history intact.
func (s *Service) UpdateDoor(ctx context.Context, d Door) (Door, error) {
	return s.repo.UpdateDoor(ctx, d)
}

// VehicleTypes lists the vehicle type catalog.
func (s *Service) VehicleTypes(ctx context.Context, onlyActive bool) ([]VehicleType, error) {
	return s.repo.ListVehicleTypes(ctx, onlyActive)
}

// CreateVehicleType adds a vehicle type.
func (s *Service) CreateVehicleType(ctx context.Context, v VehicleType) (VehicleType, error) {
	return s.repo.CreateVehicleType(ctx, v)
}

// Colors lists the color catalog.
func (s *Service) Colors(ctx context.Context, onlyActive bool) ([]Color, error) {
	return s.repo.ListColors(ctx, onlyActive)
}

// CreateColor adds a color.
func (s *Service) CreateColor(ctx context.Context, c Color) (Color, error) {
	return s.repo.CreateColor(ctx, c)
}

// Records lists access records.
func (s *Service) Records(ctx context.Context, f RecordFilters) ([]Record, int64, error) {
	return s.repo.ListRecords(ctx, f)
}

// Record returns one access record.
func (s *Service) Record(ctx context.Context, id int64) (Record, error) {
	return s.repo.FindRecord(ctx, id)
}

// Register stores an access event. The plate is normalized before
// storage; an attached capture is scanned in the background. The stats
// cache is dropped so dashboards pick the event up promptly.
func (s *Service) Register(ctx context.Context, rec Record, image []byte) (Record, error) {
	if !rec.Event.Valid() {
		return Record{}, fmt.Errorf("%w: tipo_evento debe ser entrada o salida", shared.ErrValidation)
	}
	rec.Plate = NormalizePlate(rec.Plate)
	if rec.Plate == "" {
		return Record{}, fmt.Errorf("%w: placa requerida", shared.ErrValidation)
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = s.now().UTC()
	}
	created, err := s.repo.CreateRecord(ctx, rec)
	if err != nil {
		return Record{}, err
	}
	s.invalidateStats(ctx)
	if len(image) > 0 && s.jobs != nil {
		if err := s.jobs.EnqueueVisionScan(ctx, created.ID, image); err != nil {
			s.logger.Warn("vision scan enqueue failed", slog.Int64("record_id", created.ID), slog.Any("error", err))
		}
	}
	s.logger.Info("access registered",
		slog.Int64("record_id", created.ID),
		slog.String("placa", created.Plate),
		slog.String("evento", string(created.Event)))
	return created, nil
}

// ProcessImage runs plate detection synchronously on a capture, the
// flow behind the live-camera page.
func (s *Service) ProcessImage(ctx context.Context, image []byte) (Detection, error) {
	if s.detector == nil {
		return Detection{}, fmt.Errorf("%w: reconocimiento no configurado", shared.ErrValidation)
	}
	if len(image) == 0 {
		return Detection{}, fmt.Errorf("%w: imagen requerida", shared.ErrValidation)
	}
	detection, err := s.detector.Detect(ctx, image)
	if err != nil {
		return Detection{}, err
	}
	return detection, nil
}

// ScanRecordImage is the background half of Register: detect and
// attach the result to the stored record.
func (s *Service) ScanRecordImage(ctx context.Context, recordID int64, image []byte) error {
	detection, err := s.ProcessImage(ctx, image)
	if err != nil {
		return err
	}
	return s.repo.AttachDetection(ctx, recordID, detection)
}

// Statistics returns access counters, served from a short-lived redis
// cache when warm.
func (s *Service) Statistics(ctx context.Context) (Stats, error) {
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, statsCacheKey).Bytes(); err == nil {
			var cached Stats
			if json.Unmarshal(data, &cached) == nil {
				return cached, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn("stats cache read failed", slog.Any("error", err))
		}
	}
	stats, err := s.repo.Statistics(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats.GeneratedAt = s.now().UTC()
	if s.cache != nil {
		if data, err := json.Marshal(stats); err == nil {
			if err := s.cache.Set(ctx, statsCacheKey, data, statsCacheTTL).Err(); err != nil {
				s.logger.Warn("stats cache write failed", slog.Any("error", err))
			}
		}
	}
	return stats, nil
}

// WarmStatsCache recomputes and stores the stats payload, used by the
// periodic warmup job.
func (s *Service) WarmStatsCache(ctx context.Context) error {
	s.invalidateStats(ctx)
	_, err := s.Statistics(ctx)
	return err
}

// DaySummary aggregates one calendar day, today by default.
func (s *Service) DaySummary(ctx context.Context, day time.Time) (DaySummary, error) {
	if day.IsZero() {
		day = s.now().UTC()
	}
	return s.repo.SummaryForDay(ctx, day)
}

// CountByDay returns daily totals over the window.
func (s *Service) CountByDay(ctx context.Context, days int) ([]DaySummary, error) {
	if days <= 0 || days > 365 {
		days = 30
	}
	return s.repo.CountByDay(ctx, days)
}

// SearchPlate finds records whose plate contains the fragment.
func (s *Service) SearchPlate(ctx context.Context, fragment string) ([]Record, error) {
	if NormalizePlate(fragment) == "" {
		return nil, fmt.Errorf("%w: placa requerida", shared.ErrValidation)
	}
	return s.repo.SearchPlate(ctx, fragment, 50)
}

// VisionHealth probes the detection backend.
func (s *Service) VisionHealth(ctx context.Context) error {
	if s.detector == nil {
		return errors.New("access: detector not configured")
	}
	return s.detector.Health(ctx)
}

func (s *Service) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, statsCacheKey).Err(); err != nil {
		s.logger.Warn("stats cache invalidate failed", slog.Any("error", err))
	}
}
