package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskVisionScan is the task type for plate recognition on a stored access record.
	TaskVisionScan = "access:vision_scan"
	// TaskStatsWarmup is the task type for refreshing the cached access statistics.
	TaskStatsWarmup = "access:stats_warmup"
	// TaskSendEmail is the task type for outbound account emails.
	TaskSendEmail = "notify:send_email"
)

// VisionScanPayload carries the record and the captured image to process.
type VisionScanPayload struct {
	RecordID int64  `json:"record_id"`
	Image    []byte `json:"image"`
}

// NewVisionScanTask constructs an Asynq task for plate recognition.
func NewVisionScanTask(payload VisionScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskVisionScan, data, asynq.MaxRetry(3)), nil
}

// NewStatsWarmupTask constructs the periodic statistics warmup task.
func NewStatsWarmupTask() *asynq.Task {
	return asynq.NewTask(TaskStatsWarmup, nil)
}

// EmailPayload carries one outbound account email.
type EmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task for email delivery.
func NewSendEmailTask(payload EmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSendEmail, data, asynq.MaxRetry(5)), nil
}

// NewSendEmailHandler processes TaskSendEmail tasks. Delivery goes to
// the structured log until an SMTP relay is wired per deployment.
func NewSendEmailHandler(logger *slog.Logger) asynq.HandlerFunc {
	return func(_ context.Context, t *asynq.Task) error {
		var payload EmailPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.To == "" {
			return asynq.SkipRetry
		}
		logger.Info("email delivered",
			slog.String("to", payload.To),
			slog.String("subject", payload.Subject))
		return nil
	}
}

// AccessProcessor is the slice of the access service the worker depends on.
type AccessProcessor interface {
	ScanRecordImage(ctx context.Context, recordID int64, image []byte) error
	WarmStatsCache(ctx context.Context) error
}

// NewVisionScanHandler processes TaskVisionScan tasks.
func NewVisionScanHandler(logger *slog.Logger, processor AccessProcessor) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload VisionScanPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.RecordID == 0 || len(payload.Image) == 0 {
			return asynq.SkipRetry
		}
		if err := processor.ScanRecordImage(ctx, payload.RecordID, payload.Image); err != nil {
			logger.Warn("vision scan failed",
				slog.Int64("record_id", payload.RecordID),
				slog.Any("error", err))
			return err
		}
		return nil
	}
}

// NewStatsWarmupHandler processes TaskStatsWarmup tasks.
func NewStatsWarmupHandler(logger *slog.Logger, processor AccessProcessor) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		if err := processor.WarmStatsCache(ctx); err != nil {
			logger.Warn("stats warmup failed", slog.Any("error", err))
			return err
		}
		return nil
	}
}
