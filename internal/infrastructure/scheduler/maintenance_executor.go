package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/treasury/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// IdempotencyPurger deletes expired idempotency records
type IdempotencyPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// AttachmentPurger deletes stored files of statements discarded before now-retention
type AttachmentPurger interface {
	PurgeAttachments(ctx context.Context, now time.Time, retention time.Duration, limit int) (int, error)
}

// MaintenanceConfig tunes the maintenance jobs
type MaintenanceConfig struct {
	AttachmentRetention time.Duration
	PurgeBatchSize      int
	// MaxBatches bounds one attachment purge run
	MaxBatches int
}

// MaintenanceExecutor runs the maintenance job types
type MaintenanceExecutor struct {
	idempotency IdempotencyPurger
	attachments AttachmentPurger
	config      MaintenanceConfig
	logger      *zap.Logger
	now         func() time.Time
}

// NewMaintenanceExecutor creates an executor. Either purger may be nil, in
// which case its job type is a no-op.
func NewMaintenanceExecutor(idempotency IdempotencyPurger, attachments AttachmentPurger, config MaintenanceConfig, logger *zap.Logger) *MaintenanceExecutor {
	if config.PurgeBatchSize <= 0 {
		config.PurgeBatchSize = 100
	}
	if config.MaxBatches <= 0 {
		config.MaxBatches = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MaintenanceExecutor{
		idempotency: idempotency,
		attachments: attachments,
		config:      config,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Execute implements JobExecutor
func (e *MaintenanceExecutor) Execute(ctx context.Context, job *Job) error {
	ctx, span := telemetry.StartSpan(ctx, "scheduler.execute",
		"job_id", job.ID.String(),
		"job_type", string(job.Type),
	)
	defer span.End()

	var err error
	switch job.Type {
	case JobTypeIdempotencyPurge:
		err = e.purgeIdempotency(ctx)
	case JobTypeAttachmentPurge:
		err = e.purgeAttachments(ctx)
	default:
		err = fmt.Errorf("%w: %s", ErrInvalidJobType, job.Type)
	}
	if err != nil {
		telemetry.RecordError(span, err)
	}
	return err
}

func (e *MaintenanceExecutor) purgeIdempotency(ctx context.Context) error {
	if e.idempotency == nil {
		return nil
	}
	n, err := e.idempotency.PurgeExpired(ctx, e.now())
	if err != nil {
		return fmt.Errorf("failed to purge idempotency records: %w", err)
	}
	if n > 0 {
		e.logger.Info("Expired idempotency records purged", zap.Int64("count", n))
	}
	return nil
}

// purgeAttachments works in batches until a short batch is returned
func (e *MaintenanceExecutor) purgeAttachments(ctx context.Context) error {
	if e.attachments == nil {
		return nil
	}
	total := 0
	for i := 0; i < e.config.MaxBatches; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := e.attachments.PurgeAttachments(ctx, e.now(), e.config.AttachmentRetention, e.config.PurgeBatchSize)
		total += n
		if err != nil {
			return fmt.Errorf("failed to purge statement attachments after %d: %w", total, err)
		}
		if n < e.config.PurgeBatchSize {
			break
		}
	}
	if total > 0 {
		e.logger.Info("Statement attachments purged",
			zap.Int("count", total),
			zap.Duration("retention", e.config.AttachmentRetention),
		)
	}
	return nil
}
