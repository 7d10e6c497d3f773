// Package idempotency runs state-mutating commands at most once per
// (tenant, idempotency key).
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/erp/treasury/internal/domain/shared"
	"github.com/erp/treasury/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxKeyLength bounds client supplied keys
const MaxKeyLength = 255

// Executor gates commands through an IdempotencyStore
type Executor struct {
	store   shared.IdempotencyStore
	config  shared.IdempotencyConfig
	logger  *zap.Logger
	metrics *telemetry.TreasuryMetrics
}

// NewExecutor creates an Executor. A zero TTL falls back to the default.
func NewExecutor(store shared.IdempotencyStore, cfg shared.IdempotencyConfig, logger *zap.Logger) *Executor {
	if cfg.TTL <= 0 {
		cfg.TTL = shared.DefaultIdempotencyConfig().TTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{store: store, config: cfg, logger: logger}
}

// SetMetrics sets the metrics collector
func (e *Executor) SetMetrics(m *telemetry.TreasuryMetrics) {
	e.metrics = m
}

// Execute runs fn unless (tenantID, key) already completed, in which case the
// stored result is decoded and returned with replayed=true. An empty key, a
// nil executor or a disabled config runs fn directly.
//
// The record is marked COMPLETED after fn returns. If that write fails the
// result is still returned; the record stays PROCESSING until it expires, so
// retries conflict instead of executing twice.
func Execute[T any](
	ctx context.Context,
	e *Executor,
	tenantID uuid.UUID,
	key, operation string,
	fn func(ctx context.Context) (T, error),
) (result T, replayed bool, err error) {
	if e == nil || !e.config.Enabled || key == "" {
		result, err = fn(ctx)
		return result, false, err
	}
	if len(key) > MaxKeyLength {
		return result, false, shared.NewValidationError("Idempotency key cannot exceed %d characters", MaxKeyLength)
	}

	start := time.Now()
	ctx, span := telemetry.StartServiceSpan(ctx, "idempotency", "execute",
		telemetry.SpanAttrOperation, operation,
		telemetry.SpanAttrIdempotencyKey, key,
	)
	defer span.End()

	record, acquired, err := e.store.Begin(ctx, tenantID, key, operation, e.config.TTL)
	if err != nil {
		telemetry.RecordError(span, err)
		return result, false, fmt.Errorf("idempotency begin: %w", err)
	}

	if !acquired {
		switch {
		case record.OperationName != operation:
			e.metrics.RecordIdempotency(ctx, operation, telemetry.IdempotencyConflict, time.Since(start))
			return result, false, shared.ErrIdempotencyKeyReused.
				WithDetail("idempotency_key", key).
				WithDetail("operation", record.OperationName)
		case record.Status == shared.IdempotencyStatusCompleted:
			if err := json.Unmarshal(record.StoredResult, &result); err != nil {
				telemetry.RecordError(span, err)
				return result, false, fmt.Errorf("idempotency decode stored result: %w", err)
			}
			telemetry.SetAttributes(span, telemetry.SpanAttrReplayed, true)
			e.metrics.RecordIdempotency(ctx, operation, telemetry.IdempotencyReplayed, time.Since(start))
			return result, true, nil
		default:
			e.metrics.RecordIdempotency(ctx, operation, telemetry.IdempotencyConflict, time.Since(start))
			return result, false, shared.ErrConcurrentOperation.WithDetail("idempotency_key", key)
		}
	}

	// The terminal transition must survive a cancelled request context.
	bookkeeping := context.WithoutCancel(ctx)

	result, err = fn(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		if failErr := e.store.Fail(bookkeeping, tenantID, key, err.Error()); failErr != nil {
			e.logger.Error("Failed to mark idempotency record failed",
				zap.String("tenant_id", tenantID.String()),
				zap.String("idempotency_key", key),
				zap.String("operation", operation),
				zap.Error(failErr),
			)
		}
		e.metrics.RecordIdempotency(ctx, operation, telemetry.IdempotencyFailed, time.Since(start))
		return result, false, err
	}

	payload, err := json.Marshal(result)
	if err == nil {
		err = e.store.Complete(bookkeeping, tenantID, key, payload)
	}
	if err != nil {
		e.logger.Error("Failed to complete idempotency record; key stays locked until expiry",
			zap.String("tenant_id", tenantID.String()),
			zap.String("idempotency_key", key),
			zap.String("operation", operation),
			zap.Error(err),
		)
	}

	e.metrics.RecordIdempotency(ctx, operation, telemetry.IdempotencyExecuted, time.Since(start))
	return result, false, nil
}

// IsConflict reports whether err means the key is held or reused
func IsConflict(err error) bool {
	return errors.Is(err, shared.ErrConcurrentOperation) || errors.Is(err, shared.ErrIdempotencyKeyReused)
}
