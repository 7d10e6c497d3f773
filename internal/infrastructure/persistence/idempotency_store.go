package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/treasury/internal/domain/shared"
	"github.com/erp/treasury/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormIdempotencyStore implements shared.IdempotencyStore on the idempotency_records table.
// The (tenant_id, idempotency_key) primary key serializes concurrent Begin calls.
type GormIdempotencyStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormIdempotencyStore creates a new GormIdempotencyStore
func NewGormIdempotencyStore(db *gorm.DB) *GormIdempotencyStore {
	return &GormIdempotencyStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *GormIdempotencyStore) find(ctx context.Context, tenantID uuid.UUID, key string) (*shared.IdempotencyRecord, error) {
	var model models.IdempotencyRecordModel
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND idempotency_key = ?", tenantID, key).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Begin claims the key. Existing FAILED or expired records are taken over
// with a conditional update so only one caller wins.
func (s *GormIdempotencyStore) Begin(ctx context.Context, tenantID uuid.UUID, key, operation string, ttl time.Duration) (*shared.IdempotencyRecord, bool, error) {
	record := shared.NewIdempotencyRecord(tenantID, key, operation, ttl)
	now := s.now()
	record.CreatedAt, record.UpdatedAt, record.ExpiresAt = now, now, now.Add(ttl)

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(models.IdempotencyRecordModelFromDomain(record))
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 1 {
		return record, true, nil
	}

	existing, err := s.find(ctx, tenantID, key)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		// Purged between the insert and the read; let the caller retry.
		return nil, false, shared.ErrConcurrencyConflict
	}
	if !existing.CanReenter(now) {
		return existing, false, nil
	}

	result = s.db.WithContext(ctx).
		Model(&models.IdempotencyRecordModel{}).
		Where("tenant_id = ? AND idempotency_key = ?", tenantID, key).
		Where("status = ? OR expires_at <= ?", shared.IdempotencyStatusFailed, now).
		Updates(map[string]interface{}{
			"operation_name": operation,
			"status":         shared.IdempotencyStatusProcessing,
			"stored_result":  nil,
			"error_message":  "",
			"created_at":     now,
			"updated_at":     now,
			"expires_at":     now.Add(ttl),
		})
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 1 {
		return record, true, nil
	}

	// Another caller re-entered first.
	existing, err = s.find(ctx, tenantID, key)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, shared.ErrConcurrencyConflict
	}
	return existing, false, nil
}

// Complete stores the result and marks the record COMPLETED
func (s *GormIdempotencyStore) Complete(ctx context.Context, tenantID uuid.UUID, key string, result []byte) error {
	return s.finish(ctx, tenantID, key, map[string]interface{}{
		"status":        shared.IdempotencyStatusCompleted,
		"stored_result": result,
	})
}

// Fail marks the record FAILED
func (s *GormIdempotencyStore) Fail(ctx context.Context, tenantID uuid.UUID, key, reason string) error {
	return s.finish(ctx, tenantID, key, map[string]interface{}{
		"status":        shared.IdempotencyStatusFailed,
		"error_message": reason,
	})
}

func (s *GormIdempotencyStore) finish(ctx context.Context, tenantID uuid.UUID, key string, updates map[string]interface{}) error {
	updates["updated_at"] = s.now()
	result := s.db.WithContext(ctx).
		Model(&models.IdempotencyRecordModel{}).
		Where("tenant_id = ? AND idempotency_key = ? AND status = ?", tenantID, key, shared.IdempotencyStatusProcessing).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.NewDomainError(shared.CodeInvalidState, "Idempotency record is not in progress")
	}
	return nil
}

// PurgeExpired deletes records that expired before now
func (s *GormIdempotencyStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", now.UTC()).
		Delete(&models.IdempotencyRecordModel{})
	return result.RowsAffected, result.Error
}

var _ shared.IdempotencyStore = (*GormIdempotencyStore)(nil)
