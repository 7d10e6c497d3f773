package models

import (
	"time"

	"github.com/erp/treasury/internal/domain/shared"
	"github.com/google/uuid"
)

// IdempotencyRecordModel is the persistence model for command deduplication records
type IdempotencyRecordModel struct {
	TenantID      uuid.UUID                `gorm:"type:uuid;primaryKey"`
	Key           string                   `gorm:"column:idempotency_key;type:varchar(255);primaryKey"`
	OperationName string                   `gorm:"type:varchar(100);not null"`
	Status        shared.IdempotencyStatus `gorm:"type:varchar(20);not null"`
	StoredResult  []byte
	ErrorMessage  string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
	ExpiresAt     time.Time `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (IdempotencyRecordModel) TableName() string {
	return "idempotency_records"
}

// ToDomain converts the model to a domain IdempotencyRecord
func (m *IdempotencyRecordModel) ToDomain() *shared.IdempotencyRecord {
	return &shared.IdempotencyRecord{
		TenantID:      m.TenantID,
		Key:           m.Key,
		OperationName: m.OperationName,
		Status:        m.Status,
		StoredResult:  m.StoredResult,
		ErrorMessage:  m.ErrorMessage,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
		ExpiresAt:     m.ExpiresAt,
	}
}

// IdempotencyRecordModelFromDomain creates a model from a domain IdempotencyRecord
func IdempotencyRecordModelFromDomain(r *shared.IdempotencyRecord) *IdempotencyRecordModel {
	return &IdempotencyRecordModel{
		TenantID:      r.TenantID,
		Key:           r.Key,
		OperationName: r.OperationName,
		Status:        r.Status,
		StoredResult:  r.StoredResult,
		ErrorMessage:  r.ErrorMessage,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		ExpiresAt:     r.ExpiresAt,
	}
}
