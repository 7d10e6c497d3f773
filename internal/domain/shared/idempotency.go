package shared

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Idempotency error codes
const (
	CodeConcurrentOperation  = "CONCURRENT_OPERATION"
	CodeIdempotencyKeyReused = "IDEMPOTENCY_KEY_REUSED"
)

var (
	// ErrConcurrentOperation is returned while another execution holds the key
	ErrConcurrentOperation = NewDomainError(CodeConcurrentOperation, "Operation with this idempotency key is still in progress")
	// ErrIdempotencyKeyReused is returned when a key is replayed for a different operation
	ErrIdempotencyKeyReused = NewDomainError(CodeIdempotencyKeyReused, "Idempotency key was used for a different operation")
)

// IdempotencyStatus is the lifecycle state of a deduplicated command
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "PROCESSING"
	IdempotencyStatusCompleted  IdempotencyStatus = "COMPLETED"
	IdempotencyStatusFailed     IdempotencyStatus = "FAILED"
)

// IsTerminal returns true for COMPLETED and FAILED
func (s IdempotencyStatus) IsTerminal() bool {
	return s == IdempotencyStatusCompleted || s == IdempotencyStatusFailed
}

// IdempotencyRecord tracks one command execution identified by (TenantID, Key)
type IdempotencyRecord struct {
	TenantID      uuid.UUID
	Key           string
	OperationName string
	Status        IdempotencyStatus
	StoredResult  []byte
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ExpiresAt     time.Time
}

// NewIdempotencyRecord creates a PROCESSING record expiring after ttl
func NewIdempotencyRecord(tenantID uuid.UUID, key, operation string, ttl time.Duration) *IdempotencyRecord {
	now := time.Now().UTC()
	return &IdempotencyRecord{
		TenantID:      tenantID,
		Key:           key,
		OperationName: operation,
		Status:        IdempotencyStatusProcessing,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
}

// IsExpired reports whether the record outlived its retry window
func (r *IdempotencyRecord) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// CanReenter reports whether a new execution may claim the key
func (r *IdempotencyRecord) CanReenter(now time.Time) bool {
	return r.Status == IdempotencyStatusFailed || r.IsExpired(now)
}

// IdempotencyStore persists command records keyed by (tenant, key).
// Implementations must make Begin atomic with respect to concurrent callers.
type IdempotencyStore interface {
	// Begin claims the key with a PROCESSING record. When the key is already
	// held by a live PROCESSING or COMPLETED record, acquired is false and the
	// existing record is returned. FAILED and expired records are overwritten.
	Begin(ctx context.Context, tenantID uuid.UUID, key, operation string, ttl time.Duration) (record *IdempotencyRecord, acquired bool, err error)

	// Complete stores the encoded result and marks the record COMPLETED
	Complete(ctx context.Context, tenantID uuid.UUID, key string, result []byte) error

	// Fail marks the record FAILED so the key can be retried
	Fail(ctx context.Context, tenantID uuid.UUID, key, reason string) error

	// PurgeExpired deletes records whose ExpiresAt is before now
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// IdempotencyConfig holds configuration for idempotency handling
type IdempotencyConfig struct {
	// TTL is how long a key is remembered. Default: 24 hours
	TTL time.Duration

	// Enabled determines whether keys are honoured at all
	Enabled bool
}

// DefaultIdempotencyConfig returns the default idempotency configuration
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     24 * time.Hour,
		Enabled: true,
	}
}
