package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/erp/treasury/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultIdempotencyKeyPrefix = "treasury:idempotency:"
	maxCASAttempts              = 5
)

// RedisIdempotencyStore implements IdempotencyStore using Redis.
// Records expire through the Redis TTL, so PurgeExpired is a no-op.
type RedisIdempotencyStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisIdempotencyStoreWithClient creates a store with an existing Redis client.
// The caller keeps ownership of the client.
func NewRedisIdempotencyStoreWithClient(client redis.UniversalClient, keyPrefix string) *RedisIdempotencyStore {
	if keyPrefix == "" {
		keyPrefix = defaultIdempotencyKeyPrefix
	}
	return &RedisIdempotencyStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (s *RedisIdempotencyStore) key(tenantID uuid.UUID, key string) string {
	return s.keyPrefix + tenantID.String() + ":" + key
}

// redisRecord is the JSON layout of a record stored in Redis
type redisRecord struct {
	Operation    string    `json:"operation"`
	Status       string    `json:"status"`
	Result       []byte    `json:"result,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func encodeRecord(r *shared.IdempotencyRecord) ([]byte, error) {
	return json.Marshal(redisRecord{
		Operation:    r.OperationName,
		Status:       string(r.Status),
		Result:       r.StoredResult,
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		ExpiresAt:    r.ExpiresAt,
	})
}

func decodeRecord(tenantID uuid.UUID, key string, data []byte) (*shared.IdempotencyRecord, error) {
	var rr redisRecord
	if err := json.Unmarshal(data, &rr); err != nil {
		return nil, fmt.Errorf("failed to decode idempotency record: %w", err)
	}
	return &shared.IdempotencyRecord{
		TenantID:      tenantID,
		Key:           key,
		OperationName: rr.Operation,
		Status:        shared.IdempotencyStatus(rr.Status),
		StoredResult:  rr.Result,
		ErrorMessage:  rr.ErrorMessage,
		CreatedAt:     rr.CreatedAt,
		UpdatedAt:     rr.UpdatedAt,
		ExpiresAt:     rr.ExpiresAt,
	}, nil
}

// Begin claims the key with SETNX. When the key exists, a FAILED or expired
// record is replaced under WATCH so two callers cannot both win.
func (s *RedisIdempotencyStore) Begin(ctx context.Context, tenantID uuid.UUID, key, operation string, ttl time.Duration) (*shared.IdempotencyRecord, bool, error) {
	k := s.key(tenantID, key)
	record := shared.NewIdempotencyRecord(tenantID, key, operation, ttl)
	data, err := encodeRecord(record)
	if err != nil {
		return nil, false, err
	}

	ok, err := s.client.SetNX(ctx, k, data, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	if ok {
		return record, true, nil
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		var existing *shared.IdempotencyRecord
		acquired := false

		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, k).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return err
			default:
				existing, err = decodeRecord(tenantID, key, raw)
				if err != nil {
					return err
				}
				if !existing.CanReenter(time.Now().UTC()) {
					return nil
				}
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, k, data, ttl)
				return nil
			})
			if err == nil {
				acquired = true
			}
			return err
		}, k)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to claim idempotency key: %w", err)
		}
		if acquired {
			return record, true, nil
		}
		return existing, false, nil
	}

	return nil, false, fmt.Errorf("failed to claim idempotency key after %d attempts", maxCASAttempts)
}

// Complete stores the result and marks the record COMPLETED, keeping the TTL
func (s *RedisIdempotencyStore) Complete(ctx context.Context, tenantID uuid.UUID, key string, result []byte) error {
	return s.finish(ctx, tenantID, key, func(r *shared.IdempotencyRecord) {
		r.Status = shared.IdempotencyStatusCompleted
		r.StoredResult = result
	})
}

// Fail marks the record FAILED, keeping the TTL
func (s *RedisIdempotencyStore) Fail(ctx context.Context, tenantID uuid.UUID, key, reason string) error {
	return s.finish(ctx, tenantID, key, func(r *shared.IdempotencyRecord) {
		r.Status = shared.IdempotencyStatusFailed
		r.ErrorMessage = reason
	})
}

func (s *RedisIdempotencyStore) finish(ctx context.Context, tenantID uuid.UUID, key string, apply func(*shared.IdempotencyRecord)) error {
	k := s.key(tenantID, key)

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, k).Bytes()
			if errors.Is(err, redis.Nil) {
				return shared.NewDomainError(shared.CodeInvalidState, "Idempotency record is not in progress")
			}
			if err != nil {
				return err
			}

			record, err := decodeRecord(tenantID, key, raw)
			if err != nil {
				return err
			}
			if record.Status != shared.IdempotencyStatusProcessing {
				return shared.NewDomainError(shared.CodeInvalidState, "Idempotency record is not in progress")
			}
			apply(record)
			record.UpdatedAt = time.Now().UTC()

			data, err := encodeRecord(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, k, data, redis.KeepTTL)
				return nil
			})
			return err
		}, k)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if _, ok := shared.AsDomainError(err); ok {
				return err
			}
			return fmt.Errorf("failed to update idempotency record: %w", err)
		}
		return nil
	}

	return fmt.Errorf("failed to update idempotency record after %d attempts", maxCASAttempts)
}

// PurgeExpired is a no-op; Redis expires keys on its own
func (s *RedisIdempotencyStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

var _ shared.IdempotencyStore = (*RedisIdempotencyStore)(nil)
