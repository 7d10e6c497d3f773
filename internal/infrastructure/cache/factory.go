package cache

import (
	"context"
	"fmt"

	"github.com/erp/treasury/internal/domain/shared"
	"github.com/erp/treasury/internal/infrastructure/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Idempotency store backends
const (
	BackendMemory   = "memory"
	BackendDatabase = "database"
	BackendRedis    = "redis"
)

// ReportCache is the behaviour shared by every report cache in this package
type ReportCache interface {
	Get(ctx context.Context, tenantID uuid.UUID, key string) ([]byte, bool, error)
	Set(ctx context.Context, tenantID uuid.UUID, key string, value []byte) error
	Generation(ctx context.Context, tenantID uuid.UUID) (int64, error)
	SetIfCurrent(ctx context.Context, tenantID uuid.UUID, gen int64, key string, value []byte) (bool, error)
	InvalidateTenant(ctx context.Context, tenantID uuid.UUID) error
}

var (
	_ ReportCache = (*InMemoryReportCache)(nil)
	_ ReportCache = (*RedisReportCache)(nil)
	_ ReportCache = (*TieredReportCache)(nil)
)

// IdempotencyStoreFactory creates idempotency stores based on configuration
type IdempotencyStoreFactory struct {
	cfg                   config.IdempotencyConfig
	redisClient           redis.UniversalClient
	databaseStore         shared.IdempotencyStore
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// IdempotencyStoreFactoryOption is a functional option for configuring the factory
type IdempotencyStoreFactoryOption func(*IdempotencyStoreFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) IdempotencyStoreFactoryOption {
	return func(f *IdempotencyStoreFactory) {
		f.logger = logger
	}
}

// WithRedisClient provides the client used by the redis backend
func WithRedisClient(client redis.UniversalClient) IdempotencyStoreFactoryOption {
	return func(f *IdempotencyStoreFactory) {
		f.redisClient = client
	}
}

// WithDatabaseStore provides the store used by the database backend
func WithDatabaseStore(store shared.IdempotencyStore) IdempotencyStoreFactoryOption {
	return func(f *IdempotencyStoreFactory) {
		f.databaseStore = store
	}
}

// WithInMemoryFallback controls whether a missing redis client falls back to memory.
// Default is false: a misconfigured shared store must not silently go local.
func WithInMemoryFallback(allow bool) IdempotencyStoreFactoryOption {
	return func(f *IdempotencyStoreFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewIdempotencyStoreFactory creates a new factory
func NewIdempotencyStoreFactory(cfg config.IdempotencyConfig, opts ...IdempotencyStoreFactoryOption) *IdempotencyStoreFactory {
	f := &IdempotencyStoreFactory{
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateStore returns the store selected by the backend setting
func (f *IdempotencyStoreFactory) CreateStore() (shared.IdempotencyStore, error) {
	switch f.cfg.Backend {
	case BackendDatabase, "":
		if f.databaseStore == nil {
			return nil, fmt.Errorf("database idempotency store not provided")
		}
		f.logger.Info("Using database idempotency store")
		return f.databaseStore, nil

	case BackendRedis:
		if f.redisClient != nil {
			f.logger.Info("Using Redis idempotency store")
			return NewRedisIdempotencyStoreWithClient(f.redisClient, ""), nil
		}
		if !f.allowInMemoryFallback {
			return nil, fmt.Errorf("redis idempotency backend configured but Redis is unavailable")
		}
		f.logger.Warn("Redis unavailable, falling back to in-memory idempotency store. " +
			"Retries reaching another instance will execute again.")
		return NewInMemoryIdempotencyStore(f.cfg.PurgeInterval), nil

	case BackendMemory:
		f.logger.Info("Using in-memory idempotency store")
		return NewInMemoryIdempotencyStore(f.cfg.PurgeInterval), nil

	default:
		return nil, fmt.Errorf("unknown idempotency backend %q", f.cfg.Backend)
	}
}

// NewReportCache builds the report cache described by cfg. A nil client or
// disabled L2 yields a local cache only.
func NewReportCache(cfg config.ReportCacheConfig, client redis.UniversalClient, logger *zap.Logger) ReportCache {
	l1 := NewInMemoryReportCache(cfg.TTL, cfg.MaxEntries)
	if !cfg.RedisL2 || client == nil {
		return l1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l2 := NewRedisReportCache(client, "", cfg.TTL)
	invalidator := NewReportCacheInvalidator(client, WithInvalidatorLogger(logger))
	return NewTieredReportCache(l1, l2, invalidator, logger)
}
