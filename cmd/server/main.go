package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erp/treasury/internal/application/idempotency"
	apptreasury "github.com/erp/treasury/internal/application/treasury"
	"github.com/erp/treasury/internal/domain/shared"
	"github.com/erp/treasury/internal/domain/treasury"
	"github.com/erp/treasury/internal/infrastructure/cache"
	"github.com/erp/treasury/internal/infrastructure/config"
	"github.com/erp/treasury/internal/infrastructure/event"
	"github.com/erp/treasury/internal/infrastructure/logger"
	"github.com/erp/treasury/internal/infrastructure/migration"
	"github.com/erp/treasury/internal/infrastructure/persistence"
	"github.com/erp/treasury/internal/infrastructure/scheduler"
	"github.com/erp/treasury/internal/infrastructure/statementimport"
	"github.com/erp/treasury/internal/infrastructure/storage"
	"github.com/erp/treasury/internal/infrastructure/telemetry"
	"github.com/erp/treasury/internal/interfaces/http/handler"
	"github.com/erp/treasury/internal/interfaces/http/middleware"
	"github.com/erp/treasury/internal/interfaces/http/router"
	"github.com/erp/treasury/migrations"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	ctx := context.Background()

	// Telemetry: traces, metrics and the zap -> OTLP logs bridge
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    cfg.App.Version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    cfg.App.Version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	loggerProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    cfg.App.Version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	log = telemetry.Bridge(log, loggerProvider, logger.ParseLevel(cfg.Telemetry.LogsLevel))

	log.Info("Starting treasury service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", cfg.App.Version),
	)

	meter := meterProvider.Meter("treasury")
	treasuryMetrics, err := telemetry.NewTreasuryMetrics(meter)
	if err != nil {
		log.Fatal("Failed to create treasury metrics", zap.Error(err))
	}

	// Database
	db, err := persistence.NewDatabase(&cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		DBName:          cfg.Database.DBName,
		LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
	}, log); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}

	if cfg.Database.MigrateOnStart {
		if err := migrate(db, log); err != nil {
			log.Fatal("Failed to apply migrations", zap.Error(err))
		}
	}

	// Redis is optional. It backs the redis idempotency store and the L2
	// report cache.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedisClient(ctx, cache.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Warn("Redis unavailable", zap.Error(err))
			redisClient = nil
		} else {
			defer func() { _ = redisClient.Close() }()
			log.Info("Redis connected", zap.String("host", cfg.Redis.Host))
		}
	}

	// Idempotency
	storeOpts := []cache.IdempotencyStoreFactoryOption{
		cache.WithLogger(log),
		cache.WithDatabaseStore(persistence.NewGormIdempotencyStore(db.DB)),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
	}
	if redisClient != nil {
		storeOpts = append(storeOpts, cache.WithRedisClient(redisClient))
	}
	idempotencyStore, err := cache.NewIdempotencyStoreFactory(cfg.Idempotency, storeOpts...).CreateStore()
	if err != nil {
		log.Fatal("Failed to create idempotency store", zap.Error(err))
	}
	executor := idempotency.NewExecutor(idempotencyStore, shared.IdempotencyConfig{
		TTL:     cfg.Idempotency.TTL,
		Enabled: cfg.Idempotency.Enabled,
	}, log)
	executor.SetMetrics(treasuryMetrics)

	// Event bus: handlers run in-process after the command commits
	eventBus := event.NewInMemoryEventBus(log)
	eventBus.Subscribe(event.NewAuditLogHandler(log))

	deps := apptreasury.Dependencies{
		Repos:     db.Repositories(),
		TxScope:   persistence.NewGormTransactionScope(db.DB),
		Executor:  executor,
		Publisher: eventBus,
		Logger:    log,
		Metrics:   treasuryMetrics,
	}

	// Attachments and statement import
	attachments, err := newAttachmentStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize attachment storage", zap.Error(err))
	}
	parser, err := statementimport.NewCSVStatementParser()
	if err != nil {
		log.Fatal("Failed to create statement parser", zap.Error(err))
	}

	// Report cache
	var reportCache apptreasury.ReportCache
	if cfg.ReportCache.Enabled {
		var client redis.UniversalClient
		if redisClient != nil {
			client = redisClient
		}
		rc := cache.NewReportCache(cfg.ReportCache, client, log)
		if tiered, ok := rc.(*cache.TieredReportCache); ok {
			if err := tiered.StartInvalidationSubscription(ctx); err != nil {
				log.Warn("Report cache invalidation subscription failed", zap.Error(err))
			}
			defer func() { _ = tiered.Close() }()
		}
		reportCache = rc
	}

	// Application services
	ledgerService := apptreasury.NewLedgerService(deps)
	transferService := apptreasury.NewTransferService(deps)
	receivablesService := apptreasury.NewReceivablesService(deps)
	reconciliationService := apptreasury.NewReconciliationService(deps, treasury.MatchConfig{
		DateToleranceDays: cfg.Matching.DateToleranceDays,
		MaxSuggestions:    cfg.Matching.MaxSuggestions,
	}, attachments, parser)
	reportService := apptreasury.NewReportService(deps, apptreasury.ReportConfig{
		AgingBoundaries: cfg.Aging.DefaultBuckets,
		ForecastDefaults: treasury.ForecastDefaults{
			Days:              cfg.Forecast.Days,
			CollectionRatePct: cfg.Forecast.CollectionRatePct,
			DelayDays:         cfg.Forecast.DelayDays,
			SafetyMarginPct:   cfg.Forecast.SafetyMarginPct,
			HistoricalDays:    cfg.Forecast.HistoricalDays,
		},
	}, reportCache)
	eventBus.Subscribe(apptreasury.NewReportCacheInvalidationHandler(reportService, log))

	// Maintenance jobs
	jobScheduler := scheduler.NewScheduler(scheduler.DefaultSchedulerConfig(),
		scheduler.NewMaintenanceExecutor(idempotencyStore, reconciliationService, scheduler.MaintenanceConfig{
			AttachmentRetention: cfg.Storage.AttachmentRetention,
			PurgeBatchSize:      cfg.Storage.PurgeBatchSize,
		}, log), log)
	if err := jobScheduler.Start(ctx); err != nil {
		log.Fatal("Failed to start scheduler", zap.Error(err))
	}
	trigger := scheduler.NewIntervalTrigger(scheduler.TriggerConfig{
		Intervals: []scheduler.Interval{
			{Type: scheduler.JobTypeIdempotencyPurge, Every: cfg.Idempotency.PurgeInterval},
			{Type: scheduler.JobTypeAttachmentPurge, Every: cfg.Storage.PurgeInterval},
		},
	}, jobScheduler, log)
	if err := trigger.Start(ctx); err != nil {
		log.Fatal("Failed to start maintenance trigger", zap.Error(err))
	}

	// HTTP
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	checks := map[string]handler.Pinger{
		"database": handler.PingFunc(func(ctx context.Context) error {
			sqlDB, err := db.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}),
	}
	if redisClient != nil {
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	corsConfig := middleware.DefaultCORSConfig()
	if len(cfg.HTTP.CORSAllowOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	}
	if len(cfg.HTTP.CORSAllowMethods) > 0 {
		corsConfig.AllowMethods = cfg.HTTP.CORSAllowMethods
	}
	if len(cfg.HTTP.CORSAllowHeaders) > 0 {
		corsConfig.AllowHeaders = cfg.HTTP.CORSAllowHeaders
	}

	engine, err := router.NewEngine(router.EngineConfig{
		Logger: log,
		Meter:  meter,
		Tracing: middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     tracerProvider.IsEnabled(),
		},
		CORS:           corsConfig,
		Security:       middleware.DefaultSecurityConfig(),
		Idempotency:    middleware.IdempotencyConfig{DeriveFromBody: cfg.Idempotency.DeriveFromBody},
		MaxBodySize:    cfg.HTTP.MaxBodySize,
		MaxUploadSize:  cfg.HTTP.MaxUploadSize,
		TrustedProxies: cfg.HTTP.TrustedProxies,
	}, handler.NewSystemHandler(cfg.App.Name, cfg.App.Version, checks), router.TreasuryHandlers{
		Accounts:    handler.NewAccountHandler(ledgerService),
		Transfers:   handler.NewTransferHandler(transferService),
		Receivables: handler.NewReceivablesHandler(receivablesService),
		Statements:  handler.NewStatementHandler(reconciliationService, handler.DefaultMaxStatementFileSize),
		Reports:     handler.NewReportHandler(reportService),
	})
	if err != nil {
		log.Fatal("Failed to build HTTP engine", zap.Error(err))
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := trigger.Stop(shutdownCtx); err != nil {
		log.Warn("Maintenance trigger stop failed", zap.Error(err))
	}
	if err := jobScheduler.Stop(shutdownCtx); err != nil {
		log.Warn("Scheduler stop failed", zap.Error(err))
	}
	if closer, ok := idempotencyStore.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Warn("Tracer provider shutdown failed", zap.Error(err))
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Warn("Meter provider shutdown failed", zap.Error(err))
	}
	if err := loggerProvider.Shutdown(shutdownCtx); err != nil {
		log.Warn("Logger provider shutdown failed", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// migrate applies the embedded migrations
func migrate(db *persistence.Database, log *zap.Logger) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	m, err := migration.New(sqlDB, migration.WithSource(migrations.FS), migration.WithLogger(log))
	if err != nil {
		return err
	}
	return m.Up()
}

// newAttachmentStorage selects the statement attachment backend
func newAttachmentStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (apptreasury.AttachmentStorage, error) {
	switch cfg.Storage.Backend {
	case "", "memory":
		log.Warn("Using in-memory attachment storage; files are lost on restart")
		return storage.NewMemoryAttachmentStorage(), nil
	case "s3":
		s3, err := storage.NewS3AttachmentStorage(&cfg.Storage, storage.WithLogger(log))
		if err != nil {
			return nil, err
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		log.Info("Using S3 attachment storage", zap.String("bucket", s3.Bucket()))
		return s3, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
