package router

import (
	"net/http"

	"github.com/erp/treasury/internal/infrastructure/logger"
	"github.com/erp/treasury/internal/interfaces/http/dto"
	"github.com/erp/treasury/internal/interfaces/http/handler"
	"github.com/erp/treasury/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// EngineConfig holds what the HTTP engine needs beyond the handlers
type EngineConfig struct {
	Logger         *zap.Logger
	Meter          metric.Meter
	Tracing        middleware.TracingConfig
	CORS           middleware.CORSConfig
	Security       middleware.SecurityConfig
	Idempotency    middleware.IdempotencyConfig
	MaxBodySize    int64
	MaxUploadSize  int64
	TrustedProxies []string
}

// NewEngine builds the gin engine with the middleware chain, the system
// health endpoints and the treasury API
func NewEngine(cfg EngineConfig, system *handler.SystemHandler, treasury TreasuryHandlers) (*gin.Engine, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}
	engine.HandleMethodNotAllowed = true

	engine.Use(
		logger.Recovery(log),
		middleware.RequestID(),
		logger.GinMiddleware(log),
		middleware.TracingWithConfig(cfg.Tracing),
		middleware.SecureWithConfig(cfg.Security),
		middleware.CORSWithConfig(cfg.CORS),
		middleware.HTTPMetrics(cfg.Meter),
	)
	engine.Use(middleware.BodyLimit(middleware.BodyLimitConfig{
		MaxBytes: cfg.MaxBodySize,
		PerRoute: map[string]int64{"/api/v1" + StatementImportPath: cfg.MaxUploadSize},
	}))

	engine.GET("/health", system.Health)
	engine.GET("/ready", system.Ready)

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, dto.NewErrorResponseWithRequestID(
			dto.ErrCodeRouteNotFound, "Route not found", middleware.GetRequestID(c)))
	})
	engine.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, dto.NewErrorResponseWithRequestID(
			dto.ErrCodeMethodNotAllowed, "Method not allowed", middleware.GetRequestID(c)))
	})

	api := NewTreasuryGroup(treasury).Use(
		middleware.TenantMiddleware(middleware.TenantMiddlewareConfig{Logger: log}),
		middleware.IdempotencyKey(cfg.Idempotency),
		middleware.SpanEnricher(),
	)

	NewRouter(engine).Register(api).Setup()
	return engine, nil
}
