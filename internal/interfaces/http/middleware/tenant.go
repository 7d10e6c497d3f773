package middleware

import (
	"net/http"
	"strings"

	"github.com/erp/treasury/internal/infrastructure/logger"
	"github.com/erp/treasury/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxUserIDLength bounds the X-User-ID header recorded on movements
const MaxUserIDLength = 100

// TenantMiddlewareConfig holds configuration for tenant middleware
type TenantMiddlewareConfig struct {
	// SkipPaths are paths that don't require tenant context (e.g., health check)
	SkipPaths []string
	// Logger for middleware logging
	Logger *zap.Logger
}

// DefaultTenantConfig returns default tenant middleware configuration
func DefaultTenantConfig() TenantMiddlewareConfig {
	return TenantMiddlewareConfig{
		SkipPaths: []string{"/health", "/healthz", "/ready"},
	}
}

// TenantMiddleware resolves the calling tenant from X-Tenant-ID and the
// acting user from X-User-ID. Authentication happens upstream; the tenant
// header is required and must be a UUID.
func TenantMiddleware(cfg TenantMiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, skipPath := range cfg.SkipPaths {
			if path == skipPath || strings.HasPrefix(path, skipPath+"/") {
				c.Next()
				return
			}
		}

		raw := strings.TrimSpace(c.GetHeader(HeaderTenantID))
		if raw == "" {
			respondInvalidTenant(c, "X-Tenant-ID header is required")
			return
		}
		tenantID, err := uuid.Parse(raw)
		if err != nil || tenantID == uuid.Nil {
			respondInvalidTenant(c, "X-Tenant-ID must be a UUID")
			return
		}

		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if len(userID) > MaxUserIDLength {
			respondInvalidTenant(c, "X-User-ID is too long")
			return
		}

		c.Set(TenantIDKey, tenantID)
		ctx := c.Request.Context()
		ctx, log := logger.WithTenantID(ctx, logger.FromContext(ctx), tenantID.String())
		if userID != "" {
			c.Set(UserIDKey, userID)
			ctx, log = logger.WithUserID(ctx, log, userID)
		}
		c.Set("logger", log)
		c.Request = c.Request.WithContext(ctx)

		if cfg.Logger != nil {
			cfg.Logger.Debug("Tenant identified",
				zap.String("tenant_id", tenantID.String()),
				zap.String("user_id", userID),
			)
		}
		c.Next()
	}
}

func respondInvalidTenant(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, dto.NewErrorResponseWithRequestID(
		dto.ErrCodeInvalidTenant, message, GetRequestID(c),
	))
}

// GetTenantID retrieves the tenant resolved by TenantMiddleware
func GetTenantID(c *gin.Context) (uuid.UUID, bool) {
	v, exists := c.Get(TenantIDKey)
	if !exists {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// GetUserID retrieves the acting user, empty when the caller sent none
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
