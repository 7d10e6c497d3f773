package middleware

import (
	"net/http"

	"github.com/erp/treasury/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// BodyLimitConfig caps request bodies. PerRoute is keyed by the matched gin
// route (c.FullPath()) and replaces MaxBytes for that route, so statement
// uploads can be larger than JSON commands.
type BodyLimitConfig struct {
	MaxBytes int64
	PerRoute map[string]int64
}

// BodyLimit rejects requests that declare a body larger than the limit and
// caps streamed bodies at the same size.
func BodyLimit(cfg BodyLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := cfg.MaxBytes
		if override, ok := cfg.PerRoute[c.FullPath()]; ok {
			limit = override
		}
		if limit <= 0 {
			c.Next()
			return
		}

		if c.Request.ContentLength > limit {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, dto.NewErrorResponseWithRequestID(
				dto.ErrCodePayloadTooLarge,
				"Request body exceeds maximum allowed size",
				GetRequestID(c),
			))
			return
		}

		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}
