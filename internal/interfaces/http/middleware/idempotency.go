package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/erp/treasury/internal/infrastructure/logger"
	"github.com/erp/treasury/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// MaxIdempotencyKeyLength is the longest key accepted in the header
const MaxIdempotencyKeyLength = 255

// IdempotencyConfig controls how command requests get their key
type IdempotencyConfig struct {
	// DeriveFromBody hashes method, path and body when the header is absent
	DeriveFromBody bool
}

// IdempotencyKey reads the Idempotency-Key header of mutating requests. When
// the header is missing and DeriveFromBody is set, the key is the SHA-256 of
// method, path and body, so a byte-identical retry replays the first result.
// Safe methods pass through untouched.
func IdempotencyKey(cfg IdempotencyConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if len(key) > MaxIdempotencyKeyLength {
			c.AbortWithStatusJSON(http.StatusBadRequest, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeInvalidKey, "Idempotency-Key must be at most 255 characters", GetRequestID(c),
			))
			return
		}

		if key == "" && cfg.DeriveFromBody {
			derived, err := deriveKey(c.Request)
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, dto.NewErrorResponseWithRequestID(
						dto.ErrCodePayloadTooLarge, "Request body exceeds maximum allowed size", GetRequestID(c),
					))
					return
				}
				c.AbortWithStatusJSON(http.StatusBadRequest, dto.NewErrorResponseWithRequestID(
					dto.ErrCodeInvalidRequest, "Failed to read request body", GetRequestID(c),
				))
				return
			}
			key = derived
		}

		if key != "" {
			c.Set(IdempotencyKeyKey, key)
			ctx := c.Request.Context()
			ctx, _ = logger.WithIdempotencyKey(ctx, logger.FromContext(ctx), key)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

// deriveKey hashes the request and restores its body for the handler
func deriveKey(r *http.Request) (string, error) {
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		_ = r.Body.Close()
		if err != nil {
			return "", err
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{'\n'})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{'\n'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// GetIdempotencyKey returns the key of the current command, empty for none
func GetIdempotencyKey(c *gin.Context) string {
	return c.GetString(IdempotencyKeyKey)
}
