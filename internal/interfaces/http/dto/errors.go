package dto

import (
	"net/http"
	"strings"
)

// Transport-level error codes. Domain codes pass through unchanged.
const (
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeInvalidJSON      = "INVALID_JSON"
	ErrCodeInvalidTenant    = "INVALID_TENANT"
	ErrCodeInvalidKey       = "INVALID_IDEMPOTENCY_KEY"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeRouteNotFound    = "ROUTE_NOT_FOUND"
	ErrCodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	ErrCodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	ErrCodeUnprocessable    = "UNPROCESSABLE"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes where the
// prefix and suffix rules of GetHTTPStatus do not apply
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:         http.StatusInternalServerError,
	ErrCodeValidation:       http.StatusBadRequest,
	ErrCodeMethodNotAllowed: http.StatusMethodNotAllowed,
	ErrCodePayloadTooLarge:  http.StatusRequestEntityTooLarge,

	// Conflicts -> 409
	"CONFLICT":                 http.StatusConflict,
	"CONCURRENT_OPERATION":     http.StatusConflict,
	"CONCURRENT_MODIFICATION":  http.StatusConflict,
	"IDEMPOTENCY_KEY_REUSED":   http.StatusConflict,
	"ALREADY_CLOSED":           http.StatusConflict,
	"STATEMENT_CLOSED":         http.StatusConflict,
	"UNRECONCILED_ITEMS":       http.StatusConflict,
	"MOVEMENT_ALREADY_MATCHED": http.StatusConflict,

	// Business rules -> 422
	"INSUFFICIENT_FUNDS":         http.StatusUnprocessableEntity,
	"ACCOUNT_NOT_IN_TENANT":      http.StatusUnprocessableEntity,
	"ACCOUNT_INACTIVE":           http.StatusUnprocessableEntity,
	"ALLOCATION_EXCEEDS_BALANCE": http.StatusUnprocessableEntity,
}

// GetHTTPStatus returns the HTTP status code for an error code.
// Explicit entries win, then INVALID_* maps to 400 and *_NOT_FOUND to 404.
// Any other code is a business rule violation (422); an empty code is 500.
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	switch {
	case code == "":
		return http.StatusInternalServerError
	case strings.HasPrefix(code, "INVALID_"):
		return http.StatusBadRequest
	case code == ErrCodeNotFound || strings.HasSuffix(code, "_NOT_FOUND"):
		return http.StatusNotFound
	default:
		return http.StatusUnprocessableEntity
	}
}
