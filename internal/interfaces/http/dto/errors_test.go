package dto

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{ErrCodeInternal, http.StatusInternalServerError},
		{"", http.StatusInternalServerError},
		{ErrCodeValidation, http.StatusBadRequest},
		{ErrCodeInvalidJSON, http.StatusBadRequest},
		{"INVALID_INPUT", http.StatusBadRequest},
		{"INVALID_CYCLE", http.StatusBadRequest},
		{ErrCodeNotFound, http.StatusNotFound},
		{"ACCOUNT_NOT_FOUND", http.StatusNotFound},
		{"STATEMENT_LINE_NOT_FOUND", http.StatusNotFound},
		{"CONFLICT", http.StatusConflict},
		{"CONCURRENT_OPERATION", http.StatusConflict},
		{"CONCURRENT_MODIFICATION", http.StatusConflict},
		{"IDEMPOTENCY_KEY_REUSED", http.StatusConflict},
		{"ALREADY_CLOSED", http.StatusConflict},
		{"STATEMENT_CLOSED", http.StatusConflict},
		{"UNRECONCILED_ITEMS", http.StatusConflict},
		{"MOVEMENT_ALREADY_MATCHED", http.StatusConflict},
		{"INSUFFICIENT_FUNDS", http.StatusUnprocessableEntity},
		{"ACCOUNT_NOT_IN_TENANT", http.StatusUnprocessableEntity},
		{"ACCOUNT_INACTIVE", http.StatusUnprocessableEntity},
		{"ALLOCATION_EXCEEDS_BALANCE", http.StatusUnprocessableEntity},
		{ErrCodePayloadTooLarge, http.StatusRequestEntityTooLarge},
		// Unlisted domain codes are business rule violations
		{"SOMETHING_ELSE", http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetHTTPStatus(tt.code))
		})
	}
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse(ErrCodeInternal, "boom")
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInternal, resp.Error.Code)
	assert.Equal(t, "boom", resp.Error.Message)
	assert.Empty(t, resp.Error.RequestID)
}

func TestNewErrorResponseWithRequestID(t *testing.T) {
	resp := NewErrorResponseWithRequestID("ACCOUNT_NOT_FOUND", "Account not found", "req-123")
	require.NotNil(t, resp.Error)
	assert.Equal(t, "req-123", resp.Error.RequestID)
}

func TestNewDetailedErrorResponse(t *testing.T) {
	resp := NewDetailedErrorResponse("UNRECONCILED_ITEMS", "Statement has unreconciled items", "req-1", map[string]any{"count": 2})
	require.NotNil(t, resp.Error)
	assert.Equal(t, 2, resp.Error.Details["count"])

	empty := NewDetailedErrorResponse("CONFLICT", "conflict", "req-2", nil)
	assert.Nil(t, empty.Error.Details)
}

func TestNewValidationErrorResponse(t *testing.T) {
	fields := []ValidationDetail{
		{Field: "amount", Message: "amount is required"},
		{Field: "date", Message: "date must be a date in YYYY-MM-DD format"},
	}
	resp := NewValidationErrorResponse("Request validation failed", "req-9", fields)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeValidation, resp.Error.Code)
	assert.Equal(t, fields, resp.Error.Fields)
}

func TestErrorResponseJSON(t *testing.T) {
	resp := NewDetailedErrorResponse("UNRECONCILED_ITEMS", "Statement has unreconciled items", "req-1", map[string]any{"count": 3})
	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, false, decoded["success"])
	assert.NotContains(t, decoded, "data")
	errObj := decoded["error"].(map[string]any)
	assert.Equal(t, "UNRECONCILED_ITEMS", errObj["code"])
	assert.Equal(t, "req-1", errObj["request_id"])
	assert.Equal(t, float64(3), errObj["details"].(map[string]any)["count"])
	assert.NotContains(t, errObj, "fields")
}

func TestNewSuccessResponse(t *testing.T) {
	resp := NewSuccessResponse(map[string]string{"id": "1"})
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	assert.Nil(t, resp.Meta)
}

func TestNewSuccessResponseWithMeta(t *testing.T) {
	tests := []struct {
		name       string
		total      int64
		pageSize   int
		totalPages int
	}{
		{"exact pages", 40, 20, 2},
		{"partial last page", 41, 20, 3},
		{"empty", 0, 20, 0},
		{"zero page size", 10, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := NewSuccessResponseWithMeta([]int{}, tt.total, 1, tt.pageSize)
			require.NotNil(t, resp.Meta)
			assert.Equal(t, tt.totalPages, resp.Meta.TotalPages)
			assert.Equal(t, tt.total, resp.Meta.Total)
		})
	}
}

func TestPageRequest_Normalize(t *testing.T) {
	p := PageRequest{}
	p.Normalize()
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 20, p.PageSize)

	p = PageRequest{Page: 3, PageSize: 50}
	p.Normalize()
	assert.Equal(t, 3, p.Page)
	assert.Equal(t, 50, p.PageSize)
}
