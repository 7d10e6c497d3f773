package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/erp/treasury/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bindRouter() *gin.Engine {
	SetupValidator()
	router := gin.New()
	router.Use(RequestID())
	router.POST("/movements", func(c *gin.Context) {
		var req dto.AppendMovementRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.Status(http.StatusOK)
	})
	return router
}

func postJSON(router *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/movements", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func fieldMessages(t *testing.T, errObj map[string]any) map[string]string {
	t.Helper()
	out := map[string]string{}
	fields, _ := errObj["fields"].([]any)
	for _, f := range fields {
		m := f.(map[string]any)
		name, _ := m["field"].(string)
		out[name], _ = m["message"].(string)
	}
	return out
}

func TestValidation_FieldErrorsUseJSONNames(t *testing.T) {
	w := postJSON(bindRouter(), `{"date":"02/05/2024","amount":"1","direction":"SIDEWAYS"}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	errObj := errorBody(t, w)
	assert.Equal(t, dto.ErrCodeValidation, errObj["code"])
	assert.NotEmpty(t, errObj["request_id"])

	msgs := fieldMessages(t, errObj)
	assert.Equal(t, "Must be a date in YYYY-MM-DD format", msgs["date"])
	assert.Equal(t, "Must be one of: IN OUT", msgs["direction"])
}

func TestValidation_Required(t *testing.T) {
	w := postJSON(bindRouter(), `{"amount":"1"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	msgs := fieldMessages(t, errorBody(t, w))
	assert.Equal(t, "This field is required", msgs["date"])
	assert.Equal(t, "This field is required", msgs["direction"])
}

func TestValidation_MalformedJSON(t *testing.T) {
	w := postJSON(bindRouter(), `{"date":`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, []any{dto.ErrCodeInvalidJSON, dto.ErrCodeValidation}, errorBody(t, w)["code"])
}

func TestValidation_WrongType(t *testing.T) {
	w := postJSON(bindRouter(), `{"date":"2024-05-02","amount":"1","direction":"IN","description":42}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	errObj := errorBody(t, w)
	assert.Equal(t, dto.ErrCodeValidation, errObj["code"])
	assert.Equal(t, "Must be a string", fieldMessages(t, errObj)["description"])
}

func TestValidation_BadDecimal(t *testing.T) {
	w := postJSON(bindRouter(), `{"date":"2024-05-02","amount":"ten","direction":"IN"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, dto.ErrCodeValidation, errorBody(t, w)["code"])
}
