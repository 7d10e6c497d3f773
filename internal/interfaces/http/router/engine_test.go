package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/erp/treasury/internal/application/idempotency"
	apptreasury "github.com/erp/treasury/internal/application/treasury"
	"github.com/erp/treasury/internal/domain/shared"
	"github.com/erp/treasury/internal/domain/treasury"
	"github.com/erp/treasury/internal/infrastructure/cache"
	"github.com/erp/treasury/internal/infrastructure/logger"
	"github.com/erp/treasury/internal/infrastructure/persistence"
	"github.com/erp/treasury/internal/infrastructure/persistence/models"
	"github.com/erp/treasury/internal/infrastructure/statementimport"
	"github.com/erp/treasury/internal/infrastructure/storage"
	"github.com/erp/treasury/internal/interfaces/http/handler"
	"github.com/erp/treasury/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type apiEnv struct {
	engine   *gin.Engine
	tenantID string
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func newAPIEnv(t *testing.T, ready error) *apiEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(
		&models.AccountModel{},
		&models.MovementModel{},
		&models.TransferModel{},
		&models.StatementModel{},
		&models.StatementLineModel{},
		&models.InvoiceModel{},
	))

	store := cache.NewInMemoryIdempotencyStore(0)
	t.Cleanup(func() { _ = store.Close() })

	deps := apptreasury.Dependencies{
		Repos:    persistence.NewRepositories(db),
		TxScope:  persistence.NewGormTransactionScope(db),
		Executor: idempotency.NewExecutor(store, shared.DefaultIdempotencyConfig(), zap.NewNop()),
		Logger:   zap.NewNop(),
		Now:      func() time.Time { return time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC) },
	}
	parser, err := statementimport.NewCSVStatementParser()
	require.NoError(t, err)

	system := handler.NewSystemHandler("treasury", "test", map[string]handler.Pinger{
		"database": handler.PingFunc(func(ctx context.Context) error {
			if ready != nil {
				return ready
			}
			return sqlDB.PingContext(ctx)
		}),
	})
	engine, err := NewEngine(EngineConfig{
		Logger:        zap.NewNop(),
		Tracing:       middleware.TracingConfig{Enabled: false},
		CORS:          middleware.DefaultCORSConfig(),
		Security:      middleware.DefaultSecurityConfig(),
		MaxBodySize:   1 << 20,
		MaxUploadSize: 2 << 20,
	}, system, TreasuryHandlers{
		Accounts:    handler.NewAccountHandler(apptreasury.NewLedgerService(deps)),
		Transfers:   handler.NewTransferHandler(apptreasury.NewTransferService(deps)),
		Receivables: handler.NewReceivablesHandler(apptreasury.NewReceivablesService(deps)),
		Statements: handler.NewStatementHandler(
			apptreasury.NewReconciliationService(deps, treasury.DefaultMatchConfig(), storage.NewMemoryAttachmentStorage(), parser),
			handler.DefaultMaxStatementFileSize,
		),
		Reports: handler.NewReportHandler(apptreasury.NewReportService(deps, apptreasury.DefaultReportConfig(), nil)),
	})
	require.NoError(t, err)
	return &apiEnv{engine: engine, tenantID: uuid.NewString()}
}

func (e *apiEnv) do(t *testing.T, method, path, key string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderTenantID, e.tenantID)
	if key != "" {
		req.Header.Set(middleware.HeaderIdempotencyKey, key)
	}
	return e.serve(t, req)
}

func (e *apiEnv) serve(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func (e *apiEnv) createAccount(t *testing.T, code, kind string) string {
	t.Helper()
	w, body := e.do(t, http.MethodPost, "/api/v1/treasury/accounts", "", map[string]any{
		"code": code, "name": code, "kind": kind,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var acc apptreasury.AccountResponse
	require.NoError(t, json.Unmarshal(body.Data, &acc))
	return acc.ID.String()
}

func TestEngine_SystemEndpoints(t *testing.T) {
	env := newAPIEnv(t, nil)

	w, body := env.serve(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, body.Success)
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))

	w, _ = env.serve(t, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	down := newAPIEnv(t, errors.New("connection refused"))
	w, body = down.serve(t, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.False(t, body.Success)
}

func TestEngine_UnknownRoutes(t *testing.T) {
	env := newAPIEnv(t, nil)

	w, body := env.do(t, http.MethodGet, "/api/v1/treasury/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ROUTE_NOT_FOUND", body.Error.Code)

	w, body = env.do(t, http.MethodDelete, "/api/v1/treasury/accounts", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "METHOD_NOT_ALLOWED", body.Error.Code)
}

func TestEngine_TenantRequired(t *testing.T) {
	env := newAPIEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/treasury/accounts", nil)
	w, body := env.serve(t, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_TENANT", body.Error.Code)
}

func TestEngine_AccountsAndMovements(t *testing.T) {
	env := newAPIEnv(t, nil)
	cash := env.createAccount(t, "CAJA-01", "CASH")

	w, _ := env.do(t, http.MethodPost, "/api/v1/treasury/accounts/"+cash+"/movements", "", map[string]any{
		"date": "2024-04-01", "amount": "100.50", "direction": "IN", "description": "opening",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	t.Run("overdraft on cash is unprocessable", func(t *testing.T) {
		w, body := env.do(t, http.MethodPost, "/api/v1/treasury/accounts/"+cash+"/movements", "", map[string]any{
			"date": "2024-04-02", "amount": "200", "direction": "OUT",
		})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, treasury.CodeInsufficientFunds, body.Error.Code)
	})

	t.Run("balance is a decimal string", func(t *testing.T) {
		w, body := env.do(t, http.MethodGet, "/api/v1/treasury/accounts/"+cash+"/balance?as_of=2024-04-30", "", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var raw map[string]any
		require.NoError(t, json.Unmarshal(body.Data, &raw))
		balance, ok := raw["balance"].(string)
		require.True(t, ok, "balance must be encoded as a string")
		assert.True(t, decimal.RequireFromString(balance).Equal(decimal.RequireFromString("100.50")))
	})

	t.Run("movements are paginated", func(t *testing.T) {
		w, _ := env.do(t, http.MethodGet, "/api/v1/treasury/accounts/"+cash+"/movements?page=1&page_size=10", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Meta struct {
				Total int64 `json:"total"`
			} `json:"meta"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, int64(1), resp.Meta.Total)
	})

	t.Run("bad date is a validation error", func(t *testing.T) {
		w, body := env.do(t, http.MethodGet, "/api/v1/treasury/accounts/"+cash+"/balance?as_of=30/04/2024", "", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)
	})

	t.Run("bad id is rejected", func(t *testing.T) {
		w, body := env.do(t, http.MethodGet, "/api/v1/treasury/accounts/not-a-uuid/balance", "", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_REQUEST", body.Error.Code)
	})

	t.Run("unknown account is not found", func(t *testing.T) {
		w, body := env.do(t, http.MethodGet, "/api/v1/treasury/accounts/"+uuid.NewString()+"/balance", "", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, treasury.CodeAccountNotFound, body.Error.Code)
	})
}

func TestEngine_IdempotentReplay(t *testing.T) {
	env := newAPIEnv(t, nil)
	payload := map[string]any{"code": "BANCO-01", "name": "Main bank", "kind": "BANK"}

	first, body1 := env.do(t, http.MethodPost, "/api/v1/treasury/accounts", "create-bank", payload)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	assert.Empty(t, first.Header().Get(logger.ReplayedHeader))

	second, body2 := env.do(t, http.MethodPost, "/api/v1/treasury/accounts", "create-bank", payload)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(logger.ReplayedHeader))
	assert.JSONEq(t, string(body1.Data), string(body2.Data))

	other := env.createAccount(t, "CAJA-01", "CASH")
	w, body := env.do(t, http.MethodPost, "/api/v1/treasury/transfers", "create-bank", map[string]any{
		"source_account_id": other,
		"dest_account_id":   other,
		"amount":            "1",
		"date":              "2024-04-01",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, shared.CodeIdempotencyKeyReused, body.Error.Code)
}

func TestEngine_TransferRoundTrip(t *testing.T) {
	env := newAPIEnv(t, nil)
	bank := env.createAccount(t, "BANCO-01", "BANK")
	cash := env.createAccount(t, "CAJA-01", "CASH")
	env.do(t, http.MethodPost, "/api/v1/treasury/accounts/"+bank+"/movements", "", map[string]any{
		"date": "2024-04-01", "amount": "500", "direction": "IN",
	})

	w, body := env.do(t, http.MethodPost, "/api/v1/treasury/transfers", "tr-1", map[string]any{
		"source_account_id": bank,
		"dest_account_id":   cash,
		"amount":            "120.00",
		"date":              "2024-04-03",
		"voucher_ref":       "V-1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var tr apptreasury.TransferResponse
	require.NoError(t, json.Unmarshal(body.Data, &tr))
	assert.Len(t, tr.Movements, 2)

	w, _ = env.do(t, http.MethodGet, "/api/v1/treasury/transfers/"+tr.ID.String(), "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, body = env.do(t, http.MethodGet, "/api/v1/treasury/transfers/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, treasury.CodeTransferNotFound, body.Error.Code)
}

func TestEngine_StatementImport(t *testing.T) {
	env := newAPIEnv(t, nil)
	bank := env.createAccount(t, "BANCO-01", "BANK")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("account_id", bank))
	require.NoError(t, mw.WriteField("period_start", "2024-04-01"))
	require.NoError(t, mw.WriteField("period_end", "2024-04-30"))
	part, err := mw.CreateFormFile("file", "april.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("Date,Amount,Description\n2024-04-02,100.00,Deposit\n2024-04-03,-20.50,Fee\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/treasury/statements/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(middleware.HeaderTenantID, env.tenantID)
	req.Header.Set(middleware.HeaderIdempotencyKey, "import-april")
	w, body := env.serve(t, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var st apptreasury.StatementResponse
	require.NoError(t, json.Unmarshal(body.Data, &st))
	assert.Len(t, st.Lines, 2)
	assert.Equal(t, 2, st.Pending)

	w, _ = env.do(t, http.MethodGet, "/api/v1/treasury/statements/"+st.ID.String(), "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, body = env.do(t, http.MethodPost, "/api/v1/treasury/statements/"+st.ID.String()+"/close", "", map[string]any{})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, treasury.CodeUnreconciledItems, body.Error.Code)
	assert.EqualValues(t, 2, body.Error.Details["count"])

	w, _ = env.do(t, http.MethodDelete, "/api/v1/treasury/statements/"+st.ID.String(), "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestEngine_Reports(t *testing.T) {
	env := newAPIEnv(t, nil)

	w, _ := env.do(t, http.MethodGet, "/api/v1/treasury/reports/aging?as_of=2024-05-01", "", nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = env.do(t, http.MethodGet, "/api/v1/treasury/reports/forecast?days=30", "", nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, body := env.do(t, http.MethodPost, "/api/v1/treasury/proration", "", map[string]any{
		"old_plan":     map[string]any{"name": "basic", "price": "30"},
		"new_plan":     map[string]any{"name": "pro", "price": "60"},
		"old_cycle":    "MONTHLY",
		"new_cycle":    "MONTHLY",
		"period_start": "2024-04-01",
		"period_end":   "2024-05-01",
		"change_date":  "2024-04-16",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, body.Success)
}
