package handler

import (
	"time"

	apptreasury "github.com/erp/treasury/internal/application/treasury"
	"github.com/erp/treasury/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ReportHandler serves aging, forecast and proration
type ReportHandler struct {
	BaseHandler
	reports *apptreasury.ReportService
}

// NewReportHandler creates a new ReportHandler
func NewReportHandler(reports *apptreasury.ReportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// Aging handles GET /reports/aging?as_of=&buckets=&client_id=
func (h *ReportHandler) Aging(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	var req dto.AgingRequest
	if !h.bindQuery(c, &req) {
		return
	}
	asOf, err := dto.ParseOptionalDate(req.AsOf, time.Time{})
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	var clientID *uuid.UUID
	if req.ClientID != "" {
		id := uuid.MustParse(req.ClientID)
		clientID = &id
	}

	report, err := h.reports.Aging(c.Request.Context(), apptreasury.AgingQuery{
		TenantID: tenantID,
		AsOf:     asOf,
		Buckets:  req.Buckets,
		ClientID: clientID,
	})
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Success(c, report)
}

// Forecast handles GET /reports/forecast
func (h *ReportHandler) Forecast(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	var req dto.ForecastRequest
	if !h.bindQuery(c, &req) {
		return
	}

	forecast, err := h.reports.Forecast(c.Request.Context(), apptreasury.ForecastQuery{
		TenantID: tenantID,
		Input:    req.Input(),
	})
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Success(c, forecast)
}

// Prorate handles POST /proration. It is a pure calculation and stores nothing.
func (h *ReportHandler) Prorate(c *gin.Context) {
	if _, ok := h.tenantID(c); !ok {
		return
	}
	var req dto.ProrationRequest
	if !h.bindJSON(c, &req) {
		return
	}
	domainReq, err := req.ToDomain()
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	result, err := h.reports.Prorate(c.Request.Context(), domainReq)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Success(c, result)
}
