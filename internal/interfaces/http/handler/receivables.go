package handler

import (
	"net/http"

	apptreasury "github.com/erp/treasury/internal/application/treasury"
	"github.com/erp/treasury/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ReceivablesHandler serves invoices and incoming payments
type ReceivablesHandler struct {
	BaseHandler
	receivables *apptreasury.ReceivablesService
}

// NewReceivablesHandler creates a new ReceivablesHandler
func NewReceivablesHandler(receivables *apptreasury.ReceivablesService) *ReceivablesHandler {
	return &ReceivablesHandler{receivables: receivables}
}

// RegisterInvoice handles POST /invoices
func (h *ReceivablesHandler) RegisterInvoice(c *gin.Context) {
	meta, ok := h.commandMeta(c)
	if !ok {
		return
	}
	var req dto.RegisterInvoiceRequest
	if !h.bindJSON(c, &req) {
		return
	}
	issue, err := dto.ParseDate(req.IssueDate)
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	due, err := dto.ParseDate(req.DueDate)
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	invoice, replayed, err := h.receivables.RegisterInvoice(c.Request.Context(), apptreasury.RegisterInvoiceCommand{
		CommandMeta: meta,
		ClientID:    uuid.MustParse(req.ClientID),
		ClientName:  req.ClientName,
		Number:      req.Number,
		Total:       req.Total,
		IssueDate:   issue,
		DueDate:     due,
	})
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Command(c, http.StatusCreated, invoice, replayed)
}

// AllocatePayment handles POST /payments
func (h *ReceivablesHandler) AllocatePayment(c *gin.Context) {
	meta, ok := h.commandMeta(c)
	if !ok {
		return
	}
	var req dto.AllocatePaymentRequest
	if !h.bindJSON(c, &req) {
		return
	}
	date, err := dto.ParseDate(req.Date)
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	payment, replayed, err := h.receivables.AllocatePayment(c.Request.Context(), apptreasury.AllocatePaymentCommand{
		CommandMeta: meta,
		AccountID:   uuid.MustParse(req.AccountID),
		ClientID:    uuid.MustParse(req.ClientID),
		Amount:      req.Amount,
		Date:        date,
		Strategy:    req.StrategyType(),
		Allocations: req.PlannedAllocations(),
		Description: req.Description,
	})
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Command(c, http.StatusCreated, payment, replayed)
}
