package handler

import (
	"net/http"

	apptreasury "github.com/erp/treasury/internal/application/treasury"
	"github.com/erp/treasury/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TransferHandler serves transfers between two accounts of a tenant
type TransferHandler struct {
	BaseHandler
	transfers *apptreasury.TransferService
}

// NewTransferHandler creates a new TransferHandler
func NewTransferHandler(transfers *apptreasury.TransferService) *TransferHandler {
	return &TransferHandler{transfers: transfers}
}

// Create handles POST /transfers
func (h *TransferHandler) Create(c *gin.Context) {
	meta, ok := h.commandMeta(c)
	if !ok {
		return
	}
	var req dto.CreateTransferRequest
	if !h.bindJSON(c, &req) {
		return
	}
	date, err := dto.ParseDate(req.Date)
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	transfer, replayed, err := h.transfers.CreateTransfer(c.Request.Context(), apptreasury.CreateTransferCommand{
		CommandMeta:     meta,
		SourceAccountID: uuid.MustParse(req.SourceAccountID),
		DestAccountID:   uuid.MustParse(req.DestAccountID),
		Amount:          req.Amount,
		Date:            date,
		VoucherRef:      req.VoucherRef,
	})
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Command(c, http.StatusCreated, transfer, replayed)
}

// Get handles GET /transfers/:id
func (h *TransferHandler) Get(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	transfer, err := h.transfers.GetTransfer(c.Request.Context(), tenantID, id)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Success(c, transfer)
}
