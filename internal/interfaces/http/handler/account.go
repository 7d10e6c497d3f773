package handler

import (
	"net/http"
	"time"

	apptreasury "github.com/erp/treasury/internal/application/treasury"
	"github.com/erp/treasury/internal/domain/treasury"
	"github.com/erp/treasury/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// AccountHandler serves accounts, balances and ledger movements
type AccountHandler struct {
	BaseHandler
	ledger *apptreasury.LedgerService
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(ledger *apptreasury.LedgerService) *AccountHandler {
	return &AccountHandler{ledger: ledger}
}

// Create handles POST /accounts
func (h *AccountHandler) Create(c *gin.Context) {
	meta, ok := h.commandMeta(c)
	if !ok {
		return
	}
	var req dto.CreateAccountRequest
	if !h.bindJSON(c, &req) {
		return
	}

	account, replayed, err := h.ledger.CreateAccount(c.Request.Context(), apptreasury.CreateAccountCommand{
		CommandMeta:   meta,
		Code:          req.Code,
		Name:          req.Name,
		Kind:          treasury.AccountKind(req.Kind),
		AllowNegative: req.AllowNegative,
	})
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Command(c, http.StatusCreated, account, replayed)
}

// List handles GET /accounts
func (h *AccountHandler) List(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	var req dto.ListAccountsRequest
	if !h.bindQuery(c, &req) {
		return
	}

	accounts, err := h.ledger.ListAccounts(c.Request.Context(), tenantID, req.ActiveOnly)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Success(c, accounts)
}

// Deactivate handles POST /accounts/:id/deactivate
func (h *AccountHandler) Deactivate(c *gin.Context) {
	meta, ok := h.commandMeta(c)
	if !ok {
		return
	}
	accountID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	account, replayed, err := h.ledger.DeactivateAccount(c.Request.Context(), meta, accountID)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Command(c, http.StatusOK, account, replayed)
}

// Balance handles GET /accounts/:id/balance?as_of=
func (h *AccountHandler) Balance(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	accountID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.BalanceRequest
	if !h.bindQuery(c, &req) {
		return
	}
	asOf, err := dto.ParseOptionalDate(req.AsOf, time.Time{})
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	balance, err := h.ledger.GetBalance(c.Request.Context(), tenantID, accountID, asOf)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Success(c, balance)
}

// Position handles GET /position?as_of=
func (h *AccountHandler) Position(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	var req dto.BalanceRequest
	if !h.bindQuery(c, &req) {
		return
	}
	asOf, err := dto.ParseOptionalDate(req.AsOf, time.Time{})
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	position, err := h.ledger.PositionAsOf(c.Request.Context(), tenantID, asOf)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Success(c, position)
}

// ListMovements handles GET /accounts/:id/movements
func (h *AccountHandler) ListMovements(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	accountID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.ListMovementsRequest
	if !h.bindQuery(c, &req) {
		return
	}
	req.Normalize()
	from, err := dto.ParseOptionalDate(req.From, time.Time{})
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	to, err := dto.ParseOptionalDate(req.To, time.Time{})
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	page, err := h.ledger.ListMovements(c.Request.Context(), apptreasury.ListMovementsQuery{
		TenantID:  tenantID,
		AccountID: accountID,
		From:      from,
		To:        to,
		Page:      req.Page,
		PageSize:  req.PageSize,
	})
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.SuccessWithMeta(c, page.Items, page.Total, page.Page, page.PageSize)
}

// AppendMovement handles POST /accounts/:id/movements
func (h *AccountHandler) AppendMovement(c *gin.Context) {
	meta, ok := h.commandMeta(c)
	if !ok {
		return
	}
	accountID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.AppendMovementRequest
	if !h.bindJSON(c, &req) {
		return
	}
	date, err := dto.ParseDate(req.Date)
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	movement, replayed, err := h.ledger.AppendMovement(c.Request.Context(), apptreasury.AppendMovementCommand{
		CommandMeta: meta,
		AccountID:   accountID,
		Date:        date,
		Amount:      req.Amount,
		Direction:   treasury.Direction(req.Direction),
		Description: req.Description,
	})
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Command(c, http.StatusCreated, movement, replayed)
}

// ReverseMovement handles POST /movements/:id/reverse
func (h *AccountHandler) ReverseMovement(c *gin.Context) {
	meta, ok := h.commandMeta(c)
	if !ok {
		return
	}
	movementID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.ReverseMovementRequest
	if !h.bindJSON(c, &req) {
		return
	}
	date, err := dto.ParseOptionalDate(req.Date, time.Time{})
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	movement, replayed, err := h.ledger.ReverseMovement(c.Request.Context(), apptreasury.ReverseMovementCommand{
		CommandMeta: meta,
		MovementID:  movementID,
		Date:        date,
		Reason:      req.Reason,
	})
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Command(c, http.StatusCreated, movement, replayed)
}
