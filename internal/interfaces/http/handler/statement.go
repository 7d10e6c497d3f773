package handler

import (
	"net/http"
	"path/filepath"

	apptreasury "github.com/erp/treasury/internal/application/treasury"
	"github.com/erp/treasury/internal/domain/shared"
	"github.com/erp/treasury/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DefaultMaxStatementFileSize caps uploaded statement files
const DefaultMaxStatementFileSize int64 = 5 << 20

// StatementHandler serves bank statements and their reconciliation
type StatementHandler struct {
	BaseHandler
	reconciliation *apptreasury.ReconciliationService
	maxFileSize    int64
}

// NewStatementHandler creates a new StatementHandler. A maxFileSize of zero
// uses DefaultMaxStatementFileSize.
func NewStatementHandler(reconciliation *apptreasury.ReconciliationService, maxFileSize int64) *StatementHandler {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxStatementFileSize
	}
	return &StatementHandler{reconciliation: reconciliation, maxFileSize: maxFileSize}
}

// Create handles POST /statements with lines in the JSON body
func (h *StatementHandler) Create(c *gin.Context) {
	meta, ok := h.commandMeta(c)
	if !ok {
		return
	}
	var req dto.CreateStatementRequest
	if !h.bindJSON(c, &req) {
		return
	}
	start, err := dto.ParseDate(req.PeriodStart)
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	end, err := dto.ParseDate(req.PeriodEnd)
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	lines, err := req.LineInputs()
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	statement, replayed, err := h.reconciliation.CreateStatement(c.Request.Context(), apptreasury.CreateStatementCommand{
		CommandMeta: meta,
		AccountID:   uuid.MustParse(req.AccountID),
		PeriodStart: start,
		PeriodEnd:   end,
		Lines:       lines,
	})
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Command(c, http.StatusCreated, statement, replayed)
}

// Import handles POST /statements/import, a multipart form with the CSV in
// the "file" part
func (h *StatementHandler) Import(c *gin.Context) {
	meta, ok := h.commandMeta(c)
	if !ok {
		return
	}
	var req dto.ImportStatementRequest
	if err := c.ShouldBind(&req); err != nil {
		h.validationFailed(c, err)
		return
	}
	start, err := dto.ParseDate(req.PeriodStart)
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	end, err := dto.ParseDate(req.PeriodEnd)
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		h.BadRequest(c, "A statement file is required in the 'file' form field")
		return
	}
	if header.Size > h.maxFileSize {
		h.Error(c, http.StatusRequestEntityTooLarge, dto.ErrCodePayloadTooLarge, "Statement file exceeds maximum allowed size")
		return
	}
	file, err := header.Open()
	if err != nil {
		h.BadRequest(c, "Failed to read the uploaded file")
		return
	}
	defer file.Close()

	statement, replayed, err := h.reconciliation.ImportStatement(c.Request.Context(), apptreasury.ImportStatementCommand{
		CommandMeta: meta,
		AccountID:   uuid.MustParse(req.AccountID),
		PeriodStart: start,
		PeriodEnd:   end,
		FileName:    filepath.Base(header.Filename),
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		File:        file,
	})
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Command(c, http.StatusCreated, statement, replayed)
}

// List handles GET /statements
func (h *StatementHandler) List(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	var req dto.ListStatementsRequest
	if !h.bindQuery(c, &req) {
		return
	}
	req.Normalize()
	var accountID *uuid.UUID
	if req.AccountID != "" {
		id := uuid.MustParse(req.AccountID)
		accountID = &id
	}

	page, err := h.reconciliation.ListStatements(c.Request.Context(), tenantID, accountID, shared.Filter{
		Page:     req.Page,
		PageSize: req.PageSize,
	})
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.SuccessWithMeta(c, page.Items, page.Total, page.Page, page.PageSize)
}

// Get handles GET /statements/:id
func (h *StatementHandler) Get(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	statement, err := h.reconciliation.GetStatement(c.Request.Context(), tenantID, id)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Success(c, statement)
}

// Discard handles DELETE /statements/:id
func (h *StatementHandler) Discard(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	if err := h.reconciliation.DiscardStatement(c.Request.Context(), tenantID, id); err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.NoContent(c)
}

// Match handles POST /statements/:id/match. Matching is naturally
// repeatable, so it runs without an idempotency record.
func (h *StatementHandler) Match(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	summary, err := h.reconciliation.Match(c.Request.Context(), tenantID, id)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Success(c, summary)
}

// ResolveLine handles POST /statements/:id/lines/:lineId/resolve
func (h *StatementHandler) ResolveLine(c *gin.Context) {
	meta, ok := h.commandMeta(c)
	if !ok {
		return
	}
	statementID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	lineID, ok := h.uuidParam(c, "lineId")
	if !ok {
		return
	}
	var req dto.ResolveLineRequest
	if !h.bindJSON(c, &req) {
		return
	}

	statement, replayed, err := h.reconciliation.ResolveLine(c.Request.Context(), apptreasury.ResolveLineCommand{
		CommandMeta: meta,
		StatementID: statementID,
		LineID:      lineID,
		MovementID:  uuid.MustParse(req.MovementID),
	})
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Command(c, http.StatusOK, statement, replayed)
}

// Close handles POST /statements/:id/close
func (h *StatementHandler) Close(c *gin.Context) {
	meta, ok := h.commandMeta(c)
	if !ok {
		return
	}
	statementID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.CloseStatementRequest
	if c.Request.ContentLength != 0 && !h.bindJSON(c, &req) {
		return
	}

	result, replayed, err := h.reconciliation.Close(c.Request.Context(), apptreasury.CloseStatementCommand{
		CommandMeta:        meta,
		StatementID:        statementID,
		Justifications:     req.DomainJustifications(),
		ForceClose:         req.ForceClose,
		GenerateAdjustment: req.GenerateAdjustment,
		RealBankBalance:    req.RealBankBalance,
	})
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Command(c, http.StatusOK, result, replayed)
}
