package router

import (
	"github.com/erp/treasury/internal/interfaces/http/handler"
)

// StatementImportPath is the multipart upload route, relative to the API base
const StatementImportPath = "/treasury/statements/import"

// TreasuryHandlers are the handlers mounted under /api/v1/treasury
type TreasuryHandlers struct {
	Accounts    *handler.AccountHandler
	Transfers   *handler.TransferHandler
	Receivables *handler.ReceivablesHandler
	Statements  *handler.StatementHandler
	Reports     *handler.ReportHandler
}

// NewTreasuryGroup builds the treasury route group
func NewTreasuryGroup(h TreasuryHandlers) *DomainGroup {
	g := NewDomainGroup("treasury", "/treasury")

	g.POST("/accounts", h.Accounts.Create).
		GET("/accounts", h.Accounts.List).
		POST("/accounts/:id/deactivate", h.Accounts.Deactivate).
		GET("/accounts/:id/balance", h.Accounts.Balance).
		GET("/accounts/:id/movements", h.Accounts.ListMovements).
		POST("/accounts/:id/movements", h.Accounts.AppendMovement).
		POST("/movements/:id/reverse", h.Accounts.ReverseMovement).
		GET("/position", h.Accounts.Position)

	g.POST("/transfers", h.Transfers.Create).
		GET("/transfers/:id", h.Transfers.Get)

	g.POST("/invoices", h.Receivables.RegisterInvoice).
		POST("/payments", h.Receivables.AllocatePayment)

	g.POST("/statements", h.Statements.Create).
		POST("/statements/import", h.Statements.Import).
		GET("/statements", h.Statements.List).
		GET("/statements/:id", h.Statements.Get).
		DELETE("/statements/:id", h.Statements.Discard).
		POST("/statements/:id/match", h.Statements.Match).
		POST("/statements/:id/lines/:lineId/resolve", h.Statements.ResolveLine).
		POST("/statements/:id/close", h.Statements.Close)

	g.GET("/reports/aging", h.Reports.Aging).
		GET("/reports/forecast", h.Reports.Forecast).
		POST("/proration", h.Reports.Prorate)

	return g
}
