package dto

import (
	"fmt"
	"strings"
	"time"

	"github.com/erp/treasury/internal/domain/treasury"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DateLayout is the wire format of calendar dates
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD date as UTC midnight
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}

// ParseOptionalDate parses s, returning fallback when s is empty
func ParseOptionalDate(s string, fallback time.Time) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return fallback, nil
	}
	return ParseDate(s)
}

// ---------------------------------------------------------------------------
// Accounts and movements
// ---------------------------------------------------------------------------

// CreateAccountRequest is the body of POST /accounts
type CreateAccountRequest struct {
	Code          string `json:"code" binding:"required,max=50"`
	Name          string `json:"name" binding:"required,max=200"`
	Kind          string `json:"kind" binding:"required,oneof=CASH BANK"`
	AllowNegative bool   `json:"allow_negative"`
}

// ListAccountsRequest filters GET /accounts
type ListAccountsRequest struct {
	ActiveOnly bool `form:"active_only"`
}

// BalanceRequest is the query of GET /accounts/:id/balance
type BalanceRequest struct {
	AsOf string `form:"as_of" binding:"omitempty,datetime=2006-01-02"`
}

// ListMovementsRequest is the query of GET /accounts/:id/movements
type ListMovementsRequest struct {
	PageRequest
	From string `form:"from" binding:"omitempty,datetime=2006-01-02"`
	To   string `form:"to" binding:"omitempty,datetime=2006-01-02"`
}

// AppendMovementRequest is the body of POST /accounts/:id/movements
type AppendMovementRequest struct {
	Date        string          `json:"date" binding:"required,datetime=2006-01-02"`
	Amount      decimal.Decimal `json:"amount"`
	Direction   string          `json:"direction" binding:"required,oneof=IN OUT"`
	Description string          `json:"description" binding:"max=500"`
}

// ReverseMovementRequest is the body of POST /movements/:id/reverse
type ReverseMovementRequest struct {
	Date   string `json:"date" binding:"omitempty,datetime=2006-01-02"`
	Reason string `json:"reason" binding:"required,max=500"`
}

// ---------------------------------------------------------------------------
// Transfers and receivables
// ---------------------------------------------------------------------------

// CreateTransferRequest is the body of POST /transfers
type CreateTransferRequest struct {
	SourceAccountID string          `json:"source_account_id" binding:"required,uuid"`
	DestAccountID   string          `json:"dest_account_id" binding:"required,uuid"`
	Amount          decimal.Decimal `json:"amount"`
	Date            string          `json:"date" binding:"required,datetime=2006-01-02"`
	VoucherRef      string          `json:"voucher_ref" binding:"max=100"`
}

// RegisterInvoiceRequest is the body of POST /invoices
type RegisterInvoiceRequest struct {
	ClientID   string          `json:"client_id" binding:"required,uuid"`
	ClientName string          `json:"client_name" binding:"max=200"`
	Number     string          `json:"number" binding:"required,max=50"`
	Total      decimal.Decimal `json:"total"`
	IssueDate  string          `json:"issue_date" binding:"required,datetime=2006-01-02"`
	DueDate    string          `json:"due_date" binding:"required,datetime=2006-01-02"`
}

// AllocationRequest names one invoice share of a manual allocation
type AllocationRequest struct {
	InvoiceID string          `json:"invoice_id" binding:"required,uuid"`
	Amount    decimal.Decimal `json:"amount"`
}

// AllocatePaymentRequest is the body of POST /payments
type AllocatePaymentRequest struct {
	AccountID   string              `json:"account_id" binding:"required,uuid"`
	ClientID    string              `json:"client_id" binding:"required,uuid"`
	Amount      decimal.Decimal     `json:"amount"`
	Date        string              `json:"date" binding:"required,datetime=2006-01-02"`
	Strategy    string              `json:"strategy" binding:"omitempty,oneof=FIFO MANUAL"`
	Allocations []AllocationRequest `json:"allocations" binding:"omitempty,dive"`
	Description string              `json:"description" binding:"max=500"`
}

// PlannedAllocations converts the manual allocations to domain values
func (r AllocatePaymentRequest) PlannedAllocations() []treasury.PlannedAllocation {
	if len(r.Allocations) == 0 {
		return nil
	}
	out := make([]treasury.PlannedAllocation, len(r.Allocations))
	for i, a := range r.Allocations {
		out[i] = treasury.PlannedAllocation{
			InvoiceID: uuid.MustParse(a.InvoiceID),
			Amount:    a.Amount,
		}
	}
	return out
}

// StrategyType returns the requested strategy, FIFO when omitted
func (r AllocatePaymentRequest) StrategyType() treasury.AllocationStrategyType {
	if r.Strategy == "" {
		return treasury.AllocationStrategyFIFO
	}
	return treasury.AllocationStrategyType(r.Strategy)
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// StatementLineRequest is one line of a manually entered statement
type StatementLineRequest struct {
	Date        string          `json:"date" binding:"required,datetime=2006-01-02"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" binding:"max=500"`
}

// CreateStatementRequest is the body of POST /statements
type CreateStatementRequest struct {
	AccountID   string                 `json:"account_id" binding:"required,uuid"`
	PeriodStart string                 `json:"period_start" binding:"required,datetime=2006-01-02"`
	PeriodEnd   string                 `json:"period_end" binding:"required,datetime=2006-01-02"`
	Lines       []StatementLineRequest `json:"lines" binding:"required,min=1,dive"`
}

// LineInputs converts the request lines to domain inputs
func (r CreateStatementRequest) LineInputs() ([]treasury.LineInput, error) {
	lines := make([]treasury.LineInput, len(r.Lines))
	for i, l := range r.Lines {
		date, err := ParseDate(l.Date)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		lines[i] = treasury.LineInput{Date: date, Amount: l.Amount, Description: l.Description}
	}
	return lines, nil
}

// ImportStatementRequest carries the form fields of POST /statements/import.
// The CSV itself is the multipart "file" part.
type ImportStatementRequest struct {
	AccountID   string `form:"account_id" binding:"required,uuid"`
	PeriodStart string `form:"period_start" binding:"required,datetime=2006-01-02"`
	PeriodEnd   string `form:"period_end" binding:"required,datetime=2006-01-02"`
}

// ListStatementsRequest is the query of GET /statements
type ListStatementsRequest struct {
	PageRequest
	AccountID string `form:"account_id" binding:"omitempty,uuid"`
}

// ResolveLineRequest is the body of POST /statements/:id/lines/:lineId/resolve
type ResolveLineRequest struct {
	MovementID string `json:"movement_id" binding:"required,uuid"`
}

// JustificationRequest explains one unreconciled difference
type JustificationRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Concept   string          `json:"concept" binding:"max=200"`
	Rationale string          `json:"rationale" binding:"max=1000"`
}

// CloseStatementRequest is the body of POST /statements/:id/close
type CloseStatementRequest struct {
	Justifications     []JustificationRequest `json:"justifications" binding:"omitempty,dive"`
	ForceClose         bool                   `json:"force_close"`
	GenerateAdjustment bool                   `json:"generate_adjustment"`
	RealBankBalance    *decimal.Decimal       `json:"real_bank_balance"`
}

// DomainJustifications converts the request justifications to domain values
func (r CloseStatementRequest) DomainJustifications() []treasury.Justification {
	out := make([]treasury.Justification, len(r.Justifications))
	for i, j := range r.Justifications {
		out[i] = treasury.Justification{Amount: j.Amount, Concept: j.Concept, Rationale: j.Rationale}
	}
	return out
}

// ---------------------------------------------------------------------------
// Reports
// ---------------------------------------------------------------------------

// AgingRequest is the query of GET /reports/aging
type AgingRequest struct {
	AsOf     string `form:"as_of" binding:"omitempty,datetime=2006-01-02"`
	Buckets  string `form:"buckets"`
	ClientID string `form:"client_id" binding:"omitempty,uuid"`
}

// ForecastRequest is the query of GET /reports/forecast. Omitted values use
// the configured defaults.
type ForecastRequest struct {
	Days              *int `form:"days"`
	CollectionRatePct *int `form:"collection_rate_pct"`
	DelayDays         *int `form:"delay_days"`
	SafetyMarginPct   *int `form:"safety_margin_pct"`
	HistoricalDays    *int `form:"historical_days"`
}

// Input converts the query to a domain forecast input
func (r ForecastRequest) Input() treasury.ForecastInput {
	return treasury.ForecastInput{
		Days:              r.Days,
		CollectionRatePct: r.CollectionRatePct,
		DelayDays:         r.DelayDays,
		SafetyMarginPct:   r.SafetyMarginPct,
		HistoricalDays:    r.HistoricalDays,
	}
}

// PlanRequest is a subscription plan and its price per cycle
type PlanRequest struct {
	Name  string          `json:"name" binding:"required"`
	Price decimal.Decimal `json:"price"`
}

// ProrationRequest is the body of POST /proration
type ProrationRequest struct {
	OldPlan     PlanRequest `json:"old_plan" binding:"required"`
	NewPlan     PlanRequest `json:"new_plan" binding:"required"`
	OldCycle    string      `json:"old_cycle" binding:"required,oneof=MONTHLY QUARTERLY ANNUAL"`
	NewCycle    string      `json:"new_cycle" binding:"required,oneof=MONTHLY QUARTERLY ANNUAL"`
	PeriodStart string      `json:"period_start" binding:"required,datetime=2006-01-02"`
	PeriodEnd   string      `json:"period_end" binding:"required,datetime=2006-01-02"`
	ChangeDate  string      `json:"change_date" binding:"required,datetime=2006-01-02"`
}

// ToDomain converts the request to a domain proration request
func (r ProrationRequest) ToDomain() (treasury.ProrationRequest, error) {
	var out treasury.ProrationRequest
	var err error
	if out.PeriodStart, err = ParseDate(r.PeriodStart); err != nil {
		return out, err
	}
	if out.PeriodEnd, err = ParseDate(r.PeriodEnd); err != nil {
		return out, err
	}
	if out.ChangeDate, err = ParseDate(r.ChangeDate); err != nil {
		return out, err
	}
	out.OldPlan = treasury.Plan{Name: r.OldPlan.Name, Price: r.OldPlan.Price}
	out.NewPlan = treasury.Plan{Name: r.NewPlan.Name, Price: r.NewPlan.Price}
	out.OldCycle = treasury.BillingCycle(r.OldCycle)
	out.NewCycle = treasury.BillingCycle(r.NewCycle)
	return out, nil
}
