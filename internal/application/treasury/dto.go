package treasury

import (
	"io"
	"time"

	"github.com/erp/treasury/internal/domain/treasury"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Idempotent operation names. A key replayed under a different name is rejected.
const (
	OpCreateAccount     = "account.create"
	OpDeactivateAccount = "account.deactivate"
	OpAppendMovement    = "movement.append"
	OpReverseMovement   = "movement.reverse"
	OpCreateTransfer    = "transfer.create"
	OpRegisterInvoice   = "invoice.register"
	OpAllocatePayment   = "payment.allocate"
	OpCreateStatement   = "statement.create"
	OpImportStatement   = "statement.import"
	OpResolveLine       = "statement.resolve_line"
	OpCloseStatement    = "statement.close"
)

// CommandMeta identifies the caller of a mutating command
type CommandMeta struct {
	TenantID       uuid.UUID
	UserID         string
	IdempotencyKey string
}

// ---------------------------------------------------------------------------
// Accounts and movements
// ---------------------------------------------------------------------------

// CreateAccountCommand creates a cash or bank account
type CreateAccountCommand struct {
	CommandMeta
	Code          string
	Name          string
	Kind          treasury.AccountKind
	AllowNegative bool
}

// AppendMovementCommand books a manual movement
type AppendMovementCommand struct {
	CommandMeta
	AccountID   uuid.UUID
	Date        time.Time
	Amount      decimal.Decimal
	Direction   treasury.Direction
	Description string
}

// ReverseMovementCommand books the offsetting movement of an existing one
type ReverseMovementCommand struct {
	CommandMeta
	MovementID uuid.UUID
	Date       time.Time
	Reason     string
}

// ListMovementsQuery pages through an account's movements
type ListMovementsQuery struct {
	TenantID  uuid.UUID
	AccountID uuid.UUID
	From      time.Time
	To        time.Time
	Page      int
	PageSize  int
}

// AccountResponse represents an account in API responses
type AccountResponse struct {
	ID            uuid.UUID `json:"id"`
	Code          string    `json:"code"`
	Name          string    `json:"name"`
	Kind          string    `json:"kind"`
	IsActive      bool      `json:"is_active"`
	AllowNegative bool      `json:"allow_negative"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ToAccountResponse converts a domain Account to a response
func ToAccountResponse(a *treasury.Account) AccountResponse {
	return AccountResponse{
		ID:            a.ID,
		Code:          a.Code,
		Name:          a.Name,
		Kind:          string(a.Kind),
		IsActive:      a.IsActive,
		AllowNegative: a.AllowNegative,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

// BalanceResponse is an account balance as of a date
type BalanceResponse struct {
	AccountID     uuid.UUID       `json:"account_id"`
	AccountCode   string          `json:"account_code"`
	AsOf          time.Time       `json:"as_of"`
	Inflow        decimal.Decimal `json:"inflow"`
	Outflow       decimal.Decimal `json:"outflow"`
	Balance       decimal.Decimal `json:"balance"`
	MovementCount int             `json:"movement_count"`
}

// PositionResponse is the tenant's cash position across active accounts
type PositionResponse struct {
	AsOf     time.Time         `json:"as_of"`
	Total    decimal.Decimal   `json:"total"`
	Accounts []BalanceResponse `json:"accounts"`
}

// MovementResponse represents a ledger movement in API responses
type MovementResponse struct {
	ID            uuid.UUID       `json:"id"`
	AccountID     uuid.UUID       `json:"account_id"`
	Date          time.Time       `json:"date"`
	Inflow        decimal.Decimal `json:"inflow"`
	Outflow       decimal.Decimal `json:"outflow"`
	Direction     string          `json:"direction"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   uuid.UUID       `json:"reference_id"`
	Description   string          `json:"description"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ToMovementResponse converts a domain Movement to a response
func ToMovementResponse(m *treasury.Movement) MovementResponse {
	return MovementResponse{
		ID:            m.ID,
		AccountID:     m.AccountID,
		Date:          m.Date,
		Inflow:        m.Inflow,
		Outflow:       m.Outflow,
		Direction:     string(m.Direction()),
		ReferenceType: string(m.ReferenceType),
		ReferenceID:   m.ReferenceID,
		Description:   m.Description,
		CreatedBy:     m.CreatedBy,
		CreatedAt:     m.CreatedAt,
	}
}

// ---------------------------------------------------------------------------
// Transfers
// ---------------------------------------------------------------------------

// CreateTransferCommand moves money between two accounts
type CreateTransferCommand struct {
	CommandMeta
	SourceAccountID uuid.UUID
	DestAccountID   uuid.UUID
	Amount          decimal.Decimal
	Date            time.Time
	VoucherRef      string
}

// TransferResponse is a transfer with both of its movements
type TransferResponse struct {
	ID              uuid.UUID          `json:"id"`
	SourceAccountID uuid.UUID          `json:"source_account_id"`
	DestAccountID   uuid.UUID          `json:"dest_account_id"`
	Amount          decimal.Decimal    `json:"amount"`
	Date            time.Time          `json:"date"`
	VoucherRef      string             `json:"voucher_ref"`
	CreatedBy       string             `json:"created_by"`
	CreatedAt       time.Time          `json:"created_at"`
	Movements       []MovementResponse `json:"movements"`
}

// ToTransferResponse converts a transfer and its movements to a response
func ToTransferResponse(t *treasury.Transfer, movements []treasury.Movement) TransferResponse {
	resp := TransferResponse{
		ID:              t.ID,
		SourceAccountID: t.SourceAccountID,
		DestAccountID:   t.DestAccountID,
		Amount:          t.Amount,
		Date:            t.Date,
		VoucherRef:      t.VoucherRef,
		CreatedBy:       t.CreatedBy,
		CreatedAt:       t.CreatedAt,
		Movements:       make([]MovementResponse, len(movements)),
	}
	for i := range movements {
		resp.Movements[i] = ToMovementResponse(&movements[i])
	}
	return resp
}

// ---------------------------------------------------------------------------
// Receivables
// ---------------------------------------------------------------------------

// RegisterInvoiceCommand records an invoice owed by a client
type RegisterInvoiceCommand struct {
	CommandMeta
	ClientID   uuid.UUID
	ClientName string
	Number     string
	Total      decimal.Decimal
	IssueDate  time.Time
	DueDate    time.Time
}

// AllocatePaymentCommand books a received payment and applies it to invoices
type AllocatePaymentCommand struct {
	CommandMeta
	AccountID   uuid.UUID
	ClientID    uuid.UUID
	Amount      decimal.Decimal
	Date        time.Time
	Strategy    treasury.AllocationStrategyType
	Allocations []treasury.PlannedAllocation
	Description string
}

// InvoiceResponse represents an invoice in API responses
type InvoiceResponse struct {
	ID          uuid.UUID            `json:"id"`
	ClientID    uuid.UUID            `json:"client_id"`
	ClientName  string               `json:"client_name"`
	Number      string               `json:"number"`
	Total       decimal.Decimal      `json:"total"`
	Balance     decimal.Decimal      `json:"balance"`
	IssueDate   time.Time            `json:"issue_date"`
	DueDate     time.Time            `json:"due_date"`
	Allocations treasury.Allocations `json:"allocations"`
	CreatedAt   time.Time            `json:"created_at"`
}

// ToInvoiceResponse converts a domain Invoice to a response
func ToInvoiceResponse(i *treasury.Invoice) InvoiceResponse {
	allocs := i.Allocations
	if allocs == nil {
		allocs = treasury.Allocations{}
	}
	return InvoiceResponse{
		ID:          i.ID,
		ClientID:    i.ClientID,
		ClientName:  i.ClientName,
		Number:      i.Number,
		Total:       i.Total,
		Balance:     i.Balance,
		IssueDate:   i.IssueDate,
		DueDate:     i.DueDate,
		Allocations: allocs,
		CreatedAt:   i.CreatedAt,
	}
}

// AppliedAllocation is one invoice share of a payment after it was applied
type AppliedAllocation struct {
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
}

// PaymentResponse is the outcome of a payment allocation
type PaymentResponse struct {
	PaymentID      uuid.UUID           `json:"payment_id"`
	Movement       MovementResponse    `json:"movement"`
	Amount         decimal.Decimal     `json:"amount"`
	Strategy       string              `json:"strategy"`
	Allocations    []AppliedAllocation `json:"allocations"`
	TotalAllocated decimal.Decimal     `json:"total_allocated"`
	Unallocated    decimal.Decimal     `json:"unallocated"`
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// CreateStatementCommand registers a bank statement with its lines
type CreateStatementCommand struct {
	CommandMeta
	AccountID   uuid.UUID
	PeriodStart time.Time
	PeriodEnd   time.Time
	Lines       []treasury.LineInput
}

// ImportStatementCommand registers a statement from an uploaded file.
// The file is kept as an attachment.
type ImportStatementCommand struct {
	CommandMeta
	AccountID   uuid.UUID
	PeriodStart time.Time
	PeriodEnd   time.Time
	FileName    string
	ContentType string
	Size        int64
	File        io.Reader
}

// ResolveLineCommand links a line to a movement by hand
type ResolveLineCommand struct {
	CommandMeta
	StatementID uuid.UUID
	LineID      uuid.UUID
	MovementID  uuid.UUID
}

// CloseStatementCommand finalizes a statement
type CloseStatementCommand struct {
	CommandMeta
	StatementID        uuid.UUID
	Justifications     []treasury.Justification
	ForceClose         bool
	GenerateAdjustment bool
	RealBankBalance    *decimal.Decimal
}

// StatementLineResponse represents a statement line in API responses
type StatementLineResponse struct {
	ID                uuid.UUID       `json:"id"`
	LineNo            int             `json:"line_no"`
	Date              time.Time       `json:"date"`
	Amount            decimal.Decimal `json:"amount"`
	Description       string          `json:"description"`
	MatchStatus       string          `json:"match_status"`
	MatchedMovementID *uuid.UUID      `json:"matched_movement_id,omitempty"`
}

// StatementResponse represents a statement in API responses
type StatementResponse struct {
	ID                   uuid.UUID                 `json:"id"`
	AccountID            uuid.UUID                 `json:"account_id"`
	PeriodStart          time.Time                 `json:"period_start"`
	PeriodEnd            time.Time                 `json:"period_end"`
	Status               string                    `json:"status"`
	Matched              int                       `json:"matched"`
	Pending              int                       `json:"pending"`
	Suspense             int                       `json:"suspense"`
	Lines                []StatementLineResponse   `json:"lines"`
	Justifications       treasury.JustificationSet `json:"justifications"`
	RealBankBalance      *decimal.Decimal          `json:"real_bank_balance,omitempty"`
	LedgerBalance        *decimal.Decimal          `json:"ledger_balance,omitempty"`
	AdjustmentMovementID *uuid.UUID                `json:"adjustment_movement_id,omitempty"`
	AttachmentKey        string                    `json:"attachment_key,omitempty"`
	ClosedAt             *time.Time                `json:"closed_at,omitempty"`
	ClosedBy             string                    `json:"closed_by,omitempty"`
	CreatedBy            string                    `json:"created_by"`
	CreatedAt            time.Time                 `json:"created_at"`
}

// ToStatementResponse converts a domain Statement to a response
func ToStatementResponse(s *treasury.Statement) StatementResponse {
	matched, pending, suspense := s.Counts()
	resp := StatementResponse{
		ID:                   s.ID,
		AccountID:            s.AccountID,
		PeriodStart:          s.PeriodStart,
		PeriodEnd:            s.PeriodEnd,
		Status:               string(s.Status),
		Matched:              matched,
		Pending:              pending,
		Suspense:             suspense,
		Lines:                make([]StatementLineResponse, len(s.Lines)),
		Justifications:       s.Justifications,
		RealBankBalance:      s.RealBankBalance,
		LedgerBalance:        s.LedgerBalance,
		AdjustmentMovementID: s.AdjustmentMovementID,
		AttachmentKey:        s.AttachmentKey,
		ClosedAt:             s.ClosedAt,
		ClosedBy:             s.ClosedBy,
		CreatedBy:            s.CreatedBy,
		CreatedAt:            s.CreatedAt,
	}
	for i, l := range s.Lines {
		resp.Lines[i] = StatementLineResponse{
			ID:                l.ID,
			LineNo:            l.LineNo,
			Date:              l.Date,
			Amount:            l.Amount,
			Description:       l.Description,
			MatchStatus:       string(l.MatchStatus),
			MatchedMovementID: l.MatchedMovementID,
		}
	}
	if resp.Justifications.Items == nil {
		resp.Justifications = treasury.NewJustificationSet(nil)
	}
	return resp
}

// MatchSummary is the result of a matching run
type MatchSummary struct {
	StatementID  uuid.UUID             `json:"statement_id"`
	Matched      int                   `json:"matched"`
	Pending      int                   `json:"pending"`
	Suspense     int                   `json:"suspense"`
	NewlyMatched int                   `json:"newly_matched"`
	Suggestions  []treasury.Suggestion `json:"suggestions"`
}

// CloseResponse is the outcome of a statement close
type CloseResponse struct {
	StatementID          uuid.UUID       `json:"statement_id"`
	Status               string          `json:"status"`
	Unreconciled         int             `json:"unreconciled"`
	NetDifference        decimal.Decimal `json:"net_difference"`
	LedgerBalance        decimal.Decimal `json:"ledger_balance"`
	AdjustmentMovementID *uuid.UUID      `json:"adjustment_movement_id,omitempty"`
}

// ---------------------------------------------------------------------------
// Reports
// ---------------------------------------------------------------------------

// AgingQuery asks for a receivables aging report
type AgingQuery struct {
	TenantID uuid.UUID
	AsOf     time.Time
	// Buckets is the raw boundary list ("30,60,90"); empty uses the configured default
	Buckets  string
	ClientID *uuid.UUID
}

// ForecastQuery asks for a cash-flow forecast
type ForecastQuery struct {
	TenantID uuid.UUID
	Today    time.Time
	Input    treasury.ForecastInput
}
