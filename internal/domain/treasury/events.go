package treasury

import (
	"github.com/erp/treasury/internal/domain/shared"
	"github.com/google/uuid"
)

// Aggregate type names
const (
	AggregateTypeAccount   = "Account"
	AggregateTypeMovement  = "Movement"
	AggregateTypeTransfer  = "Transfer"
	AggregateTypeStatement = "Statement"
	AggregateTypeInvoice   = "Invoice"
)

// Event types
const (
	EventTypeLedgerChanged      = "treasury.ledger.changed"
	EventTypeReceivablesChanged = "treasury.receivables.changed"
	EventTypeStatementClosed    = "treasury.statement.closed"
)

// LedgerChangedEvent is raised whenever movements are booked on accounts
type LedgerChangedEvent struct {
	shared.BaseDomainEvent
	AccountIDs []uuid.UUID `json:"account_ids"`
}

// NewLedgerChangedEvent creates a LedgerChangedEvent
func NewLedgerChangedEvent(tenantID, aggregateID uuid.UUID, aggregateType string, accountIDs ...uuid.UUID) *LedgerChangedEvent {
	return &LedgerChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeLedgerChanged, aggregateType, aggregateID, tenantID),
		AccountIDs:      accountIDs,
	}
}

// ReceivablesChangedEvent is raised when invoices are registered or paid
type ReceivablesChangedEvent struct {
	shared.BaseDomainEvent
	InvoiceIDs []uuid.UUID `json:"invoice_ids"`
}

// NewReceivablesChangedEvent creates a ReceivablesChangedEvent
func NewReceivablesChangedEvent(tenantID, aggregateID uuid.UUID, invoiceIDs ...uuid.UUID) *ReceivablesChangedEvent {
	return &ReceivablesChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeReceivablesChanged, AggregateTypeInvoice, aggregateID, tenantID),
		InvoiceIDs:      invoiceIDs,
	}
}

// StatementClosedEvent is raised when a reconciliation period is finalized
type StatementClosedEvent struct {
	shared.BaseDomainEvent
	Status               StatementStatus `json:"status"`
	AdjustmentMovementID *uuid.UUID      `json:"adjustment_movement_id,omitempty"`
}

// NewStatementClosedEvent creates a StatementClosedEvent
func NewStatementClosedEvent(s *Statement) *StatementClosedEvent {
	return &StatementClosedEvent{
		BaseDomainEvent:      shared.NewBaseDomainEvent(EventTypeStatementClosed, AggregateTypeStatement, s.ID, s.TenantID),
		Status:               s.Status,
		AdjustmentMovementID: s.AdjustmentMovementID,
	}
}
