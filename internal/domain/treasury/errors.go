package treasury

import (
	"fmt"

	"github.com/erp/treasury/internal/domain/shared"
	"github.com/google/uuid"
)

// Error codes raised by the treasury context
const (
	CodeAccountNotFound          = "ACCOUNT_NOT_FOUND"
	CodeAccountNotInTenant       = "ACCOUNT_NOT_IN_TENANT"
	CodeAccountInactive          = "ACCOUNT_INACTIVE"
	CodeInsufficientFunds        = "INSUFFICIENT_FUNDS"
	CodeMovementNotFound         = "MOVEMENT_NOT_FOUND"
	CodeTransferNotFound         = "TRANSFER_NOT_FOUND"
	CodeStatementNotFound        = "STATEMENT_NOT_FOUND"
	CodeStatementLineNotFound    = "STATEMENT_LINE_NOT_FOUND"
	CodeInvoiceNotFound          = "INVOICE_NOT_FOUND"
	CodeStatementClosed          = "STATEMENT_CLOSED"
	CodeAlreadyClosed            = "ALREADY_CLOSED"
	CodeUnreconciledItems        = "UNRECONCILED_ITEMS"
	CodeMovementAlreadyMatched   = "MOVEMENT_ALREADY_MATCHED"
	CodeAllocationExceedsBalance = "ALLOCATION_EXCEEDS_BALANCE"
)

// Sentinels for errors.Is checks; constructors below attach the specifics.
var (
	ErrAccountNotFound       = shared.NewDomainError(CodeAccountNotFound, "Account not found")
	ErrAccountNotInTenant    = shared.NewDomainError(CodeAccountNotInTenant, "Account does not belong to tenant")
	ErrAccountInactive       = shared.NewDomainError(CodeAccountInactive, "Account is inactive")
	ErrInsufficientFunds     = shared.NewDomainError(CodeInsufficientFunds, "Insufficient funds")
	ErrStatementNotFound     = shared.NewDomainError(CodeStatementNotFound, "Statement not found")
	ErrStatementClosed       = shared.NewDomainError(CodeStatementClosed, "Statement is closed")
	ErrAlreadyClosed         = shared.NewDomainError(CodeAlreadyClosed, "Statement is already closed")
	ErrUnreconciledItems     = shared.NewDomainError(CodeUnreconciledItems, "Statement has unreconciled items")
	ErrAllocationExceeds     = shared.NewDomainError(CodeAllocationExceedsBalance, "Allocation exceeds invoice balance")
	ErrMovementAlreadyLinked = shared.NewDomainError(CodeMovementAlreadyMatched, "Movement is already matched to a statement line")
)

// NewAccountNotFoundError reports a missing account
func NewAccountNotFoundError(id uuid.UUID) *shared.DomainError {
	return shared.NewDomainError(CodeAccountNotFound, fmt.Sprintf("Account %s not found", id)).
		WithDetail("account_id", id.String())
}

// NewAccountNotInTenantError reports an account owned by another tenant
func NewAccountNotInTenantError(id uuid.UUID) *shared.DomainError {
	return shared.NewDomainError(CodeAccountNotInTenant, fmt.Sprintf("Account %s does not belong to this tenant", id)).
		WithDetail("account_id", id.String())
}

// NewUnreconciledItemsError reports how many lines block a close
func NewUnreconciledItemsError(count int) *shared.DomainError {
	return shared.NewDomainError(CodeUnreconciledItems,
		fmt.Sprintf("Statement has %d unreconciled line(s); resolve them or force the close", count)).
		WithDetail("count", count)
}

// NewNotFoundError builds a not-found error for the given code and id
func NewNotFoundError(code, resource string, id uuid.UUID) *shared.DomainError {
	return shared.NewDomainError(code, fmt.Sprintf("%s %s not found", resource, id))
}
