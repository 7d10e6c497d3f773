package treasury

import (
	"fmt"
	"strings"

	"github.com/erp/treasury/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountKind distinguishes physical cash boxes from bank accounts
type AccountKind string

const (
	AccountKindCash AccountKind = "CASH"
	AccountKindBank AccountKind = "BANK"
)

// IsValid checks if the account kind is valid
func (k AccountKind) IsValid() bool {
	switch k {
	case AccountKindCash, AccountKindBank:
		return true
	}
	return false
}

// String returns the string representation
func (k AccountKind) String() string {
	return string(k)
}

// Account is a cash or bank account. Its balance is never stored; it is
// derived from the account's movements.
type Account struct {
	shared.TenantAggregateRoot
	Code          string
	Name          string
	Kind          AccountKind
	IsActive      bool
	AllowNegative bool
}

// NewAccount creates a new active account
func NewAccount(tenantID uuid.UUID, code, name string, kind AccountKind, allowNegative bool) (*Account, error) {
	code = strings.TrimSpace(code)
	name = strings.TrimSpace(name)
	if tenantID == uuid.Nil {
		return nil, shared.NewValidationError("Tenant ID cannot be empty")
	}
	if code == "" {
		return nil, shared.NewValidationError("Account code cannot be empty")
	}
	if len(code) > 50 {
		return nil, shared.NewValidationError("Account code cannot exceed 50 characters")
	}
	if name == "" {
		return nil, shared.NewValidationError("Account name cannot be empty")
	}
	if !kind.IsValid() {
		return nil, shared.NewValidationError("Account kind %q is not valid", kind)
	}

	return &Account{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		Code:                code,
		Name:                name,
		Kind:                kind,
		IsActive:            true,
		AllowNegative:       allowNegative,
	}, nil
}

// Deactivate closes the account for new movements
func (a *Account) Deactivate() error {
	if !a.IsActive {
		return shared.NewDomainError(shared.CodeInvalidState, "Account is already inactive")
	}
	a.IsActive = false
	a.Touch()
	a.IncrementVersion()
	return nil
}

// EnforcesNonNegative reports whether withdrawals must keep the balance >= 0
func (a *Account) EnforcesNonNegative() bool {
	return a.Kind == AccountKindCash && !a.AllowNegative
}

// EnsureUsableBy checks tenant ownership and that the account is active
func (a *Account) EnsureUsableBy(tenantID uuid.UUID) error {
	if !a.BelongsTo(tenantID) {
		return NewAccountNotInTenantError(a.ID)
	}
	if !a.IsActive {
		return shared.NewDomainError(CodeAccountInactive, fmt.Sprintf("Account %s is inactive", a.Code))
	}
	return nil
}

// EnsureCanWithdraw checks that an outflow of amount against the current
// balance keeps a non-negative account solvent
func (a *Account) EnsureCanWithdraw(balance, amount decimal.Decimal) error {
	if !a.EnforcesNonNegative() {
		return nil
	}
	if balance.LessThan(amount) {
		return shared.NewDomainError(CodeInsufficientFunds,
			fmt.Sprintf("Account %s has balance %s, cannot withdraw %s", a.Code, balance.StringFixed(2), amount.StringFixed(2))).
			WithDetail("balance", balance.StringFixed(2)).
			WithDetail("requested", amount.StringFixed(2))
	}
	return nil
}
