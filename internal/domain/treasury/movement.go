package treasury

import (
	"strings"
	"time"

	"github.com/erp/treasury/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction of a movement relative to its account
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// IsValid checks if the direction is valid
func (d Direction) IsValid() bool {
	return d == DirectionIn || d == DirectionOut
}

// Opposite returns the reverse direction
func (d Direction) Opposite() Direction {
	if d == DirectionIn {
		return DirectionOut
	}
	return DirectionIn
}

// ReferenceType identifies what produced a movement
type ReferenceType string

const (
	ReferenceTypeManual              ReferenceType = "MANUAL"
	ReferenceTypeTransfer            ReferenceType = "TRANSFER"
	ReferenceTypePayment             ReferenceType = "PAYMENT"
	ReferenceTypeStatementAdjustment ReferenceType = "STATEMENT_ADJUSTMENT"
	ReferenceTypeReversal            ReferenceType = "REVERSAL"
)

// IsValid checks if the reference type is valid
func (t ReferenceType) IsValid() bool {
	switch t {
	case ReferenceTypeManual, ReferenceTypeTransfer, ReferenceTypePayment,
		ReferenceTypeStatementAdjustment, ReferenceTypeReversal:
		return true
	}
	return false
}

// Reference ties a movement to its originating document
type Reference struct {
	Type ReferenceType
	ID   uuid.UUID
}

// Movement is one immutable entry in an account's ledger.
// Exactly one of Inflow and Outflow is non-zero and both are >= 0.
type Movement struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	AccountID     uuid.UUID
	Date          time.Time
	Inflow        decimal.Decimal
	Outflow       decimal.Decimal
	ReferenceType ReferenceType
	ReferenceID   uuid.UUID
	Description   string
	CreatedBy     string
	CreatedAt     time.Time
}

// NewMovement creates a movement of amount in the given direction
func NewMovement(
	tenantID, accountID uuid.UUID,
	date time.Time,
	amount decimal.Decimal,
	direction Direction,
	ref Reference,
	description, createdBy string,
) (*Movement, error) {
	if accountID == uuid.Nil {
		return nil, shared.NewValidationError("Account ID cannot be empty")
	}
	if date.IsZero() {
		return nil, shared.NewValidationError("Movement date is required")
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewValidationError("Movement amount must be positive")
	}
	if err := validateMoneyScale(amount, "Movement amount"); err != nil {
		return nil, err
	}
	if !direction.IsValid() {
		return nil, shared.NewValidationError("Direction %q is not valid", direction)
	}
	if !ref.Type.IsValid() {
		return nil, shared.NewValidationError("Reference type %q is not valid", ref.Type)
	}
	description = strings.TrimSpace(description)
	if len(description) > 500 {
		return nil, shared.NewValidationError("Description cannot exceed 500 characters")
	}

	m := &Movement{
		ID:            uuid.New(),
		TenantID:      tenantID,
		AccountID:     accountID,
		Date:          DateOf(date),
		Inflow:        decimal.Zero,
		Outflow:       decimal.Zero,
		ReferenceType: ref.Type,
		ReferenceID:   ref.ID,
		Description:   description,
		CreatedBy:     createdBy,
		CreatedAt:     time.Now().UTC(),
	}
	if direction == DirectionIn {
		m.Inflow = amount
	} else {
		m.Outflow = amount
	}
	return m, nil
}

// Direction returns whether the movement adds to or takes from the account
func (m *Movement) Direction() Direction {
	if m.Inflow.IsPositive() {
		return DirectionIn
	}
	return DirectionOut
}

// Amount returns the unsigned amount
func (m *Movement) Amount() decimal.Decimal {
	if m.Inflow.IsPositive() {
		return m.Inflow
	}
	return m.Outflow
}

// SignedAmount returns inflow minus outflow
func (m *Movement) SignedAmount() decimal.Decimal {
	return m.Inflow.Sub(m.Outflow)
}

// Reverse builds the offsetting movement that cancels m
func (m *Movement) Reverse(date time.Time, reason, createdBy string) (*Movement, error) {
	if m.ReferenceType == ReferenceTypeReversal {
		return nil, shared.NewDomainError(shared.CodeInvalidState, "A reversal cannot itself be reversed")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, shared.NewValidationError("Reversal reason is required")
	}
	return NewMovement(m.TenantID, m.AccountID, date, m.Amount(), m.Direction().Opposite(),
		Reference{Type: ReferenceTypeReversal, ID: m.ID}, reason, createdBy)
}

// LedgerTotals aggregates inflows and outflows of a set of movements
type LedgerTotals struct {
	Inflow  decimal.Decimal
	Outflow decimal.Decimal
	Count   int
}

// Balance returns inflow minus outflow
func (t LedgerTotals) Balance() decimal.Decimal {
	return t.Inflow.Sub(t.Outflow)
}

// Add accumulates a movement
func (t LedgerTotals) Add(m *Movement) LedgerTotals {
	return LedgerTotals{
		Inflow:  t.Inflow.Add(m.Inflow),
		Outflow: t.Outflow.Add(m.Outflow),
		Count:   t.Count + 1,
	}
}

// SumMovements totals movements using exact decimal arithmetic
func SumMovements(movements []Movement) LedgerTotals {
	totals := LedgerTotals{Inflow: decimal.Zero, Outflow: decimal.Zero}
	for i := range movements {
		totals = totals.Add(&movements[i])
	}
	return totals
}
