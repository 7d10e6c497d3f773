package treasury

import (
	"fmt"
	"strings"
	"time"

	"github.com/erp/treasury/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transfer moves money between two accounts of the same tenant, e.g. a cash
// deposit into the bank. It owns exactly one outflow and one inflow movement.
type Transfer struct {
	shared.TenantAggregateRoot
	SourceAccountID   uuid.UUID
	DestAccountID     uuid.UUID
	Amount            decimal.Decimal
	Date              time.Time
	VoucherRef        string
	CreatedBy         string
	OutflowMovementID uuid.UUID
	InflowMovementID  uuid.UUID
}

// NewTransfer validates the pair of accounts and builds the transfer with its
// two movements. Nothing is persisted; the caller saves all three atomically.
func NewTransfer(
	tenantID uuid.UUID,
	source, dest *Account,
	amount decimal.Decimal,
	date time.Time,
	voucherRef, createdBy string,
) (*Transfer, *Movement, *Movement, error) {
	if source == nil || dest == nil {
		return nil, nil, nil, shared.NewValidationError("Source and destination accounts are required")
	}
	if source.ID == dest.ID {
		return nil, nil, nil, shared.NewValidationError("Source and destination accounts must differ")
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, nil, nil, shared.NewValidationError("Transfer amount must be positive")
	}
	if err := validateMoneyScale(amount, "Transfer amount"); err != nil {
		return nil, nil, nil, err
	}
	if date.IsZero() {
		return nil, nil, nil, shared.NewValidationError("Transfer date is required")
	}
	voucherRef = strings.TrimSpace(voucherRef)
	if len(voucherRef) > 100 {
		return nil, nil, nil, shared.NewValidationError("Voucher reference cannot exceed 100 characters")
	}
	if err := source.EnsureUsableBy(tenantID); err != nil {
		return nil, nil, nil, err
	}
	if err := dest.EnsureUsableBy(tenantID); err != nil {
		return nil, nil, nil, err
	}

	t := &Transfer{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		SourceAccountID:     source.ID,
		DestAccountID:       dest.ID,
		Amount:              amount,
		Date:                DateOf(date),
		VoucherRef:          voucherRef,
		CreatedBy:           createdBy,
	}

	ref := Reference{Type: ReferenceTypeTransfer, ID: t.ID}
	out, err := NewMovement(tenantID, source.ID, t.Date, amount, DirectionOut, ref,
		fmt.Sprintf("Transfer to %s %s", dest.Code, voucherRef), createdBy)
	if err != nil {
		return nil, nil, nil, err
	}
	in, err := NewMovement(tenantID, dest.ID, t.Date, amount, DirectionIn, ref,
		fmt.Sprintf("Transfer from %s %s", source.Code, voucherRef), createdBy)
	if err != nil {
		return nil, nil, nil, err
	}
	t.OutflowMovementID = out.ID
	t.InflowMovementID = in.ID

	t.AddDomainEvent(NewLedgerChangedEvent(tenantID, t.ID, AggregateTypeTransfer, source.ID, dest.ID))

	return t, out, in, nil
}

// VerifySymmetry checks that the movements tagged to the transfer book the
// same amount out of the source and into the destination
func (t *Transfer) VerifySymmetry(movements []Movement) error {
	out := decimal.Zero
	in := decimal.Zero
	for i := range movements {
		m := &movements[i]
		if m.ReferenceType != ReferenceTypeTransfer || m.ReferenceID != t.ID {
			continue
		}
		switch m.AccountID {
		case t.SourceAccountID:
			out = out.Add(m.Outflow).Sub(m.Inflow)
		case t.DestAccountID:
			in = in.Add(m.Inflow).Sub(m.Outflow)
		}
	}
	if !out.Equal(t.Amount) || !in.Equal(t.Amount) {
		return shared.NewDomainError(shared.CodeInvalidState,
			fmt.Sprintf("Transfer %s is asymmetric: out %s, in %s, amount %s", t.ID, out, in, t.Amount))
	}
	return nil
}
