package treasury

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/erp/treasury/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Allocation applies part of a payment to an invoice
type Allocation struct {
	PaymentID   uuid.UUID       `json:"payment_id"`
	Amount      decimal.Decimal `json:"amount"`
	AllocatedAt time.Time       `json:"allocated_at"`
}

// Allocations implements GORM Scanner/Valuer for JSON storage
type Allocations []Allocation

// Value implements driver.Valuer
func (a Allocations) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	return json.Marshal(a)
}

// Scan implements sql.Scanner
func (a *Allocations) Scan(value interface{}) error {
	if value == nil {
		*a = Allocations{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to scan Allocations: unsupported type")
	}

	if len(bytes) == 0 {
		*a = Allocations{}
		return nil
	}
	return json.Unmarshal(bytes, a)
}

// Total sums all allocated amounts
func (a Allocations) Total() decimal.Decimal {
	total := decimal.Zero
	for _, al := range a {
		total = total.Add(al.Amount)
	}
	return total
}

// Invoice is a receivable owed by a client. Only its balance and allocations
// matter to the treasury; line items live elsewhere.
type Invoice struct {
	shared.TenantAggregateRoot
	ClientID    uuid.UUID
	ClientName  string
	Number      string
	Total       decimal.Decimal
	IssueDate   time.Time
	DueDate     time.Time
	Allocations Allocations
	Balance     decimal.Decimal
}

// NewInvoice creates an invoice with nothing allocated
func NewInvoice(
	tenantID, clientID uuid.UUID,
	clientName, number string,
	total decimal.Decimal,
	issueDate, dueDate time.Time,
) (*Invoice, error) {
	number = strings.TrimSpace(number)
	clientName = strings.TrimSpace(clientName)
	if clientID == uuid.Nil {
		return nil, shared.NewValidationError("Client ID cannot be empty")
	}
	if clientName == "" {
		return nil, shared.NewValidationError("Client name cannot be empty")
	}
	if number == "" {
		return nil, shared.NewValidationError("Invoice number cannot be empty")
	}
	if len(number) > 50 {
		return nil, shared.NewValidationError("Invoice number cannot exceed 50 characters")
	}
	if total.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewValidationError("Invoice total must be positive")
	}
	if err := validateMoneyScale(total, "Invoice total"); err != nil {
		return nil, err
	}
	if issueDate.IsZero() || dueDate.IsZero() {
		return nil, shared.NewValidationError("Issue and due dates are required")
	}
	if DateOf(dueDate).Before(DateOf(issueDate)) {
		return nil, shared.NewValidationError("Due date cannot precede issue date")
	}

	inv := &Invoice{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		ClientID:            clientID,
		ClientName:          clientName,
		Number:              number,
		Total:               total,
		IssueDate:           DateOf(issueDate),
		DueDate:             DateOf(dueDate),
		Allocations:         Allocations{},
		Balance:             total,
	}
	inv.AddDomainEvent(NewReceivablesChangedEvent(tenantID, inv.ID, inv.ID))
	return inv, nil
}

// IsOpen returns true while something is still owed
func (i *Invoice) IsOpen() bool {
	return i.Balance.IsPositive()
}

// Allocate applies amount from a payment. The sum of allocations never exceeds Total.
func (i *Invoice) Allocate(paymentID uuid.UUID, amount decimal.Decimal, at time.Time) error {
	if paymentID == uuid.Nil {
		return shared.NewValidationError("Payment ID cannot be empty")
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return shared.NewValidationError("Allocation amount must be positive")
	}
	if err := validateMoneyScale(amount, "Allocation amount"); err != nil {
		return err
	}
	if amount.GreaterThan(i.Balance) {
		return shared.NewDomainError(CodeAllocationExceedsBalance,
			fmt.Sprintf("Allocation %s exceeds balance %s of invoice %s", amount.StringFixed(2), i.Balance.StringFixed(2), i.Number)).
			WithDetail("invoice_id", i.ID.String()).
			WithDetail("balance", i.Balance.StringFixed(2))
	}

	i.Allocations = append(i.Allocations, Allocation{
		PaymentID:   paymentID,
		Amount:      amount,
		AllocatedAt: at.UTC(),
	})
	i.Balance = i.Total.Sub(i.Allocations.Total())
	i.Touch()
	i.IncrementVersion()
	return nil
}

// DaysOverdue returns asOf - DueDate in calendar days
func (i *Invoice) DaysOverdue(asOf time.Time) int {
	return DaysBetween(i.DueDate, asOf)
}
