package treasury

import (
	"sort"

	"github.com/erp/treasury/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AllocationStrategyType defines how a payment is spread over invoices
type AllocationStrategyType string

const (
	AllocationStrategyFIFO   AllocationStrategyType = "FIFO"   // oldest due date first
	AllocationStrategyManual AllocationStrategyType = "MANUAL" // caller names each invoice
)

// IsValid checks if the strategy type is valid
func (t AllocationStrategyType) IsValid() bool {
	return t == AllocationStrategyFIFO || t == AllocationStrategyManual
}

// PlannedAllocation is one invoice share of a payment
type PlannedAllocation struct {
	InvoiceID uuid.UUID
	Amount    decimal.Decimal
}

// AllocationPlan is the outcome of spreading a payment
type AllocationPlan struct {
	Allocations    []PlannedAllocation
	TotalAllocated decimal.Decimal
	Unallocated    decimal.Decimal
}

// PlanFIFO spreads amount over open invoices ordered by due date, then issue
// date, then number. Whatever is left is reported as unallocated.
func PlanFIFO(amount decimal.Decimal, invoices []*Invoice) (*AllocationPlan, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewValidationError("Payment amount must be positive")
	}

	sorted := make([]*Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if inv.IsOpen() {
			sorted = append(sorted, inv)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].DueDate.Equal(sorted[j].DueDate) {
			return sorted[i].DueDate.Before(sorted[j].DueDate)
		}
		if !sorted[i].IssueDate.Equal(sorted[j].IssueDate) {
			return sorted[i].IssueDate.Before(sorted[j].IssueDate)
		}
		return sorted[i].Number < sorted[j].Number
	})

	plan := &AllocationPlan{
		Allocations:    make([]PlannedAllocation, 0),
		TotalAllocated: decimal.Zero,
	}
	remaining := amount
	for _, inv := range sorted {
		if !remaining.IsPositive() {
			break
		}
		share := decimal.Min(remaining, inv.Balance)
		plan.Allocations = append(plan.Allocations, PlannedAllocation{InvoiceID: inv.ID, Amount: share})
		plan.TotalAllocated = plan.TotalAllocated.Add(share)
		remaining = remaining.Sub(share)
	}
	plan.Unallocated = remaining
	return plan, nil
}

// PlanManual validates caller-supplied allocations against the payment amount
func PlanManual(amount decimal.Decimal, requested []PlannedAllocation) (*AllocationPlan, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewValidationError("Payment amount must be positive")
	}
	if len(requested) == 0 {
		return nil, shared.NewValidationError("Manual allocation requires at least one invoice")
	}

	seen := make(map[uuid.UUID]bool, len(requested))
	total := decimal.Zero
	for i, r := range requested {
		if r.InvoiceID == uuid.Nil {
			return nil, shared.NewValidationError("Allocation %d: invoice ID is required", i+1)
		}
		if seen[r.InvoiceID] {
			return nil, shared.NewValidationError("Allocation %d: invoice listed twice", i+1)
		}
		if r.Amount.LessThanOrEqual(decimal.Zero) {
			return nil, shared.NewValidationError("Allocation %d: amount must be positive", i+1)
		}
		seen[r.InvoiceID] = true
		total = total.Add(r.Amount)
	}
	if total.GreaterThan(amount) {
		return nil, shared.NewValidationError("Allocations total %s exceeds payment amount %s", total.StringFixed(2), amount.StringFixed(2))
	}

	allocs := make([]PlannedAllocation, len(requested))
	copy(allocs, requested)
	return &AllocationPlan{
		Allocations:    allocs,
		TotalAllocated: total,
		Unallocated:    amount.Sub(total),
	}, nil
}
