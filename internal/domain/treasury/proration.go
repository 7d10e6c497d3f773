package treasury

import (
	"fmt"
	"strings"
	"time"

	"github.com/erp/treasury/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// BillingCycle is the length of a subscription period
type BillingCycle string

const (
	BillingCycleMonthly   BillingCycle = "MONTHLY"
	BillingCycleQuarterly BillingCycle = "QUARTERLY"
	BillingCycleAnnual    BillingCycle = "ANNUAL"
)

// IsValid checks if the cycle is valid
func (c BillingCycle) IsValid() bool {
	switch c {
	case BillingCycleMonthly, BillingCycleQuarterly, BillingCycleAnnual:
		return true
	}
	return false
}

// months returns the number of calendar months in one cycle
func (c BillingCycle) months() int {
	switch c {
	case BillingCycleQuarterly:
		return 3
	case BillingCycleAnnual:
		return 12
	default:
		return 1
	}
}

// DaysFrom returns the length in days of one cycle starting at start
func (c BillingCycle) DaysFrom(start time.Time) int {
	start = DateOf(start)
	return DaysBetween(start, start.AddDate(0, c.months(), 0))
}

// Plan is a priced subscription plan
type Plan struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// ProrationItem is one line of the proration result
type ProrationItem struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// ProrationResult is the prorated outcome of a mid-cycle plan change
type ProrationResult struct {
	Items         []ProrationItem `json:"items"`
	Credit        decimal.Decimal `json:"credit"`
	Charge        decimal.Decimal `json:"charge"`
	NetAmount     decimal.Decimal `json:"net_amount"`
	RemainingDays int             `json:"remaining_days"`
	PeriodDays    int             `json:"period_days"`
}

// ProrationRequest describes a plan change inside a billing period
type ProrationRequest struct {
	OldPlan     Plan
	NewPlan     Plan
	OldCycle    BillingCycle
	NewCycle    BillingCycle
	PeriodStart time.Time
	PeriodEnd   time.Time
	ChangeDate  time.Time
}

// Prorate computes the credit for unused time on the old plan and the charge
// for the remaining time on the new one. It has no side effects.
//
// The old plan's daily rate is its price over the current period length. The
// new plan uses the same divisor when the cycle is unchanged, otherwise the
// length of one new cycle starting at PeriodStart.
func Prorate(req ProrationRequest) (*ProrationResult, error) {
	if !req.OldCycle.IsValid() || !req.NewCycle.IsValid() {
		return nil, shared.NewValidationError("Billing cycle is not valid")
	}
	if req.OldPlan.Price.IsNegative() || req.NewPlan.Price.IsNegative() {
		return nil, shared.NewValidationError("Plan prices cannot be negative")
	}

	start := DateOf(req.PeriodStart)
	end := DateOf(req.PeriodEnd)
	change := DateOf(req.ChangeDate)
	periodDays := DaysBetween(start, end)
	if periodDays <= 0 {
		return nil, shared.NewValidationError("Period end must be after period start")
	}
	if change.Before(start) || change.After(end) {
		return nil, shared.NewValidationError("Change date must fall inside the billing period")
	}

	remaining := decimal.NewFromInt(int64(DaysBetween(change, end)))

	newDivisor := periodDays
	if req.NewCycle != req.OldCycle {
		newDivisor = req.NewCycle.DaysFrom(start)
	}

	// Multiply before dividing so the only rounding is the final cent.
	credit := remaining.Mul(req.OldPlan.Price).Div(decimal.NewFromInt(int64(periodDays))).Round(2)
	charge := remaining.Mul(req.NewPlan.Price).Div(decimal.NewFromInt(int64(newDivisor))).Round(2)

	return &ProrationResult{
		Items: []ProrationItem{
			{Description: fmt.Sprintf("Unused time on %s", planLabel(req.OldPlan)), Amount: credit.Neg()},
			{Description: fmt.Sprintf("Remaining time on %s", planLabel(req.NewPlan)), Amount: charge},
		},
		Credit:        credit,
		Charge:        charge,
		NetAmount:     charge.Sub(credit),
		RemainingDays: int(remaining.IntPart()),
		PeriodDays:    periodDays,
	}, nil
}

func planLabel(p Plan) string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	return "plan"
}
