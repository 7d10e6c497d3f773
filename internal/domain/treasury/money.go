package treasury

import (
	"github.com/erp/treasury/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places stored for every amount
// (DECIMAL(18,2) columns).
const MoneyScale = 2

// HasMoneyScale reports whether amount is representable with MoneyScale
// decimal places. Trailing zeros such as 10.500 are accepted.
func HasMoneyScale(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(MoneyScale))
}

// validateMoneyScale returns a ValidationError naming what when amount has
// more than MoneyScale decimal places
func validateMoneyScale(amount decimal.Decimal, what string) error {
	if HasMoneyScale(amount) {
		return nil
	}
	return shared.NewValidationError("%s %s has more than %d decimal places", what, amount.String(), MoneyScale)
}
