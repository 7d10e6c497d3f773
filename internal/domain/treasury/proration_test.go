package treasury

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProrate_Upgrade(t *testing.T) {
	res, err := Prorate(ProrationRequest{
		OldPlan:     Plan{Name: "Basic", Price: d("100")},
		NewPlan:     Plan{Name: "Pro", Price: d("150")},
		OldCycle:    BillingCycleMonthly,
		NewCycle:    BillingCycleMonthly,
		PeriodStart: date(2024, 4, 1),
		PeriodEnd:   date(2024, 5, 1),
		ChangeDate:  date(2024, 4, 21),
	})
	require.NoError(t, err)

	assert.Equal(t, 10, res.RemainingDays)
	assert.Equal(t, 30, res.PeriodDays)
	assert.True(t, res.Credit.Equal(d("33.33")), "credit %s", res.Credit)
	assert.True(t, res.Charge.Equal(d("50")), "charge %s", res.Charge)
	assert.True(t, res.NetAmount.Equal(d("16.67")), "net %s", res.NetAmount)
	require.Len(t, res.Items, 2)
	assert.True(t, res.Items[0].Amount.Equal(d("-33.33")))
	assert.Contains(t, res.Items[1].Description, "Pro")
}

func TestProrate_CycleChange(t *testing.T) {
	res, err := Prorate(ProrationRequest{
		OldPlan:     Plan{Price: d("100")},
		NewPlan:     Plan{Price: d("1200")},
		OldCycle:    BillingCycleMonthly,
		NewCycle:    BillingCycleAnnual,
		PeriodStart: date(2023, 4, 1),
		PeriodEnd:   date(2023, 5, 1),
		ChangeDate:  date(2023, 4, 21),
	})
	require.NoError(t, err)

	// annual rate: 1200 over 366 days starting 2023-04-01
	assert.Equal(t, 366, BillingCycleAnnual.DaysFrom(date(2023, 4, 1)))
	assert.True(t, res.Charge.Equal(d("32.79")), "charge %s", res.Charge)
}

func TestProrate_Validation(t *testing.T) {
	base := ProrationRequest{
		OldPlan:     Plan{Price: d("10")},
		NewPlan:     Plan{Price: d("20")},
		OldCycle:    BillingCycleMonthly,
		NewCycle:    BillingCycleMonthly,
		PeriodStart: date(2024, 4, 1),
		PeriodEnd:   date(2024, 5, 1),
		ChangeDate:  date(2024, 4, 15),
	}

	bad := base
	bad.ChangeDate = date(2024, 5, 2)
	_, err := Prorate(bad)
	assert.Error(t, err)

	bad = base
	bad.PeriodEnd = base.PeriodStart
	_, err = Prorate(bad)
	assert.Error(t, err)

	bad = base
	bad.NewCycle = BillingCycle("WEEKLY")
	_, err = Prorate(bad)
	assert.Error(t, err)

	bad = base
	bad.ChangeDate = base.PeriodEnd
	res, err := Prorate(bad)
	require.NoError(t, err)
	assert.True(t, res.NetAmount.IsZero())
}
