package treasury

import (
	"time"

	"github.com/shopspring/decimal"
)

// Forecast input bounds
const (
	ForecastMinDays           = 7
	ForecastMaxDays           = 90
	ForecastDefaultDays       = 30
	ForecastMaxDelayDays      = 60
	ForecastMaxSafetyMargin   = 50
	ForecastMinHistoricalDays = 7
	ForecastMaxHistoricalDays = 60
	ForecastDefaultHistorical = 30
)

// ForecastAssumptionsVersion is the current layout of ForecastAssumptions
const ForecastAssumptionsVersion = 1

// ForecastAssumptions are the resolved, clamped knobs of a projection.
// They are echoed back with the result so the math stays auditable.
type ForecastAssumptions struct {
	Version           int `json:"version"`
	Days              int `json:"days"`
	CollectionRatePct int `json:"collection_rate_pct"`
	DelayDays         int `json:"delay_days"`
	SafetyMarginPct   int `json:"safety_margin_pct"`
	HistoricalDays    int `json:"historical_days"`
}

// ForecastInput is the raw, untrusted request. Nil fields take the default,
// so an explicit 0% collection rate is distinguishable from "not given".
type ForecastInput struct {
	Days              *int
	CollectionRatePct *int
	DelayDays         *int
	SafetyMarginPct   *int
	HistoricalDays    *int
}

// ForecastDefaults are applied to fields missing from the input
type ForecastDefaults struct {
	Days              int
	CollectionRatePct int
	DelayDays         int
	SafetyMarginPct   int
	HistoricalDays    int
}

// DefaultForecastDefaults returns the built-in defaults
func DefaultForecastDefaults() ForecastDefaults {
	return ForecastDefaults{
		Days:              ForecastDefaultDays,
		CollectionRatePct: 100,
		DelayDays:         0,
		SafetyMarginPct:   0,
		HistoricalDays:    ForecastDefaultHistorical,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func pick(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// Resolve fills defaults and clamps every value into its allowed range
func (in ForecastInput) Resolve(def ForecastDefaults) ForecastAssumptions {
	return ForecastAssumptions{
		Version:           ForecastAssumptionsVersion,
		Days:              clamp(pick(in.Days, def.Days), ForecastMinDays, ForecastMaxDays),
		CollectionRatePct: clamp(pick(in.CollectionRatePct, def.CollectionRatePct), 0, 100),
		DelayDays:         clamp(pick(in.DelayDays, def.DelayDays), 0, ForecastMaxDelayDays),
		SafetyMarginPct:   clamp(pick(in.SafetyMarginPct, def.SafetyMarginPct), 0, ForecastMaxSafetyMargin),
		HistoricalDays:    clamp(pick(in.HistoricalDays, def.HistoricalDays), ForecastMinHistoricalDays, ForecastMaxHistoricalDays),
	}
}

// DailyPrediction is the projection for one future day
type DailyPrediction struct {
	Day                 int             `json:"day"`
	Date                time.Time       `json:"date"`
	PredictedInflow     decimal.Decimal `json:"predicted_inflow"`
	PredictedOutflow    decimal.Decimal `json:"predicted_outflow"`
	Net                 decimal.Decimal `json:"net"`
	AccumulatedBalance  decimal.Decimal `json:"accumulated_balance"`
	ExpectedCollections int             `json:"expected_collections"`
}

// DeficitAlert flags a day whose projected balance is negative
type DeficitAlert struct {
	Day     int             `json:"day"`
	Date    time.Time       `json:"date"`
	Deficit decimal.Decimal `json:"deficit"`
}

// CashForecast is the full projection
type CashForecast struct {
	GeneratedFor        time.Time           `json:"generated_for"`
	CurrentPosition     decimal.Decimal     `json:"current_position"`
	AverageDailyOutflow decimal.Decimal     `json:"average_daily_outflow"`
	DailyPredictions    []DailyPrediction   `json:"daily_predictions"`
	Alerts              []DeficitAlert      `json:"alerts"`
	Assumptions         ForecastAssumptions `json:"assumptions"`
}

// ForecastData is what the projection reads from the ledger and receivables
type ForecastData struct {
	Today              time.Time
	CurrentPosition    decimal.Decimal
	HistoricalOutflows decimal.Decimal // outflows over the trailing HistoricalDays window
	OpenInvoices       []*Invoice
}

var hundred = decimal.NewFromInt(100)

// ProjectCashFlow builds the day-by-day forecast. Receivables whose expected
// collection date already passed are expected on day 1.
func ProjectCashFlow(data ForecastData, a ForecastAssumptions) *CashForecast {
	today := DateOf(data.Today)
	rate := decimal.NewFromInt(int64(a.CollectionRatePct)).Div(hundred)
	margin := decimal.NewFromInt(int64(100 - a.SafetyMarginPct)).Div(hundred)

	dailyOutflow := decimal.Zero
	if a.HistoricalDays > 0 && data.HistoricalOutflows.IsPositive() {
		dailyOutflow = data.HistoricalOutflows.
			Div(decimal.NewFromInt(int64(a.HistoricalDays))).
			Mul(margin).
			Round(2)
	}

	inflowByDay := make(map[int]decimal.Decimal, a.Days)
	countByDay := make(map[int]int, a.Days)
	for _, inv := range data.OpenInvoices {
		if !inv.IsOpen() {
			continue
		}
		expected := DateOf(inv.DueDate).AddDate(0, 0, a.DelayDays)
		day := DaysBetween(today, expected)
		if day < 1 {
			day = 1
		}
		if day > a.Days {
			continue
		}
		inflowByDay[day] = inflowByDay[day].Add(inv.Balance)
		countByDay[day]++
	}

	fc := &CashForecast{
		GeneratedFor:        today,
		CurrentPosition:     data.CurrentPosition,
		AverageDailyOutflow: dailyOutflow,
		DailyPredictions:    make([]DailyPrediction, 0, a.Days),
		Alerts:              make([]DeficitAlert, 0),
		Assumptions:         a,
	}

	balance := data.CurrentPosition
	for day := 1; day <= a.Days; day++ {
		inflow := inflowByDay[day].Mul(rate).Round(2)
		net := inflow.Sub(dailyOutflow)
		balance = balance.Add(net)
		date := today.AddDate(0, 0, day)

		fc.DailyPredictions = append(fc.DailyPredictions, DailyPrediction{
			Day:                 day,
			Date:                date,
			PredictedInflow:     inflow,
			PredictedOutflow:    dailyOutflow,
			Net:                 net,
			AccumulatedBalance:  balance,
			ExpectedCollections: countByDay[day],
		})
		if balance.IsNegative() {
			fc.Alerts = append(fc.Alerts, DeficitAlert{Day: day, Date: date, Deficit: balance.Neg()})
		}
	}

	return fc
}
