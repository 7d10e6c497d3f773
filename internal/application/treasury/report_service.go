package treasury

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/erp/treasury/internal/domain/treasury"
	"github.com/erp/treasury/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Report names used in cache keys and metrics
const (
	ReportAging    = "aging"
	ReportForecast = "forecast"
)

// ReportConfig holds the tenant-independent report defaults
type ReportConfig struct {
	AgingBoundaries  []int
	ForecastDefaults treasury.ForecastDefaults
}

// DefaultReportConfig returns the built-in report defaults
func DefaultReportConfig() ReportConfig {
	return ReportConfig{
		AgingBoundaries:  treasury.DefaultAgingBoundaries,
		ForecastDefaults: treasury.DefaultForecastDefaults(),
	}
}

// ReportService computes receivables aging, cash-flow forecasts and
// proration quotes. Aging and forecast results are cached per tenant until
// the next ledger or receivables change.
type ReportService struct {
	deps   Dependencies
	config ReportConfig
	cache  ReportCache
}

// NewReportService creates a new ReportService. cache may be nil.
func NewReportService(deps Dependencies, config ReportConfig, cache ReportCache) *ReportService {
	if len(config.AgingBoundaries) == 0 {
		config.AgingBoundaries = treasury.DefaultAgingBoundaries
	}
	if config.ForecastDefaults == (treasury.ForecastDefaults{}) {
		config.ForecastDefaults = treasury.DefaultForecastDefaults()
	}
	return &ReportService{deps: deps.withDefaults(), config: config, cache: cache}
}

// cached returns the decoded cache entry if present. Cache failures are
// treated as misses.
func (s *ReportService) cached(ctx context.Context, report string, tenantID uuid.UUID, key string, dst any) bool {
	if s.cache == nil {
		return false
	}
	raw, ok, err := s.cache.Get(ctx, tenantID, key)
	if err != nil {
		s.deps.Logger.Warn("Report cache read failed",
			zap.String("tenant_id", tenantID.String()),
			zap.String("report", report),
			zap.Error(err),
		)
		ok = false
	}
	if ok {
		if err := json.Unmarshal(raw, dst); err != nil {
			ok = false
		}
	}
	s.deps.Metrics.RecordReportCache(ctx, report, ok)
	return ok
}

// generation snapshots the tenant's cache generation before a report is
// computed. ok is false when the result must not be cached.
func (s *ReportService) generation(ctx context.Context, report string, tenantID uuid.UUID) (gen int64, ok bool) {
	if s.cache == nil {
		return 0, false
	}
	gen, err := s.cache.Generation(ctx, tenantID)
	if err != nil {
		s.deps.Logger.Warn("Report cache generation read failed",
			zap.String("tenant_id", tenantID.String()),
			zap.String("report", report),
			zap.Error(err),
		)
		return 0, false
	}
	return gen, true
}

// store caches value unless the tenant was invalidated after gen was read
func (s *ReportService) store(ctx context.Context, report string, tenantID uuid.UUID, gen int64, key string, value any) {
	raw, err := json.Marshal(value)
	stored := false
	if err == nil {
		stored, err = s.cache.SetIfCurrent(ctx, tenantID, gen, key, raw)
	}
	if err != nil {
		s.deps.Logger.Warn("Report cache write failed",
			zap.String("tenant_id", tenantID.String()),
			zap.String("report", report),
			zap.Error(err),
		)
		return
	}
	if !stored {
		s.deps.Logger.Debug("Discarded report computed before an invalidation",
			zap.String("tenant_id", tenantID.String()),
			zap.String("report", report),
		)
	}
}

// Aging buckets the open balances of the tenant's invoices by days overdue
func (s *ReportService) Aging(ctx context.Context, q AgingQuery) (*treasury.AgingReport, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "report", "aging",
		telemetry.SpanAttrTenantID, q.TenantID.String(),
	)
	defer span.End()

	var (
		buckets treasury.AgingBuckets
		err     error
	)
	if strings.TrimSpace(q.Buckets) == "" {
		buckets, err = treasury.NewAgingBuckets(s.config.AgingBoundaries)
	} else {
		buckets, err = treasury.ParseAgingBuckets(q.Buckets)
	}
	if err != nil {
		return nil, err
	}

	asOf := q.AsOf
	if asOf.IsZero() {
		asOf = s.deps.Now()
	}
	asOf = treasury.DateOf(asOf)

	client := "all"
	if q.ClientID != nil {
		client = q.ClientID.String()
	}
	key := fmt.Sprintf("%s:%s:%s:%s", ReportAging, asOf.Format("2006-01-02"), joinInts(buckets.Boundaries()), client)

	var report treasury.AgingReport
	if s.cached(ctx, ReportAging, q.TenantID, key, &report) {
		return &report, nil
	}
	gen, cacheable := s.generation(ctx, ReportAging, q.TenantID)

	invoices, err := s.deps.Repos.Invoices.FindOpenForTenant(ctx, q.TenantID, q.ClientID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load open invoices: %w", err)
	}
	result := treasury.ComputeAging(invoices, asOf, buckets, q.ClientID)
	if cacheable {
		s.store(ctx, ReportAging, q.TenantID, gen, key, result)
	}
	return result, nil
}

// Forecast projects the tenant's cash position day by day
func (s *ReportService) Forecast(ctx context.Context, q ForecastQuery) (*treasury.CashForecast, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "report", "forecast",
		telemetry.SpanAttrTenantID, q.TenantID.String(),
	)
	defer span.End()

	assumptions := q.Input.Resolve(s.config.ForecastDefaults)
	today := q.Today
	if today.IsZero() {
		today = s.deps.Now()
	}
	today = treasury.DateOf(today)

	key := fmt.Sprintf("%s:%s:%d:%d:%d:%d:%d", ReportForecast, today.Format("2006-01-02"),
		assumptions.Days, assumptions.CollectionRatePct, assumptions.DelayDays,
		assumptions.SafetyMarginPct, assumptions.HistoricalDays)

	var fc treasury.CashForecast
	if s.cached(ctx, ReportForecast, q.TenantID, key, &fc) {
		return &fc, nil
	}
	gen, cacheable := s.generation(ctx, ReportForecast, q.TenantID)

	data, err := s.forecastData(ctx, q.TenantID, today, assumptions.HistoricalDays)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	result := treasury.ProjectCashFlow(*data, assumptions)
	if cacheable {
		s.store(ctx, ReportForecast, q.TenantID, gen, key, result)
	}
	return result, nil
}

// forecastData reads the current position of active accounts, their
// outflows over the trailing window excluding transfer legs, and every open
// invoice
func (s *ReportService) forecastData(ctx context.Context, tenantID uuid.UUID, today time.Time, historicalDays int) (*treasury.ForecastData, error) {
	accounts, err := s.deps.Repos.Accounts.FindAllForTenant(ctx, tenantID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	data := &treasury.ForecastData{
		Today:              today,
		CurrentPosition:    decimal.Zero,
		HistoricalOutflows: decimal.Zero,
	}
	accountIDs := make([]uuid.UUID, 0, len(accounts))
	for i := range accounts {
		totals, err := s.deps.Repos.Movements.Totals(ctx, tenantID, accounts[i].ID, today)
		if err != nil {
			return nil, fmt.Errorf("failed to compute balance of account %s: %w", accounts[i].Code, err)
		}
		data.CurrentPosition = data.CurrentPosition.Add(totals.Balance())
		accountIDs = append(accountIDs, accounts[i].ID)
	}

	if len(accountIDs) > 0 {
		history, _, err := s.deps.Repos.Movements.Find(ctx, tenantID, treasury.MovementFilter{
			AccountIDs:        accountIDs,
			From:              today.AddDate(0, 0, -historicalDays),
			To:                today.AddDate(0, 0, -1),
			ExcludeReferences: []treasury.ReferenceType{treasury.ReferenceTypeTransfer},
			Unpaged:           true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load historical movements: %w", err)
		}
		data.HistoricalOutflows = treasury.SumMovements(history).Outflow
	}

	data.OpenInvoices, err = s.deps.Repos.Invoices.FindOpenForTenant(ctx, tenantID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load open invoices: %w", err)
	}
	return data, nil
}

// Prorate quotes a mid-cycle plan change. It reads nothing and writes nothing.
func (s *ReportService) Prorate(ctx context.Context, req treasury.ProrationRequest) (*treasury.ProrationResult, error) {
	_, span := telemetry.StartServiceSpan(ctx, "report", "prorate")
	defer span.End()

	result, err := treasury.Prorate(req)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return result, nil
}

// InvalidateTenant drops every cached report of the tenant
func (s *ReportService) InvalidateTenant(ctx context.Context, tenantID uuid.UUID) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.InvalidateTenant(ctx, tenantID)
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ",")
}
