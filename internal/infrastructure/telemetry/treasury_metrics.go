package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrMeterNil is returned when metrics are built without a meter.
var ErrMeterNil = errors.New("telemetry: meter is nil")

// IdempotencyOutcome labels the result of a guarded command.
type IdempotencyOutcome string

const (
	IdempotencyExecuted IdempotencyOutcome = "executed"
	IdempotencyReplayed IdempotencyOutcome = "replayed"
	IdempotencyConflict IdempotencyOutcome = "conflict"
	IdempotencyFailed   IdempotencyOutcome = "failed"
)

// TreasuryMetrics holds the business instruments of the treasury service.
// A nil *TreasuryMetrics is valid and records nothing.
type TreasuryMetrics struct {
	movementsTotal   *Counter
	movementAmount   *Counter
	transfersTotal   *Counter
	idempotencyTotal *Counter
	statementsClosed *Counter
	matchLinesTotal  *Counter
	reportCacheTotal *Counter
	commandDuration  *Histogram
}

// NewTreasuryMetrics registers the treasury instruments on meter.
func NewTreasuryMetrics(meter metric.Meter) (*TreasuryMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	tm := &TreasuryMetrics{}
	var err error

	if tm.movementsTotal, err = NewCounter(meter, "treasury_movements_total",
		"Ledger movements appended", "{movements}"); err != nil {
		return nil, err
	}
	if tm.movementAmount, err = NewCounter(meter, "treasury_movement_amount_cents_total",
		"Sum of appended movement amounts in cents", "{cents}"); err != nil {
		return nil, err
	}
	if tm.transfersTotal, err = NewCounter(meter, "treasury_transfers_total",
		"Transfers created", "{transfers}"); err != nil {
		return nil, err
	}
	if tm.idempotencyTotal, err = NewCounter(meter, "treasury_idempotency_outcomes_total",
		"Idempotent command outcomes", "{commands}"); err != nil {
		return nil, err
	}
	if tm.statementsClosed, err = NewCounter(meter, "treasury_statements_closed_total",
		"Statements closed by final status", "{statements}"); err != nil {
		return nil, err
	}
	if tm.matchLinesTotal, err = NewCounter(meter, "treasury_match_lines_total",
		"Statement lines by match outcome after a matching run", "{lines}"); err != nil {
		return nil, err
	}
	if tm.reportCacheTotal, err = NewCounter(meter, "treasury_report_cache_lookups_total",
		"Report cache lookups by outcome", "{lookups}"); err != nil {
		return nil, err
	}
	if tm.commandDuration, err = NewHistogram(meter, "treasury_command_duration_seconds",
		"Latency of idempotent commands", "s", CommandDurationBuckets); err != nil {
		return nil, err
	}

	return tm, nil
}

// RecordMovement counts an appended movement and its amount.
func (tm *TreasuryMetrics) RecordMovement(ctx context.Context, tenantID uuid.UUID, direction string, amount decimal.Decimal) {
	if tm == nil {
		return
	}
	attrs := []attribute.KeyValue{AttrTenantID.String(tenantID.String()), AttrDirection.String(direction)}
	tm.movementsTotal.Inc(ctx, attrs...)
	tm.movementAmount.Add(ctx, amount.Shift(2).IntPart(), attrs...)
}

// RecordTransfer counts a created transfer.
func (tm *TreasuryMetrics) RecordTransfer(ctx context.Context, tenantID uuid.UUID) {
	if tm == nil {
		return
	}
	tm.transfersTotal.Inc(ctx, AttrTenantID.String(tenantID.String()))
}

// RecordIdempotency counts one guarded command outcome and its latency.
func (tm *TreasuryMetrics) RecordIdempotency(ctx context.Context, operation string, outcome IdempotencyOutcome, elapsed time.Duration) {
	if tm == nil {
		return
	}
	tm.idempotencyTotal.Inc(ctx, AttrOperation.String(operation), AttrOutcome.String(string(outcome)))
	tm.commandDuration.RecordDuration(ctx, elapsed, AttrOperation.String(operation), AttrOutcome.String(string(outcome)))
}

// RecordStatementClosed counts a closed statement by status.
func (tm *TreasuryMetrics) RecordStatementClosed(ctx context.Context, tenantID uuid.UUID, status string) {
	if tm == nil {
		return
	}
	tm.statementsClosed.Inc(ctx, AttrTenantID.String(tenantID.String()), AttrStatus.String(status))
}

// RecordMatchRun adds the line counts of a matching run.
func (tm *TreasuryMetrics) RecordMatchRun(ctx context.Context, matched, pending, suspense int) {
	if tm == nil {
		return
	}
	tm.matchLinesTotal.Add(ctx, int64(matched), AttrStatus.String("matched"))
	tm.matchLinesTotal.Add(ctx, int64(pending), AttrStatus.String("pending"))
	tm.matchLinesTotal.Add(ctx, int64(suspense), AttrStatus.String("suspense"))
}

// RecordReportCache counts a report cache hit or miss.
func (tm *TreasuryMetrics) RecordReportCache(ctx context.Context, report string, hit bool) {
	if tm == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	tm.reportCacheTotal.Inc(ctx, AttrReport.String(report), AttrOutcome.String(outcome))
}
