// Package treasury holds the application services of the treasury context:
// ledger, transfers, reconciliation, receivables and reports.
package treasury

import (
	"context"
	"time"

	"github.com/erp/treasury/internal/application/idempotency"
	"github.com/erp/treasury/internal/domain/shared"
	"github.com/erp/treasury/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Dependencies are shared by every treasury service
type Dependencies struct {
	Repos     Repositories
	TxScope   TransactionScope
	Executor  *idempotency.Executor
	Publisher shared.EventPublisher
	Logger    *zap.Logger
	Metrics   *telemetry.TreasuryMetrics
	// Now defaults to time.Now
	Now func() time.Time
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.TxScope == nil {
		d.TxScope = NewNoOpTransactionScope(d.Repos)
	}
	return d
}

// publish hands committed events to the publisher. Failures are logged only:
// the command already committed and subscribers are best effort.
func (d Dependencies) publish(ctx context.Context, events ...shared.DomainEvent) {
	if d.Publisher == nil || len(events) == 0 {
		return
	}
	if err := d.Publisher.Publish(ctx, events...); err != nil {
		d.Logger.Warn("Failed to publish treasury events",
			zap.Int("count", len(events)),
			zap.String("event_type", events[0].EventType()),
			zap.Error(err),
		)
	}
}

type eventSource interface {
	GetDomainEvents() []shared.DomainEvent
	ClearDomainEvents()
}

// drainEvents collects and clears the pending events of aggregates
func drainEvents(aggregates ...eventSource) []shared.DomainEvent {
	var events []shared.DomainEvent
	for _, a := range aggregates {
		events = append(events, a.GetDomainEvents()...)
		a.ClearDomainEvents()
	}
	return events
}
