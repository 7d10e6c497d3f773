package event

import (
	"context"

	"github.com/erp/treasury/internal/domain/shared"
	"github.com/erp/treasury/internal/domain/treasury"
	"github.com/erp/treasury/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// AuditLogHandler writes one structured log line per treasury event
type AuditLogHandler struct {
	logger *zap.Logger
}

// NewAuditLogHandler creates an AuditLogHandler
func NewAuditLogHandler(l *zap.Logger) *AuditLogHandler {
	if l == nil {
		l = zap.NewNop()
	}
	return &AuditLogHandler{logger: l.Named("audit")}
}

// EventTypes returns the treasury event types
func (h *AuditLogHandler) EventTypes() []string {
	return []string{
		treasury.EventTypeLedgerChanged,
		treasury.EventTypeReceivablesChanged,
		treasury.EventTypeStatementClosed,
	}
}

// Handle logs the event with the request's trace fields
func (h *AuditLogHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	fields := []zap.Field{
		zap.String("event_id", event.EventID().String()),
		zap.String("event_type", event.EventType()),
		zap.String("tenant_id", event.TenantID().String()),
		zap.String("aggregate_type", event.AggregateType()),
		zap.String("aggregate_id", event.AggregateID().String()),
		zap.Time("occurred_at", event.OccurredAt()),
	}
	switch e := event.(type) {
	case *treasury.LedgerChangedEvent:
		fields = append(fields, zap.Int("accounts", len(e.AccountIDs)))
	case *treasury.StatementClosedEvent:
		fields = append(fields, zap.String("status", string(e.Status)))
	}
	logger.WithLogger(ctx, h.logger).Info("Treasury event", fields...)
	return nil
}

var _ shared.EventHandler = (*AuditLogHandler)(nil)
