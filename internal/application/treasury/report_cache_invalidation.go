package treasury

import (
	"context"

	"github.com/erp/treasury/internal/domain/shared"
	"github.com/erp/treasury/internal/domain/treasury"
	"go.uber.org/zap"
)

// ReportCacheInvalidationHandler drops a tenant's cached reports whenever its
// ledger, receivables or statements change
type ReportCacheInvalidationHandler struct {
	reports *ReportService
	logger  *zap.Logger
}

// NewReportCacheInvalidationHandler creates a new ReportCacheInvalidationHandler
func NewReportCacheInvalidationHandler(reports *ReportService, logger *zap.Logger) *ReportCacheInvalidationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportCacheInvalidationHandler{reports: reports, logger: logger}
}

// EventTypes returns the event types this handler is interested in
func (h *ReportCacheInvalidationHandler) EventTypes() []string {
	return []string{
		treasury.EventTypeLedgerChanged,
		treasury.EventTypeReceivablesChanged,
		treasury.EventTypeStatementClosed,
	}
}

// Handle invalidates the cache of the event's tenant
func (h *ReportCacheInvalidationHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	if err := h.reports.InvalidateTenant(ctx, event.TenantID()); err != nil {
		h.logger.Warn("Failed to invalidate report cache",
			zap.String("tenant_id", event.TenantID().String()),
			zap.String("event_type", event.EventType()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

var _ shared.EventHandler = (*ReportCacheInvalidationHandler)(nil)
