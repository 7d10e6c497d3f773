package treasury

import (
	"context"
	"fmt"

	"github.com/erp/treasury/internal/application/idempotency"
	"github.com/erp/treasury/internal/domain/shared"
	"github.com/erp/treasury/internal/domain/treasury"
	"github.com/erp/treasury/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReceivablesService registers invoices and applies client payments to them
type ReceivablesService struct {
	deps Dependencies
}

// NewReceivablesService creates a new ReceivablesService
func NewReceivablesService(deps Dependencies) *ReceivablesService {
	return &ReceivablesService{deps: deps.withDefaults()}
}

// RegisterInvoice records an invoice owed by a client
func (s *ReceivablesService) RegisterInvoice(ctx context.Context, cmd RegisterInvoiceCommand) (*InvoiceResponse, bool, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "receivables", "register_invoice",
		telemetry.SpanAttrTenantID, cmd.TenantID.String(),
	)
	defer span.End()

	var events []shared.DomainEvent
	resp, replayed, err := idempotency.Execute(ctx, s.deps.Executor, cmd.TenantID, cmd.IdempotencyKey, OpRegisterInvoice,
		func(ctx context.Context) (*InvoiceResponse, error) {
			inv, err := treasury.NewInvoice(cmd.TenantID, cmd.ClientID, cmd.ClientName, cmd.Number, cmd.Total, cmd.IssueDate, cmd.DueDate)
			if err != nil {
				return nil, err
			}
			err = s.deps.TxScope.Execute(ctx, func(repos TransactionalRepositories) error {
				exists, err := repos.Invoices().ExistsByNumber(ctx, cmd.TenantID, inv.Number)
				if err != nil {
					return fmt.Errorf("failed to check invoice number: %w", err)
				}
				if exists {
					return shared.NewDomainError(shared.CodeConflict,
						fmt.Sprintf("Invoice number %s already exists", inv.Number)).
						WithDetail("number", inv.Number)
				}
				if err := repos.Invoices().Save(ctx, inv); err != nil {
					return fmt.Errorf("failed to save invoice: %w", err)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
			events = append(events, drainEvents(inv)...)
			r := ToInvoiceResponse(inv)
			return &r, nil
		})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, false, err
	}

	telemetry.SetAttributes(span, telemetry.SpanAttrInvoiceID, resp.ID.String())
	if !replayed {
		s.deps.publish(ctx, events...)
	}
	return resp, replayed, nil
}

// AllocatePayment books a received payment as an inflow on the account and
// applies it to invoices, either FIFO over the client's open invoices or as
// the caller lists them. Any remainder stays unallocated on the movement.
func (s *ReceivablesService) AllocatePayment(ctx context.Context, cmd AllocatePaymentCommand) (*PaymentResponse, bool, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "receivables", "allocate_payment",
		telemetry.SpanAttrTenantID, cmd.TenantID.String(),
		telemetry.SpanAttrAccountID, cmd.AccountID.String(),
		telemetry.SpanAttrAmount, cmd.Amount.String(),
	)
	defer span.End()

	if cmd.Strategy == "" {
		cmd.Strategy = treasury.AllocationStrategyFIFO
	}
	if !cmd.Strategy.IsValid() {
		return nil, false, shared.NewValidationError("Allocation strategy %q is not valid", cmd.Strategy)
	}
	if cmd.Strategy == treasury.AllocationStrategyFIFO && cmd.ClientID == uuid.Nil {
		return nil, false, shared.NewValidationError("FIFO allocation requires a client ID")
	}
	if cmd.Date.IsZero() {
		cmd.Date = s.deps.Now()
	}

	var events []shared.DomainEvent
	resp, replayed, err := idempotency.Execute(ctx, s.deps.Executor, cmd.TenantID, cmd.IdempotencyKey, OpAllocatePayment,
		func(ctx context.Context) (*PaymentResponse, error) {
			paymentID := uuid.New()
			var (
				movement *treasury.Movement
				plan     *treasury.AllocationPlan
				applied  []AppliedAllocation
			)
			err := s.deps.TxScope.Execute(ctx, func(repos TransactionalRepositories) error {
				account, err := loadAccount(ctx, repos.Accounts(), cmd.TenantID, cmd.AccountID, true)
				if err != nil {
					return err
				}
				if err := account.EnsureUsableBy(cmd.TenantID); err != nil {
					return err
				}
				description := cmd.Description
				if description == "" {
					description = fmt.Sprintf("Payment %s", paymentID)
				}
				movement, err = treasury.NewMovement(cmd.TenantID, account.ID, cmd.Date, cmd.Amount, treasury.DirectionIn,
					treasury.Reference{Type: treasury.ReferenceTypePayment, ID: paymentID}, description, cmd.UserID)
				if err != nil {
					return err
				}

				invoices, err := s.planInvoices(ctx, repos.Invoices(), cmd)
				if err != nil {
					return err
				}
				if cmd.Strategy == treasury.AllocationStrategyManual {
					plan, err = treasury.PlanManual(cmd.Amount, cmd.Allocations)
				} else {
					plan, err = treasury.PlanFIFO(cmd.Amount, invoices)
				}
				if err != nil {
					return err
				}

				byID := make(map[uuid.UUID]*treasury.Invoice, len(invoices))
				for _, inv := range invoices {
					byID[inv.ID] = inv
				}
				now := s.deps.Now()
				touched := make([]*treasury.Invoice, 0, len(plan.Allocations))
				for _, pa := range plan.Allocations {
					inv := byID[pa.InvoiceID]
					if err := inv.Allocate(paymentID, pa.Amount, now); err != nil {
						return err
					}
					touched = append(touched, inv)
					applied = append(applied, AppliedAllocation{
						InvoiceID:     inv.ID,
						InvoiceNumber: inv.Number,
						Amount:        pa.Amount,
						BalanceAfter:  inv.Balance,
					})
				}

				if err := repos.Movements().Append(ctx, movement); err != nil {
					return fmt.Errorf("failed to append payment movement: %w", err)
				}
				for _, inv := range touched {
					if err := repos.Invoices().SaveWithLock(ctx, inv); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return nil, err
			}

			invoiceIDs := make([]uuid.UUID, len(applied))
			for i, a := range applied {
				invoiceIDs[i] = a.InvoiceID
			}
			events = append(events,
				treasury.NewLedgerChangedEvent(cmd.TenantID, movement.ID, treasury.AggregateTypeMovement, movement.AccountID),
				treasury.NewReceivablesChangedEvent(cmd.TenantID, paymentID, invoiceIDs...),
			)
			if applied == nil {
				applied = []AppliedAllocation{}
			}
			return &PaymentResponse{
				PaymentID:      paymentID,
				Movement:       ToMovementResponse(movement),
				Amount:         cmd.Amount,
				Strategy:       string(cmd.Strategy),
				Allocations:    applied,
				TotalAllocated: plan.TotalAllocated,
				Unallocated:    plan.Unallocated,
			}, nil
		})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, false, err
	}

	if !replayed {
		s.deps.publish(ctx, events...)
		s.deps.Metrics.RecordMovement(ctx, cmd.TenantID, string(treasury.DirectionIn), cmd.Amount)
		s.deps.Logger.Info("Payment allocated",
			zap.String("tenant_id", cmd.TenantID.String()),
			zap.String("payment_id", resp.PaymentID.String()),
			zap.String("strategy", resp.Strategy),
			zap.Int("invoices", len(resp.Allocations)),
			zap.String("unallocated", resp.Unallocated.String()),
		)
	}
	return resp, replayed, nil
}

// planInvoices loads the invoices a payment may be applied to
func (s *ReceivablesService) planInvoices(ctx context.Context, repo treasury.InvoiceRepository, cmd AllocatePaymentCommand) ([]*treasury.Invoice, error) {
	if cmd.Strategy == treasury.AllocationStrategyFIFO {
		clientID := cmd.ClientID
		invoices, err := repo.FindOpenForTenant(ctx, cmd.TenantID, &clientID)
		if err != nil {
			return nil, fmt.Errorf("failed to load open invoices: %w", err)
		}
		return invoices, nil
	}

	ids := make([]uuid.UUID, len(cmd.Allocations))
	for i, a := range cmd.Allocations {
		ids[i] = a.InvoiceID
	}
	invoices, err := repo.FindByIDsForTenant(ctx, cmd.TenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoices: %w", err)
	}
	found := make(map[uuid.UUID]*treasury.Invoice, len(invoices))
	for _, inv := range invoices {
		found[inv.ID] = inv
	}
	for _, id := range ids {
		inv, ok := found[id]
		if !ok {
			return nil, treasury.NewNotFoundError(treasury.CodeInvoiceNotFound, "Invoice", id)
		}
		if cmd.ClientID != uuid.Nil && inv.ClientID != cmd.ClientID {
			return nil, shared.NewValidationError("Invoice %s belongs to another client", inv.Number)
		}
	}
	return invoices, nil
}
