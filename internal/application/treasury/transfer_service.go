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

// TransferService moves money between accounts of one tenant
type TransferService struct {
	deps Dependencies
}

// NewTransferService creates a new TransferService
func NewTransferService(deps Dependencies) *TransferService {
	return &TransferService{deps: deps.withDefaults()}
}

// CreateTransfer books both legs of a transfer in one transaction.
// Every check runs before the first write.
func (s *TransferService) CreateTransfer(ctx context.Context, cmd CreateTransferCommand) (*TransferResponse, bool, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "transfer", "create",
		telemetry.SpanAttrTenantID, cmd.TenantID.String(),
		telemetry.SpanAttrAccountID, cmd.SourceAccountID.String(),
		telemetry.SpanAttrAmount, cmd.Amount.String(),
	)
	defer span.End()

	if cmd.Date.IsZero() {
		cmd.Date = s.deps.Now()
	}

	var events []shared.DomainEvent
	resp, replayed, err := idempotency.Execute(ctx, s.deps.Executor, cmd.TenantID, cmd.IdempotencyKey, OpCreateTransfer,
		func(ctx context.Context) (*TransferResponse, error) {
			var (
				transfer *treasury.Transfer
				legs     []treasury.Movement
			)
			err := s.deps.TxScope.Execute(ctx, func(repos TransactionalRepositories) error {
				source, err := loadAccount(ctx, repos.Accounts(), cmd.TenantID, cmd.SourceAccountID, true)
				if err != nil {
					return err
				}
				dest, err := loadAccount(ctx, repos.Accounts(), cmd.TenantID, cmd.DestAccountID, false)
				if err != nil {
					return err
				}

				var out, in *treasury.Movement
				transfer, out, in, err = treasury.NewTransfer(cmd.TenantID, source, dest, cmd.Amount, cmd.Date, cmd.VoucherRef, cmd.UserID)
				if err != nil {
					return err
				}
				if err := ensureCanWithdraw(ctx, repos.Movements(), source, cmd.Amount); err != nil {
					return err
				}

				if err := repos.Movements().Append(ctx, out, in); err != nil {
					return fmt.Errorf("failed to append transfer movements: %w", err)
				}
				if err := repos.Transfers().Save(ctx, transfer); err != nil {
					return fmt.Errorf("failed to save transfer: %w", err)
				}
				legs = []treasury.Movement{*out, *in}
				return nil
			})
			if err != nil {
				return nil, err
			}
			events = append(events, drainEvents(transfer)...)
			r := ToTransferResponse(transfer, legs)
			return &r, nil
		})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, false, err
	}

	telemetry.SetAttributes(span, telemetry.SpanAttrTransferID, resp.ID.String())
	if !replayed {
		s.deps.publish(ctx, events...)
		s.deps.Metrics.RecordTransfer(ctx, cmd.TenantID)
		s.deps.Logger.Info("Transfer created",
			zap.String("tenant_id", cmd.TenantID.String()),
			zap.String("transfer_id", resp.ID.String()),
			zap.String("source_account_id", resp.SourceAccountID.String()),
			zap.String("dest_account_id", resp.DestAccountID.String()),
			zap.String("amount", resp.Amount.String()),
		)
	}
	return resp, replayed, nil
}

// GetTransfer returns a transfer with its two movements
func (s *TransferService) GetTransfer(ctx context.Context, tenantID, id uuid.UUID) (*TransferResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "transfer", "get",
		telemetry.SpanAttrTenantID, tenantID.String(),
		telemetry.SpanAttrTransferID, id.String(),
	)
	defer span.End()

	transfer, err := s.deps.Repos.Transfers.FindByIDForTenant(ctx, tenantID, id)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load transfer: %w", err)
	}
	if transfer == nil {
		return nil, treasury.NewNotFoundError(treasury.CodeTransferNotFound, "Transfer", id)
	}

	legs, err := s.deps.Repos.Movements.FindByReference(ctx, tenantID, treasury.ReferenceTypeTransfer, id)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load transfer movements: %w", err)
	}
	if err := transfer.VerifySymmetry(legs); err != nil {
		s.deps.Logger.Error("Transfer legs are asymmetric",
			zap.String("tenant_id", tenantID.String()),
			zap.String("transfer_id", id.String()),
			zap.Error(err),
		)
	}

	r := ToTransferResponse(transfer, legs)
	return &r, nil
}
