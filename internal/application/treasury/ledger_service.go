package treasury

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/treasury/internal/application/idempotency"
	"github.com/erp/treasury/internal/domain/shared"
	"github.com/erp/treasury/internal/domain/treasury"
	"github.com/erp/treasury/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LedgerService manages accounts and their append-only movements
type LedgerService struct {
	deps Dependencies
}

// NewLedgerService creates a new LedgerService
func NewLedgerService(deps Dependencies) *LedgerService {
	return &LedgerService{deps: deps.withDefaults()}
}

// loadAccount resolves an account and checks tenant ownership.
// A missing account and a foreign one are reported differently.
func loadAccount(ctx context.Context, repo treasury.AccountRepository, tenantID, id uuid.UUID, forUpdate bool) (*treasury.Account, error) {
	var (
		account *treasury.Account
		err     error
	)
	if forUpdate {
		account, err = repo.FindByIDForUpdate(ctx, id)
	} else {
		account, err = repo.FindByID(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if account == nil {
		return nil, treasury.NewAccountNotFoundError(id)
	}
	if !account.BelongsTo(tenantID) {
		return nil, treasury.NewAccountNotInTenantError(id)
	}
	return account, nil
}

// ensureCanWithdraw checks a non-negative account can cover an outflow.
// The balance includes every booked movement, future-dated ones too.
func ensureCanWithdraw(ctx context.Context, movements treasury.MovementRepository, account *treasury.Account, amount decimal.Decimal) error {
	if !account.EnforcesNonNegative() {
		return nil
	}
	totals, err := movements.Totals(ctx, account.TenantID, account.ID, time.Time{})
	if err != nil {
		return fmt.Errorf("failed to compute account balance: %w", err)
	}
	return account.EnsureCanWithdraw(totals.Balance(), amount)
}

// CreateAccount creates a cash or bank account
func (s *LedgerService) CreateAccount(ctx context.Context, cmd CreateAccountCommand) (*AccountResponse, bool, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", "create_account",
		telemetry.SpanAttrTenantID, cmd.TenantID.String(),
	)
	defer span.End()

	resp, replayed, err := idempotency.Execute(ctx, s.deps.Executor, cmd.TenantID, cmd.IdempotencyKey, OpCreateAccount,
		func(ctx context.Context) (*AccountResponse, error) {
			account, err := treasury.NewAccount(cmd.TenantID, cmd.Code, cmd.Name, cmd.Kind, cmd.AllowNegative)
			if err != nil {
				return nil, err
			}
			err = s.deps.TxScope.Execute(ctx, func(repos TransactionalRepositories) error {
				exists, err := repos.Accounts().ExistsByCode(ctx, cmd.TenantID, account.Code)
				if err != nil {
					return fmt.Errorf("failed to check account code: %w", err)
				}
				if exists {
					return shared.NewDomainError(shared.CodeConflict,
						fmt.Sprintf("Account code %s already exists", account.Code)).
						WithDetail("code", account.Code)
				}
				if err := repos.Accounts().Save(ctx, account); err != nil {
					return fmt.Errorf("failed to save account: %w", err)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
			r := ToAccountResponse(account)
			return &r, nil
		})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, false, err
	}

	if !replayed {
		s.deps.Logger.Info("Account created",
			zap.String("tenant_id", cmd.TenantID.String()),
			zap.String("account_id", resp.ID.String()),
			zap.String("code", resp.Code),
			zap.String("kind", resp.Kind),
		)
	}
	return resp, replayed, nil
}

// DeactivateAccount closes an account for new movements. Its history stays.
func (s *LedgerService) DeactivateAccount(ctx context.Context, meta CommandMeta, accountID uuid.UUID) (*AccountResponse, bool, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", "deactivate_account",
		telemetry.SpanAttrTenantID, meta.TenantID.String(),
		telemetry.SpanAttrAccountID, accountID.String(),
	)
	defer span.End()

	var events []shared.DomainEvent
	resp, replayed, err := idempotency.Execute(ctx, s.deps.Executor, meta.TenantID, meta.IdempotencyKey, OpDeactivateAccount,
		func(ctx context.Context) (*AccountResponse, error) {
			var account *treasury.Account
			err := s.deps.TxScope.Execute(ctx, func(repos TransactionalRepositories) error {
				var err error
				account, err = loadAccount(ctx, repos.Accounts(), meta.TenantID, accountID, true)
				if err != nil {
					return err
				}
				if err := account.Deactivate(); err != nil {
					return err
				}
				if err := repos.Accounts().Save(ctx, account); err != nil {
					return fmt.Errorf("failed to save account: %w", err)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
			events = append(events, treasury.NewLedgerChangedEvent(meta.TenantID, account.ID, treasury.AggregateTypeAccount, account.ID))
			r := ToAccountResponse(account)
			return &r, nil
		})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, false, err
	}
	if !replayed {
		s.deps.publish(ctx, events...)
	}
	return resp, replayed, nil
}

// ListAccounts returns the tenant's accounts ordered by code
func (s *LedgerService) ListAccounts(ctx context.Context, tenantID uuid.UUID, activeOnly bool) ([]AccountResponse, error) {
	accounts, err := s.deps.Repos.Accounts.FindAllForTenant(ctx, tenantID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	out := make([]AccountResponse, len(accounts))
	for i := range accounts {
		out[i] = ToAccountResponse(&accounts[i])
	}
	return out, nil
}

// GetBalance returns inflow minus outflow for movements dated on or before
// asOf. A zero asOf means today.
func (s *LedgerService) GetBalance(ctx context.Context, tenantID, accountID uuid.UUID, asOf time.Time) (*BalanceResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", "get_balance",
		telemetry.SpanAttrTenantID, tenantID.String(),
		telemetry.SpanAttrAccountID, accountID.String(),
	)
	defer span.End()

	account, err := loadAccount(ctx, s.deps.Repos.Accounts, tenantID, accountID, false)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return s.balanceOf(ctx, account, s.asOfOrToday(asOf))
}

// PositionAsOf sums the balances of every active account of the tenant
func (s *LedgerService) PositionAsOf(ctx context.Context, tenantID uuid.UUID, asOf time.Time) (*PositionResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", "position",
		telemetry.SpanAttrTenantID, tenantID.String(),
	)
	defer span.End()

	asOf = s.asOfOrToday(asOf)
	accounts, err := s.deps.Repos.Accounts.FindAllForTenant(ctx, tenantID, true)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	pos := &PositionResponse{
		AsOf:     asOf,
		Total:    decimal.Zero,
		Accounts: make([]BalanceResponse, 0, len(accounts)),
	}
	for i := range accounts {
		bal, err := s.balanceOf(ctx, &accounts[i], asOf)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		pos.Accounts = append(pos.Accounts, *bal)
		pos.Total = pos.Total.Add(bal.Balance)
	}
	return pos, nil
}

func (s *LedgerService) balanceOf(ctx context.Context, account *treasury.Account, asOf time.Time) (*BalanceResponse, error) {
	totals, err := s.deps.Repos.Movements.Totals(ctx, account.TenantID, account.ID, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to compute balance of account %s: %w", account.Code, err)
	}
	return &BalanceResponse{
		AccountID:     account.ID,
		AccountCode:   account.Code,
		AsOf:          asOf,
		Inflow:        totals.Inflow,
		Outflow:       totals.Outflow,
		Balance:       totals.Balance(),
		MovementCount: totals.Count,
	}, nil
}

func (s *LedgerService) asOfOrToday(asOf time.Time) time.Time {
	if asOf.IsZero() {
		return treasury.DateOf(s.deps.Now())
	}
	return treasury.DateOf(asOf)
}

// ListMovements pages through an account's movements ordered by date
func (s *LedgerService) ListMovements(ctx context.Context, q ListMovementsQuery) (*shared.Paginated[MovementResponse], error) {
	if _, err := loadAccount(ctx, s.deps.Repos.Accounts, q.TenantID, q.AccountID, false); err != nil {
		return nil, err
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return nil, shared.NewValidationError("'to' cannot precede 'from'")
	}

	paging := shared.Filter{Page: q.Page, PageSize: q.PageSize}.Normalized()
	movements, total, err := s.deps.Repos.Movements.Find(ctx, q.TenantID, treasury.MovementFilter{
		AccountIDs: []uuid.UUID{q.AccountID},
		From:       q.From,
		To:         q.To,
		Paging:     paging,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list movements: %w", err)
	}

	items := make([]MovementResponse, len(movements))
	for i := range movements {
		items[i] = ToMovementResponse(&movements[i])
	}
	page := shared.NewPaginated(items, total, paging.Page, paging.PageSize)
	return &page, nil
}

// AppendMovement books a manual movement on an account
func (s *LedgerService) AppendMovement(ctx context.Context, cmd AppendMovementCommand) (*MovementResponse, bool, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", "append_movement",
		telemetry.SpanAttrTenantID, cmd.TenantID.String(),
		telemetry.SpanAttrAccountID, cmd.AccountID.String(),
		telemetry.SpanAttrAmount, cmd.Amount.String(),
		telemetry.SpanAttrDirection, string(cmd.Direction),
	)
	defer span.End()

	if cmd.Date.IsZero() {
		cmd.Date = s.deps.Now()
	}

	var events []shared.DomainEvent
	resp, replayed, err := idempotency.Execute(ctx, s.deps.Executor, cmd.TenantID, cmd.IdempotencyKey, OpAppendMovement,
		func(ctx context.Context) (*MovementResponse, error) {
			var movement *treasury.Movement
			err := s.deps.TxScope.Execute(ctx, func(repos TransactionalRepositories) error {
				account, err := loadAccount(ctx, repos.Accounts(), cmd.TenantID, cmd.AccountID, true)
				if err != nil {
					return err
				}
				if err := account.EnsureUsableBy(cmd.TenantID); err != nil {
					return err
				}
				movement, err = treasury.NewMovement(cmd.TenantID, account.ID, cmd.Date, cmd.Amount, cmd.Direction,
					treasury.Reference{Type: treasury.ReferenceTypeManual}, cmd.Description, cmd.UserID)
				if err != nil {
					return err
				}
				if movement.Direction() == treasury.DirectionOut {
					if err := ensureCanWithdraw(ctx, repos.Movements(), account, movement.Outflow); err != nil {
						return err
					}
				}
				if err := repos.Movements().Append(ctx, movement); err != nil {
					return fmt.Errorf("failed to append movement: %w", err)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
			events = append(events, treasury.NewLedgerChangedEvent(cmd.TenantID, movement.ID, treasury.AggregateTypeMovement, movement.AccountID))
			r := ToMovementResponse(movement)
			return &r, nil
		})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, false, err
	}

	if !replayed {
		s.deps.publish(ctx, events...)
		s.deps.Metrics.RecordMovement(ctx, cmd.TenantID, resp.Direction, cmd.Amount)
		s.deps.Logger.Info("Movement appended",
			zap.String("tenant_id", cmd.TenantID.String()),
			zap.String("account_id", resp.AccountID.String()),
			zap.String("movement_id", resp.ID.String()),
			zap.String("direction", resp.Direction),
			zap.String("amount", cmd.Amount.String()),
		)
	}
	return resp, replayed, nil
}

// ReverseMovement books the offsetting movement of a manual entry or a
// reconciliation adjustment. Transfer and payment legs belong to their
// documents and cannot be reversed one by one.
func (s *LedgerService) ReverseMovement(ctx context.Context, cmd ReverseMovementCommand) (*MovementResponse, bool, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", "reverse_movement",
		telemetry.SpanAttrTenantID, cmd.TenantID.String(),
		telemetry.SpanAttrMovementID, cmd.MovementID.String(),
	)
	defer span.End()

	if cmd.Date.IsZero() {
		cmd.Date = s.deps.Now()
	}

	var events []shared.DomainEvent
	resp, replayed, err := idempotency.Execute(ctx, s.deps.Executor, cmd.TenantID, cmd.IdempotencyKey, OpReverseMovement,
		func(ctx context.Context) (*MovementResponse, error) {
			var reversal *treasury.Movement
			err := s.deps.TxScope.Execute(ctx, func(repos TransactionalRepositories) error {
				original, err := repos.Movements().FindByID(ctx, cmd.TenantID, cmd.MovementID)
				if err != nil {
					return fmt.Errorf("failed to load movement: %w", err)
				}
				if original == nil {
					return treasury.NewNotFoundError(treasury.CodeMovementNotFound, "Movement", cmd.MovementID)
				}
				switch original.ReferenceType {
				case treasury.ReferenceTypeTransfer, treasury.ReferenceTypePayment:
					return shared.NewDomainError(shared.CodeInvalidState,
						fmt.Sprintf("%s movements cannot be reversed individually", original.ReferenceType))
				}

				// The account lock serializes concurrent reversals of the same movement.
				account, err := loadAccount(ctx, repos.Accounts(), cmd.TenantID, original.AccountID, true)
				if err != nil {
					return err
				}
				if err := account.EnsureUsableBy(cmd.TenantID); err != nil {
					return err
				}
				existing, err := repos.Movements().FindByReference(ctx, cmd.TenantID, treasury.ReferenceTypeReversal, original.ID)
				if err != nil {
					return fmt.Errorf("failed to look up reversals: %w", err)
				}
				if len(existing) > 0 {
					return shared.NewDomainError(shared.CodeConflict, "Movement is already reversed").
						WithDetail("reversal_id", existing[0].ID.String())
				}

				reversal, err = original.Reverse(cmd.Date, cmd.Reason, cmd.UserID)
				if err != nil {
					return err
				}
				if reversal.Direction() == treasury.DirectionOut {
					if err := ensureCanWithdraw(ctx, repos.Movements(), account, reversal.Outflow); err != nil {
						return err
					}
				}
				if err := repos.Movements().Append(ctx, reversal); err != nil {
					return fmt.Errorf("failed to append reversal: %w", err)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
			events = append(events, treasury.NewLedgerChangedEvent(cmd.TenantID, reversal.ID, treasury.AggregateTypeMovement, reversal.AccountID))
			r := ToMovementResponse(reversal)
			return &r, nil
		})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, false, err
	}

	if !replayed {
		s.deps.publish(ctx, events...)
		s.deps.Metrics.RecordMovement(ctx, cmd.TenantID, resp.Direction, resp.Inflow.Add(resp.Outflow))
	}
	return resp, replayed, nil
}
