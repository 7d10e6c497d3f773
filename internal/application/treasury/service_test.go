package treasury_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/erp/treasury/internal/application/idempotency"
	apptreasury "github.com/erp/treasury/internal/application/treasury"
	"github.com/erp/treasury/internal/domain/shared"
	"github.com/erp/treasury/internal/domain/treasury"
	"github.com/erp/treasury/internal/infrastructure/cache"
	"github.com/erp/treasury/internal/infrastructure/persistence"
	"github.com/erp/treasury/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, events ...shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.EventType() == eventType {
			n++
		}
	}
	return n
}

type testEnv struct {
	db          *gorm.DB
	deps        apptreasury.Dependencies
	publisher   *recordingPublisher
	ledger      *apptreasury.LedgerService
	transfers   *apptreasury.TransferService
	receivables *apptreasury.ReceivablesService
	recon       *apptreasury.ReconciliationService
	tenantID    uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(
		&models.AccountModel{},
		&models.MovementModel{},
		&models.TransferModel{},
		&models.StatementModel{},
		&models.StatementLineModel{},
		&models.InvoiceModel{},
	))

	store := cache.NewInMemoryIdempotencyStore(0)
	t.Cleanup(func() { _ = store.Close() })

	publisher := &recordingPublisher{}
	deps := apptreasury.Dependencies{
		Repos:     persistence.NewRepositories(db),
		TxScope:   persistence.NewGormTransactionScope(db),
		Executor:  idempotency.NewExecutor(store, shared.DefaultIdempotencyConfig(), zap.NewNop()),
		Publisher: publisher,
		Logger:    zap.NewNop(),
		Now:       func() time.Time { return time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC) },
	}
	return &testEnv{
		db:          db,
		deps:        deps,
		publisher:   publisher,
		ledger:      apptreasury.NewLedgerService(deps),
		transfers:   apptreasury.NewTransferService(deps),
		receivables: apptreasury.NewReceivablesService(deps),
		recon:       apptreasury.NewReconciliationService(deps, treasury.DefaultMatchConfig(), nil, nil),
		tenantID:    uuid.New(),
	}
}

func (e *testEnv) meta(key string) apptreasury.CommandMeta {
	return apptreasury.CommandMeta{TenantID: e.tenantID, UserID: "tester", IdempotencyKey: key}
}

func (e *testEnv) account(t *testing.T, code string, kind treasury.AccountKind) *apptreasury.AccountResponse {
	t.Helper()
	acc, _, err := e.ledger.CreateAccount(context.Background(), apptreasury.CreateAccountCommand{
		CommandMeta: e.meta(""),
		Code:        code,
		Name:        code + " account",
		Kind:        kind,
	})
	require.NoError(t, err)
	return acc
}

func (e *testEnv) book(t *testing.T, accountID uuid.UUID, date time.Time, amount string, dir treasury.Direction) *apptreasury.MovementResponse {
	t.Helper()
	m, _, err := e.ledger.AppendMovement(context.Background(), apptreasury.AppendMovementCommand{
		CommandMeta: e.meta(""),
		AccountID:   accountID,
		Date:        date,
		Amount:      dec(amount),
		Direction:   dir,
	})
	require.NoError(t, err)
	return m
}

func (e *testEnv) balance(t *testing.T, accountID uuid.UUID) string {
	t.Helper()
	b, err := e.ledger.GetBalance(context.Background(), e.tenantID, accountID, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return b.Balance.StringFixed(2)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	de, ok := shared.AsDomainError(err)
	require.True(t, ok, "expected a domain error, got %v", err)
	assert.Equal(t, code, de.Code)
}

func TestLedgerService_AccountsAndMovements(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cash := env.account(t, "CAJA-01", treasury.AccountKindCash)

	t.Run("duplicate code conflicts", func(t *testing.T) {
		_, _, err := env.ledger.CreateAccount(ctx, apptreasury.CreateAccountCommand{
			CommandMeta: env.meta(""),
			Code:        "CAJA-01",
			Name:        "again",
			Kind:        treasury.AccountKindCash,
		})
		requireCode(t, err, shared.CodeConflict)
	})

	env.book(t, cash.ID, day(2024, 4, 1), "1000", treasury.DirectionIn)

	t.Run("cash cannot go negative", func(t *testing.T) {
		_, _, err := env.ledger.AppendMovement(ctx, apptreasury.AppendMovementCommand{
			CommandMeta: env.meta(""),
			AccountID:   cash.ID,
			Date:        day(2024, 4, 2),
			Amount:      dec("1000.01"),
			Direction:   treasury.DirectionOut,
		})
		requireCode(t, err, treasury.CodeInsufficientFunds)
		assert.Equal(t, "1000.00", env.balance(t, cash.ID))
	})

	t.Run("foreign tenant is rejected", func(t *testing.T) {
		_, _, err := env.ledger.AppendMovement(ctx, apptreasury.AppendMovementCommand{
			CommandMeta: apptreasury.CommandMeta{TenantID: uuid.New()},
			AccountID:   cash.ID,
			Date:        day(2024, 4, 2),
			Amount:      dec("1"),
			Direction:   treasury.DirectionIn,
		})
		requireCode(t, err, treasury.CodeAccountNotInTenant)
	})

	t.Run("unknown account is not found", func(t *testing.T) {
		_, err := env.ledger.GetBalance(ctx, env.tenantID, uuid.New(), time.Time{})
		requireCode(t, err, treasury.CodeAccountNotFound)
	})

	t.Run("replayed key returns the same movement", func(t *testing.T) {
		cmd := apptreasury.AppendMovementCommand{
			CommandMeta: env.meta("mv-1"),
			AccountID:   cash.ID,
			Date:        day(2024, 4, 3),
			Amount:      dec("50"),
			Direction:   treasury.DirectionOut,
		}
		first, replayed, err := env.ledger.AppendMovement(ctx, cmd)
		require.NoError(t, err)
		assert.False(t, replayed)

		second, replayed, err := env.ledger.AppendMovement(ctx, cmd)
		require.NoError(t, err)
		assert.True(t, replayed)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "950.00", env.balance(t, cash.ID))
	})

	t.Run("key reused for another operation", func(t *testing.T) {
		_, _, err := env.ledger.ReverseMovement(ctx, apptreasury.ReverseMovementCommand{
			CommandMeta: env.meta("mv-1"),
			MovementID:  uuid.New(),
		})
		requireCode(t, err, shared.CodeIdempotencyKeyReused)
	})

	t.Run("reversal happens once", func(t *testing.T) {
		m := env.book(t, cash.ID, day(2024, 4, 4), "20", treasury.DirectionIn)
		rev, _, err := env.ledger.ReverseMovement(ctx, apptreasury.ReverseMovementCommand{
			CommandMeta: env.meta(""),
			MovementID:  m.ID,
			Reason:      "duplicate",
		})
		require.NoError(t, err)
		assert.Equal(t, string(treasury.DirectionOut), rev.Direction)
		assert.Equal(t, m.ID, rev.ReferenceID)

		_, _, err = env.ledger.ReverseMovement(ctx, apptreasury.ReverseMovementCommand{
			CommandMeta: env.meta(""),
			MovementID:  m.ID,
		})
		requireCode(t, err, shared.CodeConflict)
		assert.Equal(t, "950.00", env.balance(t, cash.ID))
	})

	t.Run("movements are paged in date order", func(t *testing.T) {
		page, err := env.ledger.ListMovements(ctx, apptreasury.ListMovementsQuery{
			TenantID:  env.tenantID,
			AccountID: cash.ID,
			Page:      1,
			PageSize:  2,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(4), page.Total)
		require.Len(t, page.Items, 2)
		assert.Equal(t, day(2024, 4, 1), page.Items[0].Date)
	})

	t.Run("deactivated account refuses movements", func(t *testing.T) {
		acc, _, err := env.ledger.DeactivateAccount(ctx, env.meta(""), cash.ID)
		require.NoError(t, err)
		assert.False(t, acc.IsActive)

		_, _, err = env.ledger.AppendMovement(ctx, apptreasury.AppendMovementCommand{
			CommandMeta: env.meta(""),
			AccountID:   cash.ID,
			Date:        day(2024, 4, 5),
			Amount:      dec("1"),
			Direction:   treasury.DirectionIn,
		})
		requireCode(t, err, treasury.CodeAccountInactive)
	})

	assert.Positive(t, env.publisher.count(treasury.EventTypeLedgerChanged))
}

func TestTransferService_CreateTransfer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cash := env.account(t, "CAJA-01", treasury.AccountKindCash)
	bank := env.account(t, "BANCO-01", treasury.AccountKindBank)
	env.book(t, cash.ID, day(2024, 4, 1), "1000", treasury.DirectionIn)

	cmd := apptreasury.CreateTransferCommand{
		CommandMeta:     env.meta("tr-1"),
		SourceAccountID: cash.ID,
		DestAccountID:   bank.ID,
		Amount:          dec("400"),
		Date:            day(2024, 4, 5),
		VoucherRef:      "DEP-001",
	}
	tr, replayed, err := env.transfers.CreateTransfer(ctx, cmd)
	require.NoError(t, err)
	assert.False(t, replayed)
	require.Len(t, tr.Movements, 2)
	assert.Equal(t, "600.00", env.balance(t, cash.ID))
	assert.Equal(t, "400.00", env.balance(t, bank.ID))

	t.Run("replay books nothing new", func(t *testing.T) {
		again, replayed, err := env.transfers.CreateTransfer(ctx, cmd)
		require.NoError(t, err)
		assert.True(t, replayed)
		assert.Equal(t, tr.ID, again.ID)
		assert.Equal(t, "400.00", env.balance(t, bank.ID))
	})

	t.Run("get returns both legs", func(t *testing.T) {
		got, err := env.transfers.GetTransfer(ctx, env.tenantID, tr.ID)
		require.NoError(t, err)
		assert.Len(t, got.Movements, 2)
		assert.Equal(t, "DEP-001", got.VoucherRef)
	})

	t.Run("legs cannot be reversed alone", func(t *testing.T) {
		_, _, err := env.ledger.ReverseMovement(ctx, apptreasury.ReverseMovementCommand{
			CommandMeta: env.meta(""),
			MovementID:  tr.Movements[0].ID,
		})
		requireCode(t, err, shared.CodeInvalidState)
	})

	t.Run("insufficient funds leaves both accounts untouched", func(t *testing.T) {
		_, _, err := env.transfers.CreateTransfer(ctx, apptreasury.CreateTransferCommand{
			CommandMeta:     env.meta("tr-2"),
			SourceAccountID: cash.ID,
			DestAccountID:   bank.ID,
			Amount:          dec("600.01"),
			Date:            day(2024, 4, 6),
		})
		requireCode(t, err, treasury.CodeInsufficientFunds)
		assert.Equal(t, "600.00", env.balance(t, cash.ID))
		assert.Equal(t, "400.00", env.balance(t, bank.ID))
	})

	t.Run("failed key can be retried", func(t *testing.T) {
		_, replayed, err := env.transfers.CreateTransfer(ctx, apptreasury.CreateTransferCommand{
			CommandMeta:     env.meta("tr-2"),
			SourceAccountID: cash.ID,
			DestAccountID:   bank.ID,
			Amount:          dec("100"),
			Date:            day(2024, 4, 6),
		})
		require.NoError(t, err)
		assert.False(t, replayed)
		assert.Equal(t, "500.00", env.balance(t, cash.ID))
	})

	t.Run("position sums active accounts", func(t *testing.T) {
		pos, err := env.ledger.PositionAsOf(ctx, env.tenantID, day(2024, 4, 30))
		require.NoError(t, err)
		assert.Equal(t, "1000.00", pos.Total.StringFixed(2))
		assert.Len(t, pos.Accounts, 2)
	})
}

func TestReconciliationService_MatchAndClose(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bank := env.account(t, "BANCO-01", treasury.AccountKindBank)
	deposit := env.book(t, bank.ID, day(2024, 4, 5), "400", treasury.DirectionIn)

	st, _, err := env.recon.CreateStatement(ctx, apptreasury.CreateStatementCommand{
		CommandMeta: env.meta("st-1"),
		AccountID:   bank.ID,
		PeriodStart: day(2024, 4, 1),
		PeriodEnd:   day(2024, 4, 30),
		Lines: []treasury.LineInput{
			{Date: day(2024, 4, 6), Amount: dec("400"), Description: "deposit"},
			{Date: day(2024, 4, 20), Amount: dec("-15"), Description: "bank fee"},
		},
	})
	require.NoError(t, err)
	require.Len(t, st.Lines, 2)

	summary, err := env.recon.Match(ctx, env.tenantID, st.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Matched)
	assert.Equal(t, 1, summary.NewlyMatched)
	assert.Equal(t, 1, summary.Pending+summary.Suspense)

	t.Run("matching again is stable", func(t *testing.T) {
		again, err := env.recon.Match(ctx, env.tenantID, st.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, again.Matched)
		assert.Equal(t, 0, again.NewlyMatched)
	})

	t.Run("matched movement cannot be linked twice", func(t *testing.T) {
		got, err := env.recon.GetStatement(ctx, env.tenantID, st.ID)
		require.NoError(t, err)
		other, _, err := env.recon.CreateStatement(ctx, apptreasury.CreateStatementCommand{
			CommandMeta: env.meta(""),
			AccountID:   bank.ID,
			PeriodStart: day(2024, 4, 1),
			PeriodEnd:   day(2024, 4, 30),
			Lines:       []treasury.LineInput{{Date: day(2024, 4, 5), Amount: dec("400")}},
		})
		require.NoError(t, err)
		assert.Equal(t, deposit.ID, *got.Lines[0].MatchedMovementID)

		_, _, err = env.recon.ResolveLine(ctx, apptreasury.ResolveLineCommand{
			CommandMeta: env.meta(""),
			StatementID: other.ID,
			LineID:      other.Lines[0].ID,
			MovementID:  deposit.ID,
		})
		requireCode(t, err, treasury.CodeMovementAlreadyMatched)
		require.NoError(t, env.recon.DiscardStatement(ctx, env.tenantID, other.ID))
	})

	t.Run("unreconciled lines block a plain close", func(t *testing.T) {
		_, _, err := env.recon.Close(ctx, apptreasury.CloseStatementCommand{
			CommandMeta: env.meta(""),
			StatementID: st.ID,
		})
		requireCode(t, err, treasury.CodeUnreconciledItems)
	})

	real := dec("385")
	closed, _, err := env.recon.Close(ctx, apptreasury.CloseStatementCommand{
		CommandMeta: env.meta("close-1"),
		StatementID: st.ID,
		Justifications: []treasury.Justification{
			{Amount: dec("-15"), Concept: "bank fee", Rationale: "charged by the bank on the 20th"},
		},
		ForceClose:         true,
		GenerateAdjustment: true,
		RealBankBalance:    &real,
	})
	require.NoError(t, err)
	assert.Equal(t, string(treasury.StatementStatusWithDifferences), closed.Status)
	assert.Equal(t, "400.00", closed.LedgerBalance.StringFixed(2))
	assert.True(t, closed.NetDifference.Equal(dec("-15")))
	require.NotNil(t, closed.AdjustmentMovementID)
	assert.Equal(t, "385.00", env.balance(t, bank.ID))
	assert.Equal(t, 1, env.publisher.count(treasury.EventTypeStatementClosed))

	t.Run("closed statement is frozen", func(t *testing.T) {
		_, err := env.recon.Match(ctx, env.tenantID, st.ID)
		requireCode(t, err, treasury.CodeStatementClosed)

		_, _, err = env.recon.Close(ctx, apptreasury.CloseStatementCommand{
			CommandMeta: env.meta(""),
			StatementID: st.ID,
			ForceClose:  true,
		})
		requireCode(t, err, treasury.CodeAlreadyClosed)

		err = env.recon.DiscardStatement(ctx, env.tenantID, st.ID)
		assert.Error(t, err)
	})

	t.Run("close replay does not book a second adjustment", func(t *testing.T) {
		again, replayed, err := env.recon.Close(ctx, apptreasury.CloseStatementCommand{
			CommandMeta: env.meta("close-1"),
			StatementID: st.ID,
			ForceClose:  true,
		})
		require.NoError(t, err)
		assert.True(t, replayed)
		assert.Equal(t, *closed.AdjustmentMovementID, *again.AdjustmentMovementID)
		assert.Equal(t, "385.00", env.balance(t, bank.ID))
	})
}

func TestReconciliationService_CloseAdjustmentFollowsPostingRules(t *testing.T) {
	ctx := context.Background()

	newStatement := func(t *testing.T, env *testEnv, accountID uuid.UUID) *apptreasury.StatementResponse {
		t.Helper()
		st, _, err := env.recon.CreateStatement(ctx, apptreasury.CreateStatementCommand{
			CommandMeta: env.meta(""),
			AccountID:   accountID,
			PeriodStart: day(2024, 4, 1),
			PeriodEnd:   day(2024, 4, 30),
			Lines:       []treasury.LineInput{{Date: day(2024, 4, 20), Amount: dec("-50"), Description: "cash shortfall"}},
		})
		require.NoError(t, err)
		return st
	}
	closeWithAdjustment := func(env *testEnv, statementID uuid.UUID) error {
		_, _, err := env.recon.Close(ctx, apptreasury.CloseStatementCommand{
			CommandMeta:        env.meta(""),
			StatementID:        statementID,
			Justifications:     []treasury.Justification{{Amount: dec("-50"), Rationale: "counted short at month end"}},
			ForceClose:         true,
			GenerateAdjustment: true,
		})
		return err
	}
	statusOf := func(t *testing.T, env *testEnv, statementID uuid.UUID) string {
		t.Helper()
		got, err := env.recon.GetStatement(ctx, env.tenantID, statementID)
		require.NoError(t, err)
		return got.Status
	}

	t.Run("inactive account", func(t *testing.T) {
		env := newTestEnv(t)
		cash := env.account(t, "CAJA-01", treasury.AccountKindCash)
		env.book(t, cash.ID, day(2024, 4, 2), "100", treasury.DirectionIn)
		st := newStatement(t, env, cash.ID)
		_, _, err := env.ledger.DeactivateAccount(ctx, env.meta(""), cash.ID)
		require.NoError(t, err)

		requireCode(t, closeWithAdjustment(env, st.ID), treasury.CodeAccountInactive)
		assert.Equal(t, "100.00", env.balance(t, cash.ID))
		assert.Equal(t, string(treasury.StatementStatusPending), statusOf(t, env, st.ID))
	})

	t.Run("outflow would overdraw a cash account", func(t *testing.T) {
		env := newTestEnv(t)
		cash := env.account(t, "CAJA-01", treasury.AccountKindCash)
		env.book(t, cash.ID, day(2024, 4, 2), "30", treasury.DirectionIn)
		st := newStatement(t, env, cash.ID)

		requireCode(t, closeWithAdjustment(env, st.ID), treasury.CodeInsufficientFunds)
		assert.Equal(t, "30.00", env.balance(t, cash.ID))
		assert.Equal(t, string(treasury.StatementStatusPending), statusOf(t, env, st.ID))
	})

	t.Run("bank account may go negative", func(t *testing.T) {
		env := newTestEnv(t)
		bank := env.account(t, "BANCO-01", treasury.AccountKindBank)
		st := newStatement(t, env, bank.ID)

		require.NoError(t, closeWithAdjustment(env, st.ID))
		assert.Equal(t, "-50.00", env.balance(t, bank.ID))
	})
}

func TestReceivablesService_AllocatePayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bank := env.account(t, "BANCO-01", treasury.AccountKindBank)
	clientID := uuid.New()

	register := func(number, total string, due time.Time) *apptreasury.InvoiceResponse {
		inv, _, err := env.receivables.RegisterInvoice(ctx, apptreasury.RegisterInvoiceCommand{
			CommandMeta: env.meta(""),
			ClientID:    clientID,
			ClientName:  "ACME",
			Number:      number,
			Total:       dec(total),
			IssueDate:   due.AddDate(0, 0, -30),
			DueDate:     due,
		})
		require.NoError(t, err)
		return inv
	}
	second := register("F-002", "200", day(2024, 2, 1))
	first := register("F-001", "300", day(2024, 1, 15))

	t.Run("duplicate number conflicts", func(t *testing.T) {
		_, _, err := env.receivables.RegisterInvoice(ctx, apptreasury.RegisterInvoiceCommand{
			CommandMeta: env.meta(""),
			ClientID:    clientID,
			ClientName:  "ACME",
			Number:      "F-001",
			Total:       dec("1"),
			IssueDate:   day(2024, 1, 1),
			DueDate:     day(2024, 1, 1),
		})
		requireCode(t, err, shared.CodeConflict)
	})

	payment, _, err := env.receivables.AllocatePayment(ctx, apptreasury.AllocatePaymentCommand{
		CommandMeta: env.meta("pay-1"),
		AccountID:   bank.ID,
		ClientID:    clientID,
		Amount:      dec("400"),
		Date:        day(2024, 2, 10),
	})
	require.NoError(t, err)
	assert.Equal(t, string(treasury.AllocationStrategyFIFO), payment.Strategy)
	require.Len(t, payment.Allocations, 2)
	assert.Equal(t, first.ID, payment.Allocations[0].InvoiceID)
	assert.True(t, payment.Allocations[0].BalanceAfter.IsZero())
	assert.True(t, payment.Allocations[1].BalanceAfter.Equal(dec("100")))
	assert.True(t, payment.Unallocated.IsZero())
	assert.Equal(t, "400.00", env.balance(t, bank.ID))

	t.Run("over-allocation rolls everything back", func(t *testing.T) {
		_, _, err := env.receivables.AllocatePayment(ctx, apptreasury.AllocatePaymentCommand{
			CommandMeta: env.meta(""),
			AccountID:   bank.ID,
			Amount:      dec("150"),
			Date:        day(2024, 2, 11),
			Strategy:    treasury.AllocationStrategyManual,
			Allocations: []treasury.PlannedAllocation{{InvoiceID: second.ID, Amount: dec("150")}},
		})
		requireCode(t, err, treasury.CodeAllocationExceedsBalance)
		assert.Equal(t, "400.00", env.balance(t, bank.ID))
	})

	t.Run("unknown invoice is not found", func(t *testing.T) {
		_, _, err := env.receivables.AllocatePayment(ctx, apptreasury.AllocatePaymentCommand{
			CommandMeta: env.meta(""),
			AccountID:   bank.ID,
			Amount:      dec("10"),
			Strategy:    treasury.AllocationStrategyManual,
			Allocations: []treasury.PlannedAllocation{{InvoiceID: uuid.New(), Amount: dec("10")}},
		})
		requireCode(t, err, treasury.CodeInvoiceNotFound)
	})

	t.Run("fifo needs a client", func(t *testing.T) {
		_, _, err := env.receivables.AllocatePayment(ctx, apptreasury.AllocatePaymentCommand{
			CommandMeta: env.meta(""),
			AccountID:   bank.ID,
			Amount:      dec("10"),
		})
		requireCode(t, err, shared.CodeValidation)
	})

	assert.Equal(t, 3, env.publisher.count(treasury.EventTypeReceivablesChanged))
}

func TestReportService_AgingAndForecast(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bank := env.account(t, "BANCO-01", treasury.AccountKindBank)
	env.book(t, bank.ID, day(2024, 4, 1), "1000", treasury.DirectionIn)
	env.book(t, bank.ID, day(2024, 4, 20), "300", treasury.DirectionOut)

	clientID := uuid.New()
	_, _, err := env.receivables.RegisterInvoice(ctx, apptreasury.RegisterInvoiceCommand{
		CommandMeta: env.meta(""),
		ClientID:    clientID,
		ClientName:  "ACME",
		Number:      "F-001",
		Total:       dec("250"),
		IssueDate:   day(2024, 3, 1),
		DueDate:     day(2024, 3, 31),
	})
	require.NoError(t, err)

	reportCache := cache.NewInMemoryReportCache(time.Minute, 100)
	reports := apptreasury.NewReportService(env.deps, apptreasury.DefaultReportConfig(), reportCache)

	aging, err := reports.Aging(ctx, apptreasury.AgingQuery{TenantID: env.tenantID, AsOf: day(2024, 5, 2)})
	require.NoError(t, err)
	assert.True(t, aging.Total.Equal(dec("250")))
	require.Len(t, aging.ByClient, 1)
	assert.Equal(t, "ACME", aging.ByClient[0].ClientName)

	t.Run("custom buckets are validated", func(t *testing.T) {
		_, err := reports.Aging(ctx, apptreasury.AgingQuery{TenantID: env.tenantID, Buckets: "60,30"})
		requireCode(t, err, shared.CodeValidation)
	})

	days := 7
	fc, err := reports.Forecast(ctx, apptreasury.ForecastQuery{
		TenantID: env.tenantID,
		Today:    day(2024, 5, 2),
		Input:    treasury.ForecastInput{Days: &days},
	})
	require.NoError(t, err)
	assert.Equal(t, "700.00", fc.CurrentPosition.StringFixed(2))
	assert.Equal(t, "10.00", fc.AverageDailyOutflow.StringFixed(2))
	require.Len(t, fc.DailyPredictions, 7)
	assert.Equal(t, 1, fc.DailyPredictions[0].ExpectedCollections)
	assert.True(t, fc.DailyPredictions[0].PredictedInflow.Equal(dec("250")))

	t.Run("cached forecast survives new movements until invalidated", func(t *testing.T) {
		env.book(t, bank.ID, day(2024, 5, 1), "100", treasury.DirectionIn)
		cached, err := reports.Forecast(ctx, apptreasury.ForecastQuery{
			TenantID: env.tenantID,
			Today:    day(2024, 5, 2),
			Input:    treasury.ForecastInput{Days: &days},
		})
		require.NoError(t, err)
		assert.Equal(t, "700.00", cached.CurrentPosition.StringFixed(2))

		handler := apptreasury.NewReportCacheInvalidationHandler(reports, zap.NewNop())
		require.NoError(t, handler.Handle(ctx, treasury.NewLedgerChangedEvent(env.tenantID, uuid.New(), treasury.AggregateTypeMovement, bank.ID)))

		fresh, err := reports.Forecast(ctx, apptreasury.ForecastQuery{
			TenantID: env.tenantID,
			Today:    day(2024, 5, 2),
			Input:    treasury.ForecastInput{Days: &days},
		})
		require.NoError(t, err)
		assert.Equal(t, "800.00", fresh.CurrentPosition.StringFixed(2))
	})
}

// invalidatingReportCache simulates a posting that lands while a report is
// being computed: the tenant is invalidated right after its generation is read.
type invalidatingReportCache struct {
	*cache.InMemoryReportCache
}

func (c invalidatingReportCache) Generation(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	gen, err := c.InMemoryReportCache.Generation(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	return gen, c.InMemoryReportCache.InvalidateTenant(ctx, tenantID)
}

func TestReportService_ReportComputedAcrossInvalidationIsNotCached(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bank := env.account(t, "BANCO-01", treasury.AccountKindBank)
	env.book(t, bank.ID, day(2024, 4, 1), "1000", treasury.DirectionIn)

	inner := cache.NewInMemoryReportCache(time.Minute, 100)
	reports := apptreasury.NewReportService(env.deps, apptreasury.DefaultReportConfig(), invalidatingReportCache{inner})

	days := 7
	query := apptreasury.ForecastQuery{
		TenantID: env.tenantID,
		Today:    day(2024, 5, 2),
		Input:    treasury.ForecastInput{Days: &days},
	}
	fc, err := reports.Forecast(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", fc.CurrentPosition.StringFixed(2))

	_, err = reports.Aging(ctx, apptreasury.AgingQuery{TenantID: env.tenantID, AsOf: day(2024, 5, 2)})
	require.NoError(t, err)

	assert.Equal(t, 0, inner.Stats().Entries)

	env.book(t, bank.ID, day(2024, 5, 1), "100", treasury.DirectionIn)
	fresh, err := reports.Forecast(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, "1100.00", fresh.CurrentPosition.StringFixed(2))
}
