package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	apptreasury "github.com/erp/treasury/internal/application/treasury"
	"github.com/erp/treasury/internal/domain/shared"
	"github.com/erp/treasury/internal/domain/treasury"
	"github.com/erp/treasury/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTreasuryTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// Every connection to :memory: is a separate database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	err = db.AutoMigrate(
		&models.AccountModel{},
		&models.MovementModel{},
		&models.TransferModel{},
		&models.StatementModel{},
		&models.StatementLineModel{},
		&models.InvoiceModel{},
		&models.IdempotencyRecordModel{},
	)
	require.NoError(t, err)
	return db
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func saveAccount(t *testing.T, repo *GormAccountRepository, tenantID uuid.UUID, code string, kind treasury.AccountKind) *treasury.Account {
	t.Helper()
	acc, err := treasury.NewAccount(tenantID, code, code+" account", kind, false)
	require.NoError(t, err)
	require.NoError(t, repo.Save(context.Background(), acc))
	return acc
}

func newMovement(t *testing.T, tenantID, accountID uuid.UUID, date time.Time, amount string, dir treasury.Direction, ref treasury.ReferenceType) *treasury.Movement {
	t.Helper()
	m, err := treasury.NewMovement(tenantID, accountID, date, dec(amount), dir, treasury.Reference{Type: ref, ID: uuid.New()}, "test", "tester")
	require.NoError(t, err)
	return m
}

func TestGormAccountRepository(t *testing.T) {
	db := setupTreasuryTestDB(t)
	repo := NewGormAccountRepository(db)
	ctx := context.Background()
	tenantID := uuid.New()

	cash := saveAccount(t, repo, tenantID, "CASH-01", treasury.AccountKindCash)
	saveAccount(t, repo, tenantID, "BANK-01", treasury.AccountKindBank)
	saveAccount(t, repo, uuid.New(), "BANK-01", treasury.AccountKindBank)

	t.Run("finds by id regardless of tenant", func(t *testing.T) {
		found, err := repo.FindByID(ctx, cash.ID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, tenantID, found.TenantID)
		assert.Equal(t, "CASH-01", found.Code)
		assert.Equal(t, treasury.AccountKindCash, found.Kind)
		assert.True(t, found.IsActive)
	})

	t.Run("missing account is nil", func(t *testing.T) {
		found, err := repo.FindByIDForUpdate(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("lists accounts by code", func(t *testing.T) {
		accounts, err := repo.FindAllForTenant(ctx, tenantID, false)
		require.NoError(t, err)
		require.Len(t, accounts, 2)
		assert.Equal(t, "BANK-01", accounts[0].Code)
	})

	t.Run("code uniqueness is per tenant", func(t *testing.T) {
		exists, err := repo.ExistsByCode(ctx, tenantID, "BANK-01")
		require.NoError(t, err)
		assert.True(t, exists)
		exists, err = repo.ExistsByCode(ctx, uuid.New(), "CASH-01")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("deactivation is persisted", func(t *testing.T) {
		require.NoError(t, cash.Deactivate())
		require.NoError(t, repo.Save(ctx, cash))

		active, err := repo.FindAllForTenant(ctx, tenantID, true)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "BANK-01", active[0].Code)
	})
}

func TestGormMovementRepository(t *testing.T) {
	db := setupTreasuryTestDB(t)
	accounts := NewGormAccountRepository(db)
	repo := NewGormMovementRepository(db)
	ctx := context.Background()
	tenantID := uuid.New()
	acc := saveAccount(t, accounts, tenantID, "BANK-01", treasury.AccountKindBank)

	m1 := newMovement(t, tenantID, acc.ID, day(2024, 3, 1), "100.50", treasury.DirectionIn, treasury.ReferenceTypeManual)
	m2 := newMovement(t, tenantID, acc.ID, day(2024, 3, 5), "20.25", treasury.DirectionOut, treasury.ReferenceTypeManual)
	m3 := newMovement(t, tenantID, acc.ID, day(2024, 3, 9), "40", treasury.DirectionOut, treasury.ReferenceTypeTransfer)
	require.NoError(t, repo.Append(ctx, m1, m2, m3))

	t.Run("append rejects existing ids", func(t *testing.T) {
		assert.Error(t, repo.Append(ctx, m1))
	})

	t.Run("totals as of a date", func(t *testing.T) {
		totals, err := repo.Totals(ctx, tenantID, acc.ID, day(2024, 3, 5))
		require.NoError(t, err)
		assert.Equal(t, 2, totals.Count)
		assert.Equal(t, "80.25", totals.Balance().StringFixed(2))
	})

	t.Run("zero as-of includes everything", func(t *testing.T) {
		totals, err := repo.Totals(ctx, tenantID, acc.ID, time.Time{})
		require.NoError(t, err)
		assert.Equal(t, 3, totals.Count)
		assert.Equal(t, "40.25", totals.Balance().StringFixed(2))
	})

	t.Run("other tenants see nothing", func(t *testing.T) {
		totals, err := repo.Totals(ctx, uuid.New(), acc.ID, time.Time{})
		require.NoError(t, err)
		assert.Equal(t, 0, totals.Count)
		found, err := repo.FindByID(ctx, uuid.New(), m1.ID)
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("find pages in date order", func(t *testing.T) {
		page, total, err := repo.Find(ctx, tenantID, treasury.MovementFilter{
			AccountIDs: []uuid.UUID{acc.ID},
			Paging:     shared.Filter{Page: 2, PageSize: 2},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		require.Len(t, page, 1)
		assert.Equal(t, m3.ID, page[0].ID)
	})

	t.Run("find filters dates and references", func(t *testing.T) {
		found, total, err := repo.Find(ctx, tenantID, treasury.MovementFilter{
			From:              day(2024, 3, 2),
			To:                day(2024, 3, 31),
			ExcludeReferences: []treasury.ReferenceType{treasury.ReferenceTypeTransfer},
			Unpaged:           true,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, found, 1)
		assert.Equal(t, m2.ID, found[0].ID)
		assert.True(t, found[0].Outflow.Equal(dec("20.25")))
		assert.Equal(t, day(2024, 3, 5), found[0].Date)
	})

	t.Run("find by reference", func(t *testing.T) {
		found, err := repo.FindByReference(ctx, tenantID, treasury.ReferenceTypeTransfer, m3.ReferenceID)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, m3.ID, found[0].ID)
	})
}

func TestGormStatementRepository(t *testing.T) {
	db := setupTreasuryTestDB(t)
	accounts := NewGormAccountRepository(db)
	repo := NewGormStatementRepository(db)
	ctx := context.Background()
	tenantID := uuid.New()
	acc := saveAccount(t, accounts, tenantID, "BANK-01", treasury.AccountKindBank)

	st, err := treasury.NewStatement(tenantID, acc.ID, day(2024, 4, 1), day(2024, 4, 30), []treasury.LineInput{
		{Date: day(2024, 4, 2), Amount: dec("100"), Description: "deposit"},
		{Date: day(2024, 4, 3), Amount: dec("-12.50"), Description: "fee"},
	}, "dave")
	require.NoError(t, err)
	st.AttachmentKey = "statements/a/b/statement.csv"
	require.NoError(t, repo.Save(ctx, st))

	t.Run("loads lines in order", func(t *testing.T) {
		found, err := repo.FindByIDForTenant(ctx, tenantID, st.ID)
		require.NoError(t, err)
		require.NotNil(t, found)
		require.Len(t, found.Lines, 2)
		assert.Equal(t, 1, found.Lines[0].LineNo)
		assert.True(t, found.Lines[1].Amount.Equal(dec("-12.50")))
		assert.Equal(t, treasury.StatementStatusPending, found.Status)
	})

	t.Run("other tenant cannot see it", func(t *testing.T) {
		found, err := repo.FindByIDForUpdate(ctx, uuid.New(), st.ID)
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	movementID := uuid.New()
	t.Run("save persists line links", func(t *testing.T) {
		found, err := repo.FindByIDForUpdate(ctx, tenantID, st.ID)
		require.NoError(t, err)
		require.NoError(t, found.LinkLine(found.Lines[0].ID, movementID))
		require.NoError(t, found.MarkUnresolved(found.Lines[1].ID, treasury.LineMatchStatusSuspense))
		require.NoError(t, repo.Save(ctx, found))

		reloaded, err := repo.FindByIDForTenant(ctx, tenantID, st.ID)
		require.NoError(t, err)
		assert.Equal(t, treasury.LineMatchStatusMatched, reloaded.Lines[0].MatchStatus)
		require.NotNil(t, reloaded.Lines[0].MatchedMovementID)
		assert.Equal(t, movementID, *reloaded.Lines[0].MatchedMovementID)
		assert.Equal(t, treasury.LineMatchStatusSuspense, reloaded.Lines[1].MatchStatus)

		ids, err := repo.MatchedMovementIDs(ctx, acc.ID)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{movementID}, ids)
	})

	t.Run("lists by account", func(t *testing.T) {
		list, total, err := repo.FindAllForTenant(ctx, tenantID, &acc.ID, shared.Filter{Page: 1, PageSize: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, list, 1)
		assert.Len(t, list[0].Lines, 2)
	})

	t.Run("soft delete then purge attachment", func(t *testing.T) {
		require.NoError(t, repo.SoftDelete(ctx, tenantID, st.ID))

		found, err := repo.FindByIDForTenant(ctx, tenantID, st.ID)
		require.NoError(t, err)
		assert.Nil(t, found)

		err = repo.SoftDelete(ctx, tenantID, st.ID)
		assert.True(t, errors.Is(err, treasury.NewNotFoundError(treasury.CodeStatementNotFound, "Statement", st.ID)))

		purgeable, err := repo.FindPurgeableAttachments(ctx, time.Now().Add(time.Hour), 10)
		require.NoError(t, err)
		require.Len(t, purgeable, 1)
		assert.Equal(t, "statements/a/b/statement.csv", purgeable[0].AttachmentKey)

		require.NoError(t, repo.MarkAttachmentPurged(ctx, st.ID, time.Now()))
		purgeable, err = repo.FindPurgeableAttachments(ctx, time.Now().Add(time.Hour), 10)
		require.NoError(t, err)
		assert.Empty(t, purgeable)
	})
}

func TestGormInvoiceRepository(t *testing.T) {
	db := setupTreasuryTestDB(t)
	repo := NewGormInvoiceRepository(db)
	ctx := context.Background()
	tenantID := uuid.New()
	clientID := uuid.New()

	newInvoice := func(number string, total string, due time.Time) *treasury.Invoice {
		inv, err := treasury.NewInvoice(tenantID, clientID, "ACME", number, dec(total), due.AddDate(0, 0, -30), due)
		require.NoError(t, err)
		require.NoError(t, repo.Save(ctx, inv))
		return inv
	}
	late := newInvoice("F-002", "300", day(2024, 2, 1))
	early := newInvoice("F-001", "200", day(2024, 1, 15))

	t.Run("open invoices oldest due first", func(t *testing.T) {
		open, err := repo.FindOpenForTenant(ctx, tenantID, &clientID)
		require.NoError(t, err)
		require.Len(t, open, 2)
		assert.Equal(t, early.ID, open[0].ID)
		assert.Equal(t, late.ID, open[1].ID)
	})

	t.Run("find by ids skips unknown", func(t *testing.T) {
		found, err := repo.FindByIDsForTenant(ctx, tenantID, []uuid.UUID{late.ID, uuid.New()})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "F-002", found[0].Number)
	})

	t.Run("exists by number", func(t *testing.T) {
		exists, err := repo.ExistsByNumber(ctx, tenantID, "F-001")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("save with lock applies allocation once", func(t *testing.T) {
		inv, err := repo.FindByIDForTenant(ctx, tenantID, early.ID)
		require.NoError(t, err)
		stale, err := repo.FindByIDForTenant(ctx, tenantID, early.ID)
		require.NoError(t, err)

		require.NoError(t, inv.Allocate(uuid.New(), dec("200"), time.Now()))
		require.NoError(t, repo.SaveWithLock(ctx, inv))

		require.NoError(t, stale.Allocate(uuid.New(), dec("50"), time.Now()))
		err = repo.SaveWithLock(ctx, stale)
		de, ok := shared.AsDomainError(err)
		require.True(t, ok)
		assert.Equal(t, shared.CodeConcurrentModification, de.Code)

		reloaded, err := repo.FindByIDForTenant(ctx, tenantID, early.ID)
		require.NoError(t, err)
		assert.True(t, reloaded.Balance.IsZero())
		require.Len(t, reloaded.Allocations, 1)
		assert.True(t, reloaded.Allocations[0].Amount.Equal(dec("200")))

		open, err := repo.FindOpenForTenant(ctx, tenantID, nil)
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, late.ID, open[0].ID)
	})
}

func TestGormTransactionScope(t *testing.T) {
	db := setupTreasuryTestDB(t)
	scope := NewGormTransactionScope(db)
	repos := NewRepositories(db)
	ctx := context.Background()
	tenantID := uuid.New()

	acc, err := treasury.NewAccount(tenantID, "CASH-01", "Cash", treasury.AccountKindCash, false)
	require.NoError(t, err)

	t.Run("rolls back on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := scope.Execute(ctx, func(tx apptreasury.TransactionalRepositories) error {
			require.NoError(t, tx.Accounts().Save(ctx, acc))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		found, err := repos.Accounts.FindByID(ctx, acc.ID)
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("commits on success", func(t *testing.T) {
		m := newMovement(t, tenantID, acc.ID, day(2024, 5, 1), "10", treasury.DirectionIn, treasury.ReferenceTypeManual)
		err := scope.Execute(ctx, func(tx apptreasury.TransactionalRepositories) error {
			if err := tx.Accounts().Save(ctx, acc); err != nil {
				return err
			}
			return tx.Movements().Append(ctx, m)
		})
		require.NoError(t, err)

		totals, err := repos.Movements.Totals(ctx, tenantID, acc.ID, time.Time{})
		require.NoError(t, err)
		assert.Equal(t, 1, totals.Count)
	})
}
