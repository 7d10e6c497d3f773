package treasury

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func date(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func newTestAccount(t *testing.T, tenantID uuid.UUID, code string, kind AccountKind) *Account {
	t.Helper()
	acc, err := NewAccount(tenantID, code, code+" account", kind, false)
	require.NoError(t, err)
	return acc
}

func TestNewAccount(t *testing.T) {
	tenantID := uuid.New()

	t.Run("creates active account", func(t *testing.T) {
		acc, err := NewAccount(tenantID, " CAJA-01 ", "Main cash box", AccountKindCash, false)
		require.NoError(t, err)
		assert.Equal(t, "CAJA-01", acc.Code)
		assert.True(t, acc.IsActive)
		assert.True(t, acc.EnforcesNonNegative())
		assert.Equal(t, 1, acc.Version)
	})

	t.Run("bank accounts may go negative", func(t *testing.T) {
		acc, err := NewAccount(tenantID, "BANK-01", "Operating", AccountKindBank, false)
		require.NoError(t, err)
		assert.False(t, acc.EnforcesNonNegative())
	})

	t.Run("rejects invalid kind", func(t *testing.T) {
		_, err := NewAccount(tenantID, "X", "X", AccountKind("SAFE"), false)
		require.Error(t, err)
	})

	t.Run("rejects empty code", func(t *testing.T) {
		_, err := NewAccount(tenantID, "  ", "X", AccountKindBank, false)
		require.Error(t, err)
	})
}

func TestAccount_EnsureUsableBy(t *testing.T) {
	tenantID := uuid.New()
	acc := newTestAccount(t, tenantID, "CASH", AccountKindCash)

	assert.NoError(t, acc.EnsureUsableBy(tenantID))
	assert.True(t, errors.Is(acc.EnsureUsableBy(uuid.New()), ErrAccountNotInTenant))

	require.NoError(t, acc.Deactivate())
	assert.True(t, errors.Is(acc.EnsureUsableBy(tenantID), ErrAccountInactive))
	assert.Error(t, acc.Deactivate(), "second deactivate should fail")
}

func TestAccount_EnsureCanWithdraw(t *testing.T) {
	tenantID := uuid.New()
	cash := newTestAccount(t, tenantID, "CASH", AccountKindCash)
	bank := newTestAccount(t, tenantID, "BANK", AccountKindBank)

	assert.NoError(t, cash.EnsureCanWithdraw(d("100"), d("100")))
	err := cash.EnsureCanWithdraw(d("99.99"), d("100"))
	assert.True(t, errors.Is(err, ErrInsufficientFunds))
	assert.NoError(t, bank.EnsureCanWithdraw(d("0"), d("100")))
}

func TestNewMovement(t *testing.T) {
	tenantID := uuid.New()
	accountID := uuid.New()
	ref := Reference{Type: ReferenceTypeManual}

	t.Run("inflow sets only inflow", func(t *testing.T) {
		m, err := NewMovement(tenantID, accountID, time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC), d("10.50"), DirectionIn, ref, "deposit", "alice")
		require.NoError(t, err)
		assert.True(t, m.Inflow.Equal(d("10.50")))
		assert.True(t, m.Outflow.IsZero())
		assert.Equal(t, date(2024, 3, 1), m.Date)
		assert.Equal(t, DirectionIn, m.Direction())
	})

	t.Run("outflow has negative signed amount", func(t *testing.T) {
		m, err := NewMovement(tenantID, accountID, date(2024, 3, 1), d("7"), DirectionOut, ref, "", "alice")
		require.NoError(t, err)
		assert.True(t, m.SignedAmount().Equal(d("-7")))
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		_, err := NewMovement(tenantID, accountID, date(2024, 3, 1), d("0"), DirectionIn, ref, "", "")
		assert.Error(t, err)
		_, err = NewMovement(tenantID, accountID, date(2024, 3, 1), d("-1"), DirectionIn, ref, "", "")
		assert.Error(t, err)
	})
}

func TestMovement_Reverse(t *testing.T) {
	m, err := NewMovement(uuid.New(), uuid.New(), date(2024, 3, 1), d("25"), DirectionIn, Reference{Type: ReferenceTypeManual}, "", "bob")
	require.NoError(t, err)

	rev, err := m.Reverse(date(2024, 3, 2), "typo", "bob")
	require.NoError(t, err)
	assert.Equal(t, DirectionOut, rev.Direction())
	assert.Equal(t, ReferenceTypeReversal, rev.ReferenceType)
	assert.Equal(t, m.ID, rev.ReferenceID)
	assert.True(t, SumMovements([]Movement{*m, *rev}).Balance().IsZero())

	_, err = rev.Reverse(date(2024, 3, 3), "again", "bob")
	assert.Error(t, err, "reversals cannot be reversed")
}

func TestSumMovements_BalanceInvariant(t *testing.T) {
	accountID := uuid.New()
	ref := Reference{Type: ReferenceTypeManual}
	var ms []Movement
	inflow := decimal.Zero
	outflow := decimal.Zero
	for i := 0; i < 1000; i++ {
		dir := DirectionIn
		amt := d("0.10")
		if i%3 == 0 {
			dir = DirectionOut
			amt = d("0.07")
		}
		m, err := NewMovement(uuid.New(), accountID, date(2024, 1, 1), amt, dir, ref, "", "")
		require.NoError(t, err)
		ms = append(ms, *m)
		inflow = inflow.Add(m.Inflow)
		outflow = outflow.Add(m.Outflow)
	}

	totals := SumMovements(ms)
	assert.True(t, totals.Balance().Equal(inflow.Sub(outflow)))
	assert.Equal(t, "43.22", totals.Balance().StringFixed(2))
	assert.Equal(t, 1000, totals.Count)
}

func TestNewTransfer(t *testing.T) {
	tenantID := uuid.New()
	cash := newTestAccount(t, tenantID, "CASH", AccountKindCash)
	bank := newTestAccount(t, tenantID, "BANK", AccountKindBank)

	t.Run("builds symmetric legs", func(t *testing.T) {
		tr, out, in, err := NewTransfer(tenantID, cash, bank, d("500"), date(2024, 5, 2), "DEP-1", "carol")
		require.NoError(t, err)
		assert.Equal(t, cash.ID, out.AccountID)
		assert.Equal(t, bank.ID, in.AccountID)
		assert.True(t, out.Outflow.Equal(d("500")))
		assert.True(t, in.Inflow.Equal(d("500")))
		assert.Equal(t, tr.ID, out.ReferenceID)
		assert.Equal(t, tr.ID, in.ReferenceID)
		assert.Equal(t, out.ID, tr.OutflowMovementID)
		assert.NoError(t, tr.VerifySymmetry([]Movement{*out, *in}))
		assert.Len(t, tr.GetDomainEvents(), 1)
	})

	t.Run("detects asymmetric legs", func(t *testing.T) {
		tr, out, _, err := NewTransfer(tenantID, cash, bank, d("500"), date(2024, 5, 2), "DEP-2", "carol")
		require.NoError(t, err)
		assert.Error(t, tr.VerifySymmetry([]Movement{*out}))
	})

	t.Run("rejects same account", func(t *testing.T) {
		_, _, _, err := NewTransfer(tenantID, cash, cash, d("1"), date(2024, 5, 2), "", "")
		assert.Error(t, err)
	})

	t.Run("rejects foreign account", func(t *testing.T) {
		foreign := newTestAccount(t, uuid.New(), "OTHER", AccountKindBank)
		_, _, _, err := NewTransfer(tenantID, cash, foreign, d("1"), date(2024, 5, 2), "", "")
		assert.True(t, errors.Is(err, ErrAccountNotInTenant))
	})

	t.Run("rejects non-positive amount", func(t *testing.T) {
		_, _, _, err := NewTransfer(tenantID, cash, bank, d("0"), date(2024, 5, 2), "", "")
		assert.Error(t, err)
	})
}
