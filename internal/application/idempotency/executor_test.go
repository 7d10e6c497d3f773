package idempotency_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erp/treasury/internal/application/idempotency"
	"github.com/erp/treasury/internal/domain/shared"
	"github.com/erp/treasury/internal/infrastructure/cache"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transferResult struct {
	ID     uuid.UUID       `json:"id"`
	Amount decimal.Decimal `json:"amount"`
}

func newTestExecutor(t *testing.T) (*idempotency.Executor, *cache.InMemoryIdempotencyStore) {
	t.Helper()
	store := cache.NewInMemoryIdempotencyStore(0)
	t.Cleanup(func() { _ = store.Close() })
	return idempotency.NewExecutor(store, shared.DefaultIdempotencyConfig(), nil), store
}

func TestExecute_ReplaysCompletedResult(t *testing.T) {
	exec, _ := newTestExecutor(t)
	ctx := context.Background()
	tenantID := uuid.New()

	var calls atomic.Int32
	fn := func(ctx context.Context) (transferResult, error) {
		calls.Add(1)
		return transferResult{ID: uuid.New(), Amount: decimal.RequireFromString("500.10")}, nil
	}

	first, replayed, err := idempotency.Execute(ctx, exec, tenantID, "key-1", "transfer.create", fn)
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := idempotency.Execute(ctx, exec, tenantID, "key-1", "transfer.create", fn)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, int32(1), calls.Load(), "fn runs once")

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b), "replay encodes to identical bytes")
}

func TestExecute_EmptyKeyAlwaysRuns(t *testing.T) {
	exec, _ := newTestExecutor(t)
	var calls int
	fn := func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	}

	for i := 0; i < 3; i++ {
		_, replayed, err := idempotency.Execute(context.Background(), exec, uuid.New(), "", "op", fn)
		require.NoError(t, err)
		assert.False(t, replayed)
	}
	assert.Equal(t, 3, calls)
}

func TestExecute_NilExecutorRunsDirectly(t *testing.T) {
	out, replayed, err := idempotency.Execute(context.Background(), nil, uuid.New(), "k", "op",
		func(ctx context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, "ok", out)
}

func TestExecute_FailureAllowsRetry(t *testing.T) {
	exec, _ := newTestExecutor(t)
	ctx := context.Background()
	tenantID := uuid.New()
	boom := errors.New("boom")

	_, _, err := idempotency.Execute(ctx, exec, tenantID, "key", "movement.append",
		func(ctx context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)

	out, replayed, err := idempotency.Execute(ctx, exec, tenantID, "key", "movement.append",
		func(ctx context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, 7, out)
}

func TestExecute_InFlightKeyConflicts(t *testing.T) {
	exec, _ := newTestExecutor(t)
	ctx := context.Background()
	tenantID := uuid.New()

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, _, err := idempotency.Execute(ctx, exec, tenantID, "key", "transfer.create",
			func(ctx context.Context) (int, error) {
				close(started)
				<-release
				return 1, nil
			})
		done <- err
	}()

	<-started
	_, _, err := idempotency.Execute(ctx, exec, tenantID, "key", "transfer.create",
		func(ctx context.Context) (int, error) { return 2, nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrConcurrentOperation)
	assert.True(t, idempotency.IsConflict(err))

	close(release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("first execution did not finish")
	}
}

func TestExecute_KeyReusedForOtherOperation(t *testing.T) {
	exec, _ := newTestExecutor(t)
	ctx := context.Background()
	tenantID := uuid.New()

	_, _, err := idempotency.Execute(ctx, exec, tenantID, "key", "transfer.create",
		func(ctx context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)

	_, _, err = idempotency.Execute(ctx, exec, tenantID, "key", "statement.close",
		func(ctx context.Context) (int, error) { return 2, nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrIdempotencyKeyReused)

	de, ok := shared.AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, "transfer.create", de.Details["operation"])
}

func TestExecute_RejectsOverlongKey(t *testing.T) {
	exec, _ := newTestExecutor(t)
	called := false
	_, _, err := idempotency.Execute(context.Background(), exec, uuid.New(), strings.Repeat("k", idempotency.MaxKeyLength+1), "op",
		func(ctx context.Context) (int, error) { called = true; return 0, nil })
	require.Error(t, err)
	assert.False(t, called)
}

func TestExecute_CancelledContextStillMarksFailure(t *testing.T) {
	exec, store := newTestExecutor(t)
	tenantID := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())

	_, _, err := idempotency.Execute(ctx, exec, tenantID, "key", "op",
		func(ctx context.Context) (int, error) {
			cancel()
			return 0, ctx.Err()
		})
	assert.ErrorIs(t, err, context.Canceled)

	rec, acquired, err := store.Begin(context.Background(), tenantID, "key", "op", time.Hour)
	require.NoError(t, err)
	assert.True(t, acquired, "failed record is re-enterable")
	assert.Equal(t, shared.IdempotencyStatusProcessing, rec.Status)
}
