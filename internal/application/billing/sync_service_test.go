package billing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentledger/backend/internal/domain/billing"
	"github.com/rentledger/backend/internal/domain/shared"
	"github.com/rentledger/backend/internal/infrastructure/cache"
	"github.com/rentledger/backend/internal/infrastructure/retry"
)

func newTestService(t *testing.T, store billing.BillStore, cacheOpts ...cache.AggregateCacheOption) (*SyncService, *cache.AggregateCache) {
	t.Helper()

	c := cache.NewAggregateCache(cacheOpts...)
	exec := testExecutor()
	fetcher := NewAggregateFetcher(store, exec, nil)
	preloader := NewPreloader(fetcher, c, nil)
	idempotency := cache.NewInMemoryIdempotencyStore()
	t.Cleanup(func() { _ = idempotency.Close() })

	service := NewSyncService(c, fetcher, store, exec, preloader, idempotency, shared.DefaultIdempotencyConfig(), nil)
	t.Cleanup(preloader.Wait)
	return service, c
}

func editedAggregate(key billing.AggregateKey) *billing.BillAggregate {
	aggregate := billing.NewEmptyAggregate(key, billing.MeterReadings{})
	aggregate.Bill = &billing.Bill{
		RentAmount:         dec("1000"),
		ElectricityEnabled: true,
		ElectricityInitial: dec("100"),
		ElectricityFinal:   dec("150"),
		ElectricityRate:    dec("8"),
	}
	aggregate.Expenses = []billing.ExpenseLine{
		{Description: "plumbing", Amount: dec("120"), IncurredOn: time.Now()},
	}
	aggregate.Payments = []billing.PaymentLine{
		{Amount: dec("600"), Method: "cash", PaidOn: time.Now()},
	}
	return aggregate
}

func TestSyncService_Display(t *testing.T) {
	tenantID := uuid.New()
	key := billing.NewAggregateKey(tenantID, 6, 2025)

	t.Run("miss fetches, caches and preloads neighbors", func(t *testing.T) {
		store := newFakeStore()
		store.putBill(key, billing.Bill{RentAmount: dec("1000")})

		service, c := newTestService(t, store)
		result, err := service.Display(context.Background(), key)
		require.NoError(t, err)

		assert.False(t, result.FromCache)
		assert.False(t, result.Stale)
		require.NotNil(t, result.Aggregate.Bill)
		assert.True(t, c.Contains(key))

		service.preloader.Wait()
		assert.True(t, c.Contains(key.Previous()))
		assert.True(t, c.Contains(key.Next()))
	})

	t.Run("hit is served from cache without a store call", func(t *testing.T) {
		store := newFakeStore()
		store.putBill(key, billing.Bill{RentAmount: dec("1000")})

		service, _ := newTestService(t, store)
		_, err := service.Display(context.Background(), key)
		require.NoError(t, err)
		service.preloader.Wait()
		calls := store.combinedCalls[key.String()]

		result, err := service.Display(context.Background(), key)
		require.NoError(t, err)
		assert.True(t, result.FromCache)
		assert.Equal(t, calls, store.combinedCalls[key.String()])
	})

	t.Run("entry past its TTL is still served, tagged stale", func(t *testing.T) {
		store := newFakeStore()
		store.putBill(key, billing.Bill{RentAmount: dec("1000")})

		now := time.Now()
		clock := &now
		service, _ := newTestService(t, store, cache.WithClock(func() time.Time { return *clock }))

		_, err := service.Display(context.Background(), key)
		require.NoError(t, err)
		service.preloader.Wait()

		later := now.Add(cache.DefaultTTL + time.Minute)
		clock = &later

		result, err := service.Display(context.Background(), key)
		require.NoError(t, err)
		assert.True(t, result.FromCache)
		assert.True(t, result.Stale)
		require.NotNil(t, result.Aggregate.Bill)
	})

	t.Run("rejects an invalid key", func(t *testing.T) {
		service, _ := newTestService(t, newFakeStore())
		_, err := service.Display(context.Background(), billing.NewAggregateKey(tenantID, 13, 2025))
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})

	t.Run("fetch failure leaves the cache untouched", func(t *testing.T) {
		store := newFakeStore()
		store.combinedUnsupported = true
		store.tenantErr = assert.AnError

		service, c := newTestService(t, store)
		_, err := service.Display(context.Background(), key)
		require.Error(t, err)
		assert.False(t, c.Contains(key))
	})

	t.Run("missing tenant surfaces NotFound", func(t *testing.T) {
		store := newFakeStore()
		store.tenantErr = shared.ErrNotFound

		service, _ := newTestService(t, store)
		_, err := service.Display(context.Background(), key)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestSyncService_Save(t *testing.T) {
	tenantID := uuid.New()
	key := billing.NewAggregateKey(tenantID, 6, 2025)

	t.Run("reconciles and folds assigned identities back in", func(t *testing.T) {
		store := newFakeStore()
		service, c := newTestService(t, store)

		aggregate := editedAggregate(key)
		result, err := service.Save(context.Background(), key, aggregate, "")
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, result.BillID)
		require.Len(t, result.ExpenseIDs, 1)
		require.Len(t, result.PaymentIDs, 1)
		assert.Equal(t, result.BillID, aggregate.Bill.ID)
		assert.Equal(t, result.ExpenseIDs[0], aggregate.Expenses[0].ID)
		assert.Equal(t, result.PaymentIDs[0], aggregate.Payments[0].ID)
		assert.True(t, aggregate.Reconciled())

		cached, stale, ok := c.Get(key)
		require.True(t, ok)
		assert.False(t, stale)
		assert.Equal(t, result.BillID, cached.Bill.ID)
	})

	t.Run("recalculates totals before the write", func(t *testing.T) {
		store := newFakeStore()
		service, _ := newTestService(t, store)

		aggregate := editedAggregate(key)
		_, err := service.Save(context.Background(), key, aggregate, "")
		require.NoError(t, err)

		// rent 1000 + electricity (150-100)*8 + expense 120
		assert.True(t, store.lastBill.TotalDue.Equal(dec("1520")),
			"got %s", store.lastBill.TotalDue)
		assert.True(t, store.lastBill.TotalPaid.Equal(dec("600")))
		assert.True(t, store.lastBill.Balance.Equal(dec("920")))
	})

	t.Run("reconcile failure invalidates the cache entry", func(t *testing.T) {
		store := newFakeStore()
		store.putBill(key, billing.Bill{RentAmount: dec("1000")})
		service, c := newTestService(t, store)

		_, err := service.Display(context.Background(), key)
		require.NoError(t, err)
		service.preloader.Wait()
		require.True(t, c.Contains(key))

		store.reconcileErr = assert.AnError
		_, err = service.Save(context.Background(), key, editedAggregate(key), "")
		require.Error(t, err)

		var opErr *retry.OperationError
		assert.ErrorAs(t, err, &opErr)
		assert.False(t, c.Contains(key), "stale optimistic entry must not survive a failed save")
	})

	t.Run("rejects an aggregate without a bill", func(t *testing.T) {
		service, _ := newTestService(t, newFakeStore())
		aggregate := billing.NewEmptyAggregate(key, billing.MeterReadings{})

		_, err := service.Save(context.Background(), key, aggregate, "")
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})

	t.Run("rejects invalid readings before touching the store", func(t *testing.T) {
		store := newFakeStore()
		service, _ := newTestService(t, store)

		aggregate := editedAggregate(key)
		aggregate.Bill.ElectricityFinal = dec("50")

		_, err := service.Save(context.Background(), key, aggregate, "")
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
		assert.Equal(t, 0, store.reconcileCalls)
	})

	t.Run("duplicate idempotency token is rejected, not re-applied", func(t *testing.T) {
		store := newFakeStore()
		service, _ := newTestService(t, store)

		_, err := service.Save(context.Background(), key, editedAggregate(key), "token-1")
		require.NoError(t, err)

		_, err = service.Save(context.Background(), key, editedAggregate(key), "token-1")
		assert.ErrorIs(t, err, shared.ErrDuplicateSave)
		assert.Equal(t, 1, store.reconcileCalls)
	})

	t.Run("concurrent saves with the same token apply exactly once", func(t *testing.T) {
		store := newFakeStore()
		gate := make(chan struct{})
		entered := make(chan struct{})
		store.reconcileGate = gate
		store.reconcileEntered = entered

		service, _ := newTestService(t, store)

		firstErr := make(chan error, 1)
		go func() {
			_, err := service.Save(context.Background(), key, editedAggregate(key), "token-race")
			firstErr <- err
		}()
		<-entered

		// The first save is still inside the store write; a duplicate
		// must be fenced out without waiting for it to finish
		_, err := service.Save(context.Background(), key, editedAggregate(key), "token-race")
		assert.ErrorIs(t, err, shared.ErrDuplicateSave)

		close(gate)
		require.NoError(t, <-firstErr)
		assert.Equal(t, 1, store.reconcileCalls)
	})

	t.Run("failed save releases the token for a retry", func(t *testing.T) {
		store := newFakeStore()
		store.reconcileErr = assert.AnError
		service, _ := newTestService(t, store)

		_, err := service.Save(context.Background(), key, editedAggregate(key), "token-retry")
		require.Error(t, err)

		store.reconcileErr = nil
		_, err = service.Save(context.Background(), key, editedAggregate(key), "token-retry")
		require.NoError(t, err, "a token whose write failed must be usable again")
	})

	t.Run("distinct tokens save independently", func(t *testing.T) {
		store := newFakeStore()
		service, _ := newTestService(t, store)

		_, err := service.Save(context.Background(), key, editedAggregate(key), "token-a")
		require.NoError(t, err)
		_, err = service.Save(context.Background(), key, editedAggregate(key), "token-b")
		require.NoError(t, err)
		assert.Equal(t, 2, store.reconcileCalls)
	})

	t.Run("replaying a saved aggregate keeps the same identities", func(t *testing.T) {
		store := newFakeStore()
		service, _ := newTestService(t, store)

		aggregate := editedAggregate(key)
		first, err := service.Save(context.Background(), key, aggregate, "")
		require.NoError(t, err)

		second, err := service.Save(context.Background(), key, aggregate, "")
		require.NoError(t, err)
		assert.Equal(t, first.BillID, second.BillID)
		assert.Equal(t, first.ExpenseIDs, second.ExpenseIDs)
		assert.Equal(t, first.PaymentIDs, second.PaymentIDs)
	})
}

func TestSyncService_Invalidate(t *testing.T) {
	tenantID := uuid.New()
	key := billing.NewAggregateKey(tenantID, 6, 2025)

	store := newFakeStore()
	store.putBill(key, billing.Bill{RentAmount: dec("1000")})
	service, c := newTestService(t, store)

	_, err := service.Display(context.Background(), key)
	require.NoError(t, err)
	require.True(t, c.Contains(key))

	service.Invalidate(key)
	assert.False(t, c.Contains(key))

	result, err := service.Display(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, result.FromCache)
}
