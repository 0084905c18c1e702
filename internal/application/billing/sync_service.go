package billing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rentledger/backend/internal/domain/billing"
	"github.com/rentledger/backend/internal/domain/shared"
	"github.com/rentledger/backend/internal/infrastructure/cache"
	"github.com/rentledger/backend/internal/infrastructure/retry"
)

// DisplayResult is what the presentation layer gets for "show month X"
type DisplayResult struct {
	Aggregate *billing.BillAggregate
	// Stale is true when the entry came from cache past its TTL. The
	// data is still usable; the caller may refresh in the background.
	Stale     bool
	FromCache bool
}

// SyncService is the synchronization facade the presentation layer
// calls. It owns the cache: fetcher and writer only return data, every
// cache mutation happens here or in the preloader.
type SyncService struct {
	cache       *cache.AggregateCache
	fetcher     *AggregateFetcher
	store       billing.BillStore
	exec        *retry.Executor
	preloader   *Preloader
	idempotency shared.IdempotencyStore
	idemConfig  shared.IdempotencyConfig
	logger      *zap.Logger
}

// NewSyncService creates the facade over an owned cache instance. The
// cache lifecycle is tied to this service (one per user session), not
// to the process.
func NewSyncService(
	aggregateCache *cache.AggregateCache,
	fetcher *AggregateFetcher,
	store billing.BillStore,
	exec *retry.Executor,
	preloader *Preloader,
	idempotency shared.IdempotencyStore,
	idemConfig shared.IdempotencyConfig,
	logger *zap.Logger,
) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{
		cache:       aggregateCache,
		fetcher:     fetcher,
		store:       store,
		exec:        exec,
		preloader:   preloader,
		idempotency: idempotency,
		idemConfig:  idemConfig,
		logger:      logger,
	}
}

// Display returns the aggregate for the key, from cache when possible.
// A cache hit past its TTL is returned immediately, tagged stale, so
// the UI never blocks on a refetch. Either way the neighboring months
// are preloaded in the background.
func (s *SyncService) Display(ctx context.Context, key billing.AggregateKey) (*DisplayResult, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	if aggregate, stale, ok := s.cache.Get(key); ok {
		s.preloader.Preload(key)
		return &DisplayResult{Aggregate: aggregate, Stale: stale, FromCache: true}, nil
	}

	observed := s.cache.Generation(key)
	aggregate, err := s.fetcher.Fetch(ctx, key)
	if err != nil {
		// Fetch failures leave the cache untouched
		return nil, err
	}
	s.cache.SetIfUnchanged(key, aggregate, observed)
	s.preloader.Preload(key)

	return &DisplayResult{Aggregate: aggregate, Stale: false, FromCache: false}, nil
}

// Save persists the aggregate as one logical unit. The cache is updated
// optimistically before the remote write; on success the store-assigned
// identities are folded back in, on failure the entry is invalidated so
// the next Display refetches ground truth.
//
// token is an optional caller-supplied idempotency token: a token seen
// before is rejected with DUPLICATE_SAVE instead of being applied again.
func (s *SyncService) Save(ctx context.Context, key billing.AggregateKey, aggregate *billing.BillAggregate, token string) (*billing.ReconcileResult, error) {
	if aggregate == nil || aggregate.Bill == nil {
		return nil, fmt.Errorf("%w: cannot save a month without a bill", shared.ErrInvalidInput)
	}
	aggregate.Key = key
	if err := aggregate.Validate(); err != nil {
		return nil, err
	}

	// Atomic reservation: of two concurrent saves with the same token,
	// exactly one passes. A reservation whose write fails is released
	// below so the caller can retry with the same token.
	fenced := token != "" && s.idemConfig.Enabled
	if fenced {
		fresh, err := s.idempotency.MarkProcessed(ctx, token, s.idemConfig.TTL)
		if err != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !fresh {
			return nil, shared.ErrDuplicateSave
		}
	}

	aggregate.Recalculate()

	// Optimistic write: the UI sees the edit immediately
	s.cache.Set(key, aggregate)

	result, err := retry.DoValue(ctx, s.exec, "reconcile write", func(ctx context.Context) (*billing.ReconcileResult, error) {
		return s.store.ReconcileWrite(ctx, key, *aggregate.Bill, aggregate.Expenses, aggregate.Payments)
	})
	if err != nil {
		// The optimistic entry may diverge from the store; drop it so
		// the next Display refetches ground truth
		s.cache.Invalidate(key)
		if fenced {
			// Nothing was applied; the token must stay usable
			if rerr := s.idempotency.Remove(context.WithoutCancel(ctx), token); rerr != nil {
				s.logger.Warn("Failed to release idempotency token",
					zap.String("key", key.String()),
					zap.Error(rerr))
			}
		}
		s.logger.Error("Reconcile write failed, cache invalidated",
			zap.String("key", key.String()),
			zap.Error(err))
		return nil, err
	}

	s.absorbIdentities(aggregate, result)
	s.cache.Set(key, aggregate)

	s.logger.Info("Aggregate reconciled",
		zap.String("key", key.String()),
		zap.String("bill_id", result.BillID.String()),
		zap.Int("expenses", len(result.ExpenseIDs)),
		zap.Int("payments", len(result.PaymentIDs)))
	return result, nil
}

// Invalidate drops the cache entry for the key. Exposed so the
// presentation layer can force a refetch after a reported failure.
func (s *SyncService) Invalidate(key billing.AggregateKey) {
	s.cache.Invalidate(key)
}

// IsStale reports whether the cached entry for the key is past its TTL
func (s *SyncService) IsStale(key billing.AggregateKey) bool {
	return s.cache.IsStale(key)
}

// absorbIdentities folds store-assigned identities into the aggregate
// after a successful reconcile, so later saves update instead of insert
func (s *SyncService) absorbIdentities(aggregate *billing.BillAggregate, result *billing.ReconcileResult) {
	aggregate.Bill.ID = result.BillID
	for i := range aggregate.Expenses {
		if i < len(result.ExpenseIDs) {
			aggregate.Expenses[i].ID = result.ExpenseIDs[i]
		}
	}
	for i := range aggregate.Payments {
		if i < len(result.PaymentIDs) {
			aggregate.Payments[i].ID = result.PaymentIDs[i]
		}
	}
}
