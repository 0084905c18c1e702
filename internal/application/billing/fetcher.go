package billing

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rentledger/backend/internal/domain/billing"
	"github.com/rentledger/backend/internal/domain/shared"
	"github.com/rentledger/backend/internal/infrastructure/retry"
)

// AggregateFetcher retrieves a full bill aggregate for one key. It
// prefers the store's single combined read and falls back to decomposed
// reads when the store cannot serve it. Every remote call runs under
// the timeout/retry executor.
type AggregateFetcher struct {
	store  billing.BillStore
	exec   *retry.Executor
	logger *zap.Logger
}

// NewAggregateFetcher creates a new AggregateFetcher
func NewAggregateFetcher(store billing.BillStore, exec *retry.Executor, logger *zap.Logger) *AggregateFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AggregateFetcher{store: store, exec: exec, logger: logger}
}

// Fetch returns the aggregate for the key. A month that has never been
// populated comes back with a nil bill, empty child lists and the
// preceding period's carry-forward readings; a missing or inaccessible
// tenant surfaces NotFound/Forbidden instead of an empty aggregate.
func (f *AggregateFetcher) Fetch(ctx context.Context, key billing.AggregateKey) (*billing.BillAggregate, error) {
	combined, err := retry.DoValue(ctx, f.exec, "combined aggregate read", func(ctx context.Context) (*billing.CombinedReadResult, error) {
		return f.store.CombinedRead(ctx, key)
	})
	if err == nil {
		return assemble(key, combined), nil
	}
	if errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrForbidden) {
		return nil, err
	}

	if !errors.Is(err, billing.ErrCombinedReadUnsupported) {
		f.logger.Warn("Combined read failed, falling back to decomposed reads",
			zap.String("key", key.String()),
			zap.Error(err))
	}
	return f.fetchDecomposed(ctx, key)
}

// fetchDecomposed reads the aggregate piece by piece: tenant check,
// then current and previous bill rows concurrently, then the child
// lists concurrently once the bill identity is known.
func (f *AggregateFetcher) fetchDecomposed(ctx context.Context, key billing.AggregateKey) (*billing.BillAggregate, error) {
	if err := f.exec.Do(ctx, "tenant check", func(ctx context.Context) error {
		return f.store.EnsureTenant(ctx, key.TenantID)
	}); err != nil {
		return nil, err
	}

	var current, previous *billing.Bill

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		bill, err := f.readBillOrAbsent(gctx, "bill read", key)
		if err != nil {
			return err
		}
		current = bill
		return nil
	})
	g.Go(func() error {
		bill, err := f.readBillOrAbsent(gctx, "previous bill read", key.Previous())
		if err != nil {
			return err
		}
		previous = bill
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	readings := billing.MeterReadings{}
	if previous != nil {
		readings.ElectricityFinal = previous.ElectricityFinal
		readings.MotorFinal = previous.MotorFinal
	}

	aggregate := billing.NewEmptyAggregate(key, readings)
	if current == nil {
		return aggregate, nil
	}
	aggregate.Bill = current

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		lines, err := retry.DoValue(gctx, f.exec, "expense list read", func(ctx context.Context) ([]billing.ExpenseLine, error) {
			return f.store.ReadExpenses(ctx, current.ID)
		})
		if err != nil {
			return err
		}
		aggregate.Expenses = lines
		return nil
	})
	g.Go(func() error {
		lines, err := retry.DoValue(gctx, f.exec, "payment list read", func(ctx context.Context) ([]billing.PaymentLine, error) {
			return f.store.ReadPayments(ctx, current.ID)
		})
		if err != nil {
			return err
		}
		aggregate.Payments = lines
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return aggregate, nil
}

// readBillOrAbsent maps a missing bill row to nil; NotFound here means
// the month was never populated, not a missing tenant (that was
// checked first).
func (f *AggregateFetcher) readBillOrAbsent(ctx context.Context, op string, key billing.AggregateKey) (*billing.Bill, error) {
	bill, err := retry.DoValue(ctx, f.exec, op, func(ctx context.Context) (*billing.Bill, error) {
		return f.store.ReadBill(ctx, key)
	})
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return bill, nil
}

func assemble(key billing.AggregateKey, combined *billing.CombinedReadResult) *billing.BillAggregate {
	aggregate := billing.NewEmptyAggregate(key, combined.PreviousReadings)
	aggregate.Bill = combined.Bill
	if combined.Expenses != nil {
		aggregate.Expenses = combined.Expenses
	}
	if combined.Payments != nil {
		aggregate.Payments = combined.Payments
	}
	return aggregate
}
