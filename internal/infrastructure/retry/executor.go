package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/rentledger/backend/internal/domain/billing"
	"github.com/rentledger/backend/internal/domain/shared"
)

// Config holds retry and timeout policy for remote calls
type Config struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries uint64

	// BaseDelay is the wait before the first retry; subsequent waits
	// double (baseDelay * 2^attempt)
	BaseDelay time.Duration

	// AttemptTimeout bounds every individual attempt. An attempt that
	// has not completed by then is abandoned and counts as a failure.
	AttemptTimeout time.Duration
}

// DefaultConfig returns the default policy: up to 3 attempts total,
// 1s/2s backoff, 5s per attempt
func DefaultConfig() Config {
	return Config{
		MaxRetries:     2,
		BaseDelay:      time.Second,
		AttemptTimeout: 5 * time.Second,
	}
}

// OperationError wraps the last underlying failure after retries are
// exhausted, naming the operation and the attempt count.
type OperationError struct {
	Op       string
	Attempts int
	Err      error
}

// Error implements the error interface
func (e *OperationError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

// Unwrap exposes the underlying cause
func (e *OperationError) Unwrap() error {
	return e.Err
}

// Executor runs remote operations under the timeout/retry policy.
// Side effects of an abandoned attempt are not rolled back here;
// wrapped operations are assumed idempotent.
type Executor struct {
	config Config
	logger *zap.Logger
}

// NewExecutor creates an Executor with the given policy
func NewExecutor(config Config, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{config: config, logger: logger}
}

// Do executes fn under the policy. Each attempt runs with its own
// timeout-bounded context; transient failures are retried with
// exponential backoff. NotFound, Forbidden and InvalidInput domain
// errors are never retried.
func (e *Executor) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0

	policy := e.newBackOff(ctx)
	err := backoff.Retry(func() error {
		attempt++

		attemptCtx, cancel := context.WithTimeout(ctx, e.config.AttemptTimeout)
		defer cancel()

		err := fn(attemptCtx)
		if err == nil {
			return nil
		}
		if isPermanent(err) {
			return backoff.Permanent(err)
		}
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("attempt timed out after %s: %w", e.config.AttemptTimeout, err)
		}

		e.logger.Warn("Remote operation attempt failed",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return err
	}, policy)

	if err == nil {
		return nil
	}
	if isPermanent(err) {
		// Not-retried failures surface as-is
		return err
	}
	return &OperationError{Op: op, Attempts: attempt, Err: err}
}

// DoValue executes fn under the executor's policy and returns its result
func DoValue[T any](ctx context.Context, e *Executor, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := e.Do(ctx, op, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// newBackOff builds the deterministic exponential policy. Randomization
// is disabled so wait times stay exactly baseDelay * 2^attempt.
func (e *Executor) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = e.config.BaseDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = e.config.BaseDelay << e.config.MaxRetries
	exp.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(exp, e.config.MaxRetries), ctx)
}

// isPermanent reports whether the error must surface immediately
// instead of being retried. Capability signals like an unsupported
// combined read will not change between attempts either.
func isPermanent(err error) bool {
	return errors.Is(err, shared.ErrNotFound) ||
		errors.Is(err, shared.ErrForbidden) ||
		errors.Is(err, shared.ErrInvalidInput) ||
		errors.Is(err, billing.ErrCombinedReadUnsupported)
}
