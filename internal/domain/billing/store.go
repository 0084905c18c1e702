package billing

import (
	"context"

	"github.com/google/uuid"

	"github.com/rentledger/backend/internal/domain/shared"
)

// ErrCombinedReadUnsupported signals that the store cannot serve the
// single round-trip combined read and the caller must fall back to
// decomposed reads. It is distinct from NOT_FOUND on purpose.
var ErrCombinedReadUnsupported = shared.NewDomainError("COMBINED_READ_UNSUPPORTED", "Store does not support the combined aggregate read")

// CombinedReadResult is the single round-trip answer for one aggregate key
type CombinedReadResult struct {
	Bill             *Bill
	Expenses         []ExpenseLine
	Payments         []PaymentLine
	PreviousReadings MeterReadings
}

// ReconcileResult reports the identity outcome of a reconcile write.
// Child IDs are ordered like the incoming lists.
type ReconcileResult struct {
	BillID     uuid.UUID
	ExpenseIDs []uuid.UUID
	PaymentIDs []uuid.UUID
}

// BillStore is the persistent-store collaborator contract the engine
// consumes. Implementations must keep CombinedRead side-effect free and
// ReconcileWrite atomic (all child inserts/updates/deletes and the bill
// upsert succeed or none do).
type BillStore interface {
	// CombinedRead returns the bill (nil when the month was never
	// populated), full child lists and the preceding period's final
	// readings in one operation. Returns ErrCombinedReadUnsupported when
	// the store cannot serve it, and shared.ErrNotFound /
	// shared.ErrForbidden for a missing or inaccessible tenant.
	CombinedRead(ctx context.Context, key AggregateKey) (*CombinedReadResult, error)

	// EnsureTenant verifies the tenant exists and is accessible
	EnsureTenant(ctx context.Context, tenantID uuid.UUID) error

	// ReadBill returns the bill row for the key, or shared.ErrNotFound
	ReadBill(ctx context.Context, key AggregateKey) (*Bill, error)

	// ReadExpenses returns all expense rows attached to the bill
	ReadExpenses(ctx context.Context, billID uuid.UUID) ([]ExpenseLine, error)

	// ReadPayments returns all payment rows attached to the bill
	ReadPayments(ctx context.Context, billID uuid.UUID) ([]PaymentLine, error)

	// ReconcileWrite upserts the bill row and replaces its child rows
	// with exactly the incoming lists via insert/update/delete set
	// difference, atomically. Safe to retry: re-applying the same input
	// leaves the store content-identical.
	ReconcileWrite(ctx context.Context, key AggregateKey, bill Bill, expenses []ExpenseLine, payments []PaymentLine) (*ReconcileResult, error)
}
