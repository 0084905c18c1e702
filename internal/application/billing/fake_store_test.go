package billing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rentledger/backend/internal/domain/billing"
	"github.com/rentledger/backend/internal/domain/shared"
	"github.com/rentledger/backend/internal/infrastructure/retry"
)

// fakeStore is an in-memory BillStore for application-layer tests. Bills
// are keyed by AggregateKey.String(), children by bill ID. Error fields
// force specific failure modes; combinedGate, when set, blocks every
// combined read until the channel is closed.
type fakeStore struct {
	mu sync.Mutex

	combinedUnsupported bool
	combinedErr         error
	combinedGate        chan struct{}
	combinedEntered     chan struct{}
	combinedCalls       map[string]int
	decomposedCalls     int

	tenantErr error

	bills    map[string]billing.Bill
	expenses map[uuid.UUID][]billing.ExpenseLine
	payments map[uuid.UUID][]billing.PaymentLine

	reconcileErr     error
	reconcileGate    chan struct{}
	reconcileEntered chan struct{}
	reconcileCalls   int
	lastBill         billing.Bill
	lastExpenses     []billing.ExpenseLine
	lastPayments     []billing.PaymentLine
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		combinedCalls: make(map[string]int),
		bills:         make(map[string]billing.Bill),
		expenses:      make(map[uuid.UUID][]billing.ExpenseLine),
		payments:      make(map[uuid.UUID][]billing.PaymentLine),
	}
}

func (s *fakeStore) putBill(key billing.AggregateKey, bill billing.Bill) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bill.ID == uuid.Nil {
		bill.ID = uuid.New()
	}
	s.bills[key.String()] = bill
}

func (s *fakeStore) CombinedRead(ctx context.Context, key billing.AggregateKey) (*billing.CombinedReadResult, error) {
	if s.combinedGate != nil {
		if s.combinedEntered != nil {
			s.combinedEntered <- struct{}{}
		}
		<-s.combinedGate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.combinedCalls[key.String()]++

	if s.combinedUnsupported {
		return nil, billing.ErrCombinedReadUnsupported
	}
	if s.combinedErr != nil {
		return nil, s.combinedErr
	}
	if s.tenantErr != nil {
		return nil, s.tenantErr
	}

	result := &billing.CombinedReadResult{}
	if prev, ok := s.bills[key.Previous().String()]; ok {
		result.PreviousReadings = billing.MeterReadings{
			ElectricityFinal: prev.ElectricityFinal,
			MotorFinal:       prev.MotorFinal,
		}
	}
	if b, ok := s.bills[key.String()]; ok {
		bill := b
		result.Bill = &bill
		result.Expenses = s.expenses[b.ID]
		result.Payments = s.payments[b.ID]
	}
	return result, nil
}

func (s *fakeStore) EnsureTenant(ctx context.Context, tenantID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decomposedCalls++
	return s.tenantErr
}

func (s *fakeStore) ReadBill(ctx context.Context, key billing.AggregateKey) (*billing.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decomposedCalls++
	b, ok := s.bills[key.String()]
	if !ok {
		return nil, shared.ErrNotFound
	}
	bill := b
	return &bill, nil
}

func (s *fakeStore) ReadExpenses(ctx context.Context, billID uuid.UUID) ([]billing.ExpenseLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decomposedCalls++
	return s.expenses[billID], nil
}

func (s *fakeStore) ReadPayments(ctx context.Context, billID uuid.UUID) ([]billing.PaymentLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decomposedCalls++
	return s.payments[billID], nil
}

func (s *fakeStore) ReconcileWrite(ctx context.Context, key billing.AggregateKey, bill billing.Bill, expenses []billing.ExpenseLine, payments []billing.PaymentLine) (*billing.ReconcileResult, error) {
	if s.reconcileGate != nil {
		if s.reconcileEntered != nil {
			s.reconcileEntered <- struct{}{}
		}
		<-s.reconcileGate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.reconcileCalls++
	s.lastBill = bill
	s.lastExpenses = expenses
	s.lastPayments = payments

	if s.reconcileErr != nil {
		return nil, s.reconcileErr
	}
	if s.tenantErr != nil {
		return nil, s.tenantErr
	}

	if existing, ok := s.bills[key.String()]; ok {
		bill.ID = existing.ID
	} else if bill.ID == uuid.Nil {
		bill.ID = uuid.New()
	}
	s.bills[key.String()] = bill

	result := &billing.ReconcileResult{BillID: bill.ID}
	s.expenses[bill.ID] = nil
	for _, e := range expenses {
		if !e.Assigned() {
			e.ID = uuid.New()
		}
		s.expenses[bill.ID] = append(s.expenses[bill.ID], e)
		result.ExpenseIDs = append(result.ExpenseIDs, e.ID)
	}
	s.payments[bill.ID] = nil
	for _, p := range payments {
		if !p.Assigned() {
			p.ID = uuid.New()
		}
		s.payments[bill.ID] = append(s.payments[bill.ID], p)
		result.PaymentIDs = append(result.PaymentIDs, p.ID)
	}
	return result, nil
}

var _ billing.BillStore = (*fakeStore)(nil)

// testExecutor returns an executor with a tight policy so retried paths
// stay fast under test
func testExecutor() *retry.Executor {
	return retry.NewExecutor(retry.Config{
		MaxRetries:     1,
		BaseDelay:      time.Millisecond,
		AttemptTimeout: time.Second,
	}, nil)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
