package billing

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rentledger/backend/internal/domain/shared"
)

// Bill holds the fixed per-month fields of a rental bill.
// ID is assigned by the store on first reconcile; uuid.Nil until then.
type Bill struct {
	ID                 uuid.UUID       `json:"id"`
	RentAmount         decimal.Decimal `json:"rent_amount"`
	ElectricityEnabled bool            `json:"electricity_enabled"`
	MotorEnabled       bool            `json:"motor_enabled"`
	ElectricityInitial decimal.Decimal `json:"electricity_initial"`
	ElectricityFinal   decimal.Decimal `json:"electricity_final"`
	MotorInitial       decimal.Decimal `json:"motor_initial"`
	MotorFinal         decimal.Decimal `json:"motor_final"`
	ElectricityRate    decimal.Decimal `json:"electricity_rate"`
	MotorRate          decimal.Decimal `json:"motor_rate"`
	ElectricityCharge  decimal.Decimal `json:"electricity_charge"`
	MotorCharge        decimal.Decimal `json:"motor_charge"`
	TotalDue           decimal.Decimal `json:"total_due"`
	TotalPaid          decimal.Decimal `json:"total_paid"`
	Balance            decimal.Decimal `json:"balance"`
	Notes              string          `json:"notes"`
}

// MeterReadings is the carry-forward snapshot of the preceding period's
// final readings. It is derived data and never persisted against the
// current key.
type MeterReadings struct {
	ElectricityFinal decimal.Decimal `json:"electricity_final"`
	MotorFinal       decimal.Decimal `json:"motor_final"`
}

// BillAggregate is the unit of caching and reconciliation: a bill plus
// its full expense and payment lists for one (tenant, month, year).
// Bill is nil when the month has never been populated.
type BillAggregate struct {
	Key              AggregateKey  `json:"key"`
	Bill             *Bill         `json:"bill,omitempty"`
	Expenses         []ExpenseLine `json:"expenses"`
	Payments         []PaymentLine `json:"payments"`
	PreviousReadings MeterReadings `json:"previous_readings"`
}

// NewEmptyAggregate returns an aggregate for a month that has never been
// populated, carrying only the previous period's readings
func NewEmptyAggregate(key AggregateKey, previous MeterReadings) *BillAggregate {
	return &BillAggregate{
		Key:              key,
		Expenses:         []ExpenseLine{},
		Payments:         []PaymentLine{},
		PreviousReadings: previous,
	}
}

// Recalculate refreshes the computed bill fields from readings, rates and
// payments. It is a no-op for aggregates without a bill.
func (a *BillAggregate) Recalculate() {
	if a.Bill == nil {
		return
	}
	b := a.Bill

	b.ElectricityCharge = decimal.Zero
	if b.ElectricityEnabled {
		b.ElectricityCharge = b.ElectricityFinal.Sub(b.ElectricityInitial).Mul(b.ElectricityRate)
	}
	b.MotorCharge = decimal.Zero
	if b.MotorEnabled {
		b.MotorCharge = b.MotorFinal.Sub(b.MotorInitial).Mul(b.MotorRate)
	}

	b.TotalDue = b.RentAmount.Add(b.ElectricityCharge).Add(b.MotorCharge)
	for _, e := range a.Expenses {
		b.TotalDue = b.TotalDue.Add(e.Amount)
	}

	b.TotalPaid = decimal.Zero
	for _, p := range a.Payments {
		b.TotalPaid = b.TotalPaid.Add(p.Amount)
	}
	b.Balance = b.TotalDue.Sub(b.TotalPaid)
}

// Reconciled reports whether the aggregate has ever been written to the
// store: a persisted bill ID, or any child carrying an assigned identity
func (a *BillAggregate) Reconciled() bool {
	if a.Bill != nil && a.Bill.ID != uuid.Nil {
		return true
	}
	for _, e := range a.Expenses {
		if e.Assigned() {
			return true
		}
	}
	for _, p := range a.Payments {
		if p.Assigned() {
			return true
		}
	}
	return false
}

var validate = validator.New()

// Validate checks the aggregate at the fetcher/writer boundary. Loosely
// structured payloads from the presentation layer go through here before
// touching the cache or the store.
func (a *BillAggregate) Validate() error {
	if err := a.Key.Validate(); err != nil {
		return err
	}
	if a.Bill != nil {
		if a.Bill.RentAmount.IsNegative() {
			return fmt.Errorf("%w: rent amount must not be negative", shared.ErrInvalidInput)
		}
		if a.Bill.ElectricityFinal.LessThan(a.Bill.ElectricityInitial) {
			return fmt.Errorf("%w: electricity final reading below initial", shared.ErrInvalidInput)
		}
		if a.Bill.MotorFinal.LessThan(a.Bill.MotorInitial) {
			return fmt.Errorf("%w: motor final reading below initial", shared.ErrInvalidInput)
		}
	}
	for i, e := range a.Expenses {
		if e.Amount.IsNegative() {
			return fmt.Errorf("%w: expense %d has negative amount", shared.ErrInvalidInput, i)
		}
	}
	for i, p := range a.Payments {
		if p.Amount.IsNegative() {
			return fmt.Errorf("%w: payment %d has negative amount", shared.ErrInvalidInput, i)
		}
	}
	return nil
}
