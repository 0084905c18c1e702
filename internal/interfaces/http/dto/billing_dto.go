package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rentledger/backend/internal/domain/billing"
)

// BillPeriodURI binds the tenant/period path parameters
type BillPeriodURI struct {
	TenantID string `uri:"tenantId" binding:"required,uuid"`
	Year     int    `uri:"year" binding:"required,min=1970,max=9999"`
	Month    int    `uri:"month" binding:"required,min=1,max=12"`
}

// Key converts the bound path parameters into an aggregate key
func (u *BillPeriodURI) Key() billing.AggregateKey {
	return billing.NewAggregateKey(uuid.MustParse(u.TenantID), u.Month, u.Year)
}

// BillPayload carries the editable bill fields of a save request
type BillPayload struct {
	RentAmount         decimal.Decimal `json:"rent_amount"`
	ElectricityEnabled bool            `json:"electricity_enabled"`
	MotorEnabled       bool            `json:"motor_enabled"`
	ElectricityInitial decimal.Decimal `json:"electricity_initial"`
	ElectricityFinal   decimal.Decimal `json:"electricity_final"`
	MotorInitial       decimal.Decimal `json:"motor_initial"`
	MotorFinal         decimal.Decimal `json:"motor_final"`
	ElectricityRate    decimal.Decimal `json:"electricity_rate"`
	MotorRate          decimal.Decimal `json:"motor_rate"`
	Notes              string          `json:"notes"`
}

// ExpensePayload carries one expense line of a save request. A nil ID
// means the line is new and the store assigns one.
type ExpensePayload struct {
	ID          *uuid.UUID      `json:"id"`
	Description string          `json:"description" binding:"required"`
	Amount      decimal.Decimal `json:"amount"`
	IncurredOn  time.Time       `json:"incurred_on" binding:"required"`
}

// PaymentPayload carries one payment line of a save request
type PaymentPayload struct {
	ID     *uuid.UUID      `json:"id"`
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method" binding:"required"`
	PaidOn time.Time       `json:"paid_on" binding:"required"`
}

// SaveBillRequest is the body of a monthly bill save
type SaveBillRequest struct {
	Bill     BillPayload      `json:"bill" binding:"required"`
	Expenses []ExpensePayload `json:"expenses"`
	Payments []PaymentPayload `json:"payments"`
}

// ToAggregate converts the save request into a domain aggregate for the key
func (r *SaveBillRequest) ToAggregate(key billing.AggregateKey) *billing.BillAggregate {
	aggregate := billing.NewEmptyAggregate(key, billing.MeterReadings{})
	aggregate.Bill = &billing.Bill{
		RentAmount:         r.Bill.RentAmount,
		ElectricityEnabled: r.Bill.ElectricityEnabled,
		MotorEnabled:       r.Bill.MotorEnabled,
		ElectricityInitial: r.Bill.ElectricityInitial,
		ElectricityFinal:   r.Bill.ElectricityFinal,
		MotorInitial:       r.Bill.MotorInitial,
		MotorFinal:         r.Bill.MotorFinal,
		ElectricityRate:    r.Bill.ElectricityRate,
		MotorRate:          r.Bill.MotorRate,
		Notes:              r.Bill.Notes,
	}
	for _, e := range r.Expenses {
		line := billing.ExpenseLine{
			Description: e.Description,
			Amount:      e.Amount,
			IncurredOn:  e.IncurredOn,
		}
		if e.ID != nil {
			line.ID = *e.ID
		}
		aggregate.Expenses = append(aggregate.Expenses, line)
	}
	for _, p := range r.Payments {
		line := billing.PaymentLine{
			Amount: p.Amount,
			Method: p.Method,
			PaidOn: p.PaidOn,
		}
		if p.ID != nil {
			line.ID = *p.ID
		}
		aggregate.Payments = append(aggregate.Payments, line)
	}
	return aggregate
}

// AggregateResponse is the display payload for one monthly bill aggregate
type AggregateResponse struct {
	TenantID         string                 `json:"tenant_id"`
	Year             int                    `json:"year"`
	Month            int                    `json:"month"`
	Bill             *billing.Bill          `json:"bill"`
	Expenses         []billing.ExpenseLine  `json:"expenses"`
	Payments         []billing.PaymentLine  `json:"payments"`
	PreviousReadings billing.MeterReadings  `json:"previous_readings"`
	Stale            bool                   `json:"stale"`
	FromCache        bool                   `json:"from_cache"`
}

// NewAggregateResponse builds the display payload from a domain aggregate
func NewAggregateResponse(aggregate *billing.BillAggregate, stale, fromCache bool) AggregateResponse {
	return AggregateResponse{
		TenantID:         aggregate.Key.TenantID.String(),
		Year:             aggregate.Key.Year,
		Month:            aggregate.Key.Month,
		Bill:             aggregate.Bill,
		Expenses:         aggregate.Expenses,
		Payments:         aggregate.Payments,
		PreviousReadings: aggregate.PreviousReadings,
		Stale:            stale,
		FromCache:        fromCache,
	}
}

// SaveBillResponse reports the identity outcome of a save
type SaveBillResponse struct {
	BillID     uuid.UUID   `json:"bill_id"`
	ExpenseIDs []uuid.UUID `json:"expense_ids"`
	PaymentIDs []uuid.UUID `json:"payment_ids"`
}
