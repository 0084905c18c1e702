package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ExpenseLine is an ad-hoc expense attached to a monthly bill.
// ID is the store-assigned identity; uuid.Nil means the line has not
// been persisted yet.
type ExpenseLine struct {
	ID          uuid.UUID       `json:"id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	IncurredOn  time.Time       `json:"incurred_on"`
}

// Assigned reports whether the store has assigned this line an identity
func (e ExpenseLine) Assigned() bool {
	return e.ID != uuid.Nil
}

// PaymentLine is a payment recorded against a monthly bill.
// It follows the same identity model as ExpenseLine.
type PaymentLine struct {
	ID     uuid.UUID       `json:"id"`
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method"`
	PaidOn time.Time       `json:"paid_on"`
}

// Assigned reports whether the store has assigned this line an identity
func (p PaymentLine) Assigned() bool {
	return p.ID != uuid.Nil
}
