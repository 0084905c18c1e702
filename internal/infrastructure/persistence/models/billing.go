package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rentledger/backend/internal/domain/billing"
)

// TenantModel is the persistence model for a rental tenant
type TenantModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"type:varchar(200);not null"`
	Phone     string    `gorm:"type:varchar(50)"`
	UnitLabel string    `gorm:"type:varchar(100)"`
	Archived  bool      `gorm:"not null;default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName returns the table name for GORM
func (TenantModel) TableName() string {
	return "tenants"
}

// BillModel is the persistence model for a monthly bill row.
// (tenant_id, year, month) is unique: two bills never share a period.
type BillModel struct {
	ID                 uuid.UUID       `gorm:"type:uuid;primaryKey"`
	TenantID           uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_bills_tenant_period,priority:1"`
	Year               int             `gorm:"not null;uniqueIndex:idx_bills_tenant_period,priority:2"`
	Month              int             `gorm:"not null;uniqueIndex:idx_bills_tenant_period,priority:3"`
	RentAmount         decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	ElectricityEnabled bool            `gorm:"not null;default:false"`
	MotorEnabled       bool            `gorm:"not null;default:false"`
	ElectricityInitial decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	ElectricityFinal   decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	MotorInitial       decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	MotorFinal         decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	ElectricityRate    decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	MotorRate          decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	ElectricityCharge  decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	MotorCharge        decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	TotalDue           decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	TotalPaid          decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Balance            decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Notes              string          `gorm:"type:text"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TableName returns the table name for GORM
func (BillModel) TableName() string {
	return "bills"
}

// ToDomain converts the persistence model to a domain Bill
func (m *BillModel) ToDomain() *billing.Bill {
	return &billing.Bill{
		ID:                 m.ID,
		RentAmount:         m.RentAmount,
		ElectricityEnabled: m.ElectricityEnabled,
		MotorEnabled:       m.MotorEnabled,
		ElectricityInitial: m.ElectricityInitial,
		ElectricityFinal:   m.ElectricityFinal,
		MotorInitial:       m.MotorInitial,
		MotorFinal:         m.MotorFinal,
		ElectricityRate:    m.ElectricityRate,
		MotorRate:          m.MotorRate,
		ElectricityCharge:  m.ElectricityCharge,
		MotorCharge:        m.MotorCharge,
		TotalDue:           m.TotalDue,
		TotalPaid:          m.TotalPaid,
		Balance:            m.Balance,
		Notes:              m.Notes,
	}
}

// ApplyDomain copies the bill fields onto the model, leaving identity
// and period columns alone
func (m *BillModel) ApplyDomain(b billing.Bill) {
	m.RentAmount = b.RentAmount
	m.ElectricityEnabled = b.ElectricityEnabled
	m.MotorEnabled = b.MotorEnabled
	m.ElectricityInitial = b.ElectricityInitial
	m.ElectricityFinal = b.ElectricityFinal
	m.MotorInitial = b.MotorInitial
	m.MotorFinal = b.MotorFinal
	m.ElectricityRate = b.ElectricityRate
	m.MotorRate = b.MotorRate
	m.ElectricityCharge = b.ElectricityCharge
	m.MotorCharge = b.MotorCharge
	m.TotalDue = b.TotalDue
	m.TotalPaid = b.TotalPaid
	m.Balance = b.Balance
	m.Notes = b.Notes
}

// BillExpenseModel is the persistence model for an ad-hoc expense row
type BillExpenseModel struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey"`
	BillID      uuid.UUID       `gorm:"type:uuid;not null;index"`
	Description string          `gorm:"type:varchar(500);not null"`
	Amount      decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	IncurredOn  time.Time       `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName returns the table name for GORM
func (BillExpenseModel) TableName() string {
	return "bill_expenses"
}

// ToDomain converts the persistence model to a domain ExpenseLine
func (m *BillExpenseModel) ToDomain() billing.ExpenseLine {
	return billing.ExpenseLine{
		ID:          m.ID,
		Description: m.Description,
		Amount:      m.Amount,
		IncurredOn:  m.IncurredOn,
	}
}

// BillExpenseModelFromDomain creates a persistence model from a domain line
func BillExpenseModelFromDomain(billID uuid.UUID, e billing.ExpenseLine) *BillExpenseModel {
	return &BillExpenseModel{
		ID:          e.ID,
		BillID:      billID,
		Description: e.Description,
		Amount:      e.Amount,
		IncurredOn:  e.IncurredOn,
	}
}

// BillPaymentModel is the persistence model for a payment row
type BillPaymentModel struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey"`
	BillID    uuid.UUID       `gorm:"type:uuid;not null;index"`
	Amount    decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Method    string          `gorm:"type:varchar(50);not null"`
	PaidOn    time.Time       `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName returns the table name for GORM
func (BillPaymentModel) TableName() string {
	return "bill_payments"
}

// ToDomain converts the persistence model to a domain PaymentLine
func (m *BillPaymentModel) ToDomain() billing.PaymentLine {
	return billing.PaymentLine{
		ID:     m.ID,
		Amount: m.Amount,
		Method: m.Method,
		PaidOn: m.PaidOn,
	}
}

// BillPaymentModelFromDomain creates a persistence model from a domain line
func BillPaymentModelFromDomain(billID uuid.UUID, p billing.PaymentLine) *BillPaymentModel {
	return &BillPaymentModel{
		ID:     p.ID,
		BillID: billID,
		Amount: p.Amount,
		Method: p.Method,
		PaidOn: p.PaidOn,
	}
}
