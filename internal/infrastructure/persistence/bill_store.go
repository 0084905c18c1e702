package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rentledger/backend/internal/domain/billing"
	"github.com/rentledger/backend/internal/domain/shared"
	"github.com/rentledger/backend/internal/infrastructure/persistence/models"
)

// GormBillStore implements billing.BillStore using GORM
type GormBillStore struct {
	db                  *gorm.DB
	combinedReadEnabled bool
}

// GormBillStoreOption is a functional option for configuring the store
type GormBillStoreOption func(*GormBillStore)

// WithoutCombinedRead disables the single round-trip aggregate read so
// callers exercise their decomposed fallback. Useful against stores or
// drivers that cannot serve the combined query.
func WithoutCombinedRead() GormBillStoreOption {
	return func(s *GormBillStore) {
		s.combinedReadEnabled = false
	}
}

// NewGormBillStore creates a new GormBillStore
func NewGormBillStore(db *gorm.DB, opts ...GormBillStoreOption) *GormBillStore {
	store := &GormBillStore{db: db, combinedReadEnabled: true}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// EnsureTenant verifies the tenant exists and is not archived
func (s *GormBillStore) EnsureTenant(ctx context.Context, tenantID uuid.UUID) error {
	var tenant models.TenantModel
	if err := s.db.WithContext(ctx).First(&tenant, "id = ?", tenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return shared.ErrNotFound
		}
		return err
	}
	if tenant.Archived {
		return shared.ErrForbidden
	}
	return nil
}

// ReadBill returns the bill row for the key, or shared.ErrNotFound
func (s *GormBillStore) ReadBill(ctx context.Context, key billing.AggregateKey) (*billing.Bill, error) {
	return s.readBill(s.db.WithContext(ctx), key)
}

// ReadExpenses returns all expense rows attached to the bill, in
// insertion order
func (s *GormBillStore) ReadExpenses(ctx context.Context, billID uuid.UUID) ([]billing.ExpenseLine, error) {
	return s.readExpenses(s.db.WithContext(ctx), billID)
}

// ReadPayments returns all payment rows attached to the bill, in
// insertion order
func (s *GormBillStore) ReadPayments(ctx context.Context, billID uuid.UUID) ([]billing.PaymentLine, error) {
	return s.readPayments(s.db.WithContext(ctx), billID)
}

// CombinedRead serves the whole aggregate in one read-only transaction:
// bill row (nil when the month was never populated), full child lists
// and the preceding period's final readings.
func (s *GormBillStore) CombinedRead(ctx context.Context, key billing.AggregateKey) (*billing.CombinedReadResult, error) {
	if !s.combinedReadEnabled {
		return nil, billing.ErrCombinedReadUnsupported
	}

	result := &billing.CombinedReadResult{
		Expenses: []billing.ExpenseLine{},
		Payments: []billing.PaymentLine{},
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureTenantTx(tx, key.TenantID); err != nil {
			return err
		}

		bill, err := s.readBill(tx, key)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		result.Bill = bill

		readings, err := s.previousReadings(tx, key)
		if err != nil {
			return err
		}
		result.PreviousReadings = readings

		if bill != nil {
			if result.Expenses, err = s.readExpenses(tx, bill.ID); err != nil {
				return err
			}
			if result.Payments, err = s.readPayments(tx, bill.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReconcileWrite upserts the bill row and replaces its child rows with
// exactly the incoming lists, atomically. Store identities absent from
// the incoming lists are deleted; unassigned lines get fresh identities;
// assigned lines are overwritten. Returned IDs follow input order.
func (s *GormBillStore) ReconcileWrite(ctx context.Context, key billing.AggregateKey, bill billing.Bill, expenses []billing.ExpenseLine, payments []billing.PaymentLine) (*billing.ReconcileResult, error) {
	result := &billing.ReconcileResult{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureTenantTx(tx, key.TenantID); err != nil {
			return err
		}

		billID, err := s.upsertBill(tx, key, bill)
		if err != nil {
			return err
		}
		result.BillID = billID

		if result.ExpenseIDs, err = s.reconcileExpenses(tx, billID, expenses); err != nil {
			return err
		}
		if result.PaymentIDs, err = s.reconcilePayments(tx, billID, payments); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *GormBillStore) ensureTenantTx(tx *gorm.DB, tenantID uuid.UUID) error {
	var tenant models.TenantModel
	if err := tx.First(&tenant, "id = ?", tenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return shared.ErrNotFound
		}
		return err
	}
	if tenant.Archived {
		return shared.ErrForbidden
	}
	return nil
}

func (s *GormBillStore) readBill(tx *gorm.DB, key billing.AggregateKey) (*billing.Bill, error) {
	var model models.BillModel
	if err := tx.
		Where("tenant_id = ? AND year = ? AND month = ?", key.TenantID, key.Year, key.Month).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

func (s *GormBillStore) readExpenses(tx *gorm.DB, billID uuid.UUID) ([]billing.ExpenseLine, error) {
	var expenseModels []models.BillExpenseModel
	if err := tx.
		Where("bill_id = ?", billID).
		Order("created_at ASC").
		Find(&expenseModels).Error; err != nil {
		return nil, err
	}
	lines := make([]billing.ExpenseLine, len(expenseModels))
	for i, m := range expenseModels {
		lines[i] = m.ToDomain()
	}
	return lines, nil
}

func (s *GormBillStore) readPayments(tx *gorm.DB, billID uuid.UUID) ([]billing.PaymentLine, error) {
	var paymentModels []models.BillPaymentModel
	if err := tx.
		Where("bill_id = ?", billID).
		Order("created_at ASC").
		Find(&paymentModels).Error; err != nil {
		return nil, err
	}
	lines := make([]billing.PaymentLine, len(paymentModels))
	for i, m := range paymentModels {
		lines[i] = m.ToDomain()
	}
	return lines, nil
}

// previousReadings returns the preceding period's final meter readings,
// zero when that month was never populated. Year rollover is handled by
// AggregateKey.Previous.
func (s *GormBillStore) previousReadings(tx *gorm.DB, key billing.AggregateKey) (billing.MeterReadings, error) {
	prev, err := s.readBill(tx, key.Previous())
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return billing.MeterReadings{}, nil
		}
		return billing.MeterReadings{}, err
	}
	return billing.MeterReadings{
		ElectricityFinal: prev.ElectricityFinal,
		MotorFinal:       prev.MotorFinal,
	}, nil
}

// upsertBill inserts the bill row for the key if absent, otherwise
// overwrites all of its fields, and returns the row identity
func (s *GormBillStore) upsertBill(tx *gorm.DB, key billing.AggregateKey, bill billing.Bill) (uuid.UUID, error) {
	var model models.BillModel
	err := tx.
		Where("tenant_id = ? AND year = ? AND month = ?", key.TenantID, key.Year, key.Month).
		First(&model).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, err
		}
		model = models.BillModel{
			ID:       uuid.New(),
			TenantID: key.TenantID,
			Year:     key.Year,
			Month:    key.Month,
		}
		model.ApplyDomain(bill)
		if err := tx.Create(&model).Error; err != nil {
			return uuid.Nil, err
		}
		return model.ID, nil
	}

	model.ApplyDomain(bill)
	if err := tx.Save(&model).Error; err != nil {
		return uuid.Nil, err
	}
	return model.ID, nil
}

// reconcileExpenses makes the stored expense rows for the bill match the
// incoming list exactly: set-difference delete, then per-line insert or
// overwrite. Returns identities in input order.
func (s *GormBillStore) reconcileExpenses(tx *gorm.DB, billID uuid.UUID, lines []billing.ExpenseLine) ([]uuid.UUID, error) {
	assigned := make([]uuid.UUID, 0, len(lines))
	for _, l := range lines {
		if l.Assigned() {
			assigned = append(assigned, l.ID)
		}
	}
	if err := deleteOrphans(tx, &models.BillExpenseModel{}, billID, assigned); err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(lines))
	for _, l := range lines {
		if !l.Assigned() {
			l.ID = uuid.New()
			if err := tx.Create(models.BillExpenseModelFromDomain(billID, l)).Error; err != nil {
				return nil, err
			}
			ids = append(ids, l.ID)
			continue
		}
		model := models.BillExpenseModelFromDomain(billID, l)
		res := tx.Model(&models.BillExpenseModel{}).
			Where("id = ? AND bill_id = ?", l.ID, billID).
			Updates(map[string]any{
				"description": model.Description,
				"amount":      model.Amount,
				"incurred_on": model.IncurredOn,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			// Assigned identity unknown to the store, e.g. deleted by an
			// earlier reconcile. Reinstate the row under the same identity.
			if err := tx.Create(model).Error; err != nil {
				return nil, err
			}
		}
		ids = append(ids, l.ID)
	}
	return ids, nil
}

// reconcilePayments applies the identical procedure to payments
func (s *GormBillStore) reconcilePayments(tx *gorm.DB, billID uuid.UUID, lines []billing.PaymentLine) ([]uuid.UUID, error) {
	assigned := make([]uuid.UUID, 0, len(lines))
	for _, l := range lines {
		if l.Assigned() {
			assigned = append(assigned, l.ID)
		}
	}
	if err := deleteOrphans(tx, &models.BillPaymentModel{}, billID, assigned); err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(lines))
	for _, l := range lines {
		if !l.Assigned() {
			l.ID = uuid.New()
			if err := tx.Create(models.BillPaymentModelFromDomain(billID, l)).Error; err != nil {
				return nil, err
			}
			ids = append(ids, l.ID)
			continue
		}
		model := models.BillPaymentModelFromDomain(billID, l)
		res := tx.Model(&models.BillPaymentModel{}).
			Where("id = ? AND bill_id = ?", l.ID, billID).
			Updates(map[string]any{
				"amount":  model.Amount,
				"method":  model.Method,
				"paid_on": model.PaidOn,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			if err := tx.Create(model).Error; err != nil {
				return nil, err
			}
		}
		ids = append(ids, l.ID)
	}
	return ids, nil
}

// deleteOrphans removes child rows whose identity is not in the incoming
// assigned set. The incoming list is the source of truth, not an
// append-only log.
func deleteOrphans(tx *gorm.DB, model any, billID uuid.UUID, assigned []uuid.UUID) error {
	query := tx.Where("bill_id = ?", billID)
	if len(assigned) > 0 {
		query = query.Where("id NOT IN ?", assigned)
	}
	return query.Delete(model).Error
}

// Ensure GormBillStore implements billing.BillStore
var _ billing.BillStore = (*GormBillStore)(nil)
