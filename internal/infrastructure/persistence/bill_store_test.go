package persistence

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rentledger/backend/internal/domain/billing"
	"github.com/rentledger/backend/internal/domain/shared"
	"github.com/rentledger/backend/internal/infrastructure/persistence/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.TenantModel{},
		&models.BillModel{},
		&models.BillExpenseModel{},
		&models.BillPaymentModel{},
	))
	return db
}

func createTenant(t *testing.T, db *gorm.DB) uuid.UUID {
	t.Helper()

	tenant := models.TenantModel{
		ID:        uuid.New(),
		Name:      "Ground floor unit",
		UnitLabel: "G-1",
	}
	require.NoError(t, db.Create(&tenant).Error)
	return tenant.ID
}

func sampleBill() billing.Bill {
	return billing.Bill{
		RentAmount:         decimal.NewFromInt(12000),
		ElectricityEnabled: true,
		MotorEnabled:       true,
		ElectricityInitial: decimal.NewFromInt(500),
		ElectricityFinal:   decimal.NewFromInt(600),
		MotorInitial:       decimal.NewFromInt(200),
		MotorFinal:         decimal.NewFromInt(250),
		ElectricityRate:    decimal.NewFromInt(8),
		MotorRate:          decimal.NewFromInt(10),
	}
}

func TestGormBillStore_EnsureTenant(t *testing.T) {
	db := setupTestDB(t)
	store := NewGormBillStore(db)
	ctx := context.Background()

	t.Run("unknown tenant is not found", func(t *testing.T) {
		err := store.EnsureTenant(ctx, uuid.New())
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("archived tenant is forbidden", func(t *testing.T) {
		tenant := models.TenantModel{ID: uuid.New(), Name: "Old tenant", Archived: true}
		require.NoError(t, db.Create(&tenant).Error)

		err := store.EnsureTenant(ctx, tenant.ID)
		assert.ErrorIs(t, err, shared.ErrForbidden)
	})

	t.Run("active tenant passes", func(t *testing.T) {
		tenantID := createTenant(t, db)
		assert.NoError(t, store.EnsureTenant(ctx, tenantID))
	})
}

func TestGormBillStore_ReadBill(t *testing.T) {
	db := setupTestDB(t)
	store := NewGormBillStore(db)
	ctx := context.Background()
	tenantID := createTenant(t, db)

	t.Run("missing month is not found", func(t *testing.T) {
		_, err := store.ReadBill(ctx, billing.NewAggregateKey(tenantID, 4, 2026))
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("reads back a reconciled bill", func(t *testing.T) {
		key := billing.NewAggregateKey(tenantID, 4, 2026)
		saved, err := store.ReconcileWrite(ctx, key, sampleBill(), nil, nil)
		require.NoError(t, err)

		bill, err := store.ReadBill(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, saved.BillID, bill.ID)
		assert.True(t, bill.RentAmount.Equal(decimal.NewFromInt(12000)))
	})
}

func TestGormBillStore_ReconcileWrite(t *testing.T) {
	ctx := context.Background()
	incurred := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)

	t.Run("first save assigns identities to every row", func(t *testing.T) {
		db := setupTestDB(t)
		store := NewGormBillStore(db)
		tenantID := createTenant(t, db)
		key := billing.NewAggregateKey(tenantID, 4, 2026)

		expenses := []billing.ExpenseLine{
			{Description: "Gate repair", Amount: decimal.NewFromInt(1500), IncurredOn: incurred},
			{Description: "Bulbs", Amount: decimal.NewFromInt(250), IncurredOn: incurred},
		}
		payments := []billing.PaymentLine{
			{Amount: decimal.NewFromInt(10000), Method: "CASH", PaidOn: incurred},
		}

		result, err := store.ReconcileWrite(ctx, key, sampleBill(), expenses, payments)
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, result.BillID)
		require.Len(t, result.ExpenseIDs, 2)
		require.Len(t, result.PaymentIDs, 1)
		for _, id := range result.ExpenseIDs {
			assert.NotEqual(t, uuid.Nil, id)
		}

		stored, err := store.ReadExpenses(ctx, result.BillID)
		require.NoError(t, err)
		require.Len(t, stored, 2)
		assert.Equal(t, "Gate repair", stored[0].Description)
	})

	t.Run("saving twice with assigned identities is idempotent", func(t *testing.T) {
		db := setupTestDB(t)
		store := NewGormBillStore(db)
		tenantID := createTenant(t, db)
		key := billing.NewAggregateKey(tenantID, 4, 2026)

		first, err := store.ReconcileWrite(ctx, key, sampleBill(),
			[]billing.ExpenseLine{{Description: "Gate repair", Amount: decimal.NewFromInt(1500), IncurredOn: incurred}},
			[]billing.PaymentLine{{Amount: decimal.NewFromInt(10000), Method: "CASH", PaidOn: incurred}})
		require.NoError(t, err)

		// Replay with the identities the store handed back
		second, err := store.ReconcileWrite(ctx, key, sampleBill(),
			[]billing.ExpenseLine{{ID: first.ExpenseIDs[0], Description: "Gate repair", Amount: decimal.NewFromInt(1500), IncurredOn: incurred}},
			[]billing.PaymentLine{{ID: first.PaymentIDs[0], Amount: decimal.NewFromInt(10000), Method: "CASH", PaidOn: incurred}})
		require.NoError(t, err)

		assert.Equal(t, first.BillID, second.BillID)
		assert.Equal(t, first.ExpenseIDs, second.ExpenseIDs)
		assert.Equal(t, first.PaymentIDs, second.PaymentIDs)

		var count int64
		require.NoError(t, db.Model(&models.BillExpenseModel{}).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("set difference deletes rows missing from the incoming list", func(t *testing.T) {
		db := setupTestDB(t)
		store := NewGormBillStore(db)
		tenantID := createTenant(t, db)
		key := billing.NewAggregateKey(tenantID, 4, 2026)

		first, err := store.ReconcileWrite(ctx, key, sampleBill(),
			[]billing.ExpenseLine{
				{Description: "e1", Amount: decimal.NewFromInt(100), IncurredOn: incurred},
				{Description: "e2", Amount: decimal.NewFromInt(200), IncurredOn: incurred},
			}, nil)
		require.NoError(t, err)
		e1, e2 := first.ExpenseIDs[0], first.ExpenseIDs[1]

		// Keep e1, drop e2, add unassigned e3
		second, err := store.ReconcileWrite(ctx, key, sampleBill(),
			[]billing.ExpenseLine{
				{ID: e1, Description: "e1", Amount: decimal.NewFromInt(100), IncurredOn: incurred},
				{Description: "e3", Amount: decimal.NewFromInt(300), IncurredOn: incurred},
			}, nil)
		require.NoError(t, err)

		require.Len(t, second.ExpenseIDs, 2)
		assert.Equal(t, e1, second.ExpenseIDs[0])
		assert.NotEqual(t, uuid.Nil, second.ExpenseIDs[1])

		var remaining []models.BillExpenseModel
		require.NoError(t, db.Find(&remaining).Error)
		require.Len(t, remaining, 2)
		for _, m := range remaining {
			assert.NotEqual(t, e2, m.ID, "e2 must be deleted from the store")
		}
	})

	t.Run("overwrites assigned row fields", func(t *testing.T) {
		db := setupTestDB(t)
		store := NewGormBillStore(db)
		tenantID := createTenant(t, db)
		key := billing.NewAggregateKey(tenantID, 4, 2026)

		first, err := store.ReconcileWrite(ctx, key, sampleBill(),
			[]billing.ExpenseLine{{Description: "Gate repair", Amount: decimal.NewFromInt(1500), IncurredOn: incurred}}, nil)
		require.NoError(t, err)

		_, err = store.ReconcileWrite(ctx, key, sampleBill(),
			[]billing.ExpenseLine{{ID: first.ExpenseIDs[0], Description: "Gate repair (revised)", Amount: decimal.NewFromInt(1800), IncurredOn: incurred}}, nil)
		require.NoError(t, err)

		stored, err := store.ReadExpenses(ctx, first.BillID)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, "Gate repair (revised)", stored[0].Description)
		assert.True(t, stored[0].Amount.Equal(decimal.NewFromInt(1800)))
	})

	t.Run("upsert overwrites the bill row for an existing period", func(t *testing.T) {
		db := setupTestDB(t)
		store := NewGormBillStore(db)
		tenantID := createTenant(t, db)
		key := billing.NewAggregateKey(tenantID, 4, 2026)

		first, err := store.ReconcileWrite(ctx, key, sampleBill(), nil, nil)
		require.NoError(t, err)

		revised := sampleBill()
		revised.RentAmount = decimal.NewFromInt(12500)
		second, err := store.ReconcileWrite(ctx, key, revised, nil, nil)
		require.NoError(t, err)

		assert.Equal(t, first.BillID, second.BillID, "identity is stable across upserts")

		var count int64
		require.NoError(t, db.Model(&models.BillModel{}).Count(&count).Error)
		assert.Equal(t, int64(1), count)

		bill, err := store.ReadBill(ctx, key)
		require.NoError(t, err)
		assert.True(t, bill.RentAmount.Equal(decimal.NewFromInt(12500)))
	})

	t.Run("rejects an unknown tenant without writing", func(t *testing.T) {
		db := setupTestDB(t)
		store := NewGormBillStore(db)
		key := billing.NewAggregateKey(uuid.New(), 4, 2026)

		_, err := store.ReconcileWrite(ctx, key, sampleBill(), nil, nil)
		assert.ErrorIs(t, err, shared.ErrNotFound)

		var count int64
		require.NoError(t, db.Model(&models.BillModel{}).Count(&count).Error)
		assert.Equal(t, int64(0), count)
	})
}

func TestGormBillStore_CombinedRead(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the full aggregate in one call", func(t *testing.T) {
		db := setupTestDB(t)
		store := NewGormBillStore(db)
		tenantID := createTenant(t, db)
		key := billing.NewAggregateKey(tenantID, 4, 2026)

		saved, err := store.ReconcileWrite(ctx, key, sampleBill(),
			[]billing.ExpenseLine{{Description: "Gate repair", Amount: decimal.NewFromInt(1500), IncurredOn: time.Now()}},
			[]billing.PaymentLine{{Amount: decimal.NewFromInt(10000), Method: "CASH", PaidOn: time.Now()}})
		require.NoError(t, err)

		result, err := store.CombinedRead(ctx, key)
		require.NoError(t, err)

		require.NotNil(t, result.Bill)
		assert.Equal(t, saved.BillID, result.Bill.ID)
		assert.Len(t, result.Expenses, 1)
		assert.Len(t, result.Payments, 1)
	})

	t.Run("carries forward december readings across the year boundary", func(t *testing.T) {
		db := setupTestDB(t)
		store := NewGormBillStore(db)
		tenantID := createTenant(t, db)

		december := sampleBill()
		december.ElectricityFinal = decimal.NewFromInt(600)
		december.MotorFinal = decimal.NewFromInt(250)
		_, err := store.ReconcileWrite(ctx, billing.NewAggregateKey(tenantID, 12, 2025), december, nil, nil)
		require.NoError(t, err)

		result, err := store.CombinedRead(ctx, billing.NewAggregateKey(tenantID, 1, 2026))
		require.NoError(t, err)

		assert.Nil(t, result.Bill, "january was never populated")
		assert.Empty(t, result.Expenses)
		assert.Empty(t, result.Payments)
		assert.True(t, result.PreviousReadings.ElectricityFinal.Equal(decimal.NewFromInt(600)))
		assert.True(t, result.PreviousReadings.MotorFinal.Equal(decimal.NewFromInt(250)))
	})

	t.Run("zero readings when no preceding period exists", func(t *testing.T) {
		db := setupTestDB(t)
		store := NewGormBillStore(db)
		tenantID := createTenant(t, db)

		result, err := store.CombinedRead(ctx, billing.NewAggregateKey(tenantID, 7, 2026))
		require.NoError(t, err)

		assert.Nil(t, result.Bill)
		assert.True(t, result.PreviousReadings.ElectricityFinal.IsZero())
		assert.True(t, result.PreviousReadings.MotorFinal.IsZero())
	})

	t.Run("missing tenant surfaces not found, not an empty aggregate", func(t *testing.T) {
		db := setupTestDB(t)
		store := NewGormBillStore(db)

		_, err := store.CombinedRead(ctx, billing.NewAggregateKey(uuid.New(), 7, 2026))
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("signals unsupported distinctly when disabled", func(t *testing.T) {
		db := setupTestDB(t)
		store := NewGormBillStore(db, WithoutCombinedRead())
		tenantID := createTenant(t, db)

		_, err := store.CombinedRead(ctx, billing.NewAggregateKey(tenantID, 7, 2026))
		assert.ErrorIs(t, err, billing.ErrCombinedReadUnsupported)
	})
}
