package billing

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/rentledger/backend/internal/domain/shared"
)

// AggregateKey identifies one monthly bill aggregate for a tenant.
// Two aggregates never share a key.
type AggregateKey struct {
	TenantID uuid.UUID `validate:"required"`
	Month    int       `validate:"min=1,max=12"`
	Year     int       `validate:"min=1970,max=9999"`
}

// NewAggregateKey creates a key for the given tenant and period
func NewAggregateKey(tenantID uuid.UUID, month, year int) AggregateKey {
	return AggregateKey{TenantID: tenantID, Month: month, Year: year}
}

// String returns a deterministic, collision-free cache key encoding
func (k AggregateKey) String() string {
	return fmt.Sprintf("bill:%s:%04d-%02d", k.TenantID, k.Year, k.Month)
}

// Previous returns the key for the immediately preceding period,
// rolling over to December of the previous year at the January boundary
func (k AggregateKey) Previous() AggregateKey {
	if k.Month == 1 {
		return AggregateKey{TenantID: k.TenantID, Month: 12, Year: k.Year - 1}
	}
	return AggregateKey{TenantID: k.TenantID, Month: k.Month - 1, Year: k.Year}
}

// Validate checks the key's identity triple
func (k AggregateKey) Validate() error {
	if err := validate.Struct(k); err != nil {
		return fmt.Errorf("%w: %s", shared.ErrInvalidInput, err.Error())
	}
	return nil
}

// Next returns the key for the immediately following period,
// rolling over to January of the next year at the December boundary
func (k AggregateKey) Next() AggregateKey {
	if k.Month == 12 {
		return AggregateKey{TenantID: k.TenantID, Month: 1, Year: k.Year + 1}
	}
	return AggregateKey{TenantID: k.TenantID, Month: k.Month + 1, Year: k.Year}
}
