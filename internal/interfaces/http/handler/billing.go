package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appbilling "github.com/rentledger/backend/internal/application/billing"
	"github.com/rentledger/backend/internal/domain/billing"
	"github.com/rentledger/backend/internal/interfaces/http/dto"
)

// BillSyncService is the application facade the handler drives
type BillSyncService interface {
	Display(ctx context.Context, key billing.AggregateKey) (*appbilling.DisplayResult, error)
	Save(ctx context.Context, key billing.AggregateKey, aggregate *billing.BillAggregate, token string) (*billing.ReconcileResult, error)
	Invalidate(key billing.AggregateKey)
}

// BillHandler serves the monthly bill aggregate endpoints
type BillHandler struct {
	BaseHandler
	service BillSyncService
	logger  *zap.Logger
}

// NewBillHandler creates a new BillHandler
func NewBillHandler(service BillSyncService, logger *zap.Logger) *BillHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BillHandler{service: service, logger: logger}
}

// RegisterRoutes registers the bill routes
func (h *BillHandler) RegisterRoutes(rg *gin.RouterGroup) {
	bills := rg.Group("/tenants/:tenantId/bills")
	{
		bills.GET("/:year/:month", h.GetBill)
		bills.PUT("/:year/:month", h.SaveBill)
		bills.DELETE("/:year/:month/cache", h.InvalidateCache)
	}
}

// GetBill returns the bill aggregate for one tenant and period.
// A month that was never populated returns a null bill with the previous
// period's carry-forward readings; stale cache entries are served with
// stale=true rather than blocking on a refetch.
func (h *BillHandler) GetBill(c *gin.Context) {
	var uri dto.BillPeriodURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.BadRequest(c, "Invalid tenant or period: "+err.Error())
		return
	}

	result, err := h.service.Display(c.Request.Context(), uri.Key())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, dto.NewAggregateResponse(result.Aggregate, result.Stale, result.FromCache))
}

// SaveBill persists the posted aggregate as one logical unit. An
// Idempotency-Key header protects against double submission; a repeated
// key yields 409 instead of a second write.
func (h *BillHandler) SaveBill(c *gin.Context) {
	var uri dto.BillPeriodURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.BadRequest(c, "Invalid tenant or period: "+err.Error())
		return
	}

	var req dto.SaveBillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Error(c, 400, dto.ErrCodeInvalidJSON, "Invalid request body: "+err.Error())
		return
	}

	token := c.GetHeader("Idempotency-Key")
	key := uri.Key()

	result, err := h.service.Save(c.Request.Context(), key, req.ToAggregate(key), token)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, dto.SaveBillResponse{
		BillID:     result.BillID,
		ExpenseIDs: result.ExpenseIDs,
		PaymentIDs: result.PaymentIDs,
	})
}

// InvalidateCache drops the cached aggregate for the period so the next
// read refetches ground truth
func (h *BillHandler) InvalidateCache(c *gin.Context) {
	var uri dto.BillPeriodURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.BadRequest(c, "Invalid tenant or period: "+err.Error())
		return
	}

	h.service.Invalidate(uri.Key())
	h.NoContent(c)
}
