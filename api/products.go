package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pos_sales/internal/inventory"
)

type productsHandler struct {
	catalog *inventory.Service
	logger  *zap.Logger
}

// NewProductsHandler creates a new products handler.
func NewProductsHandler(catalog *inventory.Service, logger *zap.Logger) *productsHandler {
	return &productsHandler{
		catalog: catalog,
		logger:  logger,
	}
}

type putProductRequest struct {
	Code             string          `json:"code" binding:"required"`
	Name             string          `json:"name"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	StockOnHand      int             `json:"stock_on_hand"`
	ReorderThreshold int             `json:"reorder_threshold"`
}

func (h *productsHandler) handlePutProduct(ctx *gin.Context) {
	var req putProductRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	saved, err := h.catalog.SaveProduct(ctx.Request.Context(), inventory.Product{
		ID:               ctx.Param("id"),
		Code:             req.Code,
		Name:             req.Name,
		UnitPrice:        req.UnitPrice,
		StockOnHand:      req.StockOnHand,
		ReorderThreshold: req.ReorderThreshold,
	})
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, saved)
}

func (h *productsHandler) handleGetProduct(ctx *gin.Context) {
	p, err := h.catalog.FindProduct(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, p)
}

func (h *productsHandler) handleLowStock(ctx *gin.Context) {
	products, err := h.catalog.LowStock(ctx.Request.Context())
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"results": products, "metadata": gin.H{"count": len(products)}})
}

func (h *productsHandler) writeError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, inventory.ErrInvalidProduct):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, inventory.ErrProductNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, inventory.ErrDuplicateProductCode):
		ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("product request failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
