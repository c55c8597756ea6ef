package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pos_sales/internal/inventory"
	"pos_sales/internal/sales"
)

// Dependencies are the services the HTTP layer is wired to.
type Dependencies struct {
	Sales   *sales.Service
	Catalog *inventory.Service
	// Directory is optional; without it sales are returned without display names.
	Directory sales.Directory
	Logger    *zap.Logger
	// Ready reports whether the storage backend can serve requests.
	Ready func(ctx context.Context) error
}

// InitRoutes registers the sales, product and health endpoints on the given
// Gin engine.
func InitRoutes(e *gin.Engine, deps Dependencies) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	salesHandler := NewSalesHandler(deps.Sales, deps.Directory, logger)
	productsHandler := NewProductsHandler(deps.Catalog, logger)

	salesGroup := e.Group("/sales")
	salesGroup.POST("", RequireSeller(), salesHandler.handleCreateSale)
	salesGroup.PATCH("/:id", RequireSeller(), salesHandler.handlePatchSale)
	salesGroup.GET("/:id", salesHandler.handleGetSale)
	salesGroup.GET("", salesHandler.handleSalesInRange)

	products := e.Group("/products")
	products.GET("/low-stock", productsHandler.handleLowStock)
	products.GET("/:id", productsHandler.handleGetProduct)
	products.PUT("/:id", productsHandler.handlePutProduct)

	e.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
	e.GET("/health", healthHandler(deps.Ready, logger))
}

func healthHandler(ready func(ctx context.Context) error, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ready != nil {
			if err := ready(c.Request.Context()); err != nil {
				logger.Warn("readiness check failed", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
