package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pos_sales/internal/authctx"
	"pos_sales/internal/observability"
	"pos_sales/internal/sales"
)

// salesHandler holds the sales service and implements HTTP handlers for sales operations.
type salesHandler struct {
	salesService *sales.Service
	directory    sales.Directory
	logger       *zap.Logger
}

// NewSalesHandler creates a new sales handler.
func NewSalesHandler(salesService *sales.Service, directory sales.Directory, logger *zap.Logger) *salesHandler {
	return &salesHandler{
		salesService: salesService,
		directory:    directory,
		logger:       logger,
	}
}

type createSaleRequest struct {
	Code          string            `json:"code"`
	CustomerRef   *string           `json:"customer_ref"`
	PaymentMethod string            `json:"payment_method" binding:"required"`
	Status        string            `json:"status"`
	Lines         []sales.LineInput `json:"lines" binding:"required"`
}

// handleCreateSale handles the POST /sales endpoint.
func (h *salesHandler) handleCreateSale(ctx *gin.Context) {
	var req createSaleRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("failed to bind JSON request", zap.Error(err))
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	seller, _ := authctx.SellerFromContext(ctx.Request.Context())
	in := sales.CreateSaleInput{
		Code:          req.Code,
		SellerRef:     sales.UserRef(seller),
		Lines:         req.Lines,
		PaymentMethod: sales.PaymentMethod(req.PaymentMethod),
		Status:        sales.Status(req.Status),
	}
	if req.CustomerRef != nil {
		ref := sales.CustomerRef(*req.CustomerRef)
		in.CustomerRef = &ref
	}

	sale, err := h.salesService.CreateSale(ctx.Request.Context(), in)
	if err != nil {
		h.writeError(ctx, "failed to create sale", err)
		return
	}

	ctx.JSON(http.StatusCreated, sale)
}

// handlePatchSale handles the PATCH /sales/:id endpoint.
func (h *salesHandler) handlePatchSale(ctx *gin.Context) {
	saleID := ctx.Param("id")
	var req struct {
		Status string `json:"status"`
	}

	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	updated, err := h.salesService.ChangeSaleStatus(ctx.Request.Context(), saleID, req.Status)
	if err != nil {
		h.writeError(ctx, "failed to change sale status", err)
		return
	}

	ctx.JSON(http.StatusOK, updated)
}

// saleView is a sale with the display names the directory could resolve.
type saleView struct {
	*sales.Sale
	Customer *sales.Party `json:"customer,omitempty"`
	Seller   *sales.Party `json:"seller,omitempty"`
}

// handleGetSale handles the GET /sales/:id endpoint.
func (h *salesHandler) handleGetSale(ctx *gin.Context) {
	sale, err := h.salesService.GetSale(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		h.writeError(ctx, "failed to get sale", err)
		return
	}

	ctx.JSON(http.StatusOK, h.describe(ctx, sale))
}

func (h *salesHandler) describe(ctx *gin.Context, sale *sales.Sale) saleView {
	view := saleView{Sale: sale}
	if h.directory == nil {
		return view
	}

	log := observability.L(ctx.Request.Context(), h.logger)
	if seller, err := h.directory.User(ctx.Request.Context(), sale.SellerRef); err == nil {
		view.Seller = &seller
	} else {
		log.Debug("seller not resolved", zap.String("seller_ref", string(sale.SellerRef)), zap.Error(err))
	}
	if sale.CustomerRef != nil {
		if customer, err := h.directory.Customer(ctx.Request.Context(), *sale.CustomerRef); err == nil {
			view.Customer = &customer
		} else {
			log.Debug("customer not resolved", zap.String("customer_ref", string(*sale.CustomerRef)), zap.Error(err))
		}
	}
	return view
}

// handleSalesInRange handles GET /sales?from=&to=&top=.
func (h *salesHandler) handleSalesInRange(ctx *gin.Context) {
	from, err := parseBound(ctx.Query("from"), false)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'from': " + err.Error()})
		return
	}
	to, err := parseBound(ctx.Query("to"), true)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'to': " + err.Error()})
		return
	}
	top := 0
	if raw := ctx.Query("top"); raw != "" {
		if top, err = strconv.Atoi(raw); err != nil || top < 1 {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'top': must be a positive integer"})
			return
		}
	}

	report, err := h.salesService.SalesInRange(ctx.Request.Context(), from, to, top)
	if err != nil {
		h.writeError(ctx, "failed to query sales", err)
		return
	}

	ctx.JSON(http.StatusOK, report)
}

const dateOnly = "2006-01-02"

// parseBound accepts RFC3339 or a bare date. A bare date used as the upper
// bound covers that whole day.
func parseBound(raw string, upper bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New("parameter is required")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateOnly, raw)
	if err != nil {
		return time.Time{}, errors.New("expected RFC3339 timestamp or YYYY-MM-DD date")
	}
	if upper {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}

// writeError maps engine errors onto HTTP statuses.
func (h *salesHandler) writeError(ctx *gin.Context, msg string, err error) {
	log := observability.L(ctx.Request.Context(), h.logger)

	var shortage *sales.InsufficientStockError
	switch {
	case errors.As(err, &shortage):
		log.Info(msg, zap.Error(err))
		ctx.JSON(http.StatusConflict, gin.H{
			"error":      "insufficient stock",
			"product_id": shortage.ProductID,
			"available":  shortage.Available,
			"requested":  shortage.Requested,
		})
	case errors.Is(err, sales.ErrInvalidSale),
		errors.Is(err, sales.ErrInvalidStatus),
		errors.Is(err, sales.ErrInvalidRange):
		log.Info(msg, zap.Error(err))
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, sales.ErrProductNotFound),
		errors.Is(err, sales.ErrSaleNotFound):
		log.Info(msg, zap.Error(err))
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, sales.ErrDuplicateCode),
		errors.Is(err, sales.ErrInvalidTransition):
		log.Info(msg, zap.Error(err))
		ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, sales.ErrTransient),
		errors.Is(err, context.DeadlineExceeded):
		log.Warn(msg, zap.Error(err))
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage busy, retry later"})
	default:
		log.Error(msg, zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
