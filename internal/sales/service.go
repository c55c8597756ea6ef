package sales

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"pos_sales/internal/inventory"
)

// ErrInvalidStatus is returned for an unrecognized status value.
var ErrInvalidStatus = errors.New("invalid status value")

// ErrInvalidSale is returned when a create request is malformed.
var ErrInvalidSale = errors.New("invalid sale request")

// MaxLineQuantity is the largest quantity one line may carry after merging.
const MaxLineQuantity = math.MaxInt32

// RetryPolicy bounds how often a scope is re-run after ErrTransient.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is used when NewService gets no WithRetryPolicy option.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      3,
	InitialInterval: 20 * time.Millisecond,
	MaxInterval:     500 * time.Millisecond,
}

// Service provides the sale transaction engine on top of a Storage backend.
type Service struct {
	storage Storage
	logger  *zap.Logger
	retry   RetryPolicy
	now     func() time.Time
	tracer  trace.Tracer
	metrics *metrics
}

// Option configures a Service.
type Option func(*Service)

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Service) { s.retry = p }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new Service.
func NewService(storage Storage, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}

	s := &Service{
		storage: storage,
		logger:  logger,
		retry:   DefaultRetryPolicy,
		now:     time.Now,
		tracer:  otel.Tracer("pos_sales/sales"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics = newMetrics(logger)
	return s
}

// LineInput is one requested cart line.
type LineInput struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// CreateSaleInput is a proposed sale. SellerRef comes from the caller identity,
// never from the request body.
type CreateSaleInput struct {
	Code          string
	CustomerRef   *CustomerRef
	SellerRef     UserRef
	Lines         []LineInput
	PaymentMethod PaymentMethod
	// Status is the initial status; empty means completed.
	Status Status
}

// normalize validates the request and merges repeated products into one line.
func (in CreateSaleInput) normalize() (CreateSaleInput, error) {
	in.Code = strings.TrimSpace(in.Code)
	if in.SellerRef == "" {
		return in, fmt.Errorf("%w: seller is required", ErrInvalidSale)
	}
	if len(in.Lines) == 0 {
		return in, fmt.Errorf("%w: sale must contain at least one line", ErrInvalidSale)
	}
	if !in.PaymentMethod.valid() {
		return in, fmt.Errorf("%w: unknown payment method '%s'", ErrInvalidSale, in.PaymentMethod)
	}
	switch in.Status {
	case "":
		in.Status = StatusCompleted
	case StatusCompleted, StatusPending:
	default:
		return in, fmt.Errorf("%w: initial status must be completed or pending", ErrInvalidSale)
	}
	if in.CustomerRef != nil && strings.TrimSpace(string(*in.CustomerRef)) == "" {
		in.CustomerRef = nil
	}

	merged := make([]LineInput, 0, len(in.Lines))
	index := make(map[string]int, len(in.Lines))
	for i, l := range in.Lines {
		if l.ProductID == "" {
			return in, fmt.Errorf("%w: product_id is required in lines[%d]", ErrInvalidSale, i)
		}
		if l.Quantity < 1 {
			return in, fmt.Errorf("%w: quantity must be > 0 in lines[%d]", ErrInvalidSale, i)
		}
		if l.Quantity > MaxLineQuantity {
			return in, fmt.Errorf("%w: quantity exceeds %d in lines[%d]", ErrInvalidSale, MaxLineQuantity, i)
		}
		if j, ok := index[l.ProductID]; ok {
			if merged[j].Quantity > MaxLineQuantity-l.Quantity {
				return in, fmt.Errorf("%w: total quantity of %s exceeds %d", ErrInvalidSale, l.ProductID, MaxLineQuantity)
			}
			merged[j].Quantity += l.Quantity
			continue
		}
		index[l.ProductID] = len(merged)
		merged = append(merged, l)
	}
	in.Lines = merged
	return in, nil
}

// CreateSale validates availability, reserves stock for every line and records
// the sale in one atomic scope. Nothing is changed when it returns an error.
func (s *Service) CreateSale(ctx context.Context, in CreateSaleInput) (*Sale, error) {
	ctx, span := s.tracer.Start(ctx, "sales.CreateSale")
	defer span.End()

	in, err := in.normalize()
	if err != nil {
		return nil, s.fail(ctx, span, "create_sale", err)
	}
	if in.Code == "" {
		in.Code = generateCode()
	}
	span.SetAttributes(attribute.String("sale.code", in.Code), attribute.Int("sale.lines", len(in.Lines)))

	var created *Sale
	err = s.runTx(ctx, "create_sale", func(ctx context.Context, tx Tx) error {
		created = nil

		exists, err := tx.SaleCodeExists(ctx, in.Code)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrDuplicateCode, in.Code)
		}

		ids := make([]string, 0, len(in.Lines))
		for _, l := range in.Lines {
			ids = append(ids, l.ProductID)
		}
		products, err := tx.LockProducts(ctx, ids)
		if err != nil {
			return err
		}
		for _, l := range in.Lines {
			if p := products[l.ProductID]; p.StockOnHand < l.Quantity {
				return &InsufficientStockError{ProductID: p.ID, Available: p.StockOnHand, Requested: l.Quantity}
			}
		}

		now := s.now().UTC()
		sale := &Sale{
			ID:            uuid.NewString(),
			Code:          in.Code,
			CustomerRef:   in.CustomerRef,
			SellerRef:     in.SellerRef,
			Lines:         make([]Line, 0, len(in.Lines)),
			GrandTotal:    decimal.Zero,
			PaymentMethod: in.PaymentMethod,
			Status:        in.Status,
			CreatedAt:     now,
			UpdatedAt:     now,
			Version:       1,
		}
		for _, l := range in.Lines {
			p := products[l.ProductID]
			if err := p.Reserve(l.Quantity); err != nil {
				return err
			}
			if err := tx.SaveStock(ctx, p); err != nil {
				return err
			}
			sale.Lines = append(sale.Lines, priceLine(p, l.Quantity))
			sale.GrandTotal = sale.GrandTotal.Add(sale.Lines[len(sale.Lines)-1].LineSubtotal)
		}
		if err := sale.CheckTotals(); err != nil {
			return err
		}

		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}
		created = sale
		return nil
	})
	if err != nil {
		s.logger.Warn("sale not created",
			zap.String("code", in.Code),
			zap.String("seller_ref", string(in.SellerRef)),
			zap.Error(err),
		)
		return nil, s.fail(ctx, span, "create_sale", err)
	}

	s.metrics.created.Add(ctx, 1, metricAttrs("status", string(created.Status)))
	s.logger.Info("sale created",
		zap.String("sale_id", created.ID),
		zap.String("code", created.Code),
		zap.String("status", string(created.Status)),
		zap.String("grand_total", created.GrandTotal.String()),
		zap.Int("lines", len(created.Lines)),
	)
	return created, nil
}

func priceLine(p *inventory.Product, quantity int) Line {
	return Line{
		ProductID:       p.ID,
		ProductCode:     p.Code,
		Quantity:        quantity,
		UnitPriceAtSale: p.UnitPrice,
		LineSubtotal:    p.UnitPrice.Mul(decimal.NewFromInt(int64(quantity))),
	}
}

// ChangeSaleStatus moves a sale to target, applying the inventory effect of the
// transition in the same atomic scope as the status write.
func (s *Service) ChangeSaleStatus(ctx context.Context, saleID, target string) (*Sale, error) {
	ctx, span := s.tracer.Start(ctx, "sales.ChangeSaleStatus",
		trace.WithAttributes(attribute.String("sale.id", saleID), attribute.String("sale.target_status", target)))
	defer span.End()

	to, err := ParseStatus(target)
	if err != nil {
		return nil, s.fail(ctx, span, "change_status", err)
	}

	var (
		updated *Sale
		from    Status
	)
	err = s.runTx(ctx, "change_status", func(ctx context.Context, tx Tx) error {
		updated = nil

		sale, err := tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		from = sale.Status

		apply, err := transitionFor(sale.Status, to)
		if err != nil {
			return err
		}
		if apply == nil {
			updated = sale
			return nil
		}
		if err := apply(ctx, tx, sale); err != nil {
			return err
		}

		sale.Status = to
		sale.UpdatedAt = s.now().UTC()
		sale.Version++
		if err := tx.UpdateSaleStatus(ctx, sale); err != nil {
			return err
		}
		updated = sale
		return nil
	})
	if err != nil {
		s.logger.Warn("sale status not changed",
			zap.String("sale_id", saleID),
			zap.String("target", target),
			zap.Error(err),
		)
		return nil, s.fail(ctx, span, "change_status", err)
	}

	if from == to {
		s.logger.Debug("sale status unchanged", zap.String("sale_id", saleID), zap.String("status", string(to)))
		return updated, nil
	}
	s.metrics.transitions.Add(ctx, 1, metricAttrs("from", string(from), "to", string(to)))
	s.logger.Info("sale status changed",
		zap.String("sale_id", updated.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("version", updated.Version),
	)
	return updated, nil
}

// GetSale returns the sale with the given ID.
func (s *Service) GetSale(ctx context.Context, saleID string) (*Sale, error) {
	sale, err := s.storage.Read(ctx, saleID)
	if err != nil {
		return nil, err
	}
	return sale, nil
}

// GetSaleByCode returns the sale with the given code.
func (s *Service) GetSaleByCode(ctx context.Context, code string) (*Sale, error) {
	return s.storage.ReadByCode(ctx, code)
}

// runTx runs fn in a storage scope, re-running the whole scope with
// exponential backoff while it fails with ErrTransient.
func (s *Service) runTx(ctx context.Context, op string, fn func(ctx context.Context, tx Tx) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.retry.InitialInterval
	eb.MaxInterval = s.retry.MaxInterval
	eb.MaxElapsedTime = 0

	retries := s.retry.MaxRetries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := s.storage.WithinTx(ctx, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrTransient) && ctx.Err() == nil {
			s.metrics.retries.Add(ctx, 1, metricAttrs("op", op))
			s.logger.Warn("transient storage failure, retrying scope",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

func (s *Service) fail(ctx context.Context, span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.metrics.failed.Add(ctx, 1, metricAttrs("op", op, "reason", reason(err)))
	return err
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidSale):
		return "invalid"
	case errors.Is(err, ErrDuplicateCode):
		return "duplicate_code"
	case errors.Is(err, ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrSaleNotFound):
		return "sale_not_found"
	case errors.Is(err, ErrInvalidStatus):
		return "invalid_status"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "internal"
}

func generateCode() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "S-" + strings.ToUpper(id[:12])
}
