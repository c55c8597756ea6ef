package inventory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Catalog is the product lookup/mutate collaborator backed by a storage layer.
type Catalog interface {
	FindProduct(ctx context.Context, id string) (Product, error)
	SaveProduct(ctx context.Context, p Product) error
	LowStock(ctx context.Context) ([]Product, error)
}

// Service exposes the catalog operations used to seed and adjust stock by hand.
type Service struct {
	catalog Catalog
	logger  *zap.Logger
}

// NewService creates a new Service.
func NewService(catalog Catalog, logger *zap.Logger) *Service {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}

	return &Service{
		catalog: catalog,
		logger:  logger,
	}
}

// FindProduct returns the product with the given ID.
func (s *Service) FindProduct(ctx context.Context, id string) (Product, error) {
	return s.catalog.FindProduct(ctx, id)
}

// SaveProduct creates or replaces a product after validating it.
func (s *Service) SaveProduct(ctx context.Context, p Product) (Product, error) {
	p.ID = strings.TrimSpace(p.ID)
	p.Code = strings.TrimSpace(p.Code)
	if err := p.Validate(); err != nil {
		return Product{}, err
	}
	p.UpdatedAt = time.Now().UTC()

	if err := s.catalog.SaveProduct(ctx, p); err != nil {
		s.logger.Error("failed to save product", zap.String("product_id", p.ID), zap.Error(err))
		return Product{}, fmt.Errorf("save product %s: %w", p.ID, err)
	}

	s.logger.Info("product saved",
		zap.String("product_id", p.ID),
		zap.String("code", p.Code),
		zap.Int("stock_on_hand", p.StockOnHand),
	)
	return p, nil
}

// LowStock lists products whose stock is at or below their reorder threshold.
func (s *Service) LowStock(ctx context.Context) ([]Product, error) {
	products, err := s.catalog.LowStock(ctx)
	if err != nil {
		return nil, fmt.Errorf("list low stock products: %w", err)
	}
	return products, nil
}
