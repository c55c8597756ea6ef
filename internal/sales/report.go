package sales

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrInvalidRange is returned when a range query has from >= to.
var ErrInvalidRange = errors.New("invalid date range")

const (
	DefaultTopN = 5
	MaxTopN     = 50
)

// SalesMetadata summarizes the sales of a range query.
type SalesMetadata struct {
	Count        int             `json:"count"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
}

// ProductSales is one product's contribution to a range of sales.
type ProductSales struct {
	ProductID   string          `json:"product_id"`
	ProductCode string          `json:"product_code"`
	Quantity    int             `json:"quantity"`
	Revenue     decimal.Decimal `json:"revenue"`
}

// RangeReport is the result of SalesInRange.
type RangeReport struct {
	From        time.Time      `json:"from"`
	To          time.Time      `json:"to"`
	Results     []*Sale        `json:"results"`
	Metadata    SalesMetadata  `json:"metadata"`
	TopProducts []ProductSales `json:"top_products"`
}

// SalesInRange reports the completed sales created in [from, to) together with
// the topN products by quantity sold.
func (s *Service) SalesInRange(ctx context.Context, from, to time.Time, topN int) (*RangeReport, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: from %s is not before to %s", ErrInvalidRange,
			from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	switch {
	case topN <= 0:
		topN = DefaultTopN
	case topN > MaxTopN:
		topN = MaxTopN
	}

	completed, err := s.storage.ListCompleted(ctx, from, to)
	if err != nil {
		s.logger.Error("failed to list completed sales", zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve sales: %w", err)
	}

	report := Summarize(completed, topN)
	report.From, report.To = from, to

	s.logger.Info("sales range query completed",
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int("results_count", report.Metadata.Count),
		zap.String("total_revenue", report.Metadata.TotalRevenue.String()),
	)
	return &report, nil
}

// Summarize totals sales and ranks products by quantity sold, then revenue,
// then product ID.
func Summarize(sales []*Sale, topN int) RangeReport {
	report := RangeReport{
		Results:     make([]*Sale, 0, len(sales)),
		Metadata:    SalesMetadata{TotalRevenue: decimal.Zero},
		TopProducts: make([]ProductSales, 0),
	}

	byProduct := make(map[string]*ProductSales)
	for _, sale := range sales {
		report.Results = append(report.Results, sale)
		report.Metadata.Count++
		report.Metadata.TotalRevenue = report.Metadata.TotalRevenue.Add(sale.GrandTotal)

		for _, l := range sale.Lines {
			ps, ok := byProduct[l.ProductID]
			if !ok {
				ps = &ProductSales{ProductID: l.ProductID, ProductCode: l.ProductCode, Revenue: decimal.Zero}
				byProduct[l.ProductID] = ps
			}
			ps.Quantity += l.Quantity
			ps.Revenue = ps.Revenue.Add(l.LineSubtotal)
		}
	}

	for _, ps := range byProduct {
		report.TopProducts = append(report.TopProducts, *ps)
	}
	sort.Slice(report.TopProducts, func(i, j int) bool {
		a, b := report.TopProducts[i], report.TopProducts[j]
		if a.Quantity != b.Quantity {
			return a.Quantity > b.Quantity
		}
		if c := a.Revenue.Cmp(b.Revenue); c != 0 {
			return c > 0
		}
		return a.ProductID < b.ProductID
	})
	if topN > 0 && len(report.TopProducts) > topN {
		report.TopProducts = report.TopProducts[:topN]
	}
	return report
}
