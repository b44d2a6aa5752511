// Package cache holds the read-through cache for stock levels. Entries are
// invalidated after every committed movement of their SKU.
package cache

import (
	"context"

	"github.com/lotledger/lotledger-backend/internal/stock/domain"
)

// StockLevelCache caches GetStockLevel results per SKU
type StockLevelCache interface {
	Get(ctx context.Context, skuID string) (*domain.StockLevel, bool, error)
	Set(ctx context.Context, level *domain.StockLevel) error
	Invalidate(ctx context.Context, skuID string) error
}

// Noop never hits
type Noop struct{}

func (Noop) Get(_ context.Context, _ string) (*domain.StockLevel, bool, error) {
	return nil, false, nil
}

func (Noop) Set(_ context.Context, _ *domain.StockLevel) error {
	return nil
}

func (Noop) Invalidate(_ context.Context, _ string) error {
	return nil
}
