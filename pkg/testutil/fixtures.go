package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lotledger/lotledger-backend/internal/stock/domain"
)

// FixtureFactory creates test fixtures with sensible defaults
type FixtureFactory struct {
	sequence int
	base     time.Time
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{
		sequence: 0,
		base:     time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC),
	}
}

func (f *FixtureFactory) next() int {
	f.sequence++
	return f.sequence
}

// SkuMaster returns master data for a fresh SKU without limits
func (f *FixtureFactory) SkuMaster(opts ...func(*domain.SkuMaster)) domain.SkuMaster {
	m := domain.SkuMaster{
		ID: fmt.Sprintf("SKU-%04d", f.next()),
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// WithMaxStock sets the capacity of a SKU fixture
func WithMaxStock(qty int) func(*domain.SkuMaster) {
	return func(m *domain.SkuMaster) { m.MaxStockQty = qty }
}

// WithShelfLife sets the shelf life of a SKU fixture
func WithShelfLife(days int) func(*domain.SkuMaster) {
	return func(m *domain.SkuMaster) { m.ShelfLifeDays = days }
}

// WithReorderPoint sets the reorder point of a SKU fixture
func WithReorderPoint(qty int) func(*domain.SkuMaster) {
	return func(m *domain.SkuMaster) { m.ReorderPoint = qty }
}

// Batch returns an empty batch whose creation time is one minute after
// the previous fixture batch, so creation order follows call order
func (f *FixtureFactory) Batch(skuID string) *domain.Batch {
	n := f.next()
	return &domain.Batch{
		ID:          uuid.NewString(),
		SkuID:       skuID,
		BatchNumber: fmt.Sprintf("LOT-%04d", n),
		CreatedAt:   f.base.Add(time.Duration(n) * time.Minute),
	}
}

// Adjust builds an AdjustRequest acting as the test actor
func (f *FixtureFactory) Adjust(skuID, batchID string, kind domain.MovementKind, qty int, isAdd bool) domain.AdjustRequest {
	return domain.AdjustRequest{
		BatchID:   batchID,
		SkuID:     skuID,
		ChangeQty: qty,
		IsAdd:     isAdd,
		Kind:      kind,
		ActorID:   "test-actor",
	}
}

// Sale builds a Sale request tied to an order item
func (f *FixtureFactory) Sale(skuID, orderItemID string, qty int) domain.AdjustRequest {
	req := f.Adjust(skuID, "", domain.KindSale, qty, false)
	req.OrderItemID = PtrString(orderItemID)
	return req
}

// Return builds an order-item Return request
func (f *FixtureFactory) Return(skuID, orderItemID string, qty int) domain.AdjustRequest {
	req := f.Adjust(skuID, "", domain.KindReturn, qty, true)
	req.OrderItemID = PtrString(orderItemID)
	return req
}
