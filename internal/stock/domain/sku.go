package domain

import (
	"math"
	"time"
)

// UnlimitedHeadroom is reported for SKUs without a capacity limit
const UnlimitedHeadroom = math.MaxInt

// Sku is the aggregate root for stock. Quantity is the denormalized sum of
// the SKU's batch quantities and is only changed together with a batch.
type Sku struct {
	ID             string    `json:"id" db:"id"`
	Quantity       int       `json:"quantity" db:"quantity"`
	MaxStockQty    int       `json:"max_stock_qty" db:"max_stock_qty"`
	SafetyStockQty int       `json:"safety_stock_qty" db:"safety_stock_qty"`
	ReorderPoint   int       `json:"reorder_point" db:"reorder_point"`
	ShelfLifeDays  int       `json:"shelf_life_days" db:"shelf_life_days"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Headroom is MaxStockQty - Quantity, or UnlimitedHeadroom when
// MaxStockQty is 0. It is negative when capacity was lowered below the
// current stock.
func (s Sku) Headroom() int {
	if s.MaxStockQty == 0 {
		return UnlimitedHeadroom
	}
	return s.MaxStockQty - s.Quantity
}

// ExpiryFor derives a lot's expiry from its manufacture date. Nil when the
// lot has no manufacture date or the SKU has no shelf life.
func (s Sku) ExpiryFor(manufactureDate *time.Time) *time.Time {
	if manufactureDate == nil || s.ShelfLifeDays <= 0 {
		return nil
	}
	expiry := manufactureDate.AddDate(0, 0, s.ShelfLifeDays)
	return &expiry
}

// IsLowStock reports whether total is at or below the reorder point, or
// under the safety stock
func (s Sku) IsLowStock(total int) bool {
	if s.ReorderPoint > 0 && total <= s.ReorderPoint {
		return true
	}
	return total < s.SafetyStockQty
}

// SkuMaster is the catalog-owned part of a SKU
type SkuMaster struct {
	ID             string `json:"id" validate:"required,max=64"`
	MaxStockQty    int    `json:"max_stock_qty" validate:"gte=0"`
	SafetyStockQty int    `json:"safety_stock_qty" validate:"gte=0"`
	ReorderPoint   int    `json:"reorder_point" validate:"gte=0"`
	ShelfLifeDays  int    `json:"shelf_life_days" validate:"gte=0"`
}

// Validate checks the master data without a validator instance, for
// callers outside HTTP such as the catalog consumer
func (m SkuMaster) Validate() error {
	fields := map[string]string{}
	if m.ID == "" {
		fields["id"] = "this field is required"
	}
	if m.MaxStockQty < 0 {
		fields["max_stock_qty"] = "must not be negative"
	}
	if m.SafetyStockQty < 0 {
		fields["safety_stock_qty"] = "must not be negative"
	}
	if m.ReorderPoint < 0 {
		fields["reorder_point"] = "must not be negative"
	}
	if m.ShelfLifeDays < 0 {
		fields["shelf_life_days"] = "must not be negative"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// StockLevel is the read model served by GetStockLevel
type StockLevel struct {
	Sku      Sku     `json:"sku"`
	Batches  []Batch `json:"batches"`
	LowStock bool    `json:"low_stock"`
}
