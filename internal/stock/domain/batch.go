package domain

import "time"

// Batch is a dated lot of one SKU. Rows are never deleted; an emptied lot
// stays at quantity zero for audit.
type Batch struct {
	ID              string     `json:"id" db:"id"`
	SkuID           string     `json:"sku_id" db:"sku_id"`
	BatchNumber     string     `json:"batch_number,omitempty" db:"batch_number"`
	Quantity        int        `json:"quantity" db:"quantity"`
	ManufactureDate *time.Time `json:"manufacture_date,omitempty" db:"manufacture_date"`
	ExpiryDate      *time.Time `json:"expiry_date,omitempty" db:"-"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// WithExpiry fills ExpiryDate on every batch from the SKU's shelf life
func WithExpiry(sku Sku, batches []Batch) []Batch {
	for i := range batches {
		batches[i].ExpiryDate = sku.ExpiryFor(batches[i].ManufactureDate)
	}
	return batches
}

// IsExpired reports whether the batch expired strictly before asOf
func (b Batch) IsExpired(asOf time.Time) bool {
	return b.ExpiryDate != nil && b.ExpiryDate.Before(asOf)
}
