package domain

import "time"

// MovementKind classifies a stock movement
type MovementKind string

const (
	KindPurchase MovementKind = "purchase"
	KindAdjust   MovementKind = "adjust"
	KindSale     MovementKind = "sale"
	KindReturn   MovementKind = "return"
	KindExpire   MovementKind = "expire"
)

// Valid reports whether k is a known kind
func (k MovementKind) Valid() bool {
	switch k {
	case KindPurchase, KindAdjust, KindSale, KindReturn, KindExpire:
		return true
	}
	return false
}

// Direction is the sign of a movement record
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Sign is +1 for in and -1 for out
func (d Direction) Sign() int {
	if d == DirectionOut {
		return -1
	}
	return 1
}

// MovementRecord is one immutable history line for one batch
type MovementRecord struct {
	Seq           int64        `json:"-" db:"seq"`
	ID            string       `json:"id" db:"id"`
	BatchID       string       `json:"batch_id" db:"batch_id"`
	SkuID         string       `json:"sku_id" db:"sku_id"`
	Kind          MovementKind `json:"kind" db:"kind"`
	Direction     Direction    `json:"direction" db:"direction"`
	ChangeQty     int          `json:"change_qty" db:"change_qty"`
	BeforeQty     int          `json:"before_qty" db:"before_qty"`
	AfterQty      int          `json:"after_qty" db:"after_qty"`
	ActorID       string       `json:"actor_id" db:"actor_id"`
	Remark        string       `json:"remark,omitempty" db:"remark"`
	OrderItemID   *string      `json:"order_item_id,omitempty" db:"order_item_id"`
	CorrelationID string       `json:"correlation_id" db:"correlation_id"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
}

// Consistent reports whether the record's quantities agree with its direction
func (m MovementRecord) Consistent() bool {
	return m.ChangeQty > 0 &&
		m.BeforeQty >= 0 &&
		m.AfterQty >= 0 &&
		m.AfterQty == m.BeforeQty+m.Direction.Sign()*m.ChangeQty
}

// Delta is the signed quantity change of the record
func (m MovementRecord) Delta() int {
	return m.Direction.Sign() * m.ChangeQty
}

// MovementFilter narrows a history query. Zero values do not filter.
type MovementFilter struct {
	SkuID         string
	BatchID       string
	Kind          MovementKind
	OrderItemID   string
	CorrelationID string
	Since         *time.Time
	Until         *time.Time
	Limit         int
	Offset        int
}

// DefaultMovementLimit and MaxMovementLimit bound a history page
const (
	DefaultMovementLimit = 50
	MaxMovementLimit     = 500
)

// Normalize clamps paging to sane bounds
func (f MovementFilter) Normalize() MovementFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultMovementLimit
	}
	if f.Limit > MaxMovementLimit {
		f.Limit = MaxMovementLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
