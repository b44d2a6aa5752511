package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Events published by the stock ledger
const (
	EventStockAdjusted = "inventory.stock.adjusted"
	EventStockLow      = "inventory.stock.low"
	EventBatchReceived = "inventory.batch.received"
	EventBatchExpired  = "inventory.batch.expired"
)

// Events consumed from collaborating services
const (
	EventOrderItemSold     = "order.item.sold"
	EventOrderItemReturned = "order.item.returned"
	EventSkuUpserted       = "catalog.sku.upserted"
)

// Exchange names
const (
	ExchangeInventoryEvents = "inventory.events"
	ExchangeOrderEvents     = "order.events"
	ExchangeCatalogEvents   = "catalog.events"
	ExchangeDeadLetter      = "dlx.events"
)

// Event is the envelope shared by every service on the bus
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Outbound payloads

// BatchMovementData is one per-batch line of a stock movement
type BatchMovementData struct {
	MovementID string `json:"movement_id"`
	BatchID    string `json:"batch_id"`
	Kind       string `json:"kind"`
	Direction  string `json:"direction"`
	ChangeQty  int    `json:"change_qty"`
	BeforeQty  int    `json:"before_qty"`
	AfterQty   int    `json:"after_qty"`
}

// StockAdjustedEvent is published after every committed movement
type StockAdjustedEvent struct {
	SkuID                   string              `json:"sku_id"`
	Kind                    string              `json:"kind"`
	Outcome                 string              `json:"outcome"`
	RequestedQty            int                 `json:"requested_qty"`
	AppliedQty              int                 `json:"applied_qty"`
	TotalStockAfter         int                 `json:"total_stock_after"`
	RemainingUnfulfilledQty int                 `json:"remaining_unfulfilled_qty"`
	ReturnedToOriginalQty   int                 `json:"returned_to_original_qty"`
	ExpiredQty              int                 `json:"expired_qty"`
	OrderItemID             string              `json:"order_item_id,omitempty"`
	ActorID                 string              `json:"actor_id"`
	Movements               []BatchMovementData `json:"movements"`
}

// StockLowEvent is published when a movement leaves a SKU at or below its
// reorder point, or under its safety stock
type StockLowEvent struct {
	SkuID          string `json:"sku_id"`
	Quantity       int    `json:"quantity"`
	ReorderPoint   int    `json:"reorder_point"`
	SafetyStockQty int    `json:"safety_stock_qty"`
}

// BatchReceivedEvent is published when a new lot is created
type BatchReceivedEvent struct {
	SkuID           string     `json:"sku_id"`
	BatchID         string     `json:"batch_id"`
	BatchNumber     string     `json:"batch_number,omitempty"`
	ReceivedQty     int        `json:"received_qty"`
	ManufactureDate *time.Time `json:"manufacture_date,omitempty"`
	ExpiryDate      *time.Time `json:"expiry_date,omitempty"`
}

// BatchExpiredEvent is published by the expiry sweep for every SKU it scrapped
type BatchExpiredEvent struct {
	SkuID      string `json:"sku_id"`
	ExpiredQty int    `json:"expired_qty"`
	Batches    int    `json:"batches"`
}

// Inbound payloads

// OrderItemSoldEvent is published by the order service at checkout
type OrderItemSoldEvent struct {
	OrderID     string `json:"order_id"`
	OrderItemID string `json:"order_item_id"`
	SkuID       string `json:"sku_id"`
	Quantity    int    `json:"quantity"`
	ActorID     string `json:"actor_id,omitempty"`
}

// OrderItemReturnedEvent is published by the RMA workflow
type OrderItemReturnedEvent struct {
	OrderID     string `json:"order_id"`
	OrderItemID string `json:"order_item_id"`
	SkuID       string `json:"sku_id"`
	Quantity    int    `json:"quantity"`
	Reason      string `json:"reason,omitempty"`
	ActorID     string `json:"actor_id,omitempty"`
}

// SkuUpsertedEvent carries catalog master data relevant to stock
type SkuUpsertedEvent struct {
	SkuID          string `json:"sku_id"`
	MaxStockQty    int    `json:"max_stock_qty"`
	SafetyStockQty int    `json:"safety_stock_qty"`
	ReorderPoint   int    `json:"reorder_point"`
	ShelfLifeDays  int    `json:"shelf_life_days"`
}
