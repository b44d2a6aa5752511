package consumers

import (
	"context"
	"errors"
	"fmt"

	"github.com/lotledger/lotledger-backend/internal/stock/domain"
	"github.com/lotledger/lotledger-backend/pkg/actor"
	apperrors "github.com/lotledger/lotledger-backend/pkg/errors"
	"github.com/lotledger/lotledger-backend/pkg/logger"
	"github.com/lotledger/lotledger-backend/pkg/messaging"
)

// QueueName is the queue the stock ledger consumes order and catalog events from
const QueueName = "inventory-service.stock-events"

// ConsumerName identifies movements booked from events
const ConsumerName = "order-consumer"

// StockService is the part of the stock service the consumer drives
type StockService interface {
	AdjustStock(ctx context.Context, req domain.AdjustRequest) *domain.AdjustResult
	SellOrderItem(ctx context.Context, req domain.AdjustRequest) *domain.AdjustResult
	UpsertSku(ctx context.Context, m domain.SkuMaster) (*domain.Sku, error)
}

// Registrar is anything handlers can be registered on
type Registrar interface {
	RegisterHandler(eventType string, handler messaging.MessageHandler)
}

// OrderEventConsumer books order item sales and returns and keeps SKU
// master data in sync with the catalog
type OrderEventConsumer struct {
	consumer *messaging.Consumer
	stock    StockService
	logger   *logger.Logger
}

// NewOrderEventConsumer declares the queue, binds it to the order and
// catalog exchanges and registers the handlers
func NewOrderEventConsumer(rmq *messaging.RabbitMQ, stock StockService, log *logger.Logger) (*OrderEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, QueueName, log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeOrderEvents, "order.item.#"); err != nil {
		return nil, err
	}
	if err := consumer.Subscribe(messaging.ExchangeCatalogEvents, "catalog.sku.#"); err != nil {
		return nil, err
	}

	c := New(stock, log)
	c.consumer = consumer
	c.Register(consumer)
	return c, nil
}

// New creates the consumer handlers without a broker connection
func New(stock StockService, log *logger.Logger) *OrderEventConsumer {
	return &OrderEventConsumer{
		stock:  stock,
		logger: log.WithComponent(ConsumerName),
	}
}

// Register registers every handler on r
func (c *OrderEventConsumer) Register(r Registrar) {
	r.RegisterHandler(messaging.EventOrderItemSold, c.HandleItemSold)
	r.RegisterHandler(messaging.EventOrderItemReturned, c.HandleItemReturned)
	r.RegisterHandler(messaging.EventSkuUpserted, c.HandleSkuUpserted)
}

// Start starts consuming messages
func (c *OrderEventConsumer) Start(ctx context.Context) error {
	if c.consumer == nil {
		return errors.New("consumer is not connected to a broker")
	}
	return c.consumer.Start(ctx)
}

// HandleItemSold books the sale of an order item. An order item is sold
// once, so a redelivered event whose sale is already in the history is
// acknowledged without booking it again.
func (c *OrderEventConsumer) HandleItemSold(ctx context.Context, event *messaging.Event) error {
	var data messaging.OrderItemSoldEvent
	if err := event.UnmarshalData(&data); err != nil {
		return messaging.Permanent(fmt.Errorf("decode %s: %w", event.Type, err))
	}

	orderItemID := data.OrderItemID
	result := c.stock.SellOrderItem(ctx, domain.AdjustRequest{
		SkuID:       data.SkuID,
		ChangeQty:   data.Quantity,
		IsAdd:       false,
		Kind:        domain.KindSale,
		ActorID:     actorID(data.ActorID),
		Remark:      "order " + data.OrderID,
		OrderItemID: &orderItemID,
	})
	if result.Code == domain.CodeAlreadySold {
		c.logger.Info().
			Str("event_id", event.ID).
			Str("order_item_id", orderItemID).
			Msg("order item already sold, skipping duplicate event")
		return nil
	}
	return c.settle(event, orderItemID, result)
}

// HandleItemReturned books a return of an order item to the batches it
// was sold from
func (c *OrderEventConsumer) HandleItemReturned(ctx context.Context, event *messaging.Event) error {
	var data messaging.OrderItemReturnedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return messaging.Permanent(fmt.Errorf("decode %s: %w", event.Type, err))
	}

	remark := "return of order " + data.OrderID
	if data.Reason != "" {
		remark += ": " + data.Reason
	}

	orderItemID := data.OrderItemID
	result := c.stock.AdjustStock(ctx, domain.AdjustRequest{
		SkuID:       data.SkuID,
		ChangeQty:   data.Quantity,
		IsAdd:       true,
		Kind:        domain.KindReturn,
		ActorID:     actorID(data.ActorID),
		Remark:      remark,
		OrderItemID: &orderItemID,
	})
	return c.settle(event, orderItemID, result)
}

// HandleSkuUpserted syncs catalog master data
func (c *OrderEventConsumer) HandleSkuUpserted(ctx context.Context, event *messaging.Event) error {
	var data messaging.SkuUpsertedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return messaging.Permanent(fmt.Errorf("decode %s: %w", event.Type, err))
	}

	_, err := c.stock.UpsertSku(ctx, domain.SkuMaster{
		ID:             data.SkuID,
		MaxStockQty:    data.MaxStockQty,
		SafetyStockQty: data.SafetyStockQty,
		ReorderPoint:   data.ReorderPoint,
		ShelfLifeDays:  data.ShelfLifeDays,
	})
	if err == nil {
		return nil
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Code == "VALIDATION_ERROR" {
		return messaging.Permanent(err)
	}
	return err
}

// settle maps a movement result to the delivery outcome: rejections are
// final, busy SKUs and system failures are retried
func (c *OrderEventConsumer) settle(event *messaging.Event, orderItemID string, result *domain.AdjustResult) error {
	log := c.logger.WithSku(result.SkuID).WithCorrelationID(event.CorrelationID)

	if result.Success {
		log.Info().
			Str("event_id", event.ID).
			Str("order_item_id", orderItemID).
			Str("movement_correlation_id", result.CorrelationID).
			Str("outcome", string(result.Outcome)).
			Int("applied", result.AppliedQty).
			Msg("booked order event")
		return nil
	}

	err := fmt.Errorf("%s for order item %s: %s: %s", event.Type, orderItemID, result.Code, result.Message)
	switch {
	case result.Code == domain.CodeStockBusy, result.IsSystemFailure():
		return err
	default:
		return messaging.Permanent(err)
	}
}

func actorID(fromEvent string) string {
	if fromEvent != "" {
		return fromEvent
	}
	return actor.Service(ConsumerName).ID
}
