package events

import (
	"context"

	"github.com/lotledger/lotledger-backend/internal/stock/domain"
	"github.com/lotledger/lotledger-backend/pkg/logger"
	"github.com/lotledger/lotledger-backend/pkg/messaging"
)

// Publisher is the transport the stock events go out on
type Publisher interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

// StockEventPublisher publishes stock ledger events. A nil publisher is
// valid and drops everything, so the service runs without a broker.
type StockEventPublisher struct {
	publisher Publisher
	logger    *logger.Logger
}

// NewStockEventPublisher creates a publisher on the inventory exchange
func NewStockEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*StockEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeInventoryEvents, "inventory-service", log)
	if err != nil {
		return nil, err
	}
	return New(publisher, log), nil
}

// New wraps any Publisher
func New(publisher Publisher, log *logger.Logger) *StockEventPublisher {
	return &StockEventPublisher{
		publisher: publisher,
		logger:    log,
	}
}

// PublishStockAdjusted publishes a committed movement
func (p *StockEventPublisher) PublishStockAdjusted(ctx context.Context, req domain.AdjustRequest, result *domain.AdjustResult) {
	if p == nil {
		return
	}

	movements := make([]messaging.BatchMovementData, 0, len(result.Movements))
	for _, m := range result.Movements {
		movements = append(movements, messaging.BatchMovementData{
			MovementID: m.MovementID,
			BatchID:    m.BatchID,
			Kind:       string(m.Kind),
			Direction:  string(m.Direction),
			ChangeQty:  m.ChangeQty,
			BeforeQty:  m.BeforeQty,
			AfterQty:   m.AfterQty,
		})
	}

	orderItemID := ""
	if req.OrderItemID != nil {
		orderItemID = *req.OrderItemID
	}

	data := messaging.StockAdjustedEvent{
		SkuID:                   result.SkuID,
		Kind:                    string(result.Kind),
		Outcome:                 string(result.Outcome),
		RequestedQty:            result.RequestedQty,
		AppliedQty:              result.AppliedQty,
		TotalStockAfter:         result.TotalStockAfter,
		RemainingUnfulfilledQty: result.RemainingUnfulfilledQty,
		ReturnedToOriginalQty:   result.ReturnedToOriginalQty,
		ExpiredQty:              result.ExpiredQty,
		OrderItemID:             orderItemID,
		ActorID:                 req.ActorID,
		Movements:               movements,
	}

	ctx = messaging.WithCorrelationID(ctx, result.CorrelationID)
	if err := p.publisher.Publish(ctx, messaging.EventStockAdjusted, data); err != nil {
		p.logger.Error().Err(err).Str("sku_id", result.SkuID).Msg("failed to publish stock adjusted event")
	}
}

// PublishStockLow publishes a low stock warning
func (p *StockEventPublisher) PublishStockLow(ctx context.Context, sku domain.Sku) {
	if p == nil {
		return
	}

	data := messaging.StockLowEvent{
		SkuID:          sku.ID,
		Quantity:       sku.Quantity,
		ReorderPoint:   sku.ReorderPoint,
		SafetyStockQty: sku.SafetyStockQty,
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockLow, data); err != nil {
		p.logger.Error().Err(err).Str("sku_id", sku.ID).Msg("failed to publish stock low event")
	}
}

// PublishBatchReceived publishes a newly created lot
func (p *StockEventPublisher) PublishBatchReceived(ctx context.Context, batch domain.Batch, receivedQty int) {
	if p == nil {
		return
	}

	data := messaging.BatchReceivedEvent{
		SkuID:           batch.SkuID,
		BatchID:         batch.ID,
		BatchNumber:     batch.BatchNumber,
		ReceivedQty:     receivedQty,
		ManufactureDate: batch.ManufactureDate,
		ExpiryDate:      batch.ExpiryDate,
	}

	if err := p.publisher.Publish(ctx, messaging.EventBatchReceived, data); err != nil {
		p.logger.Error().Err(err).Str("batch_id", batch.ID).Msg("failed to publish batch received event")
	}
}

// PublishBatchExpired publishes the result of sweeping one SKU
func (p *StockEventPublisher) PublishBatchExpired(ctx context.Context, skuID string, expiredQty, batches int) {
	if p == nil {
		return
	}

	data := messaging.BatchExpiredEvent{
		SkuID:      skuID,
		ExpiredQty: expiredQty,
		Batches:    batches,
	}

	if err := p.publisher.Publish(ctx, messaging.EventBatchExpired, data); err != nil {
		p.logger.Error().Err(err).Str("sku_id", skuID).Msg("failed to publish batch expired event")
	}
}
