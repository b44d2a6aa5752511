// Package service is the movement orchestrator of the stock ledger and its
// read side.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lotledger/lotledger-backend/internal/stock/allocator"
	"github.com/lotledger/lotledger-backend/internal/stock/cache"
	"github.com/lotledger/lotledger-backend/internal/stock/domain"
	"github.com/lotledger/lotledger-backend/internal/stock/events"
	"github.com/lotledger/lotledger-backend/internal/stock/repository"
	apperrors "github.com/lotledger/lotledger-backend/pkg/errors"
	"github.com/lotledger/lotledger-backend/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/lotledger/lotledger-backend/internal/stock/service"

// StockService handles stock movements and stock queries
type StockService struct {
	store     repository.Store
	cache     cache.StockLevelCache
	publisher *events.StockEventPublisher
	logger    *logger.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewStockService creates a new stock service. levelCache and publisher
// may be nil.
func NewStockService(
	store repository.Store,
	levelCache cache.StockLevelCache,
	publisher *events.StockEventPublisher,
	log *logger.Logger,
) *StockService {
	if levelCache == nil {
		levelCache = cache.Noop{}
	}
	return &StockService{
		store:     store,
		cache:     levelCache,
		publisher: publisher,
		logger:    log.WithComponent("stock-service"),
		tracer:    otel.Tracer(tracerName),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// AdjustStock applies one stock movement as a single atomic unit of work.
// Every outcome, including validation, business and system failures, is
// reported in the returned result; callers branch on Success and Code.
func (s *StockService) AdjustStock(ctx context.Context, req domain.AdjustRequest) *domain.AdjustResult {
	return s.execute(ctx, "stock.AdjustStock", req, workOptions{})
}

// SellOrderItem books the sale of an order item at most once. When the
// item already has a sale in its history, checked under the SKU lock,
// nothing is written and the result carries CodeAlreadySold.
func (s *StockService) SellOrderItem(ctx context.Context, req domain.AdjustRequest) *domain.AdjustResult {
	if req.Kind != domain.KindSale || !req.HasOrderItem() {
		result := newResult(req)
		return s.reject(ctx, result, domain.CodeValidation, "validation failed", map[string]string{
			"order_item_id": "an order item sale needs kind sale and an order_item_id",
		})
	}
	return s.execute(ctx, "stock.SellOrderItem", req, workOptions{soldOnce: true})
}

// ExpireBefore removes stock from the batches whose expiry date is before
// asOf, never from good batches. Which batches are expired is decided under
// the SKU lock; req.ChangeQty caps how much is removed. A SKU with nothing
// expired left is rejected with CodeNoConsumableStock.
func (s *StockService) ExpireBefore(ctx context.Context, req domain.AdjustRequest, asOf time.Time) *domain.AdjustResult {
	if req.Kind != domain.KindExpire {
		result := newResult(req)
		return s.reject(ctx, result, domain.CodeValidation, "validation failed", map[string]string{
			"kind": "only expire movements can be restricted to expired batches",
		})
	}
	return s.execute(ctx, "stock.ExpireBefore", req, workOptions{expiredBefore: &asOf})
}

// ReceiveBatch creates a lot and purchases stock into it in one unit of
// work. When the purchase is rejected the lot is not created.
func (s *StockService) ReceiveBatch(ctx context.Context, in domain.ReceiveBatchRequest) *domain.AdjustResult {
	batch := &domain.Batch{
		ID:              uuid.NewString(),
		SkuID:           in.SkuID,
		BatchNumber:     in.BatchNumber,
		ManufactureDate: in.ManufactureDate,
	}
	req := domain.AdjustRequest{
		BatchID:   batch.ID,
		SkuID:     in.SkuID,
		ChangeQty: in.Quantity,
		IsAdd:     true,
		Kind:      domain.KindPurchase,
		ActorID:   in.ActorID,
		Remark:    in.Remark,
	}

	if err := in.Validate(); err != nil {
		result := newResult(req)
		ve, _ := domain.AsValidation(err)
		return s.reject(ctx, result, domain.CodeValidation, "validation failed", ve.Fields)
	}

	result := s.execute(ctx, "stock.ReceiveBatch", req, workOptions{newBatch: batch})
	if !result.Success {
		result.BatchID = ""
		return result
	}
	batch.ExpiryDate = s.expiryOf(ctx, in.SkuID, batch.ManufactureDate)
	s.publisher.PublishBatchReceived(ctx, *batch, result.AppliedQty)
	return result
}

func newResult(req domain.AdjustRequest) *domain.AdjustResult {
	return &domain.AdjustResult{
		Outcome:      domain.OutcomeRejected,
		SkuID:        req.SkuID,
		Kind:         req.Kind,
		BatchID:      req.BatchID,
		RequestedQty: req.ChangeQty,
		Movements:    make([]domain.BatchMovement, 0),
	}
}

// execute runs req under the SKU lock
func (s *StockService) execute(ctx context.Context, spanName string, req domain.AdjustRequest, opts workOptions) *domain.AdjustResult {
	ctx, span := s.tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("stock.sku_id", req.SkuID),
		attribute.String("stock.kind", string(req.Kind)),
		attribute.Int("stock.change_qty", req.ChangeQty),
	))
	defer span.End()

	result := newResult(req)

	if err := req.Validate(); err != nil {
		ve, _ := domain.AsValidation(err)
		return s.reject(ctx, result, domain.CodeValidation, "validation failed", ve.Fields)
	}

	correlationID := uuid.NewString()
	var (
		work *unitOfWork
		sku  domain.Sku
	)

	err := s.store.WithSkuLock(ctx, req.SkuID, func(ctx context.Context, tx repository.Tx) error {
		if opts.newBatch != nil {
			if err := tx.CreateBatch(ctx, opts.newBatch); err != nil {
				return err
			}
		}
		work = newUnitOfWork(tx, req, correlationID, opts)
		if err := work.run(ctx); err != nil {
			return err
		}
		sku = tx.Sku()
		return nil
	})
	if err != nil {
		return s.fail(ctx, span, result, err)
	}

	result.Success = true
	result.Code = ""
	result.Message = work.message
	result.Outcome = work.outcome
	result.AppliedQty = work.applied
	result.TotalStockAfter = sku.Quantity
	result.Movements = work.movements
	result.RemainingUnfulfilledQty = work.remaining
	result.ReturnedToOriginalQty = work.returned
	result.ExpiredQty = work.expired
	result.CorrelationID = correlationID
	result.CompletedAt = s.now()

	span.SetAttributes(
		attribute.String("stock.outcome", string(result.Outcome)),
		attribute.Int("stock.applied_qty", result.AppliedQty),
	)

	s.logger.WithSku(req.SkuID).WithCorrelationID(correlationID).Info().
		Str("kind", string(req.Kind)).
		Str("outcome", string(result.Outcome)).
		Int("requested", result.RequestedQty).
		Int("applied", result.AppliedQty).
		Int("total_after", result.TotalStockAfter).
		Int("batches", len(result.Movements)).
		Msg("stock movement committed")

	s.afterCommit(ctx, req, result, sku)
	return result
}

// fail turns an error from the unit of work into a failed result
func (s *StockService) fail(ctx context.Context, span trace.Span, result *domain.AdjustResult, err error) *domain.AdjustResult {
	if be, ok := domain.AsBusiness(err); ok {
		return s.reject(ctx, result, be.Code, be.Message, nil)
	}

	switch {
	case errors.Is(err, repository.ErrSkuNotFound):
		return s.reject(ctx, result, domain.CodeSkuNotFound, "sku "+result.SkuID+" does not exist", nil)
	case errors.Is(err, repository.ErrBatchNotFound):
		return s.reject(ctx, result, domain.CodeBatchNotFound, "batch does not belong to sku "+result.SkuID, nil)
	case errors.Is(err, repository.ErrLockTimeout):
		return s.reject(ctx, result, domain.CodeStockBusy, "sku "+result.SkuID+" is busy, retry later", nil)
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "stock adjustment failed")
	s.logger.WithSku(result.SkuID).Error().Err(err).
		Str("kind", string(result.Kind)).
		Int("requested", result.RequestedQty).
		Msg("stock movement rolled back")

	result.Code = domain.CodeInternal
	result.Message = "stock adjustment failed; no changes were made"
	result.CompletedAt = s.now()
	return result
}

func (s *StockService) reject(ctx context.Context, result *domain.AdjustResult, code, message string, details map[string]string) *domain.AdjustResult {
	result.Success = false
	result.Code = code
	result.Message = message
	result.Details = details
	result.Outcome = domain.OutcomeRejected
	result.CompletedAt = s.now()

	trace.SpanFromContext(ctx).SetAttributes(attribute.String("stock.reject_code", code))
	s.logger.WithSku(result.SkuID).Warn().
		Str("kind", string(result.Kind)).
		Str("code", code).
		Int("requested", result.RequestedQty).
		Msg(message)
	return result
}

// afterCommit runs the side effects of a committed movement. None of them
// can undo it.
func (s *StockService) afterCommit(ctx context.Context, req domain.AdjustRequest, result *domain.AdjustResult, sku domain.Sku) {
	if err := s.cache.Invalidate(ctx, sku.ID); err != nil {
		s.logger.WithSku(sku.ID).Warn().Err(err).Msg("failed to invalidate cached stock level")
	}

	s.publisher.PublishStockAdjusted(ctx, req, result)

	if sku.IsLowStock(sku.Quantity) {
		s.publisher.PublishStockLow(ctx, sku)
	}
}

func (s *StockService) expiryOf(ctx context.Context, skuID string, manufactured *time.Time) *time.Time {
	sku, err := s.store.GetSku(ctx, skuID)
	if err != nil {
		return nil
	}
	return sku.ExpiryFor(manufactured)
}

// GetStockLevel returns a SKU with its batches in consumption order
func (s *StockService) GetStockLevel(ctx context.Context, skuID string) (*domain.StockLevel, error) {
	if level, ok, err := s.cache.Get(ctx, skuID); err != nil {
		s.logger.WithSku(skuID).Warn().Err(err).Msg("stock level cache read failed")
	} else if ok {
		return level, nil
	}

	sku, err := s.getSku(ctx, skuID)
	if err != nil {
		return nil, err
	}

	batches, err := s.store.ListBatches(ctx, skuID)
	if err != nil {
		return nil, err
	}

	level := &domain.StockLevel{
		Sku:      *sku,
		Batches:  allocator.Ordered(domain.WithExpiry(*sku, batches)),
		LowStock: sku.IsLowStock(sku.Quantity),
	}

	if err := s.cache.Set(ctx, level); err != nil {
		s.logger.WithSku(skuID).Warn().Err(err).Msg("stock level cache write failed")
	}
	return level, nil
}

// ListBatches returns every batch of a SKU, including empty ones, in
// consumption order
func (s *StockService) ListBatches(ctx context.Context, skuID string) ([]domain.Batch, error) {
	sku, err := s.getSku(ctx, skuID)
	if err != nil {
		return nil, err
	}

	batches, err := s.store.ListBatches(ctx, skuID)
	if err != nil {
		return nil, err
	}
	return allocator.Ordered(domain.WithExpiry(*sku, batches)), nil
}

// ListMovements returns a page of movement history, newest first
func (s *StockService) ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.MovementRecord, int64, error) {
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, 0, apperrors.Validation(map[string]string{"kind": "must be one of: purchase, adjust, sale, return, expire"})
	}
	return s.store.ListMovements(ctx, filter.Normalize())
}

// UpsertSku creates a SKU or replaces its master data. The on-hand
// quantity is never changed here.
func (s *StockService) UpsertSku(ctx context.Context, m domain.SkuMaster) (*domain.Sku, error) {
	if err := m.Validate(); err != nil {
		ve, _ := domain.AsValidation(err)
		return nil, apperrors.Validation(ve.Fields)
	}

	sku, err := s.store.UpsertSku(ctx, m)
	if err != nil {
		if errors.Is(err, repository.ErrLockTimeout) {
			return nil, apperrors.Conflict("sku " + m.ID + " is busy, retry later")
		}
		return nil, err
	}

	if err := s.cache.Invalidate(ctx, sku.ID); err != nil {
		s.logger.WithSku(sku.ID).Warn().Err(err).Msg("failed to invalidate cached stock level")
	}

	s.logger.WithSku(sku.ID).Info().
		Int("max_stock_qty", sku.MaxStockQty).
		Int("reorder_point", sku.ReorderPoint).
		Int("shelf_life_days", sku.ShelfLifeDays).
		Msg("sku master data updated")
	return sku, nil
}

func (s *StockService) getSku(ctx context.Context, skuID string) (*domain.Sku, error) {
	sku, err := s.store.GetSku(ctx, skuID)
	if errors.Is(err, repository.ErrSkuNotFound) {
		return nil, apperrors.NotFound("sku")
	}
	return sku, err
}

// Ping checks the backing store
func (s *StockService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
