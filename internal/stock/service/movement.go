package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lotledger/lotledger-backend/internal/stock/allocator"
	"github.com/lotledger/lotledger-backend/internal/stock/domain"
	"github.com/lotledger/lotledger-backend/internal/stock/repository"
)

// workOptions narrow what a unit of work may do beyond its request
type workOptions struct {
	// newBatch is created in the same transaction before the movement
	newBatch *domain.Batch
	// expiredBefore restricts a deduction to batches expiring before it
	expiredBefore *time.Time
	// soldOnce rejects a sale whose order item was already sold
	soldOnce bool
}

// unitOfWork applies one AdjustRequest inside a locked transaction and
// collects what it wrote. Nothing it records is visible to the caller
// unless the transaction commits.
type unitOfWork struct {
	tx            repository.Tx
	req           domain.AdjustRequest
	correlationID string
	opts          workOptions

	movements []domain.BatchMovement
	applied   int
	remaining int
	returned  int
	expired   int
	outcome   domain.Outcome
	message   string
}

func newUnitOfWork(tx repository.Tx, req domain.AdjustRequest, correlationID string, opts workOptions) *unitOfWork {
	return &unitOfWork{
		tx:            tx,
		req:           req,
		correlationID: correlationID,
		opts:          opts,
		movements:     make([]domain.BatchMovement, 0),
	}
}

func (u *unitOfWork) run(ctx context.Context) error {
	switch u.req.Path() {
	case domain.PathAdd:
		return u.add(ctx)
	case domain.PathDeduct:
		return u.deduct(ctx)
	case domain.PathReturn:
		return u.returnStock(ctx)
	}
	return fmt.Errorf("no path for %s movement", u.req.Kind)
}

// lockBatches locks the SKU's batches and derives their expiry
func (u *unitOfWork) lockBatches(ctx context.Context) ([]domain.Batch, error) {
	batches, err := u.tx.LockBatches(ctx)
	if err != nil {
		return nil, err
	}
	return domain.WithExpiry(u.tx.Sku(), batches), nil
}

func findBatch(batches []domain.Batch, id string) (domain.Batch, bool) {
	for _, b := range batches {
		if b.ID == id {
			return b, true
		}
	}
	return domain.Batch{}, false
}

// add books Purchase and Adjust+ into the caller's batch, clamped to the
// SKU's headroom
func (u *unitOfWork) add(ctx context.Context) error {
	batches, err := u.lockBatches(ctx)
	if err != nil {
		return err
	}
	if _, ok := findBatch(batches, u.req.BatchID); !ok {
		return domain.Reject(domain.CodeBatchNotFound, "batch %s does not belong to sku %s", u.req.BatchID, u.req.SkuID)
	}

	sku := u.tx.Sku()
	addition := allocator.Add(sku.Headroom(), u.req.ChangeQty)
	if addition.Outcome == domain.OutcomeRejected {
		return domain.Reject(domain.CodeNoHeadroom, "sku %s is at capacity (%d of %d)", sku.ID, sku.Quantity, sku.MaxStockQty)
	}

	if err := u.book(ctx, u.req.BatchID, u.req.Kind, domain.DirectionIn, addition.Applied); err != nil {
		return err
	}

	u.applied = addition.Applied
	u.remaining = addition.Remaining
	u.outcome = addition.Outcome
	if addition.Remaining > 0 {
		u.message = fmt.Sprintf("added %d of %d units; %d exceed capacity", addition.Applied, addition.Requested, addition.Remaining)
	} else {
		u.message = fmt.Sprintf("added %d units", addition.Applied)
	}
	return nil
}

// deduct books Sale, Adjust- and Expire across every batch in FIFO order.
// Sale is all-or-nothing; the others commit what stock allows.
func (u *unitOfWork) deduct(ctx context.Context) error {
	batches, err := u.lockBatches(ctx)
	if err != nil {
		return err
	}

	if u.opts.soldOnce {
		if err := u.checkNotSold(ctx); err != nil {
			return err
		}
	}
	if u.opts.expiredBefore != nil {
		batches = allocator.ExpiredBefore(batches, *u.opts.expiredBefore)
	}

	plan := allocator.Deduct(batches, u.req.ChangeQty)
	if plan.Available == 0 {
		return domain.Reject(domain.CodeNoConsumableStock, "sku %s has no consumable stock for %s", u.req.SkuID, u.req.Kind)
	}
	if u.req.Kind == domain.KindSale && plan.Remaining > 0 {
		return domain.Reject(domain.CodeInsufficientStock, "requested %d units of sku %s, only %d available", plan.Requested, u.req.SkuID, plan.Available)
	}

	for _, line := range plan.Lines {
		if err := u.book(ctx, line.BatchID, u.req.Kind, domain.DirectionOut, line.Qty); err != nil {
			return err
		}
	}

	u.applied = plan.Applied
	u.remaining = plan.Remaining
	u.outcome = plan.Outcome()
	if u.req.Kind == domain.KindExpire {
		u.expired = plan.Applied
	}
	if plan.Remaining > 0 {
		u.message = fmt.Sprintf("removed %d of %d units; %d could not be covered", plan.Applied, plan.Requested, plan.Remaining)
	} else {
		u.message = fmt.Sprintf("removed %d units from %d batches", plan.Applied, len(plan.Lines))
	}
	return nil
}

// checkNotSold rejects a sale for an order item that already has one
func (u *unitOfWork) checkNotSold(ctx context.Context) error {
	history, err := u.tx.OrderItemHistory(ctx, *u.req.OrderItemID)
	if err != nil {
		return err
	}
	for _, r := range history {
		if r.Kind == domain.KindSale {
			return domain.Reject(domain.CodeAlreadySold, "order item %s was already sold", *u.req.OrderItemID)
		}
	}
	return nil
}

// returnStock puts returned units back on the batches they were sold from.
// Units the SKU has no room for are booked back in and expired on the same
// batch, so stock already on hand is never scrapped in their place.
func (u *unitOfWork) returnStock(ctx context.Context) error {
	batches, err := u.lockBatches(ctx)
	if err != nil {
		return err
	}

	origins, err := u.returnOrigins(ctx, batches)
	if err != nil {
		return err
	}

	sku := u.tx.Sku()
	plan := allocator.PlaceReturn(origins, u.req.ChangeQty, sku.Headroom())
	if plan.Unplaced > 0 {
		return domain.Reject(domain.CodeReturnExceedsSold, "%d of %d returned units have no batch to go back to", plan.Unplaced, plan.Requested)
	}

	for _, p := range plan.Placements {
		if p.Absorbed == 0 {
			continue
		}
		if err := u.book(ctx, p.BatchID, domain.KindReturn, domain.DirectionIn, p.Absorbed); err != nil {
			return err
		}
	}
	for _, p := range plan.Placements {
		if p.Overflow == 0 {
			continue
		}
		if err := u.book(ctx, p.BatchID, domain.KindReturn, domain.DirectionIn, p.Overflow); err != nil {
			return err
		}
		if err := u.book(ctx, p.BatchID, domain.KindExpire, domain.DirectionOut, p.Overflow); err != nil {
			return err
		}
	}

	u.applied = plan.Absorbed
	u.returned = plan.Absorbed
	u.expired = plan.Overflow
	u.outcome = plan.Outcome()
	if plan.Overflow > 0 {
		u.message = fmt.Sprintf("returned %d units to stock; %d over capacity were expired", plan.Absorbed, plan.Overflow)
	} else {
		u.message = fmt.Sprintf("returned %d units to stock", plan.Absorbed)
	}
	return nil
}

// returnOrigins resolves where a return goes: the order item's sale
// history when there is one, otherwise the caller's batch
func (u *unitOfWork) returnOrigins(ctx context.Context, batches []domain.Batch) ([]allocator.Origin, error) {
	if !u.req.HasOrderItem() {
		if _, ok := findBatch(batches, u.req.BatchID); !ok {
			return nil, domain.Reject(domain.CodeBatchNotFound, "batch %s does not belong to sku %s", u.req.BatchID, u.req.SkuID)
		}
		return []allocator.Origin{{BatchID: u.req.BatchID, Returnable: domain.UnlimitedHeadroom}}, nil
	}

	orderItemID := *u.req.OrderItemID
	history, err := u.tx.OrderItemHistory(ctx, orderItemID)
	if err != nil {
		return nil, err
	}

	sold := false
	for _, r := range history {
		if r.Kind == domain.KindSale {
			sold = true
			break
		}
	}
	if !sold {
		return nil, domain.Reject(domain.CodeNoSaleHistory, "order item %s has no sale of sku %s", orderItemID, u.req.SkuID)
	}

	origins := allocator.OriginsFromHistory(history)
	if returnable := allocator.Returnable(origins); u.req.ChangeQty > returnable {
		return nil, domain.Reject(domain.CodeReturnExceedsSold, "order item %s has %d units left to return, %d requested", orderItemID, returnable, u.req.ChangeQty)
	}
	return origins, nil
}

// book applies one signed change to a batch and writes its history record
func (u *unitOfWork) book(ctx context.Context, batchID string, kind domain.MovementKind, dir domain.Direction, qty int) error {
	after, err := u.tx.ApplyDelta(ctx, batchID, dir.Sign()*qty)
	if err != nil {
		return fmt.Errorf("%s %d on batch %s: %w", kind, qty, batchID, err)
	}

	record := &domain.MovementRecord{
		ID:            uuid.NewString(),
		BatchID:       batchID,
		SkuID:         u.req.SkuID,
		Kind:          kind,
		Direction:     dir,
		ChangeQty:     qty,
		BeforeQty:     after - dir.Sign()*qty,
		AfterQty:      after,
		ActorID:       u.req.ActorID,
		Remark:        u.req.Remark,
		OrderItemID:   u.req.OrderItemID,
		CorrelationID: u.correlationID,
	}
	if err := u.tx.AppendMovement(ctx, record); err != nil {
		return fmt.Errorf("append %s movement: %w", kind, err)
	}

	u.movements = append(u.movements, domain.BatchMovement{
		MovementID: record.ID,
		BatchID:    batchID,
		Kind:       kind,
		Direction:  dir,
		ChangeQty:  qty,
		BeforeQty:  record.BeforeQty,
		AfterQty:   after,
	})
	return nil
}
