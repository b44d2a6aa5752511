package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lotledger/lotledger-backend/internal/stock/domain"
	"github.com/lotledger/lotledger-backend/internal/stock/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func newStoreWithSku(t *testing.T, m domain.SkuMaster) *Store {
	t.Helper()
	s := New(50 * time.Millisecond)
	_, err := s.UpsertSku(context.Background(), m)
	require.NoError(t, err)
	return s
}

// receive creates a batch and books quantity into it in one unit of work
func receive(t *testing.T, s *Store, skuID string, qty int, createdAt time.Time) string {
	t.Helper()
	id := uuid.NewString()
	err := s.WithSkuLock(context.Background(), skuID, func(ctx context.Context, tx repository.Tx) error {
		b := &domain.Batch{ID: id, CreatedAt: createdAt}
		if err := tx.CreateBatch(ctx, b); err != nil {
			return err
		}
		after, err := tx.ApplyDelta(ctx, id, qty)
		if err != nil {
			return err
		}
		return tx.AppendMovement(ctx, &domain.MovementRecord{
			ID: uuid.NewString(), BatchID: id, Kind: domain.KindPurchase, Direction: domain.DirectionIn,
			ChangeQty: qty, BeforeQty: after - qty, AfterQty: after, ActorID: "test",
			CorrelationID: uuid.NewString(),
		})
	})
	require.NoError(t, err)
	return id
}

func TestStore_CommitAppliesBatchSkuAndHistory(t *testing.T) {
	ctx := context.Background()
	s := newStoreWithSku(t, domain.SkuMaster{ID: "SKU-1"})

	id := receive(t, s, "SKU-1", 10, time.Now())

	sku, err := s.GetSku(ctx, "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, 10, sku.Quantity)

	batches, err := s.ListBatches(ctx, "SKU-1")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, id, batches[0].ID)
	assert.Equal(t, 10, batches[0].Quantity)
	assert.Equal(t, "SKU-1", batches[0].SkuID)

	records, total, err := s.ListMovements(ctx, domain.MovementFilter{SkuID: "SKU-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, int64(1), records[0].Seq)
	assert.False(t, records[0].CreatedAt.IsZero())
}

func TestStore_ErrorRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newStoreWithSku(t, domain.SkuMaster{ID: "SKU-1"})
	id := receive(t, s, "SKU-1", 10, time.Now())

	boom := errors.New("boom")
	err := s.WithSkuLock(ctx, "SKU-1", func(ctx context.Context, tx repository.Tx) error {
		_, err := tx.ApplyDelta(ctx, id, -4)
		require.NoError(t, err)
		assert.Equal(t, 6, tx.Sku().Quantity)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	sku, _ := s.GetSku(ctx, "SKU-1")
	assert.Equal(t, 10, sku.Quantity)
	batches, _ := s.ListBatches(ctx, "SKU-1")
	assert.Equal(t, 10, batches[0].Quantity)
}

func TestStore_CancelledContextRollsBack(t *testing.T) {
	s := newStoreWithSku(t, domain.SkuMaster{ID: "SKU-1"})
	id := receive(t, s, "SKU-1", 10, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	err := s.WithSkuLock(ctx, "SKU-1", func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.ApplyDelta(ctx, id, -4); err != nil {
			return err
		}
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	sku, _ := s.GetSku(context.Background(), "SKU-1")
	assert.Equal(t, 10, sku.Quantity)
}

func TestStore_UnknownSku(t *testing.T) {
	s := New(0)
	err := s.WithSkuLock(context.Background(), "missing", func(ctx context.Context, tx repository.Tx) error {
		t.Fatal("fn must not run")
		return nil
	})
	assert.ErrorIs(t, err, repository.ErrSkuNotFound)

	_, err = s.GetSku(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrSkuNotFound)
}

func TestStore_LockTimeout(t *testing.T) {
	s := newStoreWithSku(t, domain.SkuMaster{ID: "SKU-1"})

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.WithSkuLock(context.Background(), "SKU-1", func(ctx context.Context, tx repository.Tx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := s.WithSkuLock(context.Background(), "SKU-1", func(ctx context.Context, tx repository.Tx) error {
		return nil
	})
	assert.ErrorIs(t, err, repository.ErrLockTimeout)

	close(release)
	require.NoError(t, <-done)
}

func TestStore_ApplyDeltaGuards(t *testing.T) {
	s := newStoreWithSku(t, domain.SkuMaster{ID: "SKU-1"})
	id := receive(t, s, "SKU-1", 3, time.Now())

	err := s.WithSkuLock(context.Background(), "SKU-1", func(ctx context.Context, tx repository.Tx) error {
		_, err := tx.ApplyDelta(ctx, id, -4)
		assert.ErrorIs(t, err, repository.ErrNegativeQuantity)

		_, err = tx.ApplyDelta(ctx, uuid.NewString(), 1)
		assert.ErrorIs(t, err, repository.ErrBatchNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_AppendMovementRejectsInconsistentRecord(t *testing.T) {
	s := newStoreWithSku(t, domain.SkuMaster{ID: "SKU-1"})
	id := receive(t, s, "SKU-1", 3, time.Now())

	err := s.WithSkuLock(context.Background(), "SKU-1", func(ctx context.Context, tx repository.Tx) error {
		return tx.AppendMovement(ctx, &domain.MovementRecord{
			ID: uuid.NewString(), BatchID: id, Kind: domain.KindSale, Direction: domain.DirectionOut,
			ChangeQty: 2, BeforeQty: 3, AfterQty: 2, ActorID: "test",
		})
	})
	assert.Error(t, err)
}

func TestStore_UpsertSkuKeepsQuantity(t *testing.T) {
	ctx := context.Background()
	s := newStoreWithSku(t, domain.SkuMaster{ID: "SKU-1", MaxStockQty: 100})
	receive(t, s, "SKU-1", 10, time.Now())

	sku, err := s.UpsertSku(ctx, domain.SkuMaster{ID: "SKU-1", MaxStockQty: 50, ShelfLifeDays: 30})
	require.NoError(t, err)
	assert.Equal(t, 10, sku.Quantity)
	assert.Equal(t, 50, sku.MaxStockQty)
	assert.Equal(t, 30, sku.ShelfLifeDays)
}

func TestStore_ListBatchesInCreationOrder(t *testing.T) {
	s := newStoreWithSku(t, domain.SkuMaster{ID: "SKU-1"})
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	later := receive(t, s, "SKU-1", 1, base.Add(time.Hour))
	earlier := receive(t, s, "SKU-1", 1, base)

	batches, err := s.ListBatches(context.Background(), "SKU-1")
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, earlier, batches[0].ID)
	assert.Equal(t, later, batches[1].ID)
}

func TestStore_ListMovementsFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	s := newStoreWithSku(t, domain.SkuMaster{ID: "SKU-1"})
	_, err := s.UpsertSku(ctx, domain.SkuMaster{ID: "SKU-2"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		receive(t, s, "SKU-1", 1, time.Now())
	}
	receive(t, s, "SKU-2", 1, time.Now())

	records, total, err := s.ListMovements(ctx, domain.MovementFilter{SkuID: "SKU-1", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, records, 2)
	assert.Greater(t, records[0].Seq, records[1].Seq)

	records, _, err = s.ListMovements(ctx, domain.MovementFilter{SkuID: "SKU-1", Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, records, 1)

	records, total, err = s.ListMovements(ctx, domain.MovementFilter{Kind: domain.KindSale})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, records)
}

func TestStore_OrderItemHistorySeesStagedRecords(t *testing.T) {
	s := newStoreWithSku(t, domain.SkuMaster{ID: "SKU-1"})
	id := receive(t, s, "SKU-1", 10, time.Now())

	err := s.WithSkuLock(context.Background(), "SKU-1", func(ctx context.Context, tx repository.Tx) error {
		after, err := tx.ApplyDelta(ctx, id, -2)
		require.NoError(t, err)
		require.NoError(t, tx.AppendMovement(ctx, &domain.MovementRecord{
			ID: uuid.NewString(), BatchID: id, Kind: domain.KindSale, Direction: domain.DirectionOut,
			ChangeQty: 2, BeforeQty: after + 2, AfterQty: after, ActorID: "test",
			OrderItemID: strPtr("OI-1"), CorrelationID: uuid.NewString(),
		}))

		history, err := tx.OrderItemHistory(ctx, "OI-1")
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, domain.KindSale, history[0].Kind)

		other, err := tx.OrderItemHistory(ctx, "OI-2")
		require.NoError(t, err)
		assert.Empty(t, other)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_ListExpiredStock(t *testing.T) {
	ctx := context.Background()
	s := newStoreWithSku(t, domain.SkuMaster{ID: "SKU-1", ShelfLifeDays: 10})
	asOf := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

	expiredDate := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)   // expires 03-11
	boundaryDate := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)  // expires 03-15, not before the day
	freshDate := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	for _, d := range []time.Time{expiredDate, boundaryDate, freshDate} {
		mfg := d
		err := s.WithSkuLock(ctx, "SKU-1", func(ctx context.Context, tx repository.Tx) error {
			b := &domain.Batch{ID: uuid.NewString(), ManufactureDate: &mfg}
			if err := tx.CreateBatch(ctx, b); err != nil {
				return err
			}
			_, err := tx.ApplyDelta(ctx, b.ID, 4)
			return err
		})
		require.NoError(t, err)
	}

	expired, err := s.ListExpiredStock(ctx, asOf)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, repository.ExpiredStock{SkuID: "SKU-1", Quantity: 4, Batches: 1}, expired[0])
}
