package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/lotledger/lotledger-backend/internal/stock/domain"
	"github.com/lotledger/lotledger-backend/internal/stock/repository"
	"github.com/lotledger/lotledger-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const batchID = "3f0e6c1a-55b2-4e0d-9a43-2b7a9f1d0c11"

var skuCols = []string{"id", "quantity", "max_stock_qty", "safety_stock_qty", "reorder_point", "shelf_life_days", "created_at", "updated_at"}

func skuRow(id string, qty int) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(skuCols).AddRow(id, qty, 100, 0, 0, 0, now, now)
}

func newMockStore(t *testing.T) (*repository.PostgresStore, *testutil.MockDB) {
	t.Helper()
	mockDB := testutil.NewMockDB(t)
	t.Cleanup(func() {
		mockDB.ExpectationsWereMet(t)
		mockDB.Close()
	})
	return repository.NewPostgresStore(mockDB.Database(), 2*time.Second), mockDB
}

func TestPostgresStore_WithSkuLock_Commit(t *testing.T) {
	store, mockDB := newMockStore(t)

	mockDB.ExpectBegin()
	mockDB.ExpectLockTimeout(2 * time.Second)
	mockDB.Mock.ExpectQuery(`FROM skus WHERE id = \$1 FOR UPDATE`).
		WithArgs("SKU-1").
		WillReturnRows(skuRow("SKU-1", 10))
	mockDB.Mock.ExpectQuery(`UPDATE stock_batches SET quantity = quantity \+ \$1`).
		WithArgs(-3, batchID, "SKU-1").
		WillReturnRows(sqlmock.NewRows([]string{"quantity"}).AddRow(2))
	mockDB.Mock.ExpectQuery(`UPDATE skus SET quantity = quantity \+ \$1`).
		WithArgs(-3, "SKU-1").
		WillReturnRows(sqlmock.NewRows([]string{"quantity"}).AddRow(7))
	mockDB.ExpectCommit()

	err := store.WithSkuLock(context.Background(), "SKU-1", func(ctx context.Context, tx repository.Tx) error {
		assert.Equal(t, 10, tx.Sku().Quantity)

		after, err := tx.ApplyDelta(ctx, batchID, -3)
		require.NoError(t, err)
		assert.Equal(t, 2, after)
		assert.Equal(t, 7, tx.Sku().Quantity)
		return nil
	})
	require.NoError(t, err)
}

func TestPostgresStore_WithSkuLock_UnknownSku(t *testing.T) {
	store, mockDB := newMockStore(t)

	mockDB.ExpectBegin()
	mockDB.ExpectLockTimeout(2 * time.Second)
	mockDB.Mock.ExpectQuery(`FROM skus WHERE id = \$1 FOR UPDATE`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(skuCols))
	mockDB.ExpectRollback()

	err := store.WithSkuLock(context.Background(), "missing", func(ctx context.Context, tx repository.Tx) error {
		t.Fatal("fn must not run")
		return nil
	})
	assert.ErrorIs(t, err, repository.ErrSkuNotFound)
}

func TestPostgresStore_WithSkuLock_LockTimeout(t *testing.T) {
	store, mockDB := newMockStore(t)

	mockDB.ExpectBegin()
	mockDB.ExpectLockTimeout(2 * time.Second)
	mockDB.Mock.ExpectQuery(`FROM skus WHERE id = \$1 FOR UPDATE`).
		WithArgs("SKU-1").
		WillReturnError(&pq.Error{Code: "55P03", Message: "canceling statement due to lock timeout"})
	mockDB.ExpectRollback()

	err := store.WithSkuLock(context.Background(), "SKU-1", func(ctx context.Context, tx repository.Tx) error {
		return nil
	})
	assert.ErrorIs(t, err, repository.ErrLockTimeout)
}

func TestPostgresStore_ApplyDelta_Guards(t *testing.T) {
	tests := []struct {
		name    string
		exists  bool
		wantErr error
	}{
		{"batch would go negative", true, repository.ErrNegativeQuantity},
		{"batch belongs to another sku", false, repository.ErrBatchNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mockDB := newMockStore(t)

			mockDB.ExpectBegin()
			mockDB.ExpectLockTimeout(2 * time.Second)
			mockDB.Mock.ExpectQuery(`FROM skus WHERE id = \$1 FOR UPDATE`).
				WithArgs("SKU-1").
				WillReturnRows(skuRow("SKU-1", 1))
			mockDB.Mock.ExpectQuery(`UPDATE stock_batches SET quantity`).
				WithArgs(-5, batchID, "SKU-1").
				WillReturnRows(sqlmock.NewRows([]string{"quantity"}))
			mockDB.Mock.ExpectQuery(`SELECT EXISTS`).
				WithArgs(batchID, "SKU-1").
				WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(tt.exists))
			mockDB.ExpectRollback()

			err := store.WithSkuLock(context.Background(), "SKU-1", func(ctx context.Context, tx repository.Tx) error {
				_, err := tx.ApplyDelta(ctx, batchID, -5)
				return err
			})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPostgresStore_AppendMovement(t *testing.T) {
	store, mockDB := newMockStore(t)
	created := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)

	mockDB.ExpectBegin()
	mockDB.ExpectLockTimeout(2 * time.Second)
	mockDB.Mock.ExpectQuery(`FROM skus WHERE id = \$1 FOR UPDATE`).
		WithArgs("SKU-1").
		WillReturnRows(skuRow("SKU-1", 4))
	mockDB.Mock.ExpectQuery(`INSERT INTO stock_movements`).
		WithArgs(testutil.AnyUUID{}, batchID, "SKU-1", domain.KindSale, domain.DirectionOut, 2, 4, 2,
			"actor-1", "", testutil.PtrString("OI-1"), testutil.AnyUUID{}).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "created_at"}).AddRow(int64(42), created))
	mockDB.ExpectCommit()

	record := &domain.MovementRecord{
		ID: "9d7c1e52-1f0a-4a3b-8f7e-6c5d4b3a2f10", BatchID: batchID, Kind: domain.KindSale,
		Direction: domain.DirectionOut, ChangeQty: 2, BeforeQty: 4, AfterQty: 2, ActorID: "actor-1",
		OrderItemID: testutil.PtrString("OI-1"), CorrelationID: "0b8e2f4c-6a1d-4e3b-9c7f-5d2a1e0f8b33",
	}
	err := store.WithSkuLock(context.Background(), "SKU-1", func(ctx context.Context, tx repository.Tx) error {
		return tx.AppendMovement(ctx, record)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), record.Seq)
	assert.Equal(t, created, record.CreatedAt)
}

func TestPostgresStore_ListMovements(t *testing.T) {
	store, mockDB := newMockStore(t)

	mockDB.ExpectQuery("SELECT COUNT(*) FROM stock_movements WHERE sku_id = $1 AND kind = $2").
		WithArgs("SKU-1", "sale").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(7)))
	mockDB.Mock.ExpectQuery(`FROM stock_movements WHERE sku_id = \$1 AND kind = \$2 ORDER BY seq DESC LIMIT 5 OFFSET 5`).
		WithArgs("SKU-1", "sale").
		WillReturnRows(sqlmock.NewRows([]string{"seq", "id", "batch_id", "sku_id", "kind", "direction", "change_qty",
			"before_qty", "after_qty", "actor_id", "remark", "order_item_id", "correlation_id", "created_at"}).
			AddRow(int64(6), "id-6", batchID, "SKU-1", "sale", "out", 1, 3, 2, "a", "", nil, "c", time.Now()))

	records, total, err := store.ListMovements(context.Background(), domain.MovementFilter{
		SkuID: "SKU-1", Kind: domain.KindSale, Limit: 5, Offset: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), total)
	require.Len(t, records, 1)
	assert.Equal(t, domain.KindSale, records[0].Kind)
	assert.Nil(t, records[0].OrderItemID)
}

func TestPostgresStore_ListExpiredStockPassesCalendarDay(t *testing.T) {
	store, mockDB := newMockStore(t)
	asOf := time.Date(2025, 3, 15, 23, 30, 0, 0, time.FixedZone("CET", 3600))

	mockDB.Mock.ExpectQuery(`b.manufacture_date \+ s.shelf_life_days < \$1::date`).
		WithArgs("2025-03-15").
		WillReturnRows(sqlmock.NewRows([]string{"sku_id", "quantity", "batches"}).AddRow("SKU-1", 12, 2))

	expired, err := store.ListExpiredStock(context.Background(), asOf)
	require.NoError(t, err)
	assert.Equal(t, []repository.ExpiredStock{{SkuID: "SKU-1", Quantity: 12, Batches: 2}}, expired)
}

func TestPostgresStore_GetSkuNotFound(t *testing.T) {
	store, mockDB := newMockStore(t)

	mockDB.Mock.ExpectQuery(`FROM skus WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(skuCols))

	_, err := store.GetSku(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrSkuNotFound)
}
