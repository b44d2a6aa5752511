package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lotledger/lotledger-backend/internal/stock/domain"
	"github.com/lotledger/lotledger-backend/internal/stock/events"
	"github.com/lotledger/lotledger-backend/internal/stock/repository"
	"github.com/lotledger/lotledger-backend/internal/stock/repository/memory"
	"github.com/lotledger/lotledger-backend/pkg/logger"
	"github.com/lotledger/lotledger-backend/pkg/messaging"
	"github.com/lotledger/lotledger-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSweeper(fx *fixture, now time.Time) *ExpirySweeper {
	return newSweeperOn(fx, fx.store, now)
}

func newSweeperOn(fx *fixture, store repository.Store, now time.Time) *ExpirySweeper {
	s := NewExpirySweeper(store, fx.svc, events.New(fx.pub, logger.Nop()), logger.Nop())
	s.now = func() time.Time { return now }
	return s
}

// interleavingStore runs between after the expired stock is listed and
// before the sweep takes any SKU lock
type interleavingStore struct {
	*memory.Store
	between func()
}

func (s *interleavingStore) ListExpiredStock(ctx context.Context, asOf time.Time) ([]repository.ExpiredStock, error) {
	rows, err := s.Store.ListExpiredStock(ctx, asOf)
	if err == nil && s.between != nil {
		s.between()
	}
	return rows, err
}

func (fx *fixture) freshAndStale(t *testing.T) (skuID, fresh, stale string) {
	t.Helper()
	skuID = fx.sku(t, testutil.WithShelfLife(30))
	fresh = fx.lot(t, skuID, 10, date(2024, 2, 25)) // expires 2024-03-26
	stale = fx.lot(t, skuID, 6, date(2024, 1, 1))   // expires 2024-01-31
	fx.pub.Reset()
	return skuID, fresh, stale
}

func (fx *fixture) expireRecords(t *testing.T, skuID string) []domain.MovementRecord {
	t.Helper()
	records, _, err := fx.store.ListMovements(context.Background(), domain.MovementFilter{SkuID: skuID, Kind: domain.KindExpire})
	require.NoError(t, err)
	return records
}

func TestExpirySweeper_Sweep(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	skuID := fx.sku(t, testutil.WithShelfLife(30))
	fresh := fx.lot(t, skuID, 4, date(2024, 2, 25))
	stale := fx.lot(t, skuID, 6, date(2024, 1, 1))
	undated := fx.lot(t, skuID, 2, nil)
	untracked := fx.sku(t)
	fx.lot(t, untracked, 3, date(2020, 1, 1))
	fx.pub.Reset()

	sweeper := newSweeper(fx, time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC))

	report, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skus)
	assert.Equal(t, 6, report.ExpiredQty)
	assert.Zero(t, report.Failed)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), report.AsOf)

	_, q := fx.quantities(t, skuID)
	assert.Equal(t, map[string]int{fresh: 4, stale: 0, undated: 2}, q)

	records, _, err := fx.store.ListMovements(ctx, domain.MovementFilter{SkuID: skuID, Kind: domain.KindExpire})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "system:"+ExpirySweeperName, records[0].ActorID)
	assert.Equal(t, stale, records[0].BatchID)

	expired := fx.pub.Events(messaging.EventBatchExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, messaging.BatchExpiredEvent{SkuID: skuID, ExpiredQty: 6, Batches: 1}, expired[0].Payload)

	report, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Skus, "a second sweep finds nothing")
}

func TestExpirySweeper_SaleBeforeLockLeavesGoodStock(t *testing.T) {
	fx := newFixture(t)
	skuID, fresh, stale := fx.freshAndStale(t)
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	store := &interleavingStore{Store: fx.store, between: func() {
		res := fx.svc.AdjustStock(context.Background(), fx.fixtures.Adjust(skuID, "", domain.KindSale, 4, false))
		require.True(t, res.Success, res.Message)
	}}

	report, err := newSweeperOn(fx, store, now).Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Skus)
	assert.Equal(t, 2, report.ExpiredQty, "only what is left of the stale lot")
	assert.True(t, report.Results[0].Success)

	_, q := fx.quantities(t, skuID)
	assert.Equal(t, 10, q[fresh])
	assert.Equal(t, 0, q[stale])

	for _, r := range fx.expireRecords(t, skuID) {
		assert.Equal(t, stale, r.BatchID)
	}
}

func TestExpirySweeper_OverlappingSweepsExpireOnce(t *testing.T) {
	fx := newFixture(t)
	skuID, fresh, stale := fx.freshAndStale(t)
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	var manual *SweepReport
	store := &interleavingStore{Store: fx.store, between: func() {
		var err error
		manual, err = newSweeper(fx, now).Sweep(context.Background())
		require.NoError(t, err)
	}}

	scheduled, err := newSweeperOn(fx, store, now).Sweep(context.Background())
	require.NoError(t, err)

	require.NotNil(t, manual)
	assert.Equal(t, 6, manual.ExpiredQty)
	assert.Zero(t, scheduled.Skus, "the stale lot was already written off")
	assert.Zero(t, scheduled.Failed)

	_, q := fx.quantities(t, skuID)
	assert.Equal(t, 10, q[fresh])
	assert.Equal(t, 0, q[stale])
	assert.Len(t, fx.expireRecords(t, skuID), 1)
	assert.Len(t, fx.pub.Events(messaging.EventBatchExpired), 1)
}

func TestExpirySweeper_ConcurrentSweeps(t *testing.T) {
	fx := newFixture(t)
	skuID, fresh, stale := fx.freshAndStale(t)
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := newSweeper(fx, now).Sweep(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	_, q := fx.quantities(t, skuID)
	assert.Equal(t, 10, q[fresh])
	assert.Equal(t, 0, q[stale])
}

func TestStockService_ExpireBeforeWithNothingExpired(t *testing.T) {
	fx := newFixture(t)
	skuID, fresh, _ := fx.freshAndStale(t)

	req := fx.fixtures.Adjust(skuID, "", domain.KindExpire, 6, false)
	res := fx.svc.ExpireBefore(context.Background(), req, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	assert.False(t, res.Success)
	assert.Equal(t, domain.CodeNoConsumableStock, res.Code)

	_, q := fx.quantities(t, skuID)
	assert.Equal(t, 10, q[fresh])

	sale := fx.fixtures.Adjust(skuID, "", domain.KindSale, 1, false)
	assert.True(t, fx.svc.ExpireBefore(context.Background(), sale, time.Now()).IsValidationFailure())
}

func TestExpirySweeper_ExpiryDayIsNotYetExpired(t *testing.T) {
	fx := newFixture(t)
	skuID := fx.sku(t, testutil.WithShelfLife(30))
	fx.lot(t, skuID, 5, date(2024, 1, 1))

	// expires 2024-01-31; on that day the lot is still sellable
	report, err := newSweeper(fx, time.Date(2024, 1, 31, 23, 59, 0, 0, time.UTC)).Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Skus)

	report, err = newSweeper(fx, time.Date(2024, 2, 1, 0, 0, 1, 0, time.UTC)).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, report.ExpiredQty)
}

func TestExpiryScheduler_StartStop(t *testing.T) {
	fx := newFixture(t)
	skuID := fx.sku(t, testutil.WithShelfLife(1))
	fx.lot(t, skuID, 3, date(2020, 1, 1))
	fx.pub.Reset()

	scheduler := NewExpiryScheduler(newSweeper(fx, time.Now()), time.Hour, logger.Nop())
	scheduler.Start(context.Background())

	assert.Eventually(t, func() bool {
		return len(fx.pub.Events(messaging.EventBatchExpired)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		scheduler.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	total, _ := fx.quantities(t, skuID)
	assert.Zero(t, total)
}
