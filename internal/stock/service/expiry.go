package service

import (
	"context"
	"fmt"
	"time"

	"github.com/lotledger/lotledger-backend/internal/stock/domain"
	"github.com/lotledger/lotledger-backend/internal/stock/events"
	"github.com/lotledger/lotledger-backend/internal/stock/repository"
	"github.com/lotledger/lotledger-backend/pkg/actor"
	"github.com/lotledger/lotledger-backend/pkg/logger"
)

// ExpirySweeperName is the service actor the sweep books its movements as
const ExpirySweeperName = "expiry-sweeper"

// SkuSweep is the sweep outcome for one SKU
type SkuSweep struct {
	SkuID      string `json:"sku_id"`
	ExpiredQty int    `json:"expired_qty"`
	Batches    int    `json:"batches"`
	Success    bool   `json:"success"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
}

// SweepReport summarizes one sweep
type SweepReport struct {
	AsOf       time.Time  `json:"as_of"`
	Skus       int        `json:"skus"`
	ExpiredQty int        `json:"expired_qty"`
	Failed     int        `json:"failed"`
	Results    []SkuSweep `json:"results"`
}

// ExpirySweeper writes off expired stock, one Expire call per SKU
type ExpirySweeper struct {
	store     repository.Store
	stock     *StockService
	publisher *events.StockEventPublisher
	logger    *logger.Logger
	now       func() time.Time
}

// NewExpirySweeper creates a new expiry sweeper
func NewExpirySweeper(store repository.Store, stock *StockService, publisher *events.StockEventPublisher, log *logger.Logger) *ExpirySweeper {
	return &ExpirySweeper{
		store:     store,
		stock:     stock,
		publisher: publisher,
		logger:    log.WithComponent("expiry-sweeper"),
		now:       time.Now,
	}
}

// Sweep expires every batch whose expiry date is before today (UTC). The
// stored expired quantities only pick the SKUs to visit; which batches are
// expired, and how much they hold, is decided again under each SKU's lock,
// so a sale or another sweep in between never makes it touch a good batch.
// A SKU that fails does not stop the others.
func (s *ExpirySweeper) Sweep(ctx context.Context) (*SweepReport, error) {
	asOf := s.now().UTC().Truncate(24 * time.Hour)

	candidates, err := s.store.ListExpiredStock(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("list expired stock: %w", err)
	}

	report := &SweepReport{AsOf: asOf, Results: make([]SkuSweep, 0, len(candidates))}
	sweeper := actor.Service(ExpirySweeperName)

	for _, e := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		result := s.stock.ExpireBefore(ctx, domain.AdjustRequest{
			SkuID:     e.SkuID,
			ChangeQty: e.Quantity,
			IsAdd:     false,
			Kind:      domain.KindExpire,
			ActorID:   sweeper.ID,
			Remark:    "expired before " + asOf.Format(time.DateOnly),
		}, asOf)

		if result.Code == domain.CodeNoConsumableStock {
			s.logger.WithSku(e.SkuID).Debug().Msg("expired stock already gone")
			continue
		}

		sweep := SkuSweep{
			SkuID:      e.SkuID,
			ExpiredQty: result.AppliedQty,
			Batches:    len(result.Movements),
			Success:    result.Success,
			Code:       result.Code,
			Message:    result.Message,
		}
		report.Results = append(report.Results, sweep)
		report.Skus++

		if !result.Success {
			report.Failed++
			s.logger.WithSku(e.SkuID).Warn().Str("code", result.Code).Msg("expiry sweep failed for sku")
			continue
		}

		report.ExpiredQty += result.AppliedQty
		s.publisher.PublishBatchExpired(ctx, e.SkuID, result.AppliedQty, sweep.Batches)
	}

	s.logger.Info().
		Time("as_of", asOf).
		Int("skus", report.Skus).
		Int("expired_qty", report.ExpiredQty).
		Int("failed", report.Failed).
		Msg("expiry sweep completed")

	return report, nil
}

// ExpiryScheduler runs the expiry sweep periodically
type ExpiryScheduler struct {
	sweeper  *ExpirySweeper
	interval time.Duration
	logger   *logger.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewExpiryScheduler creates a new expiry scheduler
func NewExpiryScheduler(sweeper *ExpirySweeper, interval time.Duration, log *logger.Logger) *ExpiryScheduler {
	return &ExpiryScheduler{
		sweeper:  sweeper,
		interval: interval,
		logger:   log.WithComponent("expiry-scheduler"),
	}
}

// Start starts the scheduler in a background goroutine.
// A sweep runs immediately and then on every tick.
func (s *ExpiryScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.logger.Info().Dur("interval", s.interval).Msg("expiry scheduler started")

		s.runSweep(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("expiry scheduler stopped")
				return
			case <-ticker.C:
				s.runSweep(ctx)
			}
		}
	}()
}

// Stop stops the scheduler goroutine and waits for a running sweep to end
func (s *ExpiryScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *ExpiryScheduler) runSweep(ctx context.Context) {
	start := time.Now()
	report, err := s.sweeper.Sweep(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("expiry sweep failed")
		return
	}
	s.logger.Debug().
		Dur("duration", time.Since(start)).
		Int("skus", report.Skus).
		Msg("expiry sweep cycle completed")
}
