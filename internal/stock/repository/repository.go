// Package repository is the batch and aggregate store of the stock ledger
// together with its movement history. The only way to change a quantity is
// Tx.ApplyDelta, which moves a batch and its SKU total by the same amount.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/lotledger/lotledger-backend/internal/stock/domain"
)

var (
	ErrSkuNotFound      = errors.New("sku not found")
	ErrBatchNotFound    = errors.New("batch not found")
	ErrNegativeQuantity = errors.New("quantity would drop below zero")
	// ErrLockTimeout is returned when the SKU stayed locked by another unit
	// of work for longer than the store's lock timeout
	ErrLockTimeout = errors.New("timed out waiting for sku lock")
)

// ExpiredStock is the expired on-hand quantity of one SKU
type ExpiredStock struct {
	SkuID    string `db:"sku_id"`
	Quantity int    `db:"quantity"`
	Batches  int    `db:"batches"`
}

// Tx is a unit of work holding the lock on one SKU
type Tx interface {
	// Sku returns the locked SKU with its quantity as of the last ApplyDelta
	Sku() domain.Sku
	// LockBatches returns every batch of the SKU, locked, in creation order
	LockBatches(ctx context.Context) ([]domain.Batch, error)
	CreateBatch(ctx context.Context, b *domain.Batch) error
	// ApplyDelta changes a batch and the SKU total by delta and returns the
	// batch quantity after the change
	ApplyDelta(ctx context.Context, batchID string, delta int) (int, error)
	AppendMovement(ctx context.Context, m *domain.MovementRecord) error
	// OrderItemHistory returns the SKU's movements for one order item in
	// the order they were written
	OrderItemHistory(ctx context.Context, orderItemID string) ([]domain.MovementRecord, error)
}

// Store persists SKUs, batches and movements
type Store interface {
	// WithSkuLock runs fn in a transaction that holds an exclusive lock on
	// the SKU. fn returning an error, or ctx ending before commit, rolls
	// everything back. ErrSkuNotFound is returned for an unknown SKU.
	WithSkuLock(ctx context.Context, skuID string, fn func(ctx context.Context, tx Tx) error) error

	GetSku(ctx context.Context, id string) (*domain.Sku, error)
	UpsertSku(ctx context.Context, m domain.SkuMaster) (*domain.Sku, error)
	ListBatches(ctx context.Context, skuID string) ([]domain.Batch, error)
	ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.MovementRecord, int64, error)
	ListExpiredStock(ctx context.Context, asOf time.Time) ([]ExpiredStock, error)
	Ping(ctx context.Context) error
}
