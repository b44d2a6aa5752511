// Package memory is an in-process Store for tests and local development.
// Each SKU has its own lock; a unit of work stages its writes and applies
// them only on commit.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/lotledger/lotledger-backend/internal/stock/domain"
	"github.com/lotledger/lotledger-backend/internal/stock/repository"
)

// Store is a repository.Store held in memory
type Store struct {
	mu          sync.RWMutex
	skus        map[string]*skuEntry
	movements   []domain.MovementRecord
	seq         int64
	lockTimeout time.Duration
	now         func() time.Time
}

type skuEntry struct {
	// lock is a one-slot semaphore so waiting can honor ctx
	lock    chan struct{}
	sku     domain.Sku
	batches map[string]domain.Batch
}

var _ repository.Store = (*Store)(nil)

// New creates an empty store. lockTimeout bounds how long a unit of work
// waits for a busy SKU (0 waits until ctx ends).
func New(lockTimeout time.Duration) *Store {
	return &Store{
		skus:        make(map[string]*skuEntry),
		lockTimeout: lockTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithSkuLock implements repository.Store
func (s *Store) WithSkuLock(ctx context.Context, skuID string, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.RLock()
	entry, ok := s.skus[skuID]
	s.mu.RUnlock()
	if !ok {
		return repository.ErrSkuNotFound
	}

	if err := s.acquire(ctx, entry); err != nil {
		return err
	}
	defer func() { <-entry.lock }()

	s.mu.RLock()
	tx := &memTx{
		store:   s,
		sku:     entry.sku,
		batches: make(map[string]domain.Batch, len(entry.batches)),
	}
	for id, b := range entry.batches {
		tx.batches[id] = b
	}
	s.mu.RUnlock()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted before commit: %w", err)
	}

	s.commit(entry, tx)
	return nil
}

func (s *Store) acquire(ctx context.Context, entry *skuEntry) error {
	var timeout <-chan time.Time
	if s.lockTimeout > 0 {
		timer := time.NewTimer(s.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case entry.lock <- struct{}{}:
		return nil
	case <-timeout:
		return repository.ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) commit(entry *skuEntry, tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.sku = tx.sku
	entry.batches = tx.batches
	s.movements = append(s.movements, tx.movements...)
}

func (s *Store) nextSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// GetSku implements repository.Store
func (s *Store) GetSku(ctx context.Context, id string) (*domain.Sku, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.skus[id]
	if !ok {
		return nil, repository.ErrSkuNotFound
	}
	sku := entry.sku
	return &sku, nil
}

// UpsertSku implements repository.Store. Updating an existing SKU waits
// for its lock, as the row update would in PostgreSQL.
func (s *Store) UpsertSku(ctx context.Context, m domain.SkuMaster) (*domain.Sku, error) {
	s.mu.Lock()
	entry, ok := s.skus[m.ID]
	if !ok {
		now := s.now()
		entry = &skuEntry{
			lock:    make(chan struct{}, 1),
			sku:     domain.Sku{ID: m.ID, CreatedAt: now, UpdatedAt: now},
			batches: make(map[string]domain.Batch),
		}
		applyMaster(&entry.sku, m)
		s.skus[m.ID] = entry
		sku := entry.sku
		s.mu.Unlock()
		return &sku, nil
	}
	s.mu.Unlock()

	if err := s.acquire(ctx, entry); err != nil {
		return nil, err
	}
	defer func() { <-entry.lock }()

	s.mu.Lock()
	defer s.mu.Unlock()
	applyMaster(&entry.sku, m)
	entry.sku.UpdatedAt = s.now()

	sku := entry.sku
	return &sku, nil
}

func applyMaster(sku *domain.Sku, m domain.SkuMaster) {
	sku.MaxStockQty = m.MaxStockQty
	sku.SafetyStockQty = m.SafetyStockQty
	sku.ReorderPoint = m.ReorderPoint
	sku.ShelfLifeDays = m.ShelfLifeDays
}

// ListBatches implements repository.Store
func (s *Store) ListBatches(ctx context.Context, skuID string) ([]domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.skus[skuID]
	if !ok {
		return []domain.Batch{}, nil
	}
	return sortedBatches(entry.batches), nil
}

// ListMovements implements repository.Store
func (s *Store) ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.MovementRecord, int64, error) {
	filter = filter.Normalize()

	s.mu.RLock()
	matched := make([]domain.MovementRecord, 0)
	for _, m := range s.movements {
		if matches(filter, m) {
			matched = append(matched, m)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b domain.MovementRecord) int {
		return cmp.Compare(b.Seq, a.Seq)
	})

	total := int64(len(matched))
	start := min(filter.Offset, len(matched))
	end := min(start+filter.Limit, len(matched))
	return matched[start:end], total, nil
}

func matches(f domain.MovementFilter, m domain.MovementRecord) bool {
	switch {
	case f.SkuID != "" && m.SkuID != f.SkuID:
		return false
	case f.BatchID != "" && m.BatchID != f.BatchID:
		return false
	case f.Kind != "" && m.Kind != f.Kind:
		return false
	case f.OrderItemID != "" && (m.OrderItemID == nil || *m.OrderItemID != f.OrderItemID):
		return false
	case f.CorrelationID != "" && m.CorrelationID != f.CorrelationID:
		return false
	case f.Since != nil && m.CreatedAt.Before(*f.Since):
		return false
	case f.Until != nil && !m.CreatedAt.Before(*f.Until):
		return false
	}
	return true
}

// ListExpiredStock implements repository.Store
func (s *Store) ListExpiredStock(ctx context.Context, asOf time.Time) ([]repository.ExpiredStock, error) {
	day := asOf.UTC().Truncate(24 * time.Hour)

	s.mu.RLock()
	defer s.mu.RUnlock()

	expired := make([]repository.ExpiredStock, 0)
	for id, entry := range s.skus {
		var row repository.ExpiredStock
		for _, b := range entry.batches {
			expiry := entry.sku.ExpiryFor(b.ManufactureDate)
			if b.Quantity > 0 && expiry != nil && expiry.Before(day) {
				row.Quantity += b.Quantity
				row.Batches++
			}
		}
		if row.Batches > 0 {
			row.SkuID = id
			expired = append(expired, row)
		}
	}

	slices.SortFunc(expired, func(a, b repository.ExpiredStock) int {
		return cmp.Compare(a.SkuID, b.SkuID)
	})
	return expired, nil
}

// Ping implements repository.Store
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func sortedBatches(batches map[string]domain.Batch) []domain.Batch {
	out := make([]domain.Batch, 0, len(batches))
	for _, b := range batches {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b domain.Batch) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// memTx stages a unit of work against a private copy of one SKU
type memTx struct {
	store     *Store
	sku       domain.Sku
	batches   map[string]domain.Batch
	movements []domain.MovementRecord
}

func (t *memTx) Sku() domain.Sku {
	return t.sku
}

func (t *memTx) LockBatches(ctx context.Context) ([]domain.Batch, error) {
	return sortedBatches(t.batches), nil
}

func (t *memTx) CreateBatch(ctx context.Context, b *domain.Batch) error {
	if _, exists := t.batches[b.ID]; exists {
		return fmt.Errorf("create batch: batch %s already exists", b.ID)
	}
	b.SkuID = t.sku.ID
	b.Quantity = 0
	if b.CreatedAt.IsZero() {
		b.CreatedAt = t.store.now()
	}
	t.batches[b.ID] = *b
	return nil
}

func (t *memTx) ApplyDelta(ctx context.Context, batchID string, delta int) (int, error) {
	b, ok := t.batches[batchID]
	if !ok {
		return 0, repository.ErrBatchNotFound
	}
	if b.Quantity+delta < 0 || t.sku.Quantity+delta < 0 {
		return 0, repository.ErrNegativeQuantity
	}

	b.Quantity += delta
	t.batches[batchID] = b
	t.sku.Quantity += delta
	t.sku.UpdatedAt = t.store.now()

	return b.Quantity, nil
}

func (t *memTx) AppendMovement(ctx context.Context, m *domain.MovementRecord) error {
	if !m.Kind.Valid() || !m.Consistent() {
		return fmt.Errorf("append movement: inconsistent record %+v", *m)
	}
	if _, ok := t.batches[m.BatchID]; !ok {
		return repository.ErrBatchNotFound
	}

	m.SkuID = t.sku.ID
	m.Seq = t.store.nextSeq()
	m.CreatedAt = t.store.now()
	t.movements = append(t.movements, *m)
	return nil
}

func (t *memTx) OrderItemHistory(ctx context.Context, orderItemID string) ([]domain.MovementRecord, error) {
	t.store.mu.RLock()
	history := make([]domain.MovementRecord, 0)
	for _, m := range t.store.movements {
		if m.SkuID == t.sku.ID && m.OrderItemID != nil && *m.OrderItemID == orderItemID {
			history = append(history, m)
		}
	}
	t.store.mu.RUnlock()

	for _, m := range t.movements {
		if m.OrderItemID != nil && *m.OrderItemID == orderItemID {
			history = append(history, m)
		}
	}

	slices.SortFunc(history, func(a, b domain.MovementRecord) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
	return history, nil
}
