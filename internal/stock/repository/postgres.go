package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lotledger/lotledger-backend/internal/stock/domain"
	"github.com/lotledger/lotledger-backend/pkg/database"
)

const (
	skuColumns      = "id, quantity, max_stock_qty, safety_stock_qty, reorder_point, shelf_life_days, created_at, updated_at"
	batchColumns    = "id, sku_id, batch_number, quantity, manufacture_date, created_at"
	movementColumns = "seq, id, batch_id, sku_id, kind, direction, change_qty, before_qty, after_qty, actor_id, remark, order_item_id, correlation_id, created_at"
)

// PostgresStore is the PostgreSQL Store. Locking is SELECT ... FOR UPDATE
// on the SKU row, then on its batches.
type PostgresStore struct {
	db          *database.DB
	lockTimeout time.Duration
	builder     sq.StatementBuilderType
}

// NewPostgresStore creates a store; lockTimeout bounds how long a unit of
// work waits for a busy SKU (0 waits forever)
func NewPostgresStore(db *database.DB, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{
		db:          db,
		lockTimeout: lockTimeout,
		builder:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// WithSkuLock implements Store
func (s *PostgresStore) WithSkuLock(ctx context.Context, skuID string, fn func(ctx context.Context, tx Tx) error) error {
	opts := database.TxOptions{Name: "stock.WithSkuLock", LockTimeout: s.lockTimeout}

	err := s.db.TransactionWithOptions(ctx, opts, func(tx *sqlx.Tx) error {
		var sku domain.Sku
		query := `SELECT ` + skuColumns + ` FROM skus WHERE id = $1 FOR UPDATE`
		if err := tx.GetContext(ctx, &sku, query, skuID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrSkuNotFound
			}
			return fmt.Errorf("lock sku %s: %w", skuID, err)
		}
		return fn(ctx, &pgTx{tx: tx, sku: sku})
	})
	if database.IsLockTimeout(err) {
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	}
	return err
}

// GetSku implements Store
func (s *PostgresStore) GetSku(ctx context.Context, id string) (*domain.Sku, error) {
	var sku domain.Sku
	query := `SELECT ` + skuColumns + ` FROM skus WHERE id = $1`
	if err := s.db.GetContext(ctx, &sku, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSkuNotFound
		}
		return nil, fmt.Errorf("get sku %s: %w", id, err)
	}
	return &sku, nil
}

// UpsertSku creates the SKU or updates its master data. Quantity is left
// untouched on update.
func (s *PostgresStore) UpsertSku(ctx context.Context, m domain.SkuMaster) (*domain.Sku, error) {
	query := `
		INSERT INTO skus (id, max_stock_qty, safety_stock_qty, reorder_point, shelf_life_days)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			max_stock_qty = EXCLUDED.max_stock_qty,
			safety_stock_qty = EXCLUDED.safety_stock_qty,
			reorder_point = EXCLUDED.reorder_point,
			shelf_life_days = EXCLUDED.shelf_life_days,
			updated_at = NOW()
		RETURNING ` + skuColumns

	var sku domain.Sku
	if err := s.db.GetContext(ctx, &sku, query,
		m.ID, m.MaxStockQty, m.SafetyStockQty, m.ReorderPoint, m.ShelfLifeDays,
	); err != nil {
		return nil, fmt.Errorf("upsert sku %s: %w", m.ID, err)
	}
	return &sku, nil
}

// ListBatches returns every batch of the SKU in creation order
func (s *PostgresStore) ListBatches(ctx context.Context, skuID string) ([]domain.Batch, error) {
	q := s.builder.
		Select(batchColumns).
		From("stock_batches").
		Where(sq.Eq{"sku_id": skuID}).
		OrderBy("created_at", "id")

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build batch query: %w", err)
	}

	batches := []domain.Batch{}
	if err := s.db.SelectContext(ctx, &batches, query, args...); err != nil {
		return nil, fmt.Errorf("list batches of %s: %w", skuID, err)
	}
	return batches, nil
}

// ListMovements returns a page of history, newest first, with the total
// number of matching records
func (s *PostgresStore) ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.MovementRecord, int64, error) {
	filter = filter.Normalize()

	countQuery, countArgs, err := filterMovements(s.builder.Select("COUNT(*)").From("stock_movements"), filter).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build movement count: %w", err)
	}

	var total int64
	if err := s.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count movements: %w", err)
	}

	query, args, err := filterMovements(s.builder.Select(movementColumns).From("stock_movements"), filter).
		OrderBy("seq DESC").
		Limit(uint64(filter.Limit)).
		Offset(uint64(filter.Offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build movement query: %w", err)
	}

	records := []domain.MovementRecord{}
	if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list movements: %w", err)
	}
	return records, total, nil
}

func filterMovements(q sq.SelectBuilder, f domain.MovementFilter) sq.SelectBuilder {
	if f.SkuID != "" {
		q = q.Where(sq.Eq{"sku_id": f.SkuID})
	}
	if f.BatchID != "" {
		q = q.Where(sq.Eq{"batch_id": f.BatchID})
	}
	if f.Kind != "" {
		q = q.Where(sq.Eq{"kind": string(f.Kind)})
	}
	if f.OrderItemID != "" {
		q = q.Where(sq.Eq{"order_item_id": f.OrderItemID})
	}
	if f.CorrelationID != "" {
		q = q.Where(sq.Eq{"correlation_id": f.CorrelationID})
	}
	if f.Since != nil {
		q = q.Where(sq.GtOrEq{"created_at": *f.Since})
	}
	if f.Until != nil {
		q = q.Where(sq.Lt{"created_at": *f.Until})
	}
	return q
}

// ListExpiredStock sums, per SKU, the quantity of batches whose derived
// expiry date is before asOf's calendar day (UTC)
func (s *PostgresStore) ListExpiredStock(ctx context.Context, asOf time.Time) ([]ExpiredStock, error) {
	query := `
		SELECT b.sku_id, SUM(b.quantity) AS quantity, COUNT(*) AS batches
		FROM stock_batches b
		JOIN skus s ON s.id = b.sku_id
		WHERE b.quantity > 0
			AND b.manufacture_date IS NOT NULL
			AND s.shelf_life_days > 0
			AND b.manufacture_date + s.shelf_life_days < $1::date
		GROUP BY b.sku_id
		ORDER BY b.sku_id
	`

	expired := []ExpiredStock{}
	if err := s.db.SelectContext(ctx, &expired, query, asOf.UTC().Format(time.DateOnly)); err != nil {
		return nil, fmt.Errorf("list expired stock: %w", err)
	}
	return expired, nil
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

type pgTx struct {
	tx  *sqlx.Tx
	sku domain.Sku
}

func (t *pgTx) Sku() domain.Sku {
	return t.sku
}

func (t *pgTx) LockBatches(ctx context.Context) ([]domain.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM stock_batches WHERE sku_id = $1 ORDER BY created_at, id FOR UPDATE`

	batches := []domain.Batch{}
	if err := t.tx.SelectContext(ctx, &batches, query, t.sku.ID); err != nil {
		return nil, fmt.Errorf("lock batches of %s: %w", t.sku.ID, err)
	}
	return batches, nil
}

func (t *pgTx) CreateBatch(ctx context.Context, b *domain.Batch) error {
	var createdAt *time.Time
	if !b.CreatedAt.IsZero() {
		createdAt = &b.CreatedAt
	}

	query := `
		INSERT INTO stock_batches (id, sku_id, batch_number, quantity, manufacture_date, created_at)
		VALUES ($1, $2, $3, 0, $4, COALESCE($5, clock_timestamp()))
		RETURNING created_at
	`
	if err := t.tx.GetContext(ctx, &b.CreatedAt, query,
		b.ID, t.sku.ID, b.BatchNumber, b.ManufactureDate, createdAt,
	); err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	b.SkuID = t.sku.ID
	b.Quantity = 0
	return nil
}

func (t *pgTx) ApplyDelta(ctx context.Context, batchID string, delta int) (int, error) {
	var after int
	query := `
		UPDATE stock_batches SET quantity = quantity + $1
		WHERE id = $2 AND sku_id = $3 AND quantity + $1 >= 0
		RETURNING quantity
	`
	if err := t.tx.GetContext(ctx, &after, query, delta, batchID, t.sku.ID); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("apply delta to batch %s: %w", batchID, err)
		}
		var exists bool
		if err := t.tx.GetContext(ctx, &exists,
			`SELECT EXISTS (SELECT 1 FROM stock_batches WHERE id = $1 AND sku_id = $2)`, batchID, t.sku.ID,
		); err != nil {
			return 0, fmt.Errorf("check batch %s: %w", batchID, err)
		}
		if !exists {
			return 0, ErrBatchNotFound
		}
		return 0, ErrNegativeQuantity
	}

	var total int
	if err := t.tx.GetContext(ctx, &total,
		`UPDATE skus SET quantity = quantity + $1, updated_at = NOW() WHERE id = $2 RETURNING quantity`,
		delta, t.sku.ID,
	); err != nil {
		return 0, fmt.Errorf("apply delta to sku %s: %w", t.sku.ID, err)
	}
	t.sku.Quantity = total

	return after, nil
}

func (t *pgTx) AppendMovement(ctx context.Context, m *domain.MovementRecord) error {
	query := `
		INSERT INTO stock_movements (
			id, batch_id, sku_id, kind, direction, change_qty, before_qty, after_qty,
			actor_id, remark, order_item_id, correlation_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING seq, created_at
	`
	return t.tx.QueryRowxContext(ctx, query,
		m.ID, m.BatchID, t.sku.ID, m.Kind, m.Direction, m.ChangeQty, m.BeforeQty, m.AfterQty,
		m.ActorID, m.Remark, m.OrderItemID, m.CorrelationID,
	).Scan(&m.Seq, &m.CreatedAt)
}

func (t *pgTx) OrderItemHistory(ctx context.Context, orderItemID string) ([]domain.MovementRecord, error) {
	query := `SELECT ` + movementColumns + ` FROM stock_movements WHERE sku_id = $1 AND order_item_id = $2 ORDER BY seq`

	records := []domain.MovementRecord{}
	if err := t.tx.SelectContext(ctx, &records, query, t.sku.ID, orderItemID); err != nil {
		return nil, fmt.Errorf("order item history %s: %w", orderItemID, err)
	}
	return records, nil
}
