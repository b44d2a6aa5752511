package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/lotledger/lotledger-backend/pkg/config"
	"github.com/lotledger/lotledger-backend/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/lotledger/lotledger-backend/pkg/database"

// DB wraps sqlx.DB with transaction and health helpers
type DB struct {
	*sqlx.DB
	logger *logger.Logger
	tracer trace.Tracer
}

// New opens a pooled connection using the configured DSN
func New(cfg *config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return Wrap(db, log), nil
}

// NewWithDSN opens a connection from a raw DSN (used by integration tests)
func NewWithDSN(dsn string, log *logger.Logger) (*DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return Wrap(db, log), nil
}

// Wrap adopts an existing sqlx handle, e.g. one backed by sqlmock
func Wrap(db *sqlx.DB, log *logger.Logger) *DB {
	if log == nil {
		log = logger.Nop()
	}
	return &DB{
		DB:     db,
		logger: log,
		tracer: otel.Tracer(tracerName),
	}
}

// Ping checks the database connection
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// Health returns the health status of the database
func (db *DB) Health(ctx context.Context) map[string]string {
	status := map[string]string{
		"status": "up",
	}

	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		status["status"] = "down"
		status["error"] = err.Error()
	}

	return status
}

// TxOptions tunes a single unit of work
type TxOptions struct {
	// Name labels the trace span
	Name string
	// LockTimeout is applied with SET LOCAL lock_timeout when positive
	LockTimeout time.Duration
	Isolation   sql.IsolationLevel
}

// Transaction executes fn within a read-committed transaction
func (db *DB) Transaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	return db.TransactionWithOptions(ctx, TxOptions{Name: "db.Transaction"}, fn)
}

// TransactionWithOptions executes fn within a transaction. Any error from fn,
// a panic, or a context cancelled before commit rolls the transaction back.
func (db *DB) TransactionWithOptions(ctx context.Context, opts TxOptions, fn func(*sqlx.Tx) error) (err error) {
	name := opts.Name
	if name == "" {
		name = "db.Transaction"
	}
	ctx, span := db.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	tx, err := db.BeginTxx(ctx, &sql.TxOptions{Isolation: opts.Isolation})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			db.rollback(tx)
			panic(p)
		}
	}()

	if opts.LockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", opts.LockTimeout.Milliseconds())
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			db.rollback(tx)
			return fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}

	if err = fn(tx); err != nil {
		db.rollback(tx)
		return err
	}

	if err = ctx.Err(); err != nil {
		db.rollback(tx)
		return fmt.Errorf("transaction aborted before commit: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (db *DB) rollback(tx *sqlx.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		db.logger.Error().Err(err).Msg("failed to rollback transaction")
	}
}
