package repository

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jmoiron/sqlx"
)

//go:embed schema.sql
var schema string

// Schema returns the DDL of the stock tables
func Schema() string {
	return schema
}

// Migrate creates the stock tables when they do not exist yet
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply stock schema: %w", err)
	}
	return nil
}
