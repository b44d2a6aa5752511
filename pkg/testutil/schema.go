package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lotledger/lotledger-backend/pkg/database"
	"github.com/lotledger/lotledger-backend/pkg/logger"
)

// TestSchema is an isolated schema created for one test
type TestSchema struct {
	Name string
	DB   *database.DB
}

// SchemaManager manages per-test schemas inside the shared container
type SchemaManager struct {
	container *PostgresContainer
	db        *sqlx.DB
	log       *logger.Logger
	schemas   []*TestSchema
	mu        sync.Mutex
}

// NewSchemaManager creates a schema manager over an admin connection
func NewSchemaManager(container *PostgresContainer, db *sqlx.DB, log *logger.Logger) *SchemaManager {
	return &SchemaManager{
		container: container,
		db:        db,
		log:       log,
		schemas:   make([]*TestSchema, 0),
	}
}

// CreateSchema creates an empty schema and a pool whose search_path
// points at it. Tests running in parallel each get their own tables.
//
// Usage:
//
//	sm := testutil.NewSchemaManager(container, db, log)
//	schema, err := sm.CreateSchema(ctx, "adjust stock")
//	store := repository.NewPostgresStore(schema.DB, time.Second)
func (sm *SchemaManager) CreateSchema(ctx context.Context, name string) (*TestSchema, error) {
	slug := strings.ToLower(strings.NewReplacer(" ", "_", "-", "_", "/", "_").Replace(name))
	schemaName := fmt.Sprintf("test_%s_%s", slug, uuid.NewString()[:8])

	if _, err := sm.db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA %s", schemaName)); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	dsn, err := sm.container.SchemaDSN(schemaName)
	if err != nil {
		return nil, err
	}
	db, err := database.NewWithDSN(dsn, sm.log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to schema %s: %w", schemaName, err)
	}

	s := &TestSchema{Name: schemaName, DB: db}

	sm.mu.Lock()
	sm.schemas = append(sm.schemas, s)
	sm.mu.Unlock()

	return s, nil
}

// CreateSchemaWithMigrations creates a schema and applies the given migrations
func (sm *SchemaManager) CreateSchemaWithMigrations(ctx context.Context, name string, migrations []string) (*TestSchema, error) {
	s, err := sm.CreateSchema(ctx, name)
	if err != nil {
		return nil, err
	}

	for _, migration := range migrations {
		if _, err := s.DB.ExecContext(ctx, migration); err != nil {
			return nil, fmt.Errorf("failed to apply migration: %w", err)
		}
	}

	return s, nil
}

// DropSchema closes the schema's pool and drops it with everything in it
func (sm *SchemaManager) DropSchema(ctx context.Context, s *TestSchema) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	s.DB.Close()

	if _, err := sm.db.ExecContext(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", s.Name)); err != nil {
		return fmt.Errorf("failed to drop schema: %w", err)
	}

	for i, tracked := range sm.schemas {
		if tracked == s {
			sm.schemas = append(sm.schemas[:i], sm.schemas[i+1:]...)
			break
		}
	}

	return nil
}

// Cleanup drops all schemas created by this manager
func (sm *SchemaManager) Cleanup(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var lastErr error
	for _, s := range sm.schemas {
		s.DB.Close()
		if _, err := sm.db.ExecContext(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", s.Name)); err != nil {
			lastErr = err
		}
	}

	sm.schemas = make([]*TestSchema, 0)
	return lastErr
}
