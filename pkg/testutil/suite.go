package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/lotledger/lotledger-backend/pkg/logger"
)

var (
	// Global test container (shared across all integration tests)
	globalContainer *PostgresContainer
	globalDB        *sqlx.DB
	containerOnce   sync.Once
	containerErr    error
)

// IntegrationSuite provides a base for integration tests with real PostgreSQL
type IntegrationSuite struct {
	Container *PostgresContainer
	RawDB     *sqlx.DB
	Schemas   *SchemaManager
	Fixtures  *FixtureFactory
	Logger    *logger.Logger
}

// NewIntegrationSuite creates a new integration test suite.
// Call this in TestMain to set up shared test infrastructure.
//
// Usage:
//
//	var suite *testutil.IntegrationSuite
//
//	func TestMain(m *testing.M) {
//	    ctx := context.Background()
//	    suite, err := testutil.NewIntegrationSuite(ctx)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    code := m.Run()
//	    suite.Cleanup(ctx)
//	    testutil.TerminateContainer(ctx)
//	    os.Exit(code)
//	}
//
//	func TestSomething(t *testing.T) {
//	    schema := suite.SetupSchema(t, ctx, "something", repository.Schema())
//	}
func NewIntegrationSuite(ctx context.Context) (*IntegrationSuite, error) {
	container, db, err := getOrCreateContainer(ctx)
	if err != nil {
		return nil, err
	}

	log := logger.New("test", "test")

	return &IntegrationSuite{
		Container: container,
		RawDB:     db,
		Schemas:   NewSchemaManager(container, db, log),
		Fixtures:  NewFixtureFactory(),
		Logger:    log,
	}, nil
}

// getOrCreateContainer returns the shared test container
func getOrCreateContainer(ctx context.Context) (*PostgresContainer, *sqlx.DB, error) {
	containerOnce.Do(func() {
		globalContainer, containerErr = NewPostgresContainer(ctx, DefaultPostgresConfig())
		if containerErr != nil {
			return
		}
		globalDB, containerErr = globalContainer.Connect(ctx)
	})

	return globalContainer, globalDB, containerErr
}

// SetupSchema creates a migrated schema for a specific test and drops it
// when the test ends. Each test should use its own schema for isolation.
func (s *IntegrationSuite) SetupSchema(t *testing.T, ctx context.Context, name string, migrations ...string) *TestSchema {
	t.Helper()

	schema, err := s.Schemas.CreateSchemaWithMigrations(ctx, name, migrations)
	if err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Schemas.DropSchema(context.Background(), schema); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema.Name, err)
		}
	})

	return schema
}

// Cleanup cleans up all test resources
func (s *IntegrationSuite) Cleanup(ctx context.Context) error {
	// The container is shared; TerminateContainer stops it
	return s.Schemas.Cleanup(ctx)
}

// TerminateContainer terminates the shared container.
// Only call this in TestMain after all tests have completed.
func TerminateContainer(ctx context.Context) {
	if globalDB != nil {
		globalDB.Close()
	}
	if globalContainer != nil {
		globalContainer.Terminate(ctx)
	}
}
