// Package testutil provides test utilities for ragpg
package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/youssefsiam38/ragpg/storage"
)

// TestDB wraps a PostgreSQL connection pool for testing
type TestDB struct {
	Pool *pgxpool.Pool
}

// NewTestDB creates a test database connection from DATABASE_URL env var
// Returns nil if DATABASE_URL is not set (for unit tests)
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Fatalf("Failed to ping database: %v", err)
	}

	db := &TestDB{Pool: pool}

	// The schema is idempotent, so a fresh database provisions itself on
	// the first test run.
	if err := db.ApplySchema(ctx); err != nil {
		pool.Close()
		t.Fatalf("Failed to apply schema: %v", err)
	}

	return db
}

// Close closes the database connection
func (db *TestDB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// ApplySchema creates the ragpg tables when they don't exist yet. Requires
// the pgvector extension to be installable by the test role.
func (db *TestDB) ApplySchema(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, storage.Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// CleanTables truncates all tables for test isolation
func (db *TestDB) CleanTables(ctx context.Context) error {
	tables := []string{
		"ragpg_tool_invocations",
		"ragpg_ingestion_jobs",
		"ragpg_graph_edges",
		"ragpg_graph_nodes",
		"ragpg_embeddings",
		"ragpg_chunks",
		"ragpg_documents",
		"ragpg_sessions",
		"ragpg_tenants",
		"ragpg_instances",
		"ragpg_leadership",
	}

	for _, table := range tables {
		_, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
		if err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table, err)
		}
	}

	return nil
}

// SetupTestTenant registers a tenant row with full consent and returns its ID
func (db *TestDB) SetupTestTenant(ctx context.Context, t *testing.T, tenantID string) string {
	t.Helper()

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO ragpg_tenants (tenant_id, display_name, business_unit, industry, priority_tier,
		                           allowed_ops, active, metadata, created_at, updated_at)
		VALUES ($1, $1, 'bu-test', 'testing', 'standard',
		        '["retrieve","ingest","export","analyze"]',
		        TRUE, '{}', NOW(), NOW())
		ON CONFLICT (tenant_id) DO NOTHING
	`, tenantID)
	if err != nil {
		t.Fatalf("Failed to create test tenant: %v", err)
	}

	return tenantID
}

// RequireIntegration skips the test if not running integration tests
func RequireIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
}
