package databasesql

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/youssefsiam38/ragpg/driver"
	"github.com/youssefsiam38/ragpg/jobstate"
	"github.com/youssefsiam38/ragpg/storage"
)

func getTestDB(t *testing.T) *sql.DB {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
		return nil
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to ping: %v", err)
	}

	return db
}

func cleanTables(ctx context.Context, db *sql.DB) error {
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
		_, err := db.ExecContext(ctx, "TRUNCATE TABLE "+table+" CASCADE")
		if err != nil {
			return err
		}
	}
	return nil
}

func insertTestTenant(ctx context.Context, t *testing.T, store storage.Store, tenantID string) {
	t.Helper()
	_, err := store.UpsertTenant(ctx, &storage.Tenant{
		TenantID:     tenantID,
		DisplayName:  "Test Tenant " + tenantID,
		BusinessUnit: "retail",
		Industry:     "insurance",
		PriorityTier: "standard",
		AllowedOps:   []string{"vector_search", "graph_search", "hybrid_search", "checkpoint_lookup", "ingest"},
		Active:       true,
	})
	if err != nil {
		t.Fatalf("UpsertTenant failed: %v", err)
	}
}

// testVector builds a 1536-dim vector with a single hot component.
func testVector(hot int, value float32) []float32 {
	v := make([]float32, 1536)
	v[hot] = value
	return v
}

func TestIntegration_DatabaseSQL_Store_TenantSessionLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	db := getTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	ctx := context.Background()
	if err := cleanTables(ctx, db); err != nil {
		t.Fatalf("Failed to clean tables: %v", err)
	}

	drv := New(db)
	store := drv.GetStore()

	tenant, err := store.UpsertTenant(ctx, &storage.Tenant{
		TenantID:     "acme",
		DisplayName:  "Acme Seguros",
		BusinessUnit: "retail",
		Industry:     "insurance",
		PriorityTier: "standard",
		AllowedOps:   []string{"vector_search"},
		Active:       true,
	})
	if err != nil {
		t.Fatalf("UpsertTenant failed: %v", err)
	}
	if tenant.ConsentVersion != 1 {
		t.Errorf("Expected consent version 1 on insert, got %d", tenant.ConsentVersion)
	}

	// Re-registering bumps the consent version.
	tenant, err = store.UpsertTenant(ctx, &storage.Tenant{
		TenantID:     "acme",
		DisplayName:  "Acme Seguros",
		BusinessUnit: "retail",
		Industry:     "insurance",
		PriorityTier: "premium",
		AllowedOps:   []string{"vector_search", "graph_search"},
		Active:       true,
	})
	if err != nil {
		t.Fatalf("UpsertTenant update failed: %v", err)
	}
	if tenant.ConsentVersion != 2 {
		t.Errorf("Expected consent version 2 after update, got %d", tenant.ConsentVersion)
	}
	if tenant.PriorityTier != "premium" {
		t.Errorf("Expected priority tier premium, got %s", tenant.PriorityTier)
	}

	if _, err := store.GetTenant(ctx, "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing tenant, got %v", err)
	}

	sessionID := uuid.New().String()
	session := &storage.Session{
		ID:       sessionID,
		TenantID: "acme",
		Context:  "claims",
		Turns: []storage.Turn{
			{Role: "user", Content: "hola", Timestamp: time.Now().UTC().Truncate(time.Millisecond)},
			{Role: "assistant", Content: "buenos dias", Timestamp: time.Now().UTC().Truncate(time.Millisecond)},
		},
		Metadata: map[string]any{"channel": "whatsapp"},
	}
	if err := store.UpsertSession(ctx, session); err != nil {
		t.Fatalf("UpsertSession failed: %v", err)
	}

	got, err := store.GetSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.TenantID != "acme" {
		t.Errorf("Expected tenant acme, got %s", got.TenantID)
	}
	if got.Context != "claims" {
		t.Errorf("Expected context claims, got %s", got.Context)
	}
	if len(got.Turns) != 2 {
		t.Fatalf("Expected 2 turns, got %d", len(got.Turns))
	}
	if got.Turns[1].Content != "buenos dias" {
		t.Errorf("Expected second turn content preserved, got %q", got.Turns[1].Content)
	}

	if _, err := store.GetSession(ctx, uuid.New().String()); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing session, got %v", err)
	}
}

func TestIntegration_DatabaseSQL_Store_VectorSearch(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	db := getTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	ctx := context.Background()
	if err := cleanTables(ctx, db); err != nil {
		t.Fatalf("Failed to clean tables: %v", err)
	}

	drv := New(db)
	store := drv.GetStore()
	insertTestTenant(ctx, t, store, "acme")

	doc := &storage.Document{
		DocumentID: uuid.New().String(),
		TenantID:   "acme",
		SourceType: "policy",
		Checksum:   "sha256:doc1",
		Title:      "Condiciones Generales",
		Language:   "es",
		Status:     storage.DocumentStatusEmbedded,
		Metadata:   map[string]any{"context": "claims"},
	}
	if err := store.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("UpsertDocument failed: %v", err)
	}

	chunks := []*storage.Chunk{
		{
			ChunkID:    uuid.New().String(),
			DocumentID: doc.DocumentID,
			ChunkIndex: 0,
			Content:    "cobertura de incendio",
			TokenCount: 4,
			Language:   "es",
			SpanStart:  0,
			SpanEnd:    21,
			Embedding: &storage.Embedding{
				Vector:     testVector(0, 1),
				Model:      "text-embedding-3-small",
				Dimensions: 1536,
			},
		},
		{
			ChunkID:    uuid.New().String(),
			DocumentID: doc.DocumentID,
			ChunkIndex: 1,
			Content:    "exclusiones de la poliza",
			TokenCount: 4,
			Language:   "es",
			SpanStart:  21,
			SpanEnd:    45,
			Embedding: &storage.Embedding{
				Vector:     testVector(1, 1),
				Model:      "text-embedding-3-small",
				Dimensions: 1536,
			},
		},
	}
	if err := store.InsertChunks(ctx, chunks); err != nil {
		t.Fatalf("InsertChunks failed: %v", err)
	}

	// Replay must be a no-op.
	if err := store.InsertChunks(ctx, chunks); err != nil {
		t.Fatalf("InsertChunks replay failed: %v", err)
	}

	matches, err := store.VectorSearch(ctx, storage.VectorSearchParams{
		TenantID:  "acme",
		Embedding: testVector(0, 1),
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("VectorSearch failed: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("Expected 2 matches, got %d", len(matches))
	}
	if matches[0].ChunkIndex != 0 {
		t.Errorf("Expected exact-match chunk first, got index %d", matches[0].ChunkIndex)
	}
	if matches[0].Distance > matches[1].Distance {
		t.Errorf("Expected ascending distance, got %f then %f", matches[0].Distance, matches[1].Distance)
	}
	if matches[0].DocumentTitle != "Condiciones Generales" {
		t.Errorf("Expected document title materialized, got %q", matches[0].DocumentTitle)
	}

	// Context filter matches document metadata for equality.
	filtered, err := store.VectorSearch(ctx, storage.VectorSearchParams{
		TenantID:  "acme",
		Embedding: testVector(0, 1),
		Context:   "renewals",
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("VectorSearch with context failed: %v", err)
	}
	if len(filtered) != 0 {
		t.Errorf("Expected 0 matches for non-matching context, got %d", len(filtered))
	}
}

func TestIntegration_DatabaseSQL_Store_GraphSearch(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	db := getTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	ctx := context.Background()
	if err := cleanTables(ctx, db); err != nil {
		t.Fatalf("Failed to clean tables: %v", err)
	}

	drv := New(db)
	store := drv.GetStore()
	insertTestTenant(ctx, t, store, "acme")

	ana, err := store.UpsertGraphNode(ctx, &storage.GraphNode{
		TenantID:       "acme",
		ExternalID:     "person-ana",
		EntityType:     "person",
		Name:           "Ana García",
		NameNormalized: "ana garcia",
	})
	if err != nil {
		t.Fatalf("UpsertGraphNode failed: %v", err)
	}

	broker, err := store.UpsertGraphNode(ctx, &storage.GraphNode{
		TenantID:       "acme",
		ExternalID:     "org-broker",
		EntityType:     "organization",
		Name:           "Corredores del Sur",
		NameNormalized: "corredores del sur",
	})
	if err != nil {
		t.Fatalf("UpsertGraphNode failed: %v", err)
	}

	err = store.UpsertGraphEdge(ctx, &storage.GraphEdge{
		TenantID:     "acme",
		FromEntityID: ana.EntityID,
		ToEntityID:   broker.EntityID,
		Type:         "WORKS_AT",
		Properties:   map[string]any{"since": "2021"},
	})
	if err != nil {
		t.Fatalf("UpsertGraphEdge failed: %v", err)
	}

	matches, err := store.GraphSearch(ctx, storage.GraphSearchParams{
		TenantID:        "acme",
		QueryNormalized: "ana",
		Limit:           10,
	})
	if err != nil {
		t.Fatalf("GraphSearch failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(matches))
	}
	if matches[0].EdgeType != "WORKS_AT" {
		t.Errorf("Expected WORKS_AT edge, got %s", matches[0].EdgeType)
	}
	if matches[0].End.Name != "Corredores del Sur" {
		t.Errorf("Expected end node materialized, got %q", matches[0].End.Name)
	}
	if matches[0].EdgeProperties["since"] != "2021" {
		t.Errorf("Expected edge properties preserved, got %v", matches[0].EdgeProperties)
	}

	// Type filter excludes non-matching relationship types.
	filtered, err := store.GraphSearch(ctx, storage.GraphSearchParams{
		TenantID:          "acme",
		QueryNormalized:   "ana",
		RelationshipTypes: []string{"OWNS_POLICY"},
		Limit:             10,
	})
	if err != nil {
		t.Fatalf("GraphSearch with type filter failed: %v", err)
	}
	if len(filtered) != 0 {
		t.Errorf("Expected 0 matches with type filter, got %d", len(filtered))
	}
}

func TestIntegration_DatabaseSQL_Store_JobQueue(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	db := getTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	ctx := context.Background()
	if err := cleanTables(ctx, db); err != nil {
		t.Fatalf("Failed to clean tables: %v", err)
	}

	drv := New(db)
	store := drv.GetStore()
	insertTestTenant(ctx, t, store, "acme")

	job := &storage.IngestionJob{
		JobID:         uuid.New().String(),
		TenantID:      "acme",
		Checksum:      "sha256:file1",
		StoragePath:   "s3://bucket/file1.pdf",
		ConnectorType: "s3",
		SourceFormat:  "pdf",
		Status:        jobstate.StatePending,
	}
	if err := store.InsertJob(ctx, job); err != nil {
		t.Fatalf("InsertJob failed: %v", err)
	}

	claimed, err := store.DequeueJob(ctx, "worker-1", 30*time.Second)
	if err != nil {
		t.Fatalf("DequeueJob failed: %v", err)
	}
	if claimed == nil {
		t.Fatal("Expected a claimed job")
	}
	if claimed.JobID != job.JobID {
		t.Errorf("Expected job %s, got %s", job.JobID, claimed.JobID)
	}
	if claimed.Status != jobstate.StateInProgress {
		t.Errorf("Expected in_progress, got %s", claimed.Status)
	}
	if claimed.WorkerID == nil || *claimed.WorkerID != "worker-1" {
		t.Errorf("Expected worker-1 stamped, got %v", claimed.WorkerID)
	}

	// Empty queue returns nil, nil.
	empty, err := store.DequeueJob(ctx, "worker-2", 30*time.Second)
	if err != nil {
		t.Fatalf("DequeueJob on empty queue failed: %v", err)
	}
	if empty != nil {
		t.Errorf("Expected nil on empty queue, got %+v", empty)
	}

	docID := uuid.New().String()
	completed, err := store.CompleteJob(ctx, job.JobID, docID)
	if err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}
	if completed.Status != jobstate.StateCompleted {
		t.Errorf("Expected completed, got %s", completed.Status)
	}
	if completed.DocumentID == nil || *completed.DocumentID != docID {
		t.Errorf("Expected document id %s, got %v", docID, completed.DocumentID)
	}

	// Completing twice fails the state guard.
	if _, err := store.CompleteJob(ctx, job.JobID, docID); !errors.Is(err, storage.ErrStateTransitionFailed) {
		t.Errorf("Expected ErrStateTransitionFailed, got %v", err)
	}
	if _, err := store.CompleteJob(ctx, uuid.New().String(), docID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing job, got %v", err)
	}

	// Failure path: attempts remain, so the job goes to retry.
	job2 := &storage.IngestionJob{
		JobID:         uuid.New().String(),
		TenantID:      "acme",
		Checksum:      "sha256:file2",
		StoragePath:   "s3://bucket/file2.pdf",
		ConnectorType: "s3",
		SourceFormat:  "pdf",
		Status:        jobstate.StatePending,
	}
	if err := store.InsertJob(ctx, job2); err != nil {
		t.Fatalf("InsertJob failed: %v", err)
	}
	if _, err := store.DequeueJob(ctx, "worker-1", 30*time.Second); err != nil {
		t.Fatalf("DequeueJob failed: %v", err)
	}
	failed, err := store.FailJob(ctx, job2.JobID, "parse error", 3)
	if err != nil {
		t.Fatalf("FailJob failed: %v", err)
	}
	if failed.Status != jobstate.StateRetry {
		t.Errorf("Expected retry, got %s", failed.Status)
	}
	if failed.RetryCount != 1 {
		t.Errorf("Expected retry count 1, got %d", failed.RetryCount)
	}

	// Dedup lookup only sees in_progress and completed jobs.
	found, err := store.FindActiveJobByChecksum(ctx, "acme", "sha256:file1")
	if err != nil {
		t.Fatalf("FindActiveJobByChecksum failed: %v", err)
	}
	if found.JobID != job.JobID {
		t.Errorf("Expected completed job found, got %s", found.JobID)
	}
	if _, err := store.FindActiveJobByChecksum(ctx, "acme", "sha256:file2"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for retrying job, got %v", err)
	}

	// Old terminal jobs are pruned by state list.
	deleted, err := store.DeleteJobsOlderThan(ctx, time.Now().Add(time.Hour), []jobstate.State{jobstate.StateCompleted})
	if err != nil {
		t.Fatalf("DeleteJobsOlderThan failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted job, got %d", deleted)
	}
}

func TestIntegration_DatabaseSQL_Driver_SavepointTransactions(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	db := getTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	ctx := context.Background()
	if err := cleanTables(ctx, db); err != nil {
		t.Fatalf("Failed to clean tables: %v", err)
	}

	drv := New(db)
	store := drv.GetStore()
	insertTestTenant(ctx, t, store, "acme")

	outerID := uuid.New().String()
	innerID := uuid.New().String()

	outer, err := drv.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	txCtx := driver.WithExecutor(ctx, outer)

	err = store.UpsertSession(txCtx, &storage.Session{
		ID:       outerID,
		TenantID: "acme",
		Turns:    []storage.Turn{},
	})
	if err != nil {
		t.Fatalf("UpsertSession in outer tx failed: %v", err)
	}

	// Inner transaction becomes a savepoint.
	inner, err := outer.Begin(ctx)
	if err != nil {
		t.Fatalf("Inner Begin failed: %v", err)
	}
	innerCtx := driver.WithExecutor(ctx, inner)

	err = store.UpsertSession(innerCtx, &storage.Session{
		ID:       innerID,
		TenantID: "acme",
		Turns:    []storage.Turn{},
	})
	if err != nil {
		t.Fatalf("UpsertSession in inner tx failed: %v", err)
	}

	if err := inner.Rollback(ctx); err != nil {
		t.Fatalf("Inner rollback failed: %v", err)
	}
	if err := outer.Commit(ctx); err != nil {
		t.Fatalf("Outer commit failed: %v", err)
	}

	if _, err := store.GetSession(ctx, outerID); err != nil {
		t.Errorf("Expected outer session to survive, got %v", err)
	}
	if _, err := store.GetSession(ctx, innerID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected inner session rolled back, got %v", err)
	}
}
