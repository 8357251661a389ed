package pgxv5

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/youssefsiam38/ragpg/driver"
	"github.com/youssefsiam38/ragpg/internal/testutil"
	"github.com/youssefsiam38/ragpg/jobstate"
	"github.com/youssefsiam38/ragpg/storage"
)

// testVector builds a unit-ish embedding of the schema's dimensionality with
// a single distinguishing component.
func testVector(hot int, value float32) []float32 {
	vec := make([]float32, 1536)
	vec[hot] = value
	return vec
}

func TestIntegration_Store_TenantLifecycle(t *testing.T) {
	testutil.RequireIntegration(t)

	db := testutil.NewTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.CleanTables(ctx); err != nil {
		t.Fatalf("Failed to clean tables: %v", err)
	}

	drv := New(db.Pool)
	store := drv.GetStore()

	expires := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	tenant := &storage.Tenant{
		TenantID:         "tenant1",
		DisplayName:      "Clinica Norte",
		BusinessUnit:     "bu-madrid",
		Industry:         "healthcare",
		PriorityTier:     "premium",
		AllowedOps:       []string{"vector_search", "hybrid_search"},
		ConsentExpiresAt: &expires,
		Active:           true,
		Metadata:         map[string]any{"plan": "anual"},
	}

	stored, err := store.UpsertTenant(ctx, tenant)
	if err != nil {
		t.Fatalf("UpsertTenant failed: %v", err)
	}
	if stored.ConsentVersion != 1 {
		t.Errorf("Expected consent version 1 on insert, got %d", stored.ConsentVersion)
	}

	// Re-registering bumps the consent version
	tenant.AllowedOps = []string{"vector_search"}
	stored, err = store.UpsertTenant(ctx, tenant)
	if err != nil {
		t.Fatalf("UpsertTenant update failed: %v", err)
	}
	if stored.ConsentVersion != 2 {
		t.Errorf("Expected consent version 2 after update, got %d", stored.ConsentVersion)
	}
	if len(stored.AllowedOps) != 1 || stored.AllowedOps[0] != "vector_search" {
		t.Errorf("Expected updated allowed ops, got %v", stored.AllowedOps)
	}

	got, err := store.GetTenant(ctx, "tenant1")
	if err != nil {
		t.Fatalf("GetTenant failed: %v", err)
	}
	if got.DisplayName != "Clinica Norte" {
		t.Errorf("Expected display name 'Clinica Norte', got '%s'", got.DisplayName)
	}
	if got.ConsentExpiresAt == nil || !got.ConsentExpiresAt.Equal(expires) {
		t.Errorf("Expected consent expiry %v, got %v", expires, got.ConsentExpiresAt)
	}
	if got.Metadata["plan"] != "anual" {
		t.Errorf("Expected metadata plan 'anual', got '%v'", got.Metadata["plan"])
	}

	// Unknown tenant maps to ErrNotFound
	if _, err := store.GetTenant(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown tenant, got %v", err)
	}

	// Inactive tenants are excluded from the active listing
	inactive := &storage.Tenant{
		TenantID:     "tenant2",
		DisplayName:  "Baja",
		BusinessUnit: "bu-sur",
		Industry:     "retail",
		PriorityTier: "standard",
		AllowedOps:   []string{},
		Active:       false,
	}
	if _, err := store.UpsertTenant(ctx, inactive); err != nil {
		t.Fatalf("UpsertTenant inactive failed: %v", err)
	}

	active, err := store.ListActiveTenants(ctx)
	if err != nil {
		t.Fatalf("ListActiveTenants failed: %v", err)
	}
	if len(active) != 1 || active[0].TenantID != "tenant1" {
		t.Errorf("Expected only tenant1 active, got %d tenants", len(active))
	}
}

func TestIntegration_Store_SessionLifecycle(t *testing.T) {
	testutil.RequireIntegration(t)

	db := testutil.NewTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.CleanTables(ctx); err != nil {
		t.Fatalf("Failed to clean tables: %v", err)
	}

	drv := New(db.Pool)
	store := drv.GetStore()

	now := time.Now().UTC().Truncate(time.Millisecond)
	session := &storage.Session{
		ID:       uuid.New().String(),
		TenantID: "tenant1",
		Context:  "soporte",
		Turns: []storage.Turn{
			{Role: "user", Content: "hola", Timestamp: now},
			{Role: "assistant", Content: "buenas", Timestamp: now},
		},
		Metadata:  map[string]any{"canal": "web"},
		CreatedAt: now,
	}

	if err := store.UpsertSession(ctx, session); err != nil {
		t.Fatalf("UpsertSession failed: %v", err)
	}

	got, err := store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.TenantID != "tenant1" {
		t.Errorf("Expected tenant_id 'tenant1', got '%s'", got.TenantID)
	}
	if len(got.Turns) != 2 {
		t.Fatalf("Expected 2 turns, got %d", len(got.Turns))
	}
	if got.Turns[0].Role != "user" || got.Turns[0].Content != "hola" {
		t.Errorf("Unexpected first turn: %+v", got.Turns[0])
	}
	if got.Metadata["canal"] != "web" {
		t.Errorf("Expected metadata canal 'web', got '%v'", got.Metadata["canal"])
	}

	// Write-through with an appended turn replaces the stored list
	session.Turns = append(session.Turns, storage.Turn{Role: "user", Content: "gracias", Timestamp: now})
	if err := store.UpsertSession(ctx, session); err != nil {
		t.Fatalf("UpsertSession update failed: %v", err)
	}

	got, err = store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession after update failed: %v", err)
	}
	if len(got.Turns) != 3 {
		t.Errorf("Expected 3 turns after update, got %d", len(got.Turns))
	}

	if _, err := store.GetSession(ctx, uuid.New().String()); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown session, got %v", err)
	}
}

func TestIntegration_Store_ToolInvocations(t *testing.T) {
	testutil.RequireIntegration(t)

	db := testutil.NewTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.CleanTables(ctx); err != nil {
		t.Fatalf("Failed to clean tables: %v", err)
	}

	drv := New(db.Pool)
	store := drv.GetStore()

	cost := 0.35
	errMsg := "timeout"
	invocations := []*storage.ToolInvocation{
		{TenantID: "tenant1", ToolName: "vector_search", QueryText: "pago", Parameters: map[string]any{"top_k": 5}, Success: true, LatencyMs: 120, ResultCount: 5, CostCents: &cost},
		{TenantID: "tenant1", ToolName: "vector_search", QueryText: "factura", Parameters: map[string]any{"top_k": 5}, Success: false, LatencyMs: 80, Error: &errMsg},
		{TenantID: "tenant1", ToolName: "graph_search", QueryText: "acme", Parameters: map[string]any{}, Success: true, LatencyMs: 60, ResultCount: 3},
		{TenantID: "tenant2", ToolName: "vector_search", QueryText: "otro", Parameters: map[string]any{}, Success: true, LatencyMs: 40, ResultCount: 1},
	}
	for _, inv := range invocations {
		if err := store.InsertToolInvocation(ctx, inv); err != nil {
			t.Fatalf("InsertToolInvocation failed: %v", err)
		}
	}

	stats, err := store.ToolInvocationStats(ctx, "tenant1", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ToolInvocationStats failed: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("Expected stats for 2 tools, got %d", len(stats))
	}

	// Ordered by tool name: graph_search then vector_search
	if stats[0].ToolName != "graph_search" || stats[1].ToolName != "vector_search" {
		t.Fatalf("Unexpected tool order: %s, %s", stats[0].ToolName, stats[1].ToolName)
	}
	vs := stats[1]
	if vs.Calls != 2 || vs.Successes != 1 {
		t.Errorf("Expected 2 calls 1 success for vector_search, got %d/%d", vs.Calls, vs.Successes)
	}
	if vs.SuccessRate != 0.5 {
		t.Errorf("Expected success rate 0.5, got %f", vs.SuccessRate)
	}
	if vs.AvgLatencyMs != 100 {
		t.Errorf("Expected avg latency 100, got %f", vs.AvgLatencyMs)
	}
	if vs.TotalCostCents != 0.35 {
		t.Errorf("Expected total cost 0.35, got %f", vs.TotalCostCents)
	}
}

func TestIntegration_Store_VectorSearch(t *testing.T) {
	testutil.RequireIntegration(t)

	db := testutil.NewTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.CleanTables(ctx); err != nil {
		t.Fatalf("Failed to clean tables: %v", err)
	}

	drv := New(db.Pool)
	store := drv.GetStore()

	db.SetupTestTenant(ctx, t, "tenant1")
	db.SetupTestTenant(ctx, t, "tenant2")

	doc := &storage.Document{
		DocumentID: "doc1",
		TenantID:   "tenant1",
		SourceType: "pdf",
		Checksum:   "abc123",
		Title:      "Manual de facturacion",
		Language:   "es",
		Status:     storage.DocumentStatusEmbedded,
		Metadata:   map[string]any{"context": "finanzas"},
	}
	if err := store.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("UpsertDocument failed: %v", err)
	}

	otherDoc := &storage.Document{
		DocumentID: "doc2",
		TenantID:   "tenant2",
		SourceType: "pdf",
		Checksum:   "def456",
		Status:     storage.DocumentStatusEmbedded,
	}
	if err := store.UpsertDocument(ctx, otherDoc); err != nil {
		t.Fatalf("UpsertDocument failed: %v", err)
	}

	chunks := []*storage.Chunk{
		{
			ChunkID: "chunk1", DocumentID: "doc1", ChunkIndex: 0, Content: "como pagar una factura",
			TokenCount: 6, Language: "es",
			Embedding: &storage.Embedding{ChunkID: "chunk1", Vector: testVector(0, 1), Model: "test", Dimensions: 1536},
		},
		{
			ChunkID: "chunk2", DocumentID: "doc1", ChunkIndex: 1, Content: "plazos de devolucion",
			TokenCount: 4, Language: "es",
			Embedding: &storage.Embedding{ChunkID: "chunk2", Vector: testVector(1, 1), Model: "test", Dimensions: 1536},
		},
		{
			ChunkID: "chunk3", DocumentID: "doc2", ChunkIndex: 0, Content: "documento de otro tenant",
			TokenCount: 5, Language: "es",
			Embedding: &storage.Embedding{ChunkID: "chunk3", Vector: testVector(0, 1), Model: "test", Dimensions: 1536},
		},
	}
	if err := store.InsertChunks(ctx, chunks); err != nil {
		t.Fatalf("InsertChunks failed: %v", err)
	}

	// Replayed inserts are ignored, not duplicated
	if err := store.InsertChunks(ctx, chunks[:1]); err != nil {
		t.Fatalf("InsertChunks replay failed: %v", err)
	}

	matches, err := store.VectorSearch(ctx, storage.VectorSearchParams{
		TenantID:  "tenant1",
		Embedding: testVector(0, 1),
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("VectorSearch failed: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("Expected 2 matches within tenant1, got %d", len(matches))
	}
	if matches[0].ChunkID != "chunk1" {
		t.Errorf("Expected chunk1 to rank first, got '%s'", matches[0].ChunkID)
	}
	if matches[0].Distance >= matches[1].Distance {
		t.Errorf("Expected ascending distance, got %f then %f", matches[0].Distance, matches[1].Distance)
	}
	if matches[0].DocumentTitle != "Manual de facturacion" {
		t.Errorf("Expected document title on match, got '%s'", matches[0].DocumentTitle)
	}

	// Context filter narrows to documents carrying that metadata value
	matches, err = store.VectorSearch(ctx, storage.VectorSearchParams{
		TenantID:  "tenant1",
		Embedding: testVector(0, 1),
		Context:   "otra-area",
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("VectorSearch with context failed: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("Expected 0 matches for unknown context, got %d", len(matches))
	}
}

func TestIntegration_Store_GraphSearch(t *testing.T) {
	testutil.RequireIntegration(t)

	db := testutil.NewTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.CleanTables(ctx); err != nil {
		t.Fatalf("Failed to clean tables: %v", err)
	}

	drv := New(db.Pool)
	store := drv.GetStore()

	db.SetupTestTenant(ctx, t, "tenant1")

	acme, err := store.UpsertGraphNode(ctx, &storage.GraphNode{
		TenantID: "tenant1", ExternalID: "org-acme", EntityType: "organization",
		Name: "ACME Corp", NameNormalized: "acme corp",
	})
	if err != nil {
		t.Fatalf("UpsertGraphNode failed: %v", err)
	}
	ana, err := store.UpsertGraphNode(ctx, &storage.GraphNode{
		TenantID: "tenant1", ExternalID: "per-ana", EntityType: "person",
		Name: "Ana Ruiz", NameNormalized: "ana ruiz",
	})
	if err != nil {
		t.Fatalf("UpsertGraphNode failed: %v", err)
	}

	// Upserting the same external id keeps the canonical entity id
	again, err := store.UpsertGraphNode(ctx, &storage.GraphNode{
		TenantID: "tenant1", ExternalID: "org-acme", EntityType: "organization",
		Name: "ACME Corporation", NameNormalized: "acme corporation",
	})
	if err != nil {
		t.Fatalf("UpsertGraphNode update failed: %v", err)
	}
	if again.EntityID != acme.EntityID {
		t.Errorf("Expected stable entity id '%s', got '%s'", acme.EntityID, again.EntityID)
	}
	if again.Name != "ACME Corporation" {
		t.Errorf("Expected updated name, got '%s'", again.Name)
	}

	edge := &storage.GraphEdge{
		TenantID:     "tenant1",
		FromEntityID: ana.EntityID,
		ToEntityID:   acme.EntityID,
		Type:         "WORKS_AT",
		Properties:   map[string]any{"desde": "2021"},
	}
	if err := store.UpsertGraphEdge(ctx, edge); err != nil {
		t.Fatalf("UpsertGraphEdge failed: %v", err)
	}

	matches, err := store.GraphSearch(ctx, storage.GraphSearchParams{
		TenantID:        "tenant1",
		QueryNormalized: "ana",
		Limit:           10,
	})
	if err != nil {
		t.Fatalf("GraphSearch failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(matches))
	}
	if matches[0].Start.Name != "Ana Ruiz" || matches[0].End.Name != "ACME Corporation" {
		t.Errorf("Unexpected endpoints: %s -> %s", matches[0].Start.Name, matches[0].End.Name)
	}
	if matches[0].EdgeType != "WORKS_AT" {
		t.Errorf("Expected edge type WORKS_AT, got '%s'", matches[0].EdgeType)
	}
	if matches[0].EdgeProperties["desde"] != "2021" {
		t.Errorf("Expected edge property desde=2021, got %v", matches[0].EdgeProperties)
	}

	// Relationship type filter excludes non-matching edges
	matches, err = store.GraphSearch(ctx, storage.GraphSearchParams{
		TenantID:          "tenant1",
		QueryNormalized:   "ana",
		RelationshipTypes: []string{"LOCATED_IN"},
		Limit:             10,
	})
	if err != nil {
		t.Fatalf("GraphSearch with types failed: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("Expected 0 matches for LOCATED_IN filter, got %d", len(matches))
	}
}

func TestIntegration_Store_JobQueue(t *testing.T) {
	testutil.RequireIntegration(t)

	db := testutil.NewTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.CleanTables(ctx); err != nil {
		t.Fatalf("Failed to clean tables: %v", err)
	}

	drv := New(db.Pool)
	store := drv.GetStore()

	older := &storage.IngestionJob{
		JobID: "job1", TenantID: "tenant1", Checksum: "sum1", StoragePath: "s3://b/1.pdf",
		ConnectorType: "s3", SourceFormat: "pdf", Status: jobstate.StatePending,
		CreatedAt: time.Now().Add(-2 * time.Minute),
	}
	newer := &storage.IngestionJob{
		JobID: "job2", TenantID: "tenant1", Checksum: "sum2", StoragePath: "s3://b/2.pdf",
		ConnectorType: "s3", SourceFormat: "pdf", Status: jobstate.StatePending,
		CreatedAt: time.Now().Add(-1 * time.Minute),
	}
	for _, job := range []*storage.IngestionJob{older, newer} {
		if err := store.InsertJob(ctx, job); err != nil {
			t.Fatalf("InsertJob failed: %v", err)
		}
	}

	// Oldest job is claimed first
	claimed, err := store.DequeueJob(ctx, "worker-a", 30*time.Second)
	if err != nil {
		t.Fatalf("DequeueJob failed: %v", err)
	}
	if claimed == nil || claimed.JobID != "job1" {
		t.Fatalf("Expected job1 claimed first, got %+v", claimed)
	}
	if claimed.Status != jobstate.StateInProgress {
		t.Errorf("Expected in_progress, got '%s'", claimed.Status)
	}
	if claimed.WorkerID == nil || *claimed.WorkerID != "worker-a" {
		t.Errorf("Expected worker-a stamped, got %v", claimed.WorkerID)
	}
	if claimed.VisibilityDeadline == nil || !claimed.VisibilityDeadline.After(time.Now()) {
		t.Errorf("Expected future visibility deadline, got %v", claimed.VisibilityDeadline)
	}

	// Second claim gets the other job, never the same one
	second, err := store.DequeueJob(ctx, "worker-b", 30*time.Second)
	if err != nil {
		t.Fatalf("DequeueJob failed: %v", err)
	}
	if second == nil || second.JobID != "job2" {
		t.Fatalf("Expected job2 on second claim, got %+v", second)
	}

	// Empty queue returns nil without error
	empty, err := store.DequeueJob(ctx, "worker-c", 30*time.Second)
	if err != nil {
		t.Fatalf("DequeueJob on empty queue failed: %v", err)
	}
	if empty != nil {
		t.Fatalf("Expected nil on empty queue, got %+v", empty)
	}

	// Complete the first job
	done, err := store.CompleteJob(ctx, "job1", "doc1")
	if err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}
	if done.Status != jobstate.StateCompleted {
		t.Errorf("Expected completed, got '%s'", done.Status)
	}
	if done.DocumentID == nil || *done.DocumentID != "doc1" {
		t.Errorf("Expected document id 'doc1', got %v", done.DocumentID)
	}
	if done.VisibilityDeadline != nil {
		t.Errorf("Expected cleared visibility deadline, got %v", done.VisibilityDeadline)
	}

	// Completing again is a state transition failure, not a missing job
	if _, err := store.CompleteJob(ctx, "job1", "doc1"); !errors.Is(err, storage.ErrStateTransitionFailed) {
		t.Errorf("Expected ErrStateTransitionFailed, got %v", err)
	}
	if _, err := store.CompleteJob(ctx, "missing", "doc1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing job, got %v", err)
	}

	// Fail the second job with attempts remaining
	failed, err := store.FailJob(ctx, "job2", "extractor crashed", 3)
	if err != nil {
		t.Fatalf("FailJob failed: %v", err)
	}
	if failed.Status != jobstate.StateRetry {
		t.Errorf("Expected retry, got '%s'", failed.Status)
	}
	if failed.RetryCount != 1 {
		t.Errorf("Expected retry count 1, got %d", failed.RetryCount)
	}
	if failed.Error == nil || *failed.Error != "extractor crashed" {
		t.Errorf("Expected recorded error, got %v", failed.Error)
	}

	// A retry job is claimable again
	reclaimed, err := store.DequeueJob(ctx, "worker-a", 30*time.Second)
	if err != nil {
		t.Fatalf("DequeueJob of retry failed: %v", err)
	}
	if reclaimed == nil || reclaimed.JobID != "job2" {
		t.Fatalf("Expected job2 reclaimed, got %+v", reclaimed)
	}

	// Second failure exhausts maxRetries=2 (1+1 == 2)
	failed, err = store.FailJob(ctx, "job2", "extractor crashed again", 2)
	if err != nil {
		t.Fatalf("FailJob failed: %v", err)
	}
	if failed.Status != jobstate.StateFailed {
		t.Errorf("Expected failed, got '%s'", failed.Status)
	}
	if failed.RetryCount != 2 {
		t.Errorf("Expected retry count 2, got %d", failed.RetryCount)
	}
	if failed.CompletedAt == nil {
		t.Errorf("Expected completed_at on terminal failure")
	}

	// FindActiveJobByChecksum only sees in_progress and completed
	found, err := store.FindActiveJobByChecksum(ctx, "tenant1", "sum1")
	if err != nil {
		t.Fatalf("FindActiveJobByChecksum failed: %v", err)
	}
	if found.JobID != "job1" {
		t.Errorf("Expected job1, got '%s'", found.JobID)
	}
	if _, err := store.FindActiveJobByChecksum(ctx, "tenant1", "sum2"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for failed job checksum, got %v", err)
	}
}

func TestIntegration_Store_VisibilityRedelivery(t *testing.T) {
	testutil.RequireIntegration(t)

	db := testutil.NewTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.CleanTables(ctx); err != nil {
		t.Fatalf("Failed to clean tables: %v", err)
	}

	drv := New(db.Pool)
	store := drv.GetStore()

	job := &storage.IngestionJob{
		JobID: "job1", TenantID: "tenant1", Checksum: "sum1", StoragePath: "s3://b/1.pdf",
		Status: jobstate.StatePending, CreatedAt: time.Now(),
	}
	if err := store.InsertJob(ctx, job); err != nil {
		t.Fatalf("InsertJob failed: %v", err)
	}

	// Claim with a sub-second visibility so the deadline lapses quickly
	claimed, err := store.DequeueJob(ctx, "worker-a", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("DequeueJob failed: %v", err)
	}
	if claimed == nil {
		t.Fatal("Expected a claimed job")
	}

	// Still invisible while the lease holds
	invisible, err := store.DequeueJob(ctx, "worker-b", 30*time.Second)
	if err != nil {
		t.Fatalf("DequeueJob during lease failed: %v", err)
	}
	if invisible != nil {
		t.Fatalf("Expected no job during visibility window, got %+v", invisible)
	}

	time.Sleep(200 * time.Millisecond)

	// Redelivered to a second worker without touching the retry count
	redelivered, err := store.DequeueJob(ctx, "worker-b", 30*time.Second)
	if err != nil {
		t.Fatalf("DequeueJob after expiry failed: %v", err)
	}
	if redelivered == nil || redelivered.JobID != "job1" {
		t.Fatalf("Expected job1 redelivered, got %+v", redelivered)
	}
	if redelivered.RetryCount != 0 {
		t.Errorf("Expected retry count unchanged on redelivery, got %d", redelivered.RetryCount)
	}
	if redelivered.WorkerID == nil || *redelivered.WorkerID != "worker-b" {
		t.Errorf("Expected worker-b stamped on redelivery, got %v", redelivered.WorkerID)
	}
}

func TestIntegration_Store_JobStats(t *testing.T) {
	testutil.RequireIntegration(t)

	db := testutil.NewTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.CleanTables(ctx); err != nil {
		t.Fatalf("Failed to clean tables: %v", err)
	}

	drv := New(db.Pool)
	store := drv.GetStore()

	oldPending := time.Now().Add(-48 * time.Hour)
	jobs := []*storage.IngestionJob{
		{JobID: "j1", TenantID: "t1", Checksum: "c1", StoragePath: "p1", Status: jobstate.StatePending, CreatedAt: oldPending},
		{JobID: "j2", TenantID: "t1", Checksum: "c2", StoragePath: "p2", Status: jobstate.StatePending, CreatedAt: time.Now()},
		{JobID: "j3", TenantID: "t1", Checksum: "c3", StoragePath: "p3", Status: jobstate.StatePending, CreatedAt: time.Now()},
	}
	for _, job := range jobs {
		if err := store.InsertJob(ctx, job); err != nil {
			t.Fatalf("InsertJob failed: %v", err)
		}
	}

	if _, err := store.DequeueJob(ctx, "w", time.Minute); err != nil {
		t.Fatalf("DequeueJob failed: %v", err)
	}
	if _, err := store.CompleteJob(ctx, "j1", "doc"); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}

	// Window covers only the recent jobs, but the oldest pending marker is global
	stats, err := store.JobStats(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("JobStats failed: %v", err)
	}
	if stats.Pending != 2 {
		t.Errorf("Expected 2 pending in window, got %d", stats.Pending)
	}
	if stats.Completed != 0 {
		t.Errorf("Expected completed j1 outside window, got %d", stats.Completed)
	}
	if stats.Total != 2 {
		t.Errorf("Expected 2 total in window, got %d", stats.Total)
	}
	if stats.OldestPendingAt == nil {
		t.Fatal("Expected oldest pending marker")
	}

	// Cleanup removes terminal jobs older than the cutoff
	deleted, err := store.DeleteJobsOlderThan(ctx, time.Now().Add(time.Hour), []jobstate.State{jobstate.StateCompleted})
	if err != nil {
		t.Fatalf("DeleteJobsOlderThan failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted job, got %d", deleted)
	}
}

func TestIntegration_Store_Transaction(t *testing.T) {
	testutil.RequireIntegration(t)

	db := testutil.NewTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.CleanTables(ctx); err != nil {
		t.Fatalf("Failed to clean tables: %v", err)
	}

	drv := New(db.Pool)
	store := drv.GetStore()

	// Committed write survives
	execTx, err := drv.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	committedID := uuid.New().String()
	txCtx := driver.WithExecutor(ctx, execTx)
	if err := store.UpsertSession(txCtx, &storage.Session{ID: committedID, TenantID: "tenant1"}); err != nil {
		t.Fatalf("UpsertSession in tx failed: %v", err)
	}
	if err := execTx.Commit(ctx); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if _, err := store.GetSession(ctx, committedID); err != nil {
		t.Errorf("Session should exist after commit: %v", err)
	}

	// Rolled-back write does not
	execTx2, err := drv.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	rolledBackID := uuid.New().String()
	txCtx2 := driver.WithExecutor(ctx, execTx2)
	if err := store.UpsertSession(txCtx2, &storage.Session{ID: rolledBackID, TenantID: "tenant1"}); err != nil {
		t.Fatalf("UpsertSession in tx failed: %v", err)
	}
	if err := execTx2.Rollback(ctx); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	if _, err := store.GetSession(ctx, rolledBackID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Session should not exist after rollback, got %v", err)
	}
}

func TestIntegration_Driver_NestedTransactions(t *testing.T) {
	testutil.RequireIntegration(t)

	db := testutil.NewTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.CleanTables(ctx); err != nil {
		t.Fatalf("Failed to clean tables: %v", err)
	}

	drv := New(db.Pool)
	store := drv.GetStore()

	outerTx, err := drv.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin outer failed: %v", err)
	}
	defer outerTx.Rollback(ctx)

	outerID := uuid.New().String()
	outerCtx := driver.WithExecutor(ctx, outerTx)
	if err := store.UpsertSession(outerCtx, &storage.Session{ID: outerID, TenantID: "tenant1"}); err != nil {
		t.Fatalf("UpsertSession in outer tx failed: %v", err)
	}

	// Inner savepoint rolls back independently
	innerTx, err := outerTx.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin inner failed: %v", err)
	}

	innerID := uuid.New().String()
	innerCtx := driver.WithExecutor(ctx, innerTx)
	if err := store.UpsertSession(innerCtx, &storage.Session{ID: innerID, TenantID: "tenant1"}); err != nil {
		t.Fatalf("UpsertSession in inner tx failed: %v", err)
	}
	if err := innerTx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback inner failed: %v", err)
	}

	if err := outerTx.Commit(ctx); err != nil {
		t.Fatalf("Commit outer failed: %v", err)
	}

	if _, err := store.GetSession(ctx, outerID); err != nil {
		t.Errorf("Outer session should exist after commit: %v", err)
	}
	if _, err := store.GetSession(ctx, innerID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Inner session should not exist after inner rollback, got %v", err)
	}
}

func TestIntegration_Store_Leadership(t *testing.T) {
	testutil.RequireIntegration(t)

	db := testutil.NewTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.CleanTables(ctx); err != nil {
		t.Fatalf("Failed to clean tables: %v", err)
	}

	drv := New(db.Pool)
	store := drv.GetStore()

	ttl := 30 * time.Second

	elected, err := store.LeaderAttemptElect(ctx, "instance-1", ttl)
	if err != nil {
		t.Fatalf("LeaderAttemptElect failed: %v", err)
	}
	if !elected {
		t.Error("First instance should become leader")
	}

	elected, err = store.LeaderAttemptElect(ctx, "instance-2", ttl)
	if err != nil {
		t.Fatalf("LeaderAttemptElect failed: %v", err)
	}
	if elected {
		t.Error("Second instance should NOT become leader while first holds lease")
	}

	reelected, err := store.LeaderAttemptReelect(ctx, "instance-1", ttl)
	if err != nil {
		t.Fatalf("LeaderAttemptReelect failed: %v", err)
	}
	if !reelected {
		t.Error("First instance should succeed in re-election")
	}

	reelected, err = store.LeaderAttemptReelect(ctx, "instance-2", ttl)
	if err != nil {
		t.Fatalf("LeaderAttemptReelect failed: %v", err)
	}
	if reelected {
		t.Error("Second instance should NOT succeed in re-election")
	}

	if err := store.LeaderResign(ctx, "instance-1"); err != nil {
		t.Fatalf("LeaderResign failed: %v", err)
	}

	elected, err = store.LeaderAttemptElect(ctx, "instance-2", ttl)
	if err != nil {
		t.Fatalf("LeaderAttemptElect failed: %v", err)
	}
	if !elected {
		t.Error("Second instance should become leader after first resigned")
	}
}

func TestIntegration_Store_Instances(t *testing.T) {
	testutil.RequireIntegration(t)

	db := testutil.NewTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.CleanTables(ctx); err != nil {
		t.Fatalf("Failed to clean tables: %v", err)
	}

	drv := New(db.Pool)
	store := drv.GetStore()

	instanceID := uuid.New().String()
	instance := &storage.Instance{
		InstanceID:      instanceID,
		Hostname:        "test-host",
		StartedAt:       time.Now(),
		LastHeartbeatAt: time.Now(),
		Metadata:        map[string]any{"env": "test"},
	}
	if err := store.RegisterInstance(ctx, instance); err != nil {
		t.Fatalf("RegisterInstance failed: %v", err)
	}

	if err := store.UpdateInstanceHeartbeat(ctx, instanceID); err != nil {
		t.Fatalf("UpdateInstanceHeartbeat failed: %v", err)
	}

	// A recent heartbeat is not stale
	deleted, err := store.DeleteStaleInstances(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("DeleteStaleInstances failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("Expected 0 stale instances, got %d", deleted)
	}

	if err := store.DeregisterInstance(ctx, instanceID); err != nil {
		t.Fatalf("DeregisterInstance failed: %v", err)
	}

	// Heartbeat on a gone instance reports not found
	if err := store.UpdateInstanceHeartbeat(ctx, instanceID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after deregister, got %v", err)
	}
}
