package databasesql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/youssefsiam38/ragpg/driver"
	"github.com/youssefsiam38/ragpg/jobstate"
	"github.com/youssefsiam38/ragpg/storage"
)

// Store implements storage.Store using the databasesql driver.
type Store struct {
	driver *Driver
}

// NewStore creates a new databasesql Store.
func NewStore(d *Driver) *Store {
	return &Store{driver: d}
}

// getExecutor returns the executor from context if present, otherwise the default pool executor.
func (s *Store) getExecutor(ctx context.Context) driver.Executor {
	if exec := driver.ExecutorFromContext(ctx); exec != nil {
		return exec
	}
	return s.driver.GetExecutor()
}

// =============================================================================
// Tenant operations
// =============================================================================

// UpsertTenant inserts or updates a tenant registration. Updates bump the
// consent version; inserts start it at 1.
func (s *Store) UpsertTenant(ctx context.Context, tenant *storage.Tenant) (*storage.Tenant, error) {
	allowedOpsJSON, err := json.Marshal(tenant.AllowedOps)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal allowed ops: %w", err)
	}
	metadataJSON, err := json.Marshal(tenant.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO ragpg_tenants (tenant_id, display_name, business_unit, department, industry,
		                           priority_tier, allowed_ops, consent_expires_at, consent_version,
		                           active, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $10, NOW(), NOW())
		ON CONFLICT (tenant_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			business_unit = EXCLUDED.business_unit,
			department = EXCLUDED.department,
			industry = EXCLUDED.industry,
			priority_tier = EXCLUDED.priority_tier,
			allowed_ops = EXCLUDED.allowed_ops,
			consent_expires_at = EXCLUDED.consent_expires_at,
			consent_version = ragpg_tenants.consent_version + 1,
			active = EXCLUDED.active,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING tenant_id, display_name, business_unit, department, industry, priority_tier,
		          allowed_ops, consent_expires_at, consent_version, active, metadata, created_at, updated_at
	`

	row := s.getExecutor(ctx).QueryRow(ctx, query,
		tenant.TenantID,
		tenant.DisplayName,
		tenant.BusinessUnit,
		tenant.Department,
		tenant.Industry,
		tenant.PriorityTier,
		allowedOpsJSON,
		tenant.ConsentExpiresAt,
		tenant.Active,
		metadataJSON,
	)

	updated, err := scanTenant(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert tenant: %w", err)
	}
	return updated, nil
}

// GetTenant retrieves a tenant by ID.
func (s *Store) GetTenant(ctx context.Context, tenantID string) (*storage.Tenant, error) {
	query := `
		SELECT tenant_id, display_name, business_unit, department, industry, priority_tier,
		       allowed_ops, consent_expires_at, consent_version, active, metadata, created_at, updated_at
		FROM ragpg_tenants
		WHERE tenant_id = $1
	`

	tenant, err := scanTenant(s.getExecutor(ctx).QueryRow(ctx, query, tenantID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return tenant, nil
}

// ListActiveTenants returns all active tenants ordered by ID.
func (s *Store) ListActiveTenants(ctx context.Context) ([]*storage.Tenant, error) {
	query := `
		SELECT tenant_id, display_name, business_unit, department, industry, priority_tier,
		       allowed_ops, consent_expires_at, consent_version, active, metadata, created_at, updated_at
		FROM ragpg_tenants
		WHERE active
		ORDER BY tenant_id
	`

	rows, err := s.getExecutor(ctx).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*storage.Tenant
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, tenant)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenants: %w", err)
	}

	return tenants, nil
}

// scanTenant scans one tenant row. The Scan error is returned unwrapped so
// callers can map sql.ErrNoRows.
func scanTenant(row driver.Row) (*storage.Tenant, error) {
	var tenant storage.Tenant
	var allowedOpsJSON, metadataJSON []byte

	err := row.Scan(
		&tenant.TenantID,
		&tenant.DisplayName,
		&tenant.BusinessUnit,
		&tenant.Department,
		&tenant.Industry,
		&tenant.PriorityTier,
		&allowedOpsJSON,
		&tenant.ConsentExpiresAt,
		&tenant.ConsentVersion,
		&tenant.Active,
		&metadataJSON,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(allowedOpsJSON, &tenant.AllowedOps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal allowed ops: %w", err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &tenant.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &tenant, nil
}

// =============================================================================
// Session operations
// =============================================================================

// GetSession retrieves a session with its full turn list.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*storage.Session, error) {
	query := `
		SELECT session_id, tenant_id, context, turns, metadata, created_at, updated_at
		FROM ragpg_sessions
		WHERE session_id = $1
	`

	var session storage.Session
	var turnsJSON, metadataJSON []byte

	row := s.getExecutor(ctx).QueryRow(ctx, query, sessionID)
	err := row.Scan(
		&session.ID,
		&session.TenantID,
		&session.Context,
		&turnsJSON,
		&metadataJSON,
		&session.CreatedAt,
		&session.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", sessionID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if err := json.Unmarshal(turnsJSON, &session.Turns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal turns: %w", err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &session.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &session, nil
}

// UpsertSession writes a session and its full turn list through.
func (s *Store) UpsertSession(ctx context.Context, session *storage.Session) error {
	turnsJSON, err := json.Marshal(session.Turns)
	if err != nil {
		return fmt.Errorf("failed to marshal turns: %w", err)
	}
	metadataJSON, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO ragpg_sessions (session_id, tenant_id, context, turns, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (session_id) DO UPDATE SET
			context = EXCLUDED.context,
			turns = EXCLUDED.turns,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()
	`

	_, err = s.getExecutor(ctx).Exec(ctx, query,
		session.ID,
		session.TenantID,
		session.Context,
		turnsJSON,
		metadataJSON,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	return nil
}

// =============================================================================
// Telemetry operations
// =============================================================================

// InsertToolInvocation appends one telemetry record.
func (s *Store) InsertToolInvocation(ctx context.Context, inv *storage.ToolInvocation) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	createdAt := inv.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	parametersJSON, err := json.Marshal(inv.Parameters)
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}

	query := `
		INSERT INTO ragpg_tool_invocations (id, session_id, tenant_id, tool_name, query_text,
		                                    parameters, success, latency_ms, result_count, error,
		                                    cost_cents, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = s.getExecutor(ctx).Exec(ctx, query,
		inv.ID,
		inv.SessionID,
		inv.TenantID,
		inv.ToolName,
		inv.QueryText,
		parametersJSON,
		inv.Success,
		inv.LatencyMs,
		inv.ResultCount,
		inv.Error,
		inv.CostCents,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert tool invocation: %w", err)
	}

	return nil
}

// ToolInvocationStats aggregates a tenant's invocations per tool since the
// given time.
func (s *Store) ToolInvocationStats(ctx context.Context, tenantID string, since time.Time) ([]*storage.ToolStats, error) {
	query := `
		SELECT tool_name,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE success),
		       COALESCE(AVG(latency_ms), 0),
		       COALESCE(SUM(result_count), 0),
		       COALESCE(SUM(cost_cents), 0)
		FROM ragpg_tool_invocations
		WHERE tenant_id = $1 AND created_at >= $2
		GROUP BY tool_name
		ORDER BY tool_name
	`

	rows, err := s.getExecutor(ctx).Query(ctx, query, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query tool stats: %w", err)
	}
	defer rows.Close()

	var stats []*storage.ToolStats
	for rows.Next() {
		var st storage.ToolStats
		err := rows.Scan(
			&st.ToolName,
			&st.Calls,
			&st.Successes,
			&st.AvgLatencyMs,
			&st.TotalResults,
			&st.TotalCostCents,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tool stats: %w", err)
		}
		if st.Calls > 0 {
			st.SuccessRate = float64(st.Successes) / float64(st.Calls)
		}
		stats = append(stats, &st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tool stats: %w", err)
	}

	return stats, nil
}

// =============================================================================
// Corpus operations
// =============================================================================

// UpsertDocument inserts or updates a document row.
func (s *Store) UpsertDocument(ctx context.Context, doc *storage.Document) error {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	language := doc.Language
	if language == "" {
		language = "es"
	}

	query := `
		INSERT INTO ragpg_documents (document_id, tenant_id, source_type, checksum, title,
		                             language, page_count, status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (document_id) DO UPDATE SET
			source_type = EXCLUDED.source_type,
			checksum = EXCLUDED.checksum,
			title = EXCLUDED.title,
			language = EXCLUDED.language,
			page_count = EXCLUDED.page_count,
			status = EXCLUDED.status,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()
	`

	_, err = s.getExecutor(ctx).Exec(ctx, query,
		doc.DocumentID,
		doc.TenantID,
		doc.SourceType,
		doc.Checksum,
		doc.Title,
		language,
		doc.PageCount,
		doc.Status,
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	return nil
}

const insertChunkQuery = `
	INSERT INTO ragpg_chunks (chunk_id, document_id, chunk_index, content, token_count,
	                          page, section, language, span_start, span_end)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (chunk_id) DO NOTHING
`

const insertEmbeddingQuery = `
	INSERT INTO ragpg_embeddings (chunk_id, embedding, model, dimensions, cost_cents, metadata)
	VALUES ($1, $2::vector, $3, $4, $5, $6)
	ON CONFLICT (chunk_id) DO NOTHING
`

// InsertChunks writes chunk rows and their embeddings sequentially; this
// driver has no native batch support. Replayed chunk ids are skipped, so
// at-least-once job delivery stays idempotent.
func (s *Store) InsertChunks(ctx context.Context, chunks []*storage.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	exec := s.getExecutor(ctx)
	for _, chunk := range chunks {
		language := chunk.Language
		if language == "" {
			language = "es"
		}

		_, err := exec.Exec(ctx, insertChunkQuery,
			chunk.ChunkID,
			chunk.DocumentID,
			chunk.ChunkIndex,
			chunk.Content,
			chunk.TokenCount,
			chunk.Page,
			chunk.Section,
			language,
			chunk.SpanStart,
			chunk.SpanEnd,
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}

		if chunk.Embedding == nil {
			continue
		}

		metadataJSON, err := json.Marshal(chunk.Embedding.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding metadata: %w", err)
		}

		_, err = exec.Exec(ctx, insertEmbeddingQuery,
			chunk.ChunkID,
			pgvector.NewVector(chunk.Embedding.Vector),
			chunk.Embedding.Model,
			chunk.Embedding.Dimensions,
			chunk.Embedding.CostCents,
			metadataJSON,
		)
		if err != nil {
			return fmt.Errorf("failed to insert embedding: %w", err)
		}
	}

	return nil
}

// UpsertGraphNode inserts or updates a node keyed by (tenant_id,
// external_id) and returns the stored row, whose entity id is canonical.
func (s *Store) UpsertGraphNode(ctx context.Context, node *storage.GraphNode) (*storage.GraphNode, error) {
	entityID := node.EntityID
	if entityID == "" {
		entityID = uuid.New().String()
	}

	propertiesJSON, err := json.Marshal(node.Properties)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal properties: %w", err)
	}

	query := `
		INSERT INTO ragpg_graph_nodes (entity_id, tenant_id, external_id, entity_type,
		                               name, name_normalized, properties, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (tenant_id, external_id) DO UPDATE SET
			entity_type = EXCLUDED.entity_type,
			name = EXCLUDED.name,
			name_normalized = EXCLUDED.name_normalized,
			properties = EXCLUDED.properties,
			updated_at = NOW()
		RETURNING entity_id, tenant_id, external_id, entity_type, name, name_normalized, properties, updated_at
	`

	row := s.getExecutor(ctx).QueryRow(ctx, query,
		entityID,
		node.TenantID,
		node.ExternalID,
		node.EntityType,
		node.Name,
		node.NameNormalized,
		propertiesJSON,
	)

	var stored storage.GraphNode
	var storedPropsJSON []byte
	err = row.Scan(
		&stored.EntityID,
		&stored.TenantID,
		&stored.ExternalID,
		&stored.EntityType,
		&stored.Name,
		&stored.NameNormalized,
		&storedPropsJSON,
		&stored.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert graph node: %w", err)
	}
	if len(storedPropsJSON) > 0 {
		if err := json.Unmarshal(storedPropsJSON, &stored.Properties); err != nil {
			return nil, fmt.Errorf("failed to unmarshal properties: %w", err)
		}
	}

	return &stored, nil
}

// UpsertGraphEdge inserts or updates a typed edge.
func (s *Store) UpsertGraphEdge(ctx context.Context, edge *storage.GraphEdge) error {
	propertiesJSON, err := json.Marshal(edge.Properties)
	if err != nil {
		return fmt.Errorf("failed to marshal properties: %w", err)
	}

	query := `
		INSERT INTO ragpg_graph_edges (tenant_id, from_entity_id, to_entity_id, type, properties, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (tenant_id, from_entity_id, to_entity_id, type) DO UPDATE SET
			properties = EXCLUDED.properties,
			updated_at = NOW()
	`

	_, err = s.getExecutor(ctx).Exec(ctx, query,
		edge.TenantID,
		edge.FromEntityID,
		edge.ToEntityID,
		edge.Type,
		propertiesJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert graph edge: %w", err)
	}

	return nil
}

// VectorSearch returns the tenant's closest chunks by cosine distance.
// Ordering is fully deterministic: distance, then document id, then chunk
// index.
func (s *Store) VectorSearch(ctx context.Context, params storage.VectorSearchParams) ([]*storage.ChunkMatch, error) {
	query := `
		SELECT c.chunk_id, c.document_id, c.chunk_index, c.content,
		       e.embedding <=> $2::vector AS distance,
		       c.page, c.section, c.language, d.title, d.source_type, d.metadata
		FROM ragpg_embeddings e
		JOIN ragpg_chunks c ON c.chunk_id = e.chunk_id
		JOIN ragpg_documents d ON d.document_id = c.document_id
		WHERE d.tenant_id = $1
		  AND ($3 = '' OR d.metadata->>'context' = $3)
		ORDER BY distance, c.document_id, c.chunk_index
		LIMIT $4
	`

	rows, err := s.getExecutor(ctx).Query(ctx, query,
		params.TenantID,
		pgvector.NewVector(params.Embedding),
		params.Context,
		params.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query vector search: %w", err)
	}
	defer rows.Close()

	var matches []*storage.ChunkMatch
	for rows.Next() {
		var match storage.ChunkMatch
		var docMetadataJSON []byte

		err := rows.Scan(
			&match.ChunkID,
			&match.DocumentID,
			&match.ChunkIndex,
			&match.Content,
			&match.Distance,
			&match.Page,
			&match.Section,
			&match.Language,
			&match.DocumentTitle,
			&match.SourceType,
			&docMetadataJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk match: %w", err)
		}

		if len(docMetadataJSON) > 0 {
			if err := json.Unmarshal(docMetadataJSON, &match.DocumentMetadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal document metadata: %w", err)
			}
		}

		matches = append(matches, &match)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chunk matches: %w", err)
	}

	return matches, nil
}

// GraphSearch returns edge rows where either endpoint's normalized name
// contains the query, both endpoints materialized. Ordering is
// deterministic by start name, end name, then edge type.
func (s *Store) GraphSearch(ctx context.Context, params storage.GraphSearchParams) ([]*storage.GraphMatch, error) {
	relationshipTypes := params.RelationshipTypes
	if relationshipTypes == nil {
		relationshipTypes = []string{}
	}

	query := `
		SELECT n1.entity_id, n1.tenant_id, n1.external_id, n1.entity_type, n1.name, n1.name_normalized, n1.properties, n1.updated_at,
		       n2.entity_id, n2.tenant_id, n2.external_id, n2.entity_type, n2.name, n2.name_normalized, n2.properties, n2.updated_at,
		       e.type, e.properties
		FROM ragpg_graph_edges e
		JOIN ragpg_graph_nodes n1 ON n1.entity_id = e.from_entity_id
		JOIN ragpg_graph_nodes n2 ON n2.entity_id = e.to_entity_id
		WHERE e.tenant_id = $1
		  AND (n1.name_normalized LIKE '%' || $2 || '%' OR n2.name_normalized LIKE '%' || $2 || '%')
		  AND (cardinality($3::text[]) = 0 OR e.type = ANY($3::text[]))
		ORDER BY n1.name_normalized, n2.name_normalized, e.type
		LIMIT $4
	`

	rows, err := s.getExecutor(ctx).Query(ctx, query,
		params.TenantID,
		params.QueryNormalized,
		pq.Array(relationshipTypes),
		params.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query graph search: %w", err)
	}
	defer rows.Close()

	var matches []*storage.GraphMatch
	for rows.Next() {
		var match storage.GraphMatch
		var startPropsJSON, endPropsJSON, edgePropsJSON []byte

		err := rows.Scan(
			&match.Start.EntityID,
			&match.Start.TenantID,
			&match.Start.ExternalID,
			&match.Start.EntityType,
			&match.Start.Name,
			&match.Start.NameNormalized,
			&startPropsJSON,
			&match.Start.UpdatedAt,
			&match.End.EntityID,
			&match.End.TenantID,
			&match.End.ExternalID,
			&match.End.EntityType,
			&match.End.Name,
			&match.End.NameNormalized,
			&endPropsJSON,
			&match.End.UpdatedAt,
			&match.EdgeType,
			&edgePropsJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan graph match: %w", err)
		}

		if len(startPropsJSON) > 0 {
			if err := json.Unmarshal(startPropsJSON, &match.Start.Properties); err != nil {
				return nil, fmt.Errorf("failed to unmarshal node properties: %w", err)
			}
		}
		if len(endPropsJSON) > 0 {
			if err := json.Unmarshal(endPropsJSON, &match.End.Properties); err != nil {
				return nil, fmt.Errorf("failed to unmarshal node properties: %w", err)
			}
		}
		if len(edgePropsJSON) > 0 {
			if err := json.Unmarshal(edgePropsJSON, &match.EdgeProperties); err != nil {
				return nil, fmt.Errorf("failed to unmarshal edge properties: %w", err)
			}
		}

		matches = append(matches, &match)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating graph matches: %w", err)
	}

	return matches, nil
}

// =============================================================================
// Ingestion job operations
// =============================================================================

// InsertJob creates a new queue row.
func (s *Store) InsertJob(ctx context.Context, job *storage.IngestionJob) error {
	metadataJSON, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	createdAt := job.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	updatedAt := job.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	query := `
		INSERT INTO ragpg_ingestion_jobs (job_id, tenant_id, checksum, storage_path, connector_type,
		                                  source_format, metadata, status, created_at, retry_count, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = s.getExecutor(ctx).Exec(ctx, query,
		job.JobID,
		job.TenantID,
		job.Checksum,
		job.StoragePath,
		job.ConnectorType,
		job.SourceFormat,
		metadataJSON,
		job.Status,
		createdAt,
		job.RetryCount,
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	return nil
}

// GetJob retrieves one job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*storage.IngestionJob, error) {
	query := `
		SELECT job_id, tenant_id, checksum, storage_path, connector_type, source_format, metadata,
		       status, created_at, started_at, completed_at, visibility_deadline, worker_id,
		       retry_count, error, document_id, updated_at
		FROM ragpg_ingestion_jobs
		WHERE job_id = $1
	`

	job, err := scanJob(s.getExecutor(ctx).QueryRow(ctx, query, jobID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s: %w", jobID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// FindActiveJobByChecksum returns the newest in_progress or completed job
// for (tenant, checksum).
func (s *Store) FindActiveJobByChecksum(ctx context.Context, tenantID, checksum string) (*storage.IngestionJob, error) {
	query := `
		SELECT job_id, tenant_id, checksum, storage_path, connector_type, source_format, metadata,
		       status, created_at, started_at, completed_at, visibility_deadline, worker_id,
		       retry_count, error, document_id, updated_at
		FROM ragpg_ingestion_jobs
		WHERE tenant_id = $1 AND checksum = $2 AND status IN ('in_progress', 'completed')
		ORDER BY created_at DESC
		LIMIT 1
	`

	job, err := scanJob(s.getExecutor(ctx).QueryRow(ctx, query, tenantID, checksum))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no active job for checksum: %w", storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find job by checksum: %w", err)
	}
	return job, nil
}

// DequeueJob claims the oldest claimable job with SKIP LOCKED so concurrent
// workers never claim the same row. Returns (nil, nil) on an empty queue.
// Reclaiming an in_progress job past its deadline does not touch the retry
// count; expiry is redelivery, not failure.
func (s *Store) DequeueJob(ctx context.Context, workerID string, visibility time.Duration) (*storage.IngestionJob, error) {
	query := `
		UPDATE ragpg_ingestion_jobs
		SET status = 'in_progress',
		    worker_id = $1,
		    started_at = COALESCE(started_at, NOW()),
		    visibility_deadline = NOW() + make_interval(secs => $2),
		    updated_at = NOW()
		WHERE job_id = (
			SELECT job_id
			FROM ragpg_ingestion_jobs
			WHERE status IN ('pending', 'retry')
			   OR (status = 'in_progress' AND visibility_deadline < NOW())
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING job_id, tenant_id, checksum, storage_path, connector_type, source_format, metadata,
		          status, created_at, started_at, completed_at, visibility_deadline, worker_id,
		          retry_count, error, document_id, updated_at
	`

	job, err := scanJob(s.getExecutor(ctx).QueryRow(ctx, query, workerID, visibility.Seconds()))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}
	return job, nil
}

// CompleteJob transitions in_progress -> completed.
func (s *Store) CompleteJob(ctx context.Context, jobID, documentID string) (*storage.IngestionJob, error) {
	query := `
		UPDATE ragpg_ingestion_jobs
		SET status = 'completed',
		    completed_at = NOW(),
		    document_id = $2,
		    visibility_deadline = NULL,
		    updated_at = NOW()
		WHERE job_id = $1 AND status = 'in_progress'
		RETURNING job_id, tenant_id, checksum, storage_path, connector_type, source_format, metadata,
		          status, created_at, started_at, completed_at, visibility_deadline, worker_id,
		          retry_count, error, document_id, updated_at
	`

	job, err := scanJob(s.getExecutor(ctx).QueryRow(ctx, query, jobID, documentID))
	if err == sql.ErrNoRows {
		return nil, s.transitionError(ctx, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to complete job: %w", err)
	}
	return job, nil
}

// FailJob transitions in_progress -> retry while attempts remain, otherwise
// in_progress -> failed. The retry count increments on every call.
func (s *Store) FailJob(ctx context.Context, jobID, errMsg string, maxRetries int) (*storage.IngestionJob, error) {
	query := `
		UPDATE ragpg_ingestion_jobs
		SET status = CASE WHEN retry_count + 1 < $3 THEN 'retry' ELSE 'failed' END,
		    retry_count = retry_count + 1,
		    error = $2,
		    completed_at = CASE WHEN retry_count + 1 < $3 THEN NULL ELSE NOW() END,
		    visibility_deadline = NULL,
		    updated_at = NOW()
		WHERE job_id = $1 AND status = 'in_progress'
		RETURNING job_id, tenant_id, checksum, storage_path, connector_type, source_format, metadata,
		          status, created_at, started_at, completed_at, visibility_deadline, worker_id,
		          retry_count, error, document_id, updated_at
	`

	job, err := scanJob(s.getExecutor(ctx).QueryRow(ctx, query, jobID, errMsg, maxRetries))
	if err == sql.ErrNoRows {
		return nil, s.transitionError(ctx, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fail job: %w", err)
	}
	return job, nil
}

// transitionError distinguishes a missing job from one in the wrong state.
func (s *Store) transitionError(ctx context.Context, jobID string) error {
	if _, err := s.GetJob(ctx, jobID); errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("job %s: %w", jobID, storage.ErrNotFound)
	}
	return fmt.Errorf("job %s is not in_progress: %w", jobID, storage.ErrStateTransitionFailed)
}

// JobStats counts jobs created since the given time per status. The oldest
// pending marker is global, not windowed.
func (s *Store) JobStats(ctx context.Context, since time.Time) (*storage.QueueStats, error) {
	query := `
		SELECT COUNT(*) FILTER (WHERE status = 'pending'),
		       COUNT(*) FILTER (WHERE status = 'in_progress'),
		       COUNT(*) FILTER (WHERE status = 'completed'),
		       COUNT(*) FILTER (WHERE status = 'failed'),
		       COUNT(*) FILTER (WHERE status = 'retry'),
		       COUNT(*),
		       (SELECT MIN(created_at) FROM ragpg_ingestion_jobs WHERE status = 'pending')
		FROM ragpg_ingestion_jobs
		WHERE created_at >= $1
	`

	var stats storage.QueueStats
	row := s.getExecutor(ctx).QueryRow(ctx, query, since)
	err := row.Scan(
		&stats.Pending,
		&stats.InProgress,
		&stats.Completed,
		&stats.Failed,
		&stats.Retry,
		&stats.Total,
		&stats.OldestPendingAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query job stats: %w", err)
	}

	return &stats, nil
}

// DeleteJobsOlderThan removes jobs in the given states last updated before
// the cutoff.
func (s *Store) DeleteJobsOlderThan(ctx context.Context, cutoff time.Time, states []jobstate.State) (int64, error) {
	if len(states) == 0 {
		return 0, nil
	}
	stateStrings := make([]string, len(states))
	for i, state := range states {
		stateStrings[i] = string(state)
	}

	query := `DELETE FROM ragpg_ingestion_jobs WHERE updated_at < $1 AND status = ANY($2::text[])`

	affected, err := s.getExecutor(ctx).Exec(ctx, query, cutoff, pq.Array(stateStrings))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old jobs: %w", err)
	}
	return affected, nil
}

// scanJob scans one job row. The Scan error is returned unwrapped so
// callers can map sql.ErrNoRows.
func scanJob(row driver.Row) (*storage.IngestionJob, error) {
	var job storage.IngestionJob
	var metadataJSON []byte

	err := row.Scan(
		&job.JobID,
		&job.TenantID,
		&job.Checksum,
		&job.StoragePath,
		&job.ConnectorType,
		&job.SourceFormat,
		&metadataJSON,
		&job.Status,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.VisibilityDeadline,
		&job.WorkerID,
		&job.RetryCount,
		&job.Error,
		&job.DocumentID,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &job.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &job, nil
}

// =============================================================================
// Instance operations
// =============================================================================

// RegisterInstance registers a new instance row for heartbeat tracking.
func (s *Store) RegisterInstance(ctx context.Context, instance *storage.Instance) error {
	metadataJSON, err := json.Marshal(instance.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO ragpg_instances (instance_id, hostname, started_at, last_heartbeat_at, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (instance_id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			started_at = EXCLUDED.started_at,
			last_heartbeat_at = EXCLUDED.last_heartbeat_at,
			metadata = EXCLUDED.metadata
	`

	_, err = s.getExecutor(ctx).Exec(ctx, query,
		instance.InstanceID,
		instance.Hostname,
		instance.StartedAt,
		instance.LastHeartbeatAt,
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to register instance: %w", err)
	}

	return nil
}

// UpdateInstanceHeartbeat updates the last_heartbeat_at for an instance.
func (s *Store) UpdateInstanceHeartbeat(ctx context.Context, instanceID string) error {
	query := `
		UPDATE ragpg_instances
		SET last_heartbeat_at = NOW()
		WHERE instance_id = $1
	`

	affected, err := s.getExecutor(ctx).Exec(ctx, query, instanceID)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("instance %s: %w", instanceID, storage.ErrNotFound)
	}

	return nil
}

// DeregisterInstance removes an instance row.
func (s *Store) DeregisterInstance(ctx context.Context, instanceID string) error {
	query := `DELETE FROM ragpg_instances WHERE instance_id = $1`

	_, err := s.getExecutor(ctx).Exec(ctx, query, instanceID)
	if err != nil {
		return fmt.Errorf("failed to deregister instance: %w", err)
	}

	return nil
}

// DeleteStaleInstances removes instances that stopped heartbeating before
// the cutoff.
func (s *Store) DeleteStaleInstances(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM ragpg_instances WHERE last_heartbeat_at < $1`

	affected, err := s.getExecutor(ctx).Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale instances: %w", err)
	}
	return affected, nil
}

// =============================================================================
// Leader election operations
// =============================================================================

// LeaderAttemptElect attempts to take the lease: insert it, or take over an
// expired one in the same statement.
func (s *Store) LeaderAttemptElect(ctx context.Context, leaderID string, ttl time.Duration) (bool, error) {
	query := `
		INSERT INTO ragpg_leadership (name, leader_id, elected_at, expires_at)
		VALUES ('default', $1, NOW(), NOW() + make_interval(secs => $2))
		ON CONFLICT (name) DO UPDATE SET
			leader_id = EXCLUDED.leader_id,
			elected_at = EXCLUDED.elected_at,
			expires_at = EXCLUDED.expires_at
		WHERE ragpg_leadership.expires_at < NOW()
	`

	affected, err := s.getExecutor(ctx).Exec(ctx, query, leaderID, ttl.Seconds())
	if err != nil {
		return false, fmt.Errorf("failed to attempt election: %w", err)
	}

	return affected > 0, nil
}

// LeaderAttemptReelect renews the lease while this instance still holds it.
func (s *Store) LeaderAttemptReelect(ctx context.Context, leaderID string, ttl time.Duration) (bool, error) {
	query := `
		UPDATE ragpg_leadership
		SET elected_at = NOW(), expires_at = NOW() + make_interval(secs => $2)
		WHERE name = 'default' AND leader_id = $1
	`

	affected, err := s.getExecutor(ctx).Exec(ctx, query, leaderID, ttl.Seconds())
	if err != nil {
		return false, fmt.Errorf("failed to attempt reelection: %w", err)
	}

	return affected > 0, nil
}

// LeaderResign voluntarily gives up leadership.
func (s *Store) LeaderResign(ctx context.Context, leaderID string) error {
	query := `DELETE FROM ragpg_leadership WHERE name = 'default' AND leader_id = $1`

	_, err := s.getExecutor(ctx).Exec(ctx, query, leaderID)
	if err != nil {
		return fmt.Errorf("failed to resign leadership: %w", err)
	}

	return nil
}

// LeaderDeleteExpired removes expired leases.
func (s *Store) LeaderDeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM ragpg_leadership WHERE expires_at < NOW()`

	affected, err := s.getExecutor(ctx).Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired leader: %w", err)
	}

	return affected, nil
}

// Ensure Store implements storage.Store
var _ storage.Store = (*Store)(nil)
