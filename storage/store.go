package storage

import (
	"context"
	"errors"
	"time"

	"github.com/youssefsiam38/ragpg/jobstate"
)

// Sentinel errors for store operations
var (
	// ErrNotFound indicates the requested row does not exist. Callers decide
	// whether that is fatal; cross-tenant reads are reported with this same
	// error so existence is never confirmed to the wrong tenant.
	ErrNotFound = errors.New("not found")

	// ErrStateTransitionFailed indicates an atomic job state transition failed
	// because the current state didn't match the required state.
	// This is expected under at-least-once delivery when another worker has
	// already transitioned the job.
	ErrStateTransitionFailed = errors.New("state transition failed: current state does not match required state")
)

// Store defines the storage interface for the retrieval engine.
// Implementations live in the driver submodules; every operation is scoped
// by tenant where a tenant applies.
type Store interface {
	// Tenant operations
	UpsertTenant(ctx context.Context, tenant *Tenant) (*Tenant, error)
	GetTenant(ctx context.Context, tenantID string) (*Tenant, error)
	ListActiveTenants(ctx context.Context) ([]*Tenant, error)

	// Session operations. Sessions persist their full turn list as one
	// structured column; UpsertSession is the write-through target.
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	UpsertSession(ctx context.Context, session *Session) error

	// Telemetry operations
	InsertToolInvocation(ctx context.Context, inv *ToolInvocation) error
	ToolInvocationStats(ctx context.Context, tenantID string, since time.Time) ([]*ToolStats, error)

	// Corpus operations. Documents, chunks and graph entities are written by
	// the ingestion pipeline and read by the retrieval tools.
	UpsertDocument(ctx context.Context, doc *Document) error
	InsertChunks(ctx context.Context, chunks []*Chunk) error
	UpsertGraphNode(ctx context.Context, node *GraphNode) (*GraphNode, error)
	UpsertGraphEdge(ctx context.Context, edge *GraphEdge) error
	VectorSearch(ctx context.Context, params VectorSearchParams) ([]*ChunkMatch, error)
	GraphSearch(ctx context.Context, params GraphSearchParams) ([]*GraphMatch, error)

	// Ingestion job operations
	InsertJob(ctx context.Context, job *IngestionJob) error
	GetJob(ctx context.Context, jobID string) (*IngestionJob, error)

	// FindActiveJobByChecksum returns the newest job for (tenant, checksum)
	// whose status is in_progress or completed, or ErrNotFound.
	FindActiveJobByChecksum(ctx context.Context, tenantID, checksum string) (*IngestionJob, error)

	// DequeueJob atomically claims the oldest claimable job (pending, retry,
	// or in_progress past its visibility deadline), flips it to in_progress,
	// stamps the worker id and a fresh deadline. Returns (nil, nil) when the
	// queue is empty. Concurrent callers never claim the same job.
	DequeueJob(ctx context.Context, workerID string, visibility time.Duration) (*IngestionJob, error)

	// CompleteJob transitions in_progress -> completed and records the
	// produced document id. Any other current state is
	// ErrStateTransitionFailed.
	CompleteJob(ctx context.Context, jobID, documentID string) (*IngestionJob, error)

	// FailJob transitions in_progress -> retry while attempts remain
	// (retryCount+1 < maxRetries, evaluated before the increment), otherwise
	// in_progress -> failed. The retry count increments either way.
	FailJob(ctx context.Context, jobID, errMsg string, maxRetries int) (*IngestionJob, error)

	// JobStats returns per-status counts for jobs created since the given
	// time plus the age marker of the globally oldest pending job.
	JobStats(ctx context.Context, since time.Time) (*QueueStats, error)
	DeleteJobsOlderThan(ctx context.Context, cutoff time.Time, states []jobstate.State) (int64, error)

	// Instance operations
	RegisterInstance(ctx context.Context, instance *Instance) error
	UpdateInstanceHeartbeat(ctx context.Context, instanceID string) error
	DeregisterInstance(ctx context.Context, instanceID string) error
	DeleteStaleInstances(ctx context.Context, cutoff time.Time) (int64, error)

	// Leadership operations
	LeaderAttemptElect(ctx context.Context, leaderID string, ttl time.Duration) (bool, error)
	LeaderAttemptReelect(ctx context.Context, leaderID string, ttl time.Duration) (bool, error)
	LeaderResign(ctx context.Context, leaderID string) error
	LeaderDeleteExpired(ctx context.Context) (int64, error)
}

// Tenant represents one isolated organization. The namespace triple is
// (tenant_id, business_unit, department).
type Tenant struct {
	TenantID         string         `json:"tenant_id"`
	DisplayName      string         `json:"display_name"`
	BusinessUnit     string         `json:"business_unit"`
	Department       *string        `json:"department,omitempty"`
	Industry         string         `json:"industry"`
	PriorityTier     string         `json:"priority_tier"`
	AllowedOps       []string       `json:"allowed_ops"`
	ConsentExpiresAt *time.Time     `json:"consent_expires_at,omitempty"`
	ConsentVersion   int            `json:"consent_version"`
	Active           bool           `json:"active"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// AllowsOperation reports whether the tenant's consent covers op at the
// given instant.
func (t *Tenant) AllowsOperation(op string, now time.Time) bool {
	if t.ConsentExpiresAt != nil && !now.Before(*t.ConsentExpiresAt) {
		return false
	}
	for _, allowed := range t.AllowedOps {
		if allowed == op {
			return true
		}
	}
	return false
}

// Session represents a conversation session. Turns are append-only.
type Session struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	Context   string         `json:"context,omitempty"`
	Turns     []Turn         `json:"turns"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Turn is one message within a session.
type Turn struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ToolInvocation is one append-only telemetry record per tool call.
type ToolInvocation struct {
	ID          string         `json:"id"`
	SessionID   *string        `json:"session_id,omitempty"`
	TenantID    string         `json:"tenant_id"`
	ToolName    string         `json:"tool_name"`
	QueryText   string         `json:"query_text"`
	Parameters  map[string]any `json:"parameters"`
	Success     bool           `json:"success"`
	LatencyMs   int64          `json:"latency_ms"`
	ResultCount int            `json:"result_count"`
	Error       *string        `json:"error,omitempty"`
	CostCents   *float64       `json:"cost_cents,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ToolStats aggregates invocations per tool over a window.
type ToolStats struct {
	ToolName       string  `json:"tool_name"`
	Calls          int     `json:"calls"`
	Successes      int     `json:"successes"`
	SuccessRate    float64 `json:"success_rate"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	TotalResults   int     `json:"total_results"`
	TotalCostCents float64 `json:"total_cost_cents"`
}

// Document is an ingested source document. Status advances monotonically
// through pending, extracted, embedded, failed.
type Document struct {
	DocumentID string         `json:"document_id"`
	TenantID   string         `json:"tenant_id"`
	SourceType string         `json:"source_type"`
	Checksum   string         `json:"checksum"`
	Title      string         `json:"title,omitempty"`
	Language   string         `json:"language"`
	PageCount  *int           `json:"page_count,omitempty"`
	Status     string         `json:"status"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Document status values.
const (
	DocumentStatusPending   = "pending"
	DocumentStatusExtracted = "extracted"
	DocumentStatusEmbedded  = "embedded"
	DocumentStatusFailed    = "failed"
)

// Chunk is the atomic unit of retrieval. Each chunk owns exactly one
// embedding.
type Chunk struct {
	ChunkID    string     `json:"chunk_id"`
	DocumentID string     `json:"document_id"`
	ChunkIndex int        `json:"chunk_index"`
	Content    string     `json:"content"`
	TokenCount int        `json:"token_count"`
	Page       *int       `json:"page,omitempty"`
	Section    *string    `json:"section,omitempty"`
	Language   string     `json:"language"`
	SpanStart  int        `json:"span_start"`
	SpanEnd    int        `json:"span_end"`
	Embedding  *Embedding `json:"embedding,omitempty"`
}

// Embedding is the dense vector for a chunk. Dimensions are fixed per model.
type Embedding struct {
	ChunkID    string         `json:"chunk_id"`
	Vector     []float32      `json:"vector"`
	Model      string         `json:"model"`
	Dimensions int            `json:"dimensions"`
	CostCents  float64        `json:"cost_cents"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// GraphNode is an extracted entity, unique per (tenant_id, external_id).
// NameNormalized is locale-insensitive lowercase for substring matching.
type GraphNode struct {
	EntityID       string         `json:"entity_id"`
	TenantID       string         `json:"tenant_id"`
	ExternalID     string         `json:"external_id"`
	EntityType     string         `json:"entity_type"`
	Name           string         `json:"name"`
	NameNormalized string         `json:"name_normalized"`
	Properties     map[string]any `json:"properties,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// GraphEdge is a typed relationship between two nodes of the same tenant.
// Type is normalized on write and matches [A-Z_][A-Z0-9_]*.
type GraphEdge struct {
	TenantID     string         `json:"tenant_id"`
	FromEntityID string         `json:"from_entity_id"`
	ToEntityID   string         `json:"to_entity_id"`
	Type         string         `json:"type"`
	Properties   map[string]any `json:"properties,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// VectorSearchParams describes one similarity search inside a tenant
// namespace. Context, when non-empty, is matched for equality against the
// document metadata field of the same name.
type VectorSearchParams struct {
	TenantID  string
	Embedding []float32
	Context   string
	Limit     int
}

// ChunkMatch is one similarity hit with its document metadata materialized.
// Distance is the cosine distance reported by the index.
type ChunkMatch struct {
	ChunkID          string
	DocumentID       string
	ChunkIndex       int
	Content          string
	Distance         float64
	Page             *int
	Section          *string
	Language         string
	DocumentTitle    string
	SourceType       string
	DocumentMetadata map[string]any
}

// GraphSearchParams describes one bounded relationship query.
// QueryNormalized is the lowercased query string matched as a substring of
// either endpoint's normalized name.
type GraphSearchParams struct {
	TenantID          string
	QueryNormalized   string
	RelationshipTypes []string
	Limit             int
}

// GraphMatch is one matched edge row with both endpoints materialized.
type GraphMatch struct {
	Start          GraphNode
	End            GraphNode
	EdgeType       string
	EdgeProperties map[string]any
}

// IngestionJob is one entry in the at-least-once ingestion queue.
type IngestionJob struct {
	JobID              string         `json:"job_id"`
	TenantID           string         `json:"tenant_id"`
	Checksum           string         `json:"checksum"`
	StoragePath        string         `json:"storage_path"`
	ConnectorType      string         `json:"connector_type"`
	SourceFormat       string         `json:"source_format"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	Status             jobstate.State `json:"status"`
	CreatedAt          time.Time      `json:"created_at"`
	StartedAt          *time.Time     `json:"started_at,omitempty"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
	VisibilityDeadline *time.Time     `json:"visibility_deadline,omitempty"`
	WorkerID           *string        `json:"worker_id,omitempty"`
	RetryCount         int            `json:"retry_count"`
	Error              *string        `json:"error,omitempty"`
	DocumentID         *string        `json:"document_id,omitempty"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// QueueStats aggregates the queue over a window. Counts cover jobs created
// since the window start; OldestPendingAt is global so an ancient pending
// job still raises the alert. BacklogHours and BacklogAlert are filled by
// the queue from its configured threshold.
type QueueStats struct {
	Pending         int        `json:"pending"`
	InProgress      int        `json:"in_progress"`
	Completed       int        `json:"completed"`
	Failed          int        `json:"failed"`
	Retry           int        `json:"retry"`
	Total           int        `json:"total"`
	OldestPendingAt *time.Time `json:"oldest_pending_at,omitempty"`
	BacklogHours    float64    `json:"backlog_hours"`
	BacklogAlert    bool       `json:"backlog_alert"`
}

// Instance is one registered process for heartbeat tracking.
type Instance struct {
	InstanceID      string         `json:"instance_id"`
	Hostname        string         `json:"hostname"`
	StartedAt       time.Time      `json:"started_at"`
	LastHeartbeatAt time.Time      `json:"last_heartbeat_at"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}
