package ragpg

import "time"

// VectorSearchInput are the parameters of one similarity search. TenantID
// comes from the caller, never from the model; the tool schema exposed to
// the model omits it.
type VectorSearchInput struct {
	// Query is the natural-language query. Required.
	Query string `json:"query"`

	// TenantID scopes the search. Required.
	TenantID string `json:"tenant_id"`

	// Context optionally restricts results to documents whose metadata
	// "context" field equals it.
	Context string `json:"context,omitempty"`

	// TopK bounds the result count, 1..50. Zero means 5.
	TopK int `json:"top_k,omitempty"`
}

// VectorResult is one similarity hit.
type VectorResult struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
	Page       *int    `json:"page,omitempty"`
	Section    *string `json:"section,omitempty"`
	Language   string  `json:"language,omitempty"`

	// Document metadata materialized per hit.
	DocumentTitle string         `json:"document_title,omitempty"`
	SourceType    string         `json:"source_type,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// VectorSearchResponse is the vector tool's result.
type VectorSearchResponse struct {
	Results    []VectorResult `json:"results"`
	TotalFound int            `json:"total_found"`
	CacheHit   bool           `json:"cache_hit"`
	LatencyMs  int64          `json:"latency_ms"`
}

// GraphSearchInput are the parameters of one relationship search.
type GraphSearchInput struct {
	// Query is matched as a substring of either endpoint's normalized
	// name. Required.
	Query string `json:"query"`

	// TenantID scopes the search. Required.
	TenantID string `json:"tenant_id"`

	// RelationshipTypes optionally restricts edges to these types. Each
	// must match [A-Z_][A-Z0-9_]*.
	RelationshipTypes []string `json:"relationship_types,omitempty"`

	// Limit bounds the result count, 1..100. Zero means 20.
	Limit int `json:"limit,omitempty"`
}

// GraphNodeResult is one matched entity, identified by its external id.
type GraphNodeResult struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
}

// GraphEdgeResult is one matched relationship; From and To reference node
// ids in the same response.
type GraphEdgeResult struct {
	From       string         `json:"from"`
	To         string         `json:"to"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// GraphSearchResponse is the graph tool's result: flat node and edge
// lists with endpoints referenced by id. Reconstructing a connected
// structure is the caller's business.
type GraphSearchResponse struct {
	Nodes      []GraphNodeResult `json:"nodes"`
	Edges      []GraphEdgeResult `json:"edges"`
	TotalFound int               `json:"total_found"`
	CacheHit   bool              `json:"cache_hit"`
	LatencyMs  int64             `json:"latency_ms"`
}

// HybridSearchInput are the parameters of one fused search. When both
// weights are zero they default to 0.5 each; set one explicitly to zero
// by giving the other a non-zero value.
type HybridSearchInput struct {
	Query             string   `json:"query"`
	TenantID          string   `json:"tenant_id"`
	Context           string   `json:"context,omitempty"`
	RelationshipTypes []string `json:"relationship_types,omitempty"`

	// TopK bounds the fused result count, 1..50. Zero means 5.
	TopK int `json:"top_k,omitempty"`

	VectorWeight float64 `json:"vector_weight,omitempty"`
	GraphWeight  float64 `json:"graph_weight,omitempty"`
}

// FusedResult is one entry of the fused ranking. Key is "chunk:{id}" for
// vector hits and "node:{id}" for graph hits; the key spaces are disjoint.
type FusedResult struct {
	Key    string  `json:"key"`
	Source string  `json:"source"` // "vector" or "graph"
	Score  float64 `json:"score"`

	// Rank is the 1-based rank the item held in its source list.
	Rank int `json:"rank"`
}

// HybridSearchResponse is the hybrid tool's result: the fused ranking
// plus both underlying payloads for drill-down.
type HybridSearchResponse struct {
	Results   []FusedResult         `json:"results"`
	Vector    *VectorSearchResponse `json:"vector"`
	Graph     *GraphSearchResponse  `json:"graph"`
	CacheHit  bool                  `json:"cache_hit"`
	LatencyMs int64                 `json:"latency_ms"`
}

// CheckpointRecord is one parsed checkpoint metadata file.
type CheckpointRecord struct {
	ID        string         `json:"id"`
	Status    string         `json:"status"` // approved, pending, rejected
	Reviewer  string         `json:"reviewer,omitempty"`
	Metrics   map[string]any `json:"metrics,omitempty"`
	Artifacts []string       `json:"artifacts,omitempty"`
	Notes     string         `json:"notes,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// CheckpointResponse is the checkpoint tool's result.
type CheckpointResponse struct {
	Checkpoints []CheckpointRecord `json:"checkpoints"`
	TotalFound  int                `json:"total_found"`
	LatencyMs   int64              `json:"latency_ms"`
}

// EnqueueRequest describes one document to ingest. Content is hashed for
// duplicate suppression; when the file lives elsewhere, pass its SHA-256
// hex digest in Checksum instead.
type EnqueueRequest struct {
	TenantID      string         `json:"tenant_id"`
	Content       []byte         `json:"-"`
	Checksum      string         `json:"checksum,omitempty"`
	StoragePath   string         `json:"storage_path"`
	ConnectorType string         `json:"connector_type"`
	SourceFormat  string         `json:"source_format"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// AnswerRequest is one user turn to answer.
type AnswerRequest struct {
	// Query is the user's question. Required.
	Query string `json:"query"`

	// TenantID scopes retrieval and consent. Required.
	TenantID string `json:"tenant_id"`

	// Context is forwarded to retrieval tools as the default document
	// context filter and stored on new sessions.
	Context string `json:"context,omitempty"`

	// SessionID continues an existing conversation. Empty mints a new id.
	SessionID string `json:"session_id,omitempty"`
}

// ToolCallSummary describes one tool call made while answering.
type ToolCallSummary struct {
	Name       string         `json:"name"`
	Input      map[string]any `json:"input,omitempty"`
	DurationMs int64          `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`
}

// AnswerResponse is the orchestrator's result.
type AnswerResponse struct {
	// Answer is the assistant text, or a Spanish refusal/unavailable
	// message when the pipeline could not answer.
	Answer string `json:"answer"`

	// SessionID identifies the conversation, including one minted for
	// this request.
	SessionID string `json:"session_id"`

	// ToolCalls summarizes the tool calls made, in completion order.
	ToolCalls []ToolCallSummary `json:"tool_calls,omitempty"`

	// Model is the completion model that produced the answer.
	Model string `json:"model"`
}
