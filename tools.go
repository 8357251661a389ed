package ragpg

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/youssefsiam38/ragpg/storage"
	"github.com/youssefsiam38/ragpg/tool"
)

// callVarContext is the call-context variable carrying the answer
// request's document context filter. Tools fall back to it when the
// model does not pass an explicit context parameter.
const callVarContext = "context"

// builtinTools returns the retrieval tools the orchestrator registers for
// every answer: vector, graph, and hybrid search plus checkpoint lookup.
// None of their schemas expose tenant_id; tenant scoping always comes
// from the call context the orchestrator installs.
func builtinTools(retriever *Retriever, checkpoints *CheckpointStore, recorder *Recorder) []tool.Tool {
	return []tool.Tool{
		&vectorSearchTool{retriever: retriever},
		&graphSearchTool{retriever: retriever},
		&hybridSearchTool{retriever: retriever},
		&checkpointLookupTool{checkpoints: checkpoints, recorder: recorder},
	}
}

// marshalToolResult encodes a tool response as the JSON string handed
// back to the model.
func marshalToolResult(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode tool result: %w", err)
	}
	return string(data), nil
}

// requireTenant returns the tenant id installed in the call context.
// Tools never trust a tenant id from model input.
func requireTenant(ctx context.Context) (string, error) {
	tenantID, ok := tool.GetTenantID(ctx)
	if !ok || tenantID == "" {
		return "", fmt.Errorf("no tenant in call context")
	}
	return tenantID, nil
}

// vectorSearchTool exposes Retriever.VectorSearch to the model.
type vectorSearchTool struct {
	retriever *Retriever
}

// Name implements tool.Tool.
func (t *vectorSearchTool) Name() string {
	return ToolVectorSearch
}

// Description implements tool.Tool.
func (t *vectorSearchTool) Description() string {
	return "Search the tenant's document chunks by semantic similarity. " +
		"Use this for questions answerable from document content."
}

// InputSchema implements tool.Tool.
func (t *vectorSearchTool) InputSchema() tool.ToolSchema {
	return tool.ToolSchema{
		Type: "object",
		Properties: map[string]tool.PropertyDef{
			"query": {
				Type:        "string",
				Description: "Natural-language query to search for",
			},
			"context": {
				Type:        "string",
				Description: "Restrict results to documents with this context label (optional)",
			},
			"top_k": {
				Type:        "number",
				Description: "How many chunks to return, 1-50 (default 5)",
				Minimum:     tool.Float(1),
				Maximum:     tool.Float(MaxTopK),
			},
		},
		Required: []string{"query"},
	}
}

// Execute implements tool.Tool.
func (t *vectorSearchTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var params struct {
		Query   string `json:"query"`
		Context string `json:"context"`
		TopK    int    `json:"top_k"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}

	tenantID, err := requireTenant(ctx)
	if err != nil {
		return "", err
	}
	docContext := params.Context
	if docContext == "" {
		docContext = tool.GetVariableOr(ctx, callVarContext, "")
	}

	resp, err := t.retriever.VectorSearch(ctx, &VectorSearchInput{
		Query:    params.Query,
		TenantID: tenantID,
		Context:  docContext,
		TopK:     params.TopK,
	})
	if err != nil {
		return "", err
	}
	return marshalToolResult(resp)
}

// graphSearchTool exposes Retriever.GraphSearch to the model.
type graphSearchTool struct {
	retriever *Retriever
}

// Name implements tool.Tool.
func (t *graphSearchTool) Name() string {
	return ToolGraphSearch
}

// Description implements tool.Tool.
func (t *graphSearchTool) Description() string {
	return "Search the tenant's knowledge graph for entities and the relationships " +
		"between them. Use this when the question is about how things are connected."
}

// InputSchema implements tool.Tool.
func (t *graphSearchTool) InputSchema() tool.ToolSchema {
	return tool.ToolSchema{
		Type: "object",
		Properties: map[string]tool.PropertyDef{
			"query": {
				Type:        "string",
				Description: "Entity name or fragment to look up",
			},
			"relationship_types": {
				Type:        "array",
				Description: "Restrict to these relationship types, e.g. REFERENCES (optional)",
				Items:       &tool.PropertyDef{Type: "string"},
			},
			"limit": {
				Type:        "number",
				Description: "How many relationships to return, 1-100 (default 20)",
				Minimum:     tool.Float(1),
				Maximum:     tool.Float(MaxGraphLimit),
			},
		},
		Required: []string{"query"},
	}
}

// Execute implements tool.Tool.
func (t *graphSearchTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var params struct {
		Query             string   `json:"query"`
		RelationshipTypes []string `json:"relationship_types"`
		Limit             int      `json:"limit"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}

	tenantID, err := requireTenant(ctx)
	if err != nil {
		return "", err
	}

	resp, err := t.retriever.GraphSearch(ctx, &GraphSearchInput{
		Query:             params.Query,
		TenantID:          tenantID,
		RelationshipTypes: params.RelationshipTypes,
		Limit:             params.Limit,
	})
	if err != nil {
		return "", err
	}
	return marshalToolResult(resp)
}

// hybridSearchTool exposes Retriever.HybridSearch to the model.
type hybridSearchTool struct {
	retriever *Retriever
}

// Name implements tool.Tool.
func (t *hybridSearchTool) Name() string {
	return ToolHybridSearch
}

// Description implements tool.Tool.
func (t *hybridSearchTool) Description() string {
	return "Run vector and graph search together and fuse the rankings. " +
		"Use this when both document content and entity relationships matter."
}

// InputSchema implements tool.Tool.
func (t *hybridSearchTool) InputSchema() tool.ToolSchema {
	return tool.ToolSchema{
		Type: "object",
		Properties: map[string]tool.PropertyDef{
			"query": {
				Type:        "string",
				Description: "Natural-language query to search for",
			},
			"context": {
				Type:        "string",
				Description: "Restrict vector results to documents with this context label (optional)",
			},
			"relationship_types": {
				Type:        "array",
				Description: "Restrict graph results to these relationship types (optional)",
				Items:       &tool.PropertyDef{Type: "string"},
			},
			"top_k": {
				Type:        "number",
				Description: "How many fused results to return, 1-50 (default 5)",
				Minimum:     tool.Float(1),
				Maximum:     tool.Float(MaxTopK),
			},
			"vector_weight": {
				Type:        "number",
				Description: "Weight of the vector ranking in fusion (default 0.5)",
				Minimum:     tool.Float(0),
			},
			"graph_weight": {
				Type:        "number",
				Description: "Weight of the graph ranking in fusion (default 0.5)",
				Minimum:     tool.Float(0),
			},
		},
		Required: []string{"query"},
	}
}

// Execute implements tool.Tool.
func (t *hybridSearchTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var params struct {
		Query             string   `json:"query"`
		Context           string   `json:"context"`
		RelationshipTypes []string `json:"relationship_types"`
		TopK              int      `json:"top_k"`
		VectorWeight      float64  `json:"vector_weight"`
		GraphWeight       float64  `json:"graph_weight"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}

	tenantID, err := requireTenant(ctx)
	if err != nil {
		return "", err
	}
	docContext := params.Context
	if docContext == "" {
		docContext = tool.GetVariableOr(ctx, callVarContext, "")
	}

	resp, err := t.retriever.HybridSearch(ctx, &HybridSearchInput{
		Query:             params.Query,
		TenantID:          tenantID,
		Context:           docContext,
		RelationshipTypes: params.RelationshipTypes,
		TopK:              params.TopK,
		VectorWeight:      params.VectorWeight,
		GraphWeight:       params.GraphWeight,
	})
	if err != nil {
		return "", err
	}
	return marshalToolResult(resp)
}

// checkpointLookupTool exposes CheckpointStore.Lookup to the model. The
// store itself does not record telemetry, so the adapter does.
type checkpointLookupTool struct {
	checkpoints *CheckpointStore
	recorder    *Recorder
}

// Name implements tool.Tool.
func (t *checkpointLookupTool) Name() string {
	return ToolCheckpointLookup
}

// Description implements tool.Tool.
func (t *checkpointLookupTool) Description() string {
	return "Look up the tenant's most recent human-review checkpoints for a " +
		"pipeline stage, newest first."
}

// InputSchema implements tool.Tool.
func (t *checkpointLookupTool) InputSchema() tool.ToolSchema {
	return tool.ToolSchema{
		Type: "object",
		Properties: map[string]tool.PropertyDef{
			"stage": {
				Type:        "string",
				Description: "Pipeline stage to look up checkpoints for",
				Enum: []string{
					StageIngestion,
					StageOCR,
					StageConsolidation,
					StageRetrieval,
					StageAgent,
				},
			},
			"limit": {
				Type:        "number",
				Description: "How many checkpoints to return (default 10)",
				Minimum:     tool.Float(1),
			},
		},
		Required: []string{"stage"},
	}
}

// Execute implements tool.Tool.
func (t *checkpointLookupTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var params struct {
		Stage string `json:"stage"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}

	tenantID, err := requireTenant(ctx)
	if err != nil {
		return "", err
	}

	start := time.Now()
	records, err := t.checkpoints.Lookup(ctx, params.Stage, tenantID, params.Limit)
	latencyMs := time.Since(start).Milliseconds()

	t.record(ctx, tenantID, params.Stage, params.Limit, len(records), latencyMs, err)
	if err != nil {
		return "", err
	}

	resp := &CheckpointResponse{
		Checkpoints: records,
		TotalFound:  len(records),
		LatencyMs:   latencyMs,
	}
	return marshalToolResult(resp)
}

// record emits one telemetry record for a finished lookup.
func (t *checkpointLookupTool) record(ctx context.Context, tenantID, stage string, limit, resultCount int, latencyMs int64, callErr error) {
	if t.recorder == nil {
		return
	}
	inv := &storage.ToolInvocation{
		TenantID:  tenantID,
		ToolName:  ToolCheckpointLookup,
		QueryText: stage,
		Parameters: map[string]any{
			"stage":     stage,
			"tenant_id": tenantID,
			"limit":     limit,
		},
		Success:     callErr == nil,
		LatencyMs:   latencyMs,
		ResultCount: resultCount,
	}
	if sessionID, ok := tool.GetSessionID(ctx); ok && sessionID != "" {
		inv.SessionID = &sessionID
	}
	if callErr != nil {
		msg := callErr.Error()
		inv.Error = &msg
	}
	t.recorder.Record(ctx, inv)
}
