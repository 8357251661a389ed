package ragpg

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/youssefsiam38/ragpg/storage"
)

// edgeTypeRe is the shape every relationship type satisfies. Types are
// normalized to this form on ingest; the search path only validates.
var edgeTypeRe = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)

// ValidEdgeType reports whether t is a normalized relationship type.
func ValidEdgeType(t string) bool {
	return edgeTypeRe.MatchString(t)
}

// NormalizeEdgeType converts a free-form relationship name to the
// normalized uppercase form used on edges, e.g. "afecta a" becomes
// "AFECTA_A". Used by ingestion; returns an error when nothing useful
// survives normalization.
func NormalizeEdgeType(t string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(t))
	normalized = strings.Join(strings.Fields(normalized), "_")
	var b strings.Builder
	for _, r := range normalized {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
	}
	normalized = b.String()
	if normalized == "" || !ValidEdgeType(normalized) {
		return "", fmt.Errorf("relationship type %q does not normalize to a valid edge type", t)
	}
	return normalized, nil
}

// GraphSearch returns the tenant's entities whose normalized names
// contain the lowercased query, together with the matching relationships
// between them. Nodes are deduplicated by external id in discovery order;
// edges whose endpoints fall outside the returned node set are dropped.
// An empty result is success, not an error.
func (r *Retriever) GraphSearch(ctx context.Context, in *GraphSearchInput) (*GraphSearchResponse, error) {
	const op = ToolGraphSearch
	start := r.now()

	if in == nil || in.Query == "" {
		return nil, newError(KindInvalidArgument, op, "", "",
			fmt.Errorf("query is required"))
	}
	if in.TenantID == "" {
		return nil, newError(KindInvalidArgument, op, "", "",
			fmt.Errorf("tenant id is required"))
	}
	limit := in.Limit
	if limit == 0 {
		limit = DefaultGraphLimit
	}
	if limit < 1 || limit > MaxGraphLimit {
		return nil, newError(KindInvalidArgument, op, in.TenantID, "",
			fmt.Errorf("limit must be between 1 and %d, got %d", MaxGraphLimit, in.Limit))
	}
	for _, t := range in.RelationshipTypes {
		if !ValidEdgeType(t) {
			return nil, newError(KindInvalidArgument, op, in.TenantID, "",
				fmt.Errorf("invalid relationship type %q", t))
		}
	}

	if _, err := r.tenants.Lookup(ctx, in.TenantID, "", ""); err != nil {
		return nil, err
	}

	params := map[string]any{
		"query":              in.Query,
		"tenant_id":          in.TenantID,
		"relationship_types": in.RelationshipTypes,
		"limit":              limit,
	}
	key := r.cacheKey(op, params)

	if resp := r.cachedGraphResponse(ctx, key); resp != nil {
		resp.CacheHit = true
		resp.LatencyMs = r.sinceMs(start)
		r.record(ctx, op, in.TenantID, in.Query, params, len(resp.Nodes), resp.LatencyMs, nil, nil)
		return resp, nil
	}

	matches, err := r.store.GraphSearch(ctx, storage.GraphSearchParams{
		TenantID:          in.TenantID,
		QueryNormalized:   strings.ToLower(in.Query),
		RelationshipTypes: in.RelationshipTypes,
		Limit:             limit,
	})
	if err != nil {
		err = newError(KindBackendFailed, op, in.TenantID, MsgServiceUnavailable,
			fmt.Errorf("%w: %v", ErrBackendFailed, err))
		r.record(ctx, op, in.TenantID, in.Query, params, 0, r.sinceMs(start), err, nil)
		return nil, err
	}

	nodes, edges := assembleGraph(matches, limit)

	resp := &GraphSearchResponse{
		Nodes:      nodes,
		Edges:      edges,
		TotalFound: len(nodes),
		CacheHit:   false,
		LatencyMs:  r.sinceMs(start),
	}

	r.cacheResponse(ctx, key, resp)
	r.record(ctx, op, in.TenantID, in.Query, params, len(nodes), resp.LatencyMs, nil, nil)

	return resp, nil
}

// assembleGraph deduplicates nodes by external id preserving discovery
// order (start endpoint before end endpoint per row), truncates to limit,
// and keeps only edges with both endpoints in the surviving node set.
func assembleGraph(matches []*storage.GraphMatch, limit int) ([]GraphNodeResult, []GraphEdgeResult) {
	nodes := make([]GraphNodeResult, 0, limit)
	seen := make(map[string]bool)
	addNode := func(n storage.GraphNode) {
		if seen[n.ExternalID] || len(nodes) >= limit {
			return
		}
		seen[n.ExternalID] = true
		nodes = append(nodes, GraphNodeResult{
			ID:         n.ExternalID,
			Type:       n.EntityType,
			Name:       n.Name,
			Properties: n.Properties,
		})
	}
	for _, m := range matches {
		addNode(m.Start)
		addNode(m.End)
	}

	kept := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		kept[n.ID] = true
	}

	edges := make([]GraphEdgeResult, 0, len(matches))
	for _, m := range matches {
		if !kept[m.Start.ExternalID] || !kept[m.End.ExternalID] {
			continue
		}
		edges = append(edges, GraphEdgeResult{
			From:       m.Start.ExternalID,
			To:         m.End.ExternalID,
			Type:       m.EdgeType,
			Properties: m.EdgeProperties,
		})
	}

	return nodes, edges
}

// cachedGraphResponse returns the cached response for key, or nil on
// miss or any cache failure.
func (r *Retriever) cachedGraphResponse(ctx context.Context, key string) *GraphSearchResponse {
	data, found := r.cacheGet(ctx, key)
	if !found {
		return nil
	}
	var resp GraphSearchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		r.reportError(fmt.Errorf("failed to decode cached response: %w", err))
		return nil
	}
	return &resp
}
