package ragpg

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// HybridSearch runs the vector and graph searches concurrently and merges
// their rankings with Reciprocal Rank Fusion. Either sub-search failing
// fails the whole call; there is no partial fusion. The inner searches
// use their own cache entries, so a hybrid miss can still be served from
// warm vector and graph results.
func (r *Retriever) HybridSearch(ctx context.Context, in *HybridSearchInput) (*HybridSearchResponse, error) {
	const op = ToolHybridSearch
	start := r.now()

	if in == nil || in.Query == "" {
		return nil, newError(KindInvalidArgument, op, "", "",
			fmt.Errorf("query is required"))
	}
	if in.TenantID == "" {
		return nil, newError(KindInvalidArgument, op, "", "",
			fmt.Errorf("tenant id is required"))
	}
	topK := in.TopK
	if topK == 0 {
		topK = DefaultTopK
	}
	if topK < 1 || topK > MaxTopK {
		return nil, newError(KindInvalidArgument, op, in.TenantID, "",
			fmt.Errorf("top_k must be between 1 and %d, got %d", MaxTopK, in.TopK))
	}
	vectorWeight, graphWeight := in.VectorWeight, in.GraphWeight
	if vectorWeight < 0 || graphWeight < 0 {
		return nil, newError(KindInvalidArgument, op, in.TenantID, "",
			fmt.Errorf("weights must not be negative"))
	}
	if vectorWeight == 0 && graphWeight == 0 {
		vectorWeight, graphWeight = DefaultFusionWeight, DefaultFusionWeight
	}

	params := map[string]any{
		"query":              in.Query,
		"tenant_id":          in.TenantID,
		"context":            in.Context,
		"relationship_types": in.RelationshipTypes,
		"top_k":              topK,
		"vector_weight":      vectorWeight,
		"graph_weight":       graphWeight,
	}
	key := r.cacheKey(op, params)

	if resp := r.cachedHybridResponse(ctx, key); resp != nil {
		resp.CacheHit = true
		resp.LatencyMs = r.sinceMs(start)
		r.record(ctx, op, in.TenantID, in.Query, params, len(resp.Results), resp.LatencyMs, nil, nil)
		return resp, nil
	}

	var (
		vectorResp *VectorSearchResponse
		graphResp  *GraphSearchResponse
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vectorResp, err = r.VectorSearch(gctx, &VectorSearchInput{
			Query:    in.Query,
			TenantID: in.TenantID,
			Context:  in.Context,
			TopK:     topK,
		})
		return err
	})
	g.Go(func() error {
		var err error
		graphResp, err = r.GraphSearch(gctx, &GraphSearchInput{
			Query:             in.Query,
			TenantID:          in.TenantID,
			RelationshipTypes: in.RelationshipTypes,
			Limit:             graphLimitFor(topK),
		})
		return err
	})
	if err := g.Wait(); err != nil {
		r.record(ctx, op, in.TenantID, in.Query, params, 0, r.sinceMs(start), err, nil)
		return nil, err
	}

	vectorKeys := make([]string, len(vectorResp.Results))
	for i, res := range vectorResp.Results {
		vectorKeys[i] = "chunk:" + res.ChunkID
	}
	graphKeys := make([]string, len(graphResp.Nodes))
	for i, node := range graphResp.Nodes {
		graphKeys[i] = "node:" + node.ID
	}

	resp := &HybridSearchResponse{
		Results:   fuseRanked(vectorKeys, graphKeys, vectorWeight, graphWeight, topK),
		Vector:    vectorResp,
		Graph:     graphResp,
		CacheHit:  false,
		LatencyMs: r.sinceMs(start),
	}

	r.cacheResponse(ctx, key, resp)
	r.record(ctx, op, in.TenantID, in.Query, params, len(resp.Results), resp.LatencyMs, nil, nil)

	return resp, nil
}

// graphLimitFor is the graph leg's result bound: twice the fused top_k,
// clamped to the graph tool's maximum.
func graphLimitFor(topK int) int {
	limit := 2 * topK
	if limit > MaxGraphLimit {
		return MaxGraphLimit
	}
	return limit
}

// cachedHybridResponse returns the cached response for key, or nil on
// miss or any cache failure.
func (r *Retriever) cachedHybridResponse(ctx context.Context, key string) *HybridSearchResponse {
	data, found := r.cacheGet(ctx, key)
	if !found {
		return nil
	}
	var resp HybridSearchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		r.reportError(fmt.Errorf("failed to decode cached response: %w", err))
		return nil
	}
	return &resp
}
