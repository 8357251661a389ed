package ragpg

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/youssefsiam38/ragpg/cache"
	"github.com/youssefsiam38/ragpg/embed"
	"github.com/youssefsiam38/ragpg/storage"
	"github.com/youssefsiam38/ragpg/tool"
)

// Retriever implements the retrieval tools: vector similarity search,
// graph relationship search, and their hybrid fusion. Every search is
// tenant-scoped, fronted by the shared result cache, and recorded in
// telemetry.
type Retriever struct {
	store    storage.Store
	tenants  *TenantRegistry
	embedder embed.Client
	cache    cache.Cache
	recorder *Recorder

	cacheTTL time.Duration
	onError  func(error)

	// now is replaceable in tests.
	now func() time.Time
}

// RetrieverConfig configures a Retriever.
type RetrieverConfig struct {
	// CacheTTL is how long search responses stay cached. Default: 300s.
	CacheTTL time.Duration

	// OnError is called when a cache read or write fails. Cache failures
	// never fail a search.
	OnError func(err error)
}

// NewRetriever creates a Retriever. The embedder should already carry the
// process-wide rate limit (see embed.NewLimited); recorder may be nil to
// disable telemetry.
func NewRetriever(store storage.Store, tenants *TenantRegistry, embedder embed.Client, resultCache cache.Cache, recorder *Recorder, config *RetrieverConfig) *Retriever {
	if config == nil {
		config = &RetrieverConfig{}
	}
	ttl := config.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Retriever{
		store:    store,
		tenants:  tenants,
		embedder: embedder,
		cache:    resultCache,
		recorder: recorder,
		cacheTTL: ttl,
		onError:  config.OnError,
		now:      time.Now,
	}
}

// VectorSearch embeds the query and returns the tenant's most similar
// chunks. Results are ordered by descending similarity with ties broken
// by document id then chunk index, so identical inputs always produce
// identical output.
func (r *Retriever) VectorSearch(ctx context.Context, in *VectorSearchInput) (*VectorSearchResponse, error) {
	const op = ToolVectorSearch
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

	if _, err := r.tenants.Lookup(ctx, in.TenantID, "", ""); err != nil {
		return nil, err
	}

	params := map[string]any{
		"query":     in.Query,
		"tenant_id": in.TenantID,
		"context":   in.Context,
		"top_k":     topK,
	}
	key := r.cacheKey(op, params)

	if resp := r.cachedVectorResponse(ctx, key); resp != nil {
		resp.CacheHit = true
		resp.LatencyMs = r.sinceMs(start)
		r.record(ctx, op, in.TenantID, in.Query, params, len(resp.Results), resp.LatencyMs, nil, nil)
		return resp, nil
	}

	embedded, err := r.embedder.Embed(ctx, in.Query)
	if err != nil {
		err = newError(KindBackendFailed, op, in.TenantID, MsgServiceUnavailable,
			fmt.Errorf("%w: %v", ErrEmbeddingFailed, err))
		r.record(ctx, op, in.TenantID, in.Query, params, 0, r.sinceMs(start), err, nil)
		return nil, err
	}

	matches, err := r.store.VectorSearch(ctx, storage.VectorSearchParams{
		TenantID:  in.TenantID,
		Embedding: embedded.Vector,
		Context:   in.Context,
		Limit:     topK,
	})
	if err != nil {
		err = newError(KindBackendFailed, op, in.TenantID, MsgServiceUnavailable,
			fmt.Errorf("%w: %v", ErrBackendFailed, err))
		r.record(ctx, op, in.TenantID, in.Query, params, 0, r.sinceMs(start), err, nil)
		return nil, err
	}

	results := make([]VectorResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, VectorResult{
			ChunkID:       m.ChunkID,
			DocumentID:    m.DocumentID,
			ChunkIndex:    m.ChunkIndex,
			Content:       m.Content,
			Similarity:    similarityFromDistance(m.Distance),
			Page:          m.Page,
			Section:       m.Section,
			Language:      m.Language,
			DocumentTitle: m.DocumentTitle,
			SourceType:    m.SourceType,
			Metadata:      m.DocumentMetadata,
		})
	}

	resp := &VectorSearchResponse{
		Results:    results,
		TotalFound: len(results),
		CacheHit:   false,
		LatencyMs:  r.sinceMs(start),
	}

	r.cacheResponse(ctx, key, resp)
	cost := embedded.CostCents
	r.record(ctx, op, in.TenantID, in.Query, params, len(results), resp.LatencyMs, nil, &cost)

	return resp, nil
}

// similarityFromDistance converts a cosine distance to a similarity in
// [0,1]. Floating-point drift can push the raw value just outside the
// interval.
func similarityFromDistance(distance float64) float64 {
	s := 1 - distance
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// cachedVectorResponse returns the cached response for key, or nil on
// miss or any cache failure.
func (r *Retriever) cachedVectorResponse(ctx context.Context, key string) *VectorSearchResponse {
	data, found := r.cacheGet(ctx, key)
	if !found {
		return nil
	}
	var resp VectorSearchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		r.reportError(fmt.Errorf("failed to decode cached response: %w", err))
		return nil
	}
	return &resp
}

// cacheKey derives the cache key, or "" when derivation fails; a ""
// key disables caching for the call rather than failing it.
func (r *Retriever) cacheKey(toolName string, params map[string]any) string {
	key, err := cache.Key(toolName, params)
	if err != nil {
		r.reportError(fmt.Errorf("failed to derive cache key: %w", err))
		return ""
	}
	return key
}

func (r *Retriever) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	if r.cache == nil || key == "" {
		return nil, false
	}
	data, found, err := r.cache.Get(ctx, key)
	if err != nil {
		r.reportError(fmt.Errorf("failed to read cache: %w", err))
		return nil, false
	}
	return data, found
}

func (r *Retriever) cacheResponse(ctx context.Context, key string, resp any) {
	if r.cache == nil || key == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		r.reportError(fmt.Errorf("failed to encode response for cache: %w", err))
		return
	}
	if err := r.cache.Set(ctx, key, data, r.cacheTTL); err != nil {
		r.reportError(fmt.Errorf("failed to write cache: %w", err))
	}
}

// record emits one telemetry record for a finished tool call.
func (r *Retriever) record(ctx context.Context, toolName, tenantID, query string, params map[string]any, resultCount int, latencyMs int64, callErr error, costCents *float64) {
	if r.recorder == nil {
		return
	}
	inv := &storage.ToolInvocation{
		TenantID:    tenantID,
		ToolName:    toolName,
		QueryText:   query,
		Parameters:  params,
		Success:     callErr == nil,
		LatencyMs:   latencyMs,
		ResultCount: resultCount,
		CostCents:   costCents,
		CreatedAt:   r.now(),
	}
	// Calls arriving through the orchestrator carry a session; direct
	// calls do not, and the column is nullable.
	if sessionID, ok := tool.GetSessionID(ctx); ok && sessionID != "" {
		inv.SessionID = &sessionID
	}
	if callErr != nil {
		msg := callErr.Error()
		inv.Error = &msg
	}
	r.recorder.Record(ctx, inv)
}

func (r *Retriever) sinceMs(start time.Time) int64 {
	return r.now().Sub(start).Milliseconds()
}

func (r *Retriever) reportError(err error) {
	if r.onError != nil {
		r.onError(err)
	}
}
