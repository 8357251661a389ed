package ragpg

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/youssefsiam38/ragpg/embed"
	"github.com/youssefsiam38/ragpg/jobstate"
	"github.com/youssefsiam38/ragpg/model"
	"github.com/youssefsiam38/ragpg/storage"
)

// fakeStore is an in-memory storage.Store for unit tests. Rows the
// components under test read and write live in maps; search results are
// canned so retrieval behavior can be scripted per test.
type fakeStore struct {
	mu sync.Mutex

	tenants  map[string]*storage.Tenant
	sessions map[string]*storage.Session
	jobs     map[string]*storage.IngestionJob
	jobOrder []string

	invocations []*storage.ToolInvocation
	toolStats   []*storage.ToolStats

	chunkMatches []*storage.ChunkMatch
	graphMatches []*storage.GraphMatch

	lastVectorParams *storage.VectorSearchParams
	lastGraphParams  *storage.GraphSearchParams

	tenantGets   int
	vectorCalls  int
	graphCalls   int
	sessionPuts  int
	invocationN  int
	dequeueCalls int

	getTenantErr     error
	upsertSessionErr error
	vectorErr        error
	graphErr         error
	insertJobErr     error
	invocationErr    error

	now func() time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tenants:  make(map[string]*storage.Tenant),
		sessions: make(map[string]*storage.Session),
		jobs:     make(map[string]*storage.IngestionJob),
		now:      time.Now,
	}
}

func (s *fakeStore) UpsertTenant(ctx context.Context, tenant *storage.Tenant) (*storage.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *tenant
	now := s.now()
	if existing, ok := s.tenants[tenant.TenantID]; ok {
		stored.ConsentVersion = existing.ConsentVersion + 1
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.ConsentVersion = 1
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.tenants[tenant.TenantID] = &stored

	out := stored
	return &out, nil
}

func (s *fakeStore) GetTenant(ctx context.Context, tenantID string) (*storage.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tenantGets++
	if s.getTenantErr != nil {
		return nil, s.getTenantErr
	}
	tenant, ok := s.tenants[tenantID]
	if !ok {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, storage.ErrNotFound)
	}
	out := *tenant
	return &out, nil
}

func (s *fakeStore) ListActiveTenants(ctx context.Context) ([]*storage.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*storage.Tenant
	for _, tenant := range s.tenants {
		if tenant.Active {
			t := *tenant
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}

func (s *fakeStore) GetSession(ctx context.Context, sessionID string) (*storage.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, storage.ErrNotFound)
	}
	out := *session
	out.Turns = append([]storage.Turn(nil), session.Turns...)
	return &out, nil
}

func (s *fakeStore) UpsertSession(ctx context.Context, session *storage.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessionPuts++
	if s.upsertSessionErr != nil {
		return s.upsertSessionErr
	}
	stored := *session
	stored.Turns = append([]storage.Turn(nil), session.Turns...)
	s.sessions[session.ID] = &stored
	return nil
}

func (s *fakeStore) InsertToolInvocation(ctx context.Context, inv *storage.ToolInvocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.invocationN++
	if s.invocationErr != nil {
		return s.invocationErr
	}
	stored := *inv
	s.invocations = append(s.invocations, &stored)
	return nil
}

func (s *fakeStore) ToolInvocationStats(ctx context.Context, tenantID string, since time.Time) ([]*storage.ToolStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toolStats, nil
}

func (s *fakeStore) UpsertDocument(ctx context.Context, doc *storage.Document) error {
	return nil
}

func (s *fakeStore) InsertChunks(ctx context.Context, chunks []*storage.Chunk) error {
	return nil
}

func (s *fakeStore) UpsertGraphNode(ctx context.Context, node *storage.GraphNode) (*storage.GraphNode, error) {
	out := *node
	return &out, nil
}

func (s *fakeStore) UpsertGraphEdge(ctx context.Context, edge *storage.GraphEdge) error {
	return nil
}

func (s *fakeStore) VectorSearch(ctx context.Context, params storage.VectorSearchParams) ([]*storage.ChunkMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.vectorCalls++
	s.lastVectorParams = &params
	if s.vectorErr != nil {
		return nil, s.vectorErr
	}
	out := make([]*storage.ChunkMatch, 0, len(s.chunkMatches))
	for _, m := range s.chunkMatches {
		c := *m
		out = append(out, &c)
	}
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, nil
}

func (s *fakeStore) GraphSearch(ctx context.Context, params storage.GraphSearchParams) ([]*storage.GraphMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.graphCalls++
	s.lastGraphParams = &params
	if s.graphErr != nil {
		return nil, s.graphErr
	}
	out := make([]*storage.GraphMatch, 0, len(s.graphMatches))
	for _, m := range s.graphMatches {
		g := *m
		out = append(out, &g)
	}
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, nil
}

func (s *fakeStore) InsertJob(ctx context.Context, job *storage.IngestionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.insertJobErr != nil {
		return s.insertJobErr
	}
	stored := *job
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	stored.UpdatedAt = stored.CreatedAt
	s.jobs[job.JobID] = &stored
	s.jobOrder = append(s.jobOrder, job.JobID)
	return nil
}

func (s *fakeStore) GetJob(ctx context.Context, jobID string) (*storage.IngestionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, storage.ErrNotFound)
	}
	out := *job
	return &out, nil
}

func (s *fakeStore) FindActiveJobByChecksum(ctx context.Context, tenantID, checksum string) (*storage.IngestionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.jobOrder) - 1; i >= 0; i-- {
		job := s.jobs[s.jobOrder[i]]
		if job == nil || job.TenantID != tenantID || job.Checksum != checksum {
			continue
		}
		if job.Status == jobstate.StateInProgress || job.Status == jobstate.StateCompleted {
			out := *job
			return &out, nil
		}
	}
	return nil, fmt.Errorf("no active job for checksum: %w", storage.ErrNotFound)
}

func (s *fakeStore) DequeueJob(ctx context.Context, workerID string, visibility time.Duration) (*storage.IngestionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dequeueCalls++
	now := s.now()
	for _, id := range s.jobOrder {
		job := s.jobs[id]
		claimable := job.Status.IsClaimable() ||
			(job.Status == jobstate.StateInProgress && job.VisibilityDeadline != nil && job.VisibilityDeadline.Before(now))
		if !claimable {
			continue
		}
		job.Status = jobstate.StateInProgress
		job.WorkerID = &workerID
		deadline := now.Add(visibility)
		job.VisibilityDeadline = &deadline
		if job.StartedAt == nil {
			started := now
			job.StartedAt = &started
		}
		job.UpdatedAt = now
		out := *job
		return &out, nil
	}
	return nil, nil
}

func (s *fakeStore) CompleteJob(ctx context.Context, jobID, documentID string) (*storage.IngestionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, storage.ErrNotFound)
	}
	if job.Status != jobstate.StateInProgress {
		return nil, storage.ErrStateTransitionFailed
	}
	now := s.now()
	job.Status = jobstate.StateCompleted
	job.DocumentID = &documentID
	job.CompletedAt = &now
	job.UpdatedAt = now
	out := *job
	return &out, nil
}

func (s *fakeStore) FailJob(ctx context.Context, jobID, errMsg string, maxRetries int) (*storage.IngestionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, storage.ErrNotFound)
	}
	if job.Status != jobstate.StateInProgress {
		return nil, storage.ErrStateTransitionFailed
	}
	job.Status = jobstate.NextStateForFailure(job.RetryCount, maxRetries)
	job.RetryCount++
	job.Error = &errMsg
	job.UpdatedAt = s.now()
	out := *job
	return &out, nil
}

func (s *fakeStore) JobStats(ctx context.Context, since time.Time) (*storage.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &storage.QueueStats{}
	for _, job := range s.jobs {
		if job.Status == jobstate.StatePending {
			if stats.OldestPendingAt == nil || job.CreatedAt.Before(*stats.OldestPendingAt) {
				created := job.CreatedAt
				stats.OldestPendingAt = &created
			}
		}
		if job.CreatedAt.Before(since) {
			continue
		}
		stats.Total++
		switch job.Status {
		case jobstate.StatePending:
			stats.Pending++
		case jobstate.StateInProgress:
			stats.InProgress++
		case jobstate.StateCompleted:
			stats.Completed++
		case jobstate.StateFailed:
			stats.Failed++
		case jobstate.StateRetry:
			stats.Retry++
		}
	}
	return stats, nil
}

func (s *fakeStore) DeleteJobsOlderThan(ctx context.Context, cutoff time.Time, states []jobstate.State) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	var keptOrder []string
	for _, id := range s.jobOrder {
		job := s.jobs[id]
		match := false
		for _, state := range states {
			if job.Status == state {
				match = true
				break
			}
		}
		if match && job.CreatedAt.Before(cutoff) {
			delete(s.jobs, id)
			deleted++
			continue
		}
		keptOrder = append(keptOrder, id)
	}
	s.jobOrder = keptOrder
	return deleted, nil
}

func (s *fakeStore) RegisterInstance(ctx context.Context, instance *storage.Instance) error {
	return nil
}

func (s *fakeStore) UpdateInstanceHeartbeat(ctx context.Context, instanceID string) error {
	return nil
}

func (s *fakeStore) DeregisterInstance(ctx context.Context, instanceID string) error {
	return nil
}

func (s *fakeStore) DeleteStaleInstances(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (s *fakeStore) LeaderAttemptElect(ctx context.Context, leaderID string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (s *fakeStore) LeaderAttemptReelect(ctx context.Context, leaderID string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (s *fakeStore) LeaderResign(ctx context.Context, leaderID string) error {
	return nil
}

func (s *fakeStore) LeaderDeleteExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

var _ storage.Store = (*fakeStore)(nil)

// addTenant installs a tenant with the given allowed operations, active and
// with no consent expiry. Returns the stored row for further tweaking.
func (s *fakeStore) addTenant(tenantID string, ops ...string) *storage.Tenant {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenant := &storage.Tenant{
		TenantID:       tenantID,
		DisplayName:    "Test " + tenantID,
		BusinessUnit:   "insurance",
		Industry:       "insurance",
		PriorityTier:   "standard",
		AllowedOps:     ops,
		ConsentVersion: 1,
		Active:         true,
		CreatedAt:      s.now(),
		UpdatedAt:      s.now(),
	}
	s.tenants[tenantID] = tenant
	return tenant
}

// fakeEmbedder returns a fixed vector and counts calls.
type fakeEmbedder struct {
	mu     sync.Mutex
	calls  int
	vector []float32
	tokens int
	err    error
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vector: []float32{0.1, 0.2, 0.3}, tokens: 7}
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) (*embed.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return &embed.Result{
		Vector:    append([]float32(nil), e.vector...),
		Tokens:    e.tokens,
		Model:     "test-embedding",
		CostCents: 0.001,
	}, nil
}

func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) (*embed.BatchResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = append([]float32(nil), e.vector...)
	}
	return &embed.BatchResult{
		Vectors:   vectors,
		Tokens:    e.tokens * len(texts),
		Model:     "test-embedding",
		CostCents: 0.001 * float64(len(texts)),
	}, nil
}

func (e *fakeEmbedder) Model() string {
	return "test-embedding"
}

func (e *fakeEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

var _ embed.Client = (*fakeEmbedder)(nil)

// completionStep is one scripted turn of a fakeCompletions client.
type completionStep struct {
	resp *model.Response
	err  error
}

// fakeCompletions replays scripted responses in order and records every
// request it saw.
type fakeCompletions struct {
	mu       sync.Mutex
	steps    []completionStep
	requests []model.Request
}

func (c *fakeCompletions) script(steps ...completionStep) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, steps...)
}

func (c *fakeCompletions) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests = append(c.requests, req)
	if len(c.steps) == 0 {
		return nil, errors.New("fakeCompletions: no scripted response left")
	}
	step := c.steps[0]
	c.steps = c.steps[1:]
	if step.err != nil {
		return nil, step.err
	}
	resp := *step.resp
	if resp.Model == "" {
		resp.Model = req.Model
	}
	return &resp, nil
}

func (c *fakeCompletions) requestCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *fakeCompletions) requestAt(i int) model.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[i]
}

var _ model.Client = (*fakeCompletions)(nil)

// textResponse is a convenience for a plain end-turn completion.
func textResponse(text string) *model.Response {
	return &model.Response{
		Text:       text,
		StopReason: model.StopEndTurn,
		Usage:      model.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

// toolUseResponse is a convenience for a completion that requests tool calls.
func toolUseResponse(calls ...model.ToolCall) *model.Response {
	return &model.Response{
		ToolCalls:  calls,
		StopReason: model.StopToolUse,
		Usage:      model.Usage{InputTokens: 10, OutputTokens: 5},
	}
}
