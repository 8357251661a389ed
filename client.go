package ragpg

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/youssefsiam38/ragpg/cache"
	"github.com/youssefsiam38/ragpg/driver"
	"github.com/youssefsiam38/ragpg/embed"
	"github.com/youssefsiam38/ragpg/hooks"
	"github.com/youssefsiam38/ragpg/leadership"
	"github.com/youssefsiam38/ragpg/maintenance"
	"github.com/youssefsiam38/ragpg/model"
	"github.com/youssefsiam38/ragpg/notifier"
	"github.com/youssefsiam38/ragpg/storage"
	"github.com/youssefsiam38/ragpg/tool"
	"github.com/youssefsiam38/ragpg/worker"
)

// ClientConfig holds configuration for the Client. CompletionClient,
// Embedder, and a primary model (via Options or the environment) are
// required; everything else has a documented default.
type ClientConfig struct {
	// CompletionClient serves the answer pipeline. Required. See
	// model.NewAnthropic and model.NewOpenAI.
	CompletionClient model.Client

	// Embedder produces query embeddings. Required. It is wrapped with
	// the process-wide rate limit unless it already is an *embed.Limited.
	Embedder embed.Client

	// Options carries the environment-derived knobs (models, TTLs,
	// bounds). Nil means DefaultOptions(); PrimaryModel must be set
	// either way.
	Options *Options

	// SystemPrompt overrides DefaultSystemPrompt for the answer pipeline.
	SystemPrompt string

	// MaxTokens bounds completion responses. Default: 4096.
	MaxTokens int

	// Temperature is passed to the completion model when positive.
	Temperature float32

	// MaxToolIterations bounds tool-use rounds per answer. Default: 10.
	MaxToolIterations int

	// Cache fronts retrieval results. Default: in-memory TTL+LRU sized
	// by Options.CacheMaxEntries. See cache.NewRedis for the network
	// variant shared across instances.
	Cache cache.Cache

	// Processor handles dequeued ingestion jobs. Nil disables the ingest
	// worker; Enqueue still works and another instance's worker picks the
	// jobs up.
	Processor worker.Processor

	// MaxConcurrentJobs bounds jobs processed at once. Default: 4.
	MaxConcurrentJobs int

	// PollInterval is the worker poll period. Default: 5s.
	PollInterval time.Duration

	// CheckpointRoot is the checkpoint tree root. Default: "checkpoints".
	CheckpointRoot string

	// DataDir holds the ingestion progress log. Default: "data".
	DataDir string

	// ReportsDir is the telemetry file tree root. Empty disables the
	// telemetry file sink; the store sink always runs.
	ReportsDir string

	// InstanceID is a unique identifier for this client instance.
	// Default: a fresh UUID.
	InstanceID string

	// Hostname is recorded on the instance row. Default: os.Hostname().
	Hostname string

	// Metadata is recorded on the instance row.
	Metadata map[string]any

	// HeartbeatInterval is how often to send heartbeats. Default: 30s.
	HeartbeatInterval time.Duration

	// CleanupInterval is how often the leader runs cleanup. Default: 1m.
	CleanupInterval time.Duration

	// JobRetention is how long terminal jobs are kept before the leader's
	// cleanup deletes them. Default: 168h.
	JobRetention time.Duration

	// BacklogCheckInterval is how often the leader checks queue stats for
	// a backlog alert. Default: 10m.
	BacklogCheckInterval time.Duration

	// LeaderTTL is how long a leader's lease is valid. Default: 30s.
	LeaderTTL time.Duration

	// Hooks receives the answer, tool, and job lifecycle events. Nil
	// creates an empty registry, reachable via Client.Hooks().
	Hooks *hooks.Registry

	// Logger receives client lifecycle logs. The interface matches
	// *slog.Logger; nil disables logging.
	Logger Logger

	// OnError is called when background operations fail.
	OnError func(err error)

	// OnBecameLeader is called when this instance becomes the leader.
	OnBecameLeader func()

	// OnLostLeadership is called when this instance loses leadership.
	OnLostLeadership func()

	// OnBacklogAlert is called by the leader while the ingestion backlog
	// exceeds Options.BacklogAlertAge.
	OnBacklogAlert func(stats *storage.QueueStats)
}

// Client is the engine's front door: it owns the retrieval components,
// the answer pipeline, and the background services (heartbeat, leader
// election, notifier, ingest worker), tied to one registered instance row.
//
// TTx is the native transaction type from the driver (e.g., pgx.Tx,
// *sql.Tx).
type Client[TTx any] struct {
	driver     driver.Driver[TTx]
	store      storage.Store
	config     *ClientConfig
	options    *Options
	instanceID string
	logger     Logger

	// Components
	tenants      *TenantRegistry
	sessions     *SessionStore
	recorder     *Recorder
	retriever    *Retriever
	checkpoints  *CheckpointStore
	queue        *Queue
	progress     *ProgressLog
	orchestrator *Orchestrator
	hookRegistry *hooks.Registry
	toolRegistry *tool.Registry

	// Background services
	heartbeat *maintenance.Heartbeat
	cleanup   *maintenance.Cleanup
	backlog   *maintenance.BacklogMonitor
	elector   *leadership.Elector
	notif     *notifier.Notifier
	worker    *worker.Worker

	// State
	started  atomic.Bool
	isLeader atomic.Bool

	// Cancellation
	cancel context.CancelFunc
}

// NewClient creates a Client with the given driver and configuration. The
// transaction type TTx is inferred from the driver argument.
//
// Example:
//
//	drv := pgxv5.New(pool)
//	client, err := ragpg.NewClient(drv, &ragpg.ClientConfig{
//	    CompletionClient: model.NewAnthropic(os.Getenv("ANTHROPIC_API_KEY")),
//	    Embedder:         embed.NewOpenAI(os.Getenv("OPENAI_API_KEY"), opts.EmbeddingModel),
//	    Options:          opts,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := client.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Stop(ctx)
//
//	response, err := client.Answer(ctx, &ragpg.AnswerRequest{
//	    Query:    "¿Qué dice el contrato marco sobre penalizaciones?",
//	    TenantID: "acme",
//	})
func NewClient[TTx any](drv driver.Driver[TTx], config *ClientConfig) (*Client[TTx], error) {
	if drv == nil {
		return nil, fmt.Errorf("%w: driver is required", ErrInvalidConfig)
	}
	if !drv.PoolIsSet() {
		return nil, fmt.Errorf("%w: driver pool is not set", ErrInvalidConfig)
	}
	if config == nil {
		config = &ClientConfig{}
	}
	if config.CompletionClient == nil {
		return nil, fmt.Errorf("%w: CompletionClient is required", ErrInvalidConfig)
	}
	if config.Embedder == nil {
		return nil, fmt.Errorf("%w: Embedder is required", ErrInvalidConfig)
	}

	// Copy the options so defaults never mutate the caller's struct.
	var opts Options
	if config.Options != nil {
		opts = *config.Options
	} else {
		opts = *DefaultOptions()
	}
	opts.applyDefaults()
	if opts.PrimaryModel == "" {
		return nil, fmt.Errorf("%w: PrimaryModel is required (set %s or Options.PrimaryModel)",
			ErrInvalidConfig, EnvPrimaryCompletionModel)
	}

	applyClientDefaults(config)

	instanceID := config.InstanceID
	if instanceID == "" {
		instanceID = uuid.New().String()
	}
	if config.Hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			config.Hostname = "unknown"
		} else {
			config.Hostname = h
		}
	}

	logger := config.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	hookRegistry := config.Hooks
	if hookRegistry == nil {
		hookRegistry = hooks.NewRegistry()
	}

	resultCache := config.Cache
	if resultCache == nil {
		resultCache = cache.NewMemory(opts.CacheMaxEntries)
	}

	embedder := config.Embedder
	if _, ok := embedder.(*embed.Limited); !ok {
		embedder = embed.NewLimited(embedder, opts.EmbedRPS, opts.EmbedMaxRetries)
	}

	c := &Client[TTx]{
		driver:       drv,
		store:        drv.GetStore(),
		config:       config,
		options:      &opts,
		instanceID:   instanceID,
		logger:       logger,
		hookRegistry: hookRegistry,
	}

	c.tenants = NewTenantRegistry(c.store, &TenantRegistryConfig{
		OnError: c.reportError,
	})
	c.recorder = NewRecorder(c.store, &RecorderConfig{
		ReportsDir: config.ReportsDir,
		OnError:    c.reportError,
	})
	c.retriever = NewRetriever(c.store, c.tenants, embedder, resultCache, c.recorder, &RetrieverConfig{
		CacheTTL: opts.CacheTTL,
		OnError:  c.reportError,
	})
	c.sessions = NewSessionStore(c.store, &SessionStoreConfig{
		OnError: c.reportError,
	})
	c.checkpoints = NewCheckpointStore(&CheckpointStoreConfig{
		Root:    config.CheckpointRoot,
		OnError: c.reportError,
	})
	c.progress = NewProgressLog(config.DataDir)

	var notify driver.Notifier
	if drv.SupportsNotify() {
		notify = drv.GetNotifier()
	}
	c.queue = NewQueue(c.store, &QueueConfig{
		Notifier:        notify,
		Progress:        c.progress,
		Visibility:      opts.JobVisibility,
		MaxRetries:      opts.JobMaxRetries,
		BacklogAlertAge: opts.BacklogAlertAge,
		OnError:         c.reportError,
	})

	c.toolRegistry = tool.NewRegistry()
	if err := c.toolRegistry.RegisterAll(builtinTools(c.retriever, c.checkpoints, c.recorder)); err != nil {
		return nil, fmt.Errorf("failed to register retrieval tools: %w", err)
	}

	orchestrator, err := NewOrchestrator(config.CompletionClient, c.tenants, c.sessions, c.toolRegistry, hookRegistry, &OrchestratorConfig{
		PrimaryModel:       opts.PrimaryModel,
		FallbackModel:      opts.FallbackModel,
		SystemPrompt:       config.SystemPrompt,
		MaxTokens:          config.MaxTokens,
		Temperature:        config.Temperature,
		MaxToolIterations:  config.MaxToolIterations,
		SessionWindowTurns: opts.SessionWindowTurns,
	})
	if err != nil {
		return nil, err
	}
	c.orchestrator = orchestrator

	return c, nil
}

// applyClientDefaults fills zero-valued service knobs in place.
func applyClientDefaults(config *ClientConfig) {
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = maintenance.DefaultHeartbeatInterval
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = maintenance.DefaultCleanupInterval
	}
	if config.JobRetention == 0 {
		config.JobRetention = maintenance.DefaultJobRetention
	}
	if config.BacklogCheckInterval == 0 {
		config.BacklogCheckInterval = maintenance.DefaultBacklogCheckInterval
	}
	if config.LeaderTTL == 0 {
		config.LeaderTTL = leadership.DefaultLeaderTTL
	}
	if config.MaxConcurrentJobs == 0 {
		config.MaxConcurrentJobs = DefaultMaxConcurrentJobs
	}
	if config.PollInterval == 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.CheckpointRoot == "" {
		config.CheckpointRoot = DefaultCheckpointRoot
	}
	if config.DataDir == "" {
		config.DataDir = DefaultDataDir
	}
}

// Start registers the instance row and brings up the background services:
// heartbeat, leader election, the LISTEN/NOTIFY notifier when the driver
// supports it, and the ingest worker when a Processor is configured. A
// failure rolls back the services already started.
func (c *Client[TTx]) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrClientAlreadyStarted
	}

	ctx, c.cancel = context.WithCancel(ctx)

	if err := c.registerInstance(ctx); err != nil {
		c.started.Store(false)
		return fmt.Errorf("failed to register instance: %w", err)
	}
	c.logger.Info("ragpg: instance registered", "instance_id", c.instanceID)

	c.heartbeat = maintenance.NewHeartbeat(c.store, c.instanceID, &maintenance.HeartbeatConfig{
		Interval: c.config.HeartbeatInterval,
		OnError:  c.reportError,
	})
	if err := c.heartbeat.Start(ctx); err != nil {
		c.started.Store(false)
		return fmt.Errorf("failed to start heartbeat: %w", err)
	}

	c.elector = leadership.NewElector(c.store, c.instanceID, &leadership.Config{
		LeaderTTL: c.config.LeaderTTL,
	}, leadership.Callbacks{
		OnBecameLeader:   c.onBecameLeader,
		OnLostLeadership: c.onLostLeadership,
	})
	if err := c.elector.Start(ctx); err != nil {
		_ = c.heartbeat.Stop(ctx) // best-effort cleanup
		c.started.Store(false)
		return fmt.Errorf("failed to start leader election: %w", err)
	}

	if c.driver.SupportsListener() || c.driver.SupportsNotify() {
		var getListener func(context.Context) (driver.Listener, error)
		if c.driver.SupportsListener() {
			getListener = c.driver.GetListener
		}
		c.notif = notifier.NewNotifier(getListener, c.driver.GetNotifier(), &notifier.Config{
			OnError: c.reportError,
		})
		if err := c.notif.Start(ctx); err != nil {
			_ = c.elector.Stop(ctx)   // best-effort cleanup
			_ = c.heartbeat.Stop(ctx) // best-effort cleanup
			c.started.Store(false)
			return fmt.Errorf("failed to start notifier: %w", err)
		}
	}

	if c.config.Processor != nil {
		c.worker = worker.New(c.queue, c.config.Processor, c.notif, &worker.Config{
			WorkerID:          c.instanceID,
			MaxConcurrentJobs: c.config.MaxConcurrentJobs,
			PollInterval:      c.config.PollInterval,
			OnError:           c.reportError,
			OnJobDone:         c.onJobDone,
		})
		if err := c.worker.Start(ctx); err != nil {
			if c.notif != nil {
				_ = c.notif.Stop(ctx) // best-effort cleanup
			}
			_ = c.elector.Stop(ctx)   // best-effort cleanup
			_ = c.heartbeat.Stop(ctx) // best-effort cleanup
			c.started.Store(false)
			return fmt.Errorf("failed to start ingest worker: %w", err)
		}
	}

	return nil
}

// Stop gracefully shuts down the client: background services in reverse
// start order, best-effort, then the instance row is deregistered.
func (c *Client[TTx]) Stop(ctx context.Context) error {
	if !c.started.Load() {
		return ErrClientNotStarted
	}

	if c.cancel != nil {
		c.cancel()
	}

	if c.worker != nil && c.worker.IsRunning() {
		_ = c.worker.Stop(ctx)
	}
	if c.backlog != nil && c.backlog.IsRunning() {
		_ = c.backlog.Stop(ctx)
	}
	if c.cleanup != nil && c.cleanup.IsRunning() {
		_ = c.cleanup.Stop(ctx)
	}
	if c.notif != nil && c.notif.IsRunning() {
		_ = c.notif.Stop(ctx)
	}
	if c.elector != nil {
		_ = c.elector.Stop(ctx)
	}
	if c.heartbeat != nil {
		_ = c.heartbeat.Stop(ctx)
	}

	// Deregister instance (best effort)
	_ = c.store.DeregisterInstance(ctx, c.instanceID)
	c.logger.Info("ragpg: instance deregistered", "instance_id", c.instanceID)

	c.started.Store(false)
	return nil
}

// Answer runs one user turn through the retrieval pipeline.
func (c *Client[TTx]) Answer(ctx context.Context, req *AnswerRequest) (*AnswerResponse, error) {
	if !c.started.Load() {
		return nil, ErrClientNotStarted
	}
	return c.orchestrator.Answer(ctx, req)
}

// VectorSearch embeds the query and returns the tenant's most similar
// chunks, bypassing the model.
func (c *Client[TTx]) VectorSearch(ctx context.Context, in *VectorSearchInput) (*VectorSearchResponse, error) {
	if !c.started.Load() {
		return nil, ErrClientNotStarted
	}
	return c.retriever.VectorSearch(ctx, in)
}

// GraphSearch returns the tenant's entities and relationships matching the
// query, bypassing the model.
func (c *Client[TTx]) GraphSearch(ctx context.Context, in *GraphSearchInput) (*GraphSearchResponse, error) {
	if !c.started.Load() {
		return nil, ErrClientNotStarted
	}
	return c.retriever.GraphSearch(ctx, in)
}

// HybridSearch fuses vector and graph rankings, bypassing the model.
func (c *Client[TTx]) HybridSearch(ctx context.Context, in *HybridSearchInput) (*HybridSearchResponse, error) {
	if !c.started.Load() {
		return nil, ErrClientNotStarted
	}
	return c.retriever.HybridSearch(ctx, in)
}

// CheckpointLookup returns the tenant's most recent checkpoints for stage.
func (c *Client[TTx]) CheckpointLookup(ctx context.Context, stage, tenantID string, limit int) ([]CheckpointRecord, error) {
	if !c.started.Load() {
		return nil, ErrClientNotStarted
	}
	return c.checkpoints.Lookup(ctx, stage, tenantID, limit)
}

// Enqueue adds one document to the ingestion queue, or returns the
// existing job when the same content is already queued for the tenant.
func (c *Client[TTx]) Enqueue(ctx context.Context, req *EnqueueRequest) (*storage.IngestionJob, error) {
	if !c.started.Load() {
		return nil, ErrClientNotStarted
	}
	if req != nil && req.TenantID != "" {
		if err := c.tenants.ValidateConsent(ctx, req.TenantID, OpIngest); err != nil {
			return nil, err
		}
	}
	return c.queue.Enqueue(ctx, req)
}

// EnqueueTx is Enqueue within the caller's transaction: the job row commits
// or rolls back with the caller's own writes, and the enqueue NOTIFY fires
// only on commit. Hooks fired during the call can reach the transaction via
// TxFromContext.
func (c *Client[TTx]) EnqueueTx(ctx context.Context, tx TTx, req *EnqueueRequest) (*storage.IngestionJob, error) {
	if !c.started.Load() {
		return nil, ErrClientNotStarted
	}
	if req != nil && req.TenantID != "" {
		if err := c.tenants.ValidateConsent(ctx, req.TenantID, OpIngest); err != nil {
			return nil, err
		}
	}
	ctx = driver.WithExecutor(ctx, c.driver.UnwrapExecutor(tx))
	ctx = withNativeTx(ctx, tx)
	return c.queue.Enqueue(ctx, req)
}

// GetJob returns one ingestion job by id.
func (c *Client[TTx]) GetJob(ctx context.Context, jobID string) (*storage.IngestionJob, error) {
	if !c.started.Load() {
		return nil, ErrClientNotStarted
	}
	return c.queue.Get(ctx, jobID)
}

// JobStats returns queue counts over the trailing week plus the backlog
// age and alert flag.
func (c *Client[TTx]) JobStats(ctx context.Context) (*storage.QueueStats, error) {
	if !c.started.Load() {
		return nil, ErrClientNotStarted
	}
	return c.queue.Stats(ctx)
}

// TelemetryStats aggregates the tenant's tool invocations over the
// trailing window. A non-positive window means the default 7 days.
func (c *Client[TTx]) TelemetryStats(ctx context.Context, tenantID string, window time.Duration) ([]*storage.ToolStats, error) {
	if !c.started.Load() {
		return nil, ErrClientNotStarted
	}
	return c.recorder.Stats(ctx, tenantID, window)
}

// RegisterTenant upserts a tenant's registration and consent policy.
func (c *Client[TTx]) RegisterTenant(ctx context.Context, tenant *storage.Tenant) (*storage.Tenant, error) {
	return c.tenants.Register(ctx, tenant)
}

// RegisterTool adds a caller-supplied tool to the answer pipeline's
// registry, alongside the built-in retrieval tools. Register tools before
// Start so every answer sees the same toolset.
func (c *Client[TTx]) RegisterTool(t tool.Tool) error {
	if t == nil {
		return fmt.Errorf("%w: tool is nil", ErrInvalidConfig)
	}
	return c.toolRegistry.Register(t)
}

// InstanceID returns the unique identifier for this client instance.
func (c *Client[TTx]) InstanceID() string {
	return c.instanceID
}

// IsLeader returns true if this instance is currently the leader.
func (c *Client[TTx]) IsLeader() bool {
	return c.isLeader.Load()
}

// IsRunning returns true if the client is running.
func (c *Client[TTx]) IsRunning() bool {
	return c.started.Load()
}

// Store returns the storage interface for direct access.
func (c *Client[TTx]) Store() storage.Store {
	return c.store
}

// Driver returns the database driver.
func (c *Client[TTx]) Driver() driver.Driver[TTx] {
	return c.driver
}

// Hooks returns the hook registry events are dispatched through.
func (c *Client[TTx]) Hooks() *hooks.Registry {
	return c.hookRegistry
}

// Tenants returns the tenant registry.
func (c *Client[TTx]) Tenants() *TenantRegistry {
	return c.tenants
}

// Sessions returns the session store.
func (c *Client[TTx]) Sessions() *SessionStore {
	return c.sessions
}

// Queue returns the ingestion job queue.
func (c *Client[TTx]) Queue() *Queue {
	return c.queue
}

// registerInstance registers this instance's row for heartbeat tracking.
func (c *Client[TTx]) registerInstance(ctx context.Context) error {
	now := time.Now()
	return c.store.RegisterInstance(ctx, &storage.Instance{
		InstanceID:      c.instanceID,
		Hostname:        c.config.Hostname,
		StartedAt:       now,
		LastHeartbeatAt: now,
		Metadata:        c.config.Metadata,
	})
}

// onJobDone relays terminal and retry job transitions to the hook
// registry. Hook errors have no job to fail by now, so they are reported.
func (c *Client[TTx]) onJobDone(job *storage.IngestionJob) {
	if err := c.hookRegistry.TriggerJobStateChange(context.Background(), job); err != nil {
		c.reportError(fmt.Errorf("job state change hook failed: %w", err))
	}
}

// onBecameLeader starts the leader-only services: cleanup and the backlog
// monitor.
func (c *Client[TTx]) onBecameLeader(ctx context.Context) {
	c.isLeader.Store(true)
	c.logger.Info("ragpg: became leader", "instance_id", c.instanceID)

	c.cleanup = maintenance.NewCleanup(c.store, &maintenance.CleanupConfig{
		Interval:     c.config.CleanupInterval,
		JobRetention: c.config.JobRetention,
		OnError:      c.reportError,
	})
	if err := c.cleanup.Start(ctx); err != nil {
		c.reportError(fmt.Errorf("failed to start cleanup service: %w", err))
	}

	c.backlog = maintenance.NewBacklogMonitor(c.queue, &maintenance.BacklogConfig{
		Interval: c.config.BacklogCheckInterval,
		OnAlert:  c.onBacklogAlert,
		OnError:  c.reportError,
	})
	if err := c.backlog.Start(ctx); err != nil {
		c.reportError(fmt.Errorf("failed to start backlog monitor: %w", err))
	}

	if c.config.OnBecameLeader != nil {
		c.config.OnBecameLeader()
	}
}

// onLostLeadership stops the leader-only services.
func (c *Client[TTx]) onLostLeadership(ctx context.Context) {
	c.isLeader.Store(false)
	c.logger.Info("ragpg: lost leadership", "instance_id", c.instanceID)

	if c.backlog != nil && c.backlog.IsRunning() {
		if err := c.backlog.Stop(ctx); err != nil {
			c.reportError(fmt.Errorf("failed to stop backlog monitor: %w", err))
		}
	}
	if c.cleanup != nil && c.cleanup.IsRunning() {
		if err := c.cleanup.Stop(ctx); err != nil {
			c.reportError(fmt.Errorf("failed to stop cleanup service: %w", err))
		}
	}

	if c.config.OnLostLeadership != nil {
		c.config.OnLostLeadership()
	}
}

// onBacklogAlert logs the alert and forwards it to the configured handler.
func (c *Client[TTx]) onBacklogAlert(stats *storage.QueueStats) {
	c.logger.Warn("ragpg: ingestion backlog alert",
		"backlog_hours", stats.BacklogHours,
		"pending", stats.Pending,
		"oldest_pending_at", stats.OldestPendingAt)
	if c.config.OnBacklogAlert != nil {
		c.config.OnBacklogAlert(stats)
	}
}

// reportError forwards a background failure to the logger and the OnError
// callback.
func (c *Client[TTx]) reportError(err error) {
	c.logger.Error("ragpg: background error", "error", err)
	if c.config.OnError != nil {
		c.config.OnError(err)
	}
}
