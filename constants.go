package ragpg

import "time"

// Version is the current ragpg version
const Version = "0.3.0"

// Operations gated by tenant consent (Tenant.AllowedOps values).
const (
	OpIngest   = "ingest"
	OpRetrieve = "retrieve"
	OpExport   = "export"
	OpAnalyze  = "analyze"
)

// Tool names as exposed to the completion model.
const (
	ToolVectorSearch     = "vector_search"
	ToolGraphSearch      = "graph_search"
	ToolHybridSearch     = "hybrid_search"
	ToolCheckpointLookup = "checkpoint_lookup"
)

// Checkpoint pipeline stages accepted by checkpoint_lookup.
const (
	StageIngestion     = "ingestion"
	StageOCR           = "ocr"
	StageConsolidation = "consolidation"
	StageRetrieval     = "retrieval"
	StageAgent         = "agent"
)

// Conversation turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"

	// RoleError marks a turn recording a completion failure. Error turns
	// are never replayed to the model.
	RoleError = "error"
)

// Retrieval defaults and bounds.
const (
	// DefaultTopK is the vector/hybrid result count when none is given.
	DefaultTopK = 5

	// MaxTopK bounds top_k for vector and hybrid searches.
	MaxTopK = 50

	// DefaultGraphLimit is the graph result bound when none is given.
	DefaultGraphLimit = 20

	// MaxGraphLimit bounds limit for graph searches.
	MaxGraphLimit = 100

	// DefaultCheckpointLimit is the checkpoint count when none is given.
	DefaultCheckpointLimit = 10

	// DefaultFusionWeight is the per-source weight for hybrid fusion when
	// none is given.
	DefaultFusionWeight = 0.5
)

// Cache defaults.
const (
	// DefaultCacheTTL is how long retrieval results stay cached.
	DefaultCacheTTL = 300 * time.Second

	// DefaultTenantCacheTTL is how long tenant lookups stay cached.
	DefaultTenantCacheTTL = time.Hour
)

// Session defaults.
const (
	// DefaultSessionWindowTurns is the context window size N; the model
	// sees the last 2N turns.
	DefaultSessionWindowTurns = 5
)

// Queue and worker defaults.
const (
	// DefaultJobVisibility is how long a dequeued job stays invisible to
	// other workers before it is redelivered.
	DefaultJobVisibility = 600 * time.Second

	// DefaultJobMaxRetries is how many processing attempts a job gets
	// before it fails terminally.
	DefaultJobMaxRetries = 3

	// DefaultBacklogAlertAge is the oldest-pending age past which queue
	// stats raise the backlog alert.
	DefaultBacklogAlertAge = 24 * time.Hour

	// DefaultStatsWindow is the window queue and telemetry stats cover.
	DefaultStatsWindow = 7 * 24 * time.Hour

	// DefaultMaxConcurrentJobs bounds jobs processed at once per worker.
	DefaultMaxConcurrentJobs = 4

	// DefaultPollInterval is the worker poll period when LISTEN/NOTIFY is
	// unavailable, and the safety net when it is.
	DefaultPollInterval = 5 * time.Second
)

// Embedding defaults.
const (
	// DefaultEmbedRPS is the process-wide embedder rate limit.
	DefaultEmbedRPS = 4

	// DefaultEmbedMaxRetries bounds embedder retries on transient errors.
	DefaultEmbedMaxRetries = 3
)

// Completion defaults.
const (
	// DefaultMaxTokens bounds completion responses when none is given.
	DefaultMaxTokens = 4096

	// DefaultMaxToolIterations bounds tool-use rounds per answer.
	DefaultMaxToolIterations = 10
)

// Filesystem layout defaults, relative to the working directory.
const (
	// DefaultCheckpointRoot holds checkpoints/{tenant_id}/{stage}/ trees.
	DefaultCheckpointRoot = "checkpoints"

	// DefaultDataDir holds the ingestion progress log.
	DefaultDataDir = "data"

	// DefaultReportsDir holds telemetry/{tenant_id}/{date}.jsonl files.
	DefaultReportsDir = "reports"
)
