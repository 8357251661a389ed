// Package ragpg provides a multi-tenant retrieval orchestration engine for Go.
//
// RagPG is opinionated (PostgreSQL + pgvector, pluggable completion and
// embedding providers), modular, and designed for answer pipelines that ground
// a completion model in tenant-scoped document corpora through vector, graph,
// and hybrid retrieval tools.
//
// # Key Features
//
//   - Tenant registry with consent policies enforced on every operation
//   - Vector, graph, and hybrid retrieval with reciprocal rank fusion
//   - TTL+LRU result cache (in-memory or Redis) in front of retrieval
//   - Session store with a bounded conversation window
//   - At-least-once ingestion queue with visibility timeouts and NOTIFY wakeups
//   - Telemetry recording for every tool invocation
//   - Multi-instance coordination: heartbeats, leader election, backlog alerts
//
// # Quick Start
//
// Create a client with a driver and the required providers:
//
//	pool, _ := pgxpool.New(ctx, connString)
//	opts, _ := ragpg.LoadOptions(".env")
//	client, err := ragpg.NewClient(pgxv5.New(pool), &ragpg.ClientConfig{
//	    CompletionClient: model.NewAnthropic(os.Getenv("ANTHROPIC_API_KEY")),
//	    Embedder:         embed.NewOpenAI(os.Getenv("OPENAI_API_KEY"), opts.EmbeddingModel),
//	    Options:          opts,
//	})
//
// Start it and answer a question:
//
//	client.Start(ctx)
//	defer client.Stop(ctx)
//
//	resp, _ := client.Answer(ctx, &ragpg.AnswerRequest{
//	    Query:    "¿Qué dice el contrato marco sobre penalizaciones?",
//	    TenantID: "acme",
//	})
//
// The model decides which retrieval tools to call; the answer comes back in
// Spanish together with the session id and a summary of the tool calls made.
//
// # Tenants and Consent
//
// Every operation is scoped to a tenant registered up front:
//
//	client.RegisterTenant(ctx, &storage.Tenant{
//	    TenantID:    "acme",
//	    DisplayName: "ACME Seguros",
//	    AllowedOps:  []string{ragpg.OpRetrieve, ragpg.OpIngest},
//	    Active:      true,
//	})
//
// A tenant without consent for an operation gets a Spanish refusal, not an
// error: the pipeline treats denial as an answer.
//
// # Custom Tools
//
// The built-in retrieval tools can be extended. Implement the Tool interface:
//
//	type MyTool struct{}
//
//	func (t *MyTool) Name() string { return "my_tool" }
//	func (t *MyTool) Description() string { return "Does something useful" }
//	func (t *MyTool) InputSchema() tool.ToolSchema {
//	    return tool.ToolSchema{
//	        Type: "object",
//	        Properties: map[string]tool.PropertyDef{
//	            "param": {Type: "string", Description: "A parameter"},
//	        },
//	        Required: []string{"param"},
//	    }
//	}
//	func (t *MyTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
//	    tenantID, _ := tool.GetTenantID(ctx)
//	    // Tool implementation
//	    return "result", nil
//	}
//
// and register it before Start:
//
//	client.RegisterTool(&MyTool{})
//
// Tool schemas never expose tenant_id; tenant scoping always comes from the
// call context the orchestrator installs.
//
// # Ingestion
//
// Enqueue documents for processing; content is hashed so re-submitting the
// same bytes returns the job already in flight:
//
//	job, _ := client.Enqueue(ctx, &ragpg.EnqueueRequest{
//	    TenantID:      "acme",
//	    Content:       pdfBytes,
//	    StoragePath:   "s3://corpus/acme/contrato.pdf",
//	    ConnectorType: "s3",
//	    SourceFormat:  "pdf",
//	})
//
// Provide a worker.Processor to have this instance work the queue. Jobs are
// delivered at least once: a worker that dies mid-job loses its claim when
// the visibility deadline passes and another instance picks the job up.
//
// # Multi-Instance Coordination
//
// Every started client registers an instance row and heartbeats it. One
// instance at a time holds the leader lease and runs the janitorial work:
// deleting old terminal jobs, pruning stale instances, and watching the
// ingestion backlog. Instances wake each other through LISTEN/NOTIFY when
// the driver supports it, with polling as the fallback.
package ragpg
