// Package embed produces text embeddings for retrieval and ingestion.
//
// The OpenAI client is the production implementation. Wrap any Client in
// Limited to add rate limiting and retry with exponential backoff, which
// is how the retrieval path keeps within the embedding provider's quota.
package embed

import "context"

// DefaultModel is used when no embedding model is configured.
const DefaultModel = "text-embedding-3-small"

// Result carries one embedding plus the accounting data recorded in
// telemetry and on embedding rows.
type Result struct {
	// Vector is the embedding, in the model's dimensionality.
	Vector []float32

	// Tokens is the number of prompt tokens consumed.
	Tokens int

	// Model is the model that produced the vector.
	Model string

	// CostCents is the estimated cost of the call in US cents.
	CostCents float64
}

// BatchResult carries the embeddings for a batch of texts. Token and cost
// figures are totals for the whole batch; the provider does not break
// usage down per input.
type BatchResult struct {
	// Vectors holds one embedding per input text, in input order.
	Vectors [][]float32

	Tokens    int
	Model     string
	CostCents float64
}

// Client produces embeddings.
type Client interface {
	// Embed returns the embedding for a single text.
	Embed(ctx context.Context, text string) (*Result, error)

	// EmbedBatch returns embeddings for several texts in one call.
	// Used by the ingestion pipeline to embed chunk batches.
	EmbedBatch(ctx context.Context, texts []string) (*BatchResult, error)

	// Model reports the model identifier this client embeds with.
	Model() string
}

// centsPerMillionTokens maps embedding models to their list price.
var centsPerMillionTokens = map[string]float64{
	"text-embedding-3-small": 2,
	"text-embedding-3-large": 13,
	"text-embedding-ada-002": 10,
}

// EstimateCostCents returns the estimated cost in US cents of embedding
// the given number of tokens with model. Unknown models cost zero rather
// than guessing.
func EstimateCostCents(model string, tokens int) float64 {
	perMillion, ok := centsPerMillionTokens[model]
	if !ok || tokens <= 0 {
		return 0
	}
	return perMillion * float64(tokens) / 1_000_000
}
