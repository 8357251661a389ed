package ragpg

import (
	"fmt"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/youssefsiam38/ragpg/embed"
)

// Options holds the environment-derived knobs. Zero values mean "use the
// default"; DefaultOptions returns them filled in.
type Options struct {
	// PrimaryModel is the completion model used first for every answer.
	PrimaryModel string

	// FallbackModel is tried once when the primary model fails. Empty
	// disables the fallback.
	FallbackModel string

	// EmbeddingModel identifies the embedding model.
	EmbeddingModel string

	// CacheTTL is how long retrieval results stay cached.
	CacheTTL time.Duration

	// CacheMaxEntries bounds the in-memory result cache.
	CacheMaxEntries int

	// SessionWindowTurns is the context window size N (last 2N turns).
	SessionWindowTurns int

	// JobVisibility is the ingestion queue visibility timeout.
	JobVisibility time.Duration

	// JobMaxRetries bounds processing attempts per ingestion job.
	JobMaxRetries int

	// BacklogAlertAge is the oldest-pending age that raises the backlog
	// alert in queue stats.
	BacklogAlertAge time.Duration

	// EmbedRPS is the process-wide embedder rate limit.
	EmbedRPS float64

	// EmbedMaxRetries bounds embedder retries on transient errors.
	EmbedMaxRetries int
}

// DefaultOptions returns the documented defaults. The completion model
// ids have no default and must come from the environment or from code.
func DefaultOptions() *Options {
	return &Options{
		EmbeddingModel:     embed.DefaultModel,
		CacheTTL:           DefaultCacheTTL,
		CacheMaxEntries:    0, // cache.DefaultMaxEntries applies downstream
		SessionWindowTurns: DefaultSessionWindowTurns,
		JobVisibility:      DefaultJobVisibility,
		JobMaxRetries:      DefaultJobMaxRetries,
		BacklogAlertAge:    DefaultBacklogAlertAge,
		EmbedRPS:           DefaultEmbedRPS,
		EmbedMaxRetries:    DefaultEmbedMaxRetries,
	}
}

// applyDefaults fills zero values in place with the documented defaults.
func (o *Options) applyDefaults() {
	if o.EmbeddingModel == "" {
		o.EmbeddingModel = embed.DefaultModel
	}
	if o.CacheTTL == 0 {
		o.CacheTTL = DefaultCacheTTL
	}
	if o.SessionWindowTurns == 0 {
		o.SessionWindowTurns = DefaultSessionWindowTurns
	}
	if o.JobVisibility == 0 {
		o.JobVisibility = DefaultJobVisibility
	}
	if o.JobMaxRetries == 0 {
		o.JobMaxRetries = DefaultJobMaxRetries
	}
	if o.BacklogAlertAge == 0 {
		o.BacklogAlertAge = DefaultBacklogAlertAge
	}
	if o.EmbedRPS == 0 {
		o.EmbedRPS = DefaultEmbedRPS
	}
	if o.EmbedMaxRetries == 0 {
		o.EmbedMaxRetries = DefaultEmbedMaxRetries
	}
}

// Recognized environment option keys.
const (
	EnvPrimaryCompletionModel  = "PRIMARY_COMPLETION_MODEL"
	EnvFallbackCompletionModel = "FALLBACK_COMPLETION_MODEL"
	EnvEmbeddingModel          = "EMBEDDING_MODEL"
	EnvCacheTTLSeconds         = "CACHE_TTL_SECONDS"
	EnvCacheMaxEntries         = "CACHE_MAX_ENTRIES"
	EnvSessionWindowTurns      = "SESSION_WINDOW_TURNS"
	EnvJobVisibilitySeconds    = "JOB_VISIBILITY_SECONDS"
	EnvJobMaxRetries           = "JOB_MAX_RETRIES"
	EnvJobBacklogAlertHours    = "JOB_BACKLOG_ALERT_HOURS"
	EnvEmbedRPS                = "EMBED_RPS"
	EnvEmbedMaxRetries         = "EMBED_MAX_RETRIES"
)

// ParseOptions builds Options from a flat key/value map, usually the
// contents of a .env file. Parsing is strict: an unrecognized key or an
// unparseable value is an error, never silently ignored. Empty values
// fall back to the default for their key.
func ParseOptions(vars map[string]string) (*Options, error) {
	opts := DefaultOptions()

	for key, value := range vars {
		if value == "" {
			continue
		}
		var err error
		switch key {
		case EnvPrimaryCompletionModel:
			opts.PrimaryModel = value
		case EnvFallbackCompletionModel:
			opts.FallbackModel = value
		case EnvEmbeddingModel:
			opts.EmbeddingModel = value
		case EnvCacheTTLSeconds:
			opts.CacheTTL, err = parseSeconds(key, value)
		case EnvCacheMaxEntries:
			opts.CacheMaxEntries, err = parsePositiveInt(key, value)
		case EnvSessionWindowTurns:
			opts.SessionWindowTurns, err = parsePositiveInt(key, value)
		case EnvJobVisibilitySeconds:
			opts.JobVisibility, err = parseSeconds(key, value)
		case EnvJobMaxRetries:
			opts.JobMaxRetries, err = parsePositiveInt(key, value)
		case EnvJobBacklogAlertHours:
			var hours int
			hours, err = parsePositiveInt(key, value)
			opts.BacklogAlertAge = time.Duration(hours) * time.Hour
		case EnvEmbedRPS:
			opts.EmbedRPS, err = parsePositiveFloat(key, value)
		case EnvEmbedMaxRetries:
			opts.EmbedMaxRetries, err = parsePositiveInt(key, value)
		default:
			return nil, newError(KindInvalidArgument, "parse_options", "", "",
				fmt.Errorf("%w: unrecognized option %q", ErrInvalidConfig, key))
		}
		if err != nil {
			return nil, err
		}
	}

	return opts, nil
}

// LoadOptions reads one or more .env files via godotenv and parses them
// strictly. With no arguments it reads "./.env".
func LoadOptions(filenames ...string) (*Options, error) {
	vars, err := godotenv.Read(filenames...)
	if err != nil {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}
	return ParseOptions(vars)
}

func parsePositiveInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return 0, newError(KindInvalidArgument, "parse_options", "", "",
			fmt.Errorf("%w: %s must be a positive integer, got %q", ErrInvalidConfig, key, value))
	}
	return n, nil
}

func parsePositiveFloat(key, value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f <= 0 {
		return 0, newError(KindInvalidArgument, "parse_options", "", "",
			fmt.Errorf("%w: %s must be a positive number, got %q", ErrInvalidConfig, key, value))
	}
	return f, nil
}

func parseSeconds(key, value string) (time.Duration, error) {
	n, err := parsePositiveInt(key, value)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}
