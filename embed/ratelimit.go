package embed

import (
	"context"
	"errors"
	"math"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// Defaults for Limited when the caller passes zero values.
const (
	DefaultRPS         = 4.0
	DefaultMaxRetries  = 3
	DefaultBackoffBase = time.Second
	DefaultBackoffMax  = 30 * time.Second
)

// Limited wraps a Client with a token-bucket rate limit and retry with
// exponential backoff. Rate-limit and transient provider errors are
// retried up to MaxRetries times after the initial attempt; permanent
// errors return immediately.
type Limited struct {
	inner       Client
	limiter     *rate.Limiter
	maxRetries  int
	backoffBase time.Duration
	backoffMax  time.Duration

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLimited wraps inner with a limiter of rps requests per second and up
// to maxRetries retries. Non-positive rps disables rate limiting;
// non-positive maxRetries falls back to DefaultMaxRetries.
func NewLimited(inner Client, rps float64, maxRetries int) *Limited {
	var limiter *rate.Limiter
	if rps > 0 {
		burst := int(math.Ceil(rps))
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Limited{
		inner:       inner,
		limiter:     limiter,
		maxRetries:  maxRetries,
		backoffBase: DefaultBackoffBase,
		backoffMax:  DefaultBackoffMax,
		sleep:       sleepCtx,
	}
}

// Embed embeds a single text, waiting on the rate limiter before each
// attempt.
func (l *Limited) Embed(ctx context.Context, text string) (*Result, error) {
	var result *Result
	err := l.do(ctx, func(ctx context.Context) error {
		var err error
		result, err = l.inner.Embed(ctx, text)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// EmbedBatch embeds several texts, waiting on the rate limiter before
// each attempt.
func (l *Limited) EmbedBatch(ctx context.Context, texts []string) (*BatchResult, error) {
	var result *BatchResult
	err := l.do(ctx, func(ctx context.Context) error {
		var err error
		result, err = l.inner.EmbedBatch(ctx, texts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Model reports the wrapped client's model.
func (l *Limited) Model() string {
	return l.inner.Model()
}

func (l *Limited) do(ctx context.Context, call func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= l.maxRetries+1; attempt++ {
		if l.limiter != nil {
			if err := l.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		lastErr = call(ctx)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) || attempt == l.maxRetries+1 {
			return lastErr
		}
		if err := l.sleep(ctx, expBackoff(l.backoffBase, attempt, l.backoffMax)); err != nil {
			return err
		}
	}
	return lastErr
}

// isRetryable reports whether an embedding error is worth retrying.
// Rate limits, timeouts, and server errors are transient; other HTTP
// errors are permanent. Errors without an HTTP status (network failures)
// default to retryable.
func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode == 408 {
			return true
		}
		return apiErr.HTTPStatusCode >= 500 && apiErr.HTTPStatusCode <= 599
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode == 408 {
			return true
		}
		return reqErr.HTTPStatusCode >= 500 && reqErr.HTTPStatusCode <= 599
	}
	return true
}

func expBackoff(base time.Duration, attempt int, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := math.Pow(2, float64(attempt-1))
	d := time.Duration(float64(base) * mult)
	if d > max {
		return max
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
