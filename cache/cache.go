// Package cache provides the shared result cache for retrieval tools.
//
// Entries are stored as serialized JSON keyed by a digest of the tool name
// and its canonicalized parameters, so identical calls from any instance
// resolve to the same entry. Two backends are provided: an in-process
// bounded LRU (Memory) and a Redis-backed cache (Redis) for multi-instance
// deployments.
package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Cache stores serialized tool results for reuse across identical calls.
// Implementations must be safe for concurrent use. Get returns a copy of
// the stored bytes; callers may mutate the returned slice freely.
type Cache interface {
	// Get returns the entry for key, or found=false if absent or expired.
	Get(ctx context.Context, key string) (data []byte, found bool, err error)

	// Set stores data under key for the given TTL. A non-positive TTL
	// stores the entry without expiry.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes the entry for key, if present.
	Delete(ctx context.Context, key string) error

	// Flush removes all entries owned by this cache.
	Flush(ctx context.Context) error
}

// Key derives the cache key for a tool call: the hex-encoded SHA-256 of
// the tool name followed by the canonical JSON encoding of its parameters.
// Parameter maps are canonicalized recursively, so two parameter sets with
// the same content always produce the same key regardless of map iteration
// or field order. The tenant id travels inside params, which keeps entries
// tenant-scoped without a separate namespace.
func Key(toolName string, params map[string]any) (string, error) {
	canon, err := CanonicalJSON(params)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize cache params: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CanonicalJSON encodes v as JSON with all object keys sorted. The value
// is round-tripped through a generic decode so struct field order and map
// insertion order never leak into the encoding. Numbers are preserved
// verbatim via json.Number.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	// encoding/json writes map keys in sorted order.
	return json.Marshal(generic)
}
