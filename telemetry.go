package ragpg

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/youssefsiam38/ragpg/storage"
)

// Recorder writes one ToolInvocation per tool call to two sinks: a
// durable row in the store and an append-only JSONL file per tenant and
// UTC day. Both sinks are best-effort; a sink failure is reported through
// OnError and never fails the tool call that produced the record.
type Recorder struct {
	store      storage.Store
	reportsDir string
	onError    func(error)

	// mu serializes file appends so concurrent tool calls never
	// interleave partial lines.
	mu sync.Mutex

	// now is replaceable in tests.
	now func() time.Time
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	// ReportsDir is the root of the telemetry file tree
	// ({ReportsDir}/telemetry/{tenant_id}/{YYYY-MM-DD}.jsonl). Empty
	// disables the file sink.
	ReportsDir string

	// OnError is called when a sink write fails.
	OnError func(err error)
}

// NewRecorder creates a Recorder backed by store.
func NewRecorder(store storage.Store, config *RecorderConfig) *Recorder {
	if config == nil {
		config = &RecorderConfig{}
	}
	return &Recorder{
		store:      store,
		reportsDir: config.ReportsDir,
		onError:    config.OnError,
		now:        time.Now,
	}
}

// Record writes inv to both sinks. It fills in a fresh id and timestamp
// when absent and never returns an error; telemetry must not fail the
// call it measures.
func (r *Recorder) Record(ctx context.Context, inv *storage.ToolInvocation) {
	if inv == nil {
		return
	}
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = r.now()
	}

	if err := r.store.InsertToolInvocation(ctx, inv); err != nil {
		r.reportError(fmt.Errorf("failed to insert tool invocation: %w", err))
	}

	if r.reportsDir != "" {
		if err := r.appendLine(inv); err != nil {
			r.reportError(fmt.Errorf("failed to append telemetry line: %w", err))
		}
	}
}

// appendLine appends inv as one JSON line to the tenant's file for the
// invocation's UTC date. Directories are created on demand. The line
// schema is the ToolInvocation JSON encoding; new fields are additive
// only.
func (r *Recorder) appendLine(inv *storage.ToolInvocation) error {
	line, err := json.Marshal(inv)
	if err != nil {
		return err
	}

	day := inv.CreatedAt.UTC().Format("2006-01-02")
	dir := filepath.Join(r.reportsDir, "telemetry", inv.TenantID)
	path := filepath.Join(dir, day+".jsonl")

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

// Stats aggregates the tenant's invocations per tool over the trailing
// window. A non-positive window means the default 7 days.
func (r *Recorder) Stats(ctx context.Context, tenantID string, window time.Duration) ([]*storage.ToolStats, error) {
	if tenantID == "" {
		return nil, newError(KindInvalidArgument, "telemetry_stats", "", "",
			fmt.Errorf("%w: tenant id is required", ErrInvalidConfig))
	}
	if window <= 0 {
		window = DefaultStatsWindow
	}
	stats, err := r.store.ToolInvocationStats(ctx, tenantID, r.now().Add(-window))
	if err != nil {
		return nil, newError(KindBackendFailed, "telemetry_stats", tenantID, MsgServiceUnavailable,
			fmt.Errorf("%w: %v", ErrBackendFailed, err))
	}
	return stats, nil
}

func (r *Recorder) reportError(err error) {
	if r.onError != nil {
		r.onError(err)
	}
}
