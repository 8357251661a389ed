package ragpg

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Progress log actions.
const (
	ProgressEnqueued  = "enqueued"
	ProgressCompleted = "completed"
	ProgressFailed    = "failed"
)

// ProgressEntry is one line of the ingestion progress log. The line
// format is stable; new fields are additive only.
type ProgressEntry struct {
	Action     string    `json:"action"` // enqueued, completed, failed
	JobID      string    `json:"job_id"`
	TenantID   string    `json:"tenant_id"`
	TS         time.Time `json:"ts"`
	Status     string    `json:"status,omitempty"`
	RetryCount int       `json:"retry_count,omitempty"`
	DocumentID string    `json:"document_id,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// ProgressLog appends ingestion lifecycle events to a JSONL file for
// operator-side resume and audit. Appends are mutex-guarded so ingest
// workers never interleave partial lines; the log is best-effort and
// callers absorb its errors.
type ProgressLog struct {
	path string
	mu   sync.Mutex
}

// NewProgressLog creates a ProgressLog writing to
// {dataDir}/ingestion_progress.jsonl. An empty dataDir means "data".
func NewProgressLog(dataDir string) *ProgressLog {
	if dataDir == "" {
		dataDir = DefaultDataDir
	}
	return &ProgressLog{path: filepath.Join(dataDir, "ingestion_progress.jsonl")}
}

// Append writes one entry as a JSON line, creating the directory and
// file on first use.
func (l *ProgressLog) Append(entry ProgressEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

// Path returns the log file path.
func (l *ProgressLog) Path() string {
	return l.path
}
