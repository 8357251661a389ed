package ragpg

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// checkpointStages are the pipeline stages reviewers leave checkpoints
// for.
var checkpointStages = map[string]bool{
	StageIngestion:     true,
	StageOCR:           true,
	StageConsolidation: true,
	StageRetrieval:     true,
	StageAgent:         true,
}

// checkpointStatuses are the review verdicts a metadata file may carry.
var checkpointStatuses = map[string]bool{
	"approved": true,
	"pending":  true,
	"rejected": true,
}

// CheckpointStore reads human-review checkpoints from a directory tree
// laid out as {root}/{tenant_id}/{stage}/**/metadata.*. Neighbor files
// are artifacts referenced from the metadata; only metadata files are
// parsed.
type CheckpointStore struct {
	root    string
	onError func(error)
}

// CheckpointStoreConfig configures a CheckpointStore.
type CheckpointStoreConfig struct {
	// Root is the checkpoint tree root. Default: "checkpoints".
	Root string

	// OnError is called when a metadata file cannot be read or parsed.
	// Malformed checkpoints are skipped, never fatal.
	OnError func(err error)
}

// NewCheckpointStore creates a CheckpointStore.
func NewCheckpointStore(config *CheckpointStoreConfig) *CheckpointStore {
	if config == nil {
		config = &CheckpointStoreConfig{}
	}
	root := config.Root
	if root == "" {
		root = DefaultCheckpointRoot
	}
	return &CheckpointStore{
		root:    root,
		onError: config.OnError,
	}
}

// checkpointMetadata is the on-disk metadata shape. Timestamp is optional
// in older files; the file's mtime stands in when absent.
type checkpointMetadata struct {
	ID        string         `json:"id"`
	Status    string         `json:"status"`
	Reviewer  string         `json:"reviewer"`
	Metrics   map[string]any `json:"metrics"`
	Artifacts []string       `json:"artifacts"`
	Notes     string         `json:"notes"`
	Timestamp *time.Time     `json:"timestamp"`
}

// Lookup returns the tenant's most recent checkpoints for stage, newest
// first by file modification time. A missing directory is an empty
// result; malformed metadata files are reported through OnError and
// skipped. A non-positive limit means the default 10.
func (s *CheckpointStore) Lookup(ctx context.Context, stage, tenantID string, limit int) ([]CheckpointRecord, error) {
	const op = ToolCheckpointLookup

	if !checkpointStages[stage] {
		return nil, newError(KindInvalidArgument, op, tenantID, "",
			fmt.Errorf("unknown stage %q", stage))
	}
	if tenantID == "" {
		return nil, newError(KindInvalidArgument, op, "", "",
			fmt.Errorf("tenant id is required"))
	}
	if limit <= 0 {
		limit = DefaultCheckpointLimit
	}

	dir := filepath.Join(s.root, tenantID, stage)
	files, err := s.collectMetadataFiles(ctx, dir)
	if err != nil {
		return nil, err
	}

	// Newest first; path breaks mtime ties so output is deterministic.
	sort.Slice(files, func(i, j int) bool {
		if !files[i].modTime.Equal(files[j].modTime) {
			return files[i].modTime.After(files[j].modTime)
		}
		return files[i].path < files[j].path
	})
	if len(files) > limit {
		files = files[:limit]
	}

	records := make([]CheckpointRecord, 0, len(files))
	for _, f := range files {
		record, ok := s.parseMetadata(f)
		if !ok {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

type metadataFile struct {
	path    string
	modTime time.Time
}

// collectMetadataFiles walks dir for files named metadata.* at any depth.
func (s *CheckpointStore) collectMetadataFiles(ctx context.Context, dir string) ([]metadataFile, error) {
	var files []metadataFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return filepath.SkipAll
			}
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.HasPrefix(d.Name(), "metadata.") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			s.reportError(fmt.Errorf("failed to stat checkpoint metadata %s: %w", path, err))
			return nil
		}
		files = append(files, metadataFile{path: path, modTime: info.ModTime()})
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, newError(KindTimeout, ToolCheckpointLookup, "", "", err)
		}
		return nil, newError(KindBackendFailed, ToolCheckpointLookup, "", MsgServiceUnavailable,
			fmt.Errorf("%w: %v", ErrBackendFailed, err))
	}
	return files, nil
}

// parseMetadata reads and validates one metadata file.
func (s *CheckpointStore) parseMetadata(f metadataFile) (CheckpointRecord, bool) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		s.reportError(fmt.Errorf("failed to read checkpoint metadata %s: %w", f.path, err))
		return CheckpointRecord{}, false
	}

	var meta checkpointMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		s.reportError(fmt.Errorf("malformed checkpoint metadata %s: %w", f.path, err))
		return CheckpointRecord{}, false
	}
	if meta.ID == "" || !checkpointStatuses[meta.Status] {
		s.reportError(fmt.Errorf("malformed checkpoint metadata %s: missing id or invalid status %q", f.path, meta.Status))
		return CheckpointRecord{}, false
	}

	ts := f.modTime
	if meta.Timestamp != nil {
		ts = *meta.Timestamp
	}
	return CheckpointRecord{
		ID:        meta.ID,
		Status:    meta.Status,
		Reviewer:  meta.Reviewer,
		Metrics:   meta.Metrics,
		Artifacts: meta.Artifacts,
		Notes:     meta.Notes,
		Timestamp: ts,
	}, true
}

func (s *CheckpointStore) reportError(err error) {
	if s.onError != nil {
		s.onError(err)
	}
}
