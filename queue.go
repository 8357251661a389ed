package ragpg

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/youssefsiam38/ragpg/driver"
	"github.com/youssefsiam38/ragpg/jobstate"
	"github.com/youssefsiam38/ragpg/storage"
)

// Queue is the at-least-once ingestion job queue. Jobs are claimed with a
// visibility timeout: a worker that neither completes nor fails its job
// before the deadline forfeits the lease and the job is redelivered.
// Duplicate documents are suppressed by content checksum per tenant.
type Queue struct {
	store    storage.Store
	notifier driver.Notifier
	progress *ProgressLog

	visibility      time.Duration
	maxRetries      int
	backlogAlertAge time.Duration
	onError         func(error)

	// now is replaceable in tests.
	now func() time.Time
}

// QueueConfig configures a Queue.
type QueueConfig struct {
	// Notifier, when set, fires a NOTIFY on enqueue so listening workers
	// wake without waiting for their poll tick. Best-effort.
	Notifier driver.Notifier

	// Progress, when set, receives one line per enqueue/complete/fail.
	// Best-effort.
	Progress *ProgressLog

	// Visibility is the claim TTL. Default: 600s.
	Visibility time.Duration

	// MaxRetries bounds processing attempts per job. Default: 3.
	MaxRetries int

	// BacklogAlertAge is the oldest-pending age that raises the backlog
	// alert in Stats. Default: 24h.
	BacklogAlertAge time.Duration

	// OnError is called when a best-effort side effect (notify, progress
	// line) fails.
	OnError func(err error)
}

// NewQueue creates a Queue backed by store.
func NewQueue(store storage.Store, config *QueueConfig) *Queue {
	if config == nil {
		config = &QueueConfig{}
	}
	visibility := config.Visibility
	if visibility <= 0 {
		visibility = DefaultJobVisibility
	}
	maxRetries := config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultJobMaxRetries
	}
	backlogAlertAge := config.BacklogAlertAge
	if backlogAlertAge <= 0 {
		backlogAlertAge = DefaultBacklogAlertAge
	}
	return &Queue{
		store:           store,
		notifier:        config.Notifier,
		progress:        config.Progress,
		visibility:      visibility,
		maxRetries:      maxRetries,
		backlogAlertAge: backlogAlertAge,
		onError:         config.OnError,
		now:             time.Now,
	}
}

// Checksum returns the hex SHA-256 digest used for duplicate suppression.
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Enqueue creates a pending job for the document, or returns the existing
// job when the same content is already in flight or done for this tenant.
// Returning the prior job is a normal result, not an error; the caller
// can tell by comparing timestamps or by the job's status. A pending or
// failed prior job does not suppress: pending jobs are racy to dedupe
// against and failed ones deserve another try.
func (q *Queue) Enqueue(ctx context.Context, req *EnqueueRequest) (*storage.IngestionJob, error) {
	const op = "job_enqueue"

	if req == nil || req.TenantID == "" {
		return nil, newError(KindInvalidArgument, op, "", "",
			fmt.Errorf("tenant id is required"))
	}
	checksum := req.Checksum
	if checksum == "" {
		if len(req.Content) == 0 {
			return nil, newError(KindInvalidArgument, op, req.TenantID, "",
				fmt.Errorf("content or checksum is required"))
		}
		checksum = Checksum(req.Content)
	}

	existing, err := q.store.FindActiveJobByChecksum(ctx, req.TenantID, checksum)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, newError(KindBackendFailed, op, req.TenantID, MsgServiceUnavailable,
			fmt.Errorf("%w: %v", ErrBackendFailed, err))
	}

	now := q.now()
	job := &storage.IngestionJob{
		JobID:         uuid.New().String(),
		TenantID:      req.TenantID,
		Checksum:      checksum,
		StoragePath:   req.StoragePath,
		ConnectorType: req.ConnectorType,
		SourceFormat:  req.SourceFormat,
		Metadata:      req.Metadata,
		Status:        jobstate.StatePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := q.store.InsertJob(ctx, job); err != nil {
		return nil, newError(KindBackendFailed, op, req.TenantID, MsgServiceUnavailable,
			fmt.Errorf("%w: %v", ErrBackendFailed, err))
	}

	q.notifyEnqueued(ctx, job)
	q.appendProgress(ProgressEntry{
		Action:   ProgressEnqueued,
		JobID:    job.JobID,
		TenantID: job.TenantID,
		TS:       now,
		Status:   string(job.Status),
	})

	return job, nil
}

// Dequeue claims the oldest runnable job for workerID and stamps a fresh
// visibility deadline. Runnable means pending, retry, or in_progress past
// its deadline; redelivery after an expired deadline does not change the
// retry count. Returns (nil, nil) when the queue is empty. The claim is a
// single statement, so a cancelled call either claimed the job or it did
// not; no lease leaks.
func (q *Queue) Dequeue(ctx context.Context, workerID string) (*storage.IngestionJob, error) {
	const op = "job_dequeue"

	if workerID == "" {
		return nil, newError(KindInvalidArgument, op, "", "",
			fmt.Errorf("worker id is required"))
	}

	job, err := q.store.DequeueJob(ctx, workerID, q.visibility)
	if err != nil {
		return nil, newError(KindBackendFailed, op, "", MsgServiceUnavailable,
			fmt.Errorf("%w: %v", ErrBackendFailed, err))
	}
	return job, nil
}

// Complete transitions the job to completed and records the document it
// produced. Only in_progress jobs complete; a job already terminal (for
// example finished by a second worker after a visibility expiry) is
// storage.ErrStateTransitionFailed.
func (q *Queue) Complete(ctx context.Context, jobID, documentID string) (*storage.IngestionJob, error) {
	const op = "job_complete"

	job, err := q.store.CompleteJob(ctx, jobID, documentID)
	if err != nil {
		if errors.Is(err, storage.ErrStateTransitionFailed) {
			return nil, newError(KindConflict, op, "", "", err)
		}
		return nil, newError(KindBackendFailed, op, "", MsgServiceUnavailable,
			fmt.Errorf("%w: %v", ErrBackendFailed, err))
	}

	q.notifyStateChanged(ctx, job)
	q.appendProgress(ProgressEntry{
		Action:     ProgressCompleted,
		JobID:      job.JobID,
		TenantID:   job.TenantID,
		TS:         q.now(),
		Status:     string(job.Status),
		DocumentID: documentID,
	})

	return job, nil
}

// Fail records a processing failure. While attempts remain the job goes
// back to retry with its deadline cleared; once attempts are exhausted it
// fails terminally with jobErr recorded. The retry count increments on
// every Fail, so MaxRetries bounds total processing attempts.
func (q *Queue) Fail(ctx context.Context, jobID string, jobErr error) (*storage.IngestionJob, error) {
	const op = "job_fail"

	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}
	job, err := q.store.FailJob(ctx, jobID, msg, q.maxRetries)
	if err != nil {
		if errors.Is(err, storage.ErrStateTransitionFailed) {
			return nil, newError(KindConflict, op, "", "", err)
		}
		return nil, newError(KindBackendFailed, op, "", MsgServiceUnavailable,
			fmt.Errorf("%w: %v", ErrBackendFailed, err))
	}

	q.notifyStateChanged(ctx, job)
	q.appendProgress(ProgressEntry{
		Action:     ProgressFailed,
		JobID:      job.JobID,
		TenantID:   job.TenantID,
		TS:         q.now(),
		Status:     string(job.Status),
		RetryCount: job.RetryCount,
		Error:      msg,
	})

	return job, nil
}

// Get returns one job by id.
func (q *Queue) Get(ctx context.Context, jobID string) (*storage.IngestionJob, error) {
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, newError(KindNotFound, "job_get", "", "", err)
		}
		return nil, newError(KindBackendFailed, "job_get", "", MsgServiceUnavailable,
			fmt.Errorf("%w: %v", ErrBackendFailed, err))
	}
	return job, nil
}

// Stats returns per-status counts over the trailing week plus the backlog
// age. The backlog is measured against the globally oldest pending job,
// not the window, so an ancient stuck job still raises the alert.
func (q *Queue) Stats(ctx context.Context) (*storage.QueueStats, error) {
	const op = "job_stats"

	now := q.now()
	stats, err := q.store.JobStats(ctx, now.Add(-DefaultStatsWindow))
	if err != nil {
		return nil, newError(KindBackendFailed, op, "", MsgServiceUnavailable,
			fmt.Errorf("%w: %v", ErrBackendFailed, err))
	}

	if stats.OldestPendingAt != nil {
		age := now.Sub(*stats.OldestPendingAt)
		stats.BacklogHours = age.Hours()
		stats.BacklogAlert = age > q.backlogAlertAge
	}
	return stats, nil
}

// Visibility returns the configured claim TTL.
func (q *Queue) Visibility() time.Duration {
	return q.visibility
}

// notifyEnqueued wakes listening workers. Best-effort.
func (q *Queue) notifyEnqueued(ctx context.Context, job *storage.IngestionJob) {
	if q.notifier == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{"job_id": job.JobID, "tenant_id": job.TenantID})
	if err := q.notifier.Notify(ctx, driver.ChannelJobEnqueued, string(payload)); err != nil {
		q.reportError(fmt.Errorf("failed to notify job enqueued: %w", err))
	}
}

// notifyStateChanged announces a terminal or retry transition. Best-effort.
func (q *Queue) notifyStateChanged(ctx context.Context, job *storage.IngestionJob) {
	if q.notifier == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{"job_id": job.JobID, "state": string(job.Status)})
	if err := q.notifier.Notify(ctx, driver.ChannelJobStateChanged, string(payload)); err != nil {
		q.reportError(fmt.Errorf("failed to notify job state change: %w", err))
	}
}

func (q *Queue) appendProgress(entry ProgressEntry) {
	if q.progress == nil {
		return
	}
	if err := q.progress.Append(entry); err != nil {
		q.reportError(fmt.Errorf("failed to append progress line: %w", err))
	}
}

func (q *Queue) reportError(err error) {
	if q.onError != nil {
		q.onError(err)
	}
}
