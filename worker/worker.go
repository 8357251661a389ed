// Package worker provides the background ingestion worker.
//
// The worker claims queued ingestion jobs and runs them through a Processor:
//   - Jobs are claimed with SELECT FOR UPDATE SKIP LOCKED, so any number of
//     instances can run workers against the same queue
//   - Uses PostgreSQL LISTEN/NOTIFY for real-time wakeups (pgx) with a
//     polling fallback (database/sql)
//   - Each claimed job gets the queue's visibility window as its time budget
//
// The worker is embedded in the Client and starts automatically with
// Client.Start() when a Processor is configured.
package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/youssefsiam38/ragpg/jobstate"
	"github.com/youssefsiam38/ragpg/notifier"
	"github.com/youssefsiam38/ragpg/storage"
)

// Processor turns a claimed ingestion job into indexed content.
// Implementations load the source document from the job's storage path,
// extract chunks, compute embeddings, and return the id of the document
// they produced.
//
// Process runs under a context whose deadline is the job's visibility
// window. A nil error completes the job; a non-nil error sends it to retry,
// or to failed once retries are exhausted.
type Processor interface {
	Process(ctx context.Context, job *storage.IngestionJob) (documentID string, err error)
}

// JobQueue is the slice of the ingestion queue the worker needs.
// *ragpg.Queue satisfies it.
type JobQueue interface {
	Dequeue(ctx context.Context, workerID string) (*storage.IngestionJob, error)
	Complete(ctx context.Context, jobID, documentID string) (*storage.IngestionJob, error)
	Fail(ctx context.Context, jobID string, jobErr error) (*storage.IngestionJob, error)
	Visibility() time.Duration
}

// Config holds configuration for the ingestion worker.
type Config struct {
	// WorkerID identifies this worker in job claims. Usually the client's
	// instance id.
	WorkerID string

	// MaxConcurrentJobs limits how many jobs can be processed simultaneously.
	// Default: 4
	MaxConcurrentJobs int

	// PollInterval is how often to poll for work when not woken by
	// LISTEN/NOTIFY. Default: 5s
	PollInterval time.Duration

	// OnError is called when an error occurs during processing.
	OnError func(err error)

	// OnJobDone is called when a job reaches completed, retry, or failed.
	OnJobDone func(job *storage.IngestionJob)
}

// DefaultConfig returns the default worker configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrentJobs: 4,
		PollInterval:      5 * time.Second,
	}
}

// Worker processes ingestion jobs.
type Worker struct {
	queue     JobQueue
	processor Processor
	notifier  *notifier.Notifier
	config    *Config

	// Semaphore for concurrency control
	sem chan struct{}

	// Wakeup channel for enqueue events; buffered so a burst of events
	// collapses into one drain
	triggerCh chan struct{}

	// State
	started atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new ingestion worker.
func New(queue JobQueue, processor Processor, notif *notifier.Notifier, config *Config) *Worker {
	// Start with defaults and merge user config
	cfg := DefaultConfig()
	if config != nil {
		if config.WorkerID != "" {
			cfg.WorkerID = config.WorkerID
		}
		if config.MaxConcurrentJobs > 0 {
			cfg.MaxConcurrentJobs = config.MaxConcurrentJobs
		}
		if config.PollInterval > 0 {
			cfg.PollInterval = config.PollInterval
		}
		if config.OnError != nil {
			cfg.OnError = config.OnError
		}
		if config.OnJobDone != nil {
			cfg.OnJobDone = config.OnJobDone
		}
	}

	return &Worker{
		queue:     queue,
		processor: processor,
		notifier:  notif,
		config:    cfg,
		sem:       make(chan struct{}, cfg.MaxConcurrentJobs),
		triggerCh: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Start begins claiming and processing jobs.
func (w *Worker) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return fmt.Errorf("worker already started")
	}
	if w.processor == nil {
		w.started.Store(false)
		return fmt.Errorf("no processor configured")
	}

	ctx, w.cancel = context.WithCancel(ctx)

	// Subscribe to enqueue events if notifier is available
	if w.notifier != nil && w.notifier.IsRunning() {
		w.notifier.Subscribe(notifier.EventJobEnqueued, func(event *notifier.Event) {
			w.trigger()
		})
	}

	w.wg.Add(1)
	go w.pollLoop(ctx)

	return nil
}

// Stop stops the worker gracefully, waiting for in-flight jobs.
func (w *Worker) Stop(ctx context.Context) error {
	if !w.started.Load() {
		return nil
	}

	w.cancel()

	// Wait for goroutines with timeout
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	close(w.done)
	w.started.Store(false)
	return nil
}

// trigger requests a queue drain. Non-blocking; drains already pending
// absorb the request.
func (w *Worker) trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// pollLoop drains the queue on every tick and on every enqueue event.
func (w *Worker) pollLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.triggerCh:
			w.drainQueue(ctx)
		case <-ticker.C:
			w.drainQueue(ctx)
		}
	}
}

// drainQueue claims jobs until the queue is empty or all slots are full.
func (w *Worker) drainQueue(ctx context.Context) {
	for {
		// Try to acquire a slot without blocking
		select {
		case w.sem <- struct{}{}:
		default:
			// All slots are full; the finishing job's drain picks up the rest
			return
		}

		job, err := w.queue.Dequeue(ctx, w.config.WorkerID)
		if err != nil {
			<-w.sem
			if ctx.Err() == nil {
				w.logError(fmt.Errorf("failed to dequeue job: %w", err))
			}
			return
		}
		if job == nil {
			<-w.sem
			return
		}

		w.wg.Add(1)
		go func(job *storage.IngestionJob) {
			defer w.wg.Done()
			defer func() { <-w.sem }()

			w.processJob(ctx, job)

			// A freed slot may leave claimable jobs behind
			w.trigger()
		}(job)
	}
}

// processJob runs a claimed job through the processor and records the outcome.
func (w *Worker) processJob(ctx context.Context, job *storage.IngestionJob) {
	// The visibility window is the processing budget; past it another worker
	// may reclaim the job, so stop doing work
	procCtx, cancel := context.WithTimeout(ctx, w.queue.Visibility())
	defer cancel()

	documentID, procErr := w.processor.Process(procCtx, job)

	// Record the outcome with a fresh context so shutdown does not lose it
	recordCtx, recordCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer recordCancel()

	var (
		updated *storage.IngestionJob
		err     error
	)
	if procErr != nil {
		updated, err = w.queue.Fail(recordCtx, job.JobID, procErr)
	} else {
		updated, err = w.queue.Complete(recordCtx, job.JobID, documentID)
	}
	if err != nil {
		w.logError(fmt.Errorf("failed to record outcome for job %s: %w", job.JobID, err))
		return
	}

	if w.config.OnJobDone != nil && updated != nil {
		switch updated.Status {
		case jobstate.StateCompleted, jobstate.StateRetry, jobstate.StateFailed:
			w.config.OnJobDone(updated)
		}
	}
}

// logError logs an error using the configured handler or default logger.
func (w *Worker) logError(err error) {
	if w.config.OnError != nil {
		w.config.OnError(err)
	} else {
		log.Printf("ragpg/worker: %v", err)
	}
}

// IsRunning returns true if the worker is running.
func (w *Worker) IsRunning() bool {
	return w.started.Load()
}
