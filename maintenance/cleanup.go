package maintenance

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/youssefsiam38/ragpg/jobstate"
	"github.com/youssefsiam38/ragpg/storage"
)

// Default cleanup configuration values
const (
	DefaultCleanupInterval = 1 * time.Minute
	DefaultJobRetention    = 7 * 24 * time.Hour
)

// CleanupConfig holds configuration for the cleanup service.
type CleanupConfig struct {
	// Interval is how often to run cleanup operations.
	// Default: 1 minute
	Interval time.Duration

	// JobRetention is how long completed and failed jobs are kept before
	// being deleted.
	// Default: 7 days
	JobRetention time.Duration

	// OnStaleInstanceCleanup is called when stale instances are cleaned up.
	// The count is the number of instances that were cleaned up.
	OnStaleInstanceCleanup func(count int)

	// OnOldJobCleanup is called when old terminal jobs are deleted.
	// The count is the number of jobs that were deleted.
	OnOldJobCleanup func(count int)

	// OnError is called when a cleanup operation fails.
	OnError func(err error)
}

// DefaultCleanupConfig returns the default cleanup configuration.
func DefaultCleanupConfig() *CleanupConfig {
	return &CleanupConfig{
		Interval:     DefaultCleanupInterval,
		JobRetention: DefaultJobRetention,
	}
}

// CleanupResult holds the results of a cleanup operation.
type CleanupResult struct {
	// StaleInstancesCleaned is the number of stale instances cleaned up.
	StaleInstancesCleaned int

	// ExpiredLeadersCleaned is the number of expired leader entries cleaned.
	ExpiredLeadersCleaned int

	// OldJobsDeleted is the number of terminal jobs past retention deleted.
	OldJobsDeleted int

	// Errors contains any errors that occurred during cleanup.
	Errors []error
}

// Cleanup removes stale instances, expired leader leases, and terminal jobs
// past their retention window.
// This should only be run by the leader instance.
type Cleanup struct {
	store  storage.Store
	config *CleanupConfig

	started atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewCleanup creates a new cleanup service.
func NewCleanup(store storage.Store, config *CleanupConfig) *Cleanup {
	if config == nil {
		config = DefaultCleanupConfig()
	} else {
		if config.Interval == 0 {
			config.Interval = DefaultCleanupInterval
		}
		if config.JobRetention == 0 {
			config.JobRetention = DefaultJobRetention
		}
	}

	return &Cleanup{
		store:  store,
		config: config,
		done:   make(chan struct{}),
	}
}

// Start begins the cleanup loop.
// It returns immediately and runs cleanup operations in a goroutine.
// This should only be called when this instance is the leader.
func (c *Cleanup) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)

	return nil
}

// Stop stops the cleanup loop.
func (c *Cleanup) Stop(ctx context.Context) error {
	if !c.started.Load() {
		return ErrNotStarted
	}

	c.cancel()
	<-c.done

	c.started.Store(false)
	return nil
}

// run is the main cleanup loop.
func (c *Cleanup) run(ctx context.Context) {
	defer close(c.done)

	// Run cleanup immediately on start
	c.runCleanup(ctx)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runCleanup(ctx)
		}
	}
}

// runCleanup performs all cleanup operations.
func (c *Cleanup) runCleanup(ctx context.Context) {
	result := c.RunOnce(ctx)

	if c.config.OnStaleInstanceCleanup != nil && result.StaleInstancesCleaned > 0 {
		c.config.OnStaleInstanceCleanup(result.StaleInstancesCleaned)
	}

	if c.config.OnOldJobCleanup != nil && result.OldJobsDeleted > 0 {
		c.config.OnOldJobCleanup(result.OldJobsDeleted)
	}

	if c.config.OnError != nil {
		for _, err := range result.Errors {
			c.config.OnError(err)
		}
	}
}

// RunOnce performs cleanup operations once and returns the result.
// This can be called manually for testing or one-off cleanup.
func (c *Cleanup) RunOnce(ctx context.Context) *CleanupResult {
	result := &CleanupResult{}

	// Clean up instances that stopped heartbeating
	staleCount, err := c.store.DeleteStaleInstances(ctx, time.Now().Add(-DefaultInstanceTTL))
	if err != nil {
		result.Errors = append(result.Errors, err)
	} else {
		result.StaleInstancesCleaned = int(staleCount)
	}

	// Clean up expired leader entries
	leaderCount, err := c.store.LeaderDeleteExpired(ctx)
	if err != nil {
		result.Errors = append(result.Errors, err)
	} else {
		result.ExpiredLeadersCleaned = int(leaderCount)
	}

	// Delete terminal jobs past retention. Pending and in-flight jobs are
	// never touched.
	cutoff := time.Now().Add(-c.config.JobRetention)
	jobCount, err := c.store.DeleteJobsOlderThan(ctx, cutoff, []jobstate.State{
		jobstate.StateCompleted,
		jobstate.StateFailed,
	})
	if err != nil {
		result.Errors = append(result.Errors, err)
	} else {
		result.OldJobsDeleted = int(jobCount)
	}

	return result
}

// IsRunning returns true if the cleanup service is running.
func (c *Cleanup) IsRunning() bool {
	return c.started.Load()
}
