package maintenance

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/youssefsiam38/ragpg/storage"
)

// DefaultBacklogCheckInterval is how often the backlog monitor samples the
// queue.
const DefaultBacklogCheckInterval = 10 * time.Minute

// QueueStatsSource reports ingestion queue statistics.
// *ragpg.Queue satisfies it.
type QueueStatsSource interface {
	Stats(ctx context.Context) (*storage.QueueStats, error)
}

// BacklogConfig holds configuration for the backlog monitor.
type BacklogConfig struct {
	// Interval is how often to sample the queue.
	// Default: 10 minutes
	Interval time.Duration

	// OnAlert is called on every check where the oldest pending job is
	// older than the queue's alert threshold. It keeps firing until the
	// backlog drains, so operators see the alert for as long as the
	// condition holds.
	OnAlert func(stats *storage.QueueStats)

	// OnError is called when a stats query fails.
	OnError func(err error)
}

// DefaultBacklogConfig returns the default backlog monitor configuration.
func DefaultBacklogConfig() *BacklogConfig {
	return &BacklogConfig{
		Interval: DefaultBacklogCheckInterval,
	}
}

// BacklogMonitor watches the ingestion queue and raises an alert when the
// oldest pending job exceeds the configured age threshold.
// This should only be run by the leader instance.
type BacklogMonitor struct {
	source QueueStatsSource
	config *BacklogConfig

	started atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewBacklogMonitor creates a new backlog monitor.
func NewBacklogMonitor(source QueueStatsSource, config *BacklogConfig) *BacklogMonitor {
	if config == nil {
		config = DefaultBacklogConfig()
	} else if config.Interval == 0 {
		config.Interval = DefaultBacklogCheckInterval
	}

	return &BacklogMonitor{
		source: source,
		config: config,
		done:   make(chan struct{}),
	}
}

// Start begins the monitoring loop.
// This should only be called when this instance is the leader.
func (m *BacklogMonitor) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, m.cancel = context.WithCancel(ctx)
	go m.run(ctx)

	return nil
}

// Stop stops the monitoring loop.
func (m *BacklogMonitor) Stop(ctx context.Context) error {
	if !m.started.Load() {
		return ErrNotStarted
	}

	m.cancel()
	<-m.done

	m.started.Store(false)
	return nil
}

// run is the main monitoring loop.
func (m *BacklogMonitor) run(ctx context.Context) {
	defer close(m.done)

	// Check immediately on start
	m.RunOnce(ctx)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce samples the queue once and fires the alert callback if the backlog
// threshold is exceeded. Returns the sampled stats.
func (m *BacklogMonitor) RunOnce(ctx context.Context) *storage.QueueStats {
	stats, err := m.source.Stats(ctx)
	if err != nil {
		if m.config.OnError != nil {
			m.config.OnError(err)
		}
		return nil
	}

	if stats.BacklogAlert && m.config.OnAlert != nil {
		m.config.OnAlert(stats)
	}

	return stats
}

// IsRunning returns true if the backlog monitor is running.
func (m *BacklogMonitor) IsRunning() bool {
	return m.started.Load()
}
