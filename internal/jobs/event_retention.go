package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/metrics"
)

// EventPruner deletes job events older than a cutoff.
type EventPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionNotifier is told about every run that removed events.
type RetentionNotifier interface {
	NotifyRetentionRun(ctx context.Context, deleted int64, cutoff time.Time)
}

// EventRetentionJob prunes narration events past the retention window.
// It runs on a configurable interval (default: 6 hours).
type EventRetentionJob struct {
	events    EventPruner
	notifier  RetentionNotifier
	metrics   *metrics.Metrics
	logger    *log.Logger
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewEventRetentionJob creates a new retention job. A zero retention keeps
// events for 30 days.
func NewEventRetentionJob(events EventPruner, notifier RetentionNotifier, m *metrics.Metrics, logger *log.Logger, retention, interval time.Duration) *EventRetentionJob {
	if retention == 0 {
		retention = 30 * 24 * time.Hour
	}
	if interval == 0 {
		interval = 6 * time.Hour
	}
	return &EventRetentionJob{
		events:    events,
		notifier:  notifier,
		metrics:   m,
		logger:    logger,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the background job.
func (j *EventRetentionJob) Start() {
	j.wg.Add(1)
	go j.run()
	j.logger.Printf("jobs: event retention started (retention=%v interval=%v)", j.retention, j.interval)
}

// Stop gracefully stops the background job.
func (j *EventRetentionJob) Stop() {
	close(j.stopCh)
	j.wg.Wait()
	j.logger.Println("jobs: event retention stopped")
}

func (j *EventRetentionJob) run() {
	defer j.wg.Done()

	// Run immediately on start
	j.RunOnce(context.Background())

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.RunOnce(context.Background())
		case <-j.stopCh:
			return
		}
	}
}

// RunOnce prunes once and returns how many events were removed.
func (j *EventRetentionJob) RunOnce(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	cutoff := j.now().Add(-j.retention)
	deleted, err := j.events.Prune(ctx, cutoff)
	if err != nil {
		j.logger.Printf("jobs: pruning events before %s failed: %v", cutoff.Format(time.RFC3339), err)
		return 0
	}

	j.metrics.EventsPruned(deleted)
	if deleted > 0 {
		j.logger.Printf("jobs: pruned %d events before %s", deleted, cutoff.Format(time.RFC3339))
		if j.notifier != nil {
			j.notifier.NotifyRetentionRun(ctx, deleted, cutoff)
		}
	}
	return deleted
}
