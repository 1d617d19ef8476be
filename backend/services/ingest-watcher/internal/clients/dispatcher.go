package clients

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"psws/backend/services/ingest-watcher/internal/ingesterr"
)

// LogQueue only records jobs; used when no plot queue is configured.
type LogQueue struct {
	logger *zap.Logger
}

// NewLogQueue returns a queue that only logs jobs.
func NewLogQueue(logger *zap.Logger) *LogQueue {
	return &LogQueue{logger: logger}
}

func (q *LogQueue) Submit(_ context.Context, job PlotJob) error {
	q.logger.Info("plot job (no queue configured)",
		zap.String("job_id", job.ID),
		zap.String("kind", job.Kind),
		zap.String("input", job.InputPath),
		zap.String("station", job.Station),
		zap.String("instrument", job.Instrument),
	)
	return nil
}

func (q *LogQueue) Close() error { return nil }

// Dispatcher stamps and submits plot jobs within a bounded time.
type Dispatcher struct {
	queue   JobQueue
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewDispatcher wraps queue; a non-positive timeout falls back to 10s.
func NewDispatcher(queue JobQueue, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{queue: queue, timeout: timeout, logger: logger, now: time.Now}
}

// Dispatch submits job. Failures are returned as Dispatch errors for logging;
// they never affect the catalog.
func (d *Dispatcher) Dispatch(ctx context.Context, job PlotJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.SubmittedAt = d.now().UTC()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.queue.Submit(ctx, job); err != nil {
		return ingesterr.Dispatch("submit plot job", err)
	}
	d.logger.Debug("plot job submitted",
		zap.String("job_id", job.ID),
		zap.String("input", job.InputPath),
		zap.String("station", job.Station),
	)
	return nil
}

// Close releases the underlying queue.
func (d *Dispatcher) Close() error {
	return d.queue.Close()
}
