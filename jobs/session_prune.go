package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/docdesk/docdesk/internal/jobs"
)

// SessionPruner deletes expired session records.
type SessionPruner interface {
	PruneSessions(ctx context.Context, now time.Time) (int64, error)
}

// SessionPruneJob handles TaskSessionPrune.
type SessionPruneJob struct {
	pruner  SessionPruner
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
	now     func() time.Time
}

// NewSessionPruneJob wires the job.
func NewSessionPruneJob(pruner SessionPruner, logger *slog.Logger, metrics *jobmetrics.Metrics) *SessionPruneJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionPruneJob{pruner: pruner, logger: logger, metrics: metrics, now: time.Now}
}

// Handle runs one prune pass.
func (j *SessionPruneJob) Handle(ctx context.Context, _ *asynq.Task) error {
	tracker := j.metrics.Track(TaskSessionPrune)
	n, err := j.pruner.PruneSessions(ctx, j.now())
	if err != nil {
		return tracker.End(err)
	}
	if n > 0 {
		j.logger.Info("pruned expired sessions", slog.Int64("count", n))
	}
	return tracker.End(nil)
}
