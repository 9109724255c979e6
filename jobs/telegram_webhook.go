package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/docdesk/docdesk/internal/jobs"
	"github.com/docdesk/docdesk/internal/telegram"
)

// WebhookSetter is the part of telegram.Client the job needs.
type WebhookSetter interface {
	SetWebhook(ctx context.Context, opts telegram.WebhookOptions) error
}

// SetWebhookJob handles TaskTelegramSetWebhook.
type SetWebhookJob struct {
	client  WebhookSetter
	secret  string
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewSetWebhookJob wires the job. secret is sent as the webhook secret token.
func NewSetWebhookJob(client WebhookSetter, secret string, logger *slog.Logger, metrics *jobmetrics.Metrics) *SetWebhookJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SetWebhookJob{client: client, secret: secret, logger: logger, metrics: metrics}
}

// Handle processes one registration. Permanent API errors skip retries.
func (j *SetWebhookJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track(TaskTelegramSetWebhook)
	var payload SetWebhookPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return tracker.End(fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry))
	}
	err := j.client.SetWebhook(ctx, telegram.WebhookOptions{
		URL:                payload.URL,
		SecretToken:        j.secret,
		DropPendingUpdates: payload.DropPendingUpdates,
	})
	if err != nil {
		var apiErr *telegram.APIError
		if errors.Is(err, telegram.ErrNotConfigured) || (errors.As(err, &apiErr) && !apiErr.Temporary()) {
			j.logger.Error("telegram set webhook rejected", slog.String("url", payload.URL), slog.Any("error", err))
			return tracker.End(fmt.Errorf("%w: %w", err, asynq.SkipRetry))
		}
		j.logger.Warn("telegram set webhook failed", slog.String("url", payload.URL), slog.Any("error", err))
		return tracker.End(err)
	}
	j.logger.Info("telegram webhook registered", slog.String("url", payload.URL))
	return tracker.End(nil)
}
