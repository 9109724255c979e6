package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTelegramSetWebhook registers the bot webhook with Telegram.
	TaskTelegramSetWebhook = "telegram:set_webhook"
	// TaskSessionPrune drops expired login session records.
	TaskSessionPrune = "auth:session_prune"
)

// SetWebhookPayload carries the webhook registration parameters.
type SetWebhookPayload struct {
	URL                string `json:"url"`
	DropPendingUpdates bool   `json:"drop_pending_updates,omitempty"`
}

// NewSetWebhookTask constructs an Asynq task.
func NewSetWebhookTask(payload SetWebhookPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTelegramSetWebhook, data, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// NewSessionPruneTask builds the periodic session cleanup task.
func NewSessionPruneTask() *asynq.Task {
	return asynq.NewTask(TaskSessionPrune, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(1))
}
