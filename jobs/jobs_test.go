package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/docdesk/docdesk/internal/jobs"
	"github.com/docdesk/docdesk/internal/telegram"
)

type fakeSetter struct {
	got telegram.WebhookOptions
	err error
}

func (f *fakeSetter) SetWebhook(_ context.Context, opts telegram.WebhookOptions) error {
	f.got = opts
	return f.err
}

func TestSetWebhookJob(t *testing.T) {
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	setter := &fakeSetter{}
	job := NewSetWebhookJob(setter, "s3cret", nil, metrics)

	task, err := NewSetWebhookTask(SetWebhookPayload{URL: "https://docs.example.com/telegram", DropPendingUpdates: true})
	require.NoError(t, err)
	assert.Equal(t, TaskTelegramSetWebhook, task.Type())

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, telegram.WebhookOptions{URL: "https://docs.example.com/telegram", SecretToken: "s3cret", DropPendingUpdates: true}, setter.got)
}

func TestSetWebhookJobRetryPolicy(t *testing.T) {
	ctx := context.Background()
	task, err := NewSetWebhookTask(SetWebhookPayload{URL: "https://docs.example.com/telegram"})
	require.NoError(t, err)

	cases := []struct {
		name      string
		err       error
		skipRetry bool
	}{
		{"unauthorized", &telegram.APIError{Method: "setWebhook", Status: 401, Code: 401}, true},
		{"not configured", telegram.ErrNotConfigured, true},
		{"rate limited", &telegram.APIError{Method: "setWebhook", Status: 429, Code: 429}, false},
		{"network", errors.New("dial tcp: connection refused"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			job := NewSetWebhookJob(&fakeSetter{err: tc.err}, "", nil, nil)
			err := job.Handle(ctx, task)
			require.Error(t, err)
			assert.Equal(t, tc.skipRetry, errors.Is(err, asynq.SkipRetry))
		})
	}

	err = NewSetWebhookJob(&fakeSetter{}, "", nil, nil).Handle(ctx, asynq.NewTask(TaskTelegramSetWebhook, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

type fakePruner struct {
	n   int64
	err error
}

func (f fakePruner) PruneSessions(context.Context, time.Time) (int64, error) {
	return f.n, f.err
}

func TestSessionPruneJobRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	ctx := context.Background()

	require.NoError(t, NewSessionPruneJob(fakePruner{n: 3}, nil, metrics).Handle(ctx, NewSessionPruneTask()))
	require.Error(t, NewSessionPruneJob(fakePruner{err: errors.New("boom")}, nil, metrics).Handle(ctx, NewSessionPruneTask()))

	runs, err := testutil.GatherAndCount(reg, "docdesk_jobs_total")
	require.NoError(t, err)
	assert.Equal(t, 2, runs, "one success series and one failure series")
	failures, err := testutil.GatherAndCount(reg, "docdesk_jobs_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, failures)
}
