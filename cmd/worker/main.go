package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/docdesk/docdesk/internal/app"
	jobmetrics "github.com/docdesk/docdesk/internal/jobs"
	"github.com/docdesk/docdesk/internal/telegram"
	"github.com/docdesk/docdesk/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	stack, err := app.NewStack(ctx, cfg, logger)
	if err != nil {
		logger.Error("init stack", slog.Any("error", err))
		os.Exit(1)
	}
	defer stack.Close()

	metrics := jobmetrics.NewMetrics(nil)
	bot := telegram.NewClient(cfg.TelegramAPIURL, cfg.TelegramBotToken)
	webhookJob := jobs.NewSetWebhookJob(bot, cfg.TelegramWebhookSecret, logger, metrics)
	pruneJob := jobs.NewSessionPruneJob(stack.Auth, logger, metrics)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.AsynqRedis(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTelegramSetWebhook, Handler: webhookJob.Handle},
			{Type: jobs.TaskSessionPrune, Handler: pruneJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 * * * *", Task: jobs.NewSessionPruneTask(), Options: []asynq.Option{asynq.Unique(30 * time.Minute)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.Int("concurrency", cfg.WorkerConcurrency))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
