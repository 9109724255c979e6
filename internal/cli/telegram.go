package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/docdesk/docdesk/internal/telegram"
	"github.com/docdesk/docdesk/jobs"
)

func cmdTelegram(deps Deps, opts *rootOptions) *cobra.Command {
	c := &cobra.Command{
		Use:   "telegram",
		Short: "Telegram bot webhook management",
	}
	c.AddCommand(cmdTelegramSetWebhook(deps), cmdTelegramDeleteWebhook(deps), cmdTelegramInfo(deps, opts))
	return c
}

func cmdTelegramSetWebhook(deps Deps) *cobra.Command {
	var (
		webhookURL  string
		dropPending bool
		enqueue     bool
	)
	c := &cobra.Command{
		Use:   "set-webhook",
		Short: "Point the bot at the DocDesk webhook endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return err
			}
			if webhookURL == "" {
				webhookURL = cfg.TelegramWebhookURL
			}
			if webhookURL == "" {
				return errors.New("--url is required or set TELEGRAM_WEBHOOK_URL")
			}
			if cfg.TelegramBotToken == "" {
				return telegram.ErrNotConfigured
			}

			if enqueue {
				enq, err := deps.NewEnqueuer(cfg)
				if err != nil {
					return err
				}
				defer enq.Close()
				id, err := enq.EnqueueSetWebhook(cmd.Context(), jobs.SetWebhookPayload{URL: webhookURL, DropPendingUpdates: dropPending})
				if err != nil {
					return fmt.Errorf("enqueue: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s (task %s)\n", jobs.TaskTelegramSetWebhook, id)
				return nil
			}

			err = deps.NewTelegram(cfg).SetWebhook(cmd.Context(), telegram.WebhookOptions{
				URL:                webhookURL,
				SecretToken:        cfg.TelegramWebhookSecret,
				DropPendingUpdates: dropPending,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "webhook set to %s\n", webhookURL)
			return nil
		},
	}
	c.Flags().StringVar(&webhookURL, "url", "", "https webhook URL (defaults to TELEGRAM_WEBHOOK_URL)")
	c.Flags().BoolVar(&dropPending, "drop-pending", false, "drop updates queued while no webhook was set")
	c.Flags().BoolVar(&enqueue, "enqueue", false, "hand the call to the worker instead of calling Telegram now")
	return c
}

func cmdTelegramDeleteWebhook(deps Deps) *cobra.Command {
	var dropPending bool
	c := &cobra.Command{
		Use:   "delete-webhook",
		Short: "Remove the bot webhook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return err
			}
			if err := deps.NewTelegram(cfg).DeleteWebhook(cmd.Context(), dropPending); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "webhook deleted")
			return nil
		},
	}
	c.Flags().BoolVar(&dropPending, "drop-pending", false, "drop pending updates")
	return c
}

func cmdTelegramInfo(deps Deps, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the webhook Telegram has on file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return err
			}
			info, err := deps.NewTelegram(cfg).GetWebhookInfo(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, info, func(w io.Writer) {
				url := info.URL
				if url == "" {
					url = "(none)"
				}
				fmt.Fprintf(w, "url:     %s\npending: %d\n", url, info.PendingUpdateCount)
				if info.LastErrorMessage != "" {
					fmt.Fprintf(w, "error:   %s\n", info.LastErrorMessage)
				}
			})
		},
	}
}
