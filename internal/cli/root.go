// Package cli implements the docdesk operator commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/docdesk/docdesk/internal/app"
	"github.com/docdesk/docdesk/internal/telegram"
	"github.com/docdesk/docdesk/jobs"
)

// TelegramAPI is the part of telegram.Client the commands call.
type TelegramAPI interface {
	SetWebhook(ctx context.Context, opts telegram.WebhookOptions) error
	DeleteWebhook(ctx context.Context, dropPending bool) error
	GetWebhookInfo(ctx context.Context) (telegram.WebhookInfo, error)
}

// WebhookEnqueuer hands webhook registration to the worker.
type WebhookEnqueuer interface {
	EnqueueSetWebhook(ctx context.Context, payload jobs.SetWebhookPayload) (string, error)
	Close() error
}

// Deps are the constructors commands use. Tests swap them out.
type Deps struct {
	LoadConfig  func() (*app.Config, error)
	NewStack    func(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*app.Stack, error)
	NewTelegram func(cfg *app.Config) TelegramAPI
	NewEnqueuer func(cfg *app.Config) (WebhookEnqueuer, error)
}

// DefaultDeps wires the production constructors.
func DefaultDeps() Deps {
	return Deps{
		LoadConfig: app.LoadConfig,
		NewStack:   app.NewStack,
		NewTelegram: func(cfg *app.Config) TelegramAPI {
			return telegram.NewClient(cfg.TelegramAPIURL, cfg.TelegramBotToken)
		},
		NewEnqueuer: func(cfg *app.Config) (WebhookEnqueuer, error) {
			client, err := jobs.NewClient(cfg.AsynqRedis())
			if err != nil {
				return nil, err
			}
			return asynqEnqueuer{client}, nil
		},
	}
}

type asynqEnqueuer struct {
	*jobs.Client
}

func (e asynqEnqueuer) EnqueueSetWebhook(ctx context.Context, payload jobs.SetWebhookPayload) (string, error) {
	info, err := e.Client.EnqueueSetWebhook(ctx, payload)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

type rootOptions struct {
	output string
}

// Execute runs the CLI against os.Args.
func Execute() error {
	return NewRootCommand(DefaultDeps()).Execute()
}

// NewRootCommand assembles the command tree.
func NewRootCommand(deps Deps) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "docdesk",
		Short:         "DocDesk operator commands",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.output {
			case "json", "yaml", "text":
				return nil
			default:
				return fmt.Errorf("--output must be one of json|yaml|text, got %q", opts.output)
			}
		},
	}
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "text", "output format: json|yaml|text")

	root.AddCommand(
		cmdSeed(deps, opts),
		cmdUser(deps, opts),
		cmdTelegram(deps, opts),
	)
	return root
}

// withStack loads config, builds the stack and closes it after fn.
func withStack(cmd *cobra.Command, deps Deps, fn func(ctx context.Context, stack *app.Stack) error) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	stack, err := deps.NewStack(ctx, cfg, app.NewLoggerTo(cfg, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer stack.Close()
	return fn(ctx, stack)
}

// render writes v in the selected format. text is the fallback for values
// without a dedicated text form.
func render(w io.Writer, format string, v any, text func(io.Writer)) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(v)
	default:
		text(w)
		return nil
	}
}
