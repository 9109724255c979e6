package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/docdesk/docdesk/internal/app"
	"github.com/docdesk/docdesk/internal/rbac"
)

func cmdUser(deps Deps, opts *rootOptions) *cobra.Command {
	c := &cobra.Command{
		Use:   "user",
		Short: "Login account management",
	}
	c.AddCommand(cmdUserCreate(deps, opts))
	return c
}

type createUserInput struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8"`
}

type createUserResult struct {
	Subject string   `json:"subject" yaml:"subject"`
	Created bool     `json:"created" yaml:"created"`
	Roles   []string `json:"roles,omitempty" yaml:"roles,omitempty"`
}

func cmdUserCreate(deps Deps, opts *rootOptions) *cobra.Command {
	var (
		input         createUserInput
		passwordStdin bool
		roles         []string
	)
	c := &cobra.Command{
		Use:   "create",
		Short: "Create a login account and optionally assign roles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if passwordStdin {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("read password: %w", err)
				}
				input.Password = strings.TrimRight(line, "\r\n")
			}
			if input.Email == "" {
				return errors.New("--email is required")
			}
			if err := validator.New().Struct(input); err != nil {
				return fmt.Errorf("invalid input: %w", err)
			}
			return withStack(cmd, deps, func(ctx context.Context, stack *app.Stack) error {
				user, created, err := stack.Auth.EnsureUser(ctx, input.Email, input.Password)
				if err != nil {
					return err
				}
				result := createUserResult{Subject: user.Subject(), Created: created}
				for _, role := range roles {
					if err := stack.RBAC.AssignRole(ctx, result.Subject, role); err != nil {
						return fmt.Errorf("assign %s: %w", role, err)
					}
					result.Roles = append(result.Roles, role)
				}
				if len(result.Roles) > 0 {
					if err := stack.Cache.Invalidate(ctx); err != nil {
						fmt.Fprintln(cmd.ErrOrStderr(), "warning: rbac cache invalidate:", err)
					}
				}
				return render(cmd.OutOrStdout(), opts.output, result, func(w io.Writer) {
					state := "exists"
					if result.Created {
						state = "created"
					}
					fmt.Fprintf(w, "%s %s\n", result.Subject, state)
					for _, r := range result.Roles {
						fmt.Fprintf(w, "  role %s\n", r)
					}
				})
			})
		},
	}
	c.Flags().StringVar(&input.Email, "email", "", "login email, also the RBAC subject")
	c.Flags().StringVar(&input.Password, "password", "", "password (prefer --password-stdin)")
	c.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	c.Flags().StringSliceVar(&roles, "role", nil, "role to assign, repeatable (e.g. "+rbac.RoleAdmin+")")
	return c
}
