package user

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/chat-platform/cmd/chatctl/internal"
	"github.com/suPer8Hu/chat-platform/internal/auth"
	"github.com/suPer8Hu/chat-platform/internal/models"
	"github.com/suPer8Hu/chat-platform/internal/users"
)

type createOptions struct {
	dsn      string
	username string
	email    string
	password string
}

func NewUserCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(newCreateCommand())
	return cmd
}

func newCreateCommand() *cobra.Command {
	var opts createOptions

	cmd := &cobra.Command{
		Use:     "create",
		Short:   "Register a user",
		Args:    cobra.NoArgs,
		Example: `  chatctl user create --username alice --email alice@mail.com --password secret123`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.username = strings.TrimSpace(opts.username)
			opts.email = strings.TrimSpace(strings.ToLower(opts.email))
			if opts.username == "" || opts.email == "" || opts.password == "" {
				return errors.New("--username, --email and --password are required")
			}

			cfg, err := internal.LoadConfig(opts.dsn)
			if err != nil {
				return err
			}
			gdb, err := internal.OpenDB(cfg)
			if err != nil {
				return err
			}
			defer internal.CloseDB(gdb)

			hash, err := auth.HashPassword(opts.password)
			if err != nil {
				return err
			}
			u := models.User{Username: opts.username, Email: opts.email, PasswordHash: hash}
			if err := users.NewRepo(gdb).Create(cmd.Context(), &u); err != nil {
				return fmt.Errorf("create user %s: %w", opts.username, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user id=%d username=%s\n", u.ID, u.Username)
			return nil
		},
	}

	internal.AddDSNFlag(cmd, &opts.dsn)
	cmd.Flags().StringVar(&opts.username, "username", "", "unique username")
	cmd.Flags().StringVar(&opts.email, "email", "", "unique email")
	cmd.Flags().StringVar(&opts.password, "password", "", "plain password, stored as bcrypt hash")
	return cmd
}
