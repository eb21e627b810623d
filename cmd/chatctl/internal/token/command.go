package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/chat-platform/cmd/chatctl/internal"
	"github.com/suPer8Hu/chat-platform/internal/auth"
	"github.com/suPer8Hu/chat-platform/internal/users"
)

func NewTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint access tokens for local testing",
	}
	cmd.AddCommand(newIssueCommand())
	return cmd
}

func newIssueCommand() *cobra.Command {
	var (
		dsn      string
		username string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:     "issue",
		Short:   "Sign a JWT for a stored user",
		Args:    cobra.NoArgs,
		Example: `  chatctl token issue --username alice --ttl 1h`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if username == "" {
				return errors.New("--username is required")
			}
			cfg, err := internal.LoadConfig(dsn)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.JWTTTL
			}
			gdb, err := internal.OpenDB(cfg)
			if err != nil {
				return err
			}
			defer internal.CloseDB(gdb)

			u, err := users.NewRepo(gdb).GetByUsername(cmd.Context(), username)
			if err != nil {
				return fmt.Errorf("load user %s: %w", username, err)
			}
			tok, err := auth.NewJWT(cfg.JWTSecret, ttl).Sign(u.Username, u.Email)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	internal.AddDSNFlag(cmd, &dsn)
	cmd.Flags().StringVar(&username, "username", "", "user to sign for")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default: $JWT_TTL)")
	return cmd
}
