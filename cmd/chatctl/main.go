package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/chat-platform/cmd/chatctl/internal/migrate"
	"github.com/suPer8Hu/chat-platform/cmd/chatctl/internal/token"
	"github.com/suPer8Hu/chat-platform/cmd/chatctl/internal/user"
)

func NewChatctlCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "chatctl",
		Short:         "Administer the chat platform database",
		Example:       "chatctl migrate --dsn sqlite:chat.db",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.AddCommand(
		migrate.NewMigrateCommand(),
		user.NewUserCommand(),
		token.NewTokenCommand(),
	)
	return cmd
}

func main() {
	cmd := NewChatctlCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
