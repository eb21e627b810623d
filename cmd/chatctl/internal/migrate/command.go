package migrate

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/chat-platform/cmd/chatctl/internal"
)

func NewMigrateCommand() *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update all tables",
		Args:  cobra.NoArgs,
		Example: `  chatctl migrate
  chatctl migrate --dsn sqlite:chat.db`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := internal.LoadConfig(dsn)
			if err != nil {
				return err
			}
			gdb, err := internal.OpenDB(cfg)
			if err != nil {
				return err
			}
			defer internal.CloseDB(gdb)
			fmt.Fprintln(cmd.OutOrStdout(), "migrated users, chat_messages, thread_previews")
			return nil
		},
	}
	internal.AddDSNFlag(cmd, &dsn)
	return cmd
}
