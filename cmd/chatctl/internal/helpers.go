package internal

import (
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/suPer8Hu/chat-platform/internal/config"
	"github.com/suPer8Hu/chat-platform/internal/db"
)

// AddDSNFlag registers --dsn; empty falls back to DB_DSN.
func AddDSNFlag(cmd *cobra.Command, dsn *string) {
	cmd.Flags().StringVar(dsn, "dsn", "", "database DSN (default: $DB_DSN; sqlite:<path> for sqlite)")
}

// LoadConfig reads the environment and applies a non-empty dsn override.
func LoadConfig(dsn string) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if dsn != "" {
		cfg.DBDSN = dsn
	}
	return cfg, nil
}

// OpenDB connects and migrates so every command works on a fresh database.
func OpenDB(cfg config.Config) (*gorm.DB, error) {
	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, err
	}
	return gdb, nil
}

func CloseDB(gdb *gorm.DB) {
	if sqlDB, err := gdb.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
