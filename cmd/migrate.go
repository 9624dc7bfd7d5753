package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/agentic-reviewer/internal/logging"
	"github.com/JakeFAU/agentic-reviewer/internal/server"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Creates the Postgres tables and indexes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }() //nolint:errcheck
			return server.Migrate(cmd.Context(), cfg, logger)
		},
	}
}
