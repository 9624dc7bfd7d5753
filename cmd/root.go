// Package cmd defines the CLI commands for the reviewer executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/agentic-reviewer/internal/config"
	"github.com/JakeFAU/agentic-reviewer/internal/discovery"
	"github.com/JakeFAU/agentic-reviewer/internal/server"
)

// App is the part of server.App the commands use. Tests swap in a fake.
type App interface {
	Run(ctx context.Context) error
	Discover(ctx context.Context, sources []string) (discovery.Report, error)
	Close() error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg *config.Config) (App, error) {
	app, err := server.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return app, nil
}

type configKey struct{}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "reviewer",
		Short: "Discovers new products, reviews them and publishes short videos.",
		Long: `reviewer finds newly launched products on Product Hunt, Hacker News and
Reddit, captures their sites, writes and scores a review with an LLM, renders a
short video and distributes it to YouTube, TikTok and Instagram.`,
		SilenceUsage: true,

		// Config is loaded once here and handed to subcommands via the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, &cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml or /etc/reviewer/config.yaml)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newMigrateCmd())
	return cmd
}

func resolveConfig(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey{}).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "reviewer: %v\n", err)
		os.Exit(1)
	}
}
