package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newDiscoverCmd() *cobra.Command {
	var (
		sources []string
		output  string
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Runs one discovery pass and prints the report as JSON",
		Long: `Fetches candidates from the configured sources (or those given with
--sources), records new products and prints the run report as JSON or a table. Products are queued
for enrichment only when the command shares a queue with running workers, so
this is mostly useful for seeding and debugging.`,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			if output != "json" && output != "table" {
				return fmt.Errorf("unknown output %q: use json or table", output)
			}
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			app, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer func() {
				if cerr := app.Close(); cerr != nil && err == nil {
					err = cerr
				}
			}()

			report, err := app.Discover(cmd.Context(), sources)
			if err != nil {
				return fmt.Errorf("discover: %w", err)
			}
			if output == "table" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), renderReport(report))
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "json", "report format: json or table")
	cmd.Flags().StringSliceVar(&sources, "sources", nil, "sources to query (producthunt, hackernews, reddit); defaults to discovery.sources")
	return cmd
}
