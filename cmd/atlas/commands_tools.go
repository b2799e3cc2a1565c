package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/atlasagent/atlas/internal/integrations"
	"github.com/atlasagent/atlas/internal/observability"
	"github.com/atlasagent/atlas/internal/tools"
)

func buildToolsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tool registry",
	}
	cmd.AddCommand(buildToolsListCmd(configPath))
	return cmd
}

func buildToolsListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the tools the configured integrations provide",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			logger := observability.NewLogger(observability.LogConfig{Level: "warn", Format: "text"})

			registry := tools.NewRegistry()
			loaded, cleanup, err := integrations.FromConfig(ctx, cfg.Integrations)
			if err != nil {
				return err
			}
			defer cleanup()
			if err := integrations.Load(ctx, registry, logger, loaded...); err != nil {
				return err
			}
			registry.Freeze()

			specs := registry.Specs()
			if len(specs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no tools registered; enable integrations in the config file")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDESCRIPTION")
			for _, spec := range specs {
				fmt.Fprintf(w, "%s\t%s\n", spec.Name, spec.Description)
			}
			return w.Flush()
		},
	}
}
