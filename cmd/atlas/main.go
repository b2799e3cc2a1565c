package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "atlas",
		Short: "Atlas - tool-calling AI agent for on-chain and market data",
		Long: `Atlas turns natural-language requests into tool calls against
EVM chains, market-data feeds, and web search, with conversation memory.

Supported LLM providers: Anthropic (Claude), OpenAI (GPT)`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (YAML or JSON5; or set ATLAS_CONFIG)")

	rootCmd.AddCommand(
		buildChatCmd(&configPath),
		buildToolsCmd(&configPath),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "atlas %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// resolveConfigPath prefers the flag, then the environment.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("ATLAS_CONFIG")
}
