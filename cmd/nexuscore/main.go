// Package main provides the nexuscore CLI.
//
// nexuscore runs requests through the gateway core: it assembles context
// from conversation history and the workspace, runs tool chains, calls the
// configured LLM and records every step in the session event log.
//
// # Basic Usage
//
//	nexuscore ask --session demo --query "how do we deploy?"
//	nexuscore ask --session demo --tool 'echo:{"text":"hi"}' --skip-inference
//	nexuscore state --session demo
//	nexuscore events --session demo
//	nexuscore config validate --config nexuscore.yaml
//
// # Environment Variables
//
//   - NEXUSCORE_CONFIG: path to the configuration file
//   - OPENAI_API_KEY, ANTHROPIC_API_KEY: referenced from config as ${...}
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, set with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nexuscore",
		Short: "nexuscore - request core of a tool-augmented LLM gateway",
		Long: `nexuscore assembles context, runs tool chains and calls an LLM for each
request, recording the session as an append-only event log.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", os.Getenv("NEXUSCORE_CONFIG"), "Path to YAML or JSON5 configuration file")

	rootCmd.AddCommand(
		buildAskCmd(),
		buildStateCmd(),
		buildEventsCmd(),
		buildCompensateCmd(),
		buildConfigCmd(),
		buildServeMetricsCmd(),
	)
	return rootCmd
}
