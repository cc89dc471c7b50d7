package main

import (
	"github.com/spf13/cobra"
)

func buildAskCmd() *cobra.Command {
	var opts askOptions
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Handle one request",
		Long: `Handle one request: assemble context for the query, run the given tools in
order, call the LLM and append the resulting events to the session log.

Tools are given as id:json, for example --tool 'echo:{"text":"hi"}'. A tool
input may reference an earlier call's output with {{ref:call-N}}.`,
		Example: `  nexuscore ask --session demo --query "what changed in the deploy scripts?"
  nexuscore ask --session demo --tool 'read:{"path":"README.md"}' --skip-inference --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.sessionID, "session", "s", "", "Session ID (required)")
	cmd.Flags().StringVarP(&opts.query, "query", "q", "", "Query text")
	cmd.Flags().StringArrayVarP(&opts.tools, "tool", "t", nil, "Tool call as id:json (repeatable)")
	cmd.Flags().IntVar(&opts.maxTokens, "max-tokens", 0, "Context token budget (default from config)")
	cmd.Flags().BoolVar(&opts.skipInference, "skip-inference", false, "Do not call the LLM")
	cmd.Flags().BoolVar(&opts.includeState, "state", false, "Include the projected session state")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format (text, json)")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func buildStateCmd() *cobra.Command {
	var sessionID, format string
	var until uint64
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the projected state of a session",
		Example: `  nexuscore state --session demo
  nexuscore state --session demo --until 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runState(cmd, sessionID, until, format)
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID (required)")
	cmd.Flags().Uint64Var(&until, "until", 0, "Project only events up to this sequence number")
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format (text, json)")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func buildEventsCmd() *cobra.Command {
	var sessionID, format string
	var from uint64
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List the events of a session",
		Long:  `List a session's events in sequence order. Without --session, list the known sessions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(cmd, sessionID, from, format)
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID")
	cmd.Flags().Uint64Var(&from, "from", 1, "First sequence number to show")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format (text, json)")
	return cmd
}

func buildCompensateCmd() *cobra.Command {
	var sessionID, reason string
	var seq uint64
	cmd := &cobra.Command{
		Use:   "compensate",
		Short: "Neutralize an earlier event with a compensating event",
		Long: `Append an interaction.compensated event. The target stays in the log but
its interaction and tool outcome no longer appear in the projected state.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompensate(cmd, sessionID, seq, reason)
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID (required)")
	cmd.Flags().Uint64Var(&seq, "seq", 0, "Sequence number of the event to compensate (required)")
	cmd.Flags().StringVar(&reason, "reason", "", "Why the event is compensated")
	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("seq")
	return cmd
}

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "validate",
			Short: "Load and validate the configuration file",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigValidate(cmd)
			},
		},
		&cobra.Command{
			Use:   "schema",
			Short: "Print the configuration JSON Schema",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigSchema(cmd)
			},
		},
	)
	return cmd
}

func buildServeMetricsCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve-metrics",
		Short: "Serve Prometheus metrics and keep the workspace index warm",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeMetrics(cmd, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	return cmd
}
