package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexuscore/internal/config"
	"github.com/haasonsaas/nexuscore/pkg/models"
)

const defaultMetricsAddr = ":9090"

type askOptions struct {
	sessionID     string
	query         string
	tools         []string
	maxTokens     int
	skipInference bool
	includeState  bool
	format        string
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	return strings.TrimSpace(path)
}

func openRuntime(cmd *cobra.Command) (*runtime, error) {
	cfg, err := loadConfig(configPath(cmd))
	if err != nil {
		return nil, err
	}
	return newRuntime(cmd.Context(), cfg, cmd.ErrOrStderr())
}

// parseToolFlag parses "id:json". The input may be omitted.
func parseToolFlag(value string) (models.ToolCall, error) {
	id, input, _ := strings.Cut(value, ":")
	call := models.ToolCall{ToolID: strings.TrimSpace(id)}
	if call.ToolID == "" {
		return call, fmt.Errorf("tool %q: id is required", value)
	}
	if input = strings.TrimSpace(input); input != "" {
		if !json.Valid([]byte(input)) {
			return call, fmt.Errorf("tool %s: input is not valid JSON", call.ToolID)
		}
		call.Input = json.RawMessage(input)
	}
	return call, nil
}

func runAsk(cmd *cobra.Command, opts askOptions) error {
	req := &models.NormalizedRequest{
		Query:         opts.query,
		SessionID:     opts.sessionID,
		MaxTokens:     opts.maxTokens,
		SkipInference: opts.skipInference,
		IncludeState:  opts.includeState,
	}
	for _, raw := range opts.tools {
		call, err := parseToolFlag(raw)
		if err != nil {
			return err
		}
		req.Tools = append(req.Tools, call)
	}

	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	resp, handleErr := rt.coord.Handle(cmd.Context(), req)
	if resp == nil {
		return handleErr
	}
	out := cmd.OutOrStdout()
	if opts.format == "json" {
		if err := writeJSON(out, resp); err != nil {
			return err
		}
		return handleErr
	}
	renderResponse(out, resp)
	return handleErr
}

func renderResponse(w io.Writer, resp *models.Response) {
	fmt.Fprintf(w, "Request: %s (session %s)\n", resp.RequestID, resp.SessionID)
	s := resp.ContextSummary
	fmt.Fprintf(w, "Context: %d tokens, score %.2f, sources [%s]\n", s.TokenCount, s.Score, strings.Join(s.Sources, ", "))
	for source, reason := range s.Failed {
		fmt.Fprintf(w, "  source %s failed: %s\n", source, reason)
	}
	if resp.ChainStatus != "" {
		fmt.Fprintf(w, "Tools: %s\n", resp.ChainStatus)
		for _, res := range resp.ToolResults {
			status := "ok"
			if !res.Success {
				status = "failed: " + res.Error
			}
			fmt.Fprintf(w, "  %s (%s) %s\n", res.CallID, res.ToolID, status)
		}
	}
	if resp.InferenceOutput != nil {
		fmt.Fprintf(w, "\n%s\n\n", strings.TrimSpace(resp.InferenceOutput.Content))
	}
	seqs := make([]string, len(resp.EventsAppended))
	for i, ref := range resp.EventsAppended {
		seqs[i] = fmt.Sprintf("%d:%s", ref.Sequence, ref.Type)
	}
	fmt.Fprintf(w, "Events: %s\n", strings.Join(seqs, " "))
}

func runState(cmd *cobra.Command, sessionID string, until uint64, format string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	var state *models.SessionState
	if until > 0 {
		state, err = rt.coord.GetSessionStateAt(cmd.Context(), sessionID, until)
	} else {
		state, err = rt.coord.GetSessionState(cmd.Context(), sessionID)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format != "text" {
		return writeJSON(out, state)
	}
	fmt.Fprintf(out, "Session %s at sequence %d (%d events, %d suppressed)\n", state.SessionID, state.LastSequence, state.EventCount, state.Suppressed)
	fmt.Fprintf(out, "Requests: %d  Inferences: %d (failed %d)  Context failures: %d  Tokens: %d\n",
		state.Requests, state.Inferences, state.InferenceFailures, state.ContextFailures, state.TokensUsed)
	for _, item := range state.Interactions {
		fmt.Fprintf(out, "  [%d] %s: %s\n", item.Sequence, item.Role, item.Content)
	}
	for _, tool := range state.Tools {
		fmt.Fprintf(out, "  [%d] tool %s (%s) success=%t\n", tool.Sequence, tool.ToolID, tool.CallID, tool.Success)
	}
	return nil
}

func runEvents(cmd *cobra.Command, sessionID string, from uint64, format string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()
	out := cmd.OutOrStdout()

	if sessionID == "" {
		sessions, err := rt.log.Sessions(cmd.Context())
		if err != nil {
			return err
		}
		if format == "json" {
			return writeJSON(out, sessions)
		}
		for _, sid := range sessions {
			fmt.Fprintln(out, sid)
		}
		return nil
	}

	events, err := rt.coord.Events(cmd.Context(), sessionID, from)
	if err != nil {
		return err
	}
	if format == "json" {
		return writeJSON(out, events)
	}
	if len(events) == 0 {
		fmt.Fprintf(out, "No events for session %s\n", sessionID)
		return nil
	}
	for _, ev := range events {
		fmt.Fprintf(out, "%6d  %s  %-24s %s\n", ev.Sequence, ev.Timestamp.Format(time.RFC3339), ev.Type, ev.Payload)
	}
	return nil
}

func runCompensate(cmd *cobra.Command, sessionID string, seq uint64, reason string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	ref, err := rt.coord.Compensate(cmd.Context(), sessionID, seq, reason)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Compensated event %d with event %d\n", seq, ref.Sequence)
	return nil
}

func runConfigValidate(cmd *cobra.Command) error {
	path := configPath(cmd)
	if path == "" {
		return errors.New("--config is required")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	names := make([]string, len(cfg.Assembler.Sources))
	for i, src := range cfg.Assembler.Sources {
		names[i] = fmt.Sprintf("%s(tier %d, weight %.2f)", src.Name, src.Priority, src.Weight)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Config OK: %s\n  sources: %s\n  eventlog: %s\n  llm: %s\n",
		path, strings.Join(names, ", "), cfg.EventLog.Backend, cfg.LLM.Provider)
	return nil
}

func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return err
}

func runServeMetrics(cmd *cobra.Command, addr string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	if addr == "" {
		addr = rt.cfg.Observability.MetricsAddr
	}
	if addr == "" {
		addr = defaultMetricsAddr
	}
	if rt.cfg.Workspace.Watch {
		if err := rt.corpus.Watch(ctx); err != nil {
			return fmt.Errorf("watch workspace: %w", err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info("serving metrics", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
