// Package observability provides metrics, structured logging and tracing for
// the request path.
//
// # Logging
//
// NewLogger returns a *slog.Logger whose handler redacts secrets and copies
// correlation IDs from the context into every record:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info"})
//	ctx = observability.AddRequestID(ctx, req.ID)
//	ctx = observability.AddSessionID(ctx, req.SessionID)
//	logger.InfoContext(ctx, "request accepted") // request_id=... session_id=...
//
// Components receive the *slog.Logger and tag it with a component name:
//
//	logger = logger.With("component", "toolchain")
//
// # Metrics
//
// Metrics are Prometheus collectors registered on a caller-provided registry
// so tests can use an isolated one:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordToolExecution("echo", "success", elapsed.Seconds())
//
// # Tracing
//
// NewTracer configures an OTLP exporter when an endpoint is set and falls back
// to a no-op tracer otherwise. The Trace* helpers open spans for each stage
// of request handling.
//
// Both *Metrics and *Tracer accept nil receivers, so collaborators can be
// constructed without observability wired in.
package observability
