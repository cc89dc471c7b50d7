package config

import (
	"errors"
	"fmt"
	"math"
	"path"
	"strings"
)

const weightTolerance = 1e-6

// CurrentVersion is the configuration file format this build reads.
const CurrentVersion = 1

// VersionError reports a config file written for another format version.
type VersionError struct {
	Version int
	Current int
}

func (e *VersionError) Error() string {
	if e.Version > e.Current {
		return fmt.Sprintf("config version %d is newer than this build (supports %d)", e.Version, e.Current)
	}
	return fmt.Sprintf("config version %d is not supported (supports %d)", e.Version, e.Current)
}

// ValidateVersion rejects any version other than CurrentVersion.
func ValidateVersion(version int) error {
	if version == CurrentVersion {
		return nil
	}
	return &VersionError{Version: version, Current: CurrentVersion}
}

// Validate checks semantic constraints that the YAML decoder cannot.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format))
	}

	errs = append(errs, c.Assembler.validate()...)

	if c.Toolchain.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("toolchain.max_attempts must be at least 1"))
	}
	if c.Toolchain.ToolTimeout < 0 || c.Toolchain.ChainTimeout < 0 {
		errs = append(errs, fmt.Errorf("toolchain timeouts must not be negative"))
	}

	switch c.EventLog.Backend {
	case "memory":
	case "sqlite":
		if strings.TrimSpace(c.EventLog.Path) == "" {
			errs = append(errs, fmt.Errorf("eventlog.path is required for the sqlite backend"))
		}
	case "postgres":
		if strings.TrimSpace(c.EventLog.DSN) == "" {
			errs = append(errs, fmt.Errorf("eventlog.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("eventlog.backend must be memory, sqlite or postgres, got %q", c.EventLog.Backend))
	}
	if c.EventLog.AppendAttempts < 1 {
		errs = append(errs, fmt.Errorf("eventlog.append_attempts must be at least 1"))
	}

	switch c.LLM.Provider {
	case ProviderNone:
	case ProviderOpenAI, ProviderAnthropic:
		if strings.TrimSpace(c.LLM.APIKey) == "" {
			errs = append(errs, fmt.Errorf("llm.api_key is required for provider %s", c.LLM.Provider))
		}
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be openai, anthropic or none, got %q", c.LLM.Provider))
	}
	if c.Embeddings.Enabled && c.LLM.Provider != ProviderOpenAI {
		errs = append(errs, fmt.Errorf("embeddings.enabled requires llm.provider openai"))
	}

	for _, pattern := range c.Workspace.Include {
		if _, err := path.Match(pattern, ""); err != nil {
			errs = append(errs, fmt.Errorf("workspace.include pattern %q: %w", pattern, err))
		}
	}

	if rate := c.Observability.Tracing.SamplingRate; rate < 0 || rate > 1 {
		errs = append(errs, fmt.Errorf("observability.tracing.sampling_rate must be within [0,1]"))
	}

	return errors.Join(errs...)
}

func (c AssemblerConfig) validate() []error {
	var errs []error
	if len(c.Sources) == 0 {
		errs = append(errs, fmt.Errorf("assembler.sources must not be empty"))
	}
	seen := make(map[string]bool, len(c.Sources))
	total := 0.0
	for i, src := range c.Sources {
		switch src.Name {
		case SourceHistory, SourceWorkspace, SourceSemantic:
		default:
			errs = append(errs, fmt.Errorf("assembler.sources[%d].name %q is not a known source", i, src.Name))
		}
		if seen[src.Name] {
			errs = append(errs, fmt.Errorf("assembler.sources[%d].name %q is duplicated", i, src.Name))
		}
		seen[src.Name] = true
		if src.Weight <= 0 || src.Weight > 1 {
			errs = append(errs, fmt.Errorf("assembler.sources[%d].weight must be within (0,1]", i))
		}
		if src.Timeout < 0 {
			errs = append(errs, fmt.Errorf("assembler.sources[%d].timeout must not be negative", i))
		}
		total += src.Weight
	}
	if len(c.Sources) > 0 && math.Abs(total-1) > weightTolerance {
		errs = append(errs, fmt.Errorf("assembler.sources weights must sum to 1.0, got %.4f", total))
	}
	if c.RelevanceThreshold < 0 || c.RelevanceThreshold > 1 {
		errs = append(errs, fmt.Errorf("assembler.relevance_threshold must be within [0,1]"))
	}
	if q := c.Quality(); q < 0 || q > 1 {
		errs = append(errs, fmt.Errorf("assembler.quality_threshold must be within [0,1]"))
	}
	if c.MaxFanOut < 1 {
		errs = append(errs, fmt.Errorf("assembler.max_fan_out must be at least 1"))
	}
	if c.DefaultMaxTokens < 1 {
		errs = append(errs, fmt.Errorf("assembler.default_max_tokens must be at least 1"))
	}
	return errs
}
