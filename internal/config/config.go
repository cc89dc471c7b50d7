package config

import (
	"fmt"
	"time"
)

// Config is the main configuration structure for nexuscore.
type Config struct {
	Version       int                 `yaml:"version"`
	Logging       LoggingConfig       `yaml:"logging"`
	Assembler     AssemblerConfig     `yaml:"assembler"`
	Toolchain     ToolchainConfig     `yaml:"toolchain"`
	EventLog      EventLogConfig      `yaml:"eventlog"`
	LLM           LLMConfig           `yaml:"llm"`
	Embeddings    EmbeddingsConfig    `yaml:"embeddings"`
	Workspace     WorkspaceConfig     `yaml:"workspace"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SourceConfig describes one context source. Lower priority values form a
// higher tier.
type SourceConfig struct {
	Name           string        `yaml:"name"`
	Priority       int           `yaml:"priority"`
	Weight         float64       `yaml:"weight"`
	Timeout        time.Duration `yaml:"timeout"`
	AlwaysRelevant bool          `yaml:"always_relevant"`
}

type AssemblerConfig struct {
	Sources            []SourceConfig `yaml:"sources"`
	RelevanceThreshold float64        `yaml:"relevance_threshold"`
	// QualityThreshold is left nil to use the default; zero disables the gate.
	QualityThreshold *float64 `yaml:"quality_threshold"`
	MaxFanOut        int      `yaml:"max_fan_out"`
	DefaultMaxTokens int      `yaml:"default_max_tokens"`
}

// Quality returns the effective quality threshold.
func (c AssemblerConfig) Quality() float64 {
	if c.QualityThreshold == nil {
		return DefaultQualityThreshold
	}
	return *c.QualityThreshold
}

type ToolchainConfig struct {
	ToolTimeout  time.Duration `yaml:"tool_timeout"`
	ChainTimeout time.Duration `yaml:"chain_timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryInitial time.Duration `yaml:"retry_initial"`
	RetryMax     time.Duration `yaml:"retry_max"`
	Allow        []string      `yaml:"allow"`
	Deny         []string      `yaml:"deny"`
}

type EventLogConfig struct {
	// Backend is one of memory, sqlite or postgres.
	Backend        string        `yaml:"backend" jsonschema:"enum=memory,enum=sqlite,enum=postgres"`
	Path           string        `yaml:"path"`
	DSN            string        `yaml:"dsn"`
	AppendAttempts int           `yaml:"append_attempts"`
	LockTimeout    time.Duration `yaml:"lock_timeout"`
}

type LLMConfig struct {
	// Provider is openai, anthropic or none. With none, requests skip
	// inference.
	Provider            string        `yaml:"provider" jsonschema:"enum=none,enum=openai,enum=anthropic"`
	APIKey              string        `yaml:"api_key"`
	BaseURL             string        `yaml:"base_url"`
	Model               string        `yaml:"model"`
	SystemPrompt        string        `yaml:"system_prompt"`
	MaxCompletionTokens int           `yaml:"max_completion_tokens"`
	Timeout             time.Duration `yaml:"timeout"`
	MaxAttempts         int           `yaml:"max_attempts"`
}

type EmbeddingsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Model       string `yaml:"model"`
	ChunkTokens int    `yaml:"chunk_tokens"`
	TopK        int    `yaml:"top_k"`
}

type WorkspaceConfig struct {
	Root         string   `yaml:"root"`
	Include      []string `yaml:"include"`
	MaxFileBytes int64    `yaml:"max_file_bytes"`
	Watch        bool     `yaml:"watch"`
}

type ObservabilityConfig struct {
	MetricsAddr string        `yaml:"metrics_addr"`
	Tracing     TracingConfig `yaml:"tracing"`
}

type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	ServiceName  string  `yaml:"service_name"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

const (
	DefaultQualityThreshold = 0.1
	DefaultMaxTokens        = 4000

	SourceHistory   = "history"
	SourceWorkspace = "workspace"
	SourceSemantic  = "semantic"

	ProviderNone      = "none"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Load reads, defaults and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{Version: CurrentVersion}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if len(cfg.Assembler.Sources) == 0 {
		cfg.Assembler.Sources = []SourceConfig{
			{Name: SourceHistory, Priority: 0, Weight: 0.5, AlwaysRelevant: true},
			{Name: SourceWorkspace, Priority: 1, Weight: 0.3},
			{Name: SourceSemantic, Priority: 2, Weight: 0.2},
		}
	}
	for i := range cfg.Assembler.Sources {
		if cfg.Assembler.Sources[i].Timeout == 0 {
			cfg.Assembler.Sources[i].Timeout = 5 * time.Second
		}
	}
	if cfg.Assembler.MaxFanOut == 0 {
		cfg.Assembler.MaxFanOut = 4
	}
	if cfg.Assembler.DefaultMaxTokens == 0 {
		cfg.Assembler.DefaultMaxTokens = DefaultMaxTokens
	}

	if cfg.Toolchain.ToolTimeout == 0 {
		cfg.Toolchain.ToolTimeout = 30 * time.Second
	}
	if cfg.Toolchain.ChainTimeout == 0 {
		cfg.Toolchain.ChainTimeout = 2 * time.Minute
	}
	if cfg.Toolchain.MaxAttempts == 0 {
		cfg.Toolchain.MaxAttempts = 1
	}
	if cfg.Toolchain.RetryInitial == 0 {
		cfg.Toolchain.RetryInitial = 100 * time.Millisecond
	}
	if cfg.Toolchain.RetryMax == 0 {
		cfg.Toolchain.RetryMax = 5 * time.Second
	}

	if cfg.EventLog.Backend == "" {
		cfg.EventLog.Backend = "memory"
	}
	if cfg.EventLog.AppendAttempts == 0 {
		cfg.EventLog.AppendAttempts = 5
	}
	if cfg.EventLog.LockTimeout == 0 {
		cfg.EventLog.LockTimeout = 10 * time.Second
	}

	if cfg.LLM.Provider == "" {
		if cfg.LLM.APIKey != "" {
			cfg.LLM.Provider = ProviderOpenAI
		} else {
			cfg.LLM.Provider = ProviderNone
		}
	}
	if cfg.LLM.Model == "" {
		switch cfg.LLM.Provider {
		case ProviderAnthropic:
			cfg.LLM.Model = "claude-sonnet-4-20250514"
		default:
			cfg.LLM.Model = "gpt-4o-mini"
		}
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 60 * time.Second
	}
	if cfg.LLM.MaxAttempts == 0 {
		cfg.LLM.MaxAttempts = 3
	}

	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "text-embedding-3-small"
	}
	if cfg.Embeddings.ChunkTokens == 0 {
		cfg.Embeddings.ChunkTokens = 200
	}
	if cfg.Embeddings.TopK == 0 {
		cfg.Embeddings.TopK = 5
	}

	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = "."
	}
	if len(cfg.Workspace.Include) == 0 {
		cfg.Workspace.Include = []string{"*.md", "*.go", "*.txt", "*.yaml"}
	}
	if cfg.Workspace.MaxFileBytes == 0 {
		cfg.Workspace.MaxFileBytes = 64 << 10
	}

	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "nexuscore"
	}
}
