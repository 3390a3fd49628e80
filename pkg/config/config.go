// Package config loads the engine's static configuration: model
// credentials, chunking/threshold defaults, and the error-store and
// orchestrator settings that SPEC_FULL.md's components read at startup.
//
// Grounded on the teacher's own pkg/config (YAML-plus-environment-override
// loader with a Validate step), generalized from an LLM-agent-runtime
// config to IPGRE's chunking/scoring/orchestration config.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// maxConfigFileBytes rejects implausibly large config files outright,
// rather than handing multi-megabyte garbage to the YAML decoder.
const maxConfigFileBytes = 1 << 20 // 1 MiB

// Config is the engine's top-level configuration.
type Config struct {
	// Model credentials and defaults.
	OpenAIKey    string  `yaml:"openai_key"`
	GeminiKey    string  `yaml:"gemini_key"`
	DefaultModel string  `yaml:"default_model"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`

	// Generation defaults (spec §4.E).
	QualityThreshold    int `yaml:"quality_threshold"`
	BulkChunkWords      int `yaml:"bulk_chunk_words"`
	IterativeChunkWords int `yaml:"iterative_chunk_words"`

	ErrorStore   ErrorStoreConfig   `yaml:"error_store"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Runtime      RuntimeConfig      `yaml:"runtime"`
}

// ErrorStoreConfig selects and configures the Error Pattern Store backend
// (spec §4.C).
type ErrorStoreConfig struct {
	Backend   string `yaml:"backend"` // "file" or "redis"
	Path      string `yaml:"path"`
	RedisAddr string `yaml:"redis_addr"`
}

// OrchestratorConfig configures the Multi-Agent Orchestrator (spec §4.G).
type OrchestratorConfig struct {
	AgentCount    int      `yaml:"agent_count"`
	AuthorPalette []string `yaml:"author_palette"`
}

// RuntimeConfig holds cross-cutting runtime knobs.
type RuntimeConfig struct {
	ChannelBufferSize int  `yaml:"channel_buffer_size"`
	EnableMetrics     bool `yaml:"enable_metrics"`
}

// LoadConfig loads configuration from a YAML file, applying defaults and
// environment-variable overrides for credentials left blank in the file.
func LoadConfig(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileBytes {
		return nil, fmt.Errorf("config file too large: %d bytes exceeds %d byte limit", info.Size(), maxConfigFileBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4000
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.QualityThreshold == 0 {
		cfg.QualityThreshold = 90
	}
	if cfg.BulkChunkWords == 0 {
		cfg.BulkChunkWords = 1000
	}
	if cfg.IterativeChunkWords == 0 {
		cfg.IterativeChunkWords = 100
	}
	if cfg.ErrorStore.Backend == "" {
		cfg.ErrorStore.Backend = "file"
	}
	if cfg.Orchestrator.AgentCount == 0 {
		cfg.Orchestrator.AgentCount = 3
	}
	if cfg.Runtime.ChannelBufferSize == 0 {
		cfg.Runtime.ChannelBufferSize = 100
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg.OpenAIKey == "" {
		cfg.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.GeminiKey == "" {
		cfg.GeminiKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.ErrorStore.RedisAddr == "" {
		cfg.ErrorStore.RedisAddr = os.Getenv("IPGRE_REDIS_ADDR")
	}
}

// SaveConfig writes configuration to a YAML file.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DefaultModel == "" {
		return fmt.Errorf("default_model is required")
	}
	if c.OpenAIKey == "" && c.GeminiKey == "" {
		return fmt.Errorf("at least one of openai_key or gemini_key must be configured")
	}
	if c.ErrorStore.Backend != "file" && c.ErrorStore.Backend != "redis" {
		return fmt.Errorf("error_store.backend must be \"file\" or \"redis\", got %q", c.ErrorStore.Backend)
	}
	if c.ErrorStore.Backend == "redis" && c.ErrorStore.RedisAddr == "" {
		return fmt.Errorf("error_store.redis_addr is required when backend is \"redis\"")
	}
	return nil
}
