// ABOUTME: Configuration loading and parsing for aura-orchestrator
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete aura-orchestrator configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Stages    StagesConfig    `yaml:"stages"`
	Generator GeneratorConfig `yaml:"generator"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Memory    MemoryConfig    `yaml:"memory"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	CertFile  string `yaml:"cert_file"` // TLS cert file (generate via: tailscale cert <hostname>)
	KeyFile   string `yaml:"key_file"`  // TLS key file
	Funnel    bool   `yaml:"funnel"`    // Enable public Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// StagesConfig holds the endpoint configuration for the five analysis stages
type StagesConfig struct {
	Transcription       StageConfig `yaml:"transcription"`
	VocalEmotion        StageConfig `yaml:"vocal_emotion"`
	VideoFeature        StageConfig `yaml:"video_feature"`
	ContextualInference StageConfig `yaml:"contextual_inference"`
	CauseExtraction     StageConfig `yaml:"cause_extraction"`
}

// StageConfig holds one analysis stage's endpoint and scheduling settings.
// Timeout and Required override the stage's declared defaults when set.
type StageConfig struct {
	URL        string        `yaml:"url"`
	Required   *bool         `yaml:"required"`
	MaxRetries int           `yaml:"max_retries"`
	Timeout    time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TimeoutRaw string `yaml:"timeout"`
}

// GeneratorConfig holds the generative service configuration shared by
// response generation and memory consolidation
type GeneratorConfig struct {
	URL         string        `yaml:"url"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TimeoutRaw string `yaml:"timeout"`
}

// PipelineConfig holds pipeline-wide scheduling settings.
// DefaultStageTimeout, when set, overrides the stages' declared default
// timeouts; a per-stage timeout still wins over it.
type PipelineConfig struct {
	DefaultStageTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	DefaultStageTimeoutRaw string `yaml:"default_stage_timeout"`
}

// MemoryConfig holds consolidation policy settings
type MemoryConfig struct {
	// ConsolidationThreshold is the number of messages past the last
	// summarized sequence that triggers a new consolidation
	ConsolidationThreshold int `yaml:"consolidation_threshold"`
	// RecentWindow is how many trailing messages are handed to the
	// response generator alongside the summary
	RecentWindow int `yaml:"recent_window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in policy values that have sensible defaults
func (c *Config) applyDefaults() {
	if c.Memory.ConsolidationThreshold <= 0 {
		c.Memory.ConsolidationThreshold = 20
	}
	if c.Memory.RecentWindow <= 0 {
		c.Memory.RecentWindow = 10
	}
	if c.Generator.MaxTokens <= 0 {
		c.Generator.MaxTokens = 256
	}
	if c.Generator.Temperature <= 0 {
		c.Generator.Temperature = 0.7
	}
	if c.Generator.Timeout <= 0 {
		c.Generator.Timeout = 30 * time.Second
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Generator.URL == "" {
		return fmt.Errorf("generator.url is required")
	}

	for name, stage := range map[string]StageConfig{
		"stages.transcription":        c.Stages.Transcription,
		"stages.vocal_emotion":        c.Stages.VocalEmotion,
		"stages.video_feature":        c.Stages.VideoFeature,
		"stages.contextual_inference": c.Stages.ContextualInference,
		"stages.cause_extraction":     c.Stages.CauseExtraction,
	} {
		if stage.URL == "" {
			return fmt.Errorf("%s.url is required", name)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	stages := []struct {
		name  string
		stage *StageConfig
	}{
		{"transcription", &cfg.Stages.Transcription},
		{"vocal_emotion", &cfg.Stages.VocalEmotion},
		{"video_feature", &cfg.Stages.VideoFeature},
		{"contextual_inference", &cfg.Stages.ContextualInference},
		{"cause_extraction", &cfg.Stages.CauseExtraction},
	}

	for _, s := range stages {
		if s.stage.TimeoutRaw == "" {
			continue
		}
		d, err := time.ParseDuration(s.stage.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing stages.%s.timeout %q: %w", s.name, s.stage.TimeoutRaw, err)
		}
		s.stage.Timeout = d
	}

	if cfg.Generator.TimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.Generator.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing generator.timeout %q: %w", cfg.Generator.TimeoutRaw, err)
		}
		cfg.Generator.Timeout = d
	}

	if cfg.Pipeline.DefaultStageTimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.Pipeline.DefaultStageTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing pipeline.default_stage_timeout %q: %w", cfg.Pipeline.DefaultStageTimeoutRaw, err)
		}
		cfg.Pipeline.DefaultStageTimeout = d
	}

	return nil
}
