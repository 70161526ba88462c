// Package config provides configuration loading and management for Chronos.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	sconfig "github.com/c360studio/semstreams/config"
	"gopkg.in/yaml.v3"

	"github.com/c360studio/chronos/llm"
	"github.com/c360studio/chronos/problem"
	"github.com/c360studio/chronos/strategy"
)

// Config represents the complete Chronos configuration
type Config struct {
	Solver SolverConfig `yaml:"solver"`
	Verify VerifyConfig `yaml:"verify"`
	Deploy DeployConfig `yaml:"deploy"`
	Feed   FeedConfig   `yaml:"feed"`
	NATS   NATSConfig   `yaml:"nats"`
	HTTP   HTTPConfig   `yaml:"http"`
}

// SolverConfig configures solution generation
type SolverConfig struct {
	// Mode selects the generation strategy (RULES, LLM, or AGENTIC)
	Mode string `yaml:"mode"`
	// MinSeverity is the lowest problem severity that triggers solving
	MinSeverity string `yaml:"min_severity"`
	// MergeTimeout bounds how long the agentic merger waits for partial solutions
	MergeTimeout time.Duration `yaml:"merge_timeout"`
	// Endpoints is the ordered LLM endpoint fallback list for LLM mode
	Endpoints []llm.Endpoint `yaml:"endpoints"`
}

// VerifyConfig configures telemetry verification
type VerifyConfig struct {
	// Cadence is how often each verification metric is sampled
	Cadence time.Duration `yaml:"cadence"`
	// Retention bounds how much telemetry history is kept per metric
	Retention time.Duration `yaml:"retention"`
}

// DeployConfig configures the deployment sandbox
type DeployConfig struct {
	// FailActions lists action types the sandbox rejects on purpose
	FailActions []string `yaml:"fail_actions"`
}

// FeedConfig configures the scenario replay feed
type FeedConfig struct {
	// Disabled turns the scenario feed off (on by default)
	Disabled bool `yaml:"disabled"`
	// Directory holds the scenario files to replay
	Directory string `yaml:"directory"`
	// Patterns selects scenario files under the directory
	Patterns []string `yaml:"patterns"`
	// SpeedFactor scales replay offsets; 2 replays twice as fast
	SpeedFactor float64 `yaml:"speed_factor"`
	// Loop replays the scenario set repeatedly
	Loop bool `yaml:"loop"`
	// Watch re-queues a scenario when its file is created or modified
	Watch bool `yaml:"watch"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server)
	URL string `yaml:"url"`
	// Embedded indicates whether to use embedded NATS
	Embedded bool `yaml:"embedded"`
}

// HTTPConfig configures the HTTP surface shared by the API components
type HTTPConfig struct {
	// Port is the service HTTP port (health, review API)
	Port int `yaml:"port"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Solver: SolverConfig{
			Mode:         string(strategy.ModeRules),
			MinSeverity:  string(problem.SeverityCritical),
			MergeTimeout: 30 * time.Second,
			Endpoints:    nil,
		},
		Verify: VerifyConfig{
			Cadence:   2 * time.Second,
			Retention: 10 * time.Minute,
		},
		Deploy: DeployConfig{
			FailActions: nil,
		},
		Feed: FeedConfig{
			Directory:   "./scenarios",
			Patterns:    []string{"*.json"},
			SpeedFactor: 1,
		},
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
		},
		HTTP: HTTPConfig{
			Port: 8080,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	mode, err := strategy.ParseMode(c.Solver.Mode)
	if err != nil {
		return fmt.Errorf("solver.mode: %w", err)
	}
	switch problem.Severity(c.Solver.MinSeverity) {
	case problem.SeverityInfo, problem.SeverityWarning, problem.SeverityCritical:
	default:
		return fmt.Errorf("solver.min_severity must be info, warning or critical")
	}
	if mode == strategy.ModeLLM && len(c.Solver.Endpoints) == 0 {
		return fmt.Errorf("solver.endpoints is required in LLM mode")
	}
	for i, ep := range c.Solver.Endpoints {
		if ep.URL == "" {
			return fmt.Errorf("solver.endpoints[%d]: url is required", i)
		}
		if ep.Model == "" {
			return fmt.Errorf("solver.endpoints[%d]: model is required", i)
		}
	}
	if c.Solver.MergeTimeout <= 0 {
		return fmt.Errorf("solver.merge_timeout must be positive")
	}
	if c.Verify.Cadence <= 0 {
		return fmt.Errorf("verify.cadence must be positive")
	}
	if c.Feed.SpeedFactor <= 0 {
		return fmt.Errorf("feed.speed_factor must be positive")
	}
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file. Environment variable
// references in the file are expanded before parsing, so endpoint API keys
// can be written as ${CHRONOS_LLM_KEY} instead of inline secrets.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := sconfig.ExpandEnvWithDefaults(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Solver
	if other.Solver.Mode != "" {
		c.Solver.Mode = other.Solver.Mode
	}
	if other.Solver.MinSeverity != "" {
		c.Solver.MinSeverity = other.Solver.MinSeverity
	}
	if other.Solver.MergeTimeout != 0 {
		c.Solver.MergeTimeout = other.Solver.MergeTimeout
	}
	if len(other.Solver.Endpoints) > 0 {
		c.Solver.Endpoints = other.Solver.Endpoints
	}

	// Verify
	if other.Verify.Cadence != 0 {
		c.Verify.Cadence = other.Verify.Cadence
	}
	if other.Verify.Retention != 0 {
		c.Verify.Retention = other.Verify.Retention
	}

	// Deploy
	if len(other.Deploy.FailActions) > 0 {
		c.Deploy.FailActions = other.Deploy.FailActions
	}

	// Feed
	if other.Feed.Disabled {
		c.Feed.Disabled = true
	}
	if other.Feed.Directory != "" {
		c.Feed.Directory = other.Feed.Directory
	}
	if len(other.Feed.Patterns) > 0 {
		c.Feed.Patterns = other.Feed.Patterns
	}
	if other.Feed.SpeedFactor != 0 {
		c.Feed.SpeedFactor = other.Feed.SpeedFactor
	}
	if other.Feed.Loop {
		c.Feed.Loop = true
	}
	if other.Feed.Watch {
		c.Feed.Watch = true
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}

	// HTTP
	if other.HTTP.Port != 0 {
		c.HTTP.Port = other.HTTP.Port
	}
}
