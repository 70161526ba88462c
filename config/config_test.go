package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c360studio/chronos/llm"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Solver.Mode != "RULES" {
		t.Errorf("expected default mode RULES, got %s", cfg.Solver.Mode)
	}
	if cfg.Solver.MinSeverity != "critical" {
		t.Errorf("expected default min severity critical, got %s", cfg.Solver.MinSeverity)
	}
	if cfg.Solver.MergeTimeout != 30*time.Second {
		t.Errorf("expected default merge timeout 30s, got %v", cfg.Solver.MergeTimeout)
	}
	if cfg.Verify.Cadence != 2*time.Second {
		t.Errorf("expected default cadence 2s, got %v", cfg.Verify.Cadence)
	}
	if cfg.Verify.Retention != 10*time.Minute {
		t.Errorf("expected default retention 10m, got %v", cfg.Verify.Retention)
	}
	if cfg.Feed.Directory != "./scenarios" {
		t.Errorf("expected default feed directory ./scenarios, got %s", cfg.Feed.Directory)
	}
	if cfg.Feed.SpeedFactor != 1 {
		t.Errorf("expected default speed factor 1, got %f", cfg.Feed.SpeedFactor)
	}
	if !cfg.NATS.Embedded {
		t.Error("expected embedded NATS by default")
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("expected default HTTP port 8080, got %d", cfg.HTTP.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "unknown solver mode",
			modify:  func(c *Config) { c.Solver.Mode = "ORACLE" },
			wantErr: true,
		},
		{
			name:    "lowercase mode is accepted",
			modify:  func(c *Config) { c.Solver.Mode = "agentic" },
			wantErr: false,
		},
		{
			name:    "unknown min severity",
			modify:  func(c *Config) { c.Solver.MinSeverity = "catastrophic" },
			wantErr: true,
		},
		{
			name:    "LLM mode without endpoints",
			modify:  func(c *Config) { c.Solver.Mode = "LLM" },
			wantErr: true,
		},
		{
			name: "LLM mode with endpoint",
			modify: func(c *Config) {
				c.Solver.Mode = "LLM"
				c.Solver.Endpoints = []llm.Endpoint{{Name: "primary", URL: "http://localhost:8089/v1", Model: "test-model"}}
			},
			wantErr: false,
		},
		{
			name: "endpoint missing model",
			modify: func(c *Config) {
				c.Solver.Endpoints = []llm.Endpoint{{Name: "primary", URL: "http://localhost:8089/v1"}}
			},
			wantErr: true,
		},
		{
			name: "endpoint missing url",
			modify: func(c *Config) {
				c.Solver.Endpoints = []llm.Endpoint{{Name: "primary", Model: "test-model"}}
			},
			wantErr: true,
		},
		{
			name:    "zero merge timeout",
			modify:  func(c *Config) { c.Solver.MergeTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero cadence",
			modify:  func(c *Config) { c.Verify.Cadence = 0 },
			wantErr: true,
		},
		{
			name:    "negative speed factor",
			modify:  func(c *Config) { c.Feed.SpeedFactor = -2 },
			wantErr: true,
		},
		{
			name:    "port out of range",
			modify:  func(c *Config) { c.HTTP.Port = 70000 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	// Create temp file with config
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
solver:
  mode: LLM
  min_severity: warning
  merge_timeout: 45s
  endpoints:
    - name: primary
      url: "http://test:8089/v1"
      model: "test-model"
verify:
  cadence: 5s
deploy:
  fail_actions:
    - reroute
feed:
  directory: "/test/scenarios"
  patterns:
    - "*.json"
    - "demo/*.json"
  speed_factor: 4
  loop: true
nats:
  url: "nats://test:4222"
http:
  port: 9090
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Solver.Mode != "LLM" {
		t.Errorf("expected mode LLM, got %s", cfg.Solver.Mode)
	}
	if cfg.Solver.MinSeverity != "warning" {
		t.Errorf("expected min severity warning, got %s", cfg.Solver.MinSeverity)
	}
	if cfg.Solver.MergeTimeout != 45*time.Second {
		t.Errorf("expected merge timeout 45s, got %v", cfg.Solver.MergeTimeout)
	}
	if len(cfg.Solver.Endpoints) != 1 || cfg.Solver.Endpoints[0].Model != "test-model" {
		t.Errorf("expected one endpoint with model test-model, got %+v", cfg.Solver.Endpoints)
	}
	if cfg.Verify.Cadence != 5*time.Second {
		t.Errorf("expected cadence 5s, got %v", cfg.Verify.Cadence)
	}
	// Retention is absent from the file, so the default survives
	if cfg.Verify.Retention != 10*time.Minute {
		t.Errorf("expected default retention 10m, got %v", cfg.Verify.Retention)
	}
	if len(cfg.Deploy.FailActions) != 1 || cfg.Deploy.FailActions[0] != "reroute" {
		t.Errorf("expected fail actions [reroute], got %v", cfg.Deploy.FailActions)
	}
	if cfg.Feed.Directory != "/test/scenarios" {
		t.Errorf("expected feed directory /test/scenarios, got %s", cfg.Feed.Directory)
	}
	if len(cfg.Feed.Patterns) != 2 {
		t.Errorf("expected 2 feed patterns, got %d", len(cfg.Feed.Patterns))
	}
	if cfg.Feed.SpeedFactor != 4 {
		t.Errorf("expected speed factor 4, got %f", cfg.Feed.SpeedFactor)
	}
	if !cfg.Feed.Loop {
		t.Error("expected feed loop enabled")
	}
	if cfg.NATS.URL != "nats://test:4222" {
		t.Errorf("expected NATS URL nats://test:4222, got %s", cfg.NATS.URL)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("expected HTTP port 9090, got %d", cfg.HTTP.Port)
	}
}

func TestLoadFromFileExpandsEnv(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
solver:
  mode: LLM
  endpoints:
    - name: primary
      url: "http://${CHRONOS_TEST_HOST:-localhost:8089}/v1"
      model: "test-model"
      api_key: ${CHRONOS_TEST_KEY}
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	t.Setenv("CHRONOS_TEST_KEY", "sk-test-123")
	os.Unsetenv("CHRONOS_TEST_HOST")

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if len(cfg.Solver.Endpoints) != 1 {
		t.Fatalf("expected one endpoint, got %d", len(cfg.Solver.Endpoints))
	}
	if cfg.Solver.Endpoints[0].APIKey != "sk-test-123" {
		t.Errorf("expected API key from environment, got %q", cfg.Solver.Endpoints[0].APIKey)
	}
	// Unset host falls back to the ${VAR:-default} default
	if cfg.Solver.Endpoints[0].URL != "http://localhost:8089/v1" {
		t.Errorf("expected default host in URL, got %q", cfg.Solver.Endpoints[0].URL)
	}
}

func TestConfigMerge(t *testing.T) {
	base := DefaultConfig()
	override := &Config{
		Solver: SolverConfig{
			Mode: "AGENTIC",
		},
		Feed: FeedConfig{
			Loop: true,
		},
		NATS: NATSConfig{
			URL: "nats://override:4222",
		},
	}

	base.Merge(override)

	if base.Solver.Mode != "AGENTIC" {
		t.Errorf("expected mode AGENTIC, got %s", base.Solver.Mode)
	}
	// Min severity should remain from base since override didn't set it
	if base.Solver.MinSeverity != "critical" {
		t.Errorf("expected min severity to remain default, got %s", base.Solver.MinSeverity)
	}
	if base.Verify.Cadence != 2*time.Second {
		t.Errorf("expected cadence to remain default, got %v", base.Verify.Cadence)
	}
	if !base.Feed.Loop {
		t.Error("expected feed loop enabled after merge")
	}
	if base.NATS.URL != "nats://override:4222" {
		t.Errorf("expected NATS URL nats://override:4222, got %s", base.NATS.URL)
	}
	// Setting a URL turns the embedded server off
	if base.NATS.Embedded {
		t.Error("expected embedded NATS disabled when URL is set")
	}
}

func TestConfigSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := DefaultConfig()
	cfg.Solver.Mode = "AGENTIC"

	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	// Verify file was created
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}

	// Load and verify
	loaded, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.Solver.Mode != "AGENTIC" {
		t.Errorf("expected mode AGENTIC, got %s", loaded.Solver.Mode)
	}
}
