package main

import (
	"encoding/json"
	"testing"

	appconfig "github.com/c360studio/chronos/config"
	"github.com/c360studio/chronos/llm"
	sconfig "github.com/c360studio/semstreams/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeSettings(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var settings map[string]any
	require.NoError(t, json.Unmarshal(raw, &settings))
	return settings
}

func TestComponentConfigsDefaults(t *testing.T) {
	cfg := appconfig.DefaultConfig()

	configs, err := componentConfigs(cfg)
	require.NoError(t, err)

	names := []string{
		"problem-monitor", "solver", "fix-coordinator",
		"review-api", "deployer", "verifier", "scenario-feed",
	}
	require.Len(t, configs, len(names))
	for _, name := range names {
		cc, ok := configs[name]
		require.True(t, ok, "missing component config: %s", name)
		assert.Equal(t, name, cc.Name)
	}

	monitor := decodeSettings(t, configs["problem-monitor"].Config)
	assert.Equal(t, "RULES", monitor["mode"])
	assert.Equal(t, "critical", monitor["min_severity"])
	assert.Equal(t, "30s", monitor["merge_timeout"])
	assert.NotContains(t, monitor, "llm_endpoints")

	verify := decodeSettings(t, configs["verifier"].Config)
	assert.Equal(t, "2s", verify["cadence"])
	assert.Equal(t, "10m0s", verify["retention"])

	feed := decodeSettings(t, configs["scenario-feed"].Config)
	assert.Equal(t, "./scenarios", feed["directory"])

	// The agent team stays off outside AGENTIC mode, the feed is on by default
	assert.False(t, configs["solver"].Enabled)
	assert.True(t, configs["scenario-feed"].Enabled)
	assert.True(t, configs["problem-monitor"].Enabled)
}

func TestComponentConfigsAgenticEnablesSolver(t *testing.T) {
	cfg := appconfig.DefaultConfig()
	cfg.Solver.Mode = "AGENTIC"

	configs, err := componentConfigs(cfg)
	require.NoError(t, err)

	assert.True(t, configs["solver"].Enabled)
}

func TestComponentConfigsFeedDisabled(t *testing.T) {
	cfg := appconfig.DefaultConfig()
	cfg.Feed.Disabled = true

	configs, err := componentConfigs(cfg)
	require.NoError(t, err)

	assert.False(t, configs["scenario-feed"].Enabled)
}

func TestComponentConfigsCarriesEndpoints(t *testing.T) {
	cfg := appconfig.DefaultConfig()
	cfg.Solver.Mode = "LLM"
	cfg.Solver.Endpoints = []llm.Endpoint{
		{Name: "primary", URL: "http://localhost:8089/v1", Model: "test-model"},
		{Name: "fallback", URL: "http://localhost:8090/v1", Model: "backup-model"},
	}

	configs, err := componentConfigs(cfg)
	require.NoError(t, err)

	monitor := decodeSettings(t, configs["problem-monitor"].Config)
	assert.Equal(t, "LLM", monitor["mode"])
	endpoints, ok := monitor["llm_endpoints"].([]any)
	require.True(t, ok, "llm_endpoints should be a list")
	assert.Len(t, endpoints, 2)
}

func TestBuildPlatformConfig(t *testing.T) {
	cfg := appconfig.DefaultConfig()

	platformCfg, err := buildPlatformConfig(cfg, "nats://resolved:4222")
	require.NoError(t, err)

	assert.Equal(t, "chronos", platformCfg.Platform.Org)
	assert.Equal(t, []string{"nats://resolved:4222"}, platformCfg.NATS.URLs)
	assert.True(t, platformCfg.NATS.JetStream.Enabled)

	for _, stream := range []string{streamEvents, streamTasks, streamCoordination, streamTelemetry} {
		sc, ok := platformCfg.Streams[stream]
		require.True(t, ok, "missing stream: %s", stream)
		assert.NotEmpty(t, sc.Subjects)
		assert.Equal(t, "memory", sc.Storage)
	}
	assert.Contains(t, platformCfg.Streams[streamCoordination].Subjects, "chronos.verifications.>")
}

func TestEnsureServiceManagerConfig(t *testing.T) {
	cfg := &sconfig.Config{}

	ensureServiceManagerConfig(cfg, 9090)

	svc, ok := cfg.Services["service-manager"]
	require.True(t, ok)
	assert.True(t, svc.Enabled)

	settings := decodeSettings(t, svc.Config)
	assert.Equal(t, float64(9090), settings["http_port"])

	// A second call leaves the existing entry alone
	ensureServiceManagerConfig(cfg, 1234)
	settings = decodeSettings(t, cfg.Services["service-manager"].Config)
	assert.Equal(t, float64(9090), settings["http_port"])
}
