package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	appconfig "github.com/c360studio/chronos/config"
	"github.com/c360studio/chronos/strategy"
	sconfig "github.com/c360studio/semstreams/config"
	"github.com/c360studio/semstreams/types"
)

// JetStream stream names. Component configs default to the same names.
const (
	streamEvents       = "CHRONOS_EVENTS"
	streamTasks        = "CHRONOS_TASKS"
	streamCoordination = "CHRONOS_COORDINATION"
	streamTelemetry    = "CHRONOS_TELEMETRY"
)

// buildPlatformConfig translates the app config into the semstreams
// platform config: identity, NATS, stream topology and per-component
// settings.
func buildPlatformConfig(cfg *appconfig.Config, natsURL string) (*sconfig.Config, error) {
	components, err := componentConfigs(cfg)
	if err != nil {
		return nil, err
	}

	return &sconfig.Config{
		Version: "1.0.0",
		Platform: sconfig.PlatformConfig{
			Org:         "chronos",
			ID:          "chronos-local",
			Environment: "dev",
		},
		NATS: sconfig.NATSConfig{
			URLs:          []string{natsURL},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			JetStream: sconfig.JetStreamConfig{
				Enabled: true,
			},
		},
		Services:   types.ServiceConfigs{},
		Components: components,
		Streams: sconfig.StreamConfigs{
			streamEvents: sconfig.StreamConfig{
				Subjects: []string{"chronos.events.>"},
				MaxAge:   "24h",
				Storage:  "memory",
				Replicas: 1,
			},
			streamTasks: sconfig.StreamConfig{
				Subjects: []string{"chronos.tasks.>"},
				MaxAge:   "24h",
				Storage:  "memory",
				Replicas: 1,
			},
			streamCoordination: sconfig.StreamConfig{
				Subjects: []string{
					"chronos.solutions.>",
					"chronos.decisions.>",
					"chronos.deployments.>",
					"chronos.verifications.>",
				},
				MaxAge:   "24h",
				Storage:  "memory",
				Replicas: 1,
			},
			streamTelemetry: sconfig.StreamConfig{
				Subjects: []string{"chronos.telemetry.>"},
				MaxAge:   "24h",
				Storage:  "memory",
				Replicas: 1,
			},
		},
	}, nil
}

// componentConfigs derives the per-component JSON configs from the app
// config. Fields left out fall back to the component defaults.
func componentConfigs(cfg *appconfig.Config) (sconfig.ComponentConfigs, error) {
	configs := sconfig.ComponentConfigs{}

	add := func(name string, enabled bool, settings map[string]any) error {
		raw, err := json.Marshal(settings)
		if err != nil {
			return fmt.Errorf("marshal %s config: %w", name, err)
		}
		configs[name] = types.ComponentConfig{
			Name:    name,
			Type:    types.ComponentTypeProcessor,
			Enabled: enabled,
			Config:  raw,
		}
		return nil
	}

	monitorSettings := map[string]any{
		"mode":          cfg.Solver.Mode,
		"min_severity":  cfg.Solver.MinSeverity,
		"merge_timeout": cfg.Solver.MergeTimeout.String(),
	}
	if len(cfg.Solver.Endpoints) > 0 {
		monitorSettings["llm_endpoints"] = cfg.Solver.Endpoints
	}
	if err := add("problem-monitor", true, monitorSettings); err != nil {
		return nil, err
	}

	// The agent team only runs in AGENTIC mode. Mode is validated before
	// this point, so a parse failure cannot happen here.
	mode, _ := strategy.ParseMode(cfg.Solver.Mode)
	if err := add("solver", mode == strategy.ModeAgentic, map[string]any{}); err != nil {
		return nil, err
	}

	if err := add("fix-coordinator", true, map[string]any{}); err != nil {
		return nil, err
	}

	if err := add("review-api", true, map[string]any{}); err != nil {
		return nil, err
	}

	deploySettings := map[string]any{}
	if len(cfg.Deploy.FailActions) > 0 {
		deploySettings["fail_actions"] = cfg.Deploy.FailActions
	}
	if err := add("deployer", true, deploySettings); err != nil {
		return nil, err
	}

	verifySettings := map[string]any{
		"cadence":   cfg.Verify.Cadence.String(),
		"retention": cfg.Verify.Retention.String(),
	}
	if err := add("verifier", true, verifySettings); err != nil {
		return nil, err
	}

	feedSettings := map[string]any{
		"directory":    cfg.Feed.Directory,
		"patterns":     cfg.Feed.Patterns,
		"speed_factor": cfg.Feed.SpeedFactor,
		"loop":         cfg.Feed.Loop,
		"watch":        cfg.Feed.Watch,
	}
	if err := add("scenario-feed", !cfg.Feed.Disabled, feedSettings); err != nil {
		return nil, err
	}

	return configs, nil
}

// ensureServiceManagerConfig ensures service-manager config exists with defaults
func ensureServiceManagerConfig(cfg *sconfig.Config, httpPort int) {
	if cfg.Services == nil {
		cfg.Services = make(types.ServiceConfigs)
	}

	if _, exists := cfg.Services["service-manager"]; !exists {
		defaultConfig := map[string]any{
			"http_port":  httpPort,
			"swagger_ui": false,
			"server_info": map[string]string{
				"title":       "Chronos API",
				"description": "incident coordination - problem intake, fix governance and verification",
				"version":     Version,
			},
		}
		defaultConfigJSON, _ := json.Marshal(defaultConfig)
		cfg.Services["service-manager"] = types.ServiceConfig{
			Name:    "service-manager",
			Enabled: true,
			Config:  defaultConfigJSON,
		}
		slog.Debug("Service-manager config added", "http_port", httpPort)
	}
}
