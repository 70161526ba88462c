// Package scenariofeed provides the processor that replays scripted
// scenarios onto the bus: problem detection events to exercise the solving
// pipeline and telemetry ramps to drive verification, each published at its
// scripted offset scaled by a speed factor. It stands in for the real
// detection and collection collaborators during development and demos.
package scenariofeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"

	"github.com/c360studio/chronos/problem"
	"github.com/c360studio/chronos/telemetry"
)

// emptyDirPause is how long a looping feed waits before re-reading an
// empty scenario directory.
const emptyDirPause = 5 * time.Second

// Component implements the scenario-feed processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	watcher *scenarioWatcher

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	scenariosPlayed atomic.Int64
	eventsPublished atomic.Int64
	failures        atomic.Int64

	lastActivityMu sync.RWMutex
	lastActivity   time.Time
}

// NewComponent creates a new scenario-feed processor.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	defaults := DefaultConfig()
	if config.Directory == "" {
		config.Directory = defaults.Directory
	}
	if len(config.Patterns) == 0 {
		config.Patterns = defaults.Patterns
	}
	if config.SpeedFactor == 0 {
		config.SpeedFactor = defaults.SpeedFactor
	}
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Component{
		name:       "scenario-feed",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized scenario-feed")
	return nil
}

// Start begins replaying scenarios.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	if c.natsClient == nil {
		c.mu.Unlock()
		return fmt.Errorf("NATS client required")
	}

	c.running = true
	c.startTime = time.Now()

	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	if _, err := c.natsClient.JetStream(); err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get jetstream: %w", err)
	}

	if err := os.MkdirAll(c.config.Directory, 0755); err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create scenario directory: %w", err)
	}

	// Loop passes re-read the directory every pass, which already picks up
	// new and edited files; the watcher only serves the one-shot mode.
	if c.config.Watch && !c.config.Loop {
		watcher, err := newScenarioWatcher(c.config.Directory, c.config.Patterns, c.logger)
		if err != nil {
			c.rollbackStart(cancel)
			return fmt.Errorf("create watcher: %w", err)
		}
		if err := watcher.Start(subCtx); err != nil {
			c.rollbackStart(cancel)
			return fmt.Errorf("start watcher: %w", err)
		}
		c.watcher = watcher
	} else if c.config.Watch {
		c.logger.Info("Watch disabled while looping; each pass re-reads the directory")
	}

	go c.runFeed(subCtx, c.watcher)

	c.logger.Info("scenario-feed started",
		"directory", c.config.Directory,
		"patterns", c.config.Patterns,
		"speed_factor", c.config.GetSpeedFactor(),
		"loop", c.config.Loop,
		"watch", c.watcher != nil)

	return nil
}

func (c *Component) rollbackStart(cancel context.CancelFunc) {
	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.mu.Unlock()
	cancel()
}

// runFeed replays every matching scenario in order, loops if configured,
// then serves watcher re-queues until shutdown.
func (c *Component) runFeed(ctx context.Context, watcher *scenarioWatcher) {
	for {
		paths, err := findScenarios(c.config.Directory, c.config.Patterns)
		if err != nil {
			c.logger.Error("Failed to list scenario files", "error", err)
			c.failures.Add(1)
		}

		if len(paths) == 0 {
			c.logger.Warn("No scenario files matched",
				"directory", c.config.Directory,
				"patterns", c.config.Patterns)
			if !c.config.Loop {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(emptyDirPause):
			}
			continue
		}

		for _, path := range paths {
			if ctx.Err() != nil {
				return
			}
			c.replayFile(ctx, path)
		}

		if !c.config.Loop {
			break
		}
	}

	if watcher == nil {
		c.logger.Info("Scenario replay complete",
			"scenarios", c.scenariosPlayed.Load(),
			"events", c.eventsPublished.Load())
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case path, ok := <-watcher.Requeue():
			if !ok {
				return
			}
			c.replayFile(ctx, path)
		}
	}
}

// replayFile loads and replays one scenario file. Load failures are logged
// and skipped so one broken file cannot stall the feed.
func (c *Component) replayFile(ctx context.Context, path string) {
	sc, err := LoadScenario(path)
	if err != nil {
		c.logger.Error("Failed to load scenario", "path", path, "error", err)
		c.failures.Add(1)
		return
	}

	c.logger.Info("Replaying scenario",
		"name", sc.Name,
		"path", path,
		"problems", len(sc.Problems),
		"telemetry", len(sc.Telemetry))

	if err := c.replay(ctx, sc); err != nil {
		c.logger.Warn("Scenario replay interrupted", "name", sc.Name, "error", err)
		return
	}

	c.scenariosPlayed.Add(1)
	scenarios.Inc()
	c.logger.Info("Scenario replay finished", "name", sc.Name)
}

// replay publishes a scenario's events in offset order, waiting out each
// scripted gap scaled by the speed factor.
func (c *Component) replay(ctx context.Context, sc *Scenario) error {
	speed := c.config.GetSpeedFactor()
	start := time.Now()

	for _, ev := range sc.events() {
		due := time.Duration(float64(ev.offset) / speed)
		if wait := due - time.Since(start); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		c.stamp(ev.payload)
		if err := c.publish(ctx, ev.subject, ev.payload); err != nil {
			c.logger.Warn("Failed to publish scenario event",
				"scenario", sc.Name,
				"subject", ev.subject,
				"error", err)
			c.failures.Add(1)
			continue
		}

		c.eventsPublished.Add(1)
		c.updateLastActivity()
		switch ev.payload.(type) {
		case *problem.Problem:
			replayed.WithLabelValues("problem").Inc()
		case *telemetry.Sample:
			replayed.WithLabelValues("telemetry").Inc()
		}
	}

	return nil
}

// stamp fills in detection and recording times the script left open.
func (c *Component) stamp(payload message.Payload) {
	now := time.Now().UTC()
	switch p := payload.(type) {
	case *problem.Problem:
		if p.DetectedAt.IsZero() {
			p.DetectedAt = now
		}
	case *telemetry.Sample:
		if p.RecordedAt.IsZero() {
			p.RecordedAt = now
		}
	}
}

// publish emits one scenario event on its subject.
func (c *Component) publish(ctx context.Context, subject string, payload message.Payload) error {
	js, err := c.natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("get jetstream: %w", err)
	}

	baseMsg := message.NewBaseMessage(payload.Schema(), payload, c.name)
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Stop gracefully stops the component.
func (c *Component) Stop(_ time.Duration) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}

	cancel := c.cancel
	watcher := c.watcher
	c.running = false
	c.cancel = nil
	c.watcher = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			c.logger.Warn("Failed to stop watcher", "error", err)
		}
	}

	c.logger.Info("scenario-feed stopped",
		"scenarios_played", c.scenariosPlayed.Load(),
		"events_published", c.eventsPublished.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "scenario-feed",
		Type:        "processor",
		Description: "Replays scenario files as problem events and telemetry samples",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Inputs))
	for i, portDef := range c.config.Ports.Inputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionInput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Outputs))
	for i, portDef := range c.config.Ports.Outputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionOutput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return configSchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	running := c.running
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	if running {
		status = "running"
	}

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(c.failures.Load()),
		Uptime:     time.Since(startTime),
		Status:     status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{
		LastActivity: c.getLastActivity(),
	}
}

func (c *Component) updateLastActivity() {
	c.lastActivityMu.Lock()
	c.lastActivity = time.Now()
	c.lastActivityMu.Unlock()
}

func (c *Component) getLastActivity() time.Time {
	c.lastActivityMu.RLock()
	defer c.lastActivityMu.RUnlock()
	return c.lastActivity
}
