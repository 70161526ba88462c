// Package reviewapi provides the HTTP surface of the review gate. It
// serves fix and verification records for the review UI and turns
// approve/hold/dismiss/rollback requests into decision events for the
// coordinator. The API validates decisions against the current record but
// never writes fix state itself.
package reviewapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/chronos/event"
	"github.com/c360studio/chronos/fix"
	"github.com/c360studio/chronos/store"
)

// fixReader provides read access to fix and verification records.
type fixReader interface {
	GetFix(ctx context.Context, fixID string) (*fix.Fix, uint64, error)
	ListFixes(ctx context.Context) ([]*fix.Fix, error)
	GetVerification(ctx context.Context, fixID string) (*fix.VerificationRecord, error)
}

// decisionPublisher hands validated decisions to the coordinator.
type decisionPublisher interface {
	PublishDecision(ctx context.Context, d *event.Decision) error
}

// Component implements the review-api processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	records   fixReader
	decisions decisionPublisher

	// Lifecycle state machine
	// States: 0=stopped, 1=starting, 2=running, 3=stopping
	state     atomic.Int32
	startTime time.Time
	mu        sync.RWMutex
}

const (
	stateStopped  = 0
	stateStarting = 1
	stateRunning  = 2
	stateStopping = 3
)

// NewComponent creates a new review-api component.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	defaults := DefaultConfig()
	if config.DecisionSubject == "" {
		config.DecisionSubject = defaults.DecisionSubject
	}
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Component{
		name:       "review-api",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized review-api",
		"decision_subject", c.config.DecisionSubject)
	return nil
}

// Start wires the record store and decision publisher.
func (c *Component) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(stateStopped, stateStarting) {
		currentState := c.state.Load()
		if currentState == stateRunning || currentState == stateStarting {
			return fmt.Errorf("component already running or starting")
		}
		return fmt.Errorf("component in invalid state: %d", currentState)
	}

	defer func() {
		if c.state.Load() == stateStarting {
			c.state.Store(stateStopped)
		}
	}()

	if c.natsClient == nil {
		return fmt.Errorf("NATS client required")
	}

	js, err := c.natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("get jetstream: %w", err)
	}

	kvStore, err := store.NewStore(ctx, js)
	if err != nil {
		return fmt.Errorf("open kv store: %w", err)
	}

	c.mu.Lock()
	c.records = kvStore
	c.decisions = &busPublisher{js: js, source: c.name, subject: c.config.DecisionSubject}
	c.startTime = time.Now()
	c.mu.Unlock()

	c.state.Store(stateRunning)

	c.logger.Info("review-api started",
		"decision_subject", c.config.DecisionSubject)

	return nil
}

// Stop gracefully stops the component. The API holds no background
// goroutines; the platform HTTP server owns the listener.
func (c *Component) Stop(_ time.Duration) error {
	if !c.state.CompareAndSwap(stateRunning, stateStopping) {
		currentState := c.state.Load()
		if currentState == stateStopped || currentState == stateStopping {
			return nil
		}
		return fmt.Errorf("component in unexpected state: %d", currentState)
	}

	c.state.Store(stateStopped)

	c.logger.Info("review-api stopped")

	return nil
}

// backends returns the store and publisher wired at start, or nil before.
func (c *Component) backends() (fixReader, decisionPublisher) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.records, c.decisions
}

// busPublisher publishes decision events over JetStream.
type busPublisher struct {
	js      jetstream.JetStream
	source  string
	subject string
}

func (p *busPublisher) PublishDecision(ctx context.Context, d *event.Decision) error {
	baseMsg := message.NewBaseMessage(d.Schema(), d, p.source)
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}

	if _, err := p.js.Publish(ctx, p.subject, data); err != nil {
		return fmt.Errorf("publish decision: %w", err)
	}
	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "review-api",
		Type:        "processor",
		Description: "HTTP review surface for pending fixes and decisions",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	return []component.Port{}
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
	state := c.state.Load()
	running := state == stateRunning

	c.mu.RLock()
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	switch state {
	case stateStarting:
		status = "starting"
	case stateRunning:
		status = "running"
	case stateStopping:
		status = "stopping"
	}

	return component.HealthStatus{
		Healthy:   running,
		LastCheck: time.Now(),
		Uptime:    time.Since(startTime),
		Status:    status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{}
}
