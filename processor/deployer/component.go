// Package deployer provides the processor that executes fixes against the
// simulated actuation sandbox. Each action becomes a simulated effect event
// on its backend subject; phase reports go back to the coordinator, which
// owns the resulting lifecycle transitions. Deploys are all or nothing: one
// failed action fails the whole fix, and rollback re-applies every action's
// inverse.
package deployer

import (
	"context"
	"encoding/json"
	"errors"
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

// Component implements the deployer processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	store   *store.Store
	sandbox *sandbox

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	deploysStarted atomic.Int64
	actionsApplied atomic.Int64
	failures       atomic.Int64

	lastActivityMu sync.RWMutex
	lastActivity   time.Time
}

// NewComponent creates a new deployer processor.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	defaults := DefaultConfig()
	if config.EventsStream == "" {
		config.EventsStream = defaults.EventsStream
	}
	if config.ReportSubject == "" {
		config.ReportSubject = defaults.ReportSubject
	}
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Component{
		name:       "deployer",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
		sandbox:    newSandbox(config.FailActions),
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized deployer")
	return nil
}

// Start begins consuming deploy and rollback requests.
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

	js, err := c.natsClient.JetStream()
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get jetstream: %w", err)
	}

	kvStore, err := store.NewStore(subCtx, js)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("open kv store: %w", err)
	}
	c.store = kvStore

	stream, err := js.Stream(subCtx, c.config.EventsStream)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get stream %s: %w", c.config.EventsStream, err)
	}

	consumers := []struct {
		durable string
		subject string
		handler func(context.Context, jetstream.Msg)
	}{
		{"deployer-requests", event.SubjectFixDeployRequested, c.handleDeployRequest},
		{"deployer-rollbacks", event.SubjectFixRollbackRequested, c.handleRollbackRequest},
	}

	for _, spec := range consumers {
		consumer, err := stream.CreateOrUpdateConsumer(subCtx, jetstream.ConsumerConfig{
			Durable:       spec.durable,
			FilterSubject: spec.subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       300 * time.Second,
			MaxDeliver:    3,
		})
		if err != nil {
			c.rollbackStart(cancel)
			return fmt.Errorf("create consumer %s: %w", spec.durable, err)
		}
		go c.consumeLoop(subCtx, consumer, spec.durable, spec.handler)
	}

	c.logger.Info("deployer started",
		"stream", c.config.EventsStream,
		"fail_actions", len(c.config.FailActions))

	return nil
}

func (c *Component) rollbackStart(cancel context.CancelFunc) {
	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.mu.Unlock()
	cancel()
}

// consumeLoop continuously consumes messages from a JetStream consumer.
func (c *Component) consumeLoop(ctx context.Context, consumer jetstream.Consumer, name string, handler func(context.Context, jetstream.Msg)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("Fetch timeout or error", "consumer", name, "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			handler(ctx, msg)
		}

		if msgs.Error() != nil && msgs.Error() != context.DeadlineExceeded {
			c.logger.Warn("Message fetch error", "consumer", name, "error", msgs.Error())
		}
	}
}

// deployHandled reports whether the stored record shows this deploy request
// was already picked up. Redeliveries of deploy_requested land here once the
// started report has moved the record on.
func deployHandled(s fix.Status) bool {
	switch s {
	case fix.StatusProposed, fix.StatusReviewRequired, fix.StatusApproved, fix.StatusDeployRequested:
		return false
	}
	return true
}

// handleDeployRequest executes one fix against the sandbox. The started
// report goes out before any action so the coordinator's record always
// shows a deploy that began, then every action runs in order and the
// aggregate outcome is reported.
func (c *Component) handleDeployRequest(ctx context.Context, msg jetstream.Msg) {
	if ctx.Err() != nil {
		if err := msg.Nak(); err != nil {
			c.logger.Warn("Failed to NAK deploy request during shutdown", "error", err)
		}
		return
	}

	c.updateLastActivity()

	f, err := event.ParseMessage[fix.Fix](msg.Data())
	if err != nil {
		c.logger.Error("Failed to parse deploy request", "error", err)
		c.failures.Add(1)
		if err := msg.Term(); err != nil {
			c.logger.Warn("Failed to Term message", "error", err)
		}
		return
	}

	stored, _, err := c.store.GetFix(ctx, f.FixID)
	if errors.Is(err, store.ErrNotFound) {
		c.logger.Warn("Deploy request for unknown fix dropped", "fix_id", f.FixID)
		if err := msg.Ack(); err != nil {
			c.logger.Warn("Failed to ACK message", "error", err)
		}
		return
	}
	if err != nil {
		c.logger.Error("Failed to load fix", "fix_id", f.FixID, "error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			c.logger.Warn("Failed to NAK message", "error", nakErr)
		}
		return
	}

	if deployHandled(stored.Status) {
		c.logger.Debug("Deploy request already handled",
			"fix_id", f.FixID, "status", stored.Status)
		if err := msg.Ack(); err != nil {
			c.logger.Warn("Failed to ACK message", "error", err)
		}
		return
	}

	started := &event.DeployReport{
		FixID:      f.FixID,
		Phase:      event.DeployPhaseStarted,
		ReportedAt: time.Now().UTC(),
	}
	if err := c.publishReport(ctx, started); err != nil {
		// Nothing has been actuated yet; redelivery retries the whole deploy.
		c.logger.Error("Failed to report deploy start", "fix_id", f.FixID, "error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			c.logger.Warn("Failed to NAK message", "error", nakErr)
		}
		return
	}
	c.deploysStarted.Add(1)

	failed := c.applyActions(ctx, f)

	report := &event.DeployReport{FixID: f.FixID, ReportedAt: time.Now().UTC()}
	if len(failed) > 0 {
		report.Phase = event.DeployPhaseFailed
		report.FailedActions = failed
		deploys.WithLabelValues("failed").Inc()
		c.logger.Warn("Deploy failed",
			"fix_id", f.FixID,
			"failed_actions", len(failed),
			"total_actions", len(f.Actions))
	} else {
		report.Phase = event.DeployPhaseSucceeded
		deploys.WithLabelValues("succeeded").Inc()
		c.logger.Info("Deploy succeeded", "fix_id", f.FixID, "actions", len(f.Actions))
	}

	if err := c.publishReport(ctx, report); err != nil {
		// The started report has already moved the record to deploy_started,
		// so a redelivery of this request would be skipped by the status
		// gate. The outcome report loss is accepted rather than retried.
		c.logger.Warn("Failed to report deploy outcome", "fix_id", f.FixID, "error", err)
	}

	if err := msg.Ack(); err != nil {
		c.logger.Warn("Failed to ACK deploy request", "error", err)
	}
}

// applyActions runs every action in order, publishing an effect per success
// and collecting a failure per broken action. All actions run even after a
// failure so the report names every broken step.
func (c *Component) applyActions(ctx context.Context, f *fix.Fix) []event.FailedAction {
	var failed []event.FailedAction
	now := time.Now().UTC()

	for idx, a := range f.Actions {
		subject, effect, failure := c.sandbox.apply(f.FixID, idx, a, now)
		if failure == nil {
			if err := c.publishEffect(ctx, subject, effect); err != nil {
				failure = &event.FailedAction{
					ActionIndex: idx,
					ActionType:  string(a.Type),
					Error:       fmt.Sprintf("publish effect: %v", err),
				}
			}
		}
		if failure != nil {
			failed = append(failed, *failure)
			actionOutcomes.WithLabelValues(string(a.Type), "failed").Inc()
			c.logger.Warn("Action failed",
				"fix_id", f.FixID,
				"action_index", idx,
				"action_type", a.Type,
				"error", failure.Error)
			continue
		}
		c.actionsApplied.Add(1)
		actionOutcomes.WithLabelValues(string(a.Type), "succeeded").Inc()
	}

	return failed
}

// handleRollbackRequest re-applies the inverse of each action. The sandbox
// cannot fail a rollback; individual errors are logged and the report is
// always rollback_succeeded.
func (c *Component) handleRollbackRequest(ctx context.Context, msg jetstream.Msg) {
	if ctx.Err() != nil {
		if err := msg.Nak(); err != nil {
			c.logger.Warn("Failed to NAK rollback request during shutdown", "error", err)
		}
		return
	}

	c.updateLastActivity()

	f, err := event.ParseMessage[fix.Fix](msg.Data())
	if err != nil {
		c.logger.Error("Failed to parse rollback request", "error", err)
		c.failures.Add(1)
		if err := msg.Term(); err != nil {
			c.logger.Warn("Failed to Term message", "error", err)
		}
		return
	}

	stored, _, err := c.store.GetFix(ctx, f.FixID)
	if errors.Is(err, store.ErrNotFound) {
		c.logger.Warn("Rollback request for unknown fix dropped", "fix_id", f.FixID)
		if err := msg.Ack(); err != nil {
			c.logger.Warn("Failed to ACK message", "error", err)
		}
		return
	}
	if err != nil {
		c.logger.Error("Failed to load fix", "fix_id", f.FixID, "error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			c.logger.Warn("Failed to NAK message", "error", nakErr)
		}
		return
	}

	if stored.Status == fix.StatusRollbackSucceeded {
		c.logger.Debug("Rollback already applied", "fix_id", f.FixID)
		if err := msg.Ack(); err != nil {
			c.logger.Warn("Failed to ACK message", "error", err)
		}
		return
	}

	now := time.Now().UTC()
	for idx, a := range f.Actions {
		subject, effect, err := c.sandbox.inverse(f.FixID, a, now)
		if err == nil {
			err = c.publishEffect(ctx, subject, effect)
		}
		if err != nil {
			// Loggable only; the sandbox never fails a rollback. Real
			// actuation backends would surface this as a RollbackFailure.
			c.logger.Warn("Rollback action failed in sandbox",
				"fix_id", f.FixID,
				"action_index", idx,
				"action_type", a.Type,
				"error", err)
		}
	}
	rollbacks.Inc()

	report := &event.DeployReport{
		FixID:      f.FixID,
		Phase:      event.DeployPhaseRollbackSucceeded,
		ReportedAt: time.Now().UTC(),
	}
	if err := c.publishReport(ctx, report); err != nil {
		// The record is still at rollback_requested, so redelivery replays
		// the rollback. Duplicate inverse effects are harmless in the
		// sandbox and the report gets another chance to land.
		c.logger.Error("Failed to report rollback", "fix_id", f.FixID, "error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			c.logger.Warn("Failed to NAK message", "error", nakErr)
		}
		return
	}

	c.logger.Info("Rollback applied",
		"fix_id", f.FixID,
		"actions", len(f.Actions),
		"reason", f.RollbackReason)

	if err := msg.Ack(); err != nil {
		c.logger.Warn("Failed to ACK rollback request", "error", err)
	}
}

// publishEffect emits one simulated actuation effect on its backend subject.
func (c *Component) publishEffect(ctx context.Context, subject string, effect *event.Effect) error {
	js, err := c.natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("get jetstream: %w", err)
	}

	baseMsg := message.NewBaseMessage(effect.Schema(), effect, c.name)
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return fmt.Errorf("marshal effect: %w", err)
	}

	if _, err := js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// publishReport sends a phase report to the coordinator.
func (c *Component) publishReport(ctx context.Context, report *event.DeployReport) error {
	js, err := c.natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("get jetstream: %w", err)
	}

	baseMsg := message.NewBaseMessage(report.Schema(), report, c.name)
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	if _, err := js.Publish(ctx, c.config.ReportSubject, data); err != nil {
		return fmt.Errorf("publish %s: %w", c.config.ReportSubject, err)
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
	c.running = false
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	c.logger.Info("deployer stopped",
		"deploys_started", c.deploysStarted.Load(),
		"actions_applied", c.actionsApplied.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "deployer",
		Type:        "processor",
		Description: "Executes approved fixes against the simulated actuation sandbox",
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
