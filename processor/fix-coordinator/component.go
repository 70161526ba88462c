// Package fixcoordinator provides the processor that owns the fix
// lifecycle. It wraps generated solutions into governed fix records,
// routes each fix onto the autonomous or review path, and applies review
// decisions, deploy reports and verification outcomes as total-ordered
// lifecycle transitions, publishing every transition on its per-status
// subject. The KV fix record is the source of truth; bus events mirror it.
package fixcoordinator

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

// Revision conflicts on the fix record are retried this many times before
// the message is NAKed for redelivery.
const casAttempts = 3

// Component implements the fix-coordinator processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	store *store.Store

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	fixesCreated    atomic.Int64
	eventsPublished atomic.Int64
	failures        atomic.Int64

	lastActivityMu sync.RWMutex
	lastActivity   time.Time
}

// NewComponent creates a new fix-coordinator processor.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	defaults := DefaultConfig()
	if config.CoordinationStream == "" {
		config.CoordinationStream = defaults.CoordinationStream
	}
	if config.SolutionSubject == "" {
		config.SolutionSubject = defaults.SolutionSubject
	}
	if config.DecisionSubject == "" {
		config.DecisionSubject = defaults.DecisionSubject
	}
	if config.DeployReportSubject == "" {
		config.DeployReportSubject = defaults.DeployReportSubject
	}
	if config.VerifyReportSubject == "" {
		config.VerifyReportSubject = defaults.VerifyReportSubject
	}
	if config.ApprovalTTL == "" {
		config.ApprovalTTL = defaults.ApprovalTTL
	}
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Component{
		name:       "fix-coordinator",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized fix-coordinator")
	return nil
}

// Start begins consuming coordination traffic.
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

	stream, err := js.Stream(subCtx, c.config.CoordinationStream)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get stream %s: %w", c.config.CoordinationStream, err)
	}

	consumers := []struct {
		durable string
		subject string
		handler func(context.Context, jetstream.Msg)
	}{
		{"fix-coordinator-solutions", c.config.SolutionSubject, c.handleSolution},
		{"fix-coordinator-decisions", c.config.DecisionSubject, c.handleDecision},
		{"fix-coordinator-deploys", c.config.DeployReportSubject, c.handleDeployReport},
		{"fix-coordinator-verifies", c.config.VerifyReportSubject, c.handleVerifyReport},
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

	c.logger.Info("fix-coordinator started",
		"stream", c.config.CoordinationStream,
		"consumers", len(consumers))

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

// handleSolution wraps a generated solution into a fix record and routes
// it onto the autonomous or review path. The solution dedupe marker makes
// redelivered solutions resume the recorded fix instead of minting a
// second one.
func (c *Component) handleSolution(ctx context.Context, msg jetstream.Msg) {
	if ctx.Err() != nil {
		if err := msg.Nak(); err != nil {
			c.logger.Warn("Failed to NAK solution during shutdown", "error", err)
		}
		return
	}

	c.updateLastActivity()

	sg, err := event.ParseMessage[event.SolutionGenerated](msg.Data())
	if err != nil {
		c.logger.Error("Failed to parse generated solution", "error", err)
		c.failures.Add(1)
		if err := msg.Term(); err != nil {
			c.logger.Warn("Failed to Term message", "error", err)
		}
		return
	}
	solutionsReceived.WithLabelValues(sg.Strategy).Inc()

	now := time.Now().UTC()
	f := fix.Wrap(sg.Problem, sg.Solution, sg.Strategy, c.name, now)

	first, err := c.store.MarkSolutionSeen(ctx, sg.Solution.SolutionID, f.FixID)
	if err != nil {
		c.logger.Error("Failed to check solution dedupe marker",
			"solution_id", sg.Solution.SolutionID, "error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			c.logger.Warn("Failed to NAK message", "error", nakErr)
		}
		return
	}
	if !first {
		// A prior delivery minted the marker. Resume its recorded fix id so
		// a failure between marking and storing cannot lose the solution.
		recorded, err := c.store.SolutionFix(ctx, sg.Solution.SolutionID)
		if err != nil {
			c.logger.Error("Failed to load solution marker",
				"solution_id", sg.Solution.SolutionID, "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				c.logger.Warn("Failed to NAK message", "error", nakErr)
			}
			return
		}
		f.FixID = recorded
	}

	current, revision, err := c.store.GetFix(ctx, f.FixID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if err := c.store.CreateFix(ctx, f); err != nil {
			c.logger.Error("Failed to store fix", "fix_id", f.FixID, "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				c.logger.Warn("Failed to NAK message", "error", nakErr)
			}
			return
		}
		c.fixesCreated.Add(1)

		if err := c.publishFix(ctx, f); err != nil {
			c.logger.Warn("Failed to publish proposed event", "fix_id", f.FixID, "error", err)
		}

		current, revision, err = c.store.GetFix(ctx, f.FixID)
		if err != nil {
			c.logger.Error("Failed to re-read fix for routing", "fix_id", f.FixID, "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				c.logger.Warn("Failed to NAK message", "error", nakErr)
			}
			return
		}
	case err != nil:
		c.logger.Error("Failed to load fix", "fix_id", f.FixID, "error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			c.logger.Warn("Failed to NAK message", "error", nakErr)
		}
		return
	default:
		if current.Status != fix.StatusProposed {
			c.logger.Debug("Duplicate solution dropped",
				"solution_id", sg.Solution.SolutionID, "fix_id", f.FixID)
			if err := msg.Ack(); err != nil {
				c.logger.Warn("Failed to ACK message", "error", err)
			}
			return
		}
		// Stored but never routed; an interrupted delivery left it at
		// proposed and this redelivery picks the routing back up.
	}

	next, err := routeProposed(current, now)
	if err != nil {
		c.logger.Error("Failed to route proposed fix", "fix_id", f.FixID, "error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			c.logger.Warn("Failed to NAK message", "error", nakErr)
		}
		return
	}

	if _, err := c.store.UpdateFix(ctx, current, revision); err != nil {
		c.logger.Error("Failed to persist routed fix", "fix_id", f.FixID, "error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			c.logger.Warn("Failed to NAK message", "error", nakErr)
		}
		return
	}

	if err := c.publishFix(ctx, current); err != nil {
		c.logger.Warn("Failed to publish routing event", "fix_id", f.FixID, "error", err)
	}

	switch next {
	case fix.StatusDeployRequested:
		c.publishAudit(ctx, current, sg.Solution.ConfidenceScore, now)
	case fix.StatusReviewRequired:
		c.publishApprovalRequired(ctx, current, now)
	}

	c.logger.Info("Fix created",
		"fix_id", f.FixID,
		"problem_id", f.CorrelationID,
		"risk_level", f.RiskLevel,
		"routed_to", next,
		"strategy", sg.Strategy)

	if err := msg.Ack(); err != nil {
		c.logger.Warn("Failed to ACK solution", "error", err)
	}
}

// handleDecision applies a review decision to its fix record. Duplicates
// are acked without effect; conflicting or unknown decisions are logged
// and dropped with the record unchanged.
func (c *Component) handleDecision(ctx context.Context, msg jetstream.Msg) {
	if ctx.Err() != nil {
		if err := msg.Nak(); err != nil {
			c.logger.Warn("Failed to NAK decision during shutdown", "error", err)
		}
		return
	}

	c.updateLastActivity()

	d, err := event.ParseMessage[event.Decision](msg.Data())
	if err != nil {
		c.logger.Error("Failed to parse decision", "error", err)
		c.failures.Add(1)
		if err := msg.Term(); err != nil {
			c.logger.Warn("Failed to Term message", "error", err)
		}
		return
	}
	decisionsApplied.WithLabelValues(d.Decision).Inc()

	for attempt := 0; ; attempt++ {
		f, revision, err := c.store.GetFix(ctx, d.FixID)
		if errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("Decision for unknown fix dropped", "fix_id", d.FixID)
			if err := msg.Ack(); err != nil {
				c.logger.Warn("Failed to ACK message", "error", err)
			}
			return
		}
		if err != nil {
			c.logger.Error("Failed to load fix", "fix_id", d.FixID, "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				c.logger.Warn("Failed to NAK message", "error", nakErr)
			}
			return
		}

		result, err := applyDecision(f, d, time.Now().UTC())
		if err != nil {
			var invalid *fix.InvalidTransitionError
			if errors.As(err, &invalid) {
				invalidTransitions.Inc()
			}
			c.logger.Warn("Decision rejected",
				"fix_id", d.FixID,
				"decision", d.Decision,
				"status", f.Status,
				"error", err)
			if ackErr := msg.Ack(); ackErr != nil {
				c.logger.Warn("Failed to ACK message", "error", ackErr)
			}
			return
		}

		if !result.changed {
			c.logger.Debug("Duplicate decision dropped",
				"fix_id", d.FixID, "decision", d.Decision)
			if err := msg.Ack(); err != nil {
				c.logger.Warn("Failed to ACK message", "error", err)
			}
			return
		}

		if _, err := c.store.UpdateFix(ctx, f, revision); err != nil {
			if attempt+1 < casAttempts {
				continue
			}
			c.logger.Error("Failed to persist decision", "fix_id", d.FixID, "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				c.logger.Warn("Failed to NAK message", "error", nakErr)
			}
			return
		}

		// Intermediate events carry the record as it stood at that
		// transition, not the final state of this batch.
		for _, status := range result.publish {
			snapshot := *f
			snapshot.Status = status
			if err := c.publishFix(ctx, &snapshot); err != nil {
				c.logger.Warn("Failed to publish lifecycle event",
					"fix_id", d.FixID, "status", status, "error", err)
			}
		}

		c.logger.Info("Decision applied",
			"fix_id", d.FixID,
			"decision", d.Decision,
			"decided_by", d.DecidedBy,
			"status", f.Status)

		if err := msg.Ack(); err != nil {
			c.logger.Warn("Failed to ACK decision", "error", err)
		}
		return
	}
}

// handleDeployReport folds a deployer phase report into the fix record.
func (c *Component) handleDeployReport(ctx context.Context, msg jetstream.Msg) {
	if ctx.Err() != nil {
		if err := msg.Nak(); err != nil {
			c.logger.Warn("Failed to NAK report during shutdown", "error", err)
		}
		return
	}

	c.updateLastActivity()

	report, err := event.ParseMessage[event.DeployReport](msg.Data())
	if err != nil {
		c.logger.Error("Failed to parse deploy report", "error", err)
		c.failures.Add(1)
		if err := msg.Term(); err != nil {
			c.logger.Warn("Failed to Term message", "error", err)
		}
		return
	}

	c.applyReport(ctx, msg, report.FixID, func(f *fix.Fix, now time.Time) (fix.Status, error) {
		return applyDeployReport(f, report, now)
	})
}

// handleVerifyReport folds the verifier's outcome into the fix record.
func (c *Component) handleVerifyReport(ctx context.Context, msg jetstream.Msg) {
	if ctx.Err() != nil {
		if err := msg.Nak(); err != nil {
			c.logger.Warn("Failed to NAK report during shutdown", "error", err)
		}
		return
	}

	c.updateLastActivity()

	report, err := event.ParseMessage[event.VerifyReport](msg.Data())
	if err != nil {
		c.logger.Error("Failed to parse verify report", "error", err)
		c.failures.Add(1)
		if err := msg.Term(); err != nil {
			c.logger.Warn("Failed to Term message", "error", err)
		}
		return
	}

	c.applyReport(ctx, msg, report.FixID, func(f *fix.Fix, now time.Time) (fix.Status, error) {
		return applyVerifyReport(f, report, now)
	})
}

// applyReport loads a fix, applies one report transition under CAS, and
// publishes the resulting lifecycle event. Out-of-order reports are logged
// and dropped with the record unchanged.
func (c *Component) applyReport(ctx context.Context, msg jetstream.Msg, fixID string, apply func(*fix.Fix, time.Time) (fix.Status, error)) {
	for attempt := 0; ; attempt++ {
		f, revision, err := c.store.GetFix(ctx, fixID)
		if errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("Report for unknown fix dropped", "fix_id", fixID)
			if err := msg.Ack(); err != nil {
				c.logger.Warn("Failed to ACK message", "error", err)
			}
			return
		}
		if err != nil {
			c.logger.Error("Failed to load fix", "fix_id", fixID, "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				c.logger.Warn("Failed to NAK message", "error", nakErr)
			}
			return
		}

		status, err := apply(f, time.Now().UTC())
		if err != nil {
			var invalid *fix.InvalidTransitionError
			if errors.As(err, &invalid) {
				invalidTransitions.Inc()
			}
			c.logger.Warn("Out-of-order report dropped",
				"fix_id", fixID, "status", f.Status, "error", err)
			if ackErr := msg.Ack(); ackErr != nil {
				c.logger.Warn("Failed to ACK message", "error", ackErr)
			}
			return
		}

		if _, err := c.store.UpdateFix(ctx, f, revision); err != nil {
			if attempt+1 < casAttempts {
				continue
			}
			c.logger.Error("Failed to persist transition", "fix_id", fixID, "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				c.logger.Warn("Failed to NAK message", "error", nakErr)
			}
			return
		}

		if err := c.publishFix(ctx, f); err != nil {
			c.logger.Warn("Failed to publish lifecycle event",
				"fix_id", fixID, "status", status, "error", err)
		}

		c.logger.Info("Lifecycle transition applied", "fix_id", fixID, "status", status)

		if err := msg.Ack(); err != nil {
			c.logger.Warn("Failed to ACK report", "error", err)
		}
		return
	}
}

// publishFix emits the fix record on its per-status lifecycle subject.
func (c *Component) publishFix(ctx context.Context, f *fix.Fix) error {
	js, err := c.natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("get jetstream: %w", err)
	}

	baseMsg := message.NewBaseMessage(f.Schema(), f, c.name)
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return fmt.Errorf("marshal fix: %w", err)
	}

	subject := event.FixSubject(f.Status)
	if _, err := js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	fixTransitions.WithLabelValues(string(f.Status)).Inc()
	c.eventsPublished.Add(1)
	return nil
}

// publishAudit records an autonomous routing decision.
func (c *Component) publishAudit(ctx context.Context, f *fix.Fix, confidence float64, now time.Time) {
	record := &event.AuditDecision{
		DecisionID:  event.NewAuditDecisionID(now),
		FixID:       f.FixID,
		Mode:        "autonomous",
		ActionTaken: "auto_approved",
		Reason:      fmt.Sprintf("risk_level=%s confidence=%.2f", f.RiskLevel, confidence),
		DecidedAt:   now,
	}
	if err := c.publishGovernance(ctx, event.SubjectAuditDecision, record.Schema(), record); err != nil {
		c.logger.Warn("Failed to publish audit decision", "fix_id", f.FixID, "error", err)
	}
}

// publishApprovalRequired notifies review surfaces about a pending fix.
func (c *Component) publishApprovalRequired(ctx context.Context, f *fix.Fix, now time.Time) {
	notice := &event.ApprovalRequired{
		ApprovalID:  event.NewApprovalID(now),
		FixID:       f.FixID,
		RiskLevel:   string(f.RiskLevel),
		Summary:     f.Summary,
		RequestedAt: now,
		ExpiresAt:   now.Add(c.config.GetApprovalTTL()),
	}
	if err := c.publishGovernance(ctx, event.SubjectApprovalRequired, notice.Schema(), notice); err != nil {
		c.logger.Warn("Failed to publish approval notice", "fix_id", f.FixID, "error", err)
	}
}

func (c *Component) publishGovernance(ctx context.Context, subject string, schema message.Type, payload any) error {
	js, err := c.natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("get jetstream: %w", err)
	}

	baseMsg := message.NewBaseMessage(schema, payload, c.name)
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return fmt.Errorf("marshal governance record: %w", err)
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
	c.running = false
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	c.logger.Info("fix-coordinator stopped",
		"fixes_created", c.fixesCreated.Load(),
		"events_published", c.eventsPublished.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "fix-coordinator",
		Type:        "processor",
		Description: "Owns the fix lifecycle from proposal through rollback",
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
