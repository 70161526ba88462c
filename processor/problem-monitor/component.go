// Package problemmonitor provides the processor that turns detected problems
// into generated solutions. It filters problem events by severity,
// deduplicates by problem id, and runs the configured solving strategy:
// rules and LLM solutions are generated inline, agentic problems are split
// into sub-tasks and merged from agent partials (see agentic.go).
package problemmonitor

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
	"github.com/c360studio/chronos/llm"
	"github.com/c360studio/chronos/problem"
	"github.com/c360studio/chronos/store"
	"github.com/c360studio/chronos/strategy"
)

// Component implements the problem-monitor processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	mode        strategy.Mode
	generator   strategy.Generator
	rules       *strategy.Rules
	minSeverity problem.Severity

	store *store.Store

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	problemsProcessed atomic.Int64
	problemsSkipped   atomic.Int64
	solutionsEmitted  atomic.Int64
	failures          atomic.Int64

	lastActivityMu sync.RWMutex
	lastActivity   time.Time
}

// NewComponent creates a new problem-monitor processor. The strategy is
// selected once here, never re-evaluated per problem.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	defaults := DefaultConfig()
	if config.EventsStream == "" {
		config.EventsStream = defaults.EventsStream
	}
	if config.TasksStream == "" {
		config.TasksStream = defaults.TasksStream
	}
	if config.ProblemsSubject == "" {
		config.ProblemsSubject = defaults.ProblemsSubject
	}
	if config.PartialSubject == "" {
		config.PartialSubject = defaults.PartialSubject
	}
	if config.SolutionSubject == "" {
		config.SolutionSubject = defaults.SolutionSubject
	}
	if config.Mode == "" {
		config.Mode = defaults.Mode
	}
	if config.MinSeverity == "" {
		config.MinSeverity = defaults.MinSeverity
	}
	if config.MergeTimeout == "" {
		config.MergeTimeout = defaults.MergeTimeout
	}
	if config.SweepInterval == "" {
		config.SweepInterval = defaults.SweepInterval
	}
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := deps.GetLogger()

	mode, err := strategy.ParseMode(config.Mode)
	if err != nil {
		return nil, err
	}

	c := &Component{
		name:        "problem-monitor",
		config:      config,
		natsClient:  deps.NATSClient,
		logger:      logger,
		mode:        mode,
		rules:       strategy.NewRules(),
		minSeverity: problem.Severity(config.MinSeverity),
	}

	// Agentic mode orchestrates across components instead of generating
	// inline; it keeps the rules generator as its zero-partials fallback.
	if mode != strategy.ModeAgentic {
		var completer strategy.Completer
		if mode == strategy.ModeLLM {
			if len(config.Endpoints) == 0 {
				return nil, fmt.Errorf("llm mode requires at least one endpoint")
			}
			completer = llm.NewClient(config.Endpoints, llm.WithLogger(logger))
		}
		generator, err := strategy.ForMode(mode, completer, logger)
		if err != nil {
			return nil, err
		}
		c.generator = generator
	}

	return c, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized problem-monitor",
		"mode", c.mode,
		"min_severity", c.minSeverity)
	return nil
}

// Start begins consuming problem events.
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

	eventsStream, err := js.Stream(subCtx, c.config.EventsStream)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get stream %s: %w", c.config.EventsStream, err)
	}

	problemConsumer, err := eventsStream.CreateOrUpdateConsumer(subCtx, jetstream.ConsumerConfig{
		Durable:       "problem-monitor",
		FilterSubject: c.config.ProblemsSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       300 * time.Second,
		MaxDeliver:    3,
	})
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create problem consumer: %w", err)
	}
	go c.consumeLoop(subCtx, problemConsumer, "problems", c.handleProblem)

	if c.mode == strategy.ModeAgentic {
		tasksStream, err := js.Stream(subCtx, c.config.TasksStream)
		if err != nil {
			c.rollbackStart(cancel)
			return fmt.Errorf("get stream %s: %w", c.config.TasksStream, err)
		}

		partialConsumer, err := tasksStream.CreateOrUpdateConsumer(subCtx, jetstream.ConsumerConfig{
			Durable:       "problem-monitor-partials",
			FilterSubject: c.config.PartialSubject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       300 * time.Second,
			MaxDeliver:    3,
		})
		if err != nil {
			c.rollbackStart(cancel)
			return fmt.Errorf("create partial consumer: %w", err)
		}
		go c.consumeLoop(subCtx, partialConsumer, "partials", c.handlePartial)
		go c.sweepGenerations(subCtx)
	}

	c.logger.Info("problem-monitor started",
		"mode", c.mode,
		"min_severity", c.minSeverity,
		"problems_subject", c.config.ProblemsSubject)

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

// handleProblem gates one detected problem through severity and dedupe
// checks, then hands it to the configured strategy.
func (c *Component) handleProblem(ctx context.Context, msg jetstream.Msg) {
	if ctx.Err() != nil {
		if err := msg.Nak(); err != nil {
			c.logger.Warn("Failed to NAK problem during shutdown", "error", err)
		}
		return
	}

	c.updateLastActivity()

	p, err := event.ParseMessage[problem.Problem](msg.Data())
	if err != nil {
		c.logger.Error("Failed to parse problem event", "error", err)
		c.failures.Add(1)
		if err := msg.Term(); err != nil {
			c.logger.Warn("Failed to Term message", "error", err)
		}
		return
	}

	if !severityAtLeast(p.Severity, c.minSeverity) {
		c.problemsSkipped.Add(1)
		c.logger.Debug("Problem below severity threshold",
			"problem_id", p.ProblemID,
			"severity", p.Severity,
			"min_severity", c.minSeverity)
		if err := msg.Ack(); err != nil {
			c.logger.Warn("Failed to ACK message", "error", err)
		}
		return
	}

	seen, err := c.store.ProblemSeen(ctx, p.ProblemID)
	if err != nil {
		c.logger.Error("Failed to check problem dedupe marker",
			"problem_id", p.ProblemID, "error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			c.logger.Warn("Failed to NAK message", "error", nakErr)
		}
		return
	}
	if seen {
		c.problemsSkipped.Add(1)
		c.logger.Debug("Duplicate problem dropped", "problem_id", p.ProblemID)
		if err := msg.Ack(); err != nil {
			c.logger.Warn("Failed to ACK message", "error", err)
		}
		return
	}

	c.problemsProcessed.Add(1)
	c.logger.Info("Processing problem",
		"problem_id", p.ProblemID,
		"type", p.ProblemType,
		"severity", p.Severity,
		"mode", c.mode)

	if c.mode == strategy.ModeAgentic {
		if err := c.dispatchTasks(ctx, p); err != nil {
			c.logger.Error("Failed to dispatch agentic tasks",
				"problem_id", p.ProblemID, "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				c.logger.Warn("Failed to NAK message", "error", nakErr)
			}
			return
		}
	} else {
		solution, err := c.generator.Generate(ctx, p)
		if err != nil {
			// Rules never errors and LLM falls back internally, so any
			// error here is transport-level and worth a redelivery.
			c.logger.Error("Strategy failed",
				"problem_id", p.ProblemID, "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				c.logger.Warn("Failed to NAK message", "error", nakErr)
			}
			return
		}
		if err := c.publishSolution(ctx, p, solution); err != nil {
			c.logger.Error("Failed to publish solution",
				"problem_id", p.ProblemID, "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				c.logger.Warn("Failed to NAK message", "error", nakErr)
			}
			return
		}
	}

	// The marker is written only after the work landed. A redelivery before
	// this point redoes the work; deterministic solution ids and the
	// generation record keep that redo idempotent downstream.
	if _, err := c.store.MarkProblemSeen(ctx, p); err != nil {
		c.logger.Error("Failed to mark problem seen",
			"problem_id", p.ProblemID, "error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			c.logger.Warn("Failed to NAK message", "error", nakErr)
		}
		return
	}

	if err := msg.Ack(); err != nil {
		c.logger.Warn("Failed to ACK problem", "error", err)
	}
}

// publishSolution hands a generated solution to the fix-coordinator.
func (c *Component) publishSolution(ctx context.Context, p *problem.Problem, s *fix.Solution) error {
	payload := &event.SolutionGenerated{
		Problem:     p,
		Solution:    s,
		Strategy:    string(c.mode),
		GeneratedAt: time.Now().UTC(),
	}

	js, err := c.natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("get jetstream: %w", err)
	}

	baseMsg := message.NewBaseMessage(payload.Schema(), payload, c.name)
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return fmt.Errorf("marshal solution: %w", err)
	}

	if _, err := js.Publish(ctx, c.config.SolutionSubject, data); err != nil {
		return fmt.Errorf("publish solution: %w", err)
	}

	c.solutionsEmitted.Add(1)
	c.logger.Info("Solution published",
		"problem_id", p.ProblemID,
		"solution_id", s.SolutionID,
		"strategy", c.mode,
		"actions", len(s.ProposedActions),
		"confidence", s.ConfidenceScore)
	return nil
}

// severityRank orders problem severities for threshold comparison.
var severityRank = map[problem.Severity]int{
	problem.SeverityInfo:     0,
	problem.SeverityWarning:  1,
	problem.SeverityCritical: 2,
}

// severityAtLeast reports whether sev meets the min threshold. Unknown
// severities rank lowest so malformed detectors cannot bypass the gate.
func severityAtLeast(sev, min problem.Severity) bool {
	return severityRank[sev] >= severityRank[min]
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

	c.logger.Info("problem-monitor stopped",
		"problems_processed", c.problemsProcessed.Load(),
		"problems_skipped", c.problemsSkipped.Load(),
		"solutions_emitted", c.solutionsEmitted.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "problem-monitor",
		Type:        "processor",
		Description: "Filters detected problems and runs the configured solving strategy",
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
