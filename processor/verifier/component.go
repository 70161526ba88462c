// Package verifier provides the processor that judges deployed fixes against
// live telemetry. Each deploy_succeeded fix opens a verification run: every
// action with a usable verification spec is polled at a fixed cadence until
// its metric crosses the threshold or the window expires, and the aggregate
// verdict is reported to the coordinator. A rollback request pre-empts the
// run before a verdict is published.
package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
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
	"github.com/c360studio/chronos/telemetry"
)

// verifyRun is one in-flight verification, cancellable by rollback.
type verifyRun struct {
	cancel context.CancelFunc

	mu       sync.Mutex
	record   *fix.VerificationRecord
	failMsgs []string
}

// Component implements the verifier processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	store     *store.Store
	telemetry *telemetry.Store

	runsMu sync.Mutex
	runs   map[string]*verifyRun

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	runsStarted atomic.Int64
	runsDone    atomic.Int64
	failures    atomic.Int64

	lastActivityMu sync.RWMutex
	lastActivity   time.Time
}

// NewComponent creates a new verifier processor.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	defaults := DefaultConfig()
	if config.EventsStream == "" {
		config.EventsStream = defaults.EventsStream
	}
	if config.TelemetryStream == "" {
		config.TelemetryStream = defaults.TelemetryStream
	}
	if config.TelemetrySubject == "" {
		config.TelemetrySubject = defaults.TelemetrySubject
	}
	if config.ReportSubject == "" {
		config.ReportSubject = defaults.ReportSubject
	}
	if config.Cadence == "" {
		config.Cadence = defaults.Cadence
	}
	if config.Retention == "" {
		config.Retention = defaults.Retention
	}
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Component{
		name:       "verifier",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
		telemetry:  telemetry.NewStore(config.GetRetention()),
		runs:       make(map[string]*verifyRun),
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized verifier")
	return nil
}

// Start begins consuming deployed fixes, telemetry samples, and rollback
// signals.
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

	telemetryStream, err := js.Stream(subCtx, c.config.TelemetryStream)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get stream %s: %w", c.config.TelemetryStream, err)
	}

	consumers := []struct {
		stream  jetstream.Stream
		durable string
		subject string
		handler func(context.Context, jetstream.Msg)
	}{
		{eventsStream, "verifier-deploys", event.SubjectFixDeploySucceeded, c.handleDeploySucceeded},
		{eventsStream, "verifier-rollbacks", event.SubjectFixRollbackRequested, c.handleRollbackSignal},
		{telemetryStream, "verifier-telemetry", c.config.TelemetrySubject, c.handleTelemetrySample},
	}

	for _, spec := range consumers {
		consumer, err := spec.stream.CreateOrUpdateConsumer(subCtx, jetstream.ConsumerConfig{
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

	c.logger.Info("verifier started",
		"events_stream", c.config.EventsStream,
		"telemetry_stream", c.config.TelemetryStream,
		"cadence", c.config.GetCadence())

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

// pollable is one action whose metric the run watches.
type pollable struct {
	index    int
	spec     fix.Verification
	baseline float64
}

// metricLabel names an action's metric for counters, tolerating absent specs.
func metricLabel(v *fix.Verification) string {
	if v == nil || v.MetricName == "" {
		return "none"
	}
	return v.MetricName
}

// handleDeploySucceeded opens a verification run for one deployed fix.
// Actions without a usable verification spec are recorded as skipped up
// front; the rest each get a polling goroutine, and a completion goroutine
// reports once every verdict is in. The message is acknowledged as soon as
// the run is registered, so a verdict lost after that is logged, not
// redelivered.
func (c *Component) handleDeploySucceeded(ctx context.Context, msg jetstream.Msg) {
	if ctx.Err() != nil {
		if err := msg.Nak(); err != nil {
			c.logger.Warn("Failed to NAK deployed fix during shutdown", "error", err)
		}
		return
	}

	c.updateLastActivity()

	f, err := event.ParseMessage[fix.Fix](msg.Data())
	if err != nil {
		c.logger.Error("Failed to parse deployed fix", "error", err)
		c.failures.Add(1)
		if err := msg.Term(); err != nil {
			c.logger.Warn("Failed to Term message", "error", err)
		}
		return
	}

	c.runsMu.Lock()
	_, active := c.runs[f.FixID]
	c.runsMu.Unlock()
	if active {
		c.logger.Debug("Verification already running", "fix_id", f.FixID)
		if err := msg.Ack(); err != nil {
			c.logger.Warn("Failed to ACK message", "error", err)
		}
		return
	}

	stored, _, err := c.store.GetFix(ctx, f.FixID)
	if errors.Is(err, store.ErrNotFound) {
		c.logger.Warn("Deployed fix missing from store, dropped", "fix_id", f.FixID)
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

	// Redeliveries after the verdict landed, and fixes already pre-empted by
	// rollback, show up here with the record moved past deploy_succeeded.
	if stored.Status != fix.StatusDeploySucceeded {
		c.logger.Debug("Fix no longer awaiting verification",
			"fix_id", f.FixID, "status", stored.Status)
		if err := msg.Ack(); err != nil {
			c.logger.Warn("Failed to ACK message", "error", err)
		}
		return
	}

	now := time.Now().UTC()
	rec := fix.NewVerificationRecord(f.FixID, len(f.Actions))
	rec.Begin(now)
	c.runsStarted.Add(1)

	var polls []pollable
	for idx, a := range f.Actions {
		if reason := skipReason(a.Verification); reason != "" {
			rec.RecordAction(now, fix.ActionOutcomeSkipped,
				fmt.Sprintf("action %d (%s) skipped: %s", idx, a.Type, reason))
			actionChecks.WithLabelValues(metricLabel(a.Verification), fix.ActionOutcomeSkipped).Inc()
			continue
		}
		p := pollable{index: idx, spec: *a.Verification}
		if needsBaseline(p.spec.MetricName) {
			// Missing baseline reads as zero.
			if s, ok := c.telemetry.Latest(p.spec.MetricName); ok {
				p.baseline = s.Value
			}
		}
		polls = append(polls, p)
	}

	// Skipped actions never block a fix; a run with nothing to poll closes
	// immediately as verified.
	if len(polls) == 0 {
		rec.Finish(now)
		if err := c.store.PutVerification(ctx, rec); err != nil {
			c.logger.Error("Failed to persist verification record", "fix_id", f.FixID, "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				c.logger.Warn("Failed to NAK message", "error", nakErr)
			}
			return
		}
		c.reportVerdict(ctx, rec, nil)
		c.runsDone.Add(1)
		if err := msg.Ack(); err != nil {
			c.logger.Warn("Failed to ACK deployed fix", "error", err)
		}
		return
	}

	if err := c.store.PutVerification(ctx, rec); err != nil {
		c.logger.Error("Failed to persist verification record", "fix_id", f.FixID, "error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			c.logger.Warn("Failed to NAK message", "error", nakErr)
		}
		return
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	run := &verifyRun{cancel: cancelRun, record: rec}
	c.runsMu.Lock()
	c.runs[f.FixID] = run
	c.runsMu.Unlock()

	cadence := c.config.GetCadence()
	var wg sync.WaitGroup
	for _, p := range polls {
		wg.Add(1)
		go func(p pollable) {
			defer wg.Done()
			window := time.Duration(p.spec.WindowSeconds) * time.Second
			outcome, verdict := pollAction(runCtx, c.telemetry, p.spec, p.baseline, window, cadence)
			if outcome == "" {
				return
			}
			entry := fmt.Sprintf("action %d: %s", p.index, verdict)
			run.mu.Lock()
			run.record.RecordAction(time.Now().UTC(), outcome, entry)
			if outcome == fix.ActionOutcomeFailed {
				run.failMsgs = append(run.failMsgs, entry)
			}
			run.mu.Unlock()
			actionChecks.WithLabelValues(p.spec.MetricName, outcome).Inc()
		}(p)
	}

	go c.finishRun(ctx, runCtx, f.FixID, run, &wg)

	c.logger.Info("Verification started",
		"fix_id", f.FixID,
		"actions", len(f.Actions),
		"polled", len(polls),
		"skipped", rec.Metrics.Skipped)

	if err := msg.Ack(); err != nil {
		c.logger.Warn("Failed to ACK deployed fix", "error", err)
	}
}

// finishRun waits for every action verdict, closes the record, and reports
// the outcome. A cancelled run keeps its in-progress record with a
// cancellation note and reports nothing; the coordinator that cancelled it
// has already moved the fix on.
func (c *Component) finishRun(ctx, runCtx context.Context, fixID string, run *verifyRun, wg *sync.WaitGroup) {
	wg.Wait()

	c.runsMu.Lock()
	delete(c.runs, fixID)
	c.runsMu.Unlock()

	now := time.Now().UTC()
	run.mu.Lock()
	defer run.mu.Unlock()

	if runCtx.Err() != nil {
		run.record.Append(now, "cancelled", "verification cancelled before a verdict")
		if err := c.store.PutVerification(ctx, run.record); err != nil {
			c.logger.Warn("Failed to persist cancelled verification", "fix_id", fixID, "error", err)
		}
		cancellations.Inc()
		c.runsDone.Add(1)
		c.logger.Info("Verification cancelled", "fix_id", fixID)
		return
	}

	run.record.Finish(now)
	if err := c.store.PutVerification(ctx, run.record); err != nil {
		c.logger.Error("Failed to persist verification record", "fix_id", fixID, "error", err)
	}

	c.reportVerdict(ctx, run.record, run.failMsgs)
	c.runsDone.Add(1)
}

// reportVerdict publishes the aggregate outcome of a finished run. The
// triggering message is long acknowledged by now, so a publish failure is
// logged rather than retried.
func (c *Component) reportVerdict(ctx context.Context, rec *fix.VerificationRecord, failMsgs []string) {
	report := &event.VerifyReport{
		FixID:      rec.FixID,
		Passed:     rec.Status == fix.VerificationVerified,
		Metrics:    rec.Metrics,
		Reason:     strings.Join(failMsgs, "; "),
		ReportedAt: time.Now().UTC(),
	}

	if err := c.publishReport(ctx, report); err != nil {
		c.logger.Error("Failed to publish verification report", "fix_id", rec.FixID, "error", err)
		c.failures.Add(1)
	}

	verifications.WithLabelValues(string(rec.Status)).Inc()
	c.logger.Info("Verification finished",
		"fix_id", rec.FixID,
		"status", rec.Status,
		"passed", rec.Metrics.Passed,
		"failed", rec.Metrics.Failed,
		"skipped", rec.Metrics.Skipped)
}

// handleTelemetrySample records one sample into the rolling window.
func (c *Component) handleTelemetrySample(ctx context.Context, msg jetstream.Msg) {
	if ctx.Err() != nil {
		if err := msg.Nak(); err != nil {
			c.logger.Warn("Failed to NAK telemetry sample during shutdown", "error", err)
		}
		return
	}

	c.updateLastActivity()

	sample, err := event.ParseMessage[telemetry.Sample](msg.Data())
	if err != nil {
		c.logger.Error("Failed to parse telemetry sample", "error", err)
		c.failures.Add(1)
		if err := msg.Term(); err != nil {
			c.logger.Warn("Failed to Term message", "error", err)
		}
		return
	}

	c.telemetry.Record(*sample)
	samplesRecorded.Inc()

	if err := msg.Ack(); err != nil {
		c.logger.Warn("Failed to ACK telemetry sample", "error", err)
	}
}

// handleRollbackSignal cancels the in-flight run for a fix being rolled
// back. Signals for fixes with no active run are acknowledged and ignored.
func (c *Component) handleRollbackSignal(ctx context.Context, msg jetstream.Msg) {
	if ctx.Err() != nil {
		if err := msg.Nak(); err != nil {
			c.logger.Warn("Failed to NAK rollback signal during shutdown", "error", err)
		}
		return
	}

	c.updateLastActivity()

	f, err := event.ParseMessage[fix.Fix](msg.Data())
	if err != nil {
		c.logger.Error("Failed to parse rollback signal", "error", err)
		c.failures.Add(1)
		if err := msg.Term(); err != nil {
			c.logger.Warn("Failed to Term message", "error", err)
		}
		return
	}

	c.runsMu.Lock()
	run, active := c.runs[f.FixID]
	c.runsMu.Unlock()
	if active {
		run.cancel()
		c.logger.Info("Verification pre-empted by rollback",
			"fix_id", f.FixID, "reason", f.RollbackReason)
	}

	if err := msg.Ack(); err != nil {
		c.logger.Warn("Failed to ACK rollback signal", "error", err)
	}
}

// publishReport sends a verification outcome to the coordinator.
func (c *Component) publishReport(ctx context.Context, report *event.VerifyReport) error {
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

// Stop gracefully stops the component. Cancelling the consumer context also
// cancels every in-flight run.
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

	c.logger.Info("verifier stopped",
		"runs_started", c.runsStarted.Load(),
		"runs_done", c.runsDone.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "verifier",
		Type:        "processor",
		Description: "Judges deployed fixes against telemetry and reports verification outcomes",
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
