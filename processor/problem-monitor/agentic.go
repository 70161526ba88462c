package problemmonitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/c360studio/semstreams/message"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/chronos/event"
	"github.com/c360studio/chronos/fix"
	"github.com/c360studio/chronos/problem"
	"github.com/c360studio/chronos/store"
	"github.com/c360studio/chronos/strategy"
)

// Revision conflicts on the generation record are retried this many times
// before the message is NAKed for redelivery.
const casAttempts = 3

// dispatchTasks splits a problem into sub-tasks and publishes one
// assignment per task. The generation record is persisted before any task
// goes out so a fast agent's partial always finds it.
func (c *Component) dispatchTasks(ctx context.Context, p *problem.Problem) error {
	subTasks := strategy.Split(p)

	taskIDs := make([]string, len(subTasks))
	for i, st := range subTasks {
		taskIDs[i] = st.TaskID
	}

	deadline := time.Now().UTC().Add(c.config.GetMergeTimeout())
	gen := store.NewGeneration(p, taskIDs, deadline)
	if err := c.store.CreateGeneration(ctx, gen); err != nil {
		if errors.Is(err, store.ErrExists) {
			// A prior delivery already dispatched this problem. The persisted
			// record drives the merge; tasks that never went out are covered
			// by the merge window timeout.
			c.logger.Debug("Generation already dispatched", "problem_id", p.ProblemID)
			return nil
		}
		return fmt.Errorf("create generation record: %w", err)
	}

	js, err := c.natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("get jetstream: %w", err)
	}

	now := time.Now().UTC()
	for _, st := range subTasks {
		subject, err := taskSubjectFor(st.TaskType)
		if err != nil {
			return err
		}

		payload := &event.TaskAssignment{
			TaskID:       st.TaskID,
			TaskType:     st.TaskType,
			ProblemID:    st.ProblemID,
			Problem:      p,
			DispatchedAt: now,
		}
		baseMsg := message.NewBaseMessage(payload.Schema(), payload, c.name)
		data, err := json.Marshal(baseMsg)
		if err != nil {
			return fmt.Errorf("marshal task %s: %w", st.TaskID, err)
		}
		if _, err := js.Publish(ctx, subject, data); err != nil {
			return fmt.Errorf("publish task %s: %w", st.TaskID, err)
		}

		c.logger.Info("Dispatched sub-task",
			"task_id", st.TaskID,
			"task_type", st.TaskType,
			"problem_id", st.ProblemID,
			"deadline", deadline)
	}

	return nil
}

// taskSubjectFor routes a sub-task type to its agent subject.
func taskSubjectFor(taskType string) (string, error) {
	switch taskType {
	case strategy.TaskDeconflict:
		return event.SubjectTaskDeconflict, nil
	case strategy.TaskHotspotMitigation:
		return event.SubjectTaskHotspot, nil
	case strategy.TaskValidationFix:
		return event.SubjectTaskValidation, nil
	default:
		return "", fmt.Errorf("no subject for task type %q", taskType)
	}
}

// handlePartial folds one agent partial into its generation record. The
// record is the source of truth for the merge decision, so every mutation
// goes through a revision-checked update.
func (c *Component) handlePartial(ctx context.Context, msg jetstream.Msg) {
	if ctx.Err() != nil {
		if err := msg.Nak(); err != nil {
			c.logger.Warn("Failed to NAK partial during shutdown", "error", err)
		}
		return
	}

	c.updateLastActivity()

	partial, err := event.ParseMessage[fix.PartialSolution](msg.Data())
	if err != nil {
		c.logger.Error("Failed to parse partial solution", "error", err)
		c.failures.Add(1)
		if err := msg.Term(); err != nil {
			c.logger.Warn("Failed to Term message", "error", err)
		}
		return
	}

	var complete bool
	for attempt := 0; ; attempt++ {
		gen, revision, err := c.store.GetGeneration(ctx, partial.ProblemID)
		if errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("Partial for unknown generation dropped",
				"task_id", partial.TaskID,
				"problem_id", partial.ProblemID)
			if err := msg.Ack(); err != nil {
				c.logger.Warn("Failed to ACK message", "error", err)
			}
			return
		}
		if err != nil {
			c.logger.Error("Failed to load generation record",
				"problem_id", partial.ProblemID, "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				c.logger.Warn("Failed to NAK message", "error", nakErr)
			}
			return
		}

		if gen.Merged {
			c.logger.Debug("Partial after merge dropped",
				"task_id", partial.TaskID,
				"problem_id", partial.ProblemID)
			if err := msg.Ack(); err != nil {
				c.logger.Warn("Failed to ACK message", "error", err)
			}
			return
		}

		if !gen.AddPartial(*partial) {
			c.logger.Warn("Partial with unknown task id dropped",
				"task_id", partial.TaskID,
				"problem_id", partial.ProblemID)
			if err := msg.Ack(); err != nil {
				c.logger.Warn("Failed to ACK message", "error", err)
			}
			return
		}

		if err := c.store.UpdateGeneration(ctx, gen, revision); err != nil {
			if attempt+1 < casAttempts {
				continue
			}
			c.logger.Error("Failed to record partial",
				"task_id", partial.TaskID,
				"problem_id", partial.ProblemID, "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				c.logger.Warn("Failed to NAK message", "error", nakErr)
			}
			return
		}

		complete = gen.Complete()
		c.logger.Info("Recorded partial solution",
			"task_id", partial.TaskID,
			"problem_id", partial.ProblemID,
			"agent", partial.AgentName,
			"received", len(gen.Partials),
			"expected", gen.ExpectedCount)
		break
	}

	if complete {
		if err := c.finalizeGeneration(ctx, partial.ProblemID); err != nil {
			c.logger.Error("Failed to merge completed generation",
				"problem_id", partial.ProblemID, "error", err)
		}
	}

	if err := msg.Ack(); err != nil {
		c.logger.Warn("Failed to ACK partial", "error", err)
	}
}

// sweepGenerations closes merge windows whose deadline passed without all
// partials arriving. Persisted deadlines make the decision recoverable
// across restarts.
func (c *Component) sweepGenerations(ctx context.Context) {
	ticker := time.NewTicker(c.config.GetSweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		gens, err := c.store.ListGenerations(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("Failed to list generation records", "error", err)
			continue
		}

		now := time.Now().UTC()
		for _, gen := range gens {
			if gen.Merged || (!gen.Complete() && !gen.Expired(now)) {
				continue
			}
			if err := c.finalizeGeneration(ctx, gen.Problem.ProblemID); err != nil {
				c.logger.Error("Failed to merge expired generation",
					"problem_id", gen.Problem.ProblemID, "error", err)
			}
		}
	}
}

// finalizeGeneration claims a generation record and publishes its merged
// solution. Claiming first, via the revision check, keeps concurrent
// completion and sweeper paths from double-publishing. A window that
// closed empty falls back to the Rules strategy.
func (c *Component) finalizeGeneration(ctx context.Context, problemID string) error {
	var gen *store.Generation
	for attempt := 0; ; attempt++ {
		loaded, revision, err := c.store.GetGeneration(ctx, problemID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if loaded.Merged {
			return nil
		}

		loaded.Merged = true
		if err := c.store.UpdateGeneration(ctx, loaded, revision); err != nil {
			if attempt+1 < casAttempts {
				continue
			}
			return fmt.Errorf("claim generation: %w", err)
		}
		gen = loaded
		break
	}

	partials := gen.OrderedPartials()
	solution, err := strategy.Merge(gen.Problem, partials)
	if errors.Is(err, strategy.ErrNoPartials) {
		c.logger.Warn("Merge window closed with no partials, falling back to rules",
			"problem_id", problemID,
			"expected", gen.ExpectedCount)
		solution, err = c.rules.Generate(ctx, gen.Problem)
	}
	if err != nil {
		return fmt.Errorf("merge generation: %w", err)
	}

	c.logger.Info("Merged agentic solution",
		"problem_id", problemID,
		"solution_id", solution.SolutionID,
		"partials", len(partials),
		"expected", gen.ExpectedCount,
		"confidence", solution.ConfidenceScore)

	return c.publishSolution(ctx, gen.Problem, solution)
}
