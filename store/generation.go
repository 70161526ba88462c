package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/chronos/fix"
	"github.com/c360studio/chronos/problem"
)

// Generation is the persisted dispatch record for one agentic solution
// generation. The merge decision derives entirely from ExpectedCount and
// Deadline, so a restarted monitor recovers the same decision from this
// record alone.
type Generation struct {
	Problem       *problem.Problem               `json:"problem"`
	TaskIDs       []string                       `json:"task_ids"`
	ExpectedCount int                            `json:"expected_count"`
	Deadline      time.Time                      `json:"deadline"`
	Partials      map[string]fix.PartialSolution `json:"partials,omitempty"`
	Merged        bool                           `json:"merged"`
	DispatchedAt  time.Time                      `json:"dispatched_at"`
}

// NewGeneration builds a dispatch record for a problem and its task ids.
func NewGeneration(p *problem.Problem, taskIDs []string, deadline time.Time) *Generation {
	return &Generation{
		Problem:       p,
		TaskIDs:       taskIDs,
		ExpectedCount: len(taskIDs),
		Deadline:      deadline,
		Partials:      map[string]fix.PartialSolution{},
		DispatchedAt:  time.Now().UTC(),
	}
}

// AddPartial records a partial result in its task slot. A duplicate task id
// overwrites its slot and returns false; it never double-counts. Partials
// for task ids this generation never dispatched are rejected.
func (g *Generation) AddPartial(partial fix.PartialSolution) bool {
	known := false
	for _, taskID := range g.TaskIDs {
		if taskID == partial.TaskID {
			known = true
			break
		}
	}
	if !known {
		return false
	}

	if g.Partials == nil {
		g.Partials = map[string]fix.PartialSolution{}
	}
	_, duplicate := g.Partials[partial.TaskID]
	g.Partials[partial.TaskID] = partial
	return !duplicate
}

// Complete reports whether every dispatched task has a recorded partial.
func (g *Generation) Complete() bool {
	return len(g.Partials) >= g.ExpectedCount
}

// Expired reports whether the merge deadline has passed.
func (g *Generation) Expired(now time.Time) bool {
	return now.After(g.Deadline)
}

// OrderedPartials returns received partials in task-dispatch order,
// skipping tasks that never reported.
func (g *Generation) OrderedPartials() []fix.PartialSolution {
	partials := make([]fix.PartialSolution, 0, len(g.Partials))
	for _, taskID := range g.TaskIDs {
		if partial, ok := g.Partials[taskID]; ok {
			partials = append(partials, partial)
		}
	}
	return partials
}

// CreateGeneration stores a new dispatch record keyed by problem id.
// Returns ErrExists if the problem already has a dispatch record.
func (s *Store) CreateGeneration(ctx context.Context, g *Generation) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal generation: %w", err)
	}

	if _, err := s.generations.Create(ctx, g.Problem.ProblemID, data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return fmt.Errorf("generation %s: %w", g.Problem.ProblemID, ErrExists)
		}
		return fmt.Errorf("store generation %s: %w", g.Problem.ProblemID, err)
	}

	return nil
}

// GetGeneration retrieves a dispatch record and its revision.
func (s *Store) GetGeneration(ctx context.Context, problemID string) (*Generation, uint64, error) {
	entry, err := s.generations.Get(ctx, problemID)
	if err != nil {
		if isNotFound(err) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("get generation %s: %w", problemID, err)
	}

	var g Generation
	if err := json.Unmarshal(entry.Value(), &g); err != nil {
		return nil, 0, fmt.Errorf("unmarshal generation %s: %w", problemID, err)
	}

	return &g, entry.Revision(), nil
}

// UpdateGeneration writes a dispatch record conditioned on its revision.
func (s *Store) UpdateGeneration(ctx context.Context, g *Generation, revision uint64) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal generation: %w", err)
	}

	if _, err := s.generations.Update(ctx, g.Problem.ProblemID, data, revision); err != nil {
		return fmt.Errorf("update generation %s at revision %d: %w", g.Problem.ProblemID, revision, err)
	}

	return nil
}

// ListGenerations returns all dispatch records for the merge sweeper.
// Entries that fail to load are skipped.
func (s *Store) ListGenerations(ctx context.Context) ([]*Generation, error) {
	keys, err := s.generations.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list generation keys: %w", err)
	}

	generations := make([]*Generation, 0, len(keys))
	for _, key := range keys {
		entry, err := s.generations.Get(ctx, key)
		if err != nil {
			continue
		}
		var g Generation
		if err := json.Unmarshal(entry.Value(), &g); err != nil {
			continue
		}
		generations = append(generations, &g)
	}

	return generations, nil
}
