package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/c360studio/chronos/fix"
	"github.com/c360studio/chronos/llm"
	"github.com/c360studio/chronos/problem"
)

// fallbackTag marks solutions the LLM strategy delegated to rules.
const fallbackTag = "llm-fallback-rules"

const (
	llmTemperature = 0.3
	llmMaxTokens   = 2000
)

const solutionSystemPrompt = `You are an incident-response planner for airspace, transit, and power operations.
Given a problem event, propose a corrective solution as strict JSON matching this schema:

{
  "solution_type": "reroute" | "altitude_change" | "speed_adjustment" | "multi_action",
  "affected_entities": ["..."],
  "proposed_actions": [
    {
      "entity_id": "...",
      "action_kind": "altitude_change" | "speed_change" | "speed_reduction" | "departure_shift" | "reroute" | "advisory" | "power_recovery",
      "parameters": { "...": "numeric or string values" },
      "reasoning": "one sentence"
    }
  ],
  "estimated_impact": {
    "total_delay_minutes": 0.0,
    "fuel_impact_percent": 0.0,
    "affected_passengers": 0,
    "risk_score_delta": 0.0,
    "area_affected": ""
  },
  "confidence_score": 0.0,
  "requires_approval": true
}

Respond with the JSON object only. No prose, no markdown.`

// LLM is the single-call AI strategy. Transport or parse failures degrade
// to the Rules strategy; callers always receive a valid Solution.
type LLM struct {
	completer Completer
	rules     *Rules
	logger    *slog.Logger
}

// NewLLM creates the LLM strategy over a completion transport.
func NewLLM(completer Completer, logger *slog.Logger) *LLM {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLM{
		completer: completer,
		rules:     NewRules(),
		logger:    logger,
	}
}

// Name implements Generator.
func (g *LLM) Name() string { return "llm" }

// Generate implements Generator. It never returns an error: any failure
// falls back to Rules and tags the result's provenance.
func (g *LLM) Generate(ctx context.Context, p *problem.Problem) (*fix.Solution, error) {
	solution, err := g.generateFromModel(ctx, p)
	if err != nil {
		g.logger.Warn("LLM strategy unavailable, falling back to rules",
			"problem_id", p.ProblemID,
			"error", &UnavailableError{Strategy: g.Name(), Err: err})

		solution, _ = g.rules.Generate(ctx, p)
		solution.GeneratedBy = []string{fallbackTag}
		return solution, nil
	}
	return solution, nil
}

// solutionDraft is the model-facing solution shape. Identity fields are
// filled in afterwards so the model cannot forge them.
type solutionDraft struct {
	SolutionKind     string               `json:"solution_type"`
	AffectedEntities []string             `json:"affected_entities"`
	ProposedActions  []fix.ProposedAction `json:"proposed_actions"`
	EstimatedImpact  fix.EstimatedImpact  `json:"estimated_impact"`
	ConfidenceScore  float64              `json:"confidence_score"`
	RequiresApproval bool                 `json:"requires_approval"`
}

func (g *LLM) generateFromModel(ctx context.Context, p *problem.Problem) (*fix.Solution, error) {
	problemJSON, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serialize problem: %w", err)
	}

	temp := llmTemperature
	resp, err := g.completer.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: solutionSystemPrompt},
			{Role: "user", Content: fmt.Sprintf("Problem event:\n%s", problemJSON)},
		},
		Temperature: &temp,
		MaxTokens:   llmMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}

	raw := llm.ExtractJSON(resp.Content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in model response")
	}

	var draft solutionDraft
	if err := json.Unmarshal([]byte(raw), &draft); err != nil {
		return nil, fmt.Errorf("parse solution JSON: %w", err)
	}
	if len(draft.ProposedActions) == 0 {
		return nil, fmt.Errorf("model proposed no actions")
	}
	if draft.ConfidenceScore < 0 || draft.ConfidenceScore > 1 {
		return nil, fmt.Errorf("confidence_score %v out of range", draft.ConfidenceScore)
	}

	affected := draft.AffectedEntities
	if len(affected) == 0 {
		affected = p.Entities()
	}

	solution := &fix.Solution{
		SolutionID:       fix.NewSolutionID("LLM", p.ProblemID),
		SolutionKind:     draft.SolutionKind,
		ProblemID:        p.ProblemID,
		AffectedEntities: affected,
		ProposedActions:  draft.ProposedActions,
		EstimatedImpact:  draft.EstimatedImpact,
		ConfidenceScore:  draft.ConfidenceScore,
		GeneratedBy:      []string{"llm:" + resp.Model},
		RequiresApproval: draft.RequiresApproval,
	}
	if err := solution.Validate(); err != nil {
		return nil, fmt.Errorf("model solution invalid: %w", err)
	}
	return solution, nil
}
