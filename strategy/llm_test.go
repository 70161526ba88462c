package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/chronos/llm"
)

type mockCompleter struct {
	resp    *llm.Response
	err     error
	lastReq llm.Request
	calls   int
}

func (m *mockCompleter) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	m.calls++
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}

const modelSolutionJSON = `{
  "solution_type": "multi_action",
  "affected_entities": ["UAL123", "DAL456"],
  "proposed_actions": [
    {
      "entity_id": "UAL123",
      "action_kind": "altitude_change",
      "parameters": {"to_altitude_ft": 38000},
      "reasoning": "Climb above the conflict"
    }
  ],
  "estimated_impact": {"total_delay_minutes": 3, "fuel_impact_percent": 0.8},
  "confidence_score": 0.9,
  "requires_approval": true
}`

func TestLLM_GenerateParsesModelSolution(t *testing.T) {
	completer := &mockCompleter{
		resp: &llm.Response{
			Content: "```json\n" + modelSolutionJSON + "\n```",
			Model:   "mock-model",
		},
	}
	gen := NewLLM(completer, nil)

	solution, err := gen.Generate(context.Background(), conflictProblem())
	require.NoError(t, err)

	assert.Equal(t, "CONF-001", solution.ProblemID)
	assert.Len(t, solution.ProposedActions, 1)
	assert.Equal(t, 0.9, solution.ConfidenceScore)
	assert.Equal(t, []string{"llm:mock-model"}, solution.GeneratedBy)
	assert.True(t, solution.RequiresApproval)
	assert.Contains(t, solution.SolutionID, "SOL-LLM-")

	require.NotNil(t, completer.lastReq.Temperature)
	assert.Equal(t, 0.3, *completer.lastReq.Temperature)
	assert.Equal(t, 2000, completer.lastReq.MaxTokens)
	assert.Len(t, completer.lastReq.Messages, 2)
}

func TestLLM_FallsBackOnTransportError(t *testing.T) {
	completer := &mockCompleter{err: errors.New("all endpoints failed")}
	gen := NewLLM(completer, nil)

	solution, err := gen.Generate(context.Background(), conflictProblem())
	require.NoError(t, err, "transport failure must not surface")

	assert.Equal(t, []string{fallbackTag}, solution.GeneratedBy)
	assert.Equal(t, 0.85, solution.ConfidenceScore)
	assert.Len(t, solution.ProposedActions, 2)
	assert.Equal(t, 1, completer.calls)
}

func TestLLM_FallsBackOnUnparseableResponse(t *testing.T) {
	completer := &mockCompleter{
		resp: &llm.Response{Content: "I cannot produce a plan for this situation.", Model: "mock-model"},
	}
	gen := NewLLM(completer, nil)

	solution, err := gen.Generate(context.Background(), conflictProblem())
	require.NoError(t, err)
	assert.Equal(t, []string{fallbackTag}, solution.GeneratedBy)
}

func TestLLM_FallsBackOnInvalidSolution(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "no actions",
			content: `{"solution_type": "reroute", "proposed_actions": [], "confidence_score": 0.9}`,
		},
		{
			name:    "confidence out of range",
			content: `{"solution_type": "reroute", "proposed_actions": [{"entity_id": "X", "action_kind": "reroute"}], "confidence_score": 1.4}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completer := &mockCompleter{resp: &llm.Response{Content: tt.content, Model: "mock-model"}}
			gen := NewLLM(completer, nil)

			solution, err := gen.Generate(context.Background(), conflictProblem())
			require.NoError(t, err)
			assert.Equal(t, []string{fallbackTag}, solution.GeneratedBy)
		})
	}
}

func TestForMode(t *testing.T) {
	rules, err := ForMode(ModeRules, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "rules", rules.Name())

	gen, err := ForMode(ModeLLM, &mockCompleter{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "llm", gen.Name())

	_, err = ForMode(ModeLLM, nil, nil)
	assert.Error(t, err, "LLM mode needs a client")

	_, err = ForMode(ModeAgentic, nil, nil)
	assert.Error(t, err, "agentic mode is not a single-call generator")
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "RULES", want: ModeRules},
		{in: "rules", want: ModeRules},
		{in: " llm ", want: ModeLLM},
		{in: "Agentic", want: ModeAgentic},
		{in: "oracle", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}
