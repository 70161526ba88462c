// Package strategy implements the three interchangeable solution
// generation strategies: deterministic rules, single LLM call with rules
// fallback, and the agentic split/merge primitives orchestrated by the
// problem monitor.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/c360studio/chronos/fix"
	"github.com/c360studio/chronos/llm"
	"github.com/c360studio/chronos/problem"
)

// Mode selects the generation strategy. It is fixed at configuration load
// and never re-evaluated per call.
type Mode string

// Generation modes.
const (
	ModeRules   Mode = "RULES"
	ModeLLM     Mode = "LLM"
	ModeAgentic Mode = "AGENTIC"
)

// ParseMode normalizes a configured mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToUpper(strings.TrimSpace(s))) {
	case ModeRules:
		return ModeRules, nil
	case ModeLLM:
		return ModeLLM, nil
	case ModeAgentic:
		return ModeAgentic, nil
	default:
		return "", fmt.Errorf("unknown strategy mode: %q", s)
	}
}

// Generator produces a Solution for a Problem.
type Generator interface {
	// Name identifies the strategy in solution provenance and logs.
	Name() string

	// Generate returns a valid Solution or an error. The Rules generator
	// never errors; the LLM generator degrades to Rules internally.
	Generate(ctx context.Context, p *problem.Problem) (*fix.Solution, error)
}

// Completer is the LLM transport surface the strategy needs. *llm.Client
// satisfies it; tests substitute a mock.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// UnavailableError reports that a strategy could not produce a solution
// (transport or parse failure). The LLM generator recovers from it
// internally; it only escapes through logs.
type UnavailableError struct {
	Strategy string
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("strategy %s unavailable: %v", e.Strategy, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// ForMode builds the generator for a configured mode. ModeAgentic has no
// single-call generator; its split/merge runs in the problem monitor, which
// uses Rules as the zero-partial fallback.
func ForMode(mode Mode, completer Completer, logger *slog.Logger) (Generator, error) {
	switch mode {
	case ModeRules:
		return NewRules(), nil
	case ModeLLM:
		if completer == nil {
			return nil, fmt.Errorf("mode %s requires an LLM client", mode)
		}
		return NewLLM(completer, logger), nil
	case ModeAgentic:
		return nil, fmt.Errorf("mode %s is an orchestration, not a single-call generator", mode)
	default:
		return nil, fmt.Errorf("unknown strategy mode: %q", mode)
	}
}
