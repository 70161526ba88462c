// Package main implements a mock LLM server for offline development.
// It serves OpenAI-compatible /v1/chat/completions responses so chronos
// can run in LLM mode without a real model. When the prompt carries a
// problem event, the reply is a schema-conformant solution draft
// synthesized from that problem. Fixture files can pin a canned reply
// per model instead.
//
// Usage:
//
//	mock-llm -port 8089
//	mock-llm -port 8089 -fixtures /path/to/fixtures
//
// Fixture files are JSON named by model (e.g. "chronos-mock.json" maps
// to model "chronos-mock") and are returned verbatim as the assistant
// message, bypassing synthesis.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/chronos/fix"
	"github.com/c360studio/chronos/llm"
	"github.com/c360studio/chronos/problem"
)

// --- OpenAI-compatible types ---

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// solutionDraft mirrors the schema the solution prompt asks the model
// for. Identity fields are filled in by the caller, not the model.
type solutionDraft struct {
	SolutionType     string               `json:"solution_type"`
	AffectedEntities []string             `json:"affected_entities"`
	ProposedActions  []fix.ProposedAction `json:"proposed_actions"`
	EstimatedImpact  fix.EstimatedImpact  `json:"estimated_impact"`
	ConfidenceScore  float64              `json:"confidence_score"`
	RequiresApproval bool                 `json:"requires_approval"`
}

// --- Server ---

type server struct {
	fixtures map[string]string // model name → canned response content
	calls    atomic.Int64      // total calls served

	// Per-model call counters for the /stats endpoint.
	modelCalls   map[string]int64
	modelCallsMu sync.Mutex
}

func newServer(fixtures map[string]string) *server {
	if fixtures == nil {
		fixtures = make(map[string]string)
	}
	return &server{
		fixtures:   fixtures,
		modelCalls: make(map[string]int64),
	}
}

func (s *server) countCall(model string) int64 {
	s.modelCallsMu.Lock()
	defer s.modelCallsMu.Unlock()
	s.modelCalls[model]++
	return s.modelCalls[model]
}

func main() {
	fixtureDir := flag.String("fixtures", "", "directory containing canned response files (optional)")
	port := flag.Int("port", 8089, "port to listen on")
	flag.Parse()

	// Allow env var override
	if envDir := os.Getenv("MOCK_LLM_FIXTURES"); envDir != "" && *fixtureDir == "" {
		*fixtureDir = envDir
	}

	var fixtures map[string]string
	if *fixtureDir != "" {
		var err error
		fixtures, err = loadFixtures(*fixtureDir)
		if err != nil {
			log.Fatalf("Failed to load fixtures from %s: %v", *fixtureDir, err)
		}
		log.Printf("Loaded %d canned model(s) from %s", len(fixtures), *fixtureDir)
	}

	s := newServer(fixtures)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/v1/models", s.handleModels)
	mux.HandleFunc("/stats", s.handleStats)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Mock LLM server listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	callNum := s.calls.Add(1)
	modelCall := s.countCall(req.Model)
	log.Printf("[call %d] model=%s call=%d messages=%d", callNum, req.Model, modelCall, len(req.Messages))

	// A canned fixture for the model wins over synthesis
	content, ok := s.fixtures[req.Model]
	if !ok {
		p, err := extractProblem(req.Messages)
		if err != nil {
			log.Printf("[call %d] %v", callNum, err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		draft := synthesizeDraft(p)
		data, err := json.MarshalIndent(draft, "", "  ")
		if err != nil {
			http.Error(w, fmt.Sprintf("marshal draft: %v", err), http.StatusInternalServerError)
			return
		}
		content = string(data)
	}

	resp := chatResponse{
		ID:      fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{
			{
				Index: 0,
				Message: chatMessage{
					Role:    "assistant",
					Content: content,
				},
				FinishReason: "stop",
			},
		},
		Usage: chatUsage{
			PromptTokens:     len(content) / 4, // rough estimate
			CompletionTokens: len(content) / 4,
			TotalTokens:      len(content) / 2,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
	log.Printf("[call %d] responded with %d bytes for model=%s", callNum, len(content), req.Model)
}

// handleModels returns the advertised model list (OpenAI-compatible).
func (s *server) handleModels(w http.ResponseWriter, _ *http.Request) {
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	models := []modelEntry{{ID: "chronos-mock", Object: "model", OwnedBy: "mock-llm"}}
	for name := range s.fixtures {
		if name == "chronos-mock" {
			continue
		}
		models = append(models, modelEntry{
			ID:      name,
			Object:  "model",
			OwnedBy: "mock-llm",
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   models,
	})
}

// handleStats returns call counts for test assertions.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.modelCallsMu.Lock()
	callsByModel := make(map[string]int64, len(s.modelCalls))
	for model, count := range s.modelCalls {
		callsByModel[model] = count
	}
	s.modelCallsMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"total_calls":    s.calls.Load(),
		"calls_by_model": callsByModel,
	})
}

// extractProblem pulls the problem event out of the last user message.
func extractProblem(messages []chatMessage) (*problem.Problem, error) {
	var prompt string
	for _, m := range messages {
		if m.Role == "user" {
			prompt = m.Content
		}
	}
	if prompt == "" {
		return nil, fmt.Errorf("no user message in request")
	}

	raw := llm.ExtractJSON(prompt)
	if raw == "" {
		return nil, fmt.Errorf("no problem event in prompt")
	}

	var p problem.Problem
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("parse problem event: %w", err)
	}
	return &p, nil
}

// synthesizeDraft fabricates a plausible solution draft for the problem.
// The point is schema conformance, not operational quality, so the
// numbers are deliberately simple.
func synthesizeDraft(p *problem.Problem) solutionDraft {
	entities := p.Entities()

	switch p.ProblemType {
	case problem.TypeConflict:
		actions := []fix.ProposedAction{{
			EntityID:   entityAt(entities, 0),
			ActionKind: "altitude_change",
			Parameters: map[string]any{"altitude_change_ft": 2000},
			Reasoning:  "climb the first aircraft clear of the conflict geometry",
		}}
		if len(entities) > 1 {
			actions = append(actions, fix.ProposedAction{
				EntityID:   entities[1],
				ActionKind: "speed_change",
				Parameters: map[string]any{"speed_change_kn": -15},
				Reasoning:  "slow the second aircraft to open longitudinal spacing",
			})
		}
		return solutionDraft{
			SolutionType:     "multi_action",
			AffectedEntities: entities,
			ProposedActions:  actions,
			EstimatedImpact: fix.EstimatedImpact{
				TotalDelayMinutes: 3,
				FuelImpactPercent: 0.4,
				RiskScoreDelta:    -0.5,
				AreaAffected:      p.SectorID,
			},
			ConfidenceScore:  0.9,
			RequiresApproval: true,
		}

	case problem.TypeHotspot:
		var actions []fix.ProposedAction
		for _, flight := range entities {
			actions = append(actions, fix.ProposedAction{
				EntityID:   flight,
				ActionKind: "speed_reduction",
				Parameters: map[string]any{"speed_change_kn": -20, "delay_minutes": 2},
				Reasoning:  "meter the flight to spread sector entry times",
			})
		}
		if len(actions) == 0 {
			actions = []fix.ProposedAction{{
				EntityID:   p.SectorID,
				ActionKind: "advisory",
				Parameters: map[string]any{"advisory": "expect metering"},
				Reasoning:  "no flight list available, advise the sector instead",
			}}
		}
		return solutionDraft{
			SolutionType:     "speed_adjustment",
			AffectedEntities: entities,
			ProposedActions:  actions,
			EstimatedImpact: fix.EstimatedImpact{
				TotalDelayMinutes: 2 * float64(len(entities)),
				AreaAffected:      p.SectorID,
			},
			ConfidenceScore:  0.88,
			RequiresApproval: false,
		}

	default:
		// Violations and anything unrecognized get a single reroute
		return solutionDraft{
			SolutionType:     "reroute",
			AffectedEntities: entities,
			ProposedActions: []fix.ProposedAction{{
				EntityID:   entityAt(entities, 0),
				ActionKind: "reroute",
				Parameters: map[string]any{"reason": string(p.ProblemType)},
				Reasoning:  "route the entity around the violated constraint",
			}},
			EstimatedImpact: fix.EstimatedImpact{
				TotalDelayMinutes: 6,
				AreaAffected:      p.SectorID,
			},
			ConfidenceScore:  0.82,
			RequiresApproval: true,
		}
	}
}

func entityAt(entities []string, i int) string {
	if i < len(entities) {
		return entities[i]
	}
	return "unknown"
}

// loadFixtures reads JSON files from dir and returns a map of model→content.
// The file name minus .json is the model name.
func loadFixtures(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	fixtures := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if !json.Valid(data) {
			return nil, fmt.Errorf("invalid JSON in %s", path)
		}

		model := strings.TrimSuffix(entry.Name(), ".json")
		fixtures[model] = string(data)
	}

	if len(fixtures) == 0 {
		return nil, fmt.Errorf("no fixture files found in %s", dir)
	}

	return fixtures, nil
}
