package problemmonitor

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"

	"github.com/c360studio/chronos/event"
	"github.com/c360studio/chronos/llm"
	"github.com/c360studio/chronos/strategy"
)

// configSchema defines the configuration schema.
var configSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the problem-monitor processor component.
type Config struct {
	// EventsStream is the JetStream stream carrying problem detection events.
	EventsStream string `json:"events_stream" schema:"type:string,description:JetStream stream for problem events,category:basic,default:CHRONOS_EVENTS"`

	// TasksStream is the JetStream stream carrying agentic tasks and partials.
	TasksStream string `json:"tasks_stream" schema:"type:string,description:JetStream stream for agentic tasks,category:basic,default:CHRONOS_TASKS"`

	// ProblemsSubject is the subject pattern for consumed problem events.
	ProblemsSubject string `json:"problems_subject" schema:"type:string,description:Subject pattern for problem detection events,category:advanced,default:chronos.events.problems.>"`

	// PartialSubject is the subject agent partial solutions arrive on.
	PartialSubject string `json:"partial_subject" schema:"type:string,description:Subject for agent partial solutions,category:advanced,default:chronos.tasks.airspace.partial_solution"`

	// SolutionSubject is the subject generated solutions are published on.
	SolutionSubject string `json:"solution_subject" schema:"type:string,description:Subject for publishing generated solutions,category:advanced,default:chronos.solutions.generated"`

	// Mode selects the solving strategy (RULES, LLM, or AGENTIC).
	Mode string `json:"mode" schema:"type:string,description:Solving strategy mode,category:basic,default:RULES"`

	// MinSeverity is the lowest problem severity that triggers solving.
	MinSeverity string `json:"min_severity" schema:"type:string,description:Minimum severity that triggers solving,category:basic,default:critical"`

	// MergeTimeout bounds how long the agentic merger waits for partials.
	MergeTimeout string `json:"merge_timeout" schema:"type:string,description:Agentic merge window,category:advanced,default:30s"`

	// SweepInterval is how often pending generations are re-checked.
	SweepInterval string `json:"sweep_interval" schema:"type:string,description:Generation sweep interval,category:advanced,default:5s"`

	// Endpoints is the ordered LLM endpoint fallback list for LLM mode.
	Endpoints []llm.Endpoint `json:"llm_endpoints,omitempty" schema:"type:object,description:Ordered LLM endpoints for LLM mode,category:advanced"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty" schema:"type:ports,description:Input/output port definitions,category:basic"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		EventsStream:    "CHRONOS_EVENTS",
		TasksStream:     "CHRONOS_TASKS",
		ProblemsSubject: event.SubjectProblemsAll,
		PartialSubject:  event.SubjectPartialResult,
		SolutionSubject: event.SubjectSolutionGenerated,
		Mode:            string(strategy.ModeRules),
		MinSeverity:     "critical",
		MergeTimeout:    "30s",
		SweepInterval:   "5s",
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "problem-events",
					Type:        "jetstream",
					Subject:     event.SubjectProblemsAll,
					StreamName:  "CHRONOS_EVENTS",
					Description: "Receive problem detection events",
					Required:    true,
				},
				{
					Name:        "partial-solutions",
					Type:        "jetstream",
					Subject:     event.SubjectPartialResult,
					StreamName:  "CHRONOS_TASKS",
					Description: "Receive agent partial solutions (agentic mode)",
					Required:    false,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "generated-solutions",
					Type:        "nats",
					Subject:     event.SubjectSolutionGenerated,
					Description: "Publish generated solutions",
					Required:    true,
				},
				{
					Name:        "task-assignments",
					Type:        "nats",
					Subject:     event.SubjectTasksAll,
					Description: "Dispatch agentic sub-tasks",
					Required:    false,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.EventsStream == "" {
		return fmt.Errorf("events_stream is required")
	}
	if c.SolutionSubject == "" {
		return fmt.Errorf("solution_subject is required")
	}
	if _, err := strategy.ParseMode(c.Mode); err != nil {
		return err
	}
	return nil
}

// GetMergeTimeout parses the configured merge window, defaulting to 30s.
func (c *Config) GetMergeTimeout() time.Duration {
	d, err := time.ParseDuration(c.MergeTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// GetSweepInterval parses the configured sweep interval, defaulting to 5s.
func (c *Config) GetSweepInterval() time.Duration {
	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}
