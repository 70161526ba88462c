package scenariofeed

import (
	"fmt"
	"reflect"

	"github.com/c360studio/semstreams/component"

	"github.com/c360studio/chronos/event"
)

// configSchema defines the configuration schema.
var configSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the scenario-feed processor component.
type Config struct {
	// Directory holds the scenario files to replay.
	Directory string `json:"directory" schema:"type:string,description:Directory holding scenario files,category:basic,default:./scenarios"`

	// Patterns selects scenario files under the directory.
	Patterns []string `json:"patterns,omitempty" schema:"type:array,description:Glob patterns selecting scenario files,category:advanced,default:[*.json]"`

	// SpeedFactor scales replay offsets; 2 replays twice as fast.
	SpeedFactor float64 `json:"speed_factor,omitempty" schema:"type:number,description:Replay speed multiplier,category:basic,default:1"`

	// Loop replays the scenario set repeatedly.
	Loop bool `json:"loop,omitempty" schema:"type:bool,description:Replay the scenario set repeatedly,category:basic,default:false"`

	// Watch re-queues a scenario when its file is created or modified.
	Watch bool `json:"watch,omitempty" schema:"type:bool,description:Watch the directory and replay changed scenarios,category:advanced,default:false"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty" schema:"type:ports,description:Input/output port definitions,category:basic"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Directory:   "./scenarios",
		Patterns:    []string{"*.json"},
		SpeedFactor: 1,
		Ports: &component.PortConfig{
			Outputs: []component.PortDefinition{
				{
					Name:        "problem-events",
					Type:        "nats",
					Subject:     event.SubjectProblemsAll,
					Description: "Publish replayed problem detection events",
					Required:    true,
				},
				{
					Name:        "telemetry-samples",
					Type:        "nats",
					Subject:     event.SubjectTelemetrySamples,
					Description: "Publish replayed telemetry samples",
					Required:    false,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Directory == "" {
		return fmt.Errorf("directory is required")
	}
	if len(c.Patterns) == 0 {
		return fmt.Errorf("at least one pattern is required")
	}
	return nil
}

// GetSpeedFactor returns the replay speed multiplier, defaulting to 1.
func (c *Config) GetSpeedFactor() float64 {
	if c.SpeedFactor <= 0 {
		return 1
	}
	return c.SpeedFactor
}
