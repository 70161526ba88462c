package scenariofeed

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the component registration interface.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the scenario-feed component with a registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}

	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "scenario-feed",
		Factory:     NewComponent,
		Schema:      configSchema,
		Type:        "processor",
		Protocol:    "coordination",
		Domain:      "chronos",
		Description: "Replays scenario files as problem events and telemetry samples",
		Version:     "0.1.0",
	})
}
