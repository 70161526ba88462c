package problemmonitor

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the problem-monitor component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "problem-monitor",
		Factory:     NewComponent,
		Schema:      configSchema,
		Type:        "processor",
		Protocol:    "coordination",
		Domain:      "chronos",
		Description: "Filters detected problems and runs the configured solving strategy",
		Version:     "0.1.0",
	})
}
