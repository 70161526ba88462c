package fixcoordinator

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the component registration interface.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the fix-coordinator component with a registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}

	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "fix-coordinator",
		Factory:     NewComponent,
		Schema:      configSchema,
		Type:        "processor",
		Protocol:    "coordination",
		Domain:      "chronos",
		Description: "Owns the fix lifecycle from proposal through rollback",
		Version:     "0.1.0",
	})
}
