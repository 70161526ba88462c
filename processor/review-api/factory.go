package reviewapi

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the component registration interface.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the review-api component with a registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}

	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "review-api",
		Factory:     NewComponent,
		Schema:      configSchema,
		Type:        "processor",
		Protocol:    "http",
		Domain:      "chronos",
		Description: "HTTP review surface for pending fixes and decisions",
		Version:     "0.1.0",
	})
}
