// Package checks registers every bundled check plugin with a registry.
package checks

import (
	"fmt"

	"github.com/supporttools/prism-check/pkg/checks/nutanix"
	"github.com/supporttools/prism-check/pkg/plugins"
)

// registrars lists the Register functions of all bundled plugin packages.
var registrars = []struct {
	name     string
	register func(*plugins.Registry) error
}{
	{"nutanix", nutanix.Register},
}

// RegisterAll registers all bundled plugins with reg. It must be called once
// at startup, before the engine runs.
func RegisterAll(reg *plugins.Registry) error {
	for _, r := range registrars {
		if err := r.register(reg); err != nil {
			return fmt.Errorf("failed to register %s plugins: %w", r.name, err)
		}
	}
	return nil
}

// NewRegistry returns a registry with all bundled plugins registered.
func NewRegistry() (*plugins.Registry, error) {
	reg := plugins.NewRegistry()
	if err := RegisterAll(reg); err != nil {
		return nil, err
	}
	return reg, nil
}
