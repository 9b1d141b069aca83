// Package plugins provides the registry that holds agent sections and check
// plugins.
//
// Registration is explicit: the process builds a Registry at startup and
// hands it to each plugin package's Register function. Nothing registers
// itself at import time.
//
// Usage Example:
//
//	reg := plugins.NewRegistry()
//	if err := checks.RegisterAll(reg); err != nil {
//		return fmt.Errorf("failed to register check plugins: %w", err)
//	}
//
//	info := reg.Check("prism_remote_support")
package plugins

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/supporttools/prism-check/pkg/types"
)

// ParseFunction turns the raw rows of an agent section into the structured
// section passed to discovery and check functions.
type ParseFunction func(table types.StringTable) (any, error)

// DiscoveryFunction yields the services a section provides.
type DiscoveryFunction func(section any) ([]types.Service, error)

// CheckFunction evaluates one service item.
type CheckFunction func(item string, params types.Parameters, section any) ([]types.Result, error)

// ParameterValidator rejects parameter sets a check cannot work with.
type ParameterValidator func(params types.Parameters) error

// SectionInfo declares an agent section and how to parse it.
type SectionInfo struct {
	// Name is the section name as it appears in the agent output header.
	Name string

	// ParseFunction converts the section rows. It must be free of side effects.
	ParseFunction ParseFunction

	// Description is shown in help output.
	Description string
}

// CheckInfo declares a check plugin.
type CheckInfo struct {
	// Name is the unique check plugin name.
	Name string

	// ServiceName is the service description pattern. A "%s" verb is
	// replaced by the discovered item.
	ServiceName string

	// Sections lists the sections the plugin consumes. Defaults to the
	// plugin name. With one section the parsed section is passed as is;
	// with several, a map[string]any keyed by section name is passed.
	Sections []string

	// DefaultParameters are used for every service before rules apply.
	DefaultParameters types.Parameters

	// RulesetName names the rule-set operators use to override defaults.
	// Empty means the plugin is not configurable.
	RulesetName string

	Discovery DiscoveryFunction
	Check     CheckFunction

	// Validator is optional; it is applied to the effective parameters.
	Validator ParameterValidator

	Description string
}

// ServiceDescription renders the service name for an item.
func (c *CheckInfo) ServiceDescription(item string) string {
	if strings.Contains(c.ServiceName, "%s") {
		return fmt.Sprintf(c.ServiceName, item)
	}
	return c.ServiceName
}

// Registry holds the registered sections and check plugins.
type Registry struct {
	mu       sync.RWMutex
	sections map[string]*SectionInfo
	checks   map[string]*CheckInfo
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sections: make(map[string]*SectionInfo),
		checks:   make(map[string]*CheckInfo),
	}
}

var (
	// ErrEmptyName is returned when registering a section or plugin without a name.
	ErrEmptyName = errors.New("name cannot be empty")

	// ErrNilFunction is returned when a required function is missing.
	ErrNilFunction = errors.New("function cannot be nil")

	// ErrDuplicate is returned when a name is already registered.
	ErrDuplicate = errors.New("already registered")

	// ErrUnknownSection is returned when a check plugin consumes a section
	// that has not been registered.
	ErrUnknownSection = errors.New("unknown section")

	// ErrInvalidServiceName is returned for service name patterns that
	// cannot be rendered.
	ErrInvalidServiceName = errors.New("invalid service name")

	// ErrUnknownCheck is returned when looking up parameters for an
	// unregistered plugin.
	ErrUnknownCheck = errors.New("unknown check plugin")
)

// RegisterSection adds an agent section.
func (r *Registry) RegisterSection(info SectionInfo) error {
	if info.Name == "" {
		return fmt.Errorf("section %w", ErrEmptyName)
	}
	if info.ParseFunction == nil {
		return fmt.Errorf("parse %w for section %q", ErrNilFunction, info.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sections[info.Name]; exists {
		return fmt.Errorf("section %q %w", info.Name, ErrDuplicate)
	}

	infoCopy := info
	r.sections[info.Name] = &infoCopy
	return nil
}

// RegisterCheck adds a check plugin. All sections it consumes must already
// be registered.
func (r *Registry) RegisterCheck(info CheckInfo) error {
	if info.Name == "" {
		return fmt.Errorf("check plugin %w", ErrEmptyName)
	}
	if info.Discovery == nil {
		return fmt.Errorf("discovery %w for check plugin %q", ErrNilFunction, info.Name)
	}
	if info.Check == nil {
		return fmt.Errorf("check %w for check plugin %q", ErrNilFunction, info.Name)
	}
	if err := validateServiceName(info.ServiceName); err != nil {
		return fmt.Errorf("check plugin %q: %w", info.Name, err)
	}

	infoCopy := info
	if len(infoCopy.Sections) == 0 {
		infoCopy.Sections = []string{info.Name}
	} else {
		infoCopy.Sections = append([]string(nil), info.Sections...)
	}
	infoCopy.DefaultParameters = info.DefaultParameters.Clone()

	if info.Validator != nil {
		if err := info.Validator(infoCopy.DefaultParameters); err != nil {
			return fmt.Errorf("default parameters of check plugin %q: %w", info.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.checks[info.Name]; exists {
		return fmt.Errorf("check plugin %q %w", info.Name, ErrDuplicate)
	}
	for _, section := range infoCopy.Sections {
		if _, ok := r.sections[section]; !ok {
			return fmt.Errorf("check plugin %q: %w %q", info.Name, ErrUnknownSection, section)
		}
	}

	r.checks[info.Name] = &infoCopy
	return nil
}

// MustRegisterSection is RegisterSection that panics on error.
func (r *Registry) MustRegisterSection(info SectionInfo) {
	if err := r.RegisterSection(info); err != nil {
		panic(fmt.Sprintf("section registration failed: %v", err))
	}
}

// MustRegisterCheck is RegisterCheck that panics on error.
func (r *Registry) MustRegisterCheck(info CheckInfo) {
	if err := r.RegisterCheck(info); err != nil {
		panic(fmt.Sprintf("check plugin registration failed: %v", err))
	}
}

func validateServiceName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidServiceName)
	}
	if n := strings.Count(name, "%"); n > 1 || (n == 1 && !strings.Contains(name, "%s")) {
		return fmt.Errorf("%w: %q must contain at most one %%s verb", ErrInvalidServiceName, name)
	}
	return nil
}

// Section returns a copy of the section registration, or nil.
func (r *Registry) Section(name string) *SectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.sections[name]
	if !ok {
		return nil
	}
	infoCopy := *info
	return &infoCopy
}

// Check returns a copy of the check plugin registration, or nil.
func (r *Registry) Check(name string) *CheckInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.checks[name]
	if !ok {
		return nil
	}
	infoCopy := *info
	infoCopy.Sections = append([]string(nil), info.Sections...)
	infoCopy.DefaultParameters = info.DefaultParameters.Clone()
	return &infoCopy
}

// SectionNames returns all registered section names, sorted.
func (r *Registry) SectionNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sections))
	for name := range r.sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckNames returns all registered check plugin names, sorted.
func (r *Registry) CheckNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ChecksForSection returns the names of check plugins consuming a section, sorted.
func (r *Registry) ChecksForSection(section string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, info := range r.checks {
		for _, s := range info.Sections {
			if s == section {
				names = append(names, name)
				break
			}
		}
	}
	sort.Strings(names)
	return names
}

// ValidateParameters runs the plugin's validator, if any, on params.
func (r *Registry) ValidateParameters(check string, params types.Parameters) error {
	r.mu.RLock()
	info, ok := r.checks[check]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w %q, available plugins: %v", ErrUnknownCheck, check, r.CheckNames())
	}
	if info.Validator == nil {
		return nil
	}
	if err := info.Validator(params); err != nil {
		return fmt.Errorf("invalid parameters for check plugin %q: %w", check, err)
	}
	return nil
}

// RulesetNames returns the distinct rule-set names declared by check plugins, sorted.
func (r *Registry) RulesetNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var names []string
	for _, info := range r.checks {
		if info.RulesetName != "" && !seen[info.RulesetName] {
			seen[info.RulesetName] = true
			names = append(names, info.RulesetName)
		}
	}
	sort.Strings(names)
	return names
}
