// Package nutanix contains check plugins for Nutanix Prism appliances.
package nutanix

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/supporttools/prism-check/pkg/literal"
	"github.com/supporttools/prism-check/pkg/plugins"
	"github.com/supporttools/prism-check/pkg/types"
)

const (
	// RemoteSupportSection is the agent section carrying the remote support state.
	RemoteSupportSection = "prism_remote_support"

	// RemoteSupportCheck is the check plugin name.
	RemoteSupportCheck = "prism_remote_support"

	// RemoteSupportRuleset is the rule-set operators use to override parameters.
	RemoteSupportRuleset = "prism_remote_support"

	// RemoteSupportServiceName is the service description pattern.
	RemoteSupportServiceName = "NTNX %s"

	// RemoteTunnelItem is the only item this plugin discovers.
	RemoteTunnelItem = "Remote Tunnel"

	// ParamTunnelState is accepted and validated but does not influence the state.
	ParamTunnelState = "tunnel_state"
)

var (
	// ErrEmptySection is returned when the agent delivered no rows or no fields.
	ErrEmptySection = errors.New("empty prism_remote_support section")

	// ErrNotMapping is returned when the section decodes to something other
	// than a mapping.
	ErrNotMapping = errors.New("prism_remote_support section is not a mapping")
)

// Section is the decoded remote support payload, for example
// {"enable": {"enabled": true}}.
type Section map[string]any

// DefaultParameters returns the parameters every service starts with.
func DefaultParameters() types.Parameters {
	return types.Parameters{ParamTunnelState: false}
}

// ParsePrismRemoteSupport decodes the literal in the first field of the
// first row.
func ParsePrismRemoteSupport(table types.StringTable) (Section, error) {
	if len(table) == 0 || len(table[0]) == 0 {
		return nil, ErrEmptySection
	}

	value, err := literal.Parse(table[0][0])
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s section: %w", RemoteSupportSection, err)
	}

	mapping, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: got %s", ErrNotMapping, describe(value))
	}
	return Section(mapping), nil
}

// DiscoverPrismRemoteSupport yields one "Remote Tunnel" service per top-level
// entry of the section. The label never depends on the entry.
func DiscoverPrismRemoteSupport(section Section) []types.Service {
	services := make([]types.Service, 0, len(section))
	for range section {
		services = append(services, types.Service{Item: RemoteTunnelItem})
	}
	return services
}

// CheckPrismRemoteSupport reports WARN while the remote support tunnel is
// enabled and OK otherwise. Missing keys mean disabled. An "enable" entry that
// is not a mapping is reported as malformed data.
func CheckPrismRemoteSupport(item string, params types.Parameters, section Section) ([]types.Result, error) {
	if item != RemoteTunnelItem {
		return nil, nil
	}

	enabled, err := tunnelEnabled(section)
	if err != nil {
		return nil, err
	}

	if enabled {
		return []types.Result{{State: types.StateWarn, Summary: item + " is enabled(!)"}}, nil
	}
	return []types.Result{{State: types.StateOK, Summary: item + " is disabled"}}, nil
}

func tunnelEnabled(section Section) (bool, error) {
	raw, ok := section["enable"]
	if !ok {
		return false, nil
	}

	enable, ok := raw.(map[string]any)
	if !ok {
		return false, fmt.Errorf("%w: %q must be a mapping, got %s",
			types.ErrMalformedSection, "enable", describe(raw))
	}

	value, ok := enable["enabled"]
	if !ok {
		return false, nil
	}
	return literal.Truthy(value), nil
}

// ValidateParameters checks the rule-set values delivered for a service.
func ValidateParameters(params types.Parameters) error {
	if v, ok := params[ParamTunnelState]; ok {
		if _, isBool := v.(bool); !isBool {
			return fmt.Errorf("%s must be a boolean, got %T", ParamTunnelState, v)
		}
	}
	return nil
}

// Register declares the prism_remote_support section and check plugin.
func Register(reg *plugins.Registry) error {
	err := reg.RegisterSection(plugins.SectionInfo{
		Name: RemoteSupportSection,
		ParseFunction: func(table types.StringTable) (any, error) {
			return ParsePrismRemoteSupport(table)
		},
		Description: "Remote support tunnel state of a Nutanix cluster",
	})
	if err != nil {
		return err
	}

	return reg.RegisterCheck(plugins.CheckInfo{
		Name:              RemoteSupportCheck,
		ServiceName:       RemoteSupportServiceName,
		Sections:          []string{RemoteSupportSection},
		DefaultParameters: DefaultParameters(),
		RulesetName:       RemoteSupportRuleset,
		Discovery: func(section any) ([]types.Service, error) {
			s, err := asSection(section)
			if err != nil {
				return nil, err
			}
			return DiscoverPrismRemoteSupport(s), nil
		},
		Check: func(item string, params types.Parameters, section any) ([]types.Result, error) {
			s, err := asSection(section)
			if err != nil {
				return nil, err
			}
			return CheckPrismRemoteSupport(item, params, s)
		},
		Validator:   ValidateParameters,
		Description: "Warns while Nutanix remote support is enabled",
	})
}

func asSection(section any) (Section, error) {
	switch s := section.(type) {
	case Section:
		return s, nil
	case map[string]any:
		return Section(s), nil
	}
	return nil, fmt.Errorf("%w: unexpected section type %T", types.ErrMalformedSection, section)
}

func describe(v any) string {
	if v == nil {
		return "None"
	}
	switch v.(type) {
	case bool:
		return "bool"
	case string:
		return "str"
	case []byte:
		return "bytes"
	case int64, int, *big.Int:
		return "int"
	case float64:
		return "float"
	case []any:
		return "list"
	case literal.Tuple:
		return "tuple"
	case literal.Set:
		return "set"
	case map[string]any:
		return "dict"
	}
	return fmt.Sprintf("%T", v)
}
