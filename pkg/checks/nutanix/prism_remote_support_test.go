package nutanix

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/supporttools/prism-check/pkg/literal"
	"github.com/supporttools/prism-check/pkg/plugins"
	"github.com/supporttools/prism-check/pkg/types"
)

func mustParse(t *testing.T, text string) Section {
	t.Helper()
	section, err := ParsePrismRemoteSupport(types.StringTable{{text}})
	if err != nil {
		t.Fatalf("ParsePrismRemoteSupport(%q) failed: %v", text, err)
	}
	return section
}

// TestScenarios covers the agent payloads seen on real clusters.
func TestScenarios(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		wantServices  int
		wantState     types.State
		wantSummary   string
		wantParseFail bool
	}{
		{
			name:         "tunnel enabled",
			input:        "{'enable': {'enabled': True}}",
			wantServices: 1,
			wantState:    types.StateWarn,
			wantSummary:  "Remote Tunnel is enabled(!)",
		},
		{
			name:         "tunnel disabled",
			input:        "{'enable': {'enabled': False}}",
			wantServices: 1,
			wantState:    types.StateOK,
			wantSummary:  "Remote Tunnel is disabled",
		},
		{
			name:         "empty payload",
			input:        "{}",
			wantServices: 0,
			wantState:    types.StateOK,
			wantSummary:  "Remote Tunnel is disabled",
		},
		{
			name:          "not a literal",
			input:         "not a literal",
			wantParseFail: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			section, err := ParsePrismRemoteSupport(types.StringTable{{tt.input}})
			if tt.wantParseFail {
				if err == nil {
					t.Fatalf("expected parse error, got section %#v", section)
				}
				if !errors.Is(err, literal.ErrSyntax) {
					t.Errorf("expected literal.ErrSyntax, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected parse error: %v", err)
			}

			services := DiscoverPrismRemoteSupport(section)
			if len(services) != tt.wantServices {
				t.Fatalf("expected %d services, got %d", tt.wantServices, len(services))
			}
			for _, svc := range services {
				if svc.Item != RemoteTunnelItem {
					t.Errorf("unexpected item %q", svc.Item)
				}
			}

			results, err := CheckPrismRemoteSupport(RemoteTunnelItem, DefaultParameters(), section)
			if err != nil {
				t.Fatalf("unexpected check error: %v", err)
			}
			want := []types.Result{{State: tt.wantState, Summary: tt.wantSummary}}
			if !reflect.DeepEqual(results, want) {
				t.Errorf("expected %+v, got %+v", want, results)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		table   types.StringTable
		wantErr error
	}{
		{"no rows", types.StringTable{}, ErrEmptySection},
		{"nil table", nil, ErrEmptySection},
		{"empty row", types.StringTable{{}}, ErrEmptySection},
		{"list literal", types.StringTable{{"[1, 2]"}}, ErrNotMapping},
		{"scalar literal", types.StringTable{{"True"}}, ErrNotMapping},
		{"function call", types.StringTable{{"__import__('os').system('id')"}}, literal.ErrSyntax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePrismRemoteSupport(tt.table)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestParseUsesFirstFieldOnly(t *testing.T) {
	table := types.StringTable{
		{"{'enable': {'enabled': True}}", "ignored"},
		{"garbage that is never decoded"},
	}
	section, err := ParsePrismRemoteSupport(table)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Section{"enable": map[string]any{"enabled": true}}
	if !reflect.DeepEqual(section, want) {
		t.Errorf("expected %#v, got %#v", want, section)
	}
}

func TestCheckStates(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantState types.State
	}{
		{"enabled with extra keys", "{'enable': {'enabled': True, 'duration': 3600}}", types.StateWarn},
		{"enabled missing", "{'enable': {}}", types.StateOK},
		{"enable missing", "{'cluster': 'c1'}", types.StateOK},
		{"enabled as one", "{'enable': {'enabled': 1}}", types.StateWarn},
		{"enabled as zero", "{'enable': {'enabled': 0}}", types.StateOK},
		{"enabled as none", "{'enable': {'enabled': None}}", types.StateOK},
		{"enabled as string", "{'enable': {'enabled': 'yes'}}", types.StateWarn},
		{"enabled as empty string", "{'enable': {'enabled': ''}}", types.StateOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := CheckPrismRemoteSupport(RemoteTunnelItem, nil, mustParse(t, tt.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(results) != 1 {
				t.Fatalf("expected exactly one result, got %d", len(results))
			}
			if results[0].State != tt.wantState {
				t.Errorf("expected %s, got %s", tt.wantState, results[0].State)
			}

			keyword := "disabled"
			if tt.wantState == types.StateWarn {
				keyword = "enabled"
			}
			if !strings.Contains(results[0].Summary, keyword) {
				t.Errorf("summary %q does not contain %q", results[0].Summary, keyword)
			}
		})
	}
}

func TestCheckMalformedEnable(t *testing.T) {
	inputs := []string{
		"{'enable': True}",
		"{'enable': None}",
		"{'enable': 'yes'}",
		"{'enable': [True]}",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			results, err := CheckPrismRemoteSupport(RemoteTunnelItem, nil, mustParse(t, input))
			if !errors.Is(err, types.ErrMalformedSection) {
				t.Fatalf("expected ErrMalformedSection, got %v (results %+v)", err, results)
			}
			if len(results) != 0 {
				t.Errorf("expected no results on error, got %+v", results)
			}
		})
	}
}

func TestCheckIgnoresTunnelStateParameter(t *testing.T) {
	section := mustParse(t, "{'enable': {'enabled': True}}")

	for _, tunnelState := range []bool{true, false} {
		results, err := CheckPrismRemoteSupport(RemoteTunnelItem, types.Parameters{ParamTunnelState: tunnelState}, section)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if results[0].State != types.StateWarn {
			t.Errorf("tunnel_state=%v changed the state to %s", tunnelState, results[0].State)
		}
	}
}

func TestCheckUnknownItem(t *testing.T) {
	results, err := CheckPrismRemoteSupport("Other Tunnel", nil, mustParse(t, "{'enable': {'enabled': True}}"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results for unknown item, got %+v", results)
	}
}

func TestDiscoveryPerTopLevelKey(t *testing.T) {
	section := mustParse(t, "{'enable': {'enabled': True}, 'cluster': 'c1', 'expiry': None}")

	services := DiscoverPrismRemoteSupport(section)
	if len(services) != 3 {
		t.Fatalf("expected one service per top-level key, got %d", len(services))
	}
	for _, svc := range services {
		if svc.Item != RemoteTunnelItem {
			t.Errorf("unexpected item %q", svc.Item)
		}
	}
}

func TestSectionRoundTrip(t *testing.T) {
	sections := []Section{
		{},
		{"enable": map[string]any{"enabled": true}},
		{"enable": map[string]any{"enabled": false, "duration": int64(60)}, "cluster": "c1"},
	}

	for _, original := range sections {
		text, err := literal.Format(original)
		if err != nil {
			t.Fatalf("Format failed: %v", err)
		}
		parsed := mustParse(t, text)
		if !reflect.DeepEqual(parsed, original) {
			t.Errorf("round trip of %s: got %#v, want %#v", text, parsed, original)
		}
	}
}

func TestValidateParameters(t *testing.T) {
	tests := []struct {
		name    string
		params  types.Parameters
		wantErr bool
	}{
		{"defaults", DefaultParameters(), false},
		{"enabled", types.Parameters{ParamTunnelState: true}, false},
		{"absent", types.Parameters{}, false},
		{"string", types.Parameters{ParamTunnelState: "yes"}, true},
		{"number", types.Parameters{ParamTunnelState: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParameters(tt.params)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateParameters(%v) error = %v, wantErr %v", tt.params, err, tt.wantErr)
			}
		})
	}
}

func TestRegister(t *testing.T) {
	reg := plugins.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if reg.Section(RemoteSupportSection) == nil {
		t.Fatal("section not registered")
	}

	info := reg.Check(RemoteSupportCheck)
	if info == nil {
		t.Fatal("check plugin not registered")
	}
	if got := info.ServiceDescription(RemoteTunnelItem); got != "NTNX Remote Tunnel" {
		t.Errorf("unexpected service description %q", got)
	}
	if info.RulesetName != RemoteSupportRuleset {
		t.Errorf("unexpected rule-set %q", info.RulesetName)
	}
	if !reflect.DeepEqual(info.Sections, []string{RemoteSupportSection}) {
		t.Errorf("unexpected sections %v", info.Sections)
	}
	if !reflect.DeepEqual(info.DefaultParameters, types.Parameters{ParamTunnelState: false}) {
		t.Errorf("unexpected defaults %v", info.DefaultParameters)
	}

	if err := Register(reg); !errors.Is(err, plugins.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate on second registration, got %v", err)
	}
}

func TestRegisteredFunctions(t *testing.T) {
	reg := plugins.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	parsed, err := reg.Section(RemoteSupportSection).ParseFunction(types.StringTable{{"{'enable': {'enabled': True}}"}})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	info := reg.Check(RemoteSupportCheck)
	services, err := info.Discovery(parsed)
	if err != nil || len(services) != 1 {
		t.Fatalf("discovery returned %v, %v", services, err)
	}

	results, err := info.Check(services[0].Item, info.DefaultParameters, parsed)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if results[0].State != types.StateWarn {
		t.Errorf("expected WARN, got %s", results[0].State)
	}

	// A plain mapping is accepted as well.
	if _, err := info.Check(RemoteTunnelItem, nil, map[string]any{}); err != nil {
		t.Errorf("unexpected error for plain map: %v", err)
	}
	if _, err := info.Check(RemoteTunnelItem, nil, []string{"x"}); !errors.Is(err, types.ErrMalformedSection) {
		t.Errorf("expected ErrMalformedSection for wrong section type, got %v", err)
	}
	if err := reg.ValidateParameters(RemoteSupportCheck, types.Parameters{ParamTunnelState: "no"}); err == nil {
		t.Error("expected registry validation to reject non-boolean tunnel_state")
	}
}
