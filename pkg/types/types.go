// Package types defines the core interfaces and types shared by check plugins,
// the plugin registry, the check engine and exporters.
package types

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// State is the monitoring state of a check result.
type State int

const (
	// StateOK indicates the monitored entity is healthy.
	StateOK State = 0

	// StateWarn indicates a condition that needs attention.
	StateWarn State = 1

	// StateCrit indicates a failure.
	StateCrit State = 2

	// StateUnknown indicates the state could not be determined.
	StateUnknown State = 3
)

// String returns the short display name used in service output.
func (s State) String() string {
	switch s {
	case StateOK:
		return "OK"
	case StateWarn:
		return "WARN"
	case StateCrit:
		return "CRIT"
	case StateUnknown:
		return "UNKNOWN"
	}
	return "INVALID"
}

// Valid reports whether s is one of the four defined states.
func (s State) Valid() bool {
	return s >= StateOK && s <= StateUnknown
}

// ParseState converts a display name such as "WARN" back to a State.
func ParseState(name string) (State, error) {
	for _, s := range []State{StateOK, StateWarn, StateCrit, StateUnknown} {
		if strings.EqualFold(name, s.String()) {
			return s, nil
		}
	}
	return StateUnknown, fmt.Errorf("unknown state %q", name)
}

// AtLeast reports whether s is as severe as min or worse.
func (s State) AtLeast(min State) bool {
	return s.severity() >= min.severity()
}

// severity orders states OK < WARN < UNKNOWN < CRIT.
func (s State) severity() int {
	switch s {
	case StateOK:
		return 0
	case StateWarn:
		return 1
	case StateUnknown:
		return 2
	case StateCrit:
		return 3
	}
	return 2
}

// WorstState returns the most severe of the given states, or StateOK when
// none are given.
func WorstState(states ...State) State {
	worst := StateOK
	for _, s := range states {
		if s.severity() > worst.severity() {
			worst = s
		}
	}
	return worst
}

// ErrMalformedSection marks check failures caused by section data that has
// the wrong shape, as opposed to data that is merely missing.
var ErrMalformedSection = errors.New("malformed section data")

// StringTable holds the rows of one agent section, split into fields.
type StringTable [][]string

// Parameters are the effective check parameters for one service: plugin
// defaults overlaid with matching rule values.
type Parameters map[string]interface{}

// Clone returns a shallow copy. A nil receiver yields an empty map.
func (p Parameters) Clone() Parameters {
	out := make(Parameters, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Service is a monitorable unit yielded by a discovery function.
type Service struct {
	// Item distinguishes services of the same check plugin on one host.
	// It is empty for plugins that discover a single, unnamed service.
	Item string

	// Parameters are optional discovered parameters.
	Parameters Parameters
}

// Result is one (state, summary) pair yielded by a check function.
type Result struct {
	State State

	// Summary is the single-line text shown for the service.
	Summary string

	// Details is optional long output.
	Details string
}

// ServiceResult is the evaluated outcome of one service in one cycle.
type ServiceResult struct {
	// CycleID identifies the engine cycle that produced this result.
	CycleID string

	// Host is the monitored host (appliance) name.
	Host string

	// CheckPlugin is the registered check plugin name.
	CheckPlugin string

	// Item is the discovered item; Description is the rendered service name.
	Item        string
	Description string

	// State is the worst state among Results.
	State State

	// Summary joins the summaries of all Results.
	Summary string

	Results    []Result
	Parameters Parameters

	Duration  time.Duration
	Timestamp time.Time
}

// CycleReport collects everything one engine cycle produced for a host.
type CycleReport struct {
	CycleID  string
	Host     string
	Started  time.Time
	Duration time.Duration

	// Services holds one result per discovered service, sorted by description.
	Services []ServiceResult

	// SectionErrors holds parse failures keyed by section name. Checks that
	// depend on a failed section produce no result in this cycle.
	SectionErrors map[string]error

	// DiscoveryErrors holds discovery failures keyed by check plugin name.
	DiscoveryErrors map[string]error
}

// WorstState returns the worst service state of the cycle. Section and
// discovery errors count as StateUnknown.
func (r *CycleReport) WorstState() State {
	states := make([]State, 0, len(r.Services)+1)
	for _, svc := range r.Services {
		states = append(states, svc.State)
	}
	if len(r.SectionErrors) > 0 || len(r.DiscoveryErrors) > 0 {
		states = append(states, StateUnknown)
	}
	return WorstState(states...)
}

// Exporter is the interface for components that publish check results.
type Exporter interface {
	// ExportResult publishes a single service result.
	ExportResult(ctx context.Context, result *ServiceResult) error

	// ExportCycle publishes the report of a completed cycle.
	ExportCycle(ctx context.Context, report *CycleReport) error
}
