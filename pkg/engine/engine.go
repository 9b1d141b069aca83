// Package engine runs check plugins against the agent data of one host.
//
// A cycle parses every registered section present in the agent output,
// discovers the services of every check plugin whose sections are
// available, resolves each service's parameters from the rule-sets, runs the
// check and hands the results to the configured exporters.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/supporttools/prism-check/pkg/logger"
	"github.com/supporttools/prism-check/pkg/plugins"
	"github.com/supporttools/prism-check/pkg/rules"
	"github.com/supporttools/prism-check/pkg/types"
)

// ErrNoHost is returned when a cycle is started without a host name.
var ErrNoHost = errors.New("host name is required")

// SummaryItemNotFound is reported when a check yields no results for a
// discovered item.
const SummaryItemNotFound = "Item not found in monitoring data"

// Engine evaluates check plugins. It is safe for concurrent use; cycles for
// different hosts may run in parallel.
type Engine struct {
	registry *plugins.Registry
	rules    *rules.Store

	mu        sync.RWMutex
	exporters []types.Exporter

	stats *Statistics

	// newCycleID and now are replaced in tests.
	newCycleID func() string
	now        func() time.Time
}

// New creates an engine. A nil rule store means plugin defaults apply to
// every host.
func New(registry *plugins.Registry, store *rules.Store, exporters ...types.Exporter) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if store == nil {
		var err error
		if store, err = rules.NewStore(nil); err != nil {
			return nil, err
		}
	}

	return &Engine{
		registry:   registry,
		rules:      store,
		exporters:  append([]types.Exporter(nil), exporters...),
		stats:      NewStatistics(),
		newCycleID: uuid.NewString,
		now:        time.Now,
	}, nil
}

// AddExporter adds an exporter for subsequent cycles.
func (e *Engine) AddExporter(exporter types.Exporter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exporters = append(e.exporters, exporter)
}

// Rules returns the rule store used for parameter resolution.
func (e *Engine) Rules() *rules.Store {
	return e.rules
}

// Statistics returns the engine counters.
func (e *Engine) Statistics() *Statistics {
	return e.stats
}

// RunCycle evaluates all applicable check plugins for host. When ctx is
// cancelled between services the partial report is returned with ctx.Err().
func (e *Engine) RunCycle(ctx context.Context, host string, tables map[string]types.StringTable) (*types.CycleReport, error) {
	if host == "" {
		return nil, ErrNoHost
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	started := e.now()
	report := &types.CycleReport{
		CycleID:         e.newCycleID(),
		Host:            host,
		Started:         started,
		SectionErrors:   make(map[string]error),
		DiscoveryErrors: make(map[string]error),
	}
	log := logger.WithFields(logrus.Fields{
		"component": "engine",
		"host":      host,
		"cycle":     report.CycleID,
	})

	sections := e.parseSections(log, tables, report)

	for _, name := range e.registry.CheckNames() {
		info := e.registry.Check(name)
		if info == nil {
			continue
		}

		section, ok := e.sectionFor(info, sections, report)
		if !ok {
			continue
		}

		services, err := discover(info, section)
		if err != nil {
			report.DiscoveryErrors[name] = err
			e.stats.IncrementDiscoveryErrors()
			log.WithError(err).WithField("check", name).Warn("Service discovery failed")
			continue
		}

		for _, svc := range dedupe(services) {
			if err := ctx.Err(); err != nil {
				e.finish(report, started)
				return report, err
			}
			result := e.evaluate(report, info, svc, section)
			report.Services = append(report.Services, *result)
			e.export(ctx, log, result)
		}
	}

	sort.SliceStable(report.Services, func(i, j int) bool {
		return report.Services[i].Description < report.Services[j].Description
	})
	e.finish(report, started)

	e.exportCycle(ctx, log, report)
	log.WithFields(logrus.Fields{
		"services": len(report.Services),
		"state":    report.WorstState().String(),
		"duration": report.Duration.String(),
	}).Debug("Check cycle completed")

	return report, nil
}

func (e *Engine) finish(report *types.CycleReport, started time.Time) {
	report.Duration = e.now().Sub(started)
	e.stats.RecordCycle(started.Add(report.Duration))
}

// parseSections parses every registered section present in tables.
func (e *Engine) parseSections(log *logrus.Entry, tables map[string]types.StringTable, report *types.CycleReport) map[string]any {
	parsed := make(map[string]any)

	for _, name := range e.registry.SectionNames() {
		table, ok := tables[name]
		if !ok {
			continue
		}
		info := e.registry.Section(name)
		if info == nil {
			continue
		}

		value, err := parse(info, table)
		if err != nil {
			report.SectionErrors[name] = err
			e.stats.IncrementSectionErrors()
			log.WithError(err).WithField("section", name).Warn("Failed to parse section")
			continue
		}
		parsed[name] = value
	}

	for name := range tables {
		if e.registry.Section(name) == nil {
			log.WithField("section", name).Debug("Ignoring section without a registered parser")
		}
	}

	return parsed
}

// sectionFor returns the argument passed to the plugin's discovery and check
// functions. Plugins whose sections are missing or failed to parse are not
// applicable in this cycle.
func (e *Engine) sectionFor(info *plugins.CheckInfo, parsed map[string]any, report *types.CycleReport) (any, bool) {
	for _, name := range info.Sections {
		if _, failed := report.SectionErrors[name]; failed {
			return nil, false
		}
		if _, ok := parsed[name]; !ok {
			return nil, false
		}
	}

	if len(info.Sections) == 1 {
		return parsed[info.Sections[0]], true
	}

	combined := make(map[string]any, len(info.Sections))
	for _, name := range info.Sections {
		combined[name] = parsed[name]
	}
	return combined, true
}

// evaluate runs one service check and maps its outcome to a ServiceResult.
func (e *Engine) evaluate(report *types.CycleReport, info *plugins.CheckInfo, svc types.Service, section any) *types.ServiceResult {
	start := e.now()

	defaults := info.DefaultParameters.Clone()
	for k, v := range svc.Parameters {
		defaults[k] = v
	}
	params := e.rules.Resolve(info.RulesetName, report.Host, defaults)

	result := &types.ServiceResult{
		CycleID:     report.CycleID,
		Host:        report.Host,
		CheckPlugin: info.Name,
		Item:        svc.Item,
		Description: info.ServiceDescription(svc.Item),
		Parameters:  params,
		Timestamp:   start,
	}

	var (
		results []types.Result
		err     error
	)
	if verr := e.registry.ValidateParameters(info.Name, params); verr != nil {
		err = verr
	} else {
		results, err = check(info, svc.Item, params, section)
	}

	switch {
	case err != nil:
		e.stats.IncrementCheckErrors()
		result.State = types.StateUnknown
		result.Summary = errorSummary(err)
		result.Results = []types.Result{{State: types.StateUnknown, Summary: result.Summary}}
	case len(results) == 0:
		result.State = types.StateUnknown
		result.Summary = SummaryItemNotFound
	default:
		states := make([]types.State, 0, len(results))
		summaries := make([]string, 0, len(results))
		for _, r := range results {
			states = append(states, r.State)
			if r.Summary != "" {
				summaries = append(summaries, r.Summary)
			}
		}
		result.State = types.WorstState(states...)
		result.Summary = strings.Join(summaries, ", ")
		result.Results = results
	}

	result.Duration = e.now().Sub(start)
	e.stats.IncrementServicesChecked()
	return result
}

// errPanic marks a recovered panic inside a plugin function.
var errPanic = errors.New("plugin panicked")

func errorSummary(err error) string {
	switch {
	case errors.Is(err, errPanic):
		return "Check crashed: " + strings.TrimPrefix(err.Error(), errPanic.Error()+": ")
	case errors.Is(err, types.ErrMalformedSection):
		return "Malformed section data: " + strings.TrimPrefix(err.Error(), types.ErrMalformedSection.Error()+": ")
	}
	return "Check failed: " + err.Error()
}

func parse(info *plugins.SectionInfo, table types.StringTable) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()
	return info.ParseFunction(table)
}

func discover(info *plugins.CheckInfo, section any) (services []types.Service, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()
	return info.Discovery(section)
}

func check(info *plugins.CheckInfo, item string, params types.Parameters, section any) (results []types.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()
	return info.Check(item, params.Clone(), section)
}

// dedupe keeps the first service of every item, in discovery order.
func dedupe(services []types.Service) []types.Service {
	seen := make(map[string]bool, len(services))
	out := make([]types.Service, 0, len(services))
	for _, svc := range services {
		if seen[svc.Item] {
			continue
		}
		seen[svc.Item] = true
		out = append(out, svc)
	}
	return out
}

func (e *Engine) snapshotExporters() []types.Exporter {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]types.Exporter(nil), e.exporters...)
}

func (e *Engine) export(ctx context.Context, log *logrus.Entry, result *types.ServiceResult) {
	for _, exporter := range e.snapshotExporters() {
		if err := exporter.ExportResult(ctx, result); err != nil {
			e.stats.IncrementExportsFailed()
			log.WithError(err).WithField("service", result.Description).Warn("Failed to export service result")
			continue
		}
		e.stats.IncrementExportsSucceeded()
	}
}

func (e *Engine) exportCycle(ctx context.Context, log *logrus.Entry, report *types.CycleReport) {
	for _, exporter := range e.snapshotExporters() {
		if err := exporter.ExportCycle(ctx, report); err != nil {
			e.stats.IncrementExportsFailed()
			log.WithError(err).Warn("Failed to export cycle report")
			continue
		}
		e.stats.IncrementExportsSucceeded()
	}
}
