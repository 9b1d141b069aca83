// Package log exports service results as structured log entries.
package log

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/supporttools/prism-check/pkg/logger"
	"github.com/supporttools/prism-check/pkg/types"
)

// LogExporter writes one entry per service result and one per cycle.
// WARN results are logged at warning level, CRIT and UNKNOWN at error level.
type LogExporter struct {
	entry        *logrus.Entry
	onlyProblems atomic.Bool
}

// NewLogExporter creates a log exporter writing through the global logger.
func NewLogExporter(config *types.LogExporterConfig) (*LogExporter, error) {
	return NewLogExporterWithLogger(config, logger.Get())
}

// NewLogExporterWithLogger creates a log exporter writing to l.
func NewLogExporterWithLogger(config *types.LogExporterConfig, l *logrus.Logger) (*LogExporter, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if !config.Enabled {
		return nil, fmt.Errorf("log exporter is disabled")
	}
	if l == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	e := &LogExporter{entry: l.WithField("component", "log-exporter")}
	e.onlyProblems.Store(config.OnlyProblems)
	return e, nil
}

// Name identifies the exporter.
func (e *LogExporter) Name() string {
	return "log"
}

// ExportResult implements types.Exporter.
func (e *LogExporter) ExportResult(ctx context.Context, result *types.ServiceResult) error {
	if result == nil {
		return fmt.Errorf("result cannot be nil")
	}
	if result.State == types.StateOK && e.onlyProblems.Load() {
		return nil
	}

	entry := e.entry.WithFields(logrus.Fields{
		"cycle":   result.CycleID,
		"host":    result.Host,
		"check":   result.CheckPlugin,
		"service": result.Description,
		"state":   result.State.String(),
	})
	entry.Log(levelFor(result.State), result.Summary)
	return nil
}

// ExportCycle implements types.Exporter.
func (e *LogExporter) ExportCycle(ctx context.Context, report *types.CycleReport) error {
	if report == nil {
		return fmt.Errorf("report cannot be nil")
	}

	worst := report.WorstState()
	if worst == types.StateOK && e.onlyProblems.Load() {
		return nil
	}

	entry := e.entry.WithFields(logrus.Fields{
		"cycle":    report.CycleID,
		"host":     report.Host,
		"services": len(report.Services),
		"state":    worst.String(),
		"duration": report.Duration.String(),
	})
	for section, err := range report.SectionErrors {
		entry.WithField("section", section).WithError(err).Error("Section could not be parsed")
	}
	for check, err := range report.DiscoveryErrors {
		entry.WithField("check", check).WithError(err).Error("Discovery failed")
	}
	entry.Log(levelFor(worst), "Check cycle complete")
	return nil
}

// Reload applies the log exporter section of config.
func (e *LogExporter) Reload(config *types.CheckerConfig) error {
	if config == nil || config.Exporters.Log == nil || !config.Exporters.Log.Enabled {
		return fmt.Errorf("log exporter disabled in new configuration, restart required")
	}
	e.onlyProblems.Store(config.Exporters.Log.OnlyProblems)
	return nil
}

func levelFor(state types.State) logrus.Level {
	switch state {
	case types.StateOK:
		return logrus.InfoLevel
	case types.StateWarn:
		return logrus.WarnLevel
	}
	return logrus.ErrorLevel
}
