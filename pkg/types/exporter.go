package types

import "fmt"

// ReloadableExporter is an Exporter that can apply a new configuration
// without being recreated.
type ReloadableExporter interface {
	Exporter

	// Reload applies the exporter's section of config. It returns an error if
	// the new settings are invalid; the exporter then keeps the old ones.
	Reload(config *CheckerConfig) error

	// Name identifies the exporter in reload summaries and logs.
	Name() string
}

// ExporterReloadResult represents the result of an exporter reload operation
type ExporterReloadResult struct {
	Exporter string
	Success  bool
	Error    error
}

// ExporterReloadSummary collects the outcome of reloading all exporters.
type ExporterReloadSummary struct {
	Results []ExporterReloadResult
}

// AddResult adds a reload result to the summary
func (s *ExporterReloadSummary) AddResult(result ExporterReloadResult) {
	s.Results = append(s.Results, result)
}

// Failed returns the number of failed reloads.
func (s *ExporterReloadSummary) Failed() int {
	n := 0
	for _, r := range s.Results {
		if !r.Success {
			n++
		}
	}
	return n
}

// Err returns an error listing every failed exporter, or nil.
func (s *ExporterReloadSummary) Err() error {
	if s.Failed() == 0 {
		return nil
	}
	msg := ""
	for _, r := range s.Results {
		if r.Success {
			continue
		}
		if msg != "" {
			msg += "; "
		}
		msg += fmt.Sprintf("%s: %v", r.Exporter, r.Error)
	}
	return fmt.Errorf("%d exporter reload(s) failed: %s", s.Failed(), msg)
}

// ReloadExporters reloads every exporter that supports it.
func ReloadExporters(exporters []Exporter, config *CheckerConfig) *ExporterReloadSummary {
	summary := &ExporterReloadSummary{}
	for _, exp := range exporters {
		reloadable, ok := exp.(ReloadableExporter)
		if !ok {
			continue
		}
		err := reloadable.Reload(config)
		summary.AddResult(ExporterReloadResult{
			Exporter: reloadable.Name(),
			Success:  err == nil,
			Error:    err,
		})
	}
	return summary
}
