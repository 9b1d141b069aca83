// Package prometheus exports check results as Prometheus metrics.
package prometheus

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/supporttools/prism-check/pkg/logger"
	"github.com/supporttools/prism-check/pkg/types"
)

// BuildInfo is published through the info metric.
type BuildInfo struct {
	Version   string
	GitCommit string
	BuildTime string
}

// serviceKey identifies one service_state series of a host.
type serviceKey struct {
	check   string
	service string
}

// PrometheusExporter exports check results to Prometheus
type PrometheusExporter struct {
	config    *types.PrometheusExporterConfig
	registry  *prometheus.Registry
	metrics   *Metrics
	handler   http.Handler
	startTime time.Time

	mu sync.Mutex
	// services tracks the service_state series per host so series of
	// services that disappeared can be deleted after a cycle.
	services map[string]map[serviceKey]bool
}

// NewPrometheusExporter creates a new Prometheus exporter with the given configuration
func NewPrometheusExporter(config *types.PrometheusExporterConfig, build BuildInfo) (*PrometheusExporter, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if !config.Enabled {
		return nil, fmt.Errorf("Prometheus exporter is disabled")
	}

	cfg := *config
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	constLabels := make(prometheus.Labels)
	for k, v := range cfg.Labels {
		constLabels[k] = v
	}

	registry := NewRegistry()

	metrics, err := NewMetrics(cfg.Namespace, cfg.Subsystem, constLabels)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	if err := metrics.Register(registry); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	e := &PrometheusExporter{
		config:    &cfg,
		registry:  registry,
		metrics:   metrics,
		handler:   newHandler(registry),
		startTime: time.Now(),
		services:  make(map[string]map[serviceKey]bool),
	}
	e.initializeStaticMetrics(build)

	logger.WithFields(map[string]interface{}{
		"component": "prometheus-exporter",
		"namespace": cfg.Namespace,
		"path":      cfg.Path,
	}).Info("Created Prometheus exporter")

	return e, nil
}

// Name identifies the exporter.
func (e *PrometheusExporter) Name() string {
	return "prometheus"
}

// Registry returns the registry holding the exporter's metrics.
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the metrics.
func (e *PrometheusExporter) Handler() http.Handler {
	return e.handler
}

// Path returns the configured metrics path.
func (e *PrometheusExporter) Path() string {
	return e.config.Path
}

// ExportResult implements types.Exporter for single service results.
func (e *PrometheusExporter) ExportResult(ctx context.Context, result *types.ServiceResult) error {
	if result == nil {
		e.metrics.ExportOperationsTotal.WithLabelValues("result", "error").Inc()
		return fmt.Errorf("result cannot be nil")
	}

	e.metrics.ServiceState.WithLabelValues(result.Host, result.CheckPlugin, result.Description).
		Set(float64(result.State))
	e.metrics.ServiceResultsTotal.WithLabelValues(result.Host, result.CheckPlugin, result.State.String()).Inc()
	e.metrics.CheckDuration.WithLabelValues(result.CheckPlugin).Observe(result.Duration.Seconds())

	e.mu.Lock()
	if e.services[result.Host] == nil {
		e.services[result.Host] = make(map[serviceKey]bool)
	}
	e.services[result.Host][serviceKey{result.CheckPlugin, result.Description}] = true
	e.mu.Unlock()

	e.metrics.ExportOperationsTotal.WithLabelValues("result", "success").Inc()
	return nil
}

// ExportCycle implements types.Exporter for completed cycles. Series of
// services the cycle no longer reports are removed.
func (e *PrometheusExporter) ExportCycle(ctx context.Context, report *types.CycleReport) error {
	if report == nil {
		e.metrics.ExportOperationsTotal.WithLabelValues("cycle", "error").Inc()
		return fmt.Errorf("report cannot be nil")
	}

	host := report.Host
	e.metrics.CyclesTotal.WithLabelValues(host).Inc()
	e.metrics.CycleDuration.WithLabelValues(host).Observe(report.Duration.Seconds())
	e.metrics.LastCycleTimestampSeconds.WithLabelValues(host).
		Set(float64(report.Started.Add(report.Duration).Unix()))

	for section := range report.SectionErrors {
		e.metrics.SectionErrorsTotal.WithLabelValues(host, section).Inc()
	}
	for check := range report.DiscoveryErrors {
		e.metrics.DiscoveryErrorsTotal.WithLabelValues(host, check).Inc()
	}

	counts := map[types.State]int{
		types.StateOK: 0, types.StateWarn: 0, types.StateCrit: 0, types.StateUnknown: 0,
	}
	current := make(map[serviceKey]bool, len(report.Services))
	for _, svc := range report.Services {
		counts[svc.State]++
		current[serviceKey{svc.CheckPlugin, svc.Description}] = true
	}
	for state, n := range counts {
		e.metrics.ServicesTotal.WithLabelValues(host, state.String()).Set(float64(n))
	}

	e.mu.Lock()
	for key := range e.services[host] {
		if !current[key] {
			e.metrics.ServiceState.DeleteLabelValues(host, key.check, key.service)
		}
	}
	e.services[host] = current
	e.mu.Unlock()

	e.metrics.UptimeSeconds.Set(time.Since(e.startTime).Seconds())
	e.metrics.ExportOperationsTotal.WithLabelValues("cycle", "success").Inc()
	return nil
}

// Reload accepts configuration changes that do not alter metric identity.
// Namespace, subsystem and label changes need a restart.
func (e *PrometheusExporter) Reload(config *types.CheckerConfig) error {
	if config == nil || config.Exporters.Prometheus == nil {
		return fmt.Errorf("prometheus exporter configuration removed, restart required")
	}

	next := *config.Exporters.Prometheus
	if err := next.ApplyDefaults(); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}

	cur := e.config
	if next.Namespace != cur.Namespace || next.Subsystem != cur.Subsystem || !sameLabels(next.Labels, cur.Labels) {
		return fmt.Errorf("metric namespace, subsystem or labels changed, restart required")
	}
	if next.Port != cur.Port || next.BindAddress != cur.BindAddress || next.Path != cur.Path {
		return fmt.Errorf("listen address or path changed, restart required")
	}
	return nil
}

func sameLabels(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// initializeStaticMetrics sets up metrics that never change after start.
func (e *PrometheusExporter) initializeStaticMetrics(build BuildInfo) {
	e.metrics.StartTimeSeconds.Set(float64(e.startTime.Unix()))

	version, commit, built := build.Version, build.GitCommit, build.BuildTime
	if version == "" {
		version = "unknown"
	}
	if commit == "" {
		commit = "unknown"
	}
	if built == "" {
		built = "unknown"
	}
	e.metrics.Info.WithLabelValues(version, commit, runtime.Version(), built).Set(1)
}
