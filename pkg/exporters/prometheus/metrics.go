package prometheus

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all the Prometheus metrics published by the checker
type Metrics struct {
	// Counter metrics
	ServiceResultsTotal   *prometheus.CounterVec
	CyclesTotal           *prometheus.CounterVec
	SectionErrorsTotal    *prometheus.CounterVec
	DiscoveryErrorsTotal  *prometheus.CounterVec
	ExportOperationsTotal *prometheus.CounterVec

	// Gauge metrics
	ServiceState              *prometheus.GaugeVec
	ServicesTotal             *prometheus.GaugeVec
	LastCycleTimestampSeconds *prometheus.GaugeVec
	Info                      *prometheus.GaugeVec
	StartTimeSeconds          prometheus.Gauge
	UptimeSeconds             prometheus.Gauge

	// Histogram metrics
	CheckDuration *prometheus.HistogramVec
	CycleDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all metric definitions
func NewMetrics(namespace, subsystem string, constLabels prometheus.Labels) (*Metrics, error) {
	if namespace == "" {
		namespace = "prism_check"
	}

	labels := make(prometheus.Labels)
	for k, v := range constLabels {
		labels[k] = v
	}

	m := &Metrics{
		ServiceResultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   subsystem,
				Name:        "service_results_total",
				Help:        "Total number of service results by state",
				ConstLabels: labels,
			},
			[]string{"host", "check", "state"},
		),

		CyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   subsystem,
				Name:        "cycles_total",
				Help:        "Total number of completed check cycles",
				ConstLabels: labels,
			},
			[]string{"host"},
		),

		SectionErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   subsystem,
				Name:        "section_errors_total",
				Help:        "Total number of agent sections that failed to parse",
				ConstLabels: labels,
			},
			[]string{"host", "section"},
		),

		DiscoveryErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   subsystem,
				Name:        "discovery_errors_total",
				Help:        "Total number of failed service discoveries",
				ConstLabels: labels,
			},
			[]string{"host", "check"},
		),

		ExportOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   subsystem,
				Name:        "export_operations_total",
				Help:        "Total number of export operations performed by the Prometheus exporter",
				ConstLabels: labels,
			},
			[]string{"operation", "result"},
		),

		ServiceState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   subsystem,
				Name:        "service_state",
				Help:        "Current service state (0=OK, 1=WARN, 2=CRIT, 3=UNKNOWN)",
				ConstLabels: labels,
			},
			[]string{"host", "check", "service"},
		),

		ServicesTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   subsystem,
				Name:        "services",
				Help:        "Number of services per state in the last cycle",
				ConstLabels: labels,
			},
			[]string{"host", "state"},
		),

		LastCycleTimestampSeconds: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   subsystem,
				Name:        "last_cycle_timestamp_seconds",
				Help:        "Unix timestamp of the last completed cycle",
				ConstLabels: labels,
			},
			[]string{"host"},
		),

		Info: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   subsystem,
				Name:        "info",
				Help:        "Version and build information",
				ConstLabels: labels,
			},
			[]string{"version", "git_commit", "go_version", "build_time"},
		),

		StartTimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   subsystem,
				Name:        "start_time_seconds",
				Help:        "Unix timestamp when the checker was started",
				ConstLabels: labels,
			},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   subsystem,
				Name:        "uptime_seconds",
				Help:        "Number of seconds the checker has been running",
				ConstLabels: labels,
			},
		),

		CheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Subsystem:   subsystem,
				Name:        "check_duration_seconds",
				Help:        "Time taken to evaluate a single service",
				ConstLabels: labels,
				Buckets:     []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"check"},
		),

		CycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Subsystem:   subsystem,
				Name:        "cycle_duration_seconds",
				Help:        "Time taken by a complete check cycle",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"host"},
		),
	}

	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ServiceResultsTotal,
		m.CyclesTotal,
		m.SectionErrorsTotal,
		m.DiscoveryErrorsTotal,
		m.ExportOperationsTotal,
		m.ServiceState,
		m.ServicesTotal,
		m.LastCycleTimestampSeconds,
		m.Info,
		m.StartTimeSeconds,
		m.UptimeSeconds,
		m.CheckDuration,
		m.CycleDuration,
	}
}

// Register registers all metrics with the provided registry
func (m *Metrics) Register(registry *prometheus.Registry) error {
	for _, collector := range m.collectors() {
		if err := registry.Register(collector); err != nil {
			return fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return nil
}

// Unregister removes all metrics from the provided registry
func (m *Metrics) Unregister(registry *prometheus.Registry) {
	for _, collector := range m.collectors() {
		registry.Unregister(collector)
	}
}
