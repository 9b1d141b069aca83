package prometheus

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/supporttools/prism-check/pkg/types"
)

func newTestExporter(t *testing.T) *PrometheusExporter {
	t.Helper()
	e, err := NewPrometheusExporter(&types.PrometheusExporterConfig{Enabled: true},
		BuildInfo{Version: "v1.2.3", GitCommit: "abc123"})
	if err != nil {
		t.Fatalf("NewPrometheusExporter failed: %v", err)
	}
	return e
}

func serviceResult(host, description string, state types.State) *types.ServiceResult {
	return &types.ServiceResult{
		Host:        host,
		CheckPlugin: "prism_remote_support",
		Item:        "Remote Tunnel",
		Description: description,
		State:       state,
		Duration:    time.Millisecond,
	}
}

func TestNewPrometheusExporter(t *testing.T) {
	tests := []struct {
		name          string
		config        *types.PrometheusExporterConfig
		errorContains string
	}{
		{"nil config", nil, "config cannot be nil"},
		{"disabled exporter", &types.PrometheusExporterConfig{Enabled: false}, "Prometheus exporter is disabled"},
		{"invalid port", &types.PrometheusExporterConfig{Enabled: true, Port: 70000}, "port must be in range"},
		{"invalid namespace", &types.PrometheusExporterConfig{Enabled: true, Namespace: "1bad"}, "namespace"},
		{"defaults", &types.PrometheusExporterConfig{Enabled: true}, ""},
		{"custom labels", &types.PrometheusExporterConfig{
			Enabled: true, Namespace: "ntnx", Subsystem: "prism", Labels: map[string]string{"site": "lab"},
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewPrometheusExporter(tt.config, BuildInfo{})
			if tt.errorContains != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errorContains) {
					t.Fatalf("expected error containing %q, got %v", tt.errorContains, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if e.Name() != "prometheus" {
				t.Errorf("unexpected name %q", e.Name())
			}
			if e.Path() != types.DefaultPrometheusPath {
				t.Errorf("unexpected path %q", e.Path())
			}
		})
	}
}

func TestNewPrometheusExporterDoesNotMutateConfig(t *testing.T) {
	cfg := &types.PrometheusExporterConfig{Enabled: true}
	if _, err := NewPrometheusExporter(cfg, BuildInfo{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 0 || cfg.Namespace != "" {
		t.Errorf("caller config was modified: %+v", cfg)
	}
}

func TestExportResult(t *testing.T) {
	e := newTestExporter(t)
	ctx := context.Background()

	if err := e.ExportResult(ctx, serviceResult("ntnx-01", "NTNX Remote Tunnel", types.StateWarn)); err != nil {
		t.Fatalf("ExportResult failed: %v", err)
	}

	m := e.metrics
	if got := testutil.ToFloat64(m.ServiceState.WithLabelValues("ntnx-01", "prism_remote_support", "NTNX Remote Tunnel")); got != 1 {
		t.Errorf("service_state = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ServiceResultsTotal.WithLabelValues("ntnx-01", "prism_remote_support", "WARN")); got != 1 {
		t.Errorf("service_results_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ExportOperationsTotal.WithLabelValues("result", "success")); got != 1 {
		t.Errorf("export success = %v, want 1", got)
	}

	if err := e.ExportResult(ctx, nil); err == nil {
		t.Error("expected error for nil result")
	}
	if got := testutil.ToFloat64(m.ExportOperationsTotal.WithLabelValues("result", "error")); got != 1 {
		t.Errorf("export error = %v, want 1", got)
	}
}

func TestExportCycle(t *testing.T) {
	e := newTestExporter(t)
	ctx := context.Background()
	started := time.Unix(1700000000, 0)

	tunnel := serviceResult("ntnx-01", "NTNX Remote Tunnel", types.StateOK)
	if err := e.ExportResult(ctx, tunnel); err != nil {
		t.Fatal(err)
	}
	report := &types.CycleReport{
		Host:            "ntnx-01",
		Started:         started,
		Duration:        2 * time.Second,
		Services:        []types.ServiceResult{*tunnel},
		SectionErrors:   map[string]error{"prism_remote_support": types.ErrMalformedSection},
		DiscoveryErrors: map[string]error{"other": context.Canceled},
	}
	if err := e.ExportCycle(ctx, report); err != nil {
		t.Fatalf("ExportCycle failed: %v", err)
	}

	m := e.metrics
	if got := testutil.ToFloat64(m.CyclesTotal.WithLabelValues("ntnx-01")); got != 1 {
		t.Errorf("cycles_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SectionErrorsTotal.WithLabelValues("ntnx-01", "prism_remote_support")); got != 1 {
		t.Errorf("section_errors_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.DiscoveryErrorsTotal.WithLabelValues("ntnx-01", "other")); got != 1 {
		t.Errorf("discovery_errors_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ServicesTotal.WithLabelValues("ntnx-01", "OK")); got != 1 {
		t.Errorf("services{state=OK} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ServicesTotal.WithLabelValues("ntnx-01", "CRIT")); got != 0 {
		t.Errorf("services{state=CRIT} = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.LastCycleTimestampSeconds.WithLabelValues("ntnx-01")); got != 1700000002 {
		t.Errorf("last_cycle_timestamp_seconds = %v, want 1700000002", got)
	}

	if err := e.ExportCycle(ctx, nil); err == nil {
		t.Error("expected error for nil report")
	}
}

func TestExportCycleDropsVanishedServices(t *testing.T) {
	e := newTestExporter(t)
	ctx := context.Background()

	for _, host := range []string{"ntnx-01", "ntnx-02"} {
		if err := e.ExportResult(ctx, serviceResult(host, "NTNX Remote Tunnel", types.StateWarn)); err != nil {
			t.Fatal(err)
		}
	}
	if got := testutil.CollectAndCount(e.metrics.ServiceState); got != 2 {
		t.Fatalf("expected 2 service_state series, got %d", got)
	}

	// ntnx-01 no longer reports the tunnel
	if err := e.ExportCycle(ctx, &types.CycleReport{Host: "ntnx-01", Started: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if got := testutil.CollectAndCount(e.metrics.ServiceState); got != 1 {
		t.Errorf("expected 1 service_state series after cycle, got %d", got)
	}
}

func TestReload(t *testing.T) {
	base := func() *types.CheckerConfig {
		return &types.CheckerConfig{Exporters: types.ExporterConfigs{
			Prometheus: &types.PrometheusExporterConfig{Enabled: true},
		}}
	}

	tests := []struct {
		name          string
		mutate        func(*types.CheckerConfig)
		errorContains string
	}{
		{"unchanged", func(c *types.CheckerConfig) {}, ""},
		{"removed", func(c *types.CheckerConfig) { c.Exporters.Prometheus = nil }, "removed"},
		{"namespace changed", func(c *types.CheckerConfig) { c.Exporters.Prometheus.Namespace = "other" }, "restart required"},
		{"labels changed", func(c *types.CheckerConfig) {
			c.Exporters.Prometheus.Labels = map[string]string{"site": "dc2"}
		}, "restart required"},
		{"port changed", func(c *types.CheckerConfig) { c.Exporters.Prometheus.Port = 9200 }, "listen address"},
		{"invalid", func(c *types.CheckerConfig) { c.Exporters.Prometheus.Path = "nope" }, "path must start"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestExporter(t)
			cfg := base()
			tt.mutate(cfg)
			err := e.Reload(cfg)
			if tt.errorContains == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errorContains) {
				t.Errorf("expected error containing %q, got %v", tt.errorContains, err)
			}
		})
	}
}

func TestReloadThroughSummary(t *testing.T) {
	e := newTestExporter(t)
	summary := types.ReloadExporters([]types.Exporter{e}, &types.CheckerConfig{})
	if summary.Failed() == 0 {
		t.Error("expected reload failure when prometheus config is removed")
	}
}
