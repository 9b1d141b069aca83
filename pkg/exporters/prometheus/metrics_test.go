package prometheus

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	m, err := NewMetrics("", "", nil)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	registry := prometheus.NewRegistry()
	if err := m.Register(registry); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	m.CyclesTotal.WithLabelValues("ntnx-01").Inc()
	expected := `
# HELP prism_check_cycles_total Total number of completed check cycles
# TYPE prism_check_cycles_total counter
prism_check_cycles_total{host="ntnx-01"} 1
`
	if err := testutil.GatherAndCompare(registry, strings.NewReader(expected), "prism_check_cycles_total"); err != nil {
		t.Error(err)
	}
}

func TestMetricsConstLabels(t *testing.T) {
	m, err := NewMetrics("ntnx", "prism", prometheus.Labels{"site": "lab"})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	registry := prometheus.NewRegistry()
	if err := m.Register(registry); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	m.UptimeSeconds.Set(5)

	expected := `
# HELP ntnx_prism_uptime_seconds Number of seconds the checker has been running
# TYPE ntnx_prism_uptime_seconds gauge
ntnx_prism_uptime_seconds{site="lab"} 5
`
	if err := testutil.GatherAndCompare(registry, strings.NewReader(expected), "ntnx_prism_uptime_seconds"); err != nil {
		t.Error(err)
	}
}

func TestMetricsRegisterTwiceFails(t *testing.T) {
	m, _ := NewMetrics("prism_check", "", nil)
	registry := prometheus.NewRegistry()
	if err := m.Register(registry); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	if err := m.Register(registry); err == nil {
		t.Error("expected duplicate registration error")
	}

	m.Unregister(registry)
	if err := m.Register(registry); err != nil {
		t.Errorf("Register after Unregister failed: %v", err)
	}
}
