package log

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/supporttools/prism-check/pkg/types"
)

func newTestExporter(t *testing.T, onlyProblems bool) (*LogExporter, *logtest.Hook) {
	t.Helper()
	l, hook := logtest.NewNullLogger()
	e, err := NewLogExporterWithLogger(&types.LogExporterConfig{Enabled: true, OnlyProblems: onlyProblems}, l)
	if err != nil {
		t.Fatalf("NewLogExporterWithLogger failed: %v", err)
	}
	return e, hook
}

func TestNewLogExporter(t *testing.T) {
	if _, err := NewLogExporter(nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewLogExporter(&types.LogExporterConfig{}); err == nil {
		t.Error("expected error for disabled exporter")
	}
	if _, err := NewLogExporterWithLogger(&types.LogExporterConfig{Enabled: true}, nil); err == nil {
		t.Error("expected error for nil logger")
	}
	e, err := NewLogExporter(&types.LogExporterConfig{Enabled: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Name() != "log" {
		t.Errorf("unexpected name %q", e.Name())
	}
}

func TestExportResult(t *testing.T) {
	tests := []struct {
		name         string
		onlyProblems bool
		state        types.State
		wantLevel    logrus.Level
		wantEntry    bool
	}{
		{"ok logged", false, types.StateOK, logrus.InfoLevel, true},
		{"ok suppressed", true, types.StateOK, 0, false},
		{"warn", true, types.StateWarn, logrus.WarnLevel, true},
		{"crit", false, types.StateCrit, logrus.ErrorLevel, true},
		{"unknown", false, types.StateUnknown, logrus.ErrorLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, hook := newTestExporter(t, tt.onlyProblems)
			err := e.ExportResult(context.Background(), &types.ServiceResult{
				CycleID:     "c1",
				Host:        "ntnx-01",
				CheckPlugin: "prism_remote_support",
				Description: "NTNX Remote Tunnel",
				State:       tt.state,
				Summary:     "Remote Tunnel is enabled(!)",
			})
			if err != nil {
				t.Fatalf("ExportResult failed: %v", err)
			}

			if !tt.wantEntry {
				if len(hook.AllEntries()) != 0 {
					t.Errorf("expected no entries, got %d", len(hook.AllEntries()))
				}
				return
			}
			entry := hook.LastEntry()
			if entry == nil {
				t.Fatal("expected a log entry")
			}
			if entry.Level != tt.wantLevel {
				t.Errorf("level = %v, want %v", entry.Level, tt.wantLevel)
			}
			if entry.Message != "Remote Tunnel is enabled(!)" {
				t.Errorf("unexpected message %q", entry.Message)
			}
			if entry.Data["service"] != "NTNX Remote Tunnel" || entry.Data["state"] != tt.state.String() {
				t.Errorf("unexpected fields %v", entry.Data)
			}
		})
	}
}

func TestExportCycle(t *testing.T) {
	e, hook := newTestExporter(t, false)
	report := &types.CycleReport{
		CycleID:       "c1",
		Host:          "ntnx-01",
		SectionErrors: map[string]error{"prism_remote_support": errors.New("bad literal")},
	}
	if err := e.ExportCycle(context.Background(), report); err != nil {
		t.Fatalf("ExportCycle failed: %v", err)
	}

	entries := hook.AllEntries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Data["section"] != "prism_remote_support" {
		t.Errorf("unexpected section entry %v", entries[0].Data)
	}
	last := entries[1]
	if last.Level != logrus.ErrorLevel || last.Data["state"] != "UNKNOWN" {
		t.Errorf("unexpected cycle entry level=%v data=%v", last.Level, last.Data)
	}

	if err := e.ExportCycle(context.Background(), nil); err == nil {
		t.Error("expected error for nil report")
	}
}

func TestExportCycleOnlyProblems(t *testing.T) {
	e, hook := newTestExporter(t, true)
	report := &types.CycleReport{Host: "ntnx-01", Services: []types.ServiceResult{{State: types.StateOK}}}
	if err := e.ExportCycle(context.Background(), report); err != nil {
		t.Fatal(err)
	}
	if len(hook.AllEntries()) != 0 {
		t.Errorf("expected healthy cycle to be suppressed")
	}
}

func TestReload(t *testing.T) {
	e, hook := newTestExporter(t, false)

	cfg := &types.CheckerConfig{Exporters: types.ExporterConfigs{
		Log: &types.LogExporterConfig{Enabled: true, OnlyProblems: true},
	}}
	summary := types.ReloadExporters([]types.Exporter{e}, cfg)
	if err := summary.Err(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	_ = e.ExportResult(context.Background(), &types.ServiceResult{State: types.StateOK})
	if len(hook.AllEntries()) != 0 {
		t.Error("OK result should be suppressed after reload")
	}

	if err := e.Reload(&types.CheckerConfig{}); err == nil {
		t.Error("expected error when log exporter is removed")
	}
}
