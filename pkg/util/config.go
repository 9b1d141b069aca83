// Package util loads and saves prism-check configuration files.
package util

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/supporttools/prism-check/pkg/types"
)

// EnvPrefix prefixes every environment override, e.g. PRISMCHECK_HOST_NAME.
const EnvPrefix = "PRISMCHECK"

// DefaultAPIVersion is written into generated configurations.
const DefaultAPIVersion = "prism-check/v1"

// EnvOverrides are settings that can be supplied through the environment.
// Empty or zero values leave the file configuration untouched.
type EnvOverrides struct {
	HostName        string `envconfig:"HOST_NAME"`
	LogLevel        string `envconfig:"LOG_LEVEL"`
	LogFormat       string `envconfig:"LOG_FORMAT"`
	LogOutput       string `envconfig:"LOG_OUTPUT"`
	LogFile         string `envconfig:"LOG_FILE"`
	CheckInterval   string `envconfig:"CHECK_INTERVAL"`
	AgentOutputFile string `envconfig:"AGENT_OUTPUT_FILE"`
	MetricsPort     int    `envconfig:"METRICS_PORT"`
}

// LoadEnvOverrides reads PRISMCHECK_* variables.
func LoadEnvOverrides() (*EnvOverrides, error) {
	var o EnvOverrides
	if err := envconfig.Process(EnvPrefix, &o); err != nil {
		return nil, fmt.Errorf("failed to read environment overrides: %w", err)
	}
	return &o, nil
}

// Apply copies the non-empty overrides into config. Call it before
// ApplyDefaults so interval strings are parsed.
func (o *EnvOverrides) Apply(config *types.CheckerConfig) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&config.Settings.HostName, o.HostName)
	set(&config.Settings.LogLevel, o.LogLevel)
	set(&config.Settings.LogFormat, o.LogFormat)
	set(&config.Settings.LogOutput, o.LogOutput)
	set(&config.Settings.LogFile, o.LogFile)
	set(&config.Settings.CheckIntervalString, o.CheckInterval)
	set(&config.Agent.OutputFile, o.AgentOutputFile)

	if o.MetricsPort != 0 {
		if config.Exporters.Prometheus == nil {
			config.Exporters.Prometheus = &types.PrometheusExporterConfig{Enabled: true}
		}
		config.Exporters.Prometheus.Port = o.MetricsPort
	}
}

// LoadConfig loads configuration from a file (YAML or JSON).
// The file format is determined by extension (.yaml, .yml, .json).
// Environment variables are substituted, PRISMCHECK_* overrides applied,
// defaults filled in and the result validated.
func LoadConfig(path string) (*types.CheckerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Expanding before parsing lets variables fill non-string fields.
	data = []byte(os.ExpandEnv(string(data)))

	var config types.CheckerConfig
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	case ".json":
		err = json.Unmarshal(data, &config)
	default:
		err = yaml.Unmarshal(data, &config)
		if err != nil {
			err = json.Unmarshal(data, &config)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.SubstituteEnvVars()

	if err := finalize(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadConfigOrDefault loads configuration from a file, or returns the
// default configuration if path is empty or the file does not exist.
func LoadConfigOrDefault(path string) (*types.CheckerConfig, error) {
	if path == "" {
		return DefaultConfig()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig()
	}
	return LoadConfig(path)
}

// DefaultConfig returns a configuration with no rules, the Prometheus
// exporter enabled and the host name taken from PRISMCHECK_HOST_NAME or the
// local hostname.
func DefaultConfig() (*types.CheckerConfig, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	config := &types.CheckerConfig{
		APIVersion: DefaultAPIVersion,
		Kind:       types.ConfigKind,
		Settings:   types.GlobalSettings{HostName: hostname},
		Rulesets:   map[string][]types.RuleConfig{},
		Exporters: types.ExporterConfigs{
			Prometheus: &types.PrometheusExporterConfig{Enabled: true},
			Log:        &types.LogExporterConfig{Enabled: true, OnlyProblems: true},
		},
	}

	if err := finalize(config); err != nil {
		return nil, fmt.Errorf("default config: %w", err)
	}
	return config, nil
}

// finalize applies environment overrides and defaults, then validates.
func finalize(config *types.CheckerConfig) error {
	overrides, err := LoadEnvOverrides()
	if err != nil {
		return err
	}
	overrides.Apply(config)

	if err := config.ApplyDefaults(); err != nil {
		return fmt.Errorf("failed to apply defaults: %w", err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// SaveConfig saves configuration to a file (YAML or JSON based on extension).
func SaveConfig(config *types.CheckerConfig, path string) error {
	var (
		data []byte
		err  error
	)
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	case ".json":
		data, err = json.MarshalIndent(config, "", "  ")
	default:
		return fmt.Errorf("unsupported file extension: %s (use .yaml, .yml, or .json)", ext)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ValidateConfigFile loads path and reports any error.
func ValidateConfigFile(path string) error {
	_, err := LoadConfig(path)
	return err
}
