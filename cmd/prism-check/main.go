// prism-check - evaluates Nutanix Prism agent sections and reports service states
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/supporttools/prism-check/pkg/agent"
	"github.com/supporttools/prism-check/pkg/checks"
	"github.com/supporttools/prism-check/pkg/engine"
	httpexporter "github.com/supporttools/prism-check/pkg/exporters/http"
	logexporter "github.com/supporttools/prism-check/pkg/exporters/log"
	promexporter "github.com/supporttools/prism-check/pkg/exporters/prometheus"
	"github.com/supporttools/prism-check/pkg/logger"
	"github.com/supporttools/prism-check/pkg/plugins"
	"github.com/supporttools/prism-check/pkg/reload"
	"github.com/supporttools/prism-check/pkg/rules"
	"github.com/supporttools/prism-check/pkg/server"
	"github.com/supporttools/prism-check/pkg/types"
	"github.com/supporttools/prism-check/pkg/util"
)

// Build-time variables set by goreleaser or make
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Exit codes. One-shot runs exit with the worst service state.
const (
	exitUsage  = 64
	exitConfig = 78
)

type options struct {
	configPath  string
	agentOutput string
	host        string
	logLevel    string
	logFormat   string
	serve       bool
	initConfig  string
	showVersion bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("prism-check", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.configPath, "config", "", "Path to configuration file (defaults apply when empty or missing)")
	fs.StringVar(&opts.agentOutput, "agent-output", "", `Override agent output file ("-" reads standard input)`)
	fs.StringVar(&opts.host, "host", "", "Override monitored host name")
	fs.StringVar(&opts.logLevel, "log-level", "", "Override log level (debug, info, warn, error, fatal)")
	fs.StringVar(&opts.logFormat, "log-format", "", "Override log format (json, text)")
	fs.BoolVar(&opts.serve, "serve", false, "Run cycles periodically and serve metrics and health endpoints")
	fs.StringVar(&opts.initConfig, "init-config", "", "Write the default configuration to this path and exit")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version information and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	logger.Close()
	os.Exit(code)
}

// run executes the command and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	if opts.showVersion {
		printVersion(stdout)
		return 0
	}

	if opts.initConfig != "" {
		config, err := util.DefaultConfig()
		if err == nil {
			err = util.SaveConfig(config, opts.initConfig)
		}
		if err != nil {
			fmt.Fprintf(stderr, "failed to write default configuration: %v\n", err)
			return exitConfig
		}
		fmt.Fprintf(stdout, "Default configuration written to %s\n", opts.initConfig)
		return 0
	}

	config, err := loadConfiguration(opts)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return exitConfig
	}
	if err := logger.InitializeFromSettings(&config.Settings); err != nil {
		fmt.Fprintf(stderr, "failed to initialize logging: %v\n", err)
		return exitConfig
	}

	registry, err := checks.NewRegistry()
	if err != nil {
		fmt.Fprintf(stderr, "failed to register checks: %v\n", err)
		return exitConfig
	}
	if err := config.ValidateWithRegistry(registry); err != nil {
		fmt.Fprintf(stderr, "configuration validation failed: %v\n", err)
		return exitConfig
	}

	store, err := rules.NewStore(config.Rulesets)
	if err != nil {
		fmt.Fprintf(stderr, "invalid rules: %v\n", err)
		return exitConfig
	}

	if opts.serve {
		if err := serve(ctx, opts, config, registry, store); err != nil {
			logger.WithError(err).Error("prism-check stopped with error")
			return 1
		}
		return 0
	}
	return runOnce(ctx, config, registry, store, stdin, stdout)
}

// loadConfiguration loads the file (or defaults), then applies flag
// overrides and validates again.
func loadConfiguration(opts *options) (*types.CheckerConfig, error) {
	config, err := util.LoadConfigOrDefault(opts.configPath)
	if err != nil {
		return nil, err
	}

	applyFlagOverrides(config, opts)

	if err := config.ApplyDefaults(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed after applying overrides: %w", err)
	}
	return config, nil
}

func applyFlagOverrides(config *types.CheckerConfig, opts *options) {
	if opts.host != "" {
		config.Settings.HostName = opts.host
	}
	if opts.agentOutput != "" {
		config.Agent.OutputFile = opts.agentOutput
	}
	if opts.logLevel != "" {
		config.Settings.LogLevel = opts.logLevel
	}
	if opts.logFormat != "" {
		config.Settings.LogFormat = opts.logFormat
	}
}

// readAgentOutput parses the configured agent output. "-" reads stdin.
func readAgentOutput(path string, stdin io.Reader) (map[string]types.StringTable, error) {
	if path == "-" {
		return agent.Parse(stdin)
	}
	return agent.ParseFile(path)
}

// runOnce evaluates one cycle, prints one line per service and returns the
// worst state as exit code.
func runOnce(ctx context.Context, config *types.CheckerConfig, registry *plugins.Registry, store *rules.Store, stdin io.Reader, stdout io.Writer) int {
	tables, err := readAgentOutput(config.Agent.OutputFile, stdin)
	if err != nil {
		fmt.Fprintf(stdout, "Agent output: UNKNOWN - %v\n", err)
		return int(types.StateUnknown)
	}

	eng, err := engine.New(registry, store)
	if err != nil {
		fmt.Fprintf(stdout, "Engine: UNKNOWN - %v\n", err)
		return int(types.StateUnknown)
	}

	report, err := eng.RunCycle(ctx, config.Settings.HostName, tables)
	if report != nil {
		writeReport(stdout, report)
	}
	if err != nil {
		fmt.Fprintf(stdout, "Cycle: UNKNOWN - %v\n", err)
		return int(types.StateUnknown)
	}
	return int(report.WorstState())
}

// writeReport prints "<service>: <STATE> - <summary>" lines followed by
// section and discovery errors.
func writeReport(w io.Writer, report *types.CycleReport) {
	for _, svc := range report.Services {
		fmt.Fprintf(w, "%s: %s - %s\n", svc.Description, svc.State, svc.Summary)
	}
	for _, name := range sortedKeys(report.SectionErrors) {
		fmt.Fprintf(w, "Section %s: %s - %v\n", name, types.StateUnknown, report.SectionErrors[name])
	}
	for _, name := range sortedKeys(report.DiscoveryErrors) {
		fmt.Fprintf(w, "Discovery %s: %s - %v\n", name, types.StateUnknown, report.DiscoveryErrors[name])
	}
}

func sortedKeys(m map[string]error) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// exporterSet holds the exporters enabled in a configuration. The
// Prometheus and HTTP exporters are kept separately because they need
// serving and starting.
type exporterSet struct {
	all  []types.Exporter
	prom *promexporter.PrometheusExporter
	http *httpexporter.HTTPExporter
}

// createExporters builds the exporters enabled in config.
func createExporters(config *types.CheckerConfig) (*exporterSet, error) {
	set := &exporterSet{}

	if p := config.Exporters.Prometheus; p != nil && p.Enabled {
		prom, err := promexporter.NewPrometheusExporter(p, promexporter.BuildInfo{
			Version:   Version,
			GitCommit: GitCommit,
			BuildTime: BuildTime,
		})
		if err != nil {
			return nil, fmt.Errorf("prometheus exporter: %w", err)
		}
		set.prom = prom
		set.all = append(set.all, prom)
	}

	if l := config.Exporters.Log; l != nil && l.Enabled {
		exp, err := logexporter.NewLogExporter(l)
		if err != nil {
			return nil, fmt.Errorf("log exporter: %w", err)
		}
		set.all = append(set.all, exp)
	}

	if h := config.Exporters.HTTP; h != nil && h.Enabled {
		exp, err := httpexporter.NewHTTPExporter(h)
		if err != nil {
			return nil, fmt.Errorf("http exporter: %w", err)
		}
		set.http = exp
		set.all = append(set.all, exp)
	}

	return set, nil
}

// serve runs a cycle every check interval until ctx is cancelled.
func serve(ctx context.Context, opts *options, initial *types.CheckerConfig, registry *plugins.Registry, store *rules.Store) error {
	if initial.Agent.OutputFile == "-" {
		return fmt.Errorf("serve mode needs agent.outputFile to name a file, not standard input")
	}

	log := logger.ForComponent("main")
	log.WithFields(logrus.Fields{
		"version":  Version,
		"host":     initial.Settings.HostName,
		"interval": initial.Settings.CheckInterval.String(),
	}).Info("prism-check starting")

	exporters, err := createExporters(initial)
	if err != nil {
		return err
	}
	eng, err := engine.New(registry, store, exporters.all...)
	if err != nil {
		return err
	}

	if exporters.http != nil {
		if err := exporters.http.Start(); err != nil {
			return err
		}
		defer exporters.http.Stop()
	}

	var current atomic.Pointer[types.CheckerConfig]
	current.Store(initial)

	if prom := exporters.prom; prom != nil {
		p := initial.Exporters.Prometheus
		srv, err := server.New(server.Config{
			BindAddress:    p.BindAddress,
			Port:           p.Port,
			MetricsPath:    prom.Path(),
			MetricsHandler: prom.Handler(),
			StaleAfter:     3 * initial.Settings.CheckInterval,
		}, eng.Statistics())
		if err != nil {
			return err
		}
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Stop(shutdownCtx); err != nil {
				log.WithError(err).Warn("Server shutdown failed")
			}
		}()
	}

	if initial.Reload.Enabled && opts.configPath != "" {
		stopReload, err := startReload(ctx, opts, initial, registry, store, exporters.all, &current)
		if err != nil {
			return err
		}
		defer stopReload()
	}

	for {
		cfg := current.Load()
		runServeCycle(ctx, eng, cfg)

		timer := time.NewTimer(cfg.Settings.CheckInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info("prism-check stopped")
			return nil
		case <-timer.C:
		}
	}
}

func runServeCycle(ctx context.Context, eng *engine.Engine, cfg *types.CheckerConfig) {
	log := logger.WithFields(logrus.Fields{"component": "main", "host": cfg.Settings.HostName})

	tables, err := readAgentOutput(cfg.Agent.OutputFile, nil)
	if err != nil {
		log.WithError(err).Error("Failed to read agent output")
		return
	}
	if _, err := eng.RunCycle(ctx, cfg.Settings.HostName, tables); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("Check cycle failed")
	}
}

// startReload watches the config file and applies accepted changes.
func startReload(
	ctx context.Context,
	opts *options,
	initial *types.CheckerConfig,
	registry *plugins.Registry,
	store *rules.Store,
	exporters []types.Exporter,
	current *atomic.Pointer[types.CheckerConfig],
) (func(), error) {
	apply := reloadApplier(opts, store, exporters, current)

	coordinator := reload.NewReloadCoordinator(opts.configPath, initial, apply, func(c *types.CheckerConfig) error {
		return c.ValidateWithRegistry(registry)
	})

	watcher, err := reload.NewConfigWatcher(opts.configPath, initial.Reload.DebounceInterval)
	if err != nil {
		return nil, err
	}
	changes, err := watcher.Start(ctx)
	if err != nil {
		watcher.Stop()
		return nil, err
	}
	go coordinator.Run(ctx, changes)

	return watcher.Stop, nil
}

// reloadApplier returns the callback that applies an accepted configuration.
// Everything that can fail runs before the rules and the current config are
// swapped, and the logger is restored when a later step fails.
func reloadApplier(
	opts *options,
	store *rules.Store,
	exporters []types.Exporter,
	current *atomic.Pointer[types.CheckerConfig],
) reload.ReloadCallback {
	return func(ctx context.Context, next *types.CheckerConfig, diff *reload.ConfigDiff) error {
		applyFlagOverrides(next, opts)
		if err := next.ApplyDefaults(); err != nil {
			return err
		}
		if next.Agent.OutputFile == "-" {
			return fmt.Errorf("agent.outputFile must name a file in serve mode")
		}
		if diff.RulesChanged() {
			if _, err := rules.NewStore(next.Rulesets); err != nil {
				return err
			}
		}

		prev := current.Load()
		if diff.SettingsChanged {
			if err := logger.InitializeFromSettings(&next.Settings); err != nil {
				return err
			}
		}
		if diff.ExportersChanged {
			if err := types.ReloadExporters(exporters, next).Err(); err != nil {
				if diff.SettingsChanged {
					if rerr := logger.InitializeFromSettings(&prev.Settings); rerr != nil {
						logger.WithError(rerr).Warn("Failed to restore logging settings")
					}
				}
				return err
			}
		}
		if diff.RulesChanged() {
			if err := store.Replace(next.Rulesets); err != nil {
				return err
			}
		}
		current.Store(next)
		return nil
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "prism-check %s\n", Version)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Go Version: %s\n", runtime.Version())
	fmt.Fprintf(w, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
}
