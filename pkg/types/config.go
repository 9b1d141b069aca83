package types

import (
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Package-level defaults
const (
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultLogOutput        = "stderr"
	DefaultCheckInterval    = "60s"
	DefaultAgentOutputFile  = "-"
	DefaultPrometheusPort   = 9109
	DefaultPrometheusPath   = "/metrics"
	DefaultPrometheusBind   = "0.0.0.0"
	DefaultMetricsNamespace = "prism_check"
	DefaultDebounceInterval = "500ms"
	DefaultHTTPWorkers      = 2
	DefaultHTTPQueueSize    = 100
	DefaultHTTPTimeout      = "10s"
	DefaultRetryAttempts    = 3
	DefaultRetryBaseDelay   = "1s"
	DefaultRetryMaxDelay    = "30s"
	DefaultWebhookMinState  = "WARN"

	// ConfigKind is the only accepted value of CheckerConfig.Kind.
	ConfigKind = "PrismCheckConfig"
)

var (
	// Prometheus namespace validation regex
	prometheusNamespaceRegex = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)

	// MinCheckInterval keeps the serve loop from spinning.
	MinCheckInterval = 1 * time.Second

	structValidator = validator.New()
)

// CheckerConfig is the top-level configuration structure.
type CheckerConfig struct {
	// APIVersion of the configuration schema
	APIVersion string `json:"apiVersion" yaml:"apiVersion" validate:"required"`

	// Kind of resource (always "PrismCheckConfig")
	Kind string `json:"kind" yaml:"kind" validate:"required,eq=PrismCheckConfig"`

	Settings GlobalSettings `json:"settings" yaml:"settings"`

	Agent AgentConfig `json:"agent" yaml:"agent"`

	// Rulesets maps rule-set names to ordered parameter rules.
	Rulesets map[string][]RuleConfig `json:"rulesets,omitempty" yaml:"rulesets,omitempty" validate:"dive,keys,required,endkeys,dive"`

	Exporters ExporterConfigs `json:"exporters" yaml:"exporters"`

	// Reload contains configuration hot reload settings
	Reload ReloadConfig `json:"reload,omitempty" yaml:"reload,omitempty"`
}

// GlobalSettings contains global configuration settings.
type GlobalSettings struct {
	// HostName is the monitored appliance the agent output belongs to.
	HostName string `json:"hostName" yaml:"hostName" validate:"required"`

	// Logging configuration
	LogLevel  string `json:"logLevel,omitempty" yaml:"logLevel,omitempty" validate:"oneof=debug info warn error fatal"`
	LogFormat string `json:"logFormat,omitempty" yaml:"logFormat,omitempty" validate:"oneof=json text"`
	LogOutput string `json:"logOutput,omitempty" yaml:"logOutput,omitempty" validate:"oneof=stdout stderr file"`
	LogFile   string `json:"logFile,omitempty" yaml:"logFile,omitempty" validate:"required_if=LogOutput file"`

	// CheckIntervalString is how often serve mode runs a cycle.
	CheckIntervalString string        `json:"checkInterval,omitempty" yaml:"checkInterval,omitempty"`
	CheckInterval       time.Duration `json:"-" yaml:"-"`
}

// AgentConfig tells the checker where to read agent output from.
type AgentConfig struct {
	// OutputFile holds the agent dump; "-" reads standard input.
	OutputFile string `json:"outputFile,omitempty" yaml:"outputFile,omitempty" validate:"required"`
}

// RuleConfig is a single parameter override within a rule-set.
type RuleConfig struct {
	// Hosts are glob patterns (path.Match syntax). Empty matches every host.
	Hosts []string `json:"hosts,omitempty" yaml:"hosts,omitempty"`

	// Value holds the parameters this rule sets.
	Value Parameters `json:"value" yaml:"value" validate:"required"`

	// Disabled rules are kept in configuration but never match.
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`

	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// ExporterConfigs contains configuration for all exporters.
type ExporterConfigs struct {
	Prometheus *PrometheusExporterConfig `json:"prometheus,omitempty" yaml:"prometheus,omitempty"`
	Log        *LogExporterConfig        `json:"log,omitempty" yaml:"log,omitempty"`
	HTTP       *HTTPExporterConfig       `json:"http,omitempty" yaml:"http,omitempty"`
}

// PrometheusExporterConfig configures the Prometheus exporter and the HTTP
// server that exposes it.
type PrometheusExporterConfig struct {
	Enabled     bool              `json:"enabled" yaml:"enabled"`
	BindAddress string            `json:"bindAddress,omitempty" yaml:"bindAddress,omitempty"`
	Port        int               `json:"port,omitempty" yaml:"port,omitempty"`
	Path        string            `json:"path,omitempty" yaml:"path,omitempty"`
	Namespace   string            `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Subsystem   string            `json:"subsystem,omitempty" yaml:"subsystem,omitempty"`
	Labels      map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// LogExporterConfig configures the structured log exporter.
type LogExporterConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// OnlyProblems suppresses OK results.
	OnlyProblems bool `json:"onlyProblems,omitempty" yaml:"onlyProblems,omitempty"`
}

// HTTPExporterConfig configures delivery of results to webhooks.
type HTTPExporterConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Workers is the number of goroutines delivering requests.
	Workers int `json:"workers,omitempty" yaml:"workers,omitempty"`

	// QueueSize bounds pending requests; new requests are dropped when full.
	QueueSize int `json:"queueSize,omitempty" yaml:"queueSize,omitempty"`

	// TimeoutString is the default per-request timeout (e.g., "10s").
	TimeoutString string        `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Timeout       time.Duration `json:"-" yaml:"-"`

	// Headers are added to every webhook request.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	Webhooks []WebhookEndpoint `json:"webhooks,omitempty" yaml:"webhooks,omitempty" validate:"dive"`
}

// WebhookEndpoint is one webhook receiving results.
type WebhookEndpoint struct {
	Name string `json:"name" yaml:"name" validate:"required"`
	URL  string `json:"url" yaml:"url" validate:"required,url"`

	Auth    AuthConfig        `json:"auth,omitempty" yaml:"auth,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	TimeoutString string        `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Timeout       time.Duration `json:"-" yaml:"-"`

	Retry RetryConfig `json:"retry,omitempty" yaml:"retry,omitempty"`

	// SendResults posts service results at or above MinState.
	SendResults bool   `json:"sendResults,omitempty" yaml:"sendResults,omitempty"`
	MinState    string `json:"minState,omitempty" yaml:"minState,omitempty" validate:"omitempty,oneof=OK WARN CRIT UNKNOWN"`

	// SendCycles posts one summary per check cycle.
	SendCycles bool `json:"sendCycles,omitempty" yaml:"sendCycles,omitempty"`
}

// AuthConfig configures webhook authentication.
type AuthConfig struct {
	Type     string `json:"type,omitempty" yaml:"type,omitempty" validate:"omitempty,oneof=none bearer basic"`
	Token    string `json:"token,omitempty" yaml:"token,omitempty" validate:"required_if=Type bearer"`
	Username string `json:"username,omitempty" yaml:"username,omitempty" validate:"required_if=Type basic"`
	Password string `json:"password,omitempty" yaml:"password,omitempty" validate:"required_if=Type basic"`
}

// RetryConfig configures exponential backoff for webhook delivery.
type RetryConfig struct {
	MaxAttempts     int           `json:"maxAttempts,omitempty" yaml:"maxAttempts,omitempty"`
	BaseDelayString string        `json:"baseDelay,omitempty" yaml:"baseDelay,omitempty"`
	BaseDelay       time.Duration `json:"-" yaml:"-"`
	MaxDelayString  string        `json:"maxDelay,omitempty" yaml:"maxDelay,omitempty"`
	MaxDelay        time.Duration `json:"-" yaml:"-"`
}

// ReloadConfig contains configuration hot reload settings.
type ReloadConfig struct {
	// Enabled indicates whether hot reload is enabled
	Enabled bool `json:"enabled" yaml:"enabled"`

	// DebounceIntervalString is the debounce interval as a string (e.g., "500ms")
	DebounceIntervalString string `json:"debounceInterval,omitempty" yaml:"debounceInterval,omitempty"`

	// DebounceInterval is the parsed debounce duration
	DebounceInterval time.Duration `json:"-" yaml:"-"`
}

// ApplyDefaults applies default values to reload configuration.
func (r *ReloadConfig) ApplyDefaults() error {
	if r.DebounceIntervalString == "" {
		r.DebounceIntervalString = DefaultDebounceInterval
	}

	duration, err := time.ParseDuration(r.DebounceIntervalString)
	if err != nil {
		return fmt.Errorf("invalid debounceInterval %q: %w", r.DebounceIntervalString, err)
	}
	r.DebounceInterval = duration

	return nil
}

// ApplyDefaults applies default values to the configuration.
func (c *CheckerConfig) ApplyDefaults() error {
	if err := c.Settings.ApplyDefaults(); err != nil {
		return fmt.Errorf("failed to apply defaults to settings: %w", err)
	}

	if c.Agent.OutputFile == "" {
		c.Agent.OutputFile = DefaultAgentOutputFile
	}

	if c.Exporters.Prometheus != nil {
		if err := c.Exporters.Prometheus.ApplyDefaults(); err != nil {
			return fmt.Errorf("failed to apply defaults to prometheus exporter: %w", err)
		}
	}

	if c.Exporters.HTTP != nil {
		if err := c.Exporters.HTTP.ApplyDefaults(); err != nil {
			return fmt.Errorf("failed to apply defaults to http exporter: %w", err)
		}
	}

	if err := c.Reload.ApplyDefaults(); err != nil {
		return fmt.Errorf("failed to apply defaults to reload: %w", err)
	}

	return nil
}

// ApplyDefaults applies default values to GlobalSettings.
func (s *GlobalSettings) ApplyDefaults() error {
	if s.LogLevel == "" {
		s.LogLevel = DefaultLogLevel
	}
	if s.LogFormat == "" {
		s.LogFormat = DefaultLogFormat
	}
	if s.LogOutput == "" {
		s.LogOutput = DefaultLogOutput
	}
	if s.CheckIntervalString == "" {
		s.CheckIntervalString = DefaultCheckInterval
	}

	var err error
	s.CheckInterval, err = time.ParseDuration(s.CheckIntervalString)
	if err != nil {
		return fmt.Errorf("invalid checkInterval %q: %w", s.CheckIntervalString, err)
	}

	return nil
}

// ApplyDefaults applies default values to PrometheusExporterConfig.
func (p *PrometheusExporterConfig) ApplyDefaults() error {
	if p.BindAddress == "" {
		p.BindAddress = DefaultPrometheusBind
	}
	if p.Port == 0 {
		p.Port = DefaultPrometheusPort
	}
	if p.Path == "" {
		p.Path = DefaultPrometheusPath
	}
	if p.Namespace == "" {
		p.Namespace = DefaultMetricsNamespace
	}
	return nil
}

// ApplyDefaults applies default values to HTTPExporterConfig and its webhooks.
func (h *HTTPExporterConfig) ApplyDefaults() error {
	if h.Workers == 0 {
		h.Workers = DefaultHTTPWorkers
	}
	if h.QueueSize == 0 {
		h.QueueSize = DefaultHTTPQueueSize
	}
	if h.TimeoutString == "" {
		h.TimeoutString = DefaultHTTPTimeout
	}
	timeout, err := time.ParseDuration(h.TimeoutString)
	if err != nil {
		return fmt.Errorf("invalid timeout %q: %w", h.TimeoutString, err)
	}
	h.Timeout = timeout

	for i := range h.Webhooks {
		if err := h.Webhooks[i].applyDefaults(h.Timeout); err != nil {
			return fmt.Errorf("webhook %q: %w", h.Webhooks[i].Name, err)
		}
	}
	return nil
}

func (w *WebhookEndpoint) applyDefaults(timeout time.Duration) error {
	if w.Auth.Type == "" {
		w.Auth.Type = "none"
	}
	if w.MinState == "" {
		w.MinState = DefaultWebhookMinState
	}

	if w.TimeoutString == "" {
		w.Timeout = timeout
	} else {
		d, err := time.ParseDuration(w.TimeoutString)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", w.TimeoutString, err)
		}
		w.Timeout = d
	}

	if w.Retry.MaxAttempts == 0 {
		w.Retry.MaxAttempts = DefaultRetryAttempts
	}
	if w.Retry.BaseDelayString == "" {
		w.Retry.BaseDelayString = DefaultRetryBaseDelay
	}
	if w.Retry.MaxDelayString == "" {
		w.Retry.MaxDelayString = DefaultRetryMaxDelay
	}
	var err error
	if w.Retry.BaseDelay, err = time.ParseDuration(w.Retry.BaseDelayString); err != nil {
		return fmt.Errorf("invalid retry.baseDelay %q: %w", w.Retry.BaseDelayString, err)
	}
	if w.Retry.MaxDelay, err = time.ParseDuration(w.Retry.MaxDelayString); err != nil {
		return fmt.Errorf("invalid retry.maxDelay %q: %w", w.Retry.MaxDelayString, err)
	}
	return nil
}

// Validate validates the entire configuration. Struct tags are checked first,
// then the rules tags cannot express.
func (c *CheckerConfig) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.Settings.Validate(); err != nil {
		return fmt.Errorf("settings validation failed: %w", err)
	}

	for name, rules := range c.Rulesets {
		for i, rule := range rules {
			if err := rule.Validate(); err != nil {
				return fmt.Errorf("rule-set %q rule %d: %w", name, i, err)
			}
		}
	}

	if c.Exporters.Prometheus != nil {
		if err := c.Exporters.Prometheus.Validate(); err != nil {
			return fmt.Errorf("prometheus exporter validation failed: %w", err)
		}
	}

	if c.Exporters.HTTP != nil {
		if err := c.Exporters.HTTP.Validate(); err != nil {
			return fmt.Errorf("http exporter validation failed: %w", err)
		}
	}

	if c.Reload.Enabled && c.Reload.DebounceInterval < 0 {
		return fmt.Errorf("reload.debounceInterval must not be negative, got %v", c.Reload.DebounceInterval)
	}

	return nil
}

// Validate validates the GlobalSettings configuration.
func (s *GlobalSettings) Validate() error {
	if s.CheckInterval <= 0 {
		return fmt.Errorf("checkInterval must be positive, got %v", s.CheckInterval)
	}
	if s.CheckInterval < MinCheckInterval {
		return fmt.Errorf("checkInterval %v is below minimum threshold of %v", s.CheckInterval, MinCheckInterval)
	}
	return nil
}

// Validate checks host patterns for syntax errors.
func (r RuleConfig) Validate() error {
	for _, pattern := range r.Hosts {
		if _, err := path.Match(pattern, ""); err != nil {
			return fmt.Errorf("invalid host pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// Validate validates the PrometheusExporterConfig configuration.
func (p *PrometheusExporterConfig) Validate() error {
	if !p.Enabled {
		return nil // No validation needed if disabled
	}

	if p.Port <= 0 || p.Port > 65535 {
		return fmt.Errorf("port must be in range 1-65535, got %d", p.Port)
	}

	if !strings.HasPrefix(p.Path, "/") {
		return fmt.Errorf("path must start with '/', got %q", p.Path)
	}
	if p.Path == "/healthz" || p.Path == "/ready" {
		return fmt.Errorf("path %q collides with a health endpoint", p.Path)
	}

	if p.Namespace != "" && !prometheusNamespaceRegex.MatchString(p.Namespace) {
		return fmt.Errorf("namespace %q is invalid, must match pattern ^[a-zA-Z_:][a-zA-Z0-9_:]*$", p.Namespace)
	}
	if p.Subsystem != "" && !prometheusNamespaceRegex.MatchString(p.Subsystem) {
		return fmt.Errorf("subsystem %q is invalid, must match pattern ^[a-zA-Z_:][a-zA-Z0-9_:]*$", p.Subsystem)
	}

	return nil
}

// Validate validates the HTTPExporterConfig configuration.
func (h *HTTPExporterConfig) Validate() error {
	if !h.Enabled {
		return nil
	}
	if h.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", h.Workers)
	}
	if h.QueueSize <= 0 {
		return fmt.Errorf("queueSize must be positive, got %d", h.QueueSize)
	}
	if len(h.Webhooks) == 0 {
		return fmt.Errorf("at least one webhook is required when the http exporter is enabled")
	}

	names := make(map[string]bool, len(h.Webhooks))
	for _, w := range h.Webhooks {
		if names[w.Name] {
			return fmt.Errorf("duplicate webhook name %q", w.Name)
		}
		names[w.Name] = true
		if err := w.Validate(); err != nil {
			return fmt.Errorf("webhook %q: %w", w.Name, err)
		}
	}
	return nil
}

// Validate checks the timing and delivery settings of one webhook.
func (w WebhookEndpoint) Validate() error {
	if !strings.HasPrefix(w.URL, "http://") && !strings.HasPrefix(w.URL, "https://") {
		return fmt.Errorf("url must use http or https, got %q", w.URL)
	}
	if w.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", w.Timeout)
	}
	if w.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.maxAttempts must be at least 1, got %d", w.Retry.MaxAttempts)
	}
	if w.Retry.MaxDelay < w.Retry.BaseDelay {
		return fmt.Errorf("retry.maxDelay %v is below retry.baseDelay %v", w.Retry.MaxDelay, w.Retry.BaseDelay)
	}
	if !w.SendResults && !w.SendCycles {
		return fmt.Errorf("webhook sends nothing, enable sendResults or sendCycles")
	}
	if err := w.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	return nil
}

// Validate rejects credentials that cannot be carried in an Authorization
// header.
func (a AuthConfig) Validate() error {
	switch a.Type {
	case "", "none":
		return nil
	case "bearer":
		if a.Token == "" {
			return fmt.Errorf("token is required for bearer auth")
		}
		if strings.ContainsAny(a.Token, "\r\n") {
			return fmt.Errorf("bearer token contains invalid characters")
		}
	case "basic":
		if a.Username == "" || a.Password == "" {
			return fmt.Errorf("username and password are required for basic auth")
		}
		if strings.ContainsAny(a.Username, ":\r\n") {
			return fmt.Errorf("username contains invalid characters")
		}
		if strings.ContainsAny(a.Password, "\r\n") {
			return fmt.Errorf("password contains invalid characters")
		}
	default:
		return fmt.Errorf("unsupported auth type %q", a.Type)
	}
	return nil
}

// formatValidationErrors turns validator errors into one readable error.
func formatValidationErrors(err error) error {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		field := strings.TrimPrefix(e.Namespace(), "CheckerConfig.")
		switch e.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", field))
		case "required_if":
			messages = append(messages, fmt.Sprintf("%s is required when %s", field, e.Param()))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s %q must be one of: %s", field, e.Value(), e.Param()))
		case "eq":
			messages = append(messages, fmt.Sprintf("%s must be %q, got %q", field, e.Param(), e.Value()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed %s validation", field, e.Tag()))
		}
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(messages, "; "))
}

// SubstituteEnvVars performs environment variable substitution on fields
// that commonly come from the deployment environment.
func (c *CheckerConfig) SubstituteEnvVars() {
	c.Settings.HostName = os.ExpandEnv(c.Settings.HostName)
	c.Settings.LogFile = os.ExpandEnv(c.Settings.LogFile)
	c.Agent.OutputFile = os.ExpandEnv(c.Agent.OutputFile)

	if h := c.Exporters.HTTP; h != nil {
		for i := range h.Webhooks {
			w := &h.Webhooks[i]
			w.URL = os.ExpandEnv(w.URL)
			w.Auth.Token = os.ExpandEnv(w.Auth.Token)
			w.Auth.Username = os.ExpandEnv(w.Auth.Username)
			w.Auth.Password = os.ExpandEnv(w.Auth.Password)
		}
	}

	for name, rules := range c.Rulesets {
		for i := range rules {
			rules[i].Value = substituteEnvInMap(rules[i].Value)
			for j, host := range rules[i].Hosts {
				rules[i].Hosts[j] = os.ExpandEnv(host)
			}
		}
		c.Rulesets[name] = rules
	}
}

// substituteEnvInMap recursively substitutes environment variables in a map.
func substituteEnvInMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	result := make(map[string]interface{}, len(m))
	for key, value := range m {
		result[key] = substituteEnvInValue(value)
	}
	return result
}

func substituteEnvInValue(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return os.ExpandEnv(v)
	case map[string]interface{}:
		return substituteEnvInMap(v)
	case Parameters:
		return Parameters(substituteEnvInMap(v))
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = substituteEnvInValue(item)
		}
		return out
	}
	// Keep other types as-is (numbers, booleans, etc.)
	return value
}

// PluginRegistryValidator provides an interface for validating rule-set names
// without creating an import cycle between the config and plugins packages.
// This interface is implemented by plugins.Registry.
type PluginRegistryValidator interface {
	// RulesetNames returns the rule-set names declared by registered plugins.
	RulesetNames() []string
}

// ValidateWithRegistry validates the configuration and rejects rule-sets no
// registered check plugin declares.
func (c *CheckerConfig) ValidateWithRegistry(registry PluginRegistryValidator) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if registry == nil {
		return nil
	}

	known := make(map[string]bool)
	for _, name := range registry.RulesetNames() {
		known[name] = true
	}
	for name := range c.Rulesets {
		if !known[name] {
			return fmt.Errorf("unknown rule-set %q, available rule-sets: %v", name, registry.RulesetNames())
		}
	}
	return nil
}
