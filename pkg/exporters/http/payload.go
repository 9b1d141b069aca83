package http

import (
	"errors"
	"fmt"
	"time"

	"github.com/supporttools/prism-check/pkg/types"
)

// Request types.
const (
	RequestTypeResult = "result"
	RequestTypeCycle  = "cycle"
)

// WebhookRequest is the JSON payload posted to webhooks.
type WebhookRequest struct {
	// Type is "result" or "cycle".
	Type string `json:"type"`

	Timestamp time.Time `json:"timestamp"`

	// Host is the monitored host the payload describes.
	Host string `json:"host"`

	Result *ResultPayload `json:"result,omitempty"`
	Cycle  *CyclePayload  `json:"cycle,omitempty"`

	Metadata RequestMetadata `json:"metadata"`
}

// ResultPayload describes one service result.
type ResultPayload struct {
	CycleID     string           `json:"cycleId"`
	CheckPlugin string           `json:"checkPlugin"`
	Item        string           `json:"item"`
	Service     string           `json:"service"`
	State       string           `json:"state"`
	Summary     string           `json:"summary"`
	Parameters  types.Parameters `json:"parameters,omitempty"`
	DurationMs  int64            `json:"durationMs"`
}

// CyclePayload summarizes one engine cycle.
type CyclePayload struct {
	CycleID         string            `json:"cycleId"`
	Started         time.Time         `json:"started"`
	DurationMs      int64             `json:"durationMs"`
	WorstState      string            `json:"worstState"`
	Services        map[string]int    `json:"services"`
	SectionErrors   map[string]string `json:"sectionErrors,omitempty"`
	DiscoveryErrors map[string]string `json:"discoveryErrors,omitempty"`
}

// WebhookResponse is the optional JSON body a webhook may answer with.
type WebhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RequestMetadata carries tracing context for a request.
type RequestMetadata struct {
	ExporterVersion string `json:"exporterVersion"`
	RequestID       string `json:"requestId"`
	RetryAttempt    int    `json:"retryAttempt"`
	WebhookName     string `json:"webhookName"`
}

// NewResultRequest builds the payload for a service result.
func NewResultRequest(result *types.ServiceResult, metadata RequestMetadata) *WebhookRequest {
	return &WebhookRequest{
		Type:      RequestTypeResult,
		Timestamp: time.Now(),
		Host:      result.Host,
		Result: &ResultPayload{
			CycleID:     result.CycleID,
			CheckPlugin: result.CheckPlugin,
			Item:        result.Item,
			Service:     result.Description,
			State:       result.State.String(),
			Summary:     result.Summary,
			Parameters:  result.Parameters,
			DurationMs:  result.Duration.Milliseconds(),
		},
		Metadata: metadata,
	}
}

// NewCycleRequest builds the payload for a cycle summary.
func NewCycleRequest(report *types.CycleReport, metadata RequestMetadata) *WebhookRequest {
	services := map[string]int{}
	for _, s := range []types.State{types.StateOK, types.StateWarn, types.StateCrit, types.StateUnknown} {
		services[s.String()] = 0
	}
	for _, svc := range report.Services {
		services[svc.State.String()]++
	}

	return &WebhookRequest{
		Type:      RequestTypeCycle,
		Timestamp: time.Now(),
		Host:      report.Host,
		Cycle: &CyclePayload{
			CycleID:         report.CycleID,
			Started:         report.Started,
			DurationMs:      report.Duration.Milliseconds(),
			WorstState:      report.WorstState().String(),
			Services:        services,
			SectionErrors:   errorStrings(report.SectionErrors),
			DiscoveryErrors: errorStrings(report.DiscoveryErrors),
		},
		Metadata: metadata,
	}
}

func errorStrings(errs map[string]error) map[string]string {
	if len(errs) == 0 {
		return nil
	}
	out := make(map[string]string, len(errs))
	for name, err := range errs {
		out[name] = err.Error()
	}
	return out
}

// Validate validates the webhook request
func (w *WebhookRequest) Validate() error {
	if w.Host == "" {
		return &ValidationError{Field: "host", Message: "host is required"}
	}
	if w.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "timestamp is required"}
	}

	switch w.Type {
	case RequestTypeResult:
		if w.Result == nil {
			return &ValidationError{Field: "result", Message: "result is required when type is 'result'"}
		}
		if _, err := types.ParseState(w.Result.State); err != nil {
			return &ValidationError{Field: "result.state", Message: err.Error()}
		}
	case RequestTypeCycle:
		if w.Cycle == nil {
			return &ValidationError{Field: "cycle", Message: "cycle is required when type is 'cycle'"}
		}
	case "":
		return &ValidationError{Field: "type", Message: "type is required"}
	default:
		return &ValidationError{Field: "type", Message: fmt.Sprintf("type must be 'result' or 'cycle', got %q", w.Type)}
	}
	return nil
}

// Describe returns a short label for logs.
func (w *WebhookRequest) Describe() string {
	if w.Result != nil {
		return fmt.Sprintf("%s %s %s", w.Host, w.Result.Service, w.Result.State)
	}
	if w.Cycle != nil {
		return fmt.Sprintf("%s cycle %s", w.Host, w.Cycle.WorstState)
	}
	return w.Host
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return e.Field + ": " + e.Message
	}
	return e.Message
}

// HTTPError is a non-2xx webhook response.
type HTTPError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration // For 429 responses
}

func (e *HTTPError) Error() string {
	return e.Message
}

// IsRetryable returns true for 5xx, 408 and 429 responses.
func (e *HTTPError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 408 || e.StatusCode == 429
}

// NetworkError represents a network-related error
type NetworkError struct {
	Message string
	Cause   error
}

func (e *NetworkError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *NetworkError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns true since network errors are typically transient
func (e *NetworkError) IsRetryable() bool {
	return true
}

// TimeoutError represents a timeout error
type TimeoutError struct {
	Message string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return e.Message
}

// IsRetryable returns true since timeouts are typically transient
func (e *TimeoutError) IsRetryable() bool {
	return true
}

// RetryableError interface for errors that can be retried
type RetryableError interface {
	error
	IsRetryable() bool
}

// isRetryable reports whether err, or an error it wraps, asks for a retry.
func isRetryable(err error) bool {
	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}
	return false
}
