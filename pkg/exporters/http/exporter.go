// Package http delivers check results and cycle summaries to webhooks.
package http

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/supporttools/prism-check/pkg/logger"
	"github.com/supporttools/prism-check/pkg/types"
)

// HTTPExporter posts service results and cycle summaries to the configured
// webhooks through a worker pool.
type HTTPExporter struct {
	mu         sync.RWMutex
	config     *types.HTTPExporterConfig
	minStates  map[string]types.State
	workerPool *WorkerPool
	stats      *Stats
	log        *logrus.Entry
	started    bool
}

// NewHTTPExporter creates an exporter from a defaulted configuration. Call
// Start before exporting.
func NewHTTPExporter(config *types.HTTPExporterConfig) (*HTTPExporter, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if !config.Enabled {
		return nil, fmt.Errorf("HTTP exporter is disabled")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	minStates, err := parseMinStates(config.Webhooks)
	if err != nil {
		return nil, err
	}

	stats := NewStats()
	workerPool, err := NewWorkerPool(config.Workers, config.QueueSize, config.Headers, stats)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	e := &HTTPExporter{
		config:     config,
		minStates:  minStates,
		workerPool: workerPool,
		stats:      stats,
		log:        logger.ForComponent("http-exporter"),
	}
	e.log.WithFields(logrus.Fields{
		"workers":   config.Workers,
		"queueSize": config.QueueSize,
		"webhooks":  len(config.Webhooks),
	}).Info("Created HTTP exporter")
	return e, nil
}

func parseMinStates(webhooks []types.WebhookEndpoint) (map[string]types.State, error) {
	out := make(map[string]types.State, len(webhooks))
	for _, w := range webhooks {
		minState := w.MinState
		if minState == "" {
			minState = types.DefaultWebhookMinState
		}
		state, err := types.ParseState(minState)
		if err != nil {
			return nil, fmt.Errorf("webhook %q: %w", w.Name, err)
		}
		out[w.Name] = state
	}
	return out, nil
}

// Name returns the exporter name.
func (e *HTTPExporter) Name() string {
	return "http"
}

// Start starts the worker pool.
func (e *HTTPExporter) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("HTTP exporter already started")
	}
	for _, webhook := range e.config.Webhooks {
		e.log.WithFields(logrus.Fields{
			"webhook":  webhook.Name,
			"url":      webhook.URL,
			"auth":     webhook.Auth.Type,
			"timeout":  webhook.Timeout.String(),
			"minState": webhook.MinState,
		}).Info("Configured webhook")
	}
	if err := e.workerPool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	e.started = true
	return nil
}

// Stop drains the queue and stops the worker pool.
func (e *HTTPExporter) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	pool := e.workerPool
	e.mu.Unlock()

	pool.Stop()
}

// ExportResult queues result for every webhook that wants results at its
// state.
func (e *HTTPExporter) ExportResult(ctx context.Context, result *types.ServiceResult) error {
	if result == nil {
		return fmt.Errorf("result cannot be nil")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.started {
		return fmt.Errorf("HTTP exporter not started")
	}

	var endpoints []types.WebhookEndpoint
	for _, w := range e.config.Webhooks {
		if w.SendResults && result.State.AtLeast(e.minStates[w.Name]) {
			endpoints = append(endpoints, w)
		}
	}
	if len(endpoints) == 0 {
		return nil
	}

	return e.workerPool.Submit(&WorkerRequest{
		Type:      RequestTypeResult,
		Result:    result,
		Endpoints: endpoints,
		RequestID: uuid.NewString(),
	})
}

// ExportCycle queues the cycle summary for webhooks with sendCycles set.
func (e *HTTPExporter) ExportCycle(ctx context.Context, report *types.CycleReport) error {
	if report == nil {
		return fmt.Errorf("report cannot be nil")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.started {
		return fmt.Errorf("HTTP exporter not started")
	}

	var endpoints []types.WebhookEndpoint
	for _, w := range e.config.Webhooks {
		if w.SendCycles {
			endpoints = append(endpoints, w)
		}
	}
	if len(endpoints) == 0 {
		return nil
	}

	return e.workerPool.Submit(&WorkerRequest{
		Type:      RequestTypeCycle,
		Report:    report,
		Endpoints: endpoints,
		RequestID: uuid.NewString(),
	})
}

// Reload applies new webhook settings. A new worker pool replaces the old
// one, which drains its queue in the background.
func (e *HTTPExporter) Reload(config *types.CheckerConfig) error {
	if config == nil || config.Exporters.HTTP == nil || !config.Exporters.HTTP.Enabled {
		return fmt.Errorf("http exporter was disabled or removed from configuration; restart required")
	}
	next := config.Exporters.HTTP
	if err := next.Validate(); err != nil {
		return fmt.Errorf("new configuration validation failed: %w", err)
	}
	minStates, err := parseMinStates(next.Webhooks)
	if err != nil {
		return err
	}
	pool, err := NewWorkerPool(next.Workers, next.QueueSize, next.Headers, e.stats)
	if err != nil {
		return fmt.Errorf("failed to create new worker pool: %w", err)
	}

	e.mu.Lock()
	if e.started {
		if err := pool.Start(); err != nil {
			e.mu.Unlock()
			return fmt.Errorf("failed to start new worker pool: %w", err)
		}
	}
	old := e.workerPool
	e.workerPool = pool
	e.config = next
	e.minStates = minStates
	started := e.started
	e.mu.Unlock()

	if started {
		go old.Stop()
	}

	e.log.WithFields(logrus.Fields{
		"workers":   next.Workers,
		"queueSize": next.QueueSize,
		"webhooks":  len(next.Webhooks),
	}).Info("Reloaded HTTP exporter configuration")
	return nil
}

// GetStats returns current exporter statistics
func (e *HTTPExporter) GetStats() StatsSnapshot {
	return e.stats.GetSnapshot()
}
