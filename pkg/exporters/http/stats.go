package http

import (
	"sync"
	"time"
)

// Stats tracks HTTP exporter statistics
type Stats struct {
	mu              sync.RWMutex
	startTime       time.Time
	exportsTotal    map[string]int64
	exportsFailed   map[string]int64
	requestsQueued  int64
	requestsDropped int64
	lastExportTime  time.Time
	lastError       error
	lastErrorTime   time.Time
	webhookStats    map[string]*WebhookStats
}

// WebhookStats tracks per-webhook statistics
type WebhookStats struct {
	name              string
	requestsTotal     int64
	requestsSuccess   int64
	requestsFailed    int64
	lastSuccessTime   time.Time
	lastError         error
	totalResponseTime time.Duration
	retryAttempts     int64
}

// NewStats creates a new Stats instance
func NewStats() *Stats {
	return &Stats{
		startTime:     time.Now(),
		exportsTotal:  make(map[string]int64),
		exportsFailed: make(map[string]int64),
		webhookStats:  make(map[string]*WebhookStats),
	}
}

// RecordExport records one delivery attempt sequence of requestType to a
// webhook.
func (s *Stats) RecordExport(requestType, webhookName string, responseTime time.Duration, retries int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.exportsTotal[requestType]++
	s.lastExportTime = now
	if err != nil {
		s.exportsFailed[requestType]++
		s.lastError = err
		s.lastErrorTime = now
	}

	ws, ok := s.webhookStats[webhookName]
	if !ok {
		ws = &WebhookStats{name: webhookName}
		s.webhookStats[webhookName] = ws
	}
	ws.requestsTotal++
	ws.retryAttempts += int64(retries)
	ws.totalResponseTime += responseTime
	if err != nil {
		ws.requestsFailed++
		ws.lastError = err
	} else {
		ws.requestsSuccess++
		ws.lastSuccessTime = now
	}
}

// RecordQueuedRequest records a request being queued
func (s *Stats) RecordQueuedRequest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestsQueued++
}

// RecordDroppedRequest records a request being dropped
func (s *Stats) RecordDroppedRequest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestsDropped++
}

// GetSnapshot returns a snapshot of current statistics
func (s *Stats) GetSnapshot() StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := StatsSnapshot{
		StartTime:       s.startTime,
		ExportsTotal:    make(map[string]int64, len(s.exportsTotal)),
		ExportsFailed:   make(map[string]int64, len(s.exportsFailed)),
		RequestsQueued:  s.requestsQueued,
		RequestsDropped: s.requestsDropped,
		LastExportTime:  s.lastExportTime,
		LastErrorTime:   s.lastErrorTime,
		WebhookStats:    make(map[string]WebhookStatsSnapshot, len(s.webhookStats)),
	}
	if s.lastError != nil {
		snapshot.LastError = s.lastError.Error()
	}
	for k, v := range s.exportsTotal {
		snapshot.ExportsTotal[k] = v
	}
	for k, v := range s.exportsFailed {
		snapshot.ExportsFailed[k] = v
	}
	for name, ws := range s.webhookStats {
		ss := WebhookStatsSnapshot{
			Name:            ws.name,
			RequestsTotal:   ws.requestsTotal,
			RequestsSuccess: ws.requestsSuccess,
			RequestsFailed:  ws.requestsFailed,
			LastSuccessTime: ws.lastSuccessTime,
			RetryAttempts:   ws.retryAttempts,
		}
		if ws.requestsTotal > 0 {
			ss.AvgResponseTime = ws.totalResponseTime / time.Duration(ws.requestsTotal)
		}
		if ws.lastError != nil {
			ss.LastError = ws.lastError.Error()
		}
		snapshot.WebhookStats[name] = ss
	}
	return snapshot
}

// StatsSnapshot provides a point-in-time view of statistics
type StatsSnapshot struct {
	StartTime       time.Time                       `json:"startTime"`
	ExportsTotal    map[string]int64                `json:"exportsTotal"`
	ExportsFailed   map[string]int64                `json:"exportsFailed"`
	RequestsQueued  int64                           `json:"requestsQueued"`
	RequestsDropped int64                           `json:"requestsDropped"`
	LastExportTime  time.Time                       `json:"lastExportTime"`
	LastError       string                          `json:"lastError,omitempty"`
	LastErrorTime   time.Time                       `json:"lastErrorTime"`
	WebhookStats    map[string]WebhookStatsSnapshot `json:"webhookStats"`
}

// WebhookStatsSnapshot provides a point-in-time view of webhook statistics
type WebhookStatsSnapshot struct {
	Name            string        `json:"name"`
	RequestsTotal   int64         `json:"requestsTotal"`
	RequestsSuccess int64         `json:"requestsSuccess"`
	RequestsFailed  int64         `json:"requestsFailed"`
	LastSuccessTime time.Time     `json:"lastSuccessTime"`
	LastError       string        `json:"lastError,omitempty"`
	AvgResponseTime time.Duration `json:"avgResponseTime"`
	RetryAttempts   int64         `json:"retryAttempts"`
}

// GetSuccessRate returns the webhook success rate as a percentage
func (ws WebhookStatsSnapshot) GetSuccessRate() float64 {
	if ws.RequestsTotal == 0 {
		return 0.0
	}
	return float64(ws.RequestsSuccess) / float64(ws.RequestsTotal) * 100.0
}

// IsHealthy reports whether the webhook has no requests yet, or a success
// rate of at least 90% with a success in the last five minutes.
func (ws WebhookStatsSnapshot) IsHealthy() bool {
	if ws.RequestsTotal == 0 {
		return true
	}
	return ws.GetSuccessRate() >= 90.0 && time.Since(ws.LastSuccessTime) <= 5*time.Minute
}
