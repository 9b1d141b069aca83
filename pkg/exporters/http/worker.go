package http

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/supporttools/prism-check/pkg/logger"
	"github.com/supporttools/prism-check/pkg/types"
)

const (
	exporterVersion = "1.0.0"

	// stopTimeout bounds how long Stop waits for queued deliveries.
	stopTimeout = 30 * time.Second
)

// WorkerPool delivers webhook requests asynchronously.
type WorkerPool struct {
	workers   int
	queueSize int
	requestCh chan *WorkerRequest
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	clients   map[string]*HTTPClient
	headers   map[string]string
	stats     *Stats
	log       *logrus.Entry
	mu        sync.RWMutex
	started   bool
}

// WorkerRequest is one queued payload and the endpoints it goes to.
type WorkerRequest struct {
	Type       string
	Result     *types.ServiceResult
	Report     *types.CycleReport
	Endpoints  []types.WebhookEndpoint
	RequestID  string
	SubmitTime time.Time
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(workers, queueSize int, headers map[string]string, stats *Stats) (*WorkerPool, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("workers must be positive, got %d", workers)
	}
	if queueSize <= 0 {
		return nil, fmt.Errorf("queueSize must be positive, got %d", queueSize)
	}
	if stats == nil {
		return nil, fmt.Errorf("stats cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		workers:   workers,
		queueSize: queueSize,
		requestCh: make(chan *WorkerRequest, queueSize),
		ctx:       ctx,
		cancel:    cancel,
		clients:   make(map[string]*HTTPClient),
		headers:   headers,
		stats:     stats,
		log:       logger.ForComponent("http-exporter"),
	}, nil
}

// Start starts the worker pool
func (wp *WorkerPool) Start() error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.started {
		return fmt.Errorf("worker pool already started")
	}

	wp.log.WithFields(logrus.Fields{
		"workers":   wp.workers,
		"queueSize": wp.queueSize,
	}).Info("Starting HTTP worker pool")

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.started = true
	return nil
}

// Stop closes the queue, waits for queued requests to be delivered and
// closes idle connections. In-flight requests are cancelled after
// stopTimeout.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.started {
		wp.mu.Unlock()
		return
	}
	wp.started = false
	close(wp.requestCh)
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopTimeout):
		wp.log.Warn("HTTP worker pool stop timed out, cancelling in-flight requests")
		wp.cancel()
		<-done
	}
	wp.cancel()

	wp.mu.Lock()
	for _, client := range wp.clients {
		client.Close()
	}
	wp.mu.Unlock()
	wp.log.Info("HTTP worker pool stopped")
}

// Submit queues request. It fails when the pool is not running or the
// queue is full; a full queue drops the request.
func (wp *WorkerPool) Submit(request *WorkerRequest) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.started {
		return fmt.Errorf("worker pool not started")
	}

	request.SubmitTime = time.Now()
	select {
	case wp.requestCh <- request:
		wp.stats.RecordQueuedRequest()
		return nil
	default:
		wp.stats.RecordDroppedRequest()
		return fmt.Errorf("worker pool queue is full, request dropped")
	}
}

func (wp *WorkerPool) worker(workerID int) {
	defer wp.wg.Done()

	for request := range wp.requestCh {
		wp.processRequest(workerID, request)
	}
}

func (wp *WorkerPool) processRequest(workerID int, request *WorkerRequest) {
	log := wp.log.WithFields(logrus.Fields{
		"worker":    workerID,
		"type":      request.Type,
		"requestId": request.RequestID,
		"queued":    time.Since(request.SubmitTime).Round(time.Millisecond).String(),
	})
	log.Debug("Processing webhook request")

	for _, endpoint := range request.Endpoints {
		wp.processEndpoint(log, request, endpoint)
	}
}

func (wp *WorkerPool) processEndpoint(log *logrus.Entry, request *WorkerRequest, endpoint types.WebhookEndpoint) {
	log = log.WithField("webhook", endpoint.Name)
	startTime := time.Now()

	client, err := wp.getHTTPClient(endpoint)
	if err != nil {
		log.WithError(err).Error("Failed to create HTTP client")
		wp.stats.RecordExport(request.Type, endpoint.Name, 0, 0, err)
		return
	}

	metadata := RequestMetadata{
		ExporterVersion: exporterVersion,
		RequestID:       request.RequestID,
		WebhookName:     endpoint.Name,
	}

	var webhookRequest *WebhookRequest
	switch request.Type {
	case RequestTypeResult:
		webhookRequest = NewResultRequest(request.Result, metadata)
	case RequestTypeCycle:
		webhookRequest = NewCycleRequest(request.Report, metadata)
	default:
		log.Error("Unknown webhook request type")
		return
	}

	// Each endpoint gets the full retry budget; the pool context only ends
	// deliveries after a stop timeout.
	budget := endpoint.Timeout*time.Duration(endpoint.Retry.MaxAttempts) + endpoint.Retry.MaxDelay*time.Duration(endpoint.Retry.MaxAttempts)
	ctx, cancel := context.WithTimeout(wp.ctx, budget)
	defer cancel()

	retries, err := client.SendRequest(ctx, webhookRequest)
	responseTime := time.Since(startTime)
	wp.stats.RecordExport(request.Type, endpoint.Name, responseTime, retries, err)

	if err != nil {
		log.WithError(err).Warn("Failed to deliver webhook request")
		return
	}
	log.WithFields(logrus.Fields{
		"target":   webhookRequest.Describe(),
		"duration": responseTime.Round(time.Millisecond).String(),
	}).Debug("Delivered webhook request")
}

// getHTTPClient returns the cached client for endpoint, creating it when
// the endpoint is new or its settings changed.
func (wp *WorkerPool) getHTTPClient(endpoint types.WebhookEndpoint) (*HTTPClient, error) {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	key := endpoint.Name + "|" + endpoint.URL
	client, ok := wp.clients[key]
	if !ok {
		var err error
		client, err = NewHTTPClient(endpoint, wp.headers)
		if err != nil {
			return nil, err
		}
		wp.clients[key] = client
	}
	return client, nil
}

// GetQueueLength returns the current queue length
func (wp *WorkerPool) GetQueueLength() int {
	return len(wp.requestCh)
}

// IsStarted returns true if the worker pool is started
func (wp *WorkerPool) IsStarted() bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.started
}
