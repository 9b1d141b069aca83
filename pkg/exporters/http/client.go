package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/supporttools/prism-check/pkg/logger"
	"github.com/supporttools/prism-check/pkg/types"
)

const (
	userAgent       = "prism-check-http-exporter/1.0"
	maxResponseBody = 1024 * 1024
	minRetryDelay   = 100 * time.Millisecond
)

// HTTPClient delivers requests to one webhook endpoint with retries.
type HTTPClient struct {
	client   *http.Client
	endpoint types.WebhookEndpoint
	headers  map[string]string
	auth     types.AuthConfig
	log      *logrus.Entry

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewHTTPClient creates a client for endpoint. globalHeaders are sent with
// every request; endpoint headers override them.
func NewHTTPClient(endpoint types.WebhookEndpoint, globalHeaders map[string]string) (*HTTPClient, error) {
	if err := endpoint.Auth.Validate(); err != nil {
		return nil, fmt.Errorf("invalid auth for webhook %q: %w", endpoint.Name, err)
	}

	headers := make(map[string]string, len(globalHeaders)+len(endpoint.Headers))
	for k, v := range globalHeaders {
		headers[k] = v
	}
	for k, v := range endpoint.Headers {
		headers[k] = v
	}

	client := &http.Client{
		Timeout: endpoint.Timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: endpoint.Timeout,
			ExpectContinueTimeout: 1 * time.Second,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   2,
			IdleConnTimeout:       90 * time.Second,
		},
	}

	return &HTTPClient{
		client:   client,
		endpoint: endpoint,
		headers:  headers,
		auth:     endpoint.Auth,
		log:      logger.WithFields(logrus.Fields{"component": "http-exporter", "webhook": endpoint.Name}),
		sleep:    sleepContext,
	}, nil
}

// setAuth sets the Authorization header for a validated auth config.
func setAuth(req *http.Request, auth types.AuthConfig) {
	switch auth.Type {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case "basic":
		req.SetBasicAuth(auth.Username, auth.Password)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SendRequest posts request, retrying retryable failures with exponential
// backoff. It returns the number of retries performed along with any error.
func (c *HTTPClient) SendRequest(ctx context.Context, request *WebhookRequest) (int, error) {
	if request == nil {
		return 0, fmt.Errorf("request cannot be nil")
	}
	if err := request.Validate(); err != nil {
		return 0, fmt.Errorf("request validation failed: %w", err)
	}

	maxAttempts := c.endpoint.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.calculateDelay(attempt, lastErr)
			c.log.WithFields(logrus.Fields{
				"attempt": attempt + 1,
				"delay":   delay.String(),
			}).Debug("Retrying webhook request")
			if err := c.sleep(ctx, delay); err != nil {
				return attempt - 1, err
			}
		}

		request.Metadata.RetryAttempt = attempt
		err := c.doRequest(ctx, request)
		if err == nil {
			if attempt > 0 {
				c.log.WithField("attempt", attempt+1).Info("Webhook request succeeded after retry")
			}
			return attempt, nil
		}
		lastErr = err

		if !isRetryable(err) {
			c.log.WithError(err).Warn("Webhook request failed with non-retryable error")
			return attempt, fmt.Errorf("request failed: %w", err)
		}
		c.log.WithError(err).WithField("attempt", attempt+1).Debug("Webhook request attempt failed")
	}

	return maxAttempts - 1, fmt.Errorf("request failed after %d attempts: %w", maxAttempts, lastErr)
}

// doRequest performs a single HTTP request
func (c *HTTPClient) doRequest(ctx context.Context, request *WebhookRequest) error {
	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-ID", request.Metadata.RequestID)
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	setAuth(req, c.auth)

	resp, err := c.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return &TimeoutError{Message: "request timeout", Timeout: c.endpoint.Timeout}
		}
		return &NetworkError{Message: "network error", Cause: err}
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return &NetworkError{Message: "failed to read response body", Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpErr := &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(responseBody)),
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds > 0 {
				httpErr.RetryAfter = time.Duration(seconds) * time.Second
			}
		}
		return httpErr
	}

	var webhookResp WebhookResponse
	if err := json.Unmarshal(responseBody, &webhookResp); err == nil && !webhookResp.Success && webhookResp.Error != "" {
		c.log.WithField("webhookError", webhookResp.Error).Warn("Webhook returned application error")
	}
	return nil
}

// calculateDelay returns baseDelay * 2^(attempt-1) with 10% jitter, capped
// at maxDelay. A Retry-After from a 429 response takes precedence.
func (c *HTTPClient) calculateDelay(attempt int, lastErr error) time.Duration {
	maxDelay := c.endpoint.Retry.MaxDelay

	var httpErr *HTTPError
	if errors.As(lastErr, &httpErr) && httpErr.RetryAfter > 0 {
		if maxDelay > 0 && httpErr.RetryAfter > maxDelay {
			return maxDelay
		}
		return httpErr.RetryAfter
	}

	multiplier := math.Pow(2, float64(attempt-1))
	delay := time.Duration(float64(c.endpoint.Retry.BaseDelay) * multiplier)
	delay += time.Duration(float64(delay) * 0.1 * (2*rand.Float64() - 1))

	if delay < minRetryDelay {
		delay = minRetryDelay
	}
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// Close closes idle connections.
func (c *HTTPClient) Close() {
	c.client.CloseIdleConnections()
}
