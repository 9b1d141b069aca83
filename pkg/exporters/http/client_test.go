package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/supporttools/prism-check/pkg/types"
)

func testEndpoint(url string) types.WebhookEndpoint {
	return types.WebhookEndpoint{
		Name:        "ops",
		URL:         url,
		Timeout:     5 * time.Second,
		Auth:        types.AuthConfig{Type: "none"},
		Retry:       types.RetryConfig{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second},
		SendResults: true,
		MinState:    "WARN",
	}
}

func testResult(state types.State) *types.ServiceResult {
	return &types.ServiceResult{
		CycleID:     "cycle-1",
		Host:        "ntnx-01",
		CheckPlugin: "prism_remote_support",
		Item:        "Remote Tunnel",
		Description: "NTNX Remote Tunnel",
		State:       state,
		Summary:     "Remote Tunnel is enabled(!)",
	}
}

func testRequest() *WebhookRequest {
	return NewResultRequest(testResult(types.StateWarn), RequestMetadata{RequestID: "req-1", WebhookName: "ops"})
}

// newTestClient returns a client whose retries do not sleep.
func newTestClient(t *testing.T, endpoint types.WebhookEndpoint, headers map[string]string) (*HTTPClient, *[]time.Duration) {
	t.Helper()
	client, err := NewHTTPClient(endpoint, headers)
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}
	var delays []time.Duration
	client.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return client, &delays
}

func TestNewHTTPClientAuth(t *testing.T) {
	tests := []struct {
		name       string
		auth       types.AuthConfig
		wantHeader string
		wantErr    bool
	}{
		{name: "empty means none", auth: types.AuthConfig{}},
		{name: "none", auth: types.AuthConfig{Type: "none"}},
		{name: "bearer", auth: types.AuthConfig{Type: "bearer", Token: "abc"}, wantHeader: "Bearer abc"},
		{name: "basic", auth: types.AuthConfig{Type: "basic", Username: "prism", Password: "pw"}, wantHeader: "Basic cHJpc206cHc="},
		{name: "bearer without token", auth: types.AuthConfig{Type: "bearer"}, wantErr: true},
		{name: "bearer with newline", auth: types.AuthConfig{Type: "bearer", Token: "a\nb"}, wantErr: true},
		{name: "basic without password", auth: types.AuthConfig{Type: "basic", Username: "prism"}, wantErr: true},
		{name: "basic username with colon", auth: types.AuthConfig{Type: "basic", Username: "a:b", Password: "pw"}, wantErr: true},
		{name: "unsupported", auth: types.AuthConfig{Type: "oauth"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			endpoint := testEndpoint("https://example.com/hook")
			endpoint.Auth = tt.auth
			client, err := NewHTTPClient(endpoint, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewHTTPClient() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			req, _ := http.NewRequest(http.MethodPost, endpoint.URL, nil)
			setAuth(req, client.auth)
			if got := req.Header.Get("Authorization"); got != tt.wantHeader {
				t.Errorf("Authorization = %q, want %q", got, tt.wantHeader)
			}
		})
	}
}

func TestSendRequestSuccess(t *testing.T) {
	var got WebhookRequest
	var headers http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		headers = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`{"success": true}`))
	}))
	defer server.Close()

	endpoint := testEndpoint(server.URL)
	endpoint.Auth = types.AuthConfig{Type: "bearer", Token: "s3cret"}
	endpoint.Headers = map[string]string{"X-Team": "storage"}
	client, _ := newTestClient(t, endpoint, map[string]string{"X-Team": "global", "X-Env": "prod"})

	retries, err := client.SendRequest(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}
	if retries != 0 {
		t.Errorf("retries = %d, want 0", retries)
	}

	checks := map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer s3cret",
		"X-Team":        "storage",
		"X-Env":         "prod",
		"X-Request-Id":  "req-1",
		"User-Agent":    userAgent,
	}
	for key, want := range checks {
		if headers.Get(key) != want {
			t.Errorf("header %s = %q, want %q", key, headers.Get(key), want)
		}
	}

	if got.Type != RequestTypeResult || got.Host != "ntnx-01" {
		t.Errorf("unexpected payload %+v", got)
	}
	if got.Result == nil || got.Result.State != "WARN" || got.Result.Service != "NTNX Remote Tunnel" {
		t.Errorf("unexpected result payload %+v", got.Result)
	}
}

func TestSendRequestRetries(t *testing.T) {
	tests := []struct {
		name        string
		statuses    []int
		wantCalls   int32
		wantRetries int
		wantErr     bool
	}{
		{name: "recovers after server error", statuses: []int{500, 200}, wantCalls: 2, wantRetries: 1},
		{name: "gives up after max attempts", statuses: []int{503, 503, 503}, wantCalls: 3, wantRetries: 2, wantErr: true},
		{name: "client error is not retried", statuses: []int{400}, wantCalls: 1, wantRetries: 0, wantErr: true},
		{name: "rate limit is retried", statuses: []int{429, 204}, wantCalls: 2, wantRetries: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := atomic.AddInt32(&calls, 1)
				status := tt.statuses[len(tt.statuses)-1]
				if int(n) <= len(tt.statuses) {
					status = tt.statuses[n-1]
				}
				w.WriteHeader(status)
			}))
			defer server.Close()

			client, _ := newTestClient(t, testEndpoint(server.URL), nil)
			retries, err := client.SendRequest(context.Background(), testRequest())

			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if atomic.LoadInt32(&calls) != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if retries != tt.wantRetries {
				t.Errorf("retries = %d, want %d", retries, tt.wantRetries)
			}
		})
	}
}

func TestSendRequestHonorsRetryAfter(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, delays := newTestClient(t, testEndpoint(server.URL), nil)
	if _, err := client.SendRequest(context.Background(), testRequest()); err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}
	if len(*delays) != 1 || (*delays)[0] != 7*time.Second {
		t.Errorf("delays = %v, want [7s]", *delays)
	}
}

func TestSendRequestRejectsInvalidRequest(t *testing.T) {
	client, _ := newTestClient(t, testEndpoint("http://127.0.0.1:1"), nil)

	if _, err := client.SendRequest(context.Background(), nil); err == nil {
		t.Error("expected error for nil request")
	}

	req := testRequest()
	req.Host = ""
	_, err := client.SendRequest(context.Background(), req)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "host" {
		t.Errorf("expected host validation error, got %v", err)
	}
}

func TestCalculateDelay(t *testing.T) {
	client, _ := newTestClient(t, testEndpoint("https://example.com"), nil)

	tests := []struct {
		attempt  int
		min, max time.Duration
	}{
		{1, 900 * time.Millisecond, 1100 * time.Millisecond},
		{2, 1800 * time.Millisecond, 2200 * time.Millisecond},
		{3, 3600 * time.Millisecond, 4400 * time.Millisecond},
		{10, 10 * time.Second, 10 * time.Second},
	}
	for _, tt := range tests {
		d := client.calculateDelay(tt.attempt, errors.New("boom"))
		if d < tt.min || d > tt.max {
			t.Errorf("attempt %d: delay %v outside [%v, %v]", tt.attempt, d, tt.min, tt.max)
		}
	}

	capped := client.calculateDelay(1, &HTTPError{StatusCode: 429, RetryAfter: time.Minute})
	if capped != 10*time.Second {
		t.Errorf("Retry-After above maxDelay = %v, want 10s", capped)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&HTTPError{StatusCode: 500}, true},
		{&HTTPError{StatusCode: 408}, true},
		{&HTTPError{StatusCode: 404}, false},
		{&NetworkError{Message: "reset"}, true},
		{&TimeoutError{Message: "slow"}, true},
		{errors.New("plain"), false},
	}
	for _, tt := range tests {
		if got := isRetryable(tt.err); got != tt.want {
			t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
