package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/blockmon/internal/core/domain"
	"github.com/vietddude/blockmon/internal/indexing/metrics"
)

var nullResult = []byte("null")

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// HTTPProvider implements Provider for JSON-RPC over HTTP.
// The http.Client timeout is the only deadline applied to a call.
type HTTPProvider struct {
	name       string
	endpoint   string
	httpClient *http.Client
	nextID     atomic.Uint64

	mu           sync.RWMutex
	health       HealthStatus
	totalLatency time.Duration
	successCount int
	failureCount int
	requestCount int

	Monitor *ProviderMonitor
}

// NewHTTPProvider creates a new HTTP-based RPC provider.
func NewHTTPProvider(name, endpoint string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		name:     name,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		health: HealthStatus{
			Available:     true,
			LastSuccessAt: time.Now(),
		},
		Monitor: NewProviderMonitor(),
	}
}

// Call makes a single JSON-RPC call and returns the raw result.
// A null result is returned as (nil, nil). Every error is a *domain.ProviderError.
func (p *HTTPProvider) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	metrics.RPCCallsTotal.WithLabelValues(p.name, method).Inc()

	start := time.Now()
	status, header, body, err := p.post(ctx, method, params)
	if err != nil {
		return nil, p.fail(method, domain.FailureTypeRPC, "transport", err)
	}
	latency := time.Since(start)
	metrics.RPCLatency.WithLabelValues(p.name, method).Observe(latency.Seconds())

	if err := p.checkStatus(status, header, body); err != nil {
		return nil, p.fail(method, err.kind, err.label, err)
	}

	var resp rpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, p.fail(method, domain.FailureTypeParsing, "parse", fmt.Errorf("decode response: %w", err))
	}
	if resp.Error != nil {
		if p.Monitor.DetectThrottlePattern(resp.Error.Message) {
			return nil, p.fail(method, domain.FailureTypeThrottled, "throttled",
				fmt.Errorf("throttled by node: %s", resp.Error.Message))
		}
		return nil, p.fail(method, domain.FailureTypeRPC, "rpc",
			fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message))
	}

	p.Monitor.RecordRequest(latency)
	p.recordSuccess(latency)

	if len(resp.Result) == 0 || bytes.Equal(resp.Result, nullResult) {
		return nil, nil
	}
	return resp.Result, nil
}

// post sends one request and returns the status, headers and full body.
func (p *HTTPProvider) post(ctx context.Context, method string, params []any) (int, http.Header, []byte, error) {
	if params == nil {
		params = []any{}
	}
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      p.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return 0, nil, nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, resp.Header, body, nil
}

// statusError is a non-200 answer, already classified.
type statusError struct {
	kind  domain.FailureType
	label string
	err   error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

// checkStatus classifies non-200 answers and feeds throttle signals to the monitor.
func (p *HTTPProvider) checkStatus(status int, header http.Header, body []byte) *statusError {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusTooManyRequests:
		retryAfter := header.Get("Retry-After")
		p.Monitor.RecordThrottle(status, retryAfter)
		return &statusError{domain.FailureTypeThrottled, "throttled",
			fmt.Errorf("rate limited (429), retry after %q", retryAfter)}
	case status == http.StatusForbidden:
		p.Monitor.RecordThrottle(status, "")
		return &statusError{domain.FailureTypeThrottled, "blocked", errors.New("ip blocked (403)")}
	case p.Monitor.DetectThrottlePattern(string(body)):
		return &statusError{domain.FailureTypeThrottled, "throttled",
			fmt.Errorf("http %d, throttled: %s", status, body)}
	default:
		return &statusError{domain.FailureTypeRPC, "http", fmt.Errorf("http %d: %s", status, body)}
	}
}

// fail records a failed call and wraps err for callers.
func (p *HTTPProvider) fail(method string, kind domain.FailureType, label string, err error) error {
	p.recordFailure(label)

	pe := domain.NewProviderError(p.name, method, err)
	pe.Type = kind
	return pe
}

// GetName returns the provider's name.
func (p *HTTPProvider) GetName() string {
	return p.name
}

// GetHealth returns the provider's health status.
func (p *HTTPProvider) GetHealth() HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health
}

// GetStats returns the monitor's current statistics.
func (p *HTTPProvider) GetStats() MonitorStats {
	return p.Monitor.GetStats()
}

// Close cleans up resources.
func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

func (p *HTTPProvider) recordSuccess(latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.successCount++
	p.requestCount++
	p.totalLatency += latency
	p.health.LastSuccessAt = time.Now()
	p.health.Available = true
	p.health.ErrorRate = float64(p.failureCount) / float64(p.requestCount)
	p.health.Latency = p.totalLatency / time.Duration(p.successCount)
}

func (p *HTTPProvider) recordFailure(label string) {
	metrics.RPCErrorsTotal.WithLabelValues(p.name, label).Inc()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.failureCount++
	p.requestCount++
	p.health.LastFailureAt = time.Now()
	p.health.ErrorRate = float64(p.failureCount) / float64(p.requestCount)
	if p.health.ErrorRate > 0.5 {
		p.health.Available = false
	}
}
