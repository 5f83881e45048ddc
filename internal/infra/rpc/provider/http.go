package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// HTTPProvider implements RPCProvider for JSON-RPC over HTTP.
type HTTPProvider struct {
	*BaseProvider

	endpoint   string
	httpClient *http.Client
}

// NewHTTPProvider creates a new HTTP-based RPC provider.
func NewHTTPProvider(name, endpoint string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		BaseProvider: NewBaseProvider(name),
		endpoint:     endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Endpoint returns the URL the provider posts to.
func (p *HTTPProvider) Endpoint() string {
	return p.endpoint
}

// Call makes a single JSON-RPC call.
func (p *HTTPProvider) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	start := time.Now()

	body, err := p.post(ctx, newRequest(1, method, params))
	if err != nil {
		return nil, err
	}

	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		p.RecordFailure()
		return nil, fmt.Errorf("parse response: %w", err)
	}

	if resp.Error != nil {
		if p.Monitor.ObserveRPCError(resp.Error) {
			p.RecordFailure()
			return nil, fmt.Errorf("throttle in rpc error: %w", resp.Error)
		}
		// The endpoint answered; an application error is not a health signal.
		p.RecordSuccess(time.Since(start))
		return nil, resp.Error
	}

	p.RecordSuccess(time.Since(start))
	return resp.Result, nil
}

// BatchCall sends all requests as one JSON array. Ids are sequence numbers
// local to this batch and responses are matched back by id.
func (p *HTTPProvider) BatchCall(ctx context.Context, requests []BatchRequest) ([]BatchResponse, error) {
	start := time.Now()

	reqs := make([]request, len(requests))
	for i, r := range requests {
		reqs[i] = newRequest(uint64(i+1), r.Method, r.Params)
	}

	body, err := p.post(ctx, reqs)
	if err != nil {
		return nil, err
	}

	var resps []response
	if err := json.Unmarshal(body, &resps); err != nil {
		// Some endpoints answer a whole batch with a single error object.
		var single response
		if json.Unmarshal(body, &single) == nil && single.Error != nil {
			p.RecordFailure()
			return nil, fmt.Errorf("batch rejected: %w", single.Error)
		}
		p.RecordFailure()
		return nil, fmt.Errorf("parse batch response: %w", err)
	}

	p.RecordSuccess(time.Since(start))
	return correlate(reqs, resps), nil
}

func (p *HTTPProvider) post(ctx context.Context, payload any) ([]byte, error) {
	if status := p.Monitor.CheckProviderStatus(); status == StatusThrottled || status == StatusBlocked {
		return nil, fmt.Errorf("provider %s, retry after: %v", status, p.Monitor.GetRetryAfter())
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		p.RecordFailure()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.RecordFailure()
		return nil, fmt.Errorf("rpc call: %w", err)
	}
	defer resp.Body.Close()

	// Rate limit detection
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := resp.Header.Get("Retry-After")
		p.Monitor.RecordThrottle(429, parseRetryAfter(retryAfter))
		p.RecordFailure()
		return nil, fmt.Errorf("rate limited (429), retry after: %s", retryAfter)
	}

	// IP blocked detection
	if resp.StatusCode == http.StatusForbidden {
		p.Monitor.RecordThrottle(403, 0)
		p.RecordFailure()
		return nil, fmt.Errorf("ip blocked (403)")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.RecordFailure()
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		p.RecordFailure()
		if p.Monitor.DetectThrottlePattern(string(body)) {
			return nil, fmt.Errorf("throttle detected in response: %s", string(body))
		}
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Close cleans up resources.
func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
