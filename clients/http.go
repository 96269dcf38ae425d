// Package clients implements the HTTP request pipeline of the payment API
// client: request construction, failure classification and retries.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vitwit/cryptopay/logger"
	"github.com/vitwit/cryptopay/metrics"
	"github.com/vitwit/cryptopay/retry"
	"github.com/vitwit/cryptopay/types"
)

// Identification headers sent with every request.
const (
	HeaderAPIKey        = "X-API-Key"
	HeaderClientName    = "X-Client-Name"
	HeaderClientVersion = "X-Client-Version"

	ClientName    = "cryptopay-go"
	ClientVersion = "1.0.0"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 10 << 20

// HTTPClient issues logical API calls. Each call runs inside one retry
// loop; every attempt re-sends the full request.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retrier    *retry.Engine
	maxRetries int
	logger     logger.Logger
	metrics    metrics.Recorder
}

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int

	// HTTPClient is used as is when set; Timeout is then ignored.
	HTTPClient *http.Client
	Retrier    *retry.Engine
	Logger     logger.Logger
	Metrics    metrics.Recorder
}

func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = types.DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	log := logger.OrNoop(cfg.Logger)
	rec := metrics.OrNoop(cfg.Metrics)

	retrier := cfg.Retrier
	if retrier == nil {
		retrier = retry.New(retry.WithLogger(log), retry.WithMetrics(rec))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &HTTPClient{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		retrier:    retrier,
		maxRetries: maxRetries,
		logger:     log,
		metrics:    rec,
	}
}

func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

func (c *HTTPClient) Get(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.Request(ctx, http.MethodGet, path, nil, out, opts...)
}

func (c *HTTPClient) Post(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.Request(ctx, http.MethodPost, path, body, out, opts...)
}

func (c *HTTPClient) Put(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.Request(ctx, http.MethodPut, path, body, out, opts...)
}

func (c *HTTPClient) Delete(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.Request(ctx, http.MethodDelete, path, nil, out, opts...)
}

// Request performs one logical API call and decodes a JSON response into
// out (which may be nil). Failures are returned as *types.Error.
func (c *HTTPClient) Request(ctx context.Context, method, path string, body, out any, opts ...RequestOption) error {
	var ro requestOptions
	for _, opt := range opts {
		opt(&ro)
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	maxRetries := c.maxRetries
	if ro.maxRetries != nil {
		maxRetries = *ro.maxRetries
	}

	_, err := retry.Execute(ctx, c.retrier, maxRetries, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.attempt(ctx, method, path, payload, ro.header, out)
	})
	return err
}

// attempt issues a single HTTP call. Any failure is classified exactly once
// here and the same value drives both the retry decision and the result.
func (c *HTTPClient) attempt(ctx context.Context, method, path string, payload []byte, header http.Header, out any) error {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderAPIKey, c.apiKey)
	req.Header.Set(HeaderClientName, ClientName)
	req.Header.Set(HeaderClientVersion, ClientVersion)
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		classified := classifyTransportError(err)
		c.observe(method, start, classified)
		return classified
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		classified := classifyTransportError(fmt.Errorf("failed to read response body: %w", err))
		c.observe(method, start, classified)
		return classified
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		classified := classifyResponse(resp.StatusCode, resp.Header, respBody)
		c.observe(method, start, classified)
		c.logger.Debug("payment API request failed", map[string]any{
			"method": method,
			"path":   path,
			"status": resp.StatusCode,
			"code":   classified.Code,
		})
		return classified
	}

	c.observe(method, start, nil)

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		invalid := types.NewServiceError(resp.StatusCode, types.ErrInvalidResponse, "failed to decode payment API response")
		invalid.Err = err
		return invalid
	}
	return nil
}

func (c *HTTPClient) observe(method string, start time.Time, err *types.Error) {
	outcome := "ok"
	if err != nil {
		outcome = string(err.Kind)
	}
	c.metrics.ObserveLatency(metrics.HTTPRequest, time.Since(start), map[string]string{
		"method":  method,
		"outcome": outcome,
	})
}
