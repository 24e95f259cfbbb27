package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"procurehub/pkg/circuitbreaker"
	"procurehub/pkg/metrics"
)

const (
	maxRetries  = 3
	baseBackoff = 1000 * time.Millisecond
)

// SleepFunc waits for d or until ctx is done. Injected so backoff timing
// is testable without real sleep.
type SleepFunc func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Client wraps the natural-language extraction service. It owns retry,
// backoff and failure mapping; it does NOT interpret the JSON it returns.
// Schema validation belongs to the caller, since every caller expects
// a different shape.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	sleep      SleepFunc
	logger     *zap.Logger
}

type Option func(*Client)

// WithSleep replaces the backoff sleep, for tests.
func WithSleep(s SleepFunc) Option {
	return func(c *Client) { c.sleep = s }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(baseURL, apiKey string, attemptTimeout time.Duration, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: attemptTimeout, // 每次尝试的超时，避免 worker 卡死
		},
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig()),
		sleep:   defaultSleep,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type completeRequest struct {
	System string `json:"system"`
	Prompt string `json:"prompt"`
}

type completeResponse struct {
	Output string `json:"output"`
}

// attemptError carries classification for one failed attempt.
type attemptError struct {
	category  Category
	retryable bool
	cause     error
}

func (e *attemptError) Error() string { return e.cause.Error() }

// Extract sends (system instruction, task prompt) to the completion
// endpoint and returns the oracle's output parsed as a single JSON
// object. Operation labels the metrics only.
//
// Retry policy: up to 3 attempts beyond the first on 429, 5xx and
// timeout-ish transport errors, exponential backoff 1s/2s/4s. Everything
// else fails immediately. Exhaustion and terminal failures surface as
// *UpstreamError with one of the five categories; output that is not a
// JSON object surfaces as *MalformedOutputError and is not retried.
func (c *Client) Extract(ctx context.Context, operation, system, prompt string) (json.RawMessage, error) {
	start := time.Now()

	var lastErr *attemptError
	attempts := 0
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			// 1s, 2s, 4s
			delay := baseBackoff << (attempt - 1)
			c.logger.Warn("Oracle call failed, backing off",
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.String("category", string(lastErr.category)),
			)
			if err := c.sleep(ctx, delay); err != nil {
				metrics.RecordOracleCallLatency(operation, "canceled", time.Since(start))
				return nil, &UpstreamError{Category: CategoryTimedOut, Attempts: attempts}
			}
		}

		attempts++
		output, aerr := c.attempt(ctx, system, prompt)
		if aerr == nil {
			raw, err := decodeJSONObject(output)
			if err != nil {
				// 内容已送达，只是不是合法 JSON：不重试
				metrics.RecordOracleCallLatency(operation, "malformed", time.Since(start))
				return nil, err
			}
			metrics.RecordOracleCallLatency(operation, "success", time.Since(start))
			return raw, nil
		}

		lastErr = aerr
		if !aerr.retryable {
			break
		}
	}

	metrics.RecordOracleCallLatency(operation, "failed", time.Since(start))
	c.logger.Error("Oracle call gave up",
		zap.String("operation", operation),
		zap.Int("attempts", attempts),
		zap.String("category", string(lastErr.category)),
		zap.Error(lastErr.cause),
	)
	return nil, &UpstreamError{Category: lastErr.category, Attempts: attempts}
}

// attempt performs a single HTTP call, classified for retry.
func (c *Client) attempt(ctx context.Context, system, prompt string) (string, *attemptError) {
	var output string

	call := func() error {
		body, err := json.Marshal(completeRequest{System: system, Prompt: prompt})
		if err != nil {
			return &attemptError{category: CategoryUpstreamError, cause: err}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/complete", bytes.NewReader(body))
		if err != nil {
			return &attemptError{category: CategoryUpstreamError, cause: err}
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return classifyTransportError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return classifyStatus(resp.StatusCode)
		}

		var cr completeResponse
		if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
			return &attemptError{category: CategoryUpstreamError, cause: fmt.Errorf("bad response envelope: %w", err)}
		}
		output = cr.Output
		return nil
	}

	err := c.breaker.Execute(call)
	if err == nil {
		return output, nil
	}
	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		// 熔断打开：上游视为不可用，不消耗重试等待
		return "", &attemptError{category: CategoryUnavailable, retryable: false, cause: err}
	}
	var aerr *attemptError
	if errors.As(err, &aerr) {
		return "", aerr
	}
	return "", &attemptError{category: CategoryUpstreamError, cause: err}
}

func classifyStatus(code int) *attemptError {
	cause := fmt.Errorf("oracle returned status %d", code)
	switch {
	case code == http.StatusTooManyRequests:
		return &attemptError{category: CategoryRateLimited, retryable: true, cause: cause}
	case code >= 500:
		return &attemptError{category: CategoryUnavailable, retryable: true, cause: cause}
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &attemptError{category: CategoryInvalidCredential, retryable: false, cause: cause}
	default:
		return &attemptError{category: CategoryUpstreamError, retryable: false, cause: cause}
	}
}

func classifyTransportError(err error) *attemptError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &attemptError{category: CategoryTimedOut, retryable: true, cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &attemptError{category: CategoryTimedOut, retryable: true, cause: err}
	}
	msg := err.Error()
	if strings.Contains(msg, "timeout") {
		return &attemptError{category: CategoryTimedOut, retryable: true, cause: err}
	}
	if strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused") {
		return &attemptError{category: CategoryUnavailable, retryable: true, cause: err}
	}
	return &attemptError{category: CategoryUpstreamError, retryable: false, cause: err}
}

// decodeJSONObject requires the oracle output to be exactly one JSON
// object and returns it raw. Some models wrap JSON in markdown fences;
// strip those before deciding the content is garbage.
func decodeJSONObject(output string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(output)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	if trimmed == "" {
		return nil, &MalformedOutputError{Reason: "empty output"}
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	var obj map[string]json.RawMessage
	if err := dec.Decode(&obj); err != nil {
		return nil, &MalformedOutputError{Reason: "not a JSON object"}
	}
	// 只允许单个对象
	if _, err := dec.Token(); err != io.EOF {
		return nil, &MalformedOutputError{Reason: "trailing content after JSON object"}
	}

	return json.RawMessage(trimmed), nil
}
