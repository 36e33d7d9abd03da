// Package vertex provides the HTTP client for the Vertex AI generation API.
// One call to Generate issues one generation request, retrying rate-limited
// responses with a fixed delay and failing fast on everything else.
package vertex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/config"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/port/auth"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/resilience"
)

const (
	defaultMaxAttempts     = 10
	defaultRetryDelay      = time.Second
	defaultRequestTimeout  = 30 * time.Second
	defaultMaxOutputTokens = 1024
)

// errRateLimited marks a 429 response. It is the only retryable outcome.
var errRateLimited = errors.New("rate limited by model endpoint")

// StatusError is returned for any response that is neither 200 nor 429. It
// carries the raw body so the failure surfaces verbatim in the originating
// cell. Never retried.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("vertex API error %d: %s", e.StatusCode, e.Body)
}

// GenerateRequest carries the parameters of one generation call. Temperature
// and model are passed through verbatim; range validation is left to the
// remote API and surfaces as a StatusError.
type GenerateRequest struct {
	Prompt      string
	Project     string
	Region      string
	Model       string
	Temperature float64
}

// Client talks to the Vertex AI prediction endpoints.
type Client struct {
	endpoint        string
	httpClient      *http.Client
	tokens          auth.TokenSource
	breaker         *resilience.Breaker
	retryNotify     func()
	maxAttempts     uint
	retryDelay      time.Duration
	maxOutputTokens int
}

// New creates a Vertex client. cfg.Endpoint overrides the regional
// https://{region}-aiplatform.googleapis.com base URL when set.
func New(cfg config.Vertex, tokens auth.TokenSource) *Client {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	maxTokens := cfg.MaxOutputTokens
	if maxTokens < 1 {
		maxTokens = defaultMaxOutputTokens
	}
	return &Client{
		endpoint:        cfg.Endpoint,
		httpClient:      &http.Client{Timeout: timeout},
		tokens:          tokens,
		maxAttempts:     uint(maxAttempts),
		retryDelay:      retryDelay,
		maxOutputTokens: maxTokens,
	}
}

// SetBreaker attaches a circuit breaker around whole Generate calls. Retry
// exhaustion on 429 does not count as a failure; fatal statuses do.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// SetRetryNotify registers fn to run each time a rate-limited attempt is
// about to be retried.
func (c *Client) SetRetryNotify(fn func()) {
	c.retryNotify = fn
}

// Generate issues one generation request. It returns the generated text on
// success and ("", nil) when every attempt was rate-limited, leaving the
// caller to report the answer as still pending. Any other failure is
// returned as an error.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if c.breaker == nil {
		return c.generate(ctx, req)
	}
	var text string
	err := c.breaker.Execute(func() error {
		var genErr error
		text, genErr = c.generate(ctx, req)
		return genErr
	})
	return text, err
}

func (c *Client) generate(ctx context.Context, req GenerateRequest) (string, error) {
	cdc := codecFor(req.Model, c.maxOutputTokens)

	payload, err := json.Marshal(cdc.encode(req))
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	url := c.requestURL(req, cdc)

	// Fixed delay between attempts. The shared project quota recovers on a
	// steady clock, so constant spacing drains the backlog faster than
	// exponential growth would.
	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(c.retryDelay)),
		backoff.WithMaxTries(c.maxAttempts),
	}
	if c.retryNotify != nil {
		opts = append(opts, backoff.WithNotify(func(error, time.Duration) { c.retryNotify() }))
	}
	text, err := backoff.Retry(ctx,
		func() (string, error) { return c.attempt(ctx, url, payload, cdc) },
		opts...,
	)
	if err != nil {
		if errors.Is(err, errRateLimited) {
			return "", nil
		}
		return "", err
	}
	return text, nil
}

// attempt performs a single HTTP round trip. 429 is returned as a retryable
// error; every other failure is permanent.
func (c *Client) attempt(ctx context.Context, url string, payload []byte, cdc codec) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("auth token: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("http request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("read response: %w", err))
	}

	switch resp.StatusCode {
	case http.StatusOK:
		text, err := cdc.decode(data)
		if err != nil {
			return "", backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return text, nil
	case http.StatusTooManyRequests:
		return "", errRateLimited
	default:
		return "", backoff.Permanent(&StatusError{StatusCode: resp.StatusCode, Body: string(data)})
	}
}

func (c *Client) requestURL(req GenerateRequest, cdc codec) string {
	base := c.endpoint
	if base == "" {
		base = fmt.Sprintf("https://%s-aiplatform.googleapis.com", req.Region)
	}
	return fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:%s",
		base, req.Project, req.Region, req.Model, cdc.verb())
}
