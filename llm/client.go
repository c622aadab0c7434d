// Package llm provides a provider-agnostic chat-completion client with
// status-classified retry, plus the sanitizer that extracts JSON from
// free-form model output.
package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// maxResponseSize limits the LLM response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Client sends chat-completion requests to a single provider, retrying
// transient failures according to its RetryPolicy.
type Client struct {
	cfg        ProviderConfig
	provider   Provider
	httpClient *http.Client
	policy     RetryPolicy
	limiter    *rate.Limiter
	logger     *slog.Logger
	sleep      Sleeper
	observer   Observer

	// callStore optionally records every call. If nil, recording is disabled.
	callStore CallStore
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`    // "system", "user", or "assistant"
	Content string `json:"content"` // Message content
}

// Request defines a completion request.
type Request struct {
	// Messages is the chat history to send to the provider.
	Messages []Message

	// Temperature controls randomness. nil uses the provider config value.
	Temperature *float64

	// MaxTokens limits response length. 0 uses the provider config value.
	MaxTokens int
}

// TokenUsage represents token consumption details for a call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response contains the completion result.
type Response struct {
	// RequestID uniquely identifies this call across its retries.
	RequestID string

	// Content is the generated text.
	Content string

	// Model is the actual model that was used.
	Model string

	Usage TokenUsage

	// FinishReason indicates why generation stopped.
	FinishReason string

	// Attempts is the number of HTTP attempts made, first included.
	Attempts int
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Observer receives per-attempt telemetry.
type Observer interface {
	ObserveAttempt(provider string, err error, elapsed time.Duration)
	ObserveRetry(provider string, kind Kind, delay time.Duration)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client. Its Timeout replaces the
// provider's configured timeout.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(client *Client) {
		client.policy = NewRetryPolicy(cfg)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// WithSleeper replaces the backoff wait, mainly for tests.
func WithSleeper(s Sleeper) ClientOption {
	return func(client *Client) {
		client.sleep = s
	}
}

// WithObserver sets the attempt observer.
func WithObserver(o Observer) ClientOption {
	return func(client *Client) {
		client.observer = o
	}
}

// WithCallStore records every call, successful or not.
func WithCallStore(store CallStore) ClientOption {
	return func(client *Client) {
		client.callStore = store
	}
}

// NewClient creates a client for one provider. The dialect must be
// registered, usually by importing llm/providers.
func NewClient(cfg ProviderConfig, opts ...ClientOption) (*Client, error) {
	if cfg.Name == "" {
		cfg.Name = cfg.Dialect
	}
	provider := GetProvider(cfg.Dialect)
	if provider == nil {
		e := NewConfigurationError("unknown dialect %q", cfg.Dialect)
		e.Provider = cfg.Name
		return nil, e
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	c := &Client{
		cfg:        cfg,
		provider:   provider,
		policy:     NewRetryPolicy(DefaultRetryConfig()),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     slog.Default(),
		sleep:      sleepContext,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Name returns the configured provider name.
func (c *Client) Name() string {
	return c.cfg.Name
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Policy returns the retry policy in use.
func (c *Client) Policy() RetryPolicy {
	return c.policy
}

// Complete sends a completion request, retrying per the client's policy.
// At most MaxRetries+1 attempts are made; the returned error is the last
// observed failure, attributed to this provider.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if len(req.Messages) == 0 {
		e := NewError(KindClientRejected, errors.New("at least one message is required"))
		e.Provider = c.cfg.Name
		return nil, e
	}

	requestID := uuid.New().String()
	startedAt := time.Now()

	temperature := req.Temperature
	if temperature == nil {
		t := c.cfg.Temperature
		temperature = &t
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}

	body, err := c.provider.BuildRequestBody(c.cfg.Model, req.Messages, temperature, maxTokens)
	if err != nil {
		return nil, WithProvider(NewError(KindClientRejected, fmt.Errorf("build request body: %w", err)), c.cfg.Name)
	}

	var lastErr error
	attempt := 0
	for ; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				lastErr = WithProvider(NewTransportError(err), c.cfg.Name)
				break
			}
		}

		began := time.Now()
		resp, err := c.doRequest(ctx, requestID, body)
		if c.observer != nil {
			c.observer.ObserveAttempt(c.cfg.Name, err, time.Since(began))
		}
		if err == nil {
			resp.RequestID = requestID
			resp.Attempts = attempt + 1
			c.recordCall(ctx, &CallRecord{
				RequestID:        requestID,
				Provider:         c.cfg.Name,
				Model:            resp.Model,
				Messages:         req.Messages,
				Response:         resp.Content,
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
				FinishReason:     resp.FinishReason,
				StartedAt:        startedAt,
				CompletedAt:      time.Now(),
				DurationMs:       time.Since(startedAt).Milliseconds(),
				Retries:          attempt,
			})
			return resp, nil
		}

		lastErr = WithProvider(err, c.cfg.Name)

		delay, retry := c.policy.Next(attempt, lastErr)
		if !retry {
			break
		}

		c.logger.Warn("Provider request failed, retrying",
			slog.String("provider", c.cfg.Name),
			slog.String("request_id", requestID),
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", c.policy.MaxAttempts()),
			slog.String("kind", KindOf(lastErr).String()),
			slog.Duration("backoff", delay))
		if c.observer != nil {
			c.observer.ObserveRetry(c.cfg.Name, KindOf(lastErr), delay)
		}

		if err := c.sleep(ctx, delay); err != nil {
			lastErr = WithProvider(NewTransportError(err), c.cfg.Name)
			break
		}
	}

	c.recordCall(ctx, &CallRecord{
		RequestID:   requestID,
		Provider:    c.cfg.Name,
		Model:       c.cfg.Model,
		Messages:    req.Messages,
		StartedAt:   startedAt,
		CompletedAt: time.Now(),
		DurationMs:  time.Since(startedAt).Milliseconds(),
		Error:       lastErr.Error(),
		Retries:     attempt,
	})

	return nil, lastErr
}

// recordCall stores a call record if the call store is configured.
// Failures are logged but don't affect the call itself.
func (c *Client) recordCall(ctx context.Context, record *CallRecord) {
	if c.callStore == nil {
		return
	}

	if err := c.callStore.Store(ctx, record); err != nil {
		c.logger.Warn("Failed to record LLM call",
			slog.String("request_id", record.RequestID),
			slog.String("provider", record.Provider),
			slog.String("error", err.Error()))
	}
}

// doRequest executes a single HTTP request to the provider endpoint.
func (c *Client) doRequest(ctx context.Context, requestID string, body []byte) (*Response, error) {
	url := c.provider.BuildURL(c.cfg.BaseURL)

	c.logger.Debug("Sending LLM request",
		slog.String("provider", c.cfg.Name),
		slog.String("model", c.cfg.Model),
		slog.String("url", url),
		slog.String("request_id", requestID))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewConfigurationError("create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	c.provider.SetHeaders(httpReq, c.cfg)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewTransportError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	// Read response body with size limit to prevent memory exhaustion
	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransportError(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, classifyHTTPError(httpResp.StatusCode, respBody)
	}

	resp, err := c.provider.ParseResponse(respBody, c.cfg.Model)
	if err != nil {
		var typed *Error
		if errors.As(err, &typed) {
			return nil, err
		}
		return nil, NewParseError(err)
	}
	return resp, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
