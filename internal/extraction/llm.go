package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// Default configuration values.
const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-3-5-sonnet-20241022"
	defaultOpenAIBaseURL    = "https://api.openai.com"
	defaultOpenAIModel      = "gpt-4o-mini"
	defaultMaxTokens        = 2048
	defaultTimeout          = 60 * time.Second
	defaultMaxRetries       = 3
	defaultBaseBackoff      = 1 * time.Second
	defaultTemperature      = 0.1
	maxResponseBytes        = 4 << 20
)

// Rate limiter defaults: 50 requests per minute for both APIs.
const (
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

// completer sends one system+user prompt and returns the text reply.
type completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// httpClient carries the behaviour shared by both providers.
type httpClient struct {
	model       string
	apiKey      string
	baseURL     string
	maxTokens   int
	http        *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
}

func newHTTPClient(cfg Config, provider, defaultModel, defaultBaseURL string) (*httpClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key required", provider)
	}
	c := &httpClient{
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		baseURL:     cfg.BaseURL,
		maxTokens:   cfg.MaxTokens,
		limiter:     rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		maxRetries:  cfg.MaxRetries,
		baseBackoff: cfg.BaseBackoff,
	}
	if c.model == "" {
		c.model = defaultModel
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.maxTokens <= 0 {
		c.maxTokens = defaultMaxTokens
	}
	if c.maxRetries <= 0 {
		c.maxRetries = defaultMaxRetries
	}
	if c.baseBackoff <= 0 {
		c.baseBackoff = defaultBaseBackoff
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c.http = &http.Client{Timeout: timeout}
	return c, nil
}

// withRetries waits for the limiter and retries retryable failures with
// exponential backoff.
func (c *httpClient) withRetries(ctx context.Context, do func() (string, error)) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		out, err := do()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

// post sends body and returns the parsed response for a 200, or a
// classified error otherwise. Both providers report failures under
// error.message.
func (c *httpClient) post(ctx context.Context, path string, body any, headers map[string]string) (gjson.Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, &retryableError{err: fmt.Errorf("calling %s: %w", path, err)}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("reading response: %w", err)
	}

	msg := gjson.GetBytes(data, "error.message").String()
	if msg == "" {
		msg = string(data)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return gjson.Result{}, &retryableError{err: errors.New("rate limited (429)")}
	case resp.StatusCode >= 500:
		return gjson.Result{}, &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, msg)}
	case resp.StatusCode != http.StatusOK:
		return gjson.Result{}, fmt.Errorf("API error (%d): %s", resp.StatusCode, msg)
	case !gjson.ValidBytes(data):
		return gjson.Result{}, errors.New("response is not JSON")
	}
	return gjson.ParseBytes(data), nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type openAIRequest struct {
	Model          string        `json:"model"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	Temperature    float64       `json:"temperature"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat jsonMode      `json:"response_format"`
}

// anthropicClient talks to the Anthropic Messages API.
type anthropicClient struct {
	*httpClient
}

func newAnthropicClient(cfg Config) (*anthropicClient, error) {
	c, err := newHTTPClient(cfg, "anthropic", defaultAnthropicModel, defaultAnthropicBaseURL)
	if err != nil {
		return nil, err
	}
	return &anthropicClient{httpClient: c}, nil
}

func (a *anthropicClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	body := anthropicRequest{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		System:      system,
		Temperature: defaultTemperature,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
	}
	headers := map[string]string{
		"X-API-Key":         a.apiKey,
		"Anthropic-Version": "2023-06-01",
	}
	return a.withRetries(ctx, func() (string, error) {
		resp, err := a.post(ctx, "/v1/messages", body, headers)
		if err != nil {
			return "", err
		}
		text := resp.Get(`content.#(type=="text").text`)
		if !text.Exists() {
			return "", errors.New("no text block in response")
		}
		return text.String(), nil
	})
}

// openAIClient talks to the OpenAI Chat Completions API.
type openAIClient struct {
	*httpClient
}

func newOpenAIClient(cfg Config) (*openAIClient, error) {
	c, err := newHTTPClient(cfg, "openai", defaultOpenAIModel, defaultOpenAIBaseURL)
	if err != nil {
		return nil, err
	}
	return &openAIClient{httpClient: c}, nil
}

type jsonMode struct {
	Type string `json:"type"`
}

func (o *openAIClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	body := openAIRequest{
		Model:       o.model,
		MaxTokens:   o.maxTokens,
		Temperature: defaultTemperature,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: jsonMode{Type: "json_object"},
	}
	headers := map[string]string{"Authorization": "Bearer " + o.apiKey}
	return o.withRetries(ctx, func() (string, error) {
		resp, err := o.post(ctx, "/v1/chat/completions", body, headers)
		if err != nil {
			return "", err
		}
		content := resp.Get("choices.0.message.content")
		if !content.Exists() {
			return "", errors.New("no choices in response")
		}
		return content.String(), nil
	})
}

// retryableError wraps an error to indicate it can be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

var (
	_ completer = (*anthropicClient)(nil)
	_ completer = (*openAIClient)(nil)
)
