package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/time/rate"
)

// Predefined client error values.
var (
	ErrNoAPIKey       = errors.New("API key not configured")
	ErrEmptyResponse  = errors.New("empty completion content")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnusableOutput = errors.New("collaborator returned unusable output")
)

// Client is an OpenAI-backed Agent with client-side rate limiting and
// bounded retries.
type Client struct {
	client     *openai.Client
	model      string
	maxRetries int
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithRetry sets the maximum retry count for retryable failures.
func WithRetry(maxRetries int) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
	}
}

// WithRateLimit caps outbound request rate.
func WithRateLimit(requestsPerMinute, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
	}
}

// WithBaseURL points the client at a different endpoint, e.g. a local
// OpenAI-compatible server.
func WithBaseURL(apiKey, baseURL string) Option {
	return func(c *Client) {
		client := openai.NewClient(option.WithAPIKey(apiKey), option.WithBaseURL(baseURL))
		c.client = &client
	}
}

// WithLogger configures a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates an OpenAI-backed agent.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	c := &Client{
		client:     &client,
		model:      "gpt-4o-mini",
		maxRetries: 3,
		limiter:    rate.NewLimiter(rate.Limit(1), 1), // 60 req/min
		logger:     slog.Default().With("component", "llm_client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger.Debug("LLM client initialized",
		"model", c.model,
		"max_retries", c.maxRetries,
		"rate_limit", fmt.Sprintf("%v req/s", c.limiter.Limit()))
	return c, nil
}

// Execute sends the prompt and returns the raw completion text.
func (c *Client) Execute(ctx context.Context, system, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		},
		MaxCompletionTokens: openai.Int(8192),
		Temperature:         openai.Float(0.7),
	}
	return c.complete(ctx, params)
}

// ExecuteStructured constrains the completion to the schema and unmarshals
// the result into out.
func (c *Client) ExecuteStructured(ctx context.Context, system, prompt string, schema Schema, out any) error {
	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		},
		MaxCompletionTokens: openai.Int(8192),
		Temperature:         openai.Float(0.3),
		ResponseFormat:      schema.responseFormat(),
	}
	content, err := c.complete(ctx, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("parsing %s response: %w: %v", schema.Name, ErrUnusableOutput, err)
	}
	return nil
}

func (c *Client) complete(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * 2 * time.Second
			c.logger.Warn("retrying LLM call",
				"attempt", attempt,
				"delay", delay,
				"error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("waiting for rate limiter: %w", err)
		}

		resp, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			lastErr = fmt.Errorf("chat completion: %w", err)
			continue
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
			lastErr = ErrEmptyResponse
			continue
		}
		return resp.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("after %d attempts: %w", c.maxRetries+1, lastErr)
}
