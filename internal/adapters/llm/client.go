// Package llm implements explain.Explainer on top of an OpenAI-compatible
// chat completions endpoint.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/okian/cgmrisk/internal/domain/explain"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxTokens   = 150
	defaultTemperature = 0.7
)

// Client calls a chat completions API.
type Client struct {
	api         *openai.Client
	model       string
	maxTokens   int
	temperature float32
	httpClient  *http.Client
	timeout     time.Duration
}

// Option applies a configuration option to Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client requests are sent through. The client
// is copied, so WithTimeout never changes the caller's value.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient creates a client for baseURL (e.g. https://api.groq.com/openai/v1).
func NewClient(baseURL, apiKey, model string, opts ...Option) *Client {
	c := &Client{
		model:       model,
		maxTokens:   defaultMaxTokens,
		temperature: defaultTemperature,
		httpClient:  http.DefaultClient,
		timeout:     defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	hc := *c.httpClient
	hc.Timeout = c.timeout
	c.httpClient = &hc

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	cfg.HTTPClient = c.httpClient
	c.api = openai.NewClientWithConfig(cfg)
	return c
}

// Timeout returns the per-request timeout in effect.
func (c *Client) Timeout() time.Duration { return c.httpClient.Timeout }

// Explain implements explain.Explainer. Every failure wraps explain.ErrUpstream.
func (c *Client) Explain(ctx context.Context, s explain.Signal) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: Prompt(s)}},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s", explain.ErrUpstream, describe(err))
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", explain.ErrUpstream)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty content", explain.ErrUpstream)
	}
	return text, nil
}

// describe prefixes API failures with their HTTP status.
func describe(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("status %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Sprintf("status %d: %v", reqErr.HTTPStatusCode, reqErr.Err)
	}
	return err.Error()
}

// Prompt renders the coaching prompt for s.
func Prompt(s explain.Signal) string {
	verdict := "Stable"
	if s.RiskScore > 0.5 {
		verdict = "Risk of Spike"
	}
	var b strings.Builder
	b.WriteString("You are a Professional Metabolic Health Assistant.\n")
	b.WriteString("Explain this glucose spike prediction:\n\n")
	fmt.Fprintf(&b, "- Prediction: %s\n", verdict)
	fmt.Fprintf(&b, "- Current Level: %g mg/dL\n", s.Glucose)
	fmt.Fprintf(&b, "- Meal Logged: %s\n", s.MealType)
	fmt.Fprintf(&b, "- Carbs: %gg\n", s.CarbsOnBoard)
	fmt.Fprintf(&b, "- Rise Velocity: %.2f mg/dL/min\n\n", s.Velocity)
	b.WriteString("INSTRUCTIONS:\n")
	fmt.Fprintf(&b, "1. Specifically mention how the '%s' is impacting the current trend.\n", s.MealType)
	b.WriteString("2. If it is a 'Snack', highlight the risk of a quick spike.\n")
	b.WriteString("3. If it is 'Lunch/Dinner', explain the sustained impact of the carb load.\n")
	b.WriteString("4. Provide one actionable tip (e.g., 'A short walk' or 'Add protein next time').\n")
	b.WriteString("5. Limit to 2 concise sentences.\n")
	return b.String()
}
