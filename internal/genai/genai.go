// Package genai provides the OpenAI-backed content service that answers
// general health-information queries with ranked snippets.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultRequestTimeout bounds a single completion call. The engine treats
// content lookups as best-effort, so a slow upstream must not hold a turn.
const DefaultRequestTimeout = 15 * time.Second

const systemPrompt = `You are a careful UK health-information assistant.
Answer the user's question with short, factual, plain-English information.
Never diagnose, never prescribe, never speculate about the user's condition.
Always remind the user to contact NHS 111 for advice or 999 in an emergency
when the topic is urgent. Write 2-4 short paragraphs separated by blank
lines; each paragraph must stand alone as a snippet.`

// completionService is the slice of the OpenAI client the service uses,
// kept narrow so tests can substitute a fake.
type completionService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Client implements the flow.ContentService interface on top of the OpenAI
// chat completions API.
type Client struct {
	completions completionService
	apiKey      string
	model       openai.ChatModel
	timeout     time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the OpenAI API key, overriding the environment.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithModel overrides the completion model.
func WithModel(model openai.ChatModel) Option {
	return func(c *Client) { c.model = model }
}

// WithRequestTimeout overrides the per-request timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithCompletionService substitutes the underlying completion transport.
// Used by tests.
func WithCompletionService(svc completionService) Option {
	return func(c *Client) { c.completions = svc }
}

// NewClient initializes a content client using the OPENAI_API_KEY environment
// variable.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		model:   openai.ChatModelGPT4oMini,
		timeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.completions == nil {
		if c.apiKey == "" {
			c.apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if c.apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY not set")
		}
		api := openai.NewClient(option.WithAPIKey(c.apiKey))
		c.completions = &api.Chat.Completions
	}
	slog.Debug("genai.NewClient: content client created", "model", c.model, "timeout", c.timeout)
	return c, nil
}

// Search returns ranked informational snippets for a health query. Snippets
// are the completion's paragraphs in order; an empty result with nil error
// means the model had nothing useful, which callers treat like a miss.
func (c *Client) Search(ctx context.Context, query string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(query),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}
	snippets := SplitSnippets(resp.Choices[0].Message.Content)
	slog.Debug("Client.Search: content generated", "query", query, "snippets", len(snippets))
	return snippets, nil
}

// SplitSnippets breaks a completion into standalone paragraphs, dropping
// blank runs and surrounding whitespace.
func SplitSnippets(text string) []string {
	var snippets []string
	for _, part := range strings.Split(text, "\n\n") {
		part = strings.TrimSpace(part)
		if part != "" {
			snippets = append(snippets, part)
		}
	}
	return snippets
}
