package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/scrypster/chatmem/pkg/types"
)

// AnthropicConfig holds configuration for the Anthropic client.
type AnthropicConfig struct {
	APIKey    string
	Model     string        // default: claude-3-5-haiku-latest
	BaseURL   string        // default: the SDK default
	MaxTokens int64         // default: 1024
	Timeout   time.Duration // default: 60s
}

// AnthropicClient implements Client using the Anthropic Messages API.
type AnthropicClient struct {
	cfg            AnthropicConfig
	client         anthropic.Client
	circuitBreaker *CircuitBreaker
}

// NewAnthropicClient creates a new Anthropic client with the given configuration.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-haiku-latest"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		// Retries are owned by the extraction worker and the circuit breaker.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicClient{
		cfg:            cfg,
		client:         anthropic.NewClient(opts...),
		circuitBreaker: NewCircuitBreaker("anthropic"),
	}
}

// Generate sends a single user message with a system prompt.
func (c *AnthropicClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.send(ctx, systemPrompt, []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
	})
}

// Chat sends the transcript and returns the assistant reply.
func (c *AnthropicClient) Chat(ctx context.Context, systemPrompt string, transcript []types.Message) (string, error) {
	conv := make([]anthropic.MessageParam, 0, len(transcript))
	for _, m := range transcript {
		if m.Role == types.RoleAssistant {
			conv = append(conv, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		} else {
			conv = append(conv, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return c.send(ctx, systemPrompt, conv)
}

func (c *AnthropicClient) send(ctx context.Context, systemPrompt string, conv []anthropic.MessageParam) (string, error) {
	out, err := c.circuitBreaker.Execute(ctx, func() (string, error) {
		return c.complete(ctx, systemPrompt, conv)
	})
	if err != nil {
		return "", upstreamError("anthropic", err)
	}
	return out, nil
}

func (c *AnthropicClient) complete(ctx context.Context, systemPrompt string, conv []anthropic.MessageParam) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.cfg.Model),
		MaxTokens: c.cfg.MaxTokens,
		Messages:  conv,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic request failed: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("anthropic returned empty content")
	}
	return b.String(), nil
}

// GetModel returns the configured model name.
func (c *AnthropicClient) GetModel() string {
	return c.cfg.Model
}

// Breaker returns the client's circuit breaker.
func (c *AnthropicClient) Breaker() *CircuitBreaker {
	return c.circuitBreaker
}

var _ Client = (*AnthropicClient)(nil)
