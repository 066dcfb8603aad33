package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/scrypster/chatmem/pkg/types"
)

// OllamaClient talks to a local Ollama server. Every call goes through a
// circuit breaker.
type OllamaClient struct {
	baseURL        string
	client         *http.Client
	circuitBreaker *CircuitBreaker
	model          string
	timeout        time.Duration
}

// OllamaConfig holds Ollama client configuration.
type OllamaConfig struct {
	// BaseURL is the base URL for the Ollama API (default: http://localhost:11434)
	BaseURL string

	// Model is the model name (default: qwen2.5:7b)
	Model string

	// Timeout is the request timeout duration (default: 60s)
	Timeout time.Duration
}

// generateRequest is the request body for /api/generate.
type generateRequest struct {
	Model  string `json:"model"`
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// generateResponse is the response from /api/generate.
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the request body for /api/chat.
type chatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

// chatResponse is the response from /api/chat.
type chatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
}

// NewOllamaClient creates a new Ollama client. Zero config values fall back
// to the documented defaults.
func NewOllamaClient(config OllamaConfig) *OllamaClient {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Model == "" {
		config.Model = "qwen2.5:7b"
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	return &OllamaClient{
		baseURL: config.BaseURL,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		circuitBreaker: NewCircuitBreaker("ollama"),
		model:          config.Model,
		timeout:        config.Timeout,
	}
}

// Generate sends a completion request to /api/generate.
func (c *OllamaClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	out, err := c.circuitBreaker.Execute(ctx, func() (string, error) {
		var resp generateResponse
		err := c.post(ctx, "/api/generate", generateRequest{
			Model:  c.model,
			System: systemPrompt,
			Prompt: userPrompt,
			Stream: false,
		}, &resp)
		return resp.Response, err
	})
	if err != nil {
		return "", upstreamError("ollama", err)
	}
	return out, nil
}

// Chat sends the transcript to /api/chat.
func (c *OllamaClient) Chat(ctx context.Context, systemPrompt string, transcript []types.Message) (string, error) {
	msgs := make([]ollamaChatMessage, 0, len(transcript)+1)
	if systemPrompt != "" {
		msgs = append(msgs, ollamaChatMessage{Role: "system", Content: systemPrompt})
	}
	for _, m := range transcript {
		msgs = append(msgs, ollamaChatMessage{Role: string(m.Role), Content: m.Content})
	}

	out, err := c.circuitBreaker.Execute(ctx, func() (string, error) {
		var resp chatResponse
		err := c.post(ctx, "/api/chat", chatRequest{Model: c.model, Messages: msgs, Stream: false}, &resp)
		return resp.Message.Content, err
	})
	if err != nil {
		return "", upstreamError("ollama", err)
	}
	return out, nil
}

// post encodes body, sends it to path and decodes the JSON response into out.
func (c *OllamaClient) post(ctx context.Context, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// GetModel returns the configured model name.
func (c *OllamaClient) GetModel() string {
	return c.model
}

// Breaker returns the client's circuit breaker.
func (c *OllamaClient) Breaker() *CircuitBreaker {
	return c.circuitBreaker
}

var _ Client = (*OllamaClient)(nil)
