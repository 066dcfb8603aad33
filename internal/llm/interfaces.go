package llm

import (
	"context"

	"github.com/scrypster/chatmem/pkg/types"
)

// TextGenerator is the interface for single-shot completions with a system
// prompt. The extraction pipeline uses it to obtain memory decisions.
type TextGenerator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	GetModel() string
}

// ChatGenerator produces the assistant reply for a conversation transcript.
type ChatGenerator interface {
	Chat(ctx context.Context, systemPrompt string, transcript []types.Message) (string, error)
	GetModel() string
}

// Client is implemented by every provider client.
type Client interface {
	TextGenerator
	ChatGenerator

	// Breaker returns the circuit breaker guarding the provider.
	Breaker() *CircuitBreaker
}
