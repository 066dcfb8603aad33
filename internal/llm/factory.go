package llm

import (
	"fmt"
	"time"

	"github.com/scrypster/chatmem/internal/config"
)

// ProviderConfig selects and configures one provider client.
type ProviderConfig struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

// NewClient creates the Client for cfg.Provider.
func NewClient(cfg ProviderConfig) (Client, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(OpenAIConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL, Timeout: cfg.Timeout}), nil
	case "anthropic":
		return NewAnthropicClient(AnthropicConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL, Timeout: cfg.Timeout}), nil
	case "ollama", "":
		return NewOllamaClient(OllamaConfig{BaseURL: cfg.BaseURL, Model: cfg.Model, Timeout: cfg.Timeout}), nil
	case "stub":
		return NewStubGenerator(), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}

// ChatProviderConfig derives the chat client settings from cfg.
func ChatProviderConfig(cfg *config.Config) ProviderConfig {
	pc := ProviderConfig{
		Provider: cfg.LLM.LLMProvider,
		Model:    cfg.ChatModel(),
		Timeout:  cfg.LLM.RequestTimeout,
	}
	switch cfg.LLM.LLMProvider {
	case "openai":
		pc.APIKey = cfg.LLM.OpenAIAPIKey
		pc.BaseURL = cfg.LLM.OpenAIBaseURL
	case "anthropic":
		pc.APIKey = cfg.LLM.AnthropicAPIKey
	case "ollama":
		pc.BaseURL = cfg.LLM.OllamaURL
	}
	return pc
}

// MemoryProviderConfig derives the extraction client settings: the chat
// settings with the memory model and key overriding when set.
func MemoryProviderConfig(cfg *config.Config) ProviderConfig {
	pc := ChatProviderConfig(cfg)
	if cfg.LLM.MemoryModel != "" {
		pc.Model = cfg.LLM.MemoryModel
	}
	if cfg.LLM.MemoryAPIKey != "" {
		pc.APIKey = cfg.LLM.MemoryAPIKey
	}
	return pc
}
