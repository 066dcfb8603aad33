package handlers

import (
	"github.com/scrypster/chatmem/internal/config"
	"github.com/scrypster/chatmem/internal/engine"
	"github.com/scrypster/chatmem/internal/storage"
	"github.com/scrypster/chatmem/pkg/types"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// LoginRequest is the request format for POST /api/identity/login.
// When Transcript is present it is merged into SessionID (or a new session)
// after the upgrade.
type LoginRequest struct {
	Email      string                   `json:"email"`
	SessionID  string                   `json:"session_id,omitempty"`
	Transcript []engine.IncomingMessage `json:"transcript,omitempty"`
}

// LoginResponse is the response format for POST /api/identity/login.
type LoginResponse struct {
	Identity *types.Identity     `json:"identity"`
	Merge    *storage.MergeResult `json:"merge,omitempty"`
}

// AppendMessageRequest is the request format for POST /api/sessions/{id}/messages.
type AppendMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MergeRequest is the request format for POST /api/sessions/{id}/merge.
type MergeRequest struct {
	Messages []engine.IncomingMessage `json:"messages"`
}

// MemoryRequest is the request format for POST /api/memories and
// PUT /api/memories/{id}.
type MemoryRequest struct {
	Content string `json:"content"`
}

// ProcessRequest is the request format for POST /api/memories/process.
type ProcessRequest struct {
	Message string `json:"message"`
	// Sync runs the extraction inline and returns its result.
	Sync bool `json:"sync,omitempty"`
}

// ProcessResponse is the response format for POST /api/memories/process.
type ProcessResponse struct {
	Queued bool                     `json:"queued"`
	Result *engine.ExtractionResult `json:"result,omitempty"`
}

// ChatRequest is the request format for POST /api/chat.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// ContextResponse is the response format for GET /api/context.
type ContextResponse struct {
	Context string `json:"context"`
}

// SystemPromptRequest is the request and response format of
// /api/admin/system-prompt.
type SystemPromptRequest struct {
	Prompt string `json:"prompt"`
}

// SearchResponse is the response format for GET /api/memories?q=.
type SearchResponse struct {
	Results []engine.SearchResult `json:"results"`
	Total   int                   `json:"total"`
	Query   string                `json:"query"`
}

// StatsResponse is the response format for GET /api/stats.
type StatsResponse struct {
	Sessions   int `json:"sessions"`
	Messages   int `json:"messages"`
	Memories   int `json:"memories"`
	Identities int `json:"identities"`
	QueueSize  int `json:"queue_size"`
}

// ConfigResponse is the response format for GET /api/admin/config.
// API keys are masked for security.
type ConfigResponse struct {
	LLM    LLMConfigResponse    `json:"llm"`
	Engine EngineConfigResponse `json:"engine"`
	Store  string               `json:"storage_engine"`
}

// LLMConfigResponse contains LLM configuration with masked API keys.
type LLMConfigResponse struct {
	Provider        string `json:"provider"`
	ChatModel       string `json:"chat_model"`
	MemoryModel     string `json:"memory_model,omitempty"`
	OllamaURL       string `json:"ollama_url"`
	OpenAIAPIKey    string `json:"openai_api_key"`    // Masked
	AnthropicAPIKey string `json:"anthropic_api_key"` // Masked
	MemoryAPIKey    string `json:"memory_api_key"`    // Masked
}

// EngineConfigResponse contains extraction settings.
type EngineConfigResponse struct {
	ExtractionEnabled bool   `json:"extraction_enabled"`
	NumWorkers        int    `json:"num_workers"`
	QueueSize         int    `json:"queue_size"`
	MaxRetries        int    `json:"max_retries"`
	ContextMaxChars   int    `json:"context_max_chars"`
	SnapshotInterval  string `json:"snapshot_interval"`
}

// MaskAPIKey masks an API key for safe display.
// Shows first 7 chars and last 4 chars, hides the middle.
func MaskAPIKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) < 12 {
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}

// ToConfigResponse converts a config.Config to ConfigResponse with masked keys.
func ToConfigResponse(cfg *config.Config) ConfigResponse {
	return ConfigResponse{
		LLM: LLMConfigResponse{
			Provider:        cfg.LLM.LLMProvider,
			ChatModel:       cfg.ChatModel(),
			MemoryModel:     cfg.LLM.MemoryModel,
			OllamaURL:       cfg.LLM.OllamaURL,
			OpenAIAPIKey:    MaskAPIKey(cfg.LLM.OpenAIAPIKey),
			AnthropicAPIKey: MaskAPIKey(cfg.LLM.AnthropicAPIKey),
			MemoryAPIKey:    MaskAPIKey(cfg.LLM.MemoryAPIKey),
		},
		Engine: EngineConfigResponse{
			ExtractionEnabled: cfg.Engine.ExtractionEnabled,
			NumWorkers:        cfg.Engine.NumWorkers,
			QueueSize:         cfg.Engine.QueueSize,
			MaxRetries:        cfg.Engine.MaxRetries,
			ContextMaxChars:   cfg.Engine.ContextMaxChars,
			SnapshotInterval:  cfg.Engine.SnapshotInterval.String(),
		},
		Store: cfg.Storage.StorageEngine,
	}
}
