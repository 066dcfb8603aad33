// Package config provides configuration management for chatmem.
// It loads settings from environment variables with the CHATMEM_ prefix
// and provides sensible defaults for all configuration options.
//
// The system prompt is persisted to the settings table in the database.
// LoadConfigFromDB reads from the database first and falls back to
// environment variables. SaveConfig writes it back.
package config

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// DefaultSystemPrompt is used when no prompt is configured or persisted.
const DefaultSystemPrompt = "You are a helpful assistant. Use what you know about the user to personalize your answers, and never invent facts about them."

// systemPromptKey is the settings table key of the system prompt.
const systemPromptKey = "system_prompt"

// Config holds all configuration settings for chatmem.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	LLM      LLMConfig
	Engine   EngineConfig
	Security SecurityConfig
	Chat     ChatConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    // Server port (default: 6464)
	Host string // Server host (default: 127.0.0.1)
}

// StorageConfig contains snapshot persistence configuration.
type StorageConfig struct {
	StorageEngine string // Snapshot sink: sqlite, postgres, memory (default: sqlite)
	DataPath      string // Path to data directory (default: ./data)
	PostgresDSN   string // Connection string when StorageEngine is postgres

	// BackupInterval schedules sqlite backups into DataPath/backups while
	// the server runs; 0 disables them (default: 0)
	BackupInterval time.Duration
}

// LLMConfig contains reasoning service configuration. The chat model answers
// the user; the memory model drives extraction and may use its own key.
type LLMConfig struct {
	LLMProvider     string        // LLM provider: ollama, openai, anthropic, stub (default: openai)
	OllamaURL       string        // Ollama API URL (default: http://localhost:11434)
	OllamaModel     string        // Ollama model name (default: qwen2.5:7b)
	OpenAIAPIKey    string        // OpenAI API key (falls back to OPENAI_API_KEY)
	OpenAIBaseURL   string        // OpenAI-compatible base URL (default: https://api.openai.com)
	OpenAIModel     string        // OpenAI chat model (default: gpt-4o-mini)
	AnthropicAPIKey string        // Anthropic API key (falls back to ANTHROPIC_API_KEY)
	AnthropicModel  string        // Anthropic chat model (default: claude-3-5-haiku-latest)
	MemoryModel     string        // Model used for extraction (default: the chat model)
	MemoryAPIKey    string        // API key used for extraction (default: the provider key)
	RequestTimeout  time.Duration // HTTP client timeout per request (default: 60s)
}

// EngineConfig contains extraction and persistence tuning.
type EngineConfig struct {
	ExtractionEnabled bool          // Run memory extraction on user messages (default: true)
	NumWorkers        int           // Extraction workers (default: 2)
	QueueSize         int           // Extraction queue capacity (default: 100)
	MaxRetries        int           // Retries for upstream failures (default: 2)
	ExtractionTimeout time.Duration // Per-call extraction timeout (default: 30s)
	ChatTimeout       time.Duration // Per-call chat timeout (default: 120s)
	ShutdownTimeout   time.Duration // Graceful shutdown budget (default: 30s)
	ContextMaxChars   int           // Memory context cap in runes, <=0 unbounded (default: 4000)
	SnapshotInterval  time.Duration // Snapshot cadence when dirty (default: 30s)
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	SecurityMode string  // Security mode: development, production (default: development)
	APIToken     string  // API authentication token
	RateLimit    float64 // Requests per second per client (default: 10)
	RateBurst    int     // Burst size per client (default: 20)
}

// ChatConfig contains settings that persist across restarts.
type ChatConfig struct {
	// SystemPrompt is the base system prompt of every chat turn.
	// Env var: CHATMEM_SYSTEM_PROMPT
	// Database key: system_prompt
	SystemPrompt string
}

// LoadConfig loads configuration from environment variables with sensible defaults.
// Use LoadConfigFromDB to also read the persisted system prompt.
func LoadConfig() (*Config, error) {
	cfg := buildBaseConfig()
	return cfg, nil
}

// LoadConfigFromDB loads configuration from both environment variables and the
// database. The database value takes precedence over the environment variable
// for the system prompt.
//
// Returns an error if db is nil.
func LoadConfigFromDB(db *sql.DB) (*Config, error) {
	if db == nil {
		return nil, errors.New("config: database connection is required")
	}

	cfg := buildBaseConfig()

	prompt, err := getSetting(db, systemPromptKey)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("config: failed to load system_prompt from database: %w", err)
	}
	if prompt != "" {
		cfg.Chat.SystemPrompt = prompt
	}

	return cfg, nil
}

// SaveConfig persists the system prompt to the settings table using upsert
// semantics.
//
// Returns an error if db is nil.
func (c *Config) SaveConfig(db *sql.DB) error {
	if db == nil {
		return errors.New("config: database connection is required")
	}

	if err := setSetting(db, systemPromptKey, c.Chat.SystemPrompt); err != nil {
		return fmt.Errorf("config: failed to save system_prompt: %w", err)
	}

	return nil
}

// Validate checks that enumerated settings hold known values.
func (c *Config) Validate() error {
	switch c.LLM.LLMProvider {
	case "ollama", "openai", "anthropic", "stub":
	default:
		return fmt.Errorf("config: unsupported LLM provider %q", c.LLM.LLMProvider)
	}

	switch c.Storage.StorageEngine {
	case "sqlite", "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return errors.New("config: CHATMEM_POSTGRES_DSN is required for the postgres storage engine")
		}
	default:
		return fmt.Errorf("config: unsupported storage engine %q", c.Storage.StorageEngine)
	}

	if c.Storage.BackupInterval < 0 {
		return fmt.Errorf("config: CHATMEM_BACKUP_INTERVAL must be >= 0, got %v", c.Storage.BackupInterval)
	}

	if c.Security.SecurityMode == "production" && c.Security.APIToken == "" {
		return errors.New("config: CHATMEM_API_TOKEN is required in production mode")
	}

	return nil
}

// ChatModel returns the model name of the configured provider.
func (c *Config) ChatModel() string {
	switch c.LLM.LLMProvider {
	case "ollama":
		return c.LLM.OllamaModel
	case "anthropic":
		return c.LLM.AnthropicModel
	case "stub":
		return "stub"
	default:
		return c.LLM.OpenAIModel
	}
}

// getSetting retrieves a single setting value by key from the settings table.
// Returns an empty string and sql.ErrNoRows if the key does not exist.
func getSetting(db *sql.DB, key string) (string, error) {
	var value string
	err := db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		return "", err
	}
	return value, nil
}

// setSetting writes a key-value pair to the settings table using upsert semantics.
func setSetting(db *sql.DB, key, value string) error {
	_, err := db.Exec(`
		INSERT INTO settings (key, value)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// buildBaseConfig constructs a Config with values from environment variables
// and defaults. This is the shared base for both LoadConfig and LoadConfigFromDB.
func buildBaseConfig() *Config {
	openAIKey := getEnv("CHATMEM_OPENAI_API_KEY", os.Getenv("OPENAI_API_KEY"))
	anthropicKey := getEnv("CHATMEM_ANTHROPIC_API_KEY", os.Getenv("ANTHROPIC_API_KEY"))

	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("CHATMEM_PORT", 6464),
			Host: getEnv("CHATMEM_HOST", "127.0.0.1"),
		},
		Storage: StorageConfig{
			StorageEngine: getEnv("CHATMEM_STORAGE_ENGINE", "sqlite"),
			DataPath:      getEnv("CHATMEM_DATA_PATH", "./data"),
			PostgresDSN:   getEnv("CHATMEM_POSTGRES_DSN", ""),

			BackupInterval: getEnvDuration("CHATMEM_BACKUP_INTERVAL", 0),
		},
		LLM: LLMConfig{
			LLMProvider:     getEnv("CHATMEM_LLM_PROVIDER", "openai"),
			OllamaURL:       getEnv("CHATMEM_OLLAMA_URL", "http://localhost:11434"),
			OllamaModel:     getEnv("CHATMEM_OLLAMA_MODEL", "qwen2.5:7b"),
			OpenAIAPIKey:    openAIKey,
			OpenAIBaseURL:   getEnv("CHATMEM_OPENAI_BASE_URL", "https://api.openai.com"),
			OpenAIModel:     getEnv("CHATMEM_OPENAI_MODEL", "gpt-4o-mini"),
			AnthropicAPIKey: anthropicKey,
			AnthropicModel:  getEnv("CHATMEM_ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
			MemoryModel:     getEnv("CHATMEM_MEMORY_MODEL", ""),
			MemoryAPIKey:    getEnv("CHATMEM_MEMORY_API_KEY", ""),
			RequestTimeout:  getEnvDuration("CHATMEM_LLM_TIMEOUT", 60*time.Second),
		},
		Engine: EngineConfig{
			ExtractionEnabled: getEnvBool("CHATMEM_EXTRACTION_ENABLED", true),
			NumWorkers:        getEnvInt("CHATMEM_NUM_WORKERS", 2),
			QueueSize:         getEnvInt("CHATMEM_QUEUE_SIZE", 100),
			MaxRetries:        getEnvInt("CHATMEM_MAX_RETRIES", 2),
			ExtractionTimeout: getEnvDuration("CHATMEM_EXTRACTION_TIMEOUT", 30*time.Second),
			ChatTimeout:       getEnvDuration("CHATMEM_CHAT_TIMEOUT", 120*time.Second),
			ShutdownTimeout:   getEnvDuration("CHATMEM_SHUTDOWN_TIMEOUT", 30*time.Second),
			ContextMaxChars:   getEnvInt("CHATMEM_CONTEXT_MAX_CHARS", 4000),
			SnapshotInterval:  getEnvDuration("CHATMEM_SNAPSHOT_INTERVAL", 30*time.Second),
		},
		Security: SecurityConfig{
			SecurityMode: getEnv("CHATMEM_SECURITY_MODE", "development"),
			APIToken:     getEnv("CHATMEM_API_TOKEN", ""),
			RateLimit:    getEnvFloat("CHATMEM_RATE_LIMIT", 10),
			RateBurst:    getEnvInt("CHATMEM_RATE_BURST", 20),
		},
		Chat: ChatConfig{
			SystemPrompt: getEnv("CHATMEM_SYSTEM_PROMPT", DefaultSystemPrompt),
		},
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration parses values like "30s" or "2m".
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
// If the environment variable exists but cannot be parsed as a boolean,
// it returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}
