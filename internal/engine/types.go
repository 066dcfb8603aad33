// Package engine is the session and memory core of chatmem. It owns one
// session store and one memory store per identity scope, runs the
// asynchronous memory extraction pipeline on a worker pool, and exposes the
// chat turn, transcript merge and reset operations built on top of them.
package engine

import (
	"fmt"
	"time"

	"github.com/scrypster/chatmem/internal/config"
)

// ExtractionJob represents one user message waiting for memory extraction.
// Jobs are queued by ProcessMessage and consumed by worker goroutines.
type ExtractionJob struct {
	// Scope is the identity whose memories the message may change.
	Scope string

	// Message is the user message text.
	Message string

	// Timestamp is when the job was queued.
	Timestamp time.Time

	// Generation is the memory generation of the scope when the job was
	// queued. A reset after queueing makes the job stale.
	Generation uint64

	// Attempt tracks retry attempts for this job.
	Attempt int
}

// Config holds configuration for the engine.
type Config struct {
	// NumWorkers is the number of extraction worker goroutines (default: 2).
	NumWorkers int

	// QueueSize is the size of the extraction job queue buffer (default: 100).
	QueueSize int

	// ShutdownTimeout is the maximum time to wait for workers to drain on shutdown (default: 30s).
	ShutdownTimeout time.Duration

	// MaxRetries is the maximum number of retries after an upstream failure (default: 2).
	MaxRetries int

	// RetryBackoff is the base of the quadratic retry delay (default: 100ms).
	RetryBackoff time.Duration

	// ExtractionEnabled turns the extraction pipeline on (default: true).
	ExtractionEnabled bool

	// ExtractionTimeout bounds each reasoning-service call made for extraction (default: 30s).
	ExtractionTimeout time.Duration

	// ChatTimeout bounds each reasoning-service call made for a chat reply (default: 120s).
	ChatTimeout time.Duration

	// ContextMaxChars caps the rendered memory context in runes; <= 0 is unbounded (default: 4000).
	ContextMaxChars int

	// SnapshotInterval is how often a dirty engine is saved to its snapshot sink (default: 30s).
	SnapshotInterval time.Duration

	// SystemPrompt is the initial base system prompt.
	SystemPrompt string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		NumWorkers:        2,
		QueueSize:         100,
		ShutdownTimeout:   30 * time.Second,
		MaxRetries:        2,
		RetryBackoff:      100 * time.Millisecond,
		ExtractionEnabled: true,
		ExtractionTimeout: 30 * time.Second,
		ChatTimeout:       120 * time.Second,
		ContextMaxChars:   4000,
		SnapshotInterval:  30 * time.Second,
		SystemPrompt:      config.DefaultSystemPrompt,
	}
}

// ConfigFromGlobal maps the application config onto an engine Config.
func ConfigFromGlobal(cfg *config.Config) Config {
	c := DefaultConfig()
	c.NumWorkers = cfg.Engine.NumWorkers
	c.QueueSize = cfg.Engine.QueueSize
	c.ShutdownTimeout = cfg.Engine.ShutdownTimeout
	c.MaxRetries = cfg.Engine.MaxRetries
	c.ExtractionEnabled = cfg.Engine.ExtractionEnabled
	c.ExtractionTimeout = cfg.Engine.ExtractionTimeout
	c.ChatTimeout = cfg.Engine.ChatTimeout
	c.ContextMaxChars = cfg.Engine.ContextMaxChars
	c.SnapshotInterval = cfg.Engine.SnapshotInterval
	if cfg.Chat.SystemPrompt != "" {
		c.SystemPrompt = cfg.Chat.SystemPrompt
	}
	return c
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.NumWorkers < 1 {
		return fmt.Errorf("NumWorkers must be >= 1, got %d", c.NumWorkers)
	}

	if c.QueueSize < 1 {
		return fmt.Errorf("QueueSize must be >= 1, got %d", c.QueueSize)
	}

	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("ShutdownTimeout must be >= 0, got %v", c.ShutdownTimeout)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("MaxRetries must be >= 0, got %d", c.MaxRetries)
	}

	if c.RetryBackoff < 0 {
		return fmt.Errorf("RetryBackoff must be >= 0, got %v", c.RetryBackoff)
	}

	if c.ExtractionTimeout <= 0 {
		return fmt.Errorf("ExtractionTimeout must be > 0, got %v", c.ExtractionTimeout)
	}

	if c.ChatTimeout <= 0 {
		return fmt.Errorf("ChatTimeout must be > 0, got %v", c.ChatTimeout)
	}

	if c.SnapshotInterval <= 0 {
		return fmt.Errorf("SnapshotInterval must be > 0, got %v", c.SnapshotInterval)
	}

	return nil
}
