package types

import "time"

// Memory is a durable fact about the user, scoped to a single identity.
// Memories are either extracted from conversation by the background
// pipeline or added by hand.
type Memory struct {
	ID        string       `json:"id" yaml:"id"`
	Content   string       `json:"content" yaml:"content"`
	Source    MemorySource `json:"source" yaml:"source"`
	CreatedAt time.Time    `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" yaml:"updated_at"`
}
